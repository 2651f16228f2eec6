//go:build !unix

package ffmpeg

import "os/exec"

func setProcessGroup(cmd *exec.Cmd) {}
