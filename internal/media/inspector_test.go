package media

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeProber struct {
	out []byte
	err error
}

func (f fakeProber) Probe(ctx context.Context, args []string) ([]byte, error) {
	return f.out, f.err
}

func TestInspect(t *testing.T) {
	tests := []struct {
		name     string
		out      string
		want     Info
		wantFail bool
	}{
		{
			name: "format level metadata",
			out: `{"streams":[{"codec_type":"audio"},{"codec_type":"video","codec_name":"h264","width":1920,"height":1080}],
			       "format":{"duration":"12.5","bit_rate":"4500000"}}`,
			want: Info{Width: 1920, Height: 1080, DurationSeconds: 12.5, BitrateBps: 4500000, VideoCodec: "h264", HasAudio: true},
		},
		{
			name: "stream level duration fallback",
			out:  `{"streams":[{"codec_type":"video","width":640,"height":360,"duration":"3.0","bit_rate":"800000"}],"format":{}}`,
			want: Info{Width: 640, Height: 360, DurationSeconds: 3, BitrateBps: 800000},
		},
		{
			name: "missing duration is zero",
			out:  `{"streams":[{"codec_type":"video","width":640,"height":360}],"format":{"duration":"N/A"}}`,
			want: Info{Width: 640, Height: 360},
		},
		{
			name:     "audio only",
			out:      `{"streams":[{"codec_type":"audio"}],"format":{"duration":"3.0"}}`,
			wantFail: true,
		},
		{
			name:     "not json",
			out:      `garbage`,
			wantFail: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			insp := NewInspector(fakeProber{out: []byte(tt.out)}, zap.NewNop())
			info, err := insp.Inspect(context.Background(), "/tmp/in.mp4")
			if tt.wantFail {
				var unreadable *UnreadableMediaError
				require.True(t, errors.As(err, &unreadable))
				assert.False(t, unreadable.Retryable())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, *info)
		})
	}
}

func TestInspectProbeFailureIsUnreadable(t *testing.T) {
	insp := NewInspector(fakeProber{err: errors.New("exit status 1")}, zap.NewNop())
	_, err := insp.Inspect(context.Background(), "/tmp/corrupt.mp4")

	var unreadable *UnreadableMediaError
	require.True(t, errors.As(err, &unreadable))
	assert.Equal(t, "/tmp/corrupt.mp4", unreadable.Path)
}
