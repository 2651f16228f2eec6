package storage

import (
	types "VodForge/pkg"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalStorage writes objects under a directory, typically one a web server
// or CDN origin already serves.
type LocalStorage struct {
	rootPath string
	baseURL  string
}

func NewLocalStorage(localCfg types.LocalConfig) (*LocalStorage, error) {
	if localCfg.BasePath == "" {
		return nil, fmt.Errorf("base_path required for local storage")
	}
	if err := os.MkdirAll(localCfg.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root path: %w", err)
	}
	baseURL := localCfg.PublicBaseURL
	if baseURL == "" {
		baseURL = "file://" + filepath.ToSlash(localCfg.BasePath)
	}
	return &LocalStorage{rootPath: localCfg.BasePath, baseURL: baseURL}, nil
}

func (l *LocalStorage) PutObject(ctx context.Context, localPath, key, contentType, cacheControl string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	in, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer in.Close()

	fullPath := filepath.Join(l.rootPath, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	// write beside the target and rename so readers never see a partial object
	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		return "", fmt.Errorf("failed to publish file: %w", err)
	}
	return l.URL(key), nil
}

func (l *LocalStorage) URL(key string) string {
	return joinURL(l.baseURL, key)
}
