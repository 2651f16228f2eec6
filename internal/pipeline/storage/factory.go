package storage

import (
	types "VodForge/pkg"
	"context"
	"fmt"
)

func NewStorage(ctx context.Context, cfg types.StorageConfig) (Storage, error) {
	switch cfg.Type {
	case "s3":
		return NewS3Storage(ctx, cfg.S3)
	case "minio":
		return NewMinioStorage(cfg.Minio)
	case "local":
		return NewLocalStorage(cfg.Local)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Type)
	}
}
