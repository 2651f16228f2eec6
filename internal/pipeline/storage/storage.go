package storage

import (
	"context"
	"strings"
)

// Storage is the object store finished artifacts are published to.
type Storage interface {
	// PutObject uploads the file at localPath under key and returns its
	// public URL. Writing the same key again overwrites the object.
	PutObject(ctx context.Context, localPath, key, contentType, cacheControl string) (string, error)
	// URL is the public address of key, known before the upload happens.
	URL(key string) string
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}
