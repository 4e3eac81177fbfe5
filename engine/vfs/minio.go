package vfs

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/spaghettifunk/anima-resources/engine/core"
)

// Minio serves resources from a MinIO (or any S3 compatible) bucket.
type Minio struct {
	client  *minio.Client
	bucket  string
	prefix  string
	timeout time.Duration
}

func NewMinio(client *minio.Client, bucket, prefix string) *Minio {
	return &Minio{
		client:  client,
		bucket:  bucket,
		prefix:  strings.Trim(prefix, "/"),
		timeout: 30 * time.Second,
	}
}

func (m *Minio) key(p string) string {
	return strings.TrimPrefix(path.Join(m.prefix, p), "/")
}

func isMinioNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

func (m *Minio) Exists(p string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	_, err := m.client.StatObject(ctx, m.bucket, m.key(p), minio.StatObjectOptions{})
	return err == nil
}

func (m *Minio) LoadInto(p string, dst []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	obj, err := m.client.GetObject(ctx, m.bucket, m.key(p), minio.GetObjectOptions{})
	if err != nil {
		if isMinioNotFound(err) {
			return dst, fmt.Errorf("minio://%s/%s: %w", m.bucket, m.key(p), core.ErrNotFound)
		}
		return dst, err
	}
	defer obj.Close()

	// GetObject is lazy, the first request happens here.
	info, err := obj.Stat()
	if err != nil {
		if isMinioNotFound(err) {
			return dst, fmt.Errorf("minio://%s/%s: %w", m.bucket, m.key(p), core.ErrNotFound)
		}
		return dst, err
	}

	from := len(dst)
	out, err := readAppend(dst, obj, info.Size)
	if err != nil {
		return dst[:from], err
	}
	return out, nil
}
