// Package storage archives uploaded cut-list files in object storage so a
// committed batch can be traced back to its source document.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"offcut-ledger-backend/internal/config"
)

type SourceArchive struct {
	client *minio.Client
	bucket string
}

// NewSourceArchive returns nil when no endpoint is configured; archiving is
// then skipped.
func NewSourceArchive(cfg config.MinIOConfig) (*SourceArchive, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &SourceArchive{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket on first start.
func (a *SourceArchive) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{})
}

// Put stores the source file and returns its object key.
func (a *SourceArchive) Put(ctx context.Context, token, filename string, content []byte) (string, error) {
	key := ObjectKey(time.Now(), token, filename)
	_, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType: contentType(filename),
	})
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", filename, err)
	}
	return key, nil
}

// Remove deletes an archived object. A missing key is not an error.
func (a *SourceArchive) Remove(ctx context.Context, key string) error {
	if err := a.client.RemoveObject(ctx, a.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// ObjectKey lays sources out as cutlists/YYYY/MM/<token>/<filename>.
func ObjectKey(at time.Time, token, filename string) string {
	name := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	return path.Join("cutlists", at.Format("2006"), at.Format("01"), token, name)
}

func contentType(filename string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
