package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/docbroker/docbroker/internal/apperr"
)

// GCSConfig configures a Google Cloud Storage bucket.
type GCSConfig struct {
	Bucket   string
	Prefix   string
	Endpoint string // emulator endpoint; empty for production
}

// GCS implements Provider on a Cloud Storage bucket.
type GCS struct {
	client *gcs.Client
	bucket *gcs.BucketHandle
	prefix string
}

// NewGCS creates a client using application default credentials, or no
// authentication when an emulator endpoint is configured.
func NewGCS(ctx context.Context, cfg GCSConfig) (*GCS, error) {
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: gcs client: %w", err)
	}
	return &GCS{client: client, bucket: client.Bucket(cfg.Bucket), prefix: cfg.Prefix}, nil
}

func (g *GCS) object(name string) *gcs.ObjectHandle {
	return g.bucket.Object(path.Join(g.prefix, name))
}

func (g *GCS) Put(ctx context.Context, name string, r io.Reader, _ int64, contentType string) error {
	w := g.object(name).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("storage: gcs write %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("storage: gcs close %s: %w", name, err)
	}
	return nil
}

func (g *GCS) Open(ctx context.Context, name string) (*Object, error) {
	rd, err := g.object(name).NewReader(ctx)
	if err != nil {
		return nil, g.wrap("read", name, err)
	}
	return &Object{
		Body:        rd,
		Size:        rd.Attrs.Size,
		ModTime:     rd.Attrs.LastModified,
		ContentType: rd.Attrs.ContentType,
	}, nil
}

func (g *GCS) Delete(ctx context.Context, name string) error {
	if err := g.object(name).Delete(ctx); err != nil {
		return g.wrap("delete", name, err)
	}
	return nil
}

func (g *GCS) Ready(ctx context.Context) error {
	if _, err := g.bucket.Attrs(ctx); err != nil {
		return fmt.Errorf("storage: gcs bucket attrs: %w", err)
	}
	return nil
}

// Close releases the client.
func (g *GCS) Close() error {
	return g.client.Close()
}

func (g *GCS) wrap(op, name string, err error) error {
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("storage: gcs %s %s: %w", op, name, apperr.ErrNotFound)
	}
	return fmt.Errorf("storage: gcs %s %s: %w", op, name, err)
}
