// Package storage defines where uploaded bytes live.
package storage

import (
	"context"
	"io"
	"time"
)

// Object is an open stored object. Body implements io.ReadSeeker when the
// backend supports random access.
type Object struct {
	Body        io.ReadCloser
	Size        int64
	ModTime     time.Time
	ContentType string
}

// Provider stores flat, named objects. Names are plain basenames; every
// method returns an error wrapping apperr.ErrNotFound for missing objects.
type Provider interface {
	// Put stores size bytes from r under name, replacing any previous object.
	Put(ctx context.Context, name string, r io.Reader, size int64, contentType string) error
	// Open returns the object stored under name.
	Open(ctx context.Context, name string) (*Object, error)
	// Delete removes the object stored under name.
	Delete(ctx context.Context, name string) error
	// Ready reports whether the backing area is reachable.
	Ready(ctx context.Context) error
}
