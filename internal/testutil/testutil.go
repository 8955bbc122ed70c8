// Package testutil provides shared test helpers for wiring the broker's
// components against temporary storage.
package testutil

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/docbroker/docbroker/internal/auth"
	"github.com/docbroker/docbroker/internal/registry"
	"github.com/docbroker/docbroker/internal/storage"
	"github.com/docbroker/docbroker/internal/uploads"
)

// Secrets used by test authorities and registries.
const (
	AccessSecret = "test-access-secret"
	EditorSecret = "test-editor-secret"
	KeySecret    = "test-doc-key-secret"
)

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// Authority returns a credential authority with the default lifetimes.
func Authority(t *testing.T) *auth.Authority {
	t.Helper()
	return auth.NewAuthority([]byte(AccessSecret), 24*time.Hour, []byte(EditorSecret), 5*time.Minute)
}

// Directory returns a user directory holding the demo accounts
// admin/admin123, editor/editor123 and viewer/viewer123.
func Directory(t *testing.T) *auth.Directory {
	t.Helper()
	dir, err := auth.NewDirectory([]auth.User{
		{ID: 1, Username: "admin", Name: "Administrator", Email: "admin@example.com", Password: "admin123"},
		{ID: 2, Username: "editor", Name: "Document Editor", Email: "editor@example.com", Password: "editor123"},
		{ID: 3, Username: "viewer", Name: "Document Viewer", Email: "viewer@example.com", Password: "viewer123"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return dir
}

// Registry returns an in-memory document registry.
func Registry(t *testing.T) *registry.Registry {
	t.Helper()
	return registry.New(registry.NewMemoryStore(), registry.NewDeriver(KeySecret))
}

// Uploads creates a temporary upload directory and a manager over it that
// admits .doc and .docx files up to maxBytes.
func Uploads(t *testing.T, maxBytes int64) (string, *uploads.Manager) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, uploads.NewManager(store, uploads.Config{
		MaxBytes:          maxBytes,
		AllowedExtensions: []string{".doc", ".docx"},
		DefaultExtension:  ".docx",
		StagingDir:        t.TempDir(),
	}, Logger())
}
