package uploads

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docbroker/docbroker/internal/apperr"
	"github.com/docbroker/docbroker/internal/checksum"
	"github.com/docbroker/docbroker/internal/storage"
)

func newManager(t *testing.T, maxBytes int64) (*Manager, *storage.FS) {
	t.Helper()
	fs, err := storage.NewFS(filepath.Join(t.TempDir(), "uploads"))
	require.NoError(t, err)
	m := NewManager(fs, Config{
		MaxBytes:          maxBytes,
		AllowedExtensions: []string{".doc", "DOCX"},
		DefaultExtension:  "docx",
		StagingDir:        t.TempDir(),
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return m, fs
}

func TestAccept_StoresWithGeneratedID(t *testing.T) {
	m, fs := newManager(t, 1<<20)
	h, err := m.Accept(context.Background(), strings.NewReader("hello"), "C:\\Users\\me\\Report.DOCX", "")
	require.NoError(t, err)

	assert.Regexp(t, `^[0-9a-f-]{36}\.docx$`, h.UploadID)
	assert.Equal(t, "Report.DOCX", h.OriginalName)
	assert.Equal(t, int64(5), h.Size)
	assert.Equal(t, mimeByExt[".docx"], h.MimeType)
	assert.Equal(t, checksum.Sum([]byte("hello")), h.Checksum)

	data, err := os.ReadFile(filepath.Join(fs.Root(), h.UploadID))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestAccept_DefaultExtension(t *testing.T) {
	m, _ := newManager(t, 1<<20)
	h, err := m.Accept(context.Background(), strings.NewReader("x"), "notes", "application/msword")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(h.UploadID, ".docx"))
	assert.Equal(t, "application/msword", h.MimeType)
}

func TestAccept_RejectsDisallowedType(t *testing.T) {
	m, fs := newManager(t, 1<<20)
	_, err := m.Accept(context.Background(), strings.NewReader("%PDF"), "paper.pdf", "application/pdf")
	require.ErrorIs(t, err, apperr.ErrUnsupportedType)
	assert.Contains(t, err.Error(), "DOC or DOCX")

	entries, _ := os.ReadDir(fs.Root())
	assert.Empty(t, entries)
}

func TestAccept_RejectsOversized(t *testing.T) {
	m, fs := newManager(t, 4)
	_, err := m.Accept(context.Background(), strings.NewReader("12345"), "big.docx", "")
	require.ErrorIs(t, err, apperr.ErrTooLarge)

	entries, _ := os.ReadDir(fs.Root())
	assert.Empty(t, entries)

	h, err := m.Accept(context.Background(), strings.NewReader("1234"), "fits.docx", "")
	require.NoError(t, err)
	assert.Equal(t, int64(4), h.Size)
}

func TestRemove(t *testing.T) {
	m, _ := newManager(t, 1<<20)
	ctx := context.Background()
	h, err := m.Accept(ctx, strings.NewReader("x"), "a.doc", "")
	require.NoError(t, err)

	res, err := m.Remove(ctx, h.UploadID)
	require.NoError(t, err)
	assert.Equal(t, Removed, res)

	res, err = m.Remove(ctx, h.UploadID)
	require.NoError(t, err, "double delete is benign")
	assert.Equal(t, NotFound, res)

	res, err = m.Remove(ctx, "never-existed.docx")
	require.NoError(t, err)
	assert.Equal(t, NotFound, res)
}

func TestRemove_TraversalReducedToBasename(t *testing.T) {
	m, fs := newManager(t, 1<<20)
	ctx := context.Background()

	outside := filepath.Join(filepath.Dir(fs.Root()), "victim.docx")
	require.NoError(t, os.WriteFile(outside, []byte("keep"), 0o644))

	res, err := m.Remove(ctx, "../victim.docx")
	require.NoError(t, err)
	assert.Equal(t, NotFound, res)
	_, err = os.Stat(outside)
	assert.NoError(t, err, "file outside the upload area must survive")

	_, err = m.Remove(ctx, "..")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestAccessURL(t *testing.T) {
	m, _ := newManager(t, 1)
	assert.Equal(t, "http://req:5174/uploads/a.docx", m.AccessURL("a.docx", "http://req:5174/"))

	m.cfg.PublicBaseURL = "http://host.docker.internal:5174/"
	assert.Equal(t, "http://host.docker.internal:5174/uploads/a.docx", m.AccessURL("a.docx", "http://req:5174"))
}

func TestBasename(t *testing.T) {
	cases := map[string]string{
		"a.docx":          "a.docx",
		"../../a.docx":    "a.docx",
		`..\..\a.docx`:    "a.docx",
		"/etc/passwd":     "passwd",
		"dir/sub/x.docx/": "x.docx",
	}
	for in, want := range cases {
		got, err := Basename(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "..", ".", "/"} {
		_, err := Basename(bad)
		assert.ErrorIs(t, err, apperr.ErrInvalidInput, bad)
	}
}
