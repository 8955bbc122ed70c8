// Package uploads admits, stores and removes uploaded word-processing
// files. Each upload gets an opaque id that doubles as its storage name.
package uploads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/docbroker/docbroker/internal/apperr"
	"github.com/docbroker/docbroker/internal/checksum"
	"github.com/docbroker/docbroker/internal/models"
	"github.com/docbroker/docbroker/internal/storage"
)

// PublicPath is the URL path under which stored uploads are served.
const PublicPath = "/uploads/"

var mimeByExt = map[string]string{
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".odt":  "application/vnd.oasis.opendocument.text",
	".rtf":  "application/rtf",
	".txt":  "text/plain",
}

// Config holds admission rules.
type Config struct {
	MaxBytes          int64
	AllowedExtensions []string
	DefaultExtension  string
	PublicBaseURL     string
	StagingDir        string
}

// RemoveResult is the benign outcome of Remove.
type RemoveResult int

const (
	Removed RemoveResult = iota
	NotFound
)

func (r RemoveResult) String() string {
	if r == NotFound {
		return "not_found"
	}
	return "removed"
}

// Manager implements the upload lifecycle over a storage.Provider.
type Manager struct {
	store   storage.Provider
	cfg     Config
	allowed []string
	logger  *slog.Logger
}

// NewManager returns a Manager. Extensions are compared case-insensitively.
func NewManager(store storage.Provider, cfg Config, logger *slog.Logger) *Manager {
	allowed := make([]string, 0, len(cfg.AllowedExtensions))
	for _, ext := range cfg.AllowedExtensions {
		allowed = append(allowed, normalizeExt(ext))
	}
	cfg.DefaultExtension = normalizeExt(cfg.DefaultExtension)
	if cfg.DefaultExtension == "" {
		cfg.DefaultExtension = ".docx"
	}
	return &Manager{store: store, cfg: cfg, allowed: allowed, logger: logger}
}

// Store returns the underlying provider.
func (m *Manager) Store() storage.Provider {
	return m.store
}

// AllowedExtensions returns the lower-cased allow-list.
func (m *Manager) AllowedExtensions() []string {
	return slices.Clone(m.allowed)
}

// Admit checks declaredName against the allow-list and returns the
// extension the stored object will carry.
func (m *Manager) Admit(declaredName string) (string, error) {
	ext := normalizeExt(path.Ext(OriginalName(declaredName)))
	if ext == "" || ext == "." {
		ext = m.cfg.DefaultExtension
	}
	if !slices.Contains(m.allowed, ext) {
		return "", fmt.Errorf("%w: only %s files are allowed", apperr.ErrUnsupportedType, m.AllowedLabel())
	}
	return ext, nil
}

// Accept admits and stores r under a fresh id. The stream is spooled to a
// staging file first so the size ceiling is enforced before anything
// reaches the backend.
func (m *Manager) Accept(ctx context.Context, r io.Reader, declaredName, declaredMime string) (models.UploadHandle, error) {
	ext, err := m.Admit(declaredName)
	if err != nil {
		return models.UploadHandle{}, err
	}

	staging, err := os.CreateTemp(m.cfg.StagingDir, "docbroker-upload-*")
	if err != nil {
		return models.UploadHandle{}, fmt.Errorf("%w: create staging file: %v", apperr.ErrStorage, err)
	}
	defer func() {
		_ = staging.Close()
		_ = os.Remove(staging.Name())
	}()

	hashed := checksum.NewReader(io.LimitReader(r, m.cfg.MaxBytes+1))
	if _, err := io.Copy(staging, hashed); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return models.UploadHandle{}, m.tooLarge()
		}
		return models.UploadHandle{}, fmt.Errorf("%w: spool upload: %v", apperr.ErrStorage, err)
	}
	size := hashed.Len()
	if size > m.cfg.MaxBytes {
		return models.UploadHandle{}, m.tooLarge()
	}
	if _, err := staging.Seek(0, io.SeekStart); err != nil {
		return models.UploadHandle{}, fmt.Errorf("%w: rewind staging file: %v", apperr.ErrStorage, err)
	}

	id := uuid.NewString() + ext
	mimeType := declaredMime
	if mimeType == "" || mimeType == "application/octet-stream" {
		if known, ok := mimeByExt[ext]; ok {
			mimeType = known
		} else {
			mimeType = "application/octet-stream"
		}
	}

	if err := m.store.Put(ctx, id, staging, size, mimeType); err != nil {
		return models.UploadHandle{}, fmt.Errorf("%w: %v", apperr.ErrStorage, err)
	}

	m.logger.Info("upload stored",
		slog.String("upload_id", id),
		slog.String("original_name", OriginalName(declaredName)),
		slog.Int64("size", size))

	return models.UploadHandle{
		UploadID:     id,
		OriginalName: OriginalName(declaredName),
		Size:         size,
		MimeType:     mimeType,
		Checksum:     hashed.Sum(),
	}, nil
}

// Remove deletes the stored content for uploadID. A missing object is the
// NotFound outcome, not an error.
func (m *Manager) Remove(ctx context.Context, uploadID string) (RemoveResult, error) {
	id, err := Basename(uploadID)
	if err != nil {
		return NotFound, err
	}
	if err := m.store.Delete(ctx, id); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return NotFound, nil
		}
		return NotFound, fmt.Errorf("%w: %v", apperr.ErrStorage, err)
	}
	m.logger.Info("upload removed", slog.String("upload_id", id))
	return Removed, nil
}

// Open returns the stored content for uploadID.
func (m *Manager) Open(ctx context.Context, uploadID string) (*storage.Object, error) {
	id, err := Basename(uploadID)
	if err != nil {
		return nil, err
	}
	return m.store.Open(ctx, id)
}

// MaxBytes returns the upload size ceiling.
func (m *Manager) MaxBytes() int64 {
	return m.cfg.MaxBytes
}

// PublicBaseURL returns the configured external base address, if any.
func (m *Manager) PublicBaseURL() string {
	return m.cfg.PublicBaseURL
}

// AccessURL composes the public URL for uploadID. requestBase, derived from
// the inbound request, is used only when no public base is configured.
func (m *Manager) AccessURL(uploadID, requestBase string) string {
	base := m.cfg.PublicBaseURL
	if base == "" {
		base = requestBase
	}
	return strings.TrimRight(base, "/") + PublicPath + url.PathEscape(uploadID)
}

func (m *Manager) tooLarge() error {
	return fmt.Errorf("%w: maximum upload size is %d bytes", apperr.ErrTooLarge, m.cfg.MaxBytes)
}

// AllowedLabel renders the allow-list for messages, e.g. "DOC or DOCX".
func (m *Manager) AllowedLabel() string {
	names := make([]string, len(m.allowed))
	for i, ext := range m.allowed {
		names[i] = strings.ToUpper(strings.TrimPrefix(ext, "."))
	}
	return strings.Join(names, " or ")
}

// Basename reduces a caller-supplied id to its final path element and
// rejects anything that still names a directory.
func Basename(id string) (string, error) {
	base := path.Base(strings.ReplaceAll(id, `\`, "/"))
	switch base {
	case "", ".", "..", "/":
		return "", fmt.Errorf("%w: invalid upload id %q", apperr.ErrInvalidInput, id)
	}
	return base, nil
}

// OriginalName strips any client-side directory from a declared filename.
func OriginalName(declared string) string {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(declared), `\`, "/"))
	if name == "." || name == "/" {
		return ""
	}
	return name
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
