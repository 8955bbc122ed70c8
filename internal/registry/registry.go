// Package registry maps document locations to stable document keys.
//
// A document key is a pure function of the normalized URL and a
// server-held secret, so independent requests and independent processes
// that share the secret converge on the same key without coordination.
// The collaborative engine relies on that equality to merge sessions.
package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/docbroker/docbroker/internal/models"
)

// KeyLength is the number of hex characters in a document key.
const KeyLength = 32

// Normalize canonicalizes a document location: surrounding and internal
// whitespace removed, trailing slashes stripped, lower-cased. An empty
// result means the input did not name a document.
func Normalize(raw string) string {
	s := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, raw)
	s = strings.TrimRight(s, "/")
	return strings.ToLower(s)
}

// Deriver computes document keys from normalized URLs.
type Deriver struct {
	secret string
}

// NewDeriver returns a Deriver keyed by secret. The secret must be stable
// across restarts or every key changes.
func NewDeriver(secret string) *Deriver {
	return &Deriver{secret: secret}
}

// Key returns the first KeyLength hex characters of
// SHA-256("<secret>::<normalizedURL>").
func (d *Deriver) Key(normalizedURL string) string {
	sum := sha256.Sum256([]byte(d.secret + "::" + normalizedURL))
	return hex.EncodeToString(sum[:])[:KeyLength]
}

// Store persists records by normalized URL.
type Store interface {
	Get(ctx context.Context, normalizedURL string) (*models.DocumentRecord, error)
	Put(ctx context.Context, rec models.DocumentRecord) error
	// Evict removes records last accessed before cutoff, then the least
	// recently accessed records beyond keep (keep <= 0 means no cap).
	Evict(ctx context.Context, cutoff time.Time, keep int) (int, error)
	Len(ctx context.Context) (int, error)
	Close() error
}

// Registry is the single mutation path into the document store.
type Registry struct {
	mu      sync.Mutex
	store   Store
	deriver *Deriver
	now     func() time.Time
}

// Option customises a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New returns a Registry over store.
func New(store Store, deriver *Deriver, opts ...Option) *Registry {
	r := &Registry{store: store, deriver: deriver, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DeriveKey normalizes rawURL and returns its document key, or "" when the
// URL normalizes to nothing.
func (r *Registry) DeriveKey(rawURL string) string {
	n := Normalize(rawURL)
	if n == "" {
		return ""
	}
	return r.deriver.Key(n)
}

// GetOrCreate looks up the record for rawURL, creating it on first
// reference, merges patch over it and refreshes its access time. It
// returns (nil, nil) when the URL normalizes to nothing.
func (r *Registry) GetOrCreate(ctx context.Context, rawURL string, patch models.MetadataPatch) (*models.DocumentRecord, error) {
	normalized := Normalize(rawURL)
	if normalized == "" {
		return nil, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.store.Get(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("registry: get %s: %w", normalized, err)
	}

	now := r.now().UTC()
	rec := models.DocumentRecord{
		NormalizedURL:  normalized,
		DocumentKey:    r.deriver.Key(normalized),
		CreatedAt:      now,
		LastModifiedAt: now,
	}
	if existing != nil {
		rec = *existing
		if rec.DocumentKey == "" {
			rec.DocumentKey = r.deriver.Key(normalized)
		}
	}

	rec.URL = strings.TrimSpace(rawURL)
	rec.OriginalName = pick(patch.OriginalName, rec.OriginalName)
	rec.Title = pick(patch.Title, rec.Title, patch.OriginalName)
	rec.MimeType = pick(patch.MimeType, rec.MimeType)
	rec.Checksum = pick(patch.Checksum, rec.Checksum)
	rec.UploadID = pick(patch.UploadID, rec.UploadID)
	rec.RequestedBy = pick(patch.RequestedBy, rec.RequestedBy)
	if patch.Size > 0 {
		rec.Size = patch.Size
	}
	if !patch.LastModifiedAt.IsZero() {
		rec.LastModifiedAt = patch.LastModifiedAt.UTC()
	}
	rec.LastAccessedAt = now

	if err := r.store.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("registry: put %s: %w", normalized, err)
	}
	return &rec, nil
}

// Sweep evicts records idle longer than ttl and trims the registry to
// maxEntries. Zero values disable the respective policy.
func (r *Registry) Sweep(ctx context.Context, ttl time.Duration, maxEntries int) (int, error) {
	var cutoff time.Time
	if ttl > 0 {
		cutoff = r.now().UTC().Add(-ttl)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Evict(ctx, cutoff, maxEntries)
}

// Len returns the number of tracked documents.
func (r *Registry) Len(ctx context.Context) (int, error) {
	return r.store.Len(ctx)
}

func pick(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
