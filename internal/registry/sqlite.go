package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/docbroker/docbroker/internal/models"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
	normalized_url   TEXT PRIMARY KEY,
	url              TEXT NOT NULL DEFAULT '',
	document_key     TEXT NOT NULL,
	original_name    TEXT NOT NULL DEFAULT '',
	title            TEXT NOT NULL DEFAULT '',
	mime_type        TEXT NOT NULL DEFAULT '',
	size             INTEGER NOT NULL DEFAULT 0,
	checksum         TEXT NOT NULL DEFAULT '',
	upload_id        TEXT NOT NULL DEFAULT '',
	requested_by     TEXT NOT NULL DEFAULT '',
	created_at       INTEGER NOT NULL,
	last_modified_at INTEGER NOT NULL,
	last_accessed_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_accessed ON documents(last_accessed_at);
`

// SQLiteStore keeps records in SQLite. With the default ":memory:" DSN the
// data lives only as long as the process.
type SQLiteStore struct {
	conn *sql.DB
}

// OpenSQLite opens (or creates) the database and applies the schema.
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = ":memory:"
	}
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("registry: open db: %w", err)
	}
	// Every pooled connection to :memory: would get its own database.
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("registry: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("registry: apply schema: %w", err)
	}
	return &SQLiteStore{conn: conn}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, normalizedURL string) (*models.DocumentRecord, error) {
	var (
		rec                          models.DocumentRecord
		created, modified, accessed int64
	)
	err := s.conn.QueryRowContext(ctx, `
		SELECT normalized_url, url, document_key, original_name, title, mime_type, size,
		       checksum, upload_id, requested_by, created_at, last_modified_at, last_accessed_at
		FROM documents WHERE normalized_url = ?`, normalizedURL).Scan(
		&rec.NormalizedURL, &rec.URL, &rec.DocumentKey, &rec.OriginalName, &rec.Title, &rec.MimeType, &rec.Size,
		&rec.Checksum, &rec.UploadID, &rec.RequestedBy, &created, &modified, &accessed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("registry: select: %w", err)
	}
	rec.CreatedAt = fromNanos(created)
	rec.LastModifiedAt = fromNanos(modified)
	rec.LastAccessedAt = fromNanos(accessed)
	return &rec, nil
}

func (s *SQLiteStore) Put(ctx context.Context, rec models.DocumentRecord) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO documents (normalized_url, url, document_key, original_name, title, mime_type, size,
		                       checksum, upload_id, requested_by, created_at, last_modified_at, last_accessed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(normalized_url) DO UPDATE SET
			url              = excluded.url,
			document_key     = excluded.document_key,
			original_name    = excluded.original_name,
			title            = excluded.title,
			mime_type        = excluded.mime_type,
			size             = excluded.size,
			checksum         = excluded.checksum,
			upload_id        = excluded.upload_id,
			requested_by     = excluded.requested_by,
			last_modified_at = excluded.last_modified_at,
			last_accessed_at = excluded.last_accessed_at
	`, rec.NormalizedURL, rec.URL, rec.DocumentKey, rec.OriginalName, rec.Title, rec.MimeType, rec.Size,
		rec.Checksum, rec.UploadID, rec.RequestedBy,
		rec.CreatedAt.UnixNano(), rec.LastModifiedAt.UnixNano(), rec.LastAccessedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("registry: upsert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Evict(ctx context.Context, cutoff time.Time, keep int) (int, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("registry: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var removed int64
	if !cutoff.IsZero() {
		res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE last_accessed_at < ?`, cutoff.UnixNano())
		if err != nil {
			return 0, fmt.Errorf("registry: evict idle: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}
	if keep > 0 {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM documents WHERE normalized_url IN (
				SELECT normalized_url FROM documents ORDER BY last_accessed_at DESC LIMIT -1 OFFSET ?
			)`, keep)
		if err != nil {
			return 0, fmt.Errorf("registry: trim: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("registry: commit: %w", err)
	}
	return int(removed), nil
}

func (s *SQLiteStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("registry: count: %w", err)
	}
	return n, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
