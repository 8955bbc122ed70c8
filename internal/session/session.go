// Package session sequences "replace the current document" for one client:
// tear down the active editor session, remove the previous upload, obtain
// an identity for the new document, get its configuration signed and only
// then present it.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/docbroker/docbroker/internal/api"
	"github.com/docbroker/docbroker/internal/apperr"
	"github.com/docbroker/docbroker/internal/uploads"
)

// ErrBusy is returned when a transition is requested while another one is
// still in flight.
var ErrBusy = apperr.ErrBusy

// ErrNotLoggedIn is returned by loads and clears without a login.
var ErrNotLoggedIn = fmt.Errorf("session: not logged in: %w", apperr.ErrUnauthorized)

// State is the orchestrator's lifecycle state.
type State int

const (
	Empty State = iota
	Transitioning
	Active
)

func (s State) String() string {
	switch s {
	case Transitioning:
		return "transitioning"
	case Active:
		return "active"
	default:
		return "empty"
	}
}

// Cleanup classifies the best-effort removal of the previous upload.
type Cleanup int

const (
	CleanupNone Cleanup = iota
	CleanupRemoved
	CleanupNotFound
	CleanupFailed
)

func (c Cleanup) String() string {
	switch c {
	case CleanupRemoved:
		return "removed"
	case CleanupNotFound:
		return "not_found"
	case CleanupFailed:
		return "failed"
	default:
		return "none"
	}
}

// API is the broker surface the orchestrator drives. *client.Client
// implements it.
type API interface {
	Login(ctx context.Context, username, password string) (api.LoginResponse, error)
	Logout()
	Upload(ctx context.Context, filename string, r io.Reader) (api.UploadResponse, error)
	DeleteUpload(ctx context.Context, uploadID string) (uploads.RemoveResult, error)
	RegisterDocument(ctx context.Context, req api.MetadataRequest) (api.MetadataResponse, error)
	SignConfig(ctx context.Context, config map[string]any) (api.EditorTokenResponse, error)
}

// Options tune the editor configuration and the transition timing.
type Options struct {
	Mode          string
	Lang          string
	AllowPrint    bool
	AllowDownload bool
	Collaboration bool

	// StepTimeout bounds every network call of a transition.
	StepTimeout time.Duration
	// SettleDelay is the quiescent window between teardown of the old
	// session and creation of the new one.
	SettleDelay time.Duration
}

// DefaultOptions returns full editing with collaboration enabled.
func DefaultOptions() Options {
	return Options{
		Mode:          ModeEdit,
		Lang:          "en",
		AllowPrint:    true,
		AllowDownload: true,
		Collaboration: true,
		StepTimeout:   30 * time.Second,
		SettleDelay:   150 * time.Millisecond,
	}
}

// Document is an active, signed editor session.
type Document struct {
	Key       string
	URL       string
	Title     string
	FileType  string
	UploadID  string
	Config    map[string]any
	Token     string
	IssuedAt  time.Time
	ExpiresIn string
}

// Snapshot is a consistent view of the orchestrator.
type Snapshot struct {
	State    State
	User     *api.UserDTO
	Document *Document
	Err      string
	Cleanup  Cleanup
}

// Orchestrator coordinates one client session. All methods are safe for
// concurrent use; at most one transition runs at a time.
type Orchestrator struct {
	api    API
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	user    *api.UserDTO
	doc     *Document
	lastErr string
	cleanup Cleanup
	subs    map[int]func(Snapshot)
	nextSub int
}

// New returns an orchestrator in the Empty state.
func New(a API, opts Options, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{api: a, opts: opts, logger: logger, subs: make(map[int]func(Snapshot))}
}

// Subscribe registers fn to receive a snapshot after every change. The
// returned function removes the subscription.
func (o *Orchestrator) Subscribe(fn func(Snapshot)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = fn
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.subs, id)
	}
}

// Snapshot returns the current state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	s := Snapshot{State: o.state, Err: o.lastErr, Cleanup: o.cleanup}
	if o.user != nil {
		u := *o.user
		s.User = &u
	}
	if o.doc != nil {
		d := *o.doc
		d.Config = maps.Clone(o.doc.Config)
		s.Document = &d
	}
	return s
}

// mutate applies fn under the lock and notifies subscribers afterwards.
func (o *Orchestrator) mutate(fn func()) {
	_ = o.update(func() error {
		fn()
		return nil
	})
}

// update is mutate for changes that may be refused. Subscribers are only
// notified when fn succeeds.
func (o *Orchestrator) update(fn func() error) error {
	o.mu.Lock()
	if err := fn(); err != nil {
		o.mu.Unlock()
		return err
	}
	snap := o.snapshotLocked()
	subs := make([]func(Snapshot), 0, len(o.subs))
	for _, s := range o.subs {
		subs = append(subs, s)
	}
	o.mu.Unlock()

	for _, s := range subs {
		s(snap)
	}
	return nil
}

// Login authenticates against the broker.
func (o *Orchestrator) Login(ctx context.Context, username, password string) error {
	ctx, cancel := o.step(ctx)
	defer cancel()

	resp, err := o.api.Login(ctx, username, password)
	if err != nil {
		o.mutate(func() { o.lastErr = err.Error() })
		return err
	}
	user := resp.User
	o.mutate(func() {
		o.user = &user
		o.lastErr = ""
	})
	o.logger.Info("session: logged in", slog.String("username", user.Username))
	return nil
}

// Logout discards credentials and the active document.
func (o *Orchestrator) Logout() {
	o.api.Logout()
	o.mutate(func() {
		o.user = nil
		o.doc = nil
		o.state = Empty
	})
	o.logger.Info("session: logged out")
}

// LoadFile uploads r under name and opens it.
func (o *Orchestrator) LoadFile(ctx context.Context, name string, r io.Reader) (*Document, error) {
	return o.transition(ctx, func(ctx context.Context) (Descriptor, string, error) {
		sctx, cancel := o.step(ctx)
		defer cancel()
		up, err := o.api.Upload(sctx, name, r)
		if err != nil {
			return Descriptor{}, "", err
		}
		return Descriptor{
			Key:      up.DocumentKey,
			URL:      up.URL,
			Title:    up.OriginalName,
			FileType: FileType(up.OriginalName),
		}, up.UploadID, nil
	})
}

// LoadURL registers a remote document and opens it.
func (o *Orchestrator) LoadURL(ctx context.Context, rawURL string) (*Document, error) {
	return o.transition(ctx, func(ctx context.Context) (Descriptor, string, error) {
		sctx, cancel := o.step(ctx)
		defer cancel()
		title := RemoteTitle(rawURL)
		meta, err := o.api.RegisterDocument(sctx, api.MetadataRequest{URL: rawURL, Title: title})
		if err != nil {
			return Descriptor{}, "", err
		}
		if meta.Title != "" {
			title = meta.Title
		}
		return Descriptor{
			Key:      meta.DocumentKey,
			URL:      meta.URL,
			Title:    title,
			FileType: FileType(meta.URL),
		}, "", nil
	})
}

// Clear tears down the active document and ends in Empty.
func (o *Orchestrator) Clear(ctx context.Context) error {
	prev, err := o.begin()
	if err != nil {
		return err
	}
	if err := o.teardown(ctx, prev); err != nil {
		return o.fail(err)
	}
	o.mutate(func() { o.state = Empty })
	return nil
}

type acquireFunc func(ctx context.Context) (Descriptor, string, error)

func (o *Orchestrator) transition(ctx context.Context, acquire acquireFunc) (*Document, error) {
	prev, err := o.begin()
	if err != nil {
		return nil, err
	}
	if err := o.teardown(ctx, prev); err != nil {
		return nil, o.fail(err)
	}

	desc, uploadID, err := acquire(ctx)
	if err != nil {
		return nil, o.fail(err)
	}

	config := EditorConfig(desc, o.opts)
	sctx, cancel := o.step(ctx)
	signed, err := o.api.SignConfig(sctx, config)
	cancel()
	if err != nil {
		if uploadID != "" {
			o.discard(ctx, uploadID)
		}
		return nil, o.fail(err)
	}
	config["token"] = signed.Token

	doc := &Document{
		Key:       desc.Key,
		URL:       desc.URL,
		Title:     desc.Title,
		FileType:  desc.FileType,
		UploadID:  uploadID,
		Config:    config,
		Token:     signed.Token,
		IssuedAt:  signed.IssuedAt,
		ExpiresIn: signed.ExpiresIn,
	}
	o.mutate(func() {
		o.doc = doc
		o.state = Active
	})
	o.logger.Info("session: document active",
		slog.String("document_key", doc.Key),
		slog.String("upload_id", doc.UploadID))

	out := *doc
	out.Config = maps.Clone(config)
	return &out, nil
}

// begin moves to Transitioning and clears the active document so consumers
// release their engine session. It returns the document being replaced.
func (o *Orchestrator) begin() (*Document, error) {
	var prev *Document
	err := o.update(func() error {
		if o.state == Transitioning {
			return ErrBusy
		}
		if o.user == nil {
			return ErrNotLoggedIn
		}
		prev = o.doc
		o.doc = nil
		o.state = Transitioning
		o.lastErr = ""
		o.cleanup = CleanupNone
		return nil
	})
	return prev, err
}

// teardown removes the previous upload and waits out the settle window.
// Only credential failures are returned.
func (o *Orchestrator) teardown(ctx context.Context, prev *Document) error {
	if prev != nil && prev.UploadID != "" {
		sctx, cancel := o.step(ctx)
		res, err := o.api.DeleteUpload(sctx, prev.UploadID)
		cancel()

		outcome := CleanupRemoved
		switch {
		case err != nil:
			outcome = CleanupFailed
			o.logger.Warn("session: previous upload not removed",
				slog.String("upload_id", prev.UploadID),
				slog.String("error", err.Error()))
		case res == uploads.NotFound:
			outcome = CleanupNotFound
		}
		o.mutate(func() { o.cleanup = outcome })

		if err != nil && apperr.IsAuth(err) {
			return err
		}
	}

	if o.opts.SettleDelay > 0 {
		t := time.NewTimer(o.opts.SettleDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

// discard deletes an upload whose session could not be established.
func (o *Orchestrator) discard(ctx context.Context, uploadID string) {
	sctx, cancel := o.step(context.WithoutCancel(ctx))
	defer cancel()
	if _, err := o.api.DeleteUpload(sctx, uploadID); err != nil {
		o.logger.Warn("session: orphaned upload not removed",
			slog.String("upload_id", uploadID),
			slog.String("error", err.Error()))
	}
}

// fail reverts to Empty. Credential failures also log the client out.
func (o *Orchestrator) fail(err error) error {
	if apperr.IsAuth(err) {
		o.logger.Warn("session: credentials rejected, logging out", slog.String("error", err.Error()))
		o.api.Logout()
		o.mutate(func() {
			o.user = nil
			o.doc = nil
			o.state = Empty
			o.lastErr = err.Error()
		})
		return err
	}
	o.mutate(func() {
		o.doc = nil
		o.state = Empty
		o.lastErr = err.Error()
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("session: step timed out: %w", err)
	}
	return err
}

func (o *Orchestrator) step(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.opts.StepTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.opts.StepTimeout)
}
