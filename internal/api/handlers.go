package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/docbroker/docbroker/internal/apperr"
	"github.com/docbroker/docbroker/internal/auth"
	"github.com/docbroker/docbroker/internal/models"
	"github.com/docbroker/docbroker/internal/registry"
	"github.com/docbroker/docbroker/internal/sse"
	"github.com/docbroker/docbroker/internal/uploads"
)

// Handler holds API route handlers.
type Handler struct {
	authority *auth.Authority
	users     *auth.Directory
	registry  *registry.Registry
	uploads   *uploads.Manager
	events    sse.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// Deps are the collaborators a Handler needs. Events and Logger may be nil.
type Deps struct {
	Authority *auth.Authority
	Users     *auth.Directory
	Registry  *registry.Registry
	Uploads   *uploads.Manager
	Events    sse.Publisher
	Logger    *slog.Logger
	Now       func() time.Time
}

// NewHandler creates a new Handler.
func NewHandler(d Deps) *Handler {
	h := &Handler{
		authority: d.Authority,
		users:     d.Users,
		registry:  d.Registry,
		uploads:   d.Uploads,
		events:    d.Events,
		logger:    d.Logger,
		now:       d.Now,
	}
	if h.events == nil {
		h.events = sse.Discard{}
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// Login handles POST /api/auth/login.
//
//	@Summary		Exchange credentials for an access token
//	@Tags			auth
//	@Accept			json
//	@Produce		json
//	@Param			body	body		LoginRequest	true	"Credentials"
//	@Success		200		{object}	LoginResponse
//	@Failure		400		{object}	errResponse
//	@Failure		401		{object}	errResponse
//	@Router			/auth/login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("Invalid request body."))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("Username and password are required"))
		return
	}

	sub, err := h.users.Authenticate(req.Username, req.Password)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorBody("Invalid username or password"))
		return
	}

	token, _, err := h.authority.IssueAccessToken(sub)
	if err != nil {
		h.logger.Error("issue access token failed", slog.String("username", sub.Username), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("Unable to issue access token."))
		return
	}

	h.logger.Info("login", slog.String("username", sub.Username))
	writeJSON(w, http.StatusOK, LoginResponse{
		Token:     token,
		User:      userDTO(sub),
		ExpiresIn: formatTTL(h.authority.AccessTTL()),
	})
}

// Verify handles GET /api/auth/verify.
//
//	@Summary		Check an access token
//	@Tags			auth
//	@Produce		json
//	@Success		200	{object}	VerifyResponse
//	@Failure		401	{object}	errResponse
//	@Failure		403	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/auth/verify [get]
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	sub, _ := SubjectFrom(r.Context())
	writeJSON(w, http.StatusOK, VerifyResponse{Valid: true, User: userDTO(sub)})
}

// EditorToken handles POST /api/onlyoffice/token.
//
//	@Summary		Sign an editor configuration for the document engine
//	@Tags			editor
//	@Accept			json
//	@Produce		json
//	@Param			body	body		EditorTokenRequest	true	"Editor configuration"
//	@Success		200		{object}	EditorTokenResponse
//	@Failure		400		{object}	errResponse
//	@Failure		500		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/onlyoffice/token [post]
func (h *Handler) EditorToken(w http.ResponseWriter, r *http.Request) {
	var req EditorTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("Editor configuration payload is required."))
		return
	}
	config, ok := req.Config.(map[string]any)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("Editor configuration payload is required."))
		return
	}

	sub, _ := SubjectFrom(r.Context())
	token, exp, err := h.authority.IssueEditorSessionToken(sub, config)
	if err != nil {
		if errors.Is(err, apperr.ErrInvalidInput) {
			writeJSON(w, http.StatusBadRequest,
				errorBody("Editor configuration must include both document and editorConfig sections."))
			return
		}
		h.logger.Error("sign editor config failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("Unable to sign editor configuration."))
		return
	}

	writeJSON(w, http.StatusOK, EditorTokenResponse{
		Token:     token,
		IssuedAt:  exp.Add(-h.authority.EditorTTL()).UTC(),
		ExpiresIn: formatTTL(h.authority.EditorTTL()),
	})
}

// DocumentMetadata handles POST /api/documents/metadata.
//
//	@Summary		Register a document URL and return its stable key
//	@Tags			documents
//	@Accept			json
//	@Produce		json
//	@Param			body	body		MetadataRequest	true	"Document reference"
//	@Success		200		{object}	MetadataResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/metadata [post]
func (h *Handler) DocumentMetadata(w http.ResponseWriter, r *http.Request) {
	var req MetadataRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("Document URL is required."))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("Document URL is required."))
		return
	}

	sub, _ := SubjectFrom(r.Context())
	rec, err := h.registry.GetOrCreate(r.Context(), req.URL, models.MetadataPatch{
		Title:        req.Title,
		OriginalName: req.OriginalName,
		RequestedBy:  sub.Username,
	})
	if err != nil {
		h.logger.Error("store document metadata failed", slog.String("url", req.URL), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("Unable to store document metadata."))
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusBadRequest, errorBody("Document URL is required."))
		return
	}

	h.events.Publish(sse.Event{
		Type: sse.DocumentRegistered,
		Data: DocumentRegisteredPayload{DocumentKey: rec.DocumentKey},
	})
	writeJSON(w, http.StatusOK, MetadataResponse{
		DocumentKey:    rec.DocumentKey,
		URL:            rec.URL,
		Title:          rec.Title,
		OriginalName:   rec.OriginalName,
		LastAccessedAt: rec.LastAccessedAt,
	})
}

// Health handles GET /health.
//
//	@Summary		Liveness and upload area status
//	@Tags			health
//	@Produce		json
//	@Success		200	{object}	HealthResponse
//	@Router			/health [get]
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:          "ok",
		Timestamp:       h.now().UTC(),
		UploadDirExists: h.uploads.Store().Ready(r.Context()) == nil,
	}
	if base := h.uploads.PublicBaseURL(); base != "" {
		resp.PublicBaseURL = &base
	}
	if n, err := h.registry.Len(r.Context()); err == nil {
		resp.RegistryEntries = n
	}
	writeJSON(w, http.StatusOK, resp)
}

// formatTTL renders a lifetime the way clients expect it, e.g. "5m" or
// "24h" rather than "5m0s".
func formatTTL(d time.Duration) string {
	s := d.String()
	if strings.HasSuffix(s, "m0s") {
		s = strings.TrimSuffix(s, "0s")
	}
	if strings.HasSuffix(s, "h0m") {
		s = strings.TrimSuffix(s, "0m")
	}
	return s
}
