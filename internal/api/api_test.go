package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docbroker/docbroker/internal/sse"
	"github.com/docbroker/docbroker/internal/testutil"
)

type recorder struct {
	mu     sync.Mutex
	events []sse.Event
}

func (r *recorder) Publish(ev sse.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

type testEnv struct {
	router    http.Handler
	uploadDir string
	events    *recorder
}

func newTestEnv(t *testing.T, maxBytes int64) *testEnv {
	t.Helper()
	dir, mgr := testutil.Uploads(t, maxBytes)
	events := &recorder{}
	h := NewHandler(Deps{
		Authority: testutil.Authority(t),
		Users:     testutil.Directory(t),
		Registry:  testutil.Registry(t),
		Uploads:   mgr,
		Events:    events,
		Logger:    testutil.Logger(),
	})

	// Minimal SSE handler stub: writes headers and blocks until context done.
	stream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	})

	return &testEnv{
		router:    NewRouter(h, RouterConfig{Events: stream}),
		uploadDir: dir,
		events:    events,
	}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) login(t *testing.T, username, password string) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": username, "password": password})
	if w.Code != http.StatusOK {
		t.Fatalf("login = %d, body = %s", w.Code, w.Body.String())
	}
	var resp LoginResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	return resp.Token
}

func (e *testEnv) upload(t *testing.T, token, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("note", "ignored")
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write(content)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", &buf)
	req.Host = "docs.local:5174"
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func messageOf(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body errResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return body.Message
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t, 1<<20)

	w := env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "admin", "password": "admin123"})
	if w.Code != http.StatusOK {
		t.Fatalf("login = %d, body = %s", w.Code, w.Body.String())
	}
	var resp LoginResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Token == "" {
		t.Error("empty token")
	}
	if resp.ExpiresIn != "24h" {
		t.Errorf("expiresIn = %q, want 24h", resp.ExpiresIn)
	}
	if resp.User.ID != 1 || resp.User.Name != "Administrator" {
		t.Errorf("user = %+v", resp.User)
	}
	if strings.Contains(w.Body.String(), "password") {
		t.Error("login response leaks password material")
	}
}

func TestLogin_Failures(t *testing.T) {
	env := newTestEnv(t, 1<<20)

	tests := []struct {
		name    string
		body    map[string]string
		status  int
		message string
	}{
		{"missing password", map[string]string{"username": "admin"}, http.StatusBadRequest, "Username and password are required"},
		{"missing both", map[string]string{}, http.StatusBadRequest, "Username and password are required"},
		{"wrong password", map[string]string{"username": "admin", "password": "nope"}, http.StatusUnauthorized, "Invalid username or password"},
		{"unknown user", map[string]string{"username": "ghost", "password": "admin123"}, http.StatusUnauthorized, "Invalid username or password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/auth/login", "", tt.body)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			if got := messageOf(t, w); got != tt.message {
				t.Errorf("message = %q, want %q", got, tt.message)
			}
		})
	}
}

func TestVerify(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	token := env.login(t, "editor", "editor123")

	w := env.do(t, http.MethodGet, "/api/auth/verify", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("verify = %d", w.Code)
	}
	var resp VerifyResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Valid || resp.User.Username != "editor" || resp.User.ID != 2 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	w := env.do(t, http.MethodGet, "/api/auth/verify", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no token = %d, want 401", w.Code)
	}
	if got := messageOf(t, w); got != "Access token required" {
		t.Errorf("message = %q", got)
	}
}

func TestAuthMiddleware_InvalidToken(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	for _, tok := range []string{"garbage", "a.b.c"} {
		w := env.do(t, http.MethodGet, "/api/auth/verify", tok, nil)
		if w.Code != http.StatusForbidden {
			t.Fatalf("token %q = %d, want 403", tok, w.Code)
		}
		if got := messageOf(t, w); got != "Invalid or expired token" {
			t.Errorf("message = %q", got)
		}
	}
}

func TestEditorToken(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	token := env.login(t, "admin", "admin123")

	body := map[string]any{"config": map[string]any{
		"document":     map[string]any{"key": "k", "url": "https://x.com/a.docx"},
		"editorConfig": map[string]any{"mode": "edit", "user": map[string]any{"id": "999", "name": "Mallory"}},
	}}
	w := env.do(t, http.MethodPost, "/api/onlyoffice/token", token, body)
	if w.Code != http.StatusOK {
		t.Fatalf("token = %d, body = %s", w.Code, w.Body.String())
	}
	var resp EditorTokenResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Token == "" || resp.ExpiresIn != "5m" {
		t.Errorf("resp = %+v", resp)
	}
	if time.Since(resp.IssuedAt) > time.Minute {
		t.Errorf("issuedAt = %v", resp.IssuedAt)
	}
}

func TestEditorToken_BadPayload(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	token := env.login(t, "admin", "admin123")

	tests := []struct {
		name    string
		body    any
		message string
	}{
		{"no config", map[string]any{}, "Editor configuration payload is required."},
		{"config not object", map[string]any{"config": "x"}, "Editor configuration payload is required."},
		{"no document", map[string]any{"config": map[string]any{"editorConfig": map[string]any{}}},
			"Editor configuration must include both document and editorConfig sections."},
		{"no editorConfig", map[string]any{"config": map[string]any{"document": map[string]any{}}},
			"Editor configuration must include both document and editorConfig sections."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/onlyoffice/token", token, tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			if got := messageOf(t, w); got != tt.message {
				t.Errorf("message = %q, want %q", got, tt.message)
			}
		})
	}
}

func TestDocumentMetadata_EquivalentURLsShareKey(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	token := env.login(t, "admin", "admin123")

	w1 := env.do(t, http.MethodPost, "/api/documents/metadata", token, map[string]string{"url": "https://x.com/a.docx "})
	w2 := env.do(t, http.MethodPost, "/api/documents/metadata", token, map[string]string{"url": "https://X.com/a.docx", "title": "Quarterly"})
	if w1.Code != http.StatusOK || w2.Code != http.StatusOK {
		t.Fatalf("status = %d / %d", w1.Code, w2.Code)
	}
	var r1, r2 MetadataResponse
	_ = json.Unmarshal(w1.Body.Bytes(), &r1)
	_ = json.Unmarshal(w2.Body.Bytes(), &r2)
	if len(r1.DocumentKey) != 32 {
		t.Errorf("key length = %d, want 32", len(r1.DocumentKey))
	}
	if r1.DocumentKey != r2.DocumentKey {
		t.Errorf("keys differ: %s vs %s", r1.DocumentKey, r2.DocumentKey)
	}
	if r1.URL != "https://x.com/a.docx" {
		t.Errorf("url = %q, want trimmed raw url", r1.URL)
	}
	if r2.Title != "Quarterly" {
		t.Errorf("title = %q", r2.Title)
	}

	types := env.events.types()
	if len(types) != 2 || types[0] != sse.DocumentRegistered {
		t.Errorf("events = %v", types)
	}
}

func TestDocumentMetadata_MissingURL(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	token := env.login(t, "admin", "admin123")

	for _, body := range []map[string]string{{}, {"url": "   "}} {
		w := env.do(t, http.MethodPost, "/api/documents/metadata", token, body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %v = %d, want 400", body, w.Code)
		}
		if got := messageOf(t, w); got != "Document URL is required." {
			t.Errorf("message = %q", got)
		}
	}
}

func TestUploadLifecycle(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	token := env.login(t, "admin", "admin123")

	w := env.upload(t, token, "report.docx", []byte("fake-docx-bytes"))
	if w.Code != http.StatusCreated {
		t.Fatalf("upload = %d, body = %s", w.Code, w.Body.String())
	}
	var resp UploadResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)

	if !strings.HasSuffix(resp.UploadID, ".docx") {
		t.Errorf("uploadId = %q", resp.UploadID)
	}
	if len(resp.DocumentKey) != 32 {
		t.Errorf("documentKey = %q", resp.DocumentKey)
	}
	if resp.URL != "http://docs.local:5174/uploads/"+resp.UploadID {
		t.Errorf("url = %q", resp.URL)
	}
	if resp.OriginalName != "report.docx" || resp.Size != int64(len("fake-docx-bytes")) {
		t.Errorf("resp = %+v", resp)
	}
	if resp.MimeType != "application/vnd.openxmlformats-officedocument.wordprocessingml.document" {
		t.Errorf("mimeType = %q", resp.MimeType)
	}
	if _, err := os.Stat(filepath.Join(env.uploadDir, resp.UploadID)); err != nil {
		t.Fatalf("file not on disk: %v", err)
	}

	// The registry knows the upload under its public URL.
	w = env.do(t, http.MethodPost, "/api/documents/metadata", token, map[string]string{"url": resp.URL})
	var meta MetadataResponse
	_ = json.Unmarshal(w.Body.Bytes(), &meta)
	if meta.DocumentKey != resp.DocumentKey || meta.OriginalName != "report.docx" || meta.Title != "report.docx" {
		t.Errorf("meta = %+v", meta)
	}

	// Served publicly with permissive CORS.
	w = env.do(t, http.MethodGet, "/uploads/"+resp.UploadID, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("serve = %d", w.Code)
	}
	if w.Body.String() != "fake-docx-bytes" {
		t.Errorf("served body = %q", w.Body.String())
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("ACAO = %q", w.Header().Get("Access-Control-Allow-Origin"))
	}

	w = env.do(t, http.MethodDelete, "/api/uploads/"+resp.UploadID, token, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", w.Code)
	}
	w = env.do(t, http.MethodDelete, "/api/uploads/"+resp.UploadID, token, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("second delete = %d, want 404", w.Code)
	}
	if got := messageOf(t, w); got != "Upload not found." {
		t.Errorf("message = %q", got)
	}

	w = env.do(t, http.MethodGet, "/uploads/"+resp.UploadID, "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("serve after delete = %d, want 404", w.Code)
	}

	want := []string{sse.DocumentRegistered, sse.UploadDeleted}
	types := env.events.types()
	if len(types) != 3 || types[0] != sse.UploadCreated || types[1] != want[0] || types[2] != want[1] {
		t.Errorf("events = %v", types)
	}
}

func TestUpload_MissingExtensionDefaultsToDocx(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	token := env.login(t, "admin", "admin123")

	w := env.upload(t, token, "notes", []byte("content"))
	if w.Code != http.StatusCreated {
		t.Fatalf("upload = %d, body = %s", w.Code, w.Body.String())
	}
	var resp UploadResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if !strings.HasSuffix(resp.UploadID, ".docx") {
		t.Errorf("uploadId = %q", resp.UploadID)
	}
}

func TestUpload_Rejections(t *testing.T) {
	env := newTestEnv(t, 16)
	token := env.login(t, "admin", "admin123")

	w := env.upload(t, token, "slides.pdf", []byte("pdf"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("pdf = %d, want 400", w.Code)
	}
	if got := messageOf(t, w); got != "Only DOC or DOCX files are allowed." {
		t.Errorf("message = %q", got)
	}

	w = env.upload(t, token, "big.docx", bytes.Repeat([]byte("x"), 64))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("oversized = %d, want 400", w.Code)
	}
	if got := messageOf(t, w); !strings.Contains(got, "maximum upload size") {
		t.Errorf("message = %q", got)
	}

	entries, err := os.ReadDir(env.uploadDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("rejected uploads left %d files behind", len(entries))
	}
}

func TestUpload_NoFilePart(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	token := env.login(t, "admin", "admin123")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("title", "nothing attached")
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/uploads", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if got := messageOf(t, w); got != "File is required." {
		t.Errorf("message = %q", got)
	}
}

func TestUpload_AuthProtected(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	w := env.upload(t, "", "report.docx", []byte("x"))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("upload without token = %d, want 401", w.Code)
	}
}

func TestServeUpload_TraversalBlocked(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	if err := os.WriteFile(filepath.Join(filepath.Dir(env.uploadDir), "secret.docx"), []byte("s"), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"..%2Fsecret.docx", "%2E%2E"} {
		w := env.do(t, http.MethodGet, "/uploads/"+name, "", nil)
		if w.Code == http.StatusOK {
			t.Errorf("traversal %q should not return 200", name)
		}
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	w := env.do(t, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health = %d", w.Code)
	}
	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["status"] != "ok" || resp["uploadDirExists"] != true {
		t.Errorf("resp = %v", resp)
	}
	if v, ok := resp["publicBaseUrl"]; !ok || v != nil {
		t.Errorf("publicBaseUrl = %v, want explicit null", v)
	}
}

func TestEvents_AuthProtected(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	w := env.do(t, http.MethodGet, "/api/events", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("events without token = %d, want 401", w.Code)
	}
}

func TestEvents_ValidToken(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	token := env.login(t, "admin", "admin123")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("events = %d, want 200", w.Code)
	}
}

func TestFormatTTL(t *testing.T) {
	tests := map[time.Duration]string{
		5 * time.Minute:         "5m",
		24 * time.Hour:          "24h",
		90 * time.Minute:        "1h30m",
		45 * time.Second:        "45s",
		time.Hour + time.Second: "1h0m1s",
	}
	for d, want := range tests {
		if got := formatTTL(d); got != want {
			t.Errorf("formatTTL(%v) = %q, want %q", d, got, want)
		}
	}
}
