package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/docbroker/docbroker/internal/apperr"
	"github.com/docbroker/docbroker/internal/models"
	"github.com/docbroker/docbroker/internal/sse"
	"github.com/docbroker/docbroker/internal/uploads"
)

const (
	uploadField       = "file"
	multipartOverhead = 1 << 20
)

// Upload handles POST /api/uploads (multipart/form-data, field "file").
// The part is streamed into the upload manager; nothing is buffered in
// memory beyond the multipart reader's window.
//
//	@Summary		Upload a word-processing file
//	@Tags			uploads
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file	formData	file	true	"DOC or DOCX file"
//	@Success		201		{object}	UploadResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/uploads [post]
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.uploads.MaxBytes()+multipartOverhead)

	mr, err := r.MultipartReader()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("File is required."))
		return
	}

	var (
		handle   models.UploadHandle
		received bool
	)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				h.writeUploadError(w, apperr.ErrTooLarge)
				return
			}
			writeJSON(w, http.StatusBadRequest, errorBody("File is required."))
			return
		}
		if part.FormName() != uploadField || part.FileName() == "" {
			_ = part.Close()
			continue
		}
		handle, err = h.uploads.Accept(r.Context(), part, part.FileName(), part.Header.Get("Content-Type"))
		_ = part.Close()
		if err != nil {
			h.writeUploadError(w, err)
			return
		}
		received = true
		break
	}
	if !received {
		writeJSON(w, http.StatusBadRequest, errorBody("File is required."))
		return
	}

	sub, _ := SubjectFrom(r.Context())
	fileURL := h.uploads.AccessURL(handle.UploadID, requestBase(r))
	rec, err := h.registry.GetOrCreate(r.Context(), fileURL, models.MetadataPatch{
		OriginalName:   handle.OriginalName,
		MimeType:       handle.MimeType,
		Size:           handle.Size,
		Checksum:       handle.Checksum,
		UploadID:       handle.UploadID,
		RequestedBy:    sub.Username,
		LastModifiedAt: h.now(),
	})
	if err != nil || rec == nil {
		h.logger.Error("register upload failed",
			slog.String("upload_id", handle.UploadID),
			slog.Any("error", err))
		if _, rmErr := h.uploads.Remove(r.Context(), handle.UploadID); rmErr != nil {
			h.logger.Warn("discard unregistered upload failed",
				slog.String("upload_id", handle.UploadID),
				slog.String("error", rmErr.Error()))
		}
		writeJSON(w, http.StatusInternalServerError, errorBody("Upload failed."))
		return
	}

	h.events.Publish(sse.Event{
		Type: sse.UploadCreated,
		Data: UploadCreatedPayload{UploadID: handle.UploadID, DocumentKey: rec.DocumentKey},
	})
	writeJSON(w, http.StatusCreated, UploadResponse{
		UploadID:     handle.UploadID,
		DocumentKey:  rec.DocumentKey,
		OriginalName: handle.OriginalName,
		URL:          fileURL,
		Size:         handle.Size,
		MimeType:     handle.MimeType,
	})
}

func (h *Handler) writeUploadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperr.ErrUnsupportedType):
		writeJSON(w, http.StatusBadRequest,
			errorBody(fmt.Sprintf("Only %s files are allowed.", h.uploads.AllowedLabel())))
	case errors.Is(err, apperr.ErrTooLarge):
		writeJSON(w, http.StatusBadRequest,
			errorBody(fmt.Sprintf("File exceeds the maximum upload size of %d bytes.", h.uploads.MaxBytes())))
	default:
		h.logger.Error("upload failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("Upload failed."))
	}
}

// DeleteUpload handles DELETE /api/uploads/{uploadId}.
//
//	@Summary		Delete a stored upload
//	@Tags			uploads
//	@Param			uploadId	path	string	true	"Upload id"
//	@Success		204
//	@Failure		404	{object}	errResponse
//	@Failure		500	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/uploads/{uploadId} [delete]
func (h *Handler) DeleteUpload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "uploadId")
	result, err := h.uploads.Remove(r.Context(), id)
	if err != nil {
		if errors.Is(err, apperr.ErrInvalidInput) {
			writeJSON(w, http.StatusNotFound, errorBody("Upload not found."))
			return
		}
		h.logger.Error("delete upload failed", slog.String("upload_id", id), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("Unable to delete upload."))
		return
	}
	if result == uploads.NotFound {
		writeJSON(w, http.StatusNotFound, errorBody("Upload not found."))
		return
	}

	base, _ := uploads.Basename(id)
	h.events.Publish(sse.Event{
		Type: sse.UploadDeleted,
		Data: UploadDeletedPayload{UploadID: base},
	})
	w.WriteHeader(http.StatusNoContent)
}

// ServeUpload handles GET /uploads/{uploadId}. The document engine fetches
// content from here, so any origin may read it.
func (h *Handler) ServeUpload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "uploadId")
	obj, err := h.uploads.Open(r.Context(), id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) || errors.Is(err, apperr.ErrInvalidInput) {
			http.NotFound(w, r)
			return
		}
		h.logger.Error("open upload failed", slog.String("upload_id", id), slog.String("error", err.Error()))
		http.Error(w, "unable to read upload", http.StatusInternalServerError)
		return
	}
	defer obj.Body.Close()

	w.Header().Set("Access-Control-Allow-Origin", "*")
	if obj.ContentType != "" {
		w.Header().Set("Content-Type", obj.ContentType)
	}

	if rs, ok := obj.Body.(io.ReadSeeker); ok {
		http.ServeContent(w, r, id, obj.ModTime, rs)
		return
	}
	if obj.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	if !obj.ModTime.IsZero() {
		w.Header().Set("Last-Modified", obj.ModTime.UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, obj.Body); err != nil {
		h.logger.Warn("stream upload interrupted", slog.String("upload_id", id), slog.String("error", err.Error()))
	}
}

// requestBase reconstructs the externally visible origin of r.
func requestBase(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
	}
	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		host = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if host == "" {
		host = "localhost"
	}
	return scheme + "://" + host
}
