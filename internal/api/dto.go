package api

import (
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/docbroker/docbroker/internal/models"
)

// LoginRequest is the request body for POST /api/auth/login.
type LoginRequest struct {
	Username string `json:"username" example:"admin" validate:"required"`
	Password string `json:"password" example:"admin123" validate:"required"`
}

// Validate validates the login request.
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

// UserDTO is the public view of a directory user.
type UserDTO struct {
	ID       int64  `json:"id" example:"1" validate:"required"`
	Username string `json:"username" example:"admin" validate:"required"`
	Name     string `json:"name" example:"Administrator"`
	Email    string `json:"email" example:"admin@example.com"`
}

func userDTO(sub models.Subject) UserDTO {
	return UserDTO{ID: sub.ID, Username: sub.Username, Name: sub.Name, Email: sub.Email}
}

// LoginResponse is returned after a successful login.
type LoginResponse struct {
	Token     string  `json:"token" validate:"required"`
	User      UserDTO `json:"user" validate:"required"`
	ExpiresIn string  `json:"expiresIn" example:"24h" validate:"required"`
}

// VerifyResponse is returned by GET /api/auth/verify.
type VerifyResponse struct {
	Valid bool    `json:"valid" validate:"required"`
	User  UserDTO `json:"user" validate:"required"`
}

// EditorTokenRequest wraps the editor configuration to sign.
type EditorTokenRequest struct {
	Config any `json:"config"`
}

// EditorTokenResponse carries a signed editor configuration.
type EditorTokenResponse struct {
	Token     string    `json:"token" validate:"required"`
	IssuedAt  time.Time `json:"issuedAt" validate:"required"`
	ExpiresIn string    `json:"expiresIn" example:"5m" validate:"required"`
}

// MetadataRequest is the request body for POST /api/documents/metadata.
type MetadataRequest struct {
	URL          string `json:"url" example:"https://storage.example.com/contract.docx" validate:"required"`
	Title        string `json:"title,omitempty" example:"Contract"`
	OriginalName string `json:"originalName,omitempty" example:"contract.docx"`
}

// Validate validates the metadata request.
func (r MetadataRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.URL, validation.By(func(any) error {
			if strings.TrimSpace(r.URL) == "" {
				return validation.ErrRequired
			}
			return nil
		})),
	)
}

// MetadataResponse describes a registered document.
type MetadataResponse struct {
	DocumentKey    string    `json:"documentKey" validate:"required"`
	URL            string    `json:"url" validate:"required"`
	Title          string    `json:"title"`
	OriginalName   string    `json:"originalName"`
	LastAccessedAt time.Time `json:"lastAccessedAt" validate:"required"`
}

// UploadResponse is returned after a successful upload.
type UploadResponse struct {
	UploadID     string `json:"uploadId" example:"3f0c8d2e-4b1a-4c9e-9a57-0d3b2f6e7a10.docx" validate:"required"`
	DocumentKey  string `json:"documentKey" validate:"required"`
	OriginalName string `json:"originalName" example:"report.docx" validate:"required"`
	URL          string `json:"url" validate:"required"`
	Size         int64  `json:"size" example:"12345" validate:"required"`
	MimeType     string `json:"mimeType" validate:"required"`
}

// HealthResponse reports liveness and upload area status.
type HealthResponse struct {
	Status          string    `json:"status" example:"ok" validate:"required"`
	Timestamp       time.Time `json:"timestamp" validate:"required"`
	UploadDirExists bool      `json:"uploadDirExists"`
	PublicBaseURL   *string   `json:"publicBaseUrl"`
	RegistryEntries int       `json:"registryEntries"`
}

// UploadCreatedPayload is the data of an upload.created event.
type UploadCreatedPayload struct {
	UploadID    string `json:"uploadId"`
	DocumentKey string `json:"documentKey"`
}

// UploadDeletedPayload is the data of an upload.deleted event.
type UploadDeletedPayload struct {
	UploadID string `json:"uploadId"`
}

// DocumentRegisteredPayload is the data of a document.registered event.
type DocumentRegisteredPayload struct {
	DocumentKey string `json:"documentKey"`
}
