// Package models defines the domain types shared by the broker components.
package models

import "time"

// DocumentRecord identifies one logical document by its normalized URL.
type DocumentRecord struct {
	NormalizedURL  string    `json:"normalizedUrl"`
	URL            string    `json:"url"`
	DocumentKey    string    `json:"documentKey"`
	OriginalName   string    `json:"originalName"`
	Title          string    `json:"title"`
	MimeType       string    `json:"mimeType,omitempty"`
	Size           int64     `json:"size,omitempty"`
	Checksum       string    `json:"checksum,omitempty"`
	UploadID       string    `json:"uploadId,omitempty"`
	RequestedBy    string    `json:"requestedBy,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	LastModifiedAt time.Time `json:"lastModifiedAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
}

// MetadataPatch carries descriptive fields merged into a DocumentRecord.
// Empty fields leave the stored value untouched. A non-zero LastModifiedAt
// marks the reference as content-affecting.
type MetadataPatch struct {
	Title          string
	OriginalName   string
	MimeType       string
	Size           int64
	Checksum       string
	UploadID       string
	RequestedBy    string
	LastModifiedAt time.Time
}

// Subject is the authenticated identity carried by access tokens.
type Subject struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Name     string `json:"name"`
}

// UploadHandle describes a stored upload.
type UploadHandle struct {
	UploadID     string `json:"uploadId"`
	OriginalName string `json:"originalName"`
	Size         int64  `json:"size"`
	MimeType     string `json:"mimeType"`
	Checksum     string `json:"checksum"`
}
