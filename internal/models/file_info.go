package models

import "time"

// FileKind distinguishes client uploads from generated outputs.
type FileKind string

const (
	FileKindUpload FileKind = "upload"
	FileKindResult FileKind = "result"
)

// FileInfo represents metadata about a stored file.
type FileInfo struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	MIMEType   string    `json:"mimeType,omitempty"`
	Kind       FileKind  `json:"kind"`
	UploadedAt time.Time `json:"uploadedAt"`
}
