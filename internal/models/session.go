package models

import "time"

// Phase is the single visible section of a tool session.
type Phase string

const (
	PhaseUpload     Phase = "upload"
	PhasePreview    Phase = "preview"
	PhaseProcessing Phase = "processing"
	PhaseResults    Phase = "results"
	PhaseError      Phase = "error"
)

// AllPhases lists every section in display order.
var AllPhases = []Phase{PhaseUpload, PhasePreview, PhaseProcessing, PhaseResults, PhaseError}

// SessionView is the client-facing snapshot of a session.
type SessionView struct {
	ID           string             `json:"id"`
	Tool         string             `json:"tool"`
	Phase        Phase              `json:"phase"`
	Sections     map[Phase]bool     `json:"sections"`
	StatusText   string             `json:"statusText,omitempty"`
	Progress     float64            `json:"progress"` // 0-100
	ErrorMessage string             `json:"errorMessage,omitempty"`
	ScrollToTop  bool               `json:"scrollToTop"`
	File         *FileInfo          `json:"file,omitempty"`
	FileSize     string             `json:"fileSize,omitempty"` // File.Size for display
	Result       *CompressionResult `json:"result,omitempty"`
	CreatedAt    time.Time          `json:"createdAt"`
	LastAccessed time.Time          `json:"lastAccessed"`
}
