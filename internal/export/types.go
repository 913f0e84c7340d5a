// Package export renders chat transcripts to PDF and DOCX.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// TranscriptMessage is one rendered line of the transcript. Bodies
// are plain text; the template does the escaping.
type TranscriptMessage struct {
	Sender    string
	SentAt    time.Time
	Body      string
	Kind      string
	FileName  string
	FileURL   string
	Pinned    bool
	ReplyTo   string
	ReplyBody string
	Reactions string
}

// TranscriptData holds everything the transcript template needs.
type TranscriptData struct {
	CommunityName string
	GeneratedBy   string
	GeneratedAt   time.Time
	Messages      []TranscriptMessage
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
