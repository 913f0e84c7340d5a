package export

import "fmt"

// Service renders transcripts. The caller assembles TranscriptData
// (sender names resolved, visibility already applied); this package
// only handles presentation.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

// Transcript generates a transcript export in the requested format.
func (s *Service) Transcript(data TranscriptData, format Format) (*Result, error) {
	html, err := RenderTranscriptHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render transcript: %w", err)
	}

	title := data.CommunityName + " transcript"
	switch format {
	case FormatPDF:
		return exportPDF(html, title)
	case FormatDOCX:
		return exportDOCX(html, title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}
