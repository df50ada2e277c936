// Package analysis turns an uploaded PDF into full text, a summary and a topic list.
package analysis

import (
	"context"
	"errors"

	"docchat/pkg/domain"
)

// ErrInsufficientText is returned when a PDF yields too few usable lines to analyze.
var ErrInsufficientText = errors.New("pdf has too little text to analyze")

// Result is what an analyzer reports for one PDF.
type Result struct {
	ServerFilename string         `json:"serverFilename"`
	FullText       string         `json:"fullText"`
	Summary        string         `json:"summary"`
	Topics         []domain.Topic `json:"topics"`
}

// Analyzer extracts text, summary and topics from the PDF at path.
type Analyzer interface {
	Analyze(ctx context.Context, path string) (Result, error)
}
