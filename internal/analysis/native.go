package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"docchat/pkg/ai"
	"docchat/pkg/domain"
)

const (
	minLineLength  = 10
	minLines       = 5
	maxFullTextLen = 120000
	promptExcerpt  = 5000
)

const summaryPrompt = `You are a document assistant. Reply with one JSON object built from the document excerpt below:
1. "summary": a friendly overview of the document in 100 to 200 words.
2. "topics": an array of 3 to 5 core topics, each an object with "emoji", "title" and "description".

Document excerpt:
%s`

var pageFooter = regexp.MustCompile(`Page \d+ of \d+`)

// NativeAnalyzer extracts text in-process and asks a chat model for the
// summary and topics.
type NativeAnalyzer struct {
	completer ai.Completer
	extract   func(ctx context.Context, path string) ([]string, error)
}

// NewNativeAnalyzer builds a NativeAnalyzer backed by completer.
func NewNativeAnalyzer(completer ai.Completer) (*NativeAnalyzer, error) {
	if completer == nil {
		return nil, errors.New("completer required")
	}
	return &NativeAnalyzer{completer: completer, extract: extractPages}, nil
}

// Analyze implements Analyzer.
func (n *NativeAnalyzer) Analyze(ctx context.Context, path string) (Result, error) {
	pages, err := n.extract(ctx, path)
	if err != nil {
		return Result{}, fmt.Errorf("extract text: %w", err)
	}
	lines := usableLines(pages)
	if len(lines) < minLines {
		return Result{}, ErrInsufficientText
	}
	fullText := truncateRunes(strings.Join(lines, "\n"), maxFullTextLen)

	reply, err := n.completer.Complete(ctx, ai.CompletionRequest{
		Messages: []ai.Message{{
			Role:    ai.RoleUser,
			Content: fmt.Sprintf(summaryPrompt, truncateRunes(fullText, promptExcerpt)),
		}},
		JSONObject: true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("summarize: %w", err)
	}
	var parsed struct {
		Summary string         `json:"summary"`
		Topics  []domain.Topic `json:"topics"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(reply)), &parsed); err != nil {
		return Result{}, fmt.Errorf("decode summary: %w", err)
	}
	return Result{
		ServerFilename: filepath.Base(path),
		FullText:       fullText,
		Summary:        strings.TrimSpace(parsed.Summary),
		Topics:         normalizeTopics(parsed.Topics),
	}, nil
}

// usableLines drops page footers and short fragments.
func usableLines(pages []string) []string {
	var lines []string
	for _, page := range pages {
		for _, line := range strings.Split(page, "\n") {
			line = strings.TrimSpace(strings.ToValidUTF8(strings.ReplaceAll(line, "\x00", " "), ""))
			if pageFooter.MatchString(line) {
				continue
			}
			if utf8.RuneCountInString(line) < minLineLength {
				continue
			}
			lines = append(lines, line)
		}
	}
	return lines
}

func extractPages(ctx context.Context, path string) ([]string, error) {
	// pdftotext copes better with complex layouts; the Go reader is the fallback.
	if pages, err := extractWithPdftotext(ctx, path); err == nil && len(pages) > 0 {
		return pages, nil
	}
	return extractWithGoLib(path)
}

func extractWithPdftotext(ctx context.Context, path string) ([]string, error) {
	if _, err := exec.LookPath("pdftotext"); err != nil {
		return nil, fmt.Errorf("pdftotext not found: %w", err)
	}
	output, err := exec.CommandContext(ctx, "pdftotext", "-enc", "UTF-8", path, "-").Output()
	if err != nil {
		return nil, fmt.Errorf("pdftotext failed: %w", err)
	}
	text := strings.TrimSpace(string(output))
	if text == "" {
		return nil, errors.New("no text extracted from pdf")
	}
	return strings.Split(text, "\f"), nil
}

func extractWithGoLib(path string) ([]string, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer file.Close()
	var pages []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pages = append(pages, text)
	}
	if len(pages) == 0 {
		return nil, errors.New("no text extracted from pdf")
	}
	return pages, nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

func normalizeTopics(topics []domain.Topic) []domain.Topic {
	out := make([]domain.Topic, 0, len(topics))
	for _, t := range topics {
		t.Title = strings.TrimSpace(t.Title)
		if t.Title == "" {
			continue
		}
		t.Emoji = strings.TrimSpace(t.Emoji)
		t.Description = strings.TrimSpace(t.Description)
		out = append(out, t)
	}
	return out
}
