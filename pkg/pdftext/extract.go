// Package pdftext extracts plain text from PDF rulebooks.
package pdftext

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// DefaultMaxChars bounds extracted text to keep downstream synthesis
// cost and latency in check.
const DefaultMaxChars = 15000

// Extractor pulls text out of PDF bytes, truncated to MaxChars runes.
type Extractor struct {
	MaxChars int
}

// Extract returns the rulebook text. Pages that fail to decode are
// skipped; the extraction fails only when no text comes out at all.
func (e Extractor) Extract(data []byte) (string, error) {
	maxChars := e.MaxChars
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	var sb strings.Builder
	totalPages := reader.NumPage()
	for i := 1; i <= totalPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(text)
		sb.WriteString(" ")
		if sb.Len() > maxChars*4 {
			break
		}
	}
	text := normalizeText(sb.String())
	if text == "" {
		return "", fmt.Errorf("no text extracted from pdf")
	}
	return Truncate(text, maxChars), nil
}

// Truncate bounds text to a prefix of max runes.
func Truncate(text string, max int) string {
	if max <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}

func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	return strings.Join(strings.Fields(text), " ")
}
