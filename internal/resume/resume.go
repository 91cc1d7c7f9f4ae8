// Package resume turns an uploaded PDF resume into plain text that can be stored as
// interview context.
package resume

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// MaxUploadSize is the largest resume accepted, in bytes.
const MaxUploadSize = 10 << 20

// MaxTextLength caps the extracted text kept for a message, in runes.
const MaxTextLength = 20000

var (
	ErrNotPDF = errors.New("file is not a PDF document")
	ErrNoText = errors.New("no extractable text in PDF")
)

// Extract returns the text of every page of a PDF document, pages separated by a
// blank line.
func Extract(data []byte) (text string, err error) {
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return "", ErrNotPDF
	}

	// The PDF reader panics on some malformed object graphs.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("reading PDF: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening PDF: %w", err)
	}

	var pages []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("reading page %d: %w", i, err)
		}
		if content = strings.TrimSpace(content); content != "" {
			pages = append(pages, content)
		}
	}
	if len(pages) == 0 {
		return "", ErrNoText
	}
	return strings.Join(pages, "\n\n"), nil
}

// Message formats extracted resume text as the content of a system message. Text longer
// than MaxTextLength runes is truncated.
func Message(filename, text string) string {
	if utf8.RuneCountInString(text) > MaxTextLength {
		runes := []rune(text)
		text = string(runes[:MaxTextLength]) + "\n[truncated]"
	}
	if filename == "" {
		filename = "resume.pdf"
	}
	return fmt.Sprintf("Candidate resume (%s):\n\n%s", filename, text)
}
