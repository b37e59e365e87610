// Package ingest turns imported content (plain text, a URL, or an uploaded
// file) into note title and body text.
package ingest

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

const (
	maxURLFetchSize = 5 << 20 // 5MB
	fetchTimeout    = 10 * time.Second
)

// Import types.
const (
	TypeText = "text"
	TypeURL  = "url"
	TypeFile = "file"
	TypePDF  = "pdf"
)

var (
	// ErrInvalidRequest is returned for requests missing required fields or
	// carrying undecodable content.
	ErrInvalidRequest = errors.New("invalid import request")
	// ErrFetch is returned when a URL cannot be retrieved.
	ErrFetch = errors.New("fetching url")
)

// Request describes content to import. Content is plain text for TypeText
// and base64 for TypeFile and TypePDF.
type Request struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Content string `json:"content"`
	URL     string `json:"url"`
}

// Document is the extracted note content.
type Document struct {
	Title string
	Text  string
}

// Extractor resolves import requests into documents.
type Extractor struct {
	client *http.Client
	logger *slog.Logger
}

// NewExtractor creates an Extractor. A nil client uses http.DefaultClient.
func NewExtractor(client *http.Client) *Extractor {
	if client == nil {
		client = http.DefaultClient
	}
	return &Extractor{client: client, logger: slog.Default()}
}

// Extract resolves req. The title defaults to the URL for URL imports and
// to the first line of the text otherwise.
func (x *Extractor) Extract(ctx context.Context, req Request) (Document, error) {
	if req.Type == "" {
		req.Type = TypeText
		if req.URL != "" {
			req.Type = TypeURL
		}
	}

	var text string
	switch req.Type {
	case TypeText:
		if req.Content == "" {
			return Document{}, fmt.Errorf("%w: content is required", ErrInvalidRequest)
		}
		text = req.Content

	case TypeURL:
		if req.URL == "" {
			return Document{}, fmt.Errorf("%w: url is required", ErrInvalidRequest)
		}
		body, err := x.fetch(ctx, req.URL)
		if err != nil {
			return Document{}, err
		}
		text = body
		if req.Title == "" {
			req.Title = req.URL
		}

	case TypeFile, TypePDF:
		raw, err := base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			return Document{}, fmt.Errorf("%w: invalid base64 content", ErrInvalidRequest)
		}
		if req.Type == TypePDF || bytes.HasPrefix(raw, []byte("%PDF-")) {
			text, err = PDFText(raw)
			if err != nil {
				return Document{}, err
			}
		} else {
			if !utf8.Valid(raw) {
				return Document{}, fmt.Errorf("%w: file is not UTF-8 text", ErrInvalidRequest)
			}
			text = string(raw)
		}

	default:
		return Document{}, fmt.Errorf("%w: unknown type %q", ErrInvalidRequest, req.Type)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return Document{}, fmt.Errorf("%w: no text could be extracted", ErrInvalidRequest)
	}
	if req.Title == "" {
		req.Title = firstLine(text)
	}
	x.logger.Debug("ingest: extracted", "type", req.Type, "title", req.Title, "chars", utf8.RuneCountInString(text))
	return Document{Title: req.Title, Text: text}, nil
}

func (x *Extractor) fetch(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: invalid url: %v", ErrInvalidRequest, err)
	}
	resp, err := x.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: url returned status %d", ErrFetch, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxURLFetchSize))
	if err != nil {
		return "", fmt.Errorf("%w: reading body: %w", ErrFetch, err)
	}
	return string(body), nil
}

// PDFText extracts the plain text of a PDF document.
func PDFText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: reading pdf: %v", ErrInvalidRequest, err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("%w: extracting pdf text: %v", ErrInvalidRequest, err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return buf.String(), nil
}

const maxTitleRunes = 80

func firstLine(text string) string {
	line, _, _ := strings.Cut(text, "\n")
	line = strings.TrimSpace(line)
	if utf8.RuneCountInString(line) > maxTitleRunes {
		line = string([]rune(line)[:maxTitleRunes])
	}
	return line
}
