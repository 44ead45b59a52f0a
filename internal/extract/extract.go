// Package extract turns uploaded documents, media files and web pages into
// plain text for the ingestion pipeline.
package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/agentoven/agentdock/pkg/contracts"
	pdf "github.com/ledongthuc/pdf"
)

// ErrUnsupportedType is returned for declared types the parser cannot read.
var ErrUnsupportedType = errors.New("unsupported file type")

// ErrNoText is returned when a file parsed cleanly but held no text.
var ErrNoText = errors.New("no text extracted")

// Parser extracts text from raw file bytes.
type Parser struct {
	transcriber *Transcriber
}

var _ contracts.Extractor = (*Parser)(nil)

// NewParser creates a parser. A nil transcriber disables audio and video.
func NewParser(t *Transcriber) *Parser {
	return &Parser{transcriber: t}
}

// Kind normalizes a declared type (extension, mime type or bare name)
// to one of txt, md, csv, json, html, pdf, docx, audio, video.
func Kind(declaredType string) string {
	t := strings.ToLower(strings.TrimSpace(declaredType))
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	if strings.Contains(t, ".") && !strings.Contains(t, "/") {
		t = path.Ext(t)
	}
	t = strings.TrimPrefix(t, ".")

	switch {
	case t == "txt" || t == "text" || t == "text/plain":
		return "txt"
	case t == "md" || t == "markdown" || t == "text/markdown":
		return "md"
	case t == "csv" || t == "text/csv":
		return "csv"
	case t == "json" || t == "application/json":
		return "json"
	case t == "html" || t == "htm" || t == "text/html":
		return "html"
	case t == "pdf" || t == "application/pdf":
		return "pdf"
	case t == "docx" || t == "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return "docx"
	case t == "audio" || strings.HasPrefix(t, "audio/"):
		return "audio"
	case t == "video" || strings.HasPrefix(t, "video/"):
		return "video"
	}
	switch t {
	case "mp3", "wav", "m4a", "ogg", "flac", "webm", "mpga":
		return "audio"
	case "mp4", "mov", "mkv", "avi", "mpeg":
		return "video"
	}
	return ""
}

// Parse extracts text from data according to declaredType.
func (p *Parser) Parse(ctx context.Context, data []byte, declaredType string) (contracts.Extracted, error) {
	kind := Kind(declaredType)
	meta := map[string]any{"fileType": kind, "bytes": len(data)}

	var (
		text string
		err  error
	)
	switch kind {
	case "txt", "md", "csv":
		if !utf8.Valid(data) {
			return contracts.Extracted{}, fmt.Errorf("%s: not valid UTF-8", kind)
		}
		text = string(data)
	case "json":
		text, err = jsonText(data)
	case "html":
		var title string
		text, title, err = htmlText(bytes.NewReader(data))
		if title != "" {
			meta["title"] = title
		}
	case "pdf":
		var pages int
		text, pages, err = pdfText(data)
		meta["pages"] = pages
	case "docx":
		text, err = docxText(data)
	case "audio", "video":
		if p.transcriber == nil {
			return contracts.Extracted{}, fmt.Errorf("%s: transcription not configured", kind)
		}
		text, err = p.transcriber.Transcribe(ctx, data, "upload."+mediaExt(declaredType, kind))
	default:
		return contracts.Extracted{}, fmt.Errorf("%w: %q", ErrUnsupportedType, declaredType)
	}
	if err != nil {
		return contracts.Extracted{}, err
	}
	if strings.TrimSpace(text) == "" {
		return contracts.Extracted{}, ErrNoText
	}
	return contracts.Extracted{Text: text, Metadata: meta}, nil
}

func mediaExt(declaredType, kind string) string {
	t := strings.ToLower(strings.TrimSpace(declaredType))
	if i := strings.LastIndexAny(t, "./"); i >= 0 && i < len(t)-1 {
		return t[i+1:]
	}
	if kind == "video" {
		return "mp4"
	}
	return "mp3"
}

// jsonText pretty-prints JSON so keys and values chunk on line boundaries.
func jsonText(data []byte) (string, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return "", fmt.Errorf("json: %w", err)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("json: %w", err)
	}
	return string(out), nil
}

func pdfText(data []byte) (string, int, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, fmt.Errorf("pdf reader: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", 0, fmt.Errorf("pdf plaintext: %w", err)
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", 0, fmt.Errorf("pdf read: %w", err)
	}
	return collapseWhitespace(string(b)), r.NumPage(), nil
}

// docxText gathers <w:t> runs from word/document.xml, one line per paragraph.
func docxText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("docx: %w", err)
	}
	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return "", fmt.Errorf("docx: word/document.xml not found")
	}
	rc, err := doc.Open()
	if err != nil {
		return "", fmt.Errorf("docx: %w", err)
	}
	defer rc.Close()

	dec := xml.NewDecoder(rc)
	var out, para strings.Builder
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("docx: %w", err)
		}
		switch el := tok.(type) {
		case xml.StartElement:
			if el.Name.Local == "t" {
				var v string
				if err := dec.DecodeElement(&v, &el); err == nil {
					para.WriteString(v)
				}
			}
		case xml.EndElement:
			if el.Name.Local == "p" {
				if line := strings.TrimSpace(para.String()); line != "" {
					out.WriteString(line)
					out.WriteString("\n")
				}
				para.Reset()
			}
		}
	}
	return strings.TrimSpace(out.String()), nil
}

func collapseWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.Join(strings.Fields(s), " ")
}
