// Package media inspects inbound binary payloads: it classifies them,
// extracts lightweight metadata for the blob record, and delegates audio
// transcription to the language collaborator.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/ledongthuc/pdf"
	_ "golang.org/x/image/webp"
)

// excerptLimit caps the document text carried into blob metadata.
const excerptLimit = 2000

// Blob kinds derived from the payload's mime type.
const (
	KindImage    = "image"
	KindAudio    = "audio"
	KindDocument = "document"
	KindOther    = "other"
)

// Transcriber converts audio bytes to text.
type Transcriber interface {
	Transcribe(ctx context.Context, data []byte, mimeType string) (string, error)
}

// Processor inspects media payloads.
type Processor struct {
	transcriber Transcriber
}

// NewProcessor creates a Processor. transcriber may be nil; Transcribe then
// reports audio as unsupported.
func NewProcessor(transcriber Transcriber) *Processor {
	return &Processor{transcriber: transcriber}
}

// Classify maps a mime type onto a blob kind.
func Classify(mimeType string) string {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	switch {
	case strings.HasPrefix(mt, "image/"):
		return KindImage
	case strings.HasPrefix(mt, "audio/"):
		return KindAudio
	case mt == "application/pdf":
		return KindDocument
	}
	return KindOther
}

// Describe classifies the payload and extracts kind-specific metadata as a
// JSON object. Extraction failures degrade to empty metadata rather than
// failing intake; the bytes are stored either way.
func (p *Processor) Describe(data []byte, mimeType string) (kind, metadataJSON string) {
	kind = Classify(mimeType)

	var meta map[string]any
	var err error
	switch kind {
	case KindImage:
		meta, err = imageMetadata(data)
	case KindDocument:
		meta, err = pdfMetadata(data)
	}
	if err != nil || len(meta) == 0 {
		return kind, "{}"
	}

	b, err := json.Marshal(meta)
	if err != nil {
		return kind, "{}"
	}
	return kind, string(b)
}

// Transcribe returns the text content of an audio payload.
func (p *Processor) Transcribe(ctx context.Context, data []byte, mimeType string) (string, error) {
	if p.transcriber == nil {
		return "", fmt.Errorf("audio transcription is not configured")
	}
	text, err := p.transcriber.Transcribe(ctx, data, mimeType)
	if err != nil {
		return "", fmt.Errorf("transcribing audio: %w", err)
	}
	return text, nil
}

func imageMetadata(data []byte) (map[string]any, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image config: %w", err)
	}
	return map[string]any{
		"width":  cfg.Width,
		"height": cfg.Height,
		"format": format,
	}, nil
}

func pdfMetadata(data []byte) (map[string]any, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("pdf reader: %w", err)
	}

	meta := map[string]any{"pages": r.NumPage()}

	plain, err := r.GetPlainText()
	if err != nil {
		// Page count alone is still useful for scanned or encrypted files.
		return meta, nil
	}
	b, err := io.ReadAll(io.LimitReader(plain, excerptLimit*4))
	if err != nil {
		return meta, nil
	}
	if excerpt := collapseWhitespace(string(b)); excerpt != "" {
		if len(excerpt) > excerptLimit {
			excerpt = excerpt[:excerptLimit]
		}
		meta["excerpt"] = excerpt
	}
	return meta, nil
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
