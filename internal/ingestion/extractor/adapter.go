// Package extractor turns a stored lab report file into a validated ExtractedReport.
package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/yungbote/labreport-backend/internal/domain/labs"
	"github.com/yungbote/labreport-backend/internal/ingestion/ingesterr"
	"github.com/yungbote/labreport-backend/internal/pkg/httpx"
	"github.com/yungbote/labreport-backend/internal/pkg/logger"
	"github.com/yungbote/labreport-backend/internal/platform/blobstore"
	"github.com/yungbote/labreport-backend/internal/platform/gcp"
)

// FileRef points at an upload already durably stored in the blob store.
type FileRef struct {
	Path             string
	ContentType      string
	OriginalFileName string
}

// Result is a validated extraction plus the JSON it was decoded from.
type Result struct {
	Report *labs.ExtractedReport
	Raw    json.RawMessage
}

type Adapter struct {
	log        *logger.Logger
	blobs      blobstore.Store
	capability Capability
	prompt     Prompt
	ocr        gcp.OCR
	maxHint    int
}

type Option func(*Adapter)

// WithOCR attaches a Document AI reader whose text is sent as a hint.
func WithOCR(ocr gcp.OCR, maxChars int) Option {
	return func(a *Adapter) {
		a.ocr = ocr
		a.maxHint = maxChars
	}
}

func WithPrompt(p Prompt) Option {
	return func(a *Adapter) { a.prompt = p }
}

func New(log *logger.Logger, blobs blobstore.Store, capability Capability, opts ...Option) (*Adapter, error) {
	if blobs == nil || capability == nil {
		return nil, fmt.Errorf("extractor: blob store and capability are required")
	}
	prompt, err := LoadPrompt()
	if err != nil {
		return nil, err
	}
	a := &Adapter{
		log:        log.With("service", "ExtractionAdapter", "capability", capability.Name()),
		blobs:      blobs,
		capability: capability,
		prompt:     prompt,
		maxHint:    20000,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Extract makes one attempt at reading ref. Retries belong to the orchestrator.
// Errors are *ingesterr.TransientIOError, *ingesterr.MalformedExtraction, or an
// unclassified error for failures no retry can fix.
func (a *Adapter) Extract(ctx context.Context, ref FileRef) (*Result, error) {
	if strings.TrimSpace(ref.Path) == "" {
		return nil, fmt.Errorf("extractor: file path is required")
	}

	data, err := blobstore.ReadAll(ctx, a.blobs, ref.Path)
	if err != nil {
		if errors.Is(err, blobstore.ErrFileTooLarge) {
			return nil, fmt.Errorf("download %s: %w", ref.Path, err)
		}
		return nil, ingesterr.Transient("download "+ref.Path, err)
	}

	contentType := blobstore.NormalizeContentType(ref.ContentType)
	doc := Document{Name: ref.OriginalFileName, ContentType: contentType, Data: data}
	prompt := RenderedPrompt{
		System: a.prompt.System,
		User:   a.prompt.RenderUser(ref.OriginalFileName, a.ocrHint(ctx, doc)),
	}

	raw, err := a.capability.Analyze(ctx, prompt, doc)
	if err != nil {
		return nil, classifyCapabilityError(err)
	}

	report, cleaned, err := Parse(raw)
	if err != nil {
		a.log.Warn("Extraction output rejected", "path", ref.Path, "error", err.Error(), "output_len", len(raw))
		return nil, err
	}
	a.log.Debug("Extraction parsed",
		"path", ref.Path,
		"panels", len(report.Panels),
		"results", report.ResultCount(),
	)
	return &Result{Report: report, Raw: cleaned}, nil
}

func (a *Adapter) ocrHint(ctx context.Context, doc Document) string {
	if a.ocr == nil {
		return ""
	}
	res, err := a.ocr.ExtractText(ctx, doc.ContentType, doc.Data)
	if err != nil {
		a.log.Warn("OCR hint unavailable", "file", doc.Name, "error", err.Error())
		return ""
	}
	return res.Hint(a.maxHint)
}

func classifyCapabilityError(err error) error {
	switch {
	case errors.Is(err, ErrNoOutput):
		return ingesterr.Malformed("no output", "", err)
	case errors.Is(err, context.Canceled):
		return err
	case httpx.IsRetryableError(err):
		return ingesterr.Transient("extraction call", err)
	default:
		return fmt.Errorf("extraction call: %w", err)
	}
}
