package gcp

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/api/option"

	"github.com/yungbote/labreport-backend/internal/pkg/ctxutil"
	"github.com/yungbote/labreport-backend/internal/pkg/logger"
)

// OCR turns a stored lab report document into plain text and table markdown.
// The extraction adapter passes the result to the model as a reading aid.
type OCR interface {
	ExtractText(ctx context.Context, mimeType string, data []byte) (*OCRResult, error)
	Close() error
}

type DocumentConfig struct {
	ProjectID        string
	Location         string
	ProcessorID      string
	ProcessorVersion string
	Credentials      string
}

func (c DocumentConfig) Enabled() bool {
	return strings.TrimSpace(c.ProjectID) != "" && strings.TrimSpace(c.ProcessorID) != ""
}

type OCRResult struct {
	Processor string   `json:"processor"`
	MimeType  string   `json:"mime_type"`
	Text      string   `json:"text"`
	Tables    []string `json:"tables,omitempty"`
	Pages     int      `json:"pages"`
}

// Hint renders the OCR output as a single prompt section.
func (r *OCRResult) Hint(maxChars int) string {
	if r == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(strings.TrimSpace(r.Text))
	for _, t := range r.Tables {
		b.WriteString("\n\n")
		b.WriteString(strings.TrimSpace(t))
	}
	out := strings.TrimSpace(b.String())
	if maxChars > 0 && len(out) > maxChars {
		out = out[:maxChars]
	}
	return out
}

type documentService struct {
	log       *logger.Logger
	cfg       DocumentConfig
	docClient *documentai.DocumentProcessorClient
	timeout   time.Duration
}

func NewDocument(log *logger.Logger, cfg DocumentConfig) (OCR, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if !cfg.Enabled() {
		return nil, fmt.Errorf("document ai: project and processor id required")
	}
	if strings.TrimSpace(cfg.Location) == "" {
		cfg.Location = "us"
	}
	slog := log.With("service", "gcp.Document")

	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", cfg.Location)
	docOpts := append([]option.ClientOption{option.WithEndpoint(endpoint)}, credentialOptions(cfg.Credentials)...)
	c, err := documentai.NewDocumentProcessorClient(context.Background(), docOpts...)
	if err != nil {
		return nil, fmt.Errorf("documentai client: %w", err)
	}
	slog.Info("Document AI initialized", "endpoint", endpoint, "processor_id", cfg.ProcessorID)

	return &documentService{
		log:       slog,
		cfg:       cfg,
		docClient: c,
		timeout:   3 * time.Minute,
	}, nil
}

func (s *documentService) Close() error {
	if s == nil || s.docClient == nil {
		return nil
	}
	return s.docClient.Close()
}

func (s *documentService) ExtractText(ctx context.Context, mimeType string, data []byte) (*OCRResult, error) {
	ctx, cancel := context.WithTimeout(ctxutil.Default(ctx), s.timeout)
	defer cancel()

	res := &OCRResult{
		Processor: processorName(s.cfg.ProjectID, s.cfg.Location, s.cfg.ProcessorID, s.cfg.ProcessorVersion),
		MimeType:  mimeType,
	}
	if res.MimeType == "" {
		res.MimeType = "application/pdf"
	}
	if len(data) == 0 {
		return res, nil
	}

	started := time.Now()
	resp, err := s.docClient.ProcessDocument(ctx, &documentaipb.ProcessRequest{
		Name: res.Processor,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{Content: data, MimeType: res.MimeType},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("documentai ProcessDocument: %w", err)
	}
	if resp != nil {
		res = buildOCRResult(resp.Document, res.Processor, res.MimeType)
	}
	s.log.Ctx(ctx).Debug("Document processed",
		"bytes", len(data),
		"pages", res.Pages,
		"tables", len(res.Tables),
		"took_ms", time.Since(started).Milliseconds(),
	)
	return res, nil
}

func buildOCRResult(doc *documentaipb.Document, processor, mimeType string) *OCRResult {
	res := &OCRResult{Processor: processor, MimeType: mimeType}
	if doc == nil {
		return res
	}
	res.Text = strings.TrimSpace(doc.Text)
	res.Pages = len(doc.Pages)
	for _, page := range doc.GetPages() {
		for _, table := range page.GetTables() {
			grid := tableGrid(doc.Text, table)
			if md := renderMarkdownTable(grid); md != "" {
				res.Tables = append(res.Tables, md)
			}
		}
	}
	return res
}

// textFromAnchor joins the anchored segments of full, clamping each to its bounds.
func textFromAnchor(full string, anchor *documentaipb.Document_TextAnchor) string {
	var b strings.Builder
	for _, seg := range anchor.GetTextSegments() {
		start := max(int(seg.GetStartIndex()), 0)
		end := min(int(seg.GetEndIndex()), len(full))
		if start < end {
			b.WriteString(full[start:end])
		}
	}
	return b.String()
}

// tableGrid returns the header row followed by the body rows. A table with no
// header row promotes its first body row.
func tableGrid(full string, table *documentaipb.Document_Page_Table) [][]string {
	var rows []*documentaipb.Document_Page_Table_TableRow
	if hdr := table.GetHeaderRows(); len(hdr) > 0 && hdr[0] != nil {
		rows = append(rows, hdr[0])
	}
	for _, r := range table.GetBodyRows() {
		if r != nil {
			rows = append(rows, r)
		}
	}

	grid := make([][]string, 0, len(rows))
	for _, r := range rows {
		line := make([]string, len(r.GetCells()))
		for i, c := range r.GetCells() {
			line[i] = cellText(full, c)
		}
		grid = append(grid, line)
	}
	return grid
}

func cellText(full string, c *documentaipb.Document_Page_Table_TableCell) string {
	txt := strings.TrimSpace(textFromAnchor(full, c.GetLayout().GetTextAnchor()))
	return strings.ReplaceAll(txt, "|", `\|`)
}

func renderMarkdownTable(grid [][]string) string {
	if len(grid) == 0 || len(grid[0]) == 0 {
		return ""
	}
	width := 0
	for _, row := range grid {
		width = max(width, len(row))
	}

	writeRow := func(b *strings.Builder, cells []string) {
		b.WriteString("|")
		for i := 0; i < width; i++ {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			b.WriteString(" " + cell + " |")
		}
		b.WriteString("\n")
	}

	var b strings.Builder
	writeRow(&b, grid[0])
	writeRow(&b, slices.Repeat([]string{"---"}, width))
	for _, row := range grid[1:] {
		writeRow(&b, row)
	}
	return strings.TrimSpace(b.String())
}

func processorName(project, location, processorID, version string) string {
	parts := []string{"projects", project, "locations", location, "processors", processorID}
	if v := strings.TrimSpace(version); v != "" {
		parts = append(parts, "processorVersions", v)
	}
	for i := 1; i < 6; i += 2 {
		parts[i] = strings.TrimSpace(parts[i])
		if parts[i] == "" {
			return ""
		}
	}
	return strings.Join(parts, "/")
}
