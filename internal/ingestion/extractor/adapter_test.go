package extractor

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/yungbote/labreport-backend/internal/ingestion/ingesterr"
	"github.com/yungbote/labreport-backend/internal/pkg/logger"
	"github.com/yungbote/labreport-backend/internal/platform/blobstore"
	"github.com/yungbote/labreport-backend/internal/platform/gcp"
	"github.com/yungbote/labreport-backend/internal/platform/openai"
)

type fakeCapability struct {
	out    string
	err    error
	calls  int
	prompt RenderedPrompt
	doc    Document
}

func (f *fakeCapability) Name() string { return "fake" }

func (f *fakeCapability) Analyze(_ context.Context, prompt RenderedPrompt, doc Document) (string, error) {
	f.calls++
	f.prompt = prompt
	f.doc = doc
	return f.out, f.err
}

type fakeOCR struct{ text string }

func (f fakeOCR) ExtractText(context.Context, string, []byte) (*gcp.OCRResult, error) {
	return &gcp.OCRResult{Text: f.text}, nil
}
func (fakeOCR) Close() error { return nil }

func newAdapter(t *testing.T, capability Capability, opts ...Option) (*Adapter, *blobstore.Memory) {
	t.Helper()
	store := blobstore.NewMemory()
	_, err := store.Upload(context.Background(), "u1/cmp.pdf", "application/pdf", strings.NewReader("%PDF-1.7"))
	require.NoError(t, err)
	a, err := New(logger.Nop(), store, capability, opts...)
	require.NoError(t, err)
	return a, store
}

var cmpRef = FileRef{Path: "u1/cmp.pdf", ContentType: "application/pdf", OriginalFileName: "cmp.pdf"}

func TestExtractReturnsReportAndRaw(t *testing.T) {
	capability := &fakeCapability{out: glucoseReport}
	a, _ := newAdapter(t, capability)

	res, err := a.Extract(context.Background(), cmpRef)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Report.ResultCount())
	assert.JSONEq(t, glucoseReport, string(res.Raw))
	assert.Equal(t, []byte("%PDF-1.7"), capability.doc.Data)
	assert.Equal(t, "application/pdf", capability.doc.ContentType)
	assert.NotEmpty(t, capability.prompt.System)
}

func TestExtractSendsOCRHint(t *testing.T) {
	capability := &fakeCapability{out: glucoseReport}
	a, _ := newAdapter(t, capability, WithOCR(fakeOCR{text: "GLUCOSE 127 H"}, 100))

	_, err := a.Extract(context.Background(), cmpRef)
	require.NoError(t, err)
	assert.Contains(t, capability.prompt.User, "GLUCOSE 127 H")
}

func TestExtractClassifiesFailures(t *testing.T) {
	cases := []struct {
		name string
		out  string
		err  error
		want ingesterr.Kind
	}{
		{name: "timeout", err: context.DeadlineExceeded, want: ingesterr.KindTransientIO},
		{name: "server error", err: &openai.HTTPError{StatusCode: http.StatusBadGateway}, want: ingesterr.KindTransientIO},
		{name: "rate limited", err: &openai.HTTPError{StatusCode: http.StatusTooManyRequests}, want: ingesterr.KindTransientIO},
		{name: "bad credentials", err: &openai.HTTPError{StatusCode: http.StatusUnauthorized}, want: ingesterr.KindInternal},
		{name: "no output", err: ErrNoOutput, want: ingesterr.KindMalformedExtraction},
		{name: "missing panels", out: `{"patient":{"name":"A"},"report_metadata":{}}`, want: ingesterr.KindMalformedExtraction},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a, _ := newAdapter(t, &fakeCapability{out: tc.out, err: tc.err})
			_, err := a.Extract(context.Background(), cmpRef)
			require.Error(t, err)
			assert.Equal(t, tc.want, ingesterr.Classify(err))
		})
	}
}

func TestExtractMissingBlobIsTransient(t *testing.T) {
	capability := &fakeCapability{out: glucoseReport}
	a, store := newAdapter(t, capability)
	require.NoError(t, store.Delete(context.Background(), cmpRef.Path))

	_, err := a.Extract(context.Background(), cmpRef)
	assert.Equal(t, ingesterr.KindTransientIO, ingesterr.Classify(err))
	assert.True(t, errors.Is(err, blobstore.ErrNotFound))
	assert.Zero(t, capability.calls)
}

func TestOpenAICapabilityMapsEmptyOutput(t *testing.T) {
	c := NewOpenAICapability(stubOpenAI{err: openai.ErrEmptyOutput})
	_, err := c.Analyze(context.Background(), RenderedPrompt{}, Document{Data: []byte("x")})
	assert.ErrorIs(t, err, ErrNoOutput)
}

type stubOpenAI struct {
	out string
	err error
}

func (s stubOpenAI) GenerateTextWithDocument(context.Context, string, string, openai.DocumentInput) (string, error) {
	return s.out, s.err
}

type fakeModel struct {
	messages []llms.MessageContent
	resp     *llms.ContentResponse
}

func (m *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = messages
	return m.resp, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func TestLangchainCapabilitySendsBinaryPart(t *testing.T) {
	model := &fakeModel{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: glucoseReport}}}}
	c := NewLangchainCapability(model)

	out, err := c.Analyze(context.Background(), RenderedPrompt{System: "s", User: "u"}, Document{ContentType: "image/png", Data: []byte{0x89}})
	require.NoError(t, err)
	assert.Equal(t, glucoseReport, out)
	require.Len(t, model.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeHuman, model.messages[1].Role)
	bin, ok := model.messages[1].Parts[1].(llms.BinaryContent)
	require.True(t, ok)
	assert.Equal(t, "image/png", bin.MIMEType)

	model.resp = &llms.ContentResponse{}
	_, err = c.Analyze(context.Background(), RenderedPrompt{}, Document{})
	assert.ErrorIs(t, err, ErrNoOutput)
}
