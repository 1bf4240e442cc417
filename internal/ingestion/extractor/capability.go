package extractor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/yungbote/labreport-backend/internal/platform/openai"
)

// Document is the file payload handed to a capability.
type Document struct {
	Name        string
	ContentType string
	Data        []byte
}

// Capability is the external multimodal service that reads a document and
// answers with free-form text expected to hold the report JSON.
type Capability interface {
	Analyze(ctx context.Context, prompt RenderedPrompt, doc Document) (string, error)
	Name() string
}

type RenderedPrompt struct {
	System string
	User   string
}

// ErrNoOutput marks an answer without any text. The adapter treats it as malformed output.
var ErrNoOutput = errors.New("capability returned no output")

type openAICapability struct {
	client openai.Client
}

func NewOpenAICapability(client openai.Client) Capability {
	return &openAICapability{client: client}
}

func (c *openAICapability) Name() string { return "openai" }

func (c *openAICapability) Analyze(ctx context.Context, prompt RenderedPrompt, doc Document) (string, error) {
	out, err := c.client.GenerateTextWithDocument(ctx, prompt.System, prompt.User, openai.DocumentInput{
		FileName: doc.Name,
		MimeType: doc.ContentType,
		Data:     doc.Data,
	})
	if errors.Is(err, openai.ErrEmptyOutput) || errors.Is(err, openai.ErrRefused) {
		return "", fmt.Errorf("%w: %v", ErrNoOutput, err)
	}
	return out, err
}

type langchainCapability struct {
	model llms.Model
}

// NewLangchainCapability adapts any langchaingo model that accepts binary parts.
func NewLangchainCapability(model llms.Model) Capability {
	return &langchainCapability{model: model}
}

func (c *langchainCapability) Name() string { return "langchain" }

func (c *langchainCapability) Analyze(ctx context.Context, prompt RenderedPrompt, doc Document) (string, error) {
	content := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(prompt.System)},
		},
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.TextPart(prompt.User),
				llms.BinaryPart(doc.ContentType, doc.Data),
			},
		},
	}
	resp, err := c.model.GenerateContent(ctx, content, llms.WithTemperature(0.0), llms.WithJSONMode())
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return "", ErrNoOutput
	}
	return resp.Choices[0].Content, nil
}
