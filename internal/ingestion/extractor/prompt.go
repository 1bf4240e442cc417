package extractor

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed prompt.yaml
var promptYAML []byte

// Prompt is the fixed instruction pair sent with every document.
type Prompt struct {
	Version      int    `yaml:"version"`
	System       string `yaml:"system"`
	User         string `yaml:"user"`
	UserWithHint string `yaml:"user_with_hint"`
}

func LoadPrompt() (Prompt, error) {
	return parsePrompt(promptYAML)
}

func parsePrompt(raw []byte) (Prompt, error) {
	var p Prompt
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Prompt{}, fmt.Errorf("parse extraction prompt: %w", err)
	}
	if strings.TrimSpace(p.System) == "" || strings.TrimSpace(p.User) == "" {
		return Prompt{}, fmt.Errorf("extraction prompt: system and user are required")
	}
	if strings.TrimSpace(p.UserWithHint) == "" {
		p.UserWithHint = p.User
	}
	return p, nil
}

// RenderUser fills the user message for one file. An empty hint selects the plain variant.
func (p Prompt) RenderUser(fileName, ocrText string) string {
	tmpl := p.User
	if strings.TrimSpace(ocrText) != "" {
		tmpl = p.UserWithHint
	}
	return strings.TrimSpace(strings.NewReplacer(
		"{{file_name}}", strings.TrimSpace(fileName),
		"{{ocr_text}}", strings.TrimSpace(ocrText),
	).Replace(tmpl))
}
