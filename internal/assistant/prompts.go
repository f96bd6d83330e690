package assistant

import (
	"embed"
	"fmt"
	"strconv"
	"strings"

	"ruangobat/internal/draft"

	"gopkg.in/yaml.v3"
)

//go:embed prompts/generate.yaml
var promptFS embed.FS

type promptTemplate struct {
	BasePrompt string            `yaml:"base_prompt"`
	Types      map[string]string `yaml:"types"`
}

// promptBook holds the complete prompt per question type.
type promptBook map[draft.QuestionType]string

func loadPrompts() (promptBook, error) {
	raw, err := promptFS.ReadFile("prompts/generate.yaml")
	if err != nil {
		return nil, fmt.Errorf("read prompt template: %w", err)
	}
	var tpl promptTemplate
	if err := yaml.Unmarshal(raw, &tpl); err != nil {
		return nil, fmt.Errorf("parse prompt template: %w", err)
	}

	book := make(promptBook, len(tpl.Types))
	for name, extra := range tpl.Types {
		t := draft.NormalizeQuestionType(name)
		if t == "" {
			return nil, fmt.Errorf("prompt template: unknown question type %q", name)
		}
		book[t] = strings.TrimSpace(tpl.BasePrompt) + "\n\n" + strings.TrimSpace(extra)
	}
	return book, nil
}

func (b promptBook) build(req GenerateRequest) (string, error) {
	tpl, ok := b[req.Type]
	if !ok {
		return "", fmt.Errorf("no prompt for question type %q", req.Type)
	}
	out := strings.ReplaceAll(tpl, "{{.Count}}", strconv.Itoa(req.Count))
	out = strings.ReplaceAll(out, "{{.Topic}}", req.Topic)
	out = strings.ReplaceAll(out, "{{.Language}}", req.Language)
	out = strings.ReplaceAll(out, "{{.Type}}", string(req.Type))
	return out, nil
}
