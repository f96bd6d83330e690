package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"ruangobat/internal/draft"

	"go.uber.org/zap"
)

const (
	DefaultModel    = "gemini-2.5-flash"
	DefaultLanguage = "Bahasa Indonesia"
	MaxCount        = 20
	maxTopicLength  = 1200
)

var (
	ErrProviderNotConfigured = errors.New("ai provider is not configured")
	ErrTopicRequired         = errors.New("topic is required")
	ErrTopicTooLong          = errors.New("topic too long")
	ErrInvalidType           = errors.New("invalid question type")
	ErrEmptyGeneration       = errors.New("model returned no usable questions")
)

type GenerateRequest struct {
	Topic    string
	Count    int
	Type     draft.QuestionType
	Language string
}

type Service struct {
	gen     Generator
	prompts promptBook
	logger  *zap.Logger
}

// NewService builds the generation service. A nil generator is allowed and
// makes every Generate call fail with ErrProviderNotConfigured.
func NewService(gen Generator, logger *zap.Logger) (*Service, error) {
	prompts, err := loadPrompts()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{gen: gen, prompts: prompts, logger: logger}, nil
}

func (s *Service) Configured() bool { return s.gen != nil }

func (r GenerateRequest) normalize() (GenerateRequest, error) {
	r.Topic = strings.TrimSpace(r.Topic)
	if r.Topic == "" {
		return r, ErrTopicRequired
	}
	if utf8.RuneCountInString(r.Topic) > maxTopicLength {
		return r, ErrTopicTooLong
	}
	if r.Count < 1 {
		r.Count = 1
	}
	if r.Count > MaxCount {
		r.Count = MaxCount
	}
	if strings.TrimSpace(string(r.Type)) == "" {
		r.Type = draft.TypeText
	} else if r.Type = draft.NormalizeQuestionType(string(r.Type)); r.Type == "" {
		return r, ErrInvalidType
	}
	r.Language = strings.TrimSpace(r.Language)
	if r.Language == "" {
		r.Language = DefaultLanguage
	}
	return r, nil
}

// Generate asks the model for a batch of questions and returns them as
// five-option drafts. The batch is never merged here.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) ([]draft.QuestionDraft, error) {
	req, err := req.normalize()
	if err != nil {
		return nil, err
	}
	if s.gen == nil {
		return nil, ErrProviderNotConfigured
	}

	prompt, err := s.prompts.build(req)
	if err != nil {
		return nil, err
	}
	text, err := s.gen.GenerateText(ctx, prompt)
	if err != nil {
		s.logger.Warn("question generation failed", zap.String("type", string(req.Type)), zap.Error(err))
		return nil, fmt.Errorf("generate questions: %w", err)
	}

	items, err := parseGenerated(text, req.Type)
	if err != nil {
		s.logger.Warn("unusable generation output", zap.Int("length", len(text)), zap.Error(err))
		return nil, err
	}
	if len(items) > req.Count {
		items = items[:req.Count]
	}
	s.logger.Info("questions generated", zap.Int("requested", req.Count), zap.Int("returned", len(items)))
	return items, nil
}

type generatedOption struct {
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

type generatedQuestion struct {
	Type        string            `json:"type"`
	Text        string            `json:"text"`
	Explanation string            `json:"explanation"`
	Options     []generatedOption `json:"options"`
}

// extractJSONArray returns the outermost JSON array in model text, which may
// be wrapped in markdown code fences or prose.
func extractJSONArray(text string) (string, bool) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

func parseGenerated(text string, fallback draft.QuestionType) ([]draft.QuestionDraft, error) {
	raw, ok := extractJSONArray(text)
	if !ok {
		return nil, ErrEmptyGeneration
	}
	var items []generatedQuestion
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmptyGeneration, err)
	}

	out := make([]draft.QuestionDraft, 0, len(items))
	for _, it := range items {
		q, ok := toDraft(it, fallback)
		if ok {
			out = append(out, q)
		}
	}
	if len(out) == 0 {
		return nil, ErrEmptyGeneration
	}
	return out, nil
}

func toDraft(it generatedQuestion, fallback draft.QuestionType) (draft.QuestionDraft, bool) {
	q := draft.NewQuestionDraft()
	q.Type = draft.NormalizeQuestionType(it.Type)
	if q.Type == "" {
		q.Type = fallback
	}
	q.Text = strings.TrimSpace(it.Text)
	q.Explanation = strings.TrimSpace(it.Explanation)
	if q.Text == "" {
		return q, false
	}
	for i, opt := range it.Options {
		if i >= draft.DefaultOptionCount {
			break
		}
		q.Options[i] = draft.Option{Text: strings.TrimSpace(opt.Text), IsCorrect: opt.IsCorrect}
	}
	return q, true
}
