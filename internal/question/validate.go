package question

import (
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"

	"ruangobat/internal/draft"

	"github.com/go-playground/validator/v10"
)

var ErrInvalidInput = errors.New("invalid input")

var tagPattern = regexp.MustCompile(`<[^>]*>`)

type OptionInput struct {
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

// QuestionInput is the admin form payload for one question.
type QuestionInput struct {
	QuestionID  string        `json:"question_id"`
	Type        string        `json:"type" validate:"required,oneof=text image video"`
	Text        string        `json:"text" validate:"required"`
	Explanation string        `json:"explanation"`
	Options     []OptionInput `json:"options" validate:"min=1"`
}

type FieldProblem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every problem found in a form payload.
type ValidationError struct {
	Problems []FieldProblem
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = p.Field + ": " + p.Message
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

type Validator struct {
	v *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(questionStructRules, QuestionInput{})
	return &Validator{v: v}
}

func questionStructRules(sl validator.StructLevel) {
	in := sl.Current().Interface().(QuestionInput)
	t := draft.NormalizeQuestionType(in.Type)
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return
	}
	switch {
	case t.IsURL():
		if err := sl.Validator().Var(text, "url"); err != nil {
			sl.ReportError(in.Text, "text", "Text", "url", "")
		}
	case t == draft.TypeText:
		if visibleText(text) == "" {
			sl.ReportError(in.Text, "text", "Text", "required", "")
		}
	}
}

func visibleText(s string) string {
	return strings.TrimSpace(html.UnescapeString(tagPattern.ReplaceAllString(s, "")))
}

var tagMessages = map[string]string{
	"required": "wajib diisi",
	"oneof":    "harus salah satu dari text, image, video",
	"min":      "minimal satu opsi",
	"url":      "harus berupa URL",
}

func fieldName(fe validator.FieldError) string {
	switch fe.StructField() {
	case "QuestionID":
		return "question_id"
	default:
		return strings.ToLower(fe.StructField())
	}
}

// Question validates a form payload against the flow's rules and returns the
// draft it describes.
func (v *Validator) Question(flow draft.Flow, in QuestionInput) (draft.QuestionDraft, error) {
	in.Type = strings.ToLower(strings.TrimSpace(in.Type))
	if in.Type == "" {
		in.Type = string(draft.TypeText)
	}

	var problems []FieldProblem
	if err := v.v.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return draft.QuestionDraft{}, fmt.Errorf("validate question: %w", err)
		}
		for _, fe := range verrs {
			msg, ok := tagMessages[fe.Tag()]
			if !ok {
				msg = "tidak valid"
			}
			problems = append(problems, FieldProblem{Field: fieldName(fe), Message: msg})
		}
	}

	correct := 0
	for _, o := range in.Options {
		if o.IsCorrect {
			correct++
		}
	}
	if len(in.Options) > 0 {
		switch {
		case flow.SingleCorrect && correct != 1:
			problems = append(problems, FieldProblem{Field: "options", Message: "harus ada tepat satu jawaban benar"})
		case !flow.SingleCorrect && correct == 0:
			problems = append(problems, FieldProblem{Field: "options", Message: "minimal satu jawaban benar"})
		}
	}
	if len(problems) > 0 {
		return draft.QuestionDraft{}, &ValidationError{Problems: problems}
	}

	q := draft.QuestionDraft{
		QuestionID:  strings.TrimSpace(in.QuestionID),
		Type:        draft.NormalizeQuestionType(in.Type),
		Text:        strings.TrimSpace(in.Text),
		Explanation: strings.TrimSpace(in.Explanation),
		Options:     make([]draft.Option, len(in.Options)),
	}
	for i, o := range in.Options {
		q.Options[i] = draft.Option{Text: strings.TrimSpace(o.Text), IsCorrect: o.IsCorrect}
	}
	return q, nil
}

// InputFromDraft is the inverse of Question, used to re-validate imported rows.
func InputFromDraft(q draft.QuestionDraft) QuestionInput {
	in := QuestionInput{
		QuestionID:  q.QuestionID,
		Type:        string(q.Type),
		Text:        q.Text,
		Explanation: q.Explanation,
		Options:     make([]OptionInput, len(q.Options)),
	}
	for i, o := range q.Options {
		in.Options[i] = OptionInput{Text: o.Text, IsCorrect: o.IsCorrect}
	}
	return in
}
