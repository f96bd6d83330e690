package draft

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrIndexOutOfRange  = errors.New("index out of range")
	ErrCommitted        = errors.New("draft session already committed")
	ErrCommitInProgress = errors.New("commit already in progress")
	ErrUnknownFlow      = errors.New("unknown authoring flow")
	ErrUnknownField     = errors.New("unknown metadata field")
	ErrStorageSchema    = errors.New("persisted draft does not match schema")
	ErrLastOption       = errors.New("question must keep at least one option")
	ErrNotRehydrated    = errors.New("draft session not rehydrated")
	ErrInvalidDraft     = errors.New("invalid question draft")
)

// DefaultOptionCount is the number of empty options a new question starts with.
const DefaultOptionCount = 5

type QuestionType string

const (
	TypeText  QuestionType = "text"
	TypeImage QuestionType = "image"
	TypeVideo QuestionType = "video"
)

// checkShape reports the structural problems that would make a stored draft
// unreadable: an unknown type or an empty option list.
func checkShape(q QuestionDraft) error {
	if NormalizeQuestionType(string(q.Type)) == "" {
		return fmt.Errorf("invalid type %q", q.Type)
	}
	if len(q.Options) == 0 {
		return errors.New("no options")
	}
	return nil
}

func NormalizeQuestionType(v string) QuestionType {
	switch QuestionType(strings.TrimSpace(strings.ToLower(v))) {
	case TypeText:
		return TypeText
	case TypeImage:
		return TypeImage
	case TypeVideo:
		return TypeVideo
	default:
		return ""
	}
}

// IsURL reports whether text for this type is a bare URL rather than HTML.
func (t QuestionType) IsURL() bool {
	return t == TypeImage || t == TypeVideo
}

type Option struct {
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

// QuestionDraft is one question being authored. QuestionID is set only for
// questions that already exist on the backend.
type QuestionDraft struct {
	QuestionID  string       `json:"question_id,omitempty"`
	Number      int          `json:"number,omitempty"`
	Type        QuestionType `json:"type"`
	Text        string       `json:"text"`
	Explanation string       `json:"explanation"`
	Options     []Option     `json:"options"`
}

// NewQuestionDraft returns a text question with five empty options.
func NewQuestionDraft() QuestionDraft {
	return QuestionDraft{
		Type:    TypeText,
		Options: make([]Option, DefaultOptionCount),
	}
}

func (q QuestionDraft) clone() QuestionDraft {
	out := q
	if q.Options != nil {
		out.Options = append([]Option(nil), q.Options...)
	}
	return out
}

// OptionList returns a bounds-checked view over a copy of the options.
func (q QuestionDraft) OptionList() *OptionList {
	return NewOptionList(q.Options)
}

// WithOptions returns a copy of q carrying the options of l.
func (q QuestionDraft) WithOptions(l *OptionList) QuestionDraft {
	out := q.clone()
	out.Options = l.Slice()
	return out
}

func cloneQuestions(in []QuestionDraft) []QuestionDraft {
	out := make([]QuestionDraft, len(in))
	for i, q := range in {
		out[i] = q.clone()
	}
	return out
}

// Metadata holds the parent record fields of a flow (title, description,
// segment or test linkage ids).
type Metadata map[string]string

func (m Metadata) clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type State string

const (
	StateEmpty     State = "empty"
	StateDrafting  State = "drafting"
	StateCommitted State = "committed"
)

type Snapshot struct {
	Flow      string          `json:"flow"`
	State     State           `json:"state"`
	Metadata  Metadata        `json:"metadata"`
	Questions []QuestionDraft `json:"questions"`
}

// CommitPayload is the single request body sent to the backend on commit.
type CommitPayload struct {
	Metadata  Metadata
	Questions []QuestionDraft
	By        string
}

func (p CommitPayload) MarshalMap() map[string]any {
	out := make(map[string]any, len(p.Metadata)+2)
	for k, v := range p.Metadata {
		out[k] = v
	}
	out["questions"] = p.Questions
	out["by"] = p.By
	return out
}

// ValidationGateError lists why a commit is not allowed yet.
type ValidationGateError struct {
	MissingFields  []string
	EmptyQuestions bool
}

func (e *ValidationGateError) Error() string {
	parts := make([]string, 0, 2)
	if len(e.MissingFields) > 0 {
		parts = append(parts, "missing metadata: "+strings.Join(e.MissingFields, ", "))
	}
	if e.EmptyQuestions {
		parts = append(parts, "question list is empty")
	}
	return "commit not allowed: " + strings.Join(parts, "; ")
}

// SubmissionError is a rejection reported by the backend.
type SubmissionError struct {
	StatusCode int
	Name       string
	Message    string
}

func (e *SubmissionError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("backend rejected commit (%d %s): %s", e.StatusCode, e.Name, e.Message)
	}
	return fmt.Sprintf("backend rejected commit (%d): %s", e.StatusCode, e.Message)
}

// StorageSchemaError reports a persisted value that could not be decoded.
type StorageSchemaError struct {
	Key     string
	Version int
	Err     error
}

func (e *StorageSchemaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("storage key %q: schema version %d: %v", e.Key, e.Version, e.Err)
	}
	return fmt.Sprintf("storage key %q: unsupported schema version %d", e.Key, e.Version)
}

func (e *StorageSchemaError) Unwrap() error { return ErrStorageSchema }
