package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ruangobat/internal/draft"
)

const IdempotencyHeader = "Idempotency-Key"

type Config struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// Client submits committed drafts to the RuangObat REST API.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("backend base url is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: base,
		token:   strings.TrimSpace(cfg.Token),
		client:  client,
	}, nil
}

type errorEnvelope struct {
	Success    *bool  `json:"success"`
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Error      *struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"error"`
}

type wireQuestion struct {
	QuestionID  string             `json:"question_id,omitempty"`
	Number      int                `json:"number"`
	Type        draft.QuestionType `json:"type"`
	Text        string             `json:"text"`
	Explanation string             `json:"explanation"`
	Options     []draft.Option     `json:"options"`
}

func wireBody(p draft.CommitPayload) map[string]any {
	body := p.MarshalMap()
	questions := make([]wireQuestion, len(p.Questions))
	for i, q := range p.Questions {
		questions[i] = wireQuestion{
			QuestionID:  q.QuestionID,
			Number:      q.Number,
			Type:        q.Type,
			Text:        q.Text,
			Explanation: q.Explanation,
			Options:     q.Options,
		}
	}
	body["questions"] = questions
	return body
}

// Submit implements draft.Submitter.
func (c *Client) Submit(ctx context.Context, flow draft.Flow, payload draft.CommitPayload, idempotencyKey string) error {
	body, err := json.Marshal(wireBody(payload))
	if err != nil {
		return fmt.Errorf("marshal commit payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+flow.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build commit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if idempotencyKey != "" {
		req.Header.Set(IdempotencyHeader, idempotencyKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("backend submit: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read backend response: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return decodeSubmissionError(resp.StatusCode, raw)
}

func decodeSubmissionError(status int, raw []byte) *draft.SubmissionError {
	out := &draft.SubmissionError{StatusCode: status}

	var env errorEnvelope
	if err := json.Unmarshal(raw, &env); err == nil {
		if env.StatusCode != 0 {
			out.StatusCode = env.StatusCode
		}
		if env.Error != nil {
			out.Name = env.Error.Name
			out.Message = env.Error.Message
		}
		if out.Message == "" {
			out.Message = env.Message
		}
	}
	if strings.TrimSpace(out.Message) == "" {
		out.Message = http.StatusText(status)
	}
	return out
}
