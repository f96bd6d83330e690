package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"ruangobat/internal/app/apiresp"
	"ruangobat/internal/draft"
)

type questionGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) ([]draft.QuestionDraft, error)
}

// Handler serves a preview endpoint: generated questions are returned to the
// caller and never touch a draft session.
type Handler struct {
	svc questionGenerator
}

func NewHandler(svc questionGenerator) *Handler {
	return &Handler{svc: svc}
}

type GenerateBody struct {
	Topic    string `json:"topic"`
	Count    int    `json:"count"`
	Type     string `json:"type"`
	Language string `json:"language"`
}

func (b GenerateBody) Request() GenerateRequest {
	return GenerateRequest{
		Topic:    b.Topic,
		Count:    b.Count,
		Type:     draft.QuestionType(b.Type),
		Language: b.Language,
	}
}

// StatusFor maps generation errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrTopicRequired), errors.Is(err, ErrTopicTooLong), errors.Is(err, ErrInvalidType):
		return http.StatusBadRequest
	case errors.Is(err, ErrProviderNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	var body GenerateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "payload tidak valid")
		return
	}

	items, err := h.svc.Generate(r.Context(), body.Request())
	if err != nil {
		apiresp.WriteError(w, r, StatusFor(err), err.Error())
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]any{
		"questions": items,
		"count":     len(items),
	})
}
