package question

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"ruangobat/internal/app/apiresp"
	"ruangobat/internal/assistant"
	"ruangobat/internal/auth"
	"ruangobat/internal/draft"

	"github.com/go-chi/chi/v5"
)

const (
	maxImportBytes = 5 << 20
	xlsxMIME       = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

type draftService interface {
	Snapshot(ctx context.Context, actor, flow string) (draft.Snapshot, error)
	ReplaceMetadata(ctx context.Context, actor, flow string, md map[string]string) (draft.Snapshot, error)
	AddQuestion(ctx context.Context, actor, flow string, in QuestionInput) (draft.Snapshot, error)
	EditQuestion(ctx context.Context, actor, flow string, index int, in QuestionInput) (draft.Snapshot, error)
	RemoveQuestion(ctx context.Context, actor, flow string, index int) (draft.Snapshot, error)
	GenerateBatch(ctx context.Context, actor, flow string, req assistant.GenerateRequest) (MergeResult, error)
	MergePending(ctx context.Context, actor, flow string) (MergeResult, error)
	ImportExcel(ctx context.Context, actor, flow string, r io.Reader) (*ImportReport, error)
	ExportExcel(ctx context.Context, actor, flow string) ([]byte, error)
	CommitStatus(ctx context.Context, actor, flow string) (CommitStatus, error)
	Commit(ctx context.Context, actor, flow string) (CommitResult, error)
}

type Handler struct {
	svc draftService
}

func NewHandler(svc draftService) *Handler {
	return &Handler{svc: svc}
}

// Routes mounts the draft endpoints under /drafts/{flow}. Middlewares in
// generateMW wrap only the AI generation route.
func (h *Handler) Routes(r chi.Router, generateMW ...func(http.Handler) http.Handler) {
	r.Route("/drafts/{flow}", func(d chi.Router) {
		d.Get("/", h.Get)
		d.Put("/metadata", h.PutMetadata)
		d.Post("/questions", h.AddQuestion)
		d.Put("/questions/{index}", h.EditQuestion)
		d.Delete("/questions/{index}", h.RemoveQuestion)
		d.With(generateMW...).Post("/ai/generate", h.Generate)
		d.Post("/ai/merge", h.Merge)
		d.Post("/import", h.Import)
		d.Get("/export", h.Export)
		d.Get("/commit", h.CommitStatus)
		d.Post("/commit", h.Commit)
	})
}

func actorAndFlow(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return "", "", false
	}
	return user.ID, chi.URLParam(r, "flow"), true
}

func parseIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	idx, err := strconv.Atoi(strings.TrimSpace(chi.URLParam(r, "index")))
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "index tidak valid")
		return 0, false
	}
	return idx, true
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	actor, flow, ok := actorAndFlow(w, r)
	if !ok {
		return
	}
	snap, err := h.svc.Snapshot(r.Context(), actor, flow)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, snap)
}

func (h *Handler) PutMetadata(w http.ResponseWriter, r *http.Request) {
	actor, flow, ok := actorAndFlow(w, r)
	if !ok {
		return
	}
	var md map[string]string
	if err := json.NewDecoder(r.Body).Decode(&md); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	snap, err := h.svc.ReplaceMetadata(r.Context(), actor, flow, md)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, snap)
}

func (h *Handler) AddQuestion(w http.ResponseWriter, r *http.Request) {
	actor, flow, ok := actorAndFlow(w, r)
	if !ok {
		return
	}
	var in QuestionInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	snap, err := h.svc.AddQuestion(r.Context(), actor, flow, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, snap)
}

func (h *Handler) EditQuestion(w http.ResponseWriter, r *http.Request) {
	actor, flow, ok := actorAndFlow(w, r)
	if !ok {
		return
	}
	idx, ok := parseIndex(w, r)
	if !ok {
		return
	}
	var in QuestionInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	snap, err := h.svc.EditQuestion(r.Context(), actor, flow, idx, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, snap)
}

func (h *Handler) RemoveQuestion(w http.ResponseWriter, r *http.Request) {
	actor, flow, ok := actorAndFlow(w, r)
	if !ok {
		return
	}
	idx, ok := parseIndex(w, r)
	if !ok {
		return
	}
	snap, err := h.svc.RemoveQuestion(r.Context(), actor, flow, idx)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, snap)
}

func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	actor, flow, ok := actorAndFlow(w, r)
	if !ok {
		return
	}
	var body assistant.GenerateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := h.svc.GenerateBatch(r.Context(), actor, flow, body.Request())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, res)
}

func (h *Handler) Merge(w http.ResponseWriter, r *http.Request) {
	actor, flow, ok := actorAndFlow(w, r)
	if !ok {
		return
	}
	res, err := h.svc.MergePending(r.Context(), actor, flow)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, res)
}

func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	actor, flow, ok := actorAndFlow(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)
	if err := r.ParseMultipartForm(maxImportBytes); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "file excel tidak valid")
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "field file wajib diisi")
		return
	}
	defer file.Close()

	report, err := h.svc.ImportExcel(r.Context(), actor, flow, file)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, report)
}

func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	actor, flow, ok := actorAndFlow(w, r)
	if !ok {
		return
	}
	raw, err := h.svc.ExportExcel(r.Context(), actor, flow)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	name := strings.ToLower(strings.TrimSpace(flow))
	w.Header().Set("Content-Type", xlsxMIME)
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`-draft.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (h *Handler) CommitStatus(w http.ResponseWriter, r *http.Request) {
	actor, flow, ok := actorAndFlow(w, r)
	if !ok {
		return
	}
	st, err := h.svc.CommitStatus(r.Context(), actor, flow)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, st)
}

func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	actor, flow, ok := actorAndFlow(w, r)
	if !ok {
		return
	}
	res, err := h.svc.Commit(r.Context(), actor, flow)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, res)
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr   *ValidationError
		gate   *draft.ValidationGateError
		subErr *draft.SubmissionError
	)
	switch {
	case errors.As(err, &verr):
		apiresp.WriteErrorDetails(w, r, http.StatusBadRequest, "data soal tidak valid", verr.Problems)
	case errors.As(err, &gate):
		missing := gate.MissingFields
		if missing == nil {
			missing = []string{}
		}
		apiresp.WriteErrorDetails(w, r, http.StatusUnprocessableEntity, gate.Error(), map[string]any{
			"missing":         missing,
			"empty_questions": gate.EmptyQuestions,
		})
	case errors.As(err, &subErr):
		status := subErr.StatusCode
		if status < 400 || status >= 500 {
			status = http.StatusBadGateway
		}
		apiresp.WriteErrorDetails(w, r, status, subErr.Message, map[string]any{
			"name":        subErr.Name,
			"status_code": subErr.StatusCode,
		})
	case errors.Is(err, ErrInvalidInput), errors.Is(err, draft.ErrUnknownField), errors.Is(err, draft.ErrInvalidDraft), errors.Is(err, ErrActorRequired):
		apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, draft.ErrUnknownFlow):
		apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, draft.ErrIndexOutOfRange), errors.Is(err, draft.ErrCommitInProgress):
		apiresp.WriteError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, draft.ErrCommitted):
		apiresp.WriteError(w, r, http.StatusGone, err.Error())
	case errors.Is(err, assistant.ErrTopicRequired), errors.Is(err, assistant.ErrTopicTooLong),
		errors.Is(err, assistant.ErrInvalidType), errors.Is(err, assistant.ErrProviderNotConfigured),
		errors.Is(err, assistant.ErrEmptyGeneration):
		apiresp.WriteError(w, r, assistant.StatusFor(err), err.Error())
	default:
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
	}
}
