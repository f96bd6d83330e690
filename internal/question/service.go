package question

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"ruangobat/internal/assistant"
	"ruangobat/internal/draft"

	"go.uber.org/zap"
)

var ErrActorRequired = errors.New("actor is required")

// BatchGenerator produces AI question batches.
type BatchGenerator interface {
	Generate(ctx context.Context, req assistant.GenerateRequest) ([]draft.QuestionDraft, error)
}

type ServiceConfig struct {
	Flows     *draft.Flows
	Store     draft.Store
	Submitter draft.Submitter
	Generator BatchGenerator
	Notifier  draft.Notifier
	Logger    *zap.Logger
}

type sessionKey struct {
	actor string
	flow  string
}

type session struct {
	key     sessionKey
	mu      sync.Mutex
	manager *draft.Manager
	batch   draft.BatchHolder
	ready   bool
}

// Service owns one draft manager per (actor, flow) pair.
type Service struct {
	flows     *draft.Flows
	store     draft.Store
	submitter draft.Submitter
	generator BatchGenerator
	notifier  draft.Notifier
	logger    *zap.Logger
	validator *Validator

	mu       sync.Mutex
	sessions map[sessionKey]*session
}

func NewService(cfg ServiceConfig) *Service {
	flows := cfg.Flows
	if flows == nil {
		flows = draft.DefaultFlows()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		flows:     flows,
		store:     cfg.Store,
		submitter: cfg.Submitter,
		generator: cfg.Generator,
		notifier:  cfg.Notifier,
		logger:    logger,
		validator: NewValidator(),
		sessions:  make(map[sessionKey]*session),
	}
}

func (s *Service) Flows() []string { return s.flows.Names() }

func (s *Service) session(ctx context.Context, actor, flowName string) (*session, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return nil, ErrActorRequired
	}
	flow, err := s.flows.Lookup(flowName)
	if err != nil {
		return nil, err
	}
	key := sessionKey{actor: actor, flow: flow.Name}

	s.mu.Lock()
	sess, ok := s.sessions[key]
	if !ok {
		opts := []draft.ManagerOption{
			draft.WithNamespace(actor),
			draft.WithLogger(s.logger.With(zap.String("actor", actor))),
		}
		if s.notifier != nil {
			opts = append(opts, draft.WithNotifier(s.notifier))
		}
		if s.submitter != nil {
			opts = append(opts, draft.WithSubmitter(s.submitter))
		}
		sess = &session{key: key, manager: draft.NewManager(flow, s.store, opts...)}
		s.sessions[key] = sess
	}
	s.mu.Unlock()

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !sess.ready {
		if _, err := sess.manager.Rehydrate(ctx); err != nil {
			return nil, fmt.Errorf("rehydrate %s draft: %w", flow.Name, err)
		}
		sess.ready = true
	}
	return sess, nil
}

// drop forgets sess. A newer session already registered under the same key
// is left in place.
func (s *Service) drop(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[sess.key] == sess {
		delete(s.sessions, sess.key)
	}
}

func (s *Service) Snapshot(ctx context.Context, actor, flow string) (draft.Snapshot, error) {
	sess, err := s.session(ctx, actor, flow)
	if err != nil {
		return draft.Snapshot{}, err
	}
	return sess.manager.Snapshot(), nil
}

func (s *Service) ReplaceMetadata(ctx context.Context, actor, flow string, md map[string]string) (draft.Snapshot, error) {
	sess, err := s.session(ctx, actor, flow)
	if err != nil {
		return draft.Snapshot{}, err
	}
	if err := sess.manager.ReplaceMetadata(ctx, draft.Metadata(md)); err != nil {
		return draft.Snapshot{}, err
	}
	return sess.manager.Snapshot(), nil
}

func (s *Service) AddQuestion(ctx context.Context, actor, flow string, in QuestionInput) (draft.Snapshot, error) {
	sess, err := s.session(ctx, actor, flow)
	if err != nil {
		return draft.Snapshot{}, err
	}
	q, err := s.validator.Question(sess.manager.Flow(), in)
	if err != nil {
		return draft.Snapshot{}, err
	}
	if err := sess.manager.Add(ctx, q); err != nil {
		return draft.Snapshot{}, err
	}
	return sess.manager.Snapshot(), nil
}

func (s *Service) EditQuestion(ctx context.Context, actor, flow string, index int, in QuestionInput) (draft.Snapshot, error) {
	sess, err := s.session(ctx, actor, flow)
	if err != nil {
		return draft.Snapshot{}, err
	}
	q, err := s.validator.Question(sess.manager.Flow(), in)
	if err != nil {
		return draft.Snapshot{}, err
	}
	if err := sess.manager.Edit(ctx, q, index); err != nil {
		return draft.Snapshot{}, err
	}
	return sess.manager.Snapshot(), nil
}

func (s *Service) RemoveQuestion(ctx context.Context, actor, flow string, index int) (draft.Snapshot, error) {
	sess, err := s.session(ctx, actor, flow)
	if err != nil {
		return draft.Snapshot{}, err
	}
	if err := sess.manager.Remove(ctx, index); err != nil {
		return draft.Snapshot{}, err
	}
	return sess.manager.Snapshot(), nil
}

type MergeResult struct {
	Merged   int            `json:"merged"`
	Snapshot draft.Snapshot `json:"draft"`
}

// GenerateBatch asks the assistant for a batch, parks it in the session's
// holder and merges it. A batch whose merge fails stays pending for MergePending.
func (s *Service) GenerateBatch(ctx context.Context, actor, flow string, req assistant.GenerateRequest) (MergeResult, error) {
	if s.generator == nil {
		return MergeResult{}, assistant.ErrProviderNotConfigured
	}
	sess, err := s.session(ctx, actor, flow)
	if err != nil {
		return MergeResult{}, err
	}
	items, err := s.generator.Generate(ctx, req)
	if err != nil {
		return MergeResult{}, err
	}
	sess.batch.Put(items)
	return s.consume(ctx, sess)
}

// MergePending merges a batch left pending by an earlier failed merge. It is
// a no-op when nothing is pending.
func (s *Service) MergePending(ctx context.Context, actor, flow string) (MergeResult, error) {
	sess, err := s.session(ctx, actor, flow)
	if err != nil {
		return MergeResult{}, err
	}
	return s.consume(ctx, sess)
}

func (s *Service) consume(ctx context.Context, sess *session) (MergeResult, error) {
	n, err := sess.manager.ConsumeBatch(ctx, &sess.batch)
	if err != nil {
		return MergeResult{}, err
	}
	return MergeResult{Merged: n, Snapshot: sess.manager.Snapshot()}, nil
}

func (s *Service) ImportExcel(ctx context.Context, actor, flow string, r io.Reader) (*ImportReport, error) {
	sess, err := s.session(ctx, actor, flow)
	if err != nil {
		return nil, err
	}
	items, report, err := parseQuestionsExcel(r, sess.manager.Flow(), s.validator)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return report, nil
	}
	sess.batch.Put(items)
	res, err := s.consume(ctx, sess)
	if err != nil {
		return nil, err
	}
	report.Merged = res.Merged
	return report, nil
}

func (s *Service) ExportExcel(ctx context.Context, actor, flow string) ([]byte, error) {
	sess, err := s.session(ctx, actor, flow)
	if err != nil {
		return nil, err
	}
	return exportQuestionsExcel(sess.manager.Snapshot().Questions)
}

type CommitStatus struct {
	CanCommit      bool     `json:"can_commit"`
	Missing        []string `json:"missing"`
	EmptyQuestions bool     `json:"empty_questions"`
}

func (s *Service) CommitStatus(ctx context.Context, actor, flow string) (CommitStatus, error) {
	sess, err := s.session(ctx, actor, flow)
	if err != nil {
		return CommitStatus{}, err
	}
	err = sess.manager.CanCommit()
	if err == nil {
		return CommitStatus{CanCommit: true, Missing: []string{}}, nil
	}
	var gate *draft.ValidationGateError
	if errors.As(err, &gate) {
		missing := gate.MissingFields
		if missing == nil {
			missing = []string{}
		}
		return CommitStatus{Missing: missing, EmptyQuestions: gate.EmptyQuestions}, nil
	}
	return CommitStatus{}, err
}

type CommitResult struct {
	Flow      string `json:"flow"`
	Questions int    `json:"questions"`
	By        string `json:"by"`
}

// Commit submits the draft. After success the session is dropped so the next
// request for the same flow starts a fresh draft.
func (s *Service) Commit(ctx context.Context, actor, flow string) (CommitResult, error) {
	sess, err := s.session(ctx, actor, flow)
	if err != nil {
		return CommitResult{}, err
	}
	payload, err := sess.manager.Commit(ctx, actor)
	if errors.Is(err, draft.ErrCommitted) {
		s.drop(sess)
	}
	if err != nil {
		return CommitResult{}, err
	}
	s.drop(sess)
	return CommitResult{Flow: sess.manager.Flow().Name, Questions: len(payload.Questions), By: payload.By}, nil
}
