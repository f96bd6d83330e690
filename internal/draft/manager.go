package draft

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Submitter sends the finished draft set to the backend in one request.
type Submitter interface {
	Submit(ctx context.Context, flow Flow, payload CommitPayload, idempotencyKey string) error
}

type SubmitterFunc func(ctx context.Context, flow Flow, payload CommitPayload, idempotencyKey string) error

func (f SubmitterFunc) Submit(ctx context.Context, flow Flow, payload CommitPayload, idempotencyKey string) error {
	return f(ctx, flow, payload, idempotencyKey)
}

// Manager owns the draft question set of one authoring session and mirrors
// every mutation to its Store. It is safe for concurrent use; mutations are
// rejected while a commit is in flight.
type Manager struct {
	flow      Flow
	store     Store
	namespace string
	logger    *zap.Logger
	notifier  Notifier
	submitter Submitter
	newKey    KeyGenerator

	mu         sync.Mutex
	state      State
	metadata   Metadata
	questions  []QuestionDraft
	committing bool
}

type ManagerOption func(*Manager)

// WithNamespace prefixes every storage key, scoping the draft to one owner.
func WithNamespace(ns string) ManagerOption {
	return func(m *Manager) { m.namespace = strings.TrimSpace(ns) }
}

func WithLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithNotifier(n Notifier) ManagerOption {
	return func(m *Manager) { m.notifier = n }
}

func WithSubmitter(s Submitter) ManagerOption {
	return func(m *Manager) { m.submitter = s }
}

func WithKeyGenerator(g KeyGenerator) ManagerOption {
	return func(m *Manager) {
		if g != nil {
			m.newKey = g
		}
	}
}

func NewManager(flow Flow, store Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		flow:     flow,
		store:    store,
		logger:   zap.NewNop(),
		newKey:   NewIdempotencyKey,
		state:    StateEmpty,
		metadata: flow.DefaultMetadata(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("flow", flow.Name), zap.String("namespace", m.namespace))
	return m
}

func (m *Manager) Flow() Flow { return m.flow }

func (m *Manager) key(k string) string {
	if m.namespace == "" {
		return k
	}
	return m.namespace + ":" + k
}

func (m *Manager) notify(e Event) {
	if m.notifier == nil {
		return
	}
	e.Flow = m.flow.Name
	if e.Message == "" {
		e.Message = messages[e.Kind]
	}
	m.notifier.Notify(e)
}

func (m *Manager) snapshotLocked() Snapshot {
	return Snapshot{
		Flow:      m.flow.Name,
		State:     m.state,
		Metadata:  m.metadata.clone(),
		Questions: cloneQuestions(m.questions),
	}
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Rehydrate loads the persisted draft. Absent entries give an empty set and
// default metadata; entries with an incompatible schema are discarded.
func (m *Manager) Rehydrate(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateCommitted:
		return Snapshot{}, ErrCommitted
	case StateDrafting:
		return m.snapshotLocked(), nil
	}

	md, questions, err := m.load(ctx)
	var schemaErr *StorageSchemaError
	switch {
	case errors.As(err, &schemaErr):
		m.logger.Warn("discarding incompatible draft", zap.String("key", schemaErr.Key), zap.Error(err))
		if err := m.clearAll(ctx); err != nil {
			return Snapshot{}, err
		}
		md, questions = m.flow.DefaultMetadata(), nil
		m.notify(Event{Kind: EventSchemaReset, Err: err})
	case err != nil:
		return Snapshot{}, err
	}

	m.metadata = md
	m.questions = questions
	m.state = StateDrafting
	m.logger.Debug("draft rehydrated", zap.Int("questions", len(questions)))
	return m.snapshotLocked(), nil
}

func (m *Manager) load(ctx context.Context) (Metadata, []QuestionDraft, error) {
	md := m.flow.DefaultMetadata()

	mdKey := m.key(m.flow.MetadataKey)
	raw, ok, err := m.store.Load(ctx, mdKey)
	if err != nil {
		return nil, nil, fmt.Errorf("load metadata: %w", err)
	}
	if ok {
		stored, err := decodeMetadata(mdKey, raw)
		if err != nil {
			return nil, nil, err
		}
		for k, v := range stored {
			if m.flow.HasField(k) {
				md[k] = v
			}
		}
	}

	qKey := m.key(m.flow.QuestionsKey)
	raw, ok, err = m.store.Load(ctx, qKey)
	if err != nil {
		return nil, nil, fmt.Errorf("load questions: %w", err)
	}
	var questions []QuestionDraft
	if ok {
		questions, err = decodeQuestions(qKey, raw)
		if err != nil {
			return nil, nil, err
		}
	}
	return md, questions, nil
}

func (m *Manager) clearAll(ctx context.Context) error {
	for _, k := range []string{m.flow.MetadataKey, m.flow.QuestionsKey, m.flow.IdempotencyKey()} {
		if err := m.store.Clear(ctx, m.key(k)); err != nil {
			return fmt.Errorf("clear %s: %w", k, err)
		}
	}
	return nil
}

func (m *Manager) writable() error {
	switch {
	case m.state == StateCommitted:
		return ErrCommitted
	case m.state == StateEmpty:
		return ErrNotRehydrated
	case m.committing:
		return ErrCommitInProgress
	}
	return nil
}

func (m *Manager) saveQuestions(ctx context.Context, items []QuestionDraft) error {
	if items == nil {
		items = []QuestionDraft{}
	}
	b, err := encodeValue(items)
	if err != nil {
		return err
	}
	if err := m.store.Save(ctx, m.key(m.flow.QuestionsKey), b); err != nil {
		return fmt.Errorf("save questions: %w", err)
	}
	m.touch(ctx)
	return nil
}

func (m *Manager) saveMetadata(ctx context.Context, md Metadata) error {
	b, err := encodeValue(md)
	if err != nil {
		return err
	}
	if err := m.store.Save(ctx, m.key(m.flow.MetadataKey), b); err != nil {
		return fmt.Errorf("save metadata: %w", err)
	}
	m.touch(ctx)
	return nil
}

// touch keeps every key of the draft on one expiry, so metadata written once
// does not lapse while the question set keeps being edited.
func (m *Manager) touch(ctx context.Context) {
	t, ok := m.store.(Toucher)
	if !ok {
		return
	}
	keys := []string{m.key(m.flow.MetadataKey), m.key(m.flow.QuestionsKey), m.key(m.flow.IdempotencyKey())}
	if err := t.Touch(ctx, keys...); err != nil {
		m.logger.Warn("refresh draft expiry failed", zap.Error(err))
	}
}

// replaceQuestions persists next and only then adopts it, so memory never
// runs ahead of storage.
func (m *Manager) replaceQuestions(ctx context.Context, next []QuestionDraft) error {
	if err := m.saveQuestions(ctx, next); err != nil {
		return err
	}
	m.questions = next
	return nil
}

func stripNumber(q QuestionDraft) QuestionDraft {
	out := q.clone()
	out.Number = 0
	return out
}

func (m *Manager) checkIndex(op string, index int) error {
	if index < 0 || index >= len(m.questions) {
		err := fmt.Errorf("%w: %s question %d of %d", ErrIndexOutOfRange, op, index, len(m.questions))
		m.logger.Info("ignoring stale question index", zap.String("op", op), zap.Int("index", index), zap.Int("len", len(m.questions)))
		return err
	}
	return nil
}

func validDraft(op string, index int, q QuestionDraft) error {
	if err := checkShape(q); err != nil {
		return fmt.Errorf("%w: %s question %d: %v", ErrInvalidDraft, op, index, err)
	}
	return nil
}

func (m *Manager) Add(ctx context.Context, q QuestionDraft) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writable(); err != nil {
		return err
	}
	if err := validDraft("add", len(m.questions), q); err != nil {
		return err
	}

	next := append(cloneQuestions(m.questions), stripNumber(q))
	if err := m.replaceQuestions(ctx, next); err != nil {
		return err
	}
	m.notify(Event{Kind: EventAdded, Index: len(next) - 1, Count: len(next)})
	return nil
}

func (m *Manager) Edit(ctx context.Context, q QuestionDraft, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writable(); err != nil {
		return err
	}
	if err := m.checkIndex("edit", index); err != nil {
		return err
	}
	if err := validDraft("edit", index, q); err != nil {
		return err
	}

	next := cloneQuestions(m.questions)
	next[index] = stripNumber(q)
	if err := m.replaceQuestions(ctx, next); err != nil {
		return err
	}
	m.notify(Event{Kind: EventEdited, Index: index, Count: len(next)})
	return nil
}

func (m *Manager) Remove(ctx context.Context, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writable(); err != nil {
		return err
	}
	if err := m.checkIndex("remove", index); err != nil {
		return err
	}

	next := make([]QuestionDraft, 0, len(m.questions)-1)
	for i, q := range m.questions {
		if i != index {
			next = append(next, q.clone())
		}
	}
	if err := m.replaceQuestions(ctx, next); err != nil {
		return err
	}
	m.notify(Event{Kind: EventRemoved, Index: index, Count: len(next)})
	return nil
}

// MergeBatch appends every draft of batch in one write.
func (m *Manager) MergeBatch(ctx context.Context, batch []QuestionDraft) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mergeLocked(ctx, batch)
}

func (m *Manager) mergeLocked(ctx context.Context, batch []QuestionDraft) error {
	if err := m.writable(); err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}
	for i, q := range batch {
		if err := validDraft("merge", len(m.questions)+i, q); err != nil {
			return err
		}
	}

	next := cloneQuestions(m.questions)
	for _, q := range batch {
		next = append(next, stripNumber(q))
	}
	if err := m.replaceQuestions(ctx, next); err != nil {
		return err
	}
	m.notify(Event{Kind: EventBatchMerged, Index: len(m.questions) - len(batch), Count: len(batch)})
	return nil
}

// ConsumeBatch drains holder and merges what it held. It returns the number of
// drafts appended; zero when the holder was already empty.
func (m *Manager) ConsumeBatch(ctx context.Context, holder *BatchHolder) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writable(); err != nil {
		return 0, err
	}

	batch := holder.Take()
	if len(batch) == 0 {
		return 0, nil
	}
	if err := m.mergeLocked(ctx, batch); err != nil {
		// Put it back so the arrival is not lost on a storage failure.
		if !errors.Is(err, ErrInvalidDraft) {
			holder.Put(batch)
		}
		return 0, err
	}
	return len(batch), nil
}

func (m *Manager) SetMetadata(ctx context.Context, field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writable(); err != nil {
		return err
	}
	if !m.flow.HasField(field) {
		return fmt.Errorf("%w: %s", ErrUnknownField, field)
	}

	next := m.metadata.clone()
	next[field] = value
	if err := m.saveMetadata(ctx, next); err != nil {
		return err
	}
	m.metadata = next
	m.notify(Event{Kind: EventMetadata})
	return nil
}

// ReplaceMetadata overwrites all metadata; fields missing from md reset to "".
func (m *Manager) ReplaceMetadata(ctx context.Context, md Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writable(); err != nil {
		return err
	}

	next := m.flow.DefaultMetadata()
	for k, v := range md {
		if !m.flow.HasField(k) {
			return fmt.Errorf("%w: %s", ErrUnknownField, k)
		}
		next[k] = v
	}
	if err := m.saveMetadata(ctx, next); err != nil {
		return err
	}
	m.metadata = next
	m.notify(Event{Kind: EventMetadata})
	return nil
}

func (m *Manager) gateLocked() error {
	var missing []string
	for _, f := range m.flow.RequiredFields {
		if strings.TrimSpace(m.metadata[f]) == "" {
			missing = append(missing, f)
		}
	}
	if len(missing) == 0 && len(m.questions) > 0 {
		return nil
	}
	return &ValidationGateError{MissingFields: missing, EmptyQuestions: len(m.questions) == 0}
}

// CanCommit reports whether the commit preconditions hold.
func (m *Manager) CanCommit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writable(); err != nil {
		return err
	}
	return m.gateLocked()
}

func (m *Manager) buildPayload(by string) CommitPayload {
	questions := cloneQuestions(m.questions)
	for i := range questions {
		questions[i].Number = i + 1
	}
	return CommitPayload{
		Metadata:  m.metadata.clone(),
		Questions: questions,
		By:        by,
	}
}

// Commit submits metadata and the renumbered question set as one request.
// On success the stored draft is removed and the session ends; on failure
// storage and memory are left as they were so the admin can retry.
func (m *Manager) Commit(ctx context.Context, by string) (CommitPayload, error) {
	m.mu.Lock()
	if err := m.writable(); err != nil {
		m.mu.Unlock()
		return CommitPayload{}, err
	}
	if err := m.gateLocked(); err != nil {
		m.mu.Unlock()
		return CommitPayload{}, err
	}
	if m.submitter == nil {
		m.mu.Unlock()
		return CommitPayload{}, errors.New("draft manager has no submitter")
	}
	key, err := m.idempotencyKey(ctx)
	if err != nil {
		m.mu.Unlock()
		return CommitPayload{}, err
	}
	payload := m.buildPayload(by)
	m.committing = true
	m.mu.Unlock()

	err = m.submitter.Submit(ctx, m.flow, payload, key)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.committing = false
	if err != nil {
		m.logger.Warn("commit failed", zap.Int("questions", len(payload.Questions)), zap.Error(err))
		m.notify(Event{Kind: EventCommitFailed, Count: len(payload.Questions), Err: err})
		return payload, err
	}

	m.state = StateCommitted
	// The backend has accepted the set; cleanup must not depend on the caller
	// still waiting.
	if cerr := m.clearAll(context.WithoutCancel(ctx)); cerr != nil {
		// The backend already has the data; a leftover draft is only stale.
		m.logger.Error("commit succeeded but draft cleanup failed", zap.Error(cerr))
	}
	m.metadata = m.flow.DefaultMetadata()
	m.questions = nil
	m.logger.Info("draft committed", zap.Int("questions", len(payload.Questions)), zap.String("by", by))
	m.notify(Event{Kind: EventCommitted, Count: len(payload.Questions)})
	return payload, nil
}
