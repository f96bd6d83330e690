package question

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"ruangobat/internal/assistant"
	"ruangobat/internal/draft"

	"github.com/xuri/excelize/v2"
)

type fakeSubmitter struct {
	mu    sync.Mutex
	calls []draft.CommitPayload
	keys  []string
	err   error
}

func (f *fakeSubmitter) Submit(ctx context.Context, flow draft.Flow, p draft.CommitPayload, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, p)
	f.keys = append(f.keys, key)
	return f.err
}

type fakeGenerator struct {
	items []draft.QuestionDraft
	err   error
}

func (g fakeGenerator) Generate(ctx context.Context, req assistant.GenerateRequest) ([]draft.QuestionDraft, error) {
	return g.items, g.err
}

// failOnceStore fails the next Save when armed.
type failOnceStore struct {
	*draft.MemoryStore
	armed bool
}

func (s *failOnceStore) Save(ctx context.Context, key string, value []byte) error {
	if s.armed {
		s.armed = false
		return errors.New("disk full")
	}
	return s.MemoryStore.Save(ctx, key, value)
}

func validInput(text string) QuestionInput {
	return QuestionInput{
		Type: "text",
		Text: "<p>" + text + "</p>",
		Options: []OptionInput{
			{Text: "A", IsCorrect: true}, {Text: "B"}, {Text: "C"}, {Text: "D"}, {Text: "E"},
		},
	}
}

func newTestService(store draft.Store, sub draft.Submitter, gen BatchGenerator) *Service {
	return NewService(ServiceConfig{Store: store, Submitter: sub, Generator: gen})
}

func TestSessionsAreIsolatedPerActorAndFlow(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(draft.NewMemoryStore(), nil, nil)

	if _, err := svc.AddQuestion(ctx, "admin-1", "quiz", validInput("q1")); err != nil {
		t.Fatalf("add: %v", err)
	}
	other, err := svc.Snapshot(ctx, "admin-2", "quiz")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(other.Questions) != 0 {
		t.Fatalf("admin-2 should not see admin-1 drafts")
	}
	tryout, err := svc.Snapshot(ctx, "admin-1", "tryout")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(tryout.Questions) != 0 {
		t.Fatalf("tryout should not see quiz drafts")
	}
}

func TestSessionRehydratesFromStore(t *testing.T) {
	ctx := context.Background()
	store := draft.NewMemoryStore()
	first := newTestService(store, nil, nil)
	if _, err := first.AddQuestion(ctx, "admin-1", "quiz", validInput("persisted")); err != nil {
		t.Fatalf("add: %v", err)
	}

	second := newTestService(store, nil, nil)
	snap, err := second.Snapshot(ctx, "admin-1", "Quiz ")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Questions) != 1 || snap.Questions[0].Text != "<p>persisted</p>" {
		t.Fatalf("expected rehydrated draft, got %+v", snap.Questions)
	}
}

func TestUnknownFlowAndMissingActor(t *testing.T) {
	svc := newTestService(draft.NewMemoryStore(), nil, nil)
	if _, err := svc.Snapshot(context.Background(), "admin-1", "exam"); !errors.Is(err, draft.ErrUnknownFlow) {
		t.Fatalf("expected ErrUnknownFlow, got %v", err)
	}
	if _, err := svc.Snapshot(context.Background(), " ", "quiz"); !errors.Is(err, ErrActorRequired) {
		t.Fatalf("expected ErrActorRequired, got %v", err)
	}
}

func TestAddRejectsInvalidInputWithoutTouchingDraft(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(draft.NewMemoryStore(), nil, nil)
	in := validInput("x")
	in.Options[1].IsCorrect = true

	_, err := svc.AddQuestion(ctx, "admin-1", "quiz", in)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	snap, _ := svc.Snapshot(ctx, "admin-1", "quiz")
	if len(snap.Questions) != 0 {
		t.Fatalf("invalid question must not be added")
	}
}

func TestGenerateBatchMergesOnce(t *testing.T) {
	ctx := context.Background()
	batch := []draft.QuestionDraft{draft.NewQuestionDraft(), draft.NewQuestionDraft()}
	batch[0].Text = "g1"
	batch[1].Text = "g2"
	svc := newTestService(draft.NewMemoryStore(), nil, fakeGenerator{items: batch})

	if _, err := svc.AddQuestion(ctx, "admin-1", "quiz", validInput("manual")); err != nil {
		t.Fatalf("add: %v", err)
	}
	res, err := svc.GenerateBatch(ctx, "admin-1", "quiz", assistant.GenerateRequest{Topic: "x"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Merged != 2 || len(res.Snapshot.Questions) != 3 {
		t.Fatalf("unexpected merge result: %+v", res)
	}
	if res.Snapshot.Questions[1].Text != "g1" || res.Snapshot.Questions[2].Text != "g2" {
		t.Fatalf("batch must be appended in order")
	}

	again, err := svc.MergePending(ctx, "admin-1", "quiz")
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if again.Merged != 0 || len(again.Snapshot.Questions) != 3 {
		t.Fatalf("second trigger must be a no-op, got %+v", again)
	}
}

func TestGenerateBatchStaysPendingAfterStoreFailure(t *testing.T) {
	ctx := context.Background()
	store := &failOnceStore{MemoryStore: draft.NewMemoryStore()}
	batch := []draft.QuestionDraft{draft.NewQuestionDraft()}
	batch[0].Text = "g1"
	svc := newTestService(store, nil, fakeGenerator{items: batch})

	if _, err := svc.Snapshot(ctx, "admin-1", "quiz"); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	store.armed = true
	if _, err := svc.GenerateBatch(ctx, "admin-1", "quiz", assistant.GenerateRequest{Topic: "x"}); err == nil {
		t.Fatalf("expected store failure")
	}
	res, err := svc.MergePending(ctx, "admin-1", "quiz")
	if err != nil {
		t.Fatalf("merge pending: %v", err)
	}
	if res.Merged != 1 || len(res.Snapshot.Questions) != 1 {
		t.Fatalf("pending batch should merge on retry, got %+v", res)
	}
}

func TestGenerateBatchWithoutProvider(t *testing.T) {
	svc := newTestService(draft.NewMemoryStore(), nil, nil)
	_, err := svc.GenerateBatch(context.Background(), "admin-1", "quiz", assistant.GenerateRequest{Topic: "x"})
	if !errors.Is(err, assistant.ErrProviderNotConfigured) {
		t.Fatalf("expected ErrProviderNotConfigured, got %v", err)
	}
}

func TestCommitStatusAndCommit(t *testing.T) {
	ctx := context.Background()
	store := draft.NewMemoryStore()
	sub := &fakeSubmitter{}
	svc := newTestService(store, sub, nil)

	st, err := svc.CommitStatus(ctx, "admin-1", "pretest")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.CanCommit || !st.EmptyQuestions || len(st.Missing) != 2 {
		t.Fatalf("unexpected status: %+v", st)
	}

	if _, err := svc.Commit(ctx, "admin-1", "pretest"); err == nil {
		t.Fatalf("expected gate error")
	}
	if len(sub.calls) != 0 {
		t.Fatalf("gate failure must not reach the backend")
	}

	if _, err := svc.ReplaceMetadata(ctx, "admin-1", "pretest", map[string]string{"title": "Pre", "program_id": "prg-1"}); err != nil {
		t.Fatalf("metadata: %v", err)
	}
	for _, text := range []string{"q1", "q2"} {
		if _, err := svc.AddQuestion(ctx, "admin-1", "pretest", validInput(text)); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	st, _ = svc.CommitStatus(ctx, "admin-1", "pretest")
	if !st.CanCommit {
		t.Fatalf("expected commit allowed, got %+v", st)
	}

	res, err := svc.Commit(ctx, "admin-1", "pretest")
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if res.Questions != 2 || res.By != "admin-1" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(sub.calls) != 1 || sub.calls[0].Questions[1].Number != 2 || sub.calls[0].Metadata["program_id"] != "prg-1" {
		t.Fatalf("unexpected payload: %+v", sub.calls)
	}
	if len(store.Keys()) != 0 {
		t.Fatalf("storage should be empty after commit, got %v", store.Keys())
	}

	fresh, err := svc.Snapshot(ctx, "admin-1", "pretest")
	if err != nil {
		t.Fatalf("snapshot after commit: %v", err)
	}
	if fresh.State != draft.StateDrafting || len(fresh.Questions) != 0 || fresh.Metadata["title"] != "" {
		t.Fatalf("expected a fresh session, got %+v", fresh)
	}
}

func TestCommitFailureKeepsDraftAndKey(t *testing.T) {
	ctx := context.Background()
	sub := &fakeSubmitter{err: &draft.SubmissionError{StatusCode: 400, Message: "bad"}}
	svc := newTestService(draft.NewMemoryStore(), sub, nil)
	_, _ = svc.ReplaceMetadata(ctx, "admin-1", "quiz", map[string]string{"title": "Q"})
	_, _ = svc.AddQuestion(ctx, "admin-1", "quiz", validInput("q1"))

	for i := 0; i < 2; i++ {
		_, err := svc.Commit(ctx, "admin-1", "quiz")
		var subErr *draft.SubmissionError
		if !errors.As(err, &subErr) {
			t.Fatalf("expected SubmissionError, got %v", err)
		}
	}
	if len(sub.keys) != 2 || sub.keys[0] == "" || sub.keys[0] != sub.keys[1] {
		t.Fatalf("retries must reuse the idempotency key, got %v", sub.keys)
	}
	snap, _ := svc.Snapshot(ctx, "admin-1", "quiz")
	if len(snap.Questions) != 1 {
		t.Fatalf("draft must survive failed commits")
	}
}

func TestStaleCommitKeepsNewerSession(t *testing.T) {
	ctx := context.Background()
	store := draft.NewMemoryStore()
	sub := &fakeSubmitter{}
	svc := newTestService(store, sub, nil)

	stale, err := svc.session(ctx, "admin-1", "quiz")
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if _, err := svc.ReplaceMetadata(ctx, "admin-1", "quiz", draft.Metadata{"title": "Quiz A"}); err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if _, err := svc.AddQuestion(ctx, "admin-1", "quiz", validInput("q1")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := svc.Commit(ctx, "admin-1", "quiz"); err != nil {
		t.Fatalf("commit: %v", err)
	}

	fresh, err := svc.session(ctx, "admin-1", "quiz")
	if err != nil {
		t.Fatalf("fresh session: %v", err)
	}
	if fresh == stale {
		t.Fatalf("expected a new session after commit")
	}

	// a request still holding the committed session retries
	if _, err := stale.manager.Commit(ctx, "admin-1"); !errors.Is(err, draft.ErrCommitted) {
		t.Fatalf("expected ErrCommitted, got %v", err)
	}
	svc.drop(stale)

	again, err := svc.session(ctx, "admin-1", "quiz")
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if again != fresh {
		t.Fatalf("stale drop removed the newer session")
	}
}

func TestExcelRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(draft.NewMemoryStore(), nil, nil)
	_, _ = svc.AddQuestion(ctx, "admin-1", "quiz", validInput("q1"))
	video := validInput("")
	video.Type = "video"
	video.Text = "https://cdn.example/v.mp4"
	video.Options = video.Options[:2]
	_, _ = svc.AddQuestion(ctx, "admin-1", "quiz", video)

	raw, err := svc.ExportExcel(ctx, "admin-1", "quiz")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	report, err := svc.ImportExcel(ctx, "admin-2", "quiz", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if report.TotalRows != 2 || report.SuccessRows != 2 || report.Merged != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}
	snap, _ := svc.Snapshot(ctx, "admin-2", "quiz")
	if len(snap.Questions) != 2 {
		t.Fatalf("expected 2 imported questions, got %d", len(snap.Questions))
	}
	if snap.Questions[1].Type != draft.TypeVideo || len(snap.Questions[1].Options) != 2 || !snap.Questions[1].Options[0].IsCorrect {
		t.Fatalf("unexpected imported video question: %+v", snap.Questions[1])
	}
}

func TestExcelRoundTripKeepsExtraOptions(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(draft.NewMemoryStore(), nil, nil)
	wide := validInput("tujuh opsi")
	wide.Options[0].IsCorrect = false
	wide.Options = append(wide.Options, OptionInput{Text: "F"}, OptionInput{Text: "G", IsCorrect: true})
	if _, err := svc.AddQuestion(ctx, "admin-1", "quiz", wide); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := svc.AddQuestion(ctx, "admin-1", "quiz", validInput("lima opsi")); err != nil {
		t.Fatalf("add: %v", err)
	}

	raw, err := svc.ExportExcel(ctx, "admin-1", "quiz")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	report, err := svc.ImportExcel(ctx, "admin-2", "quiz", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if report.SuccessRows != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}
	snap, _ := svc.Snapshot(ctx, "admin-2", "quiz")
	got := snap.Questions[0].Options
	if len(got) != 7 || got[6].Text != "G" || !got[6].IsCorrect || got[0].IsCorrect {
		t.Fatalf("options lost in round trip: %+v", got)
	}
	if n := len(snap.Questions[1].Options); n != 5 {
		t.Fatalf("expected 5 options on the narrow question, got %d", n)
	}
}

func TestImportReportsBadRows(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"type", "text", "option_1", "option_2", "correct"},
		{"text", "<p>ok</p>", "A", "B", "2"},
		{"text", "<p>two correct</p>", "A", "B", "1,2"},
		{"image", "not a url", "A", "", "1"},
		{"text", "<p>bad index</p>", "A", "B", "7"},
		{"", "", "", "", ""},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}

	svc := newTestService(draft.NewMemoryStore(), nil, nil)
	report, err := svc.ImportExcel(context.Background(), "admin-1", "tryout", &buf)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if report.TotalRows != 4 || report.SuccessRows != 1 || report.FailedRows != 3 || report.Merged != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	for i, want := range []int{3, 4, 5} {
		if report.Errors[i].Row != want {
			t.Fatalf("error %d: expected row %d, got %d", i, want, report.Errors[i].Row)
		}
	}
}

func TestImportRejectsMissingColumns(t *testing.T) {
	f := excelize.NewFile()
	_ = f.SetCellValue(f.GetSheetName(0), "A1", "text")
	_ = f.SetCellValue(f.GetSheetName(0), "A2", "x")
	var buf bytes.Buffer
	_ = f.Write(&buf)

	svc := newTestService(draft.NewMemoryStore(), nil, nil)
	_, err := svc.ImportExcel(context.Background(), "admin-1", "quiz", &buf)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
