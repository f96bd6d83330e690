package observability

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ruangobat/internal/draft"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	return string(body)
}

func TestNormalizedPath(t *testing.T) {
	got := normalizedPath("/api/v1/drafts/quiz/questions/3")
	want := "/api/v1/drafts/quiz/questions/{index}"
	if got != want {
		t.Fatalf("normalizedPath mismatch got=%s want=%s", got, want)
	}
}

func TestMiddlewareRecordsRoutePattern(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	c := NewCollector(nil, zap.New(core))

	r := chi.NewRouter()
	r.Use(c.Middleware)
	r.Delete("/drafts/{flow}/questions/{index}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	for i := 0; i < 2; i++ {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/drafts/quiz/questions/9", nil))
	}

	want := `ruangobat_http_requests_total{method="DELETE",route="/drafts/{flow}/questions/{index}",status="409"} 2`
	if out := scrape(t, c); !strings.Contains(out, want) {
		t.Fatalf("metrics output missing %q:\n%s", want, out)
	}
	entries := logs.FilterMessage("http request").All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 access log lines, got %d", len(entries))
	}
	if entries[0].ContextMap()["flow"] != "quiz" {
		t.Fatalf("expected flow field, got %v", entries[0].ContextMap())
	}
}

func TestDraftNotifierCountsEvents(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	c := NewCollector(nil, zap.New(core))
	n := c.DraftNotifier()

	n.Notify(draft.Event{Kind: draft.EventAdded, Flow: "quiz", Index: 0})
	n.Notify(draft.Event{Kind: draft.EventCommitted, Flow: "quiz", Count: 12})
	n.Notify(draft.Event{Kind: draft.EventCommitFailed, Flow: "quiz", Err: errors.New("bad gateway")})

	out := scrape(t, c)
	for _, want := range []string{
		`ruangobat_draft_events_total{flow="quiz",kind="added"} 1`,
		`ruangobat_draft_events_total{flow="quiz",kind="commit_failed"} 1`,
		`ruangobat_draft_commit_questions_sum 12`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
	if warn := logs.FilterLevelExact(zap.WarnLevel).Len(); warn != 1 {
		t.Fatalf("expected 1 warning for the failed commit, got %d", warn)
	}
}

func TestMetricsHandlerExposesRegistry(t *testing.T) {
	c := NewCollector(nil, nil)
	c.DraftNotifier().Notify(draft.Event{Kind: draft.EventRemoved, Flow: "tryout"})

	out := scrape(t, c)
	if !strings.Contains(out, `ruangobat_draft_events_total{flow="tryout",kind="removed"} 1`) {
		t.Fatalf("metrics output missing draft event:\n%s", out)
	}
	if !strings.Contains(out, "go_goroutines") {
		t.Fatalf("metrics output missing runtime collector")
	}
}
