package app

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"ruangobat/internal/auth"
)

func TestIPRateLimiterAllow(t *testing.T) {
	l := NewIPRateLimiter(2, 0)
	if !l.Allow("k") || !l.Allow("k") {
		t.Fatalf("first two requests should pass")
	}
	if l.Allow("k") {
		t.Fatalf("third request should be blocked")
	}
}

func TestCSRFMiddlewareEnforced(t *testing.T) {
	mw := CSRFMiddleware(true)
	next := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/drafts/quiz/commit", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "abc"})
	req.Header.Set(csrfHeaderName, "abc")
	w := httptest.NewRecorder()
	next.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestCSRFMiddlewareRejectsMissingToken(t *testing.T) {
	mw := CSRFMiddleware(true)
	next := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/drafts/quiz/commit", nil)
	w := httptest.NewRecorder()
	next.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestRateLimitKeysByActor(t *testing.T) {
	mw := RateLimitMiddleware(NewIPRateLimiter(1, 0))
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(actor string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/drafts/quiz/ai/generate", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		req = req.WithContext(auth.ContextWithUser(req.Context(), &auth.User{ID: actor, Role: "admin"}))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	if code := send("admin-1"); code != http.StatusOK {
		t.Fatalf("first request should pass, got %d", code)
	}
	if code := send("admin-1"); code != http.StatusTooManyRequests {
		t.Fatalf("second request from same actor should be limited, got %d", code)
	}
	if code := send("admin-2"); code != http.StatusOK {
		t.Fatalf("other actor behind the same IP should pass, got %d", code)
	}
}
