package abuse

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLimiterFixedWindow(t *testing.T) {
	store := NewMemoryCounterStore()
	base := time.Now()
	store.now = func() time.Time { return base }

	l := NewLimiter(store, 3, time.Minute, testLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if !l.Allow(ctx, "/login", "1.2.3.4") {
			t.Fatalf("request %d inside budget denied", i+1)
		}
	}
	if l.Allow(ctx, "/login", "1.2.3.4") {
		t.Fatal("4th request inside window allowed")
	}

	// Different key has its own budget.
	if !l.Allow(ctx, "/login", "5.6.7.8") {
		t.Error("other IP shares the exhausted budget")
	}
	if !l.Allow(ctx, "/signup", "1.2.3.4") {
		t.Error("other route shares the exhausted budget")
	}

	// Past the window boundary the counter resets.
	store.now = func() time.Time { return base.Add(61 * time.Second) }
	if !l.Allow(ctx, "/login", "1.2.3.4") {
		t.Error("request after window reset denied")
	}
}

type failingCounter struct{}

func (failingCounter) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, context.DeadlineExceeded
}

func TestLimiterFailsOpen(t *testing.T) {
	l := NewLimiter(failingCounter{}, 1, time.Minute, testLogger())
	if !l.Allow(context.Background(), "/login", "1.2.3.4") {
		t.Error("counter failure should fail open")
	}
}

func TestLimiterDisabled(t *testing.T) {
	var l *Limiter
	if !l.Allow(context.Background(), "/login", "1.2.3.4") {
		t.Error("nil limiter should allow")
	}
	if NewLimiter(NewMemoryCounterStore(), 0, time.Minute, testLogger()) != nil {
		t.Error("max=0 should disable the limiter")
	}
}

func TestTurnstileVerify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if r.PostForm.Get("secret") != "ts-secret" {
			t.Errorf("secret = %q", r.PostForm.Get("secret"))
		}
		if r.PostForm.Get("response") == "good-token" {
			w.Write([]byte(`{"success":true}`))
			return
		}
		w.Write([]byte(`{"success":false}`))
	}))
	defer srv.Close()

	v := NewTurnstileVerifier(srv.URL, "ts-secret", testLogger())
	ctx := context.Background()

	if !v.Verify(ctx, "good-token", "1.2.3.4") {
		t.Error("valid token denied")
	}
	if v.Verify(ctx, "bad-token", "1.2.3.4") {
		t.Error("invalid token allowed")
	}
	if v.Verify(ctx, "", "1.2.3.4") {
		t.Error("missing token allowed")
	}
}

func TestTurnstileDisabled(t *testing.T) {
	v := NewTurnstileVerifier("https://example.com", "", testLogger())
	if v != nil {
		t.Fatal("empty secret should disable the verifier")
	}
	if !v.Verify(context.Background(), "", "") {
		t.Error("nil verifier should allow")
	}
}

func TestGatewayCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		switch string(body) {
		case `{"token":"valid-assertion"}`:
			w.Write([]byte(`{"aud":"savesync"}`))
		case `{"token":"wrong-aud"}`:
			w.Write([]byte(`{"aud":"someone-else"}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	g := NewGatewayChecker(srv.URL, "savesync", testLogger())
	ctx := context.Background()

	if !g.Check(ctx, "valid-assertion") {
		t.Error("valid assertion denied")
	}
	if g.Check(ctx, "wrong-aud") {
		t.Error("audience mismatch allowed")
	}
	if g.Check(ctx, "garbage") {
		t.Error("rejected assertion allowed")
	}
	if g.Check(ctx, "") {
		t.Error("missing assertion allowed")
	}
}

func TestGatewayDisabled(t *testing.T) {
	g := NewGatewayChecker("", "aud", testLogger())
	if g != nil {
		t.Fatal("empty URL should disable the checker")
	}
	if !g.Check(context.Background(), "") {
		t.Error("nil checker should allow")
	}
}
