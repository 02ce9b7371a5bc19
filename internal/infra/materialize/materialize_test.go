package materialize

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// ─── Synthetic ──────────────────────────────────────────────────────────────

func TestSynthetic_Deterministic(t *testing.T) {
	a := NewSynthetic(42, 0)
	b := NewSynthetic(42, 0)
	ctx := context.Background()
	for _, c := range [][2]int{{0, 0}, {-3, 7}, {100, -100}} {
		a.EnsureLoaded(ctx, "w", c[0], c[1])
		b.EnsureLoaded(ctx, "w", c[0], c[1])
		ca, _ := a.Chunk("w", c[0], c[1])
		cb, _ := b.Chunk("w", c[0], c[1])
		if ca != cb {
			t.Errorf("chunk %v differs between runs: %+v vs %+v", c, ca, cb)
		}
		if ca.MinHeight > ca.MaxHeight {
			t.Errorf("chunk %v heights %d..%d", c, ca.MinHeight, ca.MaxHeight)
		}
	}
}

func TestSynthetic_IdempotentAndPerWorld(t *testing.T) {
	s := NewSynthetic(1, 0)
	ctx := context.Background()
	s.EnsureLoaded(ctx, "overworld", 1, 1)
	s.EnsureLoaded(ctx, "overworld", 1, 1)
	s.EnsureLoaded(ctx, "nether", 1, 1)
	if s.Generated("overworld") != 1 || s.Generated("nether") != 1 {
		t.Errorf("Generated = %d/%d, want 1/1", s.Generated("overworld"), s.Generated("nether"))
	}
	if s.Calls() != 3 {
		t.Errorf("Calls = %d, want 3", s.Calls())
	}
}

func TestSynthetic_InjectedFailures(t *testing.T) {
	s := NewSynthetic(1, 0)
	ctx := context.Background()
	s.FailAt(2, 3, true)
	if err := s.EnsureLoaded(ctx, "w", 2, 3); !errors.Is(err, ErrInjected) {
		t.Errorf("FailAt cell = %v, want ErrInjected", err)
	}
	if err := s.EnsureLoaded(ctx, "w", 2, 4); err != nil {
		t.Errorf("other cell = %v", err)
	}
	s.FailAt(2, 3, false)
	s.SetFailing(true)
	if err := s.EnsureLoaded(ctx, "w", 9, 9); !errors.Is(err, ErrInjected) {
		t.Errorf("SetFailing = %v", err)
	}
	s.SetFailing(false)
	if err := s.EnsureLoaded(ctx, "w", 2, 3); err != nil {
		t.Errorf("after clearing = %v", err)
	}
}

func TestSynthetic_DelayHonorsContext(t *testing.T) {
	s := NewSynthetic(1, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.EnsureLoaded(ctx, "w", 0, 0); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled ctx = %v, want context.Canceled", err)
	}
}

func TestFloorDiv(t *testing.T) {
	tests := []struct{ a, b, want int }{{15, 16, 0}, {16, 16, 1}, {-1, 16, -1}, {-17, 16, -2}}
	for _, tt := range tests {
		if got := floorDiv(tt.a, tt.b); got != tt.want {
			t.Errorf("floorDiv(%d,%d) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

// ─── HTTP ───────────────────────────────────────────────────────────────────

func TestHTTPClient_EnsureLoaded(t *testing.T) {
	var gotPath, gotAuth, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotAuth = r.Header.Get("Authorization")
		gotMethod = r.Method
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/", "secret", time.Second)
	if err := c.EnsureLoaded(context.Background(), "my world", -4, 12); err != nil {
		t.Fatalf("EnsureLoaded() error: %v", err)
	}
	if gotMethod != http.MethodPost {
		t.Errorf("method = %s, want POST", gotMethod)
	}
	if gotPath != "/worlds/my%20world/chunks/-4/12" {
		t.Errorf("path = %s", gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestHTTPClient_Non2xxFails(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "generator busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := NewHTTPClient(srv.URL, "", time.Second).EnsureLoaded(context.Background(), "w", 0, 0)
	if err == nil {
		t.Fatal("expected error for 503")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (no internal retry)", calls.Load())
	}
}

func TestHTTPClient_Ping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	if err := NewHTTPClient(srv.URL, "", time.Second).Ping(context.Background()); err != nil {
		t.Errorf("Ping() = %v", err)
	}
	srv.Close()
	if err := NewHTTPClient(srv.URL, "", time.Second).Ping(context.Background()); err == nil {
		t.Error("Ping() to closed server should fail")
	}
}
