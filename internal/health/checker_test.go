package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// ── Stubs ────────────────────────────────────────────────────────────────

type stubPinger struct {
	mu    sync.Mutex
	fails int // number of calls that fail before succeeding
	calls int
}

func (s *stubPinger) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.fails {
		return errors.New("rpc unavailable")
	}
	return nil
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestProbeEndpoint_success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if !probeEndpoint(context.Background(), srv.Client(), srv.URL) {
		t.Error("expected probe to succeed")
	}
}

func TestProbeEndpoint_headRejectedGetAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if !probeEndpoint(context.Background(), srv.Client(), srv.URL) {
		t.Error("expected GET fallback to succeed")
	}
}

func TestProbeEndpoint_failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if probeEndpoint(context.Background(), srv.Client(), srv.URL) {
		t.Error("expected probe to fail")
	}
}

func TestCheckAll_degradesAfterThreshold(t *testing.T) {
	p := &stubPinger{fails: 100}
	checker := New([]Probe{PingProbe("ledger", p)}, Config{FailThreshold: 3}, zap.NewNop())

	for i := 0; i < 2; i++ {
		checker.CheckAll(context.Background())
	}
	st, _ := checker.Status("ledger")
	if st.Healthy || st.Degraded {
		t.Errorf("below threshold: got %+v", st)
	}

	checker.CheckAll(context.Background())
	st, _ = checker.Status("ledger")
	if !st.Degraded || st.FailCount != 3 || st.LastError == "" {
		t.Errorf("expected degraded after 3 failures, got %+v", st)
	}
}

func TestCheckAll_recoversOnSuccess(t *testing.T) {
	p := &stubPinger{fails: 3}
	checker := New([]Probe{PingProbe("ledger", p)}, Config{FailThreshold: 3}, zap.NewNop())

	for i := 0; i < 4; i++ {
		checker.CheckAll(context.Background())
	}

	st, err := checker.Status("ledger")
	if err != nil {
		t.Fatal(err)
	}
	if !st.Healthy || st.Degraded || st.FailCount != 0 {
		t.Errorf("expected healthy after recovery, got %+v", st)
	}
}

func TestCheckAll_metricsAndSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	checker := New([]Probe{
		HTTPProbe("gateway", srv.URL, srv.Client()),
		PingProbe("archive", &stubPinger{fails: 1}),
	}, Config{ProbeTimeout: 5 * time.Second}, zap.NewNop())

	var mu sync.Mutex
	results := map[string]bool{}
	checker.SetMetricsRecord(func(dep string, ok bool) {
		mu.Lock()
		results[dep] = ok
		mu.Unlock()
	})
	checker.CheckAll(context.Background())

	if !results["gateway"] || results["archive"] {
		t.Errorf("unexpected metric results: %v", results)
	}
	snap := checker.Statuses()
	if len(snap) != 2 || snap[0].Name != "archive" || snap[1].Name != "gateway" {
		t.Errorf("snapshot must be sorted by name: %+v", snap)
	}
	if _, err := checker.Status("nope"); !errors.Is(err, ErrUnknownDependency) {
		t.Errorf("want ErrUnknownDependency, got %v", err)
	}
}
