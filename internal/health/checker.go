// Package health periodically probes the external services notarization
// depends on: the ledger RPC node, the archive node and the database.
package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// Pinger is satisfied by *anchor.Client, *archive.BundlerUploader and
// *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Probe is one named dependency check.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// PingProbe wraps anything with a Ping method.
func PingProbe(name string, p Pinger) Probe {
	return Probe{Name: name, Check: p.Ping}
}

// HTTPProbe checks that url answers 2xx to HEAD or, failing that, GET.
func HTTPProbe(name, url string, client *http.Client) Probe {
	return Probe{Name: name, Check: func(ctx context.Context) error {
		if probeEndpoint(ctx, client, url) {
			return nil
		}
		return fmt.Errorf("%s: no 2xx response", url)
	}}
}

// Status is the last known state of one dependency.
type Status struct {
	Name          string    `json:"name"`
	Healthy       bool      `json:"healthy"`
	Degraded      bool      `json:"degraded"`
	FailCount     int       `json:"fail_count"`
	LastError     string    `json:"last_error,omitempty"`
	LastCheckedAt time.Time `json:"last_checked_at"`
}

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(dependency string, success bool)

// HealthChecker runs periodic dependency probes.
type HealthChecker struct {
	probes    []Probe
	statuses  map[string]*Status
	mu        sync.Mutex
	cfg       Config
	onMetrics MetricsRecordFunc
	logger    *zap.Logger
}

// New creates a new HealthChecker.
func New(probes []Probe, cfg Config, logger *zap.Logger) *HealthChecker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = time.Minute
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}

	return &HealthChecker{
		probes:   probes,
		statuses: make(map[string]*Status, len(probes)),
		cfg:      cfg,
		logger:   logger,
	}
}

// SetMetricsRecord configures the metrics recording callback.
func (h *HealthChecker) SetMetricsRecord(fn MetricsRecordFunc) {
	h.onMetrics = fn
}

// Start runs the health check loop until quit is signalled.
func (h *HealthChecker) Start(quit <-chan os.Signal) {
	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()

	h.CheckAll(context.Background())
	for {
		select {
		case <-ticker.C:
			h.CheckAll(context.Background())
		case <-quit:
			return
		}
	}
}

// CheckAll runs every probe concurrently, each bounded by ProbeTimeout.
func (h *HealthChecker) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, p := range h.probes {
		wg.Add(1)
		go func(p Probe) {
			defer wg.Done()

			pctx, cancel := context.WithTimeout(ctx, h.cfg.ProbeTimeout)
			err := p.Check(pctx)
			cancel()
			h.record(p.Name, err)
		}(p)
	}
	wg.Wait()
}

func (h *HealthChecker) record(name string, err error) {
	success := err == nil
	if h.onMetrics != nil {
		h.onMetrics(name, success)
	}

	h.mu.Lock()
	st, ok := h.statuses[name]
	if !ok {
		st = &Status{Name: name}
		h.statuses[name] = st
	}
	wasDegraded := st.Degraded
	st.LastCheckedAt = time.Now().UTC()
	st.Healthy = success
	if success {
		st.FailCount = 0
		st.Degraded = false
		st.LastError = ""
	} else {
		st.FailCount++
		st.LastError = err.Error()
		st.Degraded = st.FailCount >= h.cfg.FailThreshold
	}
	count := st.FailCount
	nowDegraded := st.Degraded
	h.mu.Unlock()

	switch {
	case wasDegraded && success:
		h.logger.Info("health: recovered", zap.String("dependency", name))
	case !wasDegraded && nowDegraded:
		h.logger.Warn("health: degraded",
			zap.String("dependency", name),
			zap.Int("fail_count", count),
			zap.Error(err),
		)
	case !success:
		h.logger.Debug("health: probe failed", zap.String("dependency", name), zap.Error(err))
	}
}

// Statuses returns a snapshot of every probed dependency, sorted by name.
func (h *HealthChecker) Statuses() []Status {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Status, 0, len(h.statuses))
	for _, st := range h.statuses {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ErrUnknownDependency is returned by Status for a name that was never probed.
var ErrUnknownDependency = errors.New("unknown dependency")

// Status returns the last known state of one dependency.
func (h *HealthChecker) Status(name string) (Status, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.statuses[name]
	if !ok {
		return Status{}, ErrUnknownDependency
	}
	return *st, nil
}

// probeEndpoint attempts HEAD then GET, returning true if any 2xx response.
func probeEndpoint(ctx context.Context, client *http.Client, endpoint string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, endpoint, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err == nil {
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return true
		}
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false
	}
	resp, err = client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
