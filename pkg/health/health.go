// Package health exposes liveness and readiness probes for the ops HTTP
// listener. All registered checks are evaluated by a single background
// goroutine at a fixed interval; the endpoints serve the cached results, so
// a probe never triggers network calls on the request path.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc reports nil when the checked component is healthy.
type CheckFunc func(ctx context.Context) error

// kind separates checks between the two endpoints.
type kind int

const (
	liveness kind = iota
	readiness
)

type check struct {
	name    string
	kind    kind
	timeout time.Duration
	fn      CheckFunc
}

// Service runs the registered checks and serves their results.
type Service struct {
	ready atomic.Bool

	mu      sync.RWMutex
	checks  []check
	results map[string]error
	cancel  context.CancelFunc
}

// New creates an empty, not-ready Service. Register checks, then call Run.
func New() *Service {
	return &Service{results: make(map[string]error)}
}

// AddLiveness registers a liveness check.
func (s *Service) AddLiveness(name string, timeout time.Duration, fn CheckFunc) {
	s.add(check{name: name, kind: liveness, timeout: timeout, fn: fn})
}

// AddReadiness registers a readiness check.
func (s *Service) AddReadiness(name string, timeout time.Duration, fn CheckFunc) {
	s.add(check{name: name, kind: readiness, timeout: timeout, fn: fn})
}

func (s *Service) add(c check) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks = append(s.checks, c)
}

// Run evaluates every check once immediately and then on each interval tick,
// until ctx is cancelled.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		s.runAll(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runAll(ctx)
			}
		}
	}()
}

// Stop cancels the background evaluation. Safe to call multiple times.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// SetReady flips the manual readiness gate: false during startup and
// graceful shutdown, true while serving.
func (s *Service) SetReady(ready bool) {
	s.ready.Store(ready)
}

func (s *Service) runAll(ctx context.Context) {
	s.mu.RLock()
	checks := make([]check, len(s.checks))
	copy(checks, s.checks)
	s.mu.RUnlock()

	results := make(map[string]error, len(checks))
	for _, c := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
		results[c.name] = c.fn(checkCtx)
		cancel()
	}

	s.mu.Lock()
	s.results = results
	s.mu.Unlock()
}

// failures collects failing checks of the given kind.
func (s *Service) failures(k kind) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string)
	for _, c := range s.checks {
		if c.kind != k {
			continue
		}
		if err, ok := s.results[c.name]; ok && err != nil {
			out[c.name] = err.Error()
		}
	}
	return out
}

type statusResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LiveEndpoint serves /livez: 200 while all liveness checks pass, else 503
// with the failing checks.
func (s *Service) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, s.failures(liveness))
}

// ReadyEndpoint serves /readyz: 200 while the service is marked ready and
// all readiness checks pass.
func (s *Service) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failures := s.failures(readiness)
	if !s.ready.Load() {
		failures["_readiness"] = "service is not ready"
	}
	writeStatus(w, failures)
}

func writeStatus(w http.ResponseWriter, failures map[string]string) {
	w.Header().Set("Content-Type", "application/json")

	resp := statusResponse{Status: "ok"}
	status := http.StatusOK
	if len(failures) > 0 {
		resp.Status = "unhealthy"
		resp.Checks = failures
		status = http.StatusServiceUnavailable
	}

	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
