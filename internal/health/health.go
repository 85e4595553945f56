// Package health serves the liveness and readiness probes.
//
// /healthz answers 200 whenever the process can serve HTTP at all. /readyz
// answers 200 only while every registered dependency probe passes; the load
// balancer uses it to stop routing new calls to an instance whose database or
// cache is unreachable. Calls already in flight are unaffected, a not-ready
// instance keeps serving its open media streams.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// probeTimeout bounds each dependency probe. A wedged dependency must not
// hold the readiness endpoint past the load balancer's own check timeout.
const probeTimeout = 5 * time.Second

// Checker is one named dependency probe. Check returns nil while the
// dependency is usable and must honour context cancellation.
type Checker struct {
	// Name keys the probe's entry in the JSON body, e.g. "postgres" or
	// "redis".
	Name string

	Check func(ctx context.Context) error
}

// report is the JSON body of both endpoints.
type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler evaluates the registered probes. The probe set is fixed at
// construction; the handler itself is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New creates a Handler over the given probes.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Register mounts both probe routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz reports liveness. A process that reaches this handler is alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: "ok"})
}

// Readyz runs every probe and reports 200 only when all pass. Probes run
// concurrently, each under its own [probeTimeout] derived from the request
// context, so total latency is the slowest probe rather than the sum.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	type outcome struct {
		name string
		err  error
	}

	results := make([]outcome, len(h.checkers))
	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
			defer cancel()
			results[i] = outcome{name: c.Name, err: c.Check(ctx)}
		}()
	}
	wg.Wait()

	body := report{Status: "ok", Checks: make(map[string]string, len(results))}
	status := http.StatusOK
	for _, res := range results {
		if res.err != nil {
			body.Checks[res.name] = "fail: " + res.err.Error()
			body.Status = "fail"
			status = http.StatusServiceUnavailable
		} else {
			body.Checks[res.name] = "ok"
		}
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
