// Package health serves liveness and readiness endpoints for the bid engine.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/jensholdgaard/auction-bid-engine/internal/clock"
)

// Role is the replica's position in leader election.
type Role string

const (
	RoleStandby Role = "standby"
	RoleLeader  Role = "leader"
)

// Status represents a health check result.
type Status struct {
	Status    string            `json:"status"`
	Role      Role              `json:"role,omitempty"`
	Checks    map[string]string `json:"checks,omitempty"`
	Gauges    map[string]int    `json:"gauges,omitempty"`
	Timestamp string            `json:"timestamp"`
}

// Checker defines a named health check function.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Gauge reports a named point-in-time value, such as the number of
// auctions awaiting a resolution pass.
type Gauge struct {
	Name  string
	Value func() int
}

// Handler provides HTTP health check endpoints.
type Handler struct {
	mu       sync.RWMutex
	ready    bool
	role     Role
	checkers []Checker
	gauges   []Gauge
	clock    clock.Clock
}

// NewHandler creates a new health handler with the given checkers. The
// replica starts as a standby until SetRole says otherwise.
func NewHandler(clk clock.Clock, checkers ...Checker) *Handler {
	return &Handler{checkers: checkers, clock: clk, role: RoleStandby}
}

// AddGauge registers a value reported by the readiness endpoint.
func (h *Handler) AddGauge(g Gauge) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.gauges = append(h.gauges, g)
}

// SetReady marks the service as ready to receive traffic.
func (h *Handler) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

// SetRole records whether this replica currently resolves auctions.
func (h *Handler) SetRole(r Role) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.role = r
}

// Routes registers the health endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.LivenessHandler())
	mux.HandleFunc("/readyz", h.ReadinessHandler())
}

// LivenessHandler returns HTTP 200 if the process is alive.
func (h *Handler) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, Status{
			Status:    "ok",
			Timestamp: h.now(),
		})
	}
}

// ReadinessHandler returns HTTP 200 if the service is ready and every
// checker passes.
func (h *Handler) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.mu.RLock()
		ready, role := h.ready, h.role
		checkers, gauges := h.checkers, h.gauges
		h.mu.RUnlock()

		if !ready {
			writeJSON(w, http.StatusServiceUnavailable, Status{
				Status:    "not_ready",
				Role:      role,
				Timestamp: h.now(),
			})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		checks := make(map[string]string, len(checkers))
		allOK := true
		for _, c := range checkers {
			if err := c.Check(ctx); err != nil {
				checks[c.Name] = err.Error()
				allOK = false
			} else {
				checks[c.Name] = "ok"
			}
		}

		var values map[string]int
		if len(gauges) > 0 {
			values = make(map[string]int, len(gauges))
			for _, g := range gauges {
				values[g.Name] = g.Value()
			}
		}

		status := "ready"
		code := http.StatusOK
		if !allOK {
			status = "not_ready"
			code = http.StatusServiceUnavailable
		}

		writeJSON(w, code, Status{
			Status:    status,
			Role:      role,
			Checks:    checks,
			Gauges:    values,
			Timestamp: h.now(),
		})
	}
}

func (h *Handler) now() string {
	return h.clock.Now().UTC().Format(time.RFC3339)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
