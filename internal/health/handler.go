// Package health exposes the /api/v1/health and /api/v1/ready HTTP handlers.
package health

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/d9705996/perseo/internal/api/jsonapi"
	"github.com/d9705996/perseo/internal/version"
)

// Pinger is implemented by anything that can check a downstream dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds dependencies for the health and ready endpoints.
type Handler struct {
	checks    map[string]Pinger
	startTime time.Time
	timeout   time.Duration
}

// New creates a Handler that reports readiness of the database. db may be
// nil during startup before the pool is established; in that case /ready
// will return 503 immediately.
func New(db Pinger) *Handler {
	return &Handler{
		checks:    map[string]Pinger{"database": db},
		startTime: time.Now(),
		timeout:   3 * time.Second,
	}
}

// With adds a named dependency to the readiness checks.
func (h *Handler) With(name string, p Pinger) *Handler {
	h.checks[name] = p
	return h
}

// healthAttrs is the JSON:API attributes payload for the health response.
type healthAttrs struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Commit        string `json:"commit"`
	BuildDate     string `json:"buildDate"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
}

// ServeHealth handles GET /api/v1/health. It reports liveness only.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	jsonapi.RenderOne(w, http.StatusOK, jsonapi.ResourceObject{
		Type: "health",
		ID:   "1",
		Attributes: healthAttrs{
			Status:        "ok",
			Version:       version.Version,
			Commit:        version.Commit,
			BuildDate:     version.Date,
			UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		},
	})
}

// ServeReady handles GET /api/v1/ready.
// Returns 200 when every dependency answers; 503 with one error per failing
// dependency otherwise.
func (h *Handler) ServeReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := make(map[string]string, len(names))
	var failed []jsonapi.ErrorObject
	for _, name := range names {
		p := h.checks[name]
		detail := ""
		switch {
		case p == nil:
			detail = name + " connection is not initialised"
		default:
			if err := p.Ping(ctx); err != nil {
				detail = name + " is unreachable: " + err.Error()
			}
		}
		if detail != "" {
			status[name] = "unavailable"
			failed = append(failed, jsonapi.ErrorObject{
				Status: http.StatusText(http.StatusServiceUnavailable),
				Code:   "dependency_unavailable",
				Title:  "Service Unavailable",
				Detail: detail,
			})
			continue
		}
		status[name] = "ok"
	}
	if len(failed) > 0 {
		jsonapi.RenderErrors(w, http.StatusServiceUnavailable, failed)
		return
	}

	jsonapi.RenderOne(w, http.StatusOK, jsonapi.ResourceObject{
		Type:       "ready",
		ID:         "1",
		Attributes: map[string]any{"status": "ok", "checks": status},
	})
}
