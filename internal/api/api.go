// Package api implements the HTTP surface of the sync service.
//
// Routes:
//
//	POST /api/admin/grants/sync   run a sync now (?force=true ignores an unchanged extract)
//	GET  /api/admin/grants/sync   store totals and recent runs
//	GET  /health                  database liveness
//	GET  /metrics                 Prometheus exposition
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mkoziy/grants/syncer/internal/ledger"
	"github.com/mkoziy/grants/syncer/internal/models"
	"github.com/mkoziy/grants/syncer/internal/pipeline"
)

// Config controls the HTTP listener.
type Config struct {
	Addr         string        `yaml:"addr"`
	AdminToken   string        `yaml:"admin_token" split_words:"true"`
	ReadTimeout  time.Duration `yaml:"read_timeout" split_words:"true"`
	WriteTimeout time.Duration `yaml:"write_timeout" split_words:"true"`
}

// DefaultConfig listens on :8080 with a write timeout long enough for a full sync.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 15 * time.Minute,
	}
}

// Syncer is the pipeline as seen by the handlers.
type Syncer interface {
	Run(ctx context.Context, opts pipeline.Options) (*pipeline.Result, error)
	Status(ctx context.Context) (*pipeline.Status, error)
}

// Pinger reports store liveness.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Handler holds shared dependencies.
type Handler struct {
	syncer     Syncer
	db         Pinger
	gatherer   prometheus.Gatherer
	adminToken string
	logger     *slog.Logger
}

// NewHandler returns a configured Handler. A nil gatherer disables /metrics.
func NewHandler(cfg Config, syncer Syncer, db Pinger, gatherer prometheus.Gatherer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		syncer:     syncer,
		db:         db,
		gatherer:   gatherer,
		adminToken: cfg.AdminToken,
		logger:     logger.With("component", "api"),
	}
}

// RegisterRoutes mounts all routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("POST /api/admin/grants/sync", h.requireAdmin(http.HandlerFunc(h.handleSync)))
	mux.Handle("GET /api/admin/grants/sync", h.requireAdmin(http.HandlerFunc(h.handleStatus)))
	mux.HandleFunc("GET /health", h.handleHealth)
	if h.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}
}

// NewServer builds an http.Server serving the handler's routes.
func NewServer(cfg Config, h *Handler) *http.Server {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}
}

func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || h.adminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) != 1 {
			jsonError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type alreadyRunningResponse struct {
	Success        bool      `json:"success"`
	Error          string    `json:"error"`
	RunID          string    `json:"runId"`
	FileName       string    `json:"fileName"`
	StartedAt      time.Time `json:"startedAt"`
	ElapsedMinutes int       `json:"elapsedMinutes"`
}

// handleSync handles POST /api/admin/grants/sync
func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	opts := pipeline.Options{Trigger: models.TriggerManual}
	if raw := r.URL.Query().Get("force"); raw != "" {
		force, err := strconv.ParseBool(raw)
		if err != nil {
			jsonError(w, "force must be a boolean", http.StatusBadRequest)
			return
		}
		opts.Force = force
	}

	// A client disconnect must not abandon a run half way.
	res, err := h.syncer.Run(context.WithoutCancel(r.Context()), opts)

	var running *ledger.AlreadyRunningError
	switch {
	case errors.As(err, &running):
		writeJSON(w, http.StatusConflict, alreadyRunningResponse{
			Error:          "sync already running",
			RunID:          running.RunID,
			FileName:       running.FileName,
			StartedAt:      running.StartedAt,
			ElapsedMinutes: int(running.Elapsed.Minutes()),
		})
	case err != nil && res != nil:
		writeJSON(w, http.StatusInternalServerError, res)
	case err != nil:
		h.logger.Error("sync could not start", "err", err)
		writeJSON(w, http.StatusInternalServerError, pipeline.Result{ErrorMessage: err.Error()})
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

// handleStatus handles GET /api/admin/grants/sync
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.syncer.Status(r.Context())
	if err != nil {
		h.logger.Error("status failed", "err", err)
		jsonError(w, "status unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleHealth handles GET /health
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			h.logger.Warn("health check failed", "err", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}
