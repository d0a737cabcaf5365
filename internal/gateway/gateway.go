package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/basket/taskdeck/internal/audit"
	"github.com/basket/taskdeck/internal/bus"
	"github.com/basket/taskdeck/internal/command"
	"github.com/basket/taskdeck/internal/otel"
	"github.com/basket/taskdeck/internal/registry"
	"github.com/basket/taskdeck/internal/router"
)

const defaultMaxBodyBytes = 1 << 20 // 1MB

// Config wires the HTTP gateway to the command pipeline.
type Config struct {
	Router   *router.Router
	Registry *registry.Registry
	Log      *audit.CommandLog
	Bus      *bus.Bus
	Metrics  *otel.Metrics
	Logger   *slog.Logger

	// AuthToken, when set, requires Bearer auth on all /api routes and
	// /ws. Empty disables auth for local use.
	AuthToken string

	// AllowOrigins lists Origin values accepted for browser clients.
	// Empty means same-origin only.
	AllowOrigins []string

	RateLimitPerMinute int
	RateBurst          int

	// MaxBatchSize caps commands per batch request. 0 means 50.
	MaxBatchSize int

	// ConfigFingerprint is the active config hash exposed on /healthz.
	ConfigFingerprint string
}

type Server struct {
	cfg     Config
	logger  *slog.Logger
	limiter *rateLimiter
	started time.Time
}

// commandRequest is the body of POST /api/v1/command and /api/v1/stream.
type commandRequest struct {
	Command command.Command `json:"command"`
	Context command.Context `json:"context"`
}

// batchRequest is the body of POST /api/v1/batch.
type batchRequest struct {
	Commands []command.Command   `json:"commands"`
	Context  command.Context     `json:"context"`
	Options  router.BatchOptions `json:"options"`
}

func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 50
	}
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		started: time.Now(),
	}
	if cfg.RateLimitPerMinute > 0 {
		s.limiter = newRateLimiter(cfg.RateLimitPerMinute, cfg.RateBurst)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/command", s.handleCommand)
	mux.HandleFunc("POST /api/v1/batch", s.handleBatch)
	mux.HandleFunc("POST /api/v1/stream", s.handleStream)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	var h http.Handler = mux
	h = s.corsMiddleware(h)
	h = limitBodyMiddleware(defaultMaxBodyBytes)(h)
	return h
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	summary := registry.Summary{Overall: registry.Healthy}
	if s.cfg.Registry != nil {
		summary = s.cfg.Registry.HealthSummary()
	}
	status := http.StatusOK
	if summary.Overall == registry.Errored {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"status":        string(summary.Overall),
		"services":      summary.Services,
		"uptimeSeconds": int64(time.Since(s.started).Seconds()),
		"config":        s.cfg.ConfigFingerprint,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeUnauthorized(w)
		return
	}
	if s.cfg.Log == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Log.Snapshot())
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeUnauthorized(w)
		return
	}
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelopeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "malformed request body")
		return
	}
	fillClientContext(&req.Context, r)
	if !s.allowRate(r.Context(), rateKey(req.Context, r)) {
		s.writeRateLimited(w)
		return
	}

	resp := s.cfg.Router.Execute(r.Context(), req.Command, req.Context)
	writeJSON(w, statusFor(resp), resp)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeUnauthorized(w)
		return
	}
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelopeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "malformed request body")
		return
	}
	if len(req.Commands) > s.cfg.MaxBatchSize {
		writeEnvelopeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "batch exceeds maximum size")
		return
	}
	fillClientContext(&req.Context, r)
	if !s.allowRate(r.Context(), rateKey(req.Context, r)) {
		s.writeRateLimited(w)
		return
	}

	responses := s.cfg.Router.ExecuteBatch(r.Context(), req.Commands, req.Context, req.Options)
	writeJSON(w, http.StatusOK, map[string]any{"responses": responses})
}

// statusFor maps a failure envelope to an HTTP status. The envelope
// itself stays the source of truth; the status is advisory.
func statusFor(resp router.Response) int {
	if resp.Success {
		return http.StatusOK
	}
	switch resp.Error.Code {
	case "VALIDATION_ERROR":
		return http.StatusBadRequest
	case "PERMISSION_ERROR":
		return http.StatusForbidden
	case "NOT_FOUND":
		return http.StatusNotFound
	case "RATE_LIMIT_ERROR":
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// fillClientContext stamps transport-level fields the client cannot be
// trusted to set.
func fillClientContext(execCtx *command.Context, r *http.Request) {
	execCtx.UserAgent = r.UserAgent()
	execCtx.IP = r.RemoteAddr
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeEnvelopeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, router.Response{
		Success: false,
		Error:   &router.ResponseError{Code: code, Message: message},
		Metadata: router.Metadata{
			Timestamp: time.Now().UTC(),
		},
	})
}

func writeUnauthorized(w http.ResponseWriter) {
	writeEnvelopeError(w, http.StatusUnauthorized, "PERMISSION_ERROR", "missing or invalid bearer token")
}
