package ingress

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/reflexlayer/reflex/internal/httputil"
	"github.com/reflexlayer/reflex/internal/identity"
	"github.com/reflexlayer/reflex/internal/kv"
	"github.com/reflexlayer/reflex/internal/observability"
	"github.com/reflexlayer/reflex/internal/pool"
	"github.com/reflexlayer/reflex/pkg/reflex"
	"github.com/reflexlayer/reflex/pkg/reflexerr"
)

// requestBody is the wire shape of POST /process.
type requestBody struct {
	Text           string  `json:"text"`
	UserID         *string `json:"user_id"`
	CheckPII       *bool   `json:"check_pii"`
	CheckInjection *bool   `json:"check_injection"`
	UseCache       *bool   `json:"use_cache"`
}

// errorBody is the standard error envelope for every non-200 response.
type errorBody struct {
	Code      string  `json:"code"`
	Message   string  `json:"message"`
	Detail    *string `json:"detail,omitempty"`
	RequestID string  `json:"request_id"`
	Timestamp string  `json:"timestamp"`
}

// HandlerConfig carries the tunables the HTTP handler needs beyond the
// Pipeline itself.
type HandlerConfig struct {
	MaxBodyBytes int64
	Debug        bool // surface error Detail in responses
	Version      string
}

// Handler exposes the reflex layer's HTTP surface: POST /process, and the
// health/ready/metrics ambient endpoints.
type Handler struct {
	pipeline *Pipeline
	resolver *identity.Resolver // optional; nil disables bearer-token user resolution
	kv       *kv.Client         // optional; nil means readiness always reports ok
	logger   *slog.Logger
	cfg      HandlerConfig
	start    time.Time
}

// NewHandler builds a Handler. resolver and kvClient may be nil.
func NewHandler(pipeline *Pipeline, resolver *identity.Resolver, kvClient *kv.Client, logger *slog.Logger, cfg HandlerConfig) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = reflex.MaxTextLength * 2
	}
	return &Handler{
		pipeline: pipeline,
		resolver: resolver,
		kv:       kvClient,
		logger:   logger,
		cfg:      cfg,
		start:    time.Now(),
	}
}

// Process handles POST /process.
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	// Process is normally reached behind observability.RequestIDMiddleware,
	// which already sanitizes and injects X-Request-ID into the context.
	// Fall back to reading the raw header directly so the handler behaves
	// correctly when exercised standalone (e.g. in tests).
	ctx := r.Context()
	if observability.RequestIDFromContext(ctx) == "" {
		if hdr := r.Header.Get(observability.RequestIDHeader); hdr != "" {
			ctx = observability.ContextWithRequestID(ctx, hdr)
		}
	}
	ctx, requestID := observability.GetOrCreateRequestID(ctx)

	body, err := httputil.ReadLimitedBody(r.Body, h.cfg.MaxBodyBytes)
	defer func() { _ = r.Body.Close() }()
	if err != nil {
		h.writeError(w, requestID, reflexerr.NewValidationError("request body too large or unreadable").WithDetail(err.Error()))
		return
	}

	var decoded requestBody
	if err := json.Unmarshal(body, &decoded); err != nil {
		h.writeError(w, requestID, reflexerr.NewValidationError("malformed JSON body").WithDetail(err.Error()))
		return
	}

	if err := ValidateText(decoded.Text); err != nil {
		h.writeError(w, requestID, err.(*reflexerr.Error))
		return
	}

	req := reflex.Request{
		Text:           decoded.Text,
		ClientIP:       h.clientIP(r),
		CheckPII:       boolOr(decoded.CheckPII, true),
		CheckInjection: boolOr(decoded.CheckInjection, true),
		UseCache:       boolOr(decoded.UseCache, true),
	}
	if decoded.UserID != nil {
		req.UserID = *decoded.UserID
	}
	if req.UserID == "" && h.resolver != nil {
		if sub, err := h.resolver.ResolveUserID(r); err == nil {
			req.UserID = sub
		}
	}

	outcome, err := h.pipeline.Process(ctx, requestID, req)
	if err != nil {
		if rerr, ok := err.(*reflexerr.Error); ok {
			h.writeError(w, requestID, rerr)
			return
		}
		h.writeError(w, requestID, reflexerr.NewInternalError("pipeline failure").WithDetail(err.Error()))
		return
	}

	if outcome.Verdict.Status == reflex.StatusRateLimited {
		h.writeRateLimited(w, outcome)
		return
	}

	h.writeVerdict(w, http.StatusOK, outcome.Verdict)
}

// Health handles GET /health: liveness, always 200.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":          "ok",
		"version":         h.cfg.Version,
		"uptime_seconds":  time.Since(h.start).Seconds(),
	})
}

// Ready handles GET /ready: readiness = the shared KV store responds to PING
// within budget. A nil kv client (no distributed store configured) always
// reports ready.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if h.kv == nil {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ready"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.kv.Ping(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "not_ready",
			"checks": map[string]string{"kv": err.Error()},
		})
		return
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ready"})
}

func (h *Handler) clientIP(r *http.Request) string {
	if h.pipeline != nil && h.pipeline.RateLimiter != nil {
		return h.pipeline.RateLimiter.ClientIP(r)
	}
	return r.RemoteAddr
}

func (h *Handler) writeVerdict(w http.ResponseWriter, status int, verdict reflex.Verdict) {
	pooled := pool.GetVerdict()
	*pooled = verdict
	defer pool.PutVerdict(pooled)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(observability.RequestIDHeader, verdict.RequestID)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(pooled); err != nil {
		h.logger.Error("failed to encode verdict response", "error", err, "request_id", verdict.RequestID)
	}
}

func (h *Handler) writeRateLimited(w http.ResponseWriter, outcome Outcome) {
	if outcome.RateLimit != nil {
		retryAfter := outcome.RateLimit.RetryAfter
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
		w.Header().Set("X-RateLimit-Limit", strconv.FormatFloat(outcome.Limit, 'f', -1, 64))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatFloat(outcome.RateLimit.Remaining, 'f', -1, 64))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(retryAfter).Unix(), 10))
	}
	h.writeVerdict(w, http.StatusTooManyRequests, outcome.Verdict)
}

func (h *Handler) writeError(w http.ResponseWriter, requestID string, err *reflexerr.Error) {
	err = err.WithRequestID(requestID)

	body := errorBody{
		Code:      string(err.Kind),
		Message:   err.Message,
		RequestID: requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if h.cfg.Debug && err.Detail() != "" {
		detail := err.Detail()
		body.Detail = &detail
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(observability.RequestIDHeader, requestID)
	w.WriteHeader(err.HTTPStatus())
	if encErr := json.NewEncoder(w).Encode(body); encErr != nil {
		h.logger.Error("failed to encode error response", "error", encErr, "request_id", requestID)
	}
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
