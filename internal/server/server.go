package server

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/jonwraymond/hashops/batch"
	"github.com/jonwraymond/hashops/observe"
	"github.com/jonwraymond/hashops/pipeline"
	"github.com/jonwraymond/hashops/pool"
	"github.com/jonwraymond/hashops/validate"
)

// Config configures the HTTP routes.
type Config struct {
	// MaxBodyBytes limits POST /v1/hash request bodies.
	// Default: 8 MiB
	MaxBodyBytes int64

	// MaxPayloads limits the number of payloads per request.
	// Default: 10000
	MaxPayloads int

	// Metrics, if set, is served at /metrics.
	Metrics http.Handler

	// Logger receives request logs.
	// Default: no-op logger
	Logger observe.Logger

	// PingInterval is how often idle alert streams are pinged.
	// Default: 30 seconds
	PingInterval time.Duration
}

// HashRequest is the body of POST /v1/hash.
type HashRequest struct {
	// Payloads are UTF-8 strings, or standard base64 when Base64 is set.
	Payloads []string `json:"payloads"`
	Base64   bool     `json:"base64,omitempty"`
}

// HashResponse is the body returned by POST /v1/hash.
type HashResponse struct {
	Provider string       `json:"provider"`
	Results  []HashResult `json:"results"`
}

// HashResult is one item of a HashResponse.
type HashResult struct {
	Index      int    `json:"index"`
	RequestID  string `json:"request_id"`
	Digest     string `json:"digest,omitempty"`
	CacheHit   bool   `json:"cache_hit"`
	Shared     bool   `json:"shared,omitempty"`
	DurationUS int64  `json:"duration_us"`
	WorkerID   int    `json:"worker_id"`
	Error      string `json:"error,omitempty"`
}

// NewHashResult converts a batch result to its JSON form.
func NewHashResult(r batch.Result) HashResult {
	out := HashResult{
		Index:      r.Index,
		RequestID:  r.RequestID.String(),
		CacheHit:   r.CacheHit,
		Shared:     r.Shared,
		DurationUS: r.ComputeDurationMicros(),
		WorkerID:   r.WorkerID,
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	} else {
		out.Digest = hex.EncodeToString(r.Digest)
	}
	return out
}

type handler struct {
	p        *pipeline.Pipeline
	config   Config
	upgrader websocket.Upgrader
}

// NewRouter returns the HTTP routes for p.
func NewRouter(p *pipeline.Pipeline, config Config) http.Handler {
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 8 << 20
	}
	if config.MaxPayloads <= 0 {
		config.MaxPayloads = 10000
	}
	if config.Logger == nil {
		config.Logger = observe.NopLogger()
	}
	if config.PingInterval <= 0 {
		config.PingInterval = 30 * time.Second
	}

	h := &handler{p: p, config: config}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware(config.Logger))
	r.Use(loggingMiddleware(config.Logger))

	r.Get("/healthz", h.healthz)
	if config.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", config.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/hash", h.hash)
		r.Get("/metrics", h.metrics)
		r.Get("/validate", validate.Handler(p.Harness(), p))
		r.Get("/alerts", h.alerts)
	})

	return r
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status    string                   `json:"status"`
	Timestamp string                   `json:"timestamp"`
	Checks    map[string]CheckResponse `json:"checks"`
}

// CheckResponse is one component check in a HealthResponse.
type CheckResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// healthz answers 503 when any component is unhealthy. A degraded
// pipeline still serves traffic and answers 200.
func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	health := h.p.Health(r.Context())

	resp := HealthResponse{
		Status:    health.Status.String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    make(map[string]CheckResponse, len(health.Checks)),
	}
	for _, c := range health.Checks {
		check := CheckResponse{Status: c.Status.String(), Message: c.Message}
		if c.Err != nil {
			check.Error = c.Err.Error()
		}
		resp.Checks[c.Name] = check
	}

	code := http.StatusOK
	if health.Status == pipeline.HealthUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (h *handler) hash(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxBodyBytes)

	var req HashRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	if len(req.Payloads) == 0 {
		writeError(w, http.StatusBadRequest, "NO_PAYLOADS", "payloads must not be empty")
		return
	}
	if len(req.Payloads) > h.config.MaxPayloads {
		writeError(w, http.StatusRequestEntityTooLarge, "TOO_MANY_PAYLOADS", "too many payloads")
		return
	}

	payloads := make([][]byte, len(req.Payloads))
	for i, s := range req.Payloads {
		if !req.Base64 {
			payloads[i] = []byte(s)
			continue
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BASE64", err.Error())
			return
		}
		payloads[i] = b
	}

	results, err := h.p.BatchHash(r.Context(), payloads)
	if err != nil {
		switch {
		case errors.Is(err, pool.ErrQueueFull):
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusServiceUnavailable, "QUEUE_FULL", err.Error())
		case errors.Is(err, pipeline.ErrClosed), errors.Is(err, pool.ErrPoolClosed):
			writeError(w, http.StatusServiceUnavailable, "SHUTTING_DOWN", err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		}
		return
	}

	resp := HashResponse{
		Provider: h.p.ProviderName(),
		Results:  make([]HashResult, len(results)),
	}
	for i, res := range results {
		resp.Results[i] = NewHashResult(res)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) metrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.p.Metrics())
}

// alerts streams alert events over a WebSocket until the client goes away
// or the pipeline closes.
func (h *handler) alerts(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	defer conn.Close()

	sub := h.p.Subscribe(0)
	defer sub.Unsubscribe()

	// The read loop only notices the client closing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(h.config.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case ev, ok := <-sub.C:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "pipeline closed"),
					time.Now().Add(time.Second))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				h.config.Logger.Debug(context.Background(), "alert stream write failed",
					observe.Field{Key: "error", Value: err.Error()},
				)
				return
			}
		}
	}
}
