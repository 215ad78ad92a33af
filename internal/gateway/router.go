package gateway

import (
	"encoding/base64"
	"encoding/hex"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/entropybridge/qrngd/infrastructure/errors"
	"github.com/entropybridge/qrngd/infrastructure/httputil"
	"github.com/entropybridge/qrngd/infrastructure/logging"
	"github.com/entropybridge/qrngd/infrastructure/metrics"
	"github.com/entropybridge/qrngd/infrastructure/middleware"
)

// maxPushBodyBytes bounds a single /push request body; packets are small
// (payload ≤ batch size plus a fixed header/trailer).
const maxPushBodyBytes = 4 << 20

// Router wires the Push Receiver and the authenticated Request Router onto
// an HTTP surface, plus the unauthenticated health/ready endpoints and a
// metrics endpoint that requires a credential only when MetricsRequireAuth
// is set.
type Router struct {
	cfg       Config
	buf       *DistBuffer
	receiver  *Receiver
	metrics   *metrics.Metrics
	logger    *logging.Logger
	startTime time.Time

	totalRequests    uint64
	totalBytesServed uint64

	rps requestRateTracker
}

// NewRouter constructs a Router over an already-built Distribution Buffer
// and Push Receiver.
func NewRouter(cfg Config, buf *DistBuffer, receiver *Receiver, m *metrics.Metrics, logger *logging.Logger) *Router {
	return &Router{
		cfg:       cfg,
		buf:       buf,
		receiver:  receiver,
		metrics:   m,
		logger:    logger,
		startTime: time.Now(),
	}
}

// Mux assembles the full gorilla/mux router: middleware stack, push
// endpoint, authenticated API subrouter, public health/ready endpoints, and
// the metrics endpoint (authenticated when MetricsRequireAuth is set).
func (rt *Router) Mux() *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.LoggingMiddleware(rt.logger))
	router.Use(middleware.NewRecoveryMiddleware(rt.logger).Handler)
	if metrics.Enabled() && rt.metrics != nil {
		router.Use(middleware.MetricsMiddleware("gateway", rt.metrics))
	}
	router.Use(middleware.NewCORSMiddleware(&middleware.CORSConfig{
		AllowedOrigins:         []string{"*"},
		AllowedMethods:         []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:         []string{"Content-Type", "Authorization", "X-Trace-ID"},
		ExposedHeaders:         []string{"X-Trace-ID", "Retry-After"},
		MaxAgeSeconds:          3600,
		PreflightStatus:        http.StatusOK,
		RejectDisallowedOrigin: false,
	}).Handler)
	router.Use(middleware.NewBodyLimitMiddleware(maxPushBodyBytes).Handler)
	router.Use(middleware.NewSecurityHeadersMiddleware(nil).Handler)
	router.Use(middleware.NewTimeoutMiddleware(30 * time.Second).Handler)

	router.HandleFunc("/health", rt.healthHandler).Methods(http.MethodGet)
	router.HandleFunc("/ready", rt.readyHandler).Methods(http.MethodGet)

	if rt.cfg.MetricsRequireAuth {
		metricsHandler := AuthMiddleware(rt.cfg.Principals, rt.logger)(promhttp.Handler())
		router.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
	} else {
		router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}

	pushValidation := middleware.NewValidationMiddleware(middleware.ValidationConfig{
		AllowedMethods: []string{http.MethodPost},
		ContentTypes:   []string{"application/octet-stream"},
	})
	router.Handle("/push", pushValidation.Handler(http.HandlerFunc(rt.pushHandler))).Methods(http.MethodPost)

	refillPerSecond := int(rt.cfg.RateLimitRefillPS)
	if refillPerSecond < 1 {
		refillPerSecond = 1
	}
	rateLimiter := middleware.NewRateLimiter(refillPerSecond, rt.cfg.RateLimitCapacity, rt.logger)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(AuthMiddleware(rt.cfg.Principals, rt.logger))
	api.Use(rateLimiter.Handler)
	api.HandleFunc("/random", rt.randomHandler).Methods(http.MethodGet)
	api.HandleFunc("/integers", rt.integersHandler).Methods(http.MethodGet)
	api.HandleFunc("/floats", rt.floatsHandler).Methods(http.MethodGet)
	api.HandleFunc("/uuid", rt.uuidHandler).Methods(http.MethodGet)
	api.HandleFunc("/status", rt.statusHandler).Methods(http.MethodGet)
	api.HandleFunc("/test/monte-carlo", rt.monteCarloHandler).Methods(http.MethodPost)

	return router
}

// pushHandler admits one wire-framed Entropy Packet via the Push Receiver,
// mapping its admission result onto the status codes in the external
// interfaces table.
func (rt *Router) pushHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPushBodyBytes+1))
	if err != nil {
		httputil.WriteErrorResponse(w, r, http.StatusBadRequest, "", "failed to read request body", nil)
		return
	}
	if len(body) > maxPushBodyBytes {
		httputil.WriteErrorResponse(w, r, http.StatusRequestEntityTooLarge, "", "packet too large", nil)
		return
	}

	if err := rt.receiver.Admit(body); err != nil {
		if svcErr := errors.GetServiceError(err); svcErr != nil {
			httputil.WriteErrorResponse(w, r, svcErr.HTTPStatus, string(svcErr.Code), svcErr.Message, svcErr.Details)
			return
		}
		httputil.WriteErrorResponse(w, r, http.StatusBadRequest, "", err.Error(), nil)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// writeServiceError renders a *errors.ServiceError (or any error) as the
// standard JSON error envelope.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if svcErr := errors.GetServiceError(err); svcErr != nil {
		httputil.WriteErrorResponse(w, r, svcErr.HTTPStatus, string(svcErr.Code), svcErr.Message, svcErr.Details)
		return
	}
	httputil.WriteErrorResponse(w, r, http.StatusInternalServerError, "", "internal error", nil)
}

func (rt *Router) recordServed(n int) {
	atomic.AddUint64(&rt.totalRequests, 1)
	atomic.AddUint64(&rt.totalBytesServed, uint64(n))
	rt.rps.tick()
	if rt.metrics != nil {
		rt.metrics.RecordBytesServed(n)
	}
}

func (rt *Router) randomHandler(w http.ResponseWriter, r *http.Request) {
	n := httputil.QueryInt(r, "bytes", 0)
	encoding := httputil.QueryString(r, "encoding", "hex")

	data, err := RandomBytes(rt.buf, n)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	rt.recordServed(len(data))

	switch encoding {
	case "base64":
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"bytes":    base64.StdEncoding.EncodeToString(data),
			"encoding": "base64",
		})
	case "raw", "binary":
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	default:
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"bytes":    hex.EncodeToString(data),
			"encoding": "hex",
		})
	}
}

func (rt *Router) integersHandler(w http.ResponseWriter, r *http.Request) {
	count := httputil.QueryInt(r, "count", 0)
	min := httputil.QueryInt64(r, "min", 0)
	max := httputil.QueryInt64(r, "max", 0)

	out, err := RandomIntegers(rt.buf, count, min, max)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	rt.recordServed(count * 8)
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"integers": out})
}

func (rt *Router) floatsHandler(w http.ResponseWriter, r *http.Request) {
	count := httputil.QueryInt(r, "count", 0)

	out, err := RandomFloats(rt.buf, count)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	rt.recordServed(count * 8)
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"floats": out})
}

func (rt *Router) uuidHandler(w http.ResponseWriter, r *http.Request) {
	count := httputil.QueryInt(r, "count", 1)

	ids, err := RandomUUIDs(rt.buf, count)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	rt.recordServed(count * 16)
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"uuids": out})
}

func (rt *Router) statusHandler(w http.ResponseWriter, r *http.Request) {
	warnings := []string{}
	if rt.buf.FillPercent() < rt.cfg.MinHealthyFillPct {
		warnings = append(warnings, "buffer fill below healthy threshold")
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"fill_percent":      rt.buf.FillPercent(),
		"bytes_available":   rt.buf.Len(),
		"freshness_seconds": rt.buf.FreshnessSeconds(),
		"uptime_seconds":    time.Since(rt.startTime).Seconds(),
		"total_bytes_served": atomic.LoadUint64(&rt.totalBytesServed),
		"total_requests":     atomic.LoadUint64(&rt.totalRequests),
		"requests_per_second": rt.rps.rate(),
		"warnings":            warnings,
	})
}

func (rt *Router) monteCarloHandler(w http.ResponseWriter, r *http.Request) {
	iterations := httputil.QueryInt(r, "iterations", 1000)
	if iterations < 1000 || iterations > 10_000_000 {
		writeServiceError(w, r, errors.InvalidRequest("iterations out of range"))
		return
	}

	result, err := EstimatePi(rt.buf, iterations)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	rt.recordServed(iterations * bytesPerTrial)
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (rt *Router) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]interface{}{"status": "ok"}
	if rt.buf.FillPercent() < rt.cfg.MinHealthyFillPct {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
	}
	body["fill_percent"] = rt.buf.FillPercent()
	httputil.WriteJSON(w, status, body)
}

func (rt *Router) readyHandler(w http.ResponseWriter, r *http.Request) {
	staleAfter := rt.cfg.ReadinessStaleAfter
	if staleAfter <= 0 {
		staleAfter = 30 * time.Second
	}
	if rt.receiver.SinceLastAdmission() > staleAfter {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "not_ready",
			"details": map[string]interface{}{
				"push_receiver": "stale",
			},
		})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"status": "ready"})
}

// requestRateTracker reports a short-term (one-second-window) request rate.
type requestRateTracker struct {
	mu          sync.Mutex
	windowStart time.Time
	count       int
	lastRate    float64
}

func (t *requestRateTracker) tick() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	if t.windowStart.IsZero() {
		t.windowStart = now
	}
	if elapsed := now.Sub(t.windowStart); elapsed >= time.Second {
		t.lastRate = float64(t.count) / elapsed.Seconds()
		t.count = 0
		t.windowStart = now
	}
	t.count++
}

func (t *requestRateTracker) rate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastRate
}
