package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/tuitionpay/internal/service"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tuition_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tuition_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

// Headers carrying the authenticated payer, set by the gateway in front of
// this service.
const (
	HeaderPayerID       = "X-Payer-ID"
	HeaderPayerUsername = "X-Payer-Username"
)

type ctxKey struct{}

func payerFrom(ctx context.Context) int64 {
	id, _ := ctx.Value(ctxKey{}).(int64)
	return id
}

// WithPayer returns ctx carrying payerID, as requirePayer does.
func WithPayer(ctx context.Context, payerID int64) context.Context {
	return context.WithValue(ctx, ctxKey{}, payerID)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// instrument records request count and latency per route template.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues(r.Method, endpoint))
		defer timer.ObserveDuration()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		httpRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
	})
}

// requirePayer resolves the payer from X-Payer-ID, or from X-Payer-Username
// when no id is given, and rejects the request otherwise.
func (h *Handler) requirePayer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if raw := strings.TrimSpace(r.Header.Get(HeaderPayerID)); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || id <= 0 {
				respondWithError(w, http.StatusUnauthorized, "Invalid payer identity")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPayer(r.Context(), id)))
			return
		}

		username := strings.TrimSpace(r.Header.Get(HeaderPayerUsername))
		if username == "" {
			respondWithError(w, http.StatusUnauthorized, "Missing payer identity")
			return
		}
		acct, err := h.payments.AccountByUsername(r.Context(), username)
		if err != nil {
			if errors.Is(err, service.ErrAccountNotFound) {
				respondWithError(w, http.StatusUnauthorized, "Unknown payer")
				return
			}
			h.respondServiceError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPayer(r.Context(), acct.ID)))
	})
}
