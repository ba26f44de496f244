package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/punchamoorthee/tuitionpay/internal/domain"
	"github.com/punchamoorthee/tuitionpay/internal/otp"
	"github.com/punchamoorthee/tuitionpay/internal/service"
)

// Payments is the orchestrator surface the handlers call.
type Payments interface {
	Initiate(ctx context.Context, payerID int64, studentID, period string) (*service.InitiateResult, error)
	Confirm(ctx context.Context, payerID, txnID int64, code string) (*domain.Receipt, error)
	ResendOTP(ctx context.Context, payerID, txnID int64) (*service.ResendResult, error)
	ReconcileExpired(ctx context.Context) (service.ReconcileReport, error)
	History(ctx context.Context, payerID int64) ([]domain.HistoryEntry, error)
	LookupBill(ctx context.Context, studentID, period string) (*domain.Bill, error)
	Account(ctx context.Context, payerID int64) (*domain.Account, error)
	AccountByUsername(ctx context.Context, username string) (*domain.Account, error)
}

type Handler struct {
	payments Payments
	logger   *zap.Logger
}

func NewHandler(p Payments, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{payments: p, logger: logger}
}

// Router wires every route. Payment and account routes require a payer
// identity header.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(instrument)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(h.requirePayer)
	v1.HandleFunc("/payments/initiate", h.InitiateHandler).Methods(http.MethodPost)
	v1.HandleFunc("/payments/confirm", h.ConfirmHandler).Methods(http.MethodPost)
	v1.HandleFunc("/payments/resend-otp", h.ResendOTPHandler).Methods(http.MethodPost)
	v1.HandleFunc("/payments/cleanup-expired", h.CleanupExpiredHandler).Methods(http.MethodPost)
	v1.HandleFunc("/payments/history", h.HistoryHandler).Methods(http.MethodGet)
	v1.HandleFunc("/tuition/lookup", h.LookupHandler).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/me", h.MeHandler).Methods(http.MethodGet)
	return r
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) InitiateHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.InitiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	if domain.NormalizeStudentID(req.StudentID) == "" {
		respondWithError(w, http.StatusBadRequest, "student_id is required")
		return
	}

	res, err := h.payments.Initiate(r.Context(), payerFrom(r.Context()), req.StudentID, req.Period)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"transaction_id": res.TransactionID,
		"ttl_seconds":    res.TTLSeconds,
		"message":        "OTP sent",
	})
}

func (h *Handler) ConfirmHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	if req.TransactionID <= 0 || req.OTP == "" {
		respondWithError(w, http.StatusBadRequest, "transaction_id and otp are required")
		return
	}

	rcpt, err := h.payments.Confirm(r.Context(), payerFrom(r.Context()), req.TransactionID, req.OTP)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"message": "Payment successful",
		"receipt": rcpt,
	})
}

func (h *Handler) ResendOTPHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.ResendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	if req.TransactionID <= 0 {
		respondWithError(w, http.StatusBadRequest, "transaction_id is required")
		return
	}

	res, err := h.payments.ResendOTP(r.Context(), payerFrom(r.Context()), req.TransactionID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"message":          "OTP resent",
		"ttl_seconds":      res.TTLSeconds,
		"resend_count":     res.ResendCount,
		"resend_remaining": res.ResendRemaining,
	})
}

func (h *Handler) CleanupExpiredHandler(w http.ResponseWriter, r *http.Request) {
	report, err := h.payments.ReconcileExpired(r.Context())
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, report)
}

func (h *Handler) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	entries, err := h.payments.History(r.Context(), payerFrom(r.Context()))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, entries)
}

func (h *Handler) LookupHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if domain.NormalizeStudentID(q.Get("student_id")) == "" {
		respondWithError(w, http.StatusBadRequest, "student_id is required")
		return
	}
	bill, err := h.payments.LookupBill(r.Context(), q.Get("student_id"), q.Get("period"))
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "Tuition not found")
			return
		}
		h.respondServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, bill)
}

func (h *Handler) MeHandler(w http.ResponseWriter, r *http.Request) {
	acct, err := h.payments.Account(r.Context(), payerFrom(r.Context()))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, acct)
}

// statusFor maps a service outcome to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrBusy):
		return http.StatusLocked
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidTransaction),
		errors.Is(err, service.ErrInvalidStatus),
		errors.Is(err, service.ErrOTPExpired):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrOTPMismatch):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrTooManyAttempts),
		errors.Is(err, service.ErrCooldown),
		errors.Is(err, service.ErrResendBudgetExhausted):
		return http.StatusTooManyRequests
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		respondWithError(w, code, "Internal Server Error")
		return
	}

	var cd *otp.CooldownError
	if errors.As(err, &cd) {
		secs := cd.RetryAfterSeconds()
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
		respondWithJSON(w, code, map[string]any{
			"error":               "Please wait before requesting another OTP",
			"retry_after_seconds": secs,
		})
		return
	}
	respondWithError(w, code, err.Error())
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
