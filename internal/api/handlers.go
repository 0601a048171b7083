package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/punchamoorthee/fastpayer/internal/domain"
	"github.com/punchamoorthee/fastpayer/internal/store"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payer_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payer_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

// maxBodyBytes caps payment payloads; memos may be large but not unbounded.
const maxBodyBytes = 1 << 20

// Payer applies a payment message at most once.
type Payer interface {
	Pay(ctx context.Context, msg domain.PaymentMessage) domain.Outcome
}

type Handler struct {
	store store.Store
	payer Payer
}

func NewHandler(s store.Store, p Payer) *Handler {
	return &Handler{store: s, payer: p}
}

// Router wires the handler's routes plus /metrics.
func (h *Handler) Router() *mux.Router {
	// Payment ids are opaque; match on the escaped path so ids containing "/" still route.
	r := mux.NewRouter().UseEncodedPath()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/payments", h.CreatePaymentHandler).Methods(http.MethodPost)
	apiV1.HandleFunc("/payments/{id}", h.GetPaymentHandler).Methods(http.MethodGet)
	return r
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) CreatePaymentHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/payments"))
	defer timer.ObserveDuration()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.respondError(w, http.StatusRequestEntityTooLarge, "Payload too large", "POST", "/payments")
			return
		}
		h.respondError(w, http.StatusBadRequest, "Unable to read request body", "POST", "/payments")
		return
	}

	msg, err := domain.DecodePaymentMessage(body)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", "/payments")
		return
	}

	outcome := h.payer.Pay(r.Context(), msg)
	switch outcome.Status {
	case domain.StatusApplied:
		w.Header().Set("Location", fmt.Sprintf("/api/v1/payments/%s", url.PathEscape(msg.ID)))
		h.respond(w, http.StatusCreated, paymentResponse{Status: outcome.Status, Entry: outcome.Entry}, "POST", "/payments")
	case domain.StatusDuplicate:
		h.respond(w, http.StatusOK, paymentResponse{Status: outcome.Status}, "POST", "/payments")
	default:
		code, text := failureStatus(outcome.Err)
		h.respondError(w, code, text, "POST", "/payments")
	}
}

// GetPaymentHandler reports whether a payment id has been applied and its entry.
func (h *Handler) GetPaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := url.PathUnescape(mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Malformed payment id", "GET", "/payments/{id}")
		return
	}

	applied, err := h.store.HasMarker(r.Context(), id)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "Internal Server Error", "GET", "/payments/{id}")
		return
	}
	if !applied {
		h.respondError(w, http.StatusNotFound, "Payment not found", "GET", "/payments/{id}")
		return
	}
	entries, err := h.store.EntriesForPayment(r.Context(), id)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "Internal Server Error", "GET", "/payments/{id}")
		return
	}
	h.respond(w, http.StatusOK, domain.PaymentRecord{PaymentID: id, Applied: applied, Entries: entries}, "GET", "/payments/{id}")
}

type paymentResponse struct {
	Status domain.Status        `json:"status"`
	Entry  *domain.JournalEntry `json:"entry,omitempty"`
}

func failureStatus(err error) (int, string) {
	var verr *domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrMalformedMessage):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, "Insufficient funds"
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity, verr.Error()
	case errors.Is(err, domain.ErrTransactionFailed):
		return http.StatusServiceUnavailable, "Transaction failed, retry later"
	default:
		return http.StatusInternalServerError, "Internal Server Error"
	}
}

func (h *Handler) respond(w http.ResponseWriter, code int, payload interface{}, method, endpoint string) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	respondWithJSON(w, code, payload)
}

func (h *Handler) respondError(w http.ResponseWriter, code int, msg, method, endpoint string) {
	h.respond(w, code, map[string]string{"error": msg}, method, endpoint)
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
