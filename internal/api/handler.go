package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/loanledger/internal/domain"
	"github.com/punchamoorthee/loanledger/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Metrics
var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loanledger_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "loanledger_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

const (
	endpointBorrow      = "/borrowing/borrow"
	endpointReturn      = "/borrowing/{txId}/return"
	endpointOverdue     = "/borrowing/{txId}/overdue"
	endpointTransaction = "/borrowing/{txId}"

	maxRequestBodyBytes = 1 << 20
)

// Borrowing is the set of operations the handler exposes.
type Borrowing interface {
	Borrow(ctx context.Context, req domain.BorrowRequest) (uuid.UUID, error)
	ReturnBook(ctx context.Context, req domain.ReturnRequest) error
	MarkOverdue(ctx context.Context, id uuid.UUID) error
	GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
}

type Handler struct {
	borrowing Borrowing
}

func NewHandler(b Borrowing) *Handler {
	return &Handler{borrowing: b}
}

// Register mounts the borrowing routes under r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(RequestBodyLimit(maxRequestBodyBytes))
	staff := RequireRole(RoleAdmin, RoleLibrarian)
	admin := RequireRole(RoleAdmin)

	v1.Handle(endpointBorrow, staff(http.HandlerFunc(h.BorrowHandler))).Methods(http.MethodPost)
	v1.Handle(endpointReturn, staff(http.HandlerFunc(h.ReturnHandler))).Methods(http.MethodPost)
	v1.Handle(endpointOverdue, admin(http.HandlerFunc(h.MarkOverdueHandler))).Methods(http.MethodPost)
	v1.Handle(endpointTransaction, staff(http.HandlerFunc(h.GetTransactionHandler))).Methods(http.MethodGet)
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"}, http.MethodGet, "/health")
}

func (h *Handler) BorrowHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues(http.MethodPost, endpointBorrow))
	defer timer.ObserveDuration()

	body, err := io.ReadAll(r.Body)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		respondError(w, http.StatusRequestEntityTooLarge, "Request body too large", http.MethodPost, endpointBorrow)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Stream read error", http.MethodPost, endpointBorrow)
		return
	}

	var req domain.BorrowRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON", http.MethodPost, endpointBorrow)
		return
	}
	if req.MemberID == uuid.Nil || req.BookID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "member_id and book_id are required", http.MethodPost, endpointBorrow)
		return
	}

	id, err := h.borrowing.Borrow(r.Context(), req)
	if err != nil {
		respondDomainError(w, err, http.MethodPost, endpointBorrow)
		return
	}

	w.Header().Set("Location", "/api/v1/borrowing/"+id.String())
	respondJSON(w, http.StatusCreated, domain.BorrowResponse{ID: id}, http.MethodPost, endpointBorrow)
}

// ReturnHandler closes a loan. The optional returnedAt query parameter is an
// RFC 3339 timestamp; clients should percent-encode a "+" offset as %2B.
func (h *Handler) ReturnHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues(http.MethodPost, endpointReturn))
	defer timer.ObserveDuration()

	id, ok := pathID(w, r, http.MethodPost, endpointReturn)
	if !ok {
		return
	}

	req := domain.ReturnRequest{TransactionID: id}
	if raw := r.URL.Query().Get("returnedAt"); raw != "" {
		at, err := parseQueryTime(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "returnedAt must be RFC3339", http.MethodPost, endpointReturn)
			return
		}
		req.ReturnedAt = &at
	}

	if err := h.borrowing.ReturnBook(r.Context(), req); err != nil {
		respondDomainError(w, err, http.MethodPost, endpointReturn)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "returned"}, http.MethodPost, endpointReturn)
}

func (h *Handler) MarkOverdueHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues(http.MethodPost, endpointOverdue))
	defer timer.ObserveDuration()

	id, ok := pathID(w, r, http.MethodPost, endpointOverdue)
	if !ok {
		return
	}

	if err := h.borrowing.MarkOverdue(r.Context(), id); err != nil {
		respondDomainError(w, err, http.MethodPost, endpointOverdue)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"}, http.MethodPost, endpointOverdue)
}

func (h *Handler) GetTransactionHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues(http.MethodGet, endpointTransaction))
	defer timer.ObserveDuration()

	id, ok := pathID(w, r, http.MethodGet, endpointTransaction)
	if !ok {
		return
	}

	t, err := h.borrowing.GetTransaction(r.Context(), id)
	if err != nil {
		respondDomainError(w, err, http.MethodGet, endpointTransaction)
		return
	}
	respondJSON(w, http.StatusOK, t, http.MethodGet, endpointTransaction)
}

// Helpers
func pathID(w http.ResponseWriter, r *http.Request, method, endpoint string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["txId"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid transaction id", method, endpoint)
		return uuid.Nil, false
	}
	return id, true
}

// parseQueryTime parses an RFC 3339 query value. An unencoded "+" in the zone
// offset decodes to a space, so a space is read back as "+".
func parseQueryTime(raw string) (time.Time, error) {
	return time.Parse(time.RFC3339, strings.ReplaceAll(strings.TrimSpace(raw), " ", "+"))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, store.ErrLockUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondDomainError(w http.ResponseWriter, err error, method, endpoint string) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		msg = "Internal error"
	}
	respondError(w, code, msg, method, endpoint)
}

func respondJSON(w http.ResponseWriter, code int, payload interface{}, method, endpoint string) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, code int, msg, method, endpoint string) {
	respondJSON(w, code, map[string]string{"error": msg}, method, endpoint)
}
