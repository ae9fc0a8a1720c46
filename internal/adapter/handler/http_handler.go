package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/seventeenk/storefront/internal/adapter/payment"
	"github.com/seventeenk/storefront/internal/core/domain"
	"github.com/seventeenk/storefront/internal/core/service"
)

const maxBodyBytes = 1 << 20

type HTTPHandler struct {
	fulfillment *service.FulfillmentService
	catalog     *service.CatalogService
	log         *zap.Logger
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

type AckResponse struct {
	OK        bool `json:"ok"`
	Duplicate bool `json:"duplicate,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func NewHTTPHandler(fulfillment *service.FulfillmentService, catalog *service.CatalogService, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{fulfillment: fulfillment, catalog: catalog, log: logger.Named("http")}
}

// Routes returns the public API with middleware applied.
func (h *HTTPHandler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.HealthCheck)
	mux.HandleFunc("POST /api/free-download", h.FreeDownload)
	mux.HandleFunc("POST /api/grey/initiate", h.InitiatePayment)
	mux.HandleFunc("POST /api/grey/webhook", h.PaymentWebhook)
	mux.HandleFunc("GET /api/items", h.ListItems)
	mux.HandleFunc("GET /api/items/{id}", h.GetItem)
	mux.HandleFunc("GET /api/posts", h.ListPosts)
	mux.HandleFunc("GET /api/posts/{id}", h.GetPost)

	return withMiddleware(h.log, mux)
}

// withMiddleware keeps access logging outside recovery so a panicking
// request is still logged with its 500.
func withMiddleware(logger *zap.Logger, next http.Handler) http.Handler {
	return WithRequestID(WithLogging(logger, WithRecovery(logger, WithBodyLimit(maxBodyBytes, next))))
}

func (h *HTTPHandler) FreeDownload(w http.ResponseWriter, r *http.Request) {
	var req domain.FulfillmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if err := h.fulfillment.FreeDownload(r.Context(), req); err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (h *HTTPHandler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req domain.FulfillmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	session, err := h.fulfillment.InitiatePayment(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// PaymentWebhook needs the raw body because the signature covers its bytes.
func (h *HTTPHandler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	outcome, err := h.fulfillment.HandleWebhook(r.Context(), r.Header.Get(payment.SignatureHeader), body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	switch outcome {
	case service.WebhookFulfilled:
		writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
	case service.WebhookDuplicate:
		writeJSON(w, http.StatusOK, AckResponse{OK: true, Duplicate: true})
	default:
		writeJSON(w, http.StatusOK, AckResponse{OK: true})
	}
}

func (h *HTTPHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.catalog.ListItems(r.Context(), r.URL.Query().Get("type"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *HTTPHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	detail, err := h.catalog.GetItem(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *HTTPHandler) ListPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := h.catalog.ListPosts(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

func (h *HTTPHandler) GetPost(w http.ResponseWriter, r *http.Request) {
	post, err := h.catalog.GetPost(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeError maps service errors to a status and a message. Server-side
// failures get a generic message; the cause is only logged.
func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		status, message = http.StatusBadRequest, "invalid request"
	case errors.Is(err, service.ErrUnauthenticated):
		status, message = http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, service.ErrForbidden):
		status, message = http.StatusForbidden, "item not available for this checkout"
	case errors.Is(err, service.ErrNotFound):
		status, message = http.StatusNotFound, "not found"
	case errors.Is(err, service.ErrUnfulfillable):
		status, message = http.StatusConflict, "item cannot be delivered"
	case errors.Is(err, service.ErrUpstream):
		status, message = http.StatusBadGateway, "upstream failure"
	}

	logger := h.log.With(zap.String("request_id", RequestIDFromContext(r.Context())), zap.Int("status", status), zap.Error(err))
	if service.IsClientError(err) {
		logger.Info("request rejected")
	} else {
		logger.Error("request failed")
	}

	writeJSON(w, status, ErrorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
