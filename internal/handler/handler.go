package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"merchant-actions-api/internal/database"
	"merchant-actions-api/internal/deeplink"
	"merchant-actions-api/internal/models"
	"merchant-actions-api/internal/service"
	"merchant-actions-api/internal/validation"
)

// sessionHeader carries the caller's session id, when one exists.
const sessionHeader = "X-Session-Id"

// Handler provides HTTP handlers for the API.
type Handler struct {
	service     *service.Service
	authFlow    *service.AuthFlow
	maxBodySize int64
}

// NewHandlerOptions holds options for creating a handler.
type NewHandlerOptions struct {
	MaxBodySize int64
}

// DefaultHandlerOptions returns default handler options.
func DefaultHandlerOptions() NewHandlerOptions {
	return NewHandlerOptions{
		MaxBodySize: 10 << 20, // 10MB default
	}
}

// NewHandler creates a new handler instance.
func NewHandler(svc *service.Service, flow *service.AuthFlow) *Handler {
	return NewHandlerWithOptions(svc, flow, DefaultHandlerOptions())
}

// NewHandlerWithOptions creates a new handler instance with custom options.
func NewHandlerWithOptions(svc *service.Service, flow *service.AuthFlow, opts NewHandlerOptions) *Handler {
	return &Handler{
		service:     svc,
		authFlow:    flow,
		maxBodySize: opts.MaxBodySize,
	}
}

// CreateTransactions handles POST /transactions
func (h *Handler) CreateTransactions(w http.ResponseWriter, r *http.Request) {
	// Limit request body size to prevent abuse
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req models.CreateTransactionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err == io.EOF {
			h.respondError(w, http.StatusBadRequest, "request body is required")
			return
		}
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return
	}

	// Sanitize the free-text fields before they reach validation
	for i := range req.Transactions {
		txn := &req.Transactions[i]
		txn.ID = validation.SanitizeString(txn.ID)
		txn.MerchantID = validation.SanitizeString(txn.MerchantID)
		txn.Provider = validation.SanitizeString(txn.Provider)
		txn.Status = validation.SanitizeString(txn.Status)
	}

	inserted, err := h.service.IngestTransactions(r.Context(), req.Transactions)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.respondJSON(w, http.StatusCreated, models.CreateTransactionsResponse{
		Inserted: inserted,
	})
}

// GetTransactionActions handles GET /transactions/{transaction_id}/actions
func (h *Handler) GetTransactionActions(w http.ResponseWriter, r *http.Request) {
	id := validation.SanitizeString(chi.URLParam(r, "transaction_id"))
	if id == "" {
		h.respondError(w, http.StatusBadRequest, "transaction_id is required")
		return
	}

	now, ok := h.evaluationTime(w, r)
	if !ok {
		return
	}

	actions, err := h.service.TransactionActions(r.Context(), id, now)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, "transaction not found")
			return
		}
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.respondJSON(w, http.StatusOK, actions)
}

// GetMerchantTransactions handles GET /merchants/{merchant_id}/transactions
func (h *Handler) GetMerchantTransactions(w http.ResponseWriter, r *http.Request) {
	merchantID := validation.SanitizeString(chi.URLParam(r, "merchant_id"))
	if merchantID == "" {
		h.respondError(w, http.StatusBadRequest, "merchant_id is required")
		return
	}

	now, ok := h.evaluationTime(w, r)
	if !ok {
		return
	}

	actions, err := h.service.MerchantTransactions(r.Context(), merchantID, now, 100)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.respondJSON(w, http.StatusOK, actions)
}

// handoffRequest is the POST /auth/handoff body: structured parameters, a
// raw launch URL, or both.
type handoffRequest struct {
	Params    deeplink.Params `json:"params"`
	LaunchURL string          `json:"launchUrl,omitempty"`
}

// Handoff handles POST /auth/handoff
func (h *Handler) Handoff(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req handoffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return
	}

	sessionID := r.Header.Get(sessionHeader)
	result, err := h.authFlow.Handoff(r.Context(), req.Params, req.LaunchURL, sessionID)
	if err != nil {
		// Token-exchange failures surface a generic message with the login
		// redirect; the detail stays in the logs.
		h.respondJSON(w, http.StatusUnauthorized, result)
		return
	}

	status := http.StatusOK
	if result.State == deeplink.StateError {
		status = http.StatusUnprocessableEntity
	}
	h.respondJSON(w, status, result)
}

// mintRequest is the POST /auth/links body.
type mintRequest struct {
	deeplink.Params
}

type mintResponse struct {
	URL string `json:"url"`
}

// MintLink handles POST /auth/links
func (h *Handler) MintLink(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req mintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return
	}

	link, err := h.authFlow.MintLink(req.Params)
	if err != nil {
		if errors.Is(err, service.ErrMintingDisabled) {
			h.respondError(w, http.StatusForbidden, err.Error())
			return
		}
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.respondJSON(w, http.StatusCreated, mintResponse{URL: link})
}

// evaluationTime resolves the optional 'now' query parameter, defaulting to
// the current time.
func (h *Handler) evaluationTime(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	now := time.Now()
	if nowParam := r.URL.Query().Get("now"); nowParam != "" {
		parsed, err := validation.ValidateTimeString(validation.SanitizeString(nowParam))
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid 'now' parameter, must be RFC3339 format")
			return time.Time{}, false
		}
		now = parsed
	}
	return now, true
}

// respondJSON sends a JSON response with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response with the given status code and message.
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, models.ErrorResponse{Error: message})
}
