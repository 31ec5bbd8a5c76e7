package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rl1809/cart-checkout/internal/core/domain"
)

const (
	codeInvalidRequestBody      = "invalid_request_body"
	codeInvalidParameter        = "invalid_parameter"
	codeValidation              = "validation_failed"
	codeQuantityExceedsCap      = "quantity_exceeds_cap"
	codeProductNotFound         = "product_not_found"
	codeNotFound                = "not_found"
	codeEmptyCart               = "empty_cart"
	codeInsufficientStock       = "insufficient_stock"
	codeInvalidStatusTransition = "invalid_status_transition"
	codeDuplicateCheckout       = "duplicate_checkout"
	codeTransient               = "transient_store_error"
	codeInternalError           = "internal_error"
)

// retryAfterSeconds is sent with 503 responses for transient store errors.
const retryAfterSeconds = "1"

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// classifyError maps a service error to an HTTP status and error code.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrQuantityExceedsCap):
		return http.StatusBadRequest, codeQuantityExceedsCap
	case domain.IsValidation(err):
		return http.StatusBadRequest, codeValidation
	case errors.Is(err, domain.ErrProductNotFound):
		return http.StatusNotFound, codeProductNotFound
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, domain.ErrEmptyCart):
		return http.StatusUnprocessableEntity, codeEmptyCart
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusConflict, codeInsufficientStock
	case errors.Is(err, domain.ErrInvalidStatusTransition):
		return http.StatusConflict, codeInvalidStatusTransition
	case errors.Is(err, domain.ErrDuplicateCheckout):
		return http.StatusConflict, codeDuplicateCheckout
	case errors.Is(err, domain.ErrTransientStore):
		return http.StatusServiceUnavailable, codeTransient
	default:
		return http.StatusInternalServerError, codeInternalError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	status, code := classifyError(err)
	msg := err.Error()
	switch status {
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", retryAfterSeconds)
		msg = "temporarily unavailable, retry the request"
	case http.StatusInternalServerError:
		msg = "internal error"
	}
	writeError(w, status, code, msg)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	payload, err := json.Marshal(errorResponse{
		Error: msg,
		Code:  code,
	})
	if err != nil {
		_, _ = w.Write([]byte(`{"error":"internal error","code":"internal_error"}`))
		return
	}
	_, _ = w.Write(payload)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
