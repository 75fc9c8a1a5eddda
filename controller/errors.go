package controller

import (
	"encoding/json"
	"errors"
	"net/http"

	"chainlist-backend/model"

	"go.uber.org/zap"
)

const (
	codeMethodNotAllowed   = "method_not_allowed"
	codeInvalidRequestBody = "invalid_request_body"
	codeInvalidID          = "invalid_id"
	codeMissingAccount     = "missing_account"
	codeRouteNotFound      = "route_not_found"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
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

func statusOf(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrAlreadySold):
		return http.StatusConflict
	case errors.Is(err, model.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, model.ErrSelfPurchase):
		return http.StatusForbidden
	case errors.Is(err, model.ErrBalanceOverflow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrLedgerClosed), errors.Is(err, model.ErrSubscriberDropped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeLedgerError maps a usecase error to its status and wire code.
// Internal errors are logged and their detail is not leaked.
func writeLedgerError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
		writeError(w, status, model.CodeInternalError, "internal error")
		return
	}
	writeError(w, status, model.CodeOf(err), err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// allowCORS sets the cross-origin headers and reports whether the request
// was a preflight that has been answered.
func allowCORS(w http.ResponseWriter, r *http.Request) bool {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Account, Last-Event-ID")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return true
	}
	return false
}
