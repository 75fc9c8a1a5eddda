package controller

import (
	"net/http"
	"strings"

	"chainlist-backend/usecase"

	"go.uber.org/zap"
)

type AccountController struct {
	usecase *usecase.AccountUsecase
	logger  *zap.Logger
}

func NewAccountController(usecase *usecase.AccountUsecase, logger *zap.Logger) *AccountController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountController{usecase: usecase, logger: logger}
}

type depositRequest struct {
	Amount int64 `json:"amount"`
}

// HandleAccount serves /accounts/{id} and /accounts/{id}/deposit.
func (c *AccountController) HandleAccount(w http.ResponseWriter, r *http.Request) {
	if allowCORS(w, r) {
		return
	}

	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/accounts/"), "/"), "/")
	if parts[0] == "" || len(parts) > 2 || (len(parts) == 2 && parts[1] != "deposit") {
		writeError(w, http.StatusNotFound, codeRouteNotFound, "route not found")
		return
	}
	id := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		acct, err := c.usecase.Balance(r.Context(), id)
		if err != nil {
			writeLedgerError(w, c.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, acct)
	case len(parts) == 2 && r.Method == http.MethodPost:
		var req depositRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}
		acct, err := c.usecase.Deposit(r.Context(), id, req.Amount)
		if err != nil {
			writeLedgerError(w, c.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, acct)
	default:
		writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
	}
}
