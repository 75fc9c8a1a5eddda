package controller

import (
	"net/http"
	"strconv"
	"strings"

	"chainlist-backend/model"
	"chainlist-backend/usecase"

	"go.uber.org/zap"
)

// AccountHeader carries the caller's account id. Authenticating it is left
// to whatever sits in front of this service.
const AccountHeader = "X-Account"

type LedgerController struct {
	usecase *usecase.LedgerUsecase
	logger  *zap.Logger
}

func NewLedgerController(usecase *usecase.LedgerUsecase, logger *zap.Logger) *LedgerController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerController{usecase: usecase, logger: logger}
}

type listItemRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       int64  `json:"price"`
}

type listItemResponse struct {
	ID int64 `json:"id"`
}

type purchaseRequest struct {
	Tendered int64 `json:"tendered"`
}

type countResponse struct {
	Count int64 `json:"count"`
}

// HandleItems serves /items: GET lists what is for sale, POST lists a new item.
func (c *LedgerController) HandleItems(w http.ResponseWriter, r *http.Request) {
	if allowCORS(w, r) {
		return
	}

	switch r.Method {
	case http.MethodGet:
		c.getForSale(w, r)
	case http.MethodPost:
		c.listItem(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
	}
}

func (c *LedgerController) getForSale(w http.ResponseWriter, r *http.Request) {
	ids, err := c.usecase.ListForSale(r.Context())
	if err != nil {
		writeLedgerError(w, c.logger, err)
		return
	}
	if ids == nil {
		ids = []int64{}
	}

	if r.URL.Query().Get("all") != "true" {
		writeJSON(w, http.StatusOK, ids)
		return
	}

	items := make([]model.Item, 0, len(ids))
	for _, id := range ids {
		item, err := c.usecase.Get(r.Context(), id)
		if err != nil {
			writeLedgerError(w, c.logger, err)
			return
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, items)
}

func (c *LedgerController) listItem(w http.ResponseWriter, r *http.Request) {
	seller := strings.TrimSpace(r.Header.Get(AccountHeader))
	if seller == "" {
		writeError(w, http.StatusUnauthorized, codeMissingAccount, AccountHeader+" header is required")
		return
	}

	var req listItemRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
		return
	}

	id, err := c.usecase.List(r.Context(), seller, req.Name, req.Description, req.Price)
	if err != nil {
		writeLedgerError(w, c.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, listItemResponse{ID: id})
}

// HandleItemDetail serves /items/count, /items/{id} and /items/{id}/purchase.
func (c *LedgerController) HandleItemDetail(w http.ResponseWriter, r *http.Request) {
	if allowCORS(w, r) {
		return
	}

	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/items/"), "/"), "/")

	switch {
	case len(parts) == 1 && parts[0] == "count":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
			return
		}
		c.count(w, r)
		return
	case len(parts) == 1 || (len(parts) == 2 && parts[1] == "purchase"):
	default:
		writeError(w, http.StatusNotFound, codeRouteNotFound, "route not found")
		return
	}

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, codeInvalidID, "invalid item id")
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		c.getItem(w, r, id)
	case len(parts) == 2 && r.Method == http.MethodPost:
		c.purchase(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
	}
}

func (c *LedgerController) count(w http.ResponseWriter, r *http.Request) {
	n, err := c.usecase.Count(r.Context())
	if err != nil {
		writeLedgerError(w, c.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Count: n})
}

func (c *LedgerController) getItem(w http.ResponseWriter, r *http.Request, id int64) {
	item, err := c.usecase.Get(r.Context(), id)
	if err != nil {
		writeLedgerError(w, c.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (c *LedgerController) purchase(w http.ResponseWriter, r *http.Request, id int64) {
	buyer := strings.TrimSpace(r.Header.Get(AccountHeader))
	if buyer == "" {
		writeError(w, http.StatusUnauthorized, codeMissingAccount, AccountHeader+" header is required")
		return
	}

	var req purchaseRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
		return
	}

	receipt, err := c.usecase.Purchase(r.Context(), buyer, id, req.Tendered)
	if err != nil {
		writeLedgerError(w, c.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}
