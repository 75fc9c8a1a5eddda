package controller

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"chainlist-backend/model"
	"chainlist-backend/usecase"

	"go.uber.org/zap"
)

const (
	defaultHeartbeat    = 15 * time.Second
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// EventController exposes the ledger's event stream as Server-Sent Events
// and its append-only log as a paged JSON endpoint.
type EventController struct {
	usecase   *usecase.LedgerUsecase
	logger    *zap.Logger
	heartbeat time.Duration
}

func NewEventController(usecase *usecase.LedgerUsecase, logger *zap.Logger) *EventController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventController{usecase: usecase, logger: logger, heartbeat: defaultHeartbeat}
}

// HandleEvents streams events committed after the request arrived. The
// subscription is registered before the response headers are written, so a
// client that has received them will see every later commit.
func (c *EventController) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if allowCORS(w, r) {
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, model.CodeInternalError, "streaming unsupported")
		return
	}

	sub, err := c.usecase.Subscribe(r.Context())
	if err != nil {
		writeLedgerError(w, c.logger, err)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": subscribed\n\n")
	flusher.Flush()

	c.logger.Debug("event stream opened", zap.String("remote", r.RemoteAddr))

	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			c.logger.Debug("event stream closed by client", zap.String("remote", r.RemoteAddr))
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case e, ok := <-sub.Events():
			if !ok {
				cause := sub.Err()
				if cause == nil {
					return
				}
				c.logger.Warn("event stream ended", zap.Error(cause))
				payload, _ := json.Marshal(errorResponse{Error: cause.Error(), Code: model.CodeOf(cause)})
				_, _ = fmt.Fprintf(w, "event: error\ndata: %s\n\n", payload)
				flusher.Flush()
				return
			}
			if err := writeEvent(w, e); err != nil {
				c.logger.Debug("event stream write failed", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, e model.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", e.Seq, e.Kind, payload)
	return err
}

// HandleHistory serves /events/history?after=&limit= in commit order.
func (c *EventController) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if allowCORS(w, r) {
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	var after int64
	if v := q.Get("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, model.CodeInvalidInput, "after must be a non-negative integer")
			return
		}
		after = n
	}
	limit := defaultHistoryLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, model.CodeInvalidInput, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	events, err := c.usecase.History(r.Context(), after, limit)
	if err != nil {
		writeLedgerError(w, c.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}
