package controller

import (
	"net/http"
	"time"

	"chainlist-backend/usecase"

	"go.uber.org/zap"
)

// NewRouter wires every handler onto a fresh mux wrapped in request logging.
func NewRouter(ledger *usecase.LedgerUsecase, accounts *usecase.AccountUsecase, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	ledgerController := NewLedgerController(ledger, logger)
	accountController := NewAccountController(accounts, logger)
	eventController := NewEventController(ledger, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/items", ledgerController.HandleItems)
	mux.HandleFunc("/items/", ledgerController.HandleItemDetail)
	mux.HandleFunc("/accounts/", accountController.HandleAccount)
	mux.HandleFunc("/events", eventController.HandleEvents)
	mux.HandleFunc("/events/history", eventController.HandleHistory)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, codeRouteNotFound, "route not found")
	})

	return RequestLogger(mux, logger)
}

// RequestLogger logs method, path, status and latency of every request.
func RequestLogger(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
