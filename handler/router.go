package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"counsel-bot/internal/usecase"
)

const maxBodyBytes = 1 << 20

// NewRouter serves the webhook on POST /callback along with /healthz and,
// when metrics is non-nil, /metrics.
func NewRouter(h *Handler, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	r.Post("/callback", h.ServeCallback)
	return r
}

// ServeCallback is the net/http form of Handle. The pipeline keeps running if
// the platform disconnects, so a delivered reply is still persisted.
func (h *Handler) ServeCallback(w http.ResponseWriter, r *http.Request) {
	correlationID := strings.TrimSpace(r.Header.Get(correlationHeader))
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	w.Header().Set(correlationHeader, correlationID)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.logger.Warn("webhook body too large", "correlation_id", correlationID, "limit", tooLarge.Limit)
		}
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput)})
		return
	}

	ctx := usecase.WithCorrelationID(context.WithoutCancel(r.Context()), correlationID)
	status, code := outcome(h.relay.HandleWebhook(ctx, body, r.Header.Get(signatureHeader)))
	if status != http.StatusOK {
		respondJSON(w, status, errorResponse{Error: string(code)})
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, successBody)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
