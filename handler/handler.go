package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"counsel-bot/internal/usecase"
)

const (
	signatureHeader   = "X-Line-Signature"
	correlationHeader = "X-Correlation-Id"
	successBody       = "OK"
)

// WebhookRelay runs a signed webhook body through the pipeline.
type WebhookRelay interface {
	HandleWebhook(ctx context.Context, body []byte, signature string) error
}

type Handler struct {
	relay  WebhookRelay
	logger *slog.Logger
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewHandler(relay WebhookRelay) (*Handler, error) {
	if relay == nil {
		return nil, errors.New("handler: relay must not be nil")
	}
	return &Handler{relay: relay, logger: slog.Default()}, nil
}

// Handle serves the webhook behind API Gateway.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	ctx = usecase.WithCorrelationID(ctx, correlationID)

	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			h.logger.Warn("webhook body is not valid base64", "correlation_id", correlationID, "err", err)
			return jsonError(http.StatusBadRequest, usecase.ErrorInvalidInput, correlationID), nil
		}
		body = decoded
	}

	status, code := outcome(h.relay.HandleWebhook(ctx, body, headerValue(req.Headers, signatureHeader)))
	if status != http.StatusOK {
		return jsonError(status, code, correlationID), nil
	}
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Headers: map[string]string{
			"Content-Type":    "text/plain; charset=utf-8",
			correlationHeader: correlationID,
		},
		Body: successBody,
	}, nil
}

// outcome maps a pipeline error to the HTTP status and error code the
// platform sees.
func outcome(err error) (int, usecase.ErrorCode) {
	if err == nil {
		return http.StatusOK, ""
	}
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		return http.StatusInternalServerError, usecase.ErrorInternal
	}
	switch ue.Code {
	case usecase.ErrorAuthentication, usecase.ErrorInvalidInput:
		return http.StatusBadRequest, ue.Code
	default:
		return http.StatusInternalServerError, ue.Code
	}
}

func jsonError(status int, code usecase.ErrorCode, correlationID string) events.APIGatewayProxyResponse {
	b, _ := json.Marshal(errorResponse{Error: string(code)})
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(b),
	}
}

// headerValue looks up key case-insensitively; API Gateway passes headers
// through with the client's casing.
func headerValue(headers map[string]string, key string) string {
	if v, ok := headers[key]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
