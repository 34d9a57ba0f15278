package line

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"counsel-bot/internal/domain"
)

// ErrMalformedPayload is returned for a webhook body that is not valid JSON.
var ErrMalformedPayload = errors.New("line: malformed webhook payload")

type webhookPayload struct {
	Destination string         `json:"destination"`
	Events      []webhookEvent `json:"events"`
}

type webhookEvent struct {
	Type            string          `json:"type"`
	Mode            string          `json:"mode"`
	ReplyToken      string          `json:"replyToken"`
	WebhookEventID  string          `json:"webhookEventId"`
	Source          eventSource     `json:"source"`
	Message         *eventMessage   `json:"message"`
	DeliveryContext deliveryContext `json:"deliveryContext"`
}

type eventSource struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type eventMessage struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Text string `json:"text"`
}

type deliveryContext struct {
	IsRedelivery bool `json:"isRedelivery"`
}

// WebhookParser turns a verified webhook body into text message events.
type WebhookParser struct{}

func (WebhookParser) ParseEvents(body []byte) ([]domain.InboundEvent, error) {
	return ParseEvents(body)
}

// ParseEvents keeps text message events from identifiable users, in payload
// order. Other event and message types are ignored.
func ParseEvents(body []byte) ([]domain.InboundEvent, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	events := make([]domain.InboundEvent, 0, len(payload.Events))
	for _, ev := range payload.Events {
		if ev.Type != "message" || ev.Message == nil || ev.Message.Type != "text" {
			continue
		}
		if ev.Mode == "standby" {
			continue
		}
		userID := strings.TrimSpace(ev.Source.UserID)
		if userID == "" || strings.TrimSpace(ev.ReplyToken) == "" {
			continue
		}
		events = append(events, domain.InboundEvent{
			UserID:         userID,
			Text:           ev.Message.Text,
			ReplyToken:     ev.ReplyToken,
			WebhookEventID: ev.WebhookEventID,
			Redelivery:     ev.DeliveryContext.IsRedelivery,
		})
	}
	return events, nil
}
