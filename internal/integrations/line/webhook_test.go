package line

import (
	"testing"

	"github.com/stretchr/testify/require"

	"counsel-bot/internal/domain"
)

const sampleWebhook = `{
	"destination": "Uxxxxxxxx",
	"events": [
		{
			"type": "message",
			"mode": "active",
			"webhookEventId": "01H0000000000000000000001",
			"replyToken": "reply-1",
			"source": {"type": "user", "userId": "U1"},
			"deliveryContext": {"isRedelivery": false},
			"message": {"id": "1", "type": "text", "text": "hello"}
		},
		{
			"type": "message",
			"replyToken": "reply-2",
			"source": {"type": "user", "userId": "U1"},
			"message": {"id": "2", "type": "image"}
		},
		{
			"type": "follow",
			"replyToken": "reply-3",
			"source": {"type": "user", "userId": "U2"}
		},
		{
			"type": "message",
			"replyToken": "reply-4",
			"source": {"type": "group", "groupId": "G1"},
			"message": {"id": "4", "type": "text", "text": "no user id"}
		},
		{
			"type": "message",
			"mode": "standby",
			"replyToken": "reply-5",
			"source": {"type": "user", "userId": "U3"},
			"message": {"id": "5", "type": "text", "text": "standby"}
		},
		{
			"type": "message",
			"webhookEventId": "01H0000000000000000000006",
			"replyToken": "reply-6",
			"source": {"type": "user", "userId": "U2"},
			"deliveryContext": {"isRedelivery": true},
			"message": {"id": "6", "type": "text", "text": "again"}
		}
	]
}`

func TestParseEvents_KeepsTextMessagesInOrder(t *testing.T) {
	events, err := ParseEvents([]byte(sampleWebhook))
	require.NoError(t, err)
	require.Equal(t, []domain.InboundEvent{
		{UserID: "U1", Text: "hello", ReplyToken: "reply-1", WebhookEventID: "01H0000000000000000000001"},
		{UserID: "U2", Text: "again", ReplyToken: "reply-6", WebhookEventID: "01H0000000000000000000006", Redelivery: true},
	}, events)
}

func TestParseEvents_VerificationCallHasNoEvents(t *testing.T) {
	events, err := WebhookParser{}.ParseEvents([]byte(`{"destination":"U0","events":[]}`))
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestParseEvents_Malformed(t *testing.T) {
	_, err := ParseEvents([]byte(`{"events":`))
	require.ErrorIs(t, err, ErrMalformedPayload)
}
