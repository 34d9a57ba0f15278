package domain

import "time"

// Exchange is one persisted question/answer pair. Sequence is assigned by the
// store and increases by one per user; it breaks ties between equal timestamps.
type Exchange struct {
	Sequence  int64
	Timestamp time.Time
	Question  string
	Answer    string
}

// ConversationWindow holds the most recent exchanges for a user, oldest first.
type ConversationWindow []Exchange

// InboundEvent is a single text message received from the message source.
type InboundEvent struct {
	UserID         string
	Text           string
	ReplyToken     string
	WebhookEventID string
	Redelivery     bool
}

// OutboundReply is the text delivered back through a reply token.
type OutboundReply struct {
	ReplyToken string
	Text       string
}
