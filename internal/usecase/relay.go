package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"counsel-bot/internal/domain"
	"counsel-bot/internal/integrations/line"
	"counsel-bot/internal/integrations/openai"
	"counsel-bot/internal/repository"
)

const (
	defaultWindowSize       = 3
	defaultMaxParallelUsers = 8
	maxAppendAttempts       = 3
)

type Verifier interface {
	Verify(rawBody []byte, signatureHeader string) error
}

type EventParser interface {
	ParseEvents(body []byte) ([]domain.InboundEvent, error)
}

type MemoryStore interface {
	LoadRecent(ctx context.Context, userID string, limit int) ([]domain.Exchange, error)
	Append(ctx context.Context, userID, question, answer string, at time.Time) error
}

type CompletionClient interface {
	Complete(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
}

type ReplyDispatcher interface {
	Reply(ctx context.Context, replyToken, text string) error
}

// Recorder receives one observation per finished turn.
type Recorder interface {
	ObserveTurn(outcome, stage string, elapsed time.Duration)
	ObserveRejectedWebhook()
	IncMemoryInconsistency()
}

type Deps struct {
	Verifier   Verifier
	Parser     EventParser
	Store      MemoryStore
	Completion CompletionClient
	Dispatcher ReplyDispatcher
	Recorder   Recorder
	Logger     *slog.Logger
}

type Settings struct {
	Persona          string
	Model            string
	WindowSize       int
	MaxReplyRunes    int
	MaxParallelUsers int
}

// Relay runs the verify -> load -> prompt -> complete -> reply -> persist
// pipeline for every text message in a webhook.
type Relay struct {
	verifier   Verifier
	parser     EventParser
	store      MemoryStore
	completion CompletionClient
	dispatcher ReplyDispatcher
	recorder   Recorder
	logger     *slog.Logger

	persona          string
	model            string
	windowSize       int
	maxReplyRunes    int
	maxParallelUsers int

	locks *userLocks
	now   func() time.Time
}

func NewRelay(deps Deps, s Settings) (*Relay, error) {
	if deps.Verifier == nil {
		return nil, errors.New("usecase: verifier must not be nil")
	}
	if deps.Parser == nil {
		return nil, errors.New("usecase: event parser must not be nil")
	}
	if deps.Store == nil {
		return nil, errors.New("usecase: memory store must not be nil")
	}
	if deps.Completion == nil {
		return nil, errors.New("usecase: completion client must not be nil")
	}
	if deps.Dispatcher == nil {
		return nil, errors.New("usecase: reply dispatcher must not be nil")
	}
	if strings.TrimSpace(s.Persona) == "" {
		return nil, errors.New("usecase: persona must not be empty")
	}
	if strings.TrimSpace(s.Model) == "" {
		return nil, errors.New("usecase: model must not be empty")
	}
	if s.WindowSize <= 0 {
		s.WindowSize = defaultWindowSize
	}
	if s.MaxReplyRunes <= 0 {
		s.MaxReplyRunes = line.MaxTextLength
	}
	if s.MaxParallelUsers <= 0 {
		s.MaxParallelUsers = defaultMaxParallelUsers
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Relay{
		verifier:         deps.Verifier,
		parser:           deps.Parser,
		store:            deps.Store,
		completion:       deps.Completion,
		dispatcher:       deps.Dispatcher,
		recorder:         deps.Recorder,
		logger:           deps.Logger,
		persona:          s.Persona,
		model:            s.Model,
		windowSize:       s.WindowSize,
		maxReplyRunes:    s.MaxReplyRunes,
		maxParallelUsers: s.MaxParallelUsers,
		locks:            newUserLocks(),
		now:              time.Now,
	}, nil
}

// HandleWebhook authenticates body and runs every text message event in it.
// Events of one user run in payload order; different users run in parallel.
// All events are attempted; the first failure is returned.
func (r *Relay) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	if err := r.verifier.Verify(body, signature); err != nil {
		r.recorder.ObserveRejectedWebhook()
		r.logger.Warn("webhook rejected",
			"stage", StageRejected,
			"correlation_id", CorrelationID(ctx),
			"err", err,
		)
		return newError(ErrorAuthentication, "invalid_signature", StageReceived, err)
	}

	events, err := r.parser.ParseEvents(body)
	if err != nil {
		r.logger.Warn("webhook payload rejected", "correlation_id", CorrelationID(ctx), "err", err)
		return newError(ErrorInvalidInput, "malformed_payload", StageVerified, err)
	}
	if len(events) == 0 {
		return nil
	}

	order := make([]string, 0, len(events))
	byUser := make(map[string][]domain.InboundEvent, len(events))
	for _, ev := range events {
		if _, seen := byUser[ev.UserID]; !seen {
			order = append(order, ev.UserID)
		}
		byUser[ev.UserID] = append(byUser[ev.UserID], ev)
	}

	var g errgroup.Group
	g.SetLimit(r.maxParallelUsers)
	for _, userID := range order {
		userEvents := byUser[userID]
		g.Go(func() error {
			var firstErr error
			for _, ev := range userEvents {
				if err := r.HandleEvent(ctx, ev); err != nil && firstErr == nil {
					firstErr = err
				}
			}
			return firstErr
		})
	}
	return g.Wait()
}

// HandleEvent runs one turn for an already verified event. The exchange is
// persisted only after the reply was dispatched.
func (r *Relay) HandleEvent(ctx context.Context, ev domain.InboundEvent) (err error) {
	start := r.now()
	stage := StageVerified
	defer func() { r.finish(ctx, ev, stage, err, start) }()

	unlock := r.locks.Lock(ev.UserID)
	defer unlock()

	window, err := r.store.LoadRecent(ctx, ev.UserID, r.windowSize)
	if err != nil {
		return newError(ErrorStoreUnavailable, "history_load_error", stage, err)
	}
	stage = StageHistoryLoaded

	messages := BuildPrompt(r.persona, window, ev.Text)
	stage = StagePromptBuilt

	answer, err := r.completion.Complete(ctx, r.model, messages)
	if err != nil {
		return newError(ErrorCompletion, completionReason(err), stage, err)
	}
	stage = StageCompleted

	reply := domain.OutboundReply{ReplyToken: ev.ReplyToken, Text: truncateRunes(answer, r.maxReplyRunes)}
	if err := r.dispatcher.Reply(ctx, reply.ReplyToken, reply.Text); err != nil {
		return newError(ErrorDispatch, dispatchReason(err), stage, err)
	}
	stage = StageDispatched

	if err := r.persist(ctx, ev, reply.Text); err != nil {
		return newError(ErrorStoreUnavailable, reasonMemoryInconsistency, stage, err)
	}
	stage = StageDone
	return nil
}

// persist appends the exchange, retrying when another process took the next
// sequence number first.
func (r *Relay) persist(ctx context.Context, ev domain.InboundEvent, reply string) error {
	var err error
	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		err = r.store.Append(ctx, ev.UserID, ev.Text, reply, r.now().UTC())
		if !errors.Is(err, repository.ErrSequenceConflict) {
			return err
		}
		r.logger.Warn("exchange sequence conflict", "user_id", ev.UserID, "attempt", attempt+1)
	}
	return err
}

func (r *Relay) finish(ctx context.Context, ev domain.InboundEvent, stage Stage, err error, start time.Time) {
	elapsed := r.now().Sub(start)
	if err == nil {
		r.recorder.ObserveTurn(string(StageDone), string(stage), elapsed)
		r.logger.Info("turn completed",
			"user_id", ev.UserID,
			"webhook_event_id", ev.WebhookEventID,
			"correlation_id", CorrelationID(ctx),
			"duration_ms", elapsed.Milliseconds(),
		)
		return
	}

	r.recorder.ObserveTurn(string(StageFailed), string(stage), elapsed)
	attrs := []any{
		"user_id", ev.UserID,
		"webhook_event_id", ev.WebhookEventID,
		"redelivery", ev.Redelivery,
		"correlation_id", CorrelationID(ctx),
		"stage", stage,
		"duration_ms", elapsed.Milliseconds(),
	}
	var ue *Error
	if errors.As(err, &ue) {
		attrs = append(attrs, "code", ue.Code, "reason", ue.Reason)
	}
	attrs = append(attrs, "err", err)

	if ue.Delivered() {
		r.recorder.IncMemoryInconsistency()
		r.logger.Error("reply delivered but exchange not persisted", attrs...)
		return
	}
	r.logger.Error("turn failed", attrs...)
}

func completionReason(err error) string {
	switch {
	case errors.Is(err, openai.ErrTimeout):
		return "completion_timeout"
	case errors.Is(err, openai.ErrRateLimited):
		return "completion_rate_limited"
	case errors.Is(err, openai.ErrMalformedResponse):
		return "completion_malformed"
	default:
		return "completion_error"
	}
}

func dispatchReason(err error) string {
	switch {
	case errors.Is(err, line.ErrInvalidReplyToken):
		return "reply_token_invalid"
	case errors.Is(err, line.ErrPlatformUnavailable):
		return "platform_unavailable"
	default:
		return "dispatch_error"
	}
}

type nopRecorder struct{}

func (nopRecorder) ObserveTurn(string, string, time.Duration) {}
func (nopRecorder) ObserveRejectedWebhook()                   {}
func (nopRecorder) IncMemoryInconsistency()                   {}
