package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"counsel-bot/internal/config"
	"counsel-bot/internal/integrations/line"
	"counsel-bot/internal/integrations/openai"
	"counsel-bot/internal/integrations/paramstore"
	"counsel-bot/internal/reliability"
	"counsel-bot/internal/repository"
	"counsel-bot/internal/signature"
	"counsel-bot/internal/usecase"
)

// NewLogger returns the JSON stdout logger both entrypoints use.
func NewLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// Resources are the startup inputs that come from outside the process.
type Resources struct {
	Params   paramstore.Getter
	DynamoDB repository.DynamoDBAPI
	Recorder usecase.Recorder
	Logger   *slog.Logger
	Lookup   config.LookupFunc
}

// Build resolves credentials and persona, opens the configured store and
// assembles the relay. The returned store must be closed by the caller.
func Build(ctx context.Context, cfg config.Config, res Resources) (*usecase.Relay, repository.Store, error) {
	creds, err := config.LoadCredentials(ctx, cfg, res.Params, res.Lookup)
	if err != nil {
		return nil, nil, fmt.Errorf("load credentials: %w", err)
	}
	persona, err := config.LoadPersona(ctx, cfg, res.Params)
	if err != nil {
		return nil, nil, fmt.Errorf("load persona: %w", err)
	}

	verifier, err := signature.NewVerifier(creds.ChannelSecret)
	if err != nil {
		return nil, nil, fmt.Errorf("create verifier: %w", err)
	}
	completion, err := openai.NewClient(creds.OpenAIKey,
		openai.WithBaseURL(cfg.OpenAIBaseURL),
		openai.WithCallTimeout(cfg.CallTimeout),
		openai.WithRetryPolicy(reliability.Policy{
			MaxAttempts: cfg.CompletionTries,
			BaseDelay:   250 * time.Millisecond,
			MaxDelay:    2 * time.Second,
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create OpenAI client: %w", err)
	}
	dispatcher, err := line.NewClient(creds.ChannelAccessToken,
		line.WithBaseURL(cfg.LineAPIBaseURL),
		line.WithCallTimeout(cfg.CallTimeout),
		line.WithRetryPolicy(reliability.Policy{
			MaxAttempts: cfg.DispatchTries,
			BaseDelay:   200 * time.Millisecond,
			MaxDelay:    time.Second,
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create LINE client: %w", err)
	}

	store, err := repository.NewStore(ctx, repository.StoreOptions{
		Backend:     cfg.MemoryBackend,
		DynamoDB:    res.DynamoDB,
		TableName:   cfg.StateTable,
		Retention:   cfg.Retention,
		DatabaseURL: cfg.DatabaseURL,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create memory store: %w", err)
	}

	relay, err := usecase.NewRelay(usecase.Deps{
		Verifier:   verifier,
		Parser:     line.WebhookParser{},
		Store:      store,
		Completion: completion,
		Dispatcher: dispatcher,
		Recorder:   res.Recorder,
		Logger:     res.Logger,
	}, usecase.Settings{
		Persona:       persona,
		Model:         cfg.OpenAIModel,
		WindowSize:    cfg.MemoryWindow,
		MaxReplyRunes: line.MaxTextLength,
	})
	if err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("create relay: %w", err)
	}
	return relay, store, nil
}
