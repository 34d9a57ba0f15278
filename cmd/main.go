package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/prometheus/client_golang/prometheus"

	"counsel-bot/handler"
	"counsel-bot/internal/app"
	"counsel-bot/internal/config"
	"counsel-bot/internal/integrations/paramstore"
	"counsel-bot/internal/observability"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load(os.LookupEnv)
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger := app.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	res := app.Resources{
		DynamoDB: awsdynamodb.NewFromConfig(awsCfg),
		Recorder: observability.NewMetrics(prometheus.NewRegistry(), cfg.MetricsNamespace),
		Logger:   logger,
		Lookup:   os.LookupEnv,
	}
	if cfg.ParamPrefix != "" {
		ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			logger.Error("failed to create SSM client", "err", err)
			os.Exit(1)
		}
		res.Params = ssmClient
	}

	relay, store, err := app.Build(ctx, cfg, res)
	if err != nil {
		logger.Error("failed to build relay", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	// ---- Handler ----
	h, err := handler.NewHandler(relay)
	if err != nil {
		logger.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}
