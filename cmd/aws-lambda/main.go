package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog"

	"github.com/tampertrail/tampertrail-go/pkg/config"
	"github.com/tampertrail/tampertrail-go/pkg/provider"
	"github.com/tampertrail/tampertrail-go/pkg/provider/aws"
	"github.com/tampertrail/tampertrail-go/pkg/tampertrail"
)

var (
	emitter     *tampertrail.Emitter
	awsProvider provider.CloudProvider
	logger      = zerolog.New(os.Stderr).With().Timestamp().Str("component", "aws-lambda").Logger()
)

func init() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("could not load config")
	}

	// Get API key (potentially from Secrets Manager)
	if config.IsSecretARN(cfg.APIKey) {
		logger.Info().Msg("fetching API key from AWS Secrets Manager")
	}
	cfg.APIKey, err = config.ResolveAPIKey(context.Background(), cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("could not resolve API key")
	}

	client, err := tampertrail.NewClient(cfg.Client())
	if err != nil {
		logger.Fatal().Err(err).Msg("could not create TamperTrail client")
	}
	emitter = tampertrail.NewEmitter(client, tampertrail.WithLogger(logger))
	awsProvider = aws.NewProvider(cfg.Environment)

	logger.Info().Str("url", cfg.URL).Msg("AWS Lambda handler initialized")
}

// HandleRequest forwards every CloudWatch log line in the invocation payload.
// Delivery failures are dropped; the handler only fails on undecodable payloads.
func HandleRequest(ctx context.Context, event interface{}) (string, error) {
	events, err := awsProvider.ParseBatch(ctx, event)
	if err != nil {
		return "", err
	}

	for _, ev := range events {
		emitter.Go(ctx, ev)
	}

	// the execution environment freezes once we return
	if err := emitter.Wait(ctx); err != nil {
		logger.Warn().Err(err).Msg("invocation ended before all events were sent")
	}

	logger.Debug().Int("events", len(events)).Msg("processed invocation")
	return "OK", nil
}

func main() {
	lambda.Start(HandleRequest)
}
