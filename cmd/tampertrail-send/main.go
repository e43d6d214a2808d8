package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/tampertrail/tampertrail-go/pkg/config"
	"github.com/tampertrail/tampertrail-go/pkg/models"
	"github.com/tampertrail/tampertrail-go/pkg/tampertrail"
)

type args struct {
	Actor  string `arg:"positional,required" help:"who did it, e.g. user:alice@acme.com"`
	Action string `arg:"positional,required" help:"what happened, e.g. order.created"`

	Level       *string           `arg:"--level" help:"DEBUG | INFO | WARN | ERROR | CRITICAL"`
	Message     *string           `arg:"--message,-m" help:"human-readable description"`
	TargetType  *string           `arg:"--target-type" help:"resource type, e.g. order"`
	TargetID    *string           `arg:"--target-id" help:"resource ID, e.g. ORD-1001"`
	Status      *string           `arg:"--status" help:"outcome, e.g. success"`
	Environment *string           `arg:"--environment" help:"defaults to TAMPERTRAIL_ENVIRONMENT"`
	SourceIP    *string           `arg:"--source-ip"`
	RequestID   *string           `arg:"--request-id"`
	Tags        map[string]string `arg:"--tag,separate" help:"searchable tag as key=value, repeatable"`
	Metadata    string            `arg:"--metadata" help:"JSON object stored as metadata"`

	EnvFile string `arg:"--env-file" default:".env" help:"optional dotenv file"`
	URL     string `arg:"--url" help:"overrides TAMPERTRAIL_URL"`
	APIKey  string `arg:"--api-key" help:"overrides TAMPERTRAIL_API_KEY"`
	Verbose bool   `arg:"-v,--verbose"`
}

func (args) Description() string {
	return "send a single audit event to TamperTrail"
}

func main() {
	var a args
	arg.MustParse(&a)

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger().Level(zerolog.InfoLevel)
	if a.Verbose {
		logger = logger.Level(zerolog.DebugLevel)
	}

	if err := godotenv.Load(a.EnvFile); err != nil && !os.IsNotExist(err) {
		logger.Warn().Err(err).Str("file", a.EnvFile).Msg("could not read env file")
	}

	if err := run(a, logger); err != nil {
		logger.Error().Err(err).Msg("send failed")
		os.Exit(1)
	}
}

func run(a args, logger zerolog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a.URL != "" {
		cfg.URL = a.URL
	}
	if a.APIKey != "" {
		cfg.APIKey = a.APIKey
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg.APIKey, err = config.ResolveAPIKey(ctx, cfg)
	if err != nil {
		return err
	}

	ev, err := buildEvent(a, cfg.Environment)
	if err != nil {
		return err
	}

	client, err := tampertrail.NewClient(cfg.Client())
	if err != nil {
		return err
	}

	var dropped error
	emitter := tampertrail.NewEmitter(client,
		tampertrail.WithLogger(logger),
		tampertrail.WithDropHook(func(err error) { dropped = err }),
	)
	defer emitter.Close(ctx)

	emitter.SendLog(ctx, ev)
	if dropped != nil {
		return fmt.Errorf("event not delivered: %w", dropped)
	}
	logger.Info().Str("actor", ev.Actor).Str("action", ev.Action).Msg("event sent")
	return nil
}

func buildEvent(a args, defaultEnv string) (*models.Event, error) {
	ev := models.NewEvent(a.Actor, a.Action)
	ev.Level = a.Level
	ev.Message = a.Message
	ev.TargetType = a.TargetType
	ev.TargetID = a.TargetID
	ev.Status = a.Status
	ev.SourceIP = a.SourceIP
	ev.RequestID = a.RequestID

	ev.Environment = a.Environment
	if ev.Environment == nil && defaultEnv != "" {
		ev.Environment = &defaultEnv
	}

	if a.Tags != nil {
		ev.Tags = make(map[string]any, len(a.Tags))
		for k, v := range a.Tags {
			ev.Tags[k] = v
		}
	}

	if a.Metadata != "" {
		if err := json.Unmarshal([]byte(a.Metadata), &ev.Metadata); err != nil {
			return nil, fmt.Errorf("metadata must be a JSON object: %w", err)
		}
	}
	return ev, nil
}
