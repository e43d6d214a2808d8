package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/tampertrail/tampertrail-go/pkg/config"
	"github.com/tampertrail/tampertrail-go/pkg/middleware"
	"github.com/tampertrail/tampertrail-go/pkg/models"
	"github.com/tampertrail/tampertrail-go/pkg/tampertrail"
)

var args struct {
	Addr            string        `arg:"env:EXAMPLE_API_ADDR" default:":8000" help:"listen address"`
	ServiceActor    string        `arg:"env:EXAMPLE_API_ACTOR" default:"service:my-api"`
	ShutdownTimeout time.Duration `arg:"env:EXAMPLE_API_SHUTDOWN_TIMEOUT" default:"5s"`
}

// OrderCreate is the body accepted by POST /place-order
type OrderCreate struct {
	OrderID      string  `json:"order_id"`
	OrderName    string  `json:"order_name"`
	UserID       string  `json:"user_id"`
	Price        float64 `json:"price"`
	UserLocation string  `json:"user_location"`
	Destination  string  `json:"destination"`
}

func main() {
	arg.MustParse(&args)

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn().Err(err).Msg("could not read .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("could not load config")
	}
	cfg.APIKey, err = config.ResolveAPIKey(context.Background(), cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("could not resolve API key")
	}

	client, err := tampertrail.NewClient(cfg.Client())
	if err != nil {
		logger.Fatal().Err(err).Msg("could not create TamperTrail client")
	}
	emitter := tampertrail.NewEmitter(client, tampertrail.WithLogger(logger))

	e := newServer(emitter, cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := e.Start(args.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited")
		}
	}()
	logger.Info().Str("addr", args.Addr).Str("tampertrail_url", cfg.URL).Msg("example API listening")

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), args.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown")
	}
	// release pooled connections once the last request has been logged
	if err := emitter.Close(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("TamperTrail emitter shutdown")
	}
}

type eventSender interface {
	middleware.Sender
	Send(ctx context.Context, actor, action string, opts ...models.Option)
}

func newServer(emitter eventSender, environment string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	mwOpts := []middleware.Option{middleware.WithEnvironment(environment)}
	if args.ServiceActor != "" {
		mwOpts = append(mwOpts, middleware.WithServiceActor(args.ServiceActor))
	}
	e.Use(middleware.RequestLogger(emitter, mwOpts...))
	// hand recovered panics back to RequestLogger so they carry an error tag
	e.Use(echomw.RecoverWithConfig(echomw.RecoverConfig{DisableErrorHandler: true}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	e.POST("/place-order", func(c echo.Context) error {
		var order OrderCreate
		if err := c.Bind(&order); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid order")
		}

		opts := []models.Option{
			models.WithLevel(models.LevelInfo),
			models.WithMessage(fmt.Sprintf("Order %s — %s worth ₹%.0f", order.OrderID, order.OrderName, order.Price)),
			models.WithTargetType("order"),
			models.WithTargetID(order.OrderID),
			models.WithStatus("success"),
			models.WithSourceIP(c.RealIP()),
			models.WithRequestID(middleware.RequestID(c)),
			models.WithTags(map[string]any{
				"price":       fmt.Sprint(order.Price),
				"origin":      order.UserLocation,
				"destination": order.Destination,
			}),
			models.WithMetadata(map[string]any{
				"user_id":      order.UserID,
				"full_payload": order,
			}),
		}
		if environment != "" {
			opts = append(opts, models.WithEnvironment(environment))
		}
		emitter.Send(c.Request().Context(), "user:"+order.UserID, "order.created", opts...)

		return c.JSON(http.StatusOK, map[string]string{"status": "created"})
	})

	return e
}
