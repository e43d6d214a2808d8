package tampertrail

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tampertrail/tampertrail-go/pkg/models"
)

var errNilEvent = errors.New("tampertrail: nil event")

// Emitter sends log events through a shared Client. Delivery failures are
// never reported to the caller: logging must not degrade the host application.
type Emitter struct {
	client   *Client
	logger   zerolog.Logger
	onDrop   func(error)
	inflight sync.WaitGroup
}

// EmitterOption configures an Emitter
type EmitterOption func(*Emitter)

// WithLogger reports dropped events at debug level. The default logger writes nothing.
func WithLogger(l zerolog.Logger) EmitterOption {
	return func(e *Emitter) { e.logger = l }
}

// WithDropHook registers a callback invoked with every discarded error
func WithDropHook(fn func(error)) EmitterOption {
	return func(e *Emitter) { e.onDrop = fn }
}

// NewEmitter creates an emitter bound to client
func NewEmitter(client *Client, opts ...EmitterOption) *Emitter {
	e := &Emitter{
		client: client,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SendLog serializes ev and posts it once. It blocks for at most the client
// timeout and never returns an error; serialization and transport failures are dropped.
func (e *Emitter) SendLog(ctx context.Context, ev *models.Event) {
	if ev == nil {
		e.drop(&models.Event{}, errNilEvent)
		return
	}
	body, err := json.Marshal(ev)
	if err != nil {
		e.drop(ev, err)
		return
	}
	if err := e.client.Post(ctx, body); err != nil {
		e.drop(ev, err)
	}
}

// Go runs SendLog in the background and returns immediately. The send is
// detached from ctx cancellation so a finished request does not abort its own log.
func (e *Emitter) Go(ctx context.Context, ev *models.Event) {
	ctx = context.WithoutCancel(ctx)
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		e.SendLog(ctx, ev)
	}()
}

// Send builds an event from actor, action and opts and sends it in the background
func (e *Emitter) Send(ctx context.Context, actor, action string, opts ...models.Option) {
	e.Go(ctx, models.NewEvent(actor, action, opts...))
}

// Wait blocks until every background send has finished or ctx is done
func (e *Emitter) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close waits for in-flight sends (bounded by ctx) and then closes the
// shared client. Sends issued after Close fail silently.
func (e *Emitter) Close(ctx context.Context) error {
	waitErr := e.Wait(ctx)
	if err := e.client.Close(); err != nil {
		return err
	}
	return waitErr
}

func (e *Emitter) drop(ev *models.Event, err error) {
	e.logger.Debug().
		Err(err).
		Str("actor", ev.Actor).
		Str("action", ev.Action).
		Msg("dropped log event")
	if e.onDrop != nil {
		e.onDrop(err)
	}
}
