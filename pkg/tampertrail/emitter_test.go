package tampertrail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tampertrail/tampertrail-go/pkg/models"
)

// recorder is an ingestion endpoint that keeps every body it receives
type recorder struct {
	mu     sync.Mutex
	bodies [][]byte
}

func (r *recorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	b, _ := io.ReadAll(req.Body)
	r.mu.Lock()
	r.bodies = append(r.bodies, b)
	r.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (r *recorder) received() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.bodies...)
}

// dropCollector collects errors passed to the drop hook
type dropCollector struct {
	mu   sync.Mutex
	errs []error
}

func (d *dropCollector) hook(err error) {
	d.mu.Lock()
	d.errs = append(d.errs, err)
	d.mu.Unlock()
}

func (d *dropCollector) all() []error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]error(nil), d.errs...)
}

func newTestEmitter(t *testing.T, url string, drops *dropCollector) *Emitter {
	t.Helper()
	client, err := NewClient(Config{URL: url, APIKey: "test-key", Timeout: time.Second})
	require.NoError(t, err)
	return NewEmitter(client, WithDropHook(drops.hook))
}

func TestEmitter_SendLogExample(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	drops := &dropCollector{}
	em := newTestEmitter(t, srv.URL, drops)
	defer em.Close(context.Background())

	em.SendLog(context.Background(), models.NewEvent("user:alice@acme.com", "order.created",
		models.WithLevel("INFO"),
		models.WithStatus("success"),
		models.WithTags(map[string]any{"price": "100"}),
	))

	bodies := rec.received()
	require.Len(t, bodies, 1)
	assert.Equal(t,
		`{"actor":"user:alice@acme.com","action":"order.created","level":"INFO","status":"success","tags":{"price":"100"}}`,
		string(bodies[0]))
	assert.Empty(t, drops.all())
}

func TestEmitter_SendInBackground(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	drops := &dropCollector{}
	em := newTestEmitter(t, srv.URL, drops)

	em.Send(context.Background(), "user_123", "login")

	require.NoError(t, em.Close(context.Background()))
	bodies := rec.received()
	require.Len(t, bodies, 1)
	assert.JSONEq(t, `{"actor":"user_123","action":"login"}`, string(bodies[0]))
}

func TestEmitter_GoIgnoresCallerCancellation(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	drops := &dropCollector{}
	em := newTestEmitter(t, srv.URL, drops)

	ctx, cancel := context.WithCancel(context.Background())
	em.Go(ctx, models.NewEvent("a", "b"))
	cancel()

	require.NoError(t, em.Wait(context.Background()))
	assert.Len(t, rec.received(), 1)
	assert.Empty(t, drops.all())
}

func TestEmitter_UnreachableEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	drops := &dropCollector{}
	em := newTestEmitter(t, url, drops)

	start := time.Now()
	assert.NotPanics(t, func() {
		em.SendLog(context.Background(), models.NewEvent("a", "b"))
	})
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Len(t, drops.all(), 1)
}

func TestEmitter_MalformedURL(t *testing.T) {
	drops := &dropCollector{}
	em := newTestEmitter(t, "://nowhere", drops)

	assert.NotPanics(t, func() {
		em.SendLog(context.Background(), models.NewEvent("a", "b"))
	})
	assert.Len(t, drops.all(), 1)
}

func TestEmitter_Non2xxIsDropped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	drops := &dropCollector{}
	em := newTestEmitter(t, srv.URL, drops)
	em.SendLog(context.Background(), models.NewEvent("a", "b"))

	errs := drops.all()
	require.Len(t, errs, 1)
	var statusErr *StatusError
	assert.ErrorAs(t, errs[0], &statusErr)
}

func TestEmitter_UnserializableValues(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	drops := &dropCollector{}
	em := newTestEmitter(t, srv.URL, drops)

	assert.NotPanics(t, func() {
		em.SendLog(context.Background(), models.NewEvent("a", "b",
			models.WithMetadata(map[string]any{"ch": make(chan int)})))
		em.SendLog(context.Background(), models.NewEvent("a", "b",
			models.WithTags(map[string]any{"fn": func() {}})))
		em.SendLog(context.Background(), nil)
	})

	assert.Empty(t, rec.received())
	assert.Len(t, drops.all(), 3)
}

func TestEmitter_Concurrent(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	drops := &dropCollector{}
	em := newTestEmitter(t, srv.URL, drops)

	const n = 100
	for i := 0; i < n; i++ {
		em.Send(context.Background(), fmt.Sprintf("user:%d", i), fmt.Sprintf("action.%d", i),
			models.WithTags(map[string]any{"i": fmt.Sprint(i)}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, em.Close(ctx))

	bodies := rec.received()
	require.Len(t, bodies, n)
	seen := make(map[string]bool, n)
	for _, b := range bodies {
		var payload struct {
			Actor  string            `json:"actor"`
			Action string            `json:"action"`
			Tags   map[string]string `json:"tags"`
		}
		require.NoError(t, json.Unmarshal(b, &payload))
		i := payload.Tags["i"]
		assert.Equal(t, "user:"+i, payload.Actor)
		assert.Equal(t, "action."+i, payload.Action)
		seen[payload.Actor] = true
	}
	assert.Len(t, seen, n)
	assert.Empty(t, drops.all())
}

func TestEmitter_SendAfterClose(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	drops := &dropCollector{}
	em := newTestEmitter(t, srv.URL, drops)
	require.NoError(t, em.Close(context.Background()))

	start := time.Now()
	em.Send(context.Background(), "a", "b")
	require.NoError(t, em.Wait(context.Background()))
	assert.Less(t, time.Since(start), time.Second)

	assert.Empty(t, rec.received())
	errs := drops.all()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrClientClosed)
}

func TestEmitter_CloseBoundedByContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	drops := &dropCollector{}
	em := newTestEmitter(t, srv.URL, drops)
	em.Send(context.Background(), "a", "b")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, em.Close(ctx), context.DeadlineExceeded)
}

func TestEmitter_LogsDropsAtDebug(t *testing.T) {
	var buf bytes.Buffer
	client, err := NewClient(Config{URL: "://nowhere"})
	require.NoError(t, err)

	em := NewEmitter(client, WithLogger(zerolog.New(&buf).Level(zerolog.DebugLevel)))
	em.SendLog(context.Background(), models.NewEvent("user:bob", "logout"))

	assert.Contains(t, buf.String(), `"message":"dropped log event"`)
	assert.Contains(t, buf.String(), `"actor":"user:bob"`)
}

func TestEmitter_DefaultLoggerIsSilent(t *testing.T) {
	client, err := NewClient(Config{URL: "://nowhere"})
	require.NoError(t, err)

	em := NewEmitter(client)
	assert.NotPanics(t, func() {
		em.SendLog(context.Background(), models.NewEvent("a", "b"))
	})
	assert.Equal(t, zerolog.Disabled, em.logger.GetLevel())
}
