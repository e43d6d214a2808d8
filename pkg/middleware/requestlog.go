package middleware

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/tampertrail/tampertrail-go/pkg/models"
)

const (
	// RequestIDKey is the echo context key holding the generated request ID
	RequestIDKey = "request_id"
	// RequestIDHeader is the response header carrying the request ID
	RequestIDHeader = "X-Request-ID"

	actionHTTPRequest = "http.request"
	maxErrorLen       = 200
)

// Sender dispatches an event without blocking the request.
// *tampertrail.Emitter satisfies it.
type Sender interface {
	Go(ctx context.Context, ev *models.Event)
}

// Option configures the request logger
type Option func(*config)

type config struct {
	skipPaths    map[string]struct{}
	serviceActor string
	environment  string
	generator    func() string
}

func defaultConfig() *config {
	return &config{
		skipPaths: map[string]struct{}{
			"/health":      {},
			"/favicon.ico": {},
		},
		serviceActor: "service:my-api",
		generator:    func() string { return uuid.New().String() },
	}
}

// WithSkipPaths replaces the set of paths that get a request ID but no log event
func WithSkipPaths(paths ...string) Option {
	return func(c *config) {
		c.skipPaths = make(map[string]struct{}, len(paths))
		for _, p := range paths {
			c.skipPaths[p] = struct{}{}
		}
	}
}

// WithServiceActor sets the actor used when the request carries no X-User-ID
func WithServiceActor(actor string) Option {
	return func(c *config) { c.serviceActor = actor }
}

// WithEnvironment attaches an environment name to every event
func WithEnvironment(env string) Option {
	return func(c *config) { c.environment = env }
}

// WithIDGenerator overrides the request ID generator
func WithIDGenerator(fn func() string) Option {
	return func(c *config) { c.generator = fn }
}

// RequestID returns the request ID assigned by RequestLogger, or "" if none
func RequestID(c echo.Context) string {
	id, _ := c.Get(RequestIDKey).(string)
	return id
}

// RequestLogger returns echo middleware that assigns a request ID to every
// request and emits one "http.request" event per request through sender.
func RequestLogger(sender Sender, opts ...Option) echo.MiddlewareFunc {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	hostname, _ := os.Hostname()
	pid := strconv.Itoa(os.Getpid())

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			res := c.Response()

			requestID := cfg.generator()
			c.Set(RequestIDKey, requestID)
			res.Header().Set(RequestIDHeader, requestID)
			start := time.Now()

			// HTTP errors are ordinary responses; only unexpected failures get an error tag
			var errorDetail string
			if err := next(c); err != nil {
				var he *echo.HTTPError
				if !errors.As(err, &he) {
					errorDetail = fmt.Sprintf("%T: %v", err, err)
				}
				c.Error(err)
			}

			if _, skip := cfg.skipPaths[req.URL.Path]; skip {
				return nil
			}

			status := res.Status
			latency := time.Since(start)

			actor := cfg.serviceActor
			if userID := req.Header.Get("X-User-ID"); userID != "" {
				actor = "user:" + userID
			}

			clientIP, clientPort := clientAddr(req)

			tags := map[string]any{
				"method":          req.Method,
				"path":            req.URL.Path,
				"full_url":        c.Scheme() + "://" + req.Host + req.URL.RequestURI(),
				"scheme":          c.Scheme(),
				"http_version":    fmt.Sprintf("%d.%d", req.ProtoMajor, req.ProtoMinor),
				"latency_ms":      strconv.FormatFloat(float64(latency.Microseconds())/1000, 'f', 2, 64),
				"client_ip":       clientIP,
				"client_port":     clientPort,
				"user_agent":      req.UserAgent(),
				"host":            req.Host,
				"language":        firstValue(req.Header.Get("Accept-Language")),
				"server_hostname": hostname,
				"server_os":       runtime.GOOS,
				"go_version":      runtime.Version(),
				"server_pid":      pid,
			}

			optional := map[string]string{
				"query_string":          req.URL.RawQuery,
				"request_content_type":  req.Header.Get(echo.HeaderContentType),
				"request_bytes":         req.Header.Get(echo.HeaderContentLength),
				"response_content_type": res.Header().Get(echo.HeaderContentType),
				"referer":               req.Referer(),
				"origin":                req.Header.Get(echo.HeaderOrigin),
				"route_pattern":         c.Path(),
			}
			for k, v := range optional {
				if v != "" {
					tags[k] = v
				}
			}
			if res.Size > 0 {
				tags["response_bytes"] = strconv.FormatInt(res.Size, 10)
			}
			if req.Header.Get(echo.HeaderAuthorization) != "" {
				tags["authenticated"] = "true"
			}
			if errorDetail != "" {
				tags["error"] = truncate(errorDetail, maxErrorLen)
			}

			eventOpts := []models.Option{
				models.WithLevel(models.LevelForStatus(status)),
				models.WithMessage(fmt.Sprintf("%s %s → %d", req.Method, req.URL.Path, status)),
				models.WithStatus(strconv.Itoa(status)),
				models.WithSourceIP(clientIP),
				models.WithRequestID(requestID),
				models.WithTags(tags),
			}
			if cfg.environment != "" {
				eventOpts = append(eventOpts, models.WithEnvironment(cfg.environment))
			}

			sender.Go(req.Context(), models.NewEvent(actor, actionHTTPRequest, eventOpts...))
			return nil
		}
	}
}

// clientAddr prefers the first X-Forwarded-For entry and falls back to the peer address
func clientAddr(req *http.Request) (ip, port string) {
	host, port, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		host = req.RemoteAddr
		port = ""
	}
	if fwd := firstValue(req.Header.Get(echo.HeaderXForwardedFor)); fwd != "" {
		return fwd, port
	}
	return host, port
}

func firstValue(header string) string {
	v, _, _ := strings.Cut(header, ",")
	return strings.TrimSpace(v)
}

// truncate keeps at most n runes of s
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
