package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Severity levels understood by the ingestion service
const (
	LevelDebug    = "DEBUG"
	LevelInfo     = "INFO"
	LevelWarn     = "WARN"
	LevelError    = "ERROR"
	LevelCritical = "CRITICAL"
)

// Event represents a single log event sent to TamperTrail.
// Actor and Action are always serialized. Every other field is optional and is
// only serialized when it is non-nil; an empty string or empty map still counts.
type Event struct {
	Actor  string
	Action string

	Level       *string
	Message     *string
	TargetType  *string
	TargetID    *string
	Status      *string
	Environment *string
	SourceIP    *string
	RequestID   *string

	// Tags are visible and searchable in the dashboard
	Tags map[string]any
	// Metadata is sent as an ordinary field. Any encryption happens server side.
	Metadata map[string]any
}

// Option sets an optional field on an Event
type Option func(*Event)

// NewEvent creates an event with the required fields and applies opts in order
func NewEvent(actor, action string, opts ...Option) *Event {
	ev := &Event{Actor: actor, Action: action}
	for _, opt := range opts {
		opt(ev)
	}
	return ev
}

// WithLevel sets the severity level
func WithLevel(level string) Option { return func(e *Event) { e.Level = &level } }

// WithMessage sets the human-readable description
func WithMessage(msg string) Option { return func(e *Event) { e.Message = &msg } }

// WithTargetType sets the type of the affected resource
func WithTargetType(t string) Option { return func(e *Event) { e.TargetType = &t } }

// WithTargetID sets the ID of the affected resource
func WithTargetID(id string) Option { return func(e *Event) { e.TargetID = &id } }

// WithStatus sets the outcome, e.g. "success" or "200"
func WithStatus(status string) Option { return func(e *Event) { e.Status = &status } }

// WithEnvironment sets the deployment environment
func WithEnvironment(env string) Option { return func(e *Event) { e.Environment = &env } }

// WithSourceIP sets the client IP
func WithSourceIP(ip string) Option { return func(e *Event) { e.SourceIP = &ip } }

// WithRequestID sets the correlation ID
func WithRequestID(id string) Option { return func(e *Event) { e.RequestID = &id } }

// WithTags sets the tags map. A nil map leaves the field absent.
func WithTags(tags map[string]any) Option { return func(e *Event) { e.Tags = tags } }

// WithMetadata sets the metadata map. A nil map leaves the field absent.
func WithMetadata(md map[string]any) Option { return func(e *Event) { e.Metadata = md } }

// LevelForStatus maps an HTTP status code to a severity level
func LevelForStatus(code int) string {
	switch {
	case code >= 500:
		return LevelError
	case code >= 400:
		return LevelWarn
	default:
		return LevelInfo
	}
}

// MarshalJSON writes the required fields followed by every present optional
// field, in a fixed order. Absent fields are omitted rather than sent as null.
func (e Event) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	first := true
	write := func(key string, value any) error {
		b, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", key, err)
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		buf.WriteByte('"')
		buf.WriteString(key)
		buf.WriteString(`":`)
		buf.Write(b)
		return nil
	}

	if err := write("actor", e.Actor); err != nil {
		return nil, err
	}
	if err := write("action", e.Action); err != nil {
		return nil, err
	}

	optional := []struct {
		key   string
		value *string
	}{
		{"level", e.Level},
		{"message", e.Message},
		{"target_type", e.TargetType},
		{"target_id", e.TargetID},
		{"status", e.Status},
		{"environment", e.Environment},
		{"source_ip", e.SourceIP},
		{"request_id", e.RequestID},
	}
	for _, f := range optional {
		if f.value == nil {
			continue
		}
		if err := write(f.key, *f.value); err != nil {
			return nil, err
		}
	}

	if e.Tags != nil {
		if err := write("tags", e.Tags); err != nil {
			return nil, err
		}
	}
	if e.Metadata != nil {
		if err := write("metadata", e.Metadata); err != nil {
			return nil, err
		}
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}
