package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_RequiredOnly(t *testing.T) {
	b, err := json.Marshal(NewEvent("user:alice", "login"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"actor":"user:alice","action":"login"}`, string(b))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(b, &payload))
	assert.Len(t, payload, 2)
}

func TestEvent_ExampleOrder(t *testing.T) {
	ev := NewEvent("user:alice@acme.com", "order.created",
		WithLevel(LevelInfo),
		WithStatus("success"),
		WithTags(map[string]any{"price": "100"}),
	)

	b, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.Equal(t,
		`{"actor":"user:alice@acme.com","action":"order.created","level":"INFO","status":"success","tags":{"price":"100"}}`,
		string(b))
	assert.NotContains(t, string(b), "message")
	assert.NotContains(t, string(b), "metadata")
}

func TestEvent_OptionalFields(t *testing.T) {
	tests := []struct {
		name  string
		opt   Option
		key   string
		value any
	}{
		{"level", WithLevel("WARN"), "level", "WARN"},
		{"message", WithMessage("hello"), "message", "hello"},
		{"target_type", WithTargetType("order"), "target_type", "order"},
		{"target_id", WithTargetID("ORD-1001"), "target_id", "ORD-1001"},
		{"status", WithStatus("200"), "status", "200"},
		{"environment", WithEnvironment("staging"), "environment", "staging"},
		{"source_ip", WithSourceIP("10.0.0.1"), "source_ip", "10.0.0.1"},
		{"request_id", WithRequestID("req-1"), "request_id", "req-1"},
		{"tags", WithTags(map[string]any{"k": "v"}), "tags", map[string]any{"k": "v"}},
		{"metadata", WithMetadata(map[string]any{"n": float64(1)}), "metadata", map[string]any{"n": float64(1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := json.Marshal(NewEvent("a", "b", tt.opt))
			require.NoError(t, err)

			var payload map[string]any
			require.NoError(t, json.Unmarshal(b, &payload))
			assert.Len(t, payload, 3)
			assert.Equal(t, tt.value, payload[tt.key])
		})
	}
}

func TestEvent_EmptyValuesArePresent(t *testing.T) {
	ev := NewEvent("a", "b",
		WithMessage(""),
		WithTags(map[string]any{}),
		WithMetadata(map[string]any{}),
	)

	b, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.Equal(t, `{"actor":"a","action":"b","message":"","tags":{},"metadata":{}}`, string(b))
}

func TestEvent_NilMapsAreAbsent(t *testing.T) {
	b, err := json.Marshal(NewEvent("a", "b", WithTags(nil), WithMetadata(nil)))
	require.NoError(t, err)
	assert.NotContains(t, string(b), "null")
	assert.Equal(t, `{"actor":"a","action":"b"}`, string(b))
}

func TestEvent_UnserializableMetadata(t *testing.T) {
	ev := NewEvent("a", "b", WithMetadata(map[string]any{"fn": func() {}}))
	_, err := json.Marshal(ev)
	assert.Error(t, err)
}

func TestLevelForStatus(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, LevelInfo},
		{302, LevelInfo},
		{404, LevelWarn},
		{499, LevelWarn},
		{500, LevelError},
		{503, LevelError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LevelForStatus(tt.code), "code %d", tt.code)
	}
}
