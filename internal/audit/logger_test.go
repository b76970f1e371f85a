package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })
	return &buf
}

func TestLog(t *testing.T) {
	buf := captureLogs(t)

	Log(context.Background(), Event{
		Type:        EventEntitlementDenied,
		UserID:      "user_1",
		CompanionID: "",
		Details:     map[string]interface{}{"limit": 5, "unlimited": false},
	})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "entitlement_denied", entry["event_type"])
	assert.Equal(t, "user_1", entry["user_id"])
	assert.Equal(t, float64(5), entry["limit"])
	assert.Equal(t, false, entry["unlimited"])
	assert.NotContains(t, entry, "companion_id")
}

func TestLogFromRequest(t *testing.T) {
	buf := captureLogs(t)

	req := httptest.NewRequest("POST", "/api/companions", nil)
	req.RemoteAddr = "10.1.2.3"
	req.Header.Set("User-Agent", "test-agent")

	LogFromRequest(req, Event{Type: EventCompanionCreate, UserID: "user_1", CompanionID: "c1"})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "10.1.2.3", entry["ip"])
	assert.Equal(t, "test-agent", entry["user_agent"])
	assert.Equal(t, "c1", entry["companion_id"])
	assert.NotContains(t, entry, "request_id")
}

func TestLog_RequestID(t *testing.T) {
	buf := captureLogs(t)

	ctx := context.WithValue(context.Background(), chimiddleware.RequestIDKey, "req-42")
	Log(ctx, Event{Type: EventCallStart, SessionID: "s1"})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "req-42", entry["request_id"])
	assert.Equal(t, "s1", entry["session_id"])
	assert.Equal(t, "activity", entry["audit"])
}
