package audit

import (
	"context"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// EventType names a user-visible action worth keeping in the activity log.
type EventType string

const (
	EventCompanionCreate   EventType = "companion_create"
	EventEntitlementDenied EventType = "entitlement_denied"
	EventBookmarkAdd       EventType = "bookmark_add"
	EventBookmarkRemove    EventType = "bookmark_remove"
	EventCallStart         EventType = "call_start"
	EventCallEnd           EventType = "call_end"
	EventRateLimitExceed   EventType = "rate_limit_exceeded"
	EventAuthFailure       EventType = "auth_failure"
)

type Event struct {
	Type        EventType
	UserID      string
	CompanionID string
	SessionID   string
	IP          string
	UserAgent   string
	Details     map[string]interface{}
}

// Log writes event at info level under audit=activity. Empty identifiers are
// omitted and the chi request id is attached when ctx carries one.
func Log(ctx context.Context, event Event) {
	entry := log.Info().
		Str("audit", "activity").
		Str("event_type", string(event.Type))

	for key, value := range map[string]string{
		"user_id":      event.UserID,
		"companion_id": event.CompanionID,
		"session_id":   event.SessionID,
		"ip":           event.IP,
		"user_agent":   event.UserAgent,
		"request_id":   chimiddleware.GetReqID(ctx),
	} {
		if value != "" {
			entry = entry.Str(key, value)
		}
	}

	if len(event.Details) > 0 {
		entry = entry.Fields(event.Details)
	}

	entry.Msg("audit event")
}

// LogFromRequest fills IP and user agent from r. RemoteAddr has already been
// rewritten by chi's RealIP middleware.
func LogFromRequest(r *http.Request, event Event) {
	event.IP = r.RemoteAddr
	event.UserAgent = r.UserAgent()
	Log(r.Context(), event)
}
