package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/companionlab/companion-server/internal/auth"
	redisclient "github.com/companionlab/companion-server/internal/redis"
	"github.com/companionlab/companion-server/internal/sse"
)

type EventSource interface {
	Subscribe(channel string) *sse.Client
	Unsubscribe(client *sse.Client)
}

// EventsHandler streams the signed-in user's channel, which carries revalidate
// notices after bookmark changes.
type EventsHandler struct {
	broker EventSource
}

func NewEventsHandler(broker EventSource) *EventsHandler {
	return &EventsHandler{broker: broker}
}

// GET /api/events
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	streamEvents(w, r, h.broker, redisclient.UserChannel(userID), func(w http.ResponseWriter, flusher http.Flusher) error {
		return sendEvent(w, flusher, "connected", map[string]any{"userId": userID})
	})
}

// streamEvents subscribes to channel, runs greet once the subscription is live and
// relays events until the client or the broker goes away.
func streamEvents(
	w http.ResponseWriter,
	r *http.Request,
	broker EventSource,
	channel string,
	greet func(w http.ResponseWriter, flusher http.Flusher) error,
) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Streaming not supported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := broker.Subscribe(channel)
	defer broker.Unsubscribe(client)

	log.Info().Str("channel", channel).Msg("sse connection established")

	if greet != nil {
		if err := greet(w, flusher); err != nil {
			log.Error().Err(err).Str("channel", channel).Msg("failed to send initial event")
			return
		}
	}

	ctx := r.Context()
	heartbeat := time.NewTicker(sse.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().
				Str("channel", channel).
				Msg("sse connection closed by client")
			return

		case <-client.Done:
			log.Info().
				Str("channel", channel).
				Msg("sse connection closed by broker")
			return

		case event := <-client.Events:
			if err := sendRawEvent(w, flusher, event); err != nil {
				log.Error().Err(err).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().
					Str("channel", channel).
					Msg("heartbeat failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

func sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return sendRawEvent(w, flusher, sse.Event{Type: eventType, Data: jsonData})
}

func sendRawEvent(w http.ResponseWriter, flusher http.Flusher, event sse.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
