package voice

import (
	"context"
)

type EventType string

const (
	EventCallStart   EventType = "call-start"
	EventCallEnd     EventType = "call-end"
	EventMessage     EventType = "message"
	EventError       EventType = "error"
	EventSpeechStart EventType = "speech-start"
	EventSpeechEnd   EventType = "speech-end"
)

const (
	MessageTypeTranscript = "transcript"
	TranscriptTypeFinal   = "final"
	TranscriptTypePartial = "partial"
)

type Message struct {
	Type           string `json:"type"`
	TranscriptType string `json:"transcriptType,omitempty"`
	Role           string `json:"role,omitempty"`
	Transcript     string `json:"transcript,omitempty"`
}

// IsFinalTranscript reports whether the message carries a finished utterance.
func (m *Message) IsFinalTranscript() bool {
	return m != nil && m.Type == MessageTypeTranscript && m.TranscriptType == TranscriptTypeFinal
}

type Event struct {
	Type    EventType
	Message *Message
	Err     error
}

type Handler func(Event)

// Client drives one call with the voice-assistant provider. Handlers registered with
// Subscribe are invoked sequentially from the client's event goroutine.
type Client interface {
	Start(ctx context.Context, assistant Assistant, overrides Overrides) error
	Stop(ctx context.Context) error
	IsMuted() bool
	SetMuted(muted bool) error
	// Subscribe registers h and returns a func that removes it.
	Subscribe(h Handler) (unsubscribe func())
}

// ClientFactory creates a fresh client per call session.
type ClientFactory func() Client
