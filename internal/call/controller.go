package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/companionlab/companion-server/internal/errors"
	"github.com/companionlab/companion-server/internal/metrics"
	"github.com/companionlab/companion-server/internal/model"
	redisclient "github.com/companionlab/companion-server/internal/redis"
	"github.com/companionlab/companion-server/internal/voice"
)

// EventSnapshot carries a CallSnapshot on the call's event channel.
const EventSnapshot = "call"

const recordTimeout = 10 * time.Second

type HistoryRecorder interface {
	Record(ctx context.Context, userID, companionID string) error
}

type Publisher interface {
	Publish(ctx context.Context, channel, eventType string, data any) error
}

type Params struct {
	SessionID string
	UserID    string
	Companion model.Companion
	Style     string
	Voice     string
}

// Controller is the state machine of one voice call:
// INACTIVE -> CONNECTING -> ACTIVE -> FINISHED, with no way out of FINISHED.
// Provider events and user actions are serialised by mu.
type Controller struct {
	id        string
	userID    string
	companion model.Companion
	style     string
	assistant voice.Assistant

	client      voice.Client
	recorder    HistoryRecorder
	publisher   Publisher
	unsubscribe func()

	mu         sync.Mutex
	status     model.CallStatus
	speaking   bool
	muted      bool
	messages   []model.TranscriptMessage
	recorded   bool
	closed     bool
	createdAt  time.Time
	finishedAt time.Time
}

func NewController(p Params, client voice.Client, assistant voice.Assistant, recorder HistoryRecorder, publisher Publisher) *Controller {
	c := &Controller{
		id:        p.SessionID,
		userID:    p.UserID,
		companion: p.Companion,
		style:     p.Style,
		assistant: assistant,
		client:    client,
		recorder:  recorder,
		publisher: publisher,
		status:    model.CallStatusInactive,
		messages:  []model.TranscriptMessage{},
		createdAt: time.Now(),
	}
	c.unsubscribe = client.Subscribe(c.handleEvent)
	return c
}

func (c *Controller) ID() string     { return c.id }
func (c *Controller) UserID() string { return c.userID }

func (c *Controller) CompanionID() string { return c.companion.ID }

func (c *Controller) Status() model.CallStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Controller) Snapshot() model.CallSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() model.CallSnapshot {
	messages := make([]model.TranscriptMessage, len(c.messages))
	copy(messages, c.messages)
	return model.CallSnapshot{
		SessionID:   c.id,
		CompanionID: c.companion.ID,
		Status:      c.status,
		Speaking:    c.speaking,
		Muted:       c.muted,
		Messages:    messages,
	}
}

// Start asks the provider to begin the call. Only valid from INACTIVE.
// A provider failure finishes the session without recording it.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.status != model.CallStatusInactive {
		status := c.status
		c.mu.Unlock()
		return apperrors.InvalidCallState("start", string(status))
	}
	c.setStatusLocked(model.CallStatusConnecting)
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.publish(snap)

	overrides := voice.SessionOverrides(c.companion.Subject, c.companion.Topic, c.style)
	if err := c.client.Start(ctx, c.assistant, overrides); err != nil {
		c.mu.Lock()
		if c.status == model.CallStatusConnecting {
			c.setStatusLocked(model.CallStatusFinished)
		}
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.publish(snap)

		log.Error().Err(err).Str("sessionId", c.id).Msg("voice call failed to start")
		return apperrors.External("voice provider", err)
	}

	// A disconnect or close that landed while the provider was starting found
	// nothing to stop, so the call that just came up is ended here.
	c.mu.Lock()
	ended := c.closed || c.status == model.CallStatusFinished
	c.mu.Unlock()
	if ended {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
		defer cancel()
		if err := c.client.Stop(stopCtx); err != nil {
			log.Warn().Err(err).Str("sessionId", c.id).Msg("failed to stop voice call ended during start")
		}
	}

	return nil
}

// Disconnect ends a connecting or active call and records it.
// Disconnecting a finished call is a no-op.
func (c *Controller) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	switch c.status {
	case model.CallStatusFinished:
		c.mu.Unlock()
		return nil
	case model.CallStatusInactive:
		c.mu.Unlock()
		return apperrors.InvalidCallState("disconnect", string(model.CallStatusInactive))
	}
	c.setStatusLocked(model.CallStatusFinished)
	record := c.claimRecordLocked()
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.publish(snap)

	if err := c.client.Stop(ctx); err != nil {
		log.Warn().Err(err).Str("sessionId", c.id).Msg("failed to stop voice call")
	}

	if record {
		return c.record(ctx)
	}
	return nil
}

// ToggleMute flips the provider's microphone state. Only valid while ACTIVE.
func (c *Controller) ToggleMute() (bool, error) {
	c.mu.Lock()
	if c.status != model.CallStatusActive {
		muted, status := c.muted, c.status
		c.mu.Unlock()
		return muted, apperrors.InvalidCallState("mute", string(status))
	}

	muted := !c.client.IsMuted()
	if err := c.client.SetMuted(muted); err != nil {
		current := c.muted
		c.mu.Unlock()
		return current, apperrors.External("voice provider", err)
	}
	c.muted = muted
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.publish(snap)
	return muted, nil
}

// Close detaches from the provider and stops a live call without recording it.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	live := c.status == model.CallStatusConnecting || c.status == model.CallStatusActive
	if live {
		c.setStatusLocked(model.CallStatusFinished)
	}
	c.mu.Unlock()

	c.unsubscribe()

	if live {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := c.client.Stop(ctx); err != nil {
			log.Warn().Err(err).Str("sessionId", c.id).Msg("failed to stop voice call on close")
		}
	}
}

// FinishedBefore reports whether the session can be discarded: finished before t,
// or never started and created before t.
func (c *Controller) FinishedBefore(t time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.status {
	case model.CallStatusFinished:
		return c.finishedAt.Before(t)
	case model.CallStatusInactive:
		return c.createdAt.Before(t)
	default:
		return false
	}
}

func (c *Controller) handleEvent(e voice.Event) {
	c.mu.Lock()

	record := false
	changed := true

	switch e.Type {
	case voice.EventCallStart:
		if c.status == model.CallStatusConnecting {
			c.setStatusLocked(model.CallStatusActive)
		} else {
			changed = false
		}
	case voice.EventCallEnd:
		if c.status == model.CallStatusConnecting || c.status == model.CallStatusActive {
			c.setStatusLocked(model.CallStatusFinished)
			record = c.claimRecordLocked()
		} else {
			changed = false
		}
	case voice.EventMessage:
		if e.Message.IsFinalTranscript() {
			msg := model.TranscriptMessage{
				Role:    model.MessageRole(e.Message.Role),
				Content: e.Message.Transcript,
			}
			c.messages = append([]model.TranscriptMessage{msg}, c.messages...)
		} else {
			changed = false
		}
	case voice.EventSpeechStart:
		c.speaking = true
	case voice.EventSpeechEnd:
		c.speaking = false
	case voice.EventError:
		changed = false
		log.Error().Err(e.Err).Str("sessionId", c.id).Msg("voice provider error")
	default:
		changed = false
	}

	var snap model.CallSnapshot
	if changed {
		snap = c.snapshotLocked()
	}
	c.mu.Unlock()

	if changed {
		c.publish(snap)
	}
	if record {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		_ = c.record(ctx)
	}
}

func (c *Controller) setStatusLocked(status model.CallStatus) {
	c.status = status
	if status == model.CallStatusFinished {
		c.finishedAt = time.Now()
		c.speaking = false
	}
	metrics.CallTransitionsTotal.WithLabelValues(string(status)).Inc()
}

// claimRecordLocked returns true exactly once per controller.
func (c *Controller) claimRecordLocked() bool {
	if c.recorded {
		return false
	}
	c.recorded = true
	return true
}

func (c *Controller) record(ctx context.Context) error {
	if err := c.recorder.Record(ctx, c.userID, c.companion.ID); err != nil {
		log.Error().
			Err(err).
			Str("sessionId", c.id).
			Str("companionId", c.companion.ID).
			Msg("failed to record session history")
		return fmt.Errorf("record session: %w", err)
	}
	return nil
}

func (c *Controller) publish(snap model.CallSnapshot) {
	if c.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := c.publisher.Publish(ctx, redisclient.CallChannel(c.id), EventSnapshot, snap); err != nil {
		log.Warn().Err(err).Str("sessionId", c.id).Msg("failed to publish call snapshot")
	}
}
