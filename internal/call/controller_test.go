package call

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/companionlab/companion-server/internal/errors"
	"github.com/companionlab/companion-server/internal/model"
	redisclient "github.com/companionlab/companion-server/internal/redis"
	"github.com/companionlab/companion-server/internal/voice"
)

var testCompanion = model.Companion{
	ID:      "comp-1",
	Name:    "Neura",
	Subject: "science",
	Topic:   "The Nervous System",
	Style:   "casual",
	Voice:   "female",
}

type harness struct {
	ctrl      *Controller
	client    *fakeClient
	recorder  *fakeRecorder
	publisher *fakePublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		client:    newFakeClient(),
		recorder:  &fakeRecorder{},
		publisher: &fakePublisher{},
	}
	h.ctrl = NewController(Params{
		SessionID: "sess-1",
		UserID:    "user-1",
		Companion: testCompanion,
		Style:     "formal",
		Voice:     "female",
	}, h.client, voice.Assistant{Name: "Companion"}, h.recorder, h.publisher)
	t.Cleanup(h.ctrl.Close)
	return h
}

func (h *harness) activate(t *testing.T) {
	t.Helper()
	require.NoError(t, h.ctrl.Start(context.Background()))
	h.client.emit(voice.Event{Type: voice.EventCallStart})
	require.Equal(t, model.CallStatusActive, h.ctrl.Status())
}

func TestController_StartSendsSessionOverrides(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.ctrl.Start(context.Background()))
	assert.Equal(t, model.CallStatusConnecting, h.ctrl.Status())

	require.Len(t, h.client.starts, 1)
	o := h.client.starts[0]
	assert.Equal(t, map[string]string{
		"subject": "science",
		"topic":   "The Nervous System",
		"style":   "formal",
	}, o.VariableValues)
	assert.Equal(t, []string{"transcript"}, o.ClientMessages)
	assert.Empty(t, o.ServerMessages)

	assert.Equal(t, redisclient.CallChannel("sess-1"), h.publisher.channels[0])
	assert.Equal(t, model.CallStatusConnecting, h.publisher.last().Status)
}

func TestController_StartOnlyFromInactive(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.Start(context.Background()))

	err := h.ctrl.Start(context.Background())
	assert.Equal(t, apperrors.ErrCodeInvalidCallState, apperrors.GetCode(err))
	assert.Len(t, h.client.starts, 1)
}

func TestController_StartFailureFinishesWithoutRecord(t *testing.T) {
	h := newHarness(t)
	h.client.startErr = assert.AnError

	err := h.ctrl.Start(context.Background())
	assert.Equal(t, apperrors.ErrCodeExternal, apperrors.GetCode(err))
	assert.Equal(t, model.CallStatusFinished, h.ctrl.Status())
	assert.Equal(t, 0, h.recorder.count())
}

func TestController_CallStartTransitions(t *testing.T) {
	t.Run("ignored while inactive", func(t *testing.T) {
		h := newHarness(t)
		h.client.emit(voice.Event{Type: voice.EventCallStart})
		assert.Equal(t, model.CallStatusInactive, h.ctrl.Status())
	})

	t.Run("connecting becomes active", func(t *testing.T) {
		h := newHarness(t)
		h.activate(t)
	})

	t.Run("ignored while active", func(t *testing.T) {
		h := newHarness(t)
		h.activate(t)
		h.client.emit(voice.Event{Type: voice.EventCallStart})
		assert.Equal(t, model.CallStatusActive, h.ctrl.Status())
	})

	t.Run("ignored while finished", func(t *testing.T) {
		h := newHarness(t)
		h.activate(t)
		h.client.emit(voice.Event{Type: voice.EventCallEnd})
		h.client.emit(voice.Event{Type: voice.EventCallStart})
		assert.Equal(t, model.CallStatusFinished, h.ctrl.Status())
	})
}

func TestController_CallEndRecordsHistory(t *testing.T) {
	h := newHarness(t)
	h.activate(t)

	h.client.emit(voice.Event{Type: voice.EventCallEnd})

	assert.Equal(t, model.CallStatusFinished, h.ctrl.Status())
	require.Equal(t, 1, h.recorder.count())
	assert.Equal(t, historyCall{UserID: "user-1", CompanionID: "comp-1"}, h.recorder.calls[0])

	h.client.emit(voice.Event{Type: voice.EventCallEnd})
	assert.Equal(t, 1, h.recorder.count())
}

func TestController_Disconnect(t *testing.T) {
	t.Run("active call finishes, stops and records once", func(t *testing.T) {
		h := newHarness(t)
		h.activate(t)

		require.NoError(t, h.ctrl.Disconnect(context.Background()))
		assert.Equal(t, model.CallStatusFinished, h.ctrl.Status())
		assert.Equal(t, 1, h.client.stopCount())
		assert.Equal(t, 1, h.recorder.count())

		h.client.emit(voice.Event{Type: voice.EventCallEnd})
		assert.Equal(t, 1, h.recorder.count())
	})

	t.Run("connecting call can be disconnected", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.ctrl.Start(context.Background()))

		require.NoError(t, h.ctrl.Disconnect(context.Background()))
		assert.Equal(t, model.CallStatusFinished, h.ctrl.Status())
		assert.Equal(t, 1, h.recorder.count())
	})

	t.Run("inactive call rejects disconnect", func(t *testing.T) {
		h := newHarness(t)
		err := h.ctrl.Disconnect(context.Background())
		assert.Equal(t, apperrors.ErrCodeInvalidCallState, apperrors.GetCode(err))
		assert.Equal(t, model.CallStatusInactive, h.ctrl.Status())
	})

	t.Run("finished call is a no-op", func(t *testing.T) {
		h := newHarness(t)
		h.activate(t)
		require.NoError(t, h.ctrl.Disconnect(context.Background()))
		require.NoError(t, h.ctrl.Disconnect(context.Background()))
		assert.Equal(t, 1, h.client.stopCount())
		assert.Equal(t, 1, h.recorder.count())
	})

	t.Run("record failure surfaces", func(t *testing.T) {
		h := newHarness(t)
		h.recorder.err = apperrors.Database(assert.AnError)
		h.activate(t)

		err := h.ctrl.Disconnect(context.Background())
		assert.Equal(t, apperrors.ErrCodeDatabase, apperrors.GetCode(err))
		assert.Equal(t, model.CallStatusFinished, h.ctrl.Status())
	})
}

func TestController_EndedWhileStarting(t *testing.T) {
	startBlocked := func(t *testing.T, h *harness) <-chan error {
		t.Helper()
		h.client.startGate = make(chan struct{})
		h.client.startEntered = make(chan struct{})

		done := make(chan error, 1)
		go func() { done <- h.ctrl.Start(context.Background()) }()

		select {
		case <-h.client.startEntered:
		case <-time.After(2 * time.Second):
			t.Fatal("start never reached the provider")
		}
		require.Equal(t, model.CallStatusConnecting, h.ctrl.Status())
		return done
	}

	t.Run("disconnect stops the call once it comes up", func(t *testing.T) {
		h := newHarness(t)
		done := startBlocked(t, h)

		require.NoError(t, h.ctrl.Disconnect(context.Background()))
		close(h.client.startGate)
		require.NoError(t, <-done)

		h.ctrl.Close()
		assert.False(t, h.client.isLive())
		assert.Equal(t, model.CallStatusFinished, h.ctrl.Status())
		assert.Equal(t, 1, h.recorder.count())
	})

	t.Run("close stops the call once it comes up", func(t *testing.T) {
		h := newHarness(t)
		done := startBlocked(t, h)

		h.ctrl.Close()
		close(h.client.startGate)
		require.NoError(t, <-done)

		assert.False(t, h.client.isLive())
		assert.Equal(t, 0, h.recorder.count())
	})

	t.Run("uninterrupted start stays live", func(t *testing.T) {
		h := newHarness(t)
		done := startBlocked(t, h)

		close(h.client.startGate)
		require.NoError(t, <-done)
		assert.True(t, h.client.isLive())
		assert.Equal(t, 0, h.client.stopCount())
	})
}

func TestController_Transcript(t *testing.T) {
	h := newHarness(t)

	final := func(role, text string) voice.Event {
		return voice.Event{Type: voice.EventMessage, Message: &voice.Message{
			Type: "transcript", TranscriptType: "final", Role: role, Transcript: text,
		}}
	}

	h.client.emit(final("assistant", "Hello"))
	h.client.emit(voice.Event{Type: voice.EventMessage, Message: &voice.Message{
		Type: "transcript", TranscriptType: "partial", Role: "user", Transcript: "Hi th",
	}})
	h.client.emit(final("user", "Hi there"))
	h.client.emit(voice.Event{Type: voice.EventMessage, Message: &voice.Message{Type: "status-update"}})
	h.client.emit(voice.Event{Type: voice.EventMessage})

	snap := h.ctrl.Snapshot()
	assert.Equal(t, []model.TranscriptMessage{
		{Role: model.MessageRoleUser, Content: "Hi there"},
		{Role: model.MessageRoleAssistant, Content: "Hello"},
	}, snap.Messages)
	assert.Equal(t, model.CallStatusInactive, snap.Status)
}

func TestController_SpeakingIndicator(t *testing.T) {
	h := newHarness(t)
	h.activate(t)

	h.client.emit(voice.Event{Type: voice.EventSpeechStart})
	assert.True(t, h.ctrl.Snapshot().Speaking)
	assert.Equal(t, model.CallStatusActive, h.ctrl.Status())

	h.client.emit(voice.Event{Type: voice.EventSpeechEnd})
	assert.False(t, h.ctrl.Snapshot().Speaking)
}

func TestController_ToggleMute(t *testing.T) {
	t.Run("only while active", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.ctrl.ToggleMute()
		assert.Equal(t, apperrors.ErrCodeInvalidCallState, apperrors.GetCode(err))
		assert.Empty(t, h.client.mutes)
	})

	t.Run("flips provider state", func(t *testing.T) {
		h := newHarness(t)
		h.activate(t)

		muted, err := h.ctrl.ToggleMute()
		require.NoError(t, err)
		assert.True(t, muted)
		assert.True(t, h.ctrl.Snapshot().Muted)

		muted, err = h.ctrl.ToggleMute()
		require.NoError(t, err)
		assert.False(t, muted)
		assert.Equal(t, []bool{true, false}, h.client.mutes)
	})

	t.Run("reads provider state", func(t *testing.T) {
		h := newHarness(t)
		h.activate(t)
		h.client.muted = true

		muted, err := h.ctrl.ToggleMute()
		require.NoError(t, err)
		assert.False(t, muted)
	})

	t.Run("provider failure keeps mirror", func(t *testing.T) {
		h := newHarness(t)
		h.activate(t)
		h.client.muteErr = assert.AnError

		muted, err := h.ctrl.ToggleMute()
		assert.Equal(t, apperrors.ErrCodeExternal, apperrors.GetCode(err))
		assert.False(t, muted)
	})
}

func TestController_ErrorEventDoesNotTransition(t *testing.T) {
	h := newHarness(t)
	h.activate(t)

	h.client.emit(voice.Event{Type: voice.EventError, Err: assert.AnError})
	assert.Equal(t, model.CallStatusActive, h.ctrl.Status())
}

func TestController_Close(t *testing.T) {
	h := newHarness(t)
	h.activate(t)
	require.Equal(t, 1, h.client.subscribers())

	h.ctrl.Close()
	assert.Equal(t, 0, h.client.subscribers())
	assert.Equal(t, 1, h.client.stopCount())
	assert.Equal(t, model.CallStatusFinished, h.ctrl.Status())
	assert.Equal(t, 0, h.recorder.count())

	h.ctrl.Close()
	assert.Equal(t, 1, h.client.stopCount())
}

func TestController_FinishedBefore(t *testing.T) {
	h := newHarness(t)
	future := time.Now().Add(time.Minute)
	past := time.Now().Add(-time.Minute)

	assert.True(t, h.ctrl.FinishedBefore(future))
	assert.False(t, h.ctrl.FinishedBefore(past))

	h.activate(t)
	assert.False(t, h.ctrl.FinishedBefore(future))

	require.NoError(t, h.ctrl.Disconnect(context.Background()))
	assert.True(t, h.ctrl.FinishedBefore(future))
	assert.False(t, h.ctrl.FinishedBefore(past))
}
