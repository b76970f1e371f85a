package call

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/companionlab/companion-server/internal/config"
	apperrors "github.com/companionlab/companion-server/internal/errors"
	"github.com/companionlab/companion-server/internal/model"
	"github.com/companionlab/companion-server/internal/voice"
)

func newTestManager(t *testing.T) (*Manager, *[]*fakeClient) {
	t.Helper()
	presets, err := config.LoadAssistantPresets()
	require.NoError(t, err)

	clients := &[]*fakeClient{}
	factory := func() voice.Client {
		c := newFakeClient()
		*clients = append(*clients, c)
		return c
	}
	m := NewManager(factory, presets, &fakeRecorder{}, &fakePublisher{})
	t.Cleanup(m.CloseAll)
	return m, clients
}

func TestManager_OpenAndGet(t *testing.T) {
	m, _ := newTestManager(t)

	ctrl := m.Open("user-1", testCompanion, "", "")
	assert.NotEmpty(t, ctrl.ID())
	assert.Equal(t, "casual", ctrl.style)
	assert.Equal(t, "ZIlrSGI4jZqobxRKprJz", ctrl.assistant.Voice.VoiceID)

	got, err := m.Get(ctrl.ID(), "user-1")
	require.NoError(t, err)
	assert.Same(t, ctrl, got)

	_, err = m.Get(ctrl.ID(), "user-2")
	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))

	_, err = m.Get("missing", "user-1")
	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
}

func TestManager_OpenOverridesStyleAndVoice(t *testing.T) {
	m, _ := newTestManager(t)

	ctrl := m.Open("user-1", testCompanion, "formal", "male")
	assert.Equal(t, "formal", ctrl.style)
	assert.Equal(t, "c6SfcYrb2t09NHXiT80T", ctrl.assistant.Voice.VoiceID)
}

func TestManager_OpenReplacesPreviousView(t *testing.T) {
	m, clients := newTestManager(t)

	first := m.Open("user-1", testCompanion, "", "")
	require.NoError(t, first.Start(context.Background()))

	second := m.Open("user-1", testCompanion, "", "")
	assert.NotEqual(t, first.ID(), second.ID())
	assert.Equal(t, 1, m.Len())

	assert.Equal(t, model.CallStatusFinished, first.Status())
	assert.Equal(t, 1, (*clients)[0].stopCount())
	assert.Equal(t, 0, (*clients)[0].subscribers())

	other := testCompanion
	other.ID = "comp-2"
	m.Open("user-1", other, "", "")
	m.Open("user-2", testCompanion, "", "")
	assert.Equal(t, 3, m.Len())
}

func TestManager_Remove(t *testing.T) {
	m, clients := newTestManager(t)
	ctrl := m.Open("user-1", testCompanion, "", "")

	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(m.Remove(ctrl.ID(), "user-2")))
	assert.Equal(t, 1, m.Len())

	require.NoError(t, m.Remove(ctrl.ID(), "user-1"))
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, 0, (*clients)[0].subscribers())
}

func TestManager_ReapFinished(t *testing.T) {
	m, _ := newTestManager(t)

	finished := m.Open("user-1", testCompanion, "", "")
	require.NoError(t, finished.Start(context.Background()))
	require.NoError(t, finished.Disconnect(context.Background()))

	live := m.Open("user-2", testCompanion, "", "")
	require.NoError(t, live.Start(context.Background()))

	assert.Equal(t, 0, m.ReapFinished(time.Hour))
	assert.Equal(t, 2, m.Len())

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, m.ReapFinished(time.Millisecond))
	assert.Equal(t, 1, m.Len())

	_, err := m.Get(live.ID(), "user-2")
	assert.NoError(t, err)
}
