package call

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/companionlab/companion-server/internal/config"
	apperrors "github.com/companionlab/companion-server/internal/errors"
	"github.com/companionlab/companion-server/internal/metrics"
	"github.com/companionlab/companion-server/internal/model"
	"github.com/companionlab/companion-server/internal/voice"
)

type viewKey struct {
	userID      string
	companionID string
}

// Manager owns the live call controllers. Each (user, companion) pair has at most one
// controller; opening a new one closes the previous.
type Manager struct {
	newClient voice.ClientFactory
	presets   *config.AssistantPresets
	recorder  HistoryRecorder
	publisher Publisher

	mu       sync.Mutex
	sessions map[string]*Controller
	views    map[viewKey]string
}

func NewManager(newClient voice.ClientFactory, presets *config.AssistantPresets, recorder HistoryRecorder, publisher Publisher) *Manager {
	return &Manager{
		newClient: newClient,
		presets:   presets,
		recorder:  recorder,
		publisher: publisher,
		sessions:  make(map[string]*Controller),
		views:     make(map[viewKey]string),
	}
}

// Open creates a call session for the user on the companion. Empty style or voice
// fall back to the companion's own settings.
func (m *Manager) Open(userID string, companion model.Companion, style, voiceType string) *Controller {
	if style == "" {
		style = companion.Style
	}
	if voiceType == "" {
		voiceType = companion.Voice
	}

	ctrl := NewController(Params{
		SessionID: uuid.NewString(),
		UserID:    userID,
		Companion: companion,
		Style:     style,
		Voice:     voiceType,
	}, m.newClient(), voice.BuildAssistant(m.presets, voiceType, style), m.recorder, m.publisher)

	key := viewKey{userID: userID, companionID: companion.ID}

	m.mu.Lock()
	previous := m.sessions[m.views[key]]
	if previous != nil {
		delete(m.sessions, previous.ID())
	}
	m.sessions[ctrl.ID()] = ctrl
	m.views[key] = ctrl.ID()
	metrics.CallsLive.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	if previous != nil {
		previous.Close()
	}

	log.Info().
		Str("sessionId", ctrl.ID()).
		Str("userId", userID).
		Str("companionId", companion.ID).
		Msg("call session opened")

	return ctrl
}

// Get returns the user's session. Sessions of other users are reported as not found.
func (m *Manager) Get(sessionID, userID string) (*Controller, error) {
	m.mu.Lock()
	ctrl, ok := m.sessions[sessionID]
	m.mu.Unlock()

	if !ok || ctrl.UserID() != userID {
		return nil, apperrors.NotFound("Call session")
	}
	return ctrl, nil
}

// Remove closes the user's session and drops it from the registry.
func (m *Manager) Remove(sessionID, userID string) error {
	ctrl, err := m.Get(sessionID, userID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.dropLocked(ctrl)
	m.mu.Unlock()

	ctrl.Close()
	return nil
}

// ReapFinished closes sessions that finished, or were never started, more than ttl ago.
func (m *Manager) ReapFinished(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)

	m.mu.Lock()
	var stale []*Controller
	for _, ctrl := range m.sessions {
		if ctrl.FinishedBefore(cutoff) {
			stale = append(stale, ctrl)
		}
	}
	for _, ctrl := range stale {
		m.dropLocked(ctrl)
	}
	m.mu.Unlock()

	for _, ctrl := range stale {
		ctrl.Close()
	}
	return len(stale)
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CloseAll stops every live call. Used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := make([]*Controller, 0, len(m.sessions))
	for _, ctrl := range m.sessions {
		all = append(all, ctrl)
	}
	m.sessions = make(map[string]*Controller)
	m.views = make(map[viewKey]string)
	metrics.CallsLive.Set(0)
	m.mu.Unlock()

	for _, ctrl := range all {
		ctrl.Close()
	}
}

func (m *Manager) dropLocked(ctrl *Controller) {
	delete(m.sessions, ctrl.ID())
	key := viewKey{userID: ctrl.UserID(), companionID: ctrl.CompanionID()}
	if m.views[key] == ctrl.ID() {
		delete(m.views, key)
	}
	metrics.CallsLive.Set(float64(len(m.sessions)))
}
