package handler

import (
	"context"
	"net/http"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/companionlab/companion-server/internal/auth"
	"github.com/companionlab/companion-server/internal/model"
	"github.com/companionlab/companion-server/internal/service"
	"github.com/companionlab/companion-server/internal/voice"
)

const (
	testUserID      = "user_1"
	testCompanionID = "7d3c2a4e-9b1f-4c55-8a2e-1f0b6c9d4e21"
)

func withUser(r *http.Request, userID string) *http.Request {
	return r.WithContext(auth.WithIdentity(r.Context(), &auth.Identity{UserID: userID}))
}

func testCompanion() *model.Companion {
	return &model.Companion{
		ID:       testCompanionID,
		Name:     "Neura the Brainy Explorer",
		Subject:  "science",
		Topic:    "Neural networks of the brain",
		Duration: 15,
		Style:    "casual",
		Voice:    "female",
		Author:   "user_2",
	}
}

type mockDirectory struct {
	mock.Mock
}

func (m *mockDirectory) List(ctx context.Context, filter model.CompanionFilter, userID string) []model.CompanionSummary {
	args := m.Called(ctx, filter, userID)
	return args.Get(0).([]model.CompanionSummary)
}

func (m *mockDirectory) Get(ctx context.Context, idOrSlug string) (*model.Companion, error) {
	args := m.Called(ctx, idOrSlug)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Companion), args.Error(1)
}

func (m *mockDirectory) Create(ctx context.Context, id *auth.Identity, req service.CreateCompanionRequest) (*model.Companion, error) {
	args := m.Called(ctx, id, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Companion), args.Error(1)
}

func (m *mockDirectory) ListByAuthor(ctx context.Context, userID string) ([]model.Companion, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Companion), args.Error(1)
}

type mockHistory struct {
	mock.Mock
}

func (m *mockHistory) Recent(ctx context.Context, limit int) ([]model.Companion, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Companion), args.Error(1)
}

func (m *mockHistory) ForUser(ctx context.Context, userID string, limit int) ([]model.Companion, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Companion), args.Error(1)
}

func (m *mockHistory) CountForUser(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

type bookmarkCall struct {
	UserID      string
	CompanionID string
	Path        string
}

// stubBookmarks keeps bookmarks in memory.
type stubBookmarks struct {
	mu      sync.Mutex
	enabled bool
	ids     []string
	err     error
	added   []bookmarkCall
	removed []bookmarkCall
}

func (s *stubBookmarks) Enabled() bool { return s.enabled }

func (s *stubBookmarks) Mode() string {
	if s.enabled {
		return "persisted"
	}
	return "disabled"
}

func (s *stubBookmarks) Add(_ context.Context, userID, companionID, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.added = append(s.added, bookmarkCall{userID, companionID, path})
	s.ids = append(s.ids, companionID)
	return nil
}

func (s *stubBookmarks) Remove(_ context.Context, userID, companionID, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.removed = append(s.removed, bookmarkCall{userID, companionID, path})
	return nil
}

func (s *stubBookmarks) List(context.Context, string) ([]model.Companion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([]model.Companion, 0, len(s.ids))
	for _, id := range s.ids {
		out = append(out, model.Companion{ID: id})
	}
	return out, nil
}

func (s *stubBookmarks) IDs(context.Context, string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ids, s.err
}

type stubPermissions struct {
	perms service.Permissions
}

func (s stubPermissions) Permissions(context.Context, *auth.Identity) service.Permissions {
	return s.perms
}

type stubVoiceClient struct {
	mu       sync.Mutex
	startErr error
	muted    bool
	handler  voice.Handler
}

func (c *stubVoiceClient) Start(context.Context, voice.Assistant, voice.Overrides) error {
	return c.startErr
}

func (c *stubVoiceClient) Stop(context.Context) error { return nil }

func (c *stubVoiceClient) IsMuted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

func (c *stubVoiceClient) SetMuted(muted bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = muted
	return nil
}

func (c *stubVoiceClient) Subscribe(h voice.Handler) func() {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
	return func() {}
}

func (c *stubVoiceClient) emit(e voice.Event) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h(e)
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, string, any) error { return nil }

type countingRecorder struct {
	mu    sync.Mutex
	count int
}

func (r *countingRecorder) Record(context.Context, string, string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
	return nil
}

func (r *countingRecorder) recorded() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
