package service

import (
	"context"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/mock"

	"github.com/companionlab/companion-server/internal/model"
	"github.com/companionlab/companion-server/internal/repository"
)

type mockCompanionRepo struct {
	mock.Mock
}

func (m *mockCompanionRepo) FindByID(ctx context.Context, id string) (*model.Companion, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Companion), args.Error(1)
}

func (m *mockCompanionRepo) FindFirstByNameLike(ctx context.Context, fragment string) (*model.Companion, error) {
	args := m.Called(ctx, fragment)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Companion), args.Error(1)
}

func (m *mockCompanionRepo) FindByIDs(ctx context.Context, ids []string) ([]model.Companion, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Companion), args.Error(1)
}

func (m *mockCompanionRepo) FindByAuthor(ctx context.Context, author string) ([]model.Companion, error) {
	args := m.Called(ctx, author)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Companion), args.Error(1)
}

func (m *mockCompanionRepo) Search(ctx context.Context, filter model.CompanionFilter) ([]model.CompanionSummary, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.CompanionSummary), args.Error(1)
}

func (m *mockCompanionRepo) CountByAuthor(ctx context.Context, author string) (int, error) {
	args := m.Called(ctx, author)
	return args.Int(0), args.Error(1)
}

func (m *mockCompanionRepo) Create(ctx context.Context, params model.CreateCompanionParams) (*model.Companion, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Companion), args.Error(1)
}

func (m *mockCompanionRepo) LockAuthor(ctx context.Context, author string) error {
	return m.Called(ctx, author).Error(0)
}

func (m *mockCompanionRepo) WithTx(tx *sqlx.Tx) repository.CompanionRepository {
	return m
}

type mockHistoryRepo struct {
	mock.Mock
}

func (m *mockHistoryRepo) Create(ctx context.Context, userID, companionID string) (*model.SessionRecord, error) {
	args := m.Called(ctx, userID, companionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SessionRecord), args.Error(1)
}

func (m *mockHistoryRepo) FindRecentCompanions(ctx context.Context, limit int) ([]model.Companion, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Companion), args.Error(1)
}

func (m *mockHistoryRepo) FindCompanionsByUser(ctx context.Context, userID string, limit int) ([]model.Companion, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Companion), args.Error(1)
}

func (m *mockHistoryRepo) CountByUser(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

type mockBookmarkRepo struct {
	mock.Mock
}

func (m *mockBookmarkRepo) Create(ctx context.Context, userID, companionID string) error {
	return m.Called(ctx, userID, companionID).Error(0)
}

func (m *mockBookmarkRepo) Delete(ctx context.Context, userID, companionID string) error {
	return m.Called(ctx, userID, companionID).Error(0)
}

func (m *mockBookmarkRepo) FindCompanionsByUser(ctx context.Context, userID string) ([]model.Companion, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Companion), args.Error(1)
}

func (m *mockBookmarkRepo) FindCompanionIDsByUser(ctx context.Context, userID string) ([]string, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

type publishedEvent struct {
	Channel string
	Type    string
	Data    any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, channel, eventType string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Channel: channel, Type: eventType, Data: data})
	return p.err
}
