package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/companionlab/companion-server/internal/config"
	apperrors "github.com/companionlab/companion-server/internal/errors"
	"github.com/companionlab/companion-server/internal/metrics"
	"github.com/companionlab/companion-server/internal/model"
	redisclient "github.com/companionlab/companion-server/internal/redis"
	"github.com/companionlab/companion-server/internal/repository"
)

// EventRevalidate tells the UI that the view at a path holds stale data.
const EventRevalidate = "revalidate"

// Publisher delivers an event to every subscriber of a channel.
type Publisher interface {
	Publish(ctx context.Context, channel, eventType string, data any) error
}

// BookmarkService stores the set of companions a user bookmarked.
type BookmarkService interface {
	Enabled() bool
	Mode() string
	// Add bookmarks the companion. path names the view to revalidate afterwards.
	Add(ctx context.Context, userID, companionID, path string) error
	Remove(ctx context.Context, userID, companionID, path string) error
	List(ctx context.Context, userID string) ([]model.Companion, error)
	IDs(ctx context.Context, userID string) ([]string, error)
}

type BookmarkDeps struct {
	Bookmarks  repository.BookmarkRepository
	Companions repository.CompanionRepository
	Redis      *redisclient.Client
	Publisher  Publisher
}

// NewBookmarkService returns the variant selected by mode.
func NewBookmarkService(mode string, deps BookmarkDeps) (BookmarkService, error) {
	switch mode {
	case config.BookmarksPersisted:
		return &persistedBookmarks{repo: deps.Bookmarks, publisher: deps.Publisher}, nil
	case config.BookmarksLocal:
		return &localBookmarks{redis: deps.Redis, companions: deps.Companions}, nil
	case config.BookmarksDisabled, "":
		return disabledBookmarks{}, nil
	default:
		return nil, fmt.Errorf("unknown bookmarks mode %q", mode)
	}
}

func observeBookmark(mode, op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.BookmarkOpsTotal.WithLabelValues(mode, op, status).Inc()
}

type persistedBookmarks struct {
	repo      repository.BookmarkRepository
	publisher Publisher
}

func (b *persistedBookmarks) Enabled() bool { return true }
func (b *persistedBookmarks) Mode() string  { return config.BookmarksPersisted }

func (b *persistedBookmarks) Add(ctx context.Context, userID, companionID, path string) (err error) {
	defer func() { observeBookmark(b.Mode(), "add", err) }()

	if userID == "" {
		return apperrors.Unauthorized("Sign in to bookmark companions")
	}
	if err := b.repo.Create(ctx, userID, companionID); err != nil {
		return apperrors.Database(fmt.Errorf("create bookmark: %w", err))
	}
	b.revalidate(ctx, userID, path)
	return nil
}

func (b *persistedBookmarks) Remove(ctx context.Context, userID, companionID, path string) (err error) {
	defer func() { observeBookmark(b.Mode(), "remove", err) }()

	if userID == "" {
		return apperrors.Unauthorized("Sign in to bookmark companions")
	}
	if err := b.repo.Delete(ctx, userID, companionID); err != nil {
		return apperrors.Database(fmt.Errorf("delete bookmark: %w", err))
	}
	b.revalidate(ctx, userID, path)
	return nil
}

func (b *persistedBookmarks) List(ctx context.Context, userID string) ([]model.Companion, error) {
	if userID == "" {
		return []model.Companion{}, nil
	}
	companions, err := b.repo.FindCompanionsByUser(ctx, userID)
	if err != nil {
		return nil, apperrors.Database(fmt.Errorf("find bookmarks: %w", err))
	}
	return companions, nil
}

func (b *persistedBookmarks) IDs(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return []string{}, nil
	}
	ids, err := b.repo.FindCompanionIDsByUser(ctx, userID)
	if err != nil {
		return nil, apperrors.Database(fmt.Errorf("find bookmark ids: %w", err))
	}
	return ids, nil
}

// revalidate is best effort; the mutation already succeeded.
func (b *persistedBookmarks) revalidate(ctx context.Context, userID, path string) {
	if path == "" || b.publisher == nil {
		return
	}
	err := b.publisher.Publish(ctx, redisclient.UserChannel(userID), EventRevalidate, map[string]string{"path": path})
	if err != nil {
		log.Warn().Err(err).Str("userId", userID).Str("path", path).Msg("failed to publish revalidate event")
	}
}

type disabledBookmarks struct{}

func (disabledBookmarks) Enabled() bool { return false }
func (disabledBookmarks) Mode() string  { return config.BookmarksDisabled }

func (disabledBookmarks) Add(_ context.Context, userID, companionID, _ string) error {
	log.Warn().Str("userId", userID).Str("companionId", companionID).Msg("bookmarks disabled, add ignored")
	return nil
}

func (disabledBookmarks) Remove(_ context.Context, userID, companionID, _ string) error {
	log.Warn().Str("userId", userID).Str("companionId", companionID).Msg("bookmarks disabled, remove ignored")
	return nil
}

func (disabledBookmarks) List(_ context.Context, userID string) ([]model.Companion, error) {
	log.Warn().Str("userId", userID).Msg("bookmarks disabled, returning empty list")
	return []model.Companion{}, nil
}

func (disabledBookmarks) IDs(context.Context, string) ([]string, error) {
	return []string{}, nil
}

// localBookmarks keeps one JSON array of companion ids per user in Redis.
type localBookmarks struct {
	redis      *redisclient.Client
	companions repository.CompanionRepository
}

const localBookmarkRetries = 5

var errBookmarkContention = errors.New("bookmark update contention")

func (b *localBookmarks) Enabled() bool { return true }
func (b *localBookmarks) Mode() string  { return config.BookmarksLocal }

func (b *localBookmarks) Add(ctx context.Context, userID, companionID, _ string) (err error) {
	if userID == "" {
		return nil
	}
	defer func() { observeBookmark(b.Mode(), "add", err) }()

	return b.update(ctx, userID, func(ids []string) []string {
		if slices.Contains(ids, companionID) {
			return ids
		}
		return append(ids, companionID)
	})
}

func (b *localBookmarks) Remove(ctx context.Context, userID, companionID, _ string) (err error) {
	if userID == "" {
		return nil
	}
	defer func() { observeBookmark(b.Mode(), "remove", err) }()

	return b.update(ctx, userID, func(ids []string) []string {
		return slices.DeleteFunc(ids, func(id string) bool { return id == companionID })
	})
}

func (b *localBookmarks) List(ctx context.Context, userID string) ([]model.Companion, error) {
	ids, err := b.IDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	companions, err := b.companions.FindByIDs(ctx, ids)
	if err != nil {
		return nil, apperrors.Database(fmt.Errorf("find bookmarked companions: %w", err))
	}
	return companions, nil
}

func (b *localBookmarks) IDs(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return []string{}, nil
	}
	ids, err := readBookmarkIDs(ctx, b.redis, redisclient.BookmarkKey(userID))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeExternal, "Bookmark store error", err)
	}
	return ids, nil
}

type redisGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readBookmarkIDs(ctx context.Context, r redisGetter, key string) ([]string, error) {
	raw, err := r.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}

	ids := []string{}
	if err := json.Unmarshal(raw, &ids); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("corrupt bookmark list, resetting")
		return []string{}, nil
	}
	return ids, nil
}

// update applies fn to the stored id list under an optimistic WATCH transaction.
func (b *localBookmarks) update(ctx context.Context, userID string, fn func([]string) []string) error {
	key := redisclient.BookmarkKey(userID)

	txf := func(tx *redis.Tx) error {
		ids, err := readBookmarkIDs(ctx, tx, key)
		if err != nil {
			return err
		}
		data, err := json.Marshal(fn(ids))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	for i := 0; i < localBookmarkRetries; i++ {
		err := b.redis.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return apperrors.Wrap(apperrors.ErrCodeExternal, "Bookmark store error", err)
		}
		return nil
	}

	return apperrors.Wrap(apperrors.ErrCodeExternal, "Bookmark store error", errBookmarkContention)
}
