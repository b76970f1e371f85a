package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/companionlab/companion-server/internal/config"
)

// Client backs the event broker, the rate limiter and the local bookmark store.
type Client struct {
	*redis.Client
}

// NewClient parses redisURL and fails fast when the server does not answer a ping.
func NewClient(ctx context.Context, redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, config.DBPingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}

	return &Client{Client: rdb}, nil
}

// UserChannel carries per-user notifications such as path revalidation.
func UserChannel(userID string) string {
	return "events:user:" + userID
}

// CallChannel carries state snapshots of one call session.
func CallChannel(sessionID string) string {
	return "events:call:" + sessionID
}

// BookmarkKey holds the string array of bookmarked companion ids for the local bookmark store.
func BookmarkKey(userID string) string {
	return "companion-bookmarks:" + userID
}
