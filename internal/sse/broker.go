package sse

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	redisclient "github.com/companionlab/companion-server/internal/redis"
)

const (
	HeartbeatInterval       = 30 * time.Second
	clientBufferSize        = 100
	defaultSubscribeTimeout = 5 * time.Second
)

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type Client struct {
	Channel string
	Events  chan Event
	Done    chan struct{}
}

type channelSubscription struct {
	clients map[*Client]struct{}
	cancel  context.CancelFunc
	ready   chan struct{}
}

// Broker fans Redis pubsub messages out to local SSE clients. Each channel holds one
// Redis subscription for as long as it has at least one local client.
type Broker struct {
	redis    *redisclient.Client
	channels map[string]*channelSubscription
	mu       sync.RWMutex
	ctx      context.Context
	cancel   context.CancelFunc

	// subscribeTimeout bounds the wait for Redis to confirm a new channel subscription.
	subscribeTimeout time.Duration
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:    redisClient,
		channels: make(map[string]*channelSubscription),
		ctx:      ctx,
		cancel:   cancel,

		subscribeTimeout: defaultSubscribeTimeout,
	}
}

func (b *Broker) Subscribe(channel string) *Client {
	client := &Client{
		Channel: channel,
		Events:  make(chan Event, clientBufferSize),
		Done:    make(chan struct{}),
	}

	b.mu.Lock()
	sub, ok := b.channels[channel]
	if !ok {
		ctx, cancel := context.WithCancel(b.ctx)
		sub = &channelSubscription{
			clients: make(map[*Client]struct{}),
			cancel:  cancel,
			ready:   make(chan struct{}),
		}
		b.channels[channel] = sub
		go b.subscribeToRedis(ctx, channel, sub.ready)
	}
	sub.clients[client] = struct{}{}
	clientCount := len(sub.clients)
	b.mu.Unlock()

	// Wait for the Redis confirmation so a publish right after Subscribe is not lost.
	select {
	case <-sub.ready:
	case <-time.After(b.subscribeTimeout):
		log.Warn().Str("channel", channel).Msg("redis pubsub confirmation timed out")
	}

	log.Info().
		Str("channel", channel).
		Int("clientCount", clientCount).
		Msg("sse client subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.channels[client.Channel]
	if !ok {
		return
	}
	if _, ok := sub.clients[client]; !ok {
		return
	}

	delete(sub.clients, client)
	close(client.Done)

	if len(sub.clients) == 0 {
		sub.cancel()
		delete(b.channels, client.Channel)
	}

	log.Info().
		Str("channel", client.Channel).
		Int("clientCount", len(sub.clients)).
		Msg("sse client unsubscribed")
}

// Publish sends an event to every subscriber of channel on any instance.
func (b *Broker) Publish(ctx context.Context, channel, eventType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(Event{Type: eventType, Data: payload})
	if err != nil {
		return err
	}

	return b.redis.Publish(ctx, channel, raw).Err()
}

func (b *Broker) subscribeToRedis(ctx context.Context, channel string, ready chan<- struct{}) {
	confirmCtx, cancel := context.WithTimeout(ctx, b.subscribeTimeout)
	pubsub := b.redis.Subscribe(confirmCtx, channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(confirmCtx); err != nil {
		log.Error().Err(err).Str("channel", channel).Msg("redis pubsub subscribe failed")
	}
	cancel()
	close(ready)

	log.Debug().
		Str("channel", channel).
		Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal event")
				continue
			}

			b.broadcast(channel, event)
		}
	}
}

func (b *Broker) broadcast(channel string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	sub, ok := b.channels[channel]
	if !ok {
		return
	}

	for client := range sub.clients {
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("channel", channel).
				Msg("client event buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.channels {
		for client := range sub.clients {
			close(client.Done)
		}
	}
	b.channels = make(map[string]*channelSubscription)
}

func (b *Broker) ClientCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if sub, ok := b.channels[channel]; ok {
		return len(sub.clients)
	}
	return 0
}

func (b *Broker) TotalClients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, sub := range b.channels {
		total += len(sub.clients)
	}
	return total
}
