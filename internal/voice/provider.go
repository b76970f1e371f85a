package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/companionlab/companion-server/internal/config"
)

var (
	ErrAlreadyStarted = errors.New("voice call already started")
	ErrNotConnected   = errors.New("voice call not connected")
)

type startCallRequest struct {
	Assistant          Assistant `json:"assistant"`
	AssistantOverrides Overrides `json:"assistantOverrides"`
}

type startCallResponse struct {
	ID      string `json:"id"`
	Monitor struct {
		ListenURL string `json:"listenUrl"`
	} `json:"monitor"`
}

// frame is one JSON text frame on the provider's event stream.
type frame struct {
	Type    EventType `json:"type"`
	Message *Message  `json:"message,omitempty"`
	Error   string    `json:"error,omitempty"`
}

type controlFrame struct {
	Type    string `json:"type"`
	Control string `json:"control"`
}

// ProviderClient talks to the hosted voice-assistant API: calls are created over
// REST and driven over the call's websocket event stream.
type ProviderClient struct {
	http   *resty.Client
	apiKey string
	dialer *websocket.Dialer

	mu       sync.Mutex
	conn     *websocket.Conn
	stopping *websocket.Conn
	callID   string
	done     chan struct{}
	handlers map[int]Handler
	nextID   int

	writeMu sync.Mutex
	muted   atomic.Bool
}

func NewProviderClient(baseURL, apiKey string) *ProviderClient {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("User-Agent", "companion-server/1.0").
		SetTimeout(config.VoiceRequestTimeout)
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}

	return &ProviderClient{
		http:     client,
		apiKey:   apiKey,
		dialer:   &websocket.Dialer{HandshakeTimeout: config.VoiceConnectTimeout},
		handlers: make(map[int]Handler),
	}
}

// NewProviderFactory returns a ClientFactory producing provider clients for one account.
func NewProviderFactory(baseURL, apiKey string) ClientFactory {
	return func() Client {
		return NewProviderClient(baseURL, apiKey)
	}
}

func (c *ProviderClient) Subscribe(h Handler) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.handlers[id] = h
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.handlers, id)
			c.mu.Unlock()
		})
	}
}

func (c *ProviderClient) Start(ctx context.Context, assistant Assistant, overrides Overrides) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.mu.Unlock()

	var result startCallResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(startCallRequest{Assistant: assistant, AssistantOverrides: overrides}).
		SetResult(&result).
		Post("/call/web")
	if err != nil {
		return fmt.Errorf("voice provider request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("voice provider error (%d): %s", resp.StatusCode(), resp.String())
	}
	if result.Monitor.ListenURL == "" {
		return fmt.Errorf("voice provider returned no event stream for call %q", result.ID)
	}

	headers := make(http.Header)
	if c.apiKey != "" {
		headers.Set("Authorization", "Bearer "+c.apiKey)
	}

	dialCtx, cancel := context.WithTimeout(ctx, config.VoiceConnectTimeout)
	defer cancel()

	conn, dialResp, err := c.dialer.DialContext(dialCtx, result.Monitor.ListenURL, headers)
	if err != nil {
		if dialResp != nil {
			return fmt.Errorf("voice event stream dial failed (status %d): %w", dialResp.StatusCode, err)
		}
		return fmt.Errorf("voice event stream dial failed: %w", err)
	}

	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrAlreadyStarted
	}
	c.conn = conn
	c.callID = result.ID
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	log.Info().Str("callId", result.ID).Msg("voice call started")

	go c.readLoop(conn, done)
	return nil
}

func (c *ProviderClient) Stop(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	done := c.done
	callID := c.callID
	c.stopping = conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	if err := c.sendControl(conn, "end-call"); err != nil {
		log.Warn().Err(err).Str("callId", callID).Msg("failed to send end-call")
	}

	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
	c.writeMu.Unlock()
	_ = conn.Close()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	log.Info().Str("callId", callID).Msg("voice call stopped")
	return nil
}

func (c *ProviderClient) IsMuted() bool {
	return c.muted.Load()
}

func (c *ProviderClient) SetMuted(muted bool) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	control := "unmute"
	if muted {
		control = "mute"
	}
	if err := c.sendControl(conn, control); err != nil {
		return fmt.Errorf("send %s: %w", control, err)
	}
	c.muted.Store(muted)
	return nil
}

func (c *ProviderClient) sendControl(conn *websocket.Conn, control string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(controlFrame{Type: "control", Control: control})
}

func (c *ProviderClient) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		if c.stopping == conn {
			c.stopping = nil
		}
		c.mu.Unlock()
		close(done)
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			local := c.stopping == conn
			c.mu.Unlock()

			switch {
			case local || errors.Is(err, net.ErrClosed):
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				c.emit(Event{Type: EventCallEnd})
			default:
				c.emit(Event{Type: EventError, Err: fmt.Errorf("voice event stream: %w", err)})
				c.emit(Event{Type: EventCallEnd})
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			log.Warn().Err(err).Msg("invalid voice event frame")
			continue
		}

		event := Event{Type: f.Type, Message: f.Message}
		if f.Type == EventError {
			event.Err = errors.New(f.Error)
		}
		c.emit(event)
	}
}

func (c *ProviderClient) emit(event Event) {
	c.mu.Lock()
	handlers := make([]Handler, 0, len(c.handlers))
	for _, h := range c.handlers {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}
}
