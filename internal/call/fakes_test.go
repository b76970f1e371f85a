package call

import (
	"context"
	"sync"

	"github.com/companionlab/companion-server/internal/model"
	"github.com/companionlab/companion-server/internal/voice"
)

type fakeClient struct {
	mu       sync.Mutex
	handlers map[int]voice.Handler
	nextID   int
	muted    bool
	startErr error
	muteErr  error
	live     bool

	// startGate, when set, holds Start until it is closed; startEntered is
	// closed once Start is waiting on it.
	startGate    chan struct{}
	startEntered chan struct{}
	starts   []voice.Overrides
	stops    int
	mutes    []bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: make(map[int]voice.Handler)}
}

func (f *fakeClient) Start(ctx context.Context, assistant voice.Assistant, overrides voice.Overrides) error {
	f.mu.Lock()
	gate, entered := f.startGate, f.startEntered
	f.mu.Unlock()
	if gate != nil {
		close(entered)
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, overrides)
	if f.startErr == nil {
		f.live = true
	}
	return f.startErr
}

func (f *fakeClient) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.live = false
	return nil
}

func (f *fakeClient) isLive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live
}

func (f *fakeClient) IsMuted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.muted
}

func (f *fakeClient) SetMuted(muted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.muteErr != nil {
		return f.muteErr
	}
	f.muted = muted
	f.mutes = append(f.mutes, muted)
	return nil
}

func (f *fakeClient) Subscribe(h voice.Handler) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.handlers[id] = h
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.handlers, id)
		f.mu.Unlock()
	}
}

func (f *fakeClient) emit(e voice.Event) {
	f.mu.Lock()
	handlers := make([]voice.Handler, 0, len(f.handlers))
	for _, h := range f.handlers {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(e)
	}
}

func (f *fakeClient) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

func (f *fakeClient) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

type historyCall struct {
	UserID      string
	CompanionID string
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []historyCall
	err   error
}

func (r *fakeRecorder) Record(ctx context.Context, userID, companionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, historyCall{UserID: userID, CompanionID: companionID})
	return r.err
}

func (r *fakeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type fakePublisher struct {
	mu        sync.Mutex
	snapshots []model.CallSnapshot
	channels  []string
}

func (p *fakePublisher) Publish(ctx context.Context, channel, eventType string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels = append(p.channels, channel)
	if snap, ok := data.(model.CallSnapshot); ok {
		p.snapshots = append(p.snapshots, snap)
	}
	return nil
}

func (p *fakePublisher) last() model.CallSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshots[len(p.snapshots)-1]
}
