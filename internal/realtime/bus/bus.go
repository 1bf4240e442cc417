package bus

import (
	"context"
	"sync"

	"github.com/yungbote/labreport-backend/internal/realtime"
)

// Bus carries status events between processes so every API instance can push
// to the clients connected to it.
type Bus interface {
	Publish(ctx context.Context, ev realtime.StatusEvent) error
	StartForwarder(ctx context.Context, onMsg func(ev realtime.StatusEvent)) error
	Close() error
}

// NewLocalBus delivers events in-process only. Used when REDIS_ADDR is unset.
func NewLocalBus() Bus { return &localBus{} }

type localBus struct {
	mu       sync.RWMutex
	handlers []func(realtime.StatusEvent)
}

func (b *localBus) Publish(_ context.Context, ev realtime.StatusEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, h := range b.handlers {
		h(ev)
	}
	return nil
}

func (b *localBus) StartForwarder(_ context.Context, onMsg func(ev realtime.StatusEvent)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, onMsg)
	return nil
}

func (b *localBus) Close() error { return nil }
