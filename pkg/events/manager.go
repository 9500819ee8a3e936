package events

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"propertyescrow/pkg/escrow"
)

// Subscriber receives engine events, optionally filtered to one asset.
type Subscriber struct {
	ID      string
	AssetID uint64            // 0 receives every event
	Send    chan escrow.Event // buffered; events are dropped when full
	Done    chan struct{}     // closed when the subscriber is removed
}

// Hub fans committed escrow events out to websocket subscribers. It
// implements escrow.Emitter and never blocks the engine.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	logger      *zap.Logger
	bufferSize  int
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subscribers: make(map[string]*Subscriber),
		logger:      logger,
		bufferSize:  32,
	}
}

// Subscribe registers a new subscriber. assetID 0 subscribes to all assets.
func (h *Hub) Subscribe(assetID uint64) *Subscriber {
	sub := &Subscriber{
		ID:      uuid.NewString(),
		AssetID: assetID,
		Send:    make(chan escrow.Event, h.bufferSize),
		Done:    make(chan struct{}),
	}

	h.mu.Lock()
	h.subscribers[sub.ID] = sub
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscriber and closes its Done channel. It is safe to
// call more than once.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub, ok := h.subscribers[id]; ok {
		close(sub.Done)
		delete(h.subscribers, id)
	}
}

// Emit delivers evt to every matching subscriber without blocking.
func (h *Hub) Emit(evt escrow.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscribers {
		if sub.AssetID != 0 && sub.AssetID != evt.AssetID {
			continue
		}
		select {
		case sub.Send <- evt:
		default:
			h.logger.Warn("dropping event for slow subscriber",
				zap.String("subscriber", sub.ID),
				zap.String("event", evt.Type))
		}
	}
}

// Count reports the number of active subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
