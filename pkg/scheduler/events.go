package scheduler

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"flowfarm/pkg/types"
)

type EventType string

const (
	EventBatchStarted      EventType = "batch_started"
	EventItemStarted       EventType = "item_started"
	EventItemFinished      EventType = "item_finished"
	EventDeviceUnavailable EventType = "device_unavailable"
	EventBatchFinished     EventType = "batch_finished"
)

// Event is a progress notification. Stats is set on batch_finished only.
type Event struct {
	ID       string                `json:"id"`
	Type     EventType             `json:"type"`
	Time     time.Time             `json:"time"`
	BatchID  string                `json:"batchId"`
	DeviceID string                `json:"deviceId,omitempty"`
	ItemID   string                `json:"itemId,omitempty"`
	Status   string                `json:"status,omitempty"`
	Error    string                `json:"error,omitempty"`
	Stats    *types.ExecutionStats `json:"stats,omitempty"`
}

// Broadcaster fans events out to subscribers. Publishing never blocks: a subscriber
// whose buffer is full misses the event.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Event)}
}

// Subscribe returns an event channel and the function that closes it.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Broadcaster) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
