package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultSendTimeout is how long Emit waits on a full buffer before dropping.
const DefaultSendTimeout = 100 * time.Millisecond

// Bus is a buffered Emitter feeding a single outbound channel.
// When the buffer is full, Emit waits briefly and then drops the event.
type Bus struct {
	events       chan Event
	clock        clockwork.Clock
	timeout      time.Duration
	logger       *slog.Logger
	droppedCount atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithClock sets the clock used for timestamps and send timeouts.
func WithClock(c clockwork.Clock) BusOption {
	return func(b *Bus) { b.clock = c }
}

// WithSendTimeout overrides DefaultSendTimeout.
func WithSendTimeout(d time.Duration) BusOption {
	return func(b *Bus) { b.timeout = d }
}

// WithLogger sets the logger used to report dropped events.
func WithLogger(l *slog.Logger) BusOption {
	return func(b *Bus) { b.logger = l }
}

// NewBus creates a Bus with the given buffer size.
func NewBus(bufferSize int, opts ...BusOption) *Bus {
	b := &Bus{
		events:  make(chan Event, bufferSize),
		clock:   clockwork.NewRealClock(),
		timeout: DefaultSendTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Emit stamps the event if needed and sends it to the outbound channel.
// Events emitted after Close are dropped.
func (b *Bus) Emit(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = b.clock.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	select {
	case b.events <- e:
		return
	default:
	}

	select {
	case b.events <- e:
	case <-b.clock.After(b.timeout):
		count := b.droppedCount.Add(1)
		if count%10 == 1 {
			b.logger.Warn("event channel full, dropping event", "type", e.Type, "dropped", count)
		}
	}
}

// Events returns the outbound channel.
func (b *Bus) Events() <-chan Event {
	return b.events
}

// DroppedCount returns how many events were dropped.
func (b *Bus) DroppedCount() uint64 {
	return b.droppedCount.Load()
}

// Close closes the outbound channel. It is safe to call more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.events)
}
