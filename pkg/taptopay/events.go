package taptopay

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/aussiebroadwan/arise/pkg/domain"
)

// subscriberBuffer is the per-subscriber queue. A subscriber that falls this
// far behind loses events instead of stalling the reader.
const subscriberBuffer = 32

// translateEvent maps a raw reader event onto the SDK-owned event shape.
func translateEvent(raw RawEvent, at time.Time) domain.Event {
	ev := domain.Event{Message: raw.Message, Time: at}

	switch raw.Kind {
	case RawProgress:
		ev.Type = domain.EventReaderProgress
		pct := int(math.Round(math.Max(0, math.Min(1, raw.Progress)) * 100))
		ev.Progress = &pct
	case RawReady:
		ev.Type = domain.EventReaderReady
	case RawNotReady:
		ev.Type = domain.EventReaderNotReady
	case RawCardDetected:
		ev.Type = domain.EventCardDetected
	case RawCardReadSuccess:
		ev.Type = domain.EventCardReadCompleted
	case RawCardReadRetry:
		ev.Type = domain.EventCardReadRetry
	case RawCardReadCancelled:
		ev.Type = domain.EventCardReadCancelled
	case RawPINRequested:
		ev.Type = domain.EventPinEntryRequested
	case RawPINCompleted:
		ev.Type = domain.EventPinEntryCompleted
	case RawTransactionStarted:
		ev.Type = domain.EventTransactionStarted
	case RawTransactionEnded:
		ev.Type = domain.EventTransactionEnded
	default:
		ev.Type = domain.EventUnknown
		if ev.Message == "" {
			ev.Message = string(raw.Kind)
		}
	}
	return ev
}

// broadcaster fans reader events out to subscribers. The reader subscription
// (the pump) runs only while at least one subscriber exists.
type broadcaster struct {
	source func(ctx context.Context) <-chan RawEvent
	now    func() time.Time

	mu     sync.Mutex
	subs   map[uint64]chan domain.Event
	nextID uint64
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

func newBroadcaster(source func(ctx context.Context) <-chan RawEvent, now func() time.Time) *broadcaster {
	return &broadcaster{
		source: source,
		now:    now,
		subs:   make(map[uint64]chan domain.Event),
	}
}

// subscribe registers a subscriber. The returned func (also run when ctx
// ends) unsubscribes and closes the channel; it is safe to call twice.
func (b *broadcaster) subscribe(ctx context.Context) (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, subscriberBuffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	if len(b.subs) == 1 {
		b.startPumpLocked()
	}
	b.mu.Unlock()

	var once sync.Once
	remove := func() { once.Do(func() { b.remove(id) }) }
	stop := context.AfterFunc(ctx, remove)

	return ch, func() {
		stop()
		remove()
	}
}

func (b *broadcaster) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(ch)

	if len(b.subs) == 0 {
		b.stopPumpLocked()
	}
}

func (b *broadcaster) startPumpLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	b.gen++
	b.cancel = cancel
	done := make(chan struct{})
	b.done = done

	raw := b.source(ctx)
	go b.pump(b.gen, raw, done)
}

func (b *broadcaster) stopPumpLocked() {
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
}

func (b *broadcaster) pump(gen uint64, raw <-chan RawEvent, done chan struct{}) {
	defer close(done)
	for ev := range raw {
		b.publish(gen, translateEvent(ev, b.now()))
	}
}

func (b *broadcaster) publish(gen uint64, ev domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Late events from a stopped pump
	if gen != b.gen || b.cancel == nil {
		return
	}

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// subscribers returns the number of live subscribers.
func (b *broadcaster) subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// pumpDone returns a channel closed when the current (or last) pump exits.
func (b *broadcaster) pumpDone() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return b.done
}

// shutdown ends every subscription and the pump. Later subscribers receive
// a closed channel.
func (b *broadcaster) shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	b.stopPumpLocked()
}
