package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dotcelery/dotcelery/internal/domain"
)

// Memory is an in-process Broker used by tests and the single-node sample
// pipeline. It honors per-queue FIFO delivery, ack/reject-with-requeue, and
// a bounded outstanding-delivery count per consumer (simulating prefetch).
type Memory struct {
	mu       sync.Mutex
	queues   map[string]chan domain.BrokerMessage
	tagSeq   int64
	closed   bool
	inFlight map[string]chan struct{} // deliveryTag -> prefetch slot to release on ack/reject
}

// NewMemory creates an empty in-memory broker.
func NewMemory() *Memory {
	return &Memory{
		queues:   make(map[string]chan domain.BrokerMessage),
		inFlight: make(map[string]chan struct{}),
	}
}

func (b *Memory) queue(name string) chan domain.BrokerMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		q = make(chan domain.BrokerMessage, 10000)
		b.queues[name] = q
	}
	return q
}

// Publish enqueues msg onto msg.Queue, minting a fresh delivery tag.
func (b *Memory) Publish(ctx context.Context, msg domain.TaskMessage) error {
	tag := atomic.AddInt64(&b.tagSeq, 1)
	delivery := domain.BrokerMessage{
		Task:        msg,
		DeliveryTag: fmt.Sprintf("mem-%d", tag),
		Queue:       msg.Queue,
		ReceivedAt:  time.Now(),
	}

	select {
	case b.queue(msg.Queue) <- delivery:
		return nil
	default:
		return ErrQueueFull
	}
}

// Consume returns a channel multiplexing the named queues, bounded to
// prefetch outstanding deliveries at a time.
func (b *Memory) Consume(ctx context.Context, queues []string, prefetch int) (<-chan domain.BrokerMessage, error) {
	if prefetch <= 0 {
		prefetch = 1
	}

	out := make(chan domain.BrokerMessage, prefetch)
	sem := make(chan struct{}, prefetch)

	var wg sync.WaitGroup
	for _, name := range queues {
		q := b.queue(name)
		wg.Add(1)
		go func(q chan domain.BrokerMessage) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case sem <- struct{}{}:
				}
				select {
				case <-ctx.Done():
					<-sem
					return
				case msg, ok := <-q:
					if !ok {
						<-sem
						return
					}
					b.mu.Lock()
					b.inFlight[msg.DeliveryTag] = sem
					b.mu.Unlock()
					select {
					case out <- msg:
					case <-ctx.Done():
						b.releaseSlot(msg.DeliveryTag)
						return
					}
				}
			}
		}(q)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out, nil
}

// releaseSlot frees the prefetch slot held by a delivery tag, if any.
func (b *Memory) releaseSlot(tag string) {
	b.mu.Lock()
	sem, ok := b.inFlight[tag]
	if ok {
		delete(b.inFlight, tag)
	}
	b.mu.Unlock()
	if ok {
		<-sem
	}
}

// Ack acknowledges msg, releasing the prefetch slot it occupied.
func (b *Memory) Ack(ctx context.Context, msg domain.BrokerMessage) error {
	b.releaseSlot(msg.DeliveryTag)
	return nil
}

// Reject re-publishes msg to its origin queue when requeue is true;
// otherwise it is dropped (simulating broker-side DLQ routing). Either way
// the prefetch slot is released.
func (b *Memory) Reject(ctx context.Context, msg domain.BrokerMessage, requeue bool) error {
	b.releaseSlot(msg.DeliveryTag)
	if !requeue {
		return nil
	}
	return b.Publish(ctx, msg.Task)
}

// IsHealthy reports true until the broker is closed.
func (b *Memory) IsHealthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed
}

// Close marks the broker closed. Existing queue channels are left open so
// in-flight Consume goroutines can drain on ctx cancellation.
func (b *Memory) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
