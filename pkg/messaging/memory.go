package messaging

import (
	"context"
	"sync"
)

// MemoryBroker keeps one buffered queue per topic inside the process. It
// backs local development and tests.
type MemoryBroker struct {
	mu     sync.Mutex
	topics map[string]chan []byte
	size   int
	closed bool
	done   chan struct{}
}

func NewMemoryBroker(size int) *MemoryBroker {
	if size <= 0 {
		size = 256
	}
	return &MemoryBroker{topics: make(map[string]chan []byte), size: size, done: make(chan struct{})}
}

func (b *MemoryBroker) queue(topic string) (chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	q, ok := b.topics[topic]
	if !ok {
		q = make(chan []byte, b.size)
		b.topics[topic] = q
	}
	return q, nil
}

func (b *MemoryBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	q, err := b.queue(topic)
	if err != nil {
		return err
	}
	msg := append([]byte(nil), payload...)
	select {
	case q <- msg:
		return nil
	case <-b.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MemoryBroker) Consume(ctx context.Context, topic string, handler Handler) error {
	q, err := b.queue(topic)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.done:
			return nil
		case msg := <-q:
			_ = handler(ctx, msg)
		}
	}
}

// Len reports how many messages wait on topic.
func (b *MemoryBroker) Len(topic string) int {
	q, err := b.queue(topic)
	if err != nil {
		return 0
	}
	return len(q)
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.done)
	return nil
}
