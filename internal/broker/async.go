package broker

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultQueueSize は非同期発行キューの既定の長さです
const DefaultQueueSize = 256

// closeTimeout はClose時にキューの残りを送り切るまで待つ時間です
const closeTimeout = 5 * time.Second

var (
	// ErrQueueFull はキューが埋まっていてイベントを捨てたことを表します
	ErrQueueFull = errors.New("publish queue is full")
	// ErrPublisherClosed はClose後の発行を表します
	ErrPublisherClosed = errors.New("publisher is closed")
)

type event struct {
	message interface{}
	key     string
}

// AsyncPublisher は発行をバッファ付きキューに積み、1つのゴルーチンで next に渡します
// Publish はブロックせず、キューが埋まっている場合はイベントを捨てて ErrQueueFull を返します
type AsyncPublisher struct {
	next    Publisher
	queue   chan event
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// NewAsync は next への発行を非同期にする Publisher を返します
func NewAsync(next Publisher, size int) *AsyncPublisher {
	if size <= 0 {
		size = DefaultQueueSize
	}
	p := &AsyncPublisher{
		next:  next,
		queue: make(chan event, size),
		done:  make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *AsyncPublisher) run() {
	defer close(p.done)
	for ev := range p.queue {
		if err := p.next.Publish(ev.message, ev.key); err != nil {
			log.Printf("Failed to publish %s event: %v", ev.key, err)
		}
	}
}

func (p *AsyncPublisher) Publish(message interface{}, key string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPublisherClosed
	}

	select {
	case p.queue <- event{message: message, key: key}:
		return nil
	default:
		n := p.dropped.Add(1)
		log.Printf("Dropped %s event, publish queue is full (dropped total: %d)", key, n)
		return fmt.Errorf("%w: %s", ErrQueueFull, key)
	}
}

// Dropped はキューが埋まっていて捨てたイベントの数を返します
func (p *AsyncPublisher) Dropped() int64 {
	return p.dropped.Load()
}

// Close は新しい発行を止め、キューの残りを送り切ってから next を閉じます
// closeTimeout を過ぎても送り切れない場合は残りを諦めます
func (p *AsyncPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	select {
	case <-p.done:
	case <-time.After(closeTimeout):
		log.Printf("Publish queue was not drained within %v, remaining events are discarded", closeTimeout)
		return nil
	}
	return p.next.Close()
}
