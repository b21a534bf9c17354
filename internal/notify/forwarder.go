package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	xerrors "OpenMCP-Wallet/internal/errors"
	"OpenMCP-Wallet/internal/session"
	"OpenMCP-Wallet/pkg/logger"
)

const defaultBuffer = 64

// Forwarder 订阅会话变化并在后台 goroutine 中投递事件。
// Store 的监听器是同步调用的，所以 Handle 只做非阻塞入队，队列满时丢弃。
type Forwarder struct {
	publisher Publisher
	timeout   time.Duration
	log       *slog.Logger

	mu      sync.Mutex
	queue   chan Event
	closed  bool
	started bool
	done    chan struct{}
	dropped atomic.Uint64
}

// NewForwarder 创建 Forwarder。buffer <= 0 时使用默认容量。
func NewForwarder(publisher Publisher, buffer int) *Forwarder {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Forwarder{
		publisher: publisher,
		timeout:   5 * time.Second,
		log:       logger.Named("notify"),
		queue:     make(chan Event, buffer),
		done:      make(chan struct{}),
	}
}

// Start 启动投递 goroutine，并在 ctx 结束时停止。
func (f *Forwarder) Start(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started || f.closed {
		return
	}
	f.started = true
	go f.run(ctx)
}

// Handle 可直接作为 session.Store 的订阅函数。
func (f *Forwarder) Handle(change session.Change) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	ev := FromChange(change)
	select {
	case f.queue <- ev:
	default:
		f.dropped.Add(1)
		f.log.Warn("事件队列已满，丢弃会话事件", slog.String("kind", ev.Kind), slog.String("event_id", ev.ID))
	}
}

// Dropped 返回因队列已满而被丢弃的事件数。
func (f *Forwarder) Dropped() uint64 {
	return f.dropped.Load()
}

// Close 停止接收新事件，并等待已入队事件投递完毕。
func (f *Forwarder) Close() {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		close(f.queue)
	}
	started := f.started
	f.mu.Unlock()
	if started {
		<-f.done
	}
}

func (f *Forwarder) run(ctx context.Context) {
	defer close(f.done)
	for {
		select {
		case <-ctx.Done():
			f.drain()
			return
		case ev, ok := <-f.queue:
			if !ok {
				return
			}
			f.publish(ev)
		}
	}
}

// drain 在 ctx 结束后投递剩余事件，直到队列被 Close 关闭或为空。
func (f *Forwarder) drain() {
	for {
		select {
		case ev, ok := <-f.queue:
			if !ok {
				return
			}
			f.publish(ev)
		default:
			return
		}
	}
}

func (f *Forwarder) publish(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()
	err := f.publisher.Publish(ctx, ev)
	if err != nil && xerrors.RetryableError(err) && ctx.Err() == nil {
		err = f.publisher.Publish(ctx, ev)
	}
	if err != nil {
		f.log.Error("投递会话事件失败",
			slog.String("publisher", f.publisher.Name()),
			slog.String("event_id", ev.ID),
			slog.Any("error", err),
		)
	}
}
