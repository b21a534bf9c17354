package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"OpenMCP-Wallet/pkg/logger"
)

// Publisher 负责将事件发送到某个下游。
type Publisher interface {
	Name() string
	Publish(ctx context.Context, event Event) error
}

// FanoutPublisher 将事件广播给多个 Publisher。
type FanoutPublisher struct {
	publishers []Publisher
}

// NewFanout 创建一个新的 FanoutPublisher，忽略 nil 项。
func NewFanout(publishers ...Publisher) *FanoutPublisher {
	set := make([]Publisher, 0, len(publishers))
	for _, p := range publishers {
		if p != nil {
			set = append(set, p)
		}
	}
	return &FanoutPublisher{publishers: set}
}

// Name 实现 Publisher。
func (f *FanoutPublisher) Name() string { return "fanout" }

// Publish 投递到所有下游，单个下游失败不影响其余下游。
func (f *FanoutPublisher) Publish(ctx context.Context, event Event) error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, p := range f.publishers {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("publisher %s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// LogPublisher 将事件写入审计日志。
type LogPublisher struct {
	log *slog.Logger
}

// NewLogPublisher 使用审计日志创建 LogPublisher；lg 为 nil 时取 logger.Audit()。
func NewLogPublisher(lg *slog.Logger) *LogPublisher {
	if lg == nil {
		lg = logger.Audit()
	}
	return &LogPublisher{log: lg}
}

// Name 实现 Publisher。
func (p *LogPublisher) Name() string { return "log" }

// Publish 实现 Publisher。
func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	p.log.InfoContext(ctx, "wallet session event",
		slog.String("event_id", event.ID),
		slog.String("kind", event.Kind),
		slog.String("session_id", event.SessionID),
		slog.String("provider", event.Provider),
		slog.String("account", event.Account),
		slog.String("chain_id", event.ChainID),
		slog.Time("occurred_at", event.OccurredAt),
	)
	return nil
}
