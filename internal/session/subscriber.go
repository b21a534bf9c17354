package session

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"OpenMCP-Wallet/internal/web3"
	"OpenMCP-Wallet/pkg/logger"
)

// Binding ties one client to the event handlers registered for it.
type Binding struct {
	client  web3.Client
	cancels []func()
	closed  atomic.Bool
}

// Closed reports whether the provider emitted close for this client.
func (b *Binding) Closed() bool {
	return b != nil && b.closed.Load()
}

// Detach removes the handlers. Safe to call repeatedly.
func (b *Binding) Detach() {
	if b == nil {
		return
	}
	for _, cancel := range b.cancels {
		cancel()
	}
	b.cancels = nil
}

// Subscriber folds provider events into the Store.
type Subscriber struct {
	store        *Store
	eventTimeout time.Duration
	observer     Observer
	log          *slog.Logger
}

// NewSubscriber creates a Subscriber writing into store. eventTimeout bounds
// the chain id re-query after networkChanged; zero leaves it unbounded.
func NewSubscriber(store *Store, eventTimeout time.Duration, observer Observer) *Subscriber {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Subscriber{
		store:        store,
		eventTimeout: eventTimeout,
		observer:     observer,
		log:          logger.Named("session"),
	}
}

// Subscribe registers close, accountsChanged and networkChanged handlers on
// the raw handle's emitter. Handles without one (plain HTTP endpoints) get an
// empty binding; that is not an error.
func (s *Subscriber) Subscribe(raw web3.Raw, client web3.Client) *Binding {
	b := &Binding{client: client}

	em := raw.Emitter()
	if em == nil {
		if src, ok := client.(web3.EventSource); ok {
			em = src.Events()
		}
	}
	if em == nil {
		return b
	}

	b.cancels = append(b.cancels,
		em.On(web3.EventClose, func([]string) { s.onClose(b) }),
		em.On(web3.EventAccountsChanged, func(addrs []string) { s.onAccountsChanged(b, addrs) }),
		em.On(web3.EventNetworkChanged, func([]string) { s.onNetworkChanged(b) }),
	)
	return b
}

func (s *Subscriber) onClose(b *Binding) {
	s.observer.EventReceived(web3.EventClose)
	b.closed.Store(true)
	if s.store.reset(b.client) {
		s.log.Info("provider 关闭连接，会话已重置")
	}
}

func (s *Subscriber) onAccountsChanged(b *Binding, addrs []string) {
	s.observer.EventReceived(web3.EventAccountsChanged)
	if len(addrs) == 0 {
		s.log.Warn("accountsChanged 未携带账户，忽略")
		return
	}
	account, err := b.client.ChecksumAddress(addrs[0])
	if err != nil {
		s.log.Warn("accountsChanged 携带无效地址", slog.String("address", addrs[0]), slog.Any("error", err))
		return
	}
	s.store.setAccount(b.client, account)
}

func (s *Subscriber) onNetworkChanged(b *Binding) {
	s.observer.EventReceived(web3.EventNetworkChanged)
	go func() {
		ctx := context.Background()
		if s.eventTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.eventTimeout)
			defer cancel()
		}
		id, err := b.client.ChainID(ctx)
		if err != nil {
			s.log.Warn("networkChanged 后查询链 ID 失败", slog.Any("error", err))
			return
		}
		s.store.setChainID(b.client, id)
	}()
}
