package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"OpenMCP-Wallet/internal/connector"
	xerrors "OpenMCP-Wallet/internal/errors"
	"OpenMCP-Wallet/internal/web3"
	"OpenMCP-Wallet/internal/web3/provider"
	"OpenMCP-Wallet/pkg/logger"
)

// Connector is the provider-selection capability the controller needs.
type Connector interface {
	Ready() bool
	Connect(ctx context.Context) (connector.Selection, bool, error)
	// Remember records a choice once its session has been published.
	Remember(ctx context.Context, name string) error
	ClearCachedProvider(ctx context.Context) error
}

// ClientFactory builds a client for a raw handle.
type ClientFactory func(ctx context.Context, raw web3.Raw) (web3.Client, error)

// Service is everything the outer layers may do with a session: read it,
// watch it, connect and disconnect.
type Service interface {
	Snapshot() Snapshot
	Subscribe(fn func(Change)) (cancel func())
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

// Option customises a Controller.
type Option func(*Controller)

// WithClientFactory replaces provider.CreateClient.
func WithClientFactory(f ClientFactory) Option {
	return func(c *Controller) {
		if f != nil {
			c.factory = f
		}
	}
}

// WithEventTimeout bounds event-driven chain id queries.
func WithEventTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.eventTimeout = d
	}
}

// WithObserver reports connect/disconnect outcomes and provider events.
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		if o != nil {
			c.observer = o
		}
	}
}

// Controller sequences connect and disconnect against a single Store.
// Connect and Disconnect calls are serialised.
type Controller struct {
	connector    Connector
	store        *Store
	subscriber   *Subscriber
	factory      ClientFactory
	eventTimeout time.Duration
	observer     Observer
	log          *slog.Logger

	opMu    sync.Mutex
	binding *Binding
}

// NewController wires a controller to an initialised-or-pending connector.
func NewController(conn Connector, store *Store, opts ...Option) *Controller {
	if store == nil {
		store = NewStore()
	}
	c := &Controller{
		connector: conn,
		store:     store,
		factory:   provider.CreateClient,
		observer:  nopObserver{},
		log:       logger.Named("session"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.subscriber = NewSubscriber(store, c.eventTimeout, c.observer)
	return c
}

// Snapshot implements Service.
func (c *Controller) Snapshot() Snapshot {
	return c.store.Snapshot()
}

// Subscribe implements Service.
func (c *Controller) Subscribe(fn func(Change)) func() {
	return c.store.Subscribe(fn)
}

// Connect asks the connector for a provider and publishes a complete session
// built from it. A connector that is not ready yet, or a dismissed picker,
// leaves the session untouched and returns nil. On failure the new client is
// released and the previous session stays as it was.
func (c *Controller) Connect(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	start := time.Now()
	outcome, err := c.connect(ctx)
	c.observer.ConnectFinished(outcome, time.Since(start))
	return err
}

func (c *Controller) connect(ctx context.Context) (string, error) {
	if c.connector == nil || !c.connector.Ready() {
		c.log.Debug("connector 尚未就绪，忽略 connect")
		return OutcomeNotReady, nil
	}

	sel, ok, err := c.connector.Connect(ctx)
	if err != nil {
		return OutcomeFailed, err
	}
	if !ok {
		c.log.Debug("provider 选择被取消")
		return OutcomeCancelled, nil
	}

	client, err := c.factory(ctx, sel.Raw)
	if err != nil {
		return OutcomeFailed, xerrors.Wrap(xerrors.CodeTransportFailure, err, "创建客户端失败", xerrors.WithMetadata("provider", sel.Name))
	}
	binding := c.subscriber.Subscribe(sel.Raw, client)

	next, err := c.load(ctx, client)
	if err == nil && binding.Closed() {
		err = xerrors.New(xerrors.CodeProviderClosed, "")
	}
	if err != nil {
		binding.Detach()
		c.release(ctx, client)
		return OutcomeFailed, err
	}
	next.Provider = sel.Name

	previous := c.binding
	c.store.publish(next)
	c.binding = binding
	if previous != nil {
		previous.Detach()
		c.release(ctx, previous.client)
	}
	if err := c.connector.Remember(ctx, sel.Name); err != nil {
		c.log.Warn("记录 provider 选择失败", slog.String("provider", sel.Name), slog.Any("error", err))
	}

	c.log.Info("会话已建立",
		slog.String("provider", sel.Name),
		slog.String("transport", client.Transport().String()),
		slog.String("account", next.Account),
		slog.String("chain_id", next.ChainID.String()),
	)
	return OutcomeConnected, nil
}

func (c *Controller) load(ctx context.Context, client web3.Client) (Snapshot, error) {
	accounts, err := client.Accounts(ctx)
	if err != nil {
		return Snapshot{}, xerrors.Wrap(xerrors.CodeTransportFailure, err, "获取账户失败")
	}
	if len(accounts) == 0 {
		return Snapshot{}, xerrors.New(xerrors.CodeProviderUnavailable, "provider 未返回任何账户")
	}
	account, err := client.ChecksumAddress(accounts[0])
	if err != nil {
		return Snapshot{}, xerrors.Wrap(xerrors.CodeInvalidAddress, err, "")
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return Snapshot{}, xerrors.Wrap(xerrors.CodeTransportFailure, err, "获取链 ID 失败")
	}
	return Snapshot{Client: client, Account: account, ChainID: chainID}, nil
}

// release frees a transport the controller created without invoking the
// close capability of a live provider, which other sessions may still use.
func (c *Controller) release(ctx context.Context, client web3.Client) {
	if client == nil || client.Transport() == web3.KindLive {
		return
	}
	if err := client.Close(ctx); err != nil {
		c.log.Warn("释放客户端失败", slog.Any("error", err))
	}
}

// Disconnect closes the current client, clears the cached provider choice
// and resets the session, in that order. The session is reset even when the
// close or the cache clear fails; those errors are returned joined.
func (c *Controller) Disconnect(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	var errs []error

	binding := c.binding
	c.binding = nil
	if binding != nil {
		binding.Detach()
		if err := binding.client.Close(ctx); err != nil {
			errs = append(errs, xerrors.Wrap(xerrors.CodeTransportFailure, err, "关闭 provider 失败"))
		}
	}

	if c.connector != nil {
		if err := c.connector.ClearCachedProvider(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if c.store.reset(nil) {
		c.log.Info("会话已断开")
	}

	err := errors.Join(errs...)
	c.observer.DisconnectFinished(err)
	return err
}

var _ Service = (*Controller)(nil)
