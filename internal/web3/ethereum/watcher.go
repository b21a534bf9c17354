package ethereum

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"slices"
	"sync"

	"OpenMCP-Wallet/internal/web3"
	"OpenMCP-Wallet/pkg/logger"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// headWatcher turns a newHeads subscription into provider events. Each head
// triggers a re-read of accounts and chain id; differences are emitted as
// accountsChanged / networkChanged. A subscription that breaks after it was
// established, or a client that has quit, emits close. A node that refuses
// newHeads leaves the client usable without events.
type headWatcher struct {
	client *Client

	listeners web3.Listeners

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc

	lastAccounts []string
	lastChain    *big.Int
}

func newHeadWatcher(c *Client) *headWatcher {
	return &headWatcher{client: c}
}

// On registers a handler. The subscription starts with the first handler.
func (w *headWatcher) On(event web3.Event, handler web3.Handler) func() {
	cancel := w.listeners.On(event, handler)

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started && !w.stopped {
		w.started = true
		ctx, stop := context.WithCancel(context.Background())
		w.cancel = stop
		go w.run(ctx)
	}
	return cancel
}

func (w *headWatcher) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	if w.cancel != nil {
		w.cancel()
	}
}

func (w *headWatcher) run(ctx context.Context) {
	log := logger.Named("web3")

	accounts, err := w.client.Accounts(ctx)
	if err != nil {
		log.Warn("读取初始账户失败", slog.Any("error", err))
	}
	chain, err := w.client.ChainID(ctx)
	if err != nil {
		log.Warn("读取初始链 ID 失败", slog.Any("error", err))
	}
	w.mu.Lock()
	w.lastAccounts = accounts
	w.lastChain = chain
	w.mu.Unlock()

	heads := make(chan json.RawMessage, 16)
	sub, err := w.client.rpcClient.EthSubscribe(ctx, heads, "newHeads")
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, gethrpc.ErrClientQuit) {
			log.Info("连接已关闭，无法订阅新区块", slog.Any("error", err))
			w.emit(web3.EventClose, nil)
			return
		}
		// 节点不支持 newHeads 时连接仍可用，只是没有事件。
		log.Warn("订阅新区块失败，会话将不接收 provider 事件", slog.Any("error", err))
		return
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-sub.Err():
			if ctx.Err() == nil {
				log.Info("区块订阅中断", slog.Any("error", err))
				w.emit(web3.EventClose, nil)
			}
			return
		case <-heads:
			w.refresh(ctx)
		}
	}
}

func (w *headWatcher) refresh(ctx context.Context) {
	log := logger.Named("web3")

	accounts, err := w.client.Accounts(ctx)
	if err != nil {
		log.Warn("刷新账户失败", slog.Any("error", err))
	}
	chain, chainErr := w.client.ChainID(ctx)
	if chainErr != nil {
		log.Warn("刷新链 ID 失败", slog.Any("error", chainErr))
	}

	w.mu.Lock()
	accountsChanged := err == nil && !slices.Equal(accounts, w.lastAccounts)
	if accountsChanged {
		w.lastAccounts = accounts
	}
	chainChanged := chainErr == nil && (w.lastChain == nil || w.lastChain.Cmp(chain) != 0)
	if chainChanged {
		w.lastChain = chain
	}
	w.mu.Unlock()

	if accountsChanged {
		w.emit(web3.EventAccountsChanged, slices.Clone(accounts))
	}
	if chainChanged {
		w.emit(web3.EventNetworkChanged, nil)
	}
}

func (w *headWatcher) emit(event web3.Event, payload []string) {
	w.listeners.Emit(event, payload)
}
