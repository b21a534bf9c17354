package provider

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"sync"

	"OpenMCP-Wallet/internal/web3"

	"github.com/ethereum/go-ethereum/common/hexutil"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Injected is an in-process wallet provider. It answers eth_accounts and
// eth_chainId from its own state over an in-proc RPC connection and emits
// provider events when that state is changed.
type Injected struct {
	server    *gethrpc.Server
	rpcClient *gethrpc.Client
	listeners web3.Listeners

	mu       sync.RWMutex
	accounts []string
	chainID  *big.Int
}

// NewInjected starts the provider pointed at chainID exposing accounts.
func NewInjected(chainID int64, accounts ...string) (*Injected, error) {
	p := &Injected{
		server:   gethrpc.NewServer(),
		accounts: slices.Clone(accounts),
		chainID:  big.NewInt(chainID),
	}
	if err := p.server.RegisterName("eth", &injectedAPI{p: p}); err != nil {
		p.server.Stop()
		return nil, fmt.Errorf("注册注入式 provider 失败: %w", err)
	}
	p.rpcClient = gethrpc.DialInProc(p.server)
	return p, nil
}

// RPC implements web3.Provider.
func (p *Injected) RPC() *gethrpc.Client {
	return p.rpcClient
}

// On implements web3.Emitter.
func (p *Injected) On(event web3.Event, handler web3.Handler) func() {
	return p.listeners.On(event, handler)
}

// Close implements web3.Closer. It signals close to listeners, like a wallet
// revoking the connection; the provider itself stays usable. A session
// disconnecting from it detaches its own handlers first, so the signal only
// reaches other listeners still attached.
func (p *Injected) Close(context.Context) error {
	p.listeners.Emit(web3.EventClose, nil)
	return nil
}

// SetAccounts switches the exposed accounts and emits accountsChanged.
func (p *Injected) SetAccounts(accounts ...string) {
	p.mu.Lock()
	p.accounts = slices.Clone(accounts)
	p.mu.Unlock()
	p.listeners.Emit(web3.EventAccountsChanged, slices.Clone(accounts))
}

// SwitchChain points the provider at another chain and emits networkChanged.
func (p *Injected) SwitchChain(chainID int64) error {
	if chainID <= 0 {
		return errors.New("链 ID 必须为正数")
	}
	p.mu.Lock()
	p.chainID = big.NewInt(chainID)
	p.mu.Unlock()
	p.listeners.Emit(web3.EventNetworkChanged, nil)
	return nil
}

// Accounts returns the exposed accounts.
func (p *Injected) Accounts() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.accounts)
}

// ChainID returns the current chain id.
func (p *Injected) ChainID() *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return new(big.Int).Set(p.chainID)
}

// Shutdown releases the in-proc server at process teardown.
func (p *Injected) Shutdown() {
	if p.rpcClient != nil {
		p.rpcClient.Close()
	}
	p.server.Stop()
}

// injectedAPI is the eth namespace served by Injected.
type injectedAPI struct {
	p *Injected
}

func (api *injectedAPI) Accounts() []string {
	return api.p.Accounts()
}

func (api *injectedAPI) RequestAccounts() []string {
	return api.p.Accounts()
}

func (api *injectedAPI) ChainId() *hexutil.Big {
	return (*hexutil.Big)(api.p.ChainID())
}

var (
	_ web3.Provider = (*Injected)(nil)
	_ web3.Emitter  = (*Injected)(nil)
	_ web3.Closer   = (*Injected)(nil)
)
