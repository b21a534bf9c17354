package session

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"OpenMCP-Wallet/internal/connector"
	"OpenMCP-Wallet/internal/web3"
	"OpenMCP-Wallet/internal/web3/ethereum"
)

const (
	addrA     = "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"
	addrASum  = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	addrB     = "0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359"
	addrBSum  = "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"
	waitLimit = 5 * time.Second
)

type stubClient struct {
	mu       sync.Mutex
	kind     web3.Kind
	accounts []string
	chainID  int64
	accErr   error
	chainErr error
	closeErr error
	closed   int
}

func newStubClient(chainID int64, accounts ...string) *stubClient {
	return &stubClient{kind: web3.KindHTTP, chainID: chainID, accounts: accounts}
}

func (c *stubClient) Accounts(context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.accounts...), c.accErr
}

func (c *stubClient) ChainID(context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chainErr != nil {
		return nil, c.chainErr
	}
	return big.NewInt(c.chainID), nil
}

func (c *stubClient) ChecksumAddress(addr string) (string, error) {
	return ethereum.ChecksumAddress(addr)
}

func (c *stubClient) Transport() web3.Kind { return c.kind }

func (c *stubClient) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return c.closeErr
}

func (c *stubClient) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type stubConnector struct {
	ready    bool
	sel      connector.Selection
	ok       bool
	err      error
	clearErr error
	connects int
	clears   int
	remember []string
}

func (s *stubConnector) Ready() bool { return s.ready }

func (s *stubConnector) Connect(context.Context) (connector.Selection, bool, error) {
	s.connects++
	return s.sel, s.ok, s.err
}

func (s *stubConnector) Remember(_ context.Context, name string) error {
	s.remember = append(s.remember, name)
	return nil
}

func (s *stubConnector) ClearCachedProvider(context.Context) error {
	s.clears++
	return s.clearErr
}

func readyConnector(name string) *stubConnector {
	return &stubConnector{
		ready: true,
		ok:    true,
		sel:   connector.Selection{Name: name, Raw: web3.HTTPEndpoint("https://node.example/rpc")},
	}
}

func staticFactory(client web3.Client) ClientFactory {
	return func(context.Context, web3.Raw) (web3.Client, error) {
		return client, nil
	}
}

type changeRecorder struct {
	mu    sync.Mutex
	kinds []ChangeKind
}

func (r *changeRecorder) record(c Change) {
	r.mu.Lock()
	r.kinds = append(r.kinds, c.Kind)
	r.mu.Unlock()
}

func (r *changeRecorder) snapshot() []ChangeKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ChangeKind(nil), r.kinds...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitLimit)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func assertDisconnected(t *testing.T, snap Snapshot) {
	t.Helper()
	if snap.Client != nil || snap.Account != "" || snap.ChainID != nil || snap.ID != "" {
		t.Fatalf("expected fully disconnected session, got %+v", snap)
	}
}

func assertUnchanged(t *testing.T, before, after Snapshot) {
	t.Helper()
	if before.ID != after.ID || before.Client != after.Client || before.Account != after.Account {
		t.Fatalf("session changed: before=%+v after=%+v", before, after)
	}
	if (before.ChainID == nil) != (after.ChainID == nil) || (before.ChainID != nil && before.ChainID.Cmp(after.ChainID) != 0) {
		t.Fatalf("chain id changed: before=%v after=%v", before.ChainID, after.ChainID)
	}
}

var errBoom = errors.New("boom")
