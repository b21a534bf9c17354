package session

import (
	"context"
	"errors"
	"math/big"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"OpenMCP-Wallet/internal/connector"
	xerrors "OpenMCP-Wallet/internal/errors"
	"OpenMCP-Wallet/internal/web3"
	"OpenMCP-Wallet/internal/web3/provider"

	"github.com/ethereum/go-ethereum/common/hexutil"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

type nodeService struct {
	accounts []string
	chainID  int64
}

func (s *nodeService) Accounts() []string { return s.accounts }

func (s *nodeService) ChainId() *hexutil.Big {
	return (*hexutil.Big)(big.NewInt(s.chainID))
}

func TestConnectNotReadyIsNoop(t *testing.T) {
	conn := &stubConnector{ready: false}
	ctrl := NewController(conn, nil)

	if err := ctrl.Connect(context.Background()); err != nil {
		t.Fatalf("connect before ready must not fail: %v", err)
	}
	if conn.connects != 0 {
		t.Fatal("connector must not be asked before it is ready")
	}
	assertDisconnected(t, ctrl.Snapshot())
}

func TestConnectCancelledSelectionKeepsState(t *testing.T) {
	conn := readyConnector("mainnet")
	client := newStubClient(1, addrA)
	ctrl := NewController(conn, nil, WithClientFactory(staticFactory(client)))

	if err := ctrl.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	before := ctrl.Snapshot()

	conn.ok = false
	if err := ctrl.Connect(context.Background()); err != nil {
		t.Fatalf("cancelled connect must not fail: %v", err)
	}
	assertUnchanged(t, before, ctrl.Snapshot())
}

func TestConnectOverHTTPEndpoint(t *testing.T) {
	server := gethrpc.NewServer()
	if err := server.RegisterName("eth", &nodeService{accounts: []string{addrA}, chainID: 1337}); err != nil {
		t.Fatalf("register: %v", err)
	}
	defer server.Stop()
	srv := httptest.NewServer(server)
	defer srv.Close()

	reg := connector.NewRegistry(connector.Options{
		Backends: []connector.Backend{connector.NewEndpointBackend("node", srv.URL)},
		Selector: connector.ContextSelector{Default: "node"},
	})
	if err := reg.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	ctrl := NewController(reg, nil)
	ctx := context.Background()
	if err := ctrl.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer ctrl.Disconnect(ctx)

	snap := ctrl.Snapshot()
	if !snap.Connected() || snap.Provider != "node" {
		t.Fatalf("expected connected session, got %+v", snap)
	}
	if snap.Client.Transport() != web3.KindHTTP {
		t.Fatalf("expected http transport, got %s", snap.Client.Transport())
	}
	if snap.Account != addrASum {
		t.Fatalf("expected checksummed account %s, got %s", addrASum, snap.Account)
	}
	if snap.ChainID.Int64() != 1337 {
		t.Fatalf("unexpected chain id %s", snap.ChainID)
	}
	if n := len(ctrl.binding.cancels); n != 0 {
		t.Fatalf("http endpoints have no emitter, expected no handlers, got %d", n)
	}
}

func newInjectedSession(t *testing.T) (*Controller, *provider.Injected) {
	t.Helper()
	injected, err := provider.NewInjected(1, addrA)
	if err != nil {
		t.Fatalf("new injected: %v", err)
	}
	t.Cleanup(injected.Shutdown)

	conn := &stubConnector{ready: true, ok: true, sel: connector.Selection{Name: "browser", Raw: web3.Live(injected)}}
	ctrl := NewController(conn, nil)
	if err := ctrl.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return ctrl, injected
}

func TestAccountsChangedUpdatesOnlyAccount(t *testing.T) {
	ctrl, injected := newInjectedSession(t)
	before := ctrl.Snapshot()
	if before.Account != addrASum {
		t.Fatalf("unexpected initial account %s", before.Account)
	}

	injected.SetAccounts(addrB)

	after := ctrl.Snapshot()
	if after.Account != addrBSum {
		t.Fatalf("expected %s, got %s", addrBSum, after.Account)
	}
	if after.Client != before.Client || after.ChainID.Cmp(before.ChainID) != 0 || after.ID != before.ID {
		t.Fatalf("client or chain id changed: before=%+v after=%+v", before, after)
	}

	injected.SetAccounts()
	injected.SetAccounts("garbage")
	if got := ctrl.Snapshot().Account; got != addrBSum {
		t.Fatalf("empty or invalid payloads must be ignored, got %s", got)
	}
}

func TestNetworkChangedRequeriesChainID(t *testing.T) {
	ctrl, injected := newInjectedSession(t)
	before := ctrl.Snapshot()

	if err := injected.SwitchChain(10); err != nil {
		t.Fatalf("switch chain: %v", err)
	}
	waitFor(t, "chain id update", func() bool {
		return ctrl.Snapshot().ChainID.Int64() == 10
	})

	after := ctrl.Snapshot()
	if after.Account != before.Account || after.Client != before.Client {
		t.Fatalf("only the chain id may change: before=%+v after=%+v", before, after)
	}
}

func TestCloseEventResetsSession(t *testing.T) {
	ctrl, injected := newInjectedSession(t)
	rec := &changeRecorder{}
	defer ctrl.Subscribe(rec.record)()

	if err := injected.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	assertDisconnected(t, ctrl.Snapshot())
	if got := rec.snapshot(); len(got) != 1 || got[0] != ChangeDisconnected {
		t.Fatalf("unexpected changes %v", got)
	}

	if err := ctrl.Disconnect(context.Background()); err != nil {
		t.Fatalf("disconnect after close: %v", err)
	}
	assertDisconnected(t, ctrl.Snapshot())
}

func TestConnectFailureRollsBack(t *testing.T) {
	conn := readyConnector("mainnet")
	good := newStubClient(1, addrA)
	ctrl := NewController(conn, nil, WithClientFactory(staticFactory(good)))
	ctx := context.Background()

	bad := newStubClient(1, addrB)
	bad.chainErr = errBoom
	ctrl.factory = staticFactory(bad)
	err := ctrl.Connect(ctx)
	if !errors.Is(err, errBoom) || xerrors.CodeOf(err) != xerrors.CodeTransportFailure {
		t.Fatalf("expected wrapped transport failure, got %v", err)
	}
	assertDisconnected(t, ctrl.Snapshot())
	if bad.closeCount() != 1 {
		t.Fatalf("failed client must be released, closed %d times", bad.closeCount())
	}

	ctrl.factory = staticFactory(good)
	if err := ctrl.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	before := ctrl.Snapshot()

	noAccounts := newStubClient(1)
	ctrl.factory = staticFactory(noAccounts)
	if err := ctrl.Connect(ctx); xerrors.CodeOf(err) != xerrors.CodeProviderUnavailable {
		t.Fatalf("expected provider unavailable, got %v", err)
	}
	invalid := newStubClient(1, "0x1234")
	ctrl.factory = staticFactory(invalid)
	if err := ctrl.Connect(ctx); xerrors.CodeOf(err) != xerrors.CodeInvalidAddress {
		t.Fatalf("expected invalid address, got %v", err)
	}
	assertUnchanged(t, before, ctrl.Snapshot())
	if good.closeCount() != 0 {
		t.Fatal("published client must stay open after a failed reconnect")
	}
	if len(conn.remember) != 1 {
		t.Fatalf("only the published session may be remembered, got %v", conn.remember)
	}
}

func TestFailedConnectDoesNotCacheChoice(t *testing.T) {
	cache := connector.NewMemoryCache()
	reg := connector.NewRegistry(connector.Options{
		CacheProvider: true,
		Cache:         cache,
		Backends: []connector.Backend{
			connector.NewEndpointBackend("broken", "https://broken.example/rpc"),
			connector.NewEndpointBackend("good", "https://good.example/rpc"),
		},
	})
	if err := reg.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	factory := func(_ context.Context, raw web3.Raw) (web3.Client, error) {
		client := newStubClient(1, addrA)
		if strings.Contains(raw.Endpoint(), "broken") {
			client.accErr = errBoom
		}
		return client, nil
	}
	ctrl := NewController(reg, nil, WithClientFactory(factory))
	ctx := context.Background()

	if err := ctrl.Connect(connector.WithChoice(ctx, "broken")); !errors.Is(err, errBoom) {
		t.Fatalf("expected accounts failure, got %v", err)
	}
	if cached, _ := cache.Load(ctx); cached != "" {
		t.Fatalf("failed provider must not be cached, got %q", cached)
	}

	if err := ctrl.Connect(connector.WithChoice(ctx, "good")); err != nil {
		t.Fatalf("connect with new choice: %v", err)
	}
	if got := ctrl.Snapshot().Provider; got != "good" {
		t.Fatalf("expected provider good, got %q", got)
	}
	if cached, _ := cache.Load(ctx); cached != "good" {
		t.Fatalf("published provider must be cached, got %q", cached)
	}

	if err := ctrl.Disconnect(ctx); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if cached, _ := cache.Load(ctx); cached != "" {
		t.Fatalf("disconnect must clear the cached choice, got %q", cached)
	}
}

// closingClient fires close on its own emitter while the controller is still
// loading accounts.
type closingClient struct {
	*stubClient
	events web3.Listeners
}

func (c *closingClient) Events() web3.Emitter { return &c.events }

func (c *closingClient) Accounts(ctx context.Context) ([]string, error) {
	c.events.Emit(web3.EventClose, nil)
	return c.stubClient.Accounts(ctx)
}

func TestCloseDuringConnectRollsBack(t *testing.T) {
	conn := readyConnector("mainnet")
	client := &closingClient{stubClient: newStubClient(1, addrA)}
	ctrl := NewController(conn, nil, WithClientFactory(staticFactory(client)))
	rec := &changeRecorder{}
	defer ctrl.Subscribe(rec.record)()

	err := ctrl.Connect(context.Background())
	if xerrors.CodeOf(err) != xerrors.CodeProviderClosed {
		t.Fatalf("expected provider closed, got %v", err)
	}
	assertDisconnected(t, ctrl.Snapshot())
	if len(rec.snapshot()) != 0 {
		t.Fatalf("no change expected, got %v", rec.snapshot())
	}
	if client.closeCount() != 1 {
		t.Fatalf("closed client must be released, closed %d times", client.closeCount())
	}
	if n := client.events.Count(web3.EventClose); n != 0 {
		t.Fatalf("handlers must be detached, %d left", n)
	}
	if len(conn.remember) != 0 {
		t.Fatalf("rolled back choice remembered: %v", conn.remember)
	}
}

func TestConcurrentConnectDisconnect(t *testing.T) {
	conn := readyConnector("mainnet")
	factory := func(context.Context, web3.Raw) (web3.Client, error) {
		return newStubClient(1, addrA), nil
	}
	ctrl := NewController(conn, nil, WithClientFactory(factory))

	checkWhole := func(snap Snapshot) {
		if snap.Connected() {
			if snap.Account != addrASum || snap.ChainID == nil || snap.ID == "" {
				t.Errorf("partial session published: %+v", snap)
			}
			return
		}
		if snap.Account != "" || snap.ChainID != nil || snap.ID != "" {
			t.Errorf("partial session left behind: %+v", snap)
		}
	}
	defer ctrl.Subscribe(func(c Change) { checkWhole(c.Current) })()

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if err := ctrl.Connect(ctx); err != nil {
					t.Errorf("connect: %v", err)
				}
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if err := ctrl.Disconnect(ctx); err != nil {
					t.Errorf("disconnect: %v", err)
				}
				checkWhole(ctrl.Snapshot())
			}
		}()
	}
	wg.Wait()
	checkWhole(ctrl.Snapshot())

	if err := ctrl.Disconnect(ctx); err != nil {
		t.Fatalf("final disconnect: %v", err)
	}
	assertDisconnected(t, ctrl.Snapshot())
}

func TestConnectErrorFromConnectorPropagates(t *testing.T) {
	conn := readyConnector("mainnet")
	conn.err = errBoom
	ctrl := NewController(conn, nil)
	if err := ctrl.Connect(context.Background()); !errors.Is(err, errBoom) {
		t.Fatalf("expected connector error, got %v", err)
	}
	assertDisconnected(t, ctrl.Snapshot())
}

func TestReconnectReleasesPreviousClient(t *testing.T) {
	conn := readyConnector("mainnet")
	first := newStubClient(1, addrA)
	ctrl := NewController(conn, nil, WithClientFactory(staticFactory(first)))
	ctx := context.Background()
	if err := ctrl.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	second := newStubClient(5, addrB)
	ctrl.factory = staticFactory(second)
	if err := ctrl.Connect(ctx); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if first.closeCount() != 1 {
		t.Fatalf("superseded client must be released, closed %d times", first.closeCount())
	}
	snap := ctrl.Snapshot()
	if snap.Client != web3.Client(second) || snap.Account != addrBSum || snap.ChainID.Int64() != 5 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestStaleProviderEventsIgnored(t *testing.T) {
	ctrl, oldInjected := newInjectedSession(t)

	fresh, err := provider.NewInjected(7, addrB)
	if err != nil {
		t.Fatalf("new injected: %v", err)
	}
	defer fresh.Shutdown()
	ctrl.connector.(*stubConnector).sel = connector.Selection{Name: "other", Raw: web3.Live(fresh)}
	if err := ctrl.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	before := ctrl.Snapshot()

	oldInjected.SetAccounts(addrA)
	_ = oldInjected.Close(context.Background())

	assertUnchanged(t, before, ctrl.Snapshot())
}

func TestDisconnect(t *testing.T) {
	conn := readyConnector("mainnet")
	client := newStubClient(1, addrA)
	ctrl := NewController(conn, nil, WithClientFactory(staticFactory(client)))
	ctx := context.Background()

	if err := ctrl.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := ctrl.Disconnect(ctx); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	assertDisconnected(t, ctrl.Snapshot())
	if client.closeCount() != 1 || conn.clears != 1 {
		t.Fatalf("expected close and cache clear, got close=%d clears=%d", client.closeCount(), conn.clears)
	}
}

func TestDisconnectWhenDisconnectedIsNoop(t *testing.T) {
	conn := readyConnector("mainnet")
	ctrl := NewController(conn, nil)
	rec := &changeRecorder{}
	defer ctrl.Subscribe(rec.record)()

	for i := 0; i < 2; i++ {
		if err := ctrl.Disconnect(context.Background()); err != nil {
			t.Fatalf("disconnect %d: %v", i, err)
		}
	}
	assertDisconnected(t, ctrl.Snapshot())
	if len(rec.snapshot()) != 0 {
		t.Fatalf("no change expected, got %v", rec.snapshot())
	}
	if conn.clears != 2 {
		t.Fatalf("cache clear must run unconditionally, ran %d times", conn.clears)
	}
}

func TestDisconnectResetsEvenWhenCloseFails(t *testing.T) {
	conn := readyConnector("mainnet")
	conn.clearErr = errors.New("cache down")
	client := newStubClient(1, addrA)
	client.closeErr = errBoom
	ctrl := NewController(conn, nil, WithClientFactory(staticFactory(client)))
	ctx := context.Background()

	if err := ctrl.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	err := ctrl.Disconnect(ctx)
	if !errors.Is(err, errBoom) || !errors.Is(err, conn.clearErr) {
		t.Fatalf("expected both failures joined, got %v", err)
	}
	if conn.clears != 1 {
		t.Fatal("cache clear must still run after a failed close")
	}
	assertDisconnected(t, ctrl.Snapshot())
}

type recordingObserver struct {
	outcomes []string
	events   []web3.Event
}

func (o *recordingObserver) ConnectFinished(outcome string, _ time.Duration) {
	o.outcomes = append(o.outcomes, outcome)
}
func (o *recordingObserver) DisconnectFinished(error) {}
func (o *recordingObserver) EventReceived(e web3.Event) {
	o.events = append(o.events, e)
}

func TestObserverOutcomes(t *testing.T) {
	conn := &stubConnector{}
	obs := &recordingObserver{}
	ctrl := NewController(conn, nil, WithObserver(obs), WithClientFactory(staticFactory(newStubClient(1, addrA))))
	ctx := context.Background()

	_ = ctrl.Connect(ctx)
	conn.ready = true
	_ = ctrl.Connect(ctx)
	conn.ok = true
	conn.sel = connector.Selection{Name: "x", Raw: web3.HTTPEndpoint("https://node.example")}
	_ = ctrl.Connect(ctx)

	want := []string{OutcomeNotReady, OutcomeCancelled, OutcomeConnected}
	if len(obs.outcomes) != len(want) {
		t.Fatalf("unexpected outcomes %v", obs.outcomes)
	}
	for i := range want {
		if obs.outcomes[i] != want[i] {
			t.Fatalf("unexpected outcomes %v", obs.outcomes)
		}
	}
}

// streamNode is a websocket node that can push new heads.
type streamNode struct {
	mu         sync.Mutex
	accounts   []string
	chainID    int64
	notifiers  []*gethrpc.Notifier
	ids        []gethrpc.ID
	subscribed chan struct{}
}

func (n *streamNode) Accounts() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.accounts...)
}

func (n *streamNode) ChainId() *hexutil.Big {
	n.mu.Lock()
	defer n.mu.Unlock()
	return (*hexutil.Big)(big.NewInt(n.chainID))
}

func (n *streamNode) NewHeads(ctx context.Context) (*gethrpc.Subscription, error) {
	notifier, ok := gethrpc.NotifierFromContext(ctx)
	if !ok {
		return nil, gethrpc.ErrNotificationsUnsupported
	}
	sub := notifier.CreateSubscription()
	n.mu.Lock()
	n.notifiers = append(n.notifiers, notifier)
	n.ids = append(n.ids, sub.ID)
	n.mu.Unlock()
	n.subscribed <- struct{}{}
	return sub, nil
}

func (n *streamNode) move(chainID int64, accounts ...string) {
	n.mu.Lock()
	n.chainID = chainID
	n.accounts = accounts
	notifiers := append([]*gethrpc.Notifier(nil), n.notifiers...)
	ids := append([]gethrpc.ID(nil), n.ids...)
	n.mu.Unlock()
	for i, notifier := range notifiers {
		_ = notifier.Notify(ids[i], map[string]string{"number": "0x1"})
	}
}

// quietNode answers queries but serves no subscriptions.
type quietNode struct {
	nodeService
	mu         sync.Mutex
	chainCalls int
}

func (n *quietNode) ChainId() *hexutil.Big {
	n.mu.Lock()
	n.chainCalls++
	n.mu.Unlock()
	return n.nodeService.ChainId()
}

func (n *quietNode) calls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.chainCalls
}

func newStreamController(t *testing.T, service any) *Controller {
	t.Helper()
	server := gethrpc.NewServer()
	if err := server.RegisterName("eth", service); err != nil {
		t.Fatalf("register: %v", err)
	}
	t.Cleanup(server.Stop)
	srv := httptest.NewServer(server.WebsocketHandler([]string{"*"}))
	t.Cleanup(srv.Close)

	url := "ws://" + strings.TrimPrefix(srv.URL, "http://")
	reg := connector.NewRegistry(connector.Options{
		Backends: []connector.Backend{connector.NewEndpointBackend("socket", url)},
		Selector: connector.ContextSelector{Default: "socket"},
	})
	if err := reg.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	ctrl := NewController(reg, nil)
	t.Cleanup(func() { _ = ctrl.Disconnect(context.Background()) })
	return ctrl
}

func TestStreamSessionFollowsNewHeads(t *testing.T) {
	node := &streamNode{accounts: []string{addrA}, chainID: 1, subscribed: make(chan struct{}, 4)}
	ctrl := newStreamController(t, node)

	if err := ctrl.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	snap := ctrl.Snapshot()
	if snap.Client.Transport() != web3.KindStream || snap.Account != addrASum || snap.ChainID.Int64() != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	select {
	case <-node.subscribed:
	case <-time.After(waitLimit):
		t.Fatal("timeout waiting for newHeads subscription")
	}

	node.move(1, addrB)
	waitFor(t, "account update", func() bool { return ctrl.Snapshot().Account == addrBSum })

	node.move(7, addrB)
	waitFor(t, "chain id update", func() bool { return ctrl.Snapshot().ChainID.Int64() == 7 })
	if got := ctrl.Snapshot(); got.ID != snap.ID || got.Client != snap.Client {
		t.Fatalf("events must not replace the session: before=%+v after=%+v", snap, got)
	}
}

func TestStreamSessionWithoutHeadSubscriptionStaysConnected(t *testing.T) {
	node := &quietNode{nodeService: nodeService{accounts: []string{addrA}, chainID: 1}}
	ctrl := newStreamController(t, node)

	if err := ctrl.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	// One chain id query from connect, one from the head watcher before it subscribes.
	waitFor(t, "head watcher start", func() bool { return node.calls() >= 2 })
	time.Sleep(300 * time.Millisecond)

	if !ctrl.Snapshot().Connected() {
		t.Fatal("a node without newHeads must keep the session")
	}
}

func TestDisconnectLiveProviderSignalsOnlyOtherListeners(t *testing.T) {
	injected, err := provider.NewInjected(1, addrA)
	if err != nil {
		t.Fatalf("new injected: %v", err)
	}
	defer injected.Shutdown()

	var others int
	defer injected.On(web3.EventClose, func([]string) { others++ })()

	obs := &recordingObserver{}
	conn := &stubConnector{ready: true, ok: true, sel: connector.Selection{Name: "browser", Raw: web3.Live(injected)}}
	ctrl := NewController(conn, nil, WithObserver(obs))
	ctx := context.Background()
	if err := ctrl.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := ctrl.Disconnect(ctx); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	if others != 1 {
		t.Fatalf("other listener must see close once, saw %d", others)
	}
	for _, e := range obs.events {
		if e == web3.EventClose {
			t.Fatal("the disconnecting session must not receive its own close")
		}
	}
	assertDisconnected(t, ctrl.Snapshot())
}
