package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"OpenMCP-Wallet/internal/web3"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Client implements web3.Client on top of a go-ethereum RPC client.
type Client struct {
	transport web3.Kind
	rpcClient *gethrpc.Client
	eth       *ethclient.Client
	owned     bool
	closer    web3.Closer
	watcher   *headWatcher

	mu     sync.Mutex
	closed bool
}

// DialHTTP prepares a request/response client. No connection is made until
// the first request, so an unreachable node surfaces on first use.
func DialHTTP(ctx context.Context, url string) (*Client, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("未配置 RPC 地址")
	}
	rpcClient, err := gethrpc.DialOptions(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("创建 HTTP 传输失败: %w", err)
	}
	return newClient(web3.KindHTTP, rpcClient, true, nil), nil
}

// DialStream opens a persistent websocket connection to the node. Unlike
// DialHTTP the handshake happens eagerly.
func DialStream(ctx context.Context, url string) (*Client, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("未配置 websocket 地址")
	}
	rpcClient, err := gethrpc.DialWebsocket(ctx, url, "")
	if err != nil {
		return nil, fmt.Errorf("连接 websocket 节点失败: %w", err)
	}
	c := newClient(web3.KindStream, rpcClient, true, nil)
	c.watcher = newHeadWatcher(c)
	return c, nil
}

// Wrap binds a client to an already-live provider without transforming it.
// The provider keeps ownership of its RPC client.
func Wrap(p web3.Provider) (*Client, error) {
	if p == nil {
		return nil, errors.New("provider 不能为空")
	}
	rpcClient := p.RPC()
	if rpcClient == nil {
		return nil, errors.New("provider 未提供 RPC 客户端")
	}
	closer, _ := p.(web3.Closer)
	return newClient(web3.KindLive, rpcClient, false, closer), nil
}

func newClient(kind web3.Kind, rpcClient *gethrpc.Client, owned bool, closer web3.Closer) *Client {
	return &Client{
		transport: kind,
		rpcClient: rpcClient,
		eth:       ethclient.NewClient(rpcClient),
		owned:     owned,
		closer:    closer,
	}
}

// Transport reports which raw handle variant the client was built from.
func (c *Client) Transport() web3.Kind {
	return c.transport
}

// Accounts lists the addresses exposed by the provider, as returned.
func (c *Client) Accounts(ctx context.Context) ([]string, error) {
	if c == nil || c.rpcClient == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	var accounts []string
	if err := c.rpcClient.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		return nil, fmt.Errorf("获取账户列表失败: %w", err)
	}
	return accounts, nil
}

// ChainID queries the chain the provider currently points at.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	if c == nil || c.eth == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	id, err := c.eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	return id, nil
}

// ChecksumAddress implements web3.Client.
func (c *Client) ChecksumAddress(addr string) (string, error) {
	return ChecksumAddress(addr)
}

// Events returns the head watcher of stream clients, nil otherwise.
func (c *Client) Events() web3.Emitter {
	if c == nil || c.watcher == nil {
		return nil
	}
	return c.watcher
}

// Close releases the transport and, for live providers, invokes the
// provider's own close capability. Repeated calls are no-ops.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.watcher != nil {
		c.watcher.stop()
	}
	if c.owned && c.rpcClient != nil {
		c.rpcClient.Close()
	}
	if c.closer != nil {
		if err := c.closer.Close(ctx); err != nil {
			return fmt.Errorf("关闭 provider 失败: %w", err)
		}
	}
	return nil
}

// ChecksumAddress returns the EIP-55 mixed-case form of a hex address.
func ChecksumAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("无效的地址: %q", addr)
	}
	return common.HexToAddress(addr).Hex(), nil
}

var (
	_ web3.Client      = (*Client)(nil)
	_ web3.EventSource = (*Client)(nil)
)
