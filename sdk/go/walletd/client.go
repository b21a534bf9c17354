package walletd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the walletd REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// Session mirrors the session document returned by walletd.
type Session struct {
	Connected   bool       `json:"connected"`
	ID          string     `json:"id,omitempty"`
	Provider    string     `json:"provider,omitempty"`
	Transport   string     `json:"transport,omitempty"`
	Account     string     `json:"account,omitempty"`
	ChainID     string     `json:"chain_id,omitempty"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("walletd api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("walletd api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the walletd API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetAccessToken sets the bearer token sent with every request. An empty
// token sends no Authorization header.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// Session fetches the current session.
func (c *Client) Session(ctx context.Context) (Session, error) {
	var s Session
	err := c.get(ctx, "/api/v1/session", &s)
	return s, err
}

// Connect asks walletd to connect. provider may be empty to use the cached or
// default provider.
func (c *Client) Connect(ctx context.Context, provider string) (Session, error) {
	var s Session
	err := c.post(ctx, "/api/v1/session/connect", map[string]string{"provider": provider}, &s)
	return s, err
}

// Disconnect ends the session and clears the cached provider.
func (c *Client) Disconnect(ctx context.Context) (Session, error) {
	var s Session
	err := c.post(ctx, "/api/v1/session/disconnect", nil, &s)
	return s, err
}

// Providers lists the selectable providers.
func (c *Client) Providers(ctx context.Context) ([]string, error) {
	var out struct {
		Providers []string `json:"providers"`
	}
	if err := c.get(ctx, "/api/v1/providers", &out); err != nil {
		return nil, err
	}
	return out.Providers, nil
}

// SetInjectedAccounts switches the accounts exposed by the injected wallet.
func (c *Client) SetInjectedAccounts(ctx context.Context, accounts ...string) (Session, error) {
	var s Session
	err := c.post(ctx, "/api/v1/injected/accounts", map[string][]string{"accounts": accounts}, &s)
	return s, err
}

// SwitchInjectedChain points the injected wallet at another chain. The
// session picks up the new chain id asynchronously.
func (c *Client) SwitchInjectedChain(ctx context.Context, chainID int64) error {
	return c.post(ctx, "/api/v1/injected/chain", map[string]int64{"chain_id": chainID}, nil)
}

// CloseInjected makes the injected wallet revoke the connection.
func (c *Client) CloseInjected(ctx context.Context) (Session, error) {
	var s Session
	err := c.post(ctx, "/api/v1/injected/close", nil, &s)
	return s, err
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
