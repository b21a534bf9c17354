package connector

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"OpenMCP-Wallet/internal/web3"
)

// Backend is one selectable wallet provider.
type Backend interface {
	Name() string
	// Injected reports whether the backend is an auto-detected in-process
	// provider, which Options.DisableInjectedProvider filters out.
	Injected() bool
	Connect(ctx context.Context) (web3.Raw, error)
}

// EndpointBackend hands out a connection string for a remote node.
type EndpointBackend struct {
	name string
	url  string
}

// NewEndpointBackend creates a backend for url.
func NewEndpointBackend(name, url string) *EndpointBackend {
	return &EndpointBackend{name: name, url: strings.TrimSpace(url)}
}

func (b *EndpointBackend) Name() string   { return b.name }
func (b *EndpointBackend) Injected() bool { return false }

// Connect classifies the configured url into an HTTP or stream handle.
func (b *EndpointBackend) Connect(context.Context) (web3.Raw, error) {
	if b.url == "" {
		return web3.Raw{}, fmt.Errorf("provider %s 未配置 url", b.name)
	}
	return web3.ParseEndpoint(b.url), nil
}

// InjectedBackend hands out an in-process provider object.
type InjectedBackend struct {
	name     string
	provider web3.Provider
}

// NewInjectedBackend creates a backend around p.
func NewInjectedBackend(name string, p web3.Provider) *InjectedBackend {
	return &InjectedBackend{name: name, provider: p}
}

func (b *InjectedBackend) Name() string   { return b.name }
func (b *InjectedBackend) Injected() bool { return true }

// Connect returns the live provider handle.
func (b *InjectedBackend) Connect(context.Context) (web3.Raw, error) {
	if b.provider == nil {
		return web3.Raw{}, errors.New("未检测到注入式 provider")
	}
	return web3.Live(b.provider), nil
}

// BackendsFromDefinitions builds backends in definition order. Injected
// definitions bind to injected; they are skipped when injected is nil.
func BackendsFromDefinitions(defs web3.ProviderDefinitions, injected web3.Provider) []Backend {
	backends := make([]Backend, 0, len(defs.Providers))
	for _, name := range defs.Names() {
		def := defs.Providers[name]
		switch def.Type {
		case web3.BackendTypeInjected:
			if injected != nil {
				backends = append(backends, NewInjectedBackend(name, injected))
			}
		default:
			backends = append(backends, NewEndpointBackend(name, def.URL))
		}
	}
	return backends
}
