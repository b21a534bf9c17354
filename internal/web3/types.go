package web3

import (
	"context"
	"math/big"
	"strings"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Kind identifies which variant a Raw handle carries.
type Kind int

const (
	// KindHTTP is a request/response JSON-RPC endpoint.
	KindHTTP Kind = iota + 1
	// KindStream is a persistent-socket (websocket) JSON-RPC endpoint.
	KindStream
	// KindLive is an already-connected in-process provider object.
	KindLive
)

func (k Kind) String() string {
	switch k {
	case KindHTTP:
		return "http"
	case KindStream:
		return "stream"
	case KindLive:
		return "live"
	default:
		return "unknown"
	}
}

// streamMarkers are the substrings that select the persistent-socket transport.
var streamMarkers = []string{"ws://", "wss://"}

// Provider is an already-live wallet provider living in the same process.
type Provider interface {
	// RPC returns a client bound to the provider. Each call may return the same
	// client; the caller never closes it directly.
	RPC() *gethrpc.Client
}

// Event names emitted by providers.
type Event string

const (
	EventClose           Event = "close"
	EventAccountsChanged Event = "accountsChanged"
	EventNetworkChanged  Event = "networkChanged"
)

// Handler receives the payload of a provider event. Only accountsChanged
// carries a payload (the address list); the others pass nil.
type Handler func(payload []string)

// Emitter is the optional event-registration capability of a provider.
type Emitter interface {
	On(event Event, handler Handler) (cancel func())
}

// Closer is the optional close capability of a provider.
type Closer interface {
	Close(ctx context.Context) error
}

// EventSource is implemented by clients whose transport produces events on
// its own, such as a websocket client watching new heads.
type EventSource interface {
	Events() Emitter
}

// Raw is the opaque handle produced by the provider-selection mechanism.
type Raw struct {
	kind     Kind
	endpoint string
	live     Provider
}

// HTTPEndpoint builds a request/response handle.
func HTTPEndpoint(url string) Raw {
	return Raw{kind: KindHTTP, endpoint: strings.TrimSpace(url)}
}

// StreamEndpoint builds a persistent-socket handle.
func StreamEndpoint(url string) Raw {
	return Raw{kind: KindStream, endpoint: strings.TrimSpace(url)}
}

// Live wraps an in-process provider.
func Live(p Provider) Raw {
	return Raw{kind: KindLive, live: p}
}

// ParseEndpoint classifies a connection string by its streaming marker.
func ParseEndpoint(s string) Raw {
	lower := strings.ToLower(s)
	for _, marker := range streamMarkers {
		if strings.Contains(lower, marker) {
			return StreamEndpoint(s)
		}
	}
	return HTTPEndpoint(s)
}

// Kind reports the variant. The zero Raw reports 0.
func (r Raw) Kind() Kind { return r.kind }

// Endpoint returns the connection string of HTTP and stream handles.
func (r Raw) Endpoint() string { return r.endpoint }

// Provider returns the live provider of a KindLive handle.
func (r Raw) Provider() Provider { return r.live }

// IsZero reports whether the handle is absent.
func (r Raw) IsZero() bool { return r.kind == 0 }

// Emitter returns the event capability of a live provider, or nil.
func (r Raw) Emitter() Emitter {
	if r.kind != KindLive || r.live == nil {
		return nil
	}
	if em, ok := r.live.(Emitter); ok {
		return em
	}
	return nil
}

// Closer returns the close capability of a live provider, or nil.
func (r Raw) Closer() Closer {
	if r.kind != KindLive || r.live == nil {
		return nil
	}
	if c, ok := r.live.(Closer); ok {
		return c
	}
	return nil
}

// String renders the handle for logs without leaking object internals.
func (r Raw) String() string {
	if r.kind == KindLive {
		return "live provider"
	}
	if r.kind == 0 {
		return "<none>"
	}
	return r.kind.String() + " " + r.endpoint
}

// Client defines the uniform request interface the session uses, regardless
// of the transport underneath.
type Client interface {
	Accounts(ctx context.Context) ([]string, error)
	ChainID(ctx context.Context) (*big.Int, error)
	ChecksumAddress(addr string) (string, error)
	Transport() Kind
	Close(ctx context.Context) error
}
