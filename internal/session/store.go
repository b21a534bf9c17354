package session

import (
	"math/big"
	"sync"
	"time"

	"OpenMCP-Wallet/internal/web3"

	"github.com/google/uuid"
)

// Snapshot is a read-only view of the session. A zero Snapshot is the
// disconnected state.
type Snapshot struct {
	ID          string
	Provider    string
	Client      web3.Client
	Account     string
	ChainID     *big.Int
	ConnectedAt time.Time
}

// Connected reports whether a session is published.
func (s Snapshot) Connected() bool {
	return s.Client != nil
}

func (s Snapshot) clone() Snapshot {
	if s.ChainID != nil {
		s.ChainID = new(big.Int).Set(s.ChainID)
	}
	return s
}

// ChangeKind classifies a session change.
type ChangeKind string

const (
	ChangeConnected      ChangeKind = "connected"
	ChangeAccountChanged ChangeKind = "account_changed"
	ChangeNetworkChanged ChangeKind = "network_changed"
	ChangeDisconnected   ChangeKind = "disconnected"
)

// Change is delivered to subscribers after every session write.
type Change struct {
	Kind     ChangeKind
	Previous Snapshot
	Current  Snapshot
}

// Store holds the current session. Listeners run synchronously, in write
// order, and must not write to the Store.
type Store struct {
	writeMu sync.Mutex

	mu        sync.RWMutex
	current   Snapshot
	listeners map[int]func(Change)
	nextID    int
	now       func() time.Time
}

// NewStore creates a disconnected store.
func NewStore() *Store {
	return &Store{listeners: make(map[int]func(Change)), now: time.Now}
}

// Snapshot returns the current session.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.clone()
}

// Subscribe registers fn for future changes.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// publish installs a complete session. Partial sessions are refused.
func (s *Store) publish(next Snapshot) bool {
	if next.Client == nil || next.Account == "" || next.ChainID == nil {
		return false
	}
	next.ID = uuid.NewString()
	next.ConnectedAt = s.now()
	next.ChainID = new(big.Int).Set(next.ChainID)
	return s.write(ChangeConnected, func(Snapshot) (Snapshot, bool) {
		return next, true
	})
}

// setAccount replaces the account of the session owned by client.
func (s *Store) setAccount(client web3.Client, account string) bool {
	return s.write(ChangeAccountChanged, func(cur Snapshot) (Snapshot, bool) {
		if cur.Client == nil || cur.Client != client || account == "" || cur.Account == account {
			return cur, false
		}
		cur.Account = account
		return cur, true
	})
}

// setChainID replaces the chain id of the session owned by client.
func (s *Store) setChainID(client web3.Client, id *big.Int) bool {
	return s.write(ChangeNetworkChanged, func(cur Snapshot) (Snapshot, bool) {
		if cur.Client == nil || cur.Client != client || id == nil || cur.ChainID.Cmp(id) == 0 {
			return cur, false
		}
		cur.ChainID = new(big.Int).Set(id)
		return cur, true
	})
}

// reset clears the session. A non-nil client restricts the reset to the
// session it owns.
func (s *Store) reset(client web3.Client) bool {
	return s.write(ChangeDisconnected, func(cur Snapshot) (Snapshot, bool) {
		if cur.Client == nil || (client != nil && cur.Client != client) {
			return cur, false
		}
		return Snapshot{}, true
	})
}

func (s *Store) write(kind ChangeKind, update func(Snapshot) (Snapshot, bool)) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	prev := s.current
	next, changed := update(prev)
	if !changed {
		s.mu.Unlock()
		return false
	}
	s.current = next
	listeners := make([]func(Change), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	change := Change{Kind: kind, Previous: prev.clone(), Current: next.clone()}
	for _, fn := range listeners {
		fn(change)
	}
	return true
}
