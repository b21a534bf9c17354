package session

import (
	"time"

	"OpenMCP-Wallet/internal/web3"
)

// Connect outcomes reported to an Observer.
const (
	OutcomeConnected = "connected"
	OutcomeNotReady  = "not_ready"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
)

// Observer receives controller and event activity, typically for metrics.
type Observer interface {
	ConnectFinished(outcome string, elapsed time.Duration)
	DisconnectFinished(err error)
	EventReceived(event web3.Event)
}

type nopObserver struct{}

func (nopObserver) ConnectFinished(string, time.Duration) {}
func (nopObserver) DisconnectFinished(error)              {}
func (nopObserver) EventReceived(web3.Event)              {}
