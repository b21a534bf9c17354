package notify

import (
	"time"

	"OpenMCP-Wallet/internal/session"

	"github.com/google/uuid"
)

// Event 描述一次会话变化，是对外投递的消息体。
type Event struct {
	ID              string    `json:"id"`
	Kind            string    `json:"kind"`
	SessionID       string    `json:"session_id,omitempty"`
	Provider        string    `json:"provider,omitempty"`
	Account         string    `json:"account,omitempty"`
	ChainID         string    `json:"chain_id,omitempty"`
	PreviousAccount string    `json:"previous_account,omitempty"`
	PreviousChainID string    `json:"previous_chain_id,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// FromChange 根据 Store 的变化构建事件。断开事件携带被清空的会话信息。
func FromChange(change session.Change) Event {
	ev := Event{
		ID:         uuid.NewString(),
		Kind:       string(change.Kind),
		OccurredAt: time.Now().UTC(),
	}

	subject := change.Current
	if change.Kind == session.ChangeDisconnected {
		subject = change.Previous
	}
	ev.SessionID = subject.ID
	ev.Provider = subject.Provider
	ev.Account = subject.Account
	if subject.ChainID != nil {
		ev.ChainID = subject.ChainID.String()
	}

	switch change.Kind {
	case session.ChangeAccountChanged:
		ev.PreviousAccount = change.Previous.Account
	case session.ChangeNetworkChanged:
		if change.Previous.ChainID != nil {
			ev.PreviousChainID = change.Previous.ChainID.String()
		}
	}
	return ev
}

// RoutingSuffix 返回事件在消息路由键中的后缀。
func (e Event) RoutingSuffix() string {
	if e.Kind == "" {
		return "unknown"
	}
	return e.Kind
}
