package notifications

import (
	"encoding/json"
	"fmt"
	"time"

	"fairfund/fairfund-backend/internal/ledger"
)

// WebSocketMessage represents WebSocket message format
type WebSocketMessage struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Channel   string                 `json:"channel"`
	Target    string                 `json:"target,omitempty"` // account address for private messages
	Source    string                 `json:"source,omitempty"`
	// Accounts lists the parties of a ledger event; subscribed connections only
	// receive events that concern one of their accounts.
	Accounts []string `json:"-"`
}

// WebSocket message types
const (
	WSMessageTypeEvent     = "ledger_event"
	WSMessageTypeExpiry    = "expiry_notice"
	WSMessageTypeStatus    = "status"
	WSMessageTypeSubscribe = "subscribe"
	WSMessageTypePing      = "ping"
)

// WebSocket channels
const (
	ChannelBroadcast = "broadcast"
	ChannelAccount   = "account"
)

// EventMessage wraps a committed ledger event for delivery to clients
func EventMessage(e ledger.Event) (WebSocketMessage, error) {
	payload, err := ledger.EncodeEvent(e)
	if err != nil {
		return WebSocketMessage{}, fmt.Errorf("failed to encode %s: %w", e.Kind(), err)
	}
	h := e.Header()
	return WebSocketMessage{
		Type: WSMessageTypeEvent,
		Data: map[string]interface{}{
			"kind":  e.Kind(),
			"seq":   h.Seq,
			"event": json.RawMessage(payload),
		},
		Timestamp: h.At,
		Channel:   ChannelBroadcast,
		Accounts:  ledger.Parties(e),
	}, nil
}

// ExpiryNotice tells a donor which of their disbursements can now be reclaimed.
type ExpiryNotice struct {
	Donor           string   `json:"donor"`
	DisbursementIDs []uint64 `json:"disbursement_ids"`
	Amount          string   `json:"amount"`
}

// Message converts the notice into a private WebSocket message
func (n ExpiryNotice) Message(now time.Time) WebSocketMessage {
	return WebSocketMessage{
		Type: WSMessageTypeExpiry,
		Data: map[string]interface{}{
			"disbursement_ids": n.DisbursementIDs,
			"amount":           n.Amount,
		},
		Timestamp: now,
		Channel:   ChannelAccount,
		Target:    n.Donor,
		Accounts:  []string{n.Donor},
	}
}
