package stream

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types pushed to clients.
const (
	EventPriceUpdate    = "price_update"
	EventOrderFilled    = "order_filled"
	EventOrderCancelled = "order_cancelled"
	EventAck            = "ack"
	EventError          = "error"
)

// Event is the envelope of every server → client message.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// PriceUpdate is the payload of a price_update event.
type PriceUpdate struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	Timestamp     time.Time       `json:"timestamp"`
}

// ClientMessage is a client → server request.
type ClientMessage struct {
	Action string `json:"action"`
	Symbol string `json:"symbol"`
}

// Client actions.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

type ackData struct {
	Action string `json:"action"`
	Symbol string `json:"symbol"`
}

type errorData struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// SymbolGroup is the transport group of a symbol's subscribers.
func SymbolGroup(symbol string) string {
	return "symbol:" + symbol
}

// OwnerGroup is the transport group of an owner's connections.
func OwnerGroup(ownerID string) string {
	return "owner:" + ownerID
}

// Transport delivers events to named groups of connections.
type Transport interface {
	BroadcastToGroup(group string, ev Event)
	AddToGroup(connID, group string)
	RemoveFromGroup(connID, group string)
	// OnDisconnect registers fn to run after a connection closes.
	OnDisconnect(fn func(connID string))
}
