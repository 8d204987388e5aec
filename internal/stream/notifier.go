package stream

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/papertrade/internal/domain"
)

// OrderEvent is the payload of order_filled and order_cancelled events.
type OrderEvent struct {
	OrderID    string           `json:"order_id"`
	Symbol     string           `json:"symbol"`
	Side       string           `json:"side"`
	Quantity   decimal.Decimal  `json:"quantity"`
	LimitPrice decimal.Decimal  `json:"limit_price"`
	Status     string           `json:"status"`
	FillPrice  *decimal.Decimal `json:"fill_price,omitempty"`
	Reason     string           `json:"reason,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}

// OwnerNotifier pushes matcher outcomes to the owner's open connections.
type OwnerNotifier struct {
	transport Transport
}

// NewOwnerNotifier creates an OwnerNotifier.
func NewOwnerNotifier(transport Transport) *OwnerNotifier {
	return &OwnerNotifier{transport: transport}
}

func (n *OwnerNotifier) OrderFilled(o *domain.Order, tx *domain.Transaction) {
	ev := orderEvent(o)
	price := tx.Price
	ev.FillPrice = &price
	ev.Timestamp = tx.ExecutedAt
	n.transport.BroadcastToGroup(OwnerGroup(o.OwnerID), Event{Type: EventOrderFilled, Data: ev})
}

func (n *OwnerNotifier) OrderCancelled(o *domain.Order, reason string) {
	ev := orderEvent(o)
	ev.Reason = reason
	n.transport.BroadcastToGroup(OwnerGroup(o.OwnerID), Event{Type: EventOrderCancelled, Data: ev})
}

func orderEvent(o *domain.Order) OrderEvent {
	return OrderEvent{
		OrderID:    o.OrderID,
		Symbol:     o.Symbol,
		Side:       string(o.Side),
		Quantity:   o.Quantity,
		LimitPrice: o.LimitPrice,
		Status:     string(o.Status),
		Timestamp:  o.UpdatedAt,
	}
}
