package engine

import "github.com/efreitasn/papertrade/internal/domain"

// Notifiers fans every outcome out to each notifier in order.
type Notifiers []Notifier

func (ns Notifiers) OrderFilled(o *domain.Order, tx *domain.Transaction) {
	for _, n := range ns {
		n.OrderFilled(o, tx)
	}
}

func (ns Notifiers) OrderCancelled(o *domain.Order, reason string) {
	for _, n := range ns {
		n.OrderCancelled(o, reason)
	}
}
