package stream

import (
	"github.com/efreitasn/papertrade/internal/domain"
)

// SnapshotSource returns the last pushed price of a symbol.
type SnapshotSource interface {
	Last(symbol string) (PriceUpdate, bool)
}

// Sessions turns client subscribe and unsubscribe actions into registry
// membership and transport group membership, and cleans both up when a
// connection closes.
type Sessions struct {
	registry  *Registry
	transport Transport
	snapshots SnapshotSource
	symbols   *domain.SymbolRegistry
}

var _ ActionHandler = (*Sessions)(nil)

// NewSessions creates Sessions and hooks it to transport disconnects.
func NewSessions(registry *Registry, transport Transport, snapshots SnapshotSource, symbols *domain.SymbolRegistry) *Sessions {
	s := &Sessions{
		registry:  registry,
		transport: transport,
		snapshots: snapshots,
		symbols:   symbols,
	}
	transport.OnDisconnect(registry.Disconnect)
	return s
}

func (s *Sessions) HandleAction(connID string, msg ClientMessage) []Event {
	switch msg.Action {
	case ActionSubscribe, ActionUnsubscribe:
	default:
		return []Event{errorEvent("invalid_request", "action must be subscribe or unsubscribe")}
	}

	symbol, err := domain.NormalizeSymbol(msg.Symbol)
	if err != nil {
		return []Event{errorEvent("validation_error", err.Error())}
	}

	if msg.Action == ActionUnsubscribe {
		s.registry.Leave(connID, symbol)
		s.transport.RemoveFromGroup(connID, SymbolGroup(symbol))
		return []Event{ackEvent(msg.Action, symbol)}
	}

	if !s.symbols.Allows(symbol) {
		return []Event{errorEvent("symbol_not_found", "Symbol not found")}
	}
	// Join the group first so the push triggered by activation reaches
	// this connection.
	s.transport.AddToGroup(connID, SymbolGroup(symbol))
	s.registry.Join(connID, symbol)

	events := []Event{ackEvent(msg.Action, symbol)}
	if last, ok := s.snapshots.Last(symbol); ok {
		events = append(events, Event{Type: EventPriceUpdate, Data: last})
	}
	return events
}

func ackEvent(action, symbol string) Event {
	return Event{Type: EventAck, Data: ackData{Action: action, Symbol: symbol}}
}

func errorEvent(code, message string) Event {
	return Event{Type: EventError, Data: errorData{Error: code, Message: message}}
}
