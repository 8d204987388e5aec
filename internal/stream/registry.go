// Package stream tracks which symbols have live subscribers and pushes
// price changes and order events to them.
package stream

import (
	"sort"
	"sync"
)

// Listener is told when a symbol gains its first subscriber or loses its
// last one. Callbacks run outside the registry lock but must not call
// back into Join, Leave or Disconnect.
type Listener interface {
	SymbolActivated(symbol string)
	SymbolDeactivated(symbol string)
}

type transition struct {
	symbol    string
	activated bool
}

// Registry maps symbols to the set of subscribers watching them. A symbol
// is active while its set is non-empty; the set is removed the moment it
// becomes empty.
type Registry struct {
	mu     sync.Mutex
	bySym  map[string]map[string]struct{} // symbol → subscribers
	bySub  map[string]map[string]struct{} // subscriber → symbols
	emitMu sync.Mutex

	listeners []Listener
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		bySym: make(map[string]map[string]struct{}),
		bySub: make(map[string]map[string]struct{}),
	}
}

// AddListener registers l for activation events. Call before the registry
// is shared.
func (r *Registry) AddListener(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Join adds subscriberID to symbol. Joining twice is a no-op. It reports
// whether the subscription is new.
func (r *Registry) Join(subscriberID, symbol string) bool {
	r.mu.Lock()
	subs, ok := r.bySym[symbol]
	if !ok {
		subs = make(map[string]struct{})
		r.bySym[symbol] = subs
	}
	if _, dup := subs[subscriberID]; dup {
		r.mu.Unlock()
		return false
	}
	subs[subscriberID] = struct{}{}
	if r.bySub[subscriberID] == nil {
		r.bySub[subscriberID] = make(map[string]struct{})
	}
	r.bySub[subscriberID][symbol] = struct{}{}

	var events []transition
	if len(subs) == 1 {
		events = append(events, transition{symbol: symbol, activated: true})
	}
	r.emit(events)
	return true
}

// Leave removes subscriberID from symbol. Leaving a symbol the subscriber
// never joined is a no-op.
func (r *Registry) Leave(subscriberID, symbol string) {
	r.mu.Lock()
	var events []transition
	if r.removeLocked(subscriberID, symbol) {
		events = append(events, transition{symbol: symbol})
	}
	r.emit(events)
}

// Disconnect removes subscriberID from every symbol. It is idempotent.
func (r *Registry) Disconnect(subscriberID string) {
	r.mu.Lock()
	symbols := make([]string, 0, len(r.bySub[subscriberID]))
	for s := range r.bySub[subscriberID] {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	var events []transition
	for _, s := range symbols {
		if r.removeLocked(subscriberID, s) {
			events = append(events, transition{symbol: s})
		}
	}
	r.emit(events)
}

// removeLocked reports whether symbol became inactive.
func (r *Registry) removeLocked(subscriberID, symbol string) bool {
	subs, ok := r.bySym[symbol]
	if !ok {
		return false
	}
	if _, member := subs[subscriberID]; !member {
		return false
	}
	delete(subs, subscriberID)
	if mine := r.bySub[subscriberID]; mine != nil {
		delete(mine, symbol)
		if len(mine) == 0 {
			delete(r.bySub, subscriberID)
		}
	}
	if len(subs) > 0 {
		return false
	}
	delete(r.bySym, symbol)
	return true
}

// emit must be called with mu held; it releases mu. The emission lock is
// taken before mu is released so listeners see transitions in the order
// they happened.
func (r *Registry) emit(events []transition) {
	if len(events) == 0 || len(r.listeners) == 0 {
		r.mu.Unlock()
		return
	}
	listeners := r.listeners
	r.emitMu.Lock()
	r.mu.Unlock()
	defer r.emitMu.Unlock()

	for _, ev := range events {
		for _, l := range listeners {
			if ev.activated {
				l.SymbolActivated(ev.symbol)
			} else {
				l.SymbolDeactivated(ev.symbol)
			}
		}
	}
}

// ActiveSymbols returns a sorted snapshot of the symbols with at least one
// subscriber.
func (r *Registry) ActiveSymbols() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.bySym))
	for s := range r.bySym {
		out = append(out, s)
	}
	r.mu.Unlock()

	sort.Strings(out)
	return out
}

// Active reports whether symbol has at least one subscriber.
func (r *Registry) Active(symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.bySym[symbol]
	return ok
}

// Subscribers returns the subscribers of symbol in sorted order.
func (r *Registry) Subscribers(symbol string) []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.bySym[symbol]))
	for id := range r.bySym[symbol] {
		out = append(out, id)
	}
	r.mu.Unlock()

	sort.Strings(out)
	return out
}
