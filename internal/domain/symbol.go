package domain

import (
	"sort"
	"strings"
	"sync"
)

// maxSymbolLength matches the width of the symbol column.
const maxSymbolLength = 10

// NormalizeSymbol upper-cases and trims a ticker and checks it only uses
// characters that appear in exchange tickers (letters, digits, '.', '-', '^', '=').
func NormalizeSymbol(s string) (string, error) {
	sym := strings.ToUpper(strings.TrimSpace(s))
	if sym == "" {
		return "", &ValidationError{Message: "symbol is required"}
	}
	if len(sym) > maxSymbolLength {
		return "", &ValidationError{Message: "symbol must be at most 10 characters"}
	}
	for _, r := range sym {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.', r == '-', r == '^', r == '=':
		default:
			return "", &ValidationError{Message: "symbol contains invalid characters"}
		}
	}
	return sym, nil
}

// SymbolRegistry tracks tradable stock symbols in a thread-safe manner.
// An empty registry accepts every well-formed symbol.
type SymbolRegistry struct {
	mu      sync.RWMutex
	symbols map[string]bool
}

// NewSymbolRegistry creates a registry seeded with the given symbols.
// Invalid entries are ignored.
func NewSymbolRegistry(symbols ...string) *SymbolRegistry {
	r := &SymbolRegistry{
		symbols: make(map[string]bool),
	}
	for _, s := range symbols {
		r.Register(s)
	}
	return r
}

// Register adds a symbol to the registry. Safe for concurrent use.
func (r *SymbolRegistry) Register(symbol string) {
	sym, err := NormalizeSymbol(symbol)
	if err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.symbols[sym] = true
}

// Allows reports whether orders may be placed on symbol.
func (r *SymbolRegistry) Allows(symbol string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.symbols) == 0 {
		return true
	}
	return r.symbols[symbol]
}

// List returns the registered symbols in lexical order.
func (r *SymbolRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.symbols))
	for s := range r.symbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
