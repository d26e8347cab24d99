package domain

import (
	"sort"
	"sync"
)

// quoteAssets are the recognized quote currencies, longest first so that
// USDT is matched before USD.
var quoteAssets = []string{"USDT", "USDC", "USD"}

// SplitSymbol splits a trading pair into (base, quote). Pairs ending in a
// recognized quote currency split there; anything else falls back to a
// three-character quote suffix.
func SplitSymbol(symbol string) (base, quote string) {
	for _, q := range quoteAssets {
		if len(symbol) > len(q) && symbol[len(symbol)-len(q):] == q {
			return symbol[:len(symbol)-len(q)], q
		}
	}
	if len(symbol) <= 3 {
		return symbol, ""
	}
	return symbol[:len(symbol)-3], symbol[len(symbol)-3:]
}

// SymbolSet is the registry of tradable pairs, fixed at startup from
// configuration. Safe for concurrent use.
type SymbolSet struct {
	mu      sync.RWMutex
	symbols map[string]bool
}

// NewSymbolSet creates a SymbolSet from the configured pairs.
func NewSymbolSet(symbols []string) *SymbolSet {
	set := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		set[s] = true
	}
	return &SymbolSet{symbols: set}
}

// Exists returns true if the symbol is a configured pair.
func (s *SymbolSet) Exists(symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.symbols[symbol]
}

// List returns all configured pairs in sorted order.
func (s *SymbolSet) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.symbols))
	for sym := range s.symbols {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Assets returns the sorted set of base and quote assets across all
// configured pairs.
func (s *SymbolSet) Assets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	for sym := range s.symbols {
		base, quote := SplitSymbol(sym)
		seen[base] = true
		if quote != "" {
			seen[quote] = true
		}
	}
	out := make([]string, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
