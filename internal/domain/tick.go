package domain

import "time"

// TickKind distinguishes quote updates from trade prints.
type TickKind string

const (
	TickQuote TickKind = "quote"
	TickTrade TickKind = "trade"
)

// Tick is the canonical market-data event produced by a feed adapter.
// A tick is created once by the adapter that parsed it and is never
// mutated afterwards; both the aggregation and matching pipelines
// consume the same values.
type Tick struct {
	Exchange string
	Symbol   string
	Kind     TickKind

	// Quote fields, set when Kind == TickQuote.
	Bid     float64
	BidSize float64
	Ask     float64
	AskSize float64

	// Trade fields, set when Kind == TickTrade.
	TradePrice float64
	TradeSize  float64

	// At is the exchange timestamp when the feed provides one,
	// otherwise local receipt time.
	At time.Time

	// Stale marks the first tick delivered after a reconnect: the
	// consumer may have missed an unknown number of events before it.
	Stale bool
}
