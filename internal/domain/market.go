package domain

import "time"

// ScopeAll is the consolidated exchange scope: analytics computed across
// every connected exchange rather than a single one.
const ScopeAll = "all"

// BestTouch is the best bid and ask currently known for a symbol within
// one exchange scope. For the consolidated scope the bid and ask may come
// from different exchanges; the exchange fields record which.
type BestTouch struct {
	Symbol      string    `json:"symbol"`
	Scope       string    `json:"scope"`
	Bid         float64   `json:"bid"`
	BidSize     float64   `json:"bid_size"`
	Ask         float64   `json:"ask"`
	AskSize     float64   `json:"ask_size"`
	BidExchange string    `json:"bid_exchange,omitempty"`
	AskExchange string    `json:"ask_exchange,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Consolidate computes the all-scope touch from per-exchange quotes: the
// highest bid and lowest ask across exchanges with a known quote. The
// two sides are picked independently, so they may come from different
// exchanges. A zero price means that side has not quoted and is
// excluded, never treated as a price of zero.
func Consolidate(symbol string, quotes map[string]BestTouch, at time.Time) BestTouch {
	out := BestTouch{Symbol: symbol, Scope: ScopeAll, UpdatedAt: at}
	for ex, q := range quotes {
		if q.Bid > 0 && (out.BidExchange == "" || q.Bid > out.Bid) {
			out.Bid, out.BidSize, out.BidExchange = q.Bid, q.BidSize, ex
		}
		if q.Ask > 0 && (out.AskExchange == "" || q.Ask < out.Ask) {
			out.Ask, out.AskSize, out.AskExchange = q.Ask, q.AskSize, ex
		}
	}
	return out
}

// Trade is a market trade print passed through to subscribers.
type Trade struct {
	Symbol   string    `json:"symbol"`
	Exchange string    `json:"exchange"`
	Price    float64   `json:"price"`
	Quantity float64   `json:"quantity"`
	At       time.Time `json:"timestamp"`
}

// Kline is a snapshot of one OHLCV bucket for a (symbol, scope, interval).
// Closed reports whether the bucket's window has ended; an open bucket is
// re-broadcast on every trade that lands inside its window.
type Kline struct {
	Symbol   string    `json:"symbol"`
	Scope    string    `json:"scope"`
	Interval string    `json:"interval"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Closed   bool      `json:"closed"`
}

// EwmaPoint is the current value of one exponentially-weighted moving
// average, decayed continuously by elapsed time rather than tick count.
type EwmaPoint struct {
	Symbol    string    `json:"symbol"`
	Scope     string    `json:"scope"`
	HalfLife  float64   `json:"half_life"`
	Value     float64   `json:"value"`
	UpdatedAt time.Time `json:"timestamp"`
}
