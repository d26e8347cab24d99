package market

import (
	"context"
	"sync"
	"time"

	"papertrade/internal/domain"
)

// Emitter receives derived updates as the aggregator produces them.
// The subscription hub implements this to fan updates out to clients.
type Emitter interface {
	EmitBestTouch(bt domain.BestTouch)
	EmitTrade(tr domain.Trade)
	EmitKline(k domain.Kline)
	EmitEwma(p domain.EwmaPoint)
}

type klineKey struct {
	scope    string
	interval int64
}

type ewmaKey struct {
	scope    string
	halfLife float64
}

// symbolShard holds all derived state for one symbol behind its own
// lock, so activity on one symbol never contends with another.
type symbolShard struct {
	mu sync.Mutex

	quotes       map[string]domain.BestTouch // keyed by exchange
	consolidated domain.BestTouch
	hasQuote     bool

	lastTrade map[string]time.Time // per scope, guards kline/EWMA updates
	klines    map[klineKey]*klineSeries
	ewma      map[ewmaKey]*ewmaState
}

// Aggregator consumes canonical ticks and maintains best-touch, kline,
// and EWMA state per (symbol, scope). It is one of the two independent
// consumers of the tick stream; the matching engine is the other.
type Aggregator struct {
	shards    map[string]*symbolShard // fixed at construction, read-only map
	intervals []int64
	emitter   Emitter
}

// NewAggregator creates an aggregator for a fixed symbol set. intervals
// are the kline windows in seconds.
func NewAggregator(symbols []string, intervals []int64, emitter Emitter) *Aggregator {
	shards := make(map[string]*symbolShard, len(symbols))
	for _, sym := range symbols {
		shards[sym] = &symbolShard{
			quotes:    make(map[string]domain.BestTouch),
			lastTrade: make(map[string]time.Time),
			klines:    make(map[klineKey]*klineSeries),
			ewma:      make(map[ewmaKey]*ewmaState),
		}
	}
	return &Aggregator{shards: shards, intervals: intervals, emitter: emitter}
}

// OnTick folds one canonical tick into the derived state and emits the
// resulting updates. Ticks for unconfigured symbols are dropped.
func (a *Aggregator) OnTick(tick domain.Tick) {
	shard, ok := a.shards[tick.Symbol]
	if !ok {
		return
	}
	switch tick.Kind {
	case domain.TickQuote:
		a.onQuote(shard, tick)
	case domain.TickTrade:
		a.onTrade(shard, tick)
	}
}

func (a *Aggregator) onQuote(shard *symbolShard, tick domain.Tick) {
	exTouch := domain.BestTouch{
		Symbol:      tick.Symbol,
		Scope:       tick.Exchange,
		Bid:         tick.Bid,
		BidSize:     tick.BidSize,
		Ask:         tick.Ask,
		AskSize:     tick.AskSize,
		BidExchange: tick.Exchange,
		AskExchange: tick.Exchange,
		UpdatedAt:   tick.At,
	}

	shard.mu.Lock()
	shard.quotes[tick.Exchange] = exTouch
	cons := domain.Consolidate(tick.Symbol, shard.quotes, tick.At)
	shard.consolidated = cons
	shard.hasQuote = true
	shard.mu.Unlock()

	a.emitter.EmitBestTouch(exTouch)
	a.emitter.EmitBestTouch(cons)
}

func (a *Aggregator) onTrade(shard *symbolShard, tick domain.Tick) {
	tr := domain.Trade{
		Symbol:   tick.Symbol,
		Exchange: tick.Exchange,
		Price:    tick.TradePrice,
		Quantity: tick.TradeSize,
		At:       tick.At,
	}

	var klineUpdates []domain.Kline
	var ewmaUpdates []domain.EwmaPoint

	shard.mu.Lock()
	for _, scope := range []string{tick.Exchange, domain.ScopeAll} {
		// A duplicate or out-of-order print is ignored for kline and
		// EWMA state in this scope; the passthrough still happens.
		last, seen := shard.lastTrade[scope]
		if seen && !tick.At.After(last) {
			continue
		}
		shard.lastTrade[scope] = tick.At

		for _, iv := range a.intervals {
			key := klineKey{scope: scope, interval: iv}
			series := shard.klines[key]
			if series == nil {
				series = newKlineSeries(tick.Symbol, scope, iv)
				shard.klines[key] = series
			}
			klineUpdates = append(klineUpdates, series.apply(tick.TradePrice, tick.TradeSize, tick.At)...)
		}

		for key, st := range shard.ewma {
			if key.scope != scope {
				continue
			}
			st.update(tick.TradePrice, tick.At)
			ewmaUpdates = append(ewmaUpdates, domain.EwmaPoint{
				Symbol:    tick.Symbol,
				Scope:     scope,
				HalfLife:  st.halfLife,
				Value:     st.value,
				UpdatedAt: tick.At,
			})
		}
	}
	shard.mu.Unlock()

	a.emitter.EmitTrade(tr)
	for _, k := range klineUpdates {
		a.emitter.EmitKline(k)
	}
	for _, p := range ewmaUpdates {
		a.emitter.EmitEwma(p)
	}
}

// BestTouch returns the current touch for a scope, or false when no
// quote has arrived yet. Scope is an exchange name or ScopeAll.
func (a *Aggregator) BestTouch(symbol, scope string) (domain.BestTouch, bool) {
	shard, ok := a.shards[symbol]
	if !ok {
		return domain.BestTouch{}, false
	}
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if scope == domain.ScopeAll {
		if !shard.hasQuote {
			return domain.BestTouch{}, false
		}
		return shard.consolidated, true
	}
	bt, ok := shard.quotes[scope]
	return bt, ok
}

// Track registers interest in an EWMA stream, creating its state on
// first reference. Distinct half-lives for the same symbol and scope
// are computed independently.
func (a *Aggregator) Track(symbol, scope string, halfLife float64) {
	shard, ok := a.shards[symbol]
	if !ok {
		return
	}
	shard.mu.Lock()
	defer shard.mu.Unlock()

	key := ewmaKey{scope: scope, halfLife: halfLife}
	st := shard.ewma[key]
	if st == nil {
		st = &ewmaState{halfLife: halfLife}
		shard.ewma[key] = st
	}
	st.refs++
}

// Release drops one reference to an EWMA stream, deleting the state at
// zero references.
func (a *Aggregator) Release(symbol, scope string, halfLife float64) {
	shard, ok := a.shards[symbol]
	if !ok {
		return
	}
	shard.mu.Lock()
	defer shard.mu.Unlock()

	key := ewmaKey{scope: scope, halfLife: halfLife}
	st := shard.ewma[key]
	if st == nil {
		return
	}
	st.refs--
	if st.refs <= 0 {
		delete(shard.ewma, key)
	}
}

// Roll closes every bucket whose window ended at or before now and
// re-broadcasts the open bucket of each active series, so subscribers
// receive kline updates even through trade gaps.
func (a *Aggregator) Roll(now time.Time) {
	for _, shard := range a.shards {
		var updates []domain.Kline

		shard.mu.Lock()
		for _, series := range shard.klines {
			updates = append(updates, series.advanceTo(now)...)
			if snap, ok := series.snapshot(); ok {
				updates = append(updates, snap)
			}
		}
		shard.mu.Unlock()

		for _, k := range updates {
			a.emitter.EmitKline(k)
		}
	}
}

// RollLoop drives Roll once per second until ctx is cancelled.
func (a *Aggregator) RollLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			a.Roll(now)
		}
	}
}
