package market

import (
	"time"

	"papertrade/internal/domain"
)

// klineSeries accumulates the single open bucket for one
// (symbol, scope, interval). Windows are aligned to the epoch so every
// subscriber sees identical bucket edges regardless of when it joined.
type klineSeries struct {
	symbol   string
	scope    string
	interval int64
	cur      *domain.Kline // nil until the first trade
}

func newKlineSeries(symbol, scope string, interval int64) *klineSeries {
	return &klineSeries{symbol: symbol, scope: scope, interval: interval}
}

// bucketStart aligns ts down to the interval boundary.
func bucketStart(ts time.Time, interval int64) time.Time {
	sec := ts.Unix()
	return time.Unix(sec-sec%interval, 0).UTC()
}

// apply folds one trade print into the series. It returns the bucket
// snapshots to broadcast, in order: zero or more closed buckets for
// windows the trade skipped past, then the open bucket containing the
// trade.
func (s *klineSeries) apply(price, qty float64, ts time.Time) []domain.Kline {
	if s.cur == nil {
		start := bucketStart(ts, s.interval)
		s.cur = &domain.Kline{
			Symbol:   s.symbol,
			Scope:    s.scope,
			Interval: domain.FormatInterval(s.interval),
			Open:     price,
			High:     price,
			Low:      price,
			Close:    price,
			Volume:   qty,
			Start:    start,
			End:      start.Add(domain.IntervalDuration(s.interval)),
		}
		return []domain.Kline{*s.cur}
	}

	out := s.advanceTo(ts)

	if price > s.cur.High {
		s.cur.High = price
	}
	if price < s.cur.Low {
		s.cur.Low = price
	}
	s.cur.Close = price
	s.cur.Volume += qty
	return append(out, *s.cur)
}

// advanceTo closes every bucket whose window ends at or before ts and
// opens successors seeded from the prior close, keeping bucket edges
// contiguous through trade gaps. It returns the closed snapshots.
func (s *klineSeries) advanceTo(ts time.Time) []domain.Kline {
	var closed []domain.Kline
	for s.cur != nil && !ts.Before(s.cur.End) {
		done := *s.cur
		done.Closed = true
		closed = append(closed, done)

		px := s.cur.Close
		start := s.cur.End
		s.cur = &domain.Kline{
			Symbol:   s.symbol,
			Scope:    s.scope,
			Interval: s.cur.Interval,
			Open:     px,
			High:     px,
			Low:      px,
			Close:    px,
			Start:    start,
			End:      start.Add(domain.IntervalDuration(s.interval)),
		}
	}
	return closed
}

// snapshot returns the open bucket, or false before the first trade.
func (s *klineSeries) snapshot() (domain.Kline, bool) {
	if s.cur == nil {
		return domain.Kline{}, false
	}
	return *s.cur, true
}
