package domain

import (
	"testing"

	"pgregory.net/rapid"
)

// Interval short forms must survive a format/parse round-trip so that a
// client subscribing with an emitted key always resolves to the same
// window.
func TestProperty_IntervalRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		sec := rapid.SampledFrom(KlineIntervals).Draw(t, "sec")

		got, err := ParseInterval(FormatInterval(sec))
		if err != nil {
			t.Fatalf("ParseInterval(FormatInterval(%d)) returned error: %v", sec, err)
		}
		if got != sec {
			t.Fatalf("round-trip failed: %d -> %q -> %d", sec, FormatInterval(sec), got)
		}
	})
}

// Any parseable stream key must re-render to a key that parses to the
// same spec. The hub relies on this to match subscriptions against
// emitted stream keys.
func TestProperty_StreamKeyRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		symbol := rapid.SampledFrom([]string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}).Draw(t, "symbol")
		scope := rapid.SampledFrom([]string{ScopeAll, "binance", "okx"}).Draw(t, "scope")

		var spec StreamSpec
		switch rapid.IntRange(0, 3).Draw(t, "kind") {
		case 0:
			spec = StreamSpec{Stream: StreamBestTouch, Symbol: symbol, Scope: scope}
		case 1:
			spec = StreamSpec{Stream: StreamTrades, Symbol: symbol, Scope: scope}
		case 2:
			iv := rapid.SampledFrom(KlineIntervals).Draw(t, "interval")
			spec = StreamSpec{Stream: StreamKlines, Symbol: symbol, Scope: scope, Interval: iv}
		case 3:
			h := rapid.SampledFrom([]float64{1, 5, 30, 60.5, 300}).Draw(t, "halflife")
			spec = StreamSpec{Stream: StreamEwma, Symbol: symbol, Scope: scope, HalfLife: h}
		}

		parsed, err := ParseStreamSpec(spec.Key())
		if err != nil {
			t.Fatalf("ParseStreamSpec(%q) returned error: %v", spec.Key(), err)
		}
		if parsed != spec {
			t.Fatalf("round-trip failed: %+v -> %q -> %+v", spec, spec.Key(), parsed)
		}
	})
}
