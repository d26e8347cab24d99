package domain

import (
	"fmt"
	"strings"
	"time"
)

// Stream identifies a broadcast data stream.
type Stream string

const (
	StreamBestTouch Stream = "best_touch"
	StreamTrades    Stream = "trades"
	StreamKlines    Stream = "klines"
	StreamEwma      Stream = "ewma"
)

// KlineIntervals are the supported kline windows in seconds.
var KlineIntervals = []int64{1, 10, 60, 300}

// ValidInterval returns true if sec is a supported kline window.
func ValidInterval(sec int64) bool {
	for _, iv := range KlineIntervals {
		if iv == sec {
			return true
		}
	}
	return false
}

// FormatInterval renders an interval in seconds as its short form,
// e.g. 60 becomes "1m".
func FormatInterval(sec int64) string {
	if sec >= 60 && sec%60 == 0 {
		return fmt.Sprintf("%dm", sec/60)
	}
	return fmt.Sprintf("%ds", sec)
}

// ParseInterval converts a short interval form such as "1s", "10s",
// "1m" or "5m" back to seconds.
func ParseInterval(s string) (int64, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("%w: interval %q", ErrMalformedMessage, s)
	}
	unit := s[len(s)-1]
	var n int64
	if _, err := fmt.Sscanf(s[:len(s)-1], "%d", &n); err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: interval %q", ErrMalformedMessage, s)
	}
	switch unit {
	case 's':
		return n, nil
	case 'm':
		return n * 60, nil
	default:
		return 0, fmt.Errorf("%w: interval %q", ErrMalformedMessage, s)
	}
}

// IntervalDuration converts an interval in seconds to a time.Duration.
func IntervalDuration(sec int64) time.Duration {
	return time.Duration(sec) * time.Second
}

// StreamSpec names one subscribable stream instance. Scope is an
// exchange name or ScopeAll. Interval applies to klines, HalfLife to
// ewma; both are zero otherwise.
type StreamSpec struct {
	Stream   Stream
	Symbol   string
	Scope    string
	Interval int64
	HalfLife float64
}

// Key renders the spec as its wire subscription key, e.g.
// "klines:BTCUSDT:all:1m" or "ewma:ETHUSDT:all:30".
func (s StreamSpec) Key() string {
	switch s.Stream {
	case StreamKlines:
		return fmt.Sprintf("%s:%s:%s:%s", s.Stream, s.Symbol, s.Scope, FormatInterval(s.Interval))
	case StreamEwma:
		return fmt.Sprintf("%s:%s:%s:%s", s.Stream, s.Symbol, s.Scope, formatHalfLife(s.HalfLife))
	default:
		return fmt.Sprintf("%s:%s:%s", s.Stream, s.Symbol, s.Scope)
	}
}

func formatHalfLife(h float64) string {
	return fmt.Sprintf("%g", h)
}

// ParseStreamSpec parses a wire subscription key into a StreamSpec.
// Accepted forms:
//
//	best_touch:<symbol>:<scope>
//	trades:<symbol>:<scope>
//	klines:<symbol>:<scope>:<interval>
//	ewma:<symbol>:<scope>:<half-life-seconds>
func ParseStreamSpec(key string) (StreamSpec, error) {
	parts := strings.Split(key, ":")
	if len(parts) < 3 {
		return StreamSpec{}, fmt.Errorf("%w: stream %q", ErrMalformedMessage, key)
	}

	spec := StreamSpec{
		Stream: Stream(parts[0]),
		Symbol: parts[1],
		Scope:  parts[2],
	}
	if spec.Symbol == "" || spec.Scope == "" {
		return StreamSpec{}, fmt.Errorf("%w: stream %q", ErrMalformedMessage, key)
	}

	switch spec.Stream {
	case StreamBestTouch, StreamTrades:
		if len(parts) != 3 {
			return StreamSpec{}, fmt.Errorf("%w: stream %q", ErrMalformedMessage, key)
		}
	case StreamKlines:
		if len(parts) != 4 {
			return StreamSpec{}, fmt.Errorf("%w: stream %q", ErrMalformedMessage, key)
		}
		sec, err := ParseInterval(parts[3])
		if err != nil {
			return StreamSpec{}, err
		}
		if !ValidInterval(sec) {
			return StreamSpec{}, fmt.Errorf("%w: unsupported interval %q", ErrMalformedMessage, parts[3])
		}
		spec.Interval = sec
	case StreamEwma:
		if len(parts) != 4 {
			return StreamSpec{}, fmt.Errorf("%w: stream %q", ErrMalformedMessage, key)
		}
		var h float64
		if _, err := fmt.Sscanf(parts[3], "%g", &h); err != nil || h <= 0 {
			return StreamSpec{}, fmt.Errorf("%w: half-life %q", ErrMalformedMessage, parts[3])
		}
		spec.HalfLife = h
	default:
		return StreamSpec{}, fmt.Errorf("%w: unknown stream %q", ErrMalformedMessage, parts[0])
	}
	return spec, nil
}
