package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"papertrade/internal/domain"
)

const (
	handshakeTimeout = 10 * time.Second
	readTimeout      = 90 * time.Second
)

// Binance streams best bid/ask and trade prints for a set of symbols
// over one combined-stream connection. Quote ticks come from the
// bookTicker channel, trade ticks from the trade channel.
type Binance struct {
	url       string
	symbols   map[string]bool
	streams   string
	malformed atomic.Uint64
}

// NewBinance creates an adapter for the given combined-stream base URL,
// e.g. wss://stream.binance.com:9443/stream.
func NewBinance(url string, symbols []string) *Binance {
	set := make(map[string]bool, len(symbols))
	parts := make([]string, 0, 2*len(symbols))
	for _, sym := range symbols {
		set[sym] = true
		lower := strings.ToLower(sym)
		parts = append(parts, lower+"@bookTicker", lower+"@trade")
	}
	return &Binance{
		url:     url,
		symbols: set,
		streams: strings.Join(parts, "/"),
	}
}

func (b *Binance) Name() string { return "binance" }

// Malformed returns how many unparseable messages have been dropped.
func (b *Binance) Malformed() uint64 { return b.malformed.Load() }

// Run holds one combined-stream connection open, emitting ticks until
// the connection drops or ctx is cancelled.
func (b *Binance) Run(ctx context.Context, emit func(domain.Tick)) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, b.url+"?streams="+b.streams, nil)
	if err != nil {
		return fmt.Errorf("dial binance: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		// bookTicker traffic is continuous for liquid pairs; a stream
		// quiet past the deadline is treated as dead.
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read binance: %w", err)
		}
		if tick, ok := b.parse(msg); ok {
			emit(tick)
		}
	}
}

// binanceEnvelope is one combined-stream frame: the stream name plus
// the channel payload.
type binanceEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type binanceBookTicker struct {
	Symbol  string `json:"s"`
	Bid     string `json:"b"`
	BidSize string `json:"B"`
	Ask     string `json:"a"`
	AskSize string `json:"A"`
}

type binanceTrade struct {
	Symbol   string `json:"s"`
	Price    string `json:"p"`
	Quantity string `json:"q"`
	TradeTs  int64  `json:"T"`
}

// parse converts one raw frame into a canonical tick. Malformed frames
// and frames for unsubscribed symbols report ok=false; only the former
// are counted.
func (b *Binance) parse(msg []byte) (domain.Tick, bool) {
	var env binanceEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return b.drop(msg, err)
	}
	_, channel, found := strings.Cut(env.Stream, "@")
	if !found {
		return b.drop(msg, fmt.Errorf("stream %q has no channel", env.Stream))
	}

	switch channel {
	case "bookTicker":
		var bt binanceBookTicker
		if err := json.Unmarshal(env.Data, &bt); err != nil {
			return b.drop(msg, err)
		}
		if !b.symbols[bt.Symbol] {
			return domain.Tick{}, false
		}
		bid, err1 := strconv.ParseFloat(bt.Bid, 64)
		bidSz, err2 := strconv.ParseFloat(bt.BidSize, 64)
		ask, err3 := strconv.ParseFloat(bt.Ask, 64)
		askSz, err4 := strconv.ParseFloat(bt.AskSize, 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			return b.drop(msg, fmt.Errorf("bad bookTicker prices"))
		}
		return domain.Tick{
			Exchange: b.Name(),
			Symbol:   bt.Symbol,
			Kind:     domain.TickQuote,
			Bid:      bid,
			BidSize:  bidSz,
			Ask:      ask,
			AskSize:  askSz,
			// bookTicker carries no event time; receipt time stands in.
			At: time.Now(),
		}, true

	case "trade":
		var tr binanceTrade
		if err := json.Unmarshal(env.Data, &tr); err != nil {
			return b.drop(msg, err)
		}
		if !b.symbols[tr.Symbol] {
			return domain.Tick{}, false
		}
		price, err1 := strconv.ParseFloat(tr.Price, 64)
		qty, err2 := strconv.ParseFloat(tr.Quantity, 64)
		if err1 != nil || err2 != nil || tr.TradeTs <= 0 {
			return b.drop(msg, fmt.Errorf("bad trade fields"))
		}
		return domain.Tick{
			Exchange:   b.Name(),
			Symbol:     tr.Symbol,
			Kind:       domain.TickTrade,
			TradePrice: price,
			TradeSize:  qty,
			At:         time.UnixMilli(tr.TradeTs),
		}, true

	default:
		return b.drop(msg, fmt.Errorf("unknown channel %q", channel))
	}
}

func (b *Binance) drop(msg []byte, err error) (domain.Tick, bool) {
	b.malformed.Add(1)
	slog.Debug("dropping malformed binance message",
		slog.String("error", err.Error()),
		slog.Int("bytes", len(msg)),
	)
	return domain.Tick{}, false
}
