package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"papertrade/internal/domain"
)

const okxPingInterval = 20 * time.Second

// OKX streams tickers and trades from the public v5 endpoint. Symbols
// are mapped to OKX's dashed instrument form (BTCUSDT ↔ BTC-USDT) on
// subscribe and back on every message.
type OKX struct {
	url       string
	instIDs   map[string]string // instId → canonical symbol
	malformed atomic.Uint64
}

// NewOKX creates an adapter for the public websocket URL, e.g.
// wss://ws.okx.com:8443/ws/v5/public.
func NewOKX(url string, symbols []string) *OKX {
	inst := make(map[string]string, len(symbols))
	for _, sym := range symbols {
		inst[okxInstID(sym)] = sym
	}
	return &OKX{url: url, instIDs: inst}
}

// okxInstID renders a canonical pair in OKX's dashed form.
func okxInstID(symbol string) string {
	base, quote := domain.SplitSymbol(symbol)
	if quote == "" {
		return symbol
	}
	return base + "-" + quote
}

func (o *OKX) Name() string { return "okx" }

// Malformed returns how many unparseable messages have been dropped.
func (o *OKX) Malformed() uint64 { return o.malformed.Load() }

type okxSubArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

// Run holds one connection open: subscribes to tickers and trades for
// every instrument, then pumps messages until the connection drops or
// ctx is cancelled. OKX expects an application-level "ping" during
// idle periods; the write side of the loop owns that.
func (o *OKX) Run(ctx context.Context, emit func(domain.Tick)) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, o.url, nil)
	if err != nil {
		return fmt.Errorf("dial okx: %w", err)
	}
	defer conn.Close()

	args := make([]okxSubArg, 0, 2*len(o.instIDs))
	for inst := range o.instIDs {
		args = append(args,
			okxSubArg{Channel: "tickers", InstID: inst},
			okxSubArg{Channel: "trades", InstID: inst},
		)
	}
	sub := map[string]any{"op": "subscribe", "args": args}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe okx: %w", err)
	}

	msgs := make(chan []byte, 64)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				select {
				case readErr <- err:
				case <-done:
				}
				return
			}
			select {
			case msgs <- msg:
			case <-done:
				return
			}
		}
	}()

	pings := time.NewTicker(okxPingInterval)
	defer pings.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close()
			return ctx.Err()
		case err := <-readErr:
			return fmt.Errorf("read okx: %w", err)
		case <-pings.C:
			_ = conn.SetWriteDeadline(time.Now().Add(handshakeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
				return fmt.Errorf("ping okx: %w", err)
			}
		case msg := <-msgs:
			for _, tick := range o.parse(msg) {
				emit(tick)
			}
		}
	}
}

// okxEnvelope is one push frame: subscription confirmations carry an
// event, data frames carry the channel argument plus a payload array.
type okxEnvelope struct {
	Event string `json:"event,omitempty"`
	Arg   struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Data json.RawMessage `json:"data,omitempty"`
}

type okxTicker struct {
	BidPx string `json:"bidPx"`
	BidSz string `json:"bidSz"`
	AskPx string `json:"askPx"`
	AskSz string `json:"askSz"`
	Ts    string `json:"ts"`
}

type okxTrade struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
	Ts string `json:"ts"`
}

// parse converts one frame into canonical ticks. Keepalive "pong"
// replies, event frames, and unknown instruments yield no ticks;
// unparseable payloads are dropped and counted.
func (o *OKX) parse(msg []byte) []domain.Tick {
	if string(msg) == "pong" {
		return nil
	}
	var env okxEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		o.drop(msg, err)
		return nil
	}
	if env.Event != "" || len(env.Data) == 0 {
		return nil
	}
	symbol, ok := o.instIDs[env.Arg.InstID]
	if !ok {
		return nil
	}

	switch env.Arg.Channel {
	case "tickers":
		var items []okxTicker
		if err := json.Unmarshal(env.Data, &items); err != nil {
			o.drop(msg, err)
			return nil
		}
		ticks := make([]domain.Tick, 0, len(items))
		for _, it := range items {
			bid, err1 := strconv.ParseFloat(it.BidPx, 64)
			bidSz, err2 := strconv.ParseFloat(it.BidSz, 64)
			ask, err3 := strconv.ParseFloat(it.AskPx, 64)
			askSz, err4 := strconv.ParseFloat(it.AskSz, 64)
			if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
				o.drop(msg, fmt.Errorf("bad ticker prices"))
				continue
			}
			ticks = append(ticks, domain.Tick{
				Exchange: o.Name(),
				Symbol:   symbol,
				Kind:     domain.TickQuote,
				Bid:      bid,
				BidSize:  bidSz,
				Ask:      ask,
				AskSize:  askSz,
				At:       okxTime(it.Ts),
			})
		}
		return ticks

	case "trades":
		var items []okxTrade
		if err := json.Unmarshal(env.Data, &items); err != nil {
			o.drop(msg, err)
			return nil
		}
		ticks := make([]domain.Tick, 0, len(items))
		for _, it := range items {
			price, err1 := strconv.ParseFloat(it.Px, 64)
			qty, err2 := strconv.ParseFloat(it.Sz, 64)
			if err1 != nil || err2 != nil {
				o.drop(msg, fmt.Errorf("bad trade fields"))
				continue
			}
			ticks = append(ticks, domain.Tick{
				Exchange:   o.Name(),
				Symbol:     symbol,
				Kind:       domain.TickTrade,
				TradePrice: price,
				TradeSize:  qty,
				At:         okxTime(it.Ts),
			})
		}
		return ticks

	default:
		return nil
	}
}

// okxTime parses OKX's millisecond timestamp string, falling back to
// receipt time when absent.
func okxTime(ts string) time.Time {
	ms, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || ms <= 0 {
		return time.Now()
	}
	return time.UnixMilli(ms)
}

func (o *OKX) drop(msg []byte, err error) {
	o.malformed.Add(1)
	slog.Debug("dropping malformed okx message",
		slog.String("error", err.Error()),
		slog.Int("bytes", len(msg)),
	)
}
