package hub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"papertrade/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// command is the inbound wire format. A subscription is named either
// by its compact key or by the individual fields.
type command struct {
	Action   string  `json:"action"`
	Token    string  `json:"token,omitempty"`
	Key      string  `json:"key,omitempty"`
	Stream   string  `json:"stream,omitempty"`
	Symbol   string  `json:"symbol,omitempty"`
	Exchange string  `json:"exchange,omitempty"`
	Interval string  `json:"interval,omitempty"`
	HalfLife float64 `json:"half_life,omitempty"`
}

// conn is one websocket client. The read loop is the only reader and
// the write loop the only writer of the socket; everything outbound
// goes through the bounded out queue.
type conn struct {
	id      string
	hub     *Hub
	sock    *websocket.Conn
	limiter *rate.Limiter

	mu       sync.Mutex
	username string
	authed   bool
	subs     map[string]domain.StreamSpec // key → spec

	out     chan []byte
	done    chan struct{}
	closing sync.Once
	dropped atomic.Uint64
}

func newConn(h *Hub, sock *websocket.Conn) *conn {
	return &conn{
		id:      uuid.New().String(),
		hub:     h,
		sock:    sock,
		limiter: rate.NewLimiter(rate.Limit(h.rps), h.burst),
		subs:    make(map[string]domain.StreamSpec),
		out:     make(chan []byte, h.queueSize),
		done:    make(chan struct{}),
	}
}

func (c *conn) user() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

func (c *conn) authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authed
}

func (c *conn) subscribedAny(keys []string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		if _, ok := c.subs[key]; ok {
			return true
		}
	}
	return false
}

// shutdown wakes the write loop and closes the socket. Safe to call
// more than once; the out channel is never closed so emitters can race
// shutdown without panicking.
func (c *conn) shutdown() {
	c.closing.Do(func() {
		close(c.done)
		c.sock.Close()
	})
}

// send enqueues a serialized frame, dropping it when the client's
// queue is full.
func (c *conn) send(msg []byte) {
	select {
	case c.out <- msg:
	default:
		if n := c.dropped.Add(1); n == 1 || n%1000 == 0 {
			slog.Warn("dropping frames for slow subscriber",
				slog.String("conn", c.id),
				slog.Uint64("dropped", n),
			)
		}
	}
}

func (c *conn) sendFrame(f frame) {
	msg, err := json.Marshal(f)
	if err != nil {
		return
	}
	c.send(msg)
}

// readLoop consumes client commands until the connection dies. Inbound
// command rate is limited per connection; excess commands get an error
// frame and are otherwise ignored.
func (c *conn) readLoop() {
	c.sock.SetReadLimit(maxMessageSize)
	_ = c.sock.SetReadDeadline(time.Now().Add(pongWait))
	c.sock.SetPongHandler(func(string) error {
		return c.sock.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.sock.ReadMessage()
		if err != nil {
			return
		}
		if !c.limiter.Allow() {
			c.sendFrame(frame{Type: "error", Message: "rate limit exceeded"})
			continue
		}
		c.handle(msg)
	}
}

// writeLoop is the sole socket writer: data frames, control acks, and
// keepalive pings all leave through here.
func (c *conn) writeLoop() {
	pings := time.NewTicker(pingPeriod)
	defer pings.Stop()

	for {
		select {
		case msg := <-c.out:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.shutdown()
				return
			}
		case <-pings.C:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}
		case <-c.done:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.sock.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *conn) handle(msg []byte) {
	var cmd command
	if err := json.Unmarshal(msg, &cmd); err != nil {
		c.sendFrame(frame{Type: "error", Message: domain.ErrMalformedMessage.Error()})
		return
	}

	switch cmd.Action {
	case "auth":
		c.handleAuth(cmd)
	case "subscribe":
		c.handleSubscribe(cmd)
	case "unsubscribe":
		c.handleUnsubscribe(cmd)
	default:
		c.sendFrame(frame{Type: "error", Message: fmt.Sprintf("unknown action %q", cmd.Action)})
	}
}

// handleAuth verifies the token. Failure leaves the connection open so
// the client can retry with a fresh token.
func (c *conn) handleAuth(cmd command) {
	username, err := c.hub.verifier.Verify(cmd.Token)
	if err != nil {
		c.sendFrame(frame{Type: "error", Message: domain.ErrUnauthorized.Error()})
		return
	}

	c.mu.Lock()
	c.username = username
	c.authed = true
	c.mu.Unlock()

	c.sendFrame(frame{Type: "auth", Status: "ok"})
}

func (c *conn) handleSubscribe(cmd command) {
	if !c.authenticated() {
		c.sendFrame(frame{Type: "error", Message: domain.ErrUnauthorized.Error()})
		return
	}
	spec, err := c.buildSpec(cmd)
	if err != nil {
		c.sendFrame(frame{Type: "error", Message: err.Error()})
		return
	}
	if !c.hub.symbols.Exists(spec.Symbol) {
		c.sendFrame(frame{Type: "error", Message: domain.ErrUnknownSymbol.Error()})
		return
	}

	key := spec.Key()
	c.mu.Lock()
	_, dup := c.subs[key]
	if !dup {
		c.subs[key] = spec
	}
	c.mu.Unlock()

	if !dup && spec.Stream == domain.StreamEwma {
		if registry := c.hub.ewmaRegistry(); registry != nil {
			registry.Track(spec.Symbol, spec.Scope, spec.HalfLife)
		}
	}
	c.sendFrame(frame{Type: "subscribed", Key: key})
}

func (c *conn) handleUnsubscribe(cmd command) {
	if !c.authenticated() {
		c.sendFrame(frame{Type: "error", Message: domain.ErrUnauthorized.Error()})
		return
	}
	spec, err := c.buildSpec(cmd)
	if err != nil {
		c.sendFrame(frame{Type: "error", Message: err.Error()})
		return
	}

	key := spec.Key()
	c.mu.Lock()
	_, subscribed := c.subs[key]
	if subscribed {
		delete(c.subs, key)
	}
	c.mu.Unlock()

	if !subscribed {
		c.sendFrame(frame{Type: "error", Message: fmt.Sprintf("not subscribed to %q", key)})
		return
	}
	if spec.Stream == domain.StreamEwma {
		if registry := c.hub.ewmaRegistry(); registry != nil {
			registry.Release(spec.Symbol, spec.Scope, spec.HalfLife)
		}
	}
	c.sendFrame(frame{Type: "unsubscribed", Key: key})
}

// buildSpec resolves a subscription from the compact key when present,
// otherwise from the individual fields. The scope defaults to the
// consolidated one.
func (c *conn) buildSpec(cmd command) (domain.StreamSpec, error) {
	if cmd.Key != "" {
		return domain.ParseStreamSpec(cmd.Key)
	}

	spec := domain.StreamSpec{
		Stream: domain.Stream(cmd.Stream),
		Symbol: cmd.Symbol,
		Scope:  cmd.Exchange,
	}
	if spec.Scope == "" {
		spec.Scope = domain.ScopeAll
	}
	if spec.Symbol == "" {
		return spec, fmt.Errorf("%w: symbol required", domain.ErrMalformedMessage)
	}

	switch spec.Stream {
	case domain.StreamBestTouch, domain.StreamTrades:
	case domain.StreamKlines:
		sec, err := domain.ParseInterval(cmd.Interval)
		if err != nil {
			return spec, err
		}
		if !domain.ValidInterval(sec) {
			return spec, fmt.Errorf("%w: unsupported interval %q", domain.ErrMalformedMessage, cmd.Interval)
		}
		spec.Interval = sec
	case domain.StreamEwma:
		if cmd.HalfLife <= 0 {
			return spec, fmt.Errorf("%w: half_life must be positive", domain.ErrMalformedMessage)
		}
		spec.HalfLife = cmd.HalfLife
	default:
		return spec, fmt.Errorf("%w: unknown stream %q", domain.ErrMalformedMessage, cmd.Stream)
	}
	return spec, nil
}
