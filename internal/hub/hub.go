package hub

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"

	"papertrade/internal/domain"
)

// TokenVerifier authenticates websocket clients from a bearer token.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// EwmaRegistry tracks live interest in EWMA streams so their state
// exists only while someone is subscribed. The aggregator implements it.
type EwmaRegistry interface {
	Track(symbol, scope string, halfLife float64)
	Release(symbol, scope string, halfLife float64)
}

// streamOrderUpdate is the implicit per-user stream: every authenticated
// connection receives its own order updates without subscribing.
const streamOrderUpdate = "order_update"

// frame is the outbound wire envelope. Data frames carry Type set to
// the stream name and a payload; control frames use Status, Key, or
// Message instead.
type frame struct {
	Type    string `json:"type"`
	Status  string `json:"status,omitempty"`
	Key     string `json:"key,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Hub fans aggregated market data and order updates out to websocket
// subscribers. Each event is serialized once and enqueued on every
// matching connection's bounded queue; a connection that cannot keep
// up loses the newest frames rather than slowing the pipeline.
type Hub struct {
	verifier  TokenVerifier
	symbols   *domain.SymbolSet
	queueSize int
	rps       float64
	burst     int

	mu       sync.RWMutex
	conns    map[string]*conn
	registry EwmaRegistry
}

// New creates a hub. queueSize bounds each connection's outbound queue;
// rps and burst bound inbound command rate per connection.
func New(verifier TokenVerifier, symbols *domain.SymbolSet, queueSize int, rps float64, burst int) *Hub {
	return &Hub{
		verifier:  verifier,
		symbols:   symbols,
		queueSize: queueSize,
		rps:       rps,
		burst:     burst,
		conns:     make(map[string]*conn),
	}
}

// AttachMarket wires the EWMA registry after construction. The hub and
// the aggregator reference each other; the aggregator is built second.
func (h *Hub) AttachMarket(registry EwmaRegistry) {
	h.mu.Lock()
	h.registry = registry
	h.mu.Unlock()
}

func (h *Hub) ewmaRegistry() EwmaRegistry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.registry
}

// Serve owns one client connection: it runs the read loop on the
// calling goroutine and a single writer goroutine, and tears both down
// when either side fails. Blocks until the connection is gone.
func (h *Hub) Serve(sock *websocket.Conn) {
	c := newConn(h, sock)

	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()

	defer h.detach(c)
	go c.writeLoop()
	c.readLoop()
}

// detach removes a connection, releasing its EWMA registrations.
func (h *Hub) detach(c *conn) {
	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()

	registry := h.ewmaRegistry()
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]domain.StreamSpec)
	c.mu.Unlock()

	if registry != nil {
		for _, spec := range subs {
			if spec.Stream == domain.StreamEwma {
				registry.Release(spec.Symbol, spec.Scope, spec.HalfLife)
			}
		}
	}
	c.shutdown()
}

// CloseAll disconnects every client. Used at shutdown after the HTTP
// listener stops accepting upgrades.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		h.detach(c)
	}
}

// Dropped returns the total outbound frames dropped across all live
// connections.
func (h *Hub) Dropped() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var total uint64
	for _, c := range h.conns {
		total += c.dropped.Load()
	}
	return total
}

// broadcast serializes one frame and enqueues it on every connection
// subscribed to any of the keys.
func (h *Hub) broadcast(keys []string, f frame) {
	msg, err := json.Marshal(f)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.conns {
		if c.subscribedAny(keys) {
			c.send(msg)
		}
	}
}

// EmitBestTouch implements market.Emitter.
func (h *Hub) EmitBestTouch(bt domain.BestTouch) {
	spec := domain.StreamSpec{Stream: domain.StreamBestTouch, Symbol: bt.Symbol, Scope: bt.Scope}
	h.broadcast([]string{spec.Key()}, frame{Type: string(domain.StreamBestTouch), Data: bt})
}

// EmitTrade implements market.Emitter. A trade reaches subscribers of
// its exchange scope and of the consolidated scope.
func (h *Hub) EmitTrade(tr domain.Trade) {
	exact := domain.StreamSpec{Stream: domain.StreamTrades, Symbol: tr.Symbol, Scope: tr.Exchange}
	all := domain.StreamSpec{Stream: domain.StreamTrades, Symbol: tr.Symbol, Scope: domain.ScopeAll}
	h.broadcast([]string{exact.Key(), all.Key()}, frame{Type: string(domain.StreamTrades), Data: tr})
}

// EmitKline implements market.Emitter. The kline's interval label is
// already formatted, so the key is assembled directly.
func (h *Hub) EmitKline(k domain.Kline) {
	key := fmt.Sprintf("%s:%s:%s:%s", domain.StreamKlines, k.Symbol, k.Scope, k.Interval)
	h.broadcast([]string{key}, frame{Type: string(domain.StreamKlines), Data: k})
}

// EmitEwma implements market.Emitter.
func (h *Hub) EmitEwma(p domain.EwmaPoint) {
	key := fmt.Sprintf("%s:%s:%s:%s", domain.StreamEwma, p.Symbol, p.Scope,
		strconv.FormatFloat(p.HalfLife, 'g', -1, 64))
	h.broadcast([]string{key}, frame{Type: string(domain.StreamEwma), Data: p})
}

// EmitOrderUpdate implements engine.OrderEmitter: order state reaches
// every authenticated connection belonging to the order's owner.
func (h *Hub) EmitOrderUpdate(order domain.Order) {
	msg, err := json.Marshal(frame{Type: streamOrderUpdate, Data: order})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.conns {
		if c.user() == order.UserID {
			c.send(msg)
		}
	}
}
