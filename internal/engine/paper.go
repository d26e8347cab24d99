package engine

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"papertrade/internal/domain"
)

// fillEpsilon absorbs float64 rounding when deciding whether an order
// is fully filled.
const fillEpsilon = 1e-9

// OrderEmitter receives a snapshot of an order after every state
// change. Implementations must not block: the engine calls it outside
// its locks but from the tick path.
type OrderEmitter interface {
	EmitOrderUpdate(order domain.Order)
}

// shard serializes all matching state for one symbol. Fills consume
// the working copy's displayed sizes, so two resting orders cannot
// both fill against the same quoted liquidity; sizes replenish when
// the next quote arrives.
type shard struct {
	mu     sync.Mutex
	quotes map[string]domain.BestTouch // exchange → latest quote
	touch  domain.BestTouch            // consolidated working copy
	open   *worklist
}

func newShard(symbol string) *shard {
	return &shard{
		quotes: make(map[string]domain.BestTouch),
		touch:  domain.BestTouch{Symbol: symbol, Scope: domain.ScopeAll},
		open:   newWorklist(),
	}
}

// Engine executes paper orders against the consolidated best bid/ask.
// Orders never rest on a real venue: a buy fills when its limit price
// reaches the consolidated ask, a sell when it reaches the bid, always
// at the order's own limit price and never for more than the quoted
// size.
//
// Lock order is shard → account; the registry lock guards only the
// maps and is never held while acquiring a shard or account lock.
type Engine struct {
	symbols *domain.SymbolSet
	emitter OrderEmitter

	seq atomic.Uint64

	mu       sync.RWMutex
	shards   map[string]*shard
	accounts map[string]*domain.Account
	orders   map[string]*domain.Order // order_id → order, terminal included
}

// New creates an engine for the configured symbols. emitter may be nil.
func New(symbols *domain.SymbolSet, emitter OrderEmitter) *Engine {
	return &Engine{
		symbols:  symbols,
		emitter:  emitter,
		shards:   make(map[string]*shard),
		accounts: make(map[string]*domain.Account),
		orders:   make(map[string]*domain.Order),
	}
}

func (e *Engine) getShard(symbol string) *shard {
	e.mu.RLock()
	s, ok := e.shards[symbol]
	e.mu.RUnlock()
	if ok {
		return s
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok = e.shards[symbol]; ok {
		return s
	}
	s = newShard(symbol)
	e.shards[symbol] = s
	return s
}

func (e *Engine) getAccount(userID string) *domain.Account {
	e.mu.RLock()
	account, ok := e.accounts[userID]
	e.mu.RUnlock()
	if ok {
		return account
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if account, ok = e.accounts[userID]; ok {
		return account
	}
	account = domain.NewAccount(userID)
	e.accounts[userID] = account
	return account
}

func (e *Engine) emit(order domain.Order) {
	if e.emitter != nil {
		e.emitter.EmitOrderUpdate(order)
	}
}

// Deposit credits an asset. Total and Available grow together; nothing
// is reserved by a deposit.
func (e *Engine) Deposit(userID, asset string, amount float64) (domain.Balance, error) {
	if amount <= 0 || math.IsInf(amount, 0) || math.IsNaN(amount) {
		return domain.Balance{}, &domain.ValidationError{Message: "deposit amount must be positive"}
	}

	account := e.getAccount(userID)
	account.Mu.Lock()
	defer account.Mu.Unlock()

	b := account.Balance(asset)
	b.Total += amount
	b.Available += amount
	return *b, nil
}

// Balances returns a copy of every balance the user holds.
func (e *Engine) Balances(userID string) map[string]domain.Balance {
	e.mu.RLock()
	account, ok := e.accounts[userID]
	e.mu.RUnlock()

	out := make(map[string]domain.Balance)
	if !ok {
		return out
	}

	account.Mu.Lock()
	defer account.Mu.Unlock()
	for asset, b := range account.Balances {
		out[asset] = *b
	}
	return out
}

// SubmitOrder validates, reserves, and registers a limit order, then
// attempts an immediate fill against the current consolidated touch.
// The returned order reflects any immediate executions.
func (e *Engine) SubmitOrder(userID, symbol string, side domain.OrderSide, price, quantity float64) (domain.Order, error) {
	if side != domain.OrderSideBuy && side != domain.OrderSideSell {
		return domain.Order{}, fmt.Errorf("%w: side must be buy or sell", domain.ErrInvalidOrder)
	}
	if !(price > 0) || math.IsInf(price, 0) {
		return domain.Order{}, fmt.Errorf("%w: price must be positive", domain.ErrInvalidOrder)
	}
	if !(quantity > 0) || math.IsInf(quantity, 0) {
		return domain.Order{}, fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidOrder)
	}
	if !e.symbols.Exists(symbol) {
		return domain.Order{}, domain.ErrUnknownSymbol
	}

	now := time.Now()
	order := &domain.Order{
		UserID:   userID,
		Symbol:   symbol,
		Side:     side,
		Price:    price,
		Quantity: quantity,
		Status:   domain.OrderStatusOpen,
	}

	s := e.getShard(symbol)
	s.mu.Lock()

	// Reserve before the order exists anywhere: quote for buys, base
	// for sells. No partial reservation.
	need := quantity
	if side == domain.OrderSideBuy {
		need = price * quantity
	}
	account := e.getAccount(userID)
	account.Mu.Lock()
	spend := account.Balance(order.SpendAsset())
	if spend.Available < need {
		account.Mu.Unlock()
		s.mu.Unlock()
		return domain.Order{}, domain.ErrInsufficientBalance
	}
	spend.Available -= need
	order.Reserved = need
	account.Mu.Unlock()

	order.ID = uuid.New().String()
	order.Seq = e.seq.Add(1)
	order.CreatedAt = now

	e.mu.Lock()
	e.orders[order.ID] = order
	e.mu.Unlock()

	e.tryFill(s, order, now)
	if !order.Status.Terminal() {
		s.open.insert(order)
	}
	out := order.Clone()
	s.mu.Unlock()

	e.emit(out)
	return out, nil
}

// CancelOrder cancels an open or partially filled order and releases
// its remaining reservation. The shard lock serializes cancellation
// against fills, so exactly one of them wins.
func (e *Engine) CancelOrder(userID, orderID string) (domain.Order, error) {
	e.mu.RLock()
	order, ok := e.orders[orderID]
	e.mu.RUnlock()
	if !ok || order.UserID != userID {
		return domain.Order{}, domain.ErrOrderNotFound
	}

	s := e.getShard(order.Symbol)
	s.mu.Lock()

	if order.Status.Terminal() {
		s.mu.Unlock()
		return domain.Order{}, domain.ErrAlreadyTerminal
	}
	s.open.remove(order.ID)

	account := e.getAccount(order.UserID)
	account.Mu.Lock()
	if order.Reserved > 0 {
		account.Balance(order.SpendAsset()).Available += order.Reserved
		order.Reserved = 0
	}
	account.Mu.Unlock()

	order.Status = domain.OrderStatusCancelled
	out := order.Clone()
	s.mu.Unlock()

	e.emit(out)
	return out, nil
}

// GetOrder returns a copy of one of the user's orders.
func (e *Engine) GetOrder(userID, orderID string) (domain.Order, error) {
	e.mu.RLock()
	order, ok := e.orders[orderID]
	e.mu.RUnlock()
	if !ok || order.UserID != userID {
		return domain.Order{}, domain.ErrOrderNotFound
	}

	s := e.getShard(order.Symbol)
	s.mu.Lock()
	out := order.Clone()
	s.mu.Unlock()
	return out, nil
}

// ListOrders returns copies of all the user's orders in submission order.
func (e *Engine) ListOrders(userID string) []domain.Order {
	e.mu.RLock()
	bySymbol := make(map[string][]*domain.Order)
	for _, order := range e.orders {
		if order.UserID == userID {
			bySymbol[order.Symbol] = append(bySymbol[order.Symbol], order)
		}
	}
	e.mu.RUnlock()

	out := make([]domain.Order, 0)
	for symbol, orders := range bySymbol {
		s := e.getShard(symbol)
		s.mu.Lock()
		for _, order := range orders {
			out = append(out, order.Clone())
		}
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// OnTick feeds one market-data event into the engine. Only quote ticks
// move the touch; trade prints do not trigger matching.
func (e *Engine) OnTick(tick domain.Tick) {
	if tick.Kind != domain.TickQuote || !e.symbols.Exists(tick.Symbol) {
		return
	}

	s := e.getShard(tick.Symbol)
	s.mu.Lock()
	s.quotes[tick.Exchange] = domain.BestTouch{
		Symbol:    tick.Symbol,
		Scope:     tick.Exchange,
		Bid:       tick.Bid,
		BidSize:   tick.BidSize,
		Ask:       tick.Ask,
		AskSize:   tick.AskSize,
		UpdatedAt: tick.At,
	}
	s.touch = domain.Consolidate(tick.Symbol, s.quotes, tick.At)
	updated := e.matchShard(s, tick.At)
	s.mu.Unlock()

	for _, order := range updated {
		e.emit(order)
	}
}

// matchShard walks open orders in submission order against the working
// touch copy. Terminal orders leave the worklist after the walk since
// the tree cannot change mid-iteration. Caller holds s.mu.
func (e *Engine) matchShard(s *shard, at time.Time) []domain.Order {
	var updated []domain.Order
	var done []string

	s.open.ascend(func(order *domain.Order) bool {
		if e.tryFill(s, order, at) {
			updated = append(updated, order.Clone())
			if order.Status.Terminal() {
				done = append(done, order.ID)
			}
		}
		return s.touch.BidSize > 0 || s.touch.AskSize > 0
	})

	for _, id := range done {
		s.open.remove(id)
	}
	return updated
}

// tryFill executes at most one fill: crossing consumes the smaller of
// the order's remaining quantity and the touch side's displayed size.
// A zero price means that side has no quote and never crosses. Caller
// holds s.mu.
func (e *Engine) tryFill(s *shard, order *domain.Order, at time.Time) bool {
	var qty float64
	switch order.Side {
	case domain.OrderSideBuy:
		if s.touch.Ask <= 0 || s.touch.AskSize <= 0 || order.Price < s.touch.Ask {
			return false
		}
		qty = math.Min(order.Remaining(), s.touch.AskSize)
		s.touch.AskSize -= qty
	case domain.OrderSideSell:
		if s.touch.Bid <= 0 || s.touch.BidSize <= 0 || order.Price > s.touch.Bid {
			return false
		}
		qty = math.Min(order.Remaining(), s.touch.BidSize)
		s.touch.BidSize -= qty
	default:
		return false
	}
	if qty <= 0 {
		return false
	}

	e.settleFill(order, qty, at)
	return true
}

// settleFill moves balances for one execution at the order's own limit
// price and advances the order's lifecycle. Caller holds the shard lock.
func (e *Engine) settleFill(order *domain.Order, qty float64, at time.Time) {
	cost := order.Price * qty

	account := e.getAccount(order.UserID)
	account.Mu.Lock()
	if order.Side == domain.OrderSideBuy {
		// The spent quote was already held out of Available by the
		// reservation; only Total moves on the spend side.
		account.Balance(order.SpendAsset()).Total -= cost
		base := account.Balance(order.ReceiveAsset())
		base.Total += qty
		base.Available += qty
		order.Reserved -= cost
	} else {
		account.Balance(order.SpendAsset()).Total -= qty
		quote := account.Balance(order.ReceiveAsset())
		quote.Total += cost
		quote.Available += cost
		order.Reserved -= qty
	}

	order.FilledQuantity += qty
	order.Fills = append(order.Fills, domain.Fill{Price: order.Price, Quantity: qty, ExecutedAt: at})

	if order.Remaining() <= fillEpsilon {
		order.FilledQuantity = order.Quantity
		order.Status = domain.OrderStatusFilled
		// Release rounding dust left in the reservation.
		if order.Reserved > 0 {
			account.Balance(order.SpendAsset()).Available += order.Reserved
		}
		order.Reserved = 0
	} else {
		order.Status = domain.OrderStatusPartiallyFilled
	}
	account.Mu.Unlock()
}

// Snapshot copies all balances, all orders, and the last assigned
// sequence number as one consistent cut: every shard lock is taken
// before every account lock, in sorted order, matching the engine's
// shard → account lock direction.
func (e *Engine) Snapshot() (map[string]map[string]domain.Balance, []domain.Order, uint64) {
	e.mu.RLock()
	shardSymbols := make([]string, 0, len(e.shards))
	for symbol := range e.shards {
		shardSymbols = append(shardSymbols, symbol)
	}
	userIDs := make([]string, 0, len(e.accounts))
	for userID := range e.accounts {
		userIDs = append(userIDs, userID)
	}
	sort.Strings(shardSymbols)
	sort.Strings(userIDs)

	shards := make([]*shard, len(shardSymbols))
	for i, symbol := range shardSymbols {
		shards[i] = e.shards[symbol]
	}
	accounts := make([]*domain.Account, len(userIDs))
	for i, userID := range userIDs {
		accounts[i] = e.accounts[userID]
	}
	orderPtrs := make([]*domain.Order, 0, len(e.orders))
	for _, order := range e.orders {
		orderPtrs = append(orderPtrs, order)
	}
	e.mu.RUnlock()

	for _, s := range shards {
		s.mu.Lock()
	}
	for _, a := range accounts {
		a.Mu.Lock()
	}

	balances := make(map[string]map[string]domain.Balance, len(accounts))
	for i, a := range accounts {
		assets := make(map[string]domain.Balance, len(a.Balances))
		for asset, b := range a.Balances {
			assets[asset] = *b
		}
		balances[userIDs[i]] = assets
	}

	orders := make([]domain.Order, 0, len(orderPtrs))
	for _, order := range orderPtrs {
		orders = append(orders, order.Clone())
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].Seq < orders[j].Seq })

	seq := e.seq.Load()

	for i := len(accounts) - 1; i >= 0; i-- {
		accounts[i].Mu.Unlock()
	}
	for i := len(shards) - 1; i >= 0; i-- {
		shards[i].mu.Unlock()
	}

	return balances, orders, seq
}

// Restore loads a snapshot. Must be called before the engine receives
// any traffic. Open orders rejoin their symbol's worklist, terminal
// orders stay queryable, and the sequence counter resumes past every
// restored order.
func (e *Engine) Restore(balances map[string]map[string]domain.Balance, orders []domain.Order, seq uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for userID, assets := range balances {
		account := domain.NewAccount(userID)
		for asset, b := range assets {
			copied := b
			account.Balances[asset] = &copied
		}
		e.accounts[userID] = account
	}

	for i := range orders {
		restored := orders[i].Clone()
		order := &restored
		e.orders[order.ID] = order
		if order.Seq > seq {
			seq = order.Seq
		}
		if !order.Status.Terminal() {
			s, ok := e.shards[order.Symbol]
			if !ok {
				s = newShard(order.Symbol)
				e.shards[order.Symbol] = s
			}
			s.open.insert(order)
		}
	}
	e.seq.Store(seq)
}
