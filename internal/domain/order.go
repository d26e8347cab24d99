package domain

import "time"

// OrderSide indicates whether an order buys or sells the base asset.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderStatus represents the lifecycle state of a paper order.
type OrderStatus string

const (
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled
}

// Fill records one execution against an order. Paper fills always execute
// at the order's own limit price.
type Fill struct {
	Price      float64   `json:"price"`
	Quantity   float64   `json:"quantity"`
	ExecutedAt time.Time `json:"executed_at"`
}

// Order is a limit order resting in the paper-trading engine. The engine
// is the only mutator; once an order reaches a terminal status it is
// never modified again.
type Order struct {
	ID             string      `json:"id"`
	Seq            uint64      `json:"seq"`
	UserID         string      `json:"user_id"`
	Symbol         string      `json:"symbol"`
	Side           OrderSide   `json:"side"`
	Price          float64     `json:"price"`
	Quantity       float64     `json:"quantity"`
	FilledQuantity float64     `json:"filled_quantity"`
	Reserved       float64     `json:"reserved"`
	Status         OrderStatus `json:"status"`
	Fills          []Fill      `json:"fills,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() float64 {
	return o.Quantity - o.FilledQuantity
}

// Clone returns a deep copy safe to hand to readers while the engine
// keeps mutating the original.
func (o *Order) Clone() Order {
	out := *o
	if len(o.Fills) > 0 {
		out.Fills = make([]Fill, len(o.Fills))
		copy(out.Fills, o.Fills)
	}
	return out
}

// AveragePrice computes the volume-weighted average execution price.
// Returns (price, true) when fills exist, or (0, false) otherwise.
func (o *Order) AveragePrice() (float64, bool) {
	if len(o.Fills) == 0 || o.FilledQuantity <= 0 {
		return 0, false
	}
	var total float64
	for _, f := range o.Fills {
		total += f.Price * f.Quantity
	}
	return total / o.FilledQuantity, true
}

// SpendAsset returns the asset an order consumes: the quote asset for
// buys, the base asset for sells.
func (o *Order) SpendAsset() string {
	base, quote := SplitSymbol(o.Symbol)
	if o.Side == OrderSideBuy {
		return quote
	}
	return base
}

// ReceiveAsset returns the asset an order acquires when filled.
func (o *Order) ReceiveAsset() string {
	base, quote := SplitSymbol(o.Symbol)
	if o.Side == OrderSideBuy {
		return base
	}
	return quote
}
