package service

import (
	"papertrade/internal/domain"
	"papertrade/internal/engine"
)

// SubmitOrderRequest represents the input for order submission.
type SubmitOrderRequest struct {
	Symbol   string
	Side     string
	Price    float64
	Quantity float64
}

// OrderService handles order submission, retrieval, cancellation, and
// listing against the paper engine.
type OrderService struct {
	engine *engine.Engine
}

// NewOrderService creates a new OrderService.
func NewOrderService(eng *engine.Engine) *OrderService {
	return &OrderService{engine: eng}
}

// Submit validates the side and delegates to the engine, which owns
// price, quantity, symbol, and balance checks.
func (s *OrderService) Submit(username string, req SubmitOrderRequest) (domain.Order, error) {
	var side domain.OrderSide
	switch req.Side {
	case string(domain.OrderSideBuy):
		side = domain.OrderSideBuy
	case string(domain.OrderSideSell):
		side = domain.OrderSideSell
	default:
		return domain.Order{}, &domain.ValidationError{
			Message: "side must be 'buy' or 'sell'",
		}
	}

	return s.engine.SubmitOrder(username, req.Symbol, side, req.Price, req.Quantity)
}

// Get retrieves one of the user's orders by ID.
func (s *OrderService) Get(username, orderID string) (domain.Order, error) {
	return s.engine.GetOrder(username, orderID)
}

// Cancel cancels one of the user's open orders and releases its
// reservation.
func (s *OrderService) Cancel(username, orderID string) (domain.Order, error) {
	return s.engine.CancelOrder(username, orderID)
}

// List returns all of the user's orders in submission order.
func (s *OrderService) List(username string) []domain.Order {
	return s.engine.ListOrders(username)
}
