package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"papertrade/internal/domain"
	"papertrade/internal/service"
)

// OrderHandler handles HTTP requests for order endpoints. Order
// responses serialize the domain order directly, the same payload the
// websocket order_update stream carries.
type OrderHandler struct {
	orderSvc *service.OrderService
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(orderSvc *service.OrderService) *OrderHandler {
	return &OrderHandler{orderSvc: orderSvc}
}

// submitOrderRequest is the JSON request body for POST /orders.
type submitOrderRequest struct {
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// Submit handles POST /orders.
func (h *OrderHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitOrderRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	order, err := h.orderSvc.Submit(usernameFrom(r.Context()), service.SubmitOrderRequest{
		Symbol:   req.Symbol,
		Side:     req.Side,
		Price:    req.Price,
		Quantity: req.Quantity,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, order)
}

// Get handles GET /orders/{order_id}.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	order, err := h.orderSvc.Get(usernameFrom(r.Context()), chi.URLParam(r, "order_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, order)
}

// Cancel handles DELETE /orders/{order_id}.
func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	order, err := h.orderSvc.Cancel(usernameFrom(r.Context()), chi.URLParam(r, "order_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, order)
}

// List handles GET /orders.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	orders := h.orderSvc.List(usernameFrom(r.Context()))
	WriteJSON(w, http.StatusOK, map[string][]domain.Order{"orders": orders})
}
