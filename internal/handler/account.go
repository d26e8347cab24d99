package handler

import (
	"net/http"

	"papertrade/internal/service"
)

// AccountHandler handles HTTP requests for registration, login,
// deposits, and balances.
type AccountHandler struct {
	accountSvc *service.AccountService
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(accountSvc *service.AccountService) *AccountHandler {
	return &AccountHandler{accountSvc: accountSvc}
}

// credentialsRequest is the JSON request body for POST /register and
// POST /login.
type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// tokenResponse is the JSON response carrying a bearer token.
type tokenResponse struct {
	Username string `json:"username"`
	Token    string `json:"token"`
}

// depositRequest is the JSON request body for POST /deposit.
type depositRequest struct {
	Asset  string  `json:"asset"`
	Amount float64 `json:"amount"`
}

// balanceResponse is a single asset's balance in deposit and balance
// responses.
type balanceResponse struct {
	Asset     string  `json:"asset"`
	Total     float64 `json:"total"`
	Available float64 `json:"available"`
	Reserved  float64 `json:"reserved"`
}

// Register handles POST /register.
func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	resp, err := h.accountSvc.Register(service.RegisterRequest{
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, tokenResponse{Username: resp.Username, Token: resp.Token})
}

// Login handles POST /login.
func (h *AccountHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	resp, err := h.accountSvc.Login(service.LoginRequest{
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, tokenResponse{Username: resp.Username, Token: resp.Token})
}

// Deposit handles POST /deposit.
func (h *AccountHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	balance, err := h.accountSvc.Deposit(usernameFrom(r.Context()), service.DepositRequest{
		Asset:  req.Asset,
		Amount: req.Amount,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildBalanceResponse(*balance))
}

// Balance handles GET /balance. Every configured asset is present,
// zero balances included.
func (h *AccountHandler) Balance(w http.ResponseWriter, r *http.Request) {
	balances := h.accountSvc.Balances(usernameFrom(r.Context()))

	out := make([]balanceResponse, len(balances))
	for i, b := range balances {
		out[i] = buildBalanceResponse(b)
	}
	WriteJSON(w, http.StatusOK, map[string][]balanceResponse{"balances": out})
}

func buildBalanceResponse(b service.AssetBalance) balanceResponse {
	return balanceResponse{
		Asset:     b.Asset,
		Total:     b.Total,
		Available: b.Available,
		Reserved:  b.Reserved,
	}
}
