package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"papertrade/internal/auth"
	"papertrade/internal/domain"
	"papertrade/internal/engine"
	"papertrade/internal/service"
	"papertrade/internal/store"
)

// testEnv bundles all dependencies for handler integration tests.
type testEnv struct {
	router http.Handler
	engine *engine.Engine
}

func newTestEnv() *testEnv {
	symbols := domain.NewSymbolSet([]string{"BTCUSDT", "ETHUSDT"})
	eng := engine.New(symbols, nil)
	tokens := auth.NewTokens("test-secret", time.Hour)
	users := store.NewUserStore()

	accountSvc := service.NewAccountService(users, tokens, eng, symbols)
	orderSvc := service.NewOrderService(eng)
	infoSvc := service.NewInfoService(symbols)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := NewRouter(accountSvc, orderSvc, infoSvc, nil, tokens, logger)

	return &testEnv{router: router, engine: eng}
}

// doJSON sends a JSON request, optionally with a bearer token, and
// returns the recorder.
func (env *testEnv) doJSON(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	return rr
}

// decodeJSON decodes the response body into v.
func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body: %s)", err, rr.Body.String())
	}
}

// register creates a user via the API and returns their bearer token.
func (env *testEnv) register(t *testing.T, username string) string {
	t.Helper()
	rr := env.doJSON(t, "POST", "/register", "", map[string]any{
		"username": username,
		"password": "hunter22",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("register %s: expected 201, got %d: %s", username, rr.Code, rr.Body.String())
	}
	var resp tokenResponse
	decodeJSON(t, rr, &resp)
	return resp.Token
}

// deposit credits funds via the API.
func (env *testEnv) deposit(t *testing.T, token, asset string, amount float64) {
	t.Helper()
	rr := env.doJSON(t, "POST", "/deposit", token, map[string]any{
		"asset":  asset,
		"amount": amount,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("deposit: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

// wantError asserts the standard error envelope.
func wantError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("status = %d, want %d (body: %s)", rr.Code, status, rr.Body.String())
	}
	var resp errorResponse
	decodeJSON(t, rr, &resp)
	if resp.Error != code {
		t.Errorf("error code = %q, want %q", resp.Error, code)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv()

	rr := env.doJSON(t, "GET", "/healthz", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

func TestRegisterEndpoint(t *testing.T) {
	env := newTestEnv()

	rr := env.doJSON(t, "POST", "/register", "", map[string]any{
		"username": "alice",
		"password": "hunter22",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rr.Code, rr.Body.String())
	}
	var resp tokenResponse
	decodeJSON(t, rr, &resp)
	if resp.Username != "alice" || resp.Token == "" {
		t.Errorf("response = %+v, want alice with a token", resp)
	}

	// Duplicate username.
	rr = env.doJSON(t, "POST", "/register", "", map[string]any{
		"username": "alice",
		"password": "hunter22",
	})
	wantError(t, rr, http.StatusBadRequest, "user_exists")

	// Validation failure.
	rr = env.doJSON(t, "POST", "/register", "", map[string]any{
		"username": "al",
		"password": "hunter22",
	})
	wantError(t, rr, http.StatusBadRequest, "validation_error")
}

func TestRegisterEndpoint_RequiresJSON(t *testing.T) {
	env := newTestEnv()

	req := httptest.NewRequest("POST", "/register", strings.NewReader("username=alice"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	wantError(t, rr, http.StatusBadRequest, "invalid_request")
}

func TestLoginEndpoint(t *testing.T) {
	env := newTestEnv()
	env.register(t, "alice")

	rr := env.doJSON(t, "POST", "/login", "", map[string]any{
		"username": "alice",
		"password": "hunter22",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}
	var resp tokenResponse
	decodeJSON(t, rr, &resp)
	if resp.Token == "" {
		t.Error("expected a token")
	}

	rr = env.doJSON(t, "POST", "/login", "", map[string]any{
		"username": "alice",
		"password": "wrong-password",
	})
	wantError(t, rr, http.StatusUnauthorized, "invalid_credentials")
}

func TestInfoEndpoint(t *testing.T) {
	env := newTestEnv()

	rr := env.doJSON(t, "GET", "/info", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var resp infoResponse
	decodeJSON(t, rr, &resp)
	if len(resp.Pairs) != 2 || resp.Pairs[0] != "BTCUSDT" {
		t.Errorf("pairs = %v", resp.Pairs)
	}
	wantAssets := []string{"BTC", "ETH", "USDT"}
	if len(resp.Assets) != len(wantAssets) {
		t.Fatalf("assets = %v, want %v", resp.Assets, wantAssets)
	}
	for i, a := range wantAssets {
		if resp.Assets[i] != a {
			t.Errorf("assets[%d] = %q, want %q", i, resp.Assets[i], a)
		}
	}
}

func TestBearerAuthRequired(t *testing.T) {
	env := newTestEnv()

	paths := []struct {
		method string
		path   string
		body   any
	}{
		{"GET", "/balance", nil},
		{"POST", "/deposit", map[string]any{"asset": "USDT", "amount": 1}},
		{"POST", "/orders", map[string]any{"symbol": "BTCUSDT", "side": "buy", "price": 1, "quantity": 1}},
		{"GET", "/orders", nil},
		{"GET", "/orders/some-id", nil},
		{"DELETE", "/orders/some-id", nil},
	}
	for _, p := range paths {
		rr := env.doJSON(t, p.method, p.path, "", p.body)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without token: status = %d, want 401", p.method, p.path, rr.Code)
		}
	}

	rr := env.doJSON(t, "GET", "/balance", "not-a-real-token", nil)
	wantError(t, rr, http.StatusUnauthorized, "unauthorized")
}

func TestDepositAndBalanceEndpoints(t *testing.T) {
	env := newTestEnv()
	token := env.register(t, "alice")

	rr := env.doJSON(t, "POST", "/deposit", token, map[string]any{
		"asset":  "USDT",
		"amount": 1000.0,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("deposit status = %d: %s", rr.Code, rr.Body.String())
	}
	var bal balanceResponse
	decodeJSON(t, rr, &bal)
	if bal.Asset != "USDT" || bal.Total != 1000 || bal.Available != 1000 {
		t.Errorf("deposit response = %+v", bal)
	}

	rr = env.doJSON(t, "POST", "/deposit", token, map[string]any{
		"asset":  "DOGE",
		"amount": 10.0,
	})
	wantError(t, rr, http.StatusBadRequest, "validation_error")

	rr = env.doJSON(t, "GET", "/balance", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("balance status = %d", rr.Code)
	}
	var resp struct {
		Balances []balanceResponse `json:"balances"`
	}
	decodeJSON(t, rr, &resp)
	if len(resp.Balances) != 3 {
		t.Fatalf("got %d assets, want 3 (zero balances included): %+v", len(resp.Balances), resp.Balances)
	}
	if resp.Balances[2].Asset != "USDT" || resp.Balances[2].Total != 1000 {
		t.Errorf("USDT balance = %+v", resp.Balances[2])
	}
}

func TestOrderEndpoints(t *testing.T) {
	env := newTestEnv()
	token := env.register(t, "alice")
	env.deposit(t, token, "USDT", 100000)

	// Submit.
	rr := env.doJSON(t, "POST", "/orders", token, map[string]any{
		"symbol":   "BTCUSDT",
		"side":     "buy",
		"price":    20000.0,
		"quantity": 2.0,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("submit status = %d: %s", rr.Code, rr.Body.String())
	}
	var order domain.Order
	decodeJSON(t, rr, &order)
	if order.Status != domain.OrderStatusOpen || order.Reserved != 40000 {
		t.Fatalf("order = %+v, want open with 40000 reserved", order)
	}

	// Get.
	rr = env.doJSON(t, "GET", "/orders/"+order.ID, token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}

	// List.
	rr = env.doJSON(t, "GET", "/orders", token, nil)
	var list struct {
		Orders []domain.Order `json:"orders"`
	}
	decodeJSON(t, rr, &list)
	if len(list.Orders) != 1 || list.Orders[0].ID != order.ID {
		t.Fatalf("list = %+v", list.Orders)
	}

	// Cancel.
	rr = env.doJSON(t, "DELETE", "/orders/"+order.ID, token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("cancel status = %d: %s", rr.Code, rr.Body.String())
	}
	var cancelled domain.Order
	decodeJSON(t, rr, &cancelled)
	if cancelled.Status != domain.OrderStatusCancelled {
		t.Errorf("status = %q, want cancelled", cancelled.Status)
	}

	// Cancel again conflicts.
	rr = env.doJSON(t, "DELETE", "/orders/"+order.ID, token, nil)
	wantError(t, rr, http.StatusConflict, "order_terminal")

	// Unknown order.
	rr = env.doJSON(t, "GET", "/orders/no-such-order", token, nil)
	wantError(t, rr, http.StatusNotFound, "order_not_found")
}

func TestSubmitOrder_ErrorMapping(t *testing.T) {
	env := newTestEnv()
	token := env.register(t, "alice")
	env.deposit(t, token, "USDT", 10)

	tests := []struct {
		name     string
		body     map[string]any
		status   int
		wantCode string
	}{
		{
			"insufficient balance",
			map[string]any{"symbol": "BTCUSDT", "side": "buy", "price": 20000.0, "quantity": 1.0},
			http.StatusBadRequest, "insufficient_balance",
		},
		{
			"unknown symbol",
			map[string]any{"symbol": "DOGEUSDT", "side": "buy", "price": 1.0, "quantity": 1.0},
			http.StatusBadRequest, "unknown_symbol",
		},
		{
			"bad side",
			map[string]any{"symbol": "BTCUSDT", "side": "short", "price": 1.0, "quantity": 1.0},
			http.StatusBadRequest, "validation_error",
		},
		{
			"non-positive quantity",
			map[string]any{"symbol": "BTCUSDT", "side": "buy", "price": 1.0, "quantity": 0.0},
			http.StatusBadRequest, "invalid_order",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.doJSON(t, "POST", "/orders", token, tt.body)
			wantError(t, rr, tt.status, tt.wantCode)
		})
	}
}

func TestOrders_IsolatedPerUser(t *testing.T) {
	env := newTestEnv()
	aliceToken := env.register(t, "alice")
	bobToken := env.register(t, "bob")
	env.deposit(t, aliceToken, "USDT", 1000)

	rr := env.doJSON(t, "POST", "/orders", aliceToken, map[string]any{
		"symbol": "BTCUSDT", "side": "buy", "price": 100.0, "quantity": 1.0,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("submit status = %d", rr.Code)
	}
	var order domain.Order
	decodeJSON(t, rr, &order)

	// Bob cannot see or cancel alice's order.
	rr = env.doJSON(t, "GET", fmt.Sprintf("/orders/%s", order.ID), bobToken, nil)
	wantError(t, rr, http.StatusNotFound, "order_not_found")
	rr = env.doJSON(t, "DELETE", fmt.Sprintf("/orders/%s", order.ID), bobToken, nil)
	wantError(t, rr, http.StatusNotFound, "order_not_found")

	rr = env.doJSON(t, "GET", "/orders", bobToken, nil)
	var list struct {
		Orders []domain.Order `json:"orders"`
	}
	decodeJSON(t, rr, &list)
	if len(list.Orders) != 0 {
		t.Errorf("bob's list = %+v, want empty", list.Orders)
	}
}

func TestOrderFillsVisibleThroughAPI(t *testing.T) {
	env := newTestEnv()
	token := env.register(t, "alice")
	env.deposit(t, token, "USDT", 50000)

	rr := env.doJSON(t, "POST", "/orders", token, map[string]any{
		"symbol": "BTCUSDT", "side": "buy", "price": 50000.0, "quantity": 0.5,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("submit status = %d", rr.Code)
	}
	var order domain.Order
	decodeJSON(t, rr, &order)

	// A crossing quote fills the resting order.
	env.engine.OnTick(domain.Tick{
		Kind:     domain.TickQuote,
		Exchange: "binance",
		Symbol:   "BTCUSDT",
		Bid:      49998, BidSize: 1,
		Ask: 49999, AskSize: 1,
		At: time.Now(),
	})

	rr = env.doJSON(t, "GET", "/orders/"+order.ID, token, nil)
	var got domain.Order
	decodeJSON(t, rr, &got)
	if got.Status != domain.OrderStatusFilled {
		t.Fatalf("status = %q, want filled: %+v", got.Status, got)
	}
	if len(got.Fills) != 1 || got.Fills[0].Price != 50000 {
		t.Errorf("fills = %+v, want one fill at the limit price", got.Fills)
	}
}
