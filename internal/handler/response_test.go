package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"papertrade/internal/domain"
)

func TestWriteJSON(t *testing.T) {
	t.Run("sets content type and status code", func(t *testing.T) {
		w := httptest.NewRecorder()

		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})

		if got := w.Header().Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q, want %q", got, "application/json")
		}
		if w.Code != http.StatusOK {
			t.Errorf("status code = %d, want %d", w.Code, http.StatusOK)
		}

		var result map[string]string
		if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if result["status"] != "ok" {
			t.Errorf("body status = %q, want %q", result["status"], "ok")
		}
	})

	t.Run("encodes struct with snake_case tags", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteJSON(w, http.StatusOK, balanceResponse{Asset: "USDT", Total: 100.50, Available: 80})

		var raw map[string]any
		if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
			t.Fatalf("failed to decode: %v", err)
		}
		if raw["asset"] != "USDT" {
			t.Errorf("asset = %v, want %q", raw["asset"], "USDT")
		}
		if raw["total"] != 100.50 {
			t.Errorf("total = %v, want %v", raw["total"], 100.50)
		}
	})
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteError(w, http.StatusBadRequest, "invalid_request", "missing required field")

	if w.Code != http.StatusBadRequest {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if got := w.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want %q", got, "application/json")
	}

	var resp errorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if resp.Error != "invalid_request" {
		t.Errorf("error = %q, want %q", resp.Error, "invalid_request")
	}
	if resp.Message != "missing required field" {
		t.Errorf("message = %q, want %q", resp.Message, "missing required field")
	}
}

func TestWriteDomainError(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{&domain.ValidationError{Message: "bad input"}, http.StatusBadRequest, "validation_error"},
		{fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidOrder), http.StatusBadRequest, "invalid_order"},
		{domain.ErrInsufficientBalance, http.StatusBadRequest, "insufficient_balance"},
		{domain.ErrUnknownSymbol, http.StatusBadRequest, "unknown_symbol"},
		{domain.ErrUserAlreadyExists, http.StatusBadRequest, "user_exists"},
		{domain.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
		{domain.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{domain.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
		{domain.ErrAlreadyTerminal, http.StatusConflict, "order_terminal"},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.wantCode, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeDomainError(w, tt.err)

			if w.Code != tt.wantStatus {
				t.Errorf("status code = %d, want %d", w.Code, tt.wantStatus)
			}
			var resp errorResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if resp.Error != tt.wantCode {
				t.Errorf("error = %q, want %q", resp.Error, tt.wantCode)
			}
		})
	}
}

func TestParseJSON(t *testing.T) {
	t.Run("decodes valid JSON with correct content type", func(t *testing.T) {
		body := `{"asset":"USDT","amount":42.5}`
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")

		var result depositRequest
		if err := ParseJSON(r, &result); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Asset != "USDT" {
			t.Errorf("asset = %q, want %q", result.Asset, "USDT")
		}
		if result.Amount != 42.5 {
			t.Errorf("amount = %v, want %v", result.Amount, 42.5)
		}
	})

	t.Run("accepts content type with charset", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"asset":"BTC"}`))
		r.Header.Set("Content-Type", "application/json; charset=utf-8")

		var result depositRequest
		if err := ParseJSON(r, &result); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("rejects missing content type", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"asset":"BTC"}`))

		var result depositRequest
		err := ParseJSON(r, &result)
		if err == nil {
			t.Fatal("expected error for missing Content-Type")
		}
		if !strings.Contains(err.Error(), "Content-Type") {
			t.Errorf("error = %q, should mention Content-Type", err.Error())
		}
	})

	t.Run("rejects wrong content type", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"asset":"BTC"}`))
		r.Header.Set("Content-Type", "text/plain")

		var result depositRequest
		if err := ParseJSON(r, &result); err == nil {
			t.Fatal("expected error for wrong Content-Type")
		}
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{invalid json}`))
		r.Header.Set("Content-Type", "application/json")

		var result depositRequest
		if err := ParseJSON(r, &result); err == nil {
			t.Fatal("expected error for malformed JSON")
		}
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"asset":"BTC","color":"red"}`))
		r.Header.Set("Content-Type", "application/json")

		var result depositRequest
		if err := ParseJSON(r, &result); err == nil {
			t.Fatal("expected error for unknown fields")
		}
	})

	t.Run("rejects empty body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
		r.Header.Set("Content-Type", "application/json")

		var result depositRequest
		if err := ParseJSON(r, &result); err == nil {
			t.Fatal("expected error for empty body")
		}
	})
}
