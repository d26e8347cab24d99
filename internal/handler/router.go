package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"papertrade/internal/service"
)

// TokenVerifier resolves a bearer token to a username.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// NewRouter creates a chi router with all routes registered, request
// logging, and Content-Type validation middleware. Account and order
// routes sit behind bearer-token authentication; registration, login,
// exchange info, health, and the websocket upgrade are public.
func NewRouter(
	accountSvc *service.AccountService,
	orderSvc *service.OrderService,
	infoSvc *service.InfoService,
	ws *WSHandler,
	verifier TokenVerifier,
	logger *slog.Logger,
) chi.Router {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(requestLogging(logger))
	r.Use(contentTypeJSON)

	// Create handlers.
	accountH := NewAccountHandler(accountSvc)
	orderH := NewOrderHandler(orderSvc)
	infoH := NewInfoHandler(infoSvc)

	// Health check.
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Public routes. The websocket authenticates in-band with its
	// first auth frame rather than a bearer header.
	r.Post("/register", accountH.Register)
	r.Post("/login", accountH.Login)
	r.Get("/info", infoH.Info)
	if ws != nil {
		r.Get("/ws", ws.Upgrade)
	}

	// Authenticated routes.
	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(verifier))

		r.Post("/deposit", accountH.Deposit)
		r.Get("/balance", accountH.Balance)

		r.Post("/orders", orderH.Submit)
		r.Get("/orders", orderH.List)
		r.Get("/orders/{order_id}", orderH.Get)
		r.Delete("/orders/{order_id}", orderH.Cancel)
	})

	return r
}

// requestLogging returns middleware that logs each request's method, path,
// status code, and duration using slog.
func requestLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// contentTypeJSON is middleware that validates Content-Type for POST, PUT,
// and PATCH requests. If the Content-Type header doesn't start with
// "application/json", it returns 400 Bad Request before the handler runs.
func contentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct == "" || !strings.HasPrefix(ct, "application/json") {
				WriteError(w, http.StatusBadRequest, "invalid_request",
					"Content-Type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// contextKey is the private type for request-context values set by
// middleware.
type contextKey int

const usernameKey contextKey = iota

// usernameFrom returns the authenticated username stored by bearerAuth,
// or "" on an unauthenticated request.
func usernameFrom(ctx context.Context) string {
	username, _ := ctx.Value(usernameKey).(string)
	return username
}

// bearerAuth returns middleware that requires a valid bearer token and
// stores the resolved username in the request context.
func bearerAuth(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				WriteError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}
			username, err := verifier.Verify(token)
			if err != nil {
				WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
				return
			}
			ctx := context.WithValue(r.Context(), usernameKey, username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
