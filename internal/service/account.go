package service

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"papertrade/internal/auth"
	"papertrade/internal/domain"
	"papertrade/internal/engine"
	"papertrade/internal/store"
)

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,32}$`)

const minPasswordLen = 6

// RegisterRequest represents the input for user registration.
type RegisterRequest struct {
	Username string
	Password string
}

// LoginRequest represents the input for login.
type LoginRequest struct {
	Username string
	Password string
}

// TokenResponse carries the bearer token issued on register and login.
type TokenResponse struct {
	Username string
	Token    string
}

// DepositRequest represents the input for a paper-balance deposit.
type DepositRequest struct {
	Asset  string
	Amount float64
}

// AssetBalance is one asset's balance in the balance response. Reserved
// is the slice of Total held back for open orders.
type AssetBalance struct {
	Asset     string
	Total     float64
	Available float64
	Reserved  float64
}

// AccountService handles registration, login, deposits, and balance
// queries.
type AccountService struct {
	users   *store.UserStore
	tokens  *auth.Tokens
	engine  *engine.Engine
	symbols *domain.SymbolSet
}

// NewAccountService creates a new AccountService.
func NewAccountService(users *store.UserStore, tokens *auth.Tokens, eng *engine.Engine, symbols *domain.SymbolSet) *AccountService {
	return &AccountService{
		users:   users,
		tokens:  tokens,
		engine:  eng,
		symbols: symbols,
	}
}

// Register validates the request, stores the user with a hashed
// password, and issues a token.
func (s *AccountService) Register(req RegisterRequest) (*TokenResponse, error) {
	if !usernameRegex.MatchString(req.Username) {
		return nil, &domain.ValidationError{
			Message: "username must match ^[a-zA-Z0-9_-]{3,32}$",
		}
	}
	if len(req.Password) < minPasswordLen {
		return nil, &domain.ValidationError{
			Message: fmt.Sprintf("password must be at least %d characters", minPasswordLen),
		}
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.Create(domain.User{Username: req.Username, PasswordHash: hash}); err != nil {
		return nil, err
	}

	token, err := s.tokens.Issue(req.Username)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &TokenResponse{Username: req.Username, Token: token}, nil
}

// Login verifies the credentials and issues a token. Unknown usernames
// and wrong passwords both map to ErrInvalidCredentials.
func (s *AccountService) Login(req LoginRequest) (*TokenResponse, error) {
	user, err := s.users.Get(req.Username)
	if err != nil {
		return nil, domain.ErrInvalidCredentials
	}
	if !auth.VerifyPassword(req.Password, user.PasswordHash) {
		return nil, domain.ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(user.Username)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &TokenResponse{Username: user.Username, Token: token}, nil
}

// Deposit credits paper funds to the user's balance. The asset must be
// the base or quote of a configured pair.
func (s *AccountService) Deposit(username string, req DepositRequest) (*AssetBalance, error) {
	asset := strings.ToUpper(strings.TrimSpace(req.Asset))
	if !s.knownAsset(asset) {
		return nil, &domain.ValidationError{
			Message: fmt.Sprintf("unknown asset %q", req.Asset),
		}
	}

	balance, err := s.engine.Deposit(username, asset, req.Amount)
	if err != nil {
		return nil, err
	}
	return &AssetBalance{
		Asset:     asset,
		Total:     balance.Total,
		Available: balance.Available,
		Reserved:  balance.Total - balance.Available,
	}, nil
}

// Balances returns the user's balance for every configured asset,
// including assets the user never touched, sorted by asset.
func (s *AccountService) Balances(username string) []AssetBalance {
	held := s.engine.Balances(username)

	assets := s.symbols.Assets()
	out := make([]AssetBalance, 0, len(assets))
	for _, asset := range assets {
		b := held[asset]
		out = append(out, AssetBalance{
			Asset:     asset,
			Total:     b.Total,
			Available: b.Available,
			Reserved:  b.Total - b.Available,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

func (s *AccountService) knownAsset(asset string) bool {
	for _, a := range s.symbols.Assets() {
		if a == asset {
			return true
		}
	}
	return false
}
