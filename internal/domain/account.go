package domain

import "sync"

// Balance tracks one asset of one user. Available is the portion not
// reserved by open orders; Total − Available always equals the sum of
// unfilled reservations across that user's non-terminal orders.
type Balance struct {
	Total     float64 `json:"total"`
	Available float64 `json:"available"`
}

// Account holds a user's per-asset balances. Balance mutations must hold
// Mu; the paper engine is the only writer after startup.
type Account struct {
	UserID   string
	Balances map[string]*Balance // asset → balance
	Mu       sync.Mutex
}

// NewAccount creates an account with no balances.
func NewAccount(userID string) *Account {
	return &Account{
		UserID:   userID,
		Balances: make(map[string]*Balance),
	}
}

// Balance returns the balance for an asset, creating a zero entry if the
// asset has never been touched. The caller must hold Mu.
func (a *Account) Balance(asset string) *Balance {
	b, ok := a.Balances[asset]
	if !ok {
		b = &Balance{}
		a.Balances[asset] = b
	}
	return b
}

// Available returns the unreserved amount of an asset. The caller must
// hold Mu.
func (a *Account) Available(asset string) float64 {
	if b, ok := a.Balances[asset]; ok {
		return b.Available
	}
	return 0
}

// User is a registered account identity with its salted password hash.
type User struct {
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
}
