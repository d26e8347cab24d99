package store

import (
	"sort"
	"sync"

	"papertrade/internal/domain"
)

// UserStore is a thread-safe in-memory store for registered users,
// keyed by username.
type UserStore struct {
	mu    sync.RWMutex
	users map[string]domain.User
}

// NewUserStore creates an empty UserStore.
func NewUserStore() *UserStore {
	return &UserStore{
		users: make(map[string]domain.User),
	}
}

// Create adds a user to the store. It returns
// domain.ErrUserAlreadyExists if the username is taken.
func (s *UserStore) Create(u domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[u.Username]; exists {
		return domain.ErrUserAlreadyExists
	}
	s.users[u.Username] = u
	return nil
}

// Get retrieves a user by username. It returns
// domain.ErrUserNotFound if the user does not exist.
func (s *UserStore) Get(username string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[username]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return u, nil
}

// Exists returns true if the username is registered.
func (s *UserStore) Exists(username string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.users[username]
	return ok
}

// All returns every user sorted by username.
func (s *UserStore) All() []domain.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// Restore loads users from a snapshot. Called once at startup before
// the store serves traffic.
func (s *UserStore) Restore(users []domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range users {
		s.users[u.Username] = u
	}
}
