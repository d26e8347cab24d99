package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"papertrade/internal/domain"
)

// State is everything the service persists between runs: registered
// users, per-user balances, the full order history, and the last
// assigned order sequence number.
type State struct {
	Users    []domain.User                        `json:"users"`
	Balances map[string]map[string]domain.Balance `json:"balances"`
	Orders   []domain.Order                       `json:"orders"`
	OrderSeq uint64                               `json:"order_seq"`
}

// NewState returns an empty state with allocated maps.
func NewState() *State {
	return &State{
		Users:    []domain.User{},
		Balances: make(map[string]map[string]domain.Balance),
		Orders:   []domain.Order{},
	}
}

// FileStore persists State as a single JSON document. Saves write to a
// temporary file in the same directory and rename it into place, so a
// crash mid-write never leaves a torn snapshot behind.
type FileStore struct {
	path string
}

// NewFileStore creates a store writing to the given path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the snapshot from disk. A missing file is an empty state,
// not an error; anything else (unreadable, undecodable) is.
func (f *FileStore) Load() (*State, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", f.path, err)
	}
	if state.Balances == nil {
		state.Balances = make(map[string]map[string]domain.Balance)
	}
	return &state, nil
}

// Save atomically replaces the snapshot on disk.
func (f *FileStore) Save(state *State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	dir := filepath.Dir(f.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot dir: %w", err)
		}
	}

	tmp := filepath.Join(dir, "."+filepath.Base(f.path)+"."+uuid.New().String()+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// SnapshotLoop saves the collected state every interval and once more
// when ctx is cancelled, so shutdown never loses more than in-flight
// work. Blocks until ctx is done.
func (f *FileStore) SnapshotLoop(ctx context.Context, interval time.Duration, collect func() *State) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := f.Save(collect()); err != nil {
				slog.Error("final snapshot failed", slog.String("error", err.Error()))
			}
			return
		case <-ticker.C:
			if err := f.Save(collect()); err != nil {
				slog.Error("snapshot failed", slog.String("error", err.Error()))
			}
		}
	}
}
