package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

var storeZap, _ = zap.NewProduction()

// Store owns the entire replicated state in memory and persists a JSON
// snapshot after every mutation (§4.3). Mutation happens inside an exclusive
// section (mu) so a concurrently-read snapshot is always coherent — the
// "single-writer contract" from §5.
type Store struct {
	mu    sync.Mutex
	path  string
	state *GlobalState
}

// OpenStore loads the snapshot at path, or initializes an empty state with
// §6 defaults if the file does not exist (§4.3).
func OpenStore(path string) (*Store, error) {
	s := &Store{path: path}
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: read snapshot: %v", ErrTransient, err)
		}
		s.state = NewGlobalState()
		s.state.Config = map[string]any{
			"gossip_interval_seconds":               5,
			"proposal_voting_period_seconds":        7 * 24 * 3600,
			"initial_balance_sp":                    1000,
			"transaction_tax_percentage":            0.02,
			"validator_set_size":                    7,
			"approval_ratio":                        1.0,
			"reputation_decay_factor":               0.99,
			"reputation_decay_interval_seconds":     86400,
			"common_tools_billing_interval_seconds": 86400,
			"common_tools_billing_period_days":      30,
		}
		return s, nil
	}
	gs := NewGlobalState()
	if err := json.Unmarshal(raw, gs); err != nil {
		return nil, fmt.Errorf("%w: corrupt snapshot: %v", ErrTransient, err)
	}
	if gs.Channels == nil || gs.Channels[GlobalChannel] == nil {
		if gs.Channels == nil {
			gs.Channels = map[string]*ChannelState{}
		}
		gs.Channels[GlobalChannel] = NewChannelState(GlobalChannel)
	}
	s.state = gs
	return s, nil
}

// View runs fn with the state locked for reading/writing and persists a
// snapshot afterward. This is the store's only mutation entrypoint: every
// other component submits typed mutation requests through it rather than
// reaching into GlobalState directly (§5).
func (s *Store) View(fn func(*GlobalState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.state)
	return s.snapshotLocked()
}

// ReadOnly runs fn with the state locked for reading only; it never writes a
// snapshot. Use for HTTP GET handlers that must still observe a coherent
// view while a View() call elsewhere is in its writer section.
func (s *Store) ReadOnly(fn func(*GlobalState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.state)
}

func (s *Store) snapshotLocked() error {
	start := time.Now()
	raw, err := json.Marshal(s.state)
	if err != nil {
		return fmt.Errorf("%w: marshal snapshot: %v", ErrTransient, err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	storeZap.Debug("snapshot written", zap.Duration("took", time.Since(start)), zap.String("path", s.path))
	return nil
}

// Channel returns the channel state for id, creating it if it does not yet
// exist. Callers must hold the store's section (call from inside View).
func (gs *GlobalState) Channel(id string) *ChannelState {
	if gs.Channels == nil {
		gs.Channels = map[string]*ChannelState{}
	}
	ch, ok := gs.Channels[id]
	if !ok {
		ch = NewChannelState(id)
		gs.Channels[id] = ch
	}
	return ch
}
