// Package killswitch implements the durable global kill switch: unlike an
// in-memory disabled flag, this one persists through pkg/atomicfile and
// re-pauses the scheduler on boot if it was left active.
package killswitch

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/onlytrade/agent-runtime/pkg/atomicfile"
	"github.com/onlytrade/agent-runtime/pkg/types"
)

// Switch is the durable, process-wide kill switch.
type Switch struct {
	mu      sync.RWMutex
	logger  *zap.Logger
	path    string
	state   types.KillSwitchState
}

// New loads (or initializes) the kill switch state from
// <dataDir>/data/runtime/kill-switch.json.
func New(logger *zap.Logger, dataDir string) (*Switch, error) {
	path := filepath.Join(dataDir, "data", "runtime", "kill-switch.json")
	s := &Switch{logger: logger.Named("killswitch"), path: path}

	var state types.KillSwitchState
	err := atomicfile.ReadJSON(path, &state)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("killswitch: load: %w", err)
		}
		state = types.KillSwitchState{}
	}
	s.state = state
	if state.Active {
		s.logger.Warn("kill switch was active on boot, runtime starts paused", zap.String("reason", state.Reason))
	}
	return s, nil
}

// Active reports whether the kill switch is currently engaged.
func (s *Switch) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Active
}

// State returns a copy of the current persisted state.
func (s *Switch) State() types.KillSwitchState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Activate engages the kill switch, persisting the reason and actor.
func (s *Switch) Activate(reason, by string, nowMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Active = true
	s.state.Reason = reason
	s.state.ActivatedBy = by
	s.state.ActivatedAtMs = nowMs
	return s.persist()
}

// Deactivate clears the kill switch, recording who resumed it. Returns
// ErrNotActive if it was already off, refusing a no-op resume.
func (s *Switch) Deactivate(by string, nowMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Active {
		return ErrNotActive
	}
	s.state.Active = false
	s.state.DeactivatedBy = by
	s.state.DeactivatedAtMs = nowMs
	return s.persist()
}

// ErrNotActive is returned by Deactivate when the switch is already off.
var ErrNotActive = fmt.Errorf("kill_switch_not_active")

func (s *Switch) persist() error {
	if err := atomicfile.WriteJSON(s.path, s.state); err != nil {
		return fmt.Errorf("killswitch: persist: %w", err)
	}
	return nil
}
