// Package memory persists one agent.memory.v2 snapshot per trader, one file
// per trader, replaced atomically on every write via pkg/atomicfile instead
// of a direct os.WriteFile, since concurrent readers (control API) may
// observe the file while the scheduler writes it.
package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/onlytrade/agent-runtime/pkg/atomicfile"
	"github.com/onlytrade/agent-runtime/pkg/types"
)

// Store manages agent-memory snapshots under <dataDir>/data/agent-memory.
type Store struct {
	mu      sync.Mutex
	logger  *zap.Logger
	dataDir string
}

// New constructs a memory Store rooted at dataDir.
func New(logger *zap.Logger, dataDir string) *Store {
	return &Store{logger: logger.Named("memory"), dataDir: dataDir}
}

func (s *Store) path(traderID string) string {
	return filepath.Join(s.dataDir, "data", "agent-memory", traderID+".json")
}

// Load reads a trader's memory snapshot, returning a fresh snapshot seeded
// with initialCash if none exists yet.
func (s *Store) Load(traderID string, initialCash types.MemorySnapshot) (types.MemorySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var snap types.MemorySnapshot
	err := atomicfile.ReadJSON(s.path(traderID), &snap)
	if err == nil {
		if snap.Holdings == nil {
			snap.Holdings = make(map[string]types.Holding)
		}
		return snap, nil
	}
	if os.IsNotExist(err) {
		fresh := initialCash
		fresh.Schema = "agent.memory.v2"
		fresh.AgentID = traderID
		if fresh.Holdings == nil {
			fresh.Holdings = make(map[string]types.Holding)
		}
		return fresh, nil
	}
	return types.MemorySnapshot{}, fmt.Errorf("memory: load %s: %w", traderID, err)
}

// Save atomically replaces the trader's memory snapshot file.
func (s *Store) Save(snap types.MemorySnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap.Schema = "agent.memory.v2"
	if err := atomicfile.WriteJSON(s.path(snap.AgentID), snap); err != nil {
		return fmt.Errorf("memory: save %s: %w", snap.AgentID, err)
	}
	return nil
}

// Reset deletes a trader's persisted memory, used when
// RESET_AGENT_MEMORY_ON_BOOT is set.
func (s *Store) Reset(traderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(traderID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("memory: reset %s: %w", traderID, err)
	}
	return nil
}
