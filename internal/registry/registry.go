// Package registry implements the agent registry store: a filesystem
// enumeration of agents/<agent_id>/agent.json manifests plus a durable
// data/agents/registry.json tracking which are registered/running. Uses a
// load-mutate-atomic-save pattern generalized to the registry's richer
// entry type and agent-id validation regex.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/onlytrade/agent-runtime/pkg/atomicfile"
	"github.com/onlytrade/agent-runtime/pkg/types"
)

var agentIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{1,63}$`)

var (
	ErrInvalidAgentID       = fmt.Errorf("invalid_agent_id")
	ErrManifestNotFound     = fmt.Errorf("agent_manifest_not_found")
	ErrAgentNotRegistered   = fmt.Errorf("agent_not_registered")
	ErrAgentAlreadyRunning  = fmt.Errorf("agent_already_running")
)

// Store manages the agents/ manifest directory and registry.json.
type Store struct {
	mu      sync.Mutex
	logger  *zap.Logger
	dataDir string
}

// New constructs a registry Store rooted at dataDir.
func New(logger *zap.Logger, dataDir string) *Store {
	return &Store{logger: logger.Named("registry"), dataDir: dataDir}
}

func (s *Store) manifestPath(agentID string) string {
	return filepath.Join(s.dataDir, "agents", agentID, "agent.json")
}

func (s *Store) registryPath() string {
	return filepath.Join(s.dataDir, "data", "agents", "registry.json")
}

// Available enumerates agents/ for valid manifests, skipping any directory
// whose id fails validation or whose agent.json fails to parse.
func (s *Store) Available() ([]types.AgentManifest, error) {
	root := filepath.Join(s.dataDir, "agents")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("registry: read agents dir: %w", err)
	}

	var manifests []types.AgentManifest
	for _, entry := range entries {
		if !entry.IsDir() || !agentIDPattern.MatchString(entry.Name()) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(root, entry.Name(), "agent.json"))
		if err != nil {
			s.logger.Warn("skipping agent without manifest", zap.String("agent_id", entry.Name()))
			continue
		}
		var m types.AgentManifest
		if err := json.Unmarshal(data, &m); err != nil {
			s.logger.Warn("skipping agent with invalid manifest", zap.String("agent_id", entry.Name()), zap.Error(err))
			continue
		}
		m.AgentID = entry.Name()
		manifests = append(manifests, m)
	}
	sort.Slice(manifests, func(i, j int) bool { return manifests[i].AgentID < manifests[j].AgentID })
	return manifests, nil
}

// Manifest loads a single agent's manifest, returning ErrManifestNotFound if
// absent.
func (s *Store) Manifest(agentID string) (types.AgentManifest, error) {
	if !agentIDPattern.MatchString(agentID) {
		return types.AgentManifest{}, ErrInvalidAgentID
	}
	var m types.AgentManifest
	if err := atomicfile.ReadJSON(s.manifestPath(agentID), &m); err != nil {
		if os.IsNotExist(err) {
			return types.AgentManifest{}, ErrManifestNotFound
		}
		return types.AgentManifest{}, fmt.Errorf("registry: read manifest %s: %w", agentID, err)
	}
	m.AgentID = agentID
	return m, nil
}

func (s *Store) load() (types.Registry, error) {
	var reg types.Registry
	err := atomicfile.ReadJSON(s.registryPath(), &reg)
	if err != nil {
		if os.IsNotExist(err) {
			return types.Registry{SchemaVersion: 1, Agents: make(map[string]types.RegistryEntry)}, nil
		}
		return types.Registry{}, fmt.Errorf("registry: load: %w", err)
	}
	if reg.Agents == nil {
		reg.Agents = make(map[string]types.RegistryEntry)
	}
	return reg, nil
}

func (s *Store) save(reg types.Registry, nowMs int64) error {
	reg.UpdatedAtMs = nowMs
	if err := atomicfile.WriteJSON(s.registryPath(), reg); err != nil {
		return fmt.Errorf("registry: save: %w", err)
	}
	return nil
}

// Register adds agentID to the registry (idempotent), validating that a
// manifest exists first.
func (s *Store) Register(agentID string, nowMs int64) error {
	if _, err := s.Manifest(agentID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, err := s.load()
	if err != nil {
		return err
	}
	entry := reg.Agents[agentID]
	entry.AgentID = agentID
	entry.Registered = true
	if entry.RegisteredAt == 0 {
		entry.RegisteredAt = nowMs
		entry.ShowInLobby = true
	}
	reg.Agents[agentID] = entry
	return s.save(reg, nowMs)
}

// Unregister stops (if running) and removes agentID from the registry.
func (s *Store) Unregister(agentID string, nowMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := reg.Agents[agentID]; !ok {
		return ErrAgentNotRegistered
	}
	delete(reg.Agents, agentID)
	return s.save(reg, nowMs)
}

// Start marks a registered agent as running.
func (s *Store) Start(agentID string, nowMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, err := s.load()
	if err != nil {
		return err
	}
	entry, ok := reg.Agents[agentID]
	if !ok || !entry.Registered {
		return ErrAgentNotRegistered
	}
	if entry.Running {
		return ErrAgentAlreadyRunning
	}
	entry.Running = true
	entry.StartedAt = nowMs
	reg.Agents[agentID] = entry
	return s.save(reg, nowMs)
}

// Stop marks a running agent as stopped.
func (s *Store) Stop(agentID string, nowMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, err := s.load()
	if err != nil {
		return err
	}
	entry, ok := reg.Agents[agentID]
	if !ok {
		return ErrAgentNotRegistered
	}
	entry.Running = false
	entry.StoppedAt = nowMs
	reg.Agents[agentID] = entry
	return s.save(reg, nowMs)
}

// Running returns the agent_ids currently marked running, sorted ascending —
// the set the scheduler iterates each cycle.
func (s *Store) Running() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, err := s.load()
	if err != nil {
		return nil, err
	}
	var ids []string
	for id, entry := range reg.Agents {
		if entry.Registered && entry.Running {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Lobby returns the agent_ids that are registered and show_in_lobby, sorted
// ascending: lobby = registered ∩ {show_in_lobby}.
func (s *Store) Lobby() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, err := s.load()
	if err != nil {
		return nil, err
	}
	var ids []string
	for id, entry := range reg.Agents {
		if entry.Registered && entry.ShowInLobby {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Reconcile drops any registry entry whose manifest has disappeared from
// disk, returning the ids removed.
func (s *Store) Reconcile(nowMs int64) ([]string, error) {
	available, err := s.Available()
	if err != nil {
		return nil, err
	}
	valid := make(map[string]bool, len(available))
	for _, m := range available {
		valid[m.AgentID] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	reg, err := s.load()
	if err != nil {
		return nil, err
	}
	var removed []string
	for id := range reg.Agents {
		if !valid[id] {
			delete(reg.Agents, id)
			removed = append(removed, id)
		}
	}
	if len(removed) > 0 {
		if err := s.save(reg, nowMs); err != nil {
			return nil, err
		}
	}
	sort.Strings(removed)
	return removed, nil
}
