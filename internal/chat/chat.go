// Package chat implements the room-scoped append-only chat store, reusing
// pkg/jsonl's append idiom exactly as the runtime's own decision and audit
// logs do. No message routing, presence, or delivery semantics live here —
// those are an external collaborator's concern.
package chat

import (
	"fmt"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/onlytrade/agent-runtime/pkg/jsonl"
	"github.com/onlytrade/agent-runtime/pkg/types"
	"github.com/onlytrade/agent-runtime/pkg/utils"
)

// Store manages per-room public and per-session DM JSONL logs under
// <dataDir>/data/chat/rooms/<room_id>/.
type Store struct {
	mu       sync.Mutex
	logger   *zap.Logger
	dataDir  string
	public   map[string]*jsonl.Appender
	dms      map[string]*jsonl.Appender
}

// New constructs a chat Store rooted at dataDir.
func New(logger *zap.Logger, dataDir string) *Store {
	return &Store{
		logger:  logger.Named("chat"),
		dataDir: dataDir,
		public:  make(map[string]*jsonl.Appender),
		dms:     make(map[string]*jsonl.Appender),
	}
}

func (s *Store) publicAppender(roomID string) (*jsonl.Appender, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.public[roomID]; ok {
		return a, nil
	}
	path := filepath.Join(s.dataDir, "data", "chat", "rooms", roomID, "public.jsonl")
	a, err := jsonl.NewAppender(path)
	if err != nil {
		return nil, fmt.Errorf("chat: public appender: %w", err)
	}
	s.public[roomID] = a
	return a, nil
}

func (s *Store) dmAppender(roomID, sessionID string) (*jsonl.Appender, error) {
	key := roomID + "/" + sessionID
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.dms[key]; ok {
		return a, nil
	}
	path := filepath.Join(s.dataDir, "data", "chat", "rooms", roomID, "dm", sessionID+".jsonl")
	a, err := jsonl.NewAppender(path)
	if err != nil {
		return nil, fmt.Errorf("chat: dm appender: %w", err)
	}
	s.dms[key] = a
	return a, nil
}

// AppendPublic appends a message to a room's public log, assigning an ID if
// the caller left one unset.
func (s *Store) AppendPublic(msg types.ChatMessage) error {
	if msg.ID == "" {
		msg.ID = utils.GenerateID("msg")
	}
	a, err := s.publicAppender(msg.RoomID)
	if err != nil {
		return err
	}
	return a.Append(msg)
}

// AppendDM appends a message to a room's per-session DM log.
func (s *Store) AppendDM(sessionID string, msg types.ChatMessage) error {
	a, err := s.dmAppender(msg.RoomID, sessionID)
	if err != nil {
		return err
	}
	return a.Append(msg)
}

// TailPublic returns the last n public messages in roomID.
func (s *Store) TailPublic(roomID string, n int) ([]types.ChatMessage, error) {
	path := filepath.Join(s.dataDir, "data", "chat", "rooms", roomID, "public.jsonl")
	return jsonl.Tail[types.ChatMessage](path, n)
}
