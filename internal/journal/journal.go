// Package journal implements the day-partitioned JSONL decision and audit
// logs, built on pkg/jsonl with a mutex-guarded, zap-logged, fmt.Errorf-
// wrapped store.
package journal

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/onlytrade/agent-runtime/pkg/jsonl"
	"github.com/onlytrade/agent-runtime/pkg/types"
)

var shanghai = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		return time.UTC
	}
	return loc
}()

// Store manages per-trader, per-day decision and audit JSONL logs.
type Store struct {
	mu         sync.Mutex
	logger     *zap.Logger
	dataDir    string
	decisions  map[string]*jsonl.Appender
	audits     map[string]*jsonl.Appender
}

// New constructs a journal Store rooted at dataDir.
func New(logger *zap.Logger, dataDir string) *Store {
	return &Store{
		logger:    logger.Named("journal"),
		dataDir:   dataDir,
		decisions: make(map[string]*jsonl.Appender),
		audits:    make(map[string]*jsonl.Appender),
	}
}

func dateBucket(tsMs int64) string {
	return time.UnixMilli(tsMs).In(shanghai).Format("2006-01-02")
}

func (s *Store) decisionAppender(traderID string, tsMs int64) (*jsonl.Appender, error) {
	key := traderID + "/" + dateBucket(tsMs)
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.decisions[key]; ok {
		return a, nil
	}
	path := filepath.Join(s.dataDir, "data", "decisions", traderID, dateBucket(tsMs)+".jsonl")
	a, err := jsonl.NewAppender(path)
	if err != nil {
		return nil, fmt.Errorf("journal: decision appender: %w", err)
	}
	s.decisions[key] = a
	return a, nil
}

func (s *Store) auditAppender(traderID string, tsMs int64) (*jsonl.Appender, error) {
	key := traderID + "/" + dateBucket(tsMs)
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.audits[key]; ok {
		return a, nil
	}
	path := filepath.Join(s.dataDir, "data", "audit", "decision_audit", traderID, dateBucket(tsMs)+".jsonl")
	a, err := jsonl.NewAppender(path)
	if err != nil {
		return nil, fmt.Errorf("journal: audit appender: %w", err)
	}
	s.audits[key] = a
	return a, nil
}

// AppendDecision appends one decision record to the trader's day-partitioned
// decision log.
func (s *Store) AppendDecision(rec types.DecisionRecord) error {
	a, err := s.decisionAppender(rec.TraderID, rec.TsMs)
	if err != nil {
		return err
	}
	return a.Append(rec)
}

// AppendAudit appends one readiness-labeled audit record to the trader's
// day-partitioned audit log.
func (s *Store) AppendAudit(rec types.AuditRecord) error {
	a, err := s.auditAppender(rec.TraderID, rec.TsMs)
	if err != nil {
		return err
	}
	return a.Append(rec)
}

// TailDecisions returns the last n decision records for traderID on the
// trading day containing asOfMs.
func (s *Store) TailDecisions(traderID string, asOfMs int64, n int) ([]types.DecisionRecord, error) {
	path := filepath.Join(s.dataDir, "data", "decisions", traderID, dateBucket(asOfMs)+".jsonl")
	return jsonl.Tail[types.DecisionRecord](path, n)
}

// TailAudit returns the last n audit records for traderID on the trading day
// containing asOfMs.
func (s *Store) TailAudit(traderID string, asOfMs int64, n int) ([]types.AuditRecord, error) {
	path := filepath.Join(s.dataDir, "data", "audit", "decision_audit", traderID, dateBucket(asOfMs)+".jsonl")
	return jsonl.Tail[types.AuditRecord](path, n)
}
