package store

import (
	"context"
	"fmt"
	"sync"

	"cloud.google.com/go/civil"

	"RecurLedger/internal/model"
)

// MemoryStore keeps rules and log entries in memory. Data is lost on restart.
type MemoryStore struct {
	mu    sync.RWMutex
	rules map[string]*model.RecurringRule
	log   []model.ExecutionLogEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rules: make(map[string]*model.RecurringRule)}
}

func (m *MemoryStore) SaveRule(_ context.Context, rule *model.RecurringRule) error {
	if rule.ID == "" {
		return fmt.Errorf("rule ID is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[rule.ID] = rule.Clone()
	return nil
}

func (m *MemoryStore) GetRule(_ context.Context, id string) (*model.RecurringRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rules[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return r.Clone(), nil
}

func (m *MemoryStore) ListRules(_ context.Context) ([]*model.RecurringRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.RecurringRule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, r.Clone())
	}
	sortRules(out)
	return out, nil
}

func (m *MemoryStore) DeleteRule(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[id]; !ok {
		return model.ErrNotFound
	}
	delete(m.rules, id)
	return nil
}

func (m *MemoryStore) HasSucceeded(_ context.Context, ruleID string, date civil.Date) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hasSucceededLocked(ruleID, date), nil
}

func (m *MemoryStore) hasSucceededLocked(ruleID string, date civil.Date) bool {
	for _, e := range m.log {
		if e.Success && e.RuleID == ruleID && e.OccurrenceDate == date {
			return true
		}
	}
	return false
}

func (m *MemoryStore) AppendExecution(_ context.Context, entry model.ExecutionLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.Success && m.hasSucceededLocked(entry.RuleID, entry.OccurrenceDate) {
		return model.ErrDuplicateSuccess
	}
	m.log = append(m.log, entry)
	return nil
}

func (m *MemoryStore) History(_ context.Context, filter HistoryFilter) ([]model.ExecutionLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.ExecutionLogEntry
	for _, e := range m.log {
		if filter.match(e) {
			out = append(out, e)
		}
	}
	sortHistory(out)
	return out, nil
}

func (m *MemoryStore) CountExecutions(_ context.Context, ruleID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.log {
		if e.RuleID == ruleID {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) DeleteExecutions(_ context.Context, ruleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.log[:0]
	for _, e := range m.log {
		if e.RuleID != ruleID {
			kept = append(kept, e)
		}
	}
	m.log = kept
	return nil
}

func (m *MemoryStore) Close() error { return nil }
