package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"RecurLedger/internal/model"
)

const (
	rulesFileName = "recurring_transactions.json"
	logFileName   = "recurring_execution_logs.json"
)

// FileStore keeps rules and log entries in two JSON files under a data
// directory. Every mutation is written to disk before it becomes visible.
type FileStore struct {
	mu        sync.Mutex
	mem       *MemoryStore
	rulesPath string
	logPath   string
	log       zerolog.Logger
}

// NewFileStore loads (or initializes) the JSON files in dir.
func NewFileStore(dir string, log zerolog.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("file store: data dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	f := &FileStore{
		mem:       NewMemoryStore(),
		rulesPath: filepath.Join(dir, rulesFileName),
		logPath:   filepath.Join(dir, logFileName),
		log:       log,
	}

	var rules []*model.RecurringRule
	if err := loadJSON(f.rulesPath, &rules); err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	for _, r := range rules {
		f.mem.rules[r.ID] = r
	}
	if err := loadJSON(f.logPath, &f.mem.log); err != nil {
		return nil, fmt.Errorf("load execution log: %w", err)
	}

	log.Info().Str("dir", dir).Int("rules", len(rules)).Int("log_entries", len(f.mem.log)).Msg("file store opened")
	return f, nil
}

func (f *FileStore) SaveRule(ctx context.Context, rule *model.RecurringRule) error {
	if rule.ID == "" {
		return fmt.Errorf("rule ID is required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	rules, _ := f.mem.ListRules(ctx)
	replaced := false
	for i, r := range rules {
		if r.ID == rule.ID {
			rules[i] = rule
			replaced = true
		}
	}
	if !replaced {
		rules = append(rules, rule)
		sortRules(rules)
	}
	if err := saveJSON(f.rulesPath, rules); err != nil {
		return fmt.Errorf("save rules: %w", err)
	}
	return f.mem.SaveRule(ctx, rule)
}

func (f *FileStore) GetRule(ctx context.Context, id string) (*model.RecurringRule, error) {
	return f.mem.GetRule(ctx, id)
}

func (f *FileStore) ListRules(ctx context.Context) ([]*model.RecurringRule, error) {
	return f.mem.ListRules(ctx)
}

func (f *FileStore) DeleteRule(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	rules, _ := f.mem.ListRules(ctx)
	kept := rules[:0]
	found := false
	for _, r := range rules {
		if r.ID == id {
			found = true
			continue
		}
		kept = append(kept, r)
	}
	if !found {
		return model.ErrNotFound
	}
	if err := saveJSON(f.rulesPath, kept); err != nil {
		return fmt.Errorf("save rules: %w", err)
	}
	return f.mem.DeleteRule(ctx, id)
}

func (f *FileStore) HasSucceeded(ctx context.Context, ruleID string, date civil.Date) (bool, error) {
	return f.mem.HasSucceeded(ctx, ruleID, date)
}

func (f *FileStore) AppendExecution(ctx context.Context, entry model.ExecutionLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.mem.mu.RLock()
	if entry.Success && f.mem.hasSucceededLocked(entry.RuleID, entry.OccurrenceDate) {
		f.mem.mu.RUnlock()
		return model.ErrDuplicateSuccess
	}
	next := append(append([]model.ExecutionLogEntry(nil), f.mem.log...), entry)
	f.mem.mu.RUnlock()

	if err := saveJSON(f.logPath, next); err != nil {
		return fmt.Errorf("save execution log: %w", err)
	}
	return f.mem.AppendExecution(ctx, entry)
}

func (f *FileStore) History(ctx context.Context, filter HistoryFilter) ([]model.ExecutionLogEntry, error) {
	return f.mem.History(ctx, filter)
}

func (f *FileStore) CountExecutions(ctx context.Context, ruleID string) (int, error) {
	return f.mem.CountExecutions(ctx, ruleID)
}

func (f *FileStore) DeleteExecutions(ctx context.Context, ruleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.mem.mu.RLock()
	var kept []model.ExecutionLogEntry
	for _, e := range f.mem.log {
		if e.RuleID != ruleID {
			kept = append(kept, e)
		}
	}
	f.mem.mu.RUnlock()

	if err := saveJSON(f.logPath, kept); err != nil {
		return fmt.Errorf("save execution log: %w", err)
	}
	return f.mem.DeleteExecutions(ctx, ruleID)
}

func (f *FileStore) Close() error { return nil }

// loadJSON decodes path into v. A missing file leaves v untouched.
func loadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// saveJSON writes v to a temp file and renames it over path.
func saveJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
