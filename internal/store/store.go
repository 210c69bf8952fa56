package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"RecurLedger/internal/model"
)

// HistoryFilter narrows History. Zero values mean "no filter".
type HistoryFilter struct {
	RuleID string
	Since  *civil.Date // inclusive, on OccurrenceDate
}

// RuleStore persists recurring rules.
type RuleStore interface {
	SaveRule(ctx context.Context, rule *model.RecurringRule) error
	GetRule(ctx context.Context, id string) (*model.RecurringRule, error)
	ListRules(ctx context.Context) ([]*model.RecurringRule, error)
	DeleteRule(ctx context.Context, id string) error
}

// ExecutionLog is the append-only record of execution attempts.
type ExecutionLog interface {
	// HasSucceeded reports whether a success entry exists for (ruleID, date).
	HasSucceeded(ctx context.Context, ruleID string, date civil.Date) (bool, error)
	// AppendExecution adds an entry. It never overwrites; a second success
	// for the same key fails with model.ErrDuplicateSuccess.
	AppendExecution(ctx context.Context, entry model.ExecutionLogEntry) error
	// History returns entries newest occurrence first.
	History(ctx context.Context, filter HistoryFilter) ([]model.ExecutionLogEntry, error)
	CountExecutions(ctx context.Context, ruleID string) (int, error)
	// DeleteExecutions removes a rule's entries. Only used to cascade a rule delete.
	DeleteExecutions(ctx context.Context, ruleID string) error
}

// Store is the persistence layer of the engine.
type Store interface {
	RuleStore
	ExecutionLog
	Close() error
}

// Config selects and configures a Store implementation.
type Config struct {
	Driver      string // memory | file | sqlite | postgres
	DataDir     string
	SQLitePath  string
	PostgresDSN string
}

// Open initializes the configured store.
func Open(cfg Config, log zerolog.Logger) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return NewSQLiteStore(cfg.SQLitePath, log)
	case "file", "json":
		return NewFileStore(cfg.DataDir, log)
	case "postgres", "postgresql":
		return NewPostgresStore(cfg.PostgresDSN, log)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Driver)
	}
}

// sortHistory orders entries by occurrence date, then record time, newest first.
func sortHistory(entries []model.ExecutionLogEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.OccurrenceDate != b.OccurrenceDate {
			return a.OccurrenceDate.After(b.OccurrenceDate)
		}
		return a.RecordedAt.After(b.RecordedAt)
	})
}

func (f HistoryFilter) match(e model.ExecutionLogEntry) bool {
	if f.RuleID != "" && e.RuleID != f.RuleID {
		return false
	}
	if f.Since != nil && e.OccurrenceDate.Before(*f.Since) {
		return false
	}
	return true
}

func sortRules(rules []*model.RecurringRule) {
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
}
