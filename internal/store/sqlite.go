package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"RecurLedger/internal/model"
)

// SQLiteStore persists rules and the execution log to a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	mu  sync.Mutex
	log zerolog.Logger
}

// NewSQLiteStore opens (or creates) the SQLite database and runs migrations.
func NewSQLiteStore(dbPath string, log zerolog.Logger) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, log: log}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("sqlite store opened")
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS recurring_rules (
			id              TEXT PRIMARY KEY,
			name            TEXT NOT NULL,
			recurrence_type TEXT NOT NULL,
			start_date      TEXT NOT NULL,
			end_date        TEXT,
			weekly_days     TEXT,
			monthly_days    TEXT,
			is_active       INTEGER NOT NULL DEFAULT 1,
			template        TEXT NOT NULL,
			last_executed   TEXT,
			next_execution  TEXT,
			created_at      INTEGER NOT NULL,
			updated_at      INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS execution_logs (
			id              TEXT PRIMARY KEY,
			rule_id         TEXT NOT NULL,
			occurrence_date TEXT NOT NULL,
			success         INTEGER NOT NULL,
			error_message   TEXT,
			transaction_id  TEXT,
			recorded_at     INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_exec_rule ON execution_logs(rule_id, occurrence_date)`,
		// The idempotency key: one success per (rule, occurrence).
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_exec_success ON execution_logs(rule_id, occurrence_date) WHERE success = 1`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

const ruleColumns = `id, name, recurrence_type, start_date, end_date, weekly_days, monthly_days,
	is_active, template, last_executed, next_execution, created_at, updated_at`

func (s *SQLiteStore) SaveRule(ctx context.Context, rule *model.RecurringRule) error {
	row, err := toRuleRow(rule)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `INSERT INTO recurring_rules (`+ruleColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, recurrence_type=excluded.recurrence_type,
			start_date=excluded.start_date, end_date=excluded.end_date,
			weekly_days=excluded.weekly_days, monthly_days=excluded.monthly_days,
			is_active=excluded.is_active, template=excluded.template,
			last_executed=excluded.last_executed, next_execution=excluded.next_execution,
			updated_at=excluded.updated_at`,
		row.ID, row.Name, row.RecurrenceType, row.StartDate, row.EndDate,
		row.WeeklyDays, row.MonthlyDays, row.IsActive, row.Template,
		row.LastExecuted, row.NextExecution, row.CreatedAt, row.UpdatedAt,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(sc rowScanner) (*model.RecurringRule, error) {
	var (
		row                     ruleRow
		endDate, last, next     sql.NullString
		weeklyDays, monthlyDays sql.NullString
	)
	if err := sc.Scan(&row.ID, &row.Name, &row.RecurrenceType, &row.StartDate, &endDate,
		&weeklyDays, &monthlyDays, &row.IsActive, &row.Template, &last, &next,
		&row.CreatedAt, &row.UpdatedAt); err != nil {
		return nil, err
	}
	row.EndDate = nullToPtr(endDate)
	row.LastExecuted = nullToPtr(last)
	row.NextExecution = nullToPtr(next)
	row.WeeklyDays = weeklyDays.String
	row.MonthlyDays = monthlyDays.String
	return row.toModel()
}

func (s *SQLiteStore) GetRule(ctx context.Context, id string) (*model.RecurringRule, error) {
	r, err := scanRule(s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM recurring_rules WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	return r, err
}

func (s *SQLiteStore) ListRules(ctx context.Context) ([]*model.RecurringRule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+ruleColumns+` FROM recurring_rules ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.RecurringRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteRule(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM recurring_rules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) HasSucceeded(ctx context.Context, ruleID string, date civil.Date) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM execution_logs WHERE rule_id = ? AND occurrence_date = ? AND success = 1`,
		ruleID, date.String(),
	).Scan(&n)
	return n > 0, err
}

func (s *SQLiteStore) AppendExecution(ctx context.Context, entry model.ExecutionLogEntry) error {
	row := toLogRow(entry)
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `INSERT INTO execution_logs
		(id, rule_id, occurrence_date, success, error_message, transaction_id, recorded_at)
		VALUES (?,?,?,?,?,?,?)`,
		row.ID, row.RuleID, row.OccurrenceDate, row.Success,
		row.ErrorMessage, row.TransactionID, row.RecordedAt,
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return model.ErrDuplicateSuccess
	}
	return err
}

func (s *SQLiteStore) History(ctx context.Context, filter HistoryFilter) ([]model.ExecutionLogEntry, error) {
	q := `SELECT id, rule_id, occurrence_date, success, error_message, transaction_id, recorded_at
		FROM execution_logs WHERE 1=1`
	var args []any
	if filter.RuleID != "" {
		q += ` AND rule_id = ?`
		args = append(args, filter.RuleID)
	}
	if filter.Since != nil {
		// ISO dates compare correctly as text.
		q += ` AND occurrence_date >= ?`
		args = append(args, filter.Since.String())
	}
	q += ` ORDER BY occurrence_date DESC, recorded_at DESC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ExecutionLogEntry
	for rows.Next() {
		var (
			row         logRow
			errMsg, txn sql.NullString
		)
		if err := rows.Scan(&row.ID, &row.RuleID, &row.OccurrenceDate, &row.Success,
			&errMsg, &txn, &row.RecordedAt); err != nil {
			return nil, err
		}
		row.ErrorMessage = nullToPtr(errMsg)
		row.TransactionID = nullToPtr(txn)
		e, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CountExecutions(ctx context.Context, ruleID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM execution_logs WHERE rule_id = ?`, ruleID).Scan(&n)
	return n, err
}

func (s *SQLiteStore) DeleteExecutions(ctx context.Context, ruleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM execution_logs WHERE rule_id = ?`, ruleID)
	return err
}

func (s *SQLiteStore) Close() error {
	s.log.Info().Msg("closing sqlite store")
	return s.db.Close()
}

func nullToPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
