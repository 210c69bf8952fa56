package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"RecurLedger/internal/model"
)

// PostgresStore persists rules and the execution log through gorm.
type PostgresStore struct {
	db  *gorm.DB
	log zerolog.Logger
}

// NewPostgresStore connects to dsn and migrates the schema.
func NewPostgresStore(dsn string, log zerolog.Logger) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := db.AutoMigrate(&ruleRow{}, &logRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS ux_exec_success
		ON execution_logs (rule_id, occurrence_date) WHERE success`).Error; err != nil {
		return nil, fmt.Errorf("create idempotency index: %w", err)
	}

	log.Info().Msg("postgres store connected")
	return &PostgresStore{db: db, log: log}, nil
}

func (p *PostgresStore) SaveRule(ctx context.Context, rule *model.RecurringRule) error {
	row, err := toRuleRow(rule)
	if err != nil {
		return err
	}
	return p.db.WithContext(ctx).Save(&row).Error
}

func (p *PostgresStore) GetRule(ctx context.Context, id string) (*model.RecurringRule, error) {
	var row ruleRow
	err := p.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

func (p *PostgresStore) ListRules(ctx context.Context) ([]*model.RecurringRule, error) {
	var rows []ruleRow
	if err := p.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*model.RecurringRule, 0, len(rows))
	for _, row := range rows {
		r, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (p *PostgresStore) DeleteRule(ctx context.Context, id string) error {
	res := p.db.WithContext(ctx).Delete(&ruleRow{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (p *PostgresStore) HasSucceeded(ctx context.Context, ruleID string, date civil.Date) (bool, error) {
	var n int64
	err := p.db.WithContext(ctx).Model(&logRow{}).
		Where("rule_id = ? AND occurrence_date = ? AND success", ruleID, date.String()).
		Count(&n).Error
	return n > 0, err
}

func (p *PostgresStore) AppendExecution(ctx context.Context, entry model.ExecutionLogEntry) error {
	row := toLogRow(entry)
	err := p.db.WithContext(ctx).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return model.ErrDuplicateSuccess
	}
	return err
}

func (p *PostgresStore) History(ctx context.Context, filter HistoryFilter) ([]model.ExecutionLogEntry, error) {
	q := p.db.WithContext(ctx).Model(&logRow{})
	if filter.RuleID != "" {
		q = q.Where("rule_id = ?", filter.RuleID)
	}
	if filter.Since != nil {
		q = q.Where("occurrence_date >= ?", filter.Since.String())
	}
	var rows []logRow
	if err := q.Order("occurrence_date DESC, recorded_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.ExecutionLogEntry, 0, len(rows))
	for _, row := range rows {
		e, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (p *PostgresStore) CountExecutions(ctx context.Context, ruleID string) (int, error) {
	var n int64
	err := p.db.WithContext(ctx).Model(&logRow{}).Where("rule_id = ?", ruleID).Count(&n).Error
	return int(n), err
}

func (p *PostgresStore) DeleteExecutions(ctx context.Context, ruleID string) error {
	return p.db.WithContext(ctx).Where("rule_id = ?", ruleID).Delete(&logRow{}).Error
}

func (p *PostgresStore) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	p.log.Info().Msg("closing postgres store")
	return sqlDB.Close()
}
