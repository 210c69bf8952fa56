package store

import (
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/civil"

	"RecurLedger/internal/model"
)

// ruleRow is the flattened relational form of a rule shared by the SQL stores.
type ruleRow struct {
	ID             string `gorm:"primaryKey"`
	Name           string `gorm:"not null"`
	RecurrenceType string `gorm:"not null"`
	StartDate      string `gorm:"not null"`
	EndDate        *string
	WeeklyDays     string
	MonthlyDays    string
	IsActive       bool
	Template       string `gorm:"not null"`
	LastExecuted   *string
	NextExecution  *string
	CreatedAt      int64 `gorm:"autoCreateTime:false"`
	UpdatedAt      int64 `gorm:"autoUpdateTime:false"`
}

func (ruleRow) TableName() string { return "recurring_rules" }

// logRow is the relational form of an execution log entry.
type logRow struct {
	ID             string `gorm:"primaryKey"`
	RuleID         string `gorm:"not null;index"`
	OccurrenceDate string `gorm:"not null;index"`
	Success        bool
	ErrorMessage   *string
	TransactionID  *string
	RecordedAt     int64 `gorm:"not null"`
}

func (logRow) TableName() string { return "execution_logs" }

func toRuleRow(r *model.RecurringRule) (ruleRow, error) {
	tpl, err := json.Marshal(r.Template)
	if err != nil {
		return ruleRow{}, fmt.Errorf("encode template: %w", err)
	}
	wd, err := json.Marshal(r.WeeklyDays)
	if err != nil {
		return ruleRow{}, fmt.Errorf("encode weekly days: %w", err)
	}
	md, err := json.Marshal(r.MonthlyDays)
	if err != nil {
		return ruleRow{}, fmt.Errorf("encode monthly days: %w", err)
	}
	return ruleRow{
		ID:             r.ID,
		Name:           r.Name,
		RecurrenceType: string(r.RecurrenceType),
		StartDate:      r.StartDate.String(),
		EndDate:        dateString(r.EndDate),
		WeeklyDays:     string(wd),
		MonthlyDays:    string(md),
		IsActive:       r.IsActive,
		Template:       string(tpl),
		LastExecuted:   dateString(r.LastExecuted),
		NextExecution:  dateString(r.NextExecution),
		CreatedAt:      r.CreatedAt.UnixNano(),
		UpdatedAt:      r.UpdatedAt.UnixNano(),
	}, nil
}

func (row ruleRow) toModel() (*model.RecurringRule, error) {
	r := &model.RecurringRule{
		ID:             row.ID,
		Name:           row.Name,
		RecurrenceType: model.RecurrenceType(row.RecurrenceType),
		IsActive:       row.IsActive,
		CreatedAt:      time.Unix(0, row.CreatedAt),
		UpdatedAt:      time.Unix(0, row.UpdatedAt),
	}
	var err error
	if r.StartDate, err = civil.ParseDate(row.StartDate); err != nil {
		return nil, fmt.Errorf("rule %s start date: %w", row.ID, err)
	}
	if r.EndDate, err = parseDatePtr(row.EndDate); err != nil {
		return nil, fmt.Errorf("rule %s end date: %w", row.ID, err)
	}
	if r.LastExecuted, err = parseDatePtr(row.LastExecuted); err != nil {
		return nil, fmt.Errorf("rule %s last executed: %w", row.ID, err)
	}
	if r.NextExecution, err = parseDatePtr(row.NextExecution); err != nil {
		return nil, fmt.Errorf("rule %s next execution: %w", row.ID, err)
	}
	if err := unmarshalOptional(row.WeeklyDays, &r.WeeklyDays); err != nil {
		return nil, fmt.Errorf("rule %s weekly days: %w", row.ID, err)
	}
	if err := unmarshalOptional(row.MonthlyDays, &r.MonthlyDays); err != nil {
		return nil, fmt.Errorf("rule %s monthly days: %w", row.ID, err)
	}
	if err := json.Unmarshal([]byte(row.Template), &r.Template); err != nil {
		return nil, fmt.Errorf("rule %s template: %w", row.ID, err)
	}
	return r, nil
}

func toLogRow(e model.ExecutionLogEntry) logRow {
	return logRow{
		ID:             e.ID,
		RuleID:         e.RuleID,
		OccurrenceDate: e.OccurrenceDate.String(),
		Success:        e.Success,
		ErrorMessage:   optString(e.ErrorMessage),
		TransactionID:  optString(e.TransactionID),
		RecordedAt:     e.RecordedAt.UnixNano(),
	}
}

func (row logRow) toModel() (model.ExecutionLogEntry, error) {
	d, err := civil.ParseDate(row.OccurrenceDate)
	if err != nil {
		return model.ExecutionLogEntry{}, fmt.Errorf("log %s occurrence date: %w", row.ID, err)
	}
	e := model.ExecutionLogEntry{
		ID:             row.ID,
		RuleID:         row.RuleID,
		OccurrenceDate: d,
		Success:        row.Success,
		RecordedAt:     time.Unix(0, row.RecordedAt),
	}
	if row.ErrorMessage != nil {
		e.ErrorMessage = *row.ErrorMessage
	}
	if row.TransactionID != nil {
		e.TransactionID = *row.TransactionID
	}
	return e, nil
}

func dateString(d *civil.Date) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func parseDatePtr(s *string) (*civil.Date, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	d, err := civil.ParseDate(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func unmarshalOptional(s string, v any) error {
	if s == "" || s == "null" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}
