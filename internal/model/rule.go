package model

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// RecurrenceType is the closed set of supported recurrence patterns.
type RecurrenceType string

const (
	RecurDaily    RecurrenceType = "daily"
	RecurWeekly   RecurrenceType = "weekly"
	RecurWeekdays RecurrenceType = "weekdays"
	RecurMonthly  RecurrenceType = "monthly"
)

// Valid reports whether t is one of the known recurrence types.
func (t RecurrenceType) Valid() bool {
	switch t {
	case RecurDaily, RecurWeekly, RecurWeekdays, RecurMonthly:
		return true
	}
	return false
}

// DefaultFlag is the beancount flag for a completed transaction.
const DefaultFlag = "*"

// Posting is one leg of the transaction template. A nil Amount means the
// amount is elided and left to the ledger to balance.
type Posting struct {
	Account  string           `json:"account"`
	Amount   *decimal.Decimal `json:"amount,omitempty"`
	Currency string           `json:"currency,omitempty"`
}

// Template is the pattern materialized into each occurrence.
type Template struct {
	Flag      string    `json:"flag"`
	Payee     string    `json:"payee,omitempty"`
	Narration string    `json:"narration"`
	Tags      []string  `json:"tags,omitempty"`
	Links     []string  `json:"links,omitempty"`
	Postings  []Posting `json:"postings"`
}

// RecurringRule describes when and what to post.
type RecurringRule struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	RecurrenceType RecurrenceType `json:"recurrence_type"`
	StartDate      civil.Date     `json:"start_date"`
	EndDate        *civil.Date    `json:"end_date,omitempty"`
	WeeklyDays     []int          `json:"weekly_days,omitempty"` // 0=Sunday..6=Saturday
	MonthlyDays    []int          `json:"monthly_days,omitempty"`
	IsActive       bool           `json:"is_active"`

	Template

	// Advisory only. Due-ness is always decided from the execution log.
	LastExecuted  *civil.Date `json:"last_executed,omitempty"`
	NextExecution *civil.Date `json:"next_execution,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy so callers can't mutate stored state.
func (r *RecurringRule) Clone() *RecurringRule {
	if r == nil {
		return nil
	}
	c := *r
	c.EndDate = cloneDate(r.EndDate)
	c.LastExecuted = cloneDate(r.LastExecuted)
	c.NextExecution = cloneDate(r.NextExecution)
	c.WeeklyDays = append([]int(nil), r.WeeklyDays...)
	c.MonthlyDays = append([]int(nil), r.MonthlyDays...)
	c.Tags = append([]string(nil), r.Tags...)
	c.Links = append([]string(nil), r.Links...)
	c.Postings = clonePostings(r.Postings)
	return &c
}

// Validate checks the structural invariants of a rule. Posting content is
// checked at materialization time, not here.
func (r *RecurringRule) Validate() error {
	if isBlank(r.Name) {
		return &ValidationError{Field: "name", Reason: "is required"}
	}
	if isBlank(r.Narration) {
		return &ValidationError{Field: "narration", Reason: "is required"}
	}
	if !r.RecurrenceType.Valid() {
		return &ValidationError{Field: "recurrence_type", Reason: "unknown type " + string(r.RecurrenceType)}
	}
	if !r.StartDate.IsValid() {
		return &ValidationError{Field: "start_date", Reason: "is required"}
	}
	if r.EndDate != nil {
		if !r.EndDate.IsValid() {
			return &ValidationError{Field: "end_date", Reason: "is not a valid date"}
		}
		if r.EndDate.Before(r.StartDate) {
			return &ValidationError{Field: "end_date", Reason: "is before start_date"}
		}
	}
	for _, d := range r.WeeklyDays {
		if d < 0 || d > 6 {
			return &ValidationError{Field: "weekly_days", Reason: "values must be within 0..6"}
		}
	}
	for _, d := range r.MonthlyDays {
		if d < 1 || d > 31 {
			return &ValidationError{Field: "monthly_days", Reason: "values must be within 1..31"}
		}
	}
	switch r.RecurrenceType {
	case RecurWeekly:
		if len(r.WeeklyDays) == 0 {
			return &ValidationError{Field: "weekly_days", Reason: "required for weekly rules"}
		}
	case RecurMonthly:
		if len(r.MonthlyDays) == 0 {
			return &ValidationError{Field: "monthly_days", Reason: "required for monthly rules"}
		}
	}
	return nil
}

func cloneDate(d *civil.Date) *civil.Date {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}

func clonePostings(ps []Posting) []Posting {
	if ps == nil {
		return nil
	}
	out := make([]Posting, len(ps))
	for i, p := range ps {
		out[i] = p
		if p.Amount != nil {
			a := *p.Amount
			out[i].Amount = &a
		}
	}
	return out
}
