package model

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

// ExecutionLogEntry records one execution attempt of a rule for one occurrence.
// (RuleID, OccurrenceDate) with Success=true is unique.
type ExecutionLogEntry struct {
	ID             string     `json:"id"`
	RuleID         string     `json:"rule_id"`
	OccurrenceDate civil.Date `json:"occurrence_date"`
	Success        bool       `json:"success"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	TransactionID  string     `json:"transaction_id,omitempty"`
	RecordedAt     time.Time  `json:"recorded_at"`
}

// Outcome is the per-rule line of a batch.
type Outcome struct {
	RuleID   string `json:"rule_id"`
	RuleName string `json:"name"`
	Success  bool   `json:"success"`
	Message  string `json:"message"`
}

// BatchResult aggregates one run for a single target date.
type BatchResult struct {
	TargetDate    civil.Date `json:"target_date"`
	ExecutedCount int        `json:"executed_count"`
	FailedCount   int        `json:"failed_count"`
	// Rules that were due but had already succeeded for TargetDate.
	SkippedCount int       `json:"skipped_count"`
	Details      []Outcome `json:"details"`
}

// Success reports whether no occurrence failed.
func (b *BatchResult) Success() bool { return b.FailedCount == 0 }

// Summary renders the counts as a single line.
func (b *BatchResult) Summary() string {
	return fmt.Sprintf("run for %s finished: %d executed, %d failed, %d already done",
		b.TargetDate, b.ExecutedCount, b.FailedCount, b.SkippedCount)
}

// RecordSuccess adds a successful outcome for r.
func (b *BatchResult) RecordSuccess(r *RecurringRule, txnID string) {
	b.ExecutedCount++
	b.Details = append(b.Details, Outcome{RuleID: r.ID, RuleName: r.Name, Success: true, Message: "executed, transaction " + txnID})
}

// RecordFailure adds a failed outcome for r.
func (b *BatchResult) RecordFailure(r *RecurringRule, err error) {
	b.FailedCount++
	b.Details = append(b.Details, Outcome{RuleID: r.ID, RuleName: r.Name, Success: false, Message: "failed: " + err.Error()})
}

// SchedulerStatus describes the background timer job.
type SchedulerStatus struct {
	JobID        string     `json:"id"`
	Name         string     `json:"name"`
	Spec         string     `json:"trigger"`
	Running      bool       `json:"running"`
	NextFireTime *time.Time `json:"next_run,omitempty"`
}
