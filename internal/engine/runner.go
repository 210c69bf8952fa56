// Package engine executes due recurring rules for a target date.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"RecurLedger/internal/ledger"
	"RecurLedger/internal/model"
	"RecurLedger/internal/recurrence"
	"RecurLedger/internal/store"
)

// Runner performs execution passes. At most one Run executes at a time.
type Runner struct {
	store  store.Store
	writer model.LedgerWriter
	clock  model.Clock
	log    zerolog.Logger

	// HorizonDays bounds the advisory next-execution scan.
	HorizonDays int

	runMu  sync.Mutex
	ruleMu sync.Mutex
	now    func() time.Time
}

// NewRunner creates a Runner over the given store, writer and clock.
func NewRunner(st store.Store, w model.LedgerWriter, clock model.Clock, log zerolog.Logger) *Runner {
	return &Runner{
		store:       st,
		writer:      w,
		clock:       clock,
		log:         log,
		HorizonDays: recurrence.DefaultHorizonDays,
		now:         time.Now,
	}
}

// Run executes every due, not yet succeeded rule for target. With ruleIDs
// the candidates are limited to that subset. Per-occurrence failures are
// recorded and the batch continues; store failures abort the run and are
// returned as a *model.PersistenceError together with the partial result.
// A concurrent call returns model.ErrRunInProgress.
func (r *Runner) Run(ctx context.Context, target civil.Date, ruleIDs ...string) (*model.BatchResult, error) {
	if !r.runMu.TryLock() {
		return nil, model.ErrRunInProgress
	}
	defer r.runMu.Unlock()

	started := r.now()
	result := &model.BatchResult{TargetDate: target, Details: []model.Outcome{}}

	rules, err := r.candidates(ctx, ruleIDs)
	if err != nil {
		return result, model.Persistence("list rules", err)
	}

	var executed []*model.RecurringRule
	for _, rule := range rules {
		if !recurrence.IsDue(rule, target) {
			continue
		}
		done, err := r.store.HasSucceeded(ctx, rule.ID, target)
		if err != nil {
			return result, model.Persistence("check execution log", err)
		}
		if done {
			result.SkippedCount++
			continue
		}

		ok, err := r.executeOne(ctx, rule, target, result)
		if err != nil {
			return result, err
		}
		if ok {
			executed = append(executed, rule)
		}
	}

	for _, rule := range executed {
		if err := r.refreshAdvisory(ctx, rule.ID, target); err != nil {
			// Advisory fields only; the log already holds the truth.
			r.log.Warn().Err(err).Str("rule_id", rule.ID).Msg("refresh advisory fields failed")
		}
	}

	r.log.Info().
		Str("target_date", target.String()).
		Int("executed", result.ExecutedCount).
		Int("failed", result.FailedCount).
		Int("skipped", result.SkippedCount).
		Dur("took", r.now().Sub(started)).
		Msg("run finished")
	return result, nil
}

// executeOne materializes, writes and logs a single occurrence. The bool
// reports a successful write; a non-nil error means the log is unavailable
// and the run must stop.
func (r *Runner) executeOne(ctx context.Context, rule *model.RecurringRule, target civil.Date, result *model.BatchResult) (bool, error) {
	log := r.log.With().Str("rule_id", rule.ID).Str("rule", rule.Name).Str("date", target.String()).Logger()

	txnID, execErr := r.write(ctx, rule, target)
	entry := model.ExecutionLogEntry{
		ID:             uuid.NewString(),
		RuleID:         rule.ID,
		OccurrenceDate: target,
		RecordedAt:     r.now(),
	}
	if execErr != nil {
		entry.ErrorMessage = execErr.Error()
	} else {
		entry.Success = true
		entry.TransactionID = txnID
	}

	if err := r.store.AppendExecution(ctx, entry); err != nil {
		if execErr == nil {
			// The transaction is in the ledger but not in the log.
			log.Error().Err(err).Str("txn_id", txnID).Msg("transaction written but not logged")
		}
		result.RecordFailure(rule, err)
		return false, model.Persistence("append execution log", err)
	}

	if execErr != nil {
		log.Warn().Err(execErr).Msg("occurrence failed")
		result.RecordFailure(rule, execErr)
		return false, nil
	}
	log.Info().Str("txn_id", txnID).Msg("occurrence executed")
	result.RecordSuccess(rule, txnID)
	return true, nil
}

func (r *Runner) write(ctx context.Context, rule *model.RecurringRule, target civil.Date) (string, error) {
	draft, err := ledger.Materialize(rule, target)
	if err != nil {
		return "", err
	}
	id, err := r.writer.Append(ctx, draft)
	if err != nil {
		var lwe *model.LedgerWriteError
		if !errors.As(err, &lwe) {
			err = &model.LedgerWriteError{Err: err}
		}
		return "", err
	}
	return id, nil
}

// candidates returns the rules to consider, in stable id order.
func (r *Runner) candidates(ctx context.Context, ruleIDs []string) ([]*model.RecurringRule, error) {
	if len(ruleIDs) == 0 {
		return r.store.ListRules(ctx)
	}
	seen := make(map[string]bool, len(ruleIDs))
	var out []*model.RecurringRule
	for _, id := range ruleIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		rule, err := r.store.GetRule(ctx, id)
		if errors.Is(err, model.ErrNotFound) {
			r.log.Warn().Str("rule_id", id).Msg("requested rule does not exist")
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateRule applies fn to the stored rule under the rule lock and saves
// the result. All read-modify-write of rules goes through here.
func (r *Runner) UpdateRule(ctx context.Context, id string, fn func(rule *model.RecurringRule) error) (*model.RecurringRule, error) {
	r.ruleMu.Lock()
	defer r.ruleMu.Unlock()

	rule, err := r.store.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(rule); err != nil {
		return nil, err
	}
	if err := r.store.SaveRule(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// DeleteRule removes a rule and reports how many log entries it had. A rule
// with history is refused with model.ErrHasHistory unless cascade is set, in
// which case its log goes first. It waits for an in-flight Run so the
// count cannot go stale before the delete lands.
func (r *Runner) DeleteRule(ctx context.Context, id string, cascade bool) (int, error) {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	r.ruleMu.Lock()
	defer r.ruleMu.Unlock()

	if _, err := r.store.GetRule(ctx, id); err != nil {
		return 0, model.Persistence("get rule", err)
	}
	n, err := r.store.CountExecutions(ctx, id)
	if err != nil {
		return 0, model.Persistence("count executions", err)
	}
	if n > 0 {
		if !cascade {
			return n, fmt.Errorf("delete rule %s (%d log entries): %w", id, n, model.ErrHasHistory)
		}
		if err := r.store.DeleteExecutions(ctx, id); err != nil {
			return n, model.Persistence("delete executions", err)
		}
	}
	if err := r.store.DeleteRule(ctx, id); err != nil {
		return n, model.Persistence("delete rule", err)
	}
	return n, nil
}

// refreshAdvisory updates LastExecuted and NextExecution after a success.
func (r *Runner) refreshAdvisory(ctx context.Context, id string, executed civil.Date) error {
	_, err := r.UpdateRule(ctx, id, func(rule *model.RecurringRule) error {
		if rule.LastExecuted == nil || executed.After(*rule.LastExecuted) {
			d := executed
			rule.LastExecuted = &d
		}
		rule.NextExecution = r.NextExecution(rule, r.clock.Today())
		return nil
	})
	return err
}

// NextExecution computes the advisory next occurrence date of rule as seen
// from today, or nil if there is none within the horizon.
func (r *Runner) NextExecution(rule *model.RecurringRule, today civil.Date) *civil.Date {
	if rule.EndDate != nil && today.After(*rule.EndDate) {
		return nil
	}
	from := recurrence.ScanStart(today, rule.LastExecuted)
	d, ok := recurrence.NextOccurrence(rule, from, r.HorizonDays)
	if !ok {
		return nil
	}
	return &d
}
