package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"RecurLedger/internal/engine"
	"RecurLedger/internal/model"
	"RecurLedger/internal/notifier"
	"RecurLedger/internal/recurrence"
	"RecurLedger/internal/store"
)

const (
	// JobID identifies the daily execution job.
	JobID   = "daily_recurring_transactions"
	jobName = "daily recurring transactions"

	// DefaultSpec fires every day at 12:00 (seconds field first).
	DefaultSpec = "0 0 12 * * *"

	DefaultHistoryDays = 30
	MaxHistoryDays     = 365
)

// Notifier delivers run reports.
type Notifier interface {
	SendWithRetry(ctx context.Context, text string, maxRetries int) error
}

// Scheduler owns the recurring rules, triggers execution runs and runs the
// background timer.
type Scheduler struct {
	Cron     *cron.Cron
	Runner   *engine.Runner
	Store    store.Store
	Clock    model.Clock
	Notifier Notifier // optional
	Ctx      context.Context

	// RunTimeout bounds how long timer and command triggers wait for a result.
	RunTimeout time.Duration

	log zerolog.Logger
	now func() time.Time

	mu      sync.Mutex
	entryID cron.EntryID
	spec    string
	running bool
}

// NewScheduler creates a Scheduler. The timer is not started.
func NewScheduler(ctx context.Context, runner *engine.Runner, st store.Store, clock model.Clock, loc *time.Location, log zerolog.Logger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		Cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(loc),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger{log})),
		),
		Runner:     runner,
		Store:      st,
		Clock:      clock,
		Ctx:        ctx,
		RunTimeout: 5 * time.Minute,
		log:        log,
		now:        time.Now,
	}
}

// Register installs the daily execution job with the given cron spec,
// replacing any previous registration.
func (s *Scheduler) Register(spec string) error {
	if spec == "" {
		spec = DefaultSpec
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.Cron.AddFunc(spec, s.timerTask)
	if err != nil {
		return fmt.Errorf("register %s: %w", JobID, err)
	}
	if s.entryID != 0 {
		s.Cron.Remove(s.entryID)
	}
	s.entryID = id
	s.spec = spec
	s.log.Info().Str("job", JobID).Str("spec", spec).Msg("timer job registered")
	return nil
}

// Reschedule changes the spec of the timer job. No-op if unchanged.
func (s *Scheduler) Reschedule(spec string) error {
	s.mu.Lock()
	same := spec == s.spec
	s.mu.Unlock()
	if same {
		return nil
	}
	return s.Register(spec)
}

// Start starts the background timer.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.Cron.Start()
	s.running = true
	s.log.Info().Msg("scheduler started")
}

// Stop stops the timer and waits for a running timer job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.Cron.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
}

// Status reports the timer job and its next fire time.
func (s *Scheduler) Status() model.SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := model.SchedulerStatus{JobID: JobID, Name: jobName, Spec: s.spec, Running: s.running}
	if s.entryID == 0 {
		return st
	}
	if e := s.Cron.Entry(s.entryID); e.Valid() && !e.Next.IsZero() {
		next := e.Next
		st.NextFireTime = &next
	}
	return st
}

// RunNow triggers the timer job immediately (manual trigger / RUN_ON_START).
func (s *Scheduler) RunNow() {
	s.timerTask()
}

func (s *Scheduler) timerTask() {
	ctx, cancel := context.WithTimeout(s.Ctx, s.RunTimeout)
	defer cancel()

	s.log.Info().Msg("running daily recurring transactions")
	res, err := s.Execute(ctx, nil)
	switch {
	case errors.Is(err, model.ErrRunInProgress):
		s.log.Warn().Msg("previous run still in progress, skipping")
		return
	case errors.Is(err, model.ErrResultTimeout):
		s.log.Warn().Dur("timeout", s.RunTimeout).Msg("run result not available in time")
		return
	case err != nil:
		s.log.Error().Err(err).Msg("daily run failed")
		s.trySend(fmt.Sprintf("❌ recurring run failed: %v", err))
		return
	}

	if res.Success() {
		s.log.Info().Msg(res.Summary())
	} else {
		for _, d := range res.Details {
			if !d.Success {
				s.log.Warn().Str("rule", d.RuleName).Msg(d.Message)
			}
		}
	}
	if res.ExecutedCount > 0 || res.FailedCount > 0 {
		s.trySend(notifier.FormatBatchResult(res))
	}
}

// Execute runs the engine for date, or for today when date is nil. If ctx
// ends before the run does, Execute returns model.ErrResultTimeout and the
// run completes in the background.
func (s *Scheduler) Execute(ctx context.Context, date *civil.Date, ruleIDs ...string) (*model.BatchResult, error) {
	target := s.Clock.Today()
	if date != nil {
		target = *date
	}

	type outcome struct {
		res *model.BatchResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := s.Runner.Run(context.WithoutCancel(ctx), target, ruleIDs...)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		s.log.Warn().Str("target_date", target.String()).Msg("caller stopped waiting, run continues in background")
		return nil, model.ErrResultTimeout
	}
}

// TriggerNow executes today's due rules, as the timer would, and returns the result.
func (s *Scheduler) TriggerNow(ctx context.Context) (*model.BatchResult, error) {
	return s.Execute(ctx, nil)
}

// Backfill executes, in order, every date in [from, to] on which at least
// one stored rule is due. Catch-up is an explicit caller decision; the
// timer never does this on its own.
func (s *Scheduler) Backfill(ctx context.Context, from, to civil.Date) ([]*model.BatchResult, error) {
	if to.Before(from) {
		return nil, &model.ValidationError{Field: "to", Reason: "is before from"}
	}
	rules, err := s.Store.ListRules(ctx)
	if err != nil {
		return nil, model.Persistence("list rules", err)
	}
	due := make(map[civil.Date]bool)
	for _, r := range rules {
		for _, d := range recurrence.Occurrences(r, from, to) {
			due[d] = true
		}
	}
	s.log.Info().Str("from", from.String()).Str("to", to.String()).Int("dates", len(due)).Msg("backfill started")

	var results []*model.BatchResult
	for d := from; !d.After(to); d = d.AddDays(1) {
		if !due[d] {
			continue
		}
		day := d
		res, err := s.Execute(ctx, &day)
		if res != nil {
			results = append(results, res)
		}
		if err != nil {
			return results, fmt.Errorf("backfill %s: %w", day, err)
		}
	}
	return results, nil
}

// Create validates and stores a new rule. The id is assigned here.
func (s *Scheduler) Create(ctx context.Context, in *model.RecurringRule) (*model.RecurringRule, error) {
	r := in.Clone()
	r.ID = uuid.NewString()
	if r.Flag == "" {
		r.Flag = model.DefaultFlag
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	now := s.now()
	r.CreatedAt, r.UpdatedAt = now, now
	r.LastExecuted = nil
	r.NextExecution = s.Runner.NextExecution(r, s.Clock.Today())

	if err := s.Store.SaveRule(ctx, r); err != nil {
		return nil, model.Persistence("save rule", err)
	}
	s.log.Info().Str("rule_id", r.ID).Str("rule", r.Name).Msg("recurring rule created")
	return r, nil
}

// Get returns a rule with a freshly computed NextExecution.
func (s *Scheduler) Get(ctx context.Context, id string) (*model.RecurringRule, error) {
	r, err := s.Store.GetRule(ctx, id)
	if err != nil {
		return nil, model.Persistence("get rule", err)
	}
	r.NextExecution = s.Runner.NextExecution(r, s.Clock.Today())
	return r, nil
}

// List returns all rules, or only active ones, in id order.
func (s *Scheduler) List(ctx context.Context, activeOnly bool) ([]*model.RecurringRule, error) {
	rules, err := s.Store.ListRules(ctx)
	if err != nil {
		return nil, model.Persistence("list rules", err)
	}
	today := s.Clock.Today()
	out := rules[:0]
	for _, r := range rules {
		if activeOnly && !r.IsActive {
			continue
		}
		r.NextExecution = s.Runner.NextExecution(r, today)
		out = append(out, r)
	}
	return out, nil
}

// Update applies fn to the stored rule. The id, creation time and execution
// summary cannot be changed; the result is validated before it is saved.
func (s *Scheduler) Update(ctx context.Context, id string, fn func(r *model.RecurringRule) error) (*model.RecurringRule, error) {
	r, err := s.Runner.UpdateRule(ctx, id, func(r *model.RecurringRule) error {
		orig := r.Clone()
		if err := fn(r); err != nil {
			return err
		}
		r.ID = orig.ID
		r.CreatedAt = orig.CreatedAt
		r.LastExecuted = orig.LastExecuted
		if r.Flag == "" {
			r.Flag = model.DefaultFlag
		}
		if err := r.Validate(); err != nil {
			return err
		}
		r.UpdatedAt = s.now()
		r.NextExecution = s.Runner.NextExecution(r, s.Clock.Today())
		return nil
	})
	if err != nil {
		return nil, model.Persistence("update rule", err)
	}
	return r, nil
}

// Toggle flips IsActive.
func (s *Scheduler) Toggle(ctx context.Context, id string) (*model.RecurringRule, error) {
	r, err := s.Update(ctx, id, func(r *model.RecurringRule) error {
		r.IsActive = !r.IsActive
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("rule_id", id).Bool("active", r.IsActive).Msg("recurring rule toggled")
	return r, nil
}

// Delete removes a rule. A rule with execution history is only removed
// when cascade is set, in which case its log entries are deleted first.
func (s *Scheduler) Delete(ctx context.Context, id string, cascade bool) error {
	n, err := s.Runner.DeleteRule(ctx, id, cascade)
	if err != nil {
		return err
	}
	s.log.Info().Str("rule_id", id).Int("log_entries", n).Msg("recurring rule deleted")
	return nil
}

// History returns log entries whose occurrence falls within the last
// sinceDays days, newest first. Zero uses the default.
func (s *Scheduler) History(ctx context.Context, ruleID string, sinceDays int) ([]model.ExecutionLogEntry, error) {
	if sinceDays == 0 {
		sinceDays = DefaultHistoryDays
	}
	if sinceDays < 1 || sinceDays > MaxHistoryDays {
		return nil, &model.ValidationError{Field: "days", Reason: fmt.Sprintf("must be within 1..%d", MaxHistoryDays)}
	}
	since := s.Clock.Today().AddDays(-sinceDays)
	entries, err := s.Store.History(ctx, store.HistoryFilter{RuleID: ruleID, Since: &since})
	if err != nil {
		return nil, model.Persistence("read history", err)
	}
	return entries, nil
}

// HandleCommand processes a chat command and returns a reply.
func (s *Scheduler) HandleCommand(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return notifier.HelpText
	}
	ctx, cancel := context.WithTimeout(s.Ctx, s.RunTimeout)
	defer cancel()

	switch fields[0] {
	case "/run":
		var date *civil.Date
		if len(fields) > 1 {
			d, err := civil.ParseDate(fields[1])
			if err != nil {
				return "invalid date, expected YYYY-MM-DD"
			}
			date = &d
		}
		res, err := s.Execute(ctx, date)
		if err != nil {
			return "run failed: " + err.Error()
		}
		return notifier.FormatBatchResult(res)
	case "/rules":
		rules, err := s.List(ctx, false)
		if err != nil {
			return "list failed: " + err.Error()
		}
		return notifier.FormatRuleList(rules)
	case "/status":
		return notifier.FormatStatus(s.Status())
	case "/logs":
		days := DefaultHistoryDays
		if len(fields) > 1 {
			n, err := strconv.Atoi(fields[1])
			if err != nil {
				return "invalid days, expected a number"
			}
			days = n
		}
		entries, err := s.History(ctx, "", days)
		if err != nil {
			return "history failed: " + err.Error()
		}
		return notifier.FormatHistory(entries)
	default:
		return notifier.HelpText
	}
}

func (s *Scheduler) trySend(text string) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.SendWithRetry(s.Ctx, text, 3); err != nil {
		s.log.Error().Err(err).Msg("send notification")
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
