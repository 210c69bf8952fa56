package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"RecurLedger/internal/engine"
	"RecurLedger/internal/model"
	"RecurLedger/internal/store"
)

var today = civil.Date{Year: 2024, Month: time.January, Day: 8} // Monday

type stubWriter struct {
	mu      sync.Mutex
	n       int
	block   chan struct{}
	entered chan struct{}
}

func (w *stubWriter) Append(_ context.Context, _ *model.TransactionDraft) (string, error) {
	if w.entered != nil {
		w.entered <- struct{}{}
	}
	if w.block != nil {
		<-w.block
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.n++
	return fmt.Sprintf("txn-%d", w.n), nil
}

func newScheduler(t *testing.T) (*Scheduler, *store.MemoryStore, *stubWriter) {
	t.Helper()
	st := store.NewMemoryStore()
	w := &stubWriter{}
	clock := model.FixedClock(today)
	runner := engine.NewRunner(st, w, clock, zerolog.Nop())
	s := NewScheduler(context.Background(), runner, st, clock, time.UTC, zerolog.Nop())
	return s, st, w
}

func input(name string, t model.RecurrenceType) *model.RecurringRule {
	amt := decimal.NewFromInt(1200)
	return &model.RecurringRule{
		Name:           name,
		RecurrenceType: t,
		StartDate:      civil.Date{Year: 2023, Month: time.January, Day: 1},
		IsActive:       true,
		Template: model.Template{
			Narration: name,
			Postings: []model.Posting{
				{Account: "Expenses:Rent", Amount: &amt, Currency: "EUR"},
				{Account: "Assets:Bank"},
			},
		},
	}
}

func TestCreate(t *testing.T) {
	s, st, _ := newScheduler(t)
	ctx := context.Background()

	r, err := s.Create(ctx, input("rent", model.RecurDaily))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if r.ID == "" || r.Flag != model.DefaultFlag || r.CreatedAt.IsZero() {
		t.Errorf("created rule = %+v", r)
	}
	if r.NextExecution == nil || *r.NextExecution != today {
		t.Errorf("NextExecution = %v, want %s", r.NextExecution, today)
	}
	if _, err := st.GetRule(ctx, r.ID); err != nil {
		t.Errorf("rule not persisted: %v", err)
	}

	bad := input("weekly", model.RecurWeekly)
	_, err = s.Create(ctx, bad)
	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("weekly without days: err = %v, want ValidationError", err)
	}
}

func TestUpdateAndToggle(t *testing.T) {
	s, _, _ := newScheduler(t)
	ctx := context.Background()
	r, _ := s.Create(ctx, input("rent", model.RecurDaily))

	got, err := s.Update(ctx, r.ID, func(u *model.RecurringRule) error {
		u.ID = "hijack"
		u.Name = "rent v2"
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.ID != r.ID || got.Name != "rent v2" {
		t.Errorf("updated = %+v", got)
	}

	_, err = s.Update(ctx, r.ID, func(u *model.RecurringRule) error {
		u.RecurrenceType = model.RecurMonthly
		return nil
	})
	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("invalid update: err = %v", err)
	}
	stored, _ := s.Get(ctx, r.ID)
	if stored.RecurrenceType != model.RecurDaily {
		t.Error("rejected update was persisted")
	}

	toggled, err := s.Toggle(ctx, r.ID)
	if err != nil || toggled.IsActive {
		t.Fatalf("Toggle = %+v, %v", toggled, err)
	}
	active, _ := s.List(ctx, true)
	if len(active) != 0 {
		t.Errorf("active list = %d rules", len(active))
	}
	all, _ := s.List(ctx, false)
	if len(all) != 1 {
		t.Errorf("full list = %d rules", len(all))
	}

	if _, err := s.Toggle(ctx, "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("Toggle missing = %v", err)
	}
}

func TestDelete(t *testing.T) {
	s, st, _ := newScheduler(t)
	ctx := context.Background()

	plain, _ := s.Create(ctx, input("plain", model.RecurDaily))
	if err := s.Delete(ctx, plain.ID, false); err != nil {
		t.Fatalf("Delete without history: %v", err)
	}

	used, _ := s.Create(ctx, input("used", model.RecurDaily))
	if _, err := s.Execute(ctx, nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if err := s.Delete(ctx, used.ID, false); !errors.Is(err, model.ErrHasHistory) {
		t.Fatalf("Delete with history = %v, want ErrHasHistory", err)
	}
	if err := s.Delete(ctx, used.ID, true); err != nil {
		t.Fatalf("cascade Delete: %v", err)
	}
	if n, _ := st.CountExecutions(ctx, used.ID); n != 0 {
		t.Errorf("%d log entries survived cascade", n)
	}
	if err := s.Delete(ctx, used.ID, true); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("second Delete = %v", err)
	}
}

func TestDelete_DuringRunKeepsHistory(t *testing.T) {
	s, st, w := newScheduler(t)
	w.block = make(chan struct{})
	w.entered = make(chan struct{}, 1)
	ctx := context.Background()
	r, _ := s.Create(ctx, input("rent", model.RecurDaily))

	runDone := make(chan error, 1)
	go func() {
		_, err := s.Execute(ctx, nil)
		runDone <- err
	}()
	<-w.entered

	delDone := make(chan error, 1)
	go func() { delDone <- s.Delete(ctx, r.ID, false) }()
	time.Sleep(20 * time.Millisecond)
	close(w.block)

	if err := <-runDone; err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if err := <-delDone; !errors.Is(err, model.ErrHasHistory) {
		t.Fatalf("Delete = %v, want ErrHasHistory", err)
	}
	if _, err := st.GetRule(ctx, r.ID); err != nil {
		t.Errorf("rule removed while it has history: %v", err)
	}
	if n, _ := st.CountExecutions(ctx, r.ID); n != 1 {
		t.Errorf("log entries = %d, want 1", n)
	}
}

func TestExecute_DefaultsToToday(t *testing.T) {
	s, st, _ := newScheduler(t)
	ctx := context.Background()
	r, _ := s.Create(ctx, input("rent", model.RecurDaily))

	res, err := s.Execute(ctx, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.TargetDate != today || res.ExecutedCount != 1 {
		t.Errorf("result = %+v", res)
	}
	if ok, _ := st.HasSucceeded(ctx, r.ID, today); !ok {
		t.Error("no success entry for today")
	}
}

func TestExecute_TimeoutLetsRunFinish(t *testing.T) {
	s, st, w := newScheduler(t)
	w.block = make(chan struct{})
	r, _ := s.Create(context.Background(), input("rent", model.RecurDaily))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := s.Execute(ctx, nil); !errors.Is(err, model.ErrResultTimeout) {
		t.Fatalf("Execute = %v, want ErrResultTimeout", err)
	}

	close(w.block)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ok, _ := st.HasSucceeded(context.Background(), r.ID, today); ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("background run did not complete")
}

func TestBackfill(t *testing.T) {
	s, _, w := newScheduler(t)
	ctx := context.Background()
	s.Create(ctx, input("rent", model.RecurDaily))

	from := civil.Date{Year: 2024, Month: time.January, Day: 1}
	results, err := s.Backfill(ctx, from, from.AddDays(2))
	if err != nil {
		t.Fatalf("Backfill: %v", err)
	}
	if len(results) != 3 || w.n != 3 {
		t.Errorf("results=%d writes=%d, want 3/3", len(results), w.n)
	}
	if _, err := s.Backfill(ctx, from, from.AddDays(-1)); err == nil {
		t.Error("reversed range should fail")
	}
}

func TestBackfill_OnlyDueDates(t *testing.T) {
	s, _, w := newScheduler(t)
	ctx := context.Background()
	weekly := input("gym", model.RecurWeekly)
	weekly.WeeklyDays = []int{1} // Monday
	if _, err := s.Create(ctx, weekly); err != nil {
		t.Fatalf("Create: %v", err)
	}

	from := civil.Date{Year: 2024, Month: time.January, Day: 1} // Monday
	results, err := s.Backfill(ctx, from, from.AddDays(13))
	if err != nil {
		t.Fatalf("Backfill: %v", err)
	}
	if len(results) != 2 || w.n != 2 {
		t.Fatalf("results=%d writes=%d, want 2/2", len(results), w.n)
	}
	if results[0].TargetDate != from || results[1].TargetDate != from.AddDays(7) {
		t.Errorf("backfilled dates = %s, %s", results[0].TargetDate, results[1].TargetDate)
	}
}

func TestHistory(t *testing.T) {
	s, _, _ := newScheduler(t)
	ctx := context.Background()
	r, _ := s.Create(ctx, input("rent", model.RecurDaily))
	old := today.AddDays(-40)
	s.Execute(ctx, &old)
	s.Execute(ctx, nil)

	entries, err := s.History(ctx, r.ID, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(entries) != 1 || entries[0].OccurrenceDate != today {
		t.Errorf("default window entries = %+v", entries)
	}
	entries, _ = s.History(ctx, "", 60)
	if len(entries) != 2 {
		t.Errorf("60-day window has %d entries", len(entries))
	}
	var ve *model.ValidationError
	for _, days := range []int{-1, 366} {
		if _, err := s.History(ctx, "", days); !errors.As(err, &ve) {
			t.Errorf("History(%d) = %v, want ValidationError", days, err)
		}
	}
}

func TestTimerLifecycle(t *testing.T) {
	s, _, _ := newScheduler(t)
	if err := s.Register(""); err != nil {
		t.Fatalf("Register: %v", err)
	}
	st := s.Status()
	if st.JobID != JobID || st.Spec != DefaultSpec || st.Running {
		t.Errorf("status before start = %+v", st)
	}

	if err := s.Reschedule("not a spec"); err == nil {
		t.Error("invalid spec accepted")
	}
	if s.Status().Spec != DefaultSpec {
		t.Error("failed reschedule replaced the job")
	}
	if err := s.Reschedule("0 30 6 * * *"); err != nil {
		t.Fatalf("Reschedule: %v", err)
	}

	s.Start()
	defer s.Stop()
	st = s.Status()
	if !st.Running || st.Spec != "0 30 6 * * *" || st.NextFireTime == nil {
		t.Errorf("status after start = %+v", st)
	}
	if h, m := st.NextFireTime.Hour(), st.NextFireTime.Minute(); h != 6 || m != 30 {
		t.Errorf("next fire at %s", st.NextFireTime)
	}
}

func TestHandleCommand(t *testing.T) {
	s, _, _ := newScheduler(t)
	s.Register("")
	s.Create(context.Background(), input("rent", model.RecurDaily))

	if got := s.HandleCommand("/run 2024-01-03"); !strings.Contains(got, "2024-01-03") || !strings.Contains(got, "1 executed") {
		t.Errorf("/run reply = %s", got)
	}
	if got := s.HandleCommand("/run yesterday"); !strings.Contains(got, "invalid date") {
		t.Errorf("/run bad date reply = %s", got)
	}
	if got := s.HandleCommand("/rules"); !strings.Contains(got, "rent") {
		t.Errorf("/rules reply = %s", got)
	}
	if got := s.HandleCommand("/status"); !strings.Contains(got, JobID) {
		t.Errorf("/status reply = %s", got)
	}
	if got := s.HandleCommand("/logs 7"); !strings.Contains(got, "2024-01-03") {
		t.Errorf("/logs reply = %s", got)
	}
	if got := s.HandleCommand("/logs abc"); got != "invalid days, expected a number" {
		t.Errorf("/logs bad days reply = %s", got)
	}
	if got := s.HandleCommand("/help"); !strings.HasPrefix(got, "Commands:") {
		t.Errorf("/help reply = %s", got)
	}
}
