package model

import (
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

func validRule() *RecurringRule {
	amt := decimal.NewFromInt(5)
	end := civil.Date{Year: 2024, Month: time.December, Day: 31}
	return &RecurringRule{
		ID:             "r1",
		Name:           "coffee",
		RecurrenceType: RecurWeekly,
		StartDate:      civil.Date{Year: 2024, Month: time.January, Day: 1},
		EndDate:        &end,
		WeeklyDays:     []int{1, 3},
		IsActive:       true,
		Template: Template{
			Narration: "coffee beans",
			Tags:      []string{"food"},
			Postings:  []Posting{{Account: "Expenses:Food", Amount: &amt, Currency: "EUR"}},
		},
	}
}

func TestValidate(t *testing.T) {
	if err := validRule().Validate(); err != nil {
		t.Fatalf("valid rule rejected: %v", err)
	}

	tests := []struct {
		name   string
		field  string
		mutate func(r *RecurringRule)
	}{
		{"blank name", "name", func(r *RecurringRule) { r.Name = " " }},
		{"blank narration", "narration", func(r *RecurringRule) { r.Narration = "" }},
		{"unknown type", "recurrence_type", func(r *RecurringRule) { r.RecurrenceType = "yearly" }},
		{"missing start", "start_date", func(r *RecurringRule) { r.StartDate = civil.Date{} }},
		{"end before start", "end_date", func(r *RecurringRule) {
			d := r.StartDate.AddDays(-1)
			r.EndDate = &d
		}},
		{"weekday out of range", "weekly_days", func(r *RecurringRule) { r.WeeklyDays = []int{7} }},
		{"weekly without days", "weekly_days", func(r *RecurringRule) { r.WeeklyDays = nil }},
		{"month day out of range", "monthly_days", func(r *RecurringRule) { r.MonthlyDays = []int{0} }},
		{"monthly without days", "monthly_days", func(r *RecurringRule) { r.RecurrenceType = RecurMonthly }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRule()
			tt.mutate(r)
			var ve *ValidationError
			if err := r.Validate(); !errors.As(err, &ve) || ve.Field != tt.field {
				t.Errorf("Validate() = %v, want ValidationError on %s", err, tt.field)
			}
		})
	}
}

func TestClone_IsDeep(t *testing.T) {
	r := validRule()
	c := r.Clone()

	c.WeeklyDays[0] = 5
	c.Tags[0] = "x"
	*c.Postings[0].Amount = decimal.NewFromInt(99)
	*c.EndDate = c.EndDate.AddDays(1)

	if r.WeeklyDays[0] != 1 || r.Tags[0] != "food" || !r.Postings[0].Amount.Equal(decimal.NewFromInt(5)) {
		t.Error("clone shares slice or amount storage")
	}
	if r.EndDate.Day != 31 {
		t.Error("clone shares end date")
	}
}

func TestBatchResult(t *testing.T) {
	b := &BatchResult{TargetDate: civil.Date{Year: 2024, Month: time.May, Day: 2}}
	if !b.Success() {
		t.Error("empty batch should be a success")
	}
	r := validRule()
	b.RecordSuccess(r, "t1")
	b.RecordFailure(r, errors.New("boom"))
	b.SkippedCount = 2

	if b.Success() || b.ExecutedCount != 1 || b.FailedCount != 1 || len(b.Details) != 2 {
		t.Errorf("batch = %+v", b)
	}
	want := "run for 2024-05-02 finished: 1 executed, 1 failed, 2 already done"
	if got := b.Summary(); got != want {
		t.Errorf("Summary() = %q, want %q", got, want)
	}
}

func TestPersistence(t *testing.T) {
	if Persistence("op", nil) != nil {
		t.Error("nil error wrapped")
	}
	if err := Persistence("op", ErrNotFound); err != ErrNotFound {
		t.Errorf("sentinel wrapped: %v", err)
	}
	ve := &ValidationError{Field: "name"}
	if err := Persistence("op", ve); err != ve {
		t.Errorf("validation error wrapped: %v", err)
	}
	var pe *PersistenceError
	if err := Persistence("op", errors.New("io")); !errors.As(err, &pe) || pe.Op != "op" {
		t.Errorf("plain error not wrapped: %v", err)
	}
	err := Persistence("append", ErrDuplicateSuccess)
	if !errors.As(err, &pe) || !errors.Is(err, ErrDuplicateSuccess) {
		t.Errorf("duplicate success = %v, want PersistenceError wrapping the sentinel", err)
	}
}
