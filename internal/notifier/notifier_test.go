package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"RecurLedger/internal/model"
)

func TestFormatBatchResult(t *testing.T) {
	res := &model.BatchResult{TargetDate: civil.Date{Year: 2024, Month: time.January, Day: 8}}
	res.RecordSuccess(&model.RecurringRule{ID: "a", Name: "Rent"}, "txn-1")
	res.RecordFailure(&model.RecurringRule{ID: "b", Name: "Gym <pro>"}, errors.New("boom"))

	got := FormatBatchResult(res)
	for _, want := range []string{"2024-01-08", "1 executed, 1 failed", "✅ Rent", "❌ Gym &lt;pro&gt;: failed: boom"} {
		if !strings.Contains(got, want) {
			t.Errorf("report missing %q:\n%s", want, got)
		}
	}
}

func TestFormatRuleListAndHistory(t *testing.T) {
	if got := FormatRuleList(nil); got != "No recurring rules." {
		t.Errorf("empty list = %q", got)
	}
	next := civil.Date{Year: 2024, Month: time.February, Day: 1}
	got := FormatRuleList([]*model.RecurringRule{{Name: "Rent", RecurrenceType: model.RecurMonthly, IsActive: true, NextExecution: &next}})
	if !strings.Contains(got, "[on] Rent (monthly) next: 2024-02-01") {
		t.Errorf("rule list = %s", got)
	}

	h := FormatHistory([]model.ExecutionLogEntry{
		{RuleID: "0123456789", OccurrenceDate: next, Success: true, TransactionID: "t1"},
		{RuleID: "r2", OccurrenceDate: next, ErrorMessage: "no postings"},
	})
	if !strings.Contains(h, "✅ 2024-02-01 01234567 txn t1") || !strings.Contains(h, "❌ 2024-02-01 r2 no postings") {
		t.Errorf("history = %s", h)
	}
}

func TestTelegramSend(t *testing.T) {
	var payload map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botTOKEN/sendMessage" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&payload)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42", "", 100, zerolog.Nop())
	n.APIBase = srv.URL
	if err := n.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if payload["chat_id"] != "42" || payload["text"] != "hello" {
		t.Errorf("payload = %v", payload)
	}
}

func TestTelegramSendWithRetry_GivesUp(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42", "", 100, zerolog.Nop())
	n.APIBase = srv.URL
	if err := n.SendWithRetry(context.Background(), "hi", 0); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
