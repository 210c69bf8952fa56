package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"RecurLedger/internal/engine"
	"RecurLedger/internal/logger"
	"RecurLedger/internal/model"
	"RecurLedger/internal/scheduler"
	"RecurLedger/internal/store"
)

type countingWriter struct{ n int }

func (w *countingWriter) Append(context.Context, *model.TransactionDraft) (string, error) {
	w.n++
	return fmt.Sprintf("txn-%d", w.n), nil
}

func newServer(t *testing.T) *Server {
	t.Helper()
	return newServerWithLog(t, zerolog.Nop())
}

func newServerWithLog(t *testing.T, log zerolog.Logger) *Server {
	t.Helper()
	st := store.NewMemoryStore()
	clock := model.FixedClock(civil.Date{Year: 2024, Month: time.January, Day: 8})
	runner := engine.NewRunner(st, &countingWriter{}, clock, zerolog.Nop())
	sched := scheduler.NewScheduler(context.Background(), runner, st, clock, time.UTC, zerolog.Nop())
	if err := sched.Register(""); err != nil {
		t.Fatal(err)
	}
	return New(sched, log)
}

func do(t *testing.T, s *Server, method, path, body string, out any) int {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.App().Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

const rentBody = `{
	"name": "rent",
	"recurrence_type": "monthly",
	"start_date": "2024-01-01",
	"monthly_days": [8],
	"narration": "Monthly rent",
	"postings": [
		{"account": "Expenses:Rent", "amount": "1200", "currency": "EUR"},
		{"account": "Assets:Bank"}
	]
}`

func TestRuleLifecycle(t *testing.T) {
	s := newServer(t)

	var created model.RecurringRule
	if code := do(t, s, http.MethodPost, "/api/recurring/", rentBody, &created); code != http.StatusCreated {
		t.Fatalf("create status = %d", code)
	}
	if !created.IsActive || created.ID == "" {
		t.Errorf("created = %+v", created)
	}

	var updated model.RecurringRule
	if code := do(t, s, http.MethodPut, "/api/recurring/"+created.ID, `{"name":"rent (flat)"}`, &updated); code != http.StatusOK {
		t.Fatalf("update status = %d", code)
	}
	if updated.Name != "rent (flat)" || updated.Narration != "Monthly rent" {
		t.Errorf("partial update = %+v", updated)
	}

	var exec struct {
		Success       bool `json:"success"`
		ExecutedCount int  `json:"executed_count"`
	}
	if code := do(t, s, http.MethodPost, "/api/recurring/execute?execution_date=2024-01-08", "", &exec); code != http.StatusOK {
		t.Fatalf("execute status = %d", code)
	}
	if !exec.Success || exec.ExecutedCount != 1 {
		t.Errorf("execute = %+v", exec)
	}

	var logs []model.ExecutionLogEntry
	do(t, s, http.MethodGet, "/api/recurring/logs/execution?transaction_id="+created.ID+"&days=7", "", &logs)
	if len(logs) != 1 || !logs[0].Success {
		t.Errorf("logs = %+v", logs)
	}

	if code := do(t, s, http.MethodDelete, "/api/recurring/"+created.ID, "", nil); code != http.StatusConflict {
		t.Errorf("delete with history status = %d, want 409", code)
	}
	if code := do(t, s, http.MethodDelete, "/api/recurring/"+created.ID+"?cascade=true", "", nil); code != http.StatusOK {
		t.Errorf("cascade delete status = %d", code)
	}
	if code := do(t, s, http.MethodGet, "/api/recurring/"+created.ID, "", nil); code != http.StatusNotFound {
		t.Errorf("get deleted status = %d", code)
	}
}

func TestValidationAndToggle(t *testing.T) {
	s := newServer(t)

	bad := strings.Replace(rentBody, `"monthly_days": [8],`, "", 1)
	if code := do(t, s, http.MethodPost, "/api/recurring/", bad, nil); code != http.StatusBadRequest {
		t.Errorf("monthly without days status = %d", code)
	}
	if code := do(t, s, http.MethodPost, "/api/recurring/execute?execution_date=08-01-2024", "", nil); code != http.StatusBadRequest {
		t.Errorf("bad date status = %d", code)
	}
	if code := do(t, s, http.MethodGet, "/api/recurring/logs/execution?days=400", "", nil); code != http.StatusBadRequest {
		t.Errorf("days out of range status = %d", code)
	}

	var created model.RecurringRule
	do(t, s, http.MethodPost, "/api/recurring/", rentBody, &created)
	var toggled struct {
		IsActive bool `json:"is_active"`
	}
	do(t, s, http.MethodPut, "/api/recurring/"+created.ID+"/toggle", "", &toggled)
	if toggled.IsActive {
		t.Error("toggle did not deactivate")
	}
	var active []model.RecurringRule
	do(t, s, http.MethodGet, "/api/recurring/?active_only=true", "", &active)
	if len(active) != 0 {
		t.Errorf("active_only returned %d rules", len(active))
	}
}

func TestSchedulerJobs(t *testing.T) {
	s := newServer(t)
	var jobs []model.SchedulerStatus
	if code := do(t, s, http.MethodGet, "/api/recurring/scheduler/jobs", "", &jobs); code != http.StatusOK {
		t.Fatalf("jobs status = %d", code)
	}
	if len(jobs) != 1 || jobs[0].JobID != scheduler.JobID {
		t.Errorf("jobs = %+v", jobs)
	}
	if code := do(t, s, http.MethodPost, "/api/recurring/scheduler/trigger", "", nil); code != http.StatusOK {
		t.Errorf("trigger status = %d", code)
	}
}

func TestErrorsLoggedWithRequestContext(t *testing.T) {
	var buf bytes.Buffer
	s := newServerWithLog(t, logger.NewWithWriter(&buf))

	if code := do(t, s, http.MethodGet, "/api/recurring/missing", "", nil); code != http.StatusNotFound {
		t.Fatalf("status = %d", code)
	}
	var line string
	for _, l := range strings.Split(buf.String(), "\n") {
		if strings.Contains(l, "request rejected") {
			line = l
		}
	}
	if line == "" {
		t.Fatalf("no rejection logged:\n%s", buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["request_id"] == "" || entry["request_id"] == nil {
		t.Error("missing request_id")
	}
	if entry["path"] != "/api/recurring/missing" || entry["method"] != http.MethodGet {
		t.Errorf("request fields = %v %v", entry["method"], entry["path"])
	}
	if entry["status"] != float64(http.StatusNotFound) {
		t.Errorf("status field = %v", entry["status"])
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&model.ValidationError{Field: "name"}, http.StatusBadRequest},
		{fmt.Errorf("get: %w", model.ErrNotFound), http.StatusNotFound},
		{model.ErrRunInProgress, http.StatusConflict},
		{model.ErrResultTimeout, http.StatusGatewayTimeout},
		{&model.PersistenceError{Op: "list", Err: errors.New("db down")}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
