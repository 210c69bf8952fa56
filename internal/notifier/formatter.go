package notifier

import (
	"fmt"
	"html"
	"strings"

	"RecurLedger/internal/model"
)

// HelpText lists the supported chat commands.
const HelpText = "Commands:\n" +
	"/run [YYYY-MM-DD] - execute due rules (default today)\n" +
	"/rules - list recurring rules\n" +
	"/status - timer job status\n" +
	"/logs [days] - execution history"

// FormatBatchResult formats a run report.
func FormatBatchResult(res *model.BatchResult) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🔁 <b>Recurring run</b> | %s\n\n", res.TargetDate))
	b.WriteString(res.Summary())
	b.WriteString("\n")
	for _, d := range res.Details {
		mark := "✅"
		if !d.Success {
			mark = "❌"
		}
		b.WriteString(fmt.Sprintf("%s %s: %s\n", mark, html.EscapeString(d.RuleName), html.EscapeString(d.Message)))
	}
	return b.String()
}

// FormatRuleList formats rules one per line.
func FormatRuleList(rules []*model.RecurringRule) string {
	if len(rules) == 0 {
		return "No recurring rules."
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📋 <b>Recurring rules</b> (%d)\n\n", len(rules)))
	for _, r := range rules {
		state := "on"
		if !r.IsActive {
			state = "off"
		}
		next := "-"
		if r.NextExecution != nil {
			next = r.NextExecution.String()
		}
		b.WriteString(fmt.Sprintf("[%s] %s (%s) next: %s\n", state, html.EscapeString(r.Name), r.RecurrenceType, next))
	}
	return b.String()
}

// FormatStatus formats the timer job status.
func FormatStatus(st model.SchedulerStatus) string {
	var b strings.Builder
	b.WriteString("⏱ <b>Scheduler</b>\n\n")
	b.WriteString(fmt.Sprintf("Job: %s\n", st.JobID))
	b.WriteString(fmt.Sprintf("Trigger: %s\n", st.Spec))
	b.WriteString(fmt.Sprintf("Running: %v\n", st.Running))
	if st.NextFireTime != nil {
		b.WriteString(fmt.Sprintf("Next run: %s\n", st.NextFireTime.Format("2006-01-02 15:04:05 MST")))
	}
	return b.String()
}

// FormatHistory formats execution log entries, newest first.
func FormatHistory(entries []model.ExecutionLogEntry) string {
	if len(entries) == 0 {
		return "No executions in this period."
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📜 <b>Execution log</b> (%d)\n\n", len(entries)))
	for _, e := range entries {
		if e.Success {
			b.WriteString(fmt.Sprintf("✅ %s %s txn %s\n", e.OccurrenceDate, shortID(e.RuleID), e.TransactionID))
		} else {
			b.WriteString(fmt.Sprintf("❌ %s %s %s\n", e.OccurrenceDate, shortID(e.RuleID), html.EscapeString(e.ErrorMessage)))
		}
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
