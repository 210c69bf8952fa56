package ledger

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"RecurLedger/internal/model"
)

// BeancountWriter appends transactions to a beancount ledger file.
type BeancountWriter struct {
	mu   sync.Mutex
	path string
	log  zerolog.Logger
}

func NewBeancountWriter(path string, log zerolog.Logger) *BeancountWriter {
	return &BeancountWriter{path: path, log: log}
}

// Append writes draft to the end of the ledger file. The returned id is
// stored on the entry as txn-id metadata.
func (w *BeancountWriter) Append(_ context.Context, draft *model.TransactionDraft) (string, error) {
	id := uuid.NewString()
	entry := FormatBeancount(draft, id)

	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", &model.LedgerWriteError{Err: fmt.Errorf("open ledger file: %w", err)}
	}
	defer f.Close()

	if _, err := f.WriteString("\n" + entry + "\n"); err != nil {
		return "", &model.LedgerWriteError{Err: fmt.Errorf("append entry: %w", err)}
	}
	w.log.Debug().Str("txn_id", id).Str("rule_id", draft.RuleID).Str("date", draft.Date.String()).Msg("beancount entry appended")
	return id, nil
}

// FormatBeancount renders draft as a beancount transaction directive.
func FormatBeancount(draft *model.TransactionDraft, txnID string) string {
	var b strings.Builder

	flag := draft.Flag
	if flag == "" {
		flag = model.DefaultFlag
	}
	b.WriteString(fmt.Sprintf("%s %s", draft.Date, flag))
	if draft.Payee != "" {
		b.WriteString(" " + quote(draft.Payee))
	}
	b.WriteString(" " + quote(draft.Narration))
	for _, t := range draft.Tags {
		b.WriteString(" #" + strings.TrimPrefix(t, "#"))
	}
	for _, l := range draft.Links {
		b.WriteString(" ^" + strings.TrimPrefix(l, "^"))
	}
	b.WriteString("\n")

	if txnID != "" {
		b.WriteString(fmt.Sprintf("  txn-id: %s\n", quote(txnID)))
	}
	if draft.RuleID != "" {
		b.WriteString(fmt.Sprintf("  recurring-rule: %s\n", quote(draft.RuleID)))
	}

	for i, p := range draft.Postings {
		if p.Amount != nil && p.Currency != "" {
			b.WriteString(fmt.Sprintf("  %s  %s %s", p.Account, p.Amount.String(), p.Currency))
		} else {
			b.WriteString("  " + p.Account)
		}
		if i < len(draft.Postings)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}
