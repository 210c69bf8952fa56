// Package ledger turns rule templates into transaction drafts and writes
// them to a ledger.
package ledger

import (
	"fmt"
	"strings"

	"cloud.google.com/go/civil"

	"RecurLedger/internal/model"
)

// Materialize builds the transaction for one occurrence of rule on date.
// Postings are copied verbatim; amounts left empty stay elided for the
// ledger to balance.
func Materialize(rule *model.RecurringRule, date civil.Date) (*model.TransactionDraft, error) {
	if len(rule.Postings) == 0 {
		return nil, &model.MaterializationError{RuleID: rule.ID, Reason: "template has no postings"}
	}
	for i, p := range rule.Postings {
		if strings.TrimSpace(p.Account) == "" {
			return nil, &model.MaterializationError{RuleID: rule.ID, Reason: postingReason(i, "has no account")}
		}
		if p.Amount != nil && strings.TrimSpace(p.Currency) == "" {
			return nil, &model.MaterializationError{RuleID: rule.ID, Reason: postingReason(i, "has an amount without currency")}
		}
	}

	flag := rule.Flag
	if flag == "" {
		flag = model.DefaultFlag
	}
	// Clone detaches the draft from the stored rule.
	tpl := rule.Clone().Template
	return &model.TransactionDraft{
		RuleID:    rule.ID,
		Date:      date,
		Flag:      flag,
		Payee:     tpl.Payee,
		Narration: tpl.Narration,
		Tags:      tpl.Tags,
		Links:     tpl.Links,
		Postings:  tpl.Postings,
	}, nil
}

func postingReason(i int, what string) string {
	return fmt.Sprintf("posting %d %s", i+1, what)
}
