package model

import (
	"context"
	"time"

	"cloud.google.com/go/civil"
)

// TransactionDraft is a concrete transaction for one occurrence, ready to be
// handed to a LedgerWriter.
type TransactionDraft struct {
	RuleID    string     `json:"rule_id"`
	Date      civil.Date `json:"date"`
	Flag      string     `json:"flag"`
	Payee     string     `json:"payee,omitempty"`
	Narration string     `json:"narration"`
	Tags      []string   `json:"tags,omitempty"`
	Links     []string   `json:"links,omitempty"`
	Postings  []Posting  `json:"postings"`
}

// LedgerWriter persists a draft into the ledger and returns its transaction id.
type LedgerWriter interface {
	Append(ctx context.Context, draft *TransactionDraft) (string, error)
}

// Clock provides the current calendar date.
type Clock interface {
	Today() civil.Date
}

// SystemClock reads the wall clock in a fixed location.
type SystemClock struct {
	Location *time.Location
}

func (c SystemClock) Today() civil.Date {
	loc := c.Location
	if loc == nil {
		loc = time.Local
	}
	return civil.DateOf(time.Now().In(loc))
}

// FixedClock always returns the same date. Useful for tests and backfills.
type FixedClock civil.Date

func (c FixedClock) Today() civil.Date { return civil.Date(c) }
