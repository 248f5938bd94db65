package model

import (
	"testing"
	"time"
)

func TestLoanEffectiveStatus(t *testing.T) {
	due := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	l := Loan{Status: LoanActive, DueAt: due}

	if got := l.EffectiveStatus(due.Add(-time.Hour)); got != LoanActive {
		t.Errorf("before due: got %s, want active", got)
	}
	if got := l.EffectiveStatus(due.Add(time.Hour)); got != LoanOverdue {
		t.Errorf("after due: got %s, want overdue", got)
	}

	l.Status = LoanReturned
	if got := l.EffectiveStatus(due.Add(time.Hour)); got != LoanReturned {
		t.Errorf("returned loan can not go overdue, got %s", got)
	}
}
