package domain

import (
	"fmt"
	"strings"
	"time"
)

// CurrentPeriod returns the billing period containing t: "YYYY-1" for
// January through June, "YYYY-2" for July through December.
func CurrentPeriod(t time.Time) string {
	half := 1
	if t.Month() > time.June {
		half = 2
	}
	return fmt.Sprintf("%d-%d", t.Year(), half)
}

// NormalizeStudentID trims and upper-cases a student identifier.
func NormalizeStudentID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// History projects a transaction into a history row.
func (t Transaction) History() HistoryEntry {
	return HistoryEntry{
		ID:          t.ID,
		StudentID:   t.StudentID,
		Period:      t.Period,
		Amount:      t.Amount,
		Status:      t.Status,
		CreatedAt:   t.CreatedAt,
		CompletedAt: t.CompletedAt,
	}
}
