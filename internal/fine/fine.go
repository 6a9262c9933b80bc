// Package fine computes late fees for overdue borrows.
package fine

import "time"

// Amount is a fee in whole currency units.
type Amount int64

// RatePerDay is charged for every started day past the due date.
const RatePerDay Amount = 10

const day = 24 * time.Hour

// Calculate returns the fine owed at asOf for a borrow due at due. Any
// fraction of a day late counts as a whole day.
func Calculate(due, asOf time.Time) Amount {
	if !asOf.After(due) {
		return 0
	}
	return Amount(DaysLate(due, asOf)) * RatePerDay
}

// DaysLate is the number of started days between due and asOf, zero when asOf
// is not after due.
func DaysLate(due, asOf time.Time) int64 {
	late := asOf.Sub(due)
	if late <= 0 {
		return 0
	}
	days := int64(late / day)
	if late%day != 0 {
		days++
	}
	return days
}
