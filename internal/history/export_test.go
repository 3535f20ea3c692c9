package history

import "time"

// SetClock replaces the time source used to stamp new records.
func SetClock(l *Ledger, now func() time.Time) {
	l.now = now
}
