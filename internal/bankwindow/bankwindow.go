// Package bankwindow decides whether a transaction is still inside its
// bank's daily void cut-off window.
//
// Banks accept void requests only until a fixed wall-clock time each day. A
// transaction created at or after that day's cutoff gets until the next
// day's cutoff instead, since the same-day one has already passed.
package bankwindow

import "time"

// Window is a bank's end-of-day cutoff in local wall-clock time.
type Window struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// Valid reports whether the window describes a real wall-clock time.
func (w Window) Valid() bool {
	return w.Hour >= 0 && w.Hour <= 23 && w.Minute >= 0 && w.Minute <= 59
}

// Table maps a financial-institution key to its cutoff window. The table is
// loaded from configuration at startup and never mutated afterwards.
type Table map[string]Window

// Calculator answers void-window queries against a fixed table. The clock is
// injectable so window boundaries can be tested deterministically.
type Calculator struct {
	table Table
	now   func() time.Time
}

// NewCalculator creates a calculator over the given table using the system
// clock.
func NewCalculator(table Table) *Calculator {
	return NewCalculatorWithClock(table, time.Now)
}

// NewCalculatorWithClock creates a calculator with an explicit clock.
func NewCalculatorWithClock(table Table, now func() time.Time) *Calculator {
	if now == nil {
		now = time.Now
	}
	return &Calculator{table: table, now: now}
}

// WithinVoidWindow reports whether the current time is still inside the void
// window for a transaction created at txTime at the given bank.
//
// Unknown banks, invalid windows and zero transaction times all answer
// false: no configured window means no void is allowed.
func (c *Calculator) WithinVoidWindow(bankID string, txTime time.Time) bool {
	return c.WithinVoidWindowAt(bankID, txTime, c.now())
}

// WithinVoidWindowAt is WithinVoidWindow evaluated at an explicit instant.
func (c *Calculator) WithinVoidWindowAt(bankID string, txTime, now time.Time) bool {
	if bankID == "" || txTime.IsZero() {
		return false
	}
	w, ok := c.table[bankID]
	if !ok || !w.Valid() {
		return false
	}

	start := time.Date(txTime.Year(), txTime.Month(), txTime.Day(), w.Hour, w.Minute, 0, 0, txTime.Location())
	end := start
	if !txTime.Before(start) {
		// The transaction landed at or after that day's cutoff, so the
		// effective window rolls over to the next day's cutoff.
		end = start.AddDate(0, 0, 1)
	}
	return now.Before(end)
}
