// Package eligibility decides which merchant actions (void, capture) may be
// offered for a transaction. The rules are specific to the MPGS gateway and
// deliberately fail closed: any malformed or missing field hides the action
// instead of raising an error, since a hidden button is far cheaper than an
// action offered on an invalid transaction.
package eligibility

import (
	"strings"
	"time"

	"merchant-actions-api/internal/bankwindow"
	"merchant-actions-api/internal/models"
)

const providerMPGS = "mpgs"

const (
	opAuthorize = "authorize"
	opCapture   = "capture"
)

// voidableTypes are the transaction categories a void may apply to. The
// Arabic entry matches records localized upstream before they reach us.
var voidableTypes = map[string]bool{
	"payment":   true,
	"دفع":       true,
	opAuthorize: true,
	opCapture:   true,
}

// approvedStatuses is the set of normalized statuses treated as settled-ok
// by the gateway.
var approvedStatuses = map[string]bool{
	"approved":   true,
	"success":    true,
	"paid":       true,
	"authorized": true,
}

// Engine evaluates action eligibility. It holds no mutable state; both
// predicates are pure and safe for concurrent use.
type Engine struct {
	windows *bankwindow.Calculator
	now     func() time.Time
}

// New creates an engine over the given cut-off calculator using the system
// clock.
func New(windows *bankwindow.Calculator) *Engine {
	return NewWithClock(windows, time.Now)
}

// NewWithClock creates an engine with an explicit clock.
func NewWithClock(windows *bankwindow.Calculator, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{windows: windows, now: now}
}

// normalize trims and lowercases a field value before comparison. Missing
// fields arrive as empty strings and stay empty.
func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// typeMatches reports whether either the legacy trxType or the newer type
// field falls in the allowed set. The two fields are interchangeable; no
// precedence is applied when both are populated.
func typeMatches(tx *models.Transaction, allowed map[string]bool) bool {
	return allowed[normalize(tx.TrxType)] || allowed[normalize(tx.Type)]
}

// VoidAvailable reports whether the void action may be offered for tx.
func (e *Engine) VoidAvailable(tx *models.Transaction) bool {
	return e.VoidAvailableAt(tx, e.now())
}

// VoidAvailableAt is VoidAvailable evaluated at an explicit instant.
//
// A transaction is voidable when all of the following hold: it belongs to
// the MPGS gateway, is a payment/authorize/capture, sits in an approved
// status, has never been refunded or voided, is not already due for
// settlement, is still inside its bank's cut-off window, and is not an
// authorize that has already been captured (those must be refunded instead).
func (e *Engine) VoidAvailableAt(tx *models.Transaction, now time.Time) bool {
	if tx == nil {
		return false
	}
	created, ok := tx.CreatedAt()
	if !ok {
		return false
	}
	if normalize(tx.Provider) != providerMPGS {
		return false
	}
	if !typeMatches(tx, voidableTypes) {
		return false
	}
	if !approvedStatuses[normalize(tx.Status)] {
		return false
	}
	if !tx.TotalRefundedAmount.IsZero() {
		return false
	}
	if tx.IsVoided {
		return false
	}
	if tx.SettlementDue() {
		return false
	}
	if !e.windows.WithinVoidWindowAt(tx.BankID(), created, now) {
		return false
	}
	if isAuthorize(tx) && tx.HasOperation(opCapture) {
		return false
	}
	return true
}

// CaptureAvailable reports whether the capture action may be offered for tx.
func (e *Engine) CaptureAvailable(tx *models.Transaction) bool {
	return e.CaptureAvailableAt(tx, e.now())
}

// CaptureAvailableAt is CaptureAvailable evaluated at an explicit instant.
//
// Only an approved MPGS authorize that has not been captured or voided, and
// whose most recent operation is still the authorize, can be captured.
func (e *Engine) CaptureAvailableAt(tx *models.Transaction, _ time.Time) bool {
	if tx == nil {
		return false
	}
	if _, ok := tx.CreatedAt(); !ok {
		return false
	}
	if normalize(tx.Provider) != providerMPGS {
		return false
	}
	if !isAuthorize(tx) {
		return false
	}
	if !approvedStatuses[normalize(tx.Status)] {
		return false
	}
	if tx.HasOperation(opCapture) {
		return false
	}
	if tx.IsVoided {
		return false
	}
	return lastOperationIsAuthorize(tx)
}

func isAuthorize(tx *models.Transaction) bool {
	return normalize(tx.TrxType) == opAuthorize || normalize(tx.Type) == opAuthorize
}

// lastOperationIsAuthorize checks the lastTransactionType override or, when
// that is absent, the tail of the child operation list. Absent both, the
// answer is false.
func lastOperationIsAuthorize(tx *models.Transaction) bool {
	return normalize(tx.LastTransactionType) == opAuthorize ||
		normalize(tx.LastOperation()) == opAuthorize
}
