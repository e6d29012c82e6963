package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction mirrors a transaction record as delivered by the payment
// platform. Field names follow the upstream API, which mixes camelCase and
// snake_case and carries both the legacy trxType and the newer type field.
// Either of the two may be populated; consumers treat them as interchangeable.
type Transaction struct {
	ID                  string          `json:"id"`
	MerchantID          string          `json:"merchantId"`
	Date                string          `json:"date"` // ISO-8601 creation timestamp
	Provider            string          `json:"provider"`
	TrxType             string          `json:"trxType,omitempty"`
	Type                string          `json:"type,omitempty"`
	Status              string          `json:"status"`
	Amount              decimal.Decimal `json:"amount"`
	Currency            string          `json:"currency"`
	TotalRefundedAmount decimal.Decimal `json:"totalRefundedAmount"`
	IsVoided            bool            `json:"isVoided"`
	PCC                 *PCC            `json:"pcc,omitempty"`
	Operations          []Operation     `json:"transactions,omitempty"`
	LastTransactionType string          `json:"lastTransactionType,omitempty"`
}

// PCC carries settlement-timing and bank-routing metadata. RFSDueAfter is a
// pointer because the upstream omits it on older records; an absent value is
// not the same as zero (zero means settlement is imminent).
type PCC struct {
	RFSDueAfter          *int   `json:"rfs_due_after,omitempty"`
	FinancialInstitution string `json:"financial_institution,omitempty"`
}

// Operation is a child operation record on a transaction (e.g. an authorize
// followed by a capture).
type Operation struct {
	Operation string          `json:"operation"`
	Amount    decimal.Decimal `json:"amount"`
	Date      string          `json:"date,omitempty"`
}

// dateLayouts are the timestamp shapes the upstream has been observed to
// emit. Zone-less layouts are interpreted in local time, matching how the
// bank cut-off windows are defined.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// CreatedAt parses the transaction's creation timestamp. The second return
// is false when the date is missing or unparseable.
func (t Transaction) CreatedAt() (time.Time, bool) {
	if t.Date == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if ts, err := time.ParseInLocation(layout, t.Date, time.Local); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// BankID returns the financial institution key, or "" when no PCC record is
// attached.
func (t Transaction) BankID() string {
	if t.PCC == nil {
		return ""
	}
	return t.PCC.FinancialInstitution
}

// SettlementDue reports whether the record says funds are already due for
// settlement (rfs_due_after present and exactly zero). An absent PCC or an
// absent counter does not count as due.
func (t Transaction) SettlementDue() bool {
	return t.PCC != nil && t.PCC.RFSDueAfter != nil && *t.PCC.RFSDueAfter == 0
}

// HasOperation reports whether any child operation record matches op.
func (t Transaction) HasOperation(op string) bool {
	for _, o := range t.Operations {
		if o.Operation == op {
			return true
		}
	}
	return false
}

// LastOperation returns the operation of the most recent child record, or ""
// when the list is empty.
func (t Transaction) LastOperation() string {
	if len(t.Operations) == 0 {
		return ""
	}
	return t.Operations[len(t.Operations)-1].Operation
}

// TransactionActions is the eligibility decision for a single transaction.
type TransactionActions struct {
	TransactionID string    `json:"transaction_id"`
	Void          bool      `json:"void"`
	Capture       bool      `json:"capture"`
	EvaluatedAt   time.Time `json:"evaluated_at"`
}

// CreateTransactionsRequest represents the request body for ingesting transactions.
type CreateTransactionsRequest struct {
	Transactions []Transaction `json:"transactions"`
}

// CreateTransactionsResponse represents the response for ingesting transactions.
type CreateTransactionsResponse struct {
	Inserted int `json:"inserted"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
