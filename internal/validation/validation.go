package validation

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"merchant-actions-api/internal/models"
)

var (
	hexRegex = regexp.MustCompile(`^[0-9a-fA-F]+$`)
	idRegex  = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,128}$`)
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// ValidateTransaction checks an incoming transaction record before storage.
// Eligibility itself tolerates malformed records (it simply answers false);
// this gate only rejects records too broken to be worth keeping.
func ValidateTransaction(txn models.Transaction) error {
	if err := ValidateID(txn.ID, "id"); err != nil {
		return err
	}

	if err := ValidateID(txn.MerchantID, "merchantId"); err != nil {
		return err
	}

	if txn.Date == "" {
		return &ValidationError{
			Field:   "date",
			Message: "is required",
		}
	}

	if _, ok := txn.CreatedAt(); !ok {
		return &ValidationError{
			Field:   "date",
			Message: "must be a parseable ISO-8601 timestamp",
		}
	}

	if txn.Provider == "" {
		return &ValidationError{
			Field:   "provider",
			Message: "is required",
		}
	}

	if txn.Status == "" {
		return &ValidationError{
			Field:   "status",
			Message: "is required",
		}
	}

	if txn.Amount.IsNegative() {
		return &ValidationError{
			Field:   "amount",
			Message: "must be non-negative",
		}
	}

	if txn.TotalRefundedAmount.IsNegative() {
		return &ValidationError{
			Field:   "totalRefundedAmount",
			Message: "must be non-negative",
		}
	}

	if txn.PCC != nil {
		if txn.PCC.RFSDueAfter != nil && *txn.PCC.RFSDueAfter < 0 {
			return &ValidationError{
				Field:   "pcc.rfs_due_after",
				Message: "must be non-negative",
			}
		}
	}

	for i, op := range txn.Operations {
		if op.Operation == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("transactions[%d].operation", i),
				Message: "is required",
			}
		}
	}

	return nil
}

// ValidateID checks an upstream record identifier. Upstream ids are not
// guaranteed to be UUIDs, so only shape and length are enforced.
func ValidateID(id, fieldName string) error {
	if id == "" {
		return &ValidationError{
			Field:   fieldName,
			Message: "is required",
		}
	}

	if !idRegex.MatchString(SanitizeString(id)) {
		return &ValidationError{
			Field:   fieldName,
			Message: "must be an identifier of at most 128 url-safe characters",
		}
	}

	return nil
}

// ValidateHexSecret checks a hex-encoded secret of the given byte length.
func ValidateHexSecret(secret, fieldName string, wantBytes int) error {
	if secret == "" {
		return &ValidationError{
			Field:   fieldName,
			Message: "is required",
		}
	}

	if !hexRegex.MatchString(secret) {
		return &ValidationError{
			Field:   fieldName,
			Message: "must be hex-encoded",
		}
	}

	if len(secret) != wantBytes*2 {
		return &ValidationError{
			Field:   fieldName,
			Message: fmt.Sprintf("must encode exactly %d bytes", wantBytes),
		}
	}

	return nil
}

func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}

func ValidateTimeString(timeStr string) (time.Time, error) {
	if timeStr == "" {
		return time.Time{}, &ValidationError{
			Field:   "time",
			Message: "is required",
		}
	}

	t, err := time.Parse(time.RFC3339, timeStr)
	if err != nil {
		return time.Time{}, &ValidationError{
			Field:   "time",
			Message: "must be a valid RFC3339 timestamp",
		}
	}

	return t, nil
}
