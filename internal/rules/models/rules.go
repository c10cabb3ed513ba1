// Package models defines the debit rules read model consumed by the
// mandate lifecycle. Rules rows are written by an out-of-band process;
// this service only ever reads the single active snapshot per user and
// validates that its allocations are lawful before money moves.
package models

import (
	"time"

	id "kore/pkg/domain"
	dErrors "kore/pkg/domain-errors"
)

const (
	FrequencyMonthly    = "MONTHLY"
	FailureActionNotify = "NOTIFY"
)

// ServiceBucket is one entry of the fixed allocation catalog.
type ServiceBucket struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

// catalog order is part of the API contract.
var catalog = []ServiceBucket{
	{Key: "SAVINGS", Label: "Savings"},
	{Key: "INVESTMENT", Label: "Investment"},
	{Key: "TAX", Label: "Tax"},
	{Key: "LOANS", Label: "Loans"},
	{Key: "BILLS", Label: "Bills"},
}

// Catalog returns the ordered service buckets allocations may target.
func Catalog() []ServiceBucket {
	out := make([]ServiceBucket, len(catalog))
	copy(out, catalog)
	return out
}

// KnownBucket reports whether key is a catalog bucket. Keys are
// uppercase by contract; no case folding happens here.
func KnownBucket(key string) bool {
	for _, s := range catalog {
		if s.Key == key {
			return true
		}
	}
	return false
}

// Allocation routes a percentage of each debit into a service bucket.
type Allocation struct {
	Bucket     string `json:"bucket"`
	Percentage int    `json:"percentage"`
}

// Snapshot is the active debit rule set for a user: ceilings and the
// recurring amount as decimal strings (exact arithmetic downstream),
// allocations that must sum to exactly 100, and the active flag. At
// most one active snapshot exists per user.
type Snapshot struct {
	ID                 id.RuleID
	UserID             id.UserID
	MonthlyMaxDebit    string
	SingleMaxDebit     string
	Frequency          string
	AmountPerFrequency string
	Allocations        []Allocation
	FailureAction      string
	StartDate          time.Time
	EndDate            *time.Time
	Active             bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ValidateAllocations enforces the allocation law: at least one entry,
// every bucket a distinct catalog key, every percentage in 1..100, and
// the total exactly 100. A 49+50 split fails, a 50+50 split passes.
func ValidateAllocations(allocations []Allocation) error {
	if len(allocations) == 0 {
		return dErrors.New(dErrors.CodeValidation, "at least one allocation is required")
	}
	seen := make(map[string]bool, len(allocations))
	total := 0
	for _, a := range allocations {
		if !KnownBucket(a.Bucket) {
			return dErrors.Newf(dErrors.CodeValidation, "unknown allocation bucket %q", a.Bucket)
		}
		if seen[a.Bucket] {
			return dErrors.Newf(dErrors.CodeValidation, "duplicate allocation bucket %q", a.Bucket)
		}
		seen[a.Bucket] = true
		if a.Percentage < 1 || a.Percentage > 100 {
			return dErrors.Newf(dErrors.CodeValidation, "allocation percentage for %s must be between 1 and 100", a.Bucket)
		}
		total += a.Percentage
	}
	if total != 100 {
		return dErrors.Newf(dErrors.CodeValidation, "allocation percentages must sum to exactly 100, got %d", total)
	}
	return nil
}

// Validate checks the whole snapshot before it is persisted.
func (s *Snapshot) Validate() error {
	if s.UserID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "user id is required")
	}
	if err := requireDecimal("monthly_max_debit", s.MonthlyMaxDebit); err != nil {
		return err
	}
	if err := requireDecimal("single_max_debit", s.SingleMaxDebit); err != nil {
		return err
	}
	if err := requireDecimal("amount_per_frequency", s.AmountPerFrequency); err != nil {
		return err
	}
	if s.Frequency != FrequencyMonthly {
		return dErrors.Newf(dErrors.CodeValidation, "unsupported frequency %q", s.Frequency)
	}
	if s.FailureAction != FailureActionNotify {
		return dErrors.Newf(dErrors.CodeValidation, "unsupported failure action %q", s.FailureAction)
	}
	if s.StartDate.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "start date is required")
	}
	return ValidateAllocations(s.Allocations)
}

func requireDecimal(field, value string) error {
	if value == "" {
		return dErrors.Newf(dErrors.CodeValidation, "%s is required", field)
	}
	intPart := value
	fracPart := ""
	hasDot := false
	for i := 0; i < len(value); i++ {
		if value[i] == '.' {
			intPart, fracPart, hasDot = value[:i], value[i+1:], true
			break
		}
	}
	if intPart == "" || !digits(intPart) || (hasDot && (fracPart == "" || !digits(fracPart))) {
		return dErrors.Newf(dErrors.CodeValidation, "%s must be a decimal amount, got %q", field, value)
	}
	return nil
}

func digits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// StartDateString renders the start date the way the provider payload
// carries it.
func (s *Snapshot) StartDateString() string {
	return s.StartDate.Format("2006-01-02")
}
