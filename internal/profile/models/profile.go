package models

import (
	"strings"
	"time"

	"github.com/google/uuid"

	id "kore/pkg/domain"
	dErrors "kore/pkg/domain-errors"
)

// Profile holds a user's committed personal and bank details.
//
// Invariants:
//   - Bank fields at rest are vault ciphertexts; cleartext account
//     number and BVN exist only in memory during a provider call
//   - Phone is canonical 234XXXXXXXXXX once committed
//   - IsCompleted flips to true only after a verified provider lookup,
//     never through a direct write
type Profile struct {
	UserID           id.UserID  `json:"user_id"`
	Firstname        string     `json:"first_name"`
	Surname          string     `json:"surname"`
	Phone            string     `json:"phone_number"`
	BankName         string     `json:"bank_name"`
	BankCode         string     `json:"bank_code"`
	AccountNumberEnc string     `json:"-"`
	BVNEnc           string     `json:"-"`
	IsCompleted      bool       `json:"is_completed"`
	VerifiedAt       *time.Time `json:"verified_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Snapshot is the read-only view other modules consume. Bank secrets
// stay encrypted; callers needing cleartext go through Source.BankSecrets.
type Snapshot struct {
	Firstname        string
	Surname          string
	Phone            string
	BankName         string
	BankCode         string
	AccountNumberEnc string
	BVNEnc           string
	Completed        bool
}

// Snapshot projects the profile into its cross-module view.
func (p *Profile) Snapshot() Snapshot {
	return Snapshot{
		Firstname:        p.Firstname,
		Surname:          p.Surname,
		Phone:            p.Phone,
		BankName:         p.BankName,
		BankCode:         p.BankCode,
		AccountNumberEnc: p.AccountNumberEnc,
		BVNEnc:           p.BVNEnc,
		Completed:        p.IsCompleted,
	}
}

// BankSecrets carries decrypted bank details for one in-flight provider
// call. Never persist or log it.
type BankSecrets struct {
	AccountNumber string
	BVN           string
}

// AttemptStatus classifies one verification attempt.
type AttemptStatus string

const (
	// AttemptSuccess: provider confirmed account ownership.
	AttemptSuccess AttemptStatus = "success"
	// AttemptFailed: provider answered but did not verify.
	AttemptFailed AttemptStatus = "failed"
	// AttemptError: the provider could not be reached or answered garbage.
	AttemptError AttemptStatus = "error"
)

// VerificationAttempt is the append-only record of one provider lookup.
// PayloadSent is stored redacted; Response is the provider's body as
// received. RequestRef lets webhook notifications correlate back.
type VerificationAttempt struct {
	ID          uuid.UUID      `json:"id"`
	UserID      id.UserID      `json:"user_id"`
	RequestRef  string         `json:"request_ref"`
	RequestType string         `json:"request_type"`
	PayloadSent map[string]any `json:"payload_sent"`
	Response    map[string]any `json:"response"`
	Status      AttemptStatus  `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
}

// VerifyBankAccountRequest is the inbound verification trigger. All
// profile data arrives here; there is no separate profile CRUD.
type VerifyBankAccountRequest struct {
	Firstname     string `json:"first_name"`
	Surname       string `json:"surname"`
	Phone         string `json:"phone_number"`
	BankName      string `json:"bank_name"`
	BankCode      string `json:"bank_code"`
	AccountNumber string `json:"account_number"`
	BVN           string `json:"bvn"`
}

// Normalize trims fields and strips the spacing people type into
// account numbers and phone numbers.
func (r *VerifyBankAccountRequest) Normalize() {
	r.Firstname = strings.TrimSpace(r.Firstname)
	r.Surname = strings.TrimSpace(r.Surname)
	r.BankName = strings.TrimSpace(r.BankName)
	r.BankCode = strings.TrimSpace(r.BankCode)
	r.AccountNumber = stripSpacing(r.AccountNumber)
	r.BVN = stripSpacing(r.BVN)
	if canonical, err := CanonicalPhone(r.Phone); err == nil {
		r.Phone = canonical
	} else {
		r.Phone = strings.TrimSpace(r.Phone)
	}
}

// Validate checks the request against the committed-profile invariants.
func (r *VerifyBankAccountRequest) Validate() error {
	if r.Firstname == "" {
		return dErrors.New(dErrors.CodeValidation, "first name is required")
	}
	if r.Surname == "" {
		return dErrors.New(dErrors.CodeValidation, "surname is required")
	}
	if _, err := CanonicalPhone(r.Phone); err != nil {
		return err
	}
	if r.BankName == "" {
		return dErrors.New(dErrors.CodeValidation, "bank name is required")
	}
	if r.BankCode == "" {
		return dErrors.New(dErrors.CodeValidation, "bank code is required")
	}
	if len(r.AccountNumber) != 10 || !isDigits(r.AccountNumber) {
		return dErrors.New(dErrors.CodeValidation, "account number must be exactly 10 digits")
	}
	if len(r.BVN) != 11 || !isDigits(r.BVN) {
		return dErrors.New(dErrors.CodeValidation, "BVN must be exactly 11 digits")
	}
	return nil
}

// CanonicalPhone normalizes a Nigerian phone number to 234XXXXXXXXXX.
// Accepted inputs: the canonical form itself, +234 prefixed, and the
// local 0-prefixed 11-digit form. Anything else is a validation error.
func CanonicalPhone(raw string) (string, error) {
	s := stripSpacing(raw)
	s = strings.TrimPrefix(s, "+")
	switch {
	case len(s) == 13 && strings.HasPrefix(s, "234") && isDigits(s):
		return s, nil
	case len(s) == 11 && strings.HasPrefix(s, "0") && isDigits(s):
		return "234" + s[1:], nil
	}
	return "", dErrors.New(dErrors.CodeValidation, "phone number must be a Nigerian number in 234XXXXXXXXXX form")
}

func stripSpacing(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')':
			return -1
		}
		return r
	}, s)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
