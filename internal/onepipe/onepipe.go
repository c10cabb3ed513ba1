// Package onepipe implements the wire contract for the OnePipe
// PayWithAccount API: payload construction with field-level Triple DES
// encryption, MD5 request signing, a transact client that classifies
// every call into a success, provider-error, or transport-error
// outcome, and normalization of the provider's loosely shaped
// responses.
//
// The provider contract fixes the cryptography and the request
// envelope. Nothing in this package may be reused for internally
// controlled authentication.
package onepipe

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Request types accepted by the provider's transact endpoint. The
// spelling and casing are part of the wire contract.
const (
	RequestTypeGetBanks       = "get_banks"
	RequestTypeLookupAccounts = "lookup accounts min"
	RequestTypeSetupMandate   = "Setup Mandate"
	RequestTypeCancelMandate  = "Cancel Mandate"
)

const (
	authProviderName    = "PaywithAccount"
	authTypeBankAccount = "bank.account"
	defaultMockMode     = "inspect"
	defaultTransactPath = "/v2/transact"
)

// DefaultTimeout bounds a single transact call when the configuration
// does not set one. Provider calls are synchronous within the caller's
// request lifecycle and must never be left pending indefinitely.
const DefaultTimeout = 10 * time.Second

// Config carries the provider credentials and endpoint settings shared
// by the Codec and the Client.
type Config struct {
	BaseURL      string
	TransactPath string
	APIKey       string
	ClientSecret string
	WebhookURL   string
	MockMode     string
	ActiveStatus string
	Timeout      time.Duration
}

// NewRequestRef generates a fresh request reference: 32 lowercase hex
// characters, the dashless UUID4 form the provider echoes back in
// responses and webhooks.
func NewRequestRef() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}
