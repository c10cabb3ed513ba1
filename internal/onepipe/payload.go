package onepipe

import (
	"encoding/json"

	dErrors "kore/pkg/domain-errors"
)

// Payload is a transact request body. Field presence varies per
// request type, so optional sections are pointers and omitted when
// unused.
type Payload struct {
	RequestRef  string       `json:"request_ref,omitempty"`
	RequestType string       `json:"request_type"`
	Auth        *Auth        `json:"auth,omitempty"`
	Transaction *Transaction `json:"transaction,omitempty"`
	Meta        *Meta        `json:"meta,omitempty"`
}

// Auth is the provider auth block. Type and Secure are pointers
// because mandate cancellation requires both serialized as JSON null.
type Auth struct {
	Type         *string `json:"type"`
	Secure       *string `json:"secure"`
	AuthProvider string  `json:"auth_provider"`
}

// Transaction is the transaction block of a transact request. Amount
// holds an untyped value: account lookups send the integer 0, mandate
// requests send a scaled decimal string.
type Transaction struct {
	MockMode        string    `json:"mock_mode,omitempty"`
	TransactionRef  string    `json:"transaction_ref,omitempty"`
	TransactionDesc string    `json:"transaction_desc,omitempty"`
	Amount          any       `json:"amount,omitempty"`
	Customer        *Customer `json:"customer,omitempty"`
	Details         any       `json:"details,omitempty"`
	Meta            *Meta     `json:"meta,omitempty"`
}

type Customer struct {
	CustomerRef string `json:"customer_ref"`
	Firstname   string `json:"firstname"`
	Surname     string `json:"surname"`
	MobileNo    string `json:"mobile_no"`
}

// Meta sits at the payload root for get_banks and inside the
// transaction block for every other request type.
type Meta struct {
	WebhookURL string `json:"webhook_url,omitempty"`
	BVN        string `json:"bvn,omitempty"`
	PaymentID  string `json:"payment_id,omitempty"`
}

// Codec builds provider request payloads and owns every place a secret
// enters one. Persisted copies of built payloads must go through
// Payload.Redacted first.
type Codec struct {
	clientSecret string
	webhookURL   string
	mockMode     string
}

func NewCodec(cfg Config) *Codec {
	mode := cfg.MockMode
	if mode == "" {
		mode = defaultMockMode
	}
	return &Codec{
		clientSecret: cfg.ClientSecret,
		webhookURL:   cfg.WebhookURL,
		mockMode:     mode,
	}
}

// BuildGetBanksPayload builds the static bank-list request. No secrets
// are involved; the request reference is filled in at send time.
func (c *Codec) BuildGetBanksPayload() *Payload {
	p := &Payload{
		RequestType: RequestTypeGetBanks,
		Transaction: &Transaction{MockMode: c.mockMode},
	}
	if c.webhookURL != "" {
		p.Meta = &Meta{WebhookURL: c.webhookURL}
	}
	return p
}

// LookupInput describes one account-ownership lookup. Only the account
// number and bank code are required; the rest enriches the provider's
// matching.
type LookupInput struct {
	CustomerRef     string
	AccountNumber   string
	BankCode        string
	BVN             string
	Firstname       string
	Surname         string
	MobileNo        string
	TransactionRef  string
	TransactionDesc string
}

// BuildLookupAccountsPayload builds the account verification request.
// auth.secure carries "accountNumber;bankCode" encrypted with the
// client secret; the BVN travels in transaction meta as the provider
// expects it for lookups.
func (c *Codec) BuildLookupAccountsPayload(in LookupInput) (*Payload, error) {
	if in.AccountNumber == "" || in.BankCode == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "account number and bank code are required")
	}
	secure, err := EncodeSecureField(in.AccountNumber+";"+in.BankCode, c.clientSecret)
	if err != nil {
		return nil, err
	}
	txRef := in.TransactionRef
	if txRef == "" {
		txRef = NewRequestRef()
	}
	desc := in.TransactionDesc
	if desc == "" {
		desc = "Verify account ownership"
	}
	p := &Payload{
		RequestRef:  NewRequestRef(),
		RequestType: RequestTypeLookupAccounts,
		Auth:        &Auth{Type: ptr(authTypeBankAccount), Secure: &secure, AuthProvider: authProviderName},
		Transaction: &Transaction{
			MockMode:        c.mockMode,
			TransactionRef:  txRef,
			TransactionDesc: desc,
			Amount:          0,
			Customer: &Customer{
				CustomerRef: in.CustomerRef,
				Firstname:   in.Firstname,
				Surname:     in.Surname,
				MobileNo:    in.MobileNo,
			},
			Details: map[string]any{},
		},
	}
	meta := Meta{WebhookURL: c.webhookURL, BVN: in.BVN}
	if meta != (Meta{}) {
		p.Transaction.Meta = &meta
	}
	return p, nil
}

// CreateMandateInput carries the profile and rules fields a mandate
// setup request embeds. Monetary amounts are decimal naira strings.
type CreateMandateInput struct {
	CustomerRef        string
	Firstname          string
	Surname            string
	MobileNo           string
	AccountNumber      string
	BankCode           string
	BVN                string
	AmountPerFrequency string
	MonthlyMaxDebit    string
	SingleMaxDebit     string
	Frequency          string
	StartDate          string
}

// BuildCreateMandatePayload builds the mandate setup request:
// auth.secure carries the encrypted account/bank pair, meta.bvn is
// encrypted separately, and monetary fields are scaled to provider
// units. A fresh request_ref is generated on every call; a failed
// creation is never retried under the same reference.
func (c *Codec) BuildCreateMandatePayload(in CreateMandateInput) (*Payload, error) {
	if in.AccountNumber == "" || in.BankCode == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "account number and bank code are required")
	}
	secure, err := EncodeSecureField(in.AccountNumber+";"+in.BankCode, c.clientSecret)
	if err != nil {
		return nil, err
	}
	amount, err := ProviderAmount(in.AmountPerFrequency)
	if err != nil {
		return nil, err
	}

	details := map[string]any{}
	if in.Frequency != "" {
		details["frequency"] = in.Frequency
	}
	if in.StartDate != "" {
		details["start_date"] = in.StartDate
	}
	if in.MonthlyMaxDebit != "" {
		v, err := ProviderAmount(in.MonthlyMaxDebit)
		if err != nil {
			return nil, err
		}
		details["monthly_max_debit"] = v
	}
	if in.SingleMaxDebit != "" {
		v, err := ProviderAmount(in.SingleMaxDebit)
		if err != nil {
			return nil, err
		}
		details["single_max_debit"] = v
	}

	meta := Meta{WebhookURL: c.webhookURL}
	if in.BVN != "" {
		enc, err := EncodeSecureField(in.BVN, c.clientSecret)
		if err != nil {
			return nil, err
		}
		meta.BVN = enc
	}

	p := &Payload{
		RequestRef:  NewRequestRef(),
		RequestType: RequestTypeSetupMandate,
		Auth:        &Auth{Type: ptr(authTypeBankAccount), Secure: &secure, AuthProvider: authProviderName},
		Transaction: &Transaction{
			MockMode:        c.mockMode,
			TransactionRef:  NewRequestRef(),
			TransactionDesc: "Recurring debit mandate setup",
			Amount:          amount,
			Customer: &Customer{
				CustomerRef: in.CustomerRef,
				Firstname:   in.Firstname,
				Surname:     in.Surname,
				MobileNo:    in.MobileNo,
			},
			Details: details,
		},
	}
	if meta != (Meta{}) {
		p.Transaction.Meta = &meta
	}
	return p, nil
}

// CancelMandateInput identifies the mandate to cancel and the customer
// it belongs to.
type CancelMandateInput struct {
	CustomerRef      string
	Firstname        string
	Surname          string
	MobileNo         string
	MandateReference string
}

// BuildCancelMandatePayload builds the mandate cancellation request.
// The provider expects the auth block present with null type and null
// secure, and the mandate reference travels as meta.payment_id.
func (c *Codec) BuildCancelMandatePayload(in CancelMandateInput) (*Payload, error) {
	if in.MandateReference == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "mandate reference is required")
	}
	return &Payload{
		RequestRef:  NewRequestRef(),
		RequestType: RequestTypeCancelMandate,
		Auth:        &Auth{AuthProvider: authProviderName},
		Transaction: &Transaction{
			MockMode:        c.mockMode,
			TransactionRef:  NewRequestRef(),
			TransactionDesc: "Cancel recurring debit mandate",
			Amount:          0,
			Customer: &Customer{
				CustomerRef: in.CustomerRef,
				Firstname:   in.Firstname,
				Surname:     in.Surname,
				MobileNo:    in.MobileNo,
			},
			Details: map[string]any{},
			Meta:    &Meta{WebhookURL: c.webhookURL, PaymentID: in.MandateReference},
		},
	}, nil
}

const redactedPlaceholder = "[redacted]"

// Redacted returns a copy of the payload safe for persistence and
// logging: auth.secure and any meta.bvn value are replaced with a
// placeholder. The payload itself is not modified.
func (p *Payload) Redacted() map[string]any {
	raw, err := json.Marshal(p)
	if err != nil {
		return map[string]any{"request_type": p.RequestType}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{"request_type": p.RequestType}
	}
	if auth, ok := m["auth"].(map[string]any); ok {
		if s, ok := auth["secure"].(string); ok && s != "" {
			auth["secure"] = redactedPlaceholder
		}
	}
	redactMeta(m)
	if tx, ok := m["transaction"].(map[string]any); ok {
		redactMeta(tx)
	}
	return m
}

func redactMeta(owner map[string]any) {
	meta, ok := owner["meta"].(map[string]any)
	if !ok {
		return
	}
	if s, ok := meta["bvn"].(string); ok && s != "" {
		meta["bvn"] = redactedPlaceholder
	}
}

func ptr[T any](v T) *T { return &v }
