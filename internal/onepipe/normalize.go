package onepipe

import (
	"strconv"
	"strings"

	dErrors "kore/pkg/domain-errors"
)

// Bank is one normalized entry of the provider's bank list.
type Bank struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// bankListShapes are the response locations that may carry the raw
// bank list, tried in order. Provider responses are not canonically
// shaped; supporting another backend shape means appending an entry
// here, not branching at call sites.
var bankListShapes = []func(body map[string]any) []any{
	func(body map[string]any) []any { return asList(asMap(body["data"])["banks"]) },
	func(body map[string]any) []any { return asList(body["banks"]) },
	func(body map[string]any) []any { return asList(body["data"]) },
	func(body map[string]any) []any {
		return asList(asMap(asMap(body["data"])["provider_response"])["banks"])
	},
}

// Bank field names differ between provider backends.
var (
	bankNameKeys = []string{"bank_name", "name", "bank", "bankFullName"}
	bankCodeKeys = []string{"bank_code", "code", "bankCode"}
)

// NormalizeBanks maps a provider bank-list response onto []Bank.
// Entries without a usable code are dropped; missing names become
// "Unknown". A response matching no known shape, or yielding an empty
// list, is a schema error.
func NormalizeBanks(body map[string]any) ([]Bank, error) {
	var rawList []any
	for _, shape := range bankListShapes {
		if l := shape(body); len(l) > 0 {
			rawList = l
			break
		}
	}
	banks := make([]Bank, 0, len(rawList))
	for _, item := range rawList {
		entry := asMap(item)
		if entry == nil {
			continue
		}
		code := firstString(entry, bankCodeKeys...)
		if code == "" {
			continue
		}
		name := firstString(entry, bankNameKeys...)
		if name == "" {
			name = "Unknown"
		}
		banks = append(banks, Bank{Name: name, Code: code})
	}
	if len(banks) == 0 {
		return nil, dErrors.New(dErrors.CodeSchema, "no recognizable bank list in provider response")
	}
	return banks, nil
}

// MandateFields are the identifiers a mandate setup response may carry
// under varying keys.
type MandateFields struct {
	MandateReference string
	SubscriptionID   *int64
	ActivationURL    string
	ProviderActive   bool
}

// DefaultActiveStatus is the token the provider uses for an already
// active mandate when no override is configured.
const DefaultActiveStatus = "Active"

// ExtractMandateFields pulls mandate identifiers out of a setup
// response. ProviderActive is true only when the response's explicit
// status field equals the active token (compared case-insensitively);
// absence or any other value means the mandate is not yet active.
func ExtractMandateFields(body map[string]any, activeStatus string) MandateFields {
	if activeStatus == "" {
		activeStatus = DefaultActiveStatus
	}
	data := asMap(body["data"])

	f := MandateFields{ActivationURL: ExtractActivationURL(body)}

	f.MandateReference = firstString(data, "mandate_reference", "mandateReference")
	if f.MandateReference == "" {
		f.MandateReference = firstString(body, "mandate_reference", "mandateReference")
	}

	for _, v := range []any{data["subscription_id"], data["subscriptionId"], body["subscription_id"]} {
		if id, ok := asInt64(v); ok {
			f.SubscriptionID = &id
			break
		}
	}

	status := firstString(data, "status", "mandate_status")
	f.ProviderActive = status != "" && strings.EqualFold(status, activeStatus)
	return f
}

// ExtractActivationURL tries the activation link locations seen across
// provider responses, in order: data.activation_url, top-level
// activation_url, data.url, data.meta.activation_url.
func ExtractActivationURL(body map[string]any) string {
	data := asMap(body["data"])
	if v := asString(data["activation_url"]); v != "" {
		return v
	}
	if v := asString(body["activation_url"]); v != "" {
		return v
	}
	if v := asString(data["url"]); v != "" {
		return v
	}
	if v := asString(asMap(data["meta"])["activation_url"]); v != "" {
		return v
	}
	return ""
}

var transactionRefKeys = []string{"transaction_ref", "tx_ref", "transactionId", "transaction_id"}

// ExtractTransactionRef returns the provider-side transaction
// reference, nested under data or top-level, whichever appears first.
func ExtractTransactionRef(body map[string]any) string {
	if v := firstString(asMap(body["data"]), transactionRefKeys...); v != "" {
		return v
	}
	return firstString(body, transactionRefKeys...)
}

var paymentIDKeys = []string{"payment_id", "paymentId", "payment_reference"}

// ExtractPaymentID returns the provider payment identifier when the
// response carries one.
func ExtractPaymentID(body map[string]any) string {
	if v := firstString(asMap(body["data"]), paymentIDKeys...); v != "" {
		return v
	}
	return firstString(body, paymentIDKeys...)
}

// ResponseCode returns the provider verdict code of one stored
// response document: data.provider_response_code, or "".
func ResponseCode(body map[string]any) string {
	return asString(asMap(body["data"])["provider_response_code"])
}

// LatestResponseCode summarizes the newest provider verdict on a
// mandate regardless of which call produced it: the cancel response
// wins over the creation response.
func LatestResponseCode(cancelResponse, providerResponse map[string]any) string {
	if code := ResponseCode(cancelResponse); code != "" {
		return code
	}
	return ResponseCode(providerResponse)
}

// CancelConfirmed is the cancellation success predicate. Both parts
// are exact string comparisons: top-level status "Successful" and
// data.provider_response_code "00". A response that superficially
// resembles success, such as code "01", does not cancel a mandate.
func CancelConfirmed(body map[string]any) bool {
	status, _ := body["status"].(string)
	if status != "Successful" {
		return false
	}
	code, _ := asMap(body["data"])["provider_response_code"].(string)
	return code == "00"
}

// LookupVerified reports whether an account lookup response confirms
// ownership: a "Successful" top-level status, or a nested provider
// response that carries account details.
func LookupVerified(body map[string]any) bool {
	if status, _ := body["status"].(string); strings.EqualFold(status, "Successful") {
		return true
	}
	pr := asMap(asMap(body["data"])["provider_response"])
	if pr == nil {
		return false
	}
	if accounts := asList(pr["accounts"]); len(accounts) > 0 {
		return true
	}
	return asMap(pr["account"]) != nil || asString(pr["account"]) != ""
}

// ExtractErrorMessage pulls a human-readable failure message out of a
// provider response, trying the common locations before falling back to
// the caller's default.
func ExtractErrorMessage(body map[string]any, fallback string) string {
	if v := firstString(body, "message", "error"); v != "" {
		return v
	}
	pr := asMap(asMap(body["data"])["provider_response"])
	if v := firstString(pr, "message", "error"); v != "" {
		return v
	}
	return fallback
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asList(v any) []any {
	l, _ := v.([]any)
	return l
}

// asString coerces scalar JSON values to strings. Whole numbers render
// without a fractional part because some provider backends send
// numeric codes.
func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		if s == float64(int64(s)) {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return ""
	}
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v := asString(m[k]); v != "" {
			return v
		}
	}
	return ""
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	case string:
		if n == "" {
			return 0, false
		}
		if id, err := strconv.ParseInt(n, 10, 64); err == nil {
			return id, true
		}
	}
	return 0, false
}
