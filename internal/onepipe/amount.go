package onepipe

import (
	"strings"

	dErrors "kore/pkg/domain-errors"
)

// ProviderAmount converts a decimal naira amount into the provider's
// scaled unit convention by multiplying by 1000 with exact string
// arithmetic, so no float rounding can alter a money field. Trailing
// fractional zeros are stripped: "100000" -> "100000000", "100.25" ->
// "100250", "0.001" -> "1".
func ProviderAmount(amount string) (string, error) {
	s := strings.TrimSpace(amount)
	if s == "" {
		return "", dErrors.New(dErrors.CodeValidation, "amount is empty")
	}
	intPart, fracPart, hasDot := strings.Cut(s, ".")
	if intPart == "" {
		intPart = "0"
	}
	if hasDot && fracPart == "" {
		return "", dErrors.Newf(dErrors.CodeValidation, "malformed amount %q", amount)
	}
	if !digitsOnly(intPart) || !digitsOnly(fracPart) {
		return "", dErrors.Newf(dErrors.CodeValidation, "malformed amount %q", amount)
	}

	// Multiplying by 1000 is a three-place shift of the decimal point.
	scaled := fracPart
	for len(scaled) < 3 {
		scaled += "0"
	}
	intPart += scaled[:3]
	rem := strings.TrimRight(scaled[3:], "0")

	intPart = strings.TrimLeft(intPart, "0")
	if intPart == "" {
		intPart = "0"
	}
	if rem != "" {
		return intPart + "." + rem, nil
	}
	return intPart, nil
}

func digitsOnly(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
