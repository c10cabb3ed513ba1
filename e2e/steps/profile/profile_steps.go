package profile

import (
	"context"
	"fmt"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body interface{}) error
	GetResponseField(field string) (interface{}, error)
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
}

// RegisterSteps registers bank account verification step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &profileSteps{tc: tc}

	ctx.Step(`^I verify my bank account "([^"]*)" at bank "([^"]*)"$`, steps.verifyBankAccount)
	ctx.Step(`^my bank account is verified$`, steps.bankAccountIsVerified)
}

type profileSteps struct {
	tc TestContext
}

// verificationRequest mirrors the verify endpoint contract. The account
// fixture is one the provider sandbox resolves deterministically.
func verificationRequest(account, bankCode string) map[string]interface{} {
	return map[string]interface{}{
		"first_name":     "Ada",
		"surname":        "Obi",
		"phone_number":   "08031234567",
		"bank_name":      "Guaranty Trust Bank",
		"bank_code":      bankCode,
		"account_number": account,
		"bvn":            "12345678901",
	}
}

func (s *profileSteps) verifyBankAccount(ctx context.Context, account, bankCode string) error {
	return s.tc.POST("/api/profile/verify", verificationRequest(account, bankCode))
}

// bankAccountIsVerified completes the profile as a Given: unlike the
// When step above it fails the scenario when verification does not
// come back verified.
func (s *profileSteps) bankAccountIsVerified(ctx context.Context) error {
	if err := s.tc.POST("/api/profile/verify", verificationRequest("0123456789", "058")); err != nil {
		return err
	}
	if status := s.tc.GetLastResponseStatus(); status != 200 {
		return fmt.Errorf("verification returned %d: %s", status, s.tc.GetLastResponseBody())
	}
	value, err := s.tc.GetResponseField("status")
	if err != nil {
		return err
	}
	if value != "verified" {
		return fmt.Errorf("expected verification status %q, got %v", "verified", value)
	}
	return nil
}
