package mandate

import (
	"context"
	"fmt"
	"regexp"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body interface{}) error
	GET(path string, headers map[string]string) error
	GetResponseField(field string) (interface{}, error)
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
	SetRequestRef(ref string)
}

// RegisterSteps registers mandate lifecycle step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &mandateSteps{tc: tc}

	// Lifecycle steps
	ctx.Step(`^I set up a recurring debit mandate$`, steps.setUpMandate)
	ctx.Step(`^I fetch my latest mandate$`, steps.fetchLatestMandate)
	ctx.Step(`^I cancel my mandate$`, steps.cancelMandate)
	ctx.Step(`^no mandate is live for my user$`, steps.noLiveMandate)

	// Assertion steps
	ctx.Step(`^the mandate status should be "([^"]*)"$`, steps.mandateStatusShouldBe)
	ctx.Step(`^the mandate should carry a provider request reference$`, steps.mandateCarriesRequestRef)
}

type mandateSteps struct {
	tc TestContext
}

// Provider request references are uuids with the dashes stripped, 32
// lowercase hex characters.
var requestRefPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

func (s *mandateSteps) setUpMandate(ctx context.Context) error {
	return s.tc.POST("/api/mandates", nil)
}

func (s *mandateSteps) fetchLatestMandate(ctx context.Context) error {
	return s.tc.GET("/api/mandates/me", nil)
}

func (s *mandateSteps) cancelMandate(ctx context.Context) error {
	return s.tc.POST("/api/mandates/cancel", nil)
}

// noLiveMandate is cleanup, not an assertion: it cancels whatever
// mandate the user carries so lifecycle scenarios can rerun against
// the same seeded user. "Nothing to cancel" is an acceptable answer.
func (s *mandateSteps) noLiveMandate(ctx context.Context) error {
	if err := s.tc.POST("/api/mandates/cancel", nil); err != nil {
		return err
	}
	if status := s.tc.GetLastResponseStatus(); status >= 500 {
		return fmt.Errorf("mandate cleanup returned %d: %s", status, s.tc.GetLastResponseBody())
	}
	return nil
}

func (s *mandateSteps) mandateStatusShouldBe(ctx context.Context, expected string) error {
	value, err := s.tc.GetResponseField("status")
	if err != nil {
		return err
	}
	if value != expected {
		return fmt.Errorf("expected mandate status %q, got %v: %s", expected, value, s.tc.GetLastResponseBody())
	}
	return nil
}

func (s *mandateSteps) mandateCarriesRequestRef(ctx context.Context) error {
	value, err := s.tc.GetResponseField("request_ref")
	if err != nil {
		return err
	}
	ref, ok := value.(string)
	if !ok || !requestRefPattern.MatchString(ref) {
		return fmt.Errorf("request_ref %v is not a provider request reference", value)
	}
	s.tc.SetRequestRef(ref)
	return nil
}
