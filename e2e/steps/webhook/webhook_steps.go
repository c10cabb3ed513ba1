package webhook

import (
	"context"
	"fmt"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body interface{}) error
	POSTRaw(path string, contentType string, body []byte) error
	GetResponseField(field string) (interface{}, error)
	ResponseContains(field string) bool
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
	GetRequestRef() string
}

// RegisterSteps registers webhook ingestion step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &webhookSteps{tc: tc}

	ctx.Step(`^the provider sends a notification for the recorded request reference$`, steps.notificationForRecordedRef)
	ctx.Step(`^the provider sends an uncorrelated notification$`, steps.uncorrelatedNotification)
	ctx.Step(`^the provider sends a malformed notification$`, steps.malformedNotification)
	ctx.Step(`^the notification should be acknowledged$`, steps.notificationAcknowledged)
}

type webhookSteps struct {
	tc TestContext
}

func (s *webhookSteps) notificationForRecordedRef(ctx context.Context) error {
	ref := s.tc.GetRequestRef()
	if ref == "" {
		return fmt.Errorf("no provider request reference recorded in this scenario")
	}
	body := map[string]interface{}{
		"request_ref": ref,
		"status":      "Successful",
		"data": map[string]interface{}{
			"provider_response_code": "00",
		},
	}
	return s.tc.POST("/api/webhooks/onepipe", body)
}

func (s *webhookSteps) uncorrelatedNotification(ctx context.Context) error {
	body := map[string]interface{}{
		"event":  "account.ping",
		"status": "Successful",
	}
	return s.tc.POST("/api/webhooks/onepipe", body)
}

func (s *webhookSteps) malformedNotification(ctx context.Context) error {
	return s.tc.POSTRaw("/api/webhooks/onepipe", "application/json", []byte("{this is not json"))
}

// notificationAcknowledged: ingestion answers 200 with a webhook id
// whatever the payload looked like. Providers retry on anything else.
func (s *webhookSteps) notificationAcknowledged(ctx context.Context) error {
	if status := s.tc.GetLastResponseStatus(); status != 200 {
		return fmt.Errorf("webhook returned %d: %s", status, s.tc.GetLastResponseBody())
	}
	value, err := s.tc.GetResponseField("status")
	if err != nil {
		return err
	}
	if value != "received" {
		return fmt.Errorf("expected acknowledgement status %q, got %v", "received", value)
	}
	if !s.tc.ResponseContains("webhook_id") {
		return fmt.Errorf("acknowledgement missing webhook_id: %s", s.tc.GetLastResponseBody())
	}
	return nil
}
