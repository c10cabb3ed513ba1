package e2e

import (
	"github.com/cucumber/godog"

	"kore/e2e/steps/common"
	"kore/e2e/steps/mandate"
	"kore/e2e/steps/profile"
	"kore/e2e/steps/webhook"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Register common steps (background, generic requests, assertions)
	common.RegisterSteps(ctx, tc)

	// Register bank account verification steps
	profile.RegisterSteps(ctx, tc)

	// Register mandate lifecycle steps
	mandate.RegisterSteps(ctx, tc)

	// Register webhook ingestion steps
	webhook.RegisterSteps(ctx, tc)
}
