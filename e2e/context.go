// Package e2e drives a running stack end to end over HTTP, the way a
// client integration would. Feature files under features/ describe the
// flows, the steps/ packages bind them, and TestContext carries the
// HTTP plumbing plus the state steps share within one scenario.
//
// The suite is configured entirely through the environment:
//
//	E2E_BASE_URL         server under test (default http://localhost:8080)
//	E2E_JWT_SIGNING_KEY  the server's access-token signing key; the
//	                     suite mints its own bearer tokens with it
//	E2E_SEEDED_USER_ID   a user provisioned with active debit rules;
//	                     lifecycle scenarios stay pending without one
//
// The verification and lifecycle scenarios also assume the server's
// provider endpoint points at a sandbox that resolves the fixture
// account deterministically, such as mocks/onepipe-provider.
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TestContext is the shared state behind every step definition. One
// instance serves the whole suite; Reset runs before each scenario.
type TestContext struct {
	baseURL      string
	signingKey   string
	seededUserID string
	client       *http.Client

	accessToken string
	userID      string
	requestRef  string

	lastStatus int
	lastBody   []byte
	lastJSON   map[string]interface{}
}

// NewTestContext reads the suite configuration from the environment.
func NewTestContext() *TestContext {
	base := os.Getenv("E2E_BASE_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	return &TestContext{
		baseURL:      strings.TrimRight(base, "/"),
		signingKey:   os.Getenv("E2E_JWT_SIGNING_KEY"),
		seededUserID: os.Getenv("E2E_SEEDED_USER_ID"),
		client:       &http.Client{Timeout: 15 * time.Second},
	}
}

// Reset clears per-scenario state so scenarios stay order independent.
func (tc *TestContext) Reset() {
	tc.accessToken = ""
	tc.userID = ""
	tc.requestRef = ""
	tc.lastStatus = 0
	tc.lastBody = nil
	tc.lastJSON = nil
}

// POST sends a JSON request. A nil body sends an empty one; the bearer
// token is attached whenever the scenario has authenticated.
func (tc *TestContext) POST(path string, body interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, tc.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return tc.do(req)
}

// POSTRaw sends the bytes untouched. Webhook scenarios use it to push
// payloads no JSON encoder would produce.
func (tc *TestContext) POSTRaw(path, contentType string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, tc.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	return tc.do(req)
}

// GET sends a GET request with optional extra headers.
func (tc *TestContext) GET(path string, headers map[string]string) error {
	req, err := http.NewRequest(http.MethodGet, tc.baseURL+path, nil)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return tc.do(req)
}

func (tc *TestContext) do(req *http.Request) error {
	if tc.accessToken != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+tc.accessToken)
	}

	resp, err := tc.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	tc.lastStatus = resp.StatusCode
	tc.lastBody = body
	tc.lastJSON = nil
	_ = json.Unmarshal(body, &tc.lastJSON)
	return nil
}

// GetResponseField walks a dot-separated path into the last JSON
// response: "profile.is_completed" reads into the nested object.
func (tc *TestContext) GetResponseField(field string) (interface{}, error) {
	if tc.lastJSON == nil {
		return nil, fmt.Errorf("last response was not a JSON object: %s", tc.lastBody)
	}
	var current interface{} = tc.lastJSON
	for _, part := range strings.Split(field, ".") {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("field %q: %q is not an object", field, part)
		}
		current, ok = obj[part]
		if !ok {
			return nil, fmt.Errorf("field %q not present in response: %s", field, tc.lastBody)
		}
	}
	return current, nil
}

// ResponseContains reports whether the last JSON response carries the
// given dot-separated field.
func (tc *TestContext) ResponseContains(field string) bool {
	_, err := tc.GetResponseField(field)
	return err == nil
}

// GetLastResponseStatus returns the status code of the last response.
func (tc *TestContext) GetLastResponseStatus() int { return tc.lastStatus }

// GetLastResponseBody returns the raw body of the last response.
func (tc *TestContext) GetLastResponseBody() []byte { return tc.lastBody }

// AuthenticateNewUser mints a bearer token for a user id no scenario
// has seen before. A fresh user has no profile and no debit rules on
// record, which is exactly what the precondition scenarios need.
func (tc *TestContext) AuthenticateNewUser() error {
	return tc.authenticate(uuid.NewString())
}

// HasSeededUser reports whether the environment names a provisioned
// user for the full lifecycle scenarios.
func (tc *TestContext) HasSeededUser() bool { return tc.seededUserID != "" }

// AuthenticateSeededUser mints a bearer token for the user named by
// E2E_SEEDED_USER_ID. That user must already carry active debit rules;
// rules are provisioned out of band, not over the API.
func (tc *TestContext) AuthenticateSeededUser() error {
	if tc.seededUserID == "" {
		return fmt.Errorf("E2E_SEEDED_USER_ID is not set")
	}
	return tc.authenticate(tc.seededUserID)
}

// authenticate signs a short-lived HS256 token the server's validator
// accepts. Only the signature and expiry are checked server side, so
// the suite needs the signing key but no login flow.
func (tc *TestContext) authenticate(userID string) error {
	if tc.signingKey == "" {
		return fmt.Errorf("E2E_JWT_SIGNING_KEY is not set; cannot mint bearer tokens")
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"sub":     userID,
		"jti":     uuid.NewString(),
		"iat":     jwt.NewNumericDate(now),
		"exp":     jwt.NewNumericDate(now.Add(15 * time.Minute)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(tc.signingKey))
	if err != nil {
		return fmt.Errorf("sign access token: %w", err)
	}

	tc.userID = userID
	tc.accessToken = token
	return nil
}

// ClearAuth drops the bearer token so the next request goes out
// anonymous.
func (tc *TestContext) ClearAuth() {
	tc.accessToken = ""
	tc.userID = ""
}

// SetRequestRef records the provider request reference a scenario
// observed, for later webhook correlation.
func (tc *TestContext) SetRequestRef(ref string) { tc.requestRef = ref }

// GetRequestRef returns the recorded provider request reference, empty
// when no step has recorded one.
func (tc *TestContext) GetRequestRef() string { return tc.requestRef }
