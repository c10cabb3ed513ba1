package onepipe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"kore/internal/onepipe/metrics"
)

// OutcomeKind classifies a transact call.
type OutcomeKind string

const (
	// OutcomeSuccess means the provider answered with an HTTP success
	// and a well-formed envelope.
	OutcomeSuccess OutcomeKind = "success"
	// OutcomeProviderError means the provider answered and rejected
	// the request, either via HTTP status or an application-level
	// failure payload.
	OutcomeProviderError OutcomeKind = "provider_error"
	// OutcomeTransportError means no usable provider answer exists:
	// connection failure, timeout, or a malformed response envelope.
	OutcomeTransportError OutcomeKind = "transport_error"
)

// Outcome is the classified result of one transact call. RequestRef
// echoes the reference the call was signed with, so callers can
// correlate persisted rows and later webhooks.
type Outcome struct {
	Kind       OutcomeKind
	RequestRef string
	StatusCode int
	Body       map[string]any
	Raw        json.RawMessage
	Detail     string
}

// AuditBody returns the best available representation of the provider
// answer for persistence: the decoded body when one exists, otherwise
// a small document carrying the classification, transport detail, and
// raw text. Mandate rows persist this so no failure is silently
// dropped.
func (o Outcome) AuditBody() map[string]any {
	if o.Body != nil {
		return o.Body
	}
	doc := map[string]any{"outcome": string(o.Kind)}
	if o.Detail != "" {
		doc["detail"] = o.Detail
	}
	if o.StatusCode != 0 {
		doc["status_code"] = o.StatusCode
	}
	if len(o.Raw) > 0 {
		doc["raw"] = string(o.Raw)
	}
	return doc
}

const maxResponseBytes = 10 << 20

// Client sends signed transact requests. It never retries: mandate
// operations must not be silently duplicated, so retry policy belongs
// to callers.
type Client struct {
	http         *http.Client
	url          string
	apiKey       string
	clientSecret string
	mockMode     string
	logger       *slog.Logger
	metrics      *metrics.Metrics
	tracer       trace.Tracer
}

type ClientOption func(*Client)

func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) {
		c.http = h
	}
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient validates credentials up front so a misconfigured process
// fails at startup rather than on its first provider call.
func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	if cfg.APIKey == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("onepipe: api key and client secret are required")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("onepipe: base url is required")
	}
	path := cfg.TransactPath
	if path == "" {
		path = defaultTransactPath
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	mode := cfg.MockMode
	if mode == "" {
		mode = defaultMockMode
	}
	c := &Client{
		http:         &http.Client{Timeout: timeout},
		url:          base + path,
		apiKey:       cfg.APIKey,
		clientSecret: cfg.ClientSecret,
		mockMode:     mode,
		logger:       slog.Default(),
		tracer:       otel.Tracer("kore/onepipe"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Transact signs and POSTs the payload and classifies the answer. The
// request reference embedded in the payload is the idempotency anchor
// on the provider side; a missing reference is filled in here before
// signing. A missing transaction mock mode is defaulted the same way.
func (c *Client) Transact(ctx context.Context, p *Payload) Outcome {
	ref := p.RequestRef
	if ref == "" {
		ref = NewRequestRef()
		p.RequestRef = ref
	}
	if p.Transaction != nil && p.Transaction.MockMode == "" {
		p.Transaction.MockMode = c.mockMode
	}

	ctx, span := c.tracer.Start(ctx, "onepipe.transact", trace.WithAttributes(
		attribute.String("onepipe.request_type", p.RequestType),
		attribute.String("onepipe.request_ref", ref),
	))
	defer span.End()

	start := time.Now()
	out := c.send(ctx, ref, p)
	out.RequestRef = ref

	span.SetAttributes(attribute.String("onepipe.outcome", string(out.Kind)))
	if out.Kind == OutcomeTransportError {
		span.SetStatus(codes.Error, out.Detail)
	}
	if c.metrics != nil {
		c.metrics.IncrementCall(p.RequestType, string(out.Kind))
		c.metrics.ObserveCall(p.RequestType, start)
	}
	c.logger.InfoContext(ctx, "provider transact completed",
		"request_type", p.RequestType,
		"request_ref", ref,
		"outcome", string(out.Kind),
		"status_code", out.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return out
}

func (c *Client) send(ctx context.Context, ref string, p *Payload) Outcome {
	body, err := json.Marshal(p)
	if err != nil {
		return Outcome{Kind: OutcomeTransportError, Detail: fmt.Sprintf("encode payload: %v", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Outcome{Kind: OutcomeTransportError, Detail: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Signature", Sign(ref, c.clientSecret))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Outcome{Kind: OutcomeTransportError, Detail: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Outcome{Kind: OutcomeTransportError, StatusCode: resp.StatusCode, Detail: fmt.Sprintf("read response: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Outcome{
			Kind:       OutcomeProviderError,
			StatusCode: resp.StatusCode,
			Body:       decodeLoose(raw),
			Raw:        raw,
			Detail:     fmt.Sprintf("provider returned %d", resp.StatusCode),
		}
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Outcome{Kind: OutcomeTransportError, StatusCode: resp.StatusCode, Raw: raw, Detail: "malformed response envelope"}
	}
	if failureStatus(decoded) {
		return Outcome{Kind: OutcomeProviderError, StatusCode: resp.StatusCode, Body: decoded, Raw: raw, Detail: "provider reported failure"}
	}
	return Outcome{Kind: OutcomeSuccess, StatusCode: resp.StatusCode, Body: decoded, Raw: raw}
}

// failureStatus reports whether a well-formed envelope carries an
// application-level rejection. The provider signals these with a 2xx
// response and a top-level failure token.
func failureStatus(body map[string]any) bool {
	s, _ := body["status"].(string)
	return strings.EqualFold(s, "failed") || strings.EqualFold(s, "error")
}

func decodeLoose(raw []byte) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
