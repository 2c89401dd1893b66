package verification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"confirmgate/pkg/requestcontext"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

const maxProviderResponseBytes = 1 << 20

// HTTPProvider talks to the national ID provider's REST surface:
// POST {base}/verify-nid and POST {base}/register.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

type HTTPProviderOption func(*HTTPProvider)

// WithHTTPClient replaces the default instrumented client.
func WithHTTPClient(c *http.Client) HTTPProviderOption {
	return func(p *HTTPProvider) {
		if c != nil {
			p.client = c
		}
	}
}

// WithRateLimit caps outbound calls per second. Zero disables limiting.
func WithRateLimit(perSecond float64, burst int) HTTPProviderOption {
	return func(p *HTTPProvider) {
		if perSecond <= 0 {
			p.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func NewHTTPProvider(baseURL string, timeout time.Duration, opts ...HTTPProviderOption) (*HTTPProvider, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("identity provider base URL is required")
	}
	p := &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

type verifyResponse struct {
	Status string `json:"status"`
}

func (p *HTTPProvider) VerifyNID(ctx context.Context, req VerifyRequest) (Outcome, error) {
	body, err := p.post(ctx, "verify-nid", "/verify-nid", req)
	if err != nil {
		return OutcomeFailed, err
	}
	var resp verifyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return OutcomeFailed, NewProviderError(ErrorBadData, "verify-nid", "decode response", err)
	}
	switch Outcome(resp.Status) {
	case OutcomeVerified:
		return OutcomeVerified, nil
	case OutcomeFailed:
		return OutcomeFailed, nil
	default:
		return OutcomeFailed, NewProviderError(ErrorBadData, "verify-nid", fmt.Sprintf("unexpected status %q", resp.Status), nil)
	}
}

func (p *HTTPProvider) Register(ctx context.Context, req RegisterRequest) error {
	_, err := p.post(ctx, "register", "/register", req)
	return err
}

func (p *HTTPProvider) post(ctx context.Context, op, path string, payload any) ([]byte, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, NewProviderError(ErrorRateLimited, op, "rate limit wait", err)
		}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, NewProviderError(ErrorInternal, op, "encode request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, NewProviderError(ErrorInternal, op, "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if token := requestcontext.Token(ctx); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, NewProviderError(ErrorTimeout, op, "request timed out", err)
		}
		return nil, NewProviderError(ErrorOutage, op, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderResponseBytes))
	if err != nil {
		return nil, NewProviderError(ErrorOutage, op, "read response", err)
	}
	if err := statusError(op, resp.StatusCode); err != nil {
		return nil, err
	}
	return body, nil
}

func statusError(op string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewProviderError(ErrorAuthentication, op, fmt.Sprintf("status %d", status), nil)
	case status == http.StatusTooManyRequests:
		return NewProviderError(ErrorRateLimited, op, "status 429", nil)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return NewProviderError(ErrorTimeout, op, fmt.Sprintf("status %d", status), nil)
	case status >= 500:
		return NewProviderError(ErrorOutage, op, fmt.Sprintf("status %d", status), nil)
	default:
		return NewProviderError(ErrorBadData, op, fmt.Sprintf("status %d", status), nil)
	}
}
