// Package core calls back into the registration core to resolve actions
// that were deferred with a 202.
package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"confirmgate/pkg/requestcontext"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var callbackNamespace = uuid.MustParse("0b8f3f7e-93d4-4a3c-8d6e-1c1f2a9b5e40")

// ErrRejected is returned when the core refuses the mutation (4xx).
var ErrRejected = errors.New("core rejected mutation")

// ActionRef identifies the deferred action being resolved.
type ActionRef struct {
	EventID    string
	ActionID   string
	ActionType string // kebab-case slug, e.g. "register"
}

// Client is an HTTP client for the core's event action mutations.
type Client struct {
	baseURL    string
	http       *http.Client
	maxRetries uint64
	retryDelay time.Duration
	logger     *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = logger
	}
}

// WithRetry sets how many times a 5xx or transport error is retried.
func WithRetry(maxRetries uint64, initialDelay time.Duration) Option {
	return func(cl *Client) {
		cl.maxRetries = maxRetries
		if initialDelay > 0 {
			cl.retryDelay = initialDelay
		}
	}
}

func NewClient(baseURL string, timeout time.Duration, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("core base URL is required")
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		maxRetries: 3,
		retryDelay: 250 * time.Millisecond,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// TransactionID is the deterministic id of a resolution, so a retried
// callback is a replay at the core rather than a second mutation.
func TransactionID(actionID, verb string) string {
	return uuid.NewSHA1(callbackNamespace, []byte(actionID+":"+verb)).String()
}

// Accept resolves the action as accepted. extra is merged into the body,
// e.g. registrationNumber for REGISTER.
func (c *Client) Accept(ctx context.Context, ref ActionRef, extra map[string]any) error {
	body := map[string]any{}
	for k, v := range extra {
		body[k] = v
	}
	return c.mutate(ctx, ref, "accept", body)
}

// Reject resolves the action as rejected.
func (c *Client) Reject(ctx context.Context, ref ActionRef, reason string) error {
	body := map[string]any{}
	if reason != "" {
		body["reason"] = map[string]string{"message": reason}
	}
	return c.mutate(ctx, ref, "reject", body)
}

func (c *Client) mutate(ctx context.Context, ref ActionRef, verb string, body map[string]any) error {
	if ref.EventID == "" || ref.ActionID == "" || ref.ActionType == "" {
		return fmt.Errorf("event id, action id and action type are required")
	}
	body["eventId"] = ref.EventID
	body["actionId"] = ref.ActionID
	body["transactionId"] = TransactionID(ref.ActionID, verb)

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s mutation: %w", verb, err)
	}
	url := fmt.Sprintf("%s/event.actions.%s.%s", c.baseURL, ref.ActionType, verb)

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if token := requestcontext.Token(ctx); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("core returned %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(msg))))
		}
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.retryDelay
	notify := func(err error, wait time.Duration) {
		c.logger.WarnContext(ctx, "core callback failed, retrying",
			"event_id", ref.EventID,
			"action_id", ref.ActionID,
			"verb", verb,
			"wait", wait,
			"error", err,
		)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(eb, c.maxRetries), ctx), notify); err != nil {
		return fmt.Errorf("%s %s action %s: %w", verb, ref.ActionType, ref.ActionID, err)
	}
	return nil
}
