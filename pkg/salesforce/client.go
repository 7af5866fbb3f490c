// Package salesforce provides JWT-authenticated REST API access to Salesforce.
package salesforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/lead-pipeline/internal/resilience"
)

// Client defines the Salesforce API operations used by the CRM executor.
type Client interface {
	Query(ctx context.Context, soql string, out any) error
	InsertOne(ctx context.Context, sObjectName string, record map[string]any) (string, error)
	UpdateOne(ctx context.Context, sObjectName string, id string, fields map[string]any) error
}

// ClientOption configures the Salesforce client.
type ClientOption func(*apiClient)

// WithRateLimit sets a per-second rate limit for SF API calls.
// A burst equal to the integer portion of rps is allowed.
func WithRateLimit(rps float64) ClientOption {
	return func(c *apiClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// apiClient wraps the go-salesforce/v3 Salesforce struct and classifies its
// errors for the retry machinery upstream.
//
// NOTE: go-salesforce/v3 does not accept context.Context, so the ctx parameter
// only bounds the rate-limiter wait; the SF call itself cannot be cancelled.
type apiClient struct {
	sf      *salesforce.Salesforce
	limiter *rate.Limiter
}

// NewClient creates a new Salesforce Client wrapping the given go-salesforce instance.
func NewClient(sf *salesforce.Salesforce, opts ...ClientOption) Client {
	c := &apiClient{sf: sf}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// transientFaults are Salesforce error markers that clear on retry: platform
// throttles, row locks, and gateway-level outages. go-salesforce surfaces
// them as message text, not status codes.
var transientFaults = []string{
	"server_unavailable",
	"service unavailable",
	"request_limit_exceeded",
	"concurrent_requests_limit",
	"unable_to_lock_row",
	"too many requests",
	"gateway timeout",
	"timeout",
}

// classify wraps errors matching a transient fault marker so callers can
// route them into retry/backoff instead of failing permanently.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	for _, fault := range transientFaults {
		if strings.Contains(msg, fault) {
			return resilience.NewTransientError(err, 0)
		}
	}
	return err
}

// wait blocks until the rate limiter allows one event, or ctx is cancelled.
func (c *apiClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *apiClient) Query(ctx context.Context, soql string, out any) error {
	if err := c.wait(ctx); err != nil {
		return eris.Wrap(err, "sf: rate limit")
	}
	if err := c.sf.Query(soql, out); err != nil {
		return eris.Wrap(classify(err), "sf: query")
	}
	return nil
}

func (c *apiClient) InsertOne(ctx context.Context, sObjectName string, record map[string]any) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", eris.Wrap(err, "sf: rate limit")
	}
	result, err := c.sf.InsertOne(sObjectName, record)
	if err != nil {
		return "", eris.Wrap(classify(err), fmt.Sprintf("sf: insert %s", sObjectName))
	}
	if !result.Success {
		return "", eris.New(fmt.Sprintf("sf: insert %s failed: %v", sObjectName, result.Errors))
	}
	return result.Id, nil
}

func (c *apiClient) UpdateOne(ctx context.Context, sObjectName string, id string, fields map[string]any) error {
	if err := c.wait(ctx); err != nil {
		return eris.Wrap(err, "sf: rate limit")
	}
	fields["Id"] = id
	if err := c.sf.UpdateOne(sObjectName, fields); err != nil {
		return eris.Wrap(classify(err), fmt.Sprintf("sf: update %s %s", sObjectName, id))
	}
	return nil
}
