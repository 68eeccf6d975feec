// Package bitrix is the outbound client for the Bitrix24 REST webhook API.
// All portal access in the backend goes through this package: it normalizes
// identifiers to canonical strings, throttles requests to stay under the
// portal's rate limits, and retries transient failures.
package bitrix

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

	"crmguard_backend/platform/apperr"
	"crmguard_backend/platform/config"
	"crmguard_backend/platform/logger"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// Client talks to a single Bitrix24 portal through an inbound webhook URL.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *logger.Logger
}

// NewClient builds a portal client from configuration.
func NewClient(cfg config.BitrixConfig, log *logger.Logger) *Client {
	rps := cfg.GetBitrixRequestsPerSecond()
	if rps <= 0 {
		rps = 2
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.GetBitrixWebhookURL(), "/"),
		httpClient: &http.Client{
			Timeout: cfg.GetBitrixRequestTimeout(),
		},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		log:     log,
	}
}

// apiResponse is the envelope the portal wraps every REST result in.
type apiResponse struct {
	Result           json.RawMessage `json:"result"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
	Total            int             `json:"total"`
	Next             *int            `json:"next"`
}

// transientError marks failures worth retrying (network errors, 5xx, 429).
type transientError struct{ err error }

func (t *transientError) Error() string { return t.err.Error() }
func (t *transientError) Unwrap() error { return t.err }

// call performs one REST method invocation with throttling and retries.
// The returned envelope has Error already checked and mapped.
func (c *Client) call(ctx context.Context, method string, params interface{}) (*apiResponse, error) {
	const op = "bitrix.call"

	body, err := json.Marshal(params)
	if err != nil {
		return nil, apperr.Internal("encode portal request").WithOp(op)
	}

	var resp *apiResponse
	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		httpResp, err := c.httpClient.Do(req)
		if err != nil {
			return &transientError{err: err}
		}
		defer httpResp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 16<<20))
		if err != nil {
			return &transientError{err: err}
		}

		if httpResp.StatusCode == http.StatusTooManyRequests || httpResp.StatusCode >= 500 {
			return &transientError{err: fmt.Errorf("portal returned %d for %s", httpResp.StatusCode, method)}
		}

		var envelope apiResponse
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return backoff.Permanent(fmt.Errorf("decode portal response for %s: %w", method, err))
		}

		if envelope.Error != "" {
			return backoff.Permanent(mapPortalError(method, &envelope))
		}

		resp = &envelope
		return nil
	}

	policy := backoff.WithContext(newRetryPolicy(), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		if apperr.GetKind(err) != apperr.KindUnknown {
			return nil, err
		}
		var tErr *transientError
		if errors.As(err, &tErr) {
			c.log.Warn("portal unreachable", "method", method, "error", err.Error())
			return nil, apperr.Unavailable("CRM portal is unreachable").WithOp(op)
		}
		return nil, apperr.Wrap(apperr.KindInternal, "portal request failed", err).WithOp(op)
	}

	return resp, nil
}

func newRetryPolicy() backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	policy.MaxElapsedTime = 20 * time.Second
	return policy
}

// mapPortalError converts a portal error envelope into a typed domain error.
func mapPortalError(method string, envelope *apiResponse) error {
	op := "bitrix." + method
	switch envelope.Error {
	case "ERROR_NOT_FOUND", "NOT_FOUND":
		return apperr.NotFound("entity not found in CRM").WithOp(op)
	case "QUERY_LIMIT_EXCEEDED":
		return apperr.Unavailable("CRM portal rate limit exceeded").WithOp(op)
	default:
		desc := envelope.ErrorDescription
		if desc == "" {
			desc = envelope.Error
		}
		if strings.Contains(strings.ToLower(desc), "not found") {
			return apperr.NotFound("entity not found in CRM").WithOp(op)
		}
		return apperr.Internal("CRM portal error: " + desc).WithOp(op)
	}
}

// listAll walks a paginated list method collecting every result page.
func (c *Client) listAll(ctx context.Context, method string, params map[string]interface{}) ([]json.RawMessage, error) {
	var items []json.RawMessage
	start := 0

	for {
		params["start"] = start
		resp, err := c.call(ctx, method, params)
		if err != nil {
			return nil, err
		}

		var page []json.RawMessage
		if err := json.Unmarshal(resp.Result, &page); err != nil {
			return nil, apperr.Internal("decode portal list page").WithOp("bitrix." + method)
		}
		items = append(items, page...)

		if resp.Next == nil {
			return items, nil
		}
		start = *resp.Next
	}
}
