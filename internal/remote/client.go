// Package remote is the client of the central authority API. The agent only
// ever talks to two endpoints: the catalog snapshot and idempotent sale
// creation. Failures are classified so the sync engine can tell retryable
// network trouble from permanent rejections.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/blendsoftware/possync/internal/types"
)

// Options configures a Client.
type Options struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	// Backoff for transient CreateSale failures within a single push attempt.
	RetryBase        time.Duration
	RetryCap         time.Duration
	RetryMaxAttempts int
}

// Client talks to the remote authority.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client

	retryBase        time.Duration
	retryCap         time.Duration
	retryMaxAttempts int
}

// NewClient creates a Client for the given authority.
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	base := opts.RetryBase
	if base == 0 {
		base = 500 * time.Millisecond
	}
	cap := opts.RetryCap
	if cap == 0 {
		cap = 30 * time.Second
	}
	attempts := opts.RetryMaxAttempts
	if attempts == 0 {
		attempts = 5
	}

	return &Client{
		baseURL:          opts.BaseURL,
		apiKey:           opts.APIKey,
		http:             &http.Client{Timeout: timeout},
		retryBase:        base,
		retryCap:         cap,
		retryMaxAttempts: attempts,
	}
}

// Ping checks reachability of the authority. A successful round trip is the
// only proof of connectivity; the monitor treats everything else as a hint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Kind: KindTransient, Err: err}
	}
	defer drain(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return classifyStatus(resp.StatusCode, "health check")
	}
	return nil
}

// FetchCatalog retrieves the full current catalog snapshot.
func (c *Client) FetchCatalog(ctx context.Context) (*types.CatalogSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/catalog", nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindTransient, Err: fmt.Errorf("fetch catalog: %w", err)}
	}
	defer drain(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, "fetch catalog")
	}

	var snap types.CatalogSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, &Error{Kind: KindTransient, Err: fmt.Errorf("decode catalog: %w", err)}
	}
	if snap.AsOf.IsZero() {
		snap.AsOf = time.Now().UTC()
	}
	return &snap, nil
}

// CreateSale pushes one sale to the authority. The sale's client-generated
// ID rides in the Idempotency-Key header, so resubmitting the same sale
// never creates a duplicate. Transient failures are retried in-call with
// capped exponential backoff; the error returned after exhaustion is still
// classified transient so the next cycle retries the sale again.
func (c *Client) CreateSale(ctx context.Context, sale types.OutboxSale) error {
	body, err := json.Marshal(sale)
	if err != nil {
		return fmt.Errorf("marshal sale %s: %w", sale.ID, err)
	}

	backoff := retry.WithCappedDuration(c.retryCap, retry.NewExponential(c.retryBase))
	backoff = retry.WithMaxRetries(uint64(c.retryMaxAttempts-1), backoff)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.postSale(ctx, sale.ID, body)
		if IsTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (c *Client) postSale(ctx context.Context, saleID string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/sales", bytes.NewReader(body))
	if err != nil {
		return err
	}
	c.authorize(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", saleID)

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Kind: KindTransient, Err: fmt.Errorf("post sale %s: %w", saleID, err)}
	}
	defer drain(resp.Body)

	// 200 and 201 both mean accepted; 409 means the authority already has
	// this idempotency key, which is success for our purposes.
	switch {
	case resp.StatusCode == http.StatusOK,
		resp.StatusCode == http.StatusCreated,
		resp.StatusCode == http.StatusConflict:
		return nil
	default:
		return classifyStatus(resp.StatusCode, fmt.Sprintf("post sale %s", saleID))
	}
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// drain discards and closes a response body so the connection can be reused.
func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
