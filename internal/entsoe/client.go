// Package entsoe retrieves day-ahead and imbalance prices from the ENTSO-E
// Transparency Platform REST API (https://transparency.entsoe.eu).
package entsoe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/url"
	"time"

	"energy_prices/internal/model"
)

const DefaultBaseURL = "https://web-api.tp.entsoe.eu/api"

// ProviderError is a failed request: HTTP status, or an acknowledgement
// document with a reason code (999 = no matching data).
type ProviderError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("entsoe HTTP %d (reason %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("entsoe HTTP %d: %s", e.StatusCode, e.Message)
}

// IsNoData reports whether err is the platform's "no matching data" answer.
func IsNoData(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Code == "999"
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return true // network errors are retryable
	}
	return pe.StatusCode == http.StatusTooManyRequests || pe.StatusCode >= 500
}

// Client talks to the REST API. It is safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	category   string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.httpClient = hc } }

func WithMaxRetries(n int) Option { return func(c *Client) { c.maxRetries = n } }

// WithBackoff sets the base wait; attempt k waits base*2^k.
func WithBackoff(d time.Duration) Option { return func(c *Client) { c.backoff = d } }

// WithImbalanceCategory selects A04 (long) or A05 (short) imbalance prices.
func WithImbalanceCategory(cat string) Option { return func(c *Client) { c.category = cat } }

func NewClient(baseURL, token string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		maxRetries: 5,
		backoff:    time.Second,
		category:   CategoryLong,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// FetchPrices returns observations of kind for country inside [start, end).
func (c *Client) FetchPrices(ctx context.Context, kind model.Kind, country string, start, end time.Time) (model.PriceSeries, error) {
	zone, ok := model.BiddingZone[country]
	if !ok {
		return model.PriceSeries{}, fmt.Errorf("unknown country code %q", country)
	}

	q := url.Values{}
	q.Set("securityToken", c.token)
	q.Set("periodStart", start.UTC().Format("200601021504"))
	q.Set("periodEnd", end.UTC().Format("200601021504"))

	category := ""
	switch kind {
	case model.KindDayAhead:
		q.Set("documentType", "A44")
		q.Set("in_Domain", zone)
		q.Set("out_Domain", zone)
		q.Set("contract_MarketAgreement.type", "A01")
	case model.KindImbalance:
		q.Set("documentType", "A85")
		q.Set("controlArea_Domain", zone)
		category = c.category
	default:
		return model.PriceSeries{}, fmt.Errorf("unsupported price kind %q", kind)
	}

	body, err := c.getWithRetry(ctx, c.baseURL+"?"+q.Encode())
	if err != nil {
		return model.PriceSeries{}, err
	}

	obs, res, err := parseResponse(body, category)
	if err != nil {
		return model.PriceSeries{}, err
	}

	return model.PriceSeries{
		Kind:         kind,
		Country:      country,
		Resolution:   res,
		Unit:         model.UnitEURPerMWh,
		Observations: clip(obs, start, end),
	}, nil
}

func (c *Client) getWithRetry(ctx context.Context, rawURL string) ([]byte, error) {
	var body []byte
	var err error
	for attempt := range c.maxRetries {
		body, err = c.doRequest(ctx, rawURL)
		if err == nil {
			return body, nil
		}
		if !isRetryable(err) {
			return nil, err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * c.backoff
		log.Printf("    entsoe: retrying in %s (attempt %d/%d): %v", wait, attempt+1, c.maxRetries, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, fmt.Errorf("after %d attempts: %w", c.maxRetries, err)
}

func (c *Client) doRequest(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, &ProviderError{StatusCode: resp.StatusCode, Message: "authentication failed, check ENTSOE_API_KEY"}
	case resp.StatusCode != http.StatusOK:
		// Bad requests come back as acknowledgement documents.
		if _, _, perr := parseDocument(body, ""); perr != nil {
			var pe *ProviderError
			if errors.As(perr, &pe) {
				pe.StatusCode = resp.StatusCode
				return nil, pe
			}
		}
		return nil, &ProviderError{StatusCode: resp.StatusCode, Message: string(body)}
	}
	return body, nil
}
