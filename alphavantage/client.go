// Copyright 2022 Stock Parfait

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package alphavantage

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"
	"github.com/stockparfait/voldisloc/clock"
	"github.com/stockparfait/voldisloc/db"
)

// URL is the default base URL of the server. It may be overwritten in tests
// before creating a new client.
var URL = "https://www.alphavantage.co/query"

// maxBodyPrefix is how much of an error response body is kept for diagnostics.
const maxBodyPrefix = 1024

// Client for querying the Alpha Vantage API.
type Client struct {
	baseURL string       // the base URL of the server
	apiKey  string       // your very own secret key
	http    *http.Client // performs the requests
	policy  RetryPolicy
}

// NewClient creates a new client with the default base URL, HTTP client and
// retry policy.
func NewClient(apiKey string) *Client {
	return &Client{
		baseURL: URL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		policy:  DefaultRetryPolicy(),
	}
}

// WithBaseURL overrides the base URL of the server.
func (c *Client) WithBaseURL(u string) *Client {
	c.baseURL = u
	return c
}

// WithHTTPClient sets the HTTP client, e.g. to configure the request timeout.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

// WithRetryPolicy sets the retry policy for transient failures.
func (c *Client) WithRetryPolicy(p RetryPolicy) *Client {
	c.policy = p
	return c
}

// Contract is a single raw contract object of the HISTORICAL_OPTIONS response.
// The upstream encodes all the values, including numbers, as strings.
type Contract map[string]any

// OptionsPayload is the decoded HISTORICAL_OPTIONS response.
type OptionsPayload struct {
	Endpoint     string     `json:"endpoint,omitempty"`
	Message      string     `json:"message,omitempty"`
	Data         []Contract `json:"data,omitempty"`
	Information  string     `json:"Information,omitempty"`
	Note         string     `json:"Note,omitempty"`
	ErrorMessage string     `json:"Error Message,omitempty"`
}

// NoData is true when the response has no contracts for the requested date.
func (p *OptionsPayload) NoData() bool {
	return p == nil || len(p.Data) == 0
}

// Notice returns the informational message sent instead of the data, if any.
func (p *OptionsPayload) Notice() string {
	if p == nil {
		return ""
	}
	for _, m := range []string{p.ErrorMessage, p.Information, p.Note} {
		if m != "" {
			return m
		}
	}
	return ""
}

// HistoricalOptions fetches the options chain of the symbol on the given date.
// Transient failures are retried according to the client's RetryPolicy,
// sleeping on the clock from the context. Any failure is returned as a
// *FetchError.
func (c *Client) HistoricalOptions(ctx context.Context, symbol string, date db.Date) (*OptionsPayload, error) {
	query := make(url.Values)
	query.Set("function", "HISTORICAL_OPTIONS")
	query.Set("symbol", symbol)
	query.Set("date", date.String())
	query.Set("apikey", c.apiKey)

	fail := func(kind ErrorKind, status int, body []byte, attempts int, err error) *FetchError {
		if len(body) > maxBodyPrefix {
			body = body[:maxBodyPrefix]
		}
		return &FetchError{
			Kind:       kind,
			Symbol:     symbol,
			Date:       date,
			StatusCode: status,
			Body:       string(body),
			Attempts:   attempts,
			Err:        err,
		}
	}

	b := c.policy.BackOff()
	for attempt := 1; ; attempt++ {
		status, body, err := c.get(ctx, query)
		if err == nil && status == http.StatusOK {
			var p OptionsPayload
			if err := json.Unmarshal(body, &p); err != nil {
				return nil, fail(Decode, status, body, attempt,
					errors.Annotate(err, "failed to decode JSON"))
			}
			if p.NoData() && p.Notice() != "" {
				logging.Warningf(ctx, "%s %s: no data, upstream says: %s",
					symbol, date, p.Notice())
			}
			return &p, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fail(Transient, status, body, attempt, ctxErr)
		}
		if err == nil && !c.policy.Retryable(status) {
			return nil, fail(Permanent, status, body, attempt,
				errors.Reason("HTTP status %d", status))
		}
		if err == nil {
			err = errors.Reason("HTTP status %d", status)
		}
		delay := b.NextBackOff()
		if delay == backoff.Stop {
			return nil, fail(Transient, status, body, attempt,
				errors.Annotate(err, "giving up after %d attempts", attempt))
		}
		logging.Warningf(ctx, "%s %s: attempt %d failed, retrying in %s: %s",
			symbol, date, attempt, delay, err.Error())
		if err := clock.Get(ctx).Sleep(ctx, delay); err != nil {
			return nil, fail(Transient, status, body, attempt, err)
		}
	}
}

// get performs a single GET request and reads the whole response body.
func (c *Client) get(ctx context.Context, query url.Values) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return 0, nil, errors.Annotate(err, "failed to create request")
	}
	req.URL.RawQuery = query.Encode()
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, errors.Annotate(err, "request failed")
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, errors.Annotate(err, "failed to read response body")
	}
	return resp.StatusCode, body, nil
}

// TestOptionsPayload generates the JSON string in the format returned by the
// HISTORICAL_OPTIONS API. For use in tests.
func TestOptionsPayload(data ...Contract) (string, error) {
	if data == nil {
		data = []Contract{}
	}
	bytes, err := json.Marshal(struct {
		Endpoint string     `json:"endpoint"`
		Message  string     `json:"message"`
		Data     []Contract `json:"data"`
	}{"Historical Options", "success", data})
	return string(bytes), err
}

// TestContract creates a raw contract in the upstream format, with all the
// values as strings. For use in tests.
func TestContract(symbol string, date db.Date, strike string, typ string) Contract {
	return Contract{
		"contractID":         symbol + date.String() + typ + strike,
		"symbol":             symbol,
		"expiration":         date.AddDays(28).String(),
		"strike":             strike,
		"type":               typ,
		"last":               "1.50",
		"mark":               "1.55",
		"bid":                "1.50",
		"bid_size":           "10",
		"ask":                "1.60",
		"ask_size":           "12",
		"volume":             "100",
		"open_interest":      "1000",
		"date":               date.String(),
		"implied_volatility": "0.25",
		"delta":              "0.5",
		"gamma":              "0.01",
		"theta":              "-0.05",
		"vega":               "0.2",
		"rho":                "0.03",
	}
}
