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
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stockparfait/voldisloc/db"
)

// RetryPolicy of the client for transient failures. The delay before the k'th
// retry is BaseDelay * 2^(k-1), capped at MaxDelay.
type RetryPolicy struct {
	MaxRetries      int // retries after the initial attempt
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	RetryableStatus []int
}

// DefaultRetryPolicy retries rate limiting and server errors 5 times, waiting
// 1s, 2s, 4s, 8s and 16s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 5,
		BaseDelay:  time.Second,
		MaxDelay:   16 * time.Second,
		RetryableStatus: []int{
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
	}
}

// Retryable checks whether the HTTP status is a transient failure.
func (p RetryPolicy) Retryable(status int) bool {
	for _, s := range p.RetryableStatus {
		if s == status {
			return true
		}
	}
	return false
}

// BackOff creates a fresh schedule of retry delays. It returns backoff.Stop
// after MaxRetries delays.
func (p RetryPolicy) BackOff() backoff.BackOff {
	if p.MaxRetries <= 0 {
		return &backoff.StopBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = p.MaxDelay
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(p.MaxRetries))
}

// Delays lists the whole schedule of retry delays.
func (p RetryPolicy) Delays() []time.Duration {
	var res []time.Duration
	b := p.BackOff()
	for d := b.NextBackOff(); d != backoff.Stop; d = b.NextBackOff() {
		res = append(res, d)
	}
	return res
}

// ErrorKind classifies fetch failures.
type ErrorKind uint8

// Values of ErrorKind.
const (
	// Transient failures (rate limiting, server errors, network failures) are
	// only reported after the retries are exhausted.
	Transient ErrorKind = iota + 1
	// Permanent failures are non-retryable HTTP statuses.
	Permanent
	// Decode failures are successful responses with an unparseable body.
	Decode
)

func (k ErrorKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	case Decode:
		return "decode"
	}
	return "unknown"
}

// FetchError is the failure to fetch a symbol's options on a date.
type FetchError struct {
	Kind       ErrorKind
	Symbol     string
	Date       db.Date
	StatusCode int    // 0 if no response was received
	Body       string // prefix of the response body
	Attempts   int
	Err        error
}

var _ error = &FetchError{}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("%s failure fetching %s on %s after %d attempt(s)",
		e.Kind, e.Symbol, e.Date, e.Attempts)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" [status %d]", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Body != "" {
		msg += fmt.Sprintf("\nbody: %s", e.Body)
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }
