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

// Package pacer keeps the outbound call rate under a per-minute ceiling.
//
// A Pacer's Throttle method is called immediately before every outbound call
// and blocks until it is safe to proceed. Several strategies are available:
//
//   - Sliding: the baseline. Keeps the times of the last C calls and never
//     lets more than C calls into any 60 second interval.
//   - Window: a call counter with a window start which resets after 60
//     seconds, plus a small spacing delay between calls.
//   - Jitter: the spacing delay only. Simpler, but offers no hard ceiling.
//   - TokenBucket: a golang.org/x/time/rate limiter with burst 1.
//
// All the waiting goes through the clock.Clock in the context, so the
// strategies can be simulated with a fake clock.
package pacer

import (
	"context"
	"strings"
	"time"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/voldisloc/clock"

	"golang.org/x/exp/rand"
	"golang.org/x/time/rate"
)

// Window is the length of the rate window.
const Window = time.Minute

// Pacer is the common interface of all the pacing strategies. Throttle only
// returns an error when the context is canceled while waiting.
type Pacer interface {
	Throttle(ctx context.Context) error
}

// Strategy names accepted by New.
const (
	SlidingStrategy     = "sliding"
	WindowStrategy      = "window"
	JitterStrategy      = "jitter"
	TokenBucketStrategy = "token-bucket"
)

// Config of a Pacer.
type Config struct {
	Strategy       string
	CallsPerMinute int
	// Jitter is the maximum symmetric perturbation of the spacing delay.
	Jitter time.Duration
	Seed   uint64 // 0 means seed from the current time
}

// New creates a Pacer for the configured strategy.
func New(c Config) (Pacer, error) {
	if c.CallsPerMinute <= 0 {
		return nil, errors.Reason("calls per minute must be positive, got %d",
			c.CallsPerMinute)
	}
	if c.Jitter < 0 {
		return nil, errors.Reason("jitter must be non-negative, got %s", c.Jitter)
	}
	seed := c.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	r := rand.New(rand.NewSource(seed))
	switch strings.ToLower(c.Strategy) {
	case SlidingStrategy, "":
		return NewSliding(c.CallsPerMinute, c.Jitter, r), nil
	case WindowStrategy:
		return NewWindow(c.CallsPerMinute, c.Jitter, r), nil
	case JitterStrategy:
		return NewJitter(c.CallsPerMinute, c.Jitter, r), nil
	case TokenBucketStrategy:
		return NewTokenBucket(c.CallsPerMinute), nil
	}
	return nil, errors.Reason("unknown pacer strategy: '%s'", c.Strategy)
}

// Spacing is the minimum delay between consecutive calls, rounded up to the
// nanosecond so that C delays are never shorter than the window.
func Spacing(callsPerMinute int) time.Duration {
	c := time.Duration(callsPerMinute)
	return (Window + c - 1) / c
}

// symmetricJitter returns a random duration in [-j, j].
func symmetricJitter(r *rand.Rand, j time.Duration) time.Duration {
	if j <= 0 || r == nil {
		return 0
	}
	return time.Duration((2*r.Float64() - 1) * float64(j))
}

// wait sleeps until the deadline, if it is in the future.
func wait(ctx context.Context, c clock.Clock, until time.Time) error {
	d := until.Sub(c.Now())
	if d <= 0 {
		return ctx.Err()
	}
	return c.Sleep(ctx, d)
}

// Sliding keeps a log of the last C call times. A new call waits the jittered
// spacing delay after the previous call, and never less than until the oldest
// logged call is a full window old. Jitter may shorten the spacing; the log
// alone enforces the ceiling.
type Sliding struct {
	ceiling int
	spacing time.Duration
	jitter  time.Duration
	rand    *rand.Rand
	calls   []time.Time // ring buffer of the last ceiling calls
	next    int         // the oldest entry in calls, once it's full
}

var _ Pacer = &Sliding{}

// NewSliding creates a sliding window Pacer. The random source may be nil when
// jitter is zero.
func NewSliding(callsPerMinute int, jitter time.Duration, r *rand.Rand) *Sliding {
	return &Sliding{
		ceiling: callsPerMinute,
		spacing: Spacing(callsPerMinute),
		jitter:  jitter,
		rand:    r,
	}
}

func (p *Sliding) Throttle(ctx context.Context) error {
	c := clock.Get(ctx)
	var until time.Time
	if n := len(p.calls); n > 0 {
		last := p.calls[(p.next+n-1)%n]
		until = last.Add(p.spacing + symmetricJitter(p.rand, p.jitter))
	}
	if len(p.calls) == p.ceiling {
		if oldest := p.calls[p.next].Add(Window); oldest.After(until) {
			until = oldest
		}
	}
	if err := wait(ctx, c, until); err != nil {
		return err
	}
	now := c.Now()
	if len(p.calls) < p.ceiling {
		p.calls = append(p.calls, now)
		return nil
	}
	p.calls[p.next] = now
	p.next = (p.next + 1) % p.ceiling
	return nil
}

// RateWindow is a call counter since the window start.
type RateWindow struct {
	Count int
	Start time.Time
}

// WindowPacer counts calls in a fixed window which restarts 60 seconds after
// it began. When the counter reaches the ceiling, the caller waits out the
// rest of the window. Consecutive calls are spaced by 60s/C perturbed by
// symmetric jitter.
type WindowPacer struct {
	ceiling  int
	spacing  time.Duration
	jitter   time.Duration
	rand     *rand.Rand
	window   RateWindow
	lastCall time.Time
}

var _ Pacer = &WindowPacer{}

// NewWindow creates a fixed window Pacer.
func NewWindow(callsPerMinute int, jitter time.Duration, r *rand.Rand) *WindowPacer {
	return &WindowPacer{
		ceiling: callsPerMinute,
		spacing: Spacing(callsPerMinute),
		jitter:  jitter,
		rand:    r,
	}
}

// State of the current rate window.
func (p *WindowPacer) State() RateWindow { return p.window }

func (p *WindowPacer) Throttle(ctx context.Context) error {
	c := clock.Get(ctx)
	now := c.Now()
	if p.window.Start.IsZero() || now.Sub(p.window.Start) > Window {
		p.window = RateWindow{Start: now}
	}
	if p.window.Count >= p.ceiling {
		if err := wait(ctx, c, p.window.Start.Add(Window)); err != nil {
			return err
		}
		p.window = RateWindow{Start: c.Now()}
	} else if !p.lastCall.IsZero() {
		d := p.spacing + symmetricJitter(p.rand, p.jitter)
		if err := wait(ctx, c, p.lastCall.Add(d)); err != nil {
			return err
		}
	}
	p.window.Count++
	p.lastCall = c.Now()
	return nil
}

// Jitter only spaces consecutive calls by 60s/C with symmetric jitter. It does
// not enforce a hard ceiling when the jitter is non-zero.
type Jitter struct {
	spacing  time.Duration
	jitter   time.Duration
	rand     *rand.Rand
	lastCall time.Time
}

var _ Pacer = &Jitter{}

// NewJitter creates a spacing-only Pacer.
func NewJitter(callsPerMinute int, jitter time.Duration, r *rand.Rand) *Jitter {
	return &Jitter{
		spacing: Spacing(callsPerMinute),
		jitter:  jitter,
		rand:    r,
	}
}

func (p *Jitter) Throttle(ctx context.Context) error {
	c := clock.Get(ctx)
	if !p.lastCall.IsZero() {
		d := p.spacing + symmetricJitter(p.rand, p.jitter)
		if err := wait(ctx, c, p.lastCall.Add(d)); err != nil {
			return err
		}
	}
	p.lastCall = c.Now()
	return nil
}

// TokenBucket delegates to a rate.Limiter refilling one token every 60s/C,
// with the burst of 1. Reservations are made at the context clock's time.
type TokenBucket struct {
	limiter *rate.Limiter
}

var _ Pacer = &TokenBucket{}

// NewTokenBucket creates a token bucket Pacer.
func NewTokenBucket(callsPerMinute int) *TokenBucket {
	return &TokenBucket{
		limiter: rate.NewLimiter(rate.Every(Spacing(callsPerMinute)), 1),
	}
}

func (p *TokenBucket) Throttle(ctx context.Context) error {
	c := clock.Get(ctx)
	now := c.Now()
	r := p.limiter.ReserveN(now, 1)
	if !r.OK() {
		return errors.Reason("token bucket cannot grant a reservation")
	}
	d := r.DelayFrom(now)
	if d <= 0 {
		return ctx.Err()
	}
	if err := c.Sleep(ctx, d); err != nil {
		r.CancelAt(c.Now())
		return err
	}
	return nil
}
