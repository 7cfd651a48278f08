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

// Package clock abstracts wall-clock time and sleeping, so that pacing and
// retry delays can be simulated in tests.
//
// The clock is carried in the context, in the same way as the logger:
//
//   ctx = clock.Use(ctx, clock.NewFake(start))
//   ...
//   clock.Get(ctx).Sleep(ctx, time.Second)
//
// When no clock is injected, the system clock is used.
package clock

import (
	"context"
	"sync"
	"time"
)

type contextKey int

const (
	clockContextKey contextKey = iota
)

// Clock is the source of time and the only way the pipeline waits.
type Clock interface {
	Now() time.Time
	// Sleep for the duration d, or until the context is canceled, in which case
	// it returns the context's error.
	Sleep(ctx context.Context, d time.Duration) error
}

// Use injects the clock into the context.
func Use(ctx context.Context, c Clock) context.Context {
	return context.WithValue(ctx, clockContextKey, c)
}

// Get extracts the clock from the context, or returns the system clock.
func Get(ctx context.Context) Clock {
	c, ok := ctx.Value(clockContextKey).(Clock)
	if !ok {
		return System{}
	}
	return c
}

// System is the real wall clock.
type System struct{}

var _ Clock = System{}

func (System) Now() time.Time { return time.Now() }

func (System) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Fake is a manually advanced clock. Sleep returns immediately, advancing the
// time by the requested duration and recording it.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
	// OnSleep, when set, is called after each Sleep with the new time.
	OnSleep func(now time.Time)
}

var _ Clock = &Fake{}

// NewFake creates a Fake clock starting at t.
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	if d > 0 {
		f.now = f.now.Add(d)
	}
	f.sleeps = append(f.sleeps, d)
	now := f.now
	onSleep := f.OnSleep
	f.mu.Unlock()
	if onSleep != nil {
		onSleep(now)
	}
	return nil
}

// Advance moves the time forward without recording a sleep.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Sleeps returns a copy of all the recorded sleep durations.
func (f *Fake) Sleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	res := make([]time.Duration, len(f.sleeps))
	copy(res, f.sleeps)
	return res
}

// Reset clears the recorded sleeps.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sleeps = nil
}
