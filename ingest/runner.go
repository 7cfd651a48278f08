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

// Package ingest drives the ingestion of historical options chains into the
// warehouse.
//
// For each symbol the Runner walks the trading days from the configured start
// date through the end date, fetching one options chain per day. Calls are
// paced to stay within the upstream rate limit. Contracts are normalized into
// typed rows and accumulated in a monthly Batch, which is appended to the
// symbol's table whenever the trading month changes and at the end of the
// symbol.
//
// Failures are isolated: a failed date is skipped, a failed batch is lost, and
// a failed symbol does not prevent the rest of the run. Only the cancellation
// of the context stops the run early.
package ingest

import (
	"context"
	"fmt"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"
	"github.com/stockparfait/voldisloc/alphavantage"
	"github.com/stockparfait/voldisloc/clock"
	"github.com/stockparfait/voldisloc/config"
	"github.com/stockparfait/voldisloc/db"
	"github.com/stockparfait/voldisloc/pacer"
)

// Fetcher of the options chain of a symbol on a trading date.
type Fetcher interface {
	HistoricalOptions(ctx context.Context, symbol string, date db.Date) (*alphavantage.OptionsPayload, error)
}

// Sink of the normalized rows. Append returns the number of inserted rows,
// which is 0 when the load fails.
type Sink interface {
	EnsureReady(ctx context.Context, id db.TableID) error
	Append(ctx context.Context, id db.TableID, rows []db.OptionRow) int
}

// Runner orchestrates an ingestion run.
type Runner struct {
	config  *config.Config
	fetcher Fetcher
	pacer   pacer.Pacer
	sink    Sink
	metrics *Metrics
}

// NewRunner creates a Runner. The config must be valid.
func NewRunner(cfg *config.Config, f Fetcher, p pacer.Pacer, s Sink) *Runner {
	return &Runner{
		config:  cfg,
		fetcher: f,
		pacer:   p,
		sink:    s,
		metrics: NewMetrics(nil),
	}
}

// WithMetrics sets the metrics updated by the runner.
func (r *Runner) WithMetrics(m *Metrics) *Runner {
	r.metrics = m
	return r
}

// Metrics updated by the runner.
func (r *Runner) Metrics() *Metrics { return r.metrics }

// Run ingests the symbols sequentially and writes the report, when configured.
//
// If ctx is canceled, the rows collected for the current symbol are flushed,
// the symbol is marked as failed, and the remaining symbols stay pending. The
// partial summary is returned along with the context's error.
func (r *Runner) Run(ctx context.Context, symbols []string) (*Summary, error) {
	clk := clock.Get(ctx)
	now := clk.Now()
	days := r.config.Constraints(now).TradingDays()
	summary := NewSummary(symbols, now)
	logging.Infof(ctx, "ingesting %d symbols over %d trading days", len(symbols), len(days))

	var runErr error
	for i, res := range summary.Symbols {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		logging.Infof(ctx, "[%d/%d] %s", i+1, len(symbols), res.Symbol)
		if err := r.runSymbol(ctx, res, days); err != nil {
			runErr = err
			break
		}
	}
	summary.Finished = clk.Now()
	if runErr != nil {
		logging.Warningf(ctx, "run interrupted: %s", runErr.Error())
	}
	logging.Infof(ctx, "run finished: total=%d succeeded=%d empty=%d failed=%d rows=%d",
		summary.Total(), len(summary.Succeeded()), len(summary.Empty()),
		len(summary.Failed()), summary.RowsInserted())

	if r.config.ReportPath != "" {
		if err := summary.WriteReportFile(r.config.ReportPath, r.config.ReportFormat); err != nil {
			logging.Errorf(ctx, "failed to write the run report: %s", err.Error())
			if runErr == nil {
				runErr = errors.Annotate(err, "failed to write the run report")
			}
		}
	}
	return summary, runErr
}

// runSymbol processes all the trading days of the symbol and sets its final
// state. It returns an error only when the context is canceled.
func (r *Runner) runSymbol(ctx context.Context, res *SymbolResult, days []db.Date) error {
	res.State = Running
	defer func() {
		if p := recover(); p != nil {
			res.State = Failed
			res.Err = fmt.Sprintf("panic: %v", p)
			logging.Errorf(ctx, "%s: %s", res.Symbol, res.Err)
		}
		r.metrics.Symbols.WithLabelValues(string(res.State)).Inc()
	}()

	fail := func(reason string) {
		res.State = Failed
		res.Err = reason
		logging.Errorf(ctx, "%s failed: %s", res.Symbol, reason)
	}

	id, err := r.config.Table(res.Symbol)
	if err != nil {
		fail(err.Error())
		return nil
	}
	res.Table = id
	if err := r.sink.EnsureReady(ctx, id); err != nil {
		if ctx.Err() != nil {
			fail("interrupted")
			return ctx.Err()
		}
		fail(errors.Annotate(err, "sink is not ready").Error())
		return nil
	}

	var batch Batch
	submitted := 0
	flush := func(ctx context.Context) {
		month := batch.Month()
		rows := batch.Drain()
		if len(rows) == 0 {
			return
		}
		n := r.sink.Append(ctx, id, rows)
		r.metrics.batch(len(rows), n)
		submitted += len(rows)
		if n > 0 {
			res.RowsInserted += n
			res.RowsDropped += len(rows) - n
		}
		logging.Infof(ctx, "%s %s: flushed %d rows, inserted %d", res.Symbol, month, len(rows), n)
	}
	interrupted := func() error {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.config.FlushTimeout.Duration)
		defer cancel()
		flush(fctx)
		fail("interrupted")
		return ctx.Err()
	}

	clk := clock.Get(ctx)
	for _, d := range days {
		if ctx.Err() != nil {
			return interrupted()
		}
		if batch.ShouldFlush(d) {
			flush(ctx)
		}
		if err := r.pacer.Throttle(ctx); err != nil {
			return interrupted()
		}
		start := clk.Now()
		payload, err := r.fetcher.HistoricalOptions(ctx, res.Symbol, d)
		elapsed := clk.Now().Sub(start)
		if err != nil {
			if ctx.Err() != nil {
				return interrupted()
			}
			res.Dates++
			res.FailedDates++
			r.metrics.fetched(FetchFailed, elapsed)
			logging.Warningf(ctx, "%s %s: skipping date: %s", res.Symbol, d, err.Error())
			continue
		}
		res.Dates++
		if payload.NoData() {
			r.metrics.fetched(FetchNoData, elapsed)
			logging.Debugf(ctx, "%s %s: no data", res.Symbol, d)
			continue
		}
		r.metrics.fetched(FetchOK, elapsed)
		rows, dropped := NormalizeAll(payload, res.Symbol, d, r.config.Collected(d, clk.Now()))
		if dropped > 0 {
			r.metrics.RowsDropped.Add(float64(dropped))
			logging.Warningf(ctx, "%s %s: dropped %d contracts missing critical columns",
				res.Symbol, d, dropped)
		}
		res.RowsFetched += len(rows)
		res.RowsDropped += dropped
		batch.Add(d, rows...)
	}
	flush(ctx)

	switch {
	case res.Dates > 0 && res.FailedDates == res.Dates:
		fail(fmt.Sprintf("all %d fetches failed", res.Dates))
	case res.RowsInserted > 0:
		res.State = Succeeded
	case submitted > 0:
		fail(fmt.Sprintf("none of the %d rows were inserted", submitted))
	default:
		res.State = Empty
	}
	logging.Infof(ctx, "%s %s: dates=%d failed_dates=%d rows=%d",
		res.Symbol, res.State, res.Dates, res.FailedDates, res.RowsInserted)
	return nil
}
