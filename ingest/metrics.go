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

package ingest

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Label values of the metrics.
const (
	FetchOK     = "ok"
	FetchNoData = "no_data"
	FetchFailed = "failed"

	BatchLoaded = "loaded"
	BatchFailed = "failed"
)

// Metrics of the ingestion runs.
type Metrics struct {
	FetchRequests *prometheus.CounterVec // by outcome
	FetchDuration prometheus.Histogram
	RowsDropped   prometheus.Counter
	RowsInserted  prometheus.Counter
	Batches       *prometheus.CounterVec // by result
	Symbols       *prometheus.CounterVec // by final state
}

// NewMetrics creates the metrics and registers them with reg, when not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voldisloc_fetch_requests_total",
			Help: "Number of HISTORICAL_OPTIONS fetches by outcome",
		}, []string{"outcome"}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "voldisloc_fetch_duration_seconds",
			Help:    "Time taken by a fetch, including retries",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
		}),
		RowsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voldisloc_rows_dropped_total",
			Help: "Number of contracts dropped for missing critical columns",
		}),
		RowsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voldisloc_rows_inserted_total",
			Help: "Number of rows appended to the warehouse",
		}),
		Batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voldisloc_batches_total",
			Help: "Number of monthly batch loads by result",
		}, []string{"result"}),
		Symbols: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voldisloc_symbols_total",
			Help: "Number of processed symbols by final state",
		}, []string{"state"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.FetchRequests,
			m.FetchDuration,
			m.RowsDropped,
			m.RowsInserted,
			m.Batches,
			m.Symbols,
		)
	}
	return m
}

func (m *Metrics) fetched(outcome string, d time.Duration) {
	m.FetchRequests.WithLabelValues(outcome).Inc()
	m.FetchDuration.Observe(d.Seconds())
}

func (m *Metrics) batch(submitted, inserted int) {
	if inserted == 0 && submitted > 0 {
		m.Batches.WithLabelValues(BatchFailed).Inc()
		return
	}
	m.Batches.WithLabelValues(BatchLoaded).Inc()
	m.RowsInserted.Add(float64(inserted))
}
