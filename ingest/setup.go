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
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"
	"github.com/stockparfait/voldisloc/alphavantage"
	"github.com/stockparfait/voldisloc/clock"
	"github.com/stockparfait/voldisloc/config"
	"github.com/stockparfait/voldisloc/db"
	"github.com/stockparfait/voldisloc/pacer"
	"github.com/stockparfait/voldisloc/secrets"
	"github.com/stockparfait/voldisloc/sink"
)

// NewClient creates the upstream client as configured.
func NewClient(cfg *config.Config, apiKey string) *alphavantage.Client {
	return alphavantage.NewClient(apiKey).
		WithBaseURL(cfg.BaseURL).
		WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout.Duration}).
		WithRetryPolicy(alphavantage.RetryPolicy{
			MaxRetries:      cfg.MaxRetries,
			BaseDelay:       cfg.BackoffBase.Duration,
			MaxDelay:        cfg.BackoffMax.Duration,
			RetryableStatus: cfg.RetryableStatus,
		})
}

// NewPacer creates the configured pacing strategy.
func NewPacer(cfg *config.Config) (pacer.Pacer, error) {
	return pacer.New(pacer.Config{
		Strategy:       cfg.Pacer,
		CallsPerMinute: cfg.CallsPerMinute,
		Jitter:         cfg.Jitter.Duration,
		Seed:           cfg.JitterSeed,
	})
}

// LoadSymbols resolves the symbol universe from the configured source. The
// client is only used for the LISTING_STATUS source.
func LoadSymbols(ctx context.Context, cfg *config.Config, c *alphavantage.Client) ([]string, error) {
	cs := cfg.Constraints(clock.Get(ctx).Now())
	switch {
	case cfg.Symbol != "":
		s := strings.ToUpper(strings.TrimSpace(cfg.Symbol))
		if !cs.CheckSymbol(s) {
			return nil, nil
		}
		return []string{s}, nil
	case cfg.SymbolsFile != "":
		f, err := os.Open(cfg.SymbolsFile)
		if err != nil {
			return nil, errors.Annotate(err, "failed to open symbols file")
		}
		defer f.Close()
		symbols, err := db.ReadSymbols(f, cs)
		if err != nil {
			return nil, errors.Annotate(err, "failed to read '%s'", cfg.SymbolsFile)
		}
		return symbols, nil
	case cfg.SymbolsListing:
		symbols, err := c.ListingSymbols(ctx, cs)
		if err != nil {
			return nil, errors.Annotate(err, "failed to load the listing")
		}
		return symbols, nil
	}
	return nil, errors.Reason("no symbol source is configured")
}

// Pipeline is a fully wired ingestion run.
type Pipeline struct {
	Runner  *Runner
	Symbols []string
	writer  *sink.Writer
}

// Setup wires the run from the config: it looks up the API key, loads the
// symbol universe and connects to the warehouse. Any failure here is fatal and
// happens before the first fetch. When m is nil, the metrics are not exported.
func Setup(ctx context.Context, cfg *config.Config, m *Metrics) (*Pipeline, error) {
	key, err := secrets.Lookup(ctx, cfg.SecretSource, cfg.ProjectID, cfg.SecretsDir, cfg.APIKeySecret)
	if err != nil {
		return nil, errors.Annotate(err, "failed to get the API key")
	}
	client := NewClient(cfg, key)
	symbols, err := LoadSymbols(ctx, cfg, client)
	if err != nil {
		return nil, errors.Annotate(err, "failed to load symbols")
	}
	if len(symbols) == 0 {
		logging.Warningf(ctx, "the symbol universe is empty")
	}
	p, err := NewPacer(cfg)
	if err != nil {
		return nil, errors.Annotate(err, "failed to create pacer")
	}
	wh, err := sink.Open(ctx, cfg.Warehouse, cfg.ProjectID, cfg.ClickHouseDSN, cfg.LocalDir)
	if err != nil {
		return nil, errors.Annotate(err, "failed to open the %s warehouse", cfg.Warehouse)
	}
	w := sink.NewWriter(wh)
	if m == nil {
		m = NewMetrics(nil)
	}
	return &Pipeline{
		Runner:  NewRunner(cfg, client, p, w).WithMetrics(m),
		Symbols: symbols,
		writer:  w,
	}, nil
}

// Run the pipeline over its symbols.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	return p.Runner.Run(ctx, p.Symbols)
}

// Close the warehouse connection.
func (p *Pipeline) Close() error {
	return p.writer.Close()
}
