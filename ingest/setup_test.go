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
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stockparfait/fetch"
	"github.com/stockparfait/testutil"
	"github.com/stockparfait/voldisloc/alphavantage"
	"github.com/stockparfait/voldisloc/clock"
	"github.com/stockparfait/voldisloc/db"
	"github.com/stockparfait/voldisloc/pacer"
	"github.com/stockparfait/voldisloc/sink"

	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"
)

// Not parallel: uses t.Setenv.
func TestSetup(t *testing.T) {
	tmpdir, tmpdirErr := os.MkdirTemp("", "test_setup")
	defer os.RemoveAll(tmpdir)
	t.Setenv("ALPHA_VANTAGE_API_KEY", "testkey")

	Convey("Setup succeeded", t, func() {
		So(tmpdirErr, ShouldBeNil)
	})

	Convey("Setup works", t, func() {
		fc := clock.NewFake(time.Date(2025, 7, 10, 20, 0, 0, 0, time.UTC))
		ctx := clock.Use(context.Background(), fc)

		Convey("client and pacer follow the config", func() {
			cfg := testConfig(map[string]interface{}{
				"date_start":       "2025-06-20",
				"max_retries":      2,
				"backoff_base":     "500ms",
				"backoff_max":      "1s",
				"retryable_status": []interface{}{429},
				"pacer":            "token-bucket",
			})
			server := testutil.NewTestServer()
			defer server.Close()
			server.ResponseStatus = []int{http.StatusTooManyRequests}
			cfg.BaseURL = server.URL() + "/query"
			c := NewClient(cfg, "key")

			_, err := c.HistoricalOptions(ctx, "AAPL", db.NewDate(2025, 6, 20))
			fe, ok := err.(*alphavantage.FetchError)
			So(ok, ShouldBeTrue)
			So(fe.Kind, ShouldEqual, alphavantage.Transient)
			So(fe.Attempts, ShouldEqual, 3)
			So(fc.Sleeps(), ShouldResemble,
				[]time.Duration{500 * time.Millisecond, time.Second})

			server.ResponseStatus = []int{http.StatusInternalServerError}
			_, err = c.HistoricalOptions(ctx, "AAPL", db.NewDate(2025, 6, 20))
			fe, ok = err.(*alphavantage.FetchError)
			So(ok, ShouldBeTrue)
			So(fe.Kind, ShouldEqual, alphavantage.Permanent)
			So(fe.StatusCode, ShouldEqual, http.StatusInternalServerError)
			So(len(fc.Sleeps()), ShouldEqual, 2)

			p, err := NewPacer(cfg)
			So(err, ShouldBeNil)
			_, ok = p.(*pacer.TokenBucket)
			So(ok, ShouldBeTrue)
		})

		Convey("symbols from a single symbol", func() {
			cfg := testConfig(map[string]interface{}{
				"date_start": "2025-06-20", "symbol": " aapl ",
			})
			symbols, err := LoadSymbols(ctx, cfg, nil)
			So(err, ShouldBeNil)
			So(symbols, ShouldResemble, []string{"AAPL"})

			cfg.Exclude = []string{"AAPL"}
			symbols, err = LoadSymbols(ctx, cfg, nil)
			So(err, ShouldBeNil)
			So(symbols, ShouldBeEmpty)
		})

		Convey("symbols from a file", func() {
			path := filepath.Join(tmpdir, "symbols.txt")
			So(testutil.WriteFile(path, "# universe\nAAPL\nspy\nAAPL\nQQQ\n"), ShouldBeNil)
			cfg := testConfig(map[string]interface{}{
				"date_start":   "2025-06-20",
				"symbol":       "",
				"symbols_file": path,
				"exclude":      []interface{}{"QQQ"},
			})
			symbols, err := LoadSymbols(ctx, cfg, nil)
			So(err, ShouldBeNil)
			So(symbols, ShouldResemble, []string{"AAPL", "SPY"})

			cfg.SymbolsFile = filepath.Join(tmpdir, "missing.txt")
			_, err = LoadSymbols(ctx, cfg, nil)
			So(err, ShouldNotBeNil)
		})

		Convey("symbols from the listing", func() {
			server := testutil.NewTestServer()
			defer server.Close()
			server.ResponseBody = []string{`symbol,name,exchange,assetType,ipoDate,delistingDate,status
AAPL,Apple Inc,NASDAQ,Stock,1980-12-12,null,Active
SPY,SPDR S&P 500 ETF,NYSE ARCA,ETF,1993-01-29,null,Active
IBM,International Business Machines Corp,NYSE,Stock,1962-01-02,null,Active
`}
			ctx := fetch.UseClient(ctx, server.Client())
			cfg := testConfig(map[string]interface{}{
				"date_start":      "2025-06-20",
				"symbol":          "",
				"symbols_listing": true,
				"asset_types":     []interface{}{"stock"},
				"base_url":        server.URL() + "/query",
			})
			symbols, err := LoadSymbols(ctx, cfg, NewClient(cfg, "key"))
			So(err, ShouldBeNil)
			So(symbols, ShouldResemble, []string{"AAPL", "IBM"})
		})

		Convey("missing API key is fatal", func() {
			cfg := testConfig(map[string]interface{}{
				"date_start":     "2025-06-20",
				"api_key_secret": "no_such_key",
			})
			_, err := Setup(ctx, cfg, nil)
			So(err, ShouldNotBeNil)
		})

		Convey("end to end into the local warehouse", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				q := req.URL.Query()
				if q.Get("apikey") != "testkey" {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				var data []alphavantage.Contract
				if q.Get("date") == "2025-06-20" {
					d := db.NewDate(2025, 6, 20)
					for _, strike := range []string{"150.00", "155.00"} {
						data = append(data,
							alphavantage.TestContract(q.Get("symbol"), d, strike, "call"),
							alphavantage.TestContract(q.Get("symbol"), d, strike, "put"))
					}
				}
				js, err := alphavantage.TestOptionsPayload(data...)
				if err != nil {
					w.WriteHeader(http.StatusInternalServerError)
					return
				}
				fmt.Fprint(w, js)
			}))
			defer server.Close()

			runDir, err := os.MkdirTemp(tmpdir, "run")
			So(err, ShouldBeNil)
			cfg := testConfig(map[string]interface{}{
				"date_start":    "2025-06-20",
				"date_end":      "2025-06-24",
				"local_dir":     filepath.Join(runDir, "warehouse"),
				"report_path":   filepath.Join(runDir, "report.csv"),
				"report_format": "csv",
				"base_url":      server.URL,
				"jitter_seed":   42,
			})
			reg := prometheus.NewRegistry()
			pipeline, err := Setup(ctx, cfg, NewMetrics(reg))
			So(err, ShouldBeNil)
			defer pipeline.Close()
			So(pipeline.Symbols, ShouldResemble, []string{"AAPL"})

			summary, err := pipeline.Run(ctx)
			So(err, ShouldBeNil)
			So(summary.Succeeded(), ShouldResemble, []string{"AAPL"})
			So(summary.Symbols[0].Dates, ShouldEqual, 3)
			So(summary.RowsInserted(), ShouldEqual, 4)

			id := db.TableID{Dataset: "historical_options", Table: "aapl"}
			records, err := sink.NewLocal(cfg.LocalDir).ReadRecords(id)
			So(err, ShouldBeNil)
			So(len(records), ShouldEqual, 4)
			So(records[0]["symbol"], ShouldEqual, "AAPL")
			So(records[0]["date"], ShouldEqual, "2025-06-20")
			So(records[0]["collected_date"], ShouldEqual, "2025-06-20")
			So(records[0]["strike"], ShouldEqual, 150.0)

			report, err := os.ReadFile(cfg.ReportPath)
			So(err, ShouldBeNil)
			So(string(report), ShouldContainSubstring,
				"AAPL,succeeded,historical_options.aapl,3,0,4,0,4,")

			families, err := reg.Gather()
			So(err, ShouldBeNil)
			So(len(families), ShouldBeGreaterThan, 0)
		})
	})
}
