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
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/iterator"
	"github.com/stockparfait/voldisloc/db"
	"github.com/stockparfait/voldisloc/table"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// State of a symbol in a run.
type State string

// Values of State. A symbol starts PENDING, becomes RUNNING and ends in one of
// the three final states.
const (
	Pending   = State("pending")
	Running   = State("running")
	Succeeded = State("succeeded")
	Empty     = State("empty")
	Failed    = State("failed")
)

// Final is true for the terminal states.
func (s State) Final() bool {
	return s == Succeeded || s == Empty || s == Failed
}

// SymbolResult is the outcome of a single symbol.
type SymbolResult struct {
	Symbol       string
	State        State
	Table        db.TableID
	Dates        int // trading dates attempted
	FailedDates  int // dates whose fetch failed
	RowsFetched  int // rows after normalization
	RowsDropped  int // contracts dropped by the normalizer or the sink
	RowsInserted int
	Err          string // the reason of a failure
}

// CSV implements table.Row.
func (r *SymbolResult) CSV() []string {
	return []string{
		r.Symbol,
		string(r.State),
		r.Table.String(),
		strconv.Itoa(r.Dates),
		strconv.Itoa(r.FailedDates),
		strconv.Itoa(r.RowsFetched),
		strconv.Itoa(r.RowsDropped),
		strconv.Itoa(r.RowsInserted),
		r.Err,
	}
}

var resultHeader = []string{
	"Symbol", "State", "Table", "Dates", "Failed dates",
	"Rows fetched", "Rows dropped", "Rows inserted", "Error",
}

// Summary of a run. Symbols are listed in the processing order.
type Summary struct {
	Started  time.Time
	Finished time.Time
	Symbols  []*SymbolResult
}

// NewSummary creates a Summary with all the symbols pending.
func NewSummary(symbols []string, started time.Time) *Summary {
	s := &Summary{Started: started}
	for _, sym := range symbols {
		s.Symbols = append(s.Symbols, &SymbolResult{Symbol: sym, State: Pending})
	}
	return s
}

// Total number of symbols in the run.
func (s *Summary) Total() int { return len(s.Symbols) }

func (s *Summary) inState(st State) []string {
	var res []string
	for _, r := range s.Symbols {
		if r.State == st {
			res = append(res, r.Symbol)
		}
	}
	return res
}

// Succeeded symbols, in the processing order.
func (s *Summary) Succeeded() []string { return s.inState(Succeeded) }

// Empty symbols, in the processing order.
func (s *Summary) Empty() []string { return s.inState(Empty) }

// Failed symbols, in the processing order.
func (s *Summary) Failed() []string { return s.inState(Failed) }

// Pending symbols, which were never started due to an interruption.
func (s *Summary) Pending() []string { return s.inState(Pending) }

// RowsInserted over all the symbols.
func (s *Summary) RowsInserted() int {
	return iterator.Reduce[*SymbolResult, int](
		iterator.FromSlice(s.Symbols), 0, func(r *SymbolResult, n int) int {
			return n + r.RowsInserted
		})
}

// RowsBySymbol maps each processed symbol to its inserted rows.
func (s *Summary) RowsBySymbol() map[string]int {
	m := make(map[string]int)
	for _, r := range s.Symbols {
		m[r.Symbol] += r.RowsInserted
	}
	return m
}

// RowStats are the statistics of inserted rows per succeeded symbol.
type RowStats struct {
	Mean   float64
	Median float64
	Max    float64
}

// RowStats over the succeeded symbols, or zeros when there are none.
func (s *Summary) RowStats() RowStats {
	var xs []float64
	for _, r := range s.Symbols {
		if r.State == Succeeded {
			xs = append(xs, float64(r.RowsInserted))
		}
	}
	if len(xs) == 0 {
		return RowStats{}
	}
	sort.Float64s(xs)
	return RowStats{
		Mean:   stat.Mean(xs, nil),
		Median: stat.Quantile(0.5, stat.Empirical, xs, nil),
		Max:    floats.Max(xs),
	}
}

// Table of the per-symbol results, followed by the totals row.
func (s *Summary) Table() *table.Table {
	t := table.NewTable(resultHeader...).Align(
		table.Left, table.Left, table.Left, table.Right, table.Right,
		table.Right, table.Right, table.Right, table.Left)
	var total SymbolResult
	for _, r := range s.Symbols {
		t.AddRow(r)
		total.Dates += r.Dates
		total.FailedDates += r.FailedDates
		total.RowsFetched += r.RowsFetched
		total.RowsDropped += r.RowsDropped
		total.RowsInserted += r.RowsInserted
	}
	t.AddRow(table.Cells{
		"TOTAL", "", "",
		strconv.Itoa(total.Dates),
		strconv.Itoa(total.FailedDates),
		strconv.Itoa(total.RowsFetched),
		strconv.Itoa(total.RowsDropped),
		strconv.Itoa(total.RowsInserted),
		fmt.Sprintf("succeeded=%d empty=%d failed=%d pending=%d",
			len(s.Succeeded()), len(s.Empty()), len(s.Failed()), len(s.Pending())),
	})
	return t
}

// WriteReport writes the report in the given format: "text" prints the run
// times and row statistics followed by the table, "csv" prints only the table.
// Both end with the totals row.
func (s *Summary) WriteReport(w io.Writer, format string) error {
	if format == "text" {
		st := s.RowStats()
		_, err := fmt.Fprintf(w, `Run started:  %s
Run finished: %s
Symbols: total=%d succeeded=%d empty=%d failed=%d pending=%d
Rows inserted: %d
Rows per succeeded symbol: mean=%.1f median=%.0f max=%.0f

`,
			s.Started.UTC().Format(time.RFC3339), s.Finished.UTC().Format(time.RFC3339),
			s.Total(), len(s.Succeeded()), len(s.Empty()), len(s.Failed()), len(s.Pending()),
			s.RowsInserted(), st.Mean, st.Median, st.Max)
		if err != nil {
			return errors.Annotate(err, "failed to write report totals")
		}
	}
	if err := s.Table().Write(w, format, table.Params{}); err != nil {
		return errors.Annotate(err, "failed to write %s report", format)
	}
	return nil
}

// WriteReportFile overwrites the file at path with the report.
func (s *Summary) WriteReportFile(path, format string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Annotate(err, "failed to create report '%s'", path)
	}
	if err := s.WriteReport(f, format); err != nil {
		f.Close()
		return errors.Annotate(err, "failed to write report '%s'", path)
	}
	if err := f.Close(); err != nil {
		return errors.Annotate(err, "failed to close report '%s'", path)
	}
	return nil
}
