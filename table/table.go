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

// Package table renders tabular reports as aligned text or CSV.
package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/stockparfait/errors"
)

// Row interface that a table row representation must implement.
type Row interface {
	CSV() []string // an encoding/csv compatible row representation
}

// Cells is a Row of preformatted values.
type Cells []string

func (c Cells) CSV() []string { return c }

// Alignment of a column in the text format.
type Alignment uint8

// Values of Alignment.
const (
	Right Alignment = iota // default
	Left
)

// Table container.
//
// A typical use:
//
//   t := NewTable("Symbol", "State", "Rows").Align(Left, Left, Right)
//   t.AddRow(Cells{"AAPL", "succeeded", "3"})
//   t.WriteText(os.Stdout, Params{})
type Table struct {
	Header []string // optional, may be nil
	Rows   []Row
	align  []Alignment
}

// NewTable creates a new Table instance with optional column headers. When
// present, the number of column headers must be the same as the number of
// elements in each Row.
func NewTable(header ...string) *Table {
	return &Table{Header: header}
}

// Align sets the alignment of the columns in the text format. Missing columns
// are aligned to the right.
func (t *Table) Align(a ...Alignment) *Table {
	t.align = a
	return t
}

// AddRow adds one or more rows to the table.
func (t *Table) AddRow(rows ...Row) {
	t.Rows = append(t.Rows, rows...)
}

// Params are parameters for pretty-printing or CSV export of Table data.
type Params struct {
	Rows        int  // max. number of rows to write; 0 = unlimited (default)
	NoHeader    bool // whether to print the header, default - yes
	MaxColWidth int  // for WriteText only; 0 = unlimited, otherwise must be >= 4
}

func (t *Table) rows(p Params) []Row {
	if p.Rows > 0 && len(t.Rows) > p.Rows {
		return t.Rows[:p.Rows]
	}
	return t.Rows
}

func (t *Table) hasHeader(p Params) bool {
	return !p.NoHeader && len(t.Header) > 0
}

// Write the table in the format: "text" or "csv".
func (t *Table) Write(w io.Writer, format string, p Params) error {
	switch format {
	case "text":
		return t.WriteText(w, p)
	case "csv":
		return t.WriteCSV(w, p)
	}
	return errors.Reason("unsupported table format: '%s'", format)
}

// WriteCSV writes the entire table to w in CSV format.
func (t *Table) WriteCSV(w io.Writer, p Params) error {
	cw := csv.NewWriter(w)
	if t.hasHeader(p) {
		if err := cw.Write(t.Header); err != nil {
			return errors.Annotate(err, "failed to write header")
		}
	}
	for _, r := range t.rows(p) {
		if err := cw.Write(r.CSV()); err != nil {
			return errors.Annotate(err, "failed to write row")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.Annotate(err, "failed to flush written rows")
	}
	return nil
}

// WriteText writes the table as a text formatted for ease of reading.
func (t *Table) WriteText(w io.Writer, p Params) error {
	if p.MaxColWidth != 0 && p.MaxColWidth < 4 {
		return errors.Reason("MaxColWidth [%d] must be 0 or >= 4", p.MaxColWidth)
	}
	var all [][]string
	if t.hasHeader(p) {
		all = append(all, t.Header)
	}
	for _, r := range t.rows(p) {
		all = append(all, r.CSV())
	}
	if len(all) == 0 {
		return nil
	}
	widths := make([]int, len(all[0]))
	for i, row := range all {
		if len(row) != len(widths) {
			return errors.Reason("row %d size [%d] != expected size [%d]",
				i, len(row), len(widths))
		}
		for j, s := range row {
			n := utf8.RuneCountInString(s)
			if p.MaxColWidth > 0 && n > p.MaxColWidth {
				n = p.MaxColWidth
			}
			if n > widths[j] {
				widths[j] = n
			}
		}
	}

	write := func(row []string) error {
		cells := make([]string, len(row))
		for i, s := range row {
			if r := []rune(s); len(r) > widths[i] {
				s = string(r[:widths[i]-2]) + ".."
			}
			pad := strings.Repeat(" ", widths[i]-utf8.RuneCountInString(s))
			if i < len(t.align) && t.align[i] == Left {
				cells[i] = s + pad
			} else {
				cells[i] = pad + s
			}
		}
		_, err := fmt.Fprintf(w, "%s\n", strings.TrimRight(strings.Join(cells, " | "), " "))
		return err
	}

	for i, row := range all {
		if err := write(row); err != nil {
			return errors.Annotate(err, "failed to write row")
		}
		if i == 0 && t.hasHeader(p) {
			dashes := make([]string, len(widths))
			for j, n := range widths {
				dashes[j] = strings.Repeat("-", n)
			}
			if err := write(dashes); err != nil {
				return errors.Annotate(err, "failed to write header separator")
			}
		}
	}
	return nil
}
