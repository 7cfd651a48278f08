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

import "github.com/stockparfait/voldisloc/db"

// Batch accumulates the rows of one calendar month of trading dates.
type Batch struct {
	month db.Date // 1st of the month of the trading dates in the batch
	rows  []db.OptionRow
}

// Add rows quoted on the trading date. The caller must flush the batch first
// when ShouldFlush(date) is true.
func (b *Batch) Add(date db.Date, rows ...db.OptionRow) {
	if len(b.rows) == 0 {
		b.month = date.MonthStart()
	}
	b.rows = append(b.rows, rows...)
}

// ShouldFlush is true when the batch holds rows of a month other than the
// date's month.
func (b *Batch) ShouldFlush(date db.Date) bool {
	return len(b.rows) > 0 && b.month != date.MonthStart()
}

// Drain returns the accumulated rows and resets the batch.
func (b *Batch) Drain() []db.OptionRow {
	rows := b.rows
	b.rows = nil
	b.month = db.Date{}
	return rows
}

// Month of the batch as YYYY-MM, or "" when nothing was added yet.
func (b *Batch) Month() string {
	if b.month.IsZero() {
		return ""
	}
	return b.month.YearMonth()
}

// Len is the number of rows in the batch.
func (b *Batch) Len() int { return len(b.rows) }
