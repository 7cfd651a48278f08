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

package db

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/stockparfait/errors"
)

// ColumnType is the warehouse-independent type of a column.
type ColumnType string

// Values of ColumnType.
const (
	StringColumn  = ColumnType("STRING")
	DateColumn    = ColumnType("DATE")
	FloatColumn   = ColumnType("FLOAT")
	IntegerColumn = ColumnType("INTEGER")
)

// Column is the schema definition for a single table column. Required columns
// are never null in a stored row.
type Column struct {
	Name     string
	Type     ColumnType
	Required bool
}

// Schema definition for a table.
type Schema []Column

// MapFields creates a map of {field name -> field index} in the schema.
func (s Schema) MapFields() map[string]int {
	res := make(map[string]int)
	for i, f := range s {
		res[f.Name] = i
	}
	return res
}

// Names of the columns, in the schema order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.Name
	}
	return names
}

// String prints a string representation of the schema.
func (s Schema) String() string {
	fields := []string{}
	for _, f := range s {
		req := ""
		if f.Required {
			req = " REQUIRED"
		}
		fields = append(fields, fmt.Sprintf("%s: %s%s", f.Name, f.Type, req))
	}
	return "{" + strings.Join(fields, ", ") + "}"
}

// OptionSchema is the fixed column set of the option contracts table. It is the
// single source of truth for both table provisioning and row validation.
var OptionSchema = Schema{
	{Name: "contractID", Type: StringColumn},
	{Name: "symbol", Type: StringColumn, Required: true},
	{Name: "expiration", Type: DateColumn},
	{Name: "strike", Type: FloatColumn, Required: true},
	{Name: "type", Type: StringColumn, Required: true},
	{Name: "last", Type: FloatColumn},
	{Name: "mark", Type: FloatColumn},
	{Name: "bid", Type: FloatColumn},
	{Name: "bid_size", Type: IntegerColumn},
	{Name: "ask", Type: FloatColumn},
	{Name: "ask_size", Type: IntegerColumn},
	{Name: "volume", Type: IntegerColumn},
	{Name: "open_interest", Type: IntegerColumn},
	{Name: "date", Type: DateColumn, Required: true},
	{Name: "implied_volatility", Type: FloatColumn},
	{Name: "delta", Type: FloatColumn},
	{Name: "gamma", Type: FloatColumn},
	{Name: "theta", Type: FloatColumn},
	{Name: "vega", Type: FloatColumn},
	{Name: "rho", Type: FloatColumn},
	{Name: "collected_date", Type: DateColumn, Required: true},
}

// PartitionColumn is the daily partitioning column of the options table.
const PartitionColumn = "date"

// ClusterColumns of the options table, in the clustering order.
var ClusterColumns = []string{"symbol", "expiration", "type"}

// OptionType is the enum for the contract type.
type OptionType uint8

// Values of OptionType.
const (
	UnknownOption OptionType = iota
	Call
	Put
)

var string2option = map[string]OptionType{
	"call": Call,
	"c":    Call,
	"put":  Put,
	"p":    Put,
}

// ParseOptionType converts a case-insensitive "call"/"put" (or "C"/"P") to the
// enum, and UnknownOption for anything else.
func ParseOptionType(s string) OptionType {
	t, ok := string2option[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return UnknownOption
	}
	return t
}

// String converts the enum value to a string.
func (t OptionType) String() string {
	switch t {
	case Call:
		return "call"
	case Put:
		return "put"
	}
	return "unknown"
}

// OptionRow is one option contract's state on one trading day. Nil pointers
// are nulls.
type OptionRow struct {
	ContractID        string
	Symbol            string
	Expiration        Date // zero means null
	Strike            float64
	Type              OptionType
	Last              *float64
	Mark              *float64
	Bid               *float64
	BidSize           *int64
	Ask               *float64
	AskSize           *int64
	Volume            *int64
	OpenInterest      *int64
	Date              Date // the quoted trading day
	ImpliedVolatility *float64
	Delta             *float64
	Gamma             *float64
	Theta             *float64
	Vega              *float64
	Rho               *float64
	CollectedDate     Date
}

// Float is a helper for creating nullable float values in tests and literals.
func Float(x float64) *float64 { return &x }

// Int is a helper for creating nullable integer values.
func Int(x int64) *int64 { return &x }

func floatValue(x *float64) any {
	if x == nil {
		return nil
	}
	return *x
}

func intValue(x *int64) any {
	if x == nil {
		return nil
	}
	return *x
}

func dateValue(d Date) any {
	if d.IsZero() {
		return nil
	}
	return d
}

func stringValue(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Values of the row in the OptionSchema column order. Nulls are nil, dates are
// Date values.
func (r *OptionRow) Values() []any {
	typ := any(nil)
	if r.Type != UnknownOption {
		typ = r.Type.String()
	}
	return []any{
		stringValue(r.ContractID),
		stringValue(r.Symbol),
		dateValue(r.Expiration),
		r.Strike,
		typ,
		floatValue(r.Last),
		floatValue(r.Mark),
		floatValue(r.Bid),
		intValue(r.BidSize),
		floatValue(r.Ask),
		intValue(r.AskSize),
		intValue(r.Volume),
		intValue(r.OpenInterest),
		dateValue(r.Date),
		floatValue(r.ImpliedVolatility),
		floatValue(r.Delta),
		floatValue(r.Gamma),
		floatValue(r.Theta),
		floatValue(r.Vega),
		floatValue(r.Rho),
		dateValue(r.CollectedDate),
	}
}

// Record maps column names to non-null values. Dates are rendered in the
// canonical YYYY-MM-DD format.
func (r *OptionRow) Record() map[string]any {
	m := make(map[string]any)
	for i, v := range r.Values() {
		if v == nil {
			continue
		}
		if d, ok := v.(Date); ok {
			v = d.String()
		}
		m[OptionSchema[i].Name] = v
	}
	return m
}

// MarshalJSON encodes the row as a JSON object keyed by the schema column
// names, suitable for newline-delimited JSON load jobs.
func (r OptionRow) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Record())
}

// Validate checks that all the required columns are present and valid.
func (r *OptionRow) Validate() error {
	var missing []string
	if strings.TrimSpace(r.Symbol) == "" {
		missing = append(missing, "symbol")
	}
	if r.Date.IsZero() {
		missing = append(missing, "date")
	}
	if r.CollectedDate.IsZero() {
		missing = append(missing, "collected_date")
	}
	if math.IsNaN(r.Strike) || math.IsInf(r.Strike, 0) || r.Strike < 0 {
		missing = append(missing, "strike")
	}
	if r.Type != Call && r.Type != Put {
		missing = append(missing, "type")
	}
	if len(missing) > 0 {
		return errors.Reason("missing or invalid critical columns: %s",
			strings.Join(missing, ", "))
	}
	return nil
}

func canonicalFloat(x *float64) *float64 {
	if x == nil || math.IsNaN(*x) || math.IsInf(*x, 0) {
		return nil
	}
	return x
}

func canonicalCount(x *int64) *int64 {
	if x == nil || *x < 0 {
		return nil
	}
	return x
}

// Canonical returns a copy of the row with non-finite decimals and negative
// counts replaced by nulls, and the symbol trimmed and upper-cased.
func (r OptionRow) Canonical() OptionRow {
	r.Symbol = strings.ToUpper(strings.TrimSpace(r.Symbol))
	r.ContractID = strings.TrimSpace(r.ContractID)
	r.Last = canonicalFloat(r.Last)
	r.Mark = canonicalFloat(r.Mark)
	r.Bid = canonicalFloat(r.Bid)
	r.Ask = canonicalFloat(r.Ask)
	r.ImpliedVolatility = canonicalFloat(r.ImpliedVolatility)
	r.Delta = canonicalFloat(r.Delta)
	r.Gamma = canonicalFloat(r.Gamma)
	r.Theta = canonicalFloat(r.Theta)
	r.Vega = canonicalFloat(r.Vega)
	r.Rho = canonicalFloat(r.Rho)
	r.BidSize = canonicalCount(r.BidSize)
	r.AskSize = canonicalCount(r.AskSize)
	r.Volume = canonicalCount(r.Volume)
	r.OpenInterest = canonicalCount(r.OpenInterest)
	return r
}

// TestOption creates a minimal valid OptionRow for use in tests.
func TestOption(symbol string, date Date, strike float64, t OptionType) OptionRow {
	return OptionRow{
		ContractID:    fmt.Sprintf("%s%s%s%08.0f", symbol, date.String(), t.String()[:1], strike*1000),
		Symbol:        symbol,
		Expiration:    date.AddDays(30),
		Strike:        strike,
		Type:          t,
		Date:          date,
		CollectedDate: date,
	}
}
