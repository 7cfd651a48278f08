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
	"math"
	"strconv"
	"strings"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/voldisloc/alphavantage"
	"github.com/stockparfait/voldisloc/db"
)

func typeErr(v any, tp string) error {
	return errors.Reason("expected %s but found %T: %v", tp, v, v)
}

// isNull is true for absent values and the upstream's textual nulls.
func isNull(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "", "null", "none", "nan", "-":
			return true
		}
	}
	return false
}

func value2str(v any) (string, error) {
	if isNull(v) {
		return "", nil
	}
	if str, ok := v.(string); ok {
		return strings.TrimSpace(str), nil
	}
	return "", typeErr(v, "a string")
}

func value2float(v any) (*float64, error) {
	if isNull(v) {
		return nil, nil
	}
	var x float64
	switch n := v.(type) {
	case float64: // JSON numbers always unmarshal to float64
		x = n
	case int:
		x = float64(n)
	case int64:
		x = float64(n)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return nil, typeErr(v, "a number")
		}
		x = f
	default:
		return nil, typeErr(v, "a number")
	}
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return nil, typeErr(v, "a finite number")
	}
	return &x, nil
}

// value2count accepts integral numbers, including "12.0". Negative counts are
// invalid.
func value2count(v any) (*int64, error) {
	x, err := value2float(v)
	if err != nil || x == nil {
		return nil, err
	}
	// float64(math.MaxInt64) rounds up to 2^63, which overflows int64.
	if *x != math.Trunc(*x) || *x < 0 || *x >= math.MaxInt64 {
		return nil, typeErr(v, "a non-negative integer")
	}
	n := int64(*x)
	return &n, nil
}

func value2date(v any) (db.Date, error) {
	if isNull(v) {
		return db.Date{}, nil
	}
	str, ok := v.(string)
	if !ok {
		return db.Date{}, typeErr(v, "a date string")
	}
	return db.NewDateFromString(strings.TrimSpace(str))
}

func value2type(v any) (db.OptionType, error) {
	str, err := value2str(v)
	if err != nil {
		return db.UnknownOption, err
	}
	t := db.ParseOptionType(str)
	if t == db.UnknownOption {
		return t, typeErr(v, "call or put")
	}
	return t, nil
}

// optional values which fail to convert are stored as nulls.
func optFloat(raw alphavantage.Contract, key string) *float64 {
	x, err := value2float(raw[key])
	if err != nil {
		return nil
	}
	return x
}

func optCount(raw alphavantage.Contract, key string) *int64 {
	n, err := value2count(raw[key])
	if err != nil {
		return nil
	}
	return n
}

// Normalize converts a raw upstream contract into a typed row. The symbol and
// the quoted date default to the ones of the request when the contract omits
// them, and collected is stored as the row's collected_date.
//
// It returns nil when any of the critical columns (symbol, date, strike, type)
// cannot be resolved. Optional values which cannot be converted to their
// column type become nulls.
func Normalize(raw alphavantage.Contract, symbol string, date, collected db.Date) *db.OptionRow {
	var r db.OptionRow
	var err error

	if r.Symbol, err = value2str(raw["symbol"]); err != nil {
		return nil
	}
	if r.Symbol == "" {
		r.Symbol = strings.TrimSpace(symbol)
	}
	r.Symbol = strings.ToUpper(r.Symbol)
	if r.Symbol == "" {
		return nil
	}

	if r.Date, err = value2date(raw["date"]); err != nil {
		return nil
	}
	if r.Date.IsZero() {
		r.Date = date
	}
	if r.Date.IsZero() {
		return nil
	}

	strike, err := value2float(raw["strike"])
	if err != nil || strike == nil || *strike < 0 {
		return nil
	}
	r.Strike = *strike

	if r.Type, err = value2type(raw["type"]); err != nil {
		return nil
	}

	r.CollectedDate = collected
	if r.CollectedDate.IsZero() {
		r.CollectedDate = r.Date
	}

	r.ContractID, _ = value2str(raw["contractID"])
	r.Expiration, _ = value2date(raw["expiration"])
	r.Last = optFloat(raw, "last")
	r.Mark = optFloat(raw, "mark")
	r.Bid = optFloat(raw, "bid")
	r.BidSize = optCount(raw, "bid_size")
	r.Ask = optFloat(raw, "ask")
	r.AskSize = optCount(raw, "ask_size")
	r.Volume = optCount(raw, "volume")
	r.OpenInterest = optCount(raw, "open_interest")
	r.ImpliedVolatility = optFloat(raw, "implied_volatility")
	r.Delta = optFloat(raw, "delta")
	r.Gamma = optFloat(raw, "gamma")
	r.Theta = optFloat(raw, "theta")
	r.Vega = optFloat(raw, "vega")
	r.Rho = optFloat(raw, "rho")
	return &r
}

// NormalizeAll converts the contracts of a payload, and returns the rows and
// the number of dropped contracts.
func NormalizeAll(p *alphavantage.OptionsPayload, symbol string, date, collected db.Date) ([]db.OptionRow, int) {
	if p.NoData() {
		return nil, 0
	}
	rows := make([]db.OptionRow, 0, len(p.Data))
	for _, c := range p.Data {
		if r := Normalize(c, symbol, date, collected); r != nil {
			rows = append(rows, *r)
		}
	}
	return rows, len(p.Data) - len(rows)
}
