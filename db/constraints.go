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
	"strings"
)

// Constraints to filter the symbol universe and the trading days.  Zero value
// means no constraints.
type Constraints struct {
	Symbols        map[string]struct{}
	ExcludeSymbols map[string]struct{}
	Exchanges      map[string]struct{}
	AssetTypes     map[string]struct{}
	Start          Date
	End            Date
}

// NewConstraints creates a new Constraints with no constraints.
func NewConstraints() *Constraints {
	return &Constraints{
		Symbols:        make(map[string]struct{}),
		ExcludeSymbols: make(map[string]struct{}),
		Exchanges:      make(map[string]struct{}),
		AssetTypes:     make(map[string]struct{}),
	}
}

func addUpper(m map[string]struct{}, values ...string) {
	for _, v := range values {
		m[strings.ToUpper(strings.TrimSpace(v))] = struct{}{}
	}
}

func hasUpper(m map[string]struct{}, v string) bool {
	if len(m) == 0 {
		return true
	}
	_, ok := m[strings.ToUpper(strings.TrimSpace(v))]
	return ok
}

// ExcludeSymbol adds symbols to be ignored.
func (c *Constraints) ExcludeSymbol(symbols ...string) *Constraints {
	addUpper(c.ExcludeSymbols, symbols...)
	return c
}

// Symbol adds symbols to the constraints.
func (c *Constraints) Symbol(symbols ...string) *Constraints {
	addUpper(c.Symbols, symbols...)
	return c
}

// Exchange adds exchanges to the constraints.
func (c *Constraints) Exchange(ex ...string) *Constraints {
	addUpper(c.Exchanges, ex...)
	return c
}

// AssetType adds asset types (e.g. "Stock", "ETF") to the constraints.
func (c *Constraints) AssetType(types ...string) *Constraints {
	addUpper(c.AssetTypes, types...)
	return c
}

// StartAt adds start date to the Constraints.
func (c *Constraints) StartAt(dt Date) *Constraints {
	c.Start = dt
	return c
}

// EndAt adds end date to the Constraints.
func (c *Constraints) EndAt(dt Date) *Constraints {
	c.End = dt
	return c
}

// CheckSymbol whether it satisfies the constraints. Symbols are compared
// case-insensitively.
func (c *Constraints) CheckSymbol(symbol string) bool {
	if len(c.ExcludeSymbols) > 0 {
		if _, ok := c.ExcludeSymbols[strings.ToUpper(strings.TrimSpace(symbol))]; ok {
			return false
		}
	}
	return hasUpper(c.Symbols, symbol)
}

// CheckListing whether the listing satisfies the constraints.
func (c *Constraints) CheckListing(r ListingRow) bool {
	if !c.CheckSymbol(r.Symbol) {
		return false
	}
	return hasUpper(c.Exchanges, r.Exchange) && hasUpper(c.AssetTypes, r.AssetType)
}

// TradingDays within the constrained range. Both Start and End must be set.
func (c *Constraints) TradingDays() []Date {
	return TradingDays(c.Start, c.End)
}
