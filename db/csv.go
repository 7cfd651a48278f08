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
	"bufio"
	"encoding/csv"
	"io"
	"strings"

	"github.com/stockparfait/errors"
)

// ListingRow is one row of a symbol listing, such as the Alpha Vantage
// LISTING_STATUS table.
type ListingRow struct {
	Symbol        string
	Name          string
	Exchange      string
	AssetType     string
	IPODate       Date
	DelistingDate Date
	Status        string
}

// ListingRowConfig sets the custom headers of an input CSV file for listing
// rows. Only the Symbol column is mandatory.
type ListingRowConfig struct {
	Symbol        string
	Name          string
	Exchange      string
	AssetType     string
	IPODate       string
	DelistingDate string
	Status        string
	Header        []string // for headless CSV
}

// NewListingRowConfig creates a config with the LISTING_STATUS column names.
func NewListingRowConfig() *ListingRowConfig {
	return &ListingRowConfig{
		Symbol:        "symbol",
		Name:          "name",
		Exchange:      "exchange",
		AssetType:     "assetType",
		IPODate:       "ipoDate",
		DelistingDate: "delistingDate",
		Status:        "status",
	}
}

// HasSymbol checks the header for the column corresponding to the symbol.
func (c *ListingRowConfig) HasSymbol(header []string) bool {
	for _, h := range header {
		if strings.TrimSpace(h) == c.Symbol {
			return true
		}
	}
	return false
}

const (
	listingSymbol int = iota
	listingName
	listingExchange
	listingAssetType
	listingIPODate
	listingDelistingDate
	listingStatus
)

// MapColumns maps the i'th header column to the j'th ListingRow field.
// Headers that don't match any configured column are mapped to -1.
func (c *ListingRowConfig) MapColumns(header []string) []int {
	m := make([]int, len(header))
	cols := []string{
		c.Symbol,
		c.Name,
		c.Exchange,
		c.AssetType,
		c.IPODate,
		c.DelistingDate,
		c.Status,
	}
	for i, h := range header {
		m[i] = -1
		for j, n := range cols {
			if n != "" && strings.TrimSpace(h) == n {
				m[i] = j
				break
			}
		}
	}
	return m
}

// Parse a single CSV row according to the column map. Unparseable dates are
// left as zero, since they are informational only.
func (c *ListingRowConfig) Parse(row []string, colMap []int) (lr ListingRow) {
	for i, r := range row {
		if i >= len(colMap) {
			break
		}
		r = strings.TrimSpace(r)
		switch colMap[i] {
		case listingSymbol:
			lr.Symbol = strings.ToUpper(r)
		case listingName:
			lr.Name = r
		case listingExchange:
			lr.Exchange = r
		case listingAssetType:
			lr.AssetType = r
		case listingIPODate:
			lr.IPODate, _ = NewDateFromString(r)
		case listingDelistingDate:
			if r != "null" {
				lr.DelistingDate, _ = NewDateFromString(r)
			}
		case listingStatus:
			lr.Status = r
		}
	}
	return
}

// ReadCSVListings reads raw CSV listing rows in the file order.
//
// When config defines a header, CSV is assumed to be headless; otherwise the
// CSV file must have a header. In either case, the header must contain a
// Symbol column. Columns with an unrecognized header are ignored. Rows with an
// empty symbol are skipped.
func ReadCSVListings(r io.Reader, c *ListingRowConfig) ([]ListingRow, error) {
	csvReader := csv.NewReader(r)
	csvReader.FieldsPerRecord = -1
	csvReader.Comment = '#'
	rows, err := csvReader.ReadAll()
	if err != nil {
		return nil, errors.Annotate(err, "failed to read listings from CSV")
	}
	header := c.Header
	if len(header) == 0 {
		if len(rows) == 0 {
			return nil, nil
		}
		header = rows[0]
		rows = rows[1:]
	}
	if !c.HasSymbol(header) {
		return nil, errors.Reason("listings CSV requires a %s column", c.Symbol)
	}
	colMap := c.MapColumns(header)
	var res []ListingRow
	for _, row := range rows {
		lr := c.Parse(row, colMap)
		if lr.Symbol == "" {
			continue
		}
		res = append(res, lr)
	}
	return res, nil
}

// ReadSymbols reads the symbol universe from r, preserving the order of first
// appearance and dropping duplicates and those not satisfying the constraints.
//
// Two formats are recognized: a CSV file whose header contains the symbol
// column, or a plain list with one symbol per line. Blank lines and lines
// starting with '#' are ignored.
func ReadSymbols(r io.Reader, c *Constraints) ([]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Annotate(err, "failed to read symbols")
	}
	config := NewListingRowConfig()
	firstLine := ""
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			firstLine = line
			break
		}
	}
	if firstLine == "" {
		return nil, nil
	}
	header, err := csv.NewReader(strings.NewReader(firstLine)).Read()
	if err != nil {
		return nil, errors.Annotate(err, "failed to parse the first line")
	}
	if !config.HasSymbol(header) {
		config.Header = []string{config.Symbol}
	}
	listings, err := ReadCSVListings(strings.NewReader(string(data)), config)
	if err != nil {
		return nil, errors.Annotate(err, "failed to parse symbols")
	}
	return FilterListings(listings, c), nil
}

// FilterListings returns the unique symbols of the listings satisfying the
// constraints, in the order of first appearance.
func FilterListings(listings []ListingRow, c *Constraints) []string {
	if c == nil {
		c = NewConstraints()
	}
	seen := make(map[string]struct{})
	var symbols []string
	for _, lr := range listings {
		if _, ok := seen[lr.Symbol]; ok {
			continue
		}
		if !c.CheckListing(lr) {
			continue
		}
		seen[lr.Symbol] = struct{}{}
		symbols = append(symbols, lr.Symbol)
	}
	return symbols
}
