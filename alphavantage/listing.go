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

package alphavantage

import (
	"context"
	"net/url"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/fetch"
	"github.com/stockparfait/voldisloc/db"
)

// ListingStatus downloads the CSV table of the currently active listings. The
// HTTP client is taken from the context, as in fetch.UseClient.
func (c *Client) ListingStatus(ctx context.Context) ([]db.ListingRow, error) {
	query := make(url.Values)
	query.Set("function", "LISTING_STATUS")
	query.Set("apikey", c.apiKey)

	resp, err := fetch.GetRetry(ctx, c.baseURL, query, nil)
	if err != nil {
		return nil, errors.Annotate(err, "failed to fetch LISTING_STATUS")
	}
	defer resp.Body.Close()

	rows, err := db.ReadCSVListings(resp.Body, db.NewListingRowConfig())
	if err != nil {
		return nil, errors.Annotate(err, "failed to parse LISTING_STATUS")
	}
	return rows, nil
}

// ListingSymbols returns the symbols of the active listings which satisfy the
// constraints, in the listing order.
func (c *Client) ListingSymbols(ctx context.Context, cs *db.Constraints) ([]string, error) {
	rows, err := c.ListingStatus(ctx)
	if err != nil {
		return nil, errors.Annotate(err, "failed to list symbols")
	}
	return db.FilterListings(rows, cs), nil
}
