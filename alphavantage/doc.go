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

// Package alphavantage implements the parts of the Alpha Vantage API used for
// options-chain ingestion.
//
// Official documentation is at https://www.alphavantage.co/documentation/ .
//
// HistoricalOptions fetches the full options chain of a symbol as of a single
// trading day. The upstream service limits the number of calls per minute, so
// callers are expected to pace their calls (see package pacer); the client
// only retries transient failures according to its RetryPolicy. All the
// failures are reported as *FetchError, which carries the kind of failure, the
// status code and a prefix of the response body for diagnostics.
//
// A successful response without any contracts is not an error: it is the "no
// data for this date" outcome, reported as a payload with empty Data. The
// upstream also reports quota and usage notices with a 200 status and a single
// "Information", "Note" or "Error Message" field; these are also treated as no
// data, with the message available from OptionsPayload.Notice.
//
// ListingStatus downloads the LISTING_STATUS table of active symbols, which
// can be used as the symbol universe.
package alphavantage
