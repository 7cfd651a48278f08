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
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestConstraints(t *testing.T) {
	t.Parallel()

	Convey("Constraints work correctly", t, func() {
		tc := NewConstraints()
		tc = tc.ExcludeSymbol("e")
		tc = tc.Symbol("A", "B", "E")
		tc = tc.Exchange("NASDAQ", "NYSE")
		tc = tc.AssetType("Stock")

		Convey("CheckSymbol", func() {
			So(tc.CheckSymbol("A"), ShouldBeTrue)
			So(tc.CheckSymbol("b"), ShouldBeTrue)
			So(tc.CheckSymbol("E"), ShouldBeFalse)
			So(tc.CheckSymbol("UNKNOWN"), ShouldBeFalse)
		})

		Convey("CheckListing", func() {
			lr := ListingRow{Symbol: "A", Exchange: "NASDAQ", AssetType: "Stock"}
			So(tc.CheckListing(lr), ShouldBeTrue)
			lr.Exchange = "DarkPool"
			So(tc.CheckListing(lr), ShouldBeFalse)
			lr.Exchange = "nyse"
			So(tc.CheckListing(lr), ShouldBeTrue)
			lr.AssetType = "ETF"
			So(tc.CheckListing(lr), ShouldBeFalse)
			lr.AssetType = "Stock"
			lr.Symbol = "E"
			So(tc.CheckListing(lr), ShouldBeFalse)
		})

		Convey("TradingDays", func() {
			tc = tc.StartAt(NewDate(2025, 6, 20)).EndAt(NewDate(2025, 6, 24))
			So(tc.TradingDays(), ShouldResemble, []Date{
				NewDate(2025, 6, 20), NewDate(2025, 6, 23), NewDate(2025, 6, 24)})
		})

		Convey("zero value accepts everything", func() {
			c := NewConstraints()
			So(c.CheckSymbol("ANY"), ShouldBeTrue)
			So(c.CheckListing(ListingRow{Symbol: "ANY"}), ShouldBeTrue)
		})
	})
}
