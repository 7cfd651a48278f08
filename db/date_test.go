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
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestDate(t *testing.T) {
	t.Parallel()

	Convey("Date type", t, func() {
		Convey("gets the date in New York", func() {
			// 2am UTC is the previous day in NY
			now := time.Date(2009, time.November, 10, 2, 0, 0, 0, time.UTC)
			So(DateInNY(now).String(), ShouldEqual, "2009-11-09")
		})

		Convey("parses and prints", func() {
			d, err := NewDateFromString("2025-06-20")
			So(err, ShouldBeNil)
			So(d, ShouldResemble, NewDate(2025, 6, 20))
			So(d.String(), ShouldEqual, "2025-06-20")
			So(d.YearMonth(), ShouldEqual, "2025-06")

			d, err = NewDateFromString("2025-06-20T15:04:05")
			So(err, ShouldBeNil)
			So(d, ShouldResemble, NewDate(2025, 6, 20))

			_, err = NewDateFromString("June 20")
			So(err, ShouldNotBeNil)
		})

		Convey("compares", func() {
			d1 := NewDate(2025, 5, 31)
			d2 := NewDate(2025, 6, 1)
			So(d1.Before(d2), ShouldBeTrue)
			So(d2.After(d1), ShouldBeTrue)
			So(d1.Before(d1), ShouldBeFalse)
		})

		Convey("date arithmetic", func() {
			So(NewDate(2024, 2, 28).AddDays(1), ShouldResemble, NewDate(2024, 2, 29))
			So(NewDate(2025, 1, 1).AddDays(-1), ShouldResemble, NewDate(2024, 12, 31))
			So(NewDate(2025, 6, 20).MonthStart(), ShouldResemble, NewDate(2025, 6, 1))
			So(NewDate(2025, 6, 20).IsWeekday(), ShouldBeTrue)  // Friday
			So(NewDate(2025, 6, 21).IsWeekday(), ShouldBeFalse) // Saturday
		})

		Convey("trading days skip weekends", func() {
			days := TradingDays(NewDate(2025, 6, 27), NewDate(2025, 7, 1))
			So(days, ShouldResemble, []Date{
				NewDate(2025, 6, 27), NewDate(2025, 6, 30), NewDate(2025, 7, 1)})
			So(len(TradingDays(NewDate(2025, 6, 21), NewDate(2025, 6, 22))), ShouldEqual, 0)
			So(len(TradingDays(NewDate(2025, 7, 1), NewDate(2025, 6, 1))), ShouldEqual, 0)
		})

		Convey("JSON and text", func() {
			var d Date
			So(json.Unmarshal([]byte(`"2025-06-20"`), &d), ShouldBeNil)
			So(d, ShouldResemble, NewDate(2025, 6, 20))
			js, err := json.Marshal(d)
			So(err, ShouldBeNil)
			So(string(js), ShouldEqual, `"2025-06-20"`)

			js, err = json.Marshal(Date{})
			So(err, ShouldBeNil)
			So(string(js), ShouldEqual, "null")
			So(json.Unmarshal([]byte("null"), &d), ShouldBeNil)
			So(d.IsZero(), ShouldBeTrue)

			So(d.UnmarshalText([]byte("2024-01-02")), ShouldBeNil)
			So(d, ShouldResemble, NewDate(2024, 1, 2))
			So(d.UnmarshalText([]byte("garbage")), ShouldNotBeNil)
		})
	})
}
