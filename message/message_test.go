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

package message

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stockparfait/errors"

	. "github.com/smartystreets/goconvey/convey"
)

func testJSON(js string) interface{} {
	var res interface{}
	if err := json.Unmarshal([]byte(js), &res); err != nil {
		return nil
	}
	return res
}

type span struct{ time.Duration }

func (s *span) UnmarshalText(text []byte) error {
	d, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Annotate(err, "bad duration")
	}
	s.Duration = d
	return nil
}

type Feed struct {
	Name     string            `json:"name" required:"true"`
	Kind     string            `json:"kind" choices:"stock,etf" default:"stock"`
	Rate     int               `json:"rate" default:"70"`
	Seed     uint64            `json:"seed"`
	Weight   float64           `default:"2.5"` // key is "Weight"
	Limit    *int              `json:"limit" default:"4"`
	Enabled  bool              `json:"enabled" default:"true"`
	Codes    []int             `json:"codes" default:"429,503"`
	Timeout  span              `json:"timeout" default:"30s"`
	Children []*Feed           `json:"children,omitempty"`
	Tags     map[string]string `json:"tags"`
	Ignored  int               `json:"-"`
	internal int
}

func (f *Feed) InitMessage(js interface{}) error {
	return Init(f, js)
}

type BadChoice struct {
	Choice string `choices:"foo,bar"` // no default
}

func (b *BadChoice) InitMessage(js interface{}) error {
	return Init(b, js)
}

func TestMessage(t *testing.T) {
	t.Parallel()

	Convey("Init works", t, func() {
		Convey("with required fields only", func() {
			var f Feed
			So(f.InitMessage(testJSON(`{"name": "options"}`)), ShouldBeNil)
			So(f.Name, ShouldEqual, "options")
			So(f.Kind, ShouldEqual, "stock")
			So(f.Rate, ShouldEqual, 70)
			So(f.Seed, ShouldEqual, 0)
			So(f.Weight, ShouldEqual, 2.5)
			So(*f.Limit, ShouldEqual, 4)
			So(f.Enabled, ShouldBeTrue)
			So(f.Codes, ShouldResemble, []int{429, 503})
			So(f.Timeout.Duration, ShouldEqual, 30*time.Second)
			So(len(f.Children), ShouldEqual, 0)
		})

		Convey("with all the fields and nested messages", func() {
			var f Feed
			So(f.InitMessage(testJSON(`{
        "name": "parent", "kind": "etf", "rate": 5, "seed": 42, "Weight": 1,
        "limit": null, "enabled": false, "codes": [500], "timeout": "2m",
        "tags": {"a": "b"},
        "children": [{"name": "child", "rate": 3}]
      }`)), ShouldBeNil)
			So(f.Kind, ShouldEqual, "etf")
			So(f.Rate, ShouldEqual, 5)
			So(f.Seed, ShouldEqual, 42)
			So(f.Weight, ShouldEqual, 1.0)
			So(f.Limit, ShouldBeNil)
			So(f.Enabled, ShouldBeFalse)
			So(f.Codes, ShouldResemble, []int{500})
			So(f.Timeout.Duration, ShouldEqual, 2*time.Minute)
			So(f.Tags, ShouldResemble, map[string]string{"a": "b"})
			So(len(f.Children), ShouldEqual, 1)
			So(f.Children[0].Name, ShouldEqual, "child")
			So(f.Children[0].Rate, ShouldEqual, 3)
			So(f.Children[0].Kind, ShouldEqual, "stock")
		})

		Convey("with values decoded from other formats", func() {
			var f Feed
			js := map[string]interface{}{
				"name":    "yaml",
				"rate":    int(10),
				"seed":    uint64(7),
				"codes":   []interface{}{int64(429)},
				"timeout": "5s",
				"tags":    map[interface{}]interface{}{"k": "v"},
			}
			So(f.InitMessage(js), ShouldBeNil)
			So(f.Rate, ShouldEqual, 10)
			So(f.Seed, ShouldEqual, 7)
			So(f.Codes, ShouldResemble, []int{429})
			So(f.Tags, ShouldResemble, map[string]string{"k": "v"})
		})

		Convey("with missing fields in a nested message", func() {
			var f Feed
			So(f.InitMessage(testJSON(`{"name": "p", "children": [{"rate": 1}]}`)),
				ShouldNotBeNil)
		})

		Convey("with a non-integer for an integer", func() {
			var f Feed
			err := f.InitMessage(testJSON(`{"name": "p", "rate": 1.5}`))
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "not an integer")
		})

		Convey("with a negative unsigned value", func() {
			var f Feed
			So(f.InitMessage(testJSON(`{"name": "p", "seed": -1}`)), ShouldNotBeNil)
		})

		Convey("with a bad text value", func() {
			var f Feed
			err := f.InitMessage(testJSON(`{"name": "p", "timeout": "soon"}`))
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "error assigning field timeout")
		})

		Convey("with ignored and unexported fields", func() {
			var f Feed
			err := f.InitMessage(testJSON(`{"name": "D", "Ignored": 5, "internal": 1}`))
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring,
				"unsupported fields for Feed: Ignored, internal")
		})

		Convey("with an invalid choice", func() {
			var f Feed
			err := f.InitMessage(testJSON(`{"name": "D", "kind": "bond"}`))
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring,
				"value for Kind is not in its choice list: 'bond'")
		})

		Convey("with an invalid zero choice", func() {
			var b BadChoice
			err := b.InitMessage(testJSON(`{}`))
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "error setting zero value for Choice")
		})

		Convey("with a non-map object", func() {
			var f Feed
			So(f.InitMessage(testJSON(`[1, 2]`)), ShouldNotBeNil)
			So(f.InitMessage(nil), ShouldNotBeNil)
		})
	})

	Convey("Normalize works", t, func() {
		tm := time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC)
		So(Normalize(tm), ShouldEqual, "2025-06-20")
		So(Normalize([]interface{}{int64(1), float32(0.5), true}), ShouldResemble,
			[]interface{}{1.0, 0.5, true})
	})

	Convey("StringIn works", t, func() {
		So(StringIn("dog", "cat", "dog", "mouse"), ShouldBeTrue)
		So(StringIn("bone", "cat", "dog"), ShouldBeFalse)
	})
}
