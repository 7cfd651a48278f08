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

package sink

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cloud.google.com/go/bigquery"
	"github.com/stockparfait/errors"
	"github.com/stockparfait/voldisloc/db"
	"google.golang.org/api/googleapi"

	. "github.com/smartystreets/goconvey/convey"
)

// fakeWarehouse records the calls and stores the loaded rows in memory.
type fakeWarehouse struct {
	datasets map[string]bool
	tables   map[db.TableID][]db.OptionRow
	calls    []string
	loadErr  error
}

var _ Warehouse = &fakeWarehouse{}

func newFakeWarehouse() *fakeWarehouse {
	return &fakeWarehouse{
		datasets: make(map[string]bool),
		tables:   make(map[db.TableID][]db.OptionRow),
	}
}

func (w *fakeWarehouse) DatasetExists(ctx context.Context, dataset string) (bool, error) {
	w.calls = append(w.calls, "DatasetExists "+dataset)
	return w.datasets[dataset], nil
}

func (w *fakeWarehouse) CreateDataset(ctx context.Context, dataset string) error {
	w.calls = append(w.calls, "CreateDataset "+dataset)
	w.datasets[dataset] = true
	return nil
}

func (w *fakeWarehouse) TableExists(ctx context.Context, id db.TableID) (bool, error) {
	w.calls = append(w.calls, "TableExists "+id.String())
	_, ok := w.tables[id]
	return ok, nil
}

func (w *fakeWarehouse) CreateTable(ctx context.Context, id db.TableID, schema db.Schema) error {
	w.calls = append(w.calls, "CreateTable "+id.String())
	w.tables[id] = []db.OptionRow{}
	return nil
}

func (w *fakeWarehouse) Load(ctx context.Context, id db.TableID, rows []db.OptionRow) error {
	w.calls = append(w.calls, "Load "+id.String())
	if w.loadErr != nil {
		return w.loadErr
	}
	w.tables[id] = append(w.tables[id], rows...)
	return nil
}

func (w *fakeWarehouse) Close() error { return nil }

func testRows(n int) []db.OptionRow {
	date := db.NewDate(2025, 6, 20)
	rows := make([]db.OptionRow, n)
	for i := range rows {
		rows[i] = db.TestOption("AAPL", date, 100+float64(i), db.Call)
	}
	return rows
}

func TestWriter(t *testing.T) {
	t.Parallel()

	Convey("Writer works", t, func() {
		ctx := context.Background()
		fw := newFakeWarehouse()
		w := NewWriter(fw)
		id := db.TableID{Dataset: "historical_options", Table: "aapl"}

		Convey("EnsureReady creates the dataset and the table once", func() {
			So(w.EnsureReady(ctx, id), ShouldBeNil)
			So(w.EnsureReady(ctx, id), ShouldBeNil)
			So(fw.calls, ShouldResemble, []string{
				"DatasetExists historical_options",
				"CreateDataset historical_options",
				"TableExists historical_options.aapl",
				"CreateTable historical_options.aapl",
			})

			Convey("and skips existing ones", func() {
				fw.calls = nil
				w2 := NewWriter(fw)
				So(w2.EnsureReady(ctx, id), ShouldBeNil)
				So(fw.calls, ShouldResemble, []string{
					"DatasetExists historical_options",
					"TableExists historical_options.aapl",
				})
			})
		})

		Convey("Append reports all the rows on success", func() {
			So(w.EnsureReady(ctx, id), ShouldBeNil)
			So(w.Append(ctx, id, testRows(3)), ShouldEqual, 3)
			So(len(fw.tables[id]), ShouldEqual, 3)
		})

		Convey("Append is all-or-nothing on failure", func() {
			So(w.EnsureReady(ctx, id), ShouldBeNil)
			fw.loadErr = errors.Reason("load job failed")
			So(w.Append(ctx, id, testRows(3)), ShouldEqual, 0)
			So(len(fw.tables[id]), ShouldEqual, 0)

			fw.loadErr = nil
			So(w.Append(ctx, id, testRows(2)), ShouldEqual, 2)
			So(len(fw.tables[id]), ShouldEqual, 2)
		})

		Convey("Append drops invalid rows and canonicalizes the rest", func() {
			So(w.EnsureReady(ctx, id), ShouldBeNil)
			rows := testRows(3)
			rows[0].Type = db.UnknownOption
			rows[1].Symbol = " aapl "
			rows[1].Volume = db.Int(-5)
			So(w.Append(ctx, id, rows), ShouldEqual, 2)
			So(fw.tables[id][0].Symbol, ShouldEqual, "AAPL")
			So(fw.tables[id][0].Volume, ShouldBeNil)
		})

		Convey("Append of no valid rows does not load", func() {
			rows := testRows(1)
			rows[0].Symbol = ""
			So(w.Append(ctx, id, rows), ShouldEqual, 0)
			So(w.Append(ctx, id, nil), ShouldEqual, 0)
			So(len(fw.calls), ShouldEqual, 0)
		})

		Convey("Open rejects unknown warehouses", func() {
			_, err := Open(ctx, "postgres", "", "", "")
			So(err, ShouldNotBeNil)
		})
	})
}

func TestLocalWarehouse(t *testing.T) {
	t.Parallel()

	tmpdir, tmpdirErr := os.MkdirTemp("", "test_sink")
	defer os.RemoveAll(tmpdir)

	Convey("Setup succeeded", t, func() {
		So(tmpdirErr, ShouldBeNil)
	})

	Convey("LocalWarehouse works", t, func() {
		ctx := context.Background()
		dir, err := os.MkdirTemp(tmpdir, "warehouse")
		So(err, ShouldBeNil)
		lw, err := Open(ctx, LocalKind, "", "", dir)
		So(err, ShouldBeNil)
		w := NewWriter(lw)
		id := db.TableID{Dataset: "historical_data", Table: "test"}

		So(w.EnsureReady(ctx, id), ShouldBeNil)
		ok, err := lw.DatasetExists(ctx, "historical_data")
		So(err, ShouldBeNil)
		So(ok, ShouldBeTrue)
		ok, err = lw.TableExists(ctx, id)
		So(err, ShouldBeNil)
		So(ok, ShouldBeTrue)

		rows := testRows(2)
		rows[0].Bid = db.Float(1.25)
		So(w.Append(ctx, id, rows), ShouldEqual, 2)
		So(w.Append(ctx, id, testRows(1)), ShouldEqual, 1)

		records, err := lw.(*LocalWarehouse).ReadRecords(id)
		So(err, ShouldBeNil)
		So(len(records), ShouldEqual, 3)
		So(records[0]["symbol"], ShouldEqual, "AAPL")
		So(records[0]["date"], ShouldEqual, "2025-06-20")
		So(records[0]["bid"], ShouldEqual, 1.25)
		So(records[0]["type"], ShouldEqual, "call")
		_, hasAsk := records[0]["ask"]
		So(hasAsk, ShouldBeFalse)

		Convey("no temporary files are left behind", func() {
			entries, err := os.ReadDir(filepath.Join(dir, "historical_data"))
			So(err, ShouldBeNil)
			for _, e := range entries {
				So(strings.Contains(e.Name(), ".tmp"), ShouldBeFalse)
			}
		})

		Convey("loading into a missing table fails", func() {
			missing := db.TableID{Dataset: "historical_data", Table: "missing"}
			So(w.Append(ctx, missing, testRows(1)), ShouldEqual, 0)
		})
		So(w.Close(), ShouldBeNil)
	})
}

func TestBackends(t *testing.T) {
	t.Parallel()

	id := db.TableID{Dataset: "historical_options", Table: "aapl"}

	Convey("ClickHouse statements", t, func() {
		ddl, err := ClickHouseDDL(id, db.Schema{
			{Name: "symbol", Type: db.StringColumn, Required: true},
			{Name: "expiration", Type: db.DateColumn},
			{Name: "strike", Type: db.FloatColumn, Required: true},
			{Name: "type", Type: db.StringColumn, Required: true},
			{Name: "volume", Type: db.IntegerColumn},
			{Name: "date", Type: db.DateColumn, Required: true},
		})
		So(err, ShouldBeNil)
		So(ddl, ShouldEqual, "CREATE TABLE IF NOT EXISTS `historical_options`.`aapl` (\n"+
			"  `symbol` String,\n"+
			"  `expiration` Nullable(Date),\n"+
			"  `strike` Float64,\n"+
			"  `type` String,\n"+
			"  `volume` Nullable(Int64),\n"+
			"  `date` Date\n"+
			") ENGINE = MergeTree\n"+
			"PARTITION BY `date`\n"+
			"ORDER BY (`symbol`, `expiration`, `type`)\n"+
			"SETTINGS allow_nullable_key = 1")

		_, err = ClickHouseDDL(id, db.Schema{{Name: "x", Type: "BLOB"}})
		So(err, ShouldNotBeNil)

		_, err = ClickHouseDDL(id, db.OptionSchema[:5])
		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldContainSubstring, "schema has no column date")

		So(ClickHouseInsert(id, db.Schema{{Name: "a"}, {Name: "b"}}), ShouldEqual,
			"INSERT INTO `historical_options`.`aapl` (`a`, `b`)")

		row := db.TestOption("AAPL", db.NewDate(2025, 6, 20), 150, db.Put)
		vals := clickHouseValues(&row)
		So(len(vals), ShouldEqual, len(db.OptionSchema))
		m := db.OptionSchema.MapFields()
		So(vals[m["date"]], ShouldResemble, db.NewDate(2025, 6, 20).ToTime())
		So(vals[m["type"]], ShouldEqual, "put")
		So(vals[m["bid"]], ShouldBeNil)
	})

	Convey("BigQuery metadata", t, func() {
		meta, err := BigQueryTableMetadata(db.OptionSchema)
		So(err, ShouldBeNil)
		So(len(meta.Schema), ShouldEqual, len(db.OptionSchema))
		So(meta.Schema[1], ShouldResemble, &bigquery.FieldSchema{
			Name: "symbol", Type: bigquery.StringFieldType, Required: true})
		So(meta.Schema[2], ShouldResemble, &bigquery.FieldSchema{
			Name: "expiration", Type: bigquery.DateFieldType})
		So(meta.TimePartitioning.Type, ShouldEqual, bigquery.DayPartitioningType)
		So(meta.TimePartitioning.Field, ShouldEqual, "date")
		So(meta.Clustering.Fields, ShouldResemble, []string{"symbol", "expiration", "type"})

		_, err = BigQueryTableMetadata(db.Schema{
			{Name: "date", Type: db.DateColumn, Required: true},
			{Name: "symbol", Type: db.StringColumn, Required: true},
		})
		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldContainSubstring, "schema has no column expiration")

		data, err := jsonLines(testRows(2))
		So(err, ShouldBeNil)
		So(strings.Count(string(data), "\n"), ShouldEqual, 2)

		So(httpCode(&googleapi.Error{Code: 404}), ShouldEqual, 404)
		So(httpCode(errors.Reason("plain")), ShouldEqual, 0)
		So(httpCode(nil), ShouldEqual, 0)
	})
}
