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

// Package sink provisions the options table in a data warehouse and appends
// batches of rows to it.
//
// The table is created from db.OptionSchema, partitioned daily by the quoted
// trading date and clustered by (symbol, expiration, type). Each batch is
// appended with a single load operation which either fully succeeds or fully
// fails.
//
// Three warehouses are supported: BigQuery, ClickHouse and a local directory
// of JSON-lines files.
package sink

import (
	"context"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"
	"github.com/stockparfait/voldisloc/db"
)

// Warehouse is the transport of a data warehouse. Creating a dataset or a
// table which already exists is not an error.
type Warehouse interface {
	DatasetExists(ctx context.Context, dataset string) (bool, error)
	CreateDataset(ctx context.Context, dataset string) error
	TableExists(ctx context.Context, id db.TableID) (bool, error)
	// CreateTable with the schema, partitioned by db.PartitionColumn and
	// clustered by db.ClusterColumns.
	CreateTable(ctx context.Context, id db.TableID, schema db.Schema) error
	// Load appends all the rows atomically: on error, none of them are stored.
	Load(ctx context.Context, id db.TableID, rows []db.OptionRow) error
	Close() error
}

// Writer appends batches of rows to the warehouse tables.
type Writer struct {
	warehouse Warehouse
	ready     map[db.TableID]struct{}
}

// NewWriter creates a Writer for the warehouse.
func NewWriter(w Warehouse) *Writer {
	return &Writer{
		warehouse: w,
		ready:     make(map[db.TableID]struct{}),
	}
}

// EnsureReady creates the dataset and the table, if they don't exist yet. It
// is idempotent, and only checks the warehouse once per table.
func (w *Writer) EnsureReady(ctx context.Context, id db.TableID) error {
	if _, ok := w.ready[id]; ok {
		return nil
	}
	ok, err := w.warehouse.DatasetExists(ctx, id.Dataset)
	if err != nil {
		return errors.Annotate(err, "failed to check dataset %s", id.Dataset)
	}
	if !ok {
		if err := w.warehouse.CreateDataset(ctx, id.Dataset); err != nil {
			return errors.Annotate(err, "failed to create dataset %s", id.Dataset)
		}
		logging.Infof(ctx, "created dataset %s", id.Dataset)
	}
	ok, err = w.warehouse.TableExists(ctx, id)
	if err != nil {
		return errors.Annotate(err, "failed to check table %s", id)
	}
	if !ok {
		if err := w.warehouse.CreateTable(ctx, id, db.OptionSchema); err != nil {
			return errors.Annotate(err, "failed to create table %s", id)
		}
		logging.Infof(ctx, "created table %s", id)
	}
	w.ready[id] = struct{}{}
	return nil
}

// checkLayout verifies that the schema has the partitioning and clustering
// columns.
func checkLayout(schema db.Schema) error {
	fields := schema.MapFields()
	for _, c := range append([]string{db.PartitionColumn}, db.ClusterColumns...) {
		if _, ok := fields[c]; !ok {
			return errors.Reason("schema has no column %s", c)
		}
	}
	return nil
}

// Prepare canonicalizes the rows and drops those missing any critical column.
// It returns the valid rows and the number of dropped rows.
func Prepare(rows []db.OptionRow) ([]db.OptionRow, int) {
	valid := make([]db.OptionRow, 0, len(rows))
	for _, r := range rows {
		c := r.Canonical()
		if c.Validate() != nil {
			continue
		}
		valid = append(valid, c)
	}
	return valid, len(rows) - len(valid)
}

// Append the rows to the table in a single load operation, and return the
// number of rows inserted. Failures are logged and reported as 0 rows
// inserted; a batch is never partially appended.
func (w *Writer) Append(ctx context.Context, id db.TableID, rows []db.OptionRow) int {
	valid, dropped := Prepare(rows)
	if dropped > 0 {
		logging.Warningf(ctx, "sink dropped invalid rows: table=%s dropped=%d", id, dropped)
	}
	if len(valid) == 0 {
		return 0
	}
	if err := w.warehouse.Load(ctx, id, valid); err != nil {
		logging.Errorf(ctx, "sink load failed: table=%s rows=%d err=%q",
			id, len(valid), err.Error())
		return 0
	}
	logging.Infof(ctx, "sink loaded: table=%s rows=%d", id, len(valid))
	return len(valid)
}

// Close the warehouse connection.
func (w *Writer) Close() error {
	return w.warehouse.Close()
}

// Warehouse kinds accepted by Open.
const (
	BigQueryKind   = "bigquery"
	ClickHouseKind = "clickhouse"
	LocalKind      = "local"
)

// Open a warehouse of the given kind. The project is used by BigQuery, the
// DSN by ClickHouse and dir by the local warehouse.
func Open(ctx context.Context, kind, project, dsn, dir string) (Warehouse, error) {
	switch kind {
	case BigQueryKind:
		return NewBigQuery(ctx, project)
	case ClickHouseKind:
		return NewClickHouse(ctx, dsn)
	case LocalKind:
		return NewLocal(dir), nil
	}
	return nil, errors.Reason("unknown warehouse: '%s'", kind)
}
