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
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"cloud.google.com/go/bigquery"
	"github.com/stockparfait/errors"
	"github.com/stockparfait/voldisloc/db"
	"google.golang.org/api/googleapi"
)

var bigQueryTypes = map[db.ColumnType]bigquery.FieldType{
	db.StringColumn:  bigquery.StringFieldType,
	db.DateColumn:    bigquery.DateFieldType,
	db.FloatColumn:   bigquery.FloatFieldType,
	db.IntegerColumn: bigquery.IntegerFieldType,
}

// BigQuerySchema converts the schema to its BigQuery equivalent.
func BigQuerySchema(schema db.Schema) (bigquery.Schema, error) {
	res := make(bigquery.Schema, len(schema))
	for i, c := range schema {
		tp, ok := bigQueryTypes[c.Type]
		if !ok {
			return nil, errors.Reason("unsupported column type %s for %s", c.Type, c.Name)
		}
		res[i] = &bigquery.FieldSchema{Name: c.Name, Type: tp, Required: c.Required}
	}
	return res, nil
}

// BigQueryTableMetadata for creating the options table.
func BigQueryTableMetadata(schema db.Schema) (*bigquery.TableMetadata, error) {
	if err := checkLayout(schema); err != nil {
		return nil, err
	}
	bqSchema, err := BigQuerySchema(schema)
	if err != nil {
		return nil, err
	}
	return &bigquery.TableMetadata{
		Schema: bqSchema,
		TimePartitioning: &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: db.PartitionColumn,
		},
		Clustering: &bigquery.Clustering{Fields: db.ClusterColumns},
	}, nil
}

// httpCode extracts the HTTP status of a Google API error, or 0.
func httpCode(err error) int {
	for err != nil {
		if e, ok := err.(*googleapi.Error); ok {
			return e.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return 0
		}
		err = u.Unwrap()
	}
	return 0
}

// BigQueryWarehouse stores the tables in BigQuery datasets of a project.
type BigQueryWarehouse struct {
	client *bigquery.Client
}

var _ Warehouse = &BigQueryWarehouse{}

// NewBigQuery creates a client for the project using the default application
// credentials.
func NewBigQuery(ctx context.Context, project string) (*BigQueryWarehouse, error) {
	client, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, errors.Annotate(err, "failed to create BigQuery client")
	}
	return &BigQueryWarehouse{client: client}, nil
}

func (w *BigQueryWarehouse) DatasetExists(ctx context.Context, dataset string) (bool, error) {
	_, err := w.client.Dataset(dataset).Metadata(ctx)
	if err == nil {
		return true, nil
	}
	if httpCode(err) == http.StatusNotFound {
		return false, nil
	}
	return false, err
}

func (w *BigQueryWarehouse) CreateDataset(ctx context.Context, dataset string) error {
	err := w.client.Dataset(dataset).Create(ctx, &bigquery.DatasetMetadata{})
	if err != nil && httpCode(err) != http.StatusConflict {
		return err
	}
	return nil
}

func (w *BigQueryWarehouse) TableExists(ctx context.Context, id db.TableID) (bool, error) {
	_, err := w.client.Dataset(id.Dataset).Table(id.Table).Metadata(ctx)
	if err == nil {
		return true, nil
	}
	if httpCode(err) == http.StatusNotFound {
		return false, nil
	}
	return false, err
}

func (w *BigQueryWarehouse) CreateTable(ctx context.Context, id db.TableID, schema db.Schema) error {
	meta, err := BigQueryTableMetadata(schema)
	if err != nil {
		return err
	}
	err = w.client.Dataset(id.Dataset).Table(id.Table).Create(ctx, meta)
	if err != nil && httpCode(err) != http.StatusConflict {
		return err
	}
	return nil
}

// jsonLines encodes the rows as newline-delimited JSON.
func jsonLines(rows []db.OptionRow) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range rows {
		if err := enc.Encode(rows[i]); err != nil {
			return nil, errors.Annotate(err, "failed to encode row %d", i)
		}
	}
	return buf.Bytes(), nil
}

// Load runs a single load job with the append semantics. A load job either
// fully succeeds or fully fails.
func (w *BigQueryWarehouse) Load(ctx context.Context, id db.TableID, rows []db.OptionRow) error {
	data, err := jsonLines(rows)
	if err != nil {
		return err
	}
	schema, err := BigQuerySchema(db.OptionSchema)
	if err != nil {
		return err
	}
	src := bigquery.NewReaderSource(bytes.NewReader(data))
	src.SourceFormat = bigquery.JSON
	src.Schema = schema

	loader := w.client.Dataset(id.Dataset).Table(id.Table).LoaderFrom(src)
	loader.WriteDisposition = bigquery.WriteAppend
	loader.CreateDisposition = bigquery.CreateNever

	job, err := loader.Run(ctx)
	if err != nil {
		return errors.Annotate(err, "failed to start load job")
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return errors.Annotate(err, "failed waiting for load job %s", job.ID())
	}
	if err := status.Err(); err != nil {
		return errors.Annotate(err, "load job %s failed", job.ID())
	}
	return nil
}

func (w *BigQueryWarehouse) Close() error {
	return w.client.Close()
}
