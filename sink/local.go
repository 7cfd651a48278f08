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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/voldisloc/db"
)

// LocalWarehouse stores each dataset as a directory and each table as a file
// of JSON lines, <dir>/<dataset>/<table>.jsonl, next to its metadata in
// <table>.table.json.
type LocalWarehouse struct {
	dir string
}

var _ Warehouse = &LocalWarehouse{}

// NewLocal creates a local warehouse rooted at dir.
func NewLocal(dir string) *LocalWarehouse {
	return &LocalWarehouse{dir: dir}
}

// LocalTableMeta is the stored metadata of a local table.
type LocalTableMeta struct {
	Schema    db.Schema `json:"schema"`
	Partition string    `json:"partition"`
	Cluster   []string  `json:"cluster"`
}

func (w *LocalWarehouse) datasetDir(dataset string) string {
	return filepath.Join(w.dir, dataset)
}

// DataPath is the file holding the rows of the table.
func (w *LocalWarehouse) DataPath(id db.TableID) string {
	return filepath.Join(w.datasetDir(id.Dataset), id.Table+".jsonl")
}

func (w *LocalWarehouse) metaPath(id db.TableID) string {
	return filepath.Join(w.datasetDir(id.Dataset), id.Table+".table.json")
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, errors.Annotate(err, "failed to check '%s'", path)
}

func (w *LocalWarehouse) DatasetExists(ctx context.Context, dataset string) (bool, error) {
	return exists(w.datasetDir(dataset))
}

func (w *LocalWarehouse) CreateDataset(ctx context.Context, dataset string) error {
	if err := os.MkdirAll(w.datasetDir(dataset), 0755); err != nil {
		return errors.Annotate(err, "failed to create directory for %s", dataset)
	}
	return nil
}

func (w *LocalWarehouse) TableExists(ctx context.Context, id db.TableID) (bool, error) {
	return exists(w.metaPath(id))
}

func (w *LocalWarehouse) CreateTable(ctx context.Context, id db.TableID, schema db.Schema) error {
	meta := LocalTableMeta{
		Schema:    schema,
		Partition: db.PartitionColumn,
		Cluster:   db.ClusterColumns,
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return errors.Annotate(err, "failed to encode table metadata")
	}
	if err := writeAtomic(w.metaPath(id), data); err != nil {
		return errors.Annotate(err, "failed to write metadata for %s", id)
	}
	if err := writeAtomic(w.DataPath(id), nil); err != nil {
		return errors.Annotate(err, "failed to create %s", id)
	}
	return nil
}

// Load appends the rows by writing the old and the new rows into a temporary
// file and renaming it over the table file.
func (w *LocalWarehouse) Load(ctx context.Context, id db.TableID, rows []db.OptionRow) error {
	ok, err := w.TableExists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Reason("table %s does not exist", id)
	}
	var buf bytes.Buffer
	if err := readInto(&buf, w.DataPath(id)); err != nil {
		return errors.Annotate(err, "failed to read %s", id)
	}
	enc := json.NewEncoder(&buf)
	for i := range rows {
		if err := enc.Encode(rows[i]); err != nil {
			return errors.Annotate(err, "failed to encode row %d", i)
		}
	}
	if err := writeAtomic(w.DataPath(id), buf.Bytes()); err != nil {
		return errors.Annotate(err, "failed to append to %s", id)
	}
	return nil
}

// ReadRecords reads all the stored rows of the table as JSON objects.
func (w *LocalWarehouse) ReadRecords(id db.TableID) ([]map[string]interface{}, error) {
	f, err := os.Open(w.DataPath(id))
	if err != nil {
		return nil, errors.Annotate(err, "failed to open %s", id)
	}
	defer f.Close()

	var res []map[string]interface{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
			continue
		}
		var m map[string]interface{}
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			return nil, errors.Annotate(err, "failed to parse row %d of %s", len(res), id)
		}
		res = append(res, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Annotate(err, "failed to read %s", id)
	}
	return res, nil
}

func (w *LocalWarehouse) Close() error { return nil }

func readInto(buf *bytes.Buffer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(buf, f)
	return err
}

// writeAtomic writes data into a temporary file in the same directory, and
// renames it to fileName.
func writeAtomic(fileName string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(fileName), filepath.Base(fileName)+".tmp*")
	if err != nil {
		return errors.Annotate(err, "failed to create temp file for '%s'", fileName)
	}
	tmp := f.Name()
	defer os.Remove(tmp) // no-op after a successful rename

	if _, err := f.Write(data); err != nil {
		f.Close()
		return errors.Annotate(err, "failed to write to '%s'", tmp)
	}
	if err := f.Close(); err != nil {
		return errors.Annotate(err, "failed to close '%s'", tmp)
	}
	if err := os.Rename(tmp, fileName); err != nil {
		return errors.Annotate(err, "failed to rename '%s' to '%s'", tmp, fileName)
	}
	return nil
}
