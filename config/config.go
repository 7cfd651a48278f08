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

// Package config defines the configuration of an ingestion run. It is loaded
// once at the start of a run from a TOML, YAML or JSON file and passed
// explicitly to everything that needs it.
//
// Example config.toml:
//
//   project_id = "voldisloc"
//   table_template = "historical_options.{symbol}"
//   symbols_file = "symbols.csv"
//   date_start = "2025-01-02"
//   calls_per_minute = 70
package config

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/voldisloc/db"
	"github.com/stockparfait/voldisloc/message"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration read from strings like "1s" or "2m30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return errors.Annotate(err, "invalid duration '%s'", string(text))
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Values of the enum-like string options.
const (
	BigQuery   = "bigquery"
	ClickHouse = "clickhouse"
	Local      = "local"

	SecretManager = "secretmanager"
	EnvSecret     = "env"
	FileSecret    = "file"

	CollectQuoted    = "quoted"
	CollectIngestion = "ingestion"

	TextReport = "text"
	CSVReport  = "csv"
)

// SymbolPlaceholder is replaced by the symbol's table name in TableTemplate.
const SymbolPlaceholder = "{symbol}"

// Config of an ingestion run.
type Config struct {
	ProjectID     string `json:"project_id"`
	Warehouse     string `json:"warehouse" choices:"bigquery,clickhouse,local" default:"bigquery"`
	ClickHouseDSN string `json:"clickhouse_dsn"`
	LocalDir      string `json:"local_dir" default:"./warehouse"`

	// TableID is a single "<dataset>.<table>" for all the symbols. When empty,
	// each symbol gets its own table named by TableTemplate.
	TableID       string `json:"table_id"`
	TableTemplate string `json:"table_template" default:"historical_options.{symbol}"`

	// Exactly one source of the symbol universe must be set.
	Symbol         string   `json:"symbol"`
	SymbolsFile    string   `json:"symbols_file"`
	SymbolsListing bool     `json:"symbols_listing"`
	Exchanges      []string `json:"exchanges"`
	AssetTypes     []string `json:"asset_types"`
	Exclude        []string `json:"exclude"`

	DateStart db.Date `json:"date_start"`
	DateEnd   db.Date `json:"date_end"` // default: today in New York

	APIKeySecret string `json:"api_key_secret" default:"alpha_vantage_api_key"`
	SecretSource string `json:"secret_source" choices:"secretmanager,env,file" default:"secretmanager"`
	SecretsDir   string `json:"secrets_dir" default:"."`

	CallsPerMinute int      `json:"calls_per_minute" default:"70"`
	Pacer          string   `json:"pacer" choices:"sliding,window,jitter,token-bucket" default:"sliding"`
	Jitter         Duration `json:"jitter" default:"2s"`
	JitterSeed     uint64   `json:"jitter_seed"`

	MaxRetries      int      `json:"max_retries" default:"5"`
	BackoffBase     Duration `json:"backoff_base" default:"1s"`
	BackoffMax      Duration `json:"backoff_max" default:"16s"`
	RetryableStatus []int    `json:"retryable_status" default:"429,500,502,503,504"`
	HTTPTimeout     Duration `json:"http_timeout" default:"30s"`
	BaseURL         string   `json:"base_url" default:"https://www.alphavantage.co/query"`

	CollectedDate string   `json:"collected_date" choices:"quoted,ingestion" default:"quoted"`
	ReportPath    string   `json:"report_path" default:"run_report.txt"`
	ReportFormat  string   `json:"report_format" choices:"text,csv" default:"text"`
	FlushTimeout  Duration `json:"flush_timeout" default:"2m"`
}

var _ message.Message = &Config{}

// InitMessage implements message.Message. It also validates the config.
func (c *Config) InitMessage(js interface{}) error {
	if err := message.Init(c, js); err != nil {
		return errors.Annotate(err, "failed to parse config")
	}
	return c.Validate()
}

// Parse creates a Config from a generic decoded object.
func Parse(js interface{}) (*Config, error) {
	var c Config
	if err := c.InitMessage(js); err != nil {
		return nil, err
	}
	return &c, nil
}

// Decode reads the config in the given format: "toml", "yaml" or "json".
func Decode(r io.Reader, format string) (*Config, error) {
	js := make(map[string]interface{})
	var err error
	switch format {
	case "toml":
		err = toml.NewDecoder(r).Decode(&js)
	case "yaml", "yml":
		err = yaml.NewDecoder(r).Decode(&js)
		if err == io.EOF { // empty document
			err = nil
		}
	case "json":
		err = json.NewDecoder(r).Decode(&js)
	default:
		return nil, errors.Reason("unsupported config format: '%s'", format)
	}
	if err != nil {
		return nil, errors.Annotate(err, "failed to decode %s", format)
	}
	return Parse(js)
}

// Load reads the config file, with the format determined by its extension.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Annotate(err, "failed to open config file %s", path)
	}
	defer f.Close()

	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	c, err := Decode(f, format)
	if err != nil {
		return nil, errors.Annotate(err, "failed to load config file %s", path)
	}
	return c, nil
}

// Validate the consistency of the config.
func (c *Config) Validate() error {
	if c.DateStart.IsZero() {
		return errors.Reason("date_start is required")
	}
	if !c.DateEnd.IsZero() && c.DateEnd.Before(c.DateStart) {
		return errors.Reason("date_end %s is before date_start %s",
			c.DateEnd, c.DateStart)
	}
	sources := 0
	if c.Symbol != "" {
		sources++
	}
	if c.SymbolsFile != "" {
		sources++
	}
	if c.SymbolsListing {
		sources++
	}
	if sources != 1 {
		return errors.Reason(
			"exactly one of symbol, symbols_file or symbols_listing must be set")
	}
	if c.TableID != "" {
		if _, err := db.ParseTableID(c.TableID); err != nil {
			return errors.Annotate(err, "invalid table_id")
		}
	} else {
		if !strings.Contains(c.TableTemplate, SymbolPlaceholder) {
			return errors.Reason("table_template must contain %s: '%s'",
				SymbolPlaceholder, c.TableTemplate)
		}
		if _, err := db.ParseTableID(c.tableFromTemplate("x")); err != nil {
			return errors.Annotate(err, "invalid table_template")
		}
	}
	switch c.Warehouse {
	case BigQuery:
		if c.ProjectID == "" {
			return errors.Reason("project_id is required for the %s warehouse", BigQuery)
		}
	case ClickHouse:
		if c.ClickHouseDSN == "" {
			return errors.Reason("clickhouse_dsn is required for the %s warehouse", ClickHouse)
		}
	}
	if c.SecretSource == SecretManager && c.ProjectID == "" {
		return errors.Reason("project_id is required for the %s secret source", SecretManager)
	}
	if c.CallsPerMinute <= 0 {
		return errors.Reason("calls_per_minute must be positive")
	}
	if c.MaxRetries < 0 {
		return errors.Reason("max_retries must be non-negative")
	}
	if c.BackoffBase.Duration <= 0 || c.BackoffMax.Duration < c.BackoffBase.Duration {
		return errors.Reason("backoff must satisfy 0 < backoff_base <= backoff_max")
	}
	if c.Jitter.Duration < 0 {
		return errors.Reason("jitter must be non-negative")
	}
	if c.HTTPTimeout.Duration <= 0 {
		return errors.Reason("http_timeout must be positive")
	}
	return nil
}

func (c *Config) tableFromTemplate(symbol string) string {
	return strings.ReplaceAll(c.TableTemplate, SymbolPlaceholder, db.TableName(symbol))
}

// Table returns the destination table of the symbol.
func (c *Config) Table(symbol string) (db.TableID, error) {
	s := c.TableID
	if s == "" {
		s = c.tableFromTemplate(symbol)
	}
	id, err := db.ParseTableID(s)
	if err != nil {
		return db.TableID{}, errors.Annotate(err, "no valid table for %s", symbol)
	}
	return id, nil
}

// Constraints for the symbol universe and the trading days, with the end date
// defaulting to the date of now in New York.
func (c *Config) Constraints(now time.Time) *db.Constraints {
	end := c.DateEnd
	if end.IsZero() {
		end = db.DateInNY(now)
	}
	return db.NewConstraints().
		Exchange(c.Exchanges...).
		AssetType(c.AssetTypes...).
		ExcludeSymbol(c.Exclude...).
		StartAt(c.DateStart).
		EndAt(end)
}

// Collected is the collected_date of the rows quoted on the date and fetched
// at the time now.
func (c *Config) Collected(date db.Date, now time.Time) db.Date {
	if c.CollectedDate == CollectIngestion {
		return db.DateInNY(now)
	}
	return date
}
