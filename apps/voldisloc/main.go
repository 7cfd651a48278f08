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

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"
	"github.com/stockparfait/voldisloc/config"
	"github.com/stockparfait/voldisloc/ingest"
)

type Flags struct {
	Config   string // required
	EnvFile  string // optional .env file with secrets
	Report   string // overrides report_path
	LogLevel logging.Level
}

func parseFlags(args []string) (*Flags, error) {
	var flags Flags
	fs := flag.NewFlagSet("voldisloc", flag.ExitOnError)
	fs.StringVar(&flags.Config, "conf", "", "config file: .toml, .yaml or .json (required)")
	fs.StringVar(&flags.EnvFile, "env", "", "load environment variables from this file")
	fs.StringVar(&flags.Report, "report", "", "run report path; default: from config")
	flags.LogLevel = logging.Info
	fs.Var(&flags.LogLevel, "log-level", "Log level: debug, info, warning, error")

	err := fs.Parse(args)
	if err != nil {
		return nil, err
	}
	if flags.Config == "" {
		return nil, errors.Reason("missing required -conf argument")
	}
	return &flags, nil
}

func run(ctx context.Context, flags *Flags) (*ingest.Summary, error) {
	if flags.EnvFile != "" {
		if err := godotenv.Load(flags.EnvFile); err != nil {
			return nil, errors.Annotate(err, "failed to load env file '%s'", flags.EnvFile)
		}
	}
	cfg, err := config.Load(flags.Config)
	if err != nil {
		return nil, errors.Annotate(err, "failed to load config")
	}
	if flags.Report != "" {
		cfg.ReportPath = flags.Report
	}
	pipeline, err := ingest.Setup(ctx, cfg, nil)
	if err != nil {
		return nil, errors.Annotate(err, "failed to set up the run")
	}
	defer pipeline.Close()

	summary, err := pipeline.Run(ctx)
	if err != nil {
		return summary, errors.Annotate(err, "run did not complete")
	}
	return summary, nil
}

func main() {
	ctx := context.Background()
	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		ctx = logging.Use(ctx, logging.DefaultGoLogger(logging.Info))
		logging.Errorf(ctx, "failed to parse flags: %s", err.Error())
		os.Exit(1)
	}
	ctx = logging.Use(ctx, logging.DefaultGoLogger(flags.LogLevel))
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := run(ctx, flags)
	if summary != nil {
		logging.Infof(ctx, "symbols: succeeded=%d empty=%d failed=%d, rows inserted: %d",
			len(summary.Succeeded()), len(summary.Empty()), len(summary.Failed()),
			summary.RowsInserted())
	}
	if err != nil {
		logging.Errorf(ctx, err.Error())
		stop()
		os.Exit(1)
	}
}
