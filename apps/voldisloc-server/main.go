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
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"
	"github.com/stockparfait/voldisloc/config"
	"github.com/stockparfait/voldisloc/ingest"
)

type Flags struct {
	Config   string // required
	EnvFile  string
	Addr     string // default: ":$PORT", or ":8080"
	LogLevel logging.Level
}

func defaultAddr() string {
	if port := os.Getenv("PORT"); port != "" {
		return ":" + port
	}
	return ":8080"
}

func parseFlags(args []string) (*Flags, error) {
	var flags Flags
	fs := flag.NewFlagSet("voldisloc-server", flag.ExitOnError)
	fs.StringVar(&flags.Config, "conf", "", "config file: .toml, .yaml or .json (required)")
	fs.StringVar(&flags.EnvFile, "env", "", "load environment variables from this file")
	fs.StringVar(&flags.Addr, "addr", defaultAddr(), "address to listen on")
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

type runFunc func(ctx context.Context) (*ingest.Summary, error)

// lastRun is the JSON status of the latest finished run.
type lastRun struct {
	Started      time.Time      `json:"started"`
	Finished     time.Time      `json:"finished"`
	Total        int            `json:"total"`
	Succeeded    []string       `json:"succeeded"`
	Empty        []string       `json:"empty"`
	Failed       []string       `json:"failed"`
	RowsInserted int            `json:"rows_inserted"`
	RowsBySymbol map[string]int `json:"rows_by_symbol,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// server triggers one ingestion run at a time in the background.
type server struct {
	ctx      context.Context // lifetime of the background runs
	run      runFunc
	registry *prometheus.Registry

	mu      sync.Mutex
	running bool
	last    *lastRun
	wg      sync.WaitGroup
}

func newServer(ctx context.Context, run runFunc, reg *prometheus.Registry) *server {
	return &server{ctx: ctx, run: run, registry: reg}
}

// pipelineRun loads the config anew for every run, so edits take effect
// without a restart.
func pipelineRun(conf string, m *ingest.Metrics) runFunc {
	return func(ctx context.Context) (*ingest.Summary, error) {
		cfg, err := config.Load(conf)
		if err != nil {
			return nil, errors.Annotate(err, "failed to load config")
		}
		pipeline, err := ingest.Setup(ctx, cfg, m)
		if err != nil {
			return nil, errors.Annotate(err, "failed to set up the run")
		}
		defer pipeline.Close()
		return pipeline.Run(ctx)
	}
}

func (s *server) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/run", s.handleRun).Methods(http.MethodGet, http.MethodPost)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).
		Methods(http.MethodGet)
	return r
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Errorf(ctx, "failed to write response: %s", err.Error())
	}
}

func (s *server) handleStatus(w http.ResponseWriter, req *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(s.ctx, w, http.StatusOK, map[string]any{
		"status":   "ok",
		"service":  "voldisloc",
		"running":  s.running,
		"last_run": s.last,
	})
}

func (s *server) handleRun(w http.ResponseWriter, req *http.Request) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		writeJSON(s.ctx, w, http.StatusConflict, map[string]string{
			"status": "busy",
			"error":  "a run is already in progress",
		})
		return
	}
	s.running = true
	s.wg.Add(1)
	s.mu.Unlock()

	go s.background()
	writeJSON(s.ctx, w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *server) background() {
	defer s.wg.Done()
	logging.Infof(s.ctx, "run started")
	summary, err := s.run(s.ctx)
	res := &lastRun{}
	if summary != nil {
		res.Started = summary.Started
		res.Finished = summary.Finished
		res.Total = summary.Total()
		res.Succeeded = summary.Succeeded()
		res.Empty = summary.Empty()
		res.Failed = summary.Failed()
		res.RowsInserted = summary.RowsInserted()
		res.RowsBySymbol = summary.RowsBySymbol()
	}
	if err != nil {
		res.Error = err.Error()
		logging.Errorf(s.ctx, "run failed: %s", err.Error())
	} else {
		logging.Infof(s.ctx, "run finished: rows inserted: %d", res.RowsInserted)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.last = res
}

// wait for the background run, if any, to finish.
func (s *server) wait() { s.wg.Wait() }

func serve(ctx context.Context, flags *Flags) error {
	if flags.EnvFile != "" {
		if err := godotenv.Load(flags.EnvFile); err != nil {
			return errors.Annotate(err, "failed to load env file '%s'", flags.EnvFile)
		}
	}
	if _, err := config.Load(flags.Config); err != nil {
		return errors.Annotate(err, "invalid config")
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	s := newServer(ctx, pipelineRun(flags.Config, ingest.NewMetrics(reg)), reg)

	srv := &http.Server{
		Addr:              flags.Addr,
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logging.Infof(ctx, "listening on %s", flags.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Annotate(err, "server failed")
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warningf(ctx, "shutdown: %s", err.Error())
	}
	s.wait()
	return nil
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

	if err := serve(ctx, flags); err != nil {
		logging.Errorf(ctx, err.Error())
		stop()
		os.Exit(1)
	}
}
