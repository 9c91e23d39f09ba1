// Copyright 2025 The pgsqlite Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config parses the pgsqlite CLI surface: flags first, then
// environment variable overrides for the pragma-shaped settings.
package config

import (
	"flag"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
)

// Config holds the fully resolved startup configuration for a pgsqlite
// server instance.
type Config struct {
	Database string
	InMemory bool
	Address  string
	Port     int

	SSL     bool
	SSLCert string
	SSLKey  string

	JournalMode string
	Synchronous string
	UsePooling  bool

	MetricsPort int

	LogLevel logrus.Level
}

const (
	envJournalMode = "PGSQLITE_JOURNAL_MODE"
	envSynchronous = "PGSQLITE_SYNCHRONOUS"
	envUsePooling  = "PGSQLITE_USE_POOLING"
)

// Parse registers the pgsqlite flags on fs, parses args, then layers the
// PGSQLITE_* environment variables on top of whatever the flags produced -
// env vars win when set, matching the override order the teacher documents
// for its MYDUCK_* variables.
func Parse(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := &Config{
		Address:     "0.0.0.0",
		Port:        5432,
		JournalMode: "WAL",
		Synchronous: "NORMAL",
		UsePooling:  true,
		LogLevel:    logrus.InfoLevel,
	}

	fs.StringVar(&cfg.Database, "database", cfg.Database, "Path to the SQLite database file.")
	fs.BoolVar(&cfg.InMemory, "in-memory", cfg.InMemory, "Use a transient in-memory database instead of --database.")
	fs.StringVar(&cfg.Address, "address", cfg.Address, "The address to bind to.")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The port to bind to for the PostgreSQL wire protocol.")
	fs.BoolVar(&cfg.SSL, "ssl", cfg.SSL, "Enable TLS on client connections.")
	fs.StringVar(&cfg.SSLCert, "ssl-cert", cfg.SSLCert, "Path to the TLS certificate file, required when --ssl is set.")
	fs.StringVar(&cfg.SSLKey, "ssl-key", cfg.SSLKey, "Path to the TLS private key file, required when --ssl is set.")
	fs.StringVar(&cfg.JournalMode, "journal-mode", cfg.JournalMode, "SQLite journal_mode pragma (WAL, DELETE, TRUNCATE, PERSIST, MEMORY, OFF).")
	fs.IntVar(&cfg.MetricsPort, "metrics-port", cfg.MetricsPort, "Port to serve Prometheus metrics on (0 disables the endpoint).")

	var logLevel int
	fs.IntVar(&logLevel, "loglevel", int(cfg.LogLevel), "The log level to use.")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.LogLevel = logrus.Level(logLevel)

	if v, ok := os.LookupEnv(envJournalMode); ok {
		cfg.JournalMode = v
	}
	if v, ok := os.LookupEnv(envSynchronous); ok {
		cfg.Synchronous = v
	}
	if v, ok := os.LookupEnv(envUsePooling); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.UsePooling = b
		}
	}

	return cfg, nil
}
