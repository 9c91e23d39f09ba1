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

// Package engine wraps the embedded SQLite engine handle: opening it
// (file-backed or in-memory), applying pragmas, and wiring the function
// registration seam used by internal/functions. Grounded on the teacher's
// catalog.DatabaseProvider, which holds the equivalent *stdsql.DB storage
// handle and bootstrap-query pattern around a different embedded engine.
package engine

import (
	stdsql "database/sql"
	"fmt"
	"sync"

	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	pgerrors "github.com/pgsqlite/pgsqlite/internal/errors"
)

// ConnectHook is called on every new driver connection, giving callers a
// chance to register scalar/aggregate functions into it.
type ConnectHook func(conn *sqlite3.SQLiteConn) error

var (
	registerOnce sync.Once
	driverName   = "pgsqlite-sqlite3"
	hooksMu      sync.Mutex
	hooks        []ConnectHook
)

func registerDriver() {
	registerOnce.Do(func() {
		stdsql.Register(driverName, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				hooksMu.Lock()
				defer hooksMu.Unlock()
				for _, h := range hooks {
					if err := h(conn); err != nil {
						return err
					}
				}
				return nil
			},
		})
	})
}

// AddConnectHook registers an additional hook run against every new
// connection the driver opens. Must be called before Open.
func AddConnectHook(h ConnectHook) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	hooks = append(hooks, h)
}

// Options controls how the embedded engine handle is opened.
type Options struct {
	Database    string
	InMemory    bool
	JournalMode string
	Synchronous string
	UsePooling  bool
}

// Engine is the process-wide handle onto the embedded database.
type Engine struct {
	DB  *stdsql.DB
	log *logrus.Entry
}

// Open opens (creating if necessary) the embedded database described by
// opts and applies its startup pragmas.
func Open(opts Options, log *logrus.Entry) (*Engine, error) {
	registerDriver()

	inMemory := opts.InMemory || opts.Database == ""
	var dsn string
	if inMemory {
		// A shared-cache memory database is the only way multiple driver
		// connections see the same transient data.
		dsn = "file::memory:?cache=shared&_busy_timeout=5000"
	} else {
		dsn = fmt.Sprintf("file:%s?_busy_timeout=5000", opts.Database)
	}

	db, err := stdsql.Open(driverName, dsn)
	if err != nil {
		return nil, pgerrors.Wrap(pgerrors.KindInternal, err, "open embedded engine")
	}

	if opts.UsePooling && !inMemory {
		db.SetMaxOpenConns(8)
	} else {
		// Two connections minimum: one carries the session's open
		// transaction, the other serves catalog metadata reads that
		// would otherwise wait forever on the pool. Shared-cache memory
		// databases keep the small pool too; their table locks surface
		// as transient busy errors rather than deadlocks.
		db.SetMaxOpenConns(2)
	}

	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA journal_mode=%s", orDefault(opts.JournalMode, "WAL")),
		fmt.Sprintf("PRAGMA synchronous=%s", orDefault(opts.Synchronous, "NORMAL")),
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, pgerrors.Wrap(pgerrors.KindInternal, err, "apply pragma: "+pragma)
		}
	}

	return &Engine{DB: db, log: log}, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Close releases the embedded engine handle.
func (e *Engine) Close() error {
	return e.DB.Close()
}
