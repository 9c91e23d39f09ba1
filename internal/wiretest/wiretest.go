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

// Package wiretest spins up a full pgsqlite server on a loopback port and
// drives it with lib/pq, the reference Postgres client, for black-box
// protocol-conformance tests. The intent mirrors the teacher's own
// wire-level test harness: a real server, a real client library, and
// assertions on what actually crosses the socket.
package wiretest

import (
	stdsql "database/sql"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"testing"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/pgsqlite/pgsqlite/internal/catalog"
	"github.com/pgsqlite/pgsqlite/internal/engine"
	"github.com/pgsqlite/pgsqlite/internal/functions"
	"github.com/pgsqlite/pgsqlite/internal/metrics"
	"github.com/pgsqlite/pgsqlite/internal/wire"
)

var hookOnce sync.Once

// StartServer brings up a pgsqlite server backed by a fresh temporary
// database and returns its loopback address. Torn down with the test.
func StartServer(t testing.TB) string {
	t.Helper()

	hookOnce.Do(func() {
		engine.AddConnectHook(functions.Register)
	})

	log := logrus.WithField("component", "wiretest")

	eng, err := engine.Open(engine.Options{
		Database:    filepath.Join(t.TempDir(), "wiretest.db"),
		JournalMode: "WAL",
		UsePooling:  true,
	}, log)
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	t.Cleanup(func() { eng.Close() })

	cat, err := catalog.New(eng.DB)
	if err != nil {
		t.Fatalf("bootstrap catalog: %v", err)
	}

	m := metrics.New(prometheus.NewRegistry())
	srv := wire.NewServer(eng.DB, cat, m, wire.TLSConfig{}, log)
	if err := srv.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = srv.Serve() }()
	t.Cleanup(func() { _ = srv.Close() })

	return srv.Addr().String()
}

// Start boots a server via StartServer and returns a lib/pq client pool
// connected to it.
func Start(t testing.TB) *stdsql.DB {
	t.Helper()

	addr := StartServer(t)
	port := mustPort(t, addr)
	db, err := stdsql.Open("postgres", fmt.Sprintf(
		"host=127.0.0.1 port=%d user=wiretest dbname=wiretest sslmode=disable", port))
	if err != nil {
		t.Fatalf("open client: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Ping(); err != nil {
		t.Fatalf("ping server: %v", err)
	}
	return db
}

func mustPort(t testing.TB, addr string) int {
	t.Helper()
	tcp, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		t.Fatalf("resolve %s: %v", addr, err)
	}
	return tcp.Port
}
