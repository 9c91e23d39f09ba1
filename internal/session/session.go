// Copyright 2023 Dolthub, Inc.
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

// Package session implements per-connection session state: the
// arena-style prepared-statement and portal tables, GUC-like settings, and
// the binding of a Session to its Transaction Controller. Grounded on the
// teacher's pgserver/connection_data.go (PreparedStatementData, PortalData)
// and connection_handler.go's preparedStatements/portals maps, generalized
// per spec.md's design note into handle-addressed slab storage: names map
// to handles, handles index into a slab, so a Close never needs to search
// a map for stale values.
package session

import (
	"sync"
	"sync/atomic"

	stdsql "database/sql"

	"github.com/jackc/pgx/v5/pgproto3"

	"github.com/pgsqlite/pgsqlite/internal/catalog"
	"github.com/pgsqlite/pgsqlite/internal/txn"
)

// Handle addresses a slot in a Session's statement or portal slab.
type Handle uint32

// PreparedStatement is a parsed, not-yet-bound query plus its declared
// parameter and result shapes.
type PreparedStatement struct {
	Name          string
	SQL           string
	Original      string
	Tag           string
	ReturningCols []string
	ParamOIDs     []uint32
	ResultFields  []pgproto3.FieldDescription
	SchemaVersion uint64
}

// Portal is a prepared statement bound to concrete parameter values,
// ready for Execute.
type Portal struct {
	Name              string
	Statement         Handle
	Stmt              *stdsql.Stmt
	Rows              *stdsql.Rows
	Args              []any
	ResultFormatCodes []int16
	RowsReturned      int
	Suspended         bool
	PendingRow        bool
}

// Session is the mutable per-connection state: GUC settings, the
// statement/portal slabs, and the transaction controller.
type Session struct {
	mu sync.Mutex

	Catalog *catalog.Catalog
	Txn     *txn.Controller

	settings map[string]string

	stmtSlab   []*PreparedStatement
	stmtByName map[string]Handle
	freeStmts  []Handle

	portalSlab   []*Portal
	portalByName map[string]Handle
	freePortals  []Handle
}

var pidCounter atomic.Uint32

// New builds a fresh Session bound to cat/tc.
func New(cat *catalog.Catalog, tc *txn.Controller) *Session {
	return &Session{
		Catalog:      cat,
		Txn:          tc,
		settings:     map[string]string{"client_encoding": "UTF8", "TimeZone": "UTC"},
		stmtByName:   make(map[string]Handle),
		portalByName: make(map[string]Handle),
	}
}

// Set records a GUC-like session setting (SET name = value).
func (s *Session) Set(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[name] = value
}

// Get reads a GUC-like session setting.
func (s *Session) Get(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.settings[name]
	return v, ok
}

// AddStatement stores ps under name (the empty string names the unnamed
// statement), replacing any prior entry of the same name.
func (s *Session) AddStatement(name string, ps *PreparedStatement) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.stmtByName[name]; ok {
		s.stmtSlab[h] = ps
		return h
	}

	var h Handle
	if n := len(s.freeStmts); n > 0 {
		h = s.freeStmts[n-1]
		s.freeStmts = s.freeStmts[:n-1]
		s.stmtSlab[h] = ps
	} else {
		h = Handle(len(s.stmtSlab))
		s.stmtSlab = append(s.stmtSlab, ps)
	}
	s.stmtByName[name] = h
	return h
}

// StatementByHandle looks up a prepared statement by its slab handle, used
// to resolve a Portal's backing statement. Returns nil if the statement
// was closed and its slot is still free; once AddStatement reuses the
// slot, the handle resolves to the new statement.
func (s *Session) StatementByHandle(h Handle) *PreparedStatement {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(h) >= len(s.stmtSlab) {
		return nil
	}
	return s.stmtSlab[h]
}

// Statement looks up a prepared statement by name.
func (s *Session) Statement(name string) (*PreparedStatement, Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.stmtByName[name]
	if !ok {
		return nil, 0, false
	}
	return s.stmtSlab[h], h, true
}

// CloseStatement removes a named prepared statement and recycles its slot.
func (s *Session) CloseStatement(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.stmtByName[name]
	if !ok {
		return
	}
	delete(s.stmtByName, name)
	s.stmtSlab[h] = nil
	s.freeStmts = append(s.freeStmts, h)
}

// AddPortal stores p under name, replacing any prior entry.
func (s *Session) AddPortal(name string, p *Portal) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.portalByName[name]; ok {
		s.portalSlab[h] = p
		return h
	}

	var h Handle
	if n := len(s.freePortals); n > 0 {
		h = s.freePortals[n-1]
		s.freePortals = s.freePortals[:n-1]
		s.portalSlab[h] = p
	} else {
		h = Handle(len(s.portalSlab))
		s.portalSlab = append(s.portalSlab, p)
	}
	s.portalByName[name] = h
	return h
}

// Portal looks up a portal by name.
func (s *Session) Portal(name string) (*Portal, Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.portalByName[name]
	if !ok {
		return nil, 0, false
	}
	return s.portalSlab[h], h, true
}

// ClosePortal removes a named portal, closing its prepared *sql.Stmt and
// recycling its slot.
func (s *Session) ClosePortal(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.portalByName[name]
	if !ok {
		return
	}
	if p := s.portalSlab[h]; p != nil {
		if p.Rows != nil {
			p.Rows.Close()
		}
		if p.Stmt != nil {
			p.Stmt.Close()
		}
	}
	delete(s.portalByName, name)
	s.portalSlab[h] = nil
	s.freePortals = append(s.freePortals, h)
}

// DiscardAll implements DISCARD ALL: clears every prepared statement and
// portal, and resets session settings, without tearing down the
// connection. Grounded on connection_handler.go's discardAll, which
// delegates to duck_handler.ComResetConnection for the same purpose.
func (s *Session) DiscardAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.portalSlab {
		if p == nil {
			continue
		}
		if p.Rows != nil {
			p.Rows.Close()
		}
		if p.Stmt != nil {
			p.Stmt.Close()
		}
	}
	s.stmtSlab = nil
	s.stmtByName = make(map[string]Handle)
	s.freeStmts = nil
	s.portalSlab = nil
	s.portalByName = make(map[string]Handle)
	s.freePortals = nil
	s.settings = map[string]string{"client_encoding": "UTF8", "TimeZone": "UTC"}
}

// NextBackendPID allocates a synthetic backend PID for a new connection,
// reported in BackendKeyData.
func NextBackendPID() uint32 {
	return pidCounter.Add(1)
}
