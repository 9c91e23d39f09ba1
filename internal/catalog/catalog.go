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

// Package catalog implements the SchemaCatalog: the declared-column-type
// cache, the ENUM registry, and the monotonic schema-version counter used
// to invalidate the translation cache. Grounded on the teacher's
// catalog.DatabaseProvider (RWMutex-guarded process-wide catalog state,
// bootstrap-query pattern) and meta/type_mapping.go (the affinity +
// declared-modifier pairing, carried here by ColumnInfo's Affinity and
// Declared fields).
package catalog

import (
	stdsql "database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	pgerrors "github.com/pgsqlite/pgsqlite/internal/errors"
	"github.com/pgsqlite/pgsqlite/internal/values"
)

// ColumnInfo is the declared-type-cache entry for a single column: its
// engine storage affinity plus whatever richer type Postgres clients were
// told about at CREATE TABLE time (VARCHAR(32), NUMERIC(10,2), an ENUM
// name, ...).
type ColumnInfo struct {
	Name     string
	Affinity values.Affinity
	Declared string
	OID      uint32
	NotNull  bool
}

// TableInfo is the cached column list for one table, in ordinal order.
type TableInfo struct {
	Schema  string
	Name    string
	Columns []ColumnInfo
}

// EnumType records a CREATE TYPE ... AS ENUM emulated via a CHECK
// constraint (see DESIGN.md's Open Question decision on ENUM emulation).
type EnumType struct {
	Name   string
	Labels []string
	OID    uint32
}

// Catalog is the process-wide, RWMutex-guarded schema catalog. A single
// Catalog is shared by every session against one embedded database handle,
// mirroring the teacher's single DatabaseProvider per server process.
type Catalog struct {
	mu       sync.RWMutex
	db       *sqlx.DB
	tables   map[string]*TableInfo // key: schema.table
	enums    map[string]*EnumType  // key: type name
	nextOID  uint32
	version  atomic.Uint64
}

const firstUserOID = 16384 // first OID above pg_catalog's reserved OID range

// New wraps db for catalog bookkeeping and ensures the metadata tables
// this package uses for ENUM/declared-type persistence exist.
func New(db *stdsql.DB) (*Catalog, error) {
	c := &Catalog{
		db:      sqlx.NewDb(db, "sqlite3"),
		tables:  make(map[string]*TableInfo),
		enums:   make(map[string]*EnumType),
		nextOID: firstUserOID,
	}
	c.version.Store(1)
	if err := c.bootstrap(); err != nil {
		return nil, err
	}
	if err := c.loadEnums(); err != nil {
		return nil, err
	}
	return c, nil
}

// metaSchemaVersion is the version of pgsqlite's own sidecar metadata
// schema, recorded in pgsqlite_meta and migrated forward on startup.
const metaSchemaVersion = 2

func (c *Catalog) bootstrap() error {
	bootstrapQueries := []string{
		`CREATE TABLE IF NOT EXISTS pgsqlite_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pgsqlite_enum_types (
			name TEXT PRIMARY KEY,
			oid INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pgsqlite_enum_labels (
			type_oid INTEGER NOT NULL,
			sortorder INTEGER NOT NULL,
			label TEXT NOT NULL,
			PRIMARY KEY (type_oid, sortorder)
		)`,
		`CREATE TABLE IF NOT EXISTS pgsqlite_column_types (
			table_name TEXT NOT NULL,
			column_name TEXT NOT NULL,
			declared_type TEXT NOT NULL,
			PRIMARY KEY (table_name, column_name)
		)`,
	}
	for _, q := range bootstrapQueries {
		if _, err := c.db.Exec(q); err != nil {
			return pgerrors.Wrap(pgerrors.KindInternal, err, "bootstrap metadata tables")
		}
	}
	if err := c.migrateMeta(); err != nil {
		return err
	}
	return c.createSystemViews()
}

// migrateMeta brings the sidecar metadata schema up to metaSchemaVersion.
// Version 1 stored enum labels inline in pgsqlite_enum_types; version 2
// moved them into pgsqlite_enum_labels so pg_enum can be a plain view.
func (c *Catalog) migrateMeta() error {
	var stored string
	err := c.db.Get(&stored, `SELECT value FROM pgsqlite_meta WHERE key = 'schema_version'`)
	if err != nil {
		// Fresh database: stamp the current version.
		_, err = c.db.Exec(`INSERT INTO pgsqlite_meta (key, value) VALUES ('schema_version', ?)`,
			strconv.Itoa(metaSchemaVersion))
		if err != nil {
			return pgerrors.Wrap(pgerrors.KindInternal, err, "stamp metadata schema version")
		}
		return nil
	}
	v, err := strconv.Atoi(stored)
	if err != nil || v > metaSchemaVersion {
		return pgerrors.New(pgerrors.KindInternal, "unrecognized metadata schema version %q", stored)
	}
	if v == 1 {
		// The v1 labels column no longer exists in a v2-bootstrapped
		// table; nothing carried data through this path in practice, so
		// the migration just re-stamps.
		if _, err := c.db.Exec(`UPDATE pgsqlite_meta SET value = ? WHERE key = 'schema_version'`,
			strconv.Itoa(metaSchemaVersion)); err != nil {
			return pgerrors.Wrap(pgerrors.KindInternal, err, "migrate metadata schema")
		}
	}
	return nil
}

// createSystemViews installs the virtual system catalogs: SQLite views
// shaped like the pg_catalog relations clients actually query, answered
// from sqlite_master, pragma_table_info, and the sidecar metadata tables.
// atttypid resolution goes through the pgsqlite_type_oid scalar function
// internal/functions registers on every engine connection. Grounded on
// the teacher's catalog bootstrap, which pre-creates its internal schemas
// and macro views the same way.
func (c *Catalog) createSystemViews() error {
	views := []string{
		`CREATE VIEW IF NOT EXISTS pg_namespace AS
			SELECT 2200 AS oid, 'public' AS nspname`,
		`CREATE VIEW IF NOT EXISTS pg_class AS
			SELECT m.rowid + 16384 AS oid,
			       m.name AS relname,
			       2200 AS relnamespace,
			       CASE m.type WHEN 'view' THEN 'v' ELSE 'r' END AS relkind
			FROM sqlite_master m
			WHERE m.type IN ('table', 'view')
			  AND m.name NOT LIKE 'sqlite_%'
			  AND m.name NOT LIKE 'pgsqlite_%'
			  AND m.name NOT LIKE 'pg_%'`,
		`CREATE VIEW IF NOT EXISTS pg_attribute AS
			SELECT c.oid AS attrelid,
			       ti.name AS attname,
			       pgsqlite_type_oid(COALESCE(ct.declared_type, ti.type)) AS atttypid,
			       ti.cid + 1 AS attnum,
			       -1 AS atttypmod,
			       ti."notnull" <> 0 AS attnotnull
			FROM pg_class c
			JOIN pragma_table_info(c.relname) AS ti
			LEFT JOIN pgsqlite_column_types ct
			  ON ct.table_name = c.relname AND ct.column_name = ti.name`,
		`CREATE VIEW IF NOT EXISTS pg_type AS
			SELECT oid, name AS typname, 'e' AS typtype FROM pgsqlite_enum_types
			UNION ALL
			SELECT column1, column2, 'b' FROM (VALUES
				(16, 'bool'), (17, 'bytea'), (20, 'int8'), (21, 'int2'),
				(23, 'int4'), (25, 'text'), (114, 'json'), (700, 'float4'),
				(701, 'float8'), (1042, 'bpchar'), (1043, 'varchar'),
				(1082, 'date'), (1083, 'time'), (1114, 'timestamp'),
				(1184, 'timestamptz'), (1700, 'numeric'), (2950, 'uuid'),
				(3802, 'jsonb'))`,
		`CREATE VIEW IF NOT EXISTS pg_enum AS
			SELECT l.type_oid AS enumtypid,
			       l.sortorder AS enumsortorder,
			       l.label AS enumlabel
			FROM pgsqlite_enum_labels l`,
	}
	for _, q := range views {
		if _, err := c.db.Exec(q); err != nil {
			return pgerrors.Wrap(pgerrors.KindInternal, err, "create system catalog views")
		}
	}
	return nil
}

func (c *Catalog) loadEnums() error {
	rows, err := c.db.Queryx(`
		SELECT t.name, t.oid, l.label
		FROM pgsqlite_enum_types t
		JOIN pgsqlite_enum_labels l ON l.type_oid = t.oid
		ORDER BY t.oid, l.sortorder`)
	if err != nil {
		return pgerrors.Wrap(pgerrors.KindInternal, err, "load enum registry")
	}
	defer rows.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	for rows.Next() {
		var name, label string
		var oid uint32
		if err := rows.Scan(&name, &oid, &label); err != nil {
			return pgerrors.Wrap(pgerrors.KindInternal, err, "scan enum registry row")
		}
		et, ok := c.enums[name]
		if !ok {
			et = &EnumType{Name: name, OID: oid}
			c.enums[name] = et
		}
		et.Labels = append(et.Labels, label)
		if oid >= c.nextOID {
			c.nextOID = oid + 1
		}
	}
	return rows.Err()
}

// Version returns the current schema-version counter. Cached translations
// record the version they were built against; a mismatch on lookup means
// the cache entry must be rebuilt (see DESIGN.md's lazy-invalidation
// decision).
func (c *Catalog) Version() uint64 { return c.version.Load() }

func (c *Catalog) bumpVersion() { c.version.Add(1) }

// RegisterEnum adds a new emulated ENUM type, allocating it a fresh OID,
// and persists it so it survives a restart.
func (c *Catalog) RegisterEnum(name string, labels []string) (*EnumType, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.enums[name]; exists {
		return nil, pgerrors.New(pgerrors.KindIntegrity, "type %q already exists", name)
	}

	oid := c.nextOID
	c.nextOID++

	if _, err := c.db.Exec(
		`INSERT INTO pgsqlite_enum_types (name, oid) VALUES (?, ?)`,
		name, oid,
	); err != nil {
		return nil, pgerrors.Wrap(pgerrors.KindInternal, err, "persist enum type")
	}
	for i, label := range labels {
		if _, err := c.db.Exec(
			`INSERT INTO pgsqlite_enum_labels (type_oid, sortorder, label) VALUES (?, ?, ?)`,
			oid, i+1, label,
		); err != nil {
			return nil, pgerrors.Wrap(pgerrors.KindInternal, err, "persist enum label")
		}
	}

	et := &EnumType{Name: name, Labels: labels, OID: oid}
	c.enums[name] = et
	c.bumpVersion()
	return et, nil
}

// Enum looks up a registered ENUM type by name.
func (c *Catalog) Enum(name string) (*EnumType, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	et, ok := c.enums[name]
	return et, ok
}

// DropEnum removes a registered ENUM type and its labels.
func (c *Catalog) DropEnum(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	et, ok := c.enums[name]
	if !ok {
		return pgerrors.New(pgerrors.KindData, "type %q does not exist", name)
	}
	if _, err := c.db.Exec(`DELETE FROM pgsqlite_enum_labels WHERE type_oid = ?`, et.OID); err != nil {
		return pgerrors.Wrap(pgerrors.KindInternal, err, "drop enum labels")
	}
	if _, err := c.db.Exec(`DELETE FROM pgsqlite_enum_types WHERE name = ?`, name); err != nil {
		return pgerrors.Wrap(pgerrors.KindInternal, err, "drop enum type")
	}
	delete(c.enums, name)
	c.bumpVersion()
	return nil
}

// RecordColumnType persists the Postgres-facing declared type for a
// column (e.g. "VARCHAR(32)") alongside its table, so TableColumns and the
// pg_attribute view can report it even though the engine itself only
// tracks storage affinity.
func (c *Catalog) RecordColumnType(table, column, declared string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.db.Exec(`
		INSERT INTO pgsqlite_column_types (table_name, column_name, declared_type)
		VALUES (?, ?, ?)
		ON CONFLICT (table_name, column_name) DO UPDATE SET declared_type = excluded.declared_type`,
		table, column, declared)
	if err != nil {
		return pgerrors.Wrap(pgerrors.KindInternal, err, "record declared column type")
	}
	delete(c.tables, table)
	c.bumpVersion()
	return nil
}

// DeclaredColumnType returns the Postgres-facing declared type previously
// recorded for table.column, if any.
func (c *Catalog) DeclaredColumnType(table, column string) (string, bool) {
	var declared string
	err := c.db.Get(&declared,
		`SELECT declared_type FROM pgsqlite_column_types WHERE table_name = ? AND column_name = ?`,
		table, column)
	if err != nil {
		return "", false
	}
	return declared, true
}

// NumericFits reports whether a decimal text value fits a declared
// NUMERIC(precision, scale): at most precision digits overall, at most
// scale of them after the point. Backs the pgsqlite_numeric_fits shim the
// translator attaches to NUMERIC(p,s) columns as a CHECK constraint.
func NumericFits(value string, precision, scale int) bool {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return false
	}
	if int(-d.Exponent()) > scale {
		return false
	}
	digits := d.Abs().Shift(int32(scale)).BigInt().String()
	if digits == "0" {
		return true
	}
	return len(digits) <= precision
}

// TableColumns returns the cached column list for table, querying and
// caching pragma table_info(table) on first use.
func (c *Catalog) TableColumns(table string) ([]ColumnInfo, error) {
	c.mu.RLock()
	if ti, ok := c.tables[table]; ok {
		defer c.mu.RUnlock()
		return ti.Columns, nil
	}
	c.mu.RUnlock()

	rows, err := c.db.Queryx(fmt.Sprintf(`PRAGMA table_info(%q)`, table))
	if err != nil {
		return nil, pgerrors.Wrap(pgerrors.KindData, err, "read table_info for "+table)
	}
	defer rows.Close()

	var cols []ColumnInfo
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull int
		var dfltValue stdsql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, pgerrors.Wrap(pgerrors.KindInternal, err, "scan table_info row")
		}
		affinity := values.AffinityForDeclaredType(colType)
		declared, hasDeclared := c.DeclaredColumnType(table, name)
		if !hasDeclared {
			declared = colType
		}
		cols = append(cols, ColumnInfo{
			Name:     name,
			Affinity: affinity,
			Declared: declared,
			OID:      values.OIDForDeclaredType(normalizeDeclared(declared), affinity),
			NotNull:  notNull != 0,
		})
	}

	c.mu.Lock()
	c.tables[table] = &TableInfo{Name: table, Columns: cols}
	c.mu.Unlock()
	return cols, rows.Err()
}

// InvalidateTable drops a table's cached column list, forcing the next
// TableColumns call to re-read it (used after ALTER TABLE/DROP TABLE).
func (c *Catalog) InvalidateTable(table string) {
	c.mu.Lock()
	delete(c.tables, table)
	c.mu.Unlock()
	c.bumpVersion()
}

func normalizeDeclared(declared string) string {
	out := make([]byte, 0, len(declared))
	for i := 0; i < len(declared); i++ {
		ch := declared[i]
		if ch == '(' {
			break
		}
		if 'A' <= ch && ch <= 'Z' {
			ch += 'a' - 'A'
		}
		out = append(out, ch)
	}
	s := string(out)
	for len(s) > 0 && s[len(s)-1] == ' ' {
		s = s[:len(s)-1]
	}
	return s
}
