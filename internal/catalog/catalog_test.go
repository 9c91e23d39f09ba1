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

package catalog

import (
	stdsql "database/sql"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgsqlite/pgsqlite/internal/values"
)

func openTestCatalog(t *testing.T) (*stdsql.DB, *Catalog) {
	t.Helper()
	db, err := stdsql.Open("sqlite3", filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cat, err := New(db)
	require.NoError(t, err)
	return db, cat
}

func TestBootstrapIsIdempotent(t *testing.T) {
	db, _ := openTestCatalog(t)
	_, err := New(db)
	require.NoError(t, err)
}

func TestMetaSchemaVersionStamped(t *testing.T) {
	db, _ := openTestCatalog(t)
	var v string
	require.NoError(t, db.QueryRow(`SELECT value FROM pgsqlite_meta WHERE key = 'schema_version'`).Scan(&v))
	assert.Equal(t, "2", v)
}

func TestRegisterEnum(t *testing.T) {
	_, cat := openTestCatalog(t)

	before := cat.Version()
	et, err := cat.RegisterEnum("mood", []string{"happy", "sad"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, et.OID, uint32(16384))
	assert.Greater(t, cat.Version(), before, "DDL bumps the schema version")

	got, ok := cat.Enum("mood")
	require.True(t, ok)
	assert.Equal(t, []string{"happy", "sad"}, got.Labels)

	_, err = cat.RegisterEnum("mood", []string{"x"})
	require.Error(t, err, "duplicate type name rejected")
}

func TestEnumSurvivesReload(t *testing.T) {
	db, cat := openTestCatalog(t)
	first, err := cat.RegisterEnum("mood", []string{"happy", "sad"})
	require.NoError(t, err)

	reloaded, err := New(db)
	require.NoError(t, err)
	got, ok := reloaded.Enum("mood")
	require.True(t, ok)
	assert.Equal(t, first.OID, got.OID)
	assert.Equal(t, []string{"happy", "sad"}, got.Labels)

	// A type registered after reload must not collide with loaded OIDs.
	second, err := reloaded.RegisterEnum("status", []string{"on", "off"})
	require.NoError(t, err)
	assert.Greater(t, second.OID, first.OID)
}

func TestDropEnum(t *testing.T) {
	db, cat := openTestCatalog(t)
	_, err := cat.RegisterEnum("mood", []string{"happy"})
	require.NoError(t, err)
	require.NoError(t, cat.DropEnum("mood"))

	_, ok := cat.Enum("mood")
	assert.False(t, ok)

	var n int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM pgsqlite_enum_labels`).Scan(&n))
	assert.Equal(t, 0, n)

	require.Error(t, cat.DropEnum("mood"))
}

func TestPgEnumView(t *testing.T) {
	db, cat := openTestCatalog(t)
	et, err := cat.RegisterEnum("mood", []string{"happy", "sad"})
	require.NoError(t, err)

	rows, err := db.Query(`SELECT enumtypid, enumsortorder, enumlabel FROM pg_enum ORDER BY enumsortorder`)
	require.NoError(t, err)
	defer rows.Close()

	var labels []string
	for rows.Next() {
		var typid uint32
		var order int
		var label string
		require.NoError(t, rows.Scan(&typid, &order, &label))
		assert.Equal(t, et.OID, typid)
		labels = append(labels, label)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"happy", "sad"}, labels)
}

func TestPgClassViewListsUserTables(t *testing.T) {
	db, _ := openTestCatalog(t)
	_, err := db.Exec(`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)

	rows, err := db.Query(`SELECT relname, relkind FROM pg_class ORDER BY relname`)
	require.NoError(t, err)
	defer rows.Close()

	var names []string
	for rows.Next() {
		var relname, relkind string
		require.NoError(t, rows.Scan(&relname, &relkind))
		assert.Equal(t, "r", relkind)
		names = append(names, relname)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"users"}, names, "metadata and pg_ views stay hidden")
}

func TestDeclaredColumnTypes(t *testing.T) {
	_, cat := openTestCatalog(t)

	require.NoError(t, cat.RecordColumnType("users", "token", "UUID"))
	declared, ok := cat.DeclaredColumnType("users", "token")
	require.True(t, ok)
	assert.Equal(t, "UUID", declared)

	// Upsert wins.
	require.NoError(t, cat.RecordColumnType("users", "token", "VARCHAR(36)"))
	declared, _ = cat.DeclaredColumnType("users", "token")
	assert.Equal(t, "VARCHAR(36)", declared)

	_, ok = cat.DeclaredColumnType("users", "ghost")
	assert.False(t, ok)
}

func TestTableColumnsUsesDeclaredTypes(t *testing.T) {
	db, cat := openTestCatalog(t)
	_, err := db.Exec(`CREATE TABLE docs (id INTEGER PRIMARY KEY, body TEXT NOT NULL)`)
	require.NoError(t, err)
	require.NoError(t, cat.RecordColumnType("docs", "body", "JSONB"))

	cols, err := cat.TableColumns("docs")
	require.NoError(t, err)
	require.Len(t, cols, 2)

	assert.Equal(t, "id", cols[0].Name)
	assert.Equal(t, values.AffinityInteger, cols[0].Affinity)

	assert.Equal(t, "body", cols[1].Name)
	assert.Equal(t, "JSONB", cols[1].Declared)
	assert.Equal(t, uint32(pgtype.JSONBOID), cols[1].OID)
	assert.True(t, cols[1].NotNull)
}

func TestInvalidateTable(t *testing.T) {
	db, cat := openTestCatalog(t)
	_, err := db.Exec(`CREATE TABLE t (id INTEGER)`)
	require.NoError(t, err)

	_, err = cat.TableColumns("t")
	require.NoError(t, err)

	_, err = db.Exec(`ALTER TABLE t ADD COLUMN v TEXT`)
	require.NoError(t, err)

	before := cat.Version()
	cat.InvalidateTable("t")
	assert.Greater(t, cat.Version(), before)

	cols, err := cat.TableColumns("t")
	require.NoError(t, err)
	assert.Len(t, cols, 2)
}

func TestNumericFits(t *testing.T) {
	tests := []struct {
		value string
		p, s  int
		want  bool
	}{
		{"123.45", 5, 2, true},
		{"999.99", 5, 2, true},
		{"1000.00", 5, 2, false},
		{"-999.99", 5, 2, true},
		{"1.234", 5, 2, false},
		{"42", 5, 0, true},
		{"123456", 5, 0, false},
		{"0", 5, 2, true},
		{"0.00", 5, 2, true},
		{"not a number", 5, 2, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NumericFits(tt.value, tt.p, tt.s), "value %q NUMERIC(%d,%d)", tt.value, tt.p, tt.s)
	}
}
