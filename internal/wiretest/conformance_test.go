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

package wiretest

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartupHandshake(t *testing.T) {
	db := Start(t)
	require.NoError(t, db.Ping())
}

func TestSimpleCreateInsertSelect(t *testing.T) {
	db := Start(t)

	_, err := db.Exec("CREATE TABLE t (id INT, v TEXT)")
	require.NoError(t, err)

	res, err := db.Exec("INSERT INTO t VALUES (1, 'a')")
	require.NoError(t, err)
	n, err := res.RowsAffected()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var id int
	var v string
	require.NoError(t, db.QueryRow("SELECT id, v FROM t").Scan(&id, &v))
	assert.Equal(t, 1, id)
	assert.Equal(t, "a", v)
}

func TestMultiStatementSimpleQuery(t *testing.T) {
	db := Start(t)

	// lib/pq sends parameterless Exec text as one simple-query message;
	// each statement yields its own CommandComplete.
	_, err := db.Exec("CREATE TABLE m (id INT); INSERT INTO m VALUES (1); INSERT INTO m VALUES (2)")
	require.NoError(t, err)

	var n int
	require.NoError(t, db.QueryRow("SELECT count(*) FROM m").Scan(&n))
	assert.Equal(t, 2, n)
}

func TestExtendedQueryWithParams(t *testing.T) {
	db := Start(t)

	var n int
	require.NoError(t, db.QueryRow("SELECT $1::int8 + 1", 41).Scan(&n))
	assert.Equal(t, 42, n)

	var s string
	require.NoError(t, db.QueryRow("SELECT $1::text", "hello").Scan(&s))
	assert.Equal(t, "hello", s)
}

func TestPreparedStatementReuse(t *testing.T) {
	db := Start(t)

	_, err := db.Exec("CREATE TABLE p (id INT, v TEXT)")
	require.NoError(t, err)

	stmt, err := db.Prepare("INSERT INTO p VALUES ($1, $2)")
	require.NoError(t, err)
	defer stmt.Close()

	for i := 0; i < 3; i++ {
		_, err = stmt.Exec(i, "x")
		require.NoError(t, err)
	}

	var n int
	require.NoError(t, db.QueryRow("SELECT count(*) FROM p").Scan(&n))
	assert.Equal(t, 3, n)
}

func TestInsertReturning(t *testing.T) {
	db := Start(t)

	_, err := db.Exec("CREATE TABLE r (id SERIAL PRIMARY KEY, v TEXT)")
	require.NoError(t, err)

	var id int
	require.NoError(t, db.QueryRow("INSERT INTO r (v) VALUES ($1) RETURNING id", "a").Scan(&id))
	assert.Equal(t, 1, id)

	require.NoError(t, db.QueryRow("INSERT INTO r (v) VALUES ($1) RETURNING id", "b").Scan(&id))
	assert.Equal(t, 2, id)
}

func TestExplicitTransaction(t *testing.T) {
	db := Start(t)

	_, err := db.Exec("CREATE TABLE tx (id INT)")
	require.NoError(t, err)

	tx, err := db.Begin()
	require.NoError(t, err)
	_, err = tx.Exec("INSERT INTO tx VALUES (1)")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	tx, err = db.Begin()
	require.NoError(t, err)
	_, err = tx.Exec("INSERT INTO tx VALUES (2)")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	var n int
	require.NoError(t, db.QueryRow("SELECT count(*) FROM tx").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestFailedTransactionBlocksStatements(t *testing.T) {
	db := Start(t)

	_, err := db.Exec("CREATE TABLE ft (id INT PRIMARY KEY)")
	require.NoError(t, err)

	tx, err := db.Begin()
	require.NoError(t, err)

	_, err = tx.Exec("INSERT INTO ft VALUES (1)")
	require.NoError(t, err)

	// Duplicate key fails the block.
	_, err = tx.Exec("INSERT INTO ft VALUES (1)")
	require.Error(t, err)

	// Every further statement is rejected with the in-failed-transaction
	// SQLSTATE until rollback.
	_, err = tx.Exec("INSERT INTO ft VALUES (2)")
	require.Error(t, err)
	var pqErr *pq.Error
	require.ErrorAs(t, err, &pqErr)
	assert.Equal(t, pq.ErrorCode("25P02"), pqErr.Code)

	require.NoError(t, tx.Rollback())

	var n int
	require.NoError(t, db.QueryRow("SELECT count(*) FROM ft").Scan(&n))
	assert.Equal(t, 0, n)
}

func TestSavepointRecoversFailedBlock(t *testing.T) {
	db := Start(t)

	_, err := db.Exec("CREATE TABLE sp (id INT PRIMARY KEY)")
	require.NoError(t, err)

	tx, err := db.Begin()
	require.NoError(t, err)

	_, err = tx.Exec("INSERT INTO sp VALUES (1)")
	require.NoError(t, err)
	_, err = tx.Exec("SAVEPOINT before_dup")
	require.NoError(t, err)

	_, err = tx.Exec("INSERT INTO sp VALUES (1)")
	require.Error(t, err)

	_, err = tx.Exec("ROLLBACK TO SAVEPOINT before_dup")
	require.NoError(t, err)

	_, err = tx.Exec("INSERT INTO sp VALUES (2)")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	var n int
	require.NoError(t, db.QueryRow("SELECT count(*) FROM sp").Scan(&n))
	assert.Equal(t, 2, n)
}

func TestSyntaxErrorSQLState(t *testing.T) {
	db := Start(t)

	_, err := db.Exec("SELEC 1")
	require.Error(t, err)
	var pqErr *pq.Error
	require.ErrorAs(t, err, &pqErr)
	assert.Equal(t, pq.ErrorCode("42601"), pqErr.Code)
}

func TestDriverProbeFastPaths(t *testing.T) {
	db := Start(t)

	var version string
	require.NoError(t, db.QueryRow("SELECT version()").Scan(&version))
	assert.Contains(t, version, "pgsqlite")

	var iso string
	require.NoError(t, db.QueryRow("SHOW transaction_isolation").Scan(&iso))
	assert.Equal(t, "read committed", iso)
}

func TestGenRandomUUIDFunction(t *testing.T) {
	db := Start(t)

	var s string
	require.NoError(t, db.QueryRow("SELECT gen_random_uuid()").Scan(&s))
	_, err := uuid.Parse(s)
	require.NoError(t, err)
}

func TestEnumRegistrationAndValidation(t *testing.T) {
	db := Start(t)

	_, err := db.Exec("CREATE TYPE mood AS ENUM ('happy', 'sad')")
	require.NoError(t, err)

	_, err = db.Exec("CREATE TABLE people (name TEXT, feeling mood)")
	require.NoError(t, err)

	_, err = db.Exec("INSERT INTO people VALUES ('ada', 'happy')")
	require.NoError(t, err)

	_, err = db.Exec("INSERT INTO people VALUES ('bob', 'invalid')")
	require.Error(t, err, "values outside the enum's label set are rejected")
	var pqErr *pq.Error
	require.ErrorAs(t, err, &pqErr)
	assert.Equal(t, pq.ErrorCode("22000"), pqErr.Code, "enum membership failure is a data error, not an integrity violation")

	var feeling string
	require.NoError(t, db.QueryRow("SELECT feeling FROM people WHERE name = 'ada'").Scan(&feeling))
	assert.Equal(t, "happy", feeling)
}

func TestVarcharLengthEnforced(t *testing.T) {
	db := Start(t)

	_, err := db.Exec("CREATE TABLE vc (v VARCHAR(3))")
	require.NoError(t, err)

	_, err = db.Exec("INSERT INTO vc VALUES ('ok')")
	require.NoError(t, err)

	_, err = db.Exec("INSERT INTO vc VALUES ('too long')")
	require.Error(t, err)
	var pqErr *pq.Error
	require.ErrorAs(t, err, &pqErr)
	assert.Equal(t, pq.ErrorCode("22000"), pqErr.Code, "length overflow is a data error")
}

func TestNumericPrecisionEnforced(t *testing.T) {
	db := Start(t)

	_, err := db.Exec("CREATE TABLE np (amount NUMERIC(5,2))")
	require.NoError(t, err)

	_, err = db.Exec("INSERT INTO np VALUES ('999.99')")
	require.NoError(t, err)

	_, err = db.Exec("INSERT INTO np VALUES ('1000.00')")
	require.Error(t, err)
	var pqErr *pq.Error
	require.ErrorAs(t, err, &pqErr)
	assert.Equal(t, pq.ErrorCode("22000"), pqErr.Code, "precision overflow is a data error")
}

func TestCopyFromStdin(t *testing.T) {
	db := Start(t)

	_, err := db.Exec("CREATE TABLE cp (id INT, v TEXT)")
	require.NoError(t, err)

	tx, err := db.Begin()
	require.NoError(t, err)

	stmt, err := tx.Prepare(pq.CopyIn("cp", "id", "v"))
	require.NoError(t, err)

	for i := 1; i <= 100; i++ {
		_, err = stmt.Exec(i, "row")
		require.NoError(t, err)
	}
	_, err = stmt.Exec()
	require.NoError(t, err)
	require.NoError(t, stmt.Close())
	require.NoError(t, tx.Commit())

	var n int
	require.NoError(t, db.QueryRow("SELECT count(*) FROM cp").Scan(&n))
	assert.Equal(t, 100, n)
}

func TestDeallocateAndDiscard(t *testing.T) {
	db := Start(t)

	_, err := db.Exec("DISCARD ALL")
	require.NoError(t, err)

	_, err = db.Exec("DEALLOCATE ALL")
	require.NoError(t, err)
}

func TestSetAndShowSession(t *testing.T) {
	db := Start(t)

	_, err := db.Exec("SET application_name = 'conformance'")
	require.NoError(t, err)

	_, err = db.Exec("RESET application_name")
	require.NoError(t, err)
}

func TestConcurrentSessions(t *testing.T) {
	db := Start(t)

	_, err := db.Exec("CREATE TABLE cc (id INTEGER PRIMARY KEY AUTOINCREMENT, v TEXT)")
	require.NoError(t, err)

	done := make(chan error, 4)
	for w := 0; w < 4; w++ {
		go func() {
			for i := 0; i < 10; i++ {
				if _, err := db.Exec("INSERT INTO cc (v) VALUES ('x')"); err != nil {
					done <- err
					return
				}
			}
			done <- nil
		}()
	}
	for w := 0; w < 4; w++ {
		require.NoError(t, <-done)
	}

	var n int
	require.NoError(t, db.QueryRow("SELECT count(*) FROM cc").Scan(&n))
	assert.Equal(t, 40, n)
}

func TestSchemaVisibleAcrossSessions(t *testing.T) {
	db := Start(t)

	// Each pool connection is its own wire session; DDL from one must be
	// visible to statements parsed on another.
	_, err := db.Exec("CREATE TABLE vis (id INT)")
	require.NoError(t, err)

	ctx := context.Background()
	conn2, err := db.Conn(ctx)
	require.NoError(t, err)
	defer conn2.Close()

	_, err = conn2.ExecContext(ctx, "INSERT INTO vis VALUES (1)")
	require.NoError(t, err)
}
