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

// Package txn implements the Transaction Controller: the per-session
// None/Active/Failed state machine, implicit-transaction wrapping, and
// SAVEPOINT bookkeeping layered over a *sql.Tx against the embedded
// engine. Grounded on the teacher's backend/session.go StartTransaction/
// CommitTransaction/Rollback, which wraps an underlying *stdsql.Tx only
// when the session isn't in autocommit mode.
package txn

import (
	"context"
	stdsql "database/sql"
	"fmt"

	pgerrors "github.com/pgsqlite/pgsqlite/internal/errors"
)

// State is one of the three transaction states spec.md's Transaction
// Controller names.
type State int

const (
	StateNone State = iota
	StateActive
	StateFailed
)

// Indicator is the ReadyForQuery transaction-status byte, matching
// connection_data.go's ReadyForQueryTransactionIndicator.
type Indicator byte

const (
	IndicatorIdle    Indicator = 'I'
	IndicatorInBlock Indicator = 'T'
	IndicatorFailed  Indicator = 'E'
)

// Controller tracks one session's transaction lifecycle against the
// embedded engine handle.
type Controller struct {
	db         *stdsql.DB
	tx         *stdsql.Tx
	state      State
	savepoints []string
	implicit   bool
}

// New builds a Controller bound to db, starting in StateNone (no
// transaction open, matching the Idle indicator).
func New(db *stdsql.DB) *Controller {
	return &Controller{db: db, state: StateNone}
}

// State returns the controller's current transaction state.
func (c *Controller) State() State { return c.state }

// Indicator returns the ReadyForQuery byte for the controller's current
// state.
func (c *Controller) Indicator() Indicator {
	switch c.state {
	case StateActive:
		return IndicatorInBlock
	case StateFailed:
		return IndicatorFailed
	default:
		return IndicatorIdle
	}
}

// Begin opens an explicit transaction. Returns an error if one is already
// open, matching Postgres's "WARNING: there is already a transaction in
// progress" (downgraded here to an error per spec.md's error taxonomy,
// since pgsqlite has no warning-only path yet).
func (c *Controller) Begin(ctx context.Context) error {
	if c.state != StateNone {
		return pgerrors.New(pgerrors.KindTransaction, "there is already a transaction in progress")
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return pgerrors.Wrap(pgerrors.KindInternal, err, "begin transaction")
	}
	c.tx = tx
	c.state = StateActive
	c.implicit = false
	return nil
}

// BeginImplicit opens a transaction wrapping a single statement executed
// outside an explicit BEGIN/COMMIT block, mirroring the teacher's
// autocommit-mode detection: statements still run inside a *sql.Tx so
// that multi-row effects remain atomic, but the controller commits it
// immediately after the statement completes.
func (c *Controller) BeginImplicit(ctx context.Context) error {
	if c.state != StateNone {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return pgerrors.Wrap(pgerrors.KindInternal, err, "begin implicit transaction")
	}
	c.tx = tx
	c.state = StateActive
	c.implicit = true
	return nil
}

// EndImplicitIfNeeded commits an implicit transaction immediately after
// its single statement runs. No-op for explicit transactions.
func (c *Controller) EndImplicitIfNeeded() error {
	if c.state == StateActive && c.implicit {
		return c.Commit()
	}
	return nil
}

// Tx returns the active *sql.Tx, opening an implicit one first if no
// transaction is open.
func (c *Controller) Tx(ctx context.Context) (*stdsql.Tx, error) {
	if c.state == StateNone {
		if err := c.BeginImplicit(ctx); err != nil {
			return nil, err
		}
	}
	if c.state == StateFailed {
		return nil, pgerrors.New(pgerrors.KindTransaction, "current transaction is aborted, commands ignored until end of transaction block")
	}
	return c.tx, nil
}

// Implicit reports whether the currently active transaction (if any) was
// opened implicitly by BeginImplicit rather than an explicit BEGIN, used by
// callers to decide whether a statement failure should roll back silently
// (implicit) or mark the block failed until an explicit ROLLBACK (explicit).
func (c *Controller) Implicit() bool {
	return c.state == StateActive && c.implicit
}

// Commit commits the open transaction and returns the controller to
// StateNone.
func (c *Controller) Commit() error {
	if c.state == StateNone {
		return nil
	}
	tx := c.tx
	c.tx, c.state, c.savepoints = nil, StateNone, nil
	if tx == nil {
		return nil
	}
	if err := tx.Commit(); err != nil {
		return pgerrors.Wrap(pgerrors.KindInternal, err, "commit transaction")
	}
	return nil
}

// Rollback rolls back the open transaction and returns the controller to
// StateNone.
func (c *Controller) Rollback() error {
	if c.state == StateNone {
		return nil
	}
	tx := c.tx
	c.tx, c.state, c.savepoints = nil, StateNone, nil
	if tx == nil {
		return nil
	}
	if err := tx.Rollback(); err != nil {
		return pgerrors.Wrap(pgerrors.KindInternal, err, "rollback transaction")
	}
	return nil
}

// MarkFailed transitions an active transaction to StateFailed after a
// statement error, matching Postgres's "current transaction is aborted"
// behavior: all statements are rejected until ROLLBACK.
func (c *Controller) MarkFailed() {
	if c.state == StateActive {
		c.state = StateFailed
	}
}

// Savepoint establishes a named savepoint inside the active transaction.
func (c *Controller) Savepoint(ctx context.Context, name string) error {
	tx, err := c.requireOpenTx()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SAVEPOINT %q", name)); err != nil {
		return pgerrors.Wrap(pgerrors.KindInternal, err, "savepoint")
	}
	c.savepoints = append(c.savepoints, name)
	return nil
}

// RollbackToSavepoint rolls back to a previously established savepoint,
// clearing StateFailed back to StateActive, matching Postgres's use of
// ROLLBACK TO SAVEPOINT to recover an aborted transaction block.
func (c *Controller) RollbackToSavepoint(ctx context.Context, name string) error {
	if c.tx == nil {
		return pgerrors.New(pgerrors.KindTransaction, "no transaction in progress")
	}
	if _, err := c.tx.ExecContext(ctx, fmt.Sprintf("ROLLBACK TO SAVEPOINT %q", name)); err != nil {
		return pgerrors.Wrap(pgerrors.KindInternal, err, "rollback to savepoint")
	}
	c.state = StateActive
	return nil
}

// ReleaseSavepoint releases a savepoint without rolling back.
func (c *Controller) ReleaseSavepoint(ctx context.Context, name string) error {
	tx, err := c.requireOpenTx()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("RELEASE SAVEPOINT %q", name)); err != nil {
		return pgerrors.Wrap(pgerrors.KindInternal, err, "release savepoint")
	}
	return nil
}

func (c *Controller) requireOpenTx() (*stdsql.Tx, error) {
	if c.tx == nil {
		return nil, pgerrors.New(pgerrors.KindTransaction, "no transaction in progress")
	}
	return c.tx, nil
}
