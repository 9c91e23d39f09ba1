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

package wire

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/pgsqlite/pgsqlite/internal/catalog"
	pgerrors "github.com/pgsqlite/pgsqlite/internal/errors"
	"github.com/pgsqlite/pgsqlite/internal/session"
	"github.com/pgsqlite/pgsqlite/internal/txn"
	"github.com/pgsqlite/pgsqlite/internal/values"
)

// handleParse implements the Parse message (§4.2 extended query protocol,
// step 1): translate and classify the statement, infer parameter/result
// shapes, and store it in the session's statement slab under message.Name.
// Grounded on connection_handler.go's handleParse, adapted since the
// embedded engine has no native prepare-without-execute path: result shape
// is learned by running the translated query once with NULL placeholder
// parameters and discarding the rows.
func (h *Handler) handleParse(m *pgproto3.Parse) error {
	query, err := h.recoder.ToUTF8(m.Query)
	if err != nil {
		return err
	}
	tr, err := h.tr.Translate(query)
	if err != nil {
		return err
	}

	execSQL := tr.SQL
	if len(tr.ReturningCols) > 0 {
		execSQL += " RETURNING " + strings.Join(tr.ReturningCols, ", ")
	}

	paramCount := countParams(execSQL)
	paramOIDs := inferParamOIDs(execSQL, m.ParameterOIDs, paramCount)

	var fields []pgproto3.FieldDescription
	if returnsRow(tr.StatementTag) {
		fields, _ = h.describeFieldsNoExec(execSQL, paramOIDs)
	} else if len(tr.ReturningCols) > 0 {
		// A RETURNING statement cannot be probe-executed to learn its
		// shape: the probe would mutate. The catalog already knows the
		// target table's columns.
		fields = h.returningFields(query, tr.ReturningCols)
	}

	ps := &session.PreparedStatement{
		Name:          m.Name,
		SQL:           tr.SQL,
		Original:      m.Query,
		Tag:           tr.StatementTag,
		ReturningCols: tr.ReturningCols,
		ParamOIDs:     paramOIDs,
		ResultFields:  fields,
		SchemaVersion: h.cat.Version(),
	}
	h.sess.AddStatement(m.Name, ps)
	return h.send(&pgproto3.ParseComplete{})
}

var (
	dollarParamRe = regexp.MustCompile(`\$(\d+)`)
	dmlTargetRe   = regexp.MustCompile(`(?is)^\s*(?:INSERT\s+INTO|UPDATE|DELETE\s+FROM)\s+"?([A-Za-z_][A-Za-z0-9_]*)"?`)
)

// returningFields builds the RowDescription for a DML statement's
// RETURNING list from the catalog's view of the target table. Unknown
// columns (expressions, or a table the catalog has not seen) fall back
// to text.
func (h *Handler) returningFields(sql string, cols []string) []pgproto3.FieldDescription {
	var tableCols []catalog.ColumnInfo
	if m := dmlTargetRe.FindStringSubmatch(sql); m != nil {
		tableCols, _ = h.cat.TableColumns(unquoteIdent(m[1]))
	}

	if len(cols) == 1 && strings.TrimSpace(cols[0]) == "*" {
		cols = make([]string, len(tableCols))
		for i, tc := range tableCols {
			cols[i] = tc.Name
		}
	}

	byName := make(map[string]catalog.ColumnInfo, len(tableCols))
	for _, tc := range tableCols {
		byName[strings.ToLower(tc.Name)] = tc
	}

	fields := make([]pgproto3.FieldDescription, len(cols))
	for i, col := range cols {
		name := unquoteIdent(strings.TrimSpace(col))
		oid := uint32(pgtype.TextOID)
		if ci, ok := byName[strings.ToLower(name)]; ok {
			oid = ci.OID
		}
		fields[i] = pgproto3.FieldDescription{
			Name:                 []byte(name),
			TableAttributeNumber: uint16(i + 1),
			DataTypeOID:          oid,
			DataTypeSize:         fixedSizeForOID(oid),
			TypeModifier:         -1,
			Format:               pgtype.TextFormatCode,
		}
	}
	return fields
}

// countParams finds the highest $N placeholder referenced in sql.
func countParams(sql string) int {
	max := 0
	for _, m := range dollarParamRe.FindAllStringSubmatch(sql, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil && n > max {
			max = n
		}
	}
	return max
}

var castParamRe = regexp.MustCompile(`(?i)CAST\s*\(\s*\$(\d+)\s+AS\s+([A-Za-z_][A-Za-z0-9_ ]*?)\s*\)`)

// inferParamOIDs resolves each $N parameter's OID: explicit client-supplied
// types win, then a `$N::type` cast recognized in the rewritten SQL
// (rendered as CAST($N AS type) by rewriteOperators), then TextOID.
func inferParamOIDs(sql string, explicit []uint32, n int) []uint32 {
	oids := make([]uint32, n)
	for i := range oids {
		oids[i] = pgtype.TextOID
	}
	for i, o := range explicit {
		if i < n && o != 0 {
			oids[i] = o
		}
	}
	for _, m := range castParamRe.FindAllStringSubmatch(sql, -1) {
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx < 1 || idx > n {
			continue
		}
		if idx-1 < len(explicit) && explicit[idx-1] != 0 {
			continue
		}
		typeName := strings.ToLower(strings.TrimSpace(m[2]))
		oids[idx-1] = values.OIDForDeclaredType(typeName, values.AffinityForDeclaredType(typeName))
	}
	return oids
}

// describeFieldsNoExec learns a statement's result shape by running it
// with every parameter bound to NULL and reading back column metadata,
// without ever scanning a row. It runs on the session's transaction so
// the describe cannot contend with the session's own open transaction
// for an engine connection.
func (h *Handler) describeFieldsNoExec(sql string, paramOIDs []uint32) ([]pgproto3.FieldDescription, error) {
	tx, err := h.txnc.Tx(h.ctx)
	if err != nil {
		return nil, err
	}
	args := make([]any, len(paramOIDs))
	rows, err := tx.QueryContext(h.ctx, sql, args...)
	if err != nil {
		if h.txnc.Implicit() {
			_ = h.txnc.Rollback()
		}
		return nil, err
	}
	fields := h.fieldDescriptions(rows, sql, nil)
	rows.Close()
	if err := h.txnc.EndImplicitIfNeeded(); err != nil {
		return nil, err
	}
	return fields, nil
}

// handleBind implements the Bind message: decodes the client-supplied
// parameter bytes against the statement's inferred OIDs and stores the
// bound portal, ready for Execute.
func (h *Handler) handleBind(m *pgproto3.Bind) error {
	ps, _, ok := h.sess.Statement(m.PreparedStatement)
	if !ok {
		return pgerrors.New(pgerrors.KindProtocol, "prepared statement %q does not exist", m.PreparedStatement)
	}

	args := make([]any, len(m.Parameters))
	for i, raw := range m.Parameters {
		var oid uint32
		if i < len(ps.ParamOIDs) {
			oid = ps.ParamOIDs[i]
		} else {
			oid = pgtype.TextOID
		}
		format := formatCodeFor(m.ParameterFormatCodes, i)
		v, err := h.codec.DecodeParam(oid, format, raw)
		if err != nil {
			return err
		}
		args[i] = v
	}

	h.sess.AddPortal(m.DestinationPortal, &session.Portal{
		Name:              m.DestinationPortal,
		Statement:         mustStatementHandle(h.sess, m.PreparedStatement),
		Args:              args,
		ResultFormatCodes: m.ResultFormatCodes,
	})
	return h.send(&pgproto3.BindComplete{})
}

func mustStatementHandle(s *session.Session, name string) session.Handle {
	_, h, _ := s.Statement(name)
	return h
}

func formatCodeFor(codes []int16, i int) int16 {
	switch {
	case len(codes) == 0:
		return pgtype.TextFormatCode
	case len(codes) == 1:
		return codes[0]
	case i < len(codes):
		return codes[i]
	default:
		return pgtype.TextFormatCode
	}
}

// handleDescribe implements the Describe message for both the statement
// ('S') and portal ('P') variants.
func (h *Handler) handleDescribe(m *pgproto3.Describe) error {
	switch m.ObjectType {
	case 'S':
		ps, _, ok := h.sess.Statement(m.Name)
		if !ok {
			return pgerrors.New(pgerrors.KindProtocol, "prepared statement %q does not exist", m.Name)
		}
		if err := h.send(&pgproto3.ParameterDescription{ParameterOIDs: ps.ParamOIDs}); err != nil {
			return err
		}
		return h.sendRowShape(ps.Tag, len(ps.ReturningCols) > 0, ps.ResultFields)
	case 'P':
		p, _, ok := h.sess.Portal(m.Name)
		if !ok {
			return pgerrors.New(pgerrors.KindProtocol, "portal %q does not exist", m.Name)
		}
		ps := h.sess.StatementByHandle(p.Statement)
		if ps == nil {
			return h.send(&pgproto3.NoData{})
		}
		return h.sendRowShape(ps.Tag, len(ps.ReturningCols) > 0, ps.ResultFields)
	default:
		return pgerrors.New(pgerrors.KindProtocol, "unknown Describe object type %q", m.ObjectType)
	}
}

func (h *Handler) sendRowShape(tag string, hasReturning bool, fields []pgproto3.FieldDescription) error {
	if returnsRow(tag) || hasReturning {
		return h.send(&pgproto3.RowDescription{Fields: fields})
	}
	return h.send(&pgproto3.NoData{})
}

// handleExecute implements the Execute message: runs (or resumes) the
// portal's query, honoring message.MaxRows as a suspension limit.
func (h *Handler) handleExecute(m *pgproto3.Execute) error {
	p, _, ok := h.sess.Portal(m.Portal)
	if !ok {
		return pgerrors.New(pgerrors.KindProtocol, "portal %q does not exist", m.Portal)
	}
	ps := h.sess.StatementByHandle(p.Statement)
	if ps == nil {
		return pgerrors.New(pgerrors.KindProtocol, "portal %q has no backing statement", m.Portal)
	}

	if strings.TrimSpace(ps.SQL) == "" {
		return h.send(&pgproto3.EmptyQueryResponse{})
	}

	execSQL := ps.SQL
	if len(ps.ReturningCols) > 0 {
		execSQL += " RETURNING " + strings.Join(ps.ReturningCols, ", ")
	}

	if h.txnc.State() == txn.StateFailed {
		return abortedErr
	}

	hasRows := returnsRow(ps.Tag) || len(ps.ReturningCols) > 0

	if p.Stmt == nil {
		tx, err := h.txnc.Tx(h.ctx)
		if err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(h.ctx, execSQL)
		if err != nil {
			h.finishFailedExecute()
			return pgerrors.Wrap(classifyEngineError(err), err, "prepare statement")
		}
		p.Stmt = stmt

		if hasRows {
			rows, err := stmt.QueryContext(h.ctx, p.Args...)
			if err != nil {
				h.finishFailedExecute()
				return pgerrors.Wrap(classifyEngineError(err), err, "execute portal")
			}
			p.Rows = rows
			if len(ps.ResultFields) == 0 {
				ps.ResultFields = h.fieldDescriptions(rows, execSQL, p.ResultFormatCodes)
			}
		} else {
			if _, err := stmt.ExecContext(h.ctx, p.Args...); err != nil {
				h.finishFailedExecute()
				return pgerrors.Wrap(classifyEngineError(err), err, "execute portal")
			}
			var n int64
			_ = tx.QueryRowContext(h.ctx, "SELECT changes()").Scan(&n)
			p.RowsReturned = int(n)
		}
	}

	if !hasRows {
		h.runDDLSideEffects(ps.Original)
		if err := h.txnc.EndImplicitIfNeeded(); err != nil {
			return err
		}
		return h.send(makeCommandComplete(ps.Tag, int64(p.RowsReturned)))
	}

	if p.Rows == nil {
		// The portal already ran to completion; a re-Execute reports the
		// empty remainder.
		return h.send(makeCommandComplete(ps.Tag, int64(p.RowsReturned)))
	}

	cols, _ := p.Rows.Columns()

	// The portal's Bind-time result formats override the statement's
	// Describe-time (text) defaults.
	fields := make([]pgproto3.FieldDescription, len(ps.ResultFields))
	copy(fields, ps.ResultFields)
	for i := range fields {
		fields[i].Format = resultFormatFor(p.ResultFormatCodes, i)
	}

	limit := int(m.MaxRows)
	sent := 0
	for limit == 0 || sent < limit {
		if p.PendingRow {
			p.PendingRow = false
		} else if !p.Rows.Next() {
			break
		}
		vals, err := h.scanRow(p.Rows, len(cols), fields)
		if err != nil {
			return err
		}
		if err := h.send(&pgproto3.DataRow{Values: vals}); err != nil {
			return err
		}
		sent++
		p.RowsReturned++
	}

	if limit != 0 && sent == limit && p.Rows.Next() {
		p.PendingRow = true
		p.Suspended = true
		return h.send(&pgproto3.PortalSuspended{})
	}

	if err := p.Rows.Err(); err != nil {
		return pgerrors.Wrap(pgerrors.KindData, err, "read result rows")
	}
	p.Rows.Close()
	p.Rows = nil
	h.runDDLSideEffects(ps.Original)
	if err := h.txnc.EndImplicitIfNeeded(); err != nil {
		return err
	}
	return h.send(makeCommandComplete(ps.Tag, int64(p.RowsReturned)))
}

// finishFailedExecute unwinds a statement failure: an implicit
// transaction rolls back silently, an explicit block is marked Failed
// until the client issues ROLLBACK.
func (h *Handler) finishFailedExecute() {
	if h.txnc.Implicit() {
		_ = h.txnc.Rollback()
	} else {
		h.txnc.MarkFailed()
	}
}

// handleClose implements the Close message for both statement and portal
// variants.
func (h *Handler) handleClose(m *pgproto3.Close) error {
	switch m.ObjectType {
	case 'S':
		h.sess.CloseStatement(m.Name)
	case 'P':
		h.sess.ClosePortal(m.Name)
	default:
		return pgerrors.New(pgerrors.KindProtocol, "unknown Close object type %q", m.ObjectType)
	}
	return h.send(&pgproto3.CloseComplete{})
}
