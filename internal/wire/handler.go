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
	"context"
	stdsql "database/sql"
	"fmt"
	"io"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/sirupsen/logrus"

	"github.com/pgsqlite/pgsqlite/internal/catalog"
	pgerrors "github.com/pgsqlite/pgsqlite/internal/errors"
	"github.com/pgsqlite/pgsqlite/internal/metrics"
	"github.com/pgsqlite/pgsqlite/internal/session"
	"github.com/pgsqlite/pgsqlite/internal/translator"
	"github.com/pgsqlite/pgsqlite/internal/txn"
	"github.com/pgsqlite/pgsqlite/internal/values"
)

// Handler drives the Postgres wire protocol state machine for one client
// connection: startup negotiation, the simple-query pipeline, and the
// extended-query Parse/Bind/Describe/Execute/Close/Sync pipeline. Grounded
// on the teacher's pgserver.ConnectionHandler, generalized from its
// MySQL-wire-protocol-via-Vitess dependency to run directly against
// database/sql and the embedded engine.
type Handler struct {
	conn    net.Conn
	backend *pgproto3.Backend
	db      *stdsql.DB
	cat     *catalog.Catalog
	tr      *translator.Translator
	codec   *values.Codec
	sess    *session.Session
	txnc    *txn.Controller
	metrics *metrics.Metrics
	tls     TLSConfig
	log     *logrus.Entry
	reg     *CancelRegistry
	recoder *values.TextRecoder

	backendPID uint32
	secretKey  uint32

	awaitingSync bool
	copy         *copyState

	ctx    context.Context
	cancel context.CancelFunc
}

// copyState tracks an in-progress COPY FROM STDIN started by the simple
// query pipeline, per spec.md's COPY FROM STDIN streaming requirement.
type copyState struct {
	table   string
	columns []string
	csv     bool
	delim   byte
	buf     []byte
	rows    [][]string
	err     error
}

// NewHandler builds a Handler for one accepted connection. The signature
// matches Server.serve's call site.
func NewHandler(conn net.Conn, db *stdsql.DB, cat *catalog.Catalog, m *metrics.Metrics, tlsCfg TLSConfig, log *logrus.Entry) *Handler {
	ctx, cancel := context.WithCancel(context.Background())
	tc := txn.New(db)
	return &Handler{
		conn:       conn,
		backend:    pgproto3.NewBackend(conn, conn),
		db:         db,
		cat:        cat,
		tr:         translator.New(cat),
		codec:      values.NewCodec(),
		sess:       session.New(cat, tc),
		txnc:       tc,
		metrics:    m,
		tls:        tlsCfg,
		log:        log,
		backendPID: session.NextBackendPID(),
		secretKey:  NewSecretKey(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Bind a registry onto the handler's server so CancelRequest can reach it;
// set by Server before Run.
func (h *Handler) withRegistry(r *CancelRegistry) *Handler {
	h.reg = r
	return h
}

// Run drives the connection's full lifecycle: startup, then the message
// loop, until Terminate, EOF, or an unrecoverable protocol error.
func (h *Handler) Run() {
	defer h.cleanup()

	proceed, err := h.handleStartup()
	if err != nil {
		h.log.WithError(err).Debug("startup failed")
		return
	}
	if !proceed {
		return
	}
	if h.reg != nil {
		h.reg.Register(h.backendPID, h.secretKey, h.cancel)
	}

	for {
		msg, err := h.backend.Receive()
		if err != nil {
			return
		}
		if h.handleMessage(msg) {
			return
		}
	}
}

func (h *Handler) cleanup() {
	h.cancel()
	if h.reg != nil {
		h.reg.Unregister(h.backendPID, h.secretKey)
	}
	h.sess.DiscardAll()
	h.txnc.Rollback()
}

// handleStartup negotiates SSL/GSSAPI, authenticates (trust-only: pgsqlite
// has no password store), and sends the introductory ParameterStatus
// stream, matching connection_handler.go's handleStartup/
// sendClientStartupMessages.
func (h *Handler) handleStartup() (bool, error) {
	msg, err := h.backend.ReceiveStartupMessage()
	if err != nil {
		if err == io.EOF {
			return false, nil
		}
		return false, fmt.Errorf("receive startup message: %w", err)
	}

	switch sm := msg.(type) {
	case *pgproto3.StartupMessage:
		for name, value := range sm.Parameters {
			h.sess.Set(name, value)
		}
		if enc, ok := sm.Parameters["client_encoding"]; ok {
			recoder, err := values.NewTextRecoder(enc)
			if err != nil {
				h.sendErrorResponse(err)
				return false, nil
			}
			h.recoder = recoder
		}
		if err := h.send(&pgproto3.AuthenticationOk{}); err != nil {
			return false, err
		}
		for _, ps := range [][2]string{
			{"server_version", "14.9 (pgsqlite)"},
			{"client_encoding", "UTF8"},
			{"DateStyle", "ISO, MDY"},
			{"TimeZone", "UTC"},
			{"standard_conforming_strings", "on"},
			{"integer_datetimes", "on"},
		} {
			if err := h.send(&pgproto3.ParameterStatus{Name: ps[0], Value: ps[1]}); err != nil {
				return false, err
			}
		}
		if err := h.send(&pgproto3.BackendKeyData{ProcessID: h.backendPID, SecretKey: h.secretKey}); err != nil {
			return false, err
		}
		return true, h.send(&pgproto3.ReadyForQuery{TxStatus: byte(h.txnc.Indicator())})

	case *pgproto3.SSLRequest:
		resp := []byte("N")
		if h.tls.Enabled {
			resp = []byte("S")
		}
		if _, err := h.conn.Write(resp); err != nil {
			return false, err
		}
		if h.tls.Enabled {
			tlsConn := tlsServer(h.conn, h.tls)
			h.conn = tlsConn
			h.backend = pgproto3.NewBackend(tlsConn, tlsConn)
		}
		return h.handleStartup()

	case *pgproto3.GSSEncRequest:
		if _, err := h.conn.Write([]byte("N")); err != nil {
			return false, err
		}
		return h.handleStartup()

	case *pgproto3.CancelRequest:
		if h.reg != nil {
			h.reg.Cancel(sm.ProcessID, sm.SecretKey)
		}
		return false, nil

	default:
		return false, fmt.Errorf("terminating connection: unexpected startup message %#v", msg)
	}
}

func (h *Handler) handleMessage(msg pgproto3.FrontendMessage) (stop bool) {
	switch m := msg.(type) {
	case *pgproto3.Terminate:
		return true
	case *pgproto3.Sync:
		h.handleSync()
	case *pgproto3.Flush:
		_ = h.backend.Flush()
	case *pgproto3.Query:
		h.handleQuery(m)
	case *pgproto3.Parse:
		if !h.awaitingSync {
			h.guard(h.handleParse(m))
		}
	case *pgproto3.Bind:
		if !h.awaitingSync {
			h.guard(h.handleBind(m))
		}
	case *pgproto3.Describe:
		if !h.awaitingSync {
			h.guard(h.handleDescribe(m))
		}
	case *pgproto3.Execute:
		if !h.awaitingSync {
			h.guard(h.handleExecute(m))
		}
	case *pgproto3.Close:
		if !h.awaitingSync {
			h.guard(h.handleClose(m))
		}
	case *pgproto3.CopyData:
		h.handleCopyData(m)
	case *pgproto3.CopyDone:
		h.handleCopyDone()
	case *pgproto3.CopyFail:
		h.handleCopyFail(m)
	default:
		// Protocol errors are fatal: ErrorResponse, then close.
		h.sendErrorResponse(pgerrors.New(pgerrors.KindProtocol, "unsupported message type %T", msg))
		return true
	}
	return false
}

// guard records that the extended-query pipeline failed, which per §4.2/§7
// means every subsequent Parse/Bind/Describe/Execute is silently discarded
// until the next Sync.
func (h *Handler) guard(err error) {
	if err == nil {
		return
	}
	h.sendErrorResponse(err)
	h.awaitingSync = true
	h.failExplicitTx()
}

// failExplicitTx marks an open explicit transaction Failed after any
// error, matching the protocol rule that an error inside a transaction
// block aborts the block.
func (h *Handler) failExplicitTx() {
	if h.txnc.State() == txn.StateActive && !h.txnc.Implicit() {
		h.txnc.MarkFailed()
	}
}

func (h *Handler) handleSync() {
	if h.awaitingSync {
		h.awaitingSync = false
	}
	if err := h.txnc.EndImplicitIfNeeded(); err != nil {
		h.sendErrorResponse(err)
	}
	// The unnamed portal does not outlive the sync point.
	h.sess.ClosePortal("")
	h.sendReady()
}

func (h *Handler) sendReady() {
	_ = h.send(&pgproto3.ReadyForQuery{TxStatus: byte(h.txnc.Indicator())})
}

func (h *Handler) send(msg pgproto3.BackendMessage) error {
	h.backend.Send(msg)
	return h.backend.Flush()
}

func (h *Handler) sendErrorResponse(err error) {
	pe := pgerrors.As(err)
	if h.metrics != nil {
		h.metrics.Errors.WithLabelValues(pe.Kind.String()).Inc()
	}
	_ = h.send(&pgproto3.ErrorResponse{
		Severity: string(pe.Severity()),
		Code:     pe.SQLState(),
		Message:  pe.Message,
		Detail:   pe.Detail,
	})
}

// ---- Simple query pipeline (§4.4) ----

func (h *Handler) handleQuery(m *pgproto3.Query) {
	h.sess.CloseStatement("")
	h.sess.ClosePortal("")

	if h.metrics != nil {
		h.metrics.Queries.WithLabelValues("simple").Inc()
		start := time.Now()
		defer func() {
			h.metrics.QueryDuration.Observe(time.Since(start).Seconds())
		}()
	}

	query, err := h.recoder.ToUTF8(m.String)
	if err != nil {
		h.sendErrorResponse(err)
		h.sendReady()
		return
	}

	stmts := translator.SplitStatements(query)
	if len(stmts) == 1 && strings.TrimSpace(stmts[0]) == "" {
		_ = h.send(&pgproto3.EmptyQueryResponse{})
		h.sendReady()
		return
	}

	for _, text := range stmts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		if err := h.runSimpleStatement(text); err != nil {
			h.sendErrorResponse(err)
			h.failExplicitTx()
			break
		}
		if h.copy != nil {
			// COPY FROM STDIN is in progress: the response group stays
			// open until CopyDone/CopyFail, which emit ReadyForQuery.
			return
		}
	}
	h.sendReady()
}

var (
	setRe         = regexp.MustCompile(`(?i)^SET\s+(?:SESSION\s+|LOCAL\s+)?(\w+)\s*(?:=|TO)\s*(.+?);?\s*$`)
	resetRe       = regexp.MustCompile(`(?i)^RESET\s+(\w+)\s*;?\s*$`)
	savepointRe   = regexp.MustCompile(`(?i)^SAVEPOINT\s+"?(\w+)"?\s*;?\s*$`)
	releaseRe     = regexp.MustCompile(`(?i)^RELEASE(?:\s+SAVEPOINT)?\s+"?(\w+)"?\s*;?\s*$`)
	rollbackToRe  = regexp.MustCompile(`(?i)^ROLLBACK\s+TO(?:\s+SAVEPOINT)?\s+"?(\w+)"?\s*;?\s*$`)
	deallocateRe  = regexp.MustCompile(`(?i)^DEALLOCATE\s+(?:PREPARE\s+)?(ALL|"?\w+"?)\s*;?\s*$`)
	copyStdinRe   = regexp.MustCompile(`(?is)^COPY\s+"?([A-Za-z_][A-Za-z0-9_]*)"?\s*(?:\(([^)]*)\))?\s+FROM\s+STDIN(.*)$`)
	copyToRe      = regexp.MustCompile(`(?is)^COPY\s+.+\s+TO\s+`)
	abortedErr    = pgerrors.New(pgerrors.KindTransaction, "current transaction is aborted, commands ignored until end of transaction block")
)

// runSimpleStatement executes one statement from a (possibly multi-
// statement) simple-query message, dispatching TCL/SET/utility statements
// directly and everything else through the translator and embedded engine.
func (h *Handler) runSimpleStatement(text string) error {
	trimmed := strings.TrimSpace(text)
	upper := strings.ToUpper(trimmed)

	switch {
	case upper == "BEGIN" || strings.HasPrefix(upper, "BEGIN ") || strings.HasPrefix(upper, "START TRANSACTION"):
		if err := h.txnc.Begin(h.ctx); err != nil {
			return err
		}
		return h.send(makeCommandComplete("BEGIN", 0))

	case upper == "COMMIT" || strings.HasPrefix(upper, "COMMIT ") || upper == "END" || strings.HasPrefix(upper, "END "):
		var err error
		if h.txnc.State() == txn.StateFailed {
			err = h.txnc.Rollback()
		} else {
			err = h.txnc.Commit()
		}
		if err != nil {
			return err
		}
		return h.send(makeCommandComplete("COMMIT", 0))

	case rollbackToRe.MatchString(trimmed):
		name := rollbackToRe.FindStringSubmatch(trimmed)[1]
		if err := h.txnc.RollbackToSavepoint(h.ctx, name); err != nil {
			return err
		}
		return h.send(makeCommandComplete("ROLLBACK", 0))

	case upper == "ROLLBACK" || strings.HasPrefix(upper, "ROLLBACK ") || upper == "ABORT":
		if err := h.txnc.Rollback(); err != nil {
			return err
		}
		return h.send(makeCommandComplete("ROLLBACK", 0))

	case savepointRe.MatchString(trimmed):
		if h.txnc.State() == txn.StateFailed {
			return abortedErr
		}
		name := savepointRe.FindStringSubmatch(trimmed)[1]
		if err := h.txnc.Savepoint(h.ctx, name); err != nil {
			return err
		}
		return h.send(makeCommandComplete("SAVEPOINT", 0))

	case releaseRe.MatchString(trimmed):
		if h.txnc.State() == txn.StateFailed {
			return abortedErr
		}
		name := releaseRe.FindStringSubmatch(trimmed)[1]
		if err := h.txnc.ReleaseSavepoint(h.ctx, name); err != nil {
			return err
		}
		return h.send(makeCommandComplete("RELEASE", 0))

	case setRe.MatchString(trimmed):
		if h.txnc.State() == txn.StateFailed {
			return abortedErr
		}
		m := setRe.FindStringSubmatch(trimmed)
		h.sess.Set(m[1], strings.Trim(strings.TrimSpace(m[2]), "'\""))
		return h.send(makeCommandComplete("SET", 0))

	case resetRe.MatchString(trimmed):
		m := resetRe.FindStringSubmatch(trimmed)
		h.sess.Set(m[1], "")
		return h.send(makeCommandComplete("RESET", 0))

	case upper == "DISCARD ALL" || upper == "DISCARD ALL;":
		h.sess.DiscardAll()
		return h.send(makeCommandComplete("DISCARD ALL", 0))

	case deallocateRe.MatchString(trimmed):
		m := deallocateRe.FindStringSubmatch(trimmed)
		name := unquoteIdent(m[1])
		if strings.EqualFold(name, "ALL") {
			h.sess.DiscardAll()
		} else {
			h.sess.CloseStatement(name)
		}
		return h.send(makeCommandComplete("DEALLOCATE", 0))

	case copyStdinRe.MatchString(trimmed):
		if h.txnc.State() == txn.StateFailed {
			return abortedErr
		}
		return h.beginCopyFromStdin(trimmed)

	case copyToRe.MatchString(trimmed):
		return pgerrors.New(pgerrors.KindFeatureNotSupported, "COPY TO is not supported")
	}

	if h.txnc.State() == txn.StateFailed {
		return abortedErr
	}

	// CREATE TYPE ... AS ENUM and DROP TYPE are catalog-only: the engine
	// has no enum type, so the registry is the whole effect and nothing
	// reaches the engine.
	if name, labels, ok := translator.ParseCreateEnum(trimmed); ok {
		if _, err := h.cat.RegisterEnum(name, labels); err != nil {
			return err
		}
		return h.send(makeCommandComplete("CREATE TYPE", 0))
	}
	if m := dropTypeRe.FindStringSubmatch(trimmed); m != nil {
		err := h.cat.DropEnum(unquoteIdent(m[2]))
		if err != nil && m[1] == "" {
			return err
		}
		return h.send(makeCommandComplete("DROP TYPE", 0))
	}

	tr, err := h.tr.Translate(trimmed)
	if err != nil {
		return err
	}
	return h.execTranslated(tr, trimmed, nil, nil, nil, false)
}

var dropTypeRe = regexp.MustCompile(`(?is)^DROP\s+TYPE\s+(IF\s+EXISTS\s+)?"?(\w+)"?\s*;?\s*$`)

func unquoteIdent(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

func makeCommandComplete(tag string, rows int64) *pgproto3.CommandComplete {
	switch tag {
	case "INSERT":
		tag = fmt.Sprintf("INSERT 0 %d", rows)
	case "DELETE", "UPDATE", "SELECT", "MOVE", "FETCH", "COPY", "CREATE TABLE AS":
		tag = fmt.Sprintf("%s %d", tag, rows)
	}
	return &pgproto3.CommandComplete{CommandTag: []byte(tag)}
}

func returnsRow(tag string) bool {
	switch strings.ToUpper(tag) {
	case "SELECT", "SHOW", "FETCH", "EXPLAIN", "PRAGMA", "VALUES", "WITH":
		return true
	default:
		return false
	}
}

// execTranslated runs one already-translated statement to completion
// (simple-query semantics: no row cap) against the session's transaction
// controller, streaming RowDescription/DataRow/CommandComplete, and
// applies the DDL side effects (declared-type/ENUM bookkeeping) the
// catalog needs.
func (h *Handler) execTranslated(tr *translator.Translated, original string, args []any, paramFormats, resultFormats []int16, isExecute bool) error {
	execSQL := tr.SQL
	hasReturning := len(tr.ReturningCols) > 0
	if hasReturning {
		execSQL = execSQL + " RETURNING " + strings.Join(tr.ReturningCols, ", ")
	}

	tx, err := h.txnc.Tx(h.ctx)
	if err != nil {
		return err
	}
	wasImplicit := h.txnc.Implicit()

	rows, execErr := tx.QueryContext(h.ctx, execSQL, args...)
	if execErr != nil {
		if h.txnc.Implicit() {
			_ = h.txnc.Rollback()
		} else {
			h.txnc.MarkFailed()
		}
		return pgerrors.Wrap(classifyEngineError(execErr), execErr, "execute statement")
	}
	defer rows.Close()

	showRows := returnsRow(tr.StatementTag) || hasReturning
	var rowCount int64
	if showRows {
		fields := h.fieldDescriptions(rows, execSQL, resultFormats)
		if !isExecute {
			if err := h.send(&pgproto3.RowDescription{Fields: fields}); err != nil {
				return err
			}
		}
		cols, _ := rows.Columns()
		for rows.Next() {
			vals, err := h.scanRow(rows, len(cols), fields)
			if err != nil {
				return err
			}
			if err := h.send(&pgproto3.DataRow{Values: vals}); err != nil {
				return err
			}
			rowCount++
		}
		if err := rows.Err(); err != nil {
			return pgerrors.Wrap(pgerrors.KindData, err, "read result rows")
		}
	} else {
		rows.Close()
		if res, err := resultFromLastStatement(tx, h.ctx); err == nil {
			rowCount = res
		}
	}

	h.runDDLSideEffects(original)

	if wasImplicit {
		if err := h.txnc.EndImplicitIfNeeded(); err != nil {
			return err
		}
	}
	if isExecute {
		return nil
	}
	return h.send(makeCommandComplete(tr.StatementTag, rowCount))
}

// resultFromLastStatement reads sqlite's last change count via a follow-up
// SELECT changes(), since database/sql's Result.RowsAffected from a
// QueryContext call (used uniformly above so RETURNING and non-RETURNING
// DML share one code path) isn't available.
func resultFromLastStatement(tx *stdsql.Tx, ctx context.Context) (int64, error) {
	var n int64
	err := tx.QueryRowContext(ctx, "SELECT changes()").Scan(&n)
	return n, err
}

func classifyEngineError(err error) pgerrors.Kind {
	msg := strings.ToLower(err.Error())
	switch {
	// Constraints the translator generated to enforce declared-type
	// semantics (VARCHAR length, NUMERIC precision/scale, ENUM
	// membership) carry a pgsqlite_ name; their violation is a bad
	// value, not an integrity conflict.
	case strings.Contains(msg, "constraint") && strings.Contains(msg, "pgsqlite_"):
		return pgerrors.KindData
	case strings.Contains(msg, "unique") || strings.Contains(msg, "constraint") || strings.Contains(msg, "foreign key"):
		return pgerrors.KindIntegrity
	case strings.Contains(msg, "syntax"):
		return pgerrors.KindSyntax
	case strings.Contains(msg, "locked") || strings.Contains(msg, "busy"):
		return pgerrors.KindSerializationFailure
	default:
		return pgerrors.KindData
	}
}

var (
	fromTableRe = regexp.MustCompile(`(?is)\bFROM\s+"?([A-Za-z_][A-Za-z0-9_]*)"?`)
	dropAlterRe = regexp.MustCompile(`(?is)^\s*(?:DROP|ALTER)\s+TABLE\s+(?:IF\s+(?:NOT\s+)?EXISTS\s+)?"?([A-Za-z_][A-Za-z0-9_.]*)"?`)
)

// runDDLSideEffects keeps the catalog's declared-type cache and ENUM
// registry in sync with DDL executed against the engine. original is the
// client's pre-translation text, since the catalog wants the
// Postgres-facing declared types (VARCHAR(32), UUID, an enum name) that
// rewriteTypeModifiers/rewriteEnumColumns already stripped out of the
// SQL sent to the engine.
func (h *Handler) runDDLSideEffects(original string) {
	if table, cols, ok := translator.ParseCreateTable(original); ok {
		for _, c := range cols {
			_ = h.cat.RecordColumnType(table, c.Name, c.Declared)
		}
		return
	}
	if name, labels, ok := translator.ParseCreateEnum(original); ok {
		_, _ = h.cat.RegisterEnum(name, labels)
		return
	}
	if m := dropAlterRe.FindStringSubmatch(original); m != nil {
		h.cat.InvalidateTable(unquoteIdent(m[1]))
	}
}

// fieldDescriptions builds the RowDescription field list for an open
// *sql.Rows, cross-referencing the catalog's declared-type cache for the
// query's source table (best-effort single-table detection) so UUID/JSON/
// NUMERIC(p,s) columns report their true Postgres OID rather than the
// engine's bare storage affinity. ENUM columns report text.
func (h *Handler) fieldDescriptions(rows *stdsql.Rows, query string, resultFormats []int16) []pgproto3.FieldDescription {
	colTypes, _ := rows.ColumnTypes()
	var tableCols map[string]catalog.ColumnInfo
	if m := fromTableRe.FindStringSubmatch(query); m != nil {
		if cols, err := h.cat.TableColumns(unquoteIdent(m[1])); err == nil {
			tableCols = make(map[string]catalog.ColumnInfo, len(cols))
			for _, c := range cols {
				tableCols[strings.ToLower(c.Name)] = c
			}
		}
	}

	exprs := translator.SelectExpressions(query)
	fields := make([]pgproto3.FieldDescription, len(colTypes))
	for i, ct := range colTypes {
		name := ct.Name()
		var oid uint32
		if tableCols != nil {
			if ci, ok := tableCols[strings.ToLower(name)]; ok {
				oid = ci.OID
			}
		}
		if oid == 0 {
			declared := strings.ToLower(ct.DatabaseTypeName())
			if declared == "" && i < len(exprs) {
				// Expression column: the engine reports no declared type,
				// but a cast in the SELECT list pins the result type
				// (`CAST($1 AS int8) + 1` stays int8 on the wire).
				declared, _ = translator.CastTargetType(exprs[i])
			}
			if declared == "" {
				oid = pgtype.TextOID
			} else {
				affinity := values.AffinityForDeclaredType(declared)
				oid = values.OIDForDeclaredType(declared, affinity)
			}
		}
		fields[i] = pgproto3.FieldDescription{
			Name:                 []byte(name),
			TableOID:             0,
			TableAttributeNumber: uint16(i + 1),
			DataTypeOID:          oid,
			DataTypeSize:         fixedSizeForOID(oid),
			TypeModifier:         -1,
			Format:               resultFormatFor(resultFormats, i),
		}
	}
	return fields
}

func resultFormatFor(formats []int16, col int) int16 {
	switch {
	case len(formats) == 0:
		return pgtype.TextFormatCode
	case len(formats) == 1:
		return formats[0]
	case col < len(formats):
		return formats[col]
	default:
		return pgtype.TextFormatCode
	}
}

func fixedSizeForOID(oid uint32) int16 {
	switch oid {
	case pgtype.BoolOID:
		return 1
	case pgtype.Int2OID:
		return 2
	case pgtype.Int4OID, pgtype.Float4OID:
		return 4
	case pgtype.Int8OID, pgtype.Float8OID:
		return 8
	default:
		return -1
	}
}

func (h *Handler) scanRow(rows *stdsql.Rows, n int, fields []pgproto3.FieldDescription) ([][]byte, error) {
	raw := make([]any, n)
	ptrs := make([]any, n)
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, pgerrors.Wrap(pgerrors.KindData, err, "scan result row")
	}
	out := make([][]byte, n)
	for i, v := range raw {
		oid := uint32(pgtype.TextOID)
		format := int16(pgtype.TextFormatCode)
		if i < len(fields) {
			oid, format = fields[i].DataTypeOID, fields[i].Format
		}
		enc, err := h.codec.EncodeValue(oid, format, v, nil)
		if err != nil {
			return nil, err
		}
		out[i] = enc
	}
	return out, nil
}
