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

// Message-level extended-protocol tests that a driver cannot express:
// row-limited Execute with PortalSuspended, re-Execute of a suspended
// portal, and the AwaitingSync discard rule. Driven with pgproto3's
// Frontend over a raw TCP connection.

package wiretest

import (
	"net"
	"testing"

	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rawClient struct {
	t    *testing.T
	conn net.Conn
	fe   *pgproto3.Frontend
}

func dialRaw(t *testing.T) *rawClient {
	t.Helper()
	addr := StartServer(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	c := &rawClient{t: t, conn: conn, fe: pgproto3.NewFrontend(conn, conn)}
	c.fe.Send(&pgproto3.StartupMessage{
		ProtocolVersion: pgproto3.ProtocolVersionNumber,
		Parameters:      map[string]string{"user": "raw", "database": "raw"},
	})
	require.NoError(t, c.fe.Flush())
	c.awaitReady('I')
	return c
}

func (c *rawClient) send(msgs ...pgproto3.FrontendMessage) {
	c.t.Helper()
	for _, m := range msgs {
		c.fe.Send(m)
	}
	require.NoError(c.t, c.fe.Flush())
}

func (c *rawClient) recv() pgproto3.BackendMessage {
	c.t.Helper()
	msg, err := c.fe.Receive()
	require.NoError(c.t, err)
	return msg
}

// awaitReady reads messages until ReadyForQuery and asserts its status
// byte.
func (c *rawClient) awaitReady(status byte) {
	c.t.Helper()
	for {
		if rfq, ok := c.recv().(*pgproto3.ReadyForQuery); ok {
			assert.Equal(c.t, status, rfq.TxStatus)
			return
		}
	}
}

func TestStartupMessageSequence(t *testing.T) {
	addr := StartServer(t)
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	fe := pgproto3.NewFrontend(conn, conn)
	fe.Send(&pgproto3.StartupMessage{
		ProtocolVersion: pgproto3.ProtocolVersionNumber,
		Parameters:      map[string]string{"user": "u", "database": "d"},
	})
	require.NoError(t, fe.Flush())

	msg, err := fe.Receive()
	require.NoError(t, err)
	require.IsType(t, &pgproto3.AuthenticationOk{}, msg)

	params := map[string]string{}
	var sawKeyData bool
	for {
		msg, err = fe.Receive()
		require.NoError(t, err)
		switch m := msg.(type) {
		case *pgproto3.ParameterStatus:
			params[m.Name] = m.Value
		case *pgproto3.BackendKeyData:
			sawKeyData = true
			assert.NotZero(t, m.ProcessID)
		case *pgproto3.ReadyForQuery:
			assert.Equal(t, byte('I'), m.TxStatus)
			assert.Equal(t, "UTF8", params["client_encoding"])
			assert.NotEmpty(t, params["server_version"])
			assert.True(t, sawKeyData)
			return
		default:
			t.Fatalf("unexpected startup message %T", msg)
		}
	}
}

func TestSSLRequestRefusedWithoutTLS(t *testing.T) {
	addr := StartServer(t)
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	fe := pgproto3.NewFrontend(conn, conn)
	fe.Send(&pgproto3.SSLRequest{})
	require.NoError(t, fe.Flush())

	resp := make([]byte, 1)
	_, err = conn.Read(resp)
	require.NoError(t, err)
	assert.Equal(t, byte('N'), resp[0])
}

func TestExtendedQueryRoundTrip(t *testing.T) {
	c := dialRaw(t)

	c.send(
		&pgproto3.Parse{Query: "SELECT $1::int8 + 1", ParameterOIDs: []uint32{20}},
		&pgproto3.Describe{ObjectType: 'S'},
		&pgproto3.Bind{Parameters: [][]byte{[]byte("41")}},
		&pgproto3.Execute{},
		&pgproto3.Sync{},
	)

	require.IsType(t, &pgproto3.ParseComplete{}, c.recv())

	pd := c.recv().(*pgproto3.ParameterDescription)
	assert.Equal(t, []uint32{20}, pd.ParameterOIDs)

	require.IsType(t, &pgproto3.RowDescription{}, c.recv())
	require.IsType(t, &pgproto3.BindComplete{}, c.recv())

	dr := c.recv().(*pgproto3.DataRow)
	require.Len(t, dr.Values, 1)
	assert.Equal(t, "42", string(dr.Values[0]))

	cc := c.recv().(*pgproto3.CommandComplete)
	assert.Equal(t, "SELECT 1", string(cc.CommandTag))

	c.awaitReady('I')
}

func TestExtendedBinaryInt8Result(t *testing.T) {
	c := dialRaw(t)

	// A cast in the SELECT list pins the result column's OID, so a
	// binary result format yields the 8-byte big-endian integer form.
	c.send(
		&pgproto3.Parse{Query: "SELECT $1::int8 + 1", ParameterOIDs: []uint32{20}},
		&pgproto3.Describe{ObjectType: 'S'},
		&pgproto3.Bind{Parameters: [][]byte{[]byte("41")}, ResultFormatCodes: []int16{1}},
		&pgproto3.Execute{},
		&pgproto3.Sync{},
	)

	require.IsType(t, &pgproto3.ParseComplete{}, c.recv())
	require.IsType(t, &pgproto3.ParameterDescription{}, c.recv())

	rd := c.recv().(*pgproto3.RowDescription)
	require.Len(t, rd.Fields, 1)
	assert.Equal(t, uint32(20), rd.Fields[0].DataTypeOID)

	require.IsType(t, &pgproto3.BindComplete{}, c.recv())

	dr := c.recv().(*pgproto3.DataRow)
	require.Len(t, dr.Values, 1)
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 0x2A}, dr.Values[0])

	require.IsType(t, &pgproto3.CommandComplete{}, c.recv())
	c.awaitReady('I')
}

func TestExecuteRowLimitSuspendsPortal(t *testing.T) {
	c := dialRaw(t)

	c.send(&pgproto3.Query{String: "CREATE TABLE nums (n INT); INSERT INTO nums VALUES (1); INSERT INTO nums VALUES (2); INSERT INTO nums VALUES (3)"})
	c.awaitReady('I')

	c.send(
		&pgproto3.Parse{Query: "SELECT n FROM nums ORDER BY n"},
		&pgproto3.Bind{},
		&pgproto3.Execute{MaxRows: 2},
		&pgproto3.Flush{},
	)

	require.IsType(t, &pgproto3.ParseComplete{}, c.recv())
	require.IsType(t, &pgproto3.BindComplete{}, c.recv())
	assert.Equal(t, "1", string(c.recv().(*pgproto3.DataRow).Values[0]))
	assert.Equal(t, "2", string(c.recv().(*pgproto3.DataRow).Values[0]))
	require.IsType(t, &pgproto3.PortalSuspended{}, c.recv())

	// The suspended portal resumes from its cursor.
	c.send(&pgproto3.Execute{}, &pgproto3.Sync{})
	assert.Equal(t, "3", string(c.recv().(*pgproto3.DataRow).Values[0]))
	cc := c.recv().(*pgproto3.CommandComplete)
	assert.Equal(t, "SELECT 3", string(cc.CommandTag))
	c.awaitReady('I')
}

func TestExecuteLimitEqualToRowsCompletes(t *testing.T) {
	c := dialRaw(t)

	c.send(&pgproto3.Query{String: "CREATE TABLE single (n INT); INSERT INTO single VALUES (7)"})
	c.awaitReady('I')

	// rowLimit equal to the result size must complete, not suspend.
	c.send(
		&pgproto3.Parse{Query: "SELECT n FROM single"},
		&pgproto3.Bind{},
		&pgproto3.Execute{MaxRows: 1},
		&pgproto3.Sync{},
	)

	require.IsType(t, &pgproto3.ParseComplete{}, c.recv())
	require.IsType(t, &pgproto3.BindComplete{}, c.recv())
	require.IsType(t, &pgproto3.DataRow{}, c.recv())
	require.IsType(t, &pgproto3.CommandComplete{}, c.recv())
	c.awaitReady('I')
}

func TestErrorEntersAwaitingSyncUntilSync(t *testing.T) {
	c := dialRaw(t)

	c.send(
		&pgproto3.Parse{Query: "SELECT * FROM no_such_table"},
		&pgproto3.Bind{},
		&pgproto3.Execute{},
		&pgproto3.Sync{},
	)

	require.IsType(t, &pgproto3.ParseComplete{}, c.recv())
	require.IsType(t, &pgproto3.BindComplete{}, c.recv())
	require.IsType(t, &pgproto3.ErrorResponse{}, c.recv())
	// Exactly one ReadyForQuery answers the Sync; the discarded Execute
	// produces nothing.
	c.awaitReady('I')

	// The session recovers after Sync.
	c.send(
		&pgproto3.Parse{Query: "SELECT 1"},
		&pgproto3.Bind{},
		&pgproto3.Execute{},
		&pgproto3.Sync{},
	)
	require.IsType(t, &pgproto3.ParseComplete{}, c.recv())
	require.IsType(t, &pgproto3.BindComplete{}, c.recv())
	require.IsType(t, &pgproto3.DataRow{}, c.recv())
	require.IsType(t, &pgproto3.CommandComplete{}, c.recv())
	c.awaitReady('I')
}

func TestEmptyQueryResponse(t *testing.T) {
	c := dialRaw(t)

	c.send(&pgproto3.Query{String: ""})
	require.IsType(t, &pgproto3.EmptyQueryResponse{}, c.recv())
	c.awaitReady('I')

	c.send(&pgproto3.Query{String: " ; ; "})
	require.IsType(t, &pgproto3.EmptyQueryResponse{}, c.recv())
	c.awaitReady('I')
}

func TestSimpleQueryGroupEmitsOneReadyForQuery(t *testing.T) {
	c := dialRaw(t)

	c.send(&pgproto3.Query{String: "CREATE TABLE g (n INT); INSERT INTO g VALUES (1); SELECT n FROM g"})

	var ready, complete int
	for ready == 0 {
		switch c.recv().(type) {
		case *pgproto3.CommandComplete:
			complete++
		case *pgproto3.ReadyForQuery:
			ready++
		}
	}
	assert.Equal(t, 3, complete, "one CommandComplete per statement")
	assert.Equal(t, 1, ready, "one ReadyForQuery per simple-query group")
}

func TestErrorAbortsRestOfSimpleQueryGroup(t *testing.T) {
	c := dialRaw(t)

	c.send(&pgproto3.Query{String: "CREATE TABLE h (n INT); SELECT broken syntax here; INSERT INTO h VALUES (1)"})

	sawError := false
	for {
		msg := c.recv()
		if _, ok := msg.(*pgproto3.ErrorResponse); ok {
			sawError = true
		}
		if rfq, ok := msg.(*pgproto3.ReadyForQuery); ok {
			assert.Equal(t, byte('I'), rfq.TxStatus)
			break
		}
	}
	require.True(t, sawError)

	// The INSERT after the failing statement never ran.
	c.send(&pgproto3.Query{String: "SELECT count(*) FROM h"})
	var count string
	for {
		msg := c.recv()
		if dr, ok := msg.(*pgproto3.DataRow); ok {
			count = string(dr.Values[0])
		}
		if _, ok := msg.(*pgproto3.ReadyForQuery); ok {
			break
		}
	}
	assert.Equal(t, "0", count)
}

func TestTransactionStatusIndicator(t *testing.T) {
	c := dialRaw(t)

	c.send(&pgproto3.Query{String: "BEGIN"})
	c.awaitReady('T')

	c.send(&pgproto3.Query{String: "SELECT no_such_column FROM missing"})
	c.awaitReady('E')

	c.send(&pgproto3.Query{String: "SELECT 1"})
	var gotErr *pgproto3.ErrorResponse
	for {
		msg := c.recv()
		if e, ok := msg.(*pgproto3.ErrorResponse); ok {
			gotErr = e
		}
		if _, ok := msg.(*pgproto3.ReadyForQuery); ok {
			break
		}
	}
	require.NotNil(t, gotErr, "statements in a failed block are rejected")
	assert.Equal(t, "25P02", gotErr.Code)

	c.send(&pgproto3.Query{String: "ROLLBACK"})
	c.awaitReady('I')
}

func TestTerminateClosesCleanly(t *testing.T) {
	c := dialRaw(t)
	c.send(&pgproto3.Terminate{})

	_, err := c.fe.Receive()
	require.Error(t, err, "server closes the connection after Terminate")
}
