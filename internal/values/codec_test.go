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

package values

import (
	"encoding/binary"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeValueNil(t *testing.T) {
	c := NewCodec()
	out, err := c.EncodeValue(pgtype.Int4OID, pgtype.TextFormatCode, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestEncodeBoolText(t *testing.T) {
	c := NewCodec()
	out, err := c.EncodeValue(pgtype.BoolOID, pgtype.TextFormatCode, int64(1), nil)
	require.NoError(t, err)
	assert.Equal(t, "t", string(out))

	out, err = c.EncodeValue(pgtype.BoolOID, pgtype.TextFormatCode, int64(0), nil)
	require.NoError(t, err)
	assert.Equal(t, "f", string(out))
}

func TestEncodeBoolBinary(t *testing.T) {
	c := NewCodec()
	out, err := c.EncodeValue(pgtype.BoolOID, pgtype.BinaryFormatCode, int64(1), nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, out)
}

func TestEncodeInt8Binary(t *testing.T) {
	c := NewCodec()
	out, err := c.EncodeValue(pgtype.Int8OID, pgtype.BinaryFormatCode, int64(42), nil)
	require.NoError(t, err)
	require.Len(t, out, 8)
	assert.Equal(t, uint64(42), binary.BigEndian.Uint64(out))
}

func TestDecodeInt8BinaryParam(t *testing.T) {
	c := NewCodec()
	raw := binary.BigEndian.AppendUint64(nil, 41)
	v, err := c.DecodeParam(pgtype.Int8OID, pgtype.BinaryFormatCode, raw)
	require.NoError(t, err)
	assert.Equal(t, int64(41), v)
}

func TestDecodeParamNull(t *testing.T) {
	c := NewCodec()
	v, err := c.DecodeParam(pgtype.TextOID, pgtype.TextFormatCode, nil)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestTimestampBinaryEpoch(t *testing.T) {
	// The binary timestamp form counts microseconds from 2000-01-01
	// midnight UTC, so the epoch itself encodes as eight zero bytes.
	c := NewCodec()
	out, err := c.EncodeValue(pgtype.TimestampOID, pgtype.BinaryFormatCode, "2000-01-01 00:00:00", nil)
	require.NoError(t, err)
	require.Len(t, out, 8)
	assert.Equal(t, uint64(0), binary.BigEndian.Uint64(out))

	out, err = c.EncodeValue(pgtype.TimestampOID, pgtype.BinaryFormatCode, "2000-01-01 00:00:01", nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), binary.BigEndian.Uint64(out))
}

func TestTimestampAcceptsISOT(t *testing.T) {
	c := NewCodec()
	space, err := c.EncodeValue(pgtype.TimestampOID, pgtype.BinaryFormatCode, "2024-06-01 12:30:00.5", nil)
	require.NoError(t, err)
	isoT, err := c.EncodeValue(pgtype.TimestampOID, pgtype.BinaryFormatCode, "2024-06-01T12:30:00.5", nil)
	require.NoError(t, err)
	assert.Equal(t, space, isoT)
}

func TestUUIDEncodeBinary(t *testing.T) {
	c := NewCodec()
	out, err := c.EncodeValue(pgtype.UUIDOID, pgtype.BinaryFormatCode, "6ba7b810-9dad-11d1-80b4-00c04fd430c8", nil)
	require.NoError(t, err)
	require.Len(t, out, 16)
	assert.Equal(t, byte(0x6b), out[0])
	assert.Equal(t, byte(0xc8), out[15])
}

func TestUUIDDecodeBinaryParam(t *testing.T) {
	c := NewCodec()
	raw := []byte{0x6b, 0xa7, 0xb8, 0x10, 0x9d, 0xad, 0x11, 0xd1, 0x80, 0xb4, 0x00, 0xc0, 0x4f, 0xd4, 0x30, 0xc8}
	v, err := c.DecodeParam(pgtype.UUIDOID, pgtype.BinaryFormatCode, raw)
	require.NoError(t, err)
	assert.Equal(t, "6ba7b810-9dad-11d1-80b4-00c04fd430c8", v)
}

func TestJSONBBinaryVersionByte(t *testing.T) {
	c := NewCodec()
	out, err := c.EncodeValue(pgtype.JSONBOID, pgtype.BinaryFormatCode, `{"a":1}`, nil)
	require.NoError(t, err)
	assert.Equal(t, byte(1), out[0])
	assert.Equal(t, `{"a":1}`, string(out[1:]))

	v, err := c.DecodeParam(pgtype.JSONBOID, pgtype.BinaryFormatCode, out)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, v)
}

func TestJSONParamValidation(t *testing.T) {
	c := NewCodec()
	_, err := c.DecodeParam(pgtype.JSONOID, pgtype.TextFormatCode, []byte(`{"a":`))
	require.Error(t, err)

	_, err = c.DecodeParam(pgtype.JSONBOID, pgtype.BinaryFormatCode, []byte{9, '{', '}'})
	require.Error(t, err, "wrong jsonb version byte")
}

func TestNumericTextRoundTrip(t *testing.T) {
	c := NewCodec()
	v, err := c.DecodeParam(pgtype.NumericOID, pgtype.TextFormatCode, []byte("12.50"))
	require.NoError(t, err)

	out, err := c.EncodeValue(pgtype.NumericOID, pgtype.TextFormatCode, v, nil)
	require.NoError(t, err)
	assert.Equal(t, "12.50", string(out))
}

func TestNumericBinaryThroughCodec(t *testing.T) {
	c := NewCodec()
	out, err := c.EncodeValue(pgtype.NumericOID, pgtype.BinaryFormatCode, "99.99", nil)
	require.NoError(t, err)

	v, err := c.DecodeParam(pgtype.NumericOID, pgtype.BinaryFormatCode, out)
	require.NoError(t, err)
	assert.Equal(t, "99.99", v)
}

func TestArrayBinaryParamToTextLiteral(t *testing.T) {
	c := NewCodec()
	text, err := c.EncodeValue(pgtype.Int4ArrayOID, pgtype.BinaryFormatCode, "{1,2,NULL,4}", nil)
	require.NoError(t, err)

	v, err := c.DecodeParam(pgtype.Int4ArrayOID, pgtype.BinaryFormatCode, text)
	require.NoError(t, err)
	assert.Equal(t, "{1,2,NULL,4}", v)
}

func TestEncodeArrayTextPassthrough(t *testing.T) {
	c := NewCodec()
	out, err := c.EncodeValue(pgtype.TextArrayOID, pgtype.TextFormatCode, `{"a b",c}`, nil)
	require.NoError(t, err)
	assert.Equal(t, `{"a b",c}`, string(out))
}
