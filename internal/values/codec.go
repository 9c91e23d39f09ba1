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
	stdsql "database/sql"
	"fmt"

	"github.com/cockroachdb/apd/v3"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	pgerrors "github.com/pgsqlite/pgsqlite/internal/errors"
)

// Codec wraps pgtype.Map with the pgsqlite-specific encode/decode rules:
// NUMERIC via apd (arbitrary precision, matching pgtype.Numeric's own
// backing library), and a thin bridge from database/sql's driver values
// (what the embedded engine actually returns) to wire-ready bytes. This
// mirrors the teacher's PostgresType.Encode, generalized to also decode
// client-supplied parameter bytes back into Go/driver values.
type Codec struct {
	types *pgtype.Map
}

// NewCodec constructs a Codec around a fresh pgtype.Map, the same base
// table the teacher stores as its process-wide defaultTypeMap.
func NewCodec() *Codec {
	return &Codec{types: pgtype.NewMap()}
}

// EncodeValue renders v (a value read back from the embedded engine) as
// wire bytes for the given OID and format code, appending to buf.
func (c *Codec) EncodeValue(oid uint32, format int16, v any, buf []byte) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	switch oid {
	case pgtype.NumericOID:
		return c.encodeNumeric(format, v, buf)
	case pgtype.JSONOID, pgtype.JSONBOID:
		text, ok := asText(v)
		if !ok {
			text = fmt.Sprint(v)
		}
		return encodeJSON(text, oid == pgtype.JSONBOID, format == pgtype.BinaryFormatCode, buf), nil
	}
	if elemOID, ok := ElementOID(oid); ok {
		return c.encodeArray(oid, elemOID, format, v, buf)
	}

	nv, err := normalizeForOID(oid, v)
	if err != nil {
		return nil, pgerrors.Wrap(pgerrors.KindData, err, fmt.Sprintf("encode oid %d", oid))
	}
	out, err := c.types.Encode(oid, format, nv, buf)
	if err != nil {
		return nil, pgerrors.Wrap(pgerrors.KindInternal, err, fmt.Sprintf("encode oid %d", oid))
	}
	return out, nil
}

// normalizeForOID bridges the engine's coarse driver values (int64,
// float64, string, []byte) to the Go types pgtype's per-OID codecs
// expect: bools arrive as integers, timestamps and UUIDs as their stored
// text form.
func normalizeForOID(oid uint32, v any) (any, error) {
	switch oid {
	case pgtype.TextOID, pgtype.VarcharOID, pgtype.BPCharOID, pgtype.NameOID:
		if _, ok := asText(v); !ok {
			return fmt.Sprint(v), nil
		}
	case pgtype.BoolOID:
		switch t := v.(type) {
		case bool:
			return t, nil
		case int64:
			return t != 0, nil
		case string:
			switch t {
			case "t", "true", "1":
				return true, nil
			case "f", "false", "0":
				return false, nil
			}
			return nil, fmt.Errorf("invalid bool value %q", t)
		}
	case pgtype.DateOID:
		if text, ok := asText(v); ok {
			t, err := ParseTimestamp(text)
			if err != nil {
				return nil, err
			}
			return pgtype.Date{Time: t, Valid: true}, nil
		}
	case pgtype.TimestampOID:
		if text, ok := asText(v); ok {
			t, err := ParseTimestamp(text)
			if err != nil {
				return nil, err
			}
			return pgtype.Timestamp{Time: t, Valid: true}, nil
		}
	case pgtype.TimestamptzOID:
		if text, ok := asText(v); ok {
			t, err := ParseTimestamp(text)
			if err != nil {
				return nil, err
			}
			return pgtype.Timestamptz{Time: t, Valid: true}, nil
		}
	case pgtype.TimeOID:
		if text, ok := asText(v); ok {
			t, err := ParseTimeOfDay(text)
			if err != nil {
				return nil, err
			}
			usec := int64(t.Hour())*3600*1e6 + int64(t.Minute())*60*1e6 +
				int64(t.Second())*1e6 + int64(t.Nanosecond())/1000
			return pgtype.Time{Microseconds: usec, Valid: true}, nil
		}
	case pgtype.UUIDOID:
		if text, ok := asText(v); ok {
			u, err := uuid.Parse(text)
			if err != nil {
				return nil, err
			}
			return pgtype.UUID{Bytes: u, Valid: true}, nil
		}
	}
	return v, nil
}

// DecodeParam parses a client-supplied parameter's wire bytes for the
// given OID/format into a Go value suitable for binding into a
// database/sql query argument.
func (c *Codec) DecodeParam(oid uint32, format int16, data []byte) (any, error) {
	if data == nil {
		return nil, nil
	}
	switch oid {
	case pgtype.NumericOID:
		return c.decodeNumeric(format, data)
	case pgtype.JSONOID, pgtype.JSONBOID:
		return decodeJSONParam(data, oid == pgtype.JSONBOID, format == pgtype.BinaryFormatCode)
	}
	if elemOID, ok := ElementOID(oid); ok {
		return c.decodeArrayParam(elemOID, format, data)
	}
	var dest any
	if err := c.types.Scan(oid, format, data, &dest); err != nil {
		if format == pgtype.BinaryFormatCode {
			return nil, pgerrors.Wrap(pgerrors.KindData, err, fmt.Sprintf("decode binary parameter (oid %d)", oid))
		}
		// No registered scan plan for this OID: fall back to the raw
		// text, letting the embedded engine's own storage-class
		// coercion sort it out (SQLite has no strict column typing).
		return string(data), nil
	}
	if u, ok := dest.([16]byte); ok && oid == pgtype.UUIDOID {
		return uuid.UUID(u).String(), nil
	}
	return dest, nil
}

// encodeArray renders an array column's stored canonical text literal
// (the engine holds arrays as TEXT, per the SQL Translator's array-type
// rewrite) as either the same text bytes (text format) or the standard
// external binary array layout (binary format), per §4.6.
func (c *Codec) encodeArray(oid, elemOID uint32, format int16, v any, buf []byte) ([]byte, error) {
	text, ok := asText(v)
	if !ok {
		return nil, pgerrors.New(pgerrors.KindInternal, "array column value is not text (oid %d)", oid)
	}
	if format != pgtype.BinaryFormatCode {
		return append(buf, []byte(text)...), nil
	}

	arr, err := ParseTextArray(text)
	if err != nil {
		return nil, pgerrors.Wrap(pgerrors.KindData, err, "parse array literal")
	}
	encoded, err := EncodeBinaryArray(arr.Dims, arr.Elems, elemOID, func(elemText string) ([]byte, error) {
		if elemOID == pgtype.NumericOID {
			d, _, err := apd.NewFromString(elemText)
			if err != nil {
				return nil, err
			}
			return encodeNumericBinary(d, nil)
		}
		var dest any
		if err := c.types.Scan(elemOID, pgtype.TextFormatCode, []byte(elemText), &dest); err != nil {
			dest = elemText
		}
		return c.types.Encode(elemOID, pgtype.BinaryFormatCode, dest, nil)
	})
	if err != nil {
		return nil, err
	}
	return append(buf, encoded...), nil
}

// decodeArrayParam decodes a client-bound array parameter into the
// canonical text literal the engine stores: text-format input passes
// through unchanged (it already arrives in that literal form); binary
// input is parsed per the external binary array layout and re-rendered
// as text.
func (c *Codec) decodeArrayParam(elemOID uint32, format int16, data []byte) (any, error) {
	if format != pgtype.BinaryFormatCode {
		return string(data), nil
	}
	arr, err := DecodeBinaryArray(data, func(b []byte) (string, error) {
		if elemOID == pgtype.NumericOID {
			return decodeNumericBinary(b)
		}
		var dest any
		if err := c.types.Scan(elemOID, pgtype.BinaryFormatCode, b, &dest); err != nil {
			return "", err
		}
		txt, err := c.types.Encode(elemOID, pgtype.TextFormatCode, dest, nil)
		if err != nil {
			return "", err
		}
		return string(txt), nil
	})
	if err != nil {
		return nil, pgerrors.Wrap(pgerrors.KindData, err, "decode binary array")
	}
	return EncodeTextArrayDims(arr.Dims, arr.Elems), nil
}

func asText(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case []byte:
		return string(t), true
	default:
		return "", false
	}
}

func (c *Codec) encodeNumeric(format int16, v any, buf []byte) ([]byte, error) {
	d, err := toAPD(v)
	if err != nil {
		return nil, pgerrors.Wrap(pgerrors.KindData, err, "encode numeric")
	}
	if format == pgtype.BinaryFormatCode {
		out, err := encodeNumericBinary(d, buf)
		if err != nil {
			return nil, pgerrors.Wrap(pgerrors.KindData, err, "encode numeric")
		}
		return out, nil
	}
	return append(buf, []byte(d.Text('f'))...), nil
}

func (c *Codec) decodeNumeric(format int16, data []byte) (any, error) {
	if format == pgtype.BinaryFormatCode {
		text, err := decodeNumericBinary(data)
		if err != nil {
			return nil, pgerrors.Wrap(pgerrors.KindData, err, "decode binary numeric")
		}
		return text, nil
	}
	d, _, err := apd.NewFromString(string(data))
	if err != nil {
		return nil, pgerrors.Wrap(pgerrors.KindData, err, "parse numeric literal")
	}
	return d.String(), nil
}

func toAPD(v any) (*apd.Decimal, error) {
	switch t := v.(type) {
	case *apd.Decimal:
		return t, nil
	case string:
		d, _, err := apd.NewFromString(t)
		return d, err
	case float64:
		d, _, err := apd.NewFromString(fmt.Sprintf("%v", t))
		return d, err
	case int64:
		return apd.New(t, 0), nil
	case []byte:
		d, _, err := apd.NewFromString(string(t))
		return d, err
	case stdsql.NullString:
		if !t.Valid {
			return apd.New(0, 0), nil
		}
		d, _, err := apd.NewFromString(t.String)
		return d, err
	default:
		return nil, fmt.Errorf("cannot convert %T to numeric", v)
	}
}
