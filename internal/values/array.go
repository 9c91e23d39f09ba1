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
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

// EncodeTextArray renders elems (already-encoded element text, or nil for
// SQL NULL) as a one-dimensional Postgres array literal: curly braces,
// comma delimiters, double-quoting any element that needs escaping. This
// follows the exact quoting rule lib/pq's array encoders use for
// StringArray/GenericArray: quote if the element is empty, contains a
// delimiter/brace/quote/backslash or whitespace, or case-insensitively
// equals NULL.
func EncodeTextArray(elems []*string) string {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range elems {
		if i > 0 {
			buf.WriteByte(',')
		}
		if e == nil {
			buf.WriteString("NULL")
			continue
		}
		buf.WriteString(quoteArrayElement(*e))
	}
	buf.WriteByte('}')
	return buf.String()
}

func quoteArrayElement(s string) string {
	if s == "" || strings.EqualFold(s, "null") || needsArrayQuoting(s) {
		var b strings.Builder
		b.WriteByte('"')
		for _, r := range s {
			if r == '"' || r == '\\' {
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		}
		b.WriteByte('"')
		return b.String()
	}
	return s
}

func needsArrayQuoting(s string) bool {
	return strings.ContainsAny(s, `{}",\` + " \t\n\r")
}

// EncodeBytea renders a blob value using Postgres's hex format
// ("\x" + hex digits), the modern default lib/pq's ByteaArray and the
// scalar bytea encoder both use in place of the legacy escape format.
func EncodeBytea(b []byte) string {
	return `\x` + hex.EncodeToString(b)
}

// DecodeBytea parses a bytea text value in either hex ("\x...") or the
// legacy backslash-octal escape format, mirroring decode.go's parseBytea.
func DecodeBytea(s string) ([]byte, error) {
	if strings.HasPrefix(s, `\x`) {
		return hex.DecodeString(s[2:])
	}
	var out []byte
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			out = append(out, s[i])
			continue
		}
		i++
		if i >= len(s) {
			return nil, fmt.Errorf("invalid bytea escape")
		}
		if s[i] == '\\' {
			out = append(out, '\\')
			continue
		}
		if i+2 >= len(s) {
			return nil, fmt.Errorf("invalid bytea octal escape")
		}
		v, err := strconv.ParseUint(s[i:i+3], 8, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid bytea octal escape: %w", err)
		}
		out = append(out, byte(v))
		i += 2
	}
	return out, nil
}

// elementOIDForArray maps an array type OID to its element type OID, the
// pairing the Catalog & Type Registry (C) needs to pick the right per-
// element text/binary codec when translating an array column's value.
var elementOIDForArray = map[uint32]uint32{
	pgtype.BoolArrayOID:        pgtype.BoolOID,
	pgtype.Int2ArrayOID:        pgtype.Int2OID,
	pgtype.Int4ArrayOID:        pgtype.Int4OID,
	pgtype.Int8ArrayOID:        pgtype.Int8OID,
	pgtype.Float4ArrayOID:      pgtype.Float4OID,
	pgtype.Float8ArrayOID:      pgtype.Float8OID,
	pgtype.TextArrayOID:        pgtype.TextOID,
	pgtype.VarcharArrayOID:     pgtype.VarcharOID,
	pgtype.ByteaArrayOID:       pgtype.ByteaOID,
	pgtype.DateArrayOID:        pgtype.DateOID,
	pgtype.TimestampArrayOID:   pgtype.TimestampOID,
	pgtype.TimestamptzArrayOID: pgtype.TimestamptzOID,
	pgtype.UUIDArrayOID:        pgtype.UUIDOID,
	pgtype.NumericArrayOID:     pgtype.NumericOID,
	pgtype.JSONArrayOID:        pgtype.JSONOID,
	pgtype.JSONBArrayOID:       pgtype.JSONBOID,
}

// ElementOID reports the element type OID for an array type OID, and
// whether oid is a recognized array type at all.
func ElementOID(oid uint32) (uint32, bool) {
	e, ok := elementOIDForArray[oid]
	return e, ok
}

// ArrayValue is a parsed Postgres array literal: its shape (one length per
// dimension, outermost first) and its elements flattened in row-major
// order, with a nil entry marking a SQL NULL element. A zero-length
// dimension (the `{}` empty-array case) yields Dims == []int32{0} and no
// elements.
type ArrayValue struct {
	Dims  []int32
	Elems []*string
}

type arrayNode struct {
	leaf bool
	val  *string
	kids []arrayNode
}

// ParseTextArray parses a Postgres array literal (`{1,2,NULL,4}`,
// `{{1,2},{3,4}}`, `{}`) into its dimensions and flattened elements,
// rejecting a ragged (non-rectangular) literal with an error, per §4.6's
// "a ragged input is rejected DataError" rule.
func ParseTextArray(s string) (*ArrayValue, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty array literal")
	}
	r := []rune(s)
	if r[0] != '{' {
		return nil, fmt.Errorf("array literal must start with '{'")
	}
	node, end, err := parseArrayNode(r, 0)
	if err != nil {
		return nil, err
	}
	if end != len(r) {
		return nil, fmt.Errorf("trailing data after array literal")
	}
	dims, err := arrayDims(node)
	if err != nil {
		return nil, err
	}
	var elems []*string
	flattenArrayNode(node, &elems)
	return &ArrayValue{Dims: dims, Elems: elems}, nil
}

func parseArrayNode(r []rune, i int) (arrayNode, int, error) {
	if i >= len(r) || r[i] != '{' {
		return arrayNode{}, i, fmt.Errorf("expected '{' at offset %d", i)
	}
	i++
	var kids []arrayNode
	skipSpace := func() {
		for i < len(r) && (r[i] == ' ' || r[i] == '\t' || r[i] == '\n') {
			i++
		}
	}
	skipSpace()
	if i < len(r) && r[i] == '}' {
		return arrayNode{kids: kids}, i + 1, nil
	}
	for {
		skipSpace()
		if i >= len(r) {
			return arrayNode{}, i, fmt.Errorf("unterminated array literal")
		}
		var kid arrayNode
		var err error
		if r[i] == '{' {
			kid, i, err = parseArrayNode(r, i)
		} else {
			kid, i, err = parseArrayLeaf(r, i)
		}
		if err != nil {
			return arrayNode{}, i, err
		}
		kids = append(kids, kid)
		skipSpace()
		if i >= len(r) {
			return arrayNode{}, i, fmt.Errorf("unterminated array literal")
		}
		if r[i] == ',' {
			i++
			continue
		}
		if r[i] == '}' {
			i++
			break
		}
		return arrayNode{}, i, fmt.Errorf("unexpected character %q in array literal", r[i])
	}
	return arrayNode{kids: kids}, i, nil
}

func parseArrayLeaf(r []rune, i int) (arrayNode, int, error) {
	if r[i] == '"' {
		i++
		var b strings.Builder
		for i < len(r) {
			c := r[i]
			if c == '\\' {
				i++
				if i >= len(r) {
					return arrayNode{}, i, fmt.Errorf("unterminated escape in array literal")
				}
				b.WriteRune(r[i])
				i++
				continue
			}
			if c == '"' {
				i++
				s := b.String()
				return arrayNode{leaf: true, val: &s}, i, nil
			}
			b.WriteRune(c)
			i++
		}
		return arrayNode{}, i, fmt.Errorf("unterminated quoted array element")
	}
	var b strings.Builder
	for i < len(r) && r[i] != ',' && r[i] != '}' {
		b.WriteRune(r[i])
		i++
	}
	s := strings.TrimSpace(b.String())
	if strings.EqualFold(s, "NULL") {
		return arrayNode{leaf: true, val: nil}, i, nil
	}
	return arrayNode{leaf: true, val: &s}, i, nil
}

// arrayDims computes the per-dimension lengths of a parsed array,
// rejecting ragged nesting (sibling sub-arrays whose shapes disagree).
func arrayDims(n arrayNode) ([]int32, error) {
	if len(n.kids) == 0 {
		return []int32{0}, nil
	}
	if n.kids[0].leaf {
		for _, k := range n.kids[1:] {
			if !k.leaf {
				return nil, fmt.Errorf("ragged array literal")
			}
		}
		return []int32{int32(len(n.kids))}, nil
	}
	first, err := arrayDims(n.kids[0])
	if err != nil {
		return nil, err
	}
	for _, k := range n.kids[1:] {
		if k.leaf {
			return nil, fmt.Errorf("ragged array literal")
		}
		kd, err := arrayDims(k)
		if err != nil {
			return nil, err
		}
		if len(kd) != len(first) {
			return nil, fmt.Errorf("ragged array literal")
		}
		for i := range kd {
			if kd[i] != first[i] {
				return nil, fmt.Errorf("ragged array literal")
			}
		}
	}
	return append([]int32{int32(len(n.kids))}, first...), nil
}

func flattenArrayNode(n arrayNode, out *[]*string) {
	if n.leaf {
		*out = append(*out, n.val)
		return
	}
	for _, k := range n.kids {
		flattenArrayNode(k, out)
	}
}

// EncodeBinaryArray renders elements (already per-element text, nil for
// SQL NULL) in the standard external binary array layout: ndim, has_nulls,
// elem_oid, then per-dim (length, lbound), then per-element
// (length, bytes), with length -1 and no bytes for a NULL element.
// Each non-NULL element's text form is converted to its binary form with
// encodeElem before being written.
func EncodeBinaryArray(dims []int32, elems []*string, elemOID uint32, encodeElem func(text string) ([]byte, error)) ([]byte, error) {
	var buf bytes.Buffer
	if len(dims) == 1 && dims[0] == 0 {
		binary.Write(&buf, binary.BigEndian, int32(0))
		binary.Write(&buf, binary.BigEndian, int32(0))
		binary.Write(&buf, binary.BigEndian, elemOID)
		return buf.Bytes(), nil
	}

	hasNulls := int32(0)
	for _, e := range elems {
		if e == nil {
			hasNulls = 1
			break
		}
	}
	binary.Write(&buf, binary.BigEndian, int32(len(dims)))
	binary.Write(&buf, binary.BigEndian, hasNulls)
	binary.Write(&buf, binary.BigEndian, elemOID)
	for _, d := range dims {
		binary.Write(&buf, binary.BigEndian, d)
		binary.Write(&buf, binary.BigEndian, int32(1))
	}
	for _, e := range elems {
		if e == nil {
			binary.Write(&buf, binary.BigEndian, int32(-1))
			continue
		}
		b, err := encodeElem(*e)
		if err != nil {
			return nil, err
		}
		binary.Write(&buf, binary.BigEndian, int32(len(b)))
		buf.Write(b)
	}
	return buf.Bytes(), nil
}

// DecodeBinaryArray parses the standard external binary array layout back
// into dimensions and flattened elements, decoding each non-NULL element's
// raw bytes to its text form with decodeElem.
func DecodeBinaryArray(data []byte, decodeElem func(b []byte) (string, error)) (*ArrayValue, error) {
	r := bytes.NewReader(data)
	var ndim, hasNulls, elemOID int32
	if err := binary.Read(r, binary.BigEndian, &ndim); err != nil {
		return nil, fmt.Errorf("read array header: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &hasNulls); err != nil {
		return nil, fmt.Errorf("read array header: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &elemOID); err != nil {
		return nil, fmt.Errorf("read array header: %w", err)
	}
	if ndim == 0 {
		return &ArrayValue{Dims: []int32{0}}, nil
	}

	dims := make([]int32, ndim)
	total := int32(1)
	for i := range dims {
		var length, lbound int32
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			return nil, fmt.Errorf("read array dimension: %w", err)
		}
		if err := binary.Read(r, binary.BigEndian, &lbound); err != nil {
			return nil, fmt.Errorf("read array dimension: %w", err)
		}
		dims[i] = length
		total *= length
	}

	elems := make([]*string, 0, total)
	for i := int32(0); i < total; i++ {
		var ln int32
		if err := binary.Read(r, binary.BigEndian, &ln); err != nil {
			return nil, fmt.Errorf("read array element length: %w", err)
		}
		if ln < 0 {
			elems = append(elems, nil)
			continue
		}
		b := make([]byte, ln)
		if _, err := io.ReadFull(r, b); err != nil {
			return nil, fmt.Errorf("read array element: %w", err)
		}
		s, err := decodeElem(b)
		if err != nil {
			return nil, err
		}
		elems = append(elems, &s)
	}
	return &ArrayValue{Dims: dims, Elems: elems}, nil
}

// EncodeTextArrayDims renders a (possibly multi-dimensional) array's
// dimensions and flattened elements as a nested curly-brace literal,
// generalizing EncodeTextArray to more than one dimension.
func EncodeTextArrayDims(dims []int32, elems []*string) string {
	if len(dims) <= 1 {
		return EncodeTextArray(elems)
	}
	return encodeDimsRec(dims, elems)
}

func encodeDimsRec(dims []int32, elems []*string) string {
	if len(dims) == 1 {
		return EncodeTextArray(elems)
	}
	n := int(dims[0])
	childSize := 1
	for _, d := range dims[1:] {
		childSize *= int(d)
	}
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = encodeDimsRec(dims[1:], elems[i*childSize:(i+1)*childSize])
	}
	return "{" + strings.Join(parts, ",") + "}"
}
