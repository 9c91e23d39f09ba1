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

// Package values implements the Value Translator: conversion between the
// embedded engine's column affinities and Postgres wire types, and the
// text/binary encoding of values for each OID.
package values

import (
	"github.com/jackc/pgx/v5/pgtype"
)

// Affinity is one of SQLite's five storage classes.
type Affinity string

const (
	AffinityInteger Affinity = "INTEGER"
	AffinityReal    Affinity = "REAL"
	AffinityText    Affinity = "TEXT"
	AffinityBlob    Affinity = "BLOB"
	AffinityNumeric Affinity = "NUMERIC"
)

// AffinityType pairs a storage affinity with the declared type modifier
// carried alongside it (e.g. VARCHAR(32) keeps affinity TEXT and modifier
// "VARCHAR(32)"; NUMERIC(10,2) keeps affinity NUMERIC and modifier
// "NUMERIC(10,2)"). This mirrors the teacher's duckType{str, extra}
// pairing of base type name and length/precision suffix.
type AffinityType struct {
	Affinity Affinity
	Declared string
}

// declaredTypeToOID maps a SQL declared type (as it appears in CREATE
// TABLE, lower-cased, with any (n) or (p,s) stripped) to its Postgres OID.
// Unrecognized declared types fall back to their storage affinity's OID.
var declaredTypeToOID = map[string]uint32{
	"boolean":          pgtype.BoolOID,
	"bool":             pgtype.BoolOID,
	"smallint":         pgtype.Int2OID,
	"int2":             pgtype.Int2OID,
	"integer":          pgtype.Int4OID,
	"int":              pgtype.Int4OID,
	"int4":             pgtype.Int4OID,
	"serial":           pgtype.Int4OID,
	"bigint":           pgtype.Int8OID,
	"int8":             pgtype.Int8OID,
	"bigserial":        pgtype.Int8OID,
	"real":             pgtype.Float4OID,
	"float4":           pgtype.Float4OID,
	"double precision": pgtype.Float8OID,
	"float8":           pgtype.Float8OID,
	"numeric":          pgtype.NumericOID,
	"decimal":          pgtype.NumericOID,
	"varchar":          pgtype.VarcharOID,
	"character varying": pgtype.VarcharOID,
	"char":             pgtype.BPCharOID,
	"bpchar":           pgtype.BPCharOID,
	"text":             pgtype.TextOID,
	"bytea":            pgtype.ByteaOID,
	"blob":             pgtype.ByteaOID,
	"date":             pgtype.DateOID,
	"time":             pgtype.TimeOID,
	"timestamp":        pgtype.TimestampOID,
	"timestamptz":      pgtype.TimestamptzOID,
	"timestamp with time zone": pgtype.TimestamptzOID,
	"uuid":             pgtype.UUIDOID,
	"json":             pgtype.JSONOID,
	"jsonb":            pgtype.JSONBOID,
}

// affinityFallbackOID is used when a declared type has no direct OID
// mapping; it defaults to the coarse affinity the engine actually stores
// the column as.
var affinityFallbackOID = map[Affinity]uint32{
	AffinityInteger: pgtype.Int8OID,
	AffinityReal:    pgtype.Float8OID,
	AffinityText:    pgtype.TextOID,
	AffinityBlob:    pgtype.ByteaOID,
	AffinityNumeric: pgtype.NumericOID,
}

// OIDForDeclaredType resolves the Postgres OID a column should report in
// RowDescription, given its normalized declared type name (already
// stripped of length/precision) and its engine storage affinity.
func OIDForDeclaredType(declared string, affinity Affinity) uint32 {
	if oid, ok := declaredTypeToOID[declared]; ok {
		return oid
	}
	if oid, ok := affinityFallbackOID[affinity]; ok {
		return oid
	}
	return pgtype.TextOID
}

// AffinityForDeclaredType computes SQLite's type-affinity rules (see
// SQLite §3.1) from a column's declared type string.
func AffinityForDeclaredType(declared string) Affinity {
	switch {
	case containsAny(declared, "int"):
		return AffinityInteger
	case containsAny(declared, "char", "clob", "text"):
		return AffinityText
	case containsAny(declared, "blob") || declared == "":
		return AffinityBlob
	case containsAny(declared, "real", "floa", "doub"):
		return AffinityReal
	default:
		return AffinityNumeric
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if indexFold(s, sub) {
			return true
		}
	}
	return false
}

// indexFold reports whether sub occurs in s, case-insensitively, without
// pulling in strings.ToLower allocations for the common short-string case.
func indexFold(s, sub string) bool {
	n, m := len(s), len(sub)
	if m == 0 {
		return true
	}
	for i := 0; i+m <= n; i++ {
		match := true
		for j := 0; j < m; j++ {
			c1, c2 := s[i+j], sub[j]
			if 'A' <= c1 && c1 <= 'Z' {
				c1 += 'a' - 'A'
			}
			if 'A' <= c2 && c2 <= 'Z' {
				c2 += 'a' - 'A'
			}
			if c1 != c2 {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
