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

// Package functions implements the Extension Shims: scalar and aggregate
// SQL functions registered into the embedded engine so translated queries
// can call Postgres built-ins the engine has no native equivalent for.
// Grounded on the teacher's main.go, which registers its own extra
// built-ins into the query engine's catalog at startup
// (engine.Analyzer.Catalog.RegisterFunction(..., myfunc.ExtraBuiltIns...));
// here the registration seam is mattn/go-sqlite3's per-connection
// RegisterFunc/RegisterAggregator, reached through internal/engine's
// ConnectHook (grounded in other_examples/manifests/kqlite-kqlite/go.mod,
// which depends on mattn/go-sqlite3 for the same embedding).
package functions

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strings"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/pgsqlite/pgsqlite/internal/catalog"
	"github.com/pgsqlite/pgsqlite/internal/values"
)

// Register installs the full pgsqlite function catalog into conn. Pass
// this as an engine.ConnectHook.
func Register(conn *sqlite3.SQLiteConn) error {
	scalarFuncs := map[string]any{
		// UUID generation (§4.9).
		"gen_random_uuid":  genRandomUUID,
		"uuid_generate_v4": genRandomUUID,

		"md5":       md5Hex,
		"pg_typeof": pgTypeof,

		// Catalog support: atttypid resolution for the pg_attribute view
		// and the CHECK constraint behind NUMERIC(p,s) columns.
		"pgsqlite_type_oid":     typeOIDOf,
		"pgsqlite_numeric_fits": catalog.NumericFits,

		// JSON path access/containment (§4.4 operator rewrites land here).
		"jsonb_path_query": jsonPathQuery,
		"json_path_query":  jsonPathQuery,
		"json_extract_path": jsonPathQuery,
		"jsonb_extract_path": jsonPathQuery,
		"jsonb_contains":    jsonbContains,
		"jsonb_exists":      jsonbExists,

		// Array containment/unnest helpers. unnest() itself is rewritten
		// by the translator to json_each over this conversion, since the
		// engine's only native rowset source is its JSON table-valued
		// functions.
		"array_to_string":        arrayToString,
		"array_contains":         arrayContains,
		"pgsqlite_array_to_json": arrayToJSON,

		// Text utilities (§4.9).
		"split_part": splitPart,
		"translate":  translateStr,
		"ascii":      asciiOf,
		"chr":        chrOf,
		"repeat":     repeatStr,
		"reverse":    reverseStr,
		"left":       leftStr,
		"right":      rightStr,
		"lpad":       lpad,
		"lpad3":      lpad3,
		"rpad":       rpad,
		"rpad3":      rpad3,

		// Math utilities (§4.9). ROUND(x)/ROUND(x,n) are left to the
		// engine's own built-ins, which already implement them.
		"trunc":  truncFloat,
		"ceil":   math.Ceil,
		"floor":  math.Floor,
		"sign":   signOf,
		"mod":    modOf,
		"power":  math.Pow,
		"sqrt":   math.Sqrt,
		"exp":    math.Exp,
		"ln":     math.Log,
		"log":    math.Log10,
		"sin":    math.Sin,
		"cos":    math.Cos,
		"tan":    math.Tan,
		"asin":   math.Asin,
		"acos":   math.Acos,
		"atan":   math.Atan,
		"random": rand.Float64,
	}
	for name, fn := range scalarFuncs {
		if err := conn.RegisterFunc(name, fn, true); err != nil {
			return fmt.Errorf("register function %s: %w", name, err)
		}
	}

	if err := conn.RegisterAggregator("array_agg", newArrayAgg, true); err != nil {
		return fmt.Errorf("register function array_agg: %w", err)
	}
	if err := conn.RegisterAggregator("string_agg", newStringAgg, true); err != nil {
		return fmt.Errorf("register function string_agg: %w", err)
	}

	return nil
}

func genRandomUUID() string {
	return uuid.New().String()
}

// typeOIDOf resolves a declared SQL type name to its Postgres OID, used
// by the pg_attribute view's atttypid column. The modifier-stripping and
// affinity fallback match what RowDescription reporting does.
func typeOIDOf(declared string) int64 {
	name := declared
	if i := strings.IndexByte(name, '('); i >= 0 {
		name = name[:i]
	}
	name = strings.ToLower(strings.TrimSpace(name))
	return int64(values.OIDForDeclaredType(name, values.AffinityForDeclaredType(name)))
}

func md5Hex(s string) string {
	return fmt.Sprintf("%x", stringMD5(s))
}

func pgTypeof(v any) string {
	switch v.(type) {
	case int64:
		return "bigint"
	case float64:
		return "double precision"
	case string:
		return "text"
	case []byte:
		return "bytea"
	case nil:
		return "unknown"
	default:
		return "text"
	}
}

// jsonPathQuery implements a restricted subset of Postgres's
// jsonb_path_query: simple dotted paths through nested objects only; array
// indexes, bracketed segments and filter expressions are not supported.
// Backs the translated form of the `->`/`->>` operators.
func jsonPathQuery(doc string, path string) (string, error) {
	var v any
	if err := json.Unmarshal([]byte(doc), &v); err != nil {
		return "", err
	}
	for _, seg := range strings.Split(strings.TrimPrefix(path, "$."), ".") {
		if seg == "" {
			continue
		}
		m, ok := v.(map[string]any)
		if !ok {
			return "", nil
		}
		v, ok = m[seg]
		if !ok {
			return "", nil
		}
	}
	out, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// jsonbContains backs the `@>` containment operator: reports whether doc
// structurally contains needle (object subset / array membership).
func jsonbContains(doc, needle string) (bool, error) {
	var d, n any
	if err := json.Unmarshal([]byte(doc), &d); err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(needle), &n); err != nil {
		return false, err
	}
	return jsonContains(d, n), nil
}

func jsonContains(doc, needle any) bool {
	switch nv := needle.(type) {
	case map[string]any:
		dv, ok := doc.(map[string]any)
		if !ok {
			return false
		}
		for k, v := range nv {
			dval, ok := dv[k]
			if !ok || !jsonContains(dval, v) {
				return false
			}
		}
		return true
	case []any:
		dv, ok := doc.([]any)
		if !ok {
			return false
		}
		for _, nItem := range nv {
			found := false
			for _, dItem := range dv {
				if jsonContains(dItem, nItem) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	default:
		return doc == needle
	}
}

// jsonbExists backs the `?` key-existence operator.
func jsonbExists(doc, key string) (bool, error) {
	var v any
	if err := json.Unmarshal([]byte(doc), &v); err != nil {
		return false, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return false, nil
	}
	_, ok = m[key]
	return ok, nil
}

func arrayToString(elems string, sep string) string {
	return strings.Join(strings.Split(strings.Trim(elems, "{}"), ","), sep)
}

// arrayContains backs the array `@>` operator for the text-literal array
// encoding (see internal/values.EncodeTextArray).
func arrayContains(haystack, needle string) bool {
	hElems := strings.Split(strings.Trim(haystack, "{}"), ",")
	nElems := strings.Split(strings.Trim(needle, "{}"), ",")
	for _, n := range nElems {
		found := false
		for _, h := range hElems {
			if strings.TrimSpace(h) == strings.TrimSpace(n) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// arrayToJSON converts the stored curly-brace array literal to a JSON
// array so json_each can iterate it. A NULL element becomes JSON null.
func arrayToJSON(literal string) (string, error) {
	arr, err := values.ParseTextArray(literal)
	if err != nil {
		return "", err
	}
	out := make([]any, len(arr.Elems))
	for i, e := range arr.Elems {
		if e == nil {
			continue
		}
		out[i] = *e
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func splitPart(s, sep string, field int) string {
	parts := strings.Split(s, sep)
	if field < 1 || field > len(parts) {
		return ""
	}
	return parts[field-1]
}

func translateStr(s, from, to string) string {
	var b strings.Builder
	for _, r := range s {
		i := strings.IndexRune(from, r)
		if i < 0 {
			b.WriteRune(r)
			continue
		}
		if i < len(to) {
			b.WriteByte(to[i])
		}
	}
	return b.String()
}

func asciiOf(s string) int {
	if s == "" {
		return 0
	}
	return int(s[0])
}

func chrOf(code int) string {
	return string(rune(code))
}

func repeatStr(s string, n int) string {
	if n < 0 {
		n = 0
	}
	return strings.Repeat(s, n)
}

func reverseStr(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

func leftStr(s string, n int) string {
	r := []rune(s)
	if n < 0 {
		n = 0
	}
	if n > len(r) {
		n = len(r)
	}
	return string(r[:n])
}

func rightStr(s string, n int) string {
	r := []rune(s)
	if n < 0 {
		n = 0
	}
	if n > len(r) {
		n = len(r)
	}
	return string(r[len(r)-n:])
}

func lpad(s string, length int) string { return lpad3(s, length, " ") }

func lpad3(s string, length int, fill string) string {
	r := []rune(s)
	if length <= len(r) {
		return string(r[:max(length, 0)])
	}
	if fill == "" {
		fill = " "
	}
	pad := make([]rune, 0, length-len(r))
	fr := []rune(fill)
	for len(pad) < length-len(r) {
		pad = append(pad, fr[len(pad)%len(fr)])
	}
	return string(pad) + s
}

func rpad(s string, length int) string { return rpad3(s, length, " ") }

func rpad3(s string, length int, fill string) string {
	r := []rune(s)
	if length <= len(r) {
		return string(r[:max(length, 0)])
	}
	if fill == "" {
		fill = " "
	}
	pad := make([]rune, 0, length-len(r))
	fr := []rune(fill)
	for len(pad) < length-len(r) {
		pad = append(pad, fr[len(pad)%len(fr)])
	}
	return s + string(pad)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func truncFloat(f float64) float64 {
	return math.Trunc(f)
}

func signOf(f float64) int {
	switch {
	case f > 0:
		return 1
	case f < 0:
		return -1
	default:
		return 0
	}
}

func modOf(a, b int64) int64 {
	if b == 0 {
		return 0
	}
	return a % b
}
