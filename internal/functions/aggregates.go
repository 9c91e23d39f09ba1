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

package functions

import (
	"crypto/md5"
	"fmt"
	"strings"
)

func stringMD5(s string) [16]byte {
	return md5.Sum([]byte(s))
}

// arrayAgg implements array_agg(expr), accumulating into a Postgres array
// literal (see internal/values.EncodeTextArray for the quoting rules this
// mirrors).
type arrayAgg struct {
	elems []string
}

func newArrayAgg() *arrayAgg { return &arrayAgg{} }

func (a *arrayAgg) Step(v any) {
	a.elems = append(a.elems, fmt.Sprint(v))
}

func (a *arrayAgg) Done() string {
	return "{" + strings.Join(a.elems, ",") + "}"
}

// stringAgg implements string_agg(expr, delimiter).
type stringAgg struct {
	parts     []string
	lastDelim string
}

func newStringAgg() *stringAgg { return &stringAgg{} }

func (a *stringAgg) Step(v any, delim string) {
	a.parts = append(a.parts, fmt.Sprint(v))
	a.lastDelim = delim
}

func (a *stringAgg) Done() string {
	return strings.Join(a.parts, a.lastDelim)
}
