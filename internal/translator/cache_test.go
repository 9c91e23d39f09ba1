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

package translator

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheHitAndMiss(t *testing.T) {
	c := NewCache(8)
	tr := &Translated{SQL: "SELECT 1", StatementTag: "SELECT"}

	_, ok := c.Get("SELECT 1", 1)
	assert.False(t, ok)

	c.Put("SELECT 1", tr, 1)
	got, ok := c.Get("SELECT 1", 1)
	require.True(t, ok)
	assert.Same(t, tr, got)
}

func TestCacheNormalizesWhitespace(t *testing.T) {
	c := NewCache(8)
	c.Put("SELECT  1", &Translated{SQL: "SELECT 1", StatementTag: "SELECT"}, 1)
	_, ok := c.Get("SELECT\n1", 1)
	assert.True(t, ok)
}

func TestCacheInvalidatesOnSchemaVersion(t *testing.T) {
	c := NewCache(8)
	c.Put("SELECT * FROM t", &Translated{SQL: "SELECT * FROM t", StatementTag: "SELECT"}, 1)

	_, ok := c.Get("SELECT * FROM t", 2)
	assert.False(t, ok, "stale entry must not be served")
	assert.Equal(t, 0, c.Len(), "stale entry is dropped on lookup")
}

func TestCacheEvictsNonStickyFirst(t *testing.T) {
	c := NewCache(2)
	// Parameterless SELECT: sticky.
	c.Put("SELECT version()", &Translated{SQL: "SELECT version()", StatementTag: "SELECT"}, 1)
	// Parameterized: not sticky.
	c.Put("SELECT * FROM t WHERE id = $1", &Translated{SQL: "SELECT * FROM t WHERE id = $1", StatementTag: "SELECT"}, 1)

	c.Put("INSERT INTO t VALUES ($1)", &Translated{SQL: "INSERT INTO t VALUES ($1)", StatementTag: "INSERT"}, 1)

	_, ok := c.Get("SELECT version()", 1)
	assert.True(t, ok, "sticky entry survives eviction")
	assert.Equal(t, 2, c.Len())
}

func TestCacheBounded(t *testing.T) {
	c := NewCache(4)
	for i := 0; i < 20; i++ {
		q := fmt.Sprintf("SELECT %d", i)
		c.Put(q, &Translated{SQL: q, StatementTag: "SELECT"}, 1)
	}
	assert.LessOrEqual(t, c.Len(), 4)
}

func TestTranslatorUsesCache(t *testing.T) {
	cache := NewCache(8)
	tr := NewWithCache(nil, cache)

	first, err := tr.Translate("SELECT 1 + 1")
	require.NoError(t, err)
	second, err := tr.Translate("SELECT 1 + 1")
	require.NoError(t, err)
	assert.Same(t, first, second)
}
