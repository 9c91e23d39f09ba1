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

package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatementLifecycle(t *testing.T) {
	s := New(nil, nil)

	h := s.AddStatement("stmt1", &PreparedStatement{Name: "stmt1", SQL: "SELECT 1"})
	ps, got, ok := s.Statement("stmt1")
	require.True(t, ok)
	assert.Equal(t, h, got)
	assert.Equal(t, "SELECT 1", ps.SQL)

	byHandle := s.StatementByHandle(h)
	require.NotNil(t, byHandle)
	assert.Same(t, ps, byHandle)

	s.CloseStatement("stmt1")
	_, _, ok = s.Statement("stmt1")
	assert.False(t, ok)
	assert.Nil(t, s.StatementByHandle(h))
}

func TestUnnamedStatementReplaced(t *testing.T) {
	s := New(nil, nil)

	h1 := s.AddStatement("", &PreparedStatement{SQL: "SELECT 1"})
	h2 := s.AddStatement("", &PreparedStatement{SQL: "SELECT 2"})
	assert.Equal(t, h1, h2, "the unnamed statement reuses its slot")

	ps, _, ok := s.Statement("")
	require.True(t, ok)
	assert.Equal(t, "SELECT 2", ps.SQL)
}

func TestHandleRecycling(t *testing.T) {
	s := New(nil, nil)

	h1 := s.AddStatement("a", &PreparedStatement{SQL: "SELECT 1"})
	s.CloseStatement("a")
	h2 := s.AddStatement("b", &PreparedStatement{SQL: "SELECT 2"})
	assert.Equal(t, h1, h2, "closed slots are recycled")
}

func TestPortalLifecycle(t *testing.T) {
	s := New(nil, nil)

	sh := s.AddStatement("q", &PreparedStatement{SQL: "SELECT 1"})
	ph := s.AddPortal("p", &Portal{Name: "p", Statement: sh})

	p, got, ok := s.Portal("p")
	require.True(t, ok)
	assert.Equal(t, ph, got)
	assert.Equal(t, sh, p.Statement)

	s.ClosePortal("p")
	_, _, ok = s.Portal("p")
	assert.False(t, ok)
}

func TestClosingMissingNamesIsANoop(t *testing.T) {
	s := New(nil, nil)
	s.CloseStatement("ghost")
	s.ClosePortal("ghost")
}

func TestDiscardAll(t *testing.T) {
	s := New(nil, nil)
	s.AddStatement("a", &PreparedStatement{SQL: "SELECT 1"})
	s.AddPortal("p", &Portal{Name: "p"})
	s.Set("application_name", "test")

	s.DiscardAll()

	_, _, ok := s.Statement("a")
	assert.False(t, ok)
	_, _, ok = s.Portal("p")
	assert.False(t, ok)
	_, ok = s.Get("application_name")
	assert.False(t, ok)

	enc, ok := s.Get("client_encoding")
	require.True(t, ok)
	assert.Equal(t, "UTF8", enc)
}

func TestSettings(t *testing.T) {
	s := New(nil, nil)
	s.Set("DateStyle", "ISO, MDY")
	v, ok := s.Get("DateStyle")
	require.True(t, ok)
	assert.Equal(t, "ISO, MDY", v)
}

func TestNextBackendPIDMonotonic(t *testing.T) {
	a := NextBackendPID()
	b := NextBackendPID()
	assert.Greater(t, b, a)
}
