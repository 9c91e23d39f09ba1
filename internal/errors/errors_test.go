// Copyright 2024 Dolthub, Inc.
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

package errors

import (
	"fmt"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLStateMapping(t *testing.T) {
	tests := []struct {
		kind     Kind
		sqlState string
		severity Severity
	}{
		{KindProtocol, "08P01", SeverityFatal},
		{KindAuth, "28000", SeverityFatal},
		{KindSyntax, "42601", SeverityError},
		{KindFeatureNotSupported, "0A000", SeverityError},
		{KindData, "22000", SeverityError},
		{KindIntegrity, "23000", SeverityError},
		{KindTransaction, "25P02", SeverityError},
		{KindInternal, "XX000", SeverityError},
		{KindSerializationFailure, "40001", SeverityError},
	}
	for _, tt := range tests {
		e := New(tt.kind, "boom")
		assert.Equal(t, tt.sqlState, e.SQLState(), "kind %v", tt.kind)
		assert.Equal(t, tt.severity, e.Severity(), "kind %v", tt.kind)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("disk on fire")
	e := Wrap(KindInternal, cause, "write failed")
	assert.Contains(t, e.Error(), "write failed")
	assert.Contains(t, e.Error(), "disk on fire")
	assert.ErrorIs(t, e, cause)
}

func TestAsClassifiesUnknownErrors(t *testing.T) {
	e := As(fmt.Errorf("something broke"))
	require.NotNil(t, e)
	assert.Equal(t, KindInternal, e.Kind)

	known := New(KindData, "bad value")
	assert.Same(t, known, As(known))

	wrapped := pkgerrors.Wrap(New(KindSyntax, "parse error"), "outer")
	assert.Equal(t, KindSyntax, As(wrapped).Kind)

	assert.Nil(t, As(nil))
}

func TestWithDetail(t *testing.T) {
	e := New(KindData, "invalid input").WithDetail("column mood accepts: happy, sad")
	assert.Equal(t, "column mood accepts: happy, sad", e.Detail)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "data", KindData.String())
	assert.Equal(t, "serialization_failure", KindSerializationFailure.String())
	assert.Equal(t, "unknown", Kind(99).String())
}
