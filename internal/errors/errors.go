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

// Package errors defines the pgsqlite error taxonomy and its mapping onto
// Postgres SQLSTATE codes and ErrorResponse severities.
package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error the way a Postgres client expects to see it
// distinguished: by SQLSTATE class, not by Go error type.
type Kind int

const (
	KindProtocol Kind = iota
	KindAuth
	KindSyntax
	KindFeatureNotSupported
	KindData
	KindIntegrity
	KindTransaction
	KindInternal
	KindSerializationFailure
)

var kindNames = map[Kind]string{
	KindProtocol:             "protocol",
	KindAuth:                 "auth",
	KindSyntax:               "syntax",
	KindFeatureNotSupported:  "feature_not_supported",
	KindData:                 "data",
	KindIntegrity:            "integrity",
	KindTransaction:          "transaction",
	KindInternal:             "internal",
	KindSerializationFailure: "serialization_failure",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// Severity mirrors the ErrorResponse severity field values from the wire
// protocol (PostgreSQL Protocol Message Formats, ErrorResponse).
type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityFatal   Severity = "FATAL"
	SeverityPanic   Severity = "PANIC"
	SeverityWarning Severity = "WARNING"
	SeverityNotice  Severity = "NOTICE"
	SeverityDebug   Severity = "DEBUG"
	SeverityInfo    Severity = "INFO"
	SeverityLog     Severity = "LOG"
)

type kindInfo struct {
	sqlState string
	severity Severity
}

var kindTable = map[Kind]kindInfo{
	KindProtocol:             {"08P01", SeverityFatal},
	KindAuth:                 {"28000", SeverityFatal},
	KindSyntax:               {"42601", SeverityError},
	KindFeatureNotSupported:  {"0A000", SeverityError},
	KindData:                 {"22000", SeverityError},
	KindIntegrity:            {"23000", SeverityError},
	KindTransaction:          {"25P02", SeverityError},
	KindInternal:             {"XX000", SeverityError},
	KindSerializationFailure: {"40001", SeverityError},
}

// Error is a pgsqlite error carrying the SQLSTATE-shaped information a
// client needs, plus a wrapped cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Detail  string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// SQLState returns the five-character SQLSTATE code for this error's Kind.
func (e *Error) SQLState() string { return kindTable[e.Kind].sqlState }

// Severity returns the ErrorResponse severity for this error's Kind.
func (e *Error) Severity() Severity { return kindTable[e.Kind].severity }

// New creates an Error of the given Kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates cause with a stack trace (via pkg/errors) and classifies
// it under kind, attaching a human-readable message.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: errors.WithStack(cause)}
}

// WithDetail attaches a DETAIL field, sent verbatim in ErrorResponse.
func (e *Error) WithDetail(detail string) *Error {
	e.Detail = detail
	return e
}

// As classifies any error into a pgsqlite *Error, defaulting to
// KindInternal when err does not already carry classification.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return &Error{Kind: KindInternal, Message: err.Error(), cause: err}
}
