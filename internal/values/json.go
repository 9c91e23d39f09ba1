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
	"encoding/json"
	"unicode/utf8"

	pgerrors "github.com/pgsqlite/pgsqlite/internal/errors"
)

// jsonbVersion is the leading version byte of the binary JSONB wire form.
const jsonbVersion = 1

// ValidateJSON checks a JSON/JSONB input value for UTF-8 and JSON
// well-formedness before it is handed to the engine, per the Value
// Translator's input-validation contract.
func ValidateJSON(s string) error {
	if !utf8.ValidString(s) {
		return pgerrors.New(pgerrors.KindData, "invalid byte sequence in JSON value")
	}
	if !json.Valid([]byte(s)) {
		return pgerrors.New(pgerrors.KindData, "invalid input syntax for type json")
	}
	return nil
}

// encodeJSON renders a JSON or JSONB column value as wire bytes. The text
// form of both is the raw UTF-8 document; the binary JSONB form carries a
// one-byte version prefix.
func encodeJSON(text string, jsonb, binaryFormat bool, buf []byte) []byte {
	if jsonb && binaryFormat {
		buf = append(buf, jsonbVersion)
	}
	return append(buf, text...)
}

// decodeJSONParam parses a client-supplied JSON or JSONB parameter,
// stripping the binary JSONB version prefix and validating the document.
func decodeJSONParam(data []byte, jsonb, binaryFormat bool) (string, error) {
	if jsonb && binaryFormat {
		if len(data) == 0 || data[0] != jsonbVersion {
			return "", pgerrors.New(pgerrors.KindData, "unsupported jsonb version")
		}
		data = data[1:]
	}
	s := string(data)
	if err := ValidateJSON(s); err != nil {
		return "", err
	}
	return s, nil
}
