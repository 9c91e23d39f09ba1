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
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	pgerrors "github.com/pgsqlite/pgsqlite/internal/errors"
)

// TextRecoder converts client-encoded query text to UTF-8 when the
// session negotiated a client_encoding other than UTF8 at startup. The
// engine stores and compares UTF-8 only.
type TextRecoder struct {
	enc encoding.Encoding
}

// Keyed by the normalized encoding name: upper-cased with the `-`/`_`
// separators dropped, so LATIN1, latin1, ISO-8859-1, and ISO_8859_1 all
// resolve the same way.
var clientEncodings = map[string]encoding.Encoding{
	"LATIN1":   charmap.ISO8859_1,
	"ISO88591": charmap.ISO8859_1,
	"LATIN2":   charmap.ISO8859_2,
	"ISO88592": charmap.ISO8859_2,
	"LATIN9":   charmap.ISO8859_15,
	"WIN1250":  charmap.Windows1250,
	"WIN1251":  charmap.Windows1251,
	"WIN1252":  charmap.Windows1252,
}

func normalizeEncodingName(clientEncoding string) string {
	name := strings.ToUpper(clientEncoding)
	name = strings.ReplaceAll(name, "-", "")
	return strings.ReplaceAll(name, "_", "")
}

// NewTextRecoder returns a recoder for the given client_encoding name, or
// nil when the encoding is UTF-8 and no conversion is needed. An encoding
// pgsqlite cannot convert is reported as FeatureNotSupported so the
// client sees a clean startup error instead of corrupted text.
func NewTextRecoder(clientEncoding string) (*TextRecoder, error) {
	name := normalizeEncodingName(clientEncoding)
	switch name {
	case "", "UTF8", "UNICODE":
		return nil, nil
	}
	enc, ok := clientEncodings[name]
	if !ok {
		return nil, pgerrors.New(pgerrors.KindFeatureNotSupported, "client_encoding %q is not supported", clientEncoding)
	}
	return &TextRecoder{enc: enc}, nil
}

// ToUTF8 converts client-encoded bytes to a UTF-8 string. A nil receiver
// passes the input through, so callers can hold a *TextRecoder
// unconditionally.
func (r *TextRecoder) ToUTF8(s string) (string, error) {
	if r == nil {
		return s, nil
	}
	out, _, err := transform.String(r.enc.NewDecoder(), s)
	if err != nil {
		return "", pgerrors.Wrap(pgerrors.KindData, err, "convert client-encoded text")
	}
	return out, nil
}
