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
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/cockroachdb/apd/v3"
)

// The binary NUMERIC wire layout: int16 ndigits, int16 weight, uint16
// sign, uint16 dscale, then ndigits base-10000 digit groups as int16,
// most significant first. weight is the power of 10000 of the first
// group; dscale is the number of base-10 fractional digits displayed.
const (
	numericPos = 0x0000
	numericNeg = 0x4000
	numericNaN = 0xC000
)

// encodeNumericBinary renders d in the binary NUMERIC wire layout.
func encodeNumericBinary(d *apd.Decimal, buf []byte) ([]byte, error) {
	if d.Form == apd.NaN || d.Form == apd.NaNSignaling {
		return appendNumericHeader(buf, 0, 0, numericNaN, 0), nil
	}
	if d.Form != apd.Finite {
		return nil, fmt.Errorf("cannot encode %s as numeric", d.String())
	}

	sign := uint16(numericPos)
	if d.Negative {
		sign = numericNeg
	}

	text := d.Text('f')
	text = strings.TrimPrefix(text, "-")
	intPart, fracPart, _ := strings.Cut(text, ".")
	dscale := uint16(len(fracPart))

	intPart = strings.TrimLeft(intPart, "0")
	pointPos := len(intPart)
	combined := intPart + fracPart

	leftPad := (4 - pointPos%4) % 4
	if pointPos == 0 {
		leftPad = 0
	}
	padded := strings.Repeat("0", leftPad) + combined
	if rem := len(padded) % 4; rem != 0 {
		padded += strings.Repeat("0", 4-rem)
	}

	weight := int16((pointPos+leftPad)/4 - 1)
	groups := make([]int16, 0, len(padded)/4)
	for i := 0; i < len(padded); i += 4 {
		var g int16
		for j := 0; j < 4; j++ {
			g = g*10 + int16(padded[i+j]-'0')
		}
		groups = append(groups, g)
	}

	// Postgres stores the shortest digit string: leading zero groups move
	// the weight down, trailing zero groups are simply dropped.
	for len(groups) > 0 && groups[0] == 0 {
		groups = groups[1:]
		weight--
	}
	for len(groups) > 0 && groups[len(groups)-1] == 0 {
		groups = groups[:len(groups)-1]
	}
	if len(groups) == 0 {
		weight = 0
		sign = numericPos
	}

	buf = appendNumericHeader(buf, int16(len(groups)), weight, sign, dscale)
	for _, g := range groups {
		buf = binary.BigEndian.AppendUint16(buf, uint16(g))
	}
	return buf, nil
}

func appendNumericHeader(buf []byte, ndigits, weight int16, sign, dscale uint16) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(ndigits))
	buf = binary.BigEndian.AppendUint16(buf, uint16(weight))
	buf = binary.BigEndian.AppendUint16(buf, sign)
	buf = binary.BigEndian.AppendUint16(buf, dscale)
	return buf
}

// decodeNumericBinary parses the binary NUMERIC wire layout back into its
// canonical decimal text form.
func decodeNumericBinary(data []byte) (string, error) {
	if len(data) < 8 {
		return "", fmt.Errorf("numeric binary value too short: %d bytes", len(data))
	}
	ndigits := int(int16(binary.BigEndian.Uint16(data[0:2])))
	weight := int(int16(binary.BigEndian.Uint16(data[2:4])))
	sign := binary.BigEndian.Uint16(data[4:6])
	dscale := int(binary.BigEndian.Uint16(data[6:8]))

	if sign == numericNaN {
		return "NaN", nil
	}
	if sign != numericPos && sign != numericNeg {
		return "", fmt.Errorf("invalid numeric sign %#04x", sign)
	}
	if len(data) < 8+2*ndigits {
		return "", fmt.Errorf("numeric binary value truncated: %d digit groups declared", ndigits)
	}

	digits := make([]int, ndigits)
	for i := range digits {
		digits[i] = int(int16(binary.BigEndian.Uint16(data[8+2*i : 10+2*i])))
	}

	var b strings.Builder
	if sign == numericNeg {
		b.WriteByte('-')
	}

	if weight >= 0 {
		for i := 0; i <= weight; i++ {
			g := 0
			if i < len(digits) {
				g = digits[i]
			}
			if i == 0 {
				fmt.Fprintf(&b, "%d", g)
			} else {
				fmt.Fprintf(&b, "%04d", g)
			}
		}
	} else {
		b.WriteByte('0')
	}

	if dscale > 0 {
		var frac strings.Builder
		for i := weight + 1; frac.Len() < dscale; i++ {
			g := 0
			if i >= 0 && i < len(digits) {
				g = digits[i]
			}
			fmt.Fprintf(&frac, "%04d", g)
		}
		b.WriteByte('.')
		b.WriteString(frac.String()[:dscale])
	}
	return b.String(), nil
}
