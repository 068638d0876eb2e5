// Copyright 2013 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package pathname implements PathName, a string carried in exactly one
// canonical form (percent-encoded UTF-8) across the OS/URL/wire boundaries
// the fileshare client crosses.
package pathname

import (
	"errors"
	"net/url"
)

// ErrDecode is returned by Plain when the stored encoded form does not
// decode to valid UTF-8.
var ErrDecode = errors.New("pathname: cannot decode to valid utf-8")

// reserved is the fixed set of bytes PathName escapes: control bytes plus
// space, '"', '<', '>', '`' and '&'. url.QueryEscape escapes a larger set
// (including '/' and ':'), which is too aggressive for our purposes, so we
// hand-roll the escaping against this exact reserved set instead of
// reaching for the stdlib helper.
func isReserved(b byte) bool {
	if b < 0x20 || b == 0x7f {
		return true
	}
	switch b {
	case ' ', '"', '<', '>', '`', '&':
		return true
	}
	return false
}

const upperhex = "0123456789ABCDEF"

// PathName is a string carried in one canonical form: percent-encoded
// UTF-8. Equality and hashing (as a map key) operate on the encoded form.
type PathName struct {
	encoded string
}

// FromClient builds a PathName from a plain client-supplied string,
// percent-encoding the reserved byte set.
func FromClient(s string) PathName {
	return PathName{encoded: encode(s)}
}

// FromOSPath builds a PathName from a single OS path component. The OS is
// assumed to hand back lossy-but-valid UTF-8; the component is encoded the
// same way a client string would be.
func FromOSPath(s string) PathName {
	return PathName{encoded: encode(s)}
}

// FromEncoded builds a PathName from a string that is already in percent
// encoded wire form; no further encoding is applied.
func FromEncoded(s string) PathName {
	return PathName{encoded: s}
}

func encode(decoded string) string {
	needsEscape := false
	for i := 0; i < len(decoded); i++ {
		if isReserved(decoded[i]) {
			needsEscape = true
			break
		}
	}
	if !needsEscape {
		return decoded
	}

	out := make([]byte, 0, len(decoded)+4)
	for i := 0; i < len(decoded); i++ {
		b := decoded[i]
		if isReserved(b) {
			out = append(out, '%', upperhex[b>>4], upperhex[b&0xf])
		} else {
			out = append(out, b)
		}
	}
	return string(out)
}

// Encoded returns the stored percent-encoded form.
func (p PathName) Encoded() string {
	return p.encoded
}

// Plain decodes the stored form back to UTF-8, failing with ErrDecode on an
// invalid escape sequence or invalid UTF-8 once decoded.
func (p PathName) Plain() (string, error) {
	if p.encoded == "" {
		return "", nil
	}
	// PathUnescape, not QueryUnescape: '+' is not in the reserved set encode
	// escapes, so it must come back unchanged rather than as a space.
	decoded, err := url.PathUnescape(p.encoded)
	if err != nil {
		return "", ErrDecode
	}
	if !isValidUTF8(decoded) {
		return "", ErrDecode
	}
	return decoded, nil
}

func isValidUTF8(s string) bool {
	for _, r := range s {
		if r == '�' {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer, preferring the decoded form and falling
// back to the encoded form when decoding fails.
func (p PathName) String() string {
	if plain, err := p.Plain(); err == nil {
		return plain
	}
	return p.encoded
}

// Equal compares two PathNames on their encoded form.
func (p PathName) Equal(o PathName) bool {
	return p.encoded == o.encoded
}

// Empty reports whether the PathName carries no data.
func (p PathName) Empty() bool {
	return p.encoded == ""
}
