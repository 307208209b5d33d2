// Package ir provides the value model shared by every other package.
//
// This package contains type descriptions, values, the binary row codec and
// the canonical JSON rendering handed to external callers. All other internal
// packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Value is a sealed interface; only the types in value.go implement it
//   - Every Value is checked against its declared Type before it is encoded
//   - Encode/Decode are byte stable: decode(encode(v)) == v for every type
//   - Canonical JSON uses snake_case keys in RFC 8785 order and NFC strings
package ir
