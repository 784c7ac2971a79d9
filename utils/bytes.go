// Package utils provides small helpers shared by the framing code and the CLI.
package utils

import "encoding/binary"

// LengthPrefixLen is the size of the little-endian length prefix written by
// LengthPrefixed.
const LengthPrefixLen = 4

// JoinBytes concatenates the given byte slices into a single byte slice.
//
// Parameters:
//   - s: One or more byte slices to concatenate
//
// Returns:
//   - A new byte slice containing all input slices in order
func JoinBytes(s ...[]byte) []byte {
	n := 0
	for _, v := range s {
		n += len(v)
	}

	b, i := make([]byte, n), 0
	for _, v := range s {
		i += copy(b[i:], v)
	}

	return b
}

// LengthPrefixed returns payload preceded by its length as a 4-byte
// little-endian integer, ready to be written as one frame.
//
// Parameters:
//   - payload: The frame body
//
// Returns:
//   - A new slice of len(payload)+4 bytes
func LengthPrefixed(payload []byte) []byte {
	var prefix [LengthPrefixLen]byte
	binary.LittleEndian.PutUint32(prefix[:], uint32(len(payload)))
	return JoinBytes(prefix[:], payload)
}
