// Package tableid mints lexicographically time-ordered identifiers for
// tables, hands, and escrows: a UUIDv7 rendered as 26 characters of
// Crockford base32.
package tableid

import (
	"fmt"

	"github.com/google/uuid"
)

const alphabet = "0123456789abcdefghjkmnpqrstvwxyz"

// New returns a fresh identifier. Panics only if the system's entropy
// source is broken, which is unrecoverable anyway.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		panic("tableid: uuid generation failed: " + err.Error())
	}
	return encode(id)
}

// encode renders the 128-bit UUID as 26 base32 characters, five bits at
// a time, most significant first. The first character carries only three
// significant bits, so it is always in 0-7.
func encode(id uuid.UUID) string {
	var out [26]byte
	for i := 0; i < 26; i++ {
		bitOffset := i * 5
		byteIndex := bitOffset / 8
		bitIndex := bitOffset % 8

		var v uint8
		if bitIndex <= 3 {
			v = (id[byteIndex] >> (3 - bitIndex)) & 0x1f
		} else {
			v = (id[byteIndex] << (bitIndex - 3)) & 0x1f
			if byteIndex+1 < 16 {
				v |= id[byteIndex+1] >> (11 - bitIndex)
			}
		}
		out[i] = alphabet[v]
	}
	return string(out[:])
}

// Validate checks that an identifier is well formed
func Validate(id string) error {
	if len(id) != 26 {
		return fmt.Errorf("id must be 26 characters, got %d", len(id))
	}
	if id[0] > '7' {
		return fmt.Errorf("id first character must be 0-7, got %c", id[0])
	}
	for i := 0; i < len(id); i++ {
		if !validChar(id[i]) {
			return fmt.Errorf("invalid character %c at position %d", id[i], i)
		}
	}
	return nil
}

func validChar(c byte) bool {
	for i := 0; i < len(alphabet); i++ {
		if alphabet[i] == c {
			return true
		}
	}
	return false
}
