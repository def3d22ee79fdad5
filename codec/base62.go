// Package codec composes fully-qualified cache keys and (de)serializes the
// envelope every cached value is stored under.
package codec

import "strings"

const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// ToBase62 encodes a numeric id in the alphabet used for short ids
// (digits, then uppercase, then lowercase — matches the original Rust
// ariadne::ids::base62_impl encoding).
func ToBase62(num uint64) string {
	if num == 0 {
		return string(base62Alphabet[0])
	}

	var buf [16]byte
	i := len(buf)
	for num > 0 {
		i--
		buf[i] = base62Alphabet[num%62]
		num /= 62
	}
	return string(buf[i:])
}

// ParseBase62 decodes a base-62 short id back to its numeric canonical key.
// Returns ok=false if s contains a character outside the alphabet.
func ParseBase62(s string) (num uint64, ok bool) {
	if s == "" {
		return 0, false
	}
	for _, c := range s {
		idx := strings.IndexRune(base62Alphabet, c)
		if idx < 0 {
			return 0, false
		}
		num = num*62 + uint64(idx)
	}
	return num, true
}
