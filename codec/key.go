package codec

import "fmt"

// Namespace identifies an entity family within a fully-qualified cache key.
type Namespace string

// FullyQualifiedKey composes the deterministic key
// {meta}_{namespace}:{id}. An empty meta preserves the leading underscore
// so a meta namespace can be introduced later without colliding with the
// unprefixed key space.
func FullyQualifiedKey(meta string, ns Namespace, id string) string {
	return fmt.Sprintf("%s_%s:%s", meta, ns, id)
}

// Lowered returns id lowercased when caseSensitive is false, unchanged
// otherwise. Used for slug/alias namespace keys, which are always
// normalized the same way on write and on read.
func Lowered(id string, caseSensitive bool) string {
	if caseSensitive {
		return id
	}
	return toLower(id)
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
