// Package cachekey computes deterministic fingerprints for call
// signatures so that sessions, credential records and regional clients
// can be deduplicated by value rather than by pointer identity.
package cachekey

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spaolacci/murmur3"
)

// Sum renders every positional value with its default string
// representation, appends key:value pairs sorted by key and hashes the
// concatenation. Two signatures whose renderings are equal share a
// fingerprint, distinct values with identical renderings collide.
func Sum(args []any, kv map[string]string) uint64 {
	var b strings.Builder

	for _, arg := range args {
		fmt.Fprintf(&b, "%v", arg)
	}

	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte(':')
		b.WriteString(kv[k])
	}

	return murmur3.Sum64([]byte(b.String()))
}

// Hex renders a fingerprint the way it is used in file and keyring
// names.
func Hex(key uint64) string {
	return fmt.Sprintf("%016x", key)
}
