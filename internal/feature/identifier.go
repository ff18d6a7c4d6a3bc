// Package feature derives stable feature identifiers, URIs and scalar values
// from study metadata. Everything here is deterministic so that re-ingesting
// an unchanged bundle reproduces the exact same feature namespace.
package feature

import (
	"crypto/sha1"
	"fmt"
	"strings"
)

// HashedIdentifier returns the upper-case hex SHA-1 of name‖units‖conditions.
// Empty strings stand in for missing parts, so the identifier is total.
func HashedIdentifier(name, units, conditions string) string {
	var b strings.Builder
	b.WriteString(name)
	b.WriteString(units)
	b.WriteString(conditions)

	sum := sha1.Sum([]byte(b.String()))
	return strings.ToUpper(fmt.Sprintf("%x", sum))
}
