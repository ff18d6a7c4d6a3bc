package feature

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashedIdentifierDeterministic(t *testing.T) {
	a := HashedIdentifier("LC50", "mg/L", `{"species":"Daphnia magna"}`)
	b := HashedIdentifier("LC50", "mg/L", `{"species":"Daphnia magna"}`)

	assert.Equal(t, a, b)
	assert.Len(t, a, 40)
	assert.Regexp(t, regexp.MustCompile(`^[0-9A-F]{40}$`), a)
}

func TestHashedIdentifierEmptyParts(t *testing.T) {
	// SHA-1 of the empty string
	assert.Equal(t, "DA39A3EE5E6B4B0D3255BFEF95601890AFD80709", HashedIdentifier("", "", ""))
}

func TestHashedIdentifierDistinguishesInputs(t *testing.T) {
	assert.NotEqual(t,
		HashedIdentifier("LC50", "mg/L", ""),
		HashedIdentifier("LC50", "mg/kg", ""),
	)
	assert.NotEqual(t,
		HashedIdentifier("LC50", "", ""),
		HashedIdentifier("LD50", "", ""),
	)
}

func TestHashedIdentifierConcatenationOrder(t *testing.T) {
	// name‖units‖conditions, not any other arrangement
	assert.Equal(t, HashedIdentifier("ab", "c", ""), HashedIdentifier("ab", "", "c"))
	assert.Equal(t, HashedIdentifier("a", "bc", ""), HashedIdentifier("abc", "", ""))
}
