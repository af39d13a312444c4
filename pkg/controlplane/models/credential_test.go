package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPasswordWithCost("correct-horse", 4)
	require.NoError(t, err)

	assert.True(t, VerifyPassword("correct-horse", hash))
	assert.False(t, VerifyPassword("Correct-horse", hash))
	assert.True(t, NeedsRehash(hash))
}

func TestValidatePassword(t *testing.T) {
	assert.ErrorIs(t, ValidatePassword("short"), ErrPasswordTooShort)
	assert.ErrorIs(t, ValidatePassword(strings.Repeat("x", 73)), ErrPasswordTooLong)
	assert.NoError(t, ValidatePassword("eight888"))
}

func TestNeedsRehash_Garbage(t *testing.T) {
	assert.True(t, NeedsRehash("not-a-hash"))
}
