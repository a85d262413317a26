package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/versatiles/printops/internal/fault"
)

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("print-shop-secret")
	require.NoError(t, err)
	assert.NotEqual(t, "print-shop-secret", hash)

	require.NoError(t, ComparePassword(hash, "print-shop-secret"))
	assert.Error(t, ComparePassword(hash, "print-shop-secreT"))
}

func TestHashPassword_TooLong(t *testing.T) {
	_, err := HashPassword(strings.Repeat("x", 73))
	assert.True(t, fault.Is(err, fault.KindValidation))
}
