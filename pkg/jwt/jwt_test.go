package jwt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateParse_RoundTrip(t *testing.T) {
	tok, err := Generate("secret", "u-1", "t-1", "operator", "stock-ledger", 5)
	require.NoError(t, err)

	claims, err := Parse("secret", tok)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, "t-1", claims.TenantID)
	assert.Equal(t, "operator", claims.Role)
}

func TestParse_FirmaIncorrecta(t *testing.T) {
	tok, err := Generate("secret", "u-1", "t-1", "operator", "stock-ledger", 5)
	require.NoError(t, err)

	_, err = Parse("otro", tok)
	assert.Error(t, err)
}

func TestParse_SinTenant(t *testing.T) {
	tok, err := Generate("secret", "u-1", "", "operator", "stock-ledger", 5)
	require.NoError(t, err)

	_, err = Parse("secret", tok)
	assert.Error(t, err)
}

func TestParse_Expirado(t *testing.T) {
	tok, err := Generate("secret", "u-1", "t-1", "operator", "stock-ledger", -1)
	require.NoError(t, err)

	_, err = Parse("secret", tok)
	assert.Error(t, err)
}
