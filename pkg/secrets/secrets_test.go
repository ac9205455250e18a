package secrets

import (
	"testing"

	"github.com/stretchr/testify/require"

	dErrors "cardvault/pkg/domain-errors"
)

func TestGenerate(t *testing.T) {
	first, err := Generate()
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := Generate()
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestHashAndVerify(t *testing.T) {
	hash, err := Hash("certifier-api-secret")
	require.NoError(t, err)
	require.NotEqual(t, "certifier-api-secret", hash)

	require.NoError(t, Verify("certifier-api-secret", hash))

	err = Verify("wrong-secret", hash)
	require.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestHashRejectsEmptySecret(t *testing.T) {
	_, err := Hash("")
	require.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}
