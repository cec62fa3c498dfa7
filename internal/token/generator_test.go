package token

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewTokenIsOpaqueAndUnique(t *testing.T) {
	gen := NewGenerator()

	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		value, err := gen.NewToken()
		require.NoError(t, err)
		require.NotEmpty(t, value)
		require.NotContains(t, value, "=")

		_, dup := seen[value]
		require.False(t, dup, "generator returned a duplicate token")
		seen[value] = struct{}{}
	}
}
