package resources_test

import (
	"strings"
	"testing"

	"github.com/jrsteele09/go-oidc-engine/resources"
	"github.com/stretchr/testify/require"
)

func TestParseScopeValues(t *testing.T) {
	t.Run("plain and parameterized scopes", func(t *testing.T) {
		result := resources.ParseScopeValues(strings.Fields("openid api1 transaction:123"))
		require.True(t, result.Succeeded())
		require.Len(t, result.ParsedScopes, 3)
		require.Equal(t, resources.ParsedScopeValue{RawValue: "openid", ParsedName: "openid"}, result.ParsedScopes[0])
		require.Equal(t, "transaction", result.ParsedScopes[2].ParsedName)
		require.Equal(t, "123", result.ParsedScopes[2].ParsedParameter)
	})

	t.Run("round trip preserves raw values", func(t *testing.T) {
		raw := []string{"openid", "profile", "transaction:abc", "api1"}
		result := resources.ParseScopeValues(raw)
		require.True(t, result.Succeeded())
		require.Equal(t, raw, resources.RawValues(result.ParsedScopes))
	})

	t.Run("duplicate raw values collapse", func(t *testing.T) {
		result := resources.ParseScopeValues([]string{"api1", "api1", "transaction:1", "transaction:1"})
		require.True(t, result.Succeeded())
		require.Len(t, result.ParsedScopes, 2)
	})

	t.Run("same name with different parameters is rejected", func(t *testing.T) {
		result := resources.ParseScopeValues([]string{"transaction:1", "transaction:2"})
		require.False(t, result.Succeeded())
		require.Len(t, result.Errors, 1)
		require.Equal(t, "transaction:2", result.Errors[0].RawValue)
	})

	t.Run("malformed parameterized scope", func(t *testing.T) {
		result := resources.ParseScopeValues([]string{":123", "name:"})
		require.False(t, result.Succeeded())
		require.Len(t, result.Errors, 2)
	})
}
