package utils

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/require"
)

// SetTestFlag overrides the registered flag `name` until `t` and its subtests finish, then restores the prior value.
func SetTestFlag(t *testing.T, name, value string) {
	t.Helper()
	registered := flag.Lookup(name)
	require.NotNil(t, registered, "Flag %s is not registered", name)
	previous := registered.Value.String()
	require.NoError(t, flag.Set(name, value), "Failed to set flag %s to %q", name, value)
	t.Cleanup(func() {
		if err := flag.Set(name, previous); err != nil {
			t.Errorf("Failed to restore flag %s to %q: %v", name, previous, err)
		}
	})
}
