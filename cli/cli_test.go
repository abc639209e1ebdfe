package cli

import (
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"

	"github.com/rentstore/rentstore/lease"
)

func TestParseAmount(t *testing.T) {
	v, err := ParseAmount("1000000000000000000000")
	require.NoError(t, err)
	require.Equal(t, "1000000000000000000000", v.String())

	v, err = ParseAmount("0")
	require.NoError(t, err)
	require.Zero(t, v.Sign())

	for _, bad := range []string{"", "-1", "1.5", "0x10", "ten"} {
		_, err := ParseAmount(bad)
		require.Error(t, err, bad)
	}
}

func TestStateColor(t *testing.T) {
	color.NoColor = true
	defer func() { color.NoColor = false }()

	for _, s := range []lease.State{lease.StateActive, lease.StateBreached, lease.StateExpired} {
		require.Equal(t, string(s), stateColor(s))
	}
}
