package chaincode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterOracleIsAdminOnly(t *testing.T) {
	f := newBridge(t, 3)

	err := f.contract.RegisterOracle(f.as("alice"), "oracle1")
	require.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, f.contract.RegisterOracle(f.asAdmin(), "oracle1"))
	require.NoError(t, f.contract.RegisterOracle(f.asAdmin(), "oracle2"))

	err = f.contract.RegisterOracle(f.asAdmin(), "oracle1")
	require.ErrorIs(t, err, ErrAlreadyExists)

	err = f.contract.RegisterOracle(f.asAdmin(), "")
	require.ErrorIs(t, err, ErrInvalidConfig)

	oracles, err := f.contract.GetOracles(f.as("alice"))
	require.NoError(t, err)
	require.Equal(t, []string{"oracle1", "oracle2"}, oracles)

	stats, err := f.contract.GetStats(f.as("alice"))
	require.NoError(t, err)
	require.Equal(t, uint64(2), stats.OracleCount)
}

func TestUnregisterOracle(t *testing.T) {
	f := newBridge(t, 3)
	f.registerOracles("oracle1", "oracle2")

	err := f.contract.UnregisterOracle(f.as("oracle1"), "oracle1")
	require.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, f.contract.UnregisterOracle(f.asAdmin(), "oracle1"))

	err = f.contract.UnregisterOracle(f.asAdmin(), "oracle1")
	require.ErrorIs(t, err, ErrNotFound)

	oracles, err := f.contract.GetOracles(f.as("alice"))
	require.NoError(t, err)
	require.Equal(t, []string{"oracle2"}, oracles)

	stats, err := f.contract.GetStats(f.as("alice"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), stats.OracleCount)

	// A removed oracle loses all oracle powers immediately.
	err = f.contract.Attest(f.as("oracle1"), "oracle1", "alice", ref1, 149, 1, true)
	require.ErrorIs(t, err, ErrUnauthorized)
}
