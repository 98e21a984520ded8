package chaincode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const ref1 = "1111111111111111111111111111111111111111111111111111111111111111"

func attest(f *fixture, oracle, to, ref string, amount uint64) error {
	return f.contract.Attest(f.as(oracle), oracle, to, ref, amount, 1, true)
}

// Threshold 3: attestations 1 and 2 only count, attestation 3
// settles with exactly one outbound transfer, attestation 4 bounces.
func TestAttestSettlesExactlyOnceAtThreshold(t *testing.T) {
	f := newBridge(t, 3)
	f.registerOracles("oracle1", "oracle2", "oracle3", "oracle4")

	require.NoError(t, attest(f, "oracle1", "alice", ref1, 149))

	receipt, err := f.contract.GetReceipt(f.as("alice"), ref1)
	require.NoError(t, err)
	require.Equal(t, uint32(1), receipt.Confirmations)
	require.Equal(t, []string{"oracle1"}, receipt.Approvers)
	require.False(t, receipt.Completed)
	require.Empty(t, f.stub.transfers)

	require.NoError(t, attest(f, "oracle2", "alice", ref1, 149))
	receipt, err = f.contract.GetReceipt(f.as("alice"), ref1)
	require.NoError(t, err)
	require.Equal(t, uint32(2), receipt.Confirmations)
	require.False(t, receipt.Completed)
	require.Empty(t, f.stub.transfers)

	require.NoError(t, attest(f, "oracle3", "alice", ref1, 149))
	receipt, err = f.contract.GetReceipt(f.as("alice"), ref1)
	require.NoError(t, err)
	require.Equal(t, uint32(3), receipt.Confirmations)
	require.True(t, receipt.Completed)

	// fee = floor(149 * 1%) = 1, one transfer of 148.
	require.Len(t, f.stub.transfers, 1)
	require.Equal(t, tokenCall{From: testBridge, To: "alice", Amount: 148, Memo: "Teleport"}, f.stub.transfers[0])
	require.Len(t, f.stub.events[EventReceiptCompleted], 1)

	stats, err := f.contract.GetStats(f.as("alice"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), stats.CollectedFees)

	err = attest(f, "oracle4", "alice", ref1, 149)
	require.ErrorIs(t, err, ErrAlreadyProcessed)
	require.Len(t, f.stub.transfers, 1)
}

func TestAttestThresholdOfOneSettlesOnCreation(t *testing.T) {
	f := newBridge(t, 1)
	f.registerOracles("oracle1")

	require.NoError(t, attest(f, "oracle1", "alice", ref1, 200))

	receipt, err := f.contract.GetReceipt(f.as("alice"), ref1)
	require.NoError(t, err)
	require.True(t, receipt.Completed)
	require.Len(t, f.stub.transfers, 1)
	require.Equal(t, uint64(198), f.stub.transfers[0].Amount) // fee 2
}

func TestAttestFirstWriterWins(t *testing.T) {
	f := newBridge(t, 3)
	f.registerOracles("oracle1", "oracle2")

	require.NoError(t, attest(f, "oracle1", "alice", ref1, 149))

	err := attest(f, "oracle2", "alice", ref1, 150)
	require.ErrorIs(t, err, ErrMismatch)

	err = attest(f, "oracle2", "bob", ref1, 149)
	require.ErrorIs(t, err, ErrMismatch)

	// The disagreeing oracle's failure changed nothing.
	receipt, err := f.contract.GetReceipt(f.as("alice"), ref1)
	require.NoError(t, err)
	require.Equal(t, uint32(1), receipt.Confirmations)
}

func TestAttestRejectsDuplicateApprover(t *testing.T) {
	f := newBridge(t, 3)
	f.registerOracles("oracle1")

	require.NoError(t, attest(f, "oracle1", "alice", ref1, 149))

	err := attest(f, "oracle1", "alice", ref1, 149)
	require.ErrorIs(t, err, ErrAlreadyExists)
}

func TestAttestRejectsDissent(t *testing.T) {
	f := newBridge(t, 3)
	f.registerOracles("oracle1", "oracle2")

	// There is no mechanism to record a negative vote; the call fails whole.
	err := f.contract.Attest(f.as("oracle1"), "oracle1", "alice", ref1, 149, 1, false)
	require.ErrorIs(t, err, ErrMismatch)

	_, err = f.contract.GetReceipt(f.as("alice"), ref1)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, attest(f, "oracle1", "alice", ref1, 149))
	err = f.contract.Attest(f.as("oracle2"), "oracle2", "alice", ref1, 149, 1, false)
	require.ErrorIs(t, err, ErrMismatch)
}

func TestAttestArgumentValidation(t *testing.T) {
	f := newBridge(t, 3)
	f.registerOracles("oracle1")

	err := f.contract.Attest(f.as("mallory"), "mallory", "alice", ref1, 149, 1, true)
	require.ErrorIs(t, err, ErrUnauthorized)

	err = f.contract.Attest(f.as("oracle1"), "oracle1", "alice", ref1, 0, 1, true)
	require.ErrorIs(t, err, ErrInvalidAsset)

	err = f.contract.Attest(f.as("oracle1"), "oracle1", "alice", "", 149, 1, true)
	require.ErrorIs(t, err, ErrInvalidAsset)

	err = f.contract.Attest(f.as("oracle1"), "oracle1", "alice", ref1, 149, 9, true)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, f.contract.SetFreeze(f.asAdmin(), FreezeOracles, true))
	err = f.contract.Attest(f.as("oracle1"), "oracle1", "alice", ref1, 149, 1, true)
	require.ErrorIs(t, err, ErrFrozen)
}

func TestDistinctReferencesSettleIndependently(t *testing.T) {
	f := newBridge(t, 2)
	f.registerOracles("oracle1", "oracle2")

	ref2 := "2222222222222222222222222222222222222222222222222222222222222223"

	require.NoError(t, attest(f, "oracle1", "alice", ref1, 149))
	require.NoError(t, attest(f, "oracle1", "bob", ref2, 500))
	require.NoError(t, attest(f, "oracle2", "alice", ref1, 149))
	require.NoError(t, attest(f, "oracle2", "bob", ref2, 500))

	require.Len(t, f.stub.transfers, 2)

	first, err := f.contract.GetReceipt(f.as("alice"), ref1)
	require.NoError(t, err)
	second, err := f.contract.GetReceipt(f.as("bob"), ref2)
	require.NoError(t, err)
	require.True(t, first.Completed)
	require.True(t, second.Completed)
	require.Equal(t, uint64(0), first.ID)
	require.Equal(t, uint64(1), second.ID)
}

func TestRepairReceiptRequiresElevatedPrivilege(t *testing.T) {
	f := newBridge(t, 3)
	f.registerOracles("oracle1")
	require.NoError(t, attest(f, "oracle1", "alice", ref1, 149))

	err := f.contract.RepairReceipt(f.as("alice"), 0, 150, []string{"oracle1"}, false)
	require.ErrorIs(t, err, ErrUnauthorized)

	// Admin MSP alone is not enough for the repair path.
	err = f.contract.RepairReceipt(f.asAdmin(), 0, 150, []string{"oracle1"}, false)
	require.ErrorIs(t, err, ErrUnauthorized)

	err = f.contract.RepairReceipt(f.asRepairer(), 0, 0, []string{"oracle1"}, false)
	require.ErrorIs(t, err, ErrInvalidAsset)

	err = f.contract.RepairReceipt(f.asRepairer(), 42, 150, []string{"oracle1"}, false)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, f.contract.RepairReceipt(f.asRepairer(), 0, 150, []string{"oracle2", "oracle3"}, true))

	receipt, err := f.contract.GetReceipt(f.as("alice"), ref1)
	require.NoError(t, err)
	require.Equal(t, uint64(150), receipt.Quantity)
	require.Equal(t, []string{"oracle2", "oracle3"}, receipt.Approvers)
	require.Equal(t, uint32(2), receipt.Confirmations)
	require.True(t, receipt.Completed)
}

func TestDeleteReceiptsKeepsUnsettledAndRecent(t *testing.T) {
	f := newBridge(t, 1)
	f.registerOracles("oracle1")

	ref2 := "3333333333333333333333333333333333333333333333333333333333333333"
	ref3 := "4444444444444444444444444444444444444444444444444444444444444444"

	require.NoError(t, attest(f, "oracle1", "alice", ref1, 149)) // settles at baseTime

	f2 := f // same world state, later transactions
	f2.stub.now = baseTime + 1000
	require.NoError(t, attest(f2, "oracle1", "bob", ref2, 200)) // settles later

	require.NoError(t, f.contract.SetThreshold(f.asAdmin(), 2))
	require.NoError(t, attest(f2, "oracle1", "carol", ref3, 300)) // never settles

	require.ErrorIs(t, f.contract.DeleteReceipts(f.as("alice"), baseTime+500), ErrUnauthorized)
	require.NoError(t, f.contract.DeleteReceipts(f.asAdmin(), baseTime+500))

	_, err := f.contract.GetReceipt(f.as("alice"), ref1)
	require.ErrorIs(t, err, ErrNotFound)

	// Newer than the cutoff: kept.
	_, err = f.contract.GetReceipt(f.as("bob"), ref2)
	require.NoError(t, err)

	// Not completed: kept no matter how old.
	require.NoError(t, f.contract.DeleteReceipts(f.asAdmin(), baseTime+100000))
	_, err = f.contract.GetReceipt(f.as("carol"), ref3)
	require.NoError(t, err)
}
