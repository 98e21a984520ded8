package chaincode

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// AdminMSP is the membership service provider holding the bridge's elevated
// authority: fee/threshold changes, oracle and chain registration, freezes,
// cleanup and repair.
const AdminMSP = "BridgeAdminMSP"

// RepairAttribute must be set to "true" on the client certificate for the
// receipt repair path, on top of AdminMSP membership.
const RepairAttribute = "teleport.repair"

// Cancellation is allowed only after a teleport has sat unclaimed for this
// long, leaving oracles time to mark a slow destination-chain claim.
const claimWindowSeconds = int64(60 * 60 * 24 * 32)

// SmartContract implements the teleport bridge state machine.
type SmartContract struct {
	contractapi.Contract
}

// InitBridge performs the one-time configuration of the bridge. Admin-only;
// fails if the bridge has already been initialized.
func (s *SmartContract) InitBridge(ctx contractapi.TransactionContextInterface, symbol string, tokenChaincode string, tokenChannel string, bridgeAccount string, minAmount uint64, fixedFee uint64, variableFeeBps uint64, threshold uint32) error {
	if err := s.requireAdmin(ctx); err != nil {
		return err
	}

	existing, err := ctx.GetStub().GetState(statsKey)
	if err != nil {
		return fmt.Errorf("failed to read stats: %v", err)
	}
	if existing != nil {
		return fmt.Errorf("%w: bridge is already initialized", ErrAlreadyExists)
	}

	if symbol == "" || tokenChaincode == "" || bridgeAccount == "" {
		return fmt.Errorf("%w: symbol, token chaincode and bridge account are required", ErrInvalidConfig)
	}
	if minAmount == 0 {
		return fmt.Errorf("%w: minimum amount must be positive", ErrInvalidConfig)
	}
	if threshold == 0 {
		return fmt.Errorf("%w: confirmation threshold must be at least 1", ErrInvalidConfig)
	}
	if err := validateFeeSchedule(minAmount, fixedFee, variableFeeBps); err != nil {
		return err
	}

	stats := &Stats{
		Symbol:         symbol,
		TokenChaincode: tokenChaincode,
		TokenChannel:   tokenChannel,
		BridgeAccount:  bridgeAccount,
		MinAmount:      minAmount,
		FixedFee:       fixedFee,
		VariableFeeBps: variableFeeBps,
		Threshold:      threshold,
		Chains:         map[uint32]ChainInfo{},
	}
	return s.saveStats(ctx, stats)
}

// GetStats returns the bridge configuration and fee accounting.
func (s *SmartContract) GetStats(ctx contractapi.TransactionContextInterface) (*Stats, error) {
	return s.loadStats(ctx)
}

/* Authorization helpers */

// requireAccount enforces that the transaction submitter is the named account,
// the Fabric equivalent of require_auth.
func (s *SmartContract) requireAccount(ctx contractapi.TransactionContextInterface, account string) error {
	id, err := ctx.GetClientIdentity().GetID()
	if err != nil {
		return fmt.Errorf("failed to get client identity: %v", err)
	}
	if id != account {
		return fmt.Errorf("%w: caller is not %s", ErrUnauthorized, account)
	}
	return nil
}

func (s *SmartContract) requireAdmin(ctx contractapi.TransactionContextInterface) error {
	mspID, err := ctx.GetClientIdentity().GetMSPID()
	if err != nil {
		return fmt.Errorf("failed to get MSP ID: %v", err)
	}
	if mspID != AdminMSP {
		return fmt.Errorf("%w: caller is not the bridge administrator", ErrUnauthorized)
	}
	return nil
}

// requireOracle enforces both the submitter identity and oracle membership.
func (s *SmartContract) requireOracle(ctx contractapi.TransactionContextInterface, oracle string) error {
	if err := s.requireAccount(ctx, oracle); err != nil {
		return err
	}
	key, err := oracleKey(ctx, oracle)
	if err != nil {
		return err
	}
	data, err := ctx.GetStub().GetState(key)
	if err != nil {
		return fmt.Errorf("failed to read oracle: %v", err)
	}
	if data == nil {
		return fmt.Errorf("%w: account %s is not an oracle", ErrUnauthorized, oracle)
	}
	return nil
}

/* Stats singleton */

func (s *SmartContract) loadStats(ctx contractapi.TransactionContextInterface) (*Stats, error) {
	data, err := ctx.GetStub().GetState(statsKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read stats: %v", err)
	}
	if data == nil {
		return nil, fmt.Errorf("%w: bridge is not initialized", ErrNotFound)
	}
	var stats Stats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stats: %v", err)
	}
	if stats.Chains == nil {
		stats.Chains = map[uint32]ChainInfo{}
	}
	return &stats, nil
}

func (s *SmartContract) saveStats(ctx contractapi.TransactionContextInterface, stats *Stats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %v", err)
	}
	return ctx.GetStub().PutState(statsKey, data)
}

/* Fee schedule */

// feeFor computes the fee owed on amount: floor(amount * bps / 10000) + fixed,
// capped at the amount itself.
func feeFor(stats *Stats, amount uint64) uint64 {
	fee := amount*stats.VariableFeeBps/10000 + stats.FixedFee
	if fee > amount {
		return amount
	}
	return fee
}

// validateFeeSchedule rejects schedules that could consume a minimum-sized
// transfer entirely. Holding fee(min) < min keeps every teleport's net
// quantity positive.
func validateFeeSchedule(minAmount, fixedFee, variableFeeBps uint64) error {
	if variableFeeBps > 2000 {
		return fmt.Errorf("%w: variable fee must not exceed 20%%", ErrInvalidConfig)
	}
	fee := minAmount*variableFeeBps/10000 + fixedFee
	if fee >= minAmount {
		return fmt.Errorf("%w: fee on the minimum amount must stay below the minimum", ErrInvalidConfig)
	}
	return nil
}

/* Token collaborator */

// transferTokens moves balances via the configured token chaincode. Inbound
// pulls pass the depositor as from (the client identity propagates across the
// chaincode-to-chaincode call for the token contract's own authorization);
// disbursements pass the bridge account.
func (s *SmartContract) transferTokens(ctx contractapi.TransactionContextInterface, stats *Stats, from, to string, amount uint64, memo string) error {
	args := [][]byte{
		[]byte("Transfer"),
		[]byte(from),
		[]byte(to),
		[]byte(strconv.FormatUint(amount, 10)),
		[]byte(memo),
	}
	resp := ctx.GetStub().InvokeChaincode(stats.TokenChaincode, args, stats.TokenChannel)
	if resp.Status != shim.OK {
		return fmt.Errorf("token transfer failed: %s", resp.Message)
	}
	return nil
}

/* Keys and time */

func depositKey(ctx contractapi.TransactionContextInterface, account string) (string, error) {
	return ctx.GetStub().CreateCompositeKey(docTypeDeposit, []string{account})
}

func teleportKey(ctx contractapi.TransactionContextInterface, id uint64) (string, error) {
	return ctx.GetStub().CreateCompositeKey(docTypeTeleport, []string{paddedID(id)})
}

func cancelKey(ctx contractapi.TransactionContextInterface, id uint64) (string, error) {
	return ctx.GetStub().CreateCompositeKey(docTypeCancel, []string{paddedID(id)})
}

func oracleKey(ctx contractapi.TransactionContextInterface, account string) (string, error) {
	return ctx.GetStub().CreateCompositeKey(docTypeOracle, []string{account})
}

func receiptKey(ctx contractapi.TransactionContextInterface, id uint64) (string, error) {
	return ctx.GetStub().CreateCompositeKey(docTypeReceipt, []string{paddedID(id)})
}

func receiptRefKey(ctx contractapi.TransactionContextInterface, ref string) (string, error) {
	return ctx.GetStub().CreateCompositeKey(docTypeReceiptRef, []string{ref})
}

// paddedID keeps composite keys in numeric order under Fabric's lexical
// range scans.
func paddedID(id uint64) string {
	return fmt.Sprintf("%020d", id)
}

// txTime is the deterministic transaction timestamp. Never use time.Now in
// chaincode: every peer must evaluate the same clock.
func txTime(ctx contractapi.TransactionContextInterface) (int64, error) {
	ts, err := ctx.GetStub().GetTxTimestamp()
	if err != nil {
		return 0, fmt.Errorf("failed to get transaction timestamp: %v", err)
	}
	return ts.Seconds, nil
}
