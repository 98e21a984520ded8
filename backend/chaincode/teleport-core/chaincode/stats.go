package chaincode

import (
	"fmt"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// SetFee commits a new fee schedule. All currently collected fees are paid
// out under the old schedule first, so no oracle is settled against rates it
// never earned under.
func (s *SmartContract) SetFee(ctx contractapi.TransactionContextInterface, fixedFee uint64, variableFeeBps uint64) error {
	if err := s.requireAdmin(ctx); err != nil {
		return err
	}

	stats, err := s.loadStats(ctx)
	if err != nil {
		return err
	}
	if err := validateFeeSchedule(stats.MinAmount, fixedFee, variableFeeBps); err != nil {
		return err
	}

	if err := s.payoutCollected(ctx, stats); err != nil {
		return err
	}

	stats.FixedFee = fixedFee
	stats.VariableFeeBps = variableFeeBps
	return s.saveStats(ctx, stats)
}

// SetMinAmount changes the minimum transfer, re-validating the fee invariant
// against the current schedule.
func (s *SmartContract) SetMinAmount(ctx contractapi.TransactionContextInterface, minAmount uint64) error {
	if err := s.requireAdmin(ctx); err != nil {
		return err
	}

	stats, err := s.loadStats(ctx)
	if err != nil {
		return err
	}
	if minAmount == 0 {
		return fmt.Errorf("%w: minimum amount must be positive", ErrInvalidConfig)
	}
	if err := validateFeeSchedule(minAmount, stats.FixedFee, stats.VariableFeeBps); err != nil {
		return err
	}

	stats.MinAmount = minAmount
	return s.saveStats(ctx, stats)
}

// SetThreshold changes the number of distinct oracle confirmations a receipt
// needs before settling.
func (s *SmartContract) SetThreshold(ctx contractapi.TransactionContextInterface, threshold uint32) error {
	if err := s.requireAdmin(ctx); err != nil {
		return err
	}

	stats, err := s.loadStats(ctx)
	if err != nil {
		return err
	}
	if threshold == 0 {
		return fmt.Errorf("%w: confirmation threshold must be at least 1", ErrInvalidConfig)
	}

	stats.Threshold = threshold
	return s.saveStats(ctx, stats)
}

// SetFreeze flips one operation category's kill-switch without halting the
// rest of the bridge.
func (s *SmartContract) SetFreeze(ctx contractapi.TransactionContextInterface, category string, frozen bool) error {
	if err := s.requireAdmin(ctx); err != nil {
		return err
	}

	stats, err := s.loadStats(ctx)
	if err != nil {
		return err
	}

	switch category {
	case FreezeInbound:
		stats.Freeze.Inbound = frozen
	case FreezeOutbound:
		stats.Freeze.Outbound = frozen
	case FreezeOracles:
		stats.Freeze.Oracles = frozen
	case FreezeCancel:
		stats.Freeze.Cancel = frozen
	default:
		return fmt.Errorf("%w: unknown freeze category %q", ErrInvalidConfig, category)
	}

	return s.saveStats(ctx, stats)
}

// PayOracles distributes collected fees evenly across the registered oracles,
// crediting each oracle's deposit. The division remainder stays collected for
// the next round, so no fee value is ever lost to rounding. Callable by
// anyone.
func (s *SmartContract) PayOracles(ctx contractapi.TransactionContextInterface) error {
	stats, err := s.loadStats(ctx)
	if err != nil {
		return err
	}
	if err := s.payoutCollected(ctx, stats); err != nil {
		return err
	}
	return s.saveStats(ctx, stats)
}

// payoutCollected mutates stats in place; the caller saves it.
func (s *SmartContract) payoutCollected(ctx contractapi.TransactionContextInterface, stats *Stats) error {
	if stats.CollectedFees == 0 || stats.OracleCount == 0 {
		return nil
	}

	share := stats.CollectedFees / stats.OracleCount
	if share == 0 {
		return nil
	}

	accounts, err := s.oracleAccounts(ctx)
	if err != nil {
		return err
	}
	for _, account := range accounts {
		if err := s.creditDeposit(ctx, account, share); err != nil {
			return err
		}
	}

	stats.CollectedFees -= share * uint64(len(accounts))
	return nil
}

// AddChain registers a destination chain. Fails if the id is already present.
func (s *SmartContract) AddChain(ctx contractapi.TransactionContextInterface, chainID uint32, name string, netID string, bridgeAddress string, tokenAddress string) error {
	if err := s.requireAdmin(ctx); err != nil {
		return err
	}

	stats, err := s.loadStats(ctx)
	if err != nil {
		return err
	}
	if _, ok := stats.Chains[chainID]; ok {
		return fmt.Errorf("%w: chain %d is already registered", ErrAlreadyExists, chainID)
	}

	stats.Chains[chainID] = ChainInfo{
		Name:          name,
		NetID:         netID,
		BridgeAddress: bridgeAddress,
		TokenAddress:  tokenAddress,
	}
	return s.saveStats(ctx, stats)
}

// RemoveChain drops a destination chain. Teleports already targeting it are
// not touched.
func (s *SmartContract) RemoveChain(ctx contractapi.TransactionContextInterface, chainID uint32) error {
	if err := s.requireAdmin(ctx); err != nil {
		return err
	}

	stats, err := s.loadStats(ctx)
	if err != nil {
		return err
	}
	if _, ok := stats.Chains[chainID]; !ok {
		return fmt.Errorf("%w: chain %d", ErrNotFound, chainID)
	}

	delete(stats.Chains, chainID)
	return s.saveStats(ctx, stats)
}

// GetChains returns the supported destination chains.
func (s *SmartContract) GetChains(ctx contractapi.TransactionContextInterface) (map[uint32]ChainInfo, error) {
	stats, err := s.loadStats(ctx)
	if err != nil {
		return nil, err
	}
	return stats.Chains, nil
}
