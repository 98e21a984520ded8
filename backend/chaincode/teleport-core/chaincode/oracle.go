package chaincode

import (
	"encoding/json"
	"fmt"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// RegisterOracle adds an account to the trusted attester set. Admin-only.
// The registry size feeds the fee payout division.
func (s *SmartContract) RegisterOracle(ctx contractapi.TransactionContextInterface, account string) error {
	if err := s.requireAdmin(ctx); err != nil {
		return err
	}
	if account == "" {
		return fmt.Errorf("%w: oracle account is required", ErrInvalidConfig)
	}

	stats, err := s.loadStats(ctx)
	if err != nil {
		return err
	}

	key, err := oracleKey(ctx, account)
	if err != nil {
		return err
	}
	existing, err := ctx.GetStub().GetState(key)
	if err != nil {
		return fmt.Errorf("failed to read oracle: %v", err)
	}
	if existing != nil {
		return fmt.Errorf("%w: oracle %s is already registered", ErrAlreadyExists, account)
	}

	data, err := json.Marshal(Oracle{Account: account})
	if err != nil {
		return fmt.Errorf("failed to marshal oracle: %v", err)
	}
	if err := ctx.GetStub().PutState(key, data); err != nil {
		return err
	}

	stats.OracleCount++
	return s.saveStats(ctx, stats)
}

// UnregisterOracle removes an account from the attester set.
func (s *SmartContract) UnregisterOracle(ctx contractapi.TransactionContextInterface, account string) error {
	if err := s.requireAdmin(ctx); err != nil {
		return err
	}

	stats, err := s.loadStats(ctx)
	if err != nil {
		return err
	}

	key, err := oracleKey(ctx, account)
	if err != nil {
		return err
	}
	existing, err := ctx.GetStub().GetState(key)
	if err != nil {
		return fmt.Errorf("failed to read oracle: %v", err)
	}
	if existing == nil {
		return fmt.Errorf("%w: oracle %s", ErrNotFound, account)
	}

	if err := ctx.GetStub().DelState(key); err != nil {
		return err
	}

	stats.OracleCount--
	return s.saveStats(ctx, stats)
}

// GetOracles lists the registered oracle accounts.
func (s *SmartContract) GetOracles(ctx contractapi.TransactionContextInterface) ([]string, error) {
	accounts, err := s.oracleAccounts(ctx)
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

// oracleAccounts returns the registry in lexical order, which keeps payout
// iteration deterministic across peers.
func (s *SmartContract) oracleAccounts(ctx contractapi.TransactionContextInterface) ([]string, error) {
	iter, err := ctx.GetStub().GetStateByPartialCompositeKey(docTypeOracle, []string{})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate oracles: %v", err)
	}
	defer iter.Close()

	var accounts []string
	for iter.HasNext() {
		kv, err := iter.Next()
		if err != nil {
			return nil, fmt.Errorf("failed to iterate oracles: %v", err)
		}
		var oracle Oracle
		if err := json.Unmarshal(kv.Value, &oracle); err != nil {
			return nil, fmt.Errorf("failed to unmarshal oracle: %v", err)
		}
		accounts = append(accounts, oracle.Account)
	}
	return accounts, nil
}
