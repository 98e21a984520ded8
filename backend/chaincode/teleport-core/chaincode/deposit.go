package chaincode

import (
	"encoding/json"
	"fmt"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// DepositTokens escrows tokens with the bridge. The caller must be the named
// account; the bridge pulls the tokens from it via the token chaincode and
// then credits the deposit record. This is the only path that creates or
// increases a Deposit, besides oracle fee payouts.
func (s *SmartContract) DepositTokens(ctx contractapi.TransactionContextInterface, account string, amount uint64) error {
	if err := s.requireAccount(ctx, account); err != nil {
		return err
	}

	stats, err := s.loadStats(ctx)
	if err != nil {
		return err
	}
	if stats.Freeze.Inbound {
		return fmt.Errorf("%w: inbound deposits are frozen", ErrFrozen)
	}
	if amount == 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidAsset)
	}
	if amount < stats.MinAmount {
		return fmt.Errorf("%w: deposit is below minimum of %d %s", ErrBelowMinimum, stats.MinAmount, stats.Symbol)
	}

	if err := s.transferTokens(ctx, stats, account, stats.BridgeAccount, amount, "Teleport deposit"); err != nil {
		return err
	}

	return s.creditDeposit(ctx, account, amount)
}

// Withdraw returns escrowed tokens to their owner.
func (s *SmartContract) Withdraw(ctx contractapi.TransactionContextInterface, account string, amount uint64) error {
	if err := s.requireAccount(ctx, account); err != nil {
		return err
	}

	stats, err := s.loadStats(ctx)
	if err != nil {
		return err
	}
	if stats.Freeze.Outbound {
		return fmt.Errorf("%w: withdrawals are frozen", ErrFrozen)
	}
	if amount == 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidAsset)
	}

	if err := s.transferTokens(ctx, stats, stats.BridgeAccount, account, amount, "Return of deposit"); err != nil {
		return err
	}

	return s.debitDeposit(ctx, account, amount)
}

// GetDeposit returns the escrow record for an account.
func (s *SmartContract) GetDeposit(ctx contractapi.TransactionContextInterface, account string) (*Deposit, error) {
	key, err := depositKey(ctx, account)
	if err != nil {
		return nil, err
	}
	data, err := ctx.GetStub().GetState(key)
	if err != nil {
		return nil, fmt.Errorf("failed to read deposit: %v", err)
	}
	if data == nil {
		return nil, fmt.Errorf("%w: no deposit for %s", ErrNotFound, account)
	}
	var deposit Deposit
	if err := json.Unmarshal(data, &deposit); err != nil {
		return nil, fmt.Errorf("failed to unmarshal deposit: %v", err)
	}
	return &deposit, nil
}

// creditDeposit creates or increments an escrow record.
func (s *SmartContract) creditDeposit(ctx contractapi.TransactionContextInterface, account string, amount uint64) error {
	key, err := depositKey(ctx, account)
	if err != nil {
		return err
	}
	data, err := ctx.GetStub().GetState(key)
	if err != nil {
		return fmt.Errorf("failed to read deposit: %v", err)
	}

	deposit := Deposit{Account: account}
	if data != nil {
		if err := json.Unmarshal(data, &deposit); err != nil {
			return fmt.Errorf("failed to unmarshal deposit: %v", err)
		}
	}
	deposit.Quantity += amount

	updated, err := json.Marshal(deposit)
	if err != nil {
		return fmt.Errorf("failed to marshal deposit: %v", err)
	}
	return ctx.GetStub().PutState(key, updated)
}

// debitDeposit decrements an escrow record, erasing it at exactly zero so a
// zero-quantity row never lingers.
func (s *SmartContract) debitDeposit(ctx contractapi.TransactionContextInterface, account string, amount uint64) error {
	key, err := depositKey(ctx, account)
	if err != nil {
		return err
	}
	data, err := ctx.GetStub().GetState(key)
	if err != nil {
		return fmt.Errorf("failed to read deposit: %v", err)
	}
	if data == nil {
		return fmt.Errorf("%w: no deposit for %s, transfer the tokens first", ErrNotFound, account)
	}

	var deposit Deposit
	if err := json.Unmarshal(data, &deposit); err != nil {
		return fmt.Errorf("failed to unmarshal deposit: %v", err)
	}
	if deposit.Quantity < amount {
		return fmt.Errorf("%w: deposit of %d is less than %d", ErrInsufficientFunds, deposit.Quantity, amount)
	}

	if deposit.Quantity == amount {
		return ctx.GetStub().DelState(key)
	}

	deposit.Quantity -= amount
	updated, err := json.Marshal(deposit)
	if err != nil {
		return fmt.Errorf("failed to marshal deposit: %v", err)
	}
	return ctx.GetStub().PutState(key, updated)
}
