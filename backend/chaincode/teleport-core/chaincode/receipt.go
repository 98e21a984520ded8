package chaincode

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// Attest records one oracle's confirmation of an inbound cross-chain deposit
// event. The first attestation for a reference creates the receipt and fixes
// its amount and destination; later ones must match exactly. Reaching the
// confirmation threshold settles the receipt: the fee is collected and a
// single transfer of the remainder goes out, all inside this transaction, so
// a reference can settle at most once under any interleaving.
func (s *SmartContract) Attest(ctx contractapi.TransactionContextInterface, oracle string, to string, ref string, amount uint64, chainID uint32, confirmed bool) error {
	if err := s.requireOracle(ctx, oracle); err != nil {
		return err
	}

	stats, err := s.loadStats(ctx)
	if err != nil {
		return err
	}
	if stats.Freeze.Oracles {
		return fmt.Errorf("%w: oracle actions are frozen", ErrFrozen)
	}
	if amount == 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidAsset)
	}
	if ref == "" {
		return fmt.Errorf("%w: reference is required", ErrInvalidAsset)
	}
	if _, ok := stats.Chains[chainID]; !ok {
		return fmt.Errorf("%w: chain %d is not supported", ErrNotFound, chainID)
	}
	// There is no dissent path: a disagreeing oracle fails the call rather
	// than recording a negative vote.
	if !confirmed {
		return fmt.Errorf("%w: unconfirmed attestations are not accepted", ErrMismatch)
	}

	refKey, err := receiptRefKey(ctx, ref)
	if err != nil {
		return err
	}
	refData, err := ctx.GetStub().GetState(refKey)
	if err != nil {
		return fmt.Errorf("failed to read receipt index: %v", err)
	}

	if refData == nil {
		return s.createReceipt(ctx, stats, oracle, to, ref, amount, chainID, refKey)
	}

	id, err := strconv.ParseUint(string(refData), 10, 64)
	if err != nil {
		return fmt.Errorf("corrupt receipt index for %s: %v", ref, err)
	}
	return s.confirmReceipt(ctx, stats, oracle, to, amount, id)
}

func (s *SmartContract) createReceipt(ctx contractapi.TransactionContextInterface, stats *Stats, oracle, to, ref string, amount uint64, chainID uint32, refKey string) error {
	now, err := txTime(ctx)
	if err != nil {
		return err
	}

	receipt := Receipt{
		ID:            stats.NextReceiptID,
		Date:          now,
		Ref:           ref,
		To:            to,
		ChainID:       chainID,
		Confirmations: 1,
		Quantity:      amount,
		Approvers:     []string{oracle},
	}
	stats.NextReceiptID++

	// Settlement on creation happens only with a threshold of one.
	if receipt.Confirmations >= stats.Threshold {
		if err := s.settleReceipt(ctx, stats, &receipt); err != nil {
			return err
		}
	}

	if err := s.putReceipt(ctx, &receipt); err != nil {
		return err
	}
	if err := ctx.GetStub().PutState(refKey, []byte(strconv.FormatUint(receipt.ID, 10))); err != nil {
		return err
	}
	return s.saveStats(ctx, stats)
}

func (s *SmartContract) confirmReceipt(ctx contractapi.TransactionContextInterface, stats *Stats, oracle, to string, amount uint64, id uint64) error {
	receipt, err := s.getReceiptByID(ctx, id)
	if err != nil {
		return err
	}
	if receipt.Completed {
		return fmt.Errorf("%w: receipt %s has already completed", ErrAlreadyProcessed, receipt.Ref)
	}
	// First-writer-wins: the values recorded by the first oracle are the only
	// acceptable ones. A disagreement hard-fails; the repair path is the only
	// way out.
	if receipt.Quantity != amount {
		return fmt.Errorf("%w: quantity mismatch", ErrMismatch)
	}
	if receipt.To != to {
		return fmt.Errorf("%w: account mismatch", ErrMismatch)
	}
	for _, approver := range receipt.Approvers {
		if approver == oracle {
			return fmt.Errorf("%w: oracle %s has already approved", ErrAlreadyExists, oracle)
		}
	}

	receipt.Approvers = append(receipt.Approvers, oracle)
	receipt.Confirmations++

	if receipt.Confirmations >= stats.Threshold {
		if err := s.settleReceipt(ctx, stats, receipt); err != nil {
			return err
		}
		if err := s.saveStats(ctx, stats); err != nil {
			return err
		}
	}

	return s.putReceipt(ctx, receipt)
}

// settleReceipt performs the one-time settlement: collect the fee, pay out
// the remainder, latch completed.
func (s *SmartContract) settleReceipt(ctx contractapi.TransactionContextInterface, stats *Stats, receipt *Receipt) error {
	fee := feeFor(stats, receipt.Quantity)
	stats.CollectedFees += fee

	if err := s.transferTokens(ctx, stats, stats.BridgeAccount, receipt.To, receipt.Quantity-fee, "Teleport"); err != nil {
		return err
	}
	receipt.Completed = true

	payload, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("failed to marshal receipt event: %v", err)
	}
	return ctx.GetStub().SetEvent(EventReceiptCompleted, payload)
}

// RepairReceipt is the audited emergency override for a receipt corrupted by
// oracle error. It rewrites the record directly, bypassing the normal
// invariants, and requires the repair certificate attribute on top of admin
// membership.
func (s *SmartContract) RepairReceipt(ctx contractapi.TransactionContextInterface, id uint64, amount uint64, approvers []string, completed bool) error {
	if err := s.requireAdmin(ctx); err != nil {
		return err
	}
	val, ok, err := ctx.GetClientIdentity().GetAttributeValue(RepairAttribute)
	if err != nil {
		return fmt.Errorf("failed to read identity attributes: %v", err)
	}
	if !ok || val != "true" {
		return fmt.Errorf("%w: repair requires the %s attribute", ErrUnauthorized, RepairAttribute)
	}
	if amount == 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidAsset)
	}

	receipt, err := s.getReceiptByID(ctx, id)
	if err != nil {
		return err
	}

	receipt.Quantity = amount
	receipt.Approvers = approvers
	receipt.Confirmations = uint32(len(approvers))
	receipt.Completed = completed

	return s.putReceipt(ctx, receipt)
}

// DeleteReceipts bulk-deletes completed receipts dated before the cutoff,
// removing the reference index together with the record.
func (s *SmartContract) DeleteReceipts(ctx contractapi.TransactionContextInterface, beforeUnix int64) error {
	if err := s.requireAdmin(ctx); err != nil {
		return err
	}

	iter, err := ctx.GetStub().GetStateByPartialCompositeKey(docTypeReceipt, []string{})
	if err != nil {
		return fmt.Errorf("failed to iterate receipts: %v", err)
	}
	defer iter.Close()

	for iter.HasNext() {
		kv, err := iter.Next()
		if err != nil {
			return fmt.Errorf("failed to iterate receipts: %v", err)
		}

		var receipt Receipt
		if err := json.Unmarshal(kv.Value, &receipt); err != nil {
			return fmt.Errorf("failed to unmarshal receipt: %v", err)
		}
		if !receipt.Completed || receipt.Date >= beforeUnix {
			continue
		}

		if err := ctx.GetStub().DelState(kv.Key); err != nil {
			return err
		}
		refKey, err := receiptRefKey(ctx, receipt.Ref)
		if err != nil {
			return err
		}
		if err := ctx.GetStub().DelState(refKey); err != nil {
			return err
		}
	}
	return nil
}

// GetReceipt returns the receipt for a cross-chain reference.
func (s *SmartContract) GetReceipt(ctx contractapi.TransactionContextInterface, ref string) (*Receipt, error) {
	refKey, err := receiptRefKey(ctx, ref)
	if err != nil {
		return nil, err
	}
	refData, err := ctx.GetStub().GetState(refKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read receipt index: %v", err)
	}
	if refData == nil {
		return nil, fmt.Errorf("%w: no receipt for %s", ErrNotFound, ref)
	}
	id, err := strconv.ParseUint(string(refData), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt receipt index for %s: %v", ref, err)
	}
	return s.getReceiptByID(ctx, id)
}

func (s *SmartContract) getReceiptByID(ctx contractapi.TransactionContextInterface, id uint64) (*Receipt, error) {
	key, err := receiptKey(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := ctx.GetStub().GetState(key)
	if err != nil {
		return nil, fmt.Errorf("failed to read receipt: %v", err)
	}
	if data == nil {
		return nil, fmt.Errorf("%w: receipt %d", ErrNotFound, id)
	}
	var receipt Receipt
	if err := json.Unmarshal(data, &receipt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal receipt: %v", err)
	}
	return &receipt, nil
}

func (s *SmartContract) putReceipt(ctx contractapi.TransactionContextInterface, receipt *Receipt) error {
	key, err := receiptKey(ctx, receipt.ID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("failed to marshal receipt: %v", err)
	}
	return ctx.GetStub().PutState(key, data)
}
