package chaincode

import (
	"encoding/json"
	"fmt"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// RequestTeleport locks an escrowed amount for release on a destination
// chain. The fee is taken here: the teleport's quantity is net of it. The
// TeleportRequested event is the discovery signal oracles rely on, carrying
// the assigned id and the full record.
func (s *SmartContract) RequestTeleport(ctx contractapi.TransactionContextInterface, account string, amount uint64, chainID uint32, ethAddress string) (uint64, error) {
	if err := s.requireAccount(ctx, account); err != nil {
		return 0, err
	}

	stats, err := s.loadStats(ctx)
	if err != nil {
		return 0, err
	}
	if stats.Freeze.Inbound {
		return 0, fmt.Errorf("%w: teleports are frozen", ErrFrozen)
	}
	if amount < stats.MinAmount {
		return 0, fmt.Errorf("%w: teleport is below minimum of %d %s", ErrBelowMinimum, stats.MinAmount, stats.Symbol)
	}
	if ethAddress == "" {
		return 0, fmt.Errorf("%w: destination address is required", ErrInvalidAsset)
	}
	if _, ok := stats.Chains[chainID]; !ok {
		return 0, fmt.Errorf("%w: chain %d is not supported", ErrNotFound, chainID)
	}

	if err := s.debitDeposit(ctx, account, amount); err != nil {
		return 0, err
	}

	fee := feeFor(stats, amount)
	stats.CollectedFees += fee

	now, err := txTime(ctx)
	if err != nil {
		return 0, err
	}

	teleport := Teleport{
		ID:         stats.NextTeleportID,
		Time:       now,
		Account:    account,
		Quantity:   amount - fee,
		ChainID:    chainID,
		EthAddress: ethAddress,
	}
	stats.NextTeleportID++

	if err := s.putTeleport(ctx, &teleport); err != nil {
		return 0, err
	}
	if err := s.saveStats(ctx, stats); err != nil {
		return 0, err
	}

	payload, err := json.Marshal(teleport)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal teleport event: %v", err)
	}
	if err := ctx.GetStub().SetEvent(EventTeleportRequested, payload); err != nil {
		return 0, fmt.Errorf("failed to emit teleport event: %v", err)
	}

	return teleport.ID, nil
}

// SignTeleport appends an oracle's signature for a teleport. These signatures
// are what the requester presents to the destination chain's claim call.
func (s *SmartContract) SignTeleport(ctx contractapi.TransactionContextInterface, oracle string, id uint64, signature string) error {
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
	if signature == "" {
		return fmt.Errorf("%w: signature is required", ErrInvalidAsset)
	}

	teleport, err := s.getTeleport(ctx, id)
	if err != nil {
		return err
	}

	for _, signed := range teleport.Oracles {
		if signed == oracle {
			return fmt.Errorf("%w: oracle %s has already signed", ErrAlreadyExists, oracle)
		}
	}
	for _, sig := range teleport.Signatures {
		if sig == signature {
			return fmt.Errorf("%w: signature is already recorded", ErrAlreadyExists)
		}
	}

	teleport.Oracles = append(teleport.Oracles, oracle)
	teleport.Signatures = append(teleport.Signatures, signature)

	return s.putTeleport(ctx, teleport)
}

// MarkClaimed records that an oracle observed the release of a teleport on
// the destination chain. Bookkeeping only; no funds move.
func (s *SmartContract) MarkClaimed(ctx contractapi.TransactionContextInterface, oracle string, id uint64, ethAddress string, amount uint64) error {
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

	teleport, err := s.getTeleport(ctx, id)
	if err != nil {
		return err
	}
	if teleport.Claimed {
		return fmt.Errorf("%w: teleport %d is already marked claimed", ErrAlreadyProcessed, id)
	}
	if teleport.Quantity != amount {
		return fmt.Errorf("%w: quantity mismatch", ErrMismatch)
	}
	if teleport.EthAddress != ethAddress {
		return fmt.Errorf("%w: destination address mismatch", ErrMismatch)
	}

	teleport.Claimed = true
	return s.putTeleport(ctx, teleport)
}

// CancelTeleport refunds a teleport that nobody claimed within the claim
// window. The fee is not refunded. At most one cancellation per id.
func (s *SmartContract) CancelTeleport(ctx contractapi.TransactionContextInterface, id uint64) error {
	stats, err := s.loadStats(ctx)
	if err != nil {
		return err
	}
	if stats.Freeze.Cancel {
		return fmt.Errorf("%w: cancellations are frozen", ErrFrozen)
	}

	teleport, err := s.getTeleport(ctx, id)
	if err != nil {
		return err
	}
	if err := s.requireAccount(ctx, teleport.Account); err != nil {
		return err
	}
	if teleport.Claimed {
		return fmt.Errorf("%w: teleport %d is already claimed", ErrAlreadyProcessed, id)
	}

	now, err := txTime(ctx)
	if err != nil {
		return err
	}
	if now <= teleport.Time+claimWindowSeconds {
		return fmt.Errorf("%w: teleport %d has not expired", ErrNotExpired, id)
	}

	cKey, err := cancelKey(ctx, id)
	if err != nil {
		return err
	}
	existing, err := ctx.GetStub().GetState(cKey)
	if err != nil {
		return fmt.Errorf("failed to read cancellation: %v", err)
	}
	if existing != nil {
		return fmt.Errorf("%w: teleport %d has already been cancelled", ErrAlreadyProcessed, id)
	}

	cancellation, err := json.Marshal(Cancellation{TeleportID: id})
	if err != nil {
		return fmt.Errorf("failed to marshal cancellation: %v", err)
	}
	if err := ctx.GetStub().PutState(cKey, cancellation); err != nil {
		return err
	}

	if err := s.transferTokens(ctx, stats, stats.BridgeAccount, teleport.Account, teleport.Quantity, "Cancel teleport"); err != nil {
		return err
	}

	payload, err := json.Marshal(teleport)
	if err != nil {
		return fmt.Errorf("failed to marshal cancel event: %v", err)
	}
	return ctx.GetStub().SetEvent(EventTeleportCancelled, payload)
}

// DeleteTeleports bulk-deletes finished teleports with id below the cutoff.
// Only claimed or cancelled teleports go; an in-flight teleport is never
// removed. Ids come from a persistent counter, so deletion never causes
// reuse.
func (s *SmartContract) DeleteTeleports(ctx contractapi.TransactionContextInterface, belowID uint64) error {
	if err := s.requireAdmin(ctx); err != nil {
		return err
	}

	iter, err := ctx.GetStub().GetStateByPartialCompositeKey(docTypeTeleport, []string{})
	if err != nil {
		return fmt.Errorf("failed to iterate teleports: %v", err)
	}
	defer iter.Close()

	for iter.HasNext() {
		kv, err := iter.Next()
		if err != nil {
			return fmt.Errorf("failed to iterate teleports: %v", err)
		}

		var teleport Teleport
		if err := json.Unmarshal(kv.Value, &teleport); err != nil {
			return fmt.Errorf("failed to unmarshal teleport: %v", err)
		}
		if teleport.ID >= belowID {
			break
		}

		cKey, err := cancelKey(ctx, teleport.ID)
		if err != nil {
			return err
		}
		cancelled, err := ctx.GetStub().GetState(cKey)
		if err != nil {
			return fmt.Errorf("failed to read cancellation: %v", err)
		}
		if !teleport.Claimed && cancelled == nil {
			continue
		}

		if err := ctx.GetStub().DelState(kv.Key); err != nil {
			return err
		}
		if cancelled != nil {
			if err := ctx.GetStub().DelState(cKey); err != nil {
				return err
			}
		}
	}
	return nil
}

// GetTeleport returns a teleport by id.
func (s *SmartContract) GetTeleport(ctx contractapi.TransactionContextInterface, id uint64) (*Teleport, error) {
	return s.getTeleport(ctx, id)
}

func (s *SmartContract) getTeleport(ctx contractapi.TransactionContextInterface, id uint64) (*Teleport, error) {
	key, err := teleportKey(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := ctx.GetStub().GetState(key)
	if err != nil {
		return nil, fmt.Errorf("failed to read teleport: %v", err)
	}
	if data == nil {
		return nil, fmt.Errorf("%w: teleport %d", ErrNotFound, id)
	}
	var teleport Teleport
	if err := json.Unmarshal(data, &teleport); err != nil {
		return nil, fmt.Errorf("failed to unmarshal teleport: %v", err)
	}
	return &teleport, nil
}

func (s *SmartContract) putTeleport(ctx contractapi.TransactionContextInterface, teleport *Teleport) error {
	key, err := teleportKey(ctx, teleport.ID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(teleport)
	if err != nil {
		return fmt.Errorf("failed to marshal teleport: %v", err)
	}
	return ctx.GetStub().PutState(key, data)
}
