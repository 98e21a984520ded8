package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"
)

// Event signatures emitted by the counterpart bridge contract:
// Teleport(address,string,uint256,uint256) for inbound locks and
// Claimed(uint64,address,uint256) for completed outbound releases.
const (
	teleportTopic = "0x622824274e0937ee319b036740cd0887131781bc2f2d1f9470a7bccbc9c741cb"
	claimedTopic  = "0xf20fc979a1bc62b46867af1d941ae5bcaeca263435d9d8cbdbe1716b43e1f251"
)

// InboundTransfer is a confirmed lock on the counterpart chain, ready to be
// attested on the ledger.
type InboundTransfer struct {
	Ref         string // transaction hash, the bridge's idempotency key
	To          string // destination account on the ledger
	Amount      uint64
	ChainID     uint32
	BlockNumber uint64
}

// OutboundClaim is a completed release of a teleport on the counterpart
// chain, to be marked claimed on the ledger.
type OutboundClaim struct {
	TeleportID  uint64
	EthAddress  string
	Amount      uint64
	BlockNumber uint64
}

// Watcher polls an Ethereum-compatible JSON-RPC endpoint for bridge lock
// events that have reached the configured confirmation depth.
type Watcher struct {
	rpcURL        string
	bridge        string
	chainID       uint32
	confirmations uint64
	client        *http.Client
}

func NewWatcher(rpcURL, bridgeAddress string, chainID uint32, confirmations uint64) *Watcher {
	return &Watcher{
		rpcURL:        rpcURL,
		bridge:        strings.ToLower(bridgeAddress),
		chainID:       chainID,
		confirmations: confirmations,
		client:        &http.Client{Timeout: 30 * time.Second},
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type ethLog struct {
	TxHash      string   `json:"transactionHash"`
	BlockNumber string   `json:"blockNumber"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	Removed     bool     `json:"removed"`
}

func (w *Watcher) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.rpcURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("rpc call %s failed: %v", method, err)
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("failed to decode rpc response: %v", err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return json.Unmarshal(rpcResp.Result, out)
}

// LatestBlock returns the chain head height.
func (w *Watcher) LatestBlock(ctx context.Context) (uint64, error) {
	var hexNum string
	if err := w.call(ctx, "eth_blockNumber", []interface{}{}, &hexNum); err != nil {
		return 0, err
	}
	return parseHexUint(hexNum)
}

// Poll scans [from, head-confirmations] for bridge lock and claim events,
// returning them along with the last block scanned.
func (w *Watcher) Poll(ctx context.Context, from uint64) ([]InboundTransfer, []OutboundClaim, uint64, error) {
	head, err := w.LatestBlock(ctx)
	if err != nil {
		return nil, nil, from, err
	}
	if head < w.confirmations {
		return nil, nil, from, nil
	}
	to := head - w.confirmations
	if to < from {
		return nil, nil, from, nil
	}

	filter := map[string]interface{}{
		"fromBlock": fmt.Sprintf("0x%x", from),
		"toBlock":   fmt.Sprintf("0x%x", to),
		"address":   w.bridge,
		// Either event signature in topic position zero.
		"topics": [][]string{{teleportTopic, claimedTopic}},
	}

	var logs []ethLog
	if err := w.call(ctx, "eth_getLogs", []interface{}{filter}, &logs); err != nil {
		return nil, nil, from, err
	}

	var transfers []InboundTransfer
	var claims []OutboundClaim
	for _, lg := range logs {
		if lg.Removed || len(lg.Topics) == 0 {
			continue
		}
		switch lg.Topics[0] {
		case teleportTopic:
			transfer, err := w.decodeLog(lg)
			if err != nil {
				// A malformed event is a contract bug, not a transient
				// fault. Skip it rather than stall the scan.
				continue
			}
			transfers = append(transfers, transfer)
		case claimedTopic:
			claim, err := w.decodeClaim(lg)
			if err != nil {
				continue
			}
			claims = append(claims, claim)
		}
	}

	return transfers, claims, to, nil
}

// decodeLog unpacks Teleport(address indexed from, string to, uint256 tokens,
// uint256 chainid). Data layout: [string offset][tokens][chainid][len][bytes].
func (w *Watcher) decodeLog(lg ethLog) (InboundTransfer, error) {
	data, err := hex.DecodeString(strings.TrimPrefix(lg.Data, "0x"))
	if err != nil {
		return InboundTransfer{}, fmt.Errorf("bad log data: %v", err)
	}
	if len(data) < 96 {
		return InboundTransfer{}, fmt.Errorf("log data too short: %d bytes", len(data))
	}

	offset := new(big.Int).SetBytes(data[0:32]).Uint64()
	tokens := new(big.Int).SetBytes(data[32:64])
	chainID := new(big.Int).SetBytes(data[64:96]).Uint64()

	if !tokens.IsUint64() {
		return InboundTransfer{}, fmt.Errorf("token amount overflows uint64")
	}
	if offset+32 > uint64(len(data)) {
		return InboundTransfer{}, fmt.Errorf("string offset out of range")
	}
	strLen := new(big.Int).SetBytes(data[offset : offset+32]).Uint64()
	if offset+32+strLen > uint64(len(data)) {
		return InboundTransfer{}, fmt.Errorf("string length out of range")
	}
	to := string(data[offset+32 : offset+32+strLen])

	blockNum, err := parseHexUint(lg.BlockNumber)
	if err != nil {
		return InboundTransfer{}, err
	}

	return InboundTransfer{
		Ref:         strings.ToLower(strings.TrimPrefix(lg.TxHash, "0x")),
		To:          to,
		Amount:      tokens.Uint64(),
		ChainID:     uint32(chainID),
		BlockNumber: blockNum,
	}, nil
}

// decodeClaim unpacks Claimed(uint64 id, address to, uint256 tokens). All
// fields are unindexed 32-byte words in the data.
func (w *Watcher) decodeClaim(lg ethLog) (OutboundClaim, error) {
	data, err := hex.DecodeString(strings.TrimPrefix(lg.Data, "0x"))
	if err != nil {
		return OutboundClaim{}, fmt.Errorf("bad log data: %v", err)
	}
	if len(data) < 96 {
		return OutboundClaim{}, fmt.Errorf("log data too short: %d bytes", len(data))
	}

	id := new(big.Int).SetBytes(data[0:32])
	tokens := new(big.Int).SetBytes(data[64:96])
	if !id.IsUint64() || !tokens.IsUint64() {
		return OutboundClaim{}, fmt.Errorf("claim fields overflow uint64")
	}

	blockNum, err := parseHexUint(lg.BlockNumber)
	if err != nil {
		return OutboundClaim{}, err
	}

	return OutboundClaim{
		TeleportID: id.Uint64(),
		// Address is the low 20 bytes of the second word.
		EthAddress:  "0x" + hex.EncodeToString(data[44:64]),
		Amount:      tokens.Uint64(),
		BlockNumber: blockNum,
	}, nil
}

func parseHexUint(s string) (uint64, error) {
	n, ok := new(big.Int).SetString(strings.TrimPrefix(s, "0x"), 16)
	if !ok {
		return 0, fmt.Errorf("invalid hex number %q", s)
	}
	if !n.IsUint64() {
		return 0, fmt.Errorf("hex number %q overflows uint64", s)
	}
	return n.Uint64(), nil
}
