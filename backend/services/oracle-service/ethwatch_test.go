package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildTeleportData ABI-encodes (string to, uint256 tokens, uint256 chainid)
// the way the counterpart contract's event does.
func buildTeleportData(to string, tokens uint64, chainID uint32) string {
	word := func(v uint64) []byte {
		b := make([]byte, 32)
		for i := 0; i < 8; i++ {
			b[31-i] = byte(v >> (8 * i))
		}
		return b
	}

	var data []byte
	data = append(data, word(0x60)...) // offset of the string
	data = append(data, word(tokens)...)
	data = append(data, word(uint64(chainID))...)
	data = append(data, word(uint64(len(to)))...)
	padded := make([]byte, (len(to)+31)/32*32)
	copy(padded, to)
	data = append(data, padded...)

	return "0x" + hex.EncodeToString(data)
}

func TestDecodeLog(t *testing.T) {
	w := NewWatcher("http://unused", "0xbridge", 2, 5)

	lg := ethLog{
		TxHash:      "0xAABB01",
		BlockNumber: "0x64",
		Topics:      []string{teleportTopic},
		Data:        buildTeleportData("alice", 150, 2),
	}

	transfer, err := w.decodeLog(lg)
	require.NoError(t, err)
	require.Equal(t, "aabb01", transfer.Ref)
	require.Equal(t, "alice", transfer.To)
	require.Equal(t, uint64(150), transfer.Amount)
	require.Equal(t, uint32(2), transfer.ChainID)
	require.Equal(t, uint64(100), transfer.BlockNumber)
}

func TestDecodeClaim(t *testing.T) {
	w := NewWatcher("http://unused", "0xbridge", 2, 5)

	word := func(v uint64) []byte {
		b := make([]byte, 32)
		for i := 0; i < 8; i++ {
			b[31-i] = byte(v >> (8 * i))
		}
		return b
	}
	addr := make([]byte, 32)
	for i := 12; i < 32; i++ {
		addr[i] = 0xab
	}

	var data []byte
	data = append(data, word(9)...) // teleport id
	data = append(data, addr...)
	data = append(data, word(149)...) // tokens

	claim, err := w.decodeClaim(ethLog{
		BlockNumber: "0x10",
		Topics:      []string{claimedTopic},
		Data:        "0x" + hex.EncodeToString(data),
	})
	require.NoError(t, err)
	require.Equal(t, uint64(9), claim.TeleportID)
	require.Equal(t, uint64(149), claim.Amount)
	require.Equal(t, "0x"+strings.Repeat("ab", 20), claim.EthAddress)
	require.Equal(t, uint64(16), claim.BlockNumber)
}

func TestDecodeLogRejectsShortData(t *testing.T) {
	w := NewWatcher("http://unused", "0xbridge", 2, 5)

	_, err := w.decodeLog(ethLog{Data: "0x00ff"})
	require.Error(t, err)
}

func TestPollRespectsConfirmationDepth(t *testing.T) {
	var gotFilter map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		switch req.Method {
		case "eth_blockNumber":
			fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":"0x6e"}`) // head = 110
		case "eth_getLogs":
			gotFilter = req.Params[0].(map[string]interface{})
			logs := []ethLog{{
				TxHash:      "0x01",
				BlockNumber: "0x66",
				Topics:      []string{teleportTopic},
				Data:        buildTeleportData("bob", 500, 2),
			}}
			payload, _ := json.Marshal(logs)
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"result":%s}`, payload)
		default:
			t.Fatalf("unexpected rpc method %s", req.Method)
		}
	}))
	defer server.Close()

	w := NewWatcher(server.URL, "0xBridgeAddr", 2, 10)

	transfers, claims, scannedTo, err := w.Poll(context.Background(), 50)
	require.NoError(t, err)
	require.Equal(t, uint64(100), scannedTo) // head minus confirmations
	require.Empty(t, claims)
	require.Len(t, transfers, 1)
	require.Equal(t, "bob", transfers[0].To)
	require.Equal(t, uint64(500), transfers[0].Amount)

	require.Equal(t, "0x32", gotFilter["fromBlock"])
	require.Equal(t, "0x64", gotFilter["toBlock"])
	require.Equal(t, "0xbridgeaddr", gotFilter["address"])
}

func TestPollNothingNewBelowCheckpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":"0x14"}`) // head = 20
	}))
	defer server.Close()

	w := NewWatcher(server.URL, "0xbridge", 1, 10)

	transfers, claims, scannedTo, err := w.Poll(context.Background(), 15)
	require.NoError(t, err)
	require.Empty(t, transfers)
	require.Empty(t, claims)
	require.Equal(t, uint64(15), scannedTo)
}

func TestPollSurfacesRPCErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"node syncing"}}`)
	}))
	defer server.Close()

	w := NewWatcher(server.URL, "0xbridge", 1, 5)

	_, _, _, err := w.Poll(context.Background(), 1)
	require.Error(t, err)
	require.Contains(t, err.Error(), "node syncing")
}
