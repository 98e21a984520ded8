package chaincode

import (
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/golang/protobuf/ptypes/timestamp"
	"github.com/hyperledger/fabric-chaincode-go/pkg/cid"
	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric-protos-go/ledger/queryresult"
	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/stretchr/testify/require"
)

const (
	testSymbol  = "TLM"
	testToken   = "tlm-token"
	testChannel = "bridge-channel"
	testBridge  = "teleport-bridge"
	userMSP     = "UserMSP"

	// An arbitrary fixed transaction time for deterministic tests.
	baseTime = int64(1700000000)
)

// tokenCall is one recorded invocation of the token collaborator.
type tokenCall struct {
	From   string
	To     string
	Amount uint64
	Memo   string
}

// mockStub backs the contract with an in-memory world state. Methods the
// contract never calls fall through to the embedded nil interface and panic,
// which is exactly what a test should do if the contract grows an
// unexercised dependency.
type mockStub struct {
	shim.ChaincodeStubInterface
	state     map[string][]byte
	events    map[string][][]byte
	transfers []tokenCall
	now       int64
	failToken bool
}

func newMockStub() *mockStub {
	return &mockStub{
		state:  map[string][]byte{},
		events: map[string][][]byte{},
		now:    baseTime,
	}
}

func (m *mockStub) GetState(key string) ([]byte, error) {
	return m.state[key], nil
}

func (m *mockStub) PutState(key string, value []byte) error {
	m.state[key] = value
	return nil
}

func (m *mockStub) DelState(key string) error {
	delete(m.state, key)
	return nil
}

// CreateCompositeKey mirrors the shim's null-byte framing so range scans
// behave like the real world state.
func (m *mockStub) CreateCompositeKey(objectType string, attributes []string) (string, error) {
	key := "\x00" + objectType + "\x00"
	for _, attr := range attributes {
		key += attr + "\x00"
	}
	return key, nil
}

func (m *mockStub) GetStateByPartialCompositeKey(objectType string, keys []string) (shim.StateQueryIteratorInterface, error) {
	prefix, _ := m.CreateCompositeKey(objectType, keys)

	var matched []string
	for key := range m.state {
		if strings.HasPrefix(key, prefix) {
			matched = append(matched, key)
		}
	}
	sort.Strings(matched)

	kvs := make([]*queryresult.KV, 0, len(matched))
	for _, key := range matched {
		kvs = append(kvs, &queryresult.KV{Key: key, Value: m.state[key]})
	}
	return &mockIterator{kvs: kvs}, nil
}

func (m *mockStub) GetTxTimestamp() (*timestamp.Timestamp, error) {
	return &timestamp.Timestamp{Seconds: m.now}, nil
}

func (m *mockStub) GetTxID() string {
	return "mock-tx"
}

func (m *mockStub) SetEvent(name string, payload []byte) error {
	m.events[name] = append(m.events[name], payload)
	return nil
}

func (m *mockStub) InvokeChaincode(chaincodeName string, args [][]byte, channel string) pb.Response {
	if m.failToken {
		return shim.Error("token chaincode rejected the transfer")
	}
	if chaincodeName != testToken || channel != testChannel {
		return shim.Error("unknown chaincode " + chaincodeName)
	}
	if len(args) != 5 || string(args[0]) != "Transfer" {
		return shim.Error("unexpected token invocation")
	}
	amount, err := strconv.ParseUint(string(args[3]), 10, 64)
	if err != nil {
		return shim.Error("bad amount")
	}
	m.transfers = append(m.transfers, tokenCall{
		From:   string(args[1]),
		To:     string(args[2]),
		Amount: amount,
		Memo:   string(args[4]),
	})
	return shim.Success(nil)
}

type mockIterator struct {
	kvs []*queryresult.KV
	idx int
}

func (it *mockIterator) HasNext() bool {
	return it.idx < len(it.kvs)
}

func (it *mockIterator) Next() (*queryresult.KV, error) {
	kv := it.kvs[it.idx]
	it.idx++
	return kv, nil
}

func (it *mockIterator) Close() error { return nil }

// mockIdentity stands in for the Fabric client identity.
type mockIdentity struct {
	cid.ClientIdentity
	id    string
	msp   string
	attrs map[string]string
}

func (m *mockIdentity) GetID() (string, error)    { return m.id, nil }
func (m *mockIdentity) GetMSPID() (string, error) { return m.msp, nil }

func (m *mockIdentity) GetAttributeValue(attrName string) (string, bool, error) {
	val, ok := m.attrs[attrName]
	return val, ok, nil
}

// fixture wires a contract to one shared world state; contexts built from it
// represent different submitters racing against the same ledger.
type fixture struct {
	t        *testing.T
	contract *SmartContract
	stub     *mockStub
}

func newFixture(t *testing.T) *fixture {
	return &fixture{t: t, contract: &SmartContract{}, stub: newMockStub()}
}

func (f *fixture) as(account string) *contractapi.TransactionContext {
	ctx := &contractapi.TransactionContext{}
	ctx.SetStub(f.stub)
	ctx.SetClientIdentity(&mockIdentity{id: account, msp: userMSP})
	return ctx
}

func (f *fixture) asAdmin() *contractapi.TransactionContext {
	ctx := &contractapi.TransactionContext{}
	ctx.SetStub(f.stub)
	ctx.SetClientIdentity(&mockIdentity{id: "bridge-admin", msp: AdminMSP})
	return ctx
}

func (f *fixture) asRepairer() *contractapi.TransactionContext {
	ctx := &contractapi.TransactionContext{}
	ctx.SetStub(f.stub)
	ctx.SetClientIdentity(&mockIdentity{
		id:    "bridge-admin",
		msp:   AdminMSP,
		attrs: map[string]string{RepairAttribute: "true"},
	})
	return ctx
}

// newBridge initializes a bridge with min 100, no fixed fee, a 1% variable
// fee, and chains 1 and 2 registered.
func newBridge(t *testing.T, threshold uint32) *fixture {
	f := newFixture(t)
	err := f.contract.InitBridge(f.asAdmin(), testSymbol, testToken, testChannel, testBridge, 100, 0, 100, threshold)
	require.NoError(t, err)
	require.NoError(t, f.contract.AddChain(f.asAdmin(), 1, "Ethereum", "1", "0xbridge", "0xtoken"))
	require.NoError(t, f.contract.AddChain(f.asAdmin(), 2, "BSC", "56", "0xbridge", "0xtoken"))
	return f
}

func (f *fixture) registerOracles(names ...string) {
	for _, name := range names {
		require.NoError(f.t, f.contract.RegisterOracle(f.asAdmin(), name))
	}
}

func (f *fixture) deposit(account string, amount uint64) {
	require.NoError(f.t, f.contract.DepositTokens(f.as(account), account, amount))
}
