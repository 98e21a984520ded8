package chaincode

// Deposit is an account's escrowed balance held by the bridge, waiting to be
// teleported out or withdrawn. One record per account; erased at zero.
type Deposit struct {
	Account  string `json:"account"`
	Quantity uint64 `json:"quantity"`
}

// Teleport is an outbound bridge request. Quantity is net of fee. Oracles and
// Signatures grow in lockstep; Claimed is advisory bookkeeping set once an
// oracle observes the release on the destination chain.
type Teleport struct {
	ID         uint64   `json:"id"`
	Time       int64    `json:"time"`
	Account    string   `json:"account"`
	Quantity   uint64   `json:"quantity"`
	ChainID    uint32   `json:"chain_id"`
	EthAddress string   `json:"eth_address"`
	Oracles    []string `json:"oracles"`
	Signatures []string `json:"signatures"`
	Claimed    bool     `json:"claimed"`
}

// Cancellation marks a teleport that was refunded after the claim window.
type Cancellation struct {
	TeleportID uint64 `json:"teleport_id"`
}

// Oracle is a registered attester account.
type Oracle struct {
	Account string `json:"account"`
}

// Receipt aggregates oracle attestations for one inbound cross-chain event,
// keyed by its unique reference. Completed latches true exactly once, when
// Confirmations reaches the configured threshold.
type Receipt struct {
	ID            uint64   `json:"id"`
	Date          int64    `json:"date"`
	Ref           string   `json:"ref"`
	To            string   `json:"to"`
	ChainID       uint32   `json:"chain_id"`
	Confirmations uint32   `json:"confirmations"`
	Quantity      uint64   `json:"quantity"`
	Approvers     []string `json:"approvers"`
	Completed     bool     `json:"completed"`
}

// ChainInfo describes a supported destination chain.
type ChainInfo struct {
	Name          string `json:"name"`
	NetID         string `json:"net_id"`
	BridgeAddress string `json:"bridge_address"`
	TokenAddress  string `json:"token_address"`
}

// FreezeFlags are independent kill-switches per operation category.
type FreezeFlags struct {
	Inbound  bool `json:"inbound"`
	Outbound bool `json:"outbound"`
	Oracles  bool `json:"oracles"`
	Cancel   bool `json:"cancel"`
}

// Stats is the singleton bridge configuration and running fee accounting.
// Teleport and receipt ids come from the counters here and are never reused,
// regardless of cleanup deletions.
type Stats struct {
	Symbol         string               `json:"symbol"`
	TokenChaincode string               `json:"token_chaincode"`
	TokenChannel   string               `json:"token_channel"`
	BridgeAccount  string               `json:"bridge_account"`
	MinAmount      uint64               `json:"min_amount"`
	FixedFee       uint64               `json:"fixed_fee"`
	VariableFeeBps uint64               `json:"variable_fee_bps"`
	CollectedFees  uint64               `json:"collected_fees"`
	OracleCount    uint64               `json:"oracle_count"`
	Threshold      uint32               `json:"threshold"`
	Freeze         FreezeFlags          `json:"freeze"`
	Chains         map[uint32]ChainInfo `json:"chains"`
	NextTeleportID uint64               `json:"next_teleport_id"`
	NextReceiptID  uint64               `json:"next_receipt_id"`
}

const (
	statsKey = "stats"

	docTypeDeposit    = "DEPOSIT"
	docTypeTeleport   = "TELEPORT"
	docTypeCancel     = "CANCEL"
	docTypeOracle     = "ORACLE"
	docTypeReceipt    = "RECEIPT"
	docTypeReceiptRef = "RECEIPTREF"
)

// Event names emitted via SetEvent. TeleportRequested is the canonical
// discovery signal oracles listen to for new outbound teleports.
const (
	EventTeleportRequested = "TeleportRequested"
	EventTeleportCancelled = "TeleportCancelled"
	EventReceiptCompleted  = "ReceiptCompleted"
)

// Freeze categories accepted by SetFreeze.
const (
	FreezeInbound  = "inbound"
	FreezeOutbound = "outbound"
	FreezeOracles  = "oracles"
	FreezeCancel   = "cancel"
)
