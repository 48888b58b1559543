// Package treasury holds the shared domain types and error taxonomy of the
// multi-chain treasury coordinator. It imports nothing from the other
// internal packages so every layer can depend on it.
package treasury

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Transaction is an unsigned transaction request handed to a client-side
// signer. Amounts and calldata are fully resolved server-side.
type Transaction struct {
	To      common.Address `json:"to"`
	Data    hexutil.Bytes  `json:"data"`
	Value   *big.Int       `json:"value"`
	ChainID uint64         `json:"chainId"`
}

// DepositParams carries the Across-specific fields a depositV3 call needs
// beyond the basic transfer parameters.
type DepositParams struct {
	SpokePool           common.Address `json:"spokePool"`
	ExclusiveRelayer    common.Address `json:"exclusiveRelayer"`
	QuoteTimestamp      uint32         `json:"quoteTimestamp"`
	FillDeadline        uint32         `json:"fillDeadline"`
	ExclusivityDeadline uint32         `json:"exclusivityDeadline"`
}

// BridgeQuote is the provider-agnostic normalized quote. Every amount is a
// raw integer in the token's smallest unit.
type BridgeQuote struct {
	Provider          string         `json:"provider"`
	Tool              string         `json:"tool,omitempty"`
	SourceChainID     uint64         `json:"sourceChainId"`
	DestChainID       uint64         `json:"destChainId"`
	InputAmount       *big.Int       `json:"inputAmount"`
	OutputAmount      *big.Int       `json:"outputAmount"`
	OutputAmountMin   *big.Int       `json:"outputAmountMin"`
	TotalFee          *big.Int       `json:"totalFee"`
	EstimatedFillTime time.Duration  `json:"estimatedFillTime"`
	ApprovalAddress   common.Address `json:"approvalAddress"`

	// Deposit is set for quotes whose transaction the server encodes itself.
	Deposit *DepositParams `json:"deposit,omitempty"`
	// TransactionRequest is set for quotes where the provider supplies
	// ready-made calldata.
	TransactionRequest *Transaction `json:"transactionRequest,omitempty"`

	FetchedAt time.Time     `json:"fetchedAt"`
	ValidFor  time.Duration `json:"validFor"`
}

// Expired reports whether the quote is past its validity window at now.
func (q *BridgeQuote) Expired(now time.Time) bool {
	if q.ValidFor <= 0 {
		return false
	}
	return now.After(q.FetchedAt.Add(q.ValidFor))
}

// CrossChainAction is one call executed on the destination chain after a
// bridge fill lands.
type CrossChainAction struct {
	Target   common.Address `json:"target"`
	CallData hexutil.Bytes  `json:"callData"`
	Value    *big.Int       `json:"value"`
}

// FillStatus is the terminal outcome of tracking a bridge deposit.
type FillStatus string

const (
	// FillStatusFilled means the destination transfer was observed.
	FillStatusFilled FillStatus = "filled"
	// FillStatusPending means tracking stopped before observing a fill.
	FillStatusPending FillStatus = "pending"
)
