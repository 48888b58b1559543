package services

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"treasury-backend/internal/chains"
	"treasury-backend/internal/clients"
	"treasury-backend/internal/models"
	"treasury-backend/internal/repository"
	"treasury-backend/internal/treasury"
)

// Bridge provider identifiers.
const (
	ProviderAcross = "across"
	ProviderLiFi   = "lifi"
)

// AcrossAPI is the slice of the Across client the engine uses.
type AcrossAPI interface {
	GetSuggestedFees(ctx context.Context, req clients.SuggestedFeesRequest) (*clients.SuggestedFeesResponse, error)
}

// LiFiAPI is the slice of the LI.FI client the engine uses.
type LiFiAPI interface {
	GetQuote(ctx context.Context, req clients.LiFiQuoteRequest) (*clients.LiFiQuoteResponse, error)
}

// TransferRequest describes one cross-chain stable-asset move.
type TransferRequest struct {
	SourceChainID uint64
	DestChainID   uint64
	Amount        *big.Int // smallest units of the source stable asset
	Depositor     common.Address
	Recipient     common.Address
}

// BridgeService quotes and encodes cross-chain transfers. Provider-specific
// response shapes never escape it; callers only ever see the normalized
// BridgeQuote, Transaction and CrossChainAction types.
type BridgeService struct {
	registry    *chains.Registry
	across      AcrossAPI
	lifi        LiFiAPI
	transfers   repository.TransferRepository
	slippageBps int
	quoteTTL    time.Duration
	log         *logrus.Entry
}

// NewBridgeService wires the engine. slippageBps applies to LI.FI quotes;
// quoteTTL bounds how long a quote may be used to build transactions.
func NewBridgeService(registry *chains.Registry, across AcrossAPI, lifi LiFiAPI, transfers repository.TransferRepository, slippageBps int, quoteTTL time.Duration) *BridgeService {
	if slippageBps <= 0 {
		slippageBps = 50
	}
	if quoteTTL <= 0 {
		quoteTTL = 60 * time.Second
	}
	return &BridgeService{
		registry:    registry,
		across:      across,
		lifi:        lifi,
		transfers:   transfers,
		slippageBps: slippageBps,
		quoteTTL:    quoteTTL,
		log:         logrus.WithField("component", "bridge_service"),
	}
}

// Registry exposes the chain registry the engine was built over.
func (s *BridgeService) Registry() *chains.Registry {
	return s.registry
}

// ProviderFor selects the provider for a destination chain: Across when the
// chain has a spoke pool, LI.FI otherwise. Pure function of the descriptor.
func (s *BridgeService) ProviderFor(destChainID uint64) (string, error) {
	desc, err := s.registry.Get(destChainID)
	if err != nil {
		return "", err
	}
	if desc.HasSpokePool() {
		return ProviderAcross, nil
	}
	return ProviderLiFi, nil
}

// Quote fetches and normalizes a route quote for the transfer.
func (s *BridgeService) Quote(ctx context.Context, req TransferRequest) (*treasury.BridgeQuote, error) {
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("transfer amount must be positive")
	}
	srcDesc, err := s.registry.Get(req.SourceChainID)
	if err != nil {
		return nil, err
	}
	dstDesc, err := s.registry.Get(req.DestChainID)
	if err != nil {
		return nil, err
	}

	provider, err := s.ProviderFor(req.DestChainID)
	if err != nil {
		return nil, err
	}
	switch provider {
	case ProviderAcross:
		return s.quoteAcross(ctx, req, srcDesc, dstDesc, "")
	default:
		return s.quoteLiFi(ctx, req, srcDesc, dstDesc)
	}
}

func (s *BridgeService) quoteAcross(ctx context.Context, req TransferRequest, src, dst *chains.Descriptor, message string) (*treasury.BridgeQuote, error) {
	recipient := req.Recipient
	resp, err := s.across.GetSuggestedFees(ctx, clients.SuggestedFeesRequest{
		InputToken:         src.USDCAddress.Hex(),
		OutputToken:        dst.USDCAddress.Hex(),
		OriginChainID:      src.ChainID,
		DestinationChainID: dst.ChainID,
		Amount:             req.Amount.String(),
		Recipient:          recipient.Hex(),
		Message:            message,
	})
	if err != nil {
		return nil, err
	}
	if resp.IsAmountTooLow {
		return nil, fmt.Errorf("%w: amount below provider minimum", treasury.ErrNoRoute)
	}

	totalFee, ok := new(big.Int).SetString(resp.TotalRelayFee.Total, 10)
	if !ok {
		return nil, treasury.WrapProviderError(ProviderAcross, fmt.Errorf("bad totalRelayFee %q", resp.TotalRelayFee.Total))
	}
	quoteTimestamp, err := strconv.ParseUint(resp.Timestamp, 10, 32)
	if err != nil {
		return nil, treasury.WrapProviderError(ProviderAcross, fmt.Errorf("bad timestamp %q", resp.Timestamp))
	}
	fillDeadline, err := strconv.ParseUint(resp.FillDeadline, 10, 32)
	if err != nil {
		return nil, treasury.WrapProviderError(ProviderAcross, fmt.Errorf("bad fillDeadline %q", resp.FillDeadline))
	}

	// Across relays the input minus its relay fee; there is no separate
	// slippage because the output amount is exact.
	output := new(big.Int).Sub(req.Amount, totalFee)
	if output.Sign() <= 0 {
		return nil, fmt.Errorf("%w: fee %s exceeds amount %s", treasury.ErrNoRoute, totalFee, req.Amount)
	}

	// The deposit is submitted to the origin chain's spoke pool; the
	// provider response overrides the configured address when present.
	if !src.HasSpokePool() {
		return nil, fmt.Errorf("%w: chain %d has no spoke pool", treasury.ErrNoRoute, src.ChainID)
	}
	spokePool := src.SpokePool
	if resp.SpokePoolAddress != "" {
		spokePool = common.HexToAddress(resp.SpokePoolAddress)
	}

	return &treasury.BridgeQuote{
		Provider:          ProviderAcross,
		SourceChainID:     src.ChainID,
		DestChainID:       dst.ChainID,
		InputAmount:       new(big.Int).Set(req.Amount),
		OutputAmount:      output,
		OutputAmountMin:   new(big.Int).Set(output),
		TotalFee:          totalFee,
		EstimatedFillTime: time.Duration(resp.EstimatedFillTimeSec) * time.Second,
		ApprovalAddress:   spokePool,
		Deposit: &treasury.DepositParams{
			SpokePool:           spokePool,
			ExclusiveRelayer:    common.HexToAddress(resp.ExclusiveRelayer),
			QuoteTimestamp:      uint32(quoteTimestamp),
			FillDeadline:        uint32(fillDeadline),
			ExclusivityDeadline: resp.ExclusivityDeadline,
		},
		FetchedAt: time.Now(),
		ValidFor:  s.quoteTTL,
	}, nil
}

func (s *BridgeService) quoteLiFi(ctx context.Context, req TransferRequest, src, dst *chains.Descriptor) (*treasury.BridgeQuote, error) {
	resp, err := s.lifi.GetQuote(ctx, clients.LiFiQuoteRequest{
		FromChain:   src.ChainID,
		ToChain:     dst.ChainID,
		FromToken:   src.USDCAddress.Hex(),
		ToToken:     dst.USDCAddress.Hex(),
		FromAmount:  req.Amount.String(),
		FromAddress: req.Depositor.Hex(),
		ToAddress:   req.Recipient.Hex(),
		Slippage:    float64(s.slippageBps) / 10000,
	})
	if err != nil {
		return nil, err
	}
	if resp.TransactionRequest == nil {
		return nil, fmt.Errorf("%w: provider returned no transaction", treasury.ErrNoRoute)
	}

	toAmount, ok := new(big.Int).SetString(resp.Estimate.ToAmount, 10)
	if !ok {
		return nil, treasury.WrapProviderError(ProviderLiFi, fmt.Errorf("bad toAmount %q", resp.Estimate.ToAmount))
	}
	toAmountMin, ok := new(big.Int).SetString(resp.Estimate.ToAmountMin, 10)
	if !ok {
		return nil, treasury.WrapProviderError(ProviderLiFi, fmt.Errorf("bad toAmountMin %q", resp.Estimate.ToAmountMin))
	}

	txValue := big.NewInt(0)
	if resp.TransactionRequest.Value != "" {
		parsed, err := hexOrDecimal(resp.TransactionRequest.Value)
		if err != nil {
			return nil, treasury.WrapProviderError(ProviderLiFi, fmt.Errorf("bad tx value %q", resp.TransactionRequest.Value))
		}
		txValue = parsed
	}
	data, err := hexutil.Decode(resp.TransactionRequest.Data)
	if err != nil {
		return nil, treasury.WrapProviderError(ProviderLiFi, fmt.Errorf("bad tx data: %v", err))
	}

	return &treasury.BridgeQuote{
		Provider:          ProviderLiFi,
		Tool:              resp.Tool,
		SourceChainID:     src.ChainID,
		DestChainID:       dst.ChainID,
		InputAmount:       new(big.Int).Set(req.Amount),
		OutputAmount:      toAmount,
		OutputAmountMin:   toAmountMin,
		TotalFee:          new(big.Int).Sub(req.Amount, toAmount),
		EstimatedFillTime: time.Duration(resp.Estimate.ExecutionDuration * float64(time.Second)),
		ApprovalAddress:   common.HexToAddress(resp.Estimate.ApprovalAddress),
		TransactionRequest: &treasury.Transaction{
			To:      common.HexToAddress(resp.TransactionRequest.To),
			Data:    data,
			Value:   txValue,
			ChainID: resp.TransactionRequest.ChainID,
		},
		FetchedAt: time.Now(),
		ValidFor:  s.quoteTTL,
	}, nil
}

func hexOrDecimal(v string) (*big.Int, error) {
	if len(v) > 1 && (v[:2] == "0x" || v[:2] == "0X") {
		return hexutil.DecodeBig(v)
	}
	parsed, ok := new(big.Int).SetString(v, 10)
	if !ok {
		return nil, fmt.Errorf("not a number: %q", v)
	}
	return parsed, nil
}

// validateQuote enforces quote reuse rules: a quote binds to the exact
// amount and chain pair it was computed for, and only within its validity
// window.
func validateQuote(quote *treasury.BridgeQuote, req TransferRequest, now time.Time) error {
	if quote == nil {
		return fmt.Errorf("%w: no quote supplied", treasury.ErrQuoteMismatch)
	}
	if quote.InputAmount == nil || quote.InputAmount.Cmp(req.Amount) != 0 {
		return fmt.Errorf("%w: quote amount %s, transfer amount %s", treasury.ErrQuoteMismatch, quote.InputAmount, req.Amount)
	}
	if quote.SourceChainID != req.SourceChainID || quote.DestChainID != req.DestChainID {
		return fmt.Errorf("%w: quote is for chains %d->%d", treasury.ErrQuoteMismatch, quote.SourceChainID, quote.DestChainID)
	}
	if quote.Expired(now) {
		return fmt.Errorf("%w: fetched %s ago", treasury.ErrQuoteExpired, now.Sub(quote.FetchedAt).Round(time.Second))
	}
	return nil
}

// BuildSimpleTransfer quotes and encodes a plain stable-asset move to the
// destination account: an ERC-20 approval followed by the deposit.
func (s *BridgeService) BuildSimpleTransfer(ctx context.Context, req TransferRequest) (*treasury.BridgeQuote, []treasury.Transaction, error) {
	quote, err := s.Quote(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	txs, err := s.BuildSimpleTransferWithQuote(ctx, quote, req)
	if err != nil {
		return nil, nil, err
	}
	return quote, txs, nil
}

// BuildSimpleTransferWithQuote encodes the transfer against an existing
// quote, rejecting stale or mismatched quotes.
func (s *BridgeService) BuildSimpleTransferWithQuote(ctx context.Context, quote *treasury.BridgeQuote, req TransferRequest) ([]treasury.Transaction, error) {
	if err := validateQuote(quote, req, time.Now()); err != nil {
		return nil, err
	}
	srcDesc, err := s.registry.Get(req.SourceChainID)
	if err != nil {
		return nil, err
	}

	switch quote.Provider {
	case ProviderAcross:
		return s.buildAcrossDeposit(quote, req, srcDesc, req.Recipient, nil)
	case ProviderLiFi:
		approve, err := encodeApprove(srcDesc.USDCAddress, quote.ApprovalAddress, req.Amount, req.SourceChainID)
		if err != nil {
			return nil, err
		}
		return []treasury.Transaction{approve, *quote.TransactionRequest}, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", quote.Provider)
	}
}

// ActionBuilder produces the destination action list for a given delivered
// amount. It is invoked once to size the message for quoting and again with
// the quoted output amount, so actions never pull more than the bridge
// delivers.
type ActionBuilder func(outputAmount *big.Int) ([]treasury.CrossChainAction, error)

// BuildTransferWithAction bridges funds to the destination's multicall
// handler with an attached action list, executed there after the fill. The
// user signs only the source-chain batch.
func (s *BridgeService) BuildTransferWithAction(ctx context.Context, req TransferRequest, build ActionBuilder) (*treasury.BridgeQuote, []treasury.Transaction, error) {
	dstDesc, err := s.registry.Get(req.DestChainID)
	if err != nil {
		return nil, nil, err
	}
	provider, err := s.ProviderFor(req.DestChainID)
	if err != nil {
		return nil, nil, err
	}
	if provider != ProviderAcross {
		return nil, nil, fmt.Errorf("%w: destination actions require a spoke pool chain", treasury.ErrNoRoute)
	}
	if dstDesc.MulticallHandler == (common.Address{}) {
		return nil, nil, fmt.Errorf("%w: chain %d has no multicall handler", treasury.ErrNoRoute, req.DestChainID)
	}

	srcDesc, err := s.registry.Get(req.SourceChainID)
	if err != nil {
		return nil, nil, err
	}

	// The message affects relay gas cost, so it is part of the quote
	// request. Amounts occupy fixed-width words in the encoding, so a
	// message sized with the input amount has the same length and gas
	// profile as the final one. Fallback funds land with the final
	// recipient on failure.
	sizingActions, err := build(new(big.Int).Set(req.Amount))
	if err != nil {
		return nil, nil, err
	}
	sizingMessage, err := EncodeActions(sizingActions, req.Recipient)
	if err != nil {
		return nil, nil, err
	}
	handlerReq := req
	handlerReq.Recipient = dstDesc.MulticallHandler
	quote, err := s.quoteAcross(ctx, handlerReq, srcDesc, dstDesc, hexutil.Encode(sizingMessage))
	if err != nil {
		return nil, nil, err
	}

	// Rebuild the actions against the quoted output so the destination
	// calls consume exactly what the relay delivers.
	actions, err := build(new(big.Int).Set(quote.OutputAmount))
	if err != nil {
		return nil, nil, err
	}
	message, err := EncodeActions(actions, req.Recipient)
	if err != nil {
		return nil, nil, err
	}

	txs, err := s.buildAcrossDeposit(quote, req, srcDesc, dstDesc.MulticallHandler, message)
	if err != nil {
		return nil, nil, err
	}
	return quote, txs, nil
}

// buildAcrossDeposit encodes the approve + depositV3 pair for a quote.
func (s *BridgeService) buildAcrossDeposit(quote *treasury.BridgeQuote, req TransferRequest, src *chains.Descriptor, recipient common.Address, message []byte) ([]treasury.Transaction, error) {
	if quote.Deposit == nil {
		return nil, fmt.Errorf("%w: quote carries no deposit parameters", treasury.ErrQuoteMismatch)
	}
	dstDesc, err := s.registry.Get(quote.DestChainID)
	if err != nil {
		return nil, err
	}
	if message == nil {
		message = []byte{}
	}

	approve, err := encodeApprove(src.USDCAddress, quote.Deposit.SpokePool, quote.InputAmount, quote.SourceChainID)
	if err != nil {
		return nil, err
	}

	depositData, err := chains.SpokePoolABI.Pack("depositV3",
		req.Depositor,
		recipient,
		src.USDCAddress,
		dstDesc.USDCAddress,
		quote.InputAmount,
		quote.OutputAmount,
		new(big.Int).SetUint64(quote.DestChainID),
		quote.Deposit.ExclusiveRelayer,
		quote.Deposit.QuoteTimestamp,
		quote.Deposit.FillDeadline,
		quote.Deposit.ExclusivityDeadline,
		message,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to encode depositV3: %w", err)
	}

	return []treasury.Transaction{
		approve,
		{
			To:      quote.Deposit.SpokePool,
			Data:    depositData,
			Value:   big.NewInt(0),
			ChainID: quote.SourceChainID,
		},
	}, nil
}

func encodeApprove(token, spender common.Address, amount *big.Int, chainID uint64) (treasury.Transaction, error) {
	data, err := chains.ERC20ABI.Pack("approve", spender, amount)
	if err != nil {
		return treasury.Transaction{}, fmt.Errorf("failed to encode approve: %w", err)
	}
	return treasury.Transaction{
		To:      token,
		Data:    data,
		Value:   big.NewInt(0),
		ChainID: chainID,
	}, nil
}

// handlerCall mirrors the multicall handler's Call tuple for ABI packing.
type handlerCall struct {
	Target   common.Address `abi:"target"`
	CallData []byte         `abi:"callData"`
	Value    *big.Int       `abi:"value"`
}

type handlerInstructions struct {
	Calls             []handlerCall  `abi:"calls"`
	FallbackRecipient common.Address `abi:"fallbackRecipient"`
}

var instructionsArgs = abi.Arguments{{Type: mustTupleType()}}

func mustTupleType() abi.Type {
	t, err := abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "calls", Type: "tuple[]", Components: []abi.ArgumentMarshaling{
			{Name: "target", Type: "address"},
			{Name: "callData", Type: "bytes"},
			{Name: "value", Type: "uint256"},
		}},
		{Name: "fallbackRecipient", Type: "address"},
	})
	if err != nil {
		panic("invalid instructions type: " + err.Error())
	}
	return t
}

// EncodeActions packs an ordered action list into the multicall handler's
// instruction message. fallbackRecipient receives the funds if any call
// reverts on the destination.
func EncodeActions(actions []treasury.CrossChainAction, fallbackRecipient common.Address) ([]byte, error) {
	if len(actions) == 0 {
		return nil, fmt.Errorf("no actions to encode")
	}
	calls := make([]handlerCall, len(actions))
	for i, action := range actions {
		value := action.Value
		if value == nil {
			value = big.NewInt(0)
		}
		calls[i] = handlerCall{
			Target:   action.Target,
			CallData: action.CallData,
			Value:    value,
		}
	}
	packed, err := instructionsArgs.Pack(handlerInstructions{
		Calls:             calls,
		FallbackRecipient: fallbackRecipient,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode actions: %w", err)
	}
	return packed, nil
}

// VaultDepositActions builds the destination-side action pair that sweeps
// bridged funds into an ERC-4626 vault: approve the vault for the bridged
// amount, then deposit it crediting receiver.
func VaultDepositActions(token, vault, receiver common.Address, amount *big.Int) ([]treasury.CrossChainAction, error) {
	approveData, err := chains.ERC20ABI.Pack("approve", vault, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to encode vault approve: %w", err)
	}
	depositData, err := chains.VaultABI.Pack("deposit", amount, receiver)
	if err != nil {
		return nil, fmt.Errorf("failed to encode vault deposit: %w", err)
	}
	return []treasury.CrossChainAction{
		{Target: token, CallData: approveData, Value: big.NewInt(0)},
		{Target: vault, CallData: depositData, Value: big.NewInt(0)},
	}, nil
}

// RecordDeposit writes the ledger entry for a broadcast deposit.
func (s *BridgeService) RecordDeposit(ctx context.Context, workspaceID uuid.UUID, quote *treasury.BridgeQuote, depositTxHash string) (*models.BridgeTransfer, error) {
	srcDesc, err := s.registry.Get(quote.SourceChainID)
	if err != nil {
		return nil, err
	}
	dstDesc, err := s.registry.Get(quote.DestChainID)
	if err != nil {
		return nil, err
	}
	transfer := &models.BridgeTransfer{
		WorkspaceID:   workspaceID,
		SourceChainID: quote.SourceChainID,
		DestChainID:   quote.DestChainID,
		Provider:      quote.Provider,
		Tool:          quote.Tool,
		InputToken:    srcDesc.USDCAddress.Hex(),
		OutputToken:   dstDesc.USDCAddress.Hex(),
		InputAmount:   quote.InputAmount.String(),
		OutputAmount:  quote.OutputAmount.String(),
		DepositTxHash: depositTxHash,
		Status:        models.TransferStatusPending,
	}
	if err := s.transfers.Create(ctx, transfer); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"workspace_id":    workspaceID,
		"deposit_tx_hash": depositTxHash,
		"provider":        quote.Provider,
	}).Info("Recorded bridge deposit")
	return transfer, nil
}
