package handlers

import (
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"treasury-backend/internal/metrics"
	"treasury-backend/internal/repository"
	"treasury-backend/internal/services"
	"treasury-backend/internal/treasury"
)

// BridgeHandler serves bridge quoting, transaction building and the
// transfer ledger.
type BridgeHandler struct {
	bridge    *services.BridgeService
	transfers repository.TransferRepository
}

func NewBridgeHandler(bridge *services.BridgeService, transfers repository.TransferRepository) *BridgeHandler {
	return &BridgeHandler{bridge: bridge, transfers: transfers}
}

type transferRequestBody struct {
	SourceChainID uint64 `json:"sourceChainId" binding:"required"`
	DestChainID   uint64 `json:"destChainId" binding:"required"`
	Amount        string `json:"amount" binding:"required"` // raw smallest units
	Depositor     string `json:"depositor" binding:"required"`
	Recipient     string `json:"recipient" binding:"required"`
}

func (b *transferRequestBody) parse() (services.TransferRequest, error) {
	amount, ok := new(big.Int).SetString(b.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		return services.TransferRequest{}, errInvalidAmount
	}
	if !common.IsHexAddress(b.Depositor) || !common.IsHexAddress(b.Recipient) {
		return services.TransferRequest{}, errInvalidAddress
	}
	return services.TransferRequest{
		SourceChainID: b.SourceChainID,
		DestChainID:   b.DestChainID,
		Amount:        amount,
		Depositor:     common.HexToAddress(b.Depositor),
		Recipient:     common.HexToAddress(b.Recipient),
	}, nil
}

var (
	errInvalidAmount  = &badRequestError{"amount must be a positive integer in smallest units"}
	errInvalidAddress = &badRequestError{"depositor and recipient must be hex addresses"}
)

type badRequestError struct{ msg string }

func (e *badRequestError) Error() string { return e.msg }

// Quote returns a normalized bridge quote for a transfer.
func (h *BridgeHandler) Quote(c *gin.Context) {
	if _, ok := workspaceID(c); !ok {
		return
	}
	var body transferRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	req, err := body.parse()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	quote, err := h.bridge.Quote(c.Request.Context(), req)
	if err != nil {
		metrics.BridgeQuotesTotal.WithLabelValues(providerLabel(quote), "error").Inc()
		respondError(c, err)
		return
	}
	metrics.BridgeQuotesTotal.WithLabelValues(quote.Provider, "ok").Inc()
	c.JSON(http.StatusOK, quote)
}

// BuildTransfer quotes and encodes a plain transfer batch.
func (h *BridgeHandler) BuildTransfer(c *gin.Context) {
	if _, ok := workspaceID(c); !ok {
		return
	}
	var body transferRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	req, err := body.parse()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	quote, txs, err := h.bridge.BuildSimpleTransfer(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quote": quote, "transactions": txs})
}

type vaultTransferRequestBody struct {
	transferRequestBody
	VaultAddress string `json:"vaultAddress" binding:"required"`
}

// BuildVaultTransfer encodes a transfer that lands in an ERC-4626 vault on
// the destination chain, credited to the recipient.
func (h *BridgeHandler) BuildVaultTransfer(c *gin.Context) {
	if _, ok := workspaceID(c); !ok {
		return
	}
	var body vaultTransferRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	req, err := body.parse()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !common.IsHexAddress(body.VaultAddress) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "vaultAddress must be a hex address"})
		return
	}

	destToken, err := h.destUSDC(req.DestChainID)
	if err != nil {
		respondError(c, err)
		return
	}
	vault := common.HexToAddress(body.VaultAddress)

	quote, txs, err := h.bridge.BuildTransferWithAction(c.Request.Context(), req, func(outputAmount *big.Int) ([]treasury.CrossChainAction, error) {
		return services.VaultDepositActions(destToken, vault, req.Recipient, outputAmount)
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quote": quote, "transactions": txs})
}

func (h *BridgeHandler) destUSDC(chainID uint64) (common.Address, error) {
	desc, err := h.bridge.Registry().Get(chainID)
	if err != nil {
		return common.Address{}, err
	}
	return desc.USDCAddress, nil
}

type recordDepositRequest struct {
	Quote         *treasury.BridgeQuote `json:"quote" binding:"required"`
	DepositTxHash string                `json:"depositTxHash" binding:"required"`
}

// RecordDeposit writes the ledger entry after the caller has broadcast the
// deposit transaction.
func (h *BridgeHandler) RecordDeposit(c *gin.Context) {
	wsID, ok := workspaceID(c)
	if !ok {
		return
	}
	var req recordDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	transfer, err := h.bridge.RecordDeposit(c.Request.Context(), wsID, req.Quote, req.DepositTxHash)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, transfer)
}

// ListTransfers returns the workspace's recent bridge transfers.
func (h *BridgeHandler) ListTransfers(c *gin.Context) {
	wsID, ok := workspaceID(c)
	if !ok {
		return
	}
	transfers, err := h.transfers.ListByWorkspace(c.Request.Context(), wsID, 50)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transfers": transfers})
}

func providerLabel(quote *treasury.BridgeQuote) string {
	if quote == nil {
		return "unknown"
	}
	return quote.Provider
}
