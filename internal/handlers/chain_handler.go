package handlers

import (
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"treasury-backend/internal/chains"
	"treasury-backend/internal/metrics"
)

// ChainHandler serves the chain registry and on-chain balance reads.
type ChainHandler struct {
	rpc *chains.RPCManager
}

func NewChainHandler(rpc *chains.RPCManager) *ChainHandler {
	return &ChainHandler{rpc: rpc}
}

// List returns the supported chain descriptors.
func (h *ChainHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"chains": h.rpc.Registry().All()})
}

// NativeBalance returns the native balance of an address on one chain.
func (h *ChainHandler) NativeBalance(c *gin.Context) {
	chainID, err := strconv.ParseUint(c.Param("chainId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chain id"})
		return
	}
	address := c.Param("address")
	if !common.IsHexAddress(address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
		return
	}

	balance, err := h.rpc.GetBalance(c.Request.Context(), chainID, common.HexToAddress(address))
	if err != nil {
		metrics.RPCCallsTotal.WithLabelValues(strconv.FormatUint(chainID, 10), "error").Inc()
		respondError(c, err)
		return
	}
	metrics.RPCCallsTotal.WithLabelValues(strconv.FormatUint(chainID, 10), "ok").Inc()
	c.JSON(http.StatusOK, balance)
}

// TokenBalance returns the stable-asset balance of an address on one chain.
func (h *ChainHandler) TokenBalance(c *gin.Context) {
	chainID, err := strconv.ParseUint(c.Param("chainId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chain id"})
		return
	}
	address := c.Param("address")
	if !common.IsHexAddress(address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
		return
	}
	desc, err := h.rpc.Registry().Get(chainID)
	if err != nil {
		respondError(c, err)
		return
	}

	raw, err := h.rpc.TokenBalance(c.Request.Context(), chainID, desc.USDCAddress, common.HexToAddress(address))
	if err != nil {
		respondError(c, err)
		return
	}
	decimals, err := h.rpc.TokenDecimals(c.Request.Context(), chainID, desc.USDCAddress)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, chains.Balance{
		Raw:       raw,
		Formatted: chains.FormatUnits(raw, decimals),
		Decimals:  decimals,
	})
}
