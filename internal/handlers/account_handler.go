package handlers

import (
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"treasury-backend/internal/metrics"
	"treasury-backend/internal/models"
	"treasury-backend/internal/repository"
	"treasury-backend/internal/services"
)

// AccountHandler serves account listing and deployment orchestration.
type AccountHandler struct {
	accounts   repository.AccountRepository
	deployment *services.DeploymentService
}

func NewAccountHandler(accounts repository.AccountRepository, deployment *services.DeploymentService) *AccountHandler {
	return &AccountHandler{accounts: accounts, deployment: deployment}
}

// List returns the workspace's registered accounts, optionally narrowed by
// ?chainId= and ?type=.
func (h *AccountHandler) List(c *gin.Context) {
	wsID, ok := workspaceID(c)
	if !ok {
		return
	}
	accounts, err := h.accounts.ListByWorkspace(c.Request.Context(), wsID)
	if err != nil {
		respondError(c, err)
		return
	}

	if raw := c.Query("chainId"); raw != "" {
		chainID, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chainId"})
			return
		}
		accounts = filterAccounts(accounts, func(a models.Account) bool { return a.ChainID == chainID })
	}
	if raw := c.Query("type"); raw != "" {
		accountType := models.AccountType(raw)
		if !accountType.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account type"})
			return
		}
		accounts = filterAccounts(accounts, func(a models.Account) bool { return a.AccountType == accountType })
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

func filterAccounts(accounts []models.Account, keep func(models.Account) bool) []models.Account {
	filtered := accounts[:0]
	for _, a := range accounts {
		if keep(a) {
			filtered = append(filtered, a)
		}
	}
	return filtered
}

// Status returns the per-chain deployment picture for one account type.
func (h *AccountHandler) Status(c *gin.Context) {
	wsID, ok := workspaceID(c)
	if !ok {
		return
	}
	accountType := models.AccountType(c.DefaultQuery("type", string(models.AccountTypePrimary)))
	statuses, err := h.deployment.MultiChainStatus(c.Request.Context(), wsID, accountType)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chains": statuses})
}

type prepareDeploymentRequest struct {
	SourceChainID uint64 `json:"sourceChainId" binding:"required"`
	TargetChainID uint64 `json:"targetChainId" binding:"required"`
	AccountType   string `json:"accountType" binding:"required"`
}

// PrepareDeployment builds the unsigned deployment transaction for the
// workspace's account on a new chain.
func (h *AccountHandler) PrepareDeployment(c *gin.Context) {
	wsID, ok := workspaceID(c)
	if !ok {
		return
	}
	var req prepareDeploymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	plan, err := h.deployment.PrepareDeployment(c.Request.Context(), wsID, req.SourceChainID, req.TargetChainID, models.AccountType(req.AccountType))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

type registerAccountRequest struct {
	ChainID     uint64 `json:"chainId" binding:"required"`
	AccountType string `json:"accountType" binding:"required"`
	Address     string `json:"address" binding:"required"`
	TxHash      string `json:"txHash"`
}

// Register records a confirmed deployment. Idempotent.
func (h *AccountHandler) Register(c *gin.Context) {
	wsID, ok := workspaceID(c)
	if !ok {
		return
	}
	var req registerAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if !common.IsHexAddress(req.Address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
		return
	}

	account, err := h.deployment.RegisterAccount(c.Request.Context(), wsID, req.ChainID, models.AccountType(req.AccountType), common.HexToAddress(req.Address), req.TxHash)
	if err != nil {
		respondError(c, err)
		return
	}
	metrics.DeploymentsTotal.WithLabelValues(strconv.FormatUint(req.ChainID, 10)).Inc()
	c.JSON(http.StatusOK, account)
}

// Delete removes an account registration. The on-chain contract is
// untouched; this only drops the workspace's record of it.
func (h *AccountHandler) Delete(c *gin.Context) {
	wsID, ok := workspaceID(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
		return
	}

	removed, err := h.accounts.Delete(c.Request.Context(), wsID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	if removed == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}
	logrus.WithFields(logrus.Fields{
		"workspace_id": wsID,
		"account_id":   id,
	}).Info("Account registration removed")
	c.Status(http.StatusNoContent)
}

// AdoptOrphans claims pre-workspace account rows for the caller's workspace.
func (h *AccountHandler) AdoptOrphans(c *gin.Context) {
	wsID, ok := workspaceID(c)
	if !ok {
		return
	}
	uID, ok := userID(c)
	if !ok {
		return
	}
	claimed, err := h.accounts.AdoptOrphans(c.Request.Context(), uID, wsID)
	if err != nil {
		respondError(c, err)
		return
	}
	if claimed > 0 {
		logrus.WithFields(logrus.Fields{
			"workspace_id": wsID,
			"claimed":      claimed,
		}).Info("Adopted legacy accounts into workspace")
	}
	c.JSON(http.StatusOK, gin.H{"adopted": claimed})
}
