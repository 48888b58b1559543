package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"treasury-backend/internal/middleware"
	"treasury-backend/internal/treasury"
)

// workspaceID extracts the authenticated workspace from the request context.
func workspaceID(c *gin.Context) (uuid.UUID, bool) {
	raw := c.GetString(middleware.ContextWorkspaceID)
	id, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid workspace identity"})
		return uuid.Nil, false
	}
	return id, true
}

func userID(c *gin.Context) (uuid.UUID, bool) {
	raw := c.GetString(middleware.ContextUserID)
	id, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid user identity"})
		return uuid.Nil, false
	}
	return id, true
}

// respondError maps domain errors onto HTTP statuses. The underlying reason
// is always included so the caller can choose the right corrective action.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, treasury.ErrUnsupportedChain):
		status = http.StatusBadRequest
	case errors.Is(err, treasury.ErrSourceAccountMissing):
		status = http.StatusNotFound
	case errors.Is(err, treasury.ErrAddressConflict):
		status = http.StatusConflict
	case errors.Is(err, treasury.ErrNoRoute):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, treasury.ErrQuoteExpired), errors.Is(err, treasury.ErrQuoteMismatch):
		status = http.StatusConflict
	case errors.Is(err, treasury.ErrDeploymentTxFailed):
		status = http.StatusBadGateway
	default:
		var providerErr *treasury.ProviderError
		if errors.As(err, &providerErr) {
			status = http.StatusBadGateway
		}
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
