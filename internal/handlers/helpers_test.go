package handlers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"treasury-backend/internal/treasury"
)

func TestRespondErrorStatusMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		err        error
		wantStatus int
	}{
		{fmt.Errorf("lookup: %w", treasury.ErrUnsupportedChain), http.StatusBadRequest},
		{treasury.ErrSourceAccountMissing, http.StatusNotFound},
		{treasury.ErrAddressConflict, http.StatusConflict},
		{treasury.ErrNoRoute, http.StatusUnprocessableEntity},
		{treasury.ErrQuoteExpired, http.StatusConflict},
		{treasury.ErrQuoteMismatch, http.StatusConflict},
		{treasury.ErrDeploymentTxFailed, http.StatusBadGateway},
		{treasury.NewProviderError("across", 500, "boom"), http.StatusBadGateway},
		{treasury.NewProviderError("lifi", 404, "none"), http.StatusUnprocessableEntity},
		{fmt.Errorf("plain failure"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		respondError(c, tt.err)
		assert.Equal(t, tt.wantStatus, w.Code, "error: %v", tt.err)
		assert.Contains(t, w.Body.String(), "error")
	}
}
