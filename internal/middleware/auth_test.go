package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func authedRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AuthMiddleware(testSecret))
	r.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"userId":      c.GetString(ContextUserID),
			"workspaceId": c.GetString(ContextWorkspaceID),
		})
	})
	return r
}

func TestTokenRoundTrip(t *testing.T) {
	token, err := GenerateToken("user-1", "workspace-1", testSecret, time.Hour)
	require.NoError(t, err)

	claims, err := ValidateToken(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "workspace-1", claims.WorkspaceID)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	token, err := GenerateToken("user-1", "workspace-1", testSecret, time.Hour)
	require.NoError(t, err)

	_, err = ValidateToken(token, "other-secret")
	assert.Error(t, err)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	token, err := GenerateToken("user-1", "workspace-1", testSecret, -time.Minute)
	require.NoError(t, err)

	_, err = ValidateToken(token, testSecret)
	assert.Error(t, err)
}

func TestValidateTokenRequiresWorkspace(t *testing.T) {
	token, err := GenerateToken("user-1", "", testSecret, time.Hour)
	require.NoError(t, err)

	_, err = ValidateToken(token, testSecret)
	assert.Error(t, err)
}

func TestAuthMiddleware(t *testing.T) {
	router := authedRouter()

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-token", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}

	t.Run("valid token passes identity through", func(t *testing.T) {
		token, err := GenerateToken("user-1", "workspace-1", testSecret, time.Hour)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "workspace-1")
	})
}
