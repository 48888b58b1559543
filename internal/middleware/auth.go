package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// Context keys set by the auth middleware.
const (
	ContextUserID      = "userId"
	ContextWorkspaceID = "workspaceId"
)

// Claims is the token payload the dashboard's session layer issues. The
// coordinator only cares about the user and workspace identities.
type Claims struct {
	UserID      string `json:"userId"`
	WorkspaceID string `json:"workspaceId"`
	jwt.RegisteredClaims
}

// ValidateToken parses and verifies a signed token.
func ValidateToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.WorkspaceID == "" {
		return nil, fmt.Errorf("token has no workspace")
	}
	return claims, nil
}

// GenerateToken signs a token for a user/workspace pair. Used by the token
// helper command and tests.
func GenerateToken(userID, workspaceID, secret string, ttl time.Duration) (string, error) {
	claims := Claims{
		UserID:      userID,
		WorkspaceID: workspaceID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// AuthMiddleware rejects requests without a valid bearer token and exposes
// the caller's identity on the request context.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			c.Abort()
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization header must be Bearer token"})
			c.Abort()
			return
		}

		claims, err := ValidateToken(parts[1], secret)
		if err != nil {
			logrus.WithError(err).Debug("Token validation failed")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			c.Abort()
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextWorkspaceID, claims.WorkspaceID)
		c.Next()
	}
}
