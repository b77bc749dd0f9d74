package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const userIDKey = "user_id"

// BearerAuth accepts an HS256 token whose user_id claim carries the caller's
// numeric id and stores it on the context.
func BearerAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "missing bearer token"})
			return
		}
		userID, err := ParseToken(strings.TrimSpace(raw), secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "invalid or expired token"})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

// UserID returns the authenticated caller's id.
func UserID(c *gin.Context) (uint, bool) {
	v, ok := c.Get(userIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok && id > 0
}

// ParseToken verifies token and extracts its user_id claim.
func ParseToken(token, secret string) (uint, error) {
	if secret == "" {
		return 0, errors.New("jwt secret not configured")
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return 0, fmt.Errorf("parse token: %w", err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return 0, errors.New("invalid token claims")
	}
	return claimUserID(claims["user_id"])
}

// claimUserID accepts the id as a JSON number or a decimal string.
func claimUserID(v any) (uint, error) {
	switch x := v.(type) {
	case float64:
		if x >= 1 && x == float64(uint(x)) {
			return uint(x), nil
		}
	case string:
		n, err := strconv.ParseUint(x, 10, 64)
		if err == nil && n > 0 {
			return uint(n), nil
		}
	}
	return 0, fmt.Errorf("invalid user_id claim %v", v)
}

// IssueToken signs a token for userID. Tokens are normally minted by the
// login service; this is used by tooling and tests.
func IssueToken(userID uint, secret string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
