package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/EternisAI/silo-config/internal/auth"
)

const (
	apiKeyHeader = "X-API-Key"

	// ActorKey holds who made an admin request, for audit records.
	ActorKey = "actor"
)

func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !bearerAuth(c, secret) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}

func bearerAuth(c *gin.Context, secret string) bool {
	header := c.GetHeader("Authorization")
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		return false
	}
	claims, err := auth.ValidateToken(secret, strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		return false
	}
	c.Set("user_id", claims.UserID)
	c.Set("username", claims.Username)
	c.Set("role", claims.Role)
	c.Set(ActorKey, claims.Username)
	return true
}

func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get("role")
		if !exists {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}

		userRole, ok := role.(string)
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}

		for _, r := range roles {
			if r == userRole {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	}
}

func APIKeyAuth(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			slog.Warn("Admin API key not configured, rejecting request",
				"path", c.Request.URL.Path,
				"client_ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "Admin API is not configured",
			})
			return
		}

		providedKey := c.GetHeader(apiKeyHeader)
		if providedKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing API key",
			})
			return
		}

		if !apiKeyMatches(providedKey, apiKey) {
			slog.Warn("Invalid API key attempt",
				"path", c.Request.URL.Path,
				"client_ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid API key",
			})
			return
		}

		c.Set("role", auth.RoleAdmin)
		c.Set(ActorKey, "api-key")
		c.Next()
	}
}

func apiKeyMatches(provided, apiKey string) bool {
	return subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) == 1
}

// AdminAuth accepts either the admin API key or a bearer token. Role checks
// are left to RequireRole.
func AdminAuth(apiKey, jwtSecret string) gin.HandlerFunc {
	keyAuth := APIKeyAuth(apiKey)
	return func(c *gin.Context) {
		if c.GetHeader(apiKeyHeader) != "" {
			keyAuth(c)
			return
		}
		if jwtSecret != "" && bearerAuth(c, jwtSecret) {
			c.Next()
			return
		}
		if apiKey == "" && jwtSecret == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Admin API is not configured"})
			return
		}
		slog.Warn("Unauthenticated admin request",
			"path", c.Request.URL.Path,
			"client_ip", c.ClientIP())
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid credentials"})
	}
}
