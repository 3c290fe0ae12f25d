package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ContextKeyClaims is the gin context key holding the validated claims.
const ContextKeyClaims = "claims"

// Middleware provides authentication middleware
type Middleware struct {
	jwtManager *JWTManager
	logger     *zap.Logger
}

// NewMiddleware creates a new authentication middleware
func NewMiddleware(jwtManager *JWTManager, logger *zap.Logger) *Middleware {
	return &Middleware{
		jwtManager: jwtManager,
		logger:     logger,
	}
}

// Authenticate returns a Gin middleware for JWT authentication
func (m *Middleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing authorization token",
			})
			return
		}

		claims, err := m.jwtManager.ValidateToken(token)
		if err != nil {
			m.logger.Debug("token validation failed",
				zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token",
			})
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// RequireScopes returns middleware that requires specific scopes
func (m *Middleware) RequireScopes(requiredScopes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaimsFromGin(c)
		if claims == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
			})
			return
		}

		for _, required := range requiredScopes {
			if !claims.HasScope(required) {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"error":          "insufficient permissions",
					"required_scope": required,
				})
				return
			}
		}

		c.Next()
	}
}

// extractToken reads a bearer token from the Authorization header, falling
// back to the token query parameter.
func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
	}
	return c.Query("token")
}

// GetClaimsFromGin extracts claims from Gin context
func GetClaimsFromGin(c *gin.Context) *Claims {
	if v, exists := c.Get(ContextKeyClaims); exists {
		if claims, ok := v.(*Claims); ok {
			return claims
		}
	}
	return nil
}
