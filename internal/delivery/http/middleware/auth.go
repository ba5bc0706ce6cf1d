package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/syncd/syncd/pkg/errors"
	"github.com/syncd/syncd/pkg/jwt"
)

// ContextKeyPackageID is the context key an authenticated adapter's
// package id is stored under.
const ContextKeyPackageID = "package_id"

// AuthMiddleware authenticates adapter packages calling the facade's HTTP
// surface with a bearer token minted by Manager.
type AuthMiddleware struct {
	jwtManager *jwt.Manager
}

// NewAuthMiddleware creates an AuthMiddleware.
func NewAuthMiddleware(jwtManager *jwt.Manager) *AuthMiddleware {
	return &AuthMiddleware{jwtManager: jwtManager}
}

// Authenticate validates the Authorization header and records the calling
// package id in the request context.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			m.abortWithError(c, errors.ErrUnauthorized("missing authorization header"))
			return
		}

		token, err := jwt.ExtractTokenFromHeader(authHeader)
		if err != nil {
			m.abortWithError(c, errors.ErrUnauthorized("invalid authorization header"))
			return
		}

		claims, err := m.jwtManager.ValidateToken(token)
		if err != nil {
			if jwt.IsTokenExpired(err) {
				m.abortWithError(c, errors.ErrUnauthorized("token has expired"))
				return
			}
			m.abortWithError(c, errors.ErrUnauthorized("invalid token"))
			return
		}

		c.Set(ContextKeyPackageID, claims.PackageID)
		c.Next()
	}
}

func (m *AuthMiddleware) abortWithError(c *gin.Context, err *errors.AppError) {
	c.AbortWithStatusJSON(err.HTTPStatus, gin.H{
		"error": gin.H{
			"code":    err.Code,
			"message": err.Message,
		},
	})
}

// GetPackageID extracts the authenticated package id from the gin context.
func GetPackageID(c *gin.Context) (string, bool) {
	packageID, exists := c.Get(ContextKeyPackageID)
	if !exists {
		return "", false
	}
	return packageID.(string), true
}
