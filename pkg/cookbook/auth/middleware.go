package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// ContextKeyUserID is the key for user ID in gin context
	ContextKeyUserID = "user_id"
	// ContextKeyEmail is the key for email in gin context
	ContextKeyEmail = "email"
	// ContextKeyIsStaff is the key for the staff flag in gin context
	ContextKeyIsStaff = "is_staff"
)

// SetIdentity stores the authenticated user in the gin context. Every
// authentication middleware goes through here so handlers read one set of keys.
func SetIdentity(c *gin.Context, userID uint, email string, isStaff bool) {
	c.Set(ContextKeyUserID, userID)
	c.Set(ContextKeyEmail, email)
	c.Set(ContextKeyIsStaff, isStaff)
}

// BearerToken extracts the credential from "Authorization: <scheme> <credential>".
// The scheme is matched case-insensitively.
func BearerToken(header string) (scheme, credential string, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", "", false
	}
	return strings.ToLower(parts[0]), strings.TrimSpace(parts[1]), true
}

// AuthMiddleware validates JWT tokens and sets user info in context
func AuthMiddleware(signer *Signer) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}

		// Expect "Bearer <token>"
		scheme, tokenString, ok := BearerToken(authHeader)
		if !ok || scheme != "bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
			c.Abort()
			return
		}

		claims, err := signer.ValidateToken(tokenString)
		if err != nil {
			AbortInvalidToken(c, err)
			return
		}

		SetIdentity(c, claims.UserID, claims.Email, claims.IsStaff)
		c.Next()
	}
}

// AbortInvalidToken writes the 401 for a failed JWT validation
func AbortInvalidToken(c *gin.Context, err error) {
	if errors.Is(err, ErrExpiredToken) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Token has expired"})
	} else {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
	}
	c.Abort()
}

// RequireStaff middleware checks if the user is a staff member
func RequireStaff() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get(ContextKeyUserID); !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			c.Abort()
			return
		}

		if !IsStaff(c) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Staff access required"})
			c.Abort()
			return
		}

		c.Next()
	}
}

// GetUserID returns the user ID from the gin context
func GetUserID(c *gin.Context) (uint, bool) {
	userID, exists := c.Get(ContextKeyUserID)
	if !exists {
		return 0, false
	}
	return userID.(uint), true
}

// GetEmail returns the email from the gin context
func GetEmail(c *gin.Context) (string, bool) {
	email, exists := c.Get(ContextKeyEmail)
	if !exists {
		return "", false
	}
	return email.(string), true
}

// IsStaff reports whether the authenticated user is staff
func IsStaff(c *gin.Context) bool {
	return c.GetBool(ContextKeyIsStaff)
}
