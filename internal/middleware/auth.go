package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/swapmeet/swapmeet-backend/internal/common"
	"github.com/swapmeet/swapmeet-backend/pkg/jwt"
)

const (
	userIDKey   = "userID"
	nicknameKey = "nickname"
)

// JWTAuth requires a valid Bearer token and stores the caller's identity in the context
func JWTAuth(jwtManager *jwt.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			common.ErrorResponse(c, http.StatusUnauthorized, "Missing or malformed authorization header", nil)
			c.Abort()
			return
		}

		claims, err := jwtManager.VerifyToken(token)
		if err != nil {
			msg := "Invalid token"
			if errors.Is(err, jwt.ErrExpiredToken) {
				msg = "Token expired"
			}
			common.ErrorResponse(c, http.StatusUnauthorized, msg, err)
			c.Abort()
			return
		}

		userID := claims.GetUserID()
		if userID == "" {
			common.ErrorResponse(c, http.StatusUnauthorized, "Token has no subject", nil)
			c.Abort()
			return
		}

		c.Set(userIDKey, userID)
		c.Set(nicknameKey, claims.Nickname)
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// GetUserID returns the authenticated user, or "" on public routes
func GetUserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

// GetNickname returns the nickname carried by the token
func GetNickname(c *gin.Context) string {
	return c.GetString(nicknameKey)
}
