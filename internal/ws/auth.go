package ws

import (
	"github.com/swapmeet/swapmeet-backend/pkg/jwt"
)

// TokenAuthenticator verifies handshake tokens issued by the REST login
type TokenAuthenticator struct {
	jwt *jwt.Manager
}

// NewTokenAuthenticator wraps a JWT manager
func NewTokenAuthenticator(m *jwt.Manager) *TokenAuthenticator {
	return &TokenAuthenticator{jwt: m}
}

// Authenticate implements Authenticator
func (a *TokenAuthenticator) Authenticate(token string) (Identity, error) {
	claims, err := a.jwt.VerifyToken(token)
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: claims.GetUserID(), Username: claims.Nickname}, nil
}
