package authflow

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors.
var (
	ErrInvalidToken = errors.New("invalid auth flow token")
	ErrMissingClaim = errors.New("auth flow token missing required claim")
)

// tokenSigner mints and verifies the opaque continuation tokens handed out
// by Begin. Tokens are HS256 JWTs signed with the registry's persisted flow
// secret, so a completion can be verified even after a restart wiped the
// in-memory flow table.
type tokenSigner struct {
	secret []byte
}

// Mint signs a continuation token binding a flow id to a server id.
func (s *tokenSigner) Mint(serverID, flowID string, issuedAt time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub": serverID,
		"jti": flowID,
		"iat": issuedAt.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify validates a continuation token and extracts the server and flow ids.
func (s *tokenSigner) Verify(tokenString string) (serverID, flowID string, err error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", ErrInvalidToken
	}

	serverID, ok = claims["sub"].(string)
	if !ok || serverID == "" {
		return "", "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	flowID, ok = claims["jti"].(string)
	if !ok || flowID == "" {
		return "", "", fmt.Errorf("%w: jti", ErrMissingClaim)
	}

	return serverID, flowID, nil
}
