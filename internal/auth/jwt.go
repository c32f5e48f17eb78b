// Package auth resolves the player behind a bearer token.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrMissingToken = errors.New("missing token")
)

// Claims holds the player and, optionally, the account a token is scoped to.
type Claims struct {
	PlayerID  string `json:"player_id"`
	AccountID string `json:"account_id,omitempty"`
	jwt.RegisteredClaims
}

// Identity is who a request acts for. AccountID is empty when the token is not
// scoped to an account.
type Identity struct {
	PlayerID  string
	AccountID string
}

// JWTService validates player tokens. Without a secret the bearer token itself
// is the player id.
type JWTService struct {
	secret      []byte
	expireHours int
}

// NewJWTService creates a JWT service.
func NewJWTService(secret string, expireHours int) *JWTService {
	return &JWTService{
		secret:      []byte(secret),
		expireHours: expireHours,
	}
}

// Enabled reports whether tokens are verified.
func (s *JWTService) Enabled() bool {
	return len(s.secret) > 0
}

// Generate creates a token for a player, scoped to accountID when it is set.
func (s *JWTService) Generate(playerID, accountID string) (string, error) {
	claims := Claims{
		PlayerID:  playerID,
		AccountID: accountID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   playerID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Duration(s.expireHours) * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ID:        uuid.New().String(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate parses and validates a JWT, returning claims or error.
func (s *JWTService) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Identify resolves a bearer token to an identity.
func (s *JWTService) Identify(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrMissingToken
	}
	if !s.Enabled() {
		return Identity{PlayerID: token}, nil
	}
	claims, err := s.Validate(token)
	if err != nil {
		return Identity{}, err
	}
	player := claims.PlayerID
	if player == "" {
		player = claims.Subject
	}
	if player == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{PlayerID: player, AccountID: claims.AccountID}, nil
}
