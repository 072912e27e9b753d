// Package auth issues and verifies the Ed25519-signed tokens that
// guard mutating fleet operations.
package auth

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role controls what a token holder may do.
type Role string

const (
	// RoleViewer may read fleet state and the catalog.
	RoleViewer Role = "viewer"
	// RoleOperator may additionally start, stop and restart servers and
	// run workflows.
	RoleOperator Role = "operator"
	// RoleAdmin may do everything.
	RoleAdmin Role = "admin"
)

// Allows reports whether a role covers the required one.
func (r Role) Allows(required Role) bool {
	rank := map[Role]int{RoleViewer: 1, RoleOperator: 2, RoleAdmin: 3}
	return rank[r] >= rank[required]
}

// Claims are the claims carried by a fleet token.
type Claims struct {
	jwt.RegisteredClaims
	Role Role `json:"role"`
}

// TokenResponse is returned when a token is minted.
type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

const defaultTokenDuration = 12 * time.Hour

// JWTManager signs and verifies fleet tokens with an Ed25519 key pair
// derived from a hex-encoded seed.
type JWTManager struct {
	privateKey    ed25519.PrivateKey
	publicKey     ed25519.PublicKey
	tokenDuration time.Duration
}

// NewJWTManager builds a manager from a hex-encoded 32-byte seed.
func NewJWTManager(seedHex string) (*JWTManager, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("jwt seed must be hex-encoded: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("jwt seed must be exactly %d bytes, got %d", ed25519.SeedSize, len(seed))
	}

	privateKey := ed25519.NewKeyFromSeed(seed)
	return &JWTManager{
		privateKey:    privateKey,
		publicKey:     privateKey.Public().(ed25519.PublicKey),
		tokenDuration: defaultTokenDuration,
	}, nil
}

// GenerateToken mints a token for a subject with the given role.
func (j *JWTManager) GenerateToken(_ context.Context, subject string, role Role) (*TokenResponse, error) {
	if role != RoleViewer && role != RoleOperator && role != RoleAdmin {
		return nil, fmt.Errorf("unknown role %q", role)
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "mcpfleet",
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.tokenDuration)),
		},
		Role: role,
	}

	token := jwt.NewWithClaims(&jwt.SigningMethodEd25519{}, claims)
	signed, err := token.SignedString(j.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &TokenResponse{
		Token:     signed,
		ExpiresAt: claims.ExpiresAt.Unix(),
	}, nil
}

// VerifyToken parses and validates a token string.
func (j *JWTManager) VerifyToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return j.publicKey, nil
	}, jwt.WithIssuer("mcpfleet"))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
