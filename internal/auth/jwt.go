package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/carelink-health/carelink/internal/models"
)

// SessionTTL matches the original session window. Tokens are not refreshed;
// expiry forces a fresh OAuth round trip.
const SessionTTL = 7 * 24 * time.Hour

// Claims is the session payload. Role and district ride in the token so the
// websocket handshake and middleware can build an actor without a user
// lookup; role changes therefore take effect on the next login.
type Claims struct {
	UserID     uuid.UUID   `json:"user_id"`
	Role       models.Role `json:"role"`
	DistrictID *uuid.UUID  `json:"district_id,omitempty"`
	Email      string      `json:"email"`
	jwt.RegisteredClaims
}

// GenerateToken signs a session token for the user. HS256 with a shared
// secret — a single service issues and verifies.
func GenerateToken(user *models.User, secret string, ttl time.Duration) (string, error) {
	now := time.Now()

	claims := Claims{
		UserID:     user.ID,
		Role:       user.Role,
		DistrictID: user.DistrictID,
		Email:      user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "carelink",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}

// ParseToken verifies signature, expiry and signing method, and returns the
// claims. Rejecting non-HMAC methods up front closes the algorithm
// confusion hole.
func ParseToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(secret), nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}
