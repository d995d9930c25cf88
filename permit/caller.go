package permit

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warp/storefront/catalog"
)

// ErrInvalidCaller is returned when a caller token fails verification.
var ErrInvalidCaller = errors.New("invalid caller token")

type callerClaims struct {
	jwt.RegisteredClaims
	Key string `json:"key"`
}

// SignCaller issues a token proving control of key's address to audience,
// valid for ttl from now.
func SignCaller(key *Key, audience string, ttl time.Duration, now time.Time) (string, error) {
	claims := callerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(key.Address()),
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Key: encodePublic(key.Public()),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(key.priv)
	if err != nil {
		return "", fmt.Errorf("sign caller token: %w", err)
	}
	return signed, nil
}

// VerifyCaller returns the address that signed token for audience.
func VerifyCaller(token, audience string) (catalog.Address, error) {
	claims := &callerClaims{}
	_, err := jwt.ParseWithClaims(token, claims, embeddedKey(func() (string, string) {
		return claims.Subject, claims.Key
	}),
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCaller, err)
	}
	addr, err := catalog.ParseAddress(claims.Subject)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCaller, err)
	}
	return addr, nil
}
