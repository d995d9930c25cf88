package permit

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warp/storefront/catalog"
)

// Approval is a holder's one-time authorization for spender to move up to
// Value before Deadline. Nonce must equal the holder's current nonce at the
// Payment Authority; redeeming bumps it, which invalidates the signature.
type Approval struct {
	Domain   string
	Holder   catalog.Address
	Spender  catalog.Address
	Value    catalog.Amount
	Nonce    uint64
	Deadline time.Time
}

type approvalClaims struct {
	jwt.RegisteredClaims
	Spender string `json:"spender"`
	Value   uint64 `json:"value"`
	Nonce   uint64 `json:"nonce"`
	Key     string `json:"key"`
}

// Sign signs a as its holder. The key must control a.Holder.
func Sign(key *Key, a Approval) (catalog.Signature, error) {
	if key.Address() != a.Holder {
		return "", fmt.Errorf("sign approval: key controls %s, not holder %s", key.Address(), a.Holder)
	}
	claims := approvalClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(a.Holder),
			Audience:  jwt.ClaimStrings{a.Domain},
			ExpiresAt: jwt.NewNumericDate(a.Deadline),
		},
		Spender: string(a.Spender),
		Value:   uint64(a.Value),
		Nonce:   a.Nonce,
		Key:     encodePublic(key.Public()),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(key.priv)
	if err != nil {
		return "", fmt.Errorf("sign approval: %w", err)
	}
	return catalog.Signature(signed), nil
}

// Verify checks that sig is a valid signature of exactly want by want.Holder.
// Deadlines are not enforced here; the Payment Authority compares them with
// its own clock. Every failure wraps catalog.ErrInvalidSignature.
func Verify(sig catalog.Signature, want Approval) error {
	claims := &approvalClaims{}
	_, err := jwt.ParseWithClaims(string(sig), claims, embeddedKey(func() (string, string) {
		return claims.Subject, claims.Key
	}),
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", catalog.ErrInvalidSignature, err)
	}

	switch {
	case claims.Subject != string(want.Holder):
		return fmt.Errorf("%w: signed by %s, holder is %s", catalog.ErrInvalidSignature, claims.Subject, want.Holder)
	case claims.Spender != string(want.Spender):
		return fmt.Errorf("%w: spender mismatch", catalog.ErrInvalidSignature)
	case claims.Value != uint64(want.Value):
		return fmt.Errorf("%w: value mismatch", catalog.ErrInvalidSignature)
	case claims.Nonce != want.Nonce:
		return fmt.Errorf("%w: nonce %d, expected %d", catalog.ErrInvalidSignature, claims.Nonce, want.Nonce)
	case claims.ExpiresAt == nil || claims.ExpiresAt.Unix() != want.Deadline.Unix():
		return fmt.Errorf("%w: deadline mismatch", catalog.ErrInvalidSignature)
	case !audienceContains(claims.Audience, want.Domain):
		return fmt.Errorf("%w: domain mismatch", catalog.ErrInvalidSignature)
	}
	return nil
}

// embeddedKey returns a jwt.Keyfunc that verifies against the public key
// carried in the claims, after checking it belongs to the claimed subject.
func embeddedKey(fields func() (subject, key string)) jwt.Keyfunc {
	return func(_ *jwt.Token) (any, error) {
		subject, encoded := fields()
		pub, err := decodePublic(encoded)
		if err != nil {
			return nil, err
		}
		if AddressOf(pub) != catalog.Address(subject) {
			return nil, errors.New("embedded key does not match subject")
		}
		return pub, nil
	}
}

func audienceContains(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}
