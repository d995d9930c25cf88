/*
Package permit signs and verifies delegated approvals and caller tokens.

PURPOSE:
  A holder authorizes a spender to move a bounded amount of the holder's
  balance before a deadline by signing an Approval off-channel. The
  spender redeems it once at the Payment Authority; no prior approval
  transaction is needed. The same keys sign short-lived caller tokens
  that authenticate HTTP requests.

KEYS AND ADDRESSES:
  Keys are ed25519. An account address is derived from the public key:

    address = "0x" + hex(keccak256(publicKey)[12:])

  Signatures are EdDSA JWTs that carry the signer's public key, so a
  verifier needs nothing but the token: it checks that the embedded key
  hashes to the claimed address and that the signature verifies.

SEE ALSO:
  - approval.go: Approval signing/verification
  - caller.go:   Caller tokens
  - token/:      Payment Authority redeeming approvals
*/
package permit

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/sha3"

	"github.com/warp/storefront/catalog"
)

// ErrInvalidKey is returned for malformed key material.
var ErrInvalidKey = errors.New("invalid key")

// Key is an account signing key.
type Key struct {
	priv ed25519.PrivateKey
}

// GenerateKey returns a fresh random key.
func GenerateKey() (*Key, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &Key{priv: priv}, nil
}

// KeyFromSeed rebuilds a key from its hex-encoded 32-byte seed.
func KeyFromSeed(seedHex string) (*Key, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: seed must be %d bytes, got %d", ErrInvalidKey, ed25519.SeedSize, len(seed))
	}
	return &Key{priv: ed25519.NewKeyFromSeed(seed)}, nil
}

// Seed returns the hex-encoded seed. Treat it as a secret.
func (k *Key) Seed() string { return hex.EncodeToString(k.priv.Seed()) }

// Public returns the public half of the key.
func (k *Key) Public() ed25519.PublicKey { return k.priv.Public().(ed25519.PublicKey) }

// Address returns the account address controlled by this key.
func (k *Key) Address() catalog.Address { return AddressOf(k.Public()) }

// AddressOf derives the account address of a public key.
func AddressOf(pub ed25519.PublicKey) catalog.Address {
	h := sha3.NewLegacyKeccak256()
	h.Write(pub)
	sum := h.Sum(nil)
	return catalog.Address("0x" + hex.EncodeToString(sum[12:]))
}

func encodePublic(pub ed25519.PublicKey) string {
	return base64.RawURLEncoding.EncodeToString(pub)
}

func decodePublic(s string) (ed25519.PublicKey, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: public key must be %d bytes", ErrInvalidKey, ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(b), nil
}
