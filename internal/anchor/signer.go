package anchor

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// Signer is the single identity that authorizes anchor transactions. It is
// built once at startup and handed to the Client; it is never mutated.
type Signer struct {
	key solana.PrivateKey
}

// LoadSigner decodes a base58 64-byte secret key (seed followed by public
// key). An empty secret returns ErrNotConfigured.
func LoadSigner(secret string) (*Signer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrNotConfigured
	}
	key, err := solana.PrivateKeyFromBase58(secret)
	if err != nil {
		return nil, fmt.Errorf("%w: decode secret key: %v", ErrNotConfigured, err)
	}
	return NewSigner(key)
}

// NewSigner wraps an already decoded private key.
func NewSigner(key solana.PrivateKey) (*Signer, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: secret key must be %d bytes, got %d", ErrNotConfigured, ed25519.PrivateKeySize, len(key))
	}
	derived := ed25519.NewKeyFromSeed(key[:ed25519.SeedSize])
	if !bytes.Equal(derived[ed25519.SeedSize:], key[ed25519.SeedSize:]) {
		return nil, fmt.Errorf("%w: public half does not match seed", ErrNotConfigured)
	}
	return &Signer{key: key}, nil
}

// PublicKey returns the signer's address on the ledger.
func (s *Signer) PublicKey() solana.PublicKey {
	return s.key.PublicKey()
}

// sign is the key getter passed to Transaction.Sign.
func (s *Signer) sign(pub solana.PublicKey) *solana.PrivateKey {
	if pub.Equals(s.key.PublicKey()) {
		k := s.key
		return &k
	}
	return nil
}
