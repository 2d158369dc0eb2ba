package crypto

import (
	"crypto/ed25519"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// Keypair is an ed25519 wallet for resource-based ledgers. Keys and
// signatures use base58 on the wire.
type Keypair struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
}

// NewKeypair decodes a base58 secret. Both the 64-byte secret key form and a
// bare 32-byte seed are accepted.
func NewKeypair(secret string) (*Keypair, error) {
	raw, err := base58.Decode(strings.TrimSpace(secret))
	if err != nil {
		return nil, fmt.Errorf("crypto/keypair: decoding base58: %w", err)
	}
	var priv ed25519.PrivateKey
	switch len(raw) {
	case ed25519.PrivateKeySize:
		priv = ed25519.PrivateKey(raw)
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(raw)
	default:
		return nil, fmt.Errorf("crypto/keypair: expected %d or %d bytes, got %d",
			ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}
	return &Keypair{private: priv, public: priv.Public().(ed25519.PublicKey)}, nil
}

// PublicKey returns the base58 public key (the wallet address).
func (k *Keypair) PublicKey() string {
	return base58.Encode(k.public)
}

// PublicKeyBytes returns the raw 32-byte public key.
func (k *Keypair) PublicKeyBytes() []byte {
	return k.public
}

// Sign returns the raw 64-byte signature of msg.
func (k *Keypair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.private, msg)
}

// Secret returns the base58 64-byte secret key.
func (k *Keypair) Secret() string {
	return base58.Encode(k.private)
}
