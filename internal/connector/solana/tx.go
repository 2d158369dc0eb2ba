package solana

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

const (
	signatureLen = 64
	pubkeyLen    = 32
)

// Wallet signs transaction messages. *crypto.Keypair satisfies it.
type Wallet interface {
	PublicKey() string
	PublicKeyBytes() []byte
	Sign(msg []byte) []byte
}

// decodeShortVec reads a compact-u16 length prefix and returns the value and
// the number of bytes consumed.
func decodeShortVec(b []byte) (int, int, error) {
	var v int
	for size := 0; size < 3; size++ {
		if size >= len(b) {
			return 0, 0, errors.New("truncated compact-u16")
		}
		elem := int(b[size])
		v |= (elem & 0x7f) << (7 * size)
		if elem&0x80 == 0 {
			return v, size + 1, nil
		}
	}
	return 0, 0, errors.New("compact-u16 too long")
}

// signWireTx fills the fee-payer signature slot of a base64 wire
// transaction built for w and returns the signed base64 transaction and the
// base58 signature. The fee payer must be w.
func signWireTx(b64 string, w Wallet) (string, string, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", "", fmt.Errorf("decode transaction: %w", err)
	}
	nsig, n, err := decodeShortVec(raw)
	if err != nil {
		return "", "", fmt.Errorf("signature count: %w", err)
	}
	if nsig < 1 {
		return "", "", errors.New("transaction has no signature slots")
	}
	msgStart := n + nsig*signatureLen
	if msgStart >= len(raw) {
		return "", "", errors.New("transaction shorter than its signature table")
	}
	msg := raw[msgStart:]

	payer, err := feePayer(msg)
	if err != nil {
		return "", "", err
	}
	if !bytes.Equal(payer, w.PublicKeyBytes()) {
		return "", "", fmt.Errorf("fee payer %s is not wallet %s", base58.Encode(payer), w.PublicKey())
	}

	sig := w.Sign(msg)
	signed := append([]byte(nil), raw...)
	copy(signed[n:n+signatureLen], sig)
	return base64.StdEncoding.EncodeToString(signed), base58.Encode(sig), nil
}

// feePayer returns the first account key of a legacy or v0 message.
func feePayer(msg []byte) ([]byte, error) {
	off := 0
	if msg[0]&0x80 != 0 {
		off = 1 // versioned message prefix
	}
	off += 3 // header
	if off >= len(msg) {
		return nil, errors.New("message header truncated")
	}
	nkeys, n, err := decodeShortVec(msg[off:])
	if err != nil {
		return nil, fmt.Errorf("account count: %w", err)
	}
	off += n
	if nkeys < 1 || off+pubkeyLen > len(msg) {
		return nil, errors.New("message has no account keys")
	}
	return msg[off : off+pubkeyLen], nil
}
