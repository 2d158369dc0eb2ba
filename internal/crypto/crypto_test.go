package crypto

import (
	"crypto/ed25519"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestSignerAddress(t *testing.T) {
	s, err := NewSigner(testKeyHex)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"), s.Address())
}

func TestSignerSignTxRecoversSender(t *testing.T) {
	s, err := NewSigner(testKeyHex)
	require.NoError(t, err)

	chainID := big.NewInt(137)
	to := common.HexToAddress("0x1111111111111111111111111111111111111111")
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    7,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      21000,
		GasPrice: big.NewInt(1_000_000_000),
	})

	signed, err := s.SignTx(tx, chainID)
	require.NoError(t, err)

	from, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), from)
}

func TestSignerRejectsBadKey(t *testing.T) {
	_, err := NewSigner("not-hex")
	require.Error(t, err)
}

func TestSignMessageFormat(t *testing.T) {
	s, err := NewSigner(testKeyHex)
	require.NoError(t, err)

	sig, err := s.SignMessage([]byte("ledgerbot"))
	require.NoError(t, err)
	assert.Len(t, sig, 2+130)
}

func TestKeypairFromSeedAndSecret(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i)
	}
	fromSeed, err := NewKeypair(base58.Encode(seed))
	require.NoError(t, err)

	fromSecret, err := NewKeypair(fromSeed.Secret())
	require.NoError(t, err)
	assert.Equal(t, fromSeed.PublicKey(), fromSecret.PublicKey())

	msg := []byte("message")
	sig := fromSecret.Sign(msg)
	assert.True(t, ed25519.Verify(fromSeed.PublicKeyBytes(), msg, sig))
}

func TestKeypairRejectsWrongLength(t *testing.T) {
	_, err := NewKeypair(base58.Encode([]byte{1, 2, 3}))
	require.Error(t, err)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)

	_, err = DecryptKey(blob, "wrong")
	require.Error(t, err)
}

func TestLoadKey(t *testing.T) {
	got, err := LoadKey(KeyConfig{RawKey: "  abc  "})
	require.NoError(t, err)
	assert.Equal(t, "abc", got)

	blob, err := EncryptKey("secret-key", "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err = LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "secret-key", got)

	_, err = LoadKey(KeyConfig{})
	require.Error(t, err)
	assert.False(t, KeyConfig{}.Configured())
}

func TestHMACVerify(t *testing.T) {
	h := &HMACAuth{Key: "key", Secret: "secret"}
	headers := h.HeadersAt("POST", "/transfers", `{"a":1}`, 1700000000)

	assert.Equal(t, "key", headers[HeaderAPIKey])
	assert.Equal(t, "1700000000", headers[HeaderTimestamp])
	assert.True(t, h.Verify("POST", "/transfers", `{"a":1}`, "1700000000", headers[HeaderSignature]))
	assert.False(t, h.Verify("POST", "/transfers", `{"a":2}`, "1700000000", headers[HeaderSignature]))
	assert.Equal(t, "HMACAuth{key=****, secret=secr****}", h.String())
}
