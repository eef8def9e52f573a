package security

import (
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, message string) (string, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sig, err := crypto.Sign(TextHash([]byte(message)), key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), hexutil.Encode(sig)
}

func TestVerifyPersonalSign(t *testing.T) {
	addr, sig := sign(t, "hello")

	assert.NoError(t, VerifyPersonalSign(addr, "hello", sig))

	err := VerifyPersonalSign(addr, "hello!", sig)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	other, _ := sign(t, "hello")
	assert.ErrorIs(t, VerifyPersonalSign(other, "hello", sig), ErrInvalidSignature)

	assert.ErrorIs(t, VerifyPersonalSign(addr, "hello", "0x1234"), ErrInvalidSignature)
	assert.ErrorIs(t, VerifyPersonalSign(addr, "hello", "zz"), ErrInvalidSignature)
	assert.ErrorIs(t, VerifyPersonalSign("bob", "hello", sig), ErrInvalidSignature)
}

func TestRecoverPersonalSignAcceptsBothRecoveryForms(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sig, err := crypto.Sign(TextHash([]byte("msg")), key)
	require.NoError(t, err)
	want := crypto.PubkeyToAddress(key.PublicKey).Hex()

	got, err := RecoverPersonalSign("msg", sig)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	sig[crypto.RecoveryIDOffset] += 27
	got, err = RecoverPersonalSign("msg", sig)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	sig[crypto.RecoveryIDOffset] = 5
	_, err = RecoverPersonalSign("msg", sig)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestTextHashMatchesKnownVector(t *testing.T) {
	// keccak256("\x19Ethereum Signed Message:\n5hello")
	assert.Equal(t,
		"0x50b2c43fd39106bafbba0da34fc430e1f91e3c96ea2acee2bc34119f92b37750",
		hexutil.Encode(TextHash([]byte("hello"))))
}
