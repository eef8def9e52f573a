package security

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrInvalidSignature is returned when a signature is malformed or was made by
// another account.
var ErrInvalidSignature = errors.New("invalid signature")

// TextHash is the digest wallets sign for personal_sign.
func TextHash(message []byte) []byte {
	return accounts.TextHash(message)
}

// RecoverPersonalSign returns the checksummed address that signed message.
// The recovery byte may be 0/1 or the wallet form 27/28.
func RecoverPersonalSign(message string, signature []byte) (string, error) {
	if len(signature) != crypto.SignatureLength {
		return "", fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidSignature, crypto.SignatureLength, len(signature))
	}
	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	if sig[crypto.RecoveryIDOffset] > 1 {
		return "", fmt.Errorf("%w: bad recovery id", ErrInvalidSignature)
	}

	pub, err := crypto.SigToPub(TextHash([]byte(message)), sig)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}

// VerifyPersonalSign checks that the 0x-hex signature over message was made by account.
func VerifyPersonalSign(account, message, signatureHex string) error {
	if !common.IsHexAddress(account) {
		return fmt.Errorf("%w: bad account %q", ErrInvalidSignature, account)
	}
	sig, err := hexutil.Decode(signatureHex)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	signer, err := RecoverPersonalSign(message, sig)
	if err != nil {
		return err
	}
	if signer != common.HexToAddress(account).Hex() {
		return fmt.Errorf("%w: signed by %s", ErrInvalidSignature, signer)
	}
	return nil
}
