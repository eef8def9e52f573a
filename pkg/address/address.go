package address

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ErrInvalid is returned for strings that are not 20-byte hex addresses.
var ErrInvalid = errors.New("invalid account address")

// Normalize validates a hex account address and returns its EIP-55 checksummed form.
// The 0x prefix is optional on input and always present on output.
func Normalize(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	return common.HexToAddress(s).Hex(), nil
}

// MustNormalize is Normalize for constants and tests.
func MustNormalize(s string) string {
	a, err := Normalize(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Short renders 0x1234...abcd for logs and exports.
func Short(a string) string {
	if len(a) <= 10 {
		return a
	}
	return a[:6] + "..." + a[len(a)-4:]
}
