package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"fairfund/fairfund-backend/pkg/address"
	"fairfund/fairfund-backend/pkg/security"
)

const (
	loginHeader   = "FairFund sign-in"
	accountPrefix = "Account: "
	issuedPrefix  = "Issued: "

	// ChallengeTTL bounds how long a signed sign-in message stays usable.
	ChallengeTTL = 5 * time.Minute
	clockSkew    = time.Minute
)

var (
	ErrBadChallenge     = errors.New("malformed sign-in message")
	ErrExpiredChallenge = errors.New("sign-in message expired")
)

// Challenge returns the message a wallet signs to obtain a token for account.
func Challenge(account string, issued time.Time) (string, error) {
	a, err := address.Normalize(account)
	if err != nil {
		return "", err
	}
	return loginHeader + "\n" +
		accountPrefix + a + "\n" +
		issuedPrefix + issued.UTC().Format(time.RFC3339), nil
}

// VerifyLogin checks a signed challenge and returns the checksummed account.
func VerifyLogin(account, message, signature string, now time.Time) (string, error) {
	a, err := address.Normalize(account)
	if err != nil {
		return "", err
	}
	lines := strings.Split(strings.ReplaceAll(message, "\r\n", "\n"), "\n")
	if len(lines) != 3 || lines[0] != loginHeader {
		return "", ErrBadChallenge
	}
	claimed, ok := strings.CutPrefix(lines[1], accountPrefix)
	if !ok {
		return "", ErrBadChallenge
	}
	if c, err := address.Normalize(claimed); err != nil || c != a {
		return "", fmt.Errorf("%w: account mismatch", ErrBadChallenge)
	}
	stamp, ok := strings.CutPrefix(lines[2], issuedPrefix)
	if !ok {
		return "", ErrBadChallenge
	}
	issued, err := time.Parse(time.RFC3339, stamp)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadChallenge, err)
	}
	if issued.After(now.Add(clockSkew)) || now.Sub(issued) > ChallengeTTL {
		return "", ErrExpiredChallenge
	}

	if err := security.VerifyPersonalSign(a, message, signature); err != nil {
		return "", err
	}
	return a, nil
}
