// Package encryption implements the container format of SEB configuration
// files and the cryptors of every supported strategy.
package encryption

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// HeaderLength is the size of the strategy header that opens a container.
const HeaderLength = 4

// Strategy identifies how a container payload is protected.
type Strategy int

const (
	// PlainText carries the payload unprotected.
	PlainText Strategy = iota
	// PasswordPSWD encrypts with a password for starting an exam.
	PasswordPSWD
	// PasswordPWCC encrypts with a password for configuring a client.
	PasswordPWCC
	// PublicKeyHash encrypts the payload with an RSA public key.
	PublicKeyHash
	// PublicKeyHashSymmetricKey encrypts the payload with a random symmetric
	// key that is wrapped with an RSA public key.
	PublicKeyHashSymmetricKey
)

type strategyInfo struct {
	name   string
	header string
}

var strategies = map[Strategy]strategyInfo{
	PlainText:                 {"PLAIN_TEXT", "plnd"},
	PasswordPSWD:              {"PASSWORD_PSWD", "pswd"},
	PasswordPWCC:              {"PASSWORD_PWCC", "pwcc"},
	PublicKeyHash:             {"PUBLIC_KEY_HASH", "pkhs"},
	PublicKeyHashSymmetricKey: {"PUBLIC_KEY_HASH_SYMMETRIC_KEY", "phsk"},
}

// Strategies lists every supported strategy.
func Strategies() []Strategy {
	return []Strategy{PlainText, PasswordPSWD, PasswordPWCC, PublicKeyHash, PublicKeyHashSymmetricKey}
}

// Header returns the 4-byte magic header of the strategy.
func (s Strategy) Header() []byte {
	return []byte(strategies[s].header)
}

func (s Strategy) String() string {
	if info, ok := strategies[s]; ok {
		return info.name
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// IsPassword reports whether the strategy needs a password.
func (s Strategy) IsPassword() bool {
	return s == PasswordPSWD || s == PasswordPWCC
}

// IsCertificate reports whether the strategy needs a certificate.
func (s Strategy) IsCertificate() bool {
	return s == PublicKeyHash || s == PublicKeyHashSymmetricKey
}

// StrategyFromHeader maps a header to its strategy.
func StrategyFromHeader(header []byte) (Strategy, bool) {
	if len(header) != HeaderLength {
		return PlainText, false
	}
	for s, info := range strategies {
		if info.header == string(header) {
			return s, true
		}
	}
	return PlainText, false
}

// ParseStrategy parses a strategy from its name or its header. Matching is
// case insensitive.
func ParseStrategy(text string) (Strategy, error) {
	text = strings.TrimSpace(text)
	for s, info := range strategies {
		if strings.EqualFold(info.name, text) || strings.EqualFold(info.header, text) {
			return s, nil
		}
	}
	return PlainText, errors.Wrapf(ErrUnsupportedStrategy, "unknown strategy %q", text)
}
