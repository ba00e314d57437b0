package encryption

import (
	"io"

	"github.com/pkg/errors"
)

// Cryptor encrypts and decrypts container payloads for the strategies it
// supports. The strategy header is written and read by the caller.
type Cryptor interface {
	// Strategies lists the strategies the cryptor handles.
	Strategies() []Strategy

	// Encrypt reads plaintext from in until EOF and writes the payload to
	// out.
	Encrypt(out io.Writer, in io.Reader, ctx Context) error

	// Decrypt reads a payload from in until EOF and writes the plaintext to
	// out.
	Decrypt(out io.Writer, in io.Reader, ctx Context) error
}

// Registry maps strategies to cryptors. It is built once and read-only
// afterwards.
type Registry struct {
	cryptors map[Strategy]Cryptor
}

// NewRegistry builds a registry. A later cryptor replaces an earlier one
// for the same strategy.
func NewRegistry(cryptors ...Cryptor) *Registry {
	r := &Registry{cryptors: make(map[Strategy]Cryptor)}
	for _, c := range cryptors {
		for _, s := range c.Strategies() {
			r.cryptors[s] = c
		}
	}
	return r
}

// NewDefaultRegistry returns a registry with a cryptor for every strategy.
func NewDefaultRegistry() *Registry {
	password := NewPasswordCryptor()
	return NewRegistry(
		NewPlainCryptor(),
		password,
		NewAsymmetricCryptor(),
		NewHybridCryptor(password),
	)
}

// Cryptor returns the cryptor of a strategy.
func (r *Registry) Cryptor(strategy Strategy) (Cryptor, error) {
	c, ok := r.cryptors[strategy]
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedStrategy, "no cryptor for %s", strategy)
	}
	return c, nil
}
