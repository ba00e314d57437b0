package encryption

import (
	"io"

	"github.com/pkg/errors"
)

type plainCryptor struct{}

// NewPlainCryptor returns the cryptor of plain text containers. It copies
// the payload unchanged.
func NewPlainCryptor() Cryptor {
	return plainCryptor{}
}

func (plainCryptor) Strategies() []Strategy {
	return []Strategy{PlainText}
}

func (plainCryptor) Encrypt(out io.Writer, in io.Reader, _ Context) error {
	_, err := io.Copy(out, in)
	return errors.Wrap(err, "failed to copy plain payload")
}

func (plainCryptor) Decrypt(out io.Writer, in io.Reader, _ Context) error {
	_, err := io.Copy(out, in)
	return errors.Wrap(err, "failed to copy plain payload")
}
