package encryption

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// symmetricKeyLength is the size of the random key of a hybrid container.
const symmetricKeyLength = 32

// HybridCryptor encrypts the payload with the password cryptor using a
// random key, and wraps that key with the RSA public key of a certificate:
//
//	| public key hash | key length (LE) | wrapped key | password payload |
//	|       20        |        4        |      n      |                  |
//
// The password of the payload is the base64 encoding of the key.
type HybridCryptor struct {
	password *PasswordCryptor
}

// NewHybridCryptor returns the public key hash symmetric key cryptor.
func NewHybridCryptor(password *PasswordCryptor) *HybridCryptor {
	return &HybridCryptor{password: password}
}

// Strategies implements Cryptor.
func (*HybridCryptor) Strategies() []Strategy {
	return []Strategy{PublicKeyHashSymmetricKey}
}

// Encrypt implements Cryptor.
func (c *HybridCryptor) Encrypt(out io.Writer, in io.Reader, ctx Context) error {
	cert := ctx.Certificate()
	if cert == nil {
		return errors.New("no certificate to encrypt for")
	}
	key := make([]byte, symmetricKeyLength)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return errors.Wrap(err, "failed to generate symmetric key")
	}
	wrapped, err := rsa.EncryptPKCS1v15(rand.Reader, cert.PublicKey.(*rsa.PublicKey), key)
	if err != nil {
		return errors.Wrap(err, "failed to wrap symmetric key")
	}

	prefix := make([]byte, 0, PublicKeyHashLength+4+len(wrapped))
	prefix = append(prefix, HashPublicKey(cert)...)
	prefix = binary.LittleEndian.AppendUint32(prefix, uint32(len(wrapped)))
	prefix = append(prefix, wrapped...)
	if _, err := out.Write(prefix); err != nil {
		return errors.Wrap(err, "failed to write wrapped key")
	}

	passwordCtx := NewPasswordContext(PasswordPSWD, base64.StdEncoding.EncodeToString(key))
	return c.password.Encrypt(out, in, passwordCtx)
}

// Decrypt implements Cryptor.
func (c *HybridCryptor) Decrypt(out io.Writer, in io.Reader, ctx Context) error {
	cert, err := readCertificate(in, ctx)
	if err != nil {
		return err
	}
	var length [4]byte
	if _, err := io.ReadFull(in, length[:]); err != nil {
		return errors.Wrap(err, "truncated key length")
	}
	size := binary.LittleEndian.Uint32(length[:])
	if size == 0 || int(size) > cert.PrivateKey.Size() {
		return errors.Errorf("invalid wrapped key length %d", size)
	}
	wrapped := make([]byte, size)
	if _, err := io.ReadFull(in, wrapped); err != nil {
		return errors.Wrap(err, "truncated wrapped key")
	}
	key, err := rsa.DecryptPKCS1v15(nil, cert.PrivateKey, wrapped)
	if err != nil {
		return errors.Wrap(err, "failed to unwrap symmetric key")
	}
	passwordCtx := NewPasswordContext(PasswordPSWD, base64.StdEncoding.EncodeToString(key))
	return c.password.Decrypt(out, in, passwordCtx)
}
