package encryption

import (
	"crypto/rand"
	"crypto/rsa"
	"io"

	"github.com/pkg/errors"
)

// pkcs1Overhead is the PKCS#1 v1.5 padding size per RSA block.
const pkcs1Overhead = 11

// AsymmetricCryptor encrypts the payload directly with the RSA public key of
// a certificate:
//
//	| public key hash | rsa block | rsa block | ... |
//	|       20        |     k     |     k     |     |
//
// where k is the key size in bytes and every block carries up to k-11
// plaintext bytes.
type AsymmetricCryptor struct{}

// NewAsymmetricCryptor returns the public key hash cryptor.
func NewAsymmetricCryptor() *AsymmetricCryptor {
	return &AsymmetricCryptor{}
}

// Strategies implements Cryptor.
func (*AsymmetricCryptor) Strategies() []Strategy {
	return []Strategy{PublicKeyHash}
}

// Encrypt implements Cryptor.
func (*AsymmetricCryptor) Encrypt(out io.Writer, in io.Reader, ctx Context) error {
	cert := ctx.Certificate()
	if cert == nil {
		return errors.New("no certificate to encrypt for")
	}
	pub := cert.PublicKey.(*rsa.PublicKey)
	if _, err := out.Write(HashPublicKey(cert)); err != nil {
		return errors.Wrap(err, "failed to write public key hash")
	}

	chunk := make([]byte, pub.Size()-pkcs1Overhead)
	for {
		n, err := io.ReadFull(in, chunk)
		if n > 0 {
			block, encErr := rsa.EncryptPKCS1v15(rand.Reader, pub, chunk[:n])
			if encErr != nil {
				return errors.Wrap(encErr, "failed to encrypt block")
			}
			if _, werr := out.Write(block); werr != nil {
				return errors.Wrap(werr, "failed to write block")
			}
		}
		switch err {
		case nil:
		case io.EOF, io.ErrUnexpectedEOF:
			return nil
		default:
			return errors.Wrap(err, "failed to read plaintext")
		}
	}
}

// Decrypt implements Cryptor. The certificate is looked up by the hash that
// opens the payload.
func (*AsymmetricCryptor) Decrypt(out io.Writer, in io.Reader, ctx Context) error {
	cert, err := readCertificate(in, ctx)
	if err != nil {
		return err
	}
	block := make([]byte, cert.PrivateKey.Size())
	for {
		_, err := io.ReadFull(in, block)
		switch err {
		case nil:
		case io.EOF:
			return nil
		case io.ErrUnexpectedEOF:
			return errors.New("truncated rsa block")
		default:
			return errors.Wrap(err, "failed to read rsa block")
		}
		plain, err := rsa.DecryptPKCS1v15(nil, cert.PrivateKey, block)
		if err != nil {
			return errors.Wrap(err, "failed to decrypt rsa block")
		}
		if _, err := out.Write(plain); err != nil {
			return errors.Wrap(err, "failed to write plaintext")
		}
	}
}

// readCertificate reads the public key hash and finds the matching
// certificate of the context.
func readCertificate(in io.Reader, ctx Context) (*Certificate, error) {
	hash := make([]byte, PublicKeyHashLength)
	if _, err := io.ReadFull(in, hash); err != nil {
		return nil, errors.Wrap(err, "truncated public key hash")
	}
	return FindCertificate(ctx.Certificates(), hash)
}
