package encryption

import (
	"bytes"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"fmt"

	"github.com/pkg/errors"
)

// PublicKeyHashLength is the size of the SHA-1 hash that identifies a
// certificate in a container.
const PublicKeyHashLength = sha1.Size

// Certificate is a certificate of an institution together with the private
// key needed to decrypt containers addressed to it.
type Certificate struct {
	Cert       *x509.Certificate
	PrivateKey *rsa.PrivateKey
}

// PublicKeyHash returns the SHA-1 hash of the certificate's public key info.
func (c *Certificate) PublicKeyHash() []byte {
	return HashPublicKey(c.Cert)
}

// HashPublicKey returns the SHA-1 hash of the DER encoded subject public key
// info of a certificate.
func HashPublicKey(cert *x509.Certificate) []byte {
	sum := sha1.Sum(cert.RawSubjectPublicKeyInfo)
	return sum[:]
}

// CertificateSource provides the certificates of one institution.
type CertificateSource interface {
	Certificates() ([]*Certificate, error)
}

// CertificateList is a fixed CertificateSource.
type CertificateList []*Certificate

// Certificates implements CertificateSource.
func (l CertificateList) Certificates() ([]*Certificate, error) {
	return l, nil
}

// FindCertificate returns the first certificate with a private key whose
// public key hash matches.
func FindCertificate(source CertificateSource, hash []byte) (*Certificate, error) {
	if source == nil {
		return nil, ErrNoMatchingCertificate
	}
	certs, err := source.Certificates()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load certificates")
	}
	for _, cert := range certs {
		if cert == nil || cert.Cert == nil || cert.PrivateKey == nil {
			continue
		}
		if bytes.Equal(cert.PublicKeyHash(), hash) {
			return cert, nil
		}
	}
	return nil, ErrNoMatchingCertificate
}

// Credentials are supplied by the caller of an import. Which of them are
// needed is only known after the container header has been read.
type Credentials struct {
	Password     *string
	Certificates CertificateSource
}

// Context is the immutable input of one encryption or decryption run.
type Context struct {
	strategy     Strategy
	password     *string
	certificate  *x509.Certificate
	certificates CertificateSource
}

// NewPlainContext returns a context for unencrypted containers.
func NewPlainContext() Context {
	return Context{strategy: PlainText}
}

// NewPasswordContext returns a context for a password strategy. It panics
// if the strategy is not password based.
func NewPasswordContext(strategy Strategy, password string) Context {
	if !strategy.IsPassword() {
		panic(fmt.Sprintf("strategy %s does not take a password", strategy))
	}
	return Context{strategy: strategy, password: &password}
}

// NewCertificateContext returns a context that encrypts for a certificate.
// It panics if the strategy is not certificate based or cert is nil.
func NewCertificateContext(strategy Strategy, cert *x509.Certificate) Context {
	if !strategy.IsCertificate() {
		panic(fmt.Sprintf("strategy %s does not take a certificate", strategy))
	}
	if cert == nil {
		panic("certificate context without a certificate")
	}
	if _, ok := cert.PublicKey.(*rsa.PublicKey); !ok {
		panic("certificate context needs an RSA certificate")
	}
	return Context{strategy: strategy, certificate: cert}
}

// NewDecryptionContext returns the context for decrypting a container with
// the given strategy.
func NewDecryptionContext(strategy Strategy, creds Credentials) Context {
	return Context{
		strategy:     strategy,
		password:     creds.Password,
		certificates: creds.Certificates,
	}
}

// Strategy returns the strategy of the context.
func (c Context) Strategy() Strategy {
	return c.strategy
}

// Password returns the password or ErrMissingPassword.
func (c Context) Password() (string, error) {
	if c.password == nil {
		return "", ErrMissingPassword
	}
	return *c.password, nil
}

// Certificate returns the certificate to encrypt for.
func (c Context) Certificate() *x509.Certificate {
	return c.certificate
}

// Certificates returns the source of decryption certificates.
func (c Context) Certificates() CertificateSource {
	return c.certificates
}
