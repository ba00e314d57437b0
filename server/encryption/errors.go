package encryption

import "github.com/pkg/errors"

var (
	// ErrMissingPassword is returned when a password strategy is used
	// without a password.
	ErrMissingPassword = errors.New("no password provided for password based encryption")

	// ErrNoMatchingCertificate is returned when no certificate of the
	// institution matches the public key hash of a container.
	ErrNoMatchingCertificate = errors.New("no certificate matches the public key hash")

	// ErrAuthentication is returned when the HMAC of a password container
	// does not verify, usually because of a wrong password.
	ErrAuthentication = errors.New("authentication failed: wrong password or corrupted data")

	// ErrUnsupportedVersion is returned for unknown password container
	// versions.
	ErrUnsupportedVersion = errors.New("unsupported container version")

	// ErrUnsupportedStrategy is returned for strategies without a cryptor.
	ErrUnsupportedStrategy = errors.New("unsupported encryption strategy")

	// ErrDecryptionUnsupported is returned by cryptors that only encrypt.
	ErrDecryptionUnsupported = errors.New("decryption is not supported for this strategy")
)
