package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"io"
	"os"
	"sync"

	"github.com/google/tink/go/kwp/subtle"
	"github.com/pkg/errors"
)

const (
	// DataKeyLength is the length of the data key in bytes. It selects
	// AES-256-GCM.
	DataKeyLength = 32

	// DefaultMasterKeyEnv names the environment variable holding the master
	// key of the credential encryptor.
	DefaultMasterKeyEnv = "SEB_CREDENTIAL_KEY"
)

// ErrNoMasterKey is returned when the master key variable is unset.
var ErrNoMasterKey = errors.New("credential master key is not set")

// CredentialEncryptor protects secret attribute values at rest. Values are
// encrypted with a data key which is stored next to them, wrapped with the
// master key.
type CredentialEncryptor struct {
	mu         sync.Mutex
	dataKey    []byte
	keyWrapper *subtle.KWP
}

// NewCredentialEncryptor creates an encryptor from a 16 or 32 byte master
// key, given raw or base64 encoded.
func NewCredentialEncryptor(masterKey []byte) (*CredentialEncryptor, error) {
	if decoded, err := base64.StdEncoding.DecodeString(string(masterKey)); err == nil &&
		(len(decoded) == 16 || len(decoded) == 32) {
		masterKey = decoded
	}
	kwp, err := subtle.NewKWP(masterKey)
	if err != nil {
		return nil, errors.Wrap(err, "invalid credential master key")
	}
	return &CredentialEncryptor{keyWrapper: kwp}, nil
}

// NewCredentialEncryptorFromEnv creates an encryptor with the master key
// found in the named environment variable.
func NewCredentialEncryptorFromEnv(name string) (*CredentialEncryptor, error) {
	masterKey := os.Getenv(name)
	if masterKey == "" {
		return nil, errors.Wrapf(ErrNoMasterKey, "variable %s", name)
	}
	return NewCredentialEncryptor([]byte(masterKey))
}

// Encrypt seals a value and returns it base64 encoded.
func (e *CredentialEncryptor) Encrypt(plaintext string) (string, error) {
	sealed, err := e.Seal([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt.
func (e *CredentialEncryptor) Decrypt(ciphertext string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", errors.Wrap(err, "credential is not base64")
	}
	plain, err := e.Open(sealed)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// Seal encrypts data and prepends the wrapped data key:
//
//	| key size | wrapped key | nonce | ciphertext |
//	|    1     |      n      |  12   |            |
func (e *CredentialEncryptor) Seal(data []byte) ([]byte, error) {
	dataKey, err := e.currentDataKey()
	if err != nil {
		return nil, err
	}
	wrapped, err := e.keyWrapper.Wrap(dataKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to wrap data key")
	}
	ciphertext, err := sealData(dataKey, data)
	if err != nil {
		return nil, err
	}
	sealed := make([]byte, 0, 1+len(wrapped)+len(ciphertext))
	sealed = append(sealed, byte(len(wrapped)))
	sealed = append(sealed, wrapped...)
	return append(sealed, ciphertext...), nil
}

// Open reverses Seal.
func (e *CredentialEncryptor) Open(sealed []byte) ([]byte, error) {
	if len(sealed) == 0 {
		return nil, errors.New("empty credential")
	}
	keyEnd := 1 + int(sealed[0])
	if keyEnd > len(sealed) {
		return nil, errors.New("truncated credential")
	}
	dataKey, err := e.keyWrapper.Unwrap(sealed[1:keyEnd])
	if err != nil {
		return nil, errors.Wrap(err, "failed to unwrap data key")
	}
	return openData(dataKey, sealed[keyEnd:])
}

// currentDataKey returns the data key, generating it on first use.
func (e *CredentialEncryptor) currentDataKey() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dataKey == nil {
		key := make([]byte, DataKeyLength)
		if _, err := io.ReadFull(rand.Reader, key); err != nil {
			return nil, errors.Wrap(err, "failed to generate data key")
		}
		e.dataKey = key
	}
	return e.dataKey, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create gcm")
	}
	return gcm, nil
}

func sealData(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Wrap(err, "failed to generate nonce")
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func openData(key, sealed []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, errors.New("truncated credential")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decrypt credential")
	}
	return plaintext, nil
}
