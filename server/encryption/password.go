package encryption

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"hash"
	"io"
	"unicode/utf8"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"
)

// Password container layout:
//
//	| version | options | enc salt | hmac salt |  iv  | ciphertext | hmac |
//	|    1    |    1    |    8     |     8     |  16  |     n      |  32  |
//
// Keys are derived with PBKDF2-HMAC-SHA1. The ciphertext is AES-256-CBC with
// PKCS#7 padding and the HMAC-SHA256 covers everything before it.
const (
	passwordVersion       = 3
	passwordLegacyVersion = 2
	passwordOption        = 1

	saltLength    = 8
	keyLength     = 32
	hmacLength    = sha256.Size
	headerLength  = 2 + 2*saltLength + aes.BlockSize
	minBodyLength = aes.BlockSize + hmacLength

	// KeyDerivationIterations is the PBKDF2 iteration count.
	KeyDerivationIterations = 10000

	defaultCryptChunk = 32 * 1024
)

// PasswordCryptor handles both password strategies. The strategies differ
// only in their header.
type PasswordCryptor struct {
	chunkSize int
}

// NewPasswordCryptor returns the password cryptor.
func NewPasswordCryptor() *PasswordCryptor {
	return &PasswordCryptor{chunkSize: defaultCryptChunk}
}

// Strategies implements Cryptor.
func (c *PasswordCryptor) Strategies() []Strategy {
	return []Strategy{PasswordPSWD, PasswordPWCC}
}

type passwordKeys struct {
	encryption []byte
	hmac       []byte
}

func deriveKeys(password []byte, encSalt, hmacSalt []byte) passwordKeys {
	return passwordKeys{
		encryption: pbkdf2.Key(password, encSalt, KeyDerivationIterations, keyLength, sha1.New),
		hmac:       pbkdf2.Key(password, hmacSalt, KeyDerivationIterations, keyLength, sha1.New),
	}
}

// Encrypt implements Cryptor. The plaintext is streamed through the cipher
// in chunks.
func (c *PasswordCryptor) Encrypt(out io.Writer, in io.Reader, ctx Context) error {
	password, err := ctx.Password()
	if err != nil {
		return err
	}

	header := make([]byte, headerLength)
	header[0] = passwordVersion
	header[1] = passwordOption
	if _, err := io.ReadFull(rand.Reader, header[2:]); err != nil {
		return errors.Wrap(err, "failed to generate salts and iv")
	}
	encSalt := header[2 : 2+saltLength]
	hmacSalt := header[2+saltLength : 2+2*saltLength]
	iv := header[2+2*saltLength:]
	keys := deriveKeys([]byte(password), encSalt, hmacSalt)

	block, err := aes.NewCipher(keys.encryption)
	if err != nil {
		return errors.Wrap(err, "failed to create cipher")
	}
	mode := cipher.NewCBCEncrypter(block, iv)
	mac := hmac.New(sha256.New, keys.hmac)

	if _, err := out.Write(header); err != nil {
		return errors.Wrap(err, "failed to write password header")
	}
	mac.Write(header)

	pending := make([]byte, 0, c.chunkSize+aes.BlockSize)
	chunk := make([]byte, c.chunkSize)
	for {
		n, readErr := in.Read(chunk)
		pending = append(pending, chunk[:n]...)
		if full := len(pending) - len(pending)%aes.BlockSize; full > 0 {
			if err := sealBlocks(out, mode, mac, pending[:full]); err != nil {
				return err
			}
			pending = pending[:copy(pending, pending[full:])]
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return errors.Wrap(readErr, "failed to read plaintext")
		}
	}

	pad := aes.BlockSize - len(pending)
	pending = append(pending, bytes.Repeat([]byte{byte(pad)}, pad)...)
	if err := sealBlocks(out, mode, mac, pending); err != nil {
		return err
	}
	if _, err := out.Write(mac.Sum(nil)); err != nil {
		return errors.Wrap(err, "failed to write hmac")
	}
	return nil
}

func sealBlocks(out io.Writer, mode cipher.BlockMode, mac hash.Hash, blocks []byte) error {
	mode.CryptBlocks(blocks, blocks)
	mac.Write(blocks)
	if _, err := out.Write(blocks); err != nil {
		return errors.Wrap(err, "failed to write ciphertext")
	}
	return nil
}

// Decrypt implements Cryptor. Version 3 payloads are decrypted while they
// stream in, so all but the final block reach out before the HMAC has been
// verified. Version 2 payloads are read whole.
func (c *PasswordCryptor) Decrypt(out io.Writer, in io.Reader, ctx Context) error {
	password, err := ctx.Password()
	if err != nil {
		return err
	}
	header := make([]byte, headerLength)
	if _, err := io.ReadFull(in, header); err != nil {
		return errors.Wrap(err, "truncated password header")
	}
	if header[1] != passwordOption {
		return errors.Wrapf(ErrUnsupportedVersion, "password container options %d", header[1])
	}
	encSalt := header[2 : 2+saltLength]
	hmacSalt := header[2+saltLength : 2+2*saltLength]
	iv := header[2+2*saltLength:]

	switch header[0] {
	case passwordVersion:
		keys := deriveKeys([]byte(password), encSalt, hmacSalt)
		return c.decryptStream(out, in, header, iv, keys)
	case passwordLegacyVersion:
		keys := deriveKeys(legacyPassword(password), encSalt, hmacSalt)
		body, err := io.ReadAll(in)
		if err != nil {
			return errors.Wrap(err, "failed to read password payload")
		}
		return decryptBuffer(out, body, header, iv, keys)
	default:
		return errors.Wrapf(ErrUnsupportedVersion, "password container version %d", header[0])
	}
}

func (c *PasswordCryptor) decryptStream(out io.Writer, in io.Reader, header, iv []byte, keys passwordKeys) error {
	block, err := aes.NewCipher(keys.encryption)
	if err != nil {
		return errors.Wrap(err, "failed to create cipher")
	}
	mode := cipher.NewCBCDecrypter(block, iv)
	mac := hmac.New(sha256.New, keys.hmac)
	mac.Write(header)

	pending := make([]byte, 0, c.chunkSize+minBodyLength)
	chunk := make([]byte, c.chunkSize)
	for {
		n, readErr := in.Read(chunk)
		pending = append(pending, chunk[:n]...)
		// Hold back the last block and the hmac.
		if ready := len(pending) - minBodyLength; ready >= aes.BlockSize {
			ready -= ready % aes.BlockSize
			blocks := pending[:ready]
			mac.Write(blocks)
			mode.CryptBlocks(blocks, blocks)
			if _, err := out.Write(blocks); err != nil {
				return errors.Wrap(err, "failed to write plaintext")
			}
			pending = pending[:copy(pending, pending[ready:])]
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return errors.Wrap(readErr, "failed to read password payload")
		}
	}

	if len(pending) < minBodyLength || (len(pending)-hmacLength)%aes.BlockSize != 0 {
		return errors.Wrap(ErrAuthentication, "truncated password payload")
	}
	tail, tag := pending[:len(pending)-hmacLength], pending[len(pending)-hmacLength:]
	mac.Write(tail)
	if !hmac.Equal(mac.Sum(nil), tag) {
		return ErrAuthentication
	}
	mode.CryptBlocks(tail, tail)
	plain, err := unpad(tail)
	if err != nil {
		return err
	}
	_, err = out.Write(plain)
	return errors.Wrap(err, "failed to write plaintext")
}

// decryptBuffer verifies and decrypts a complete payload.
func decryptBuffer(out io.Writer, body, header, iv []byte, keys passwordKeys) error {
	if len(body) < minBodyLength || (len(body)-hmacLength)%aes.BlockSize != 0 {
		return errors.Wrap(ErrAuthentication, "truncated password payload")
	}
	ciphertext, tag := body[:len(body)-hmacLength], body[len(body)-hmacLength:]
	mac := hmac.New(sha256.New, keys.hmac)
	mac.Write(header)
	mac.Write(ciphertext)
	if !hmac.Equal(mac.Sum(nil), tag) {
		return ErrAuthentication
	}
	block, err := aes.NewCipher(keys.encryption)
	if err != nil {
		return errors.Wrap(err, "failed to create cipher")
	}
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(ciphertext, ciphertext)
	plain, err := unpad(ciphertext)
	if err != nil {
		return err
	}
	_, err = out.Write(plain)
	return errors.Wrap(err, "failed to write plaintext")
}

func unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.Wrap(ErrAuthentication, "empty final block")
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(data) {
		return nil, errors.Wrap(ErrAuthentication, "invalid padding")
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, errors.Wrap(ErrAuthentication, "invalid padding")
		}
	}
	return data[:len(data)-pad], nil
}

// legacyPassword reproduces the key derivation input of version 2 writers,
// which truncated multi-byte passwords to their character count.
func legacyPassword(password string) []byte {
	raw := []byte(password)
	if n := utf8.RuneCountInString(password); n < len(raw) {
		return raw[:n]
	}
	return raw
}
