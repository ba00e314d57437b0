// Package certs provides the certificates institutions use to receive
// certificate encrypted configurations.
package certs

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/examdesk/sebconfig/server/encryption"
	"github.com/examdesk/sebconfig/server/logger"
)

// DefaultCacheSize is the number of institutions whose certificates are
// kept in memory.
const DefaultCacheSize = 64

// Store loads the certificates of an institution from
// <dir>/<institution id>/*.pem. Each file holds one certificate and,
// optionally, its private key. Loaded sets are cached.
type Store struct {
	dir   string
	cache *lru.Cache
	log   logger.Logger

	mu    sync.RWMutex
	added map[int64][]*encryption.Certificate
}

// NewStore creates a store over dir. An empty dir only serves certificates
// registered with Add.
func NewStore(dir string, cacheSize int, log logger.Logger) (*Store, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create certificate cache")
	}
	if log == nil {
		log = logger.NewSilentLogger()
	}
	return &Store{
		dir:   dir,
		cache: cache,
		log:   log,
		added: make(map[int64][]*encryption.Certificate),
	}, nil
}

// Add registers a certificate for an institution.
func (s *Store) Add(institutionID int64, cert *encryption.Certificate) {
	s.mu.Lock()
	s.added[institutionID] = append(s.added[institutionID], cert)
	s.mu.Unlock()
}

// Certificates returns the certificates of an institution, registered ones
// first.
func (s *Store) Certificates(institutionID int64) ([]*encryption.Certificate, error) {
	s.mu.RLock()
	certs := append([]*encryption.Certificate(nil), s.added[institutionID]...)
	s.mu.RUnlock()

	loaded, err := s.load(institutionID)
	if err != nil {
		return nil, err
	}
	return append(certs, loaded...), nil
}

// Source returns the certificates of an institution as a CertificateSource.
// They are loaded when first needed.
func (s *Store) Source(institutionID int64) encryption.CertificateSource {
	return source{store: s, institutionID: institutionID}
}

// Invalidate drops the cached certificates of an institution.
func (s *Store) Invalidate(institutionID int64) {
	s.cache.Remove(institutionID)
}

func (s *Store) load(institutionID int64) ([]*encryption.Certificate, error) {
	if s.dir == "" {
		return nil, nil
	}
	if cached, ok := s.cache.Get(institutionID); ok {
		return cached.([]*encryption.Certificate), nil
	}

	dir := filepath.Join(s.dir, strconv.FormatInt(institutionID, 10))
	files, err := filepath.Glob(filepath.Join(dir, "*.pem"))
	if err != nil {
		return nil, errors.Wrap(err, "invalid certificate directory")
	}
	sort.Strings(files)
	certs := make([]*encryption.Certificate, 0, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read %s", file)
		}
		cert, err := ParsePEM(data)
		if err != nil {
			s.log.Warnf("Skipping certificate file %s: %v", file, err)
			continue
		}
		certs = append(certs, cert)
	}
	s.log.Debugf("Loaded %d certificates of institution %d", len(certs), institutionID)
	s.cache.Add(institutionID, certs)
	return certs, nil
}

type source struct {
	store         *Store
	institutionID int64
}

func (s source) Certificates() ([]*encryption.Certificate, error) {
	return s.store.Certificates(s.institutionID)
}

// ParsePEM parses a certificate and an optional RSA private key from PEM
// data.
func ParsePEM(data []byte) (*encryption.Certificate, error) {
	cert := &encryption.Certificate{}
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		switch block.Type {
		case "CERTIFICATE":
			if cert.Cert != nil {
				continue
			}
			parsed, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, errors.Wrap(err, "invalid certificate")
			}
			if _, ok := parsed.PublicKey.(*rsa.PublicKey); !ok {
				return nil, errors.New("certificate has no RSA public key")
			}
			cert.Cert = parsed
		case "RSA PRIVATE KEY", "PRIVATE KEY":
			key, err := parsePrivateKey(block)
			if err != nil {
				return nil, err
			}
			cert.PrivateKey = key
		}
	}
	if cert.Cert == nil {
		return nil, errors.New("no certificate found")
	}
	if cert.PrivateKey != nil && !cert.PrivateKey.PublicKey.Equal(cert.Cert.PublicKey) {
		return nil, errors.New("private key does not match the certificate")
	}
	return cert, nil
}

func parsePrivateKey(block *pem.Block) (*rsa.PrivateKey, error) {
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err == nil {
		return key, nil
	}
	parsed, pkcs8Err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if pkcs8Err != nil {
		return nil, errors.Wrapf(err, "invalid private key (also tried PKCS8: %v)", pkcs8Err)
	}
	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return rsaKey, nil
}
