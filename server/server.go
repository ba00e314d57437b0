// Package server wires the configuration codec together: the plist codec,
// the export and import pipelines, the certificate store and the credential
// encryptor for secret attributes.
package server

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/examdesk/sebconfig/server/certs"
	"github.com/examdesk/sebconfig/server/encryption"
	"github.com/examdesk/sebconfig/server/logger"
	"github.com/examdesk/sebconfig/server/model"
	"github.com/examdesk/sebconfig/server/pipeline"
	"github.com/examdesk/sebconfig/server/plist"
)

// Server is the entry point of the configuration codec. It is safe for
// concurrent use; every call runs its own pipeline.
type Server struct {
	config   *Config
	logger   logger.Logger
	registry *encryption.Registry
	composer *pipeline.Composer
	certs    *certs.Store

	// mu guards secrets, which is nil when no credential master key is
	// configured.
	mu      sync.RWMutex
	secrets plist.SecretEncryptor
}

// New creates a Server from the given configuration.
func New(config *Config) (*Server, error) {
	log := logger.NewLogger(config.LogLevel)
	log.Silent(config.LogSilent)

	store, err := certs.NewStore(config.Certificates.Dir, config.Certificates.CacheSize, log)
	if err != nil {
		return nil, err
	}

	registry := encryption.NewDefaultRegistry()
	composer := pipeline.NewComposer(registry, log)
	composer.ChunkSize = config.Pipeline.ChunkSize
	composer.Capacity = config.Pipeline.BufferChunks
	composer.CompressionLevel = config.Pipeline.CompressionLevel

	s := &Server{
		config:   config,
		logger:   log,
		registry: registry,
		composer: composer,
		certs:    store,
	}

	credentials, err := encryption.NewCredentialEncryptorFromEnv(config.SecretsKeyEnv)
	switch {
	case err == nil:
		s.secrets = credentials
	case errors.Is(err, encryption.ErrNoMasterKey):
		log.Warnf("%s is not set, secret attribute values will be dropped on import", config.SecretsKeyEnv)
	default:
		return nil, err
	}

	log.Debugf("Pipeline: %s", config.Pipeline)
	if config.Certificates.Dir != "" {
		log.Debugf("Certificates: %s", config.Certificates.Dir)
	}
	return s, nil
}

// Logger returns the server's logger.
func (s *Server) Logger() logger.Logger {
	return s.logger
}

// Certificates returns the certificate store used to decrypt certificate
// encrypted imports.
func (s *Server) Certificates() *certs.Store {
	return s.certs
}

// SetSecretEncryptor replaces the encryptor of secret attribute values. Nil
// disables it.
func (s *Server) SetSecretEncryptor(secrets plist.SecretEncryptor) {
	s.mu.Lock()
	s.secrets = secrets
	s.mu.Unlock()
}

func (s *Server) secretEncryptor() plist.SecretEncryptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.secrets
}

// ParseMarkup parses plist markup and hands the values of the configuration
// to sink.
func (s *Server) ParseMarkup(r io.Reader, institutionID, configurationID int64,
	resolver model.AttributeResolver, sink model.ValueSink) error {

	parser := &plist.Parser{
		InstitutionID:   institutionID,
		ConfigurationID: configurationID,
		Resolver:        resolver,
		Sink:            sink,
		Secrets:         s.secretEncryptor(),
		Logger:          s.logger,
	}
	return parser.Parse(r)
}

// SerializeMarkup renders entries as plist markup.
func (s *Server) SerializeMarkup(w io.Writer, entries []model.Entry) error {
	serializer := &plist.Serializer{Secrets: s.secretEncryptor(), Logger: s.logger}
	return serializer.Write(w, entries)
}

// ExportEncrypted compresses and encrypts the markup read from in.
func (s *Server) ExportEncrypted(ctx context.Context, out io.Writer, in io.Reader, encCtx encryption.Context) error {
	return s.composer.Export(ctx, out, in, encCtx)
}

// ImportDecrypted decrypts and decompresses a container. Certificate
// encrypted containers are opened with the certificates of the institution.
// A nil password is only valid for containers that need none.
//
// Password payloads are authenticated only at their end, so out may already
// hold bytes of a tampered container when the error is returned. Callers
// that must not expose such bytes buffer the output.
func (s *Server) ImportDecrypted(ctx context.Context, out io.Writer, in io.Reader,
	institutionID int64, password *string) error {

	return s.composer.Import(ctx, out, in, s.credentials(institutionID, password))
}

// ExportConfig serializes a snapshot and exports it in one streaming pass.
func (s *Server) ExportConfig(ctx context.Context, out io.Writer, snapshot *model.Snapshot, encCtx encryption.Context) error {
	entries := snapshot.Entries()
	return s.composer.ExportFrom(ctx, out, func(w io.Writer) error {
		return s.SerializeMarkup(w, entries)
	}, encCtx)
}

// ImportConfig imports a container and parses the markup into sink in one
// streaming pass. Values reach sink before a password payload is
// authenticated, so a failed import may leave values from a tampered
// container behind; sink into a staging snapshot and commit on success.
func (s *Server) ImportConfig(ctx context.Context, in io.Reader, institutionID, configurationID int64,
	password *string, resolver model.AttributeResolver, sink model.ValueSink) error {

	return s.composer.ImportTo(ctx, func(r io.Reader) error {
		return s.ParseMarkup(r, institutionID, configurationID, resolver, sink)
	}, in, s.credentials(institutionID, password))
}

func (s *Server) credentials(institutionID int64, password *string) encryption.Credentials {
	return encryption.Credentials{
		Password:     password,
		Certificates: s.certs.Source(institutionID),
	}
}
