package server

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/examdesk/sebconfig/server/certs"
	"github.com/examdesk/sebconfig/server/encryption"
	"github.com/examdesk/sebconfig/server/pipeline"
)

const (
	// maxChunkSize bounds pipeline.chunk.size.
	maxChunkSize = 16 * 1024 * 1024
)

// knownSettings lists the settings a configuration file may carry.
var knownSettings = map[string]bool{
	"log.level":               true,
	"log.silent":              true,
	"pipeline.chunk.size":     true,
	"pipeline.buffer.chunks":  true,
	"compression.level":       true,
	"certificates.dir":        true,
	"certificates.cache.size": true,
	"secrets.key.env":         true,
	"attributes.file":         true,
}

// PipelineConfig contains settings for the export and import pipelines.
type PipelineConfig struct {
	// ChunkSize is the size in bytes of the chunks handed between stages.
	ChunkSize int
	// BufferChunks is the number of chunks each pipe buffers.
	BufferChunks int
	// CompressionLevel is the gzip level of exported payloads.
	CompressionLevel int
}

// String returns a human-readable representation of the pipeline settings.
func (p PipelineConfig) String() string {
	return fmt.Sprintf("[Chunk: %s, Buffer: %d chunks (%s), Compression: %d]",
		humanize.IBytes(uint64(p.ChunkSize)), p.BufferChunks,
		humanize.IBytes(uint64(p.ChunkSize*p.BufferChunks)), p.CompressionLevel)
}

// CertificatesConfig contains settings for the certificate store.
type CertificatesConfig struct {
	// Dir holds one sub-directory of PEM files per institution id.
	Dir       string
	CacheSize int
}

// Config contains all settings of the configuration codec.
type Config struct {
	LogLevel     uint32
	LogSilent    bool
	Pipeline     PipelineConfig
	Certificates CertificatesConfig
	// SecretsKeyEnv names the environment variable holding the master key
	// of secret attribute values.
	SecretsKeyEnv string
	// AttributesFile holds the YAML attribute definitions.
	AttributesFile string
}

// NewDefaultConfig creates a new Config with default settings.
func NewDefaultConfig() *Config {
	config := &Config{
		LogLevel: uint32(log.InfoLevel),
	}
	config.Pipeline.ChunkSize = pipeline.DefaultChunkSize
	config.Pipeline.BufferChunks = pipeline.DefaultCapacity
	config.Pipeline.CompressionLevel = gzip.DefaultCompression
	config.Certificates.CacheSize = certs.DefaultCacheSize
	config.SecretsKeyEnv = encryption.DefaultMasterKeyEnv
	return config
}

// GetLogLevel converts the level string to its corresponding int value. It
// returns an error if the level is invalid.
func GetLogLevel(level string) (uint32, error) {
	var l uint32
	switch strings.ToLower(level) {
	case "debug":
		l = uint32(log.DebugLevel)
	case "info":
		l = uint32(log.InfoLevel)
	case "warn":
		l = uint32(log.WarnLevel)
	case "error":
		l = uint32(log.ErrorLevel)
	default:
		return 0, fmt.Errorf("Invalid log.level setting %q", level)
	}
	return l, nil
}

// NewConfig creates a new Config with default settings and applies any
// settings from the given configuration file. An empty file name yields the
// defaults.
func NewConfig(configFile string) (*Config, error) { // nolint: gocyclo
	config := NewDefaultConfig()
	if configFile == "" {
		return config, nil
	}

	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read configuration %s", configFile)
	}

	for _, key := range v.AllKeys() {
		if !knownSettings[key] {
			return nil, fmt.Errorf("Unknown setting %q in %s", key, configFile)
		}
	}

	if v.IsSet("log.level") {
		level, err := GetLogLevel(v.GetString("log.level"))
		if err != nil {
			return nil, err
		}
		config.LogLevel = level
	}

	if v.IsSet("log.silent") {
		config.LogSilent = v.GetBool("log.silent")
	}

	if err := parsePipelineConfig(config, v); err != nil {
		return nil, err
	}

	if v.IsSet("certificates.dir") {
		config.Certificates.Dir = v.GetString("certificates.dir")
	}

	if v.IsSet("certificates.cache.size") {
		size := v.GetInt("certificates.cache.size")
		if size <= 0 {
			return nil, fmt.Errorf("Invalid certificates.cache.size setting %d", size)
		}
		config.Certificates.CacheSize = size
	}

	if v.IsSet("secrets.key.env") {
		config.SecretsKeyEnv = v.GetString("secrets.key.env")
	}

	if v.IsSet("attributes.file") {
		config.AttributesFile = v.GetString("attributes.file")
	}

	return config, nil
}

// parsePipelineConfig parses the `pipeline` and `compression` sections of a
// config file and populates the given Config.
func parsePipelineConfig(config *Config, v *viper.Viper) error {
	if v.IsSet("pipeline.chunk.size") {
		size, err := humanize.ParseBytes(v.GetString("pipeline.chunk.size"))
		if err != nil {
			return errors.Wrap(err, "invalid pipeline.chunk.size setting")
		}
		if size == 0 || size > maxChunkSize {
			return fmt.Errorf("Invalid pipeline.chunk.size setting %d", size)
		}
		config.Pipeline.ChunkSize = int(size)
	}

	if v.IsSet("pipeline.buffer.chunks") {
		chunks := v.GetInt("pipeline.buffer.chunks")
		if chunks <= 0 {
			return fmt.Errorf("Invalid pipeline.buffer.chunks setting %d", chunks)
		}
		config.Pipeline.BufferChunks = chunks
	}

	if v.IsSet("compression.level") {
		level := v.GetInt("compression.level")
		if level < gzip.HuffmanOnly || level > gzip.BestCompression {
			return fmt.Errorf("Invalid compression.level setting %d", level)
		}
		config.Pipeline.CompressionLevel = level
	}
	return nil
}
