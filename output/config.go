package output

import (
	"fmt"

	"github.com/streampipe/s3fileout/output/keyname"
)

// DefaultTempPathPrefix names the staging directories and chunk files
// in the OS temp directory.
const DefaultTempPathPrefix = "s3fileout-"

// Chunk compression modes.
const (
	CompressionNone = "none"
	CompressionZstd = "zstd"
)

// Config is the sink configuration for one transaction. It is immutable
// once the transaction starts; tasks only ever see the TaskConfig
// derived from it.
type Config struct {
	PathPrefix      string `yaml:"path_prefix"`
	FileExt         string `yaml:"file_ext"`
	SequenceFormat  string `yaml:"sequence_format"`
	Bucket          string `yaml:"bucket"`
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	TempPathPrefix  string `yaml:"tmp_path_prefix"`
	// FileBufferChunkLimit is the global chunk byte budget shared evenly
	// by all tasks. Zero means unlimited.
	FileBufferChunkLimit int64 `yaml:"file_buffer_chunk_limit"`
	// Compression selects the on-disk (and uploaded) chunk encoding.
	// The file extension is not adjusted; configure file_ext to match.
	Compression string `yaml:"compression"`
}

// TaskConfig is the per-task view of Config produced at transaction
// time. ChunkLimit is this task's even share of the global byte budget,
// zero meaning unlimited.
type TaskConfig struct {
	Config
	ChunkLimit int64
}

func (c Config) withDefaults() Config {
	if c.SequenceFormat == "" {
		c.SequenceFormat = keyname.DefaultSequenceFormat
	}
	if c.TempPathPrefix == "" {
		c.TempPathPrefix = DefaultTempPathPrefix
	}
	if c.Compression == "" {
		c.Compression = CompressionNone
	}
	return c
}

func (c Config) validate() error {
	if c.PathPrefix == "" {
		return &ConfigError{Msg: "path_prefix must not be empty"}
	}
	if c.FileExt == "" {
		return &ConfigError{Msg: "file_ext must not be empty"}
	}
	if c.Bucket == "" {
		return &ConfigError{Msg: "bucket must not be empty"}
	}
	if c.Endpoint == "" {
		return &ConfigError{Msg: "endpoint must not be empty"}
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return &ConfigError{Msg: "access_key_id and secret_access_key must be provided together"}
	}
	if c.FileBufferChunkLimit < 0 {
		return &ConfigError{Msg: "file_buffer_chunk_limit must not be negative"}
	}
	if c.Compression != CompressionNone && c.Compression != CompressionZstd {
		return &ConfigError{Msg: fmt.Sprintf("unknown compression %q, expected %q or %q", c.Compression, CompressionNone, CompressionZstd)}
	}
	if err := c.formatter().Validate(); err != nil {
		return &ConfigError{Msg: "invalid sequence_format", Err: err}
	}
	return nil
}

func (c Config) formatter() keyname.Formatter {
	return keyname.Formatter{
		PathPrefix:     c.PathPrefix,
		SequenceFormat: c.SequenceFormat,
		Extension:      c.FileExt,
	}
}
