// Package settings loads process settings for the sqlbridge daemon from
// flags, SQLBRIDGE_* environment variables and an optional config file.
package settings

import (
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	bridgeerrors "github.com/ha1tch/sqlbridge/pkg/errors"
	"github.com/ha1tch/sqlbridge/pkg/log"
)

// EnvPrefix prefixes every environment variable. SQLBRIDGE_DEBUG doubles
// as the logger's debug switch.
const EnvPrefix = "SQLBRIDGE"

// Keys understood in files, flags and the environment.
const (
	KeyConfigFile    = "config_file"
	KeyLogLevel      = "log_level"
	KeyLogFormat     = "log_format"
	KeyDebug         = "debug"
	KeyListen        = "listen"
	KeyBulkBatchSize = "bulk_batch_size"
	KeyTLSCertFile   = "tls_cert_file"
	KeyTLSKeyFile    = "tls_key_file"
	KeyTLSSelfSigned = "tls_self_signed"
)

// Defaults.
const (
	DefaultListen        = "127.0.0.1:8455"
	DefaultBulkBatchSize = 1000
)

// Settings are the resolved process settings.
type Settings struct {
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	Debug         bool   `mapstructure:"debug"`
	Listen        string `mapstructure:"listen"`
	BulkBatchSize int    `mapstructure:"bulk_batch_size"`
	TLSCertFile   string `mapstructure:"tls_cert_file"`
	TLSKeyFile    string `mapstructure:"tls_key_file"`
	TLSSelfSigned bool   `mapstructure:"tls_self_signed"`
}

// RegisterFlags installs the settings flags on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config-file", "", "Settings file (yaml, json or toml); reloaded on change")
	fs.String("log-level", "info", "Log level (debug, info, warn, error, off)")
	fs.String("log-format", "text", "Log format (text, json)")
	fs.Bool("debug", false, "Enable DEBUG logging on every category")
	fs.String("listen", DefaultListen, "HTTP listen address")
	fs.Int("bulk-batch-size", DefaultBulkBatchSize, "Default rows per bulk INSERT statement")
	fs.String("tls-cert-file", "", "PEM certificate for the HTTP listener")
	fs.String("tls-key-file", "", "PEM private key for the HTTP listener")
	fs.Bool("tls-self-signed", false, "Serve HTTPS with a generated self-signed certificate")
}

// Loader resolves settings. Flags beat the environment, which beats the
// file, which beats the defaults.
type Loader struct {
	v *viper.Viper
}

// LoaderOption configures a Loader.
type LoaderOption func(*viper.Viper)

// WithFilesystem reads the settings file from fsys instead of the OS.
func WithFilesystem(fsys afero.Fs) LoaderOption {
	return func(v *viper.Viper) {
		v.SetFs(fsys)
	}
}

// NewLoader creates a loader bound to fs. fs may be nil.
func NewLoader(fs *pflag.FlagSet, opts ...LoaderOption) (*Loader, error) {
	v := viper.New()
	for _, opt := range opts {
		opt(v)
	}
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
	v.SetDefault(KeyDebug, false)
	v.SetDefault(KeyListen, DefaultListen)
	v.SetDefault(KeyBulkBatchSize, DefaultBulkBatchSize)
	v.SetDefault(KeyTLSCertFile, "")
	v.SetDefault(KeyTLSKeyFile, "")
	v.SetDefault(KeyTLSSelfSigned, false)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for _, key := range []string{KeyConfigFile, KeyLogLevel, KeyLogFormat, KeyDebug, KeyListen, KeyBulkBatchSize,
			KeyTLSCertFile, KeyTLSKeyFile, KeyTLSSelfSigned} {
			flag := fs.Lookup(strings.ReplaceAll(key, "_", "-"))
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, bridgeerrors.Wrap(err, bridgeerrors.ErrCodeConfigInvalid, "bind flag").Err()
			}
		}
	}
	return &Loader{v: v}, nil
}

// ConfigFile is the settings file in use, or "".
func (l *Loader) ConfigFile() string {
	return l.v.GetString(KeyConfigFile)
}

// Load reads the settings file, if any, and resolves every key. Each call
// re-reads the file.
func (l *Loader) Load() (*Settings, error) {
	if path := l.ConfigFile(); path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, bridgeerrors.Wrapf(err, bridgeerrors.ErrCodeConfigParse, "read settings file %s", path).Err()
		}
	}

	var s Settings
	if err := l.v.Unmarshal(&s); err != nil {
		return nil, bridgeerrors.Wrap(err, bridgeerrors.ErrCodeConfigParse, "decode settings").Err()
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks enumerated values and ranges.
func (s *Settings) Validate() error {
	if _, err := log.ParseLevel(s.LogLevel); err != nil {
		return bridgeerrors.Config("%v", err).Err()
	}
	if _, err := log.ParseFormat(s.LogFormat); err != nil {
		return bridgeerrors.Config("%v", err).Err()
	}
	if s.BulkBatchSize < 1 {
		return bridgeerrors.Config("bulk_batch_size must be at least 1, got %d", s.BulkBatchSize).Err()
	}
	if (s.TLSCertFile == "") != (s.TLSKeyFile == "") {
		return bridgeerrors.Config("tls_cert_file and tls_key_file must be set together").Err()
	}
	if s.TLSSelfSigned && s.TLSCertFile != "" {
		return bridgeerrors.Config("tls_self_signed conflicts with tls_cert_file").Err()
	}
	return nil
}

// LoggerConfig builds the logger configuration these settings describe.
func (s *Settings) LoggerConfig() log.Config {
	cfg := log.DefaultConfig()
	cfg.DefaultLevel, _ = log.ParseLevel(s.LogLevel)
	cfg.Format, _ = log.ParseFormat(s.LogFormat)
	cfg.Debug = s.Debug
	return cfg
}

// Apply re-targets a running logger at these settings.
func (s *Settings) Apply(l *log.Logger) {
	cfg := s.LoggerConfig()
	l.SetAllLevels(cfg.DefaultLevel)
	l.SetFormat(cfg.Format)
	l.SetDebug(cfg.Debug)
}
