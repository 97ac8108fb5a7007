package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	bridgeerrors "github.com/ha1tch/sqlbridge/pkg/errors"
	"github.com/ha1tch/sqlbridge/pkg/log"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func load(t *testing.T, fs *pflag.FlagSet) (*Settings, error) {
	t.Helper()
	l, err := NewLoader(fs)
	require.NoError(t, err)
	return l.Load()
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	s, err := load(t, nil)
	require.NoError(t, err)
	assert.Equal(t, &Settings{
		LogLevel:      "info",
		LogFormat:     "text",
		Listen:        DefaultListen,
		BulkBatchSize: DefaultBulkBatchSize,
	}, s)
}

func TestFileEnvAndFlagPrecedence(t *testing.T) {
	path := writeFile(t, t.TempDir(), "sqlbridge.yaml", `
log_level: warn
log_format: json
listen: 0.0.0.0:9000
bulk_batch_size: 250
`)

	s, err := load(t, newFlags(t, "--config-file", path))
	require.NoError(t, err)
	assert.Equal(t, "warn", s.LogLevel)
	assert.Equal(t, "json", s.LogFormat)
	assert.Equal(t, "0.0.0.0:9000", s.Listen)
	assert.Equal(t, 250, s.BulkBatchSize)

	t.Setenv("SQLBRIDGE_BULK_BATCH_SIZE", "50")
	t.Setenv("SQLBRIDGE_DEBUG", "1")
	s, err = load(t, newFlags(t, "--config-file", path, "--log-level", "error"))
	require.NoError(t, err)
	assert.Equal(t, "error", s.LogLevel, "flags win over the file")
	assert.Equal(t, 50, s.BulkBatchSize, "environment wins over the file")
	assert.True(t, s.Debug)
}

func TestLoadFromFilesystem(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/etc/sqlbridge/settings.json",
		[]byte(`{"log_format": "json", "tls_self_signed": true}`), 0o644))

	l, err := NewLoader(newFlags(t, "--config-file", "/etc/sqlbridge/settings.json"), WithFilesystem(fsys))
	require.NoError(t, err)
	s, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "json", s.LogFormat)
	assert.True(t, s.TLSSelfSigned)
}

func TestInvalidSettings(t *testing.T) {
	_, err := load(t, newFlags(t, "--log-level", "chatty"))
	assert.True(t, bridgeerrors.IsCategory(err, bridgeerrors.CategoryConfig))
	assert.Contains(t, err.Error(), "unknown log level: chatty")

	_, err = load(t, newFlags(t, "--bulk-batch-size", "0"))
	assert.Equal(t, "Config error: bulk_batch_size must be at least 1, got 0", err.Error())

	_, err = load(t, newFlags(t, "--config-file", filepath.Join(t.TempDir(), "missing.yaml")))
	assert.True(t, bridgeerrors.IsCode(err, bridgeerrors.ErrCodeConfigParse))

	_, err = load(t, newFlags(t, "--tls-cert-file", "server.crt"))
	assert.Equal(t, "Config error: tls_cert_file and tls_key_file must be set together", err.Error())

	_, err = load(t, newFlags(t, "--tls-cert-file", "server.crt", "--tls-key-file", "server.key", "--tls-self-signed"))
	assert.Equal(t, "Config error: tls_self_signed conflicts with tls_cert_file", err.Error())
}

func TestApply(t *testing.T) {
	l := log.New(log.Config{DefaultLevel: log.LevelInfo, Output: os.Stderr})
	s := &Settings{LogLevel: "error", LogFormat: "json", Debug: true, BulkBatchSize: 1}
	s.Apply(l)
	assert.True(t, l.DebugEnabled())

	cfg := s.LoggerConfig()
	assert.Equal(t, log.LevelError, cfg.DefaultLevel)
	assert.Equal(t, log.FormatJSON, cfg.Format)
}
