package forwardcache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	filename := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(filename, []byte(content), 0o644))
	return filename
}

func TestReadConfigFile(t *testing.T) {
	filename := writeConfig(t, `
docRoot: /srv/www
admin: 127.0.0.1:9090
journal: memory
logFile: proxy.log
originTimeout: 5s
clientTimeout: 1m30s
`)
	config, err := ReadConfigFile(filename)
	require.NoError(t, err)
	require.Equal(t, FileConfig{
		DocRoot:       "/srv/www",
		Admin:         "127.0.0.1:9090",
		Journal:       "memory",
		LogFile:       "proxy.log",
		OriginTimeout: 5 * time.Second,
		ClientTimeout: 90 * time.Second,
	}, config)
}

func TestReadEmptyConfigFile(t *testing.T) {
	config, err := ReadConfigFile(writeConfig(t, ""))
	require.NoError(t, err)
	require.Equal(t, FileConfig{}, config)
}

func TestReadConfigFileErrors(t *testing.T) {
	_, err := ReadConfigFile(filepath.Join(t.TempDir(), "missing.yml"))
	require.Equal(t, errors.CodeInvalidConfig, errors.GetCode(err))

	_, err = ReadConfigFile(writeConfig(t, "docroot: typo\n"))
	require.Equal(t, errors.CodeInvalidConfig, errors.GetCode(err))

	_, err = ReadConfigFile(writeConfig(t, "originTimeout: soon\n"))
	require.Equal(t, errors.CodeInvalidConfig, errors.GetCode(err))

	_, err = ReadConfigFile(writeConfig(t, "clientTimeout: -1s\n"))
	require.Equal(t, errors.CodeInvalidConfig, errors.GetCode(err))
}
