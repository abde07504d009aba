package forwardcache

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/jmgilman/go/errors"
	"gopkg.in/yaml.v3"
)

// FileConfig is the content of the YAML config file.
type FileConfig struct {
	// Directory served for requests addressed to the proxy itself.
	DocRoot string `yaml:"docRoot"`
	// Listen address of the admin API, disabled if empty.
	Admin string `yaml:"admin"`
	// Journal db file name ("memory" for an in-memory db), disabled if empty.
	Journal       string        `yaml:"journal"`
	LogFile       string        `yaml:"logFile"`
	OriginTimeout time.Duration `yaml:"originTimeout"`
	ClientTimeout time.Duration `yaml:"clientTimeout"`
}

// ReadConfigFile reads and validates the config file.
// Unknown keys are rejected.
func ReadConfigFile(filename string) (FileConfig, error) {
	var config FileConfig
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, errors.Wrapf(err, errors.CodeInvalidConfig, "cannot read config file %s", filename)
	}
	dec := yaml.NewDecoder(bytes.NewReader(configBytes))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil && err != io.EOF {
		return config, errors.Wrapf(err, errors.CodeInvalidConfig, "cannot parse config file %s", filename)
	}
	if config.OriginTimeout < 0 || config.ClientTimeout < 0 {
		return config, errors.Newf(errors.CodeInvalidConfig, "negative timeout in %s", filename)
	}
	return config, nil
}
