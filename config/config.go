// Package config loads the receiver configuration.
//
// Values are layered, later sources overriding earlier ones:
//  1. Defaults: built-in values from Default
//  2. Config file: optional YAML file
//  3. Environment: DICOMRECEPTOR_<SECTION>_<KEY>, e.g. DICOMRECEPTOR_SERVER_PORT
//  4. Overrides: explicit values, normally command-line flags
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "DICOMRECEPTOR_"

// DefaultConfigPaths lists the config files searched, in order, when no path
// is given.
var DefaultConfigPaths = []string{
	"dicomreceptor.yaml",
	"dicomreceptor.yml",
	"/etc/dicomreceptor/config.yaml",
}

// Config is the complete receiver configuration.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Storage StorageConfig `koanf:"storage"`
	Logging LoggingConfig `koanf:"logging"`
	HTTP    HTTPConfig    `koanf:"http"`
}

// ServerConfig configures the DICOM listener.
type ServerConfig struct {
	AETitle              string        `koanf:"ae_title" validate:"required,max=16"`
	Host                 string        `koanf:"host"`
	Port                 int           `koanf:"port" validate:"min=1,max=65535"`
	MaxPDU               uint32        `koanf:"max_pdu"` // 0 = unlimited
	ReadTimeout          time.Duration `koanf:"read_timeout"`
	WriteTimeout         time.Duration `koanf:"write_timeout"`
	MaxAssociations      int           `koanf:"max_associations" validate:"min=0"`
	AssociationRate      float64       `koanf:"association_rate" validate:"min=0"`
	AssociationBurst     int           `koanf:"association_burst" validate:"min=1"`
	RequireCalledAETitle bool          `koanf:"require_called_ae_title"`
}

// Address returns host:port.
func (c ServerConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// StorageConfig configures where and how received instances are written.
type StorageConfig struct {
	OutputDir       string `koanf:"output_dir" validate:"required"`
	MaxFolderLength int    `koanf:"max_folder_length" validate:"min=1"`
	ShortUIDLength  int    `koanf:"short_uid_length" validate:"min=1,max=64"`
	Extension       string `koanf:"extension" validate:"required,startswith=."`
}

// LoggingConfig configures console and file logging.
type LoggingConfig struct {
	Level      string `koanf:"level" validate:"oneof=trace debug info warn warning error critical"`
	Format     string `koanf:"format" validate:"oneof=console json"`
	Dir        string `koanf:"dir"`
	File       string `koanf:"file"`
	MaxAgeDays int    `koanf:"max_age_days" validate:"min=0"`
	MaxBackups int    `koanf:"max_backups" validate:"min=0"`
}

// HTTPConfig configures the health and metrics endpoint.
type HTTPConfig struct {
	Enabled bool   `koanf:"enabled"`
	Address string `koanf:"address" validate:"required_if=Enabled true"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			AETitle:          "MI_RECEPTOR",
			Host:             "",
			Port:             11112,
			MaxPDU:           0,
			ReadTimeout:      5 * time.Minute,
			WriteTimeout:     30 * time.Second,
			MaxAssociations:  0,
			AssociationRate:  0,
			AssociationBurst: 10,
		},
		Storage: StorageConfig{
			OutputDir:       "received_studies",
			MaxFolderLength: 50,
			ShortUIDLength:  12,
			Extension:       ".dcm",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Dir:        "logs",
			File:       "dicom_server.log",
			MaxAgeDays: 7,
			MaxBackups: 7,
		},
		HTTP: HTTPConfig{
			Enabled: false,
			Address: ":9110",
		},
	}
}

// Options controls Load.
type Options struct {
	// Path is a YAML config file. When empty the DefaultConfigPaths are
	// searched and a missing file is not an error.
	Path string

	// Overrides are applied last, keyed by koanf path ("server.port").
	Overrides map[string]any
}

// Load builds a Config from defaults, the config file, the environment and
// the overrides, then validates it.
func Load(opts Options) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	path := opts.Path
	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	for key, value := range opts.Overrides {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("failed to set %s: %w", key, err)
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// sections are the top-level config keys reachable from the environment.
var sections = []string{"server", "storage", "logging", "http"}

// envTransformFunc maps an environment variable to a koanf path:
//
//	DICOMRECEPTOR_SERVER_AE_TITLE    -> server.ae_title
//	DICOMRECEPTOR_STORAGE_OUTPUT_DIR -> storage.output_dir
//	DICOMRECEPTOR_HTTP_ENABLED       -> http.enabled
//
// Unknown sections map to "" and are skipped.
func envTransformFunc(name string) string {
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	for _, section := range sections {
		if rest, ok := strings.CutPrefix(key, section+"_"); ok && rest != "" {
			return section + "." + rest
		}
	}
	return ""
}

func findConfigFile() string {
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

var validate = validator.New()

// Validate checks field constraints.
func (c *Config) Validate() error {
	return validate.Struct(c)
}
