// Package config loads server and CLI settings.
//
// Precedence, lowest to highest: defaults, config file, environment,
// command-line flags that were explicitly set.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/tailscale/hujson"
)

// Config holds all configuration options.
type Config struct {
	Host           string `json:"host" yaml:"host"`
	Port           string `json:"port" yaml:"port"`
	DataDir        string `json:"data_dir" yaml:"data_dir"`
	Backend        string `json:"backend" yaml:"backend"`
	LogFile        string `json:"log_file,omitempty" yaml:"log_file,omitempty"`
	AllowedOrigins string `json:"allowed_origins" yaml:"allowed_origins"`
	StrictKeys     bool   `json:"strict_keys" yaml:"strict_keys"`
	PathLocks      bool   `json:"path_locks" yaml:"path_locks"`
	StatusOwner    string `json:"status_owner,omitempty" yaml:"status_owner,omitempty"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           "5000",
		DataDir:        "./data",
		Backend:        "json",
		AllowedOrigins: "*",
		PathLocks:      true,
	}
}

// LogPath returns the audit log location. Without an explicit log file the
// log lives next to the documents as log.txt.
func (c Config) LogPath() string {
	if c.LogFile != "" {
		return c.LogFile
	}
	return filepath.Join(c.DataDir, "log.txt")
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return c.Host + ":" + c.Port
}

// Origins splits AllowedOrigins on commas.
func (c Config) Origins() []string {
	return strings.Split(c.AllowedOrigins, ",")
}

// Load returns the defaults overlaid with the file at path. An empty path
// loads nothing. Files ending in .yaml or .yml are parsed as YAML; anything
// else as JSON with comments and trailing commas allowed.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "reading config file")
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "invalid YAML in %s", path)
		}
	default:
		standardized, err := hujson.Standardize(data)
		if err != nil {
			return Config{}, errors.Wrapf(err, "invalid JSONC in %s", path)
		}
		if err := json.Unmarshal(standardized, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "invalid JSON in %s", path)
		}
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables. lookup is usually
// os.LookupEnv; empty values are ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		return v, ok && v != ""
	}
	strs := map[string]*string{
		"HOST":            &c.Host,
		"PORT":            &c.Port,
		"DATA_DIR":        &c.DataDir,
		"STORE_BACKEND":   &c.Backend,
		"LOG_FILE":        &c.LogFile,
		"ALLOWED_ORIGINS": &c.AllowedOrigins,
		"STATUS_OWNER":    &c.StatusOwner,
	}
	for key, dst := range strs {
		if v, ok := get(key); ok {
			*dst = v
		}
	}
	bools := map[string]*bool{
		"STRICT_KEYS": &c.StrictKeys,
		"PATH_LOCKS":  &c.PathLocks,
	}
	for key, dst := range bools {
		if v, ok := get(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return errors.Wrapf(err, "invalid %s", key)
			}
			*dst = b
		}
	}
	return nil
}

// Flag names shared by RegisterFlags and ApplyFlags.
const (
	FlagConfig         = "config"
	FlagHost           = "host"
	FlagPort           = "port"
	FlagDataDir        = "data-dir"
	FlagBackend        = "backend"
	FlagLogFile        = "log-file"
	FlagAllowedOrigins = "allowed-origins"
	FlagStrictKeys     = "strict-keys"
	FlagPathLocks      = "path-locks"
)

// RegisterStoreFlags adds the flags every command understands.
func RegisterStoreFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String(FlagConfig, "", "path to a JSON(C) or YAML config file")
	fs.String(FlagDataDir, d.DataDir, "directory holding the documents")
	fs.String(FlagBackend, d.Backend, "storage backend: json, sqlite or memory")
	fs.String(FlagLogFile, "", "audit log path (default <data-dir>/log.txt)")
	fs.Bool(FlagStrictKeys, d.StrictKeys, "treat null, false, 0 and \"\" as present values")
	fs.Bool(FlagPathLocks, d.PathLocks, "serialise operations on the same document")
}

// RegisterServerFlags adds the flags only the HTTP server uses.
func RegisterServerFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String(FlagHost, d.Host, "listen host")
	fs.String(FlagPort, d.Port, "listen port")
	fs.String(FlagAllowedOrigins, d.AllowedOrigins, "comma-separated CORS origins")
}

// ApplyFlags overrides fields from flags the user set explicitly. Flags not
// registered on fs are ignored.
func (c *Config) ApplyFlags(fs *pflag.FlagSet) error {
	strs := map[string]*string{
		FlagHost:           &c.Host,
		FlagPort:           &c.Port,
		FlagDataDir:        &c.DataDir,
		FlagBackend:        &c.Backend,
		FlagLogFile:        &c.LogFile,
		FlagAllowedOrigins: &c.AllowedOrigins,
	}
	for name, dst := range strs {
		if fs.Lookup(name) == nil || !fs.Changed(name) {
			continue
		}
		v, err := fs.GetString(name)
		if err != nil {
			return err
		}
		*dst = v
	}
	bools := map[string]*bool{
		FlagStrictKeys: &c.StrictKeys,
		FlagPathLocks:  &c.PathLocks,
	}
	for name, dst := range bools {
		if fs.Lookup(name) == nil || !fs.Changed(name) {
			continue
		}
		v, err := fs.GetBool(name)
		if err != nil {
			return err
		}
		*dst = v
	}
	return nil
}

// Resolve builds the effective configuration for a command from its flags
// and the process environment.
func Resolve(fs *pflag.FlagSet) (Config, error) {
	path, _ := fs.GetString(FlagConfig)
	cfg, err := Load(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.ApplyFlags(fs); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate checks the configuration is usable.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data directory must not be empty")
	}
	switch c.Backend {
	case "", "json", "sqlite", "memory":
	default:
		return errors.Errorf("unknown store backend: %q", c.Backend)
	}
	return nil
}
