// Package config resolves relsync settings from an optional config file,
// the environment and command-line flags, in increasing precedence.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/3leaps/relsync/internal/match"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "https://github.com/3leaps/relsync/config.schema.json"

const (
	DefaultConcurrency = 8
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "text"
	DefaultGPGBin      = "gpg"
)

var (
	DefaultChecksumGlobs = []string{"*.tar.gz", "*.zip"}
	DefaultSignGlobs     = []string{"*.{b2,sha256,sha512}"}
)

type ChecksumConfig struct {
	Globs      []string `json:"globs" yaml:"globs"`
	Algorithms []string `json:"algorithms" yaml:"algorithms"`
}

type SignConfig struct {
	Globs      []string `json:"globs" yaml:"globs"`
	KeyFile    string   `json:"key_file" yaml:"key_file"`
	GPGBin     string   `json:"gpg_bin" yaml:"gpg_bin"`
	GPGHomeDir string   `json:"gpg_homedir" yaml:"gpg_homedir"`
	Suffix     string   `json:"suffix" yaml:"suffix"`

	// Key and Passphrase are secrets and only come from env or flags.
	Key        string `json:"-" yaml:"-"`
	Passphrase string `json:"-" yaml:"-"`
}

type PackageConfig struct {
	Name   string `json:"name" yaml:"name"`
	Format string `json:"format" yaml:"format"`
}

type VerifyConfig struct {
	Algorithms  []string `json:"algorithms" yaml:"algorithms"`
	MinisignKey string   `json:"minisign_key" yaml:"minisign_key"`
	PGPKey      string   `json:"pgp_key" yaml:"pgp_key"`
}

// Config is the resolved configuration of one invocation.
type Config struct {
	Repo        string `json:"repo" yaml:"repo"`
	Tag         string `json:"tag" yaml:"tag"`
	Concurrency int    `json:"concurrency" yaml:"concurrency"`
	LogLevel    string `json:"log_level" yaml:"log_level"`
	LogFormat   string `json:"log_format" yaml:"log_format"`

	Checksum ChecksumConfig `json:"checksum" yaml:"checksum"`
	Sign     SignConfig     `json:"sign" yaml:"sign"`
	Package  PackageConfig  `json:"package" yaml:"package"`
	Verify   VerifyConfig   `json:"verify" yaml:"verify"`

	// Token is never read from a file.
	Token string `json:"-" yaml:"-"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Concurrency: DefaultConcurrency,
		LogLevel:    DefaultLogLevel,
		LogFormat:   DefaultLogFormat,
		Checksum: ChecksumConfig{
			Globs:      append([]string(nil), DefaultChecksumGlobs...),
			Algorithms: []string{"b2", "sha256", "sha512"},
		},
		Sign: SignConfig{
			Globs:  append([]string(nil), DefaultSignGlobs...),
			GPGBin: DefaultGPGBin,
		},
	}
}

// Load returns the defaults overlaid with the config file at path. YAML is
// assumed unless the file ends in .json. The file is validated against the
// embedded JSON schema before it is applied.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	// #nosec G304 -- path is the operator supplied config file
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	doc, err := toJSON(path, data)
	if err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := validate(doc); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	if err := json.Unmarshal(doc, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, nil
}

// toJSON normalises a YAML or JSON document to JSON bytes.
func toJSON(path string, data []byte) ([]byte, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return data, nil
	}
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	if v == nil {
		v = map[string]any{}
	}
	return json.Marshal(v)
}

func validate(doc []byte) error {
	schemaDoc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, schemaDoc); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	sch, err := c.Compile(schemaURL)
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(doc))
	if err != nil {
		return err
	}
	return sch.Validate(inst)
}

// ApplyEnv overlays the environment. Unset or blank variables are ignored.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	get := func(key string) string { return strings.TrimSpace(getenv(key)) }

	if v := get("GITHUB_REPOSITORY"); v != "" {
		c.Repo = v
	}
	if v := get("GITHUB_REF_NAME"); v != "" {
		c.Tag = v
	}
	if v := get("RELSYNC_GITHUB_TOKEN"); v != "" {
		c.Token = v
	} else if v := get("GITHUB_TOKEN"); v != "" {
		c.Token = v
	}
	if v := get("RELSYNC_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RELSYNC_CONCURRENCY: %w", err)
		}
		c.Concurrency = n
	}
	if v := get("RELSYNC_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := get("INPUT_GPG_KEY"); v != "" {
		c.Sign.Key = getenv("INPUT_GPG_KEY")
	}
	if v := getenv("INPUT_GPG_PASSPHRASE"); v != "" {
		c.Sign.Passphrase = v
	}
	if v := get("INPUT_GLOBS"); v != "" {
		c.Sign.Globs = match.SplitList(v)
	}
	return nil
}

// Validate checks the settings every release command needs.
func (c *Config) Validate() error {
	if c.Repo == "" {
		return fmt.Errorf("repository is required (--repo or GITHUB_REPOSITORY)")
	}
	if c.Tag == "" {
		return fmt.Errorf("release tag is required (--tag or GITHUB_REF_NAME)")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	return nil
}

// SigningKey returns the armored signing key. A value starting with @ names
// a file; otherwise Sign.KeyFile is read when Sign.Key is empty.
func (c *Config) SigningKey() (string, error) {
	key := c.Sign.Key
	path := c.Sign.KeyFile
	if rest, ok := strings.CutPrefix(key, "@"); ok {
		key, path = "", rest
	}
	if key != "" {
		return key, nil
	}
	if path == "" {
		return "", fmt.Errorf("signing key is required (--gpg-key or INPUT_GPG_KEY)")
	}
	// #nosec G304 -- operator supplied key file
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read signing key: %w", err)
	}
	return string(data), nil
}
