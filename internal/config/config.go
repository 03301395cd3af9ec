package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultListen            = "127.0.0.1:4048"
	DefaultAnimusPort        = 4049
	DefaultResponseTimeoutMS = 5000
)

// Output formats for printed reports.
const (
	OutputText = "text"
	OutputJSON = "json"
	OutputYAML = "yaml"
)

// Config is the brainstorm configuration loaded from brainstorm/config.toml.
type Config struct {
	// UDP address the command socket binds to for the lifetime of the process.
	Listen string `toml:"listen"`
	// How long to wait for an animus report before treating it as absent.
	ResponseTimeoutMS int `toml:"response_timeout_ms"`
	// Command port assumed for animi whose config does not name one.
	AnimusPort int `toml:"animus_port"`
	// Report output format: text, json or yaml.
	Output string `toml:"output"`
	// Prometheus listen address (e.g. "127.0.0.1:9148"). Nil means disabled.
	MetricsAddr *string `toml:"metrics_addr,omitempty"`
	// Record auto-link attempts in the link ledger.
	Ledger bool `toml:"ledger"`

	AutoLink AutoLinkConfig `toml:"autolink"`
}

// AutoLinkConfig tunes the group auto-link operation.
type AutoLinkConfig struct {
	// Wait for each LinkOutput report and only retire a pair on Success.
	ConfirmLinks bool `toml:"confirm_links"`
}

// ResponseTimeout returns the configured report deadline.
func (c *Config) ResponseTimeout() time.Duration {
	return time.Duration(c.ResponseTimeoutMS) * time.Millisecond
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Listen:            DefaultListen,
		ResponseTimeoutMS: DefaultResponseTimeoutMS,
		AnimusPort:        DefaultAnimusPort,
		Output:            OutputText,
		Ledger:            true,
	}
}

// Path returns the location of config.toml under the data root.
func Path(dataDir string) string {
	return filepath.Join(dataDir, "brainstorm", "config.toml")
}

// LoadConfig reads brainstorm/config.toml from dataDir, applies environment
// variable overrides, and validates the result.
func LoadConfig(dataDir string) (*Config, error) {
	path := Path(dataDir)
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if listen := os.Getenv("BRAINSTORM_LISTEN"); listen != "" {
		cfg.Listen = listen
	}
	if ms := os.Getenv("BRAINSTORM_TIMEOUT_MS"); ms != "" {
		n, err := strconv.Atoi(ms)
		if err != nil {
			return nil, fmt.Errorf("BRAINSTORM_TIMEOUT_MS: %w", err)
		}
		cfg.ResponseTimeoutMS = n
	}
	if cfg.MetricsAddr == nil {
		if addr := os.Getenv("BRAINSTORM_METRICS_ADDR"); addr != "" {
			cfg.MetricsAddr = &addr
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects settings the orchestrator cannot run with.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.ResponseTimeoutMS <= 0 {
		return fmt.Errorf("response_timeout_ms must be positive, got %d", c.ResponseTimeoutMS)
	}
	if c.AnimusPort <= 0 || c.AnimusPort > 65535 {
		return fmt.Errorf("animus_port out of range: %d", c.AnimusPort)
	}
	switch c.Output {
	case OutputText, OutputJSON, OutputYAML:
	default:
		return fmt.Errorf("output must be one of text, json, yaml; got %q", c.Output)
	}
	return nil
}

// Save writes the configuration to brainstorm/config.toml inside dataDir,
// creating the directory if necessary.
func (c *Config) Save(dataDir string) error {
	return writeTOML(Path(dataDir), c)
}

// AnimusConfig is the per-animus config.toml kept in animi/<name>/.
type AnimusConfig struct {
	Animus AnimusSection `toml:"animus"`
	Lib    LibSection    `toml:"lib"`
}

// AnimusSection identifies the animus and where it listens for commands.
type AnimusSection struct {
	Name    string `toml:"name"`
	IP      string `toml:"ip"`
	Port    int    `toml:"port,omitempty"`
	Version string `toml:"version,omitempty"`
}

// LibSection selects the daemon library features the animus is built with.
type LibSection struct {
	Features []string `toml:"features,omitempty"`
}

// FeaturesArg joins the feature list the way the package installer expects.
func (a *AnimusConfig) FeaturesArg() string {
	return strings.Join(a.Lib.Features, " ")
}

// AnimusConfigPath returns the config.toml path for an animus directory.
func AnimusConfigPath(animusDir string) string {
	return filepath.Join(animusDir, "config.toml")
}

// LoadAnimusConfig reads animusDir/config.toml.
func LoadAnimusConfig(animusDir string) (*AnimusConfig, error) {
	path := AnimusConfigPath(animusDir)
	var cfg AnimusConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	for _, f := range cfg.Lib.Features {
		if f == "" || strings.ContainsAny(f, " \t,") {
			return nil, fmt.Errorf("%s: invalid feature %q", path, f)
		}
	}
	return &cfg, nil
}

// Save writes the animus configuration into animusDir.
func (a *AnimusConfig) Save(animusDir string) error {
	return writeTOML(AnimusConfigPath(animusDir), a)
}

func writeTOML(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	enc := toml.NewEncoder(f)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	return nil
}

var validAnimusName = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// ValidateAnimusName checks that name is non-empty and contains only
// alphanumeric characters or underscores.
func ValidateAnimusName(name string) error {
	if !validAnimusName.MatchString(name) {
		return fmt.Errorf("animus name must be non-empty and alphanumeric (with _), got: %q", name)
	}
	return nil
}

// ValidateGroupName applies the animus naming rule to group names, which are
// also used as file names.
func ValidateGroupName(name string) error {
	if !validAnimusName.MatchString(name) {
		return fmt.Errorf("group name must be non-empty and alphanumeric (with _), got: %q", name)
	}
	return nil
}
