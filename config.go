package deimos

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultTool            = "gubiq"
	defaultBinDir          = "./binaries"
	defaultDescriptorURL   = "https://raw.githubusercontent.com/iquidus/deimos/master/clientBinaries.json"
	defaultLocalDescriptor = "./clientBinaries.json"
	defaultRPCHost         = "127.0.0.1"
	defaultRPCPort         = 8588
	defaultPollInterval    = 10 * time.Second
	defaultProbeTimeout    = 5 * time.Second
	defaultDownloadTimeout = 30 * time.Minute
	defaultQueryTimeout    = 30 * time.Second
	defaultStartGrace      = 2 * time.Minute
	defaultLogDir          = "./log/deimos"
	defaultSupervisorLog   = defaultLogDir + "/deimos.log"
	defaultChildLog        = defaultLogDir + "/client.log"
	defaultEnvFile         = ".env"
)

var defaultRPCAPIs = []string{"eth", "net", "web3"}

type RPCConfig struct {
	Host string   `yaml:"host" json:"host"`
	Port int      `yaml:"port" json:"port"`
	APIs []string `yaml:"apis" json:"apis"`
}

// Endpoint is the URL the probe talks to.
func (r RPCConfig) Endpoint() string {
	return fmt.Sprintf("http://%s:%d", r.Host, r.Port)
}

type Config struct {
	Tool            string    `yaml:"tool" json:"tool"`
	BinDir          string    `yaml:"binDir" json:"binDir"`
	DescriptorURL   string    `yaml:"descriptorURL" json:"descriptorURL"`
	LocalDescriptor string    `yaml:"localDescriptor" json:"localDescriptor"`
	RPC             RPCConfig `yaml:"rpc" json:"rpc"`
	PollInterval    Duration  `yaml:"pollInterval" json:"pollInterval"`
	UpdateInterval  Duration  `yaml:"updateInterval" json:"updateInterval"`
	ProbeTimeout    Duration  `yaml:"probeTimeout" json:"probeTimeout"`
	DownloadTimeout Duration  `yaml:"downloadTimeout" json:"downloadTimeout"`
	QueryTimeout    Duration  `yaml:"queryTimeout" json:"queryTimeout"`
	StartGrace      Duration  `yaml:"startGrace" json:"startGrace"`
	AutoUpdate      *bool     `yaml:"autoUpdate" json:"autoUpdate"`
	UpgradeRunning  *bool     `yaml:"upgradeRunning" json:"upgradeRunning"`
	Verbose         bool      `yaml:"verbose" json:"verbose"`
	LogFile         string    `yaml:"logFile" json:"logFile"`
	ChildLog        string    `yaml:"childLog" json:"childLog"`
	PIDFile         string    `yaml:"pidFile" json:"pidFile"`
	MetricsAddr     string    `yaml:"metricsAddr" json:"metricsAddr"`
	Keyring         string    `yaml:"keyring" json:"keyring"`
	EnvFile         string    `yaml:"envFile" json:"envFile"`
}

// Duration accepts "10s" style strings in both yaml and json.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.parse(value.Value)
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n int64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("invalid duration %s", data)
		}
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (c *Config) AutoUpdateEnabled() bool {
	return c.AutoUpdate == nil || *c.AutoUpdate
}

func (c *Config) UpgradeRunningEnabled() bool {
	return c.UpgradeRunning == nil || *c.UpgradeRunning
}

func (c *Config) applyDefaults() {
	if c.Tool == "" {
		c.Tool = defaultTool
	}
	if c.BinDir == "" {
		c.BinDir = defaultBinDir
	}
	if c.DescriptorURL == "" {
		c.DescriptorURL = defaultDescriptorURL
	}
	if c.LocalDescriptor == "" {
		c.LocalDescriptor = defaultLocalDescriptor
	}
	if c.RPC.Host == "" {
		c.RPC.Host = defaultRPCHost
	}
	if c.RPC.Port == 0 {
		c.RPC.Port = defaultRPCPort
	}
	if len(c.RPC.APIs) == 0 {
		c.RPC.APIs = append([]string(nil), defaultRPCAPIs...)
	}
	if c.PollInterval <= 0 {
		c.PollInterval = Duration(defaultPollInterval)
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = Duration(defaultProbeTimeout)
	}
	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = Duration(defaultDownloadTimeout)
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = Duration(defaultQueryTimeout)
	}
	if c.StartGrace <= 0 {
		c.StartGrace = Duration(defaultStartGrace)
	}
	if c.LogFile == "" {
		c.LogFile = defaultSupervisorLog
	}
	if c.ChildLog == "" {
		c.ChildLog = defaultChildLog
	}
	if c.EnvFile == "" {
		c.EnvFile = defaultEnvFile
	}
}

// DefaultConfig is what the watchdog runs with when no config file exists.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig reads yaml or json config from the given path. A missing file is
// not an error; defaults and environment overrides still apply.
func LoadConfig(configPath string) (*Config, error) {
	cfg := &Config{}
	if configPath != "" {
		if err := loadConfigFile(configPath, cfg); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
			slog.Debug("Config file not found; using defaults", slog.String("file", configPath))
		}
	}
	cfg.applyDefaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadConfigFile(configPath string, cfg *Config) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")) // Remove UTF-8 BOM if present
	switch {
	case strings.HasSuffix(configPath, ".yaml") || strings.HasSuffix(configPath, ".yml"):
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
	case strings.HasSuffix(configPath, ".json"):
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
	default:
		return fmt.Errorf("failed to load config from %s: unsupported format", configPath)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if _, err := os.Stat(c.EnvFile); err == nil {
		if err := godotenv.Load(c.EnvFile); err != nil {
			return fmt.Errorf("load env file %s: %w", c.EnvFile, err)
		}
	}
	if v, ok := os.LookupEnv("DEIMOS_AUTO_UPDATE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DEIMOS_AUTO_UPDATE: %w", err)
		}
		c.AutoUpdate = &b
	}
	if v, ok := os.LookupEnv("DEIMOS_VERBOSE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DEIMOS_VERBOSE: %w", err)
		}
		c.Verbose = b
	}
	if v := os.Getenv("DEIMOS_DESCRIPTOR_URL"); v != "" {
		c.DescriptorURL = v
	}
	if v := os.Getenv("DEIMOS_BIN_DIR"); v != "" {
		c.BinDir = v
	}
	if v := os.Getenv("DEIMOS_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	return nil
}
