package config

import (
	"fmt"
	"os"
	"time"

	"jido/internal/keymanager"
	"jido/internal/provision"

	"gopkg.in/yaml.v2"
)

// Key strategy names accepted in configuration
const (
	StrategyShared    = "shared"
	StrategyEphemeral = "ephemeral"
	StrategyExisting  = "existing"
)

// DefaultSharedKeyName is the name the shared key is registered under
const DefaultSharedKeyName = "jido-shared"

// Config contains application-wide defaults. Per-call values are merged on
// top of it by Resolve; the orchestrator only ever sees the fully-resolved
// provision.Config.
type Config struct {
	// Provider connection parameters
	Token string `yaml:"token"`

	// Default instance parameters
	ServerType string             `yaml:"server_type"`
	Image      provision.ImageRef `yaml:"image"`
	Region     string             `yaml:"region"`

	// SSH key handling
	KeyStrategy string `yaml:"key_strategy"` // shared | ephemeral | existing
	KeyName     string `yaml:"key_name"`
	KeyID       int64  `yaml:"key_id"`
	PrivateKey  string `yaml:"private_key"`

	// Workspace layout
	WorkspaceBase string            `yaml:"workspace_base"`
	Labels        map[string]string `yaml:"labels"`
	UserData      string            `yaml:"user_data"`

	// Poll pacing, in seconds
	ServerBootTimeoutSec int `yaml:"server_boot_timeout"`
	SSHTimeoutSec        int `yaml:"ssh_timeout"`
	BootPollIntervalSec  int `yaml:"boot_poll_interval"`
	SSHPollIntervalSec   int `yaml:"ssh_poll_interval"`

	// SSH endpoint defaults
	SSHUser string `yaml:"ssh_user"`
	SSHPort int    `yaml:"ssh_port"`
}

// Overrides are call-site values for one provision call. Zero-valued fields
// inherit the application default; set fields win.
type Overrides struct {
	ServerType    string
	Image         provision.ImageRef
	Region        string
	KeyStrategy   string
	KeyName       string
	KeyID         int64
	PrivateKey    string
	WorkspaceBase string
	Labels        map[string]string
	UserData      string
}

// Load loads configuration from a YAML file plus environment variables
func Load() (*Config, error) {
	config := &Config{
		ServerType:    "cx22",
		Image:         "ubuntu-24.04",
		KeyStrategy:   StrategyShared,
		KeyName:       DefaultSharedKeyName,
		WorkspaceBase: "/work",
		SSHUser:       "root",
	}

	// Try to load from YAML file first
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "jido.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %v", err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %v", err)
		}
	}

	// Expand environment variables in string fields
	config.Token = os.ExpandEnv(config.Token)
	config.Region = os.ExpandEnv(config.Region)
	config.KeyName = os.ExpandEnv(config.KeyName)
	config.PrivateKey = os.ExpandEnv(config.PrivateKey)
	config.WorkspaceBase = os.ExpandEnv(config.WorkspaceBase)
	config.UserData = os.ExpandEnv(config.UserData)

	// Environment variables win over file values
	if token := os.Getenv("JIDO_TOKEN"); token != "" {
		config.Token = token
	}

	if config.Token == "" {
		return nil, fmt.Errorf("API token is required (set token in config file or JIDO_TOKEN environment variable)")
	}

	return config, nil
}

// Resolve merges call-site overrides over the application defaults and
// returns the immutable per-call provisioning configuration.
func (c *Config) Resolve(o Overrides) (provision.Config, error) {
	merged := *c
	if o.ServerType != "" {
		merged.ServerType = o.ServerType
	}
	if o.Image != "" {
		merged.Image = o.Image
	}
	if o.Region != "" {
		merged.Region = o.Region
	}
	if o.KeyStrategy != "" {
		merged.KeyStrategy = o.KeyStrategy
	}
	if o.KeyName != "" {
		merged.KeyName = o.KeyName
	}
	if o.KeyID != 0 {
		merged.KeyID = o.KeyID
	}
	if o.PrivateKey != "" {
		merged.PrivateKey = o.PrivateKey
	}
	if o.WorkspaceBase != "" {
		merged.WorkspaceBase = o.WorkspaceBase
	}
	if o.UserData != "" {
		merged.UserData = o.UserData
	}

	labels := make(map[string]string, len(c.Labels)+len(o.Labels))
	for k, v := range c.Labels {
		labels[k] = v
	}
	for k, v := range o.Labels {
		labels[k] = v
	}

	strategy, err := merged.keyStrategy()
	if err != nil {
		return provision.Config{}, err
	}

	return provision.Config{
		Token:             merged.Token,
		ServerType:        merged.ServerType,
		Image:             merged.Image,
		Region:            merged.Region,
		KeyStrategy:       strategy,
		WorkspaceBase:     merged.WorkspaceBase,
		Labels:            labels,
		UserData:          merged.UserData,
		ServerBootTimeout: time.Duration(merged.ServerBootTimeoutSec) * time.Second,
		SSHTimeout:        time.Duration(merged.SSHTimeoutSec) * time.Second,
		BootPollInterval:  time.Duration(merged.BootPollIntervalSec) * time.Second,
		SSHPollInterval:   time.Duration(merged.SSHPollIntervalSec) * time.Second,
		SSHUser:           merged.SSHUser,
		SSHPort:           merged.SSHPort,
	}, nil
}

func (c *Config) keyStrategy() (keymanager.Strategy, error) {
	switch c.KeyStrategy {
	case "", StrategyShared:
		name := c.KeyName
		if name == "" {
			name = DefaultSharedKeyName
		}
		return keymanager.Shared{Name: name, PrivateKey: c.PrivateKey}, nil
	case StrategyEphemeral:
		return keymanager.Ephemeral{}, nil
	case StrategyExisting:
		return keymanager.Existing{KeyID: c.KeyID, PrivateKey: c.PrivateKey}, nil
	default:
		return nil, fmt.Errorf("unknown key strategy %q", c.KeyStrategy)
	}
}
