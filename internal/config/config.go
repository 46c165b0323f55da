// Package config loads the server's HCL configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/feltpoker/felt/internal/table"
)

// Config is the complete server configuration
type Config struct {
	Server ServerSettings `hcl:"server,block"`
	Auth   *AuthSettings  `hcl:"auth,block"`
	Tables []TableBlock   `hcl:"table,block"`
}

// ServerSettings contains server-level configuration
type ServerSettings struct {
	Address   string `hcl:"address,optional"`
	Port      int    `hcl:"port,optional"`
	LogLevel  string `hcl:"log_level,optional"`
	DataDir   string `hcl:"data_dir,optional"`
	MaxTables int    `hcl:"max_tables,optional"`
}

// AuthSettings selects and configures the token validator
type AuthSettings struct {
	// Mode is "http", "static", or "open".
	Mode        string   `hcl:"mode,optional"`
	URL         string   `hcl:"url,optional"`
	AdminSecret string   `hcl:"admin_secret,optional"`
	Tokens      []string `hcl:"tokens,optional"`
}

// TableBlock declares a table to create at startup. Durations are in
// seconds; zero values fall back to table defaults.
type TableBlock struct {
	Name                   string `hcl:"name,label"`
	SmallBlind             int64  `hcl:"small_blind"`
	BigBlind               int64  `hcl:"big_blind"`
	MinBuyIn               int64  `hcl:"min_buy_in,optional"`
	MaxBuyIn               int64  `hcl:"max_buy_in,optional"`
	MaxSeats               int    `hcl:"max_seats,optional"`
	ActionTimeoutSeconds   int    `hcl:"action_timeout_seconds,optional"`
	DisconnectGraceSeconds int    `hcl:"disconnect_grace_seconds,optional"`
	ButtonRule             string `hcl:"button_rule,optional"`
	TimeoutPolicy          string `hcl:"timeout_policy,optional"`
}

// TableConfig converts a block into a runtime table config
func (b TableBlock) TableConfig() table.Config {
	cfg := table.DefaultConfig()
	cfg.Name = b.Name
	cfg.SmallBlind = b.SmallBlind
	cfg.BigBlind = b.BigBlind
	if b.MinBuyIn > 0 {
		cfg.MinBuyIn = b.MinBuyIn
	} else {
		cfg.MinBuyIn = b.BigBlind * 20
	}
	if b.MaxBuyIn > 0 {
		cfg.MaxBuyIn = b.MaxBuyIn
	} else {
		cfg.MaxBuyIn = b.BigBlind * 100
	}
	if b.MaxSeats > 0 {
		cfg.MaxSeats = b.MaxSeats
	}
	if b.ActionTimeoutSeconds > 0 {
		cfg.ActionTimeout = time.Duration(b.ActionTimeoutSeconds) * time.Second
	}
	if b.DisconnectGraceSeconds > 0 {
		cfg.DisconnectGrace = time.Duration(b.DisconnectGraceSeconds) * time.Second
	}
	if b.ButtonRule != "" {
		cfg.ButtonRule = table.ButtonRule(b.ButtonRule)
	}
	if b.TimeoutPolicy != "" {
		cfg.TimeoutPolicy = table.TimeoutPolicy(b.TimeoutPolicy)
	}
	return cfg
}

// Default returns a playable local configuration
func Default() *Config {
	return &Config{
		Server: ServerSettings{
			Address:  "localhost",
			Port:     8080,
			LogLevel: "info",
			DataDir:  "data",
		},
		Auth: &AuthSettings{Mode: "open"},
	}
}

// Load reads the HCL file. A missing file yields the defaults.
func Load(filename string) (*Config, error) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return Default(), nil
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}

	var cfg Config
	diags = gohcl.DecodeBody(file.Body, nil, &cfg)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}

	if cfg.Server.Address == "" {
		cfg.Server.Address = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "info"
	}
	if cfg.Server.DataDir == "" {
		cfg.Server.DataDir = "data"
	}
	if cfg.Auth == nil {
		cfg.Auth = &AuthSettings{Mode: "open"}
	}
	if cfg.Auth.Mode == "" {
		if cfg.Auth.URL != "" {
			cfg.Auth.Mode = "http"
		} else if len(cfg.Auth.Tokens) > 0 {
			cfg.Auth.Mode = "static"
		} else {
			cfg.Auth.Mode = "open"
		}
	}
	return &cfg, nil
}

// Validate checks server-level settings and every table block
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	switch c.Auth.Mode {
	case "http":
		if c.Auth.URL == "" {
			return fmt.Errorf("auth mode %q requires url", c.Auth.Mode)
		}
	case "static":
		if len(c.Auth.Tokens) == 0 {
			return fmt.Errorf("auth mode %q requires tokens", c.Auth.Mode)
		}
	case "open":
	default:
		return fmt.Errorf("unknown auth mode %q", c.Auth.Mode)
	}
	for _, b := range c.Tables {
		cfg := b.TableConfig()
		cfg.Normalize()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("table %s: %w", b.Name, err)
		}
	}
	return nil
}

// ServerAddress returns the listen address
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}
