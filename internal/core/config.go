// Package core holds cross-cutting plumbing: build version and the optional
// configuration file.
//
// moor is zero-configuration by design; the config file only exists to
// override a handful of defaults on hosts that need it. A missing file is
// the normal case.
package core

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// Configuration holds the effective settings after defaults and the optional
// config file have been merged.
type Configuration struct {
	Shell      string // overrides $SHELL for new sessions
	MaxClients int    // per-session attachment cap
	SocketDir  string // overrides the per-user registry directory
	History    bool   // record session events to the on-disk event store
}

// Config is the global configuration instance. It starts as pure defaults
// and is replaced by LoadConfig when the CLI runs.
var Config = DefaultConfig()

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Configuration {
	return &Configuration{
		Shell:      "",
		MaxClients: 16,
		SocketDir:  "",
		History:    true,
	}
}

// ConfigFilePath returns ~/.config/moor/moor.hcl.
func ConfigFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "moor", "moor.hcl")
}

type hclConfig struct {
	Shell      *string `hcl:"shell,optional"`
	MaxClients *int    `hcl:"max_clients,optional"`
	SocketDir  *string `hcl:"socket_dir,optional"`
	History    *bool   `hcl:"history,optional"`
}

// LoadConfig reads the optional config file and installs the result as the
// global Config. A missing file yields pure defaults; a malformed file is an
// error so typos do not silently revert behaviour.
func LoadConfig() error {
	cfg, err := LoadConfigFile(ConfigFilePath())
	if err != nil {
		return err
	}
	Config = cfg
	return nil
}

// LoadConfigFile parses path into a Configuration, applying defaults for
// anything the file leaves unset.
func LoadConfigFile(path string) (*Configuration, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}

	var raw hclConfig
	if err := hclsimple.DecodeFile(path, nil, &raw); err != nil {
		return nil, err
	}

	if raw.Shell != nil {
		cfg.Shell = *raw.Shell
	}
	// The attachment cap may only be lowered: 16 is a hard per-session
	// limit, not a tunable ceiling.
	if raw.MaxClients != nil {
		if v := *raw.MaxClients; v > 0 && v <= 16 {
			cfg.MaxClients = v
		}
	}
	if raw.SocketDir != nil {
		cfg.SocketDir = *raw.SocketDir
	}
	if raw.History != nil {
		cfg.History = *raw.History
	}
	return cfg, nil
}
