package core

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxClients != 16 {
		t.Errorf("MaxClients = %d, want 16", cfg.MaxClients)
	}
	if cfg.Shell != "" || cfg.SocketDir != "" {
		t.Errorf("defaults should leave shell and socket dir empty: %+v", cfg)
	}
	if !cfg.History {
		t.Error("history should default to on")
	}
}

func TestLoadConfigFileMissing(t *testing.T) {
	cfg, err := LoadConfigFile(filepath.Join(t.TempDir(), "nope.hcl"))
	if err != nil {
		t.Fatalf("missing file should yield defaults, got error: %v", err)
	}
	if cfg.MaxClients != 16 {
		t.Errorf("MaxClients = %d, want 16", cfg.MaxClients)
	}
}

func TestLoadConfigFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "moor.hcl")
	content := `
shell       = "/bin/zsh"
max_clients = 8
history     = false
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if cfg.Shell != "/bin/zsh" {
		t.Errorf("Shell = %q, want /bin/zsh", cfg.Shell)
	}
	if cfg.MaxClients != 8 {
		t.Errorf("MaxClients = %d, want 8", cfg.MaxClients)
	}
	if cfg.History {
		t.Error("history should be off")
	}
	// Unset keys keep their defaults.
	if cfg.SocketDir != "" {
		t.Errorf("SocketDir = %q, want empty", cfg.SocketDir)
	}
}

func TestLoadConfigFileMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "moor.hcl")
	if err := os.WriteFile(path, []byte("shell = \n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfigFile(path); err == nil {
		t.Fatal("expected error for malformed config")
	}
}

func TestLoadConfigFileClampsClients(t *testing.T) {
	tests := []struct {
		name     string
		override int
		want     int
	}{
		{"zero keeps default", 0, 16},
		{"negative keeps default", -3, 16},
		{"lowering is allowed", 4, 4},
		{"at the limit", 16, 16},
		{"raising past the cap keeps default", 64, 16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "moor.hcl")
			content := fmt.Sprintf("max_clients = %d\n", tt.override)
			if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
				t.Fatal(err)
			}
			cfg, err := LoadConfigFile(path)
			if err != nil {
				t.Fatalf("LoadConfigFile: %v", err)
			}
			if cfg.MaxClients != tt.want {
				t.Errorf("MaxClients = %d, want %d", cfg.MaxClients, tt.want)
			}
		})
	}
}
