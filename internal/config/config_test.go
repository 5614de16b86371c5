package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithNoFileReturnsDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defaults := Defaults()
	if cfg.MaxRetries != defaults.MaxRetries || cfg.LogLevel != defaults.LogLevel ||
		cfg.StorageRootDir != defaults.StorageRootDir {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadReadsYAMLFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
max_retries: 7
storage:
  root_dir: /tmp/airchainpay-test
chains:
  - id: base-sepolia
    numeric_chain_id: 84532
    rpc_primary: https://rpc.example/base-sepolia
    forwarder_contract: "0xforwarder"
    native_symbol: ETH
    native_decimals: 18
    gas:
      min_gwei: 1
      max_gwei: 100
      warn_gwei: 50
      emergency_gwei: 80
`
	if err := os.WriteFile(path, []byte(yaml), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxRetries != 7 {
		t.Fatalf("expected max_retries 7, got %d", cfg.MaxRetries)
	}
	if cfg.StorageRootDir != "/tmp/airchainpay-test" {
		t.Fatalf("expected overridden storage root dir, got %q", cfg.StorageRootDir)
	}
	if len(cfg.Chains) != 1 || cfg.Chains[0].ID != "base-sepolia" {
		t.Fatalf("expected one configured chain base-sepolia, got %+v", cfg.Chains)
	}
	if cfg.Chains[0].Gas.MaxGwei != 100 {
		t.Fatalf("expected max_gwei 100, got %v", cfg.Chains[0].Gas.MaxGwei)
	}
	// Fields left unset in the file should keep their built-in defaults.
	if cfg.LogLevel != "info" {
		t.Fatalf("expected default log level to survive a partial override file, got %q", cfg.LogLevel)
	}
}

func TestLoadAppliesEnvironmentOverrides(t *testing.T) {
	t.Setenv("AIRCHAINPAY_MAX_RETRIES", "9")
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxRetries != 9 {
		t.Fatalf("expected env override max_retries=9, got %d", cfg.MaxRetries)
	}
}

func TestDefaultsMatchDocumentedDurations(t *testing.T) {
	d := Defaults()
	if d.MaxOfflineDuration != 24*time.Hour {
		t.Fatalf("expected a 24h default offline duration, got %v", d.MaxOfflineDuration)
	}
	if d.PayloadMaxAgeStrict >= d.PayloadMaxAge {
		t.Fatalf("expected the strict payload max age to be tighter than the normal one: strict=%v normal=%v", d.PayloadMaxAgeStrict, d.PayloadMaxAge)
	}
}
