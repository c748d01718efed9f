package config

import (
	"os"
	"path/filepath"
	"testing"
)

func isolate(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)
	t.Setenv("XDG_STATE_HOME", tmp)
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(tmp); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return tmp
}

func TestLoadDefaults(t *testing.T) {
	tmp := isolate(t)
	settings, err := Load(GlobalFlags{})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !settings.DryRun {
		t.Fatal("expected dry run by default")
	}
	if settings.SafetyMultiplier != DefaultSafetyMultiplier || settings.LogLevel != "warn" || settings.Network != "tron" {
		t.Fatalf("unexpected defaults %+v", settings)
	}
	if settings.SubmissionsPath != filepath.Join(tmp, "tomo", "submissions.db") {
		t.Fatalf("unexpected store path %s", settings.SubmissionsPath)
	}
}

func TestLoadPrecedenceFlagsOverEnvOverFile(t *testing.T) {
	tmp := isolate(t)
	configPath := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(configPath, []byte("output: plain\nsafety_multiplier: 2\ndry_run: false\nnetwork: nile\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("TOMO_OUTPUT", "json")
	t.Setenv("TOMO_SAFETY_MULTIPLIER", "3")
	t.Setenv("TOMO_DRY_RUN", "true")
	dryRun := false
	flags := GlobalFlags{ConfigPath: configPath, Plain: true, SafetyMultiplier: 4, DryRun: &dryRun}
	settings, err := Load(flags)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.OutputMode != "plain" {
		t.Fatalf("expected flag to win, got output=%s", settings.OutputMode)
	}
	if settings.SafetyMultiplier != 4 {
		t.Fatalf("expected multiplier from flags, got %v", settings.SafetyMultiplier)
	}
	if settings.DryRun {
		t.Fatal("expected --dry-run=false to win over env")
	}
	if settings.Network != "nile" {
		t.Fatalf("expected network from file, got %s", settings.Network)
	}
}

func TestLoadMutuallyExclusiveOutputFlags(t *testing.T) {
	isolate(t)
	_, err := Load(GlobalFlags{JSON: true, Plain: true})
	if err == nil {
		t.Fatal("expected error with --json and --plain")
	}
}

func TestLoadRejectsMultiplierBelowOne(t *testing.T) {
	isolate(t)
	if _, err := Load(GlobalFlags{SafetyMultiplier: 0.5}); err == nil {
		t.Fatal("expected multiplier validation error")
	}
}

func TestLoadEnvFile(t *testing.T) {
	tmp := isolate(t)
	if err := os.WriteFile(filepath.Join(tmp, ".env"), []byte("TOMO_NETWORK=nile\nTOMO_LOG_LEVEL=debug\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	for _, key := range []string{"TOMO_NETWORK", "TOMO_LOG_LEVEL"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	settings, err := Load(GlobalFlags{})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.Network != "nile" || settings.LogLevel != "debug" {
		t.Fatalf("expected values from .env, got network=%s log=%s", settings.Network, settings.LogLevel)
	}

	if _, err := Load(GlobalFlags{EnvFile: filepath.Join(tmp, "missing.env")}); err == nil {
		t.Fatal("expected explicit env file to be required")
	}
}

func TestResolveNetworkOverrides(t *testing.T) {
	tmp := isolate(t)
	configPath := filepath.Join(tmp, "config.yaml")
	body := "networks:\n  nile:\n    rpc_url: https://nile.example.org\n    api_key_env: NILE_KEY\n    energy_price_sun: 420\n"
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("NILE_KEY", "secret")
	settings, err := Load(GlobalFlags{ConfigPath: configPath, Network: "tron-nile"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	network, err := settings.ResolveNetwork()
	if err != nil {
		t.Fatalf("ResolveNetwork failed: %v", err)
	}
	if network.Profile.RPCURL != "https://nile.example.org" || network.Profile.EnergyPriceSun != 420 || network.APIKey != "secret" {
		t.Fatalf("unexpected network %+v", network)
	}

	settings.RPCURL = "http://example.org"
	if _, err := settings.ResolveNetwork(); err == nil {
		t.Fatal("expected plaintext remote rpc to be rejected")
	}
	settings.Network = "solana"
	if _, err := settings.ResolveNetwork(); err == nil {
		t.Fatal("expected unknown network error")
	}
}

func TestLoadEnableCommands(t *testing.T) {
	tmp := isolate(t)
	t.Setenv("TOMO_ENABLE_COMMANDS", "")
	os.Unsetenv("TOMO_ENABLE_COMMANDS")
	configPath := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(configPath, []byte("enable_commands:\n  - plan build\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	settings, err := Load(GlobalFlags{ConfigPath: configPath})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(settings.EnableCommands) != 1 || settings.EnableCommands[0] != "plan build" {
		t.Fatalf("expected allowlist from file, got %v", settings.EnableCommands)
	}

	t.Setenv("TOMO_ENABLE_COMMANDS", "estimate, plan build ,")
	settings, err = Load(GlobalFlags{ConfigPath: configPath})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(settings.EnableCommands) != 2 || settings.EnableCommands[0] != "estimate" {
		t.Fatalf("expected allowlist from env, got %v", settings.EnableCommands)
	}

	settings, err = Load(GlobalFlags{ConfigPath: configPath, EnableCommands: "execute"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(settings.EnableCommands) != 1 || settings.EnableCommands[0] != "execute" {
		t.Fatalf("expected allowlist from flags, got %v", settings.EnableCommands)
	}
}
