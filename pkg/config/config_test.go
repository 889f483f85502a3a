package config

import (
	"os"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	if cfg == nil {
		t.Fatal("NewDefaultConfig returned nil")
	}

	// Gate defaults
	if !cfg.Gate.ConfirmationMode {
		t.Error("Gate.ConfirmationMode should be true by default")
	}
	if cfg.Gate.Profile != "normal" {
		t.Errorf("Gate.Profile = %s, want normal", cfg.Gate.Profile)
	}
	if cfg.Gate.ApprovalTimeoutSeconds != 60 {
		t.Errorf("Gate.ApprovalTimeoutSeconds = %d, want 60", cfg.Gate.ApprovalTimeoutSeconds)
	}

	// Sandbox defaults
	if cfg.Sandbox.TimeoutSeconds != 30 {
		t.Errorf("Sandbox.TimeoutSeconds = %d, want 30", cfg.Sandbox.TimeoutSeconds)
	}
	if cfg.Sandbox.MaxOutputBytes != 10*1024*1024 {
		t.Errorf("Sandbox.MaxOutputBytes = %d, want 10MiB", cfg.Sandbox.MaxOutputBytes)
	}
	if len(cfg.Sandbox.EnvAllowlist) == 0 {
		t.Error("Sandbox.EnvAllowlist should not be empty by default")
	}

	// Allowlist must carry the minimum the sandbox needs
	var hasPath, hasHome bool
	for _, v := range cfg.Sandbox.EnvAllowlist {
		if v == "PATH" {
			hasPath = true
		}
		if v == "HOME" {
			hasHome = true
		}
	}
	if !hasPath {
		t.Error("EnvAllowlist should include PATH")
	}
	if !hasHome {
		t.Error("EnvAllowlist should include HOME")
	}

	// Storage defaults
	if cfg.Storage.DBType != "sqlite" {
		t.Errorf("Storage.DBType = %s, want sqlite", cfg.Storage.DBType)
	}
	if !cfg.Storage.PersistAudit {
		t.Error("Storage.PersistAudit should be true by default")
	}
	if !cfg.Storage.EnableAuditFile {
		t.Error("Storage.EnableAuditFile should be true by default")
	}
	if cfg.Storage.AuditRetentionDays != 0 {
		t.Errorf("Storage.AuditRetentionDays = %d, want 0 (keep forever)", cfg.Storage.AuditRetentionDays)
	}

	// Other defaults
	if !cfg.EnableAudit {
		t.Error("EnableAudit should be true by default")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %s, want info", cfg.LogLevel)
	}
	if cfg.Web.AuthMode != "local" {
		t.Errorf("Web.AuthMode = %s, want local", cfg.Web.AuthMode)
	}
}

func TestGateConfig_ApprovalTimeout(t *testing.T) {
	tests := []struct {
		name    string
		seconds int
		want    time.Duration
	}{
		{name: "custom timeout", seconds: 30, want: 30 * time.Second},
		{name: "zero falls back to default", seconds: 0, want: 60 * time.Second},
		{name: "negative falls back to default", seconds: -5, want: 60 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := GateConfig{ApprovalTimeoutSeconds: tt.seconds}
			if got := g.ApprovalTimeout(); got != tt.want {
				t.Errorf("ApprovalTimeout() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGateConfig_IsParanoid(t *testing.T) {
	if (GateConfig{Profile: "normal"}).IsParanoid() {
		t.Error("normal profile should not be paranoid")
	}
	if !(GateConfig{Profile: "paranoid"}).IsParanoid() {
		t.Error("paranoid profile should be paranoid")
	}
	if (GateConfig{}).IsParanoid() {
		t.Error("empty profile should not be paranoid")
	}
}

func TestGetEffectivePaths(t *testing.T) {
	cfg := NewDefaultConfig()

	// Defaults resolve to XDG locations
	if cfg.GetEffectiveDBPath() != DefaultDBPath() {
		t.Errorf("GetEffectiveDBPath() = %s, want %s", cfg.GetEffectiveDBPath(), DefaultDBPath())
	}
	if cfg.GetEffectiveAuditFilePath() != DefaultAuditFilePath() {
		t.Errorf("GetEffectiveAuditFilePath() = %s, want %s", cfg.GetEffectiveAuditFilePath(), DefaultAuditFilePath())
	}

	// Explicit settings win
	cfg.Storage.DBPath = "/tmp/custom.db"
	cfg.Storage.AuditFilePath = "/tmp/custom.jsonl"
	if cfg.GetEffectiveDBPath() != "/tmp/custom.db" {
		t.Errorf("GetEffectiveDBPath() = %s, want /tmp/custom.db", cfg.GetEffectiveDBPath())
	}
	if cfg.GetEffectiveAuditFilePath() != "/tmp/custom.jsonl" {
		t.Errorf("GetEffectiveAuditFilePath() = %s, want /tmp/custom.jsonl", cfg.GetEffectiveAuditFilePath())
	}
}

func TestGetEffectiveAllowedRoot(t *testing.T) {
	cfg := NewDefaultConfig()

	cfg.Sandbox.AllowedRoot = "/srv/jobs"
	if got := cfg.GetEffectiveAllowedRoot(); got != "/srv/jobs" {
		t.Errorf("GetEffectiveAllowedRoot() = %s, want /srv/jobs", got)
	}

	// Empty setting confines to the current working directory
	cfg.Sandbox.AllowedRoot = ""
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if got := cfg.GetEffectiveAllowedRoot(); got != wd {
		t.Errorf("GetEffectiveAllowedRoot() = %s, want %s", got, wd)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("RUNGUARD_DB_TYPE", "postgres")
	t.Setenv("RUNGUARD_PROFILE", "paranoid")
	t.Setenv("RUNGUARD_WEB_PORT", "9443")
	t.Setenv("RUNGUARD_LOG_LEVEL", "debug")

	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Storage.DBType != "postgres" {
		t.Errorf("Storage.DBType = %s, want postgres", cfg.Storage.DBType)
	}
	if cfg.Gate.Profile != "paranoid" {
		t.Errorf("Gate.Profile = %s, want paranoid", cfg.Gate.Profile)
	}
	if cfg.Web.Port != 9443 {
		t.Errorf("Web.Port = %d, want 9443", cfg.Web.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %s, want debug", cfg.LogLevel)
	}
}

func TestApplyEnvOverrides_InvalidPort(t *testing.T) {
	t.Setenv("RUNGUARD_WEB_PORT", "not-a-port")

	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Web.Port != 8080 {
		t.Errorf("Web.Port = %d, want 8080 (invalid override ignored)", cfg.Web.Port)
	}
}

func TestConfigYAMLRoundTrip(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Catalog.Blocked = []PatternEntry{
		{Pattern: "rm -rf /var/lib", Description: "state wipe"},
		{Pattern: `curl\s+.*\|\s*sh`, Regex: true, Description: "fetch piped to shell"},
	}
	cfg.Gate.Profile = "paranoid"
	cfg.Sandbox.AllowedRoot = "/srv/jobs"

	data, err := yaml.Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	loaded := NewDefaultConfig()
	if err := yaml.Unmarshal(data, loaded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if len(loaded.Catalog.Blocked) != 2 {
		t.Fatalf("len(Catalog.Blocked) = %d, want 2", len(loaded.Catalog.Blocked))
	}
	if !loaded.Catalog.Blocked[1].Regex {
		t.Error("regex flag lost in round trip")
	}
	if loaded.Gate.Profile != "paranoid" {
		t.Errorf("Gate.Profile = %s, want paranoid", loaded.Gate.Profile)
	}
	if loaded.Sandbox.AllowedRoot != "/srv/jobs" {
		t.Errorf("Sandbox.AllowedRoot = %s, want /srv/jobs", loaded.Sandbox.AllowedRoot)
	}
}

func TestLoadConfigMissingFileFallsBack(t *testing.T) {
	// Point XDG at an empty directory so no config file is found
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)

	// Note: xdg caches its paths at init, so LoadConfig may still read the
	// real location; what matters is that a missing file yields defaults
	// without an error.
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg == nil {
		t.Fatal("LoadConfig returned nil config")
	}
	if cfg.Storage.DBType == "" {
		t.Error("expected defaults to be populated")
	}
}
