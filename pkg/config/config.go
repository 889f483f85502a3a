package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Catalog     CatalogConfig `yaml:"catalog" json:"catalog"`         // Risk pattern tiers
	Gate        GateConfig    `yaml:"gate" json:"gate"`               // Confirmation gate policy
	Sandbox     SandboxConfig `yaml:"sandbox" json:"sandbox"`         // Execution limits
	Storage     StorageConfig `yaml:"storage" json:"storage"`         // Audit persistence
	Web         WebConfig     `yaml:"web" json:"web"`                 // Approval service
	EnableAudit bool          `yaml:"enable_audit" json:"enable_audit"`
	LogLevel    string        `yaml:"log_level" json:"log_level"`
}

// PatternEntry is one catalog pattern. Patterns are literal substrings
// unless Regex is set, so metacharacters in command text cannot change
// their meaning.
type PatternEntry struct {
	Pattern     string `yaml:"pattern" json:"pattern"`
	Regex       bool   `yaml:"regex,omitempty" json:"regex,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// CatalogConfig holds user-supplied pattern tiers. Entries are appended to
// the built-in catalog unless DisableDefaults is set.
type CatalogConfig struct {
	Blocked         []PatternEntry `yaml:"blocked" json:"blocked"`
	High            []PatternEntry `yaml:"high" json:"high"`
	Medium          []PatternEntry `yaml:"medium" json:"medium"`
	Low             []PatternEntry `yaml:"low" json:"low"`
	DisableDefaults bool           `yaml:"disable_defaults" json:"disable_defaults"`
}

// GateConfig controls the confirmation gate
type GateConfig struct {
	// ConfirmationMode enables asking for approval on risky commands (default: true).
	// Disabling it downgrades High-risk commands to auto-approval and is logged
	// as a configuration warning at startup.
	ConfirmationMode bool `yaml:"confirmation_mode" json:"confirmation_mode"`
	// Profile selects gating strictness: "normal" or "paranoid".
	// Paranoid extends confirmation to Medium-risk commands.
	Profile string `yaml:"profile" json:"profile"`
	// ApprovalTimeoutSeconds bounds the wait for a confirmation answer (default: 60).
	// Expiry counts as a denial.
	ApprovalTimeoutSeconds int `yaml:"approval_timeout_seconds" json:"approval_timeout_seconds"`
}

// SandboxConfig holds resource limits applied to every execution
type SandboxConfig struct {
	// TimeoutSeconds is the wall-clock budget per command (default: 30)
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`
	// MaxOutputBytes caps captured stdout and stderr each (default: 10 MiB)
	MaxOutputBytes int64 `yaml:"max_output_bytes" json:"max_output_bytes"`
	// MaxMemoryBytes caps the address space on platforms that support it (default: 512 MiB)
	MaxMemoryBytes int64 `yaml:"max_memory_bytes" json:"max_memory_bytes"`
	// EnvAllowlist lists the only environment variables passed through
	EnvAllowlist []string `yaml:"env_allowlist" json:"env_allowlist"`
	// AllowedRoot confines working directories; empty means the process
	// working directory at startup
	AllowedRoot string `yaml:"allowed_root" json:"allowed_root"`
}

// StorageConfig holds audit persistence configuration
type StorageConfig struct {
	DBType     string `yaml:"db_type" json:"db_type"`         // sqlite, postgres, mariadb, mysql
	DBPath     string `yaml:"db_path" json:"db_path"`         // SQLite file (default: ~/.config/runguard/audit.db)
	DBHost     string `yaml:"db_host" json:"db_host"`         // Database host (postgres/mysql)
	DBPort     int    `yaml:"db_port" json:"db_port"`         // Database port
	DBName     string `yaml:"db_name" json:"db_name"`         // Database name
	DBUser     string `yaml:"db_user" json:"db_user"`         // Database username
	DBPassword string `yaml:"db_password" json:"db_password"` // Database password
	DBSSLMode  string `yaml:"db_ssl_mode" json:"db_ssl_mode"` // SSL mode (postgres)

	// PersistAudit stores audit entries in the database (default: true)
	PersistAudit bool `yaml:"persist_audit" json:"persist_audit"`

	// EnableAuditFile writes the JSON-lines audit stream to a file (default: true).
	// This is the greppable record; the database adds queryability on top.
	EnableAuditFile bool   `yaml:"enable_audit_file" json:"enable_audit_file"`
	AuditFilePath   string `yaml:"audit_file_path" json:"audit_file_path"`

	// AuditRetentionDays prunes database rows older than this (0 = keep forever)
	AuditRetentionDays int `yaml:"audit_retention_days" json:"audit_retention_days"`
}

// WebConfig holds the approval service settings
type WebConfig struct {
	Port              int        `yaml:"port" json:"port"`
	AuthMode          string     `yaml:"auth_mode" json:"auth_mode"` // local, ldap, none
	SessionTTLMinutes int        `yaml:"session_ttl_minutes" json:"session_ttl_minutes"`
	LDAP              LDAPConfig `yaml:"ldap" json:"ldap"`
}

// LDAPConfig configures the LDAP bind auth mode
type LDAPConfig struct {
	URL           string `yaml:"url" json:"url"`                 // ldap://host:389 or ldaps://host:636
	BaseDN        string `yaml:"base_dn" json:"base_dn"`         // e.g. ou=people,dc=example,dc=com
	UserAttribute string `yaml:"user_attribute" json:"user_attribute"` // default: uid
	BindDN        string `yaml:"bind_dn" json:"bind_dn"`         // service account for search (optional)
	BindPassword  string `yaml:"bind_password" json:"-"`         // never exposed in JSON
	AdminGroup    string `yaml:"admin_group" json:"admin_group"` // group DN granting the admin role
	SkipTLSVerify bool   `yaml:"skip_tls_verify" json:"skip_tls_verify"`
}

func GetConfigPath() string {
	return filepath.Join(xdg.ConfigHome, "runguard", "config.yaml")
}

// DefaultDBPath returns the default SQLite database path
func DefaultDBPath() string {
	return filepath.Join(xdg.ConfigHome, "runguard", "audit.db")
}

// DefaultAuditFilePath returns the default JSON-lines audit log path
func DefaultAuditFilePath() string {
	return filepath.Join(xdg.DataHome, "runguard", "audit.jsonl")
}

func NewDefaultConfig() *Config {
	return &Config{
		Catalog: CatalogConfig{
			Blocked: []PatternEntry{},
			High:    []PatternEntry{},
			Medium:  []PatternEntry{},
			Low:     []PatternEntry{},
		},
		Gate: GateConfig{
			ConfirmationMode:       true,
			Profile:                "normal",
			ApprovalTimeoutSeconds: 60,
		},
		Sandbox: SandboxConfig{
			TimeoutSeconds: 30,
			MaxOutputBytes: 10 * 1024 * 1024,
			MaxMemoryBytes: 512 * 1024 * 1024,
			EnvAllowlist:   DefaultEnvAllowlist(),
			AllowedRoot:    "",
		},
		Storage: StorageConfig{
			DBType:             "sqlite",
			DBPath:             "", // Empty means use default: ~/.config/runguard/audit.db
			PersistAudit:       true,
			EnableAuditFile:    true,
			AuditFilePath:      "", // Empty means use default: ~/.local/share/runguard/audit.jsonl
			AuditRetentionDays: 0,  // 0 = keep forever
		},
		Web: WebConfig{
			Port:              8080,
			AuthMode:          "local",
			SessionTTLMinutes: 60,
			LDAP: LDAPConfig{
				UserAttribute: "uid",
			},
		},
		EnableAudit: true,
		LogLevel:    "info",
	}
}

// DefaultEnvAllowlist returns the environment variables passed into the
// sandbox. Everything else, dynamic-linker injection variables included,
// is dropped.
func DefaultEnvAllowlist() []string {
	return []string{"PATH", "HOME", "USERPROFILE", "PWD", "LANG", "TERM", "TMPDIR"}
}

// ApprovalTimeout returns the confirmation wait budget as a duration.
// Non-positive config values fall back to 60 seconds.
func (g GateConfig) ApprovalTimeout() time.Duration {
	seconds := g.ApprovalTimeoutSeconds
	if seconds <= 0 {
		seconds = 60
	}
	return time.Duration(seconds) * time.Second
}

// IsParanoid reports whether the paranoid gating profile is active
func (g GateConfig) IsParanoid() bool {
	return g.Profile == "paranoid"
}

// Timeout returns the sandbox wall-clock budget as a duration
func (s SandboxConfig) Timeout() time.Duration {
	seconds := s.TimeoutSeconds
	if seconds <= 0 {
		seconds = 30
	}
	return time.Duration(seconds) * time.Second
}

// GetEffectiveDBPath returns the effective database path
func (c *Config) GetEffectiveDBPath() string {
	if c.Storage.DBPath != "" {
		return c.Storage.DBPath
	}
	return DefaultDBPath()
}

// GetEffectiveAuditFilePath returns the effective audit file path
func (c *Config) GetEffectiveAuditFilePath() string {
	if c.Storage.AuditFilePath != "" {
		return c.Storage.AuditFilePath
	}
	return DefaultAuditFilePath()
}

// GetEffectiveAllowedRoot resolves the working-directory confinement root.
// An empty setting confines commands to the startup working directory.
func (c *Config) GetEffectiveAllowedRoot() string {
	if c.Sandbox.AllowedRoot != "" {
		return c.Sandbox.AllowedRoot
	}
	wd, err := os.Getwd()
	if err != nil {
		return string(filepath.Separator)
	}
	return wd
}

func LoadConfig() (*Config, error) {
	path := GetConfigPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := NewDefaultConfig()
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		cfg := NewDefaultConfig()
		applyEnvOverrides(cfg)
		return cfg, nil // Fail gracefully to defaults
	}

	cfg := NewDefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg = NewDefaultConfig()
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides applies RUNGUARD_* environment variable overrides.
// Environment variables take precedence over config file values so
// containerized deployments work without a config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RUNGUARD_DB_TYPE"); v != "" {
		cfg.Storage.DBType = v
	}
	if v := os.Getenv("RUNGUARD_DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("RUNGUARD_PROFILE"); v != "" {
		cfg.Gate.Profile = v
	}
	if v := os.Getenv("RUNGUARD_ALLOWED_ROOT"); v != "" {
		cfg.Sandbox.AllowedRoot = v
	}
	if v := os.Getenv("RUNGUARD_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("RUNGUARD_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("RUNGUARD_LDAP_BIND_PASSWORD"); v != "" {
		cfg.Web.LDAP.BindPassword = v
	}
}

func (c *Config) Save() error {
	path := GetConfigPath()
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
