package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	ModeDryRun = "dry-run"
	ModeLive   = "live"

	DefaultRetentionDays    = 90
	DefaultMaxRows          = 200000
	DefaultSensitivePattern = `(?i)\b[STFG]\d{7}[A-Z]\b`
)

type Config struct {
	// Run behaviour
	Mode             string `toml:"mode"`
	CCManagers       bool   `toml:"cc_managers"`
	UseDirectory     bool   `toml:"use_directory"`
	Workers          int    `toml:"workers"`
	SendRatePerMin   int    `toml:"send_rate_per_minute"`
	TemplatePath     string `toml:"template_path"`
	Subject          string `toml:"subject"`
	SenderID         string `toml:"sender_id"`
	DefaultSender    string `toml:"default_sender_name"`
	RetentionDays    int    `toml:"retention_days"`
	MaxRows          int    `toml:"max_rows"`
	SensitivePattern string `toml:"sensitive_pattern"`

	// Identity
	AuthMode       string   `toml:"auth_mode"`
	ActorName      string   `toml:"actor_name"`
	ActorEmail     string   `toml:"actor_email"`
	AllowedDomains []string `toml:"allowed_domains"`

	// Graph (directory + mail)
	GraphBaseURL      string `toml:"graph_base_url"`
	GraphTenantID     string `toml:"graph_tenant_id"`
	GraphClientID     string `toml:"graph_client_id"`
	GraphClientSecret string `toml:"graph_client_secret"`
	GraphToken        string `toml:"graph_token"`

	// Audit store; empty DSN keeps the log in memory.
	DatabaseURL string `toml:"database_url"`

	// Observability
	LogLevel     string `toml:"log_level"`
	LogFormat    string `toml:"log_format"`
	OTLPEndpoint string `toml:"otlp_endpoint"`

	// SFTP
	SFTPHost                  string `toml:"sftp_host"`
	SFTPPort                  int    `toml:"sftp_port"`
	SFTPUser                  string `toml:"sftp_user"`
	SFTPPass                  string `toml:"sftp_pass"`
	SFTPDir                   string `toml:"sftp_dir"`
	SFTPInsecureIgnoreHostKey bool   `toml:"sftp_insecure_ignore_hostkey"`
	SFTPKnownHosts            string `toml:"sftp_known_hosts"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Mode:             ModeDryRun,
		Workers:          4,
		SendRatePerMin:   120,
		Subject:          "Reminder: outstanding mandatory training",
		SenderID:         "me",
		DefaultSender:    "Compliance Team",
		RetentionDays:    DefaultRetentionDays,
		MaxRows:          DefaultMaxRows,
		SensitivePattern: DefaultSensitivePattern,
		AuthMode:         "demo",
		GraphBaseURL:     "https://graph.microsoft.com/v1.0",
		LogLevel:         "info",
		LogFormat:        "json",
		SFTPPort:         22,
		SFTPDir:          "/inbound",
	}
}

// Load builds the configuration from defaults, an optional TOML file and the
// environment, in that order of precedence (environment wins).
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path == "" {
		path = os.Getenv("COMPLY_CONFIG")
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Mode = getenv("COMPLY_MODE", cfg.Mode)
	cfg.CCManagers = getenvBool("COMPLY_CC_MANAGERS", cfg.CCManagers)
	cfg.UseDirectory = getenvBool("COMPLY_USE_DIRECTORY", cfg.UseDirectory)
	cfg.Workers = getenvInt("COMPLY_WORKERS", cfg.Workers)
	cfg.SendRatePerMin = getenvInt("COMPLY_SEND_RATE_PER_MINUTE", cfg.SendRatePerMin)
	cfg.TemplatePath = getenv("COMPLY_TEMPLATE_PATH", cfg.TemplatePath)
	cfg.Subject = getenv("COMPLY_SUBJECT", cfg.Subject)
	cfg.SenderID = getenv("COMPLY_SENDER_ID", cfg.SenderID)
	cfg.RetentionDays = getenvInt("RETENTION_DAYS", cfg.RetentionDays)
	cfg.MaxRows = getenvInt("COMPLY_MAX_ROWS", cfg.MaxRows)
	cfg.SensitivePattern = getenv("COMPLY_SENSITIVE_PATTERN", cfg.SensitivePattern)

	cfg.AuthMode = strings.ToLower(getenv("AUTH_MODE", cfg.AuthMode))
	cfg.ActorName = getenv("COMPLY_ACTOR_NAME", cfg.ActorName)
	cfg.ActorEmail = getenv("COMPLY_ACTOR_EMAIL", cfg.ActorEmail)
	if v := os.Getenv("ALLOWED_EMAIL_DOMAINS"); v != "" {
		cfg.AllowedDomains = splitList(v)
	}

	cfg.GraphBaseURL = getenv("GRAPH_BASE_URL", cfg.GraphBaseURL)
	cfg.GraphTenantID = getenv("AZURE_TENANT_ID", cfg.GraphTenantID)
	cfg.GraphClientID = getenv("AZURE_CLIENT_ID", cfg.GraphClientID)
	cfg.GraphClientSecret = getenv("AZURE_CLIENT_SECRET", cfg.GraphClientSecret)
	cfg.GraphToken = getenv("GRAPH_TOKEN", cfg.GraphToken)

	cfg.DatabaseURL = getenv("DATABASE_URL", cfg.DatabaseURL)

	cfg.LogLevel = getenv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getenv("LOG_FORMAT", cfg.LogFormat)
	cfg.OTLPEndpoint = getenv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint)

	cfg.SFTPHost = getenv("SFTP_HOST", cfg.SFTPHost)
	cfg.SFTPPort = getenvInt("SFTP_PORT", cfg.SFTPPort)
	cfg.SFTPUser = getenv("SFTP_USER", cfg.SFTPUser)
	cfg.SFTPPass = getenv("SFTP_PASS", cfg.SFTPPass)
	cfg.SFTPDir = getenv("SFTP_DIR", cfg.SFTPDir)
	cfg.SFTPInsecureIgnoreHostKey = getenvBool("SFTP_INSECURE_IGNORE_HOSTKEY", cfg.SFTPInsecureIgnoreHostKey)
	cfg.SFTPKnownHosts = getenv("SFTP_KNOWN_HOSTS", cfg.SFTPKnownHosts)
}

// Validate rejects values the pipeline cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Mode != ModeDryRun && c.Mode != ModeLive {
		errs = append(errs, fmt.Errorf("config: unknown mode %q (want %s or %s)", c.Mode, ModeDryRun, ModeLive))
	}
	if c.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("config: retention_days must be >= 0, got %d", c.RetentionDays))
	}
	if c.MaxRows <= 0 {
		errs = append(errs, fmt.Errorf("config: max_rows must be > 0, got %d", c.MaxRows))
	}
	if c.Workers <= 0 {
		errs = append(errs, fmt.Errorf("config: workers must be > 0, got %d", c.Workers))
	}
	switch c.AuthMode {
	case "demo", "easyauth", "static":
	default:
		errs = append(errs, fmt.Errorf("config: unknown auth_mode %q", c.AuthMode))
	}
	return errors.Join(errs...)
}

// DryRun reports whether the run must not send anything.
func (c Config) DryRun() bool {
	return c.Mode != ModeLive
}

// GraphConfigured reports whether credentials for the live directory and
// mailer are present.
func (c Config) GraphConfigured() bool {
	if c.GraphToken != "" {
		return true
	}
	return c.GraphTenantID != "" && c.GraphClientID != "" && c.GraphClientSecret != ""
}

func getenv(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

func getenvBool(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
