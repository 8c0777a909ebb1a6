// Package config loads the process configuration from CLI flags,
// environment variables, and defaults (spec §6.3).
//
// Precedence (highest to lowest): CLI flag > environment variable
// (NETWALL_*) > default. There is no configuration file — the CLI
// surface is the one named in spec §6.3 and nothing more; this mirrors
// the teacher's pkg/config viper/mapstructure idiom but drops the
// YAML-file layer, since the spec names only flags and their
// environment equivalents.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/matnordlund/netwall-flow-analyzer/internal/bytesize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var validate = validator.New()

// YearMode controls C1's year-inference behaviour for timestamps with no
// year (spec §4.1, §9).
type YearMode string

const (
	YearModeCurrent  YearMode = "current"
	YearModePrevious YearMode = "previous"
	YearModeAuto     YearMode = "auto"
)

// ClassificationPrecedence controls which field C11/C9 consult first
// when both zone and interface are present on an event (spec §4.11).
type ClassificationPrecedence string

const (
	ZoneFirst      ClassificationPrecedence = "zone_first"
	InterfaceFirst ClassificationPrecedence = "interface_first"
)

// Config is the complete process configuration (spec §6.3).
type Config struct {
	WebHost      string `mapstructure:"web_host"`
	WebPort      int    `mapstructure:"web_port" validate:"min=1,max=65535"`
	SyslogHost   string `mapstructure:"syslog_host"`
	SyslogPort   int    `mapstructure:"syslog_port" validate:"min=1,max=65535"`
	DatabaseURL  string `mapstructure:"database_url" validate:"required"`

	ServeFrontend bool   `mapstructure:"serve_frontend"`
	FrontendDir   string `mapstructure:"frontend_dir"`

	LogLevel string `mapstructure:"log_level"`

	YearMode                 YearMode                  `mapstructure:"year_mode" validate:"oneof=current previous auto"`
	ClassificationPrecedence ClassificationPrecedence `mapstructure:"classification_precedence" validate:"oneof=zone_first interface_first"`

	// Ambient tuning knobs not named directly by a CLI flag in §6.3, but
	// referenced by §5/§4.8's resource limits; these only have env/default
	// sources (NETWALL_MAX_UPLOAD_SIZE, NETWALL_INGEST_CONSUMERS).
	MaxUploadSize bytesize.ByteSize `mapstructure:"max_upload_size"`
	IngestConsumers int             `mapstructure:"ingest_consumers"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	UploadDir       string          `mapstructure:"upload_dir"`
}

// ApplyDefaults fills in the zero-value fields of a Config with the
// spec's defaults.
func ApplyDefaults(c *Config) {
	if c.WebHost == "" {
		c.WebHost = "0.0.0.0"
	}
	if c.WebPort == 0 {
		c.WebPort = 8080
	}
	if c.SyslogHost == "" {
		c.SyslogHost = "0.0.0.0"
	}
	if c.SyslogPort == 0 {
		c.SyslogPort = 514
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.YearMode == "" {
		c.YearMode = YearModeAuto
	}
	if c.ClassificationPrecedence == "" {
		c.ClassificationPrecedence = ZoneFirst
	}
	if c.MaxUploadSize == 0 {
		c.MaxUploadSize = 1 * bytesize.GiB
	}
	if c.IngestConsumers == 0 {
		c.IngestConsumers = 4
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.UploadDir == "" {
		c.UploadDir = "/var/lib/netwall-flowd/uploads"
	}
}

// Validate checks that a loaded Config satisfies the spec's constraints.
// Field-level checks (ranges, required, enum membership) run through
// go-playground/validator, the teacher's own config-validation library;
// the one cross-field rule (frontend_dir required when serve_frontend is
// set) isn't expressible as a struct tag without wiring a second
// validator field, so it stays a plain check below.
func Validate(c *Config) error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.ServeFrontend && c.FrontendDir == "" {
		return fmt.Errorf("frontend_dir is required when serve_frontend is set")
	}
	return nil
}

// BindFlags registers the spec §6.3 flags on cmd and binds them into v so
// that an explicitly-set flag always wins over its NETWALL_* environment
// equivalent (viper's built-in precedence: flag > env > default, which is
// exactly the "environment equivalents ... must not override CLI" rule).
func BindFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := cmd.Flags()
	flags.String("web-host", "0.0.0.0", "HTTP API bind host")
	flags.Int("web-port", 8080, "HTTP API bind port")
	flags.String("syslog-host", "0.0.0.0", "UDP syslog bind host")
	flags.Int("syslog-port", 514, "UDP syslog bind port")
	flags.String("database-url", "", "database connection string (postgres://... or sqlite:///path)")
	flags.Bool("serve-frontend", false, "serve the static frontend bundle")
	flags.String("frontend-dir", "", "path to the frontend static asset bundle")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("year-mode", string(YearModeAuto), "year inference mode: current, previous, auto")
	flags.String("classification-precedence", string(ZoneFirst), "zone_first or interface_first")

	bindings := map[string]string{
		"web_host":                  "web-host",
		"web_port":                  "web-port",
		"syslog_host":               "syslog-host",
		"syslog_port":               "syslog-port",
		"database_url":              "database-url",
		"serve_frontend":            "serve-frontend",
		"frontend_dir":              "frontend-dir",
		"log_level":                 "log-level",
		"year_mode":                 "year-mode",
		"classification_precedence": "classification-precedence",
	}
	for key, flag := range bindings {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	return nil
}

// Load builds a Viper instance with the NETWALL_ environment prefix,
// binds cmd's flags via BindFlags, unmarshals into a Config, applies
// defaults, and validates the result.
func Load(cmd *cobra.Command) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NETWALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{"max_upload_size", "ingest_consumers"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := BindFlags(cmd, v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}
