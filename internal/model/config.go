// Package model holds the application configuration.
package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ServerConfig locates one IMAP or SMTP server.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host" validate:"required,hostname|ip"`
	Port int    `mapstructure:"port" yaml:"port" validate:"min=0,max=65535"`

	// TLS selects implicit TLS; otherwise STARTTLS is used.
	TLS bool `mapstructure:"tls" yaml:"tls"`
}

// AccountConfig holds the configuration for a single mailbox.
type AccountConfig struct {
	// ID is the unique identifier for this account.
	ID string `mapstructure:"id" yaml:"id" validate:"required"`

	// Email is the mailbox address commands are sent from.
	Email string `mapstructure:"email" yaml:"email" validate:"required,email"`

	IMAP ServerConfig `mapstructure:"imap" yaml:"imap"`
	SMTP ServerConfig `mapstructure:"smtp" yaml:"smtp"`

	// Username is the login name; it defaults to Email.
	Username string `mapstructure:"username" yaml:"username"`

	// ServiceAddress overrides filterctl@<domain of Email>.
	ServiceAddress string `mapstructure:"service_address" yaml:"service_address" validate:"omitempty,email"`

	// PollInterval is how often the inbox is checked for replies.
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval" validate:"min=0"`
}

// RPCConfig tunes the email request/reply controller.
type RPCConfig struct {
	// RequestTimeout bounds every request; zero disables the timer.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout" validate:"min=0"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval" validate:"gt=0"`
	ReplyWindow    time.Duration `mapstructure:"reply_window" yaml:"reply_window" validate:"gt=0"`
	DedupRetention time.Duration `mapstructure:"dedup_retention" yaml:"dedup_retention" validate:"gt=0"`
	AutoDelete     bool          `mapstructure:"auto_delete" yaml:"auto_delete"`
}

// StorageConfig locates the snapshot database.
type StorageConfig struct {
	Path string `mapstructure:"path" yaml:"path" validate:"required"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level     string `mapstructure:"level" yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format    string `mapstructure:"format" yaml:"format" validate:"omitempty,oneof=text json"`
	Output    string `mapstructure:"output" yaml:"output"`
	AddSource bool   `mapstructure:"add_source" yaml:"add_source"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Accounts []AccountConfig `mapstructure:"accounts" yaml:"accounts" validate:"dive"`
	RPC      RPCConfig       `mapstructure:"rpc" yaml:"rpc"`
	Storage  StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Logging  LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

// Account returns the account with the given id.
func (c *AppConfig) Account(id string) (AccountConfig, bool) {
	for _, a := range c.Accounts {
		if a.ID == id {
			return a, true
		}
	}
	return AccountConfig{}, false
}

var validate = validator.New()

// Validate checks field constraints and account id uniqueness, reporting
// every problem at once.
func (c *AppConfig) Validate() error {
	var errs []error

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			errs = append(errs, fmt.Errorf("%s: failed %q validation", fe.Namespace(), fe.Tag()))
		}
	}

	seen := make(map[string]bool, len(c.Accounts))
	for _, a := range c.Accounts {
		if seen[a.ID] {
			errs = append(errs, fmt.Errorf("duplicate account id %q", a.ID))
		}
		seen[a.ID] = true
	}

	return errors.Join(errs...)
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/filterctl/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// DefaultStoragePath returns the default snapshot database path.
func DefaultStoragePath() string {
	return filepath.Join(configDir(), "state.db")
}

func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "filterctl")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("rpc.request_timeout", 60*time.Second)
	v.SetDefault("rpc.sweep_interval", time.Second)
	v.SetDefault("rpc.reply_window", 60*time.Second)
	v.SetDefault("rpc.dedup_retention", 10*time.Minute)
	v.SetDefault("rpc.auto_delete", true)

	v.SetDefault("storage.path", DefaultStoragePath())

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.add_source", false)
}

// LoadConfig reads configuration from the given YAML file path using Viper,
// applies FILTERCTL_* environment overrides and validates the result.
// A missing file yields the defaults.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	setDefaults(v)

	v.SetEnvPrefix("FILTERCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	// Apply defaults for each account entry.
	for i := range cfg.Accounts {
		applyAccountDefaults(&cfg.Accounts[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func applyAccountDefaults(a *AccountConfig) {
	if a.Username == "" {
		a.Username = a.Email
	}
	if a.PollInterval == 0 {
		a.PollInterval = 30 * time.Second
	}
	if a.IMAP.Port == 0 {
		a.IMAP.Port = 143
		if a.IMAP.TLS {
			a.IMAP.Port = 993
		}
	}
	if a.SMTP.Port == 0 {
		a.SMTP.Port = 587
		if a.SMTP.TLS {
			a.SMTP.Port = 465
		}
	}
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("accounts", accountMaps(cfg.Accounts))
	v.Set("rpc", map[string]any{
		"request_timeout": cfg.RPC.RequestTimeout.String(),
		"sweep_interval":  cfg.RPC.SweepInterval.String(),
		"reply_window":    cfg.RPC.ReplyWindow.String(),
		"dedup_retention": cfg.RPC.DedupRetention.String(),
		"auto_delete":     cfg.RPC.AutoDelete,
	})
	v.Set("storage", map[string]any{"path": cfg.Storage.Path})
	v.Set("logging", map[string]any{
		"level":      cfg.Logging.Level,
		"format":     cfg.Logging.Format,
		"output":     cfg.Logging.Output,
		"add_source": cfg.Logging.AddSource,
	})

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}

func accountMaps(accounts []AccountConfig) []map[string]any {
	out := make([]map[string]any, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, map[string]any{
			"id":              a.ID,
			"email":           a.Email,
			"username":        a.Username,
			"service_address": a.ServiceAddress,
			"poll_interval":   a.PollInterval.String(),
			"imap":            map[string]any{"host": a.IMAP.Host, "port": a.IMAP.Port, "tls": a.IMAP.TLS},
			"smtp":            map[string]any{"host": a.SMTP.Host, "port": a.SMTP.Port, "tls": a.SMTP.TLS},
		})
	}
	return out
}
