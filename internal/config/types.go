// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// LogLevelDebug logs everything including resolution hops.
	LogLevelDebug LogLevel = "debug"
	// LogLevelInfo is the default level.
	LogLevelInfo LogLevel = "info"
	// LogLevelWarn logs security-policy notices and degraded storage.
	LogLevelWarn LogLevel = "warn"
	// LogLevelError logs failures only.
	LogLevelError LogLevel = "error"

	// LogFormatText is human-readable output.
	LogFormatText LogFormat = "text"
	// LogFormatJSON emits one JSON object per line.
	LogFormatJSON LogFormat = "json"
	// LogFormatLogfmt emits key=value pairs.
	LogFormatLogfmt LogFormat = "logfmt"

	// MaxCredentialSecrets is the number of host secrets mixed into the credential key.
	MaxCredentialSecrets = 4

	redactedValue = "<redacted>"
)

var (
	// ErrInvalidLogLevel is returned when a LogLevel value is not recognized.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidLogFormat is returned when a LogFormat value is not recognized.
	ErrInvalidLogFormat = errors.New("invalid log format")
	// ErrInvalidDuration is returned for negative or zero timeouts.
	ErrInvalidDuration = errors.New("invalid duration")
	// ErrTooManySecrets is returned when more than MaxCredentialSecrets are configured.
	ErrTooManySecrets = errors.New("too many credential secrets")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// LogLevel is the minimum level written by the logger.
	LogLevel string

	// LogFormat selects the log line encoding.
	LogFormat string

	// Duration is a time.Duration that reads and writes as "30s"-style text.
	Duration time.Duration

	// InvalidConfigError collects field-level validation errors.
	// It wraps ErrInvalidConfig for errors.Is() compatibility.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the application configuration.
	Config struct {
		// Repository is the release source, "owner/name" or a GitHub URL.
		Repository string `json:"repository" toml:"repository" mapstructure:"repository"`
		// AssetPrefix is the archive name without its .zip extension.
		AssetPrefix string `json:"asset_prefix" toml:"asset_prefix" mapstructure:"asset_prefix"`
		// CurrentVersion is the installed version compared against releases.
		CurrentVersion string `json:"current_version" toml:"current_version" mapstructure:"current_version"`
		// IncludePrereleases opts into the pre-release channel.
		IncludePrereleases bool `json:"include_prereleases" toml:"include_prereleases" mapstructure:"include_prereleases"`
		// APIBaseURL overrides https://api.github.com, e.g. for GitHub Enterprise.
		APIBaseURL string `json:"api_base_url" toml:"api_base_url" mapstructure:"api_base_url"`
		// DataDir holds the option store and downloaded archives.
		DataDir string `json:"data_dir" toml:"data_dir" mapstructure:"data_dir"`
		// HTTP configures timeouts and request pacing.
		HTTP HTTPConfig `json:"http" toml:"http" mapstructure:"http"`
		// Log configures the structured logger.
		Log LogConfig `json:"log" toml:"log" mapstructure:"log"`
		// Install configures where archives are extracted.
		Install InstallConfig `json:"install" toml:"install" mapstructure:"install"`
		// Credential configures the key material for the stored credential.
		Credential CredentialConfig `json:"credential" toml:"credential" mapstructure:"credential"`
		// Instances declares additional installations by id.
		Instances map[string]InstanceConfig `json:"instances" toml:"instances" mapstructure:"instances"`
	}

	// HTTPConfig configures the GitHub client and artifact downloads.
	HTTPConfig struct {
		APITimeout      Duration `json:"api_timeout" toml:"api_timeout" mapstructure:"api_timeout"`
		DownloadTimeout Duration `json:"download_timeout" toml:"download_timeout" mapstructure:"download_timeout"`
		// RequestsPerSecond paces API calls; 0 disables pacing.
		RequestsPerSecond float64 `json:"requests_per_second" toml:"requests_per_second" mapstructure:"requests_per_second"`
		UserAgent         string  `json:"user_agent" toml:"user_agent" mapstructure:"user_agent"`
	}

	// LogConfig configures logging.
	LogConfig struct {
		Level  LogLevel  `json:"level" toml:"level" mapstructure:"level"`
		Format LogFormat `json:"format" toml:"format" mapstructure:"format"`
	}

	// InstallConfig configures the zip installer.
	InstallConfig struct {
		TargetDir       string `json:"target_dir" toml:"target_dir" mapstructure:"target_dir"`
		StripSingleRoot bool   `json:"strip_single_root" toml:"strip_single_root" mapstructure:"strip_single_root"`
	}

	// CredentialConfig holds the host secrets that derive the credential key.
	CredentialConfig struct {
		Secrets []string `json:"secrets" toml:"secrets" mapstructure:"secrets"`
		Salt    string   `json:"salt" toml:"salt" mapstructure:"salt"`
	}

	// InstanceConfig declares one additional installation.
	InstanceConfig struct {
		Repository         string `json:"repository" toml:"repository" mapstructure:"repository"`
		AssetPrefix        string `json:"asset_prefix" toml:"asset_prefix" mapstructure:"asset_prefix"`
		CurrentVersion     string `json:"current_version" toml:"current_version" mapstructure:"current_version"`
		IncludePrereleases bool   `json:"include_prereleases" toml:"include_prereleases" mapstructure:"include_prereleases"`
		APIBaseURL         string `json:"api_base_url,omitempty" toml:"api_base_url,omitempty" mapstructure:"api_base_url"`
	}
)

// String returns the string representation of the LogLevel.
func (l LogLevel) String() string { return string(l) }

// Validate returns an error wrapping ErrInvalidLogLevel for unknown levels.
func (l LogLevel) Validate() error {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return nil
	default:
		return fmt.Errorf("%w: %q (valid: debug, info, warn, error)", ErrInvalidLogLevel, string(l))
	}
}

// String returns the string representation of the LogFormat.
func (f LogFormat) String() string { return string(f) }

// Validate returns an error wrapping ErrInvalidLogFormat for unknown formats.
func (f LogFormat) Validate() error {
	switch f {
	case LogFormatText, LogFormatJSON, LogFormatLogfmt:
		return nil
	default:
		return fmt.Errorf("%w: %q (valid: text, json, logfmt)", ErrInvalidLogFormat, string(f))
	}
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// String formats the duration like time.Duration.
func (d Duration) String() string { return time.Duration(d).String() }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDuration, err)
	}
	*d = Duration(parsed)
	return nil
}

// Validate checks constraints CUE cannot express across fields.
func (c Config) Validate() error {
	var errs []error
	if err := c.Log.Level.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Log.Format.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.HTTP.APITimeout <= 0 {
		errs = append(errs, fmt.Errorf("%w: http.api_timeout must be positive", ErrInvalidDuration))
	}
	if c.HTTP.DownloadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%w: http.download_timeout must be positive", ErrInvalidDuration))
	}
	if c.HTTP.DownloadTimeout < c.HTTP.APITimeout {
		errs = append(errs, fmt.Errorf("%w: http.download_timeout must not be shorter than http.api_timeout", ErrInvalidDuration))
	}
	if n := len(c.Credential.Secrets); n > MaxCredentialSecrets {
		errs = append(errs, fmt.Errorf("%w: %d configured, at most %d", ErrTooManySecrets, n, MaxCredentialSecrets))
	}
	if len(errs) > 0 {
		return &InvalidConfigError{FieldErrors: errs}
	}
	return nil
}

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	msgs := make([]string, len(e.FieldErrors))
	for i, err := range e.FieldErrors {
		msgs[i] = err.Error()
	}
	return "invalid config: " + strings.Join(msgs, "; ")
}

// Unwrap returns ErrInvalidConfig and the field errors for errors.Is() compatibility.
func (e *InvalidConfigError) Unwrap() []error {
	return append([]error{ErrInvalidConfig}, e.FieldErrors...)
}

// Redacted returns a copy safe to print: credential secrets and salt are masked.
func (c Config) Redacted() Config {
	out := c
	if len(c.Credential.Secrets) > 0 {
		out.Credential.Secrets = make([]string, len(c.Credential.Secrets))
		for i := range out.Credential.Secrets {
			out.Credential.Secrets[i] = redactedValue
		}
	}
	if c.Credential.Salt != "" {
		out.Credential.Salt = redactedValue
	}
	return out
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			APITimeout:        Duration(30 * time.Second),
			DownloadTimeout:   Duration(5 * time.Minute),
			RequestsPerSecond: 5,
		},
		Log: LogConfig{
			Level:  LogLevelInfo,
			Format: LogFormatText,
		},
		Install: InstallConfig{
			StripSingleRoot: true,
		},
		Credential: CredentialConfig{
			Secrets: []string{},
		},
		Instances: map[string]InstanceConfig{},
	}
}
