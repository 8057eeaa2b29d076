// settings.go: Runtime settings from defaults, environment and flags
//
// Settings describe the collaborators of an Env. They can be loaded from
// DTO_* environment variables or parsed from command-line flags, where
// flash-flags also honours the same variables through its env prefix.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package dto

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	flashflags "github.com/agilira/flash-flags"
	"github.com/agilira/go-errors"
	"github.com/viant/tagly/format/text"
)

// EnvPrefix is the prefix of environment variables read by settings.
const EnvPrefix = "DTO"

// Settings configures the collaborators created by NewEnv.
type Settings struct {
	// AppKey enables AES encryption when set
	AppKey string

	DateFormat string

	// CaseFormat names the default key case, for example "lc" or "lu"
	CaseFormat string

	Audit AuditConfig
	Fetch FetchOptions

	// Cache enables the in-memory cache
	Cache bool
}

// WithDefaults returns a copy with every unset field filled in.
func (s Settings) WithDefaults() Settings {
	if s.DateFormat == "" {
		s.DateFormat = DefaultDateFormat
	}
	defaults := DefaultAuditConfig()
	if s.Audit.BufferSize <= 0 {
		s.Audit.BufferSize = defaults.BufferSize
	}
	if s.Audit.FlushInterval <= 0 {
		s.Audit.FlushInterval = defaults.FlushInterval
	}
	fetch := DefaultFetchOptions()
	if s.Fetch.Timeout <= 0 {
		s.Fetch.Timeout = fetch.Timeout
	}
	if s.Fetch.RetryDelay <= 0 {
		s.Fetch.RetryDelay = fetch.RetryDelay
	}
	if s.Fetch.Headers == nil {
		s.Fetch.Headers = map[string]string{}
	}
	return s
}

// Validate checks the settings, returning the first problem found.
func (s Settings) Validate() error {
	if s.DateFormat != "" {
		reference := time.Date(2006, time.January, 2, 15, 4, 5, 0, time.UTC)
		if _, err := time.Parse(s.DateFormat, reference.Format(s.DateFormat)); err != nil {
			return errors.Wrap(err, ErrCodeInvalidConfig, fmt.Sprintf("date format %q does not round-trip", s.DateFormat))
		}
	}
	if s.CaseFormat != "" && !text.NewCaseFormat(s.CaseFormat).IsDefined() {
		return errors.New(ErrCodeInvalidConfig, fmt.Sprintf("unknown case format %q", s.CaseFormat))
	}
	if s.Fetch.RetryAttempts < 0 {
		return errors.New(ErrCodeInvalidConfig, "fetch retry attempts must not be negative")
	}
	if s.Fetch.Timeout < 0 || s.Fetch.RetryDelay < 0 {
		return errors.New(ErrCodeInvalidConfig, "fetch durations must not be negative")
	}
	if s.Audit.Enabled && s.Audit.BufferSize <= 0 {
		return errors.New(ErrCodeInvalidConfig, "audit buffer size must be positive")
	}
	return nil
}

// LoadSettingsFromEnv reads DTO_* variables on top of the defaults.
func LoadSettingsFromEnv() (Settings, error) {
	s := Settings{}.WithDefaults()
	s.AppKey = GetEnvWithDefault(settingsVar("APP_KEY"), s.AppKey)
	s.DateFormat = GetEnvWithDefault(settingsVar("DATE_FORMAT"), s.DateFormat)
	s.CaseFormat = GetEnvWithDefault(settingsVar("CASE_FORMAT"), s.CaseFormat)
	s.Cache = GetEnvBoolWithDefault(settingsVar("CACHE"), s.Cache)

	s.Audit.Enabled = GetEnvBoolWithDefault(settingsVar("AUDIT_ENABLED"), s.Audit.Enabled)
	s.Audit.OutputFile = GetEnvWithDefault(settingsVar("AUDIT_OUTPUT_FILE"), s.Audit.OutputFile)
	s.Audit.BufferSize = GetEnvIntWithDefault(settingsVar("AUDIT_BUFFER_SIZE"), s.Audit.BufferSize)
	s.Audit.FlushInterval = GetEnvDurationWithDefault(settingsVar("AUDIT_FLUSH_INTERVAL"), s.Audit.FlushInterval)
	if level := os.Getenv(settingsVar("AUDIT_MIN_LEVEL")); level != "" {
		parsed, ok := ParseAuditLevel(level)
		if !ok {
			return s, errors.New(ErrCodeInvalidConfig, fmt.Sprintf("invalid audit level %q", level))
		}
		s.Audit.MinLevel = parsed
	}

	s.Fetch.Timeout = GetEnvDurationWithDefault(settingsVar("FETCH_TIMEOUT"), s.Fetch.Timeout)
	s.Fetch.RetryAttempts = GetEnvIntWithDefault(settingsVar("FETCH_RETRIES"), s.Fetch.RetryAttempts)
	s.Fetch.RetryDelay = GetEnvDurationWithDefault(settingsVar("FETCH_RETRY_DELAY"), s.Fetch.RetryDelay)

	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// ParseSettings parses command-line flags. Unset flags fall back to DTO_*
// variables and then to the defaults.
func ParseSettings(name string, args []string) (Settings, error) {
	defaults := Settings{}.WithDefaults()
	fetch := DefaultFetchOptions()

	fs := flashflags.New(name)
	fs.SetDescription("DTO runtime settings")
	fs.SetEnvPrefix(EnvPrefix)
	fs.String("app-key", "", "Key used to encrypt protected properties")
	fs.String("date-format", defaults.DateFormat, "Go layout used for time values")
	fs.String("case-format", "", "Default key case (lc, uc, lu, uu)")
	fs.Bool("cache", false, "Enable the in-memory cache")
	fs.Bool("audit-enabled", false, "Forward instance logs to the audit trail")
	fs.String("audit-output-file", "", "Audit file (.db for SQLite, .jsonl for JSON lines)")
	fs.String("audit-min-level", "INFO", "Lowest audit level recorded")
	fs.Int("audit-buffer-size", defaults.Audit.BufferSize, "Events buffered before a flush")
	fs.Duration("audit-flush-interval", defaults.Audit.FlushInterval, "Background flush interval")
	fs.Duration("fetch-timeout", fetch.Timeout, "Timeout of remote fetches")
	fs.Int("fetch-retries", fetch.RetryAttempts, "Retries after a failed fetch")
	fs.Duration("fetch-retry-delay", fetch.RetryDelay, "Delay between fetch retries")

	if err := fs.Parse(args); err != nil {
		return defaults, errors.Wrap(err, ErrCodeInvalidConfig, "failed to parse settings flags")
	}

	level, ok := ParseAuditLevel(fs.GetString("audit-min-level"))
	if !ok {
		return defaults, errors.New(ErrCodeInvalidConfig, fmt.Sprintf("invalid audit level %q", fs.GetString("audit-min-level")))
	}
	s := Settings{
		AppKey:     fs.GetString("app-key"),
		DateFormat: fs.GetString("date-format"),
		CaseFormat: fs.GetString("case-format"),
		Cache:      fs.GetBool("cache"),
		Audit: AuditConfig{
			Enabled:       fs.GetBool("audit-enabled"),
			OutputFile:    fs.GetString("audit-output-file"),
			MinLevel:      level,
			BufferSize:    fs.GetInt("audit-buffer-size"),
			FlushInterval: fs.GetDuration("audit-flush-interval"),
		},
		Fetch: FetchOptions{
			Timeout:       fs.GetDuration("fetch-timeout"),
			RetryAttempts: fs.GetInt("fetch-retries"),
			RetryDelay:    fs.GetDuration("fetch-retry-delay"),
			Headers:       map[string]string{},
		},
	}.WithDefaults()

	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// NewEnv creates the collaborators described by s. Close the Env to
// release the audit logger.
func NewEnv(s Settings) (*Env, error) {
	s = s.WithDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if s.CaseFormat != "" {
		SetDefaultCaseFormat(text.NewCaseFormat(s.CaseFormat))
	}

	fetchOptions := s.Fetch
	env := &Env{
		Validator:  RuleValidator{},
		Fetcher:    NewHTTPFetcher(&fetchOptions),
		DateFormat: s.DateFormat,
		Config:     EnvSource{Prefix: EnvPrefix},
	}
	if s.AppKey != "" {
		encrypter, err := NewAESEncrypter([]byte(s.AppKey))
		if err != nil {
			return nil, err
		}
		env.Encrypter = encrypter
	}
	if s.Cache {
		env.Cache = NewMemoryCache()
	}
	if s.Audit.Enabled {
		logger, err := NewAuditLogger(s.Audit)
		if err != nil {
			return nil, err
		}
		env.Audit = logger
	}
	return env, nil
}

// Close releases the audit logger, if any.
func (e *Env) Close() error {
	if e == nil || e.Audit == nil {
		return nil
	}
	return e.Audit.Close()
}

func settingsVar(name string) string {
	return EnvPrefix + "_" + name
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "on", "enabled":
		return true
	default:
		return false
	}
}

// GetEnvWithDefault returns environment variable value or default if not set
func GetEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvDurationWithDefault returns environment variable as duration or default
func GetEnvDurationWithDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GetEnvIntWithDefault returns environment variable as int or default
func GetEnvIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvBoolWithDefault returns environment variable as bool or default
func GetEnvBoolWithDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return parseBool(value)
	}
	return defaultValue
}
