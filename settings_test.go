// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package dto

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettings_WithDefaults(t *testing.T) {
	s := Settings{}.WithDefaults()
	assert.Equal(t, DefaultDateFormat, s.DateFormat)
	assert.Equal(t, DefaultAuditConfig().BufferSize, s.Audit.BufferSize)
	assert.Equal(t, DefaultFetchOptions().Timeout, s.Fetch.Timeout)
	assert.NotNil(t, s.Fetch.Headers)
	assert.NoError(t, s.Validate())
}

func TestSettings_Validate(t *testing.T) {
	tests := []struct {
		name     string
		settings Settings
	}{
		{"broken date format", Settings{DateFormat: "12"}},
		{"unknown case format", Settings{CaseFormat: "zz"}},
		{"negative retries", Settings{Fetch: FetchOptions{RetryAttempts: -1}}},
		{"negative timeout", Settings{Fetch: FetchOptions{Timeout: -time.Second}}},
		{"audit without buffer", Settings{Audit: AuditConfig{Enabled: true}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, HasCode(tt.settings.Validate(), ErrCodeInvalidConfig))
		})
	}
}

func TestLoadSettingsFromEnv(t *testing.T) {
	t.Setenv("DTO_APP_KEY", "k")
	t.Setenv("DTO_CACHE", "yes")
	t.Setenv("DTO_AUDIT_MIN_LEVEL", "critical")
	t.Setenv("DTO_AUDIT_BUFFER_SIZE", "25")
	t.Setenv("DTO_FETCH_RETRIES", "5")
	t.Setenv("DTO_FETCH_TIMEOUT", "2s")
	t.Setenv("DTO_FETCH_RETRY_DELAY", "bogus")

	s, err := LoadSettingsFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "k", s.AppKey)
	assert.True(t, s.Cache)
	assert.Equal(t, AuditCritical, s.Audit.MinLevel)
	assert.Equal(t, 25, s.Audit.BufferSize)
	assert.Equal(t, 5, s.Fetch.RetryAttempts)
	assert.Equal(t, 2*time.Second, s.Fetch.Timeout)
	assert.Equal(t, DefaultFetchOptions().RetryDelay, s.Fetch.RetryDelay)

	t.Setenv("DTO_AUDIT_MIN_LEVEL", "loud")
	_, err = LoadSettingsFromEnv()
	assert.True(t, HasCode(err, ErrCodeInvalidConfig))
}

func TestParseSettings(t *testing.T) {
	s, err := ParseSettings("dto", []string{
		"--app-key=secret",
		"--cache",
		"--case-format=lu",
		"--audit-min-level=warn",
		"--fetch-retries=1",
		"--fetch-retry-delay=250ms",
	})
	require.NoError(t, err)
	assert.Equal(t, "secret", s.AppKey)
	assert.True(t, s.Cache)
	assert.Equal(t, "lu", s.CaseFormat)
	assert.Equal(t, AuditWarn, s.Audit.MinLevel)
	assert.Equal(t, 1, s.Fetch.RetryAttempts)
	assert.Equal(t, 250*time.Millisecond, s.Fetch.RetryDelay)
	assert.Equal(t, DefaultDateFormat, s.DateFormat)

	_, err = ParseSettings("dto", []string{"--audit-min-level=loud"})
	assert.True(t, HasCode(err, ErrCodeInvalidConfig))

	_, err = ParseSettings("dto", []string{"--case-format=zz"})
	assert.True(t, HasCode(err, ErrCodeInvalidConfig))
}

func TestNewEnv(t *testing.T) {
	env, err := NewEnv(Settings{
		AppKey: "application key",
		Cache:  true,
		Audit: AuditConfig{
			Enabled:    true,
			OutputFile: filepath.Join(t.TempDir(), "audit.jsonl"),
		},
	})
	require.NoError(t, err)

	assert.NotNil(t, env.Encrypter)
	assert.NotNil(t, env.Cache)
	assert.NotNil(t, env.Fetcher)
	assert.NotNil(t, env.Validator)
	assert.NotNil(t, env.Audit)
	assert.IsType(t, EnvSource{}, env.Config)
	assert.Equal(t, DefaultDateFormat, env.DateFormat)

	require.NoError(t, env.Close())
	require.NoError(t, env.Close())

	plain, err := NewEnv(Settings{})
	require.NoError(t, err)
	assert.Nil(t, plain.Encrypter)
	assert.Nil(t, plain.Cache)
	assert.Nil(t, plain.Audit)
	assert.NoError(t, plain.Close())

	_, err = NewEnv(Settings{DateFormat: "12"})
	assert.True(t, HasCode(err, ErrCodeInvalidConfig))
}

func TestGetEnvWithDefault(t *testing.T) {
	t.Setenv("DTO_TEST_STRING", "v")
	t.Setenv("DTO_TEST_INT", "x")
	t.Setenv("DTO_TEST_BOOL", "on")

	assert.Equal(t, "v", GetEnvWithDefault("DTO_TEST_STRING", "d"))
	assert.Equal(t, "d", GetEnvWithDefault("DTO_TEST_MISSING", "d"))
	assert.Equal(t, 3, GetEnvIntWithDefault("DTO_TEST_INT", 3))
	assert.True(t, GetEnvBoolWithDefault("DTO_TEST_BOOL", false))
	assert.Equal(t, time.Minute, GetEnvDurationWithDefault("DTO_TEST_MISSING", time.Minute))
}
