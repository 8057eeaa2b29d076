// Utility functions for the DTO CLI
//
// This file provides helpers for payload format detection, decoding and
// encoding, duration parsing and opening audit trails.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/agilira/go-errors"
	dto "github.com/bfg-s/dto-sub000"
	"go.yaml.in/yaml/v3"
)

// payloadFormat identifies a payload encoding handled by the CLI.
type payloadFormat int

const (
	formatUnknown payloadFormat = iota
	formatJSON
	formatYAML
	formatBase64
	formatQuery
)

func (f payloadFormat) String() string {
	switch f {
	case formatJSON:
		return "JSON"
	case formatYAML:
		return "YAML"
	case formatBase64:
		return "Base64"
	case formatQuery:
		return "Query"
	default:
		return "Unknown"
	}
}

// detectFormat uses the explicit format when given, else the file extension.
func detectFormat(filePath, explicitFormat string) payloadFormat {
	if explicitFormat != "" && explicitFormat != "auto" {
		return parseExplicitFormat(explicitFormat)
	}

	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".json":
		return formatJSON
	case ".yaml", ".yml":
		return formatYAML
	case ".b64", ".base64":
		return formatBase64
	case ".query", ".qs":
		return formatQuery
	}
	return formatUnknown
}

func parseExplicitFormat(formatStr string) payloadFormat {
	switch strings.ToLower(formatStr) {
	case "json":
		return formatJSON
	case "yaml", "yml":
		return formatYAML
	case "base64", "b64":
		return formatBase64
	case "query", "url":
		return formatQuery
	default:
		return formatUnknown
	}
}

// loadPayload reads and decodes a payload file.
func loadPayload(filePath string, format payloadFormat) (map[string]any, error) {
	data, err := os.ReadFile(filepath.Clean(filePath))
	if err != nil {
		return nil, errors.Wrap(err, dto.ErrCodeIOError, fmt.Sprintf("failed to read %s", filePath))
	}
	return decodePayload(data, format)
}

func decodePayload(data []byte, format payloadFormat) (map[string]any, error) {
	var out map[string]any
	switch format {
	case formatJSON:
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, errors.Wrap(err, dto.ErrCodeInvalidPayload, "payload is not a JSON object")
		}
	case formatYAML:
		if err := yaml.Unmarshal(data, &out); err != nil {
			return nil, errors.Wrap(err, dto.ErrCodeInvalidPayload, "payload is not a YAML mapping")
		}
	case formatBase64:
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, errors.Wrap(err, dto.ErrCodeInvalidPayload, "payload is not valid base64")
		}
		return decodePayload(raw, formatJSON)
	case formatQuery:
		decoded, err := dto.DecodeQuery(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, errors.Wrap(err, dto.ErrCodeInvalidPayload, "payload is not a query string")
		}
		out = decoded
	default:
		return nil, errors.New(dto.ErrCodeInvalidPayload, fmt.Sprintf("unsupported format: %s", format))
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func encodePayload(payload map[string]any, format payloadFormat) ([]byte, error) {
	switch format {
	case formatJSON:
		out, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return nil, errors.Wrap(err, dto.ErrCodeInvalidPayload, "failed to encode JSON")
		}
		return append(out, '\n'), nil
	case formatYAML:
		out, err := yaml.Marshal(payload)
		if err != nil {
			return nil, errors.Wrap(err, dto.ErrCodeInvalidPayload, "failed to encode YAML")
		}
		return out, nil
	case formatBase64:
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrap(err, dto.ErrCodeInvalidPayload, "failed to encode JSON")
		}
		return []byte(base64.StdEncoding.EncodeToString(raw) + "\n"), nil
	case formatQuery:
		return []byte(dto.EncodeQuery(payload) + "\n"), nil
	}
	return nil, errors.New(dto.ErrCodeInvalidPayload, fmt.Sprintf("unsupported format: %s", format))
}

// openAudit opens an existing audit trail for reading.
func openAudit(filePath string) (*dto.AuditLogger, error) {
	if filePath == "" {
		return nil, errors.New(dto.ErrCodeInvalidConfig, "audit file is required (--file)")
	}
	if _, err := os.Stat(filePath); err != nil {
		return nil, errors.Wrap(err, dto.ErrCodeIOError, fmt.Sprintf("audit file not accessible: %s", filePath))
	}
	return dto.NewAuditLogger(dto.AuditConfig{
		Enabled:    true,
		OutputFile: filePath,
		MinLevel:   dto.AuditInfo,
		BufferSize: 1,
	})
}

// parseExtendedDuration parses duration strings with extended units (d, w).
// Supports all Go standard units (ns, us, ms, s, m, h) plus:
// - d: days (24 hours)
// - w: weeks (7 days)
//
// Examples: "30d", "2w", "7d", "24h", "5m", "30s"
func parseExtendedDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	re := regexp.MustCompile(`^(\d+)(d|w)$`)
	matches := re.FindStringSubmatch(s)

	if len(matches) != 3 {
		_, err := time.ParseDuration(s)
		return 0, err
	}

	value, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration value: %s", matches[1])
	}

	switch matches[2] {
	case "d":
		return time.Duration(value) * 24 * time.Hour, nil
	default:
		return time.Duration(value) * 7 * 24 * time.Hour, nil
	}
}

// checkDirectoryWriteable verifies that the directory of filePath can be written to.
func checkDirectoryWriteable(filePath string) error {
	dirPath := filepath.Dir(filePath)
	info, err := os.Stat(dirPath)
	if err != nil {
		return fmt.Errorf("cannot access directory %s: %w", dirPath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dirPath)
	}
	if info.Mode()&0200 == 0 {
		return fmt.Errorf("directory is not writable (mode: %v)", info.Mode())
	}
	return nil
}
