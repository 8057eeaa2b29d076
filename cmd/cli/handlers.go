// Command handlers for the DTO CLI
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
	"sort"
	"strings"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/orpheus/pkg/orpheus"
	dto "github.com/bfg-s/dto-sub000"
	"go.yaml.in/yaml/v3"
)

// audit records a CLI operation when an audit logger is attached.
func (m *Manager) audit(event string, context map[string]any) {
	if m.auditLogger != nil {
		m.auditLogger.Log(dto.AuditInfo, event, "cli", context)
	}
}

// handleConvert converts a payload file into another format.
func (m *Manager) handleConvert(ctx *orpheus.Context) error {
	inputPath := ctx.GetArg(0)
	outputPath := ctx.GetArg(1)
	if inputPath == "" || outputPath == "" {
		return errors.New(dto.ErrCodeInvalidConfig, "usage: convert <input> <output>")
	}
	fromFormat := detectFormat(inputPath, ctx.GetFlagString("from"))
	toFormat := detectFormat(outputPath, ctx.GetFlagString("to"))
	if fromFormat == formatUnknown || toFormat == formatUnknown {
		return errors.New(dto.ErrCodeInvalidConfig,
			fmt.Sprintf("cannot determine formats for %s -> %s", inputPath, outputPath))
	}

	m.audit("cli_convert", map[string]any{"input": inputPath, "output": outputPath})

	payload, err := loadPayload(inputPath, fromFormat)
	if err != nil {
		return err
	}
	encoded, err := encodePayload(payload, toFormat)
	if err != nil {
		return err
	}
	if err := checkDirectoryWriteable(outputPath); err != nil {
		return errors.Wrap(err, dto.ErrCodeIOError, "output location is not writable")
	}
	if err := dto.WriteFileAtomic(filepath.Clean(outputPath), encoded); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(m.out, "Converted %s (%s) -> %s (%s)\n", inputPath, fromFormat, outputPath, toFormat)
	return nil
}

// handleImportDecode expands a bracket query import string.
func (m *Manager) handleImportDecode(ctx *orpheus.Context) error {
	text := ctx.GetArg(0)
	if text == "" {
		return errors.New(dto.ErrCodeInvalidConfig, "usage: import decode <text>")
	}
	format := parseExplicitFormat(ctx.GetFlagString("to"))
	if format != formatJSON && format != formatYAML {
		return errors.New(dto.ErrCodeInvalidConfig, fmt.Sprintf("unsupported output format: %s", ctx.GetFlagString("to")))
	}

	payload, err := dto.DecodeQuery(text)
	if err != nil {
		return errors.Wrap(err, dto.ErrCodeInvalidPayload, "invalid import string")
	}
	encoded, err := encodePayload(payload, format)
	if err != nil {
		return err
	}
	_, _ = m.out.Write(encoded)
	return nil
}

// handleImportEncode prints a payload file as a bracket query import string.
func (m *Manager) handleImportEncode(ctx *orpheus.Context) error {
	filePath := ctx.GetArg(0)
	format := detectFormat(filePath, ctx.GetFlagString("from"))
	if format == formatUnknown {
		return errors.New(dto.ErrCodeInvalidConfig, fmt.Sprintf("cannot determine format of %s", filePath))
	}
	payload, err := loadPayload(filePath, format)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(m.out, dto.EncodeQuery(payload))
	return nil
}

// handleEnvelopeInspect prints the content of a native envelope.
func (m *Manager) handleEnvelopeInspect(ctx *orpheus.Context) error {
	filePath := ctx.GetArg(0)
	data, err := os.ReadFile(filepath.Clean(filePath))
	if err != nil {
		return errors.Wrap(err, dto.ErrCodeIOError, fmt.Sprintf("failed to read %s", filePath))
	}
	if ctx.GetFlagBool("base64") {
		if data, err = base64.StdEncoding.DecodeString(strings.TrimSpace(string(data))); err != nil {
			return errors.Wrap(err, dto.ErrCodeInvalidPayload, "envelope is not valid base64")
		}
	}

	env, err := dto.DecodeEnvelope(data)
	if err != nil {
		return err
	}
	m.audit("cli_envelope_inspect", map[string]any{"file": filePath, "class": env.Class})

	view := map[string]any{
		"class":   env.Class,
		"version": env.Version,
		"data":    env.Data,
		"meta":    env.Meta,
	}
	var encoded []byte
	switch parseExplicitFormat(ctx.GetFlagString("to")) {
	case formatYAML:
		encoded, err = yaml.Marshal(view)
	default:
		encoded, err = json.MarshalIndent(view, "", "  ")
		encoded = append(encoded, '\n')
	}
	if err != nil {
		return errors.Wrap(err, dto.ErrCodeInvalidPayload, "failed to render envelope")
	}
	_, _ = m.out.Write(encoded)
	return nil
}

// handleAuditQuery lists audit events matching the filters.
func (m *Manager) handleAuditQuery(ctx *orpheus.Context) error {
	since, err := parseExtendedDuration(ctx.GetFlagString("since"))
	if err != nil {
		return errors.New(dto.ErrCodeInvalidConfig, fmt.Sprintf("invalid time range: %v", err))
	}
	level, ok := dto.ParseAuditLevel(ctx.GetFlagString("level"))
	if !ok {
		return errors.New(dto.ErrCodeInvalidConfig, fmt.Sprintf("invalid level: %s", ctx.GetFlagString("level")))
	}

	logger, err := openAudit(ctx.GetFlagString("file"))
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	events, err := logger.Query(dto.AuditFilter{
		Class:    ctx.GetFlagString("class"),
		Event:    ctx.GetFlagString("event"),
		MinLevel: level,
		Since:    time.Now().Add(-since),
		Limit:    ctx.GetFlagInt("limit"),
	})
	if err != nil {
		return err
	}

	for _, e := range events {
		context := ""
		if len(e.Context) > 0 {
			raw, _ := json.Marshal(e.Context)
			context = " " + string(raw)
		}
		_, _ = fmt.Fprintf(m.out, "%s %-8s %-20s %s%s\n",
			e.Timestamp.Format(time.RFC3339), e.Level, e.Class, e.Event, context)
	}
	_, _ = fmt.Fprintf(m.out, "%d event(s)\n", len(events))
	return nil
}

// handleAuditStats prints event counts by level and class.
func (m *Manager) handleAuditStats(ctx *orpheus.Context) error {
	logger, err := openAudit(ctx.GetFlagString("file"))
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	stats, err := logger.Stats()
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(m.out, "Backend: %s (schema v%d)\n", stats.Backend, stats.SchemaVersion)
	_, _ = fmt.Fprintf(m.out, "Total events: %d\n", stats.TotalEvents)
	for _, section := range []struct {
		title  string
		counts map[string]int64
	}{
		{"By level", stats.EventsByLevel},
		{"By class", stats.EventsByClass},
	} {
		_, _ = fmt.Fprintf(m.out, "%s:\n", section.title)
		keys := make([]string, 0, len(section.counts))
		for k := range section.counts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			_, _ = fmt.Fprintf(m.out, "  %-20s %d\n", k, section.counts[k])
		}
	}
	return nil
}

// handleAuditVerify checks every stored checksum and fails on tampering.
func (m *Manager) handleAuditVerify(ctx *orpheus.Context) error {
	logger, err := openAudit(ctx.GetFlagString("file"))
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	events, err := logger.Query(dto.AuditFilter{})
	if err != nil {
		return err
	}
	var tampered int
	for _, e := range events {
		if !e.Verify() {
			tampered++
			_, _ = fmt.Fprintf(m.out, "checksum mismatch: %s %s %s\n", e.Timestamp.Format(time.RFC3339Nano), e.Class, e.Event)
		}
	}
	if tampered > 0 {
		return errors.New(dto.ErrCodeAuditBackendFailure, fmt.Sprintf("%d of %d audit events failed verification", tampered, len(events)))
	}
	_, _ = fmt.Fprintf(m.out, "%d event(s) verified\n", len(events))
	return nil
}

// handleInfo displays version information and, verbosely, the effective settings.
func (m *Manager) handleInfo(ctx *orpheus.Context) error {
	_, _ = fmt.Fprintf(m.out, "DTO runtime tooling\n")
	_, _ = fmt.Fprintf(m.out, "Version: %s\n", Version)
	_, _ = fmt.Fprintf(m.out, "Formats: JSON, YAML, Base64, Query\n")

	if !ctx.GetFlagBool("verbose") {
		return nil
	}
	settings, err := dto.LoadSettingsFromEnv()
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(m.out, "\nSettings (%s_* variables):\n", dto.EnvPrefix)
	_, _ = fmt.Fprintf(m.out, "  Encryption: %v\n", settings.AppKey != "")
	_, _ = fmt.Fprintf(m.out, "  Date format: %s\n", settings.DateFormat)
	_, _ = fmt.Fprintf(m.out, "  Case format: %s\n", valueOr(settings.CaseFormat, "lc"))
	_, _ = fmt.Fprintf(m.out, "  Cache: %v\n", settings.Cache)
	_, _ = fmt.Fprintf(m.out, "  Audit: %v (%s)\n", settings.Audit.Enabled, valueOr(settings.Audit.OutputFile, "default"))
	_, _ = fmt.Fprintf(m.out, "  Fetch: timeout %v, %d retries every %v\n",
		settings.Fetch.Timeout, settings.Fetch.RetryAttempts, settings.Fetch.RetryDelay)
	_, _ = fmt.Fprintf(m.out, "  Audit logging: %v\n", m.auditLogger != nil)
	return nil
}

func valueOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// handleCompletion generates shell completion scripts.
func (m *Manager) handleCompletion(ctx *orpheus.Context) error {
	shell := ctx.GetArg(0)
	commands := "convert import envelope audit info completion"

	switch shell {
	case "bash":
		_, _ = fmt.Fprintf(m.out, "# Bash completion for dto\n")
		_, _ = fmt.Fprintf(m.out, "# Add to ~/.bashrc: source <(dto completion bash)\n")
		_, _ = fmt.Fprintf(m.out, "_dto_completion() {\n")
		_, _ = fmt.Fprintf(m.out, "  COMPREPLY=($(compgen -W '%s' -- \"${COMP_WORDS[COMP_CWORD]}\"))\n", commands)
		_, _ = fmt.Fprintf(m.out, "}\n")
		_, _ = fmt.Fprintf(m.out, "complete -F _dto_completion dto\n")
	case "zsh":
		_, _ = fmt.Fprintf(m.out, "# Zsh completion for dto\n")
		_, _ = fmt.Fprintf(m.out, "#compdef dto\n")
		_, _ = fmt.Fprintf(m.out, "_dto() {\n")
		_, _ = fmt.Fprintf(m.out, "  _arguments '1: :(%s)'\n", commands)
		_, _ = fmt.Fprintf(m.out, "}\n")
	case "fish":
		_, _ = fmt.Fprintf(m.out, "# Fish completion for dto\n")
		_, _ = fmt.Fprintf(m.out, "complete -c dto -f -a '%s'\n", commands)
	default:
		return errors.New(dto.ErrCodeInvalidConfig, fmt.Sprintf("unsupported shell: %s", shell))
	}
	return nil
}
