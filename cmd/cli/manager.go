// Package cli provides the command-line interface for the DTO runtime.
//
// The CLI is built on the Orpheus framework and covers the tooling around
// serialized DTOs: converting payloads between JSON, YAML, base64 and
// bracket query strings, inspecting native envelopes, querying the audit
// trail and printing the effective runtime settings.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"io"
	"os"

	"github.com/agilira/orpheus/pkg/orpheus"
	dto "github.com/bfg-s/dto-sub000"
)

// Version is reported by the info command.
const Version = "1.0.0"

// Manager wires the command tree and its optional audit logger.
type Manager struct {
	app         *orpheus.App
	auditLogger *dto.AuditLogger
	out         io.Writer
}

// NewManager creates a CLI manager writing to stdout.
func NewManager() *Manager {
	app := orpheus.New("dto").
		SetDescription("Tooling for serialized data transfer objects").
		SetVersion(Version)

	manager := &Manager{
		app: app,
		out: os.Stdout,
	}

	manager.setupPayloadCommands()
	manager.setupEnvelopeCommands()
	manager.setupAuditCommands()
	manager.setupUtilityCommands()

	return manager
}

// WithAudit records every command in the given audit trail.
func (m *Manager) WithAudit(auditLogger *dto.AuditLogger) *Manager {
	m.auditLogger = auditLogger
	return m
}

// WithOutput redirects command output.
func (m *Manager) WithOutput(w io.Writer) *Manager {
	if w != nil {
		m.out = w
	}
	return m
}

// Run executes the CLI application with the provided arguments.
func (m *Manager) Run(args []string) error {
	return m.app.Run(args)
}

// setupPayloadCommands configures conversion between payload formats.
func (m *Manager) setupPayloadCommands() {
	// convert <input> <output> [--from=auto] [--to=auto]
	convertCmd := orpheus.NewCommand("convert", "Convert a payload between formats").
		AddFlag("from", "", "auto", "Input format (auto|json|yaml|base64|query)").
		AddFlag("to", "", "auto", "Output format (auto|json|yaml|base64|query)").
		SetHandler(m.handleConvert)
	m.app.AddCommand(convertCmd)

	importCmd := orpheus.NewCommand("import", "Bracket query import strings")

	// import decode <text> [--to=json]
	decodeCmd := importCmd.Subcommand("decode", "Decode an import string", m.handleImportDecode)
	decodeCmd.AddFlag("to", "t", "json", "Output format (json|yaml)")

	// import encode <file> [--from=auto]
	encodeCmd := importCmd.Subcommand("encode", "Encode a payload file as an import string", m.handleImportEncode)
	encodeCmd.AddFlag("from", "f", "auto", "Input format (auto|json|yaml|base64|query)")

	m.app.AddCommand(importCmd)
}

// setupEnvelopeCommands configures native envelope inspection.
func (m *Manager) setupEnvelopeCommands() {
	envelopeCmd := orpheus.NewCommand("envelope", "Native serialization envelopes")

	// envelope inspect <file> [--base64] [--to=json]
	inspectCmd := envelopeCmd.Subcommand("inspect", "Show the class, version, data and meta of an envelope", m.handleEnvelopeInspect)
	inspectCmd.AddBoolFlag("base64", "b", false, "Input holds a base64 import string")
	inspectCmd.AddFlag("to", "t", "json", "Output format (json|yaml)")

	m.app.AddCommand(envelopeCmd)
}

// setupAuditCommands configures the audit trail queries.
func (m *Manager) setupAuditCommands() {
	auditCmd := orpheus.NewCommand("audit", "Audit trail management")

	queryCmd := auditCmd.Subcommand("query", "Query audit events", m.handleAuditQuery)
	queryCmd.AddFlag("file", "f", "", "Audit file (.db or .jsonl)")
	queryCmd.AddFlag("since", "s", "24h", "Time range (e.g., 24h, 7d, 2w)")
	queryCmd.AddFlag("class", "c", "", "Class filter")
	queryCmd.AddFlag("event", "e", "", "Event filter")
	queryCmd.AddFlag("level", "", "INFO", "Lowest level (INFO|WARN|CRITICAL|SECURITY)")
	queryCmd.AddIntFlag("limit", "l", 100, "Maximum results")

	statsCmd := auditCmd.Subcommand("stats", "Show audit statistics", m.handleAuditStats)
	statsCmd.AddFlag("file", "f", "", "Audit file (.db or .jsonl)")

	verifyCmd := auditCmd.Subcommand("verify", "Verify audit event checksums", m.handleAuditVerify)
	verifyCmd.AddFlag("file", "f", "", "Audit file (.db or .jsonl)")

	m.app.AddCommand(auditCmd)
}

// setupUtilityCommands configures diagnostics.
func (m *Manager) setupUtilityCommands() {
	infoCmd := orpheus.NewCommand("info", "Runtime information and effective settings")
	infoCmd.SetHandler(m.handleInfo)
	infoCmd.AddBoolFlag("verbose", "v", false, "Show the effective settings")
	m.app.AddCommand(infoCmd)

	completionCmd := orpheus.NewCommand("completion", "Generate shell completion scripts")
	completionCmd.SetHandler(m.handleCompletion)
	m.app.AddCommand(completionCmd)
}
