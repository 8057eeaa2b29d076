// audit.go: Audit trail for DTO lifecycle logs
//
// Instances of classes with logging enabled forward their log entries to
// the AuditLogger carried by the Env. Events are buffered and flushed in
// batches to a SQLite or JSONL backend, each with a SHA-256 checksum for
// tamper detection.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package dto

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
)

// AuditLevel represents the severity of audit events
type AuditLevel int

const (
	AuditInfo AuditLevel = iota
	AuditWarn
	AuditCritical
	AuditSecurity
)

func (al AuditLevel) String() string {
	switch al {
	case AuditInfo:
		return "INFO"
	case AuditWarn:
		return "WARN"
	case AuditCritical:
		return "CRITICAL"
	case AuditSecurity:
		return "SECURITY"
	default:
		return "UNKNOWN"
	}
}

// ParseAuditLevel converts a level name back into an AuditLevel.
func ParseAuditLevel(name string) (AuditLevel, bool) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "INFO", "":
		return AuditInfo, true
	case "WARN", "WARNING":
		return AuditWarn, true
	case "CRITICAL":
		return AuditCritical, true
	case "SECURITY":
		return AuditSecurity, true
	}
	return AuditInfo, false
}

// AuditEvent is a single persisted audit record.
type AuditEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     AuditLevel     `json:"level"`
	Event     string         `json:"event"`
	Class     string         `json:"class"`
	ProcessID int            `json:"process_id"`
	Context   map[string]any `json:"context,omitempty"`
	Checksum  string         `json:"checksum"`
}

// Verify reports whether the checksum still matches the event content.
func (e AuditEvent) Verify() bool {
	return e.Checksum != "" && e.Checksum == checksumOf(e)
}

// AuditFilter selects events returned by Query. Zero fields match everything.
type AuditFilter struct {
	Class    string
	Event    string
	MinLevel AuditLevel
	Since    time.Time
	Limit    int
}

func (f AuditFilter) match(e AuditEvent) bool {
	switch {
	case f.Class != "" && e.Class != f.Class:
		return false
	case f.Event != "" && e.Event != f.Event:
		return false
	case e.Level < f.MinLevel:
		return false
	case !f.Since.IsZero() && e.Timestamp.Before(f.Since):
		return false
	}
	return true
}

// AuditConfig configures the audit system
type AuditConfig struct {
	Enabled bool `json:"enabled"`

	// OutputFile ending in .jsonl selects the JSONL backend, .db a SQLite
	// file; empty uses the shared SQLite database under the temp dir
	OutputFile string `json:"output_file"`

	MinLevel      AuditLevel    `json:"min_level"`
	BufferSize    int           `json:"buffer_size"`
	FlushInterval time.Duration `json:"flush_interval"`
}

// DefaultAuditConfig returns the default audit configuration.
func DefaultAuditConfig() AuditConfig {
	return AuditConfig{
		Enabled:       true,
		OutputFile:    "",
		MinLevel:      AuditInfo,
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
	}
}

// AuditLogger buffers audit events and writes them to a backend.
type AuditLogger struct {
	config      AuditConfig
	backend     auditBackend
	buffer      []AuditEvent
	bufferMu    sync.Mutex
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closeOnce   sync.Once
	processID   int
}

// NewAuditLogger creates an audit logger and starts its background flusher.
func NewAuditLogger(config AuditConfig) (*AuditLogger, error) {
	if config.BufferSize <= 0 {
		config.BufferSize = 1
	}
	backend, err := createAuditBackend(config)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeAuditBackendFailure, "failed to initialize audit backend")
	}

	logger := &AuditLogger{
		config:    config,
		backend:   backend,
		buffer:    make([]AuditEvent, 0, config.BufferSize),
		stopCh:    make(chan struct{}),
		processID: os.Getpid(),
	}

	if config.FlushInterval > 0 {
		logger.flushTicker = time.NewTicker(config.FlushInterval)
		go logger.flushLoop()
	}
	return logger, nil
}

// Log records an audit event.
func (al *AuditLogger) Log(level AuditLevel, event, class string, context map[string]any) {
	if al == nil || al.backend == nil || !al.config.Enabled || level < al.config.MinLevel {
		return
	}

	auditEvent := AuditEvent{
		Timestamp: timecache.CachedTime(),
		Level:     level,
		Event:     event,
		Class:     class,
		ProcessID: al.processID,
		Context:   context,
	}
	auditEvent.Checksum = checksumOf(auditEvent)

	al.bufferMu.Lock()
	al.buffer = append(al.buffer, auditEvent)
	if len(al.buffer) >= al.config.BufferSize {
		_ = al.flushBufferUnsafe()
	}
	al.bufferMu.Unlock()
}

// LogInstance records a per-instance log entry. Restores are logged at
// WARN, everything else at INFO.
func (al *AuditLogger) LogInstance(class, message string, context map[string]any) {
	level := AuditInfo
	if message == "restored" {
		level = AuditWarn
	}
	al.Log(level, message, class, context)
}

// LogSecurityEvent records a security relevant event such as a decryption failure.
func (al *AuditLogger) LogSecurityEvent(event, class string, context map[string]any) {
	al.Log(AuditSecurity, event, class, context)
}

// Query flushes pending events and returns the stored events matching filter,
// oldest first.
func (al *AuditLogger) Query(filter AuditFilter) ([]AuditEvent, error) {
	if err := al.Flush(); err != nil {
		return nil, err
	}
	events, err := al.backend.Query(filter)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeAuditBackendFailure, "failed to query audit events")
	}
	return events, nil
}

// Stats returns backend statistics.
func (al *AuditLogger) Stats() (*AuditStats, error) {
	if err := al.Flush(); err != nil {
		return nil, err
	}
	return al.backend.Stats()
}

// Flush immediately writes all buffered events
func (al *AuditLogger) Flush() error {
	al.bufferMu.Lock()
	defer al.bufferMu.Unlock()
	return al.flushBufferUnsafe()
}

// Close stops the flusher, writes pending events and releases the backend.
func (al *AuditLogger) Close() error {
	var err error
	al.closeOnce.Do(func() {
		close(al.stopCh)
		if al.flushTicker != nil {
			al.flushTicker.Stop()
		}
		if flushErr := al.Flush(); flushErr != nil {
			err = flushErr
			return
		}
		if closeErr := al.backend.Close(); closeErr != nil {
			err = errors.Wrap(closeErr, ErrCodeAuditBackendFailure, "failed to close audit backend")
		}
	})
	return err
}

func (al *AuditLogger) flushLoop() {
	for {
		select {
		case <-al.flushTicker.C:
			_ = al.Flush()
		case <-al.stopCh:
			return
		}
	}
}

// flushBufferUnsafe writes the buffer to the backend (caller must hold bufferMu).
func (al *AuditLogger) flushBufferUnsafe() error {
	if len(al.buffer) == 0 {
		return nil
	}
	if err := al.backend.Write(al.buffer); err != nil {
		return errors.Wrap(err, ErrCodeAuditBackendFailure, "failed to write audit events")
	}
	al.buffer = al.buffer[:0]
	return nil
}

func checksumOf(event AuditEvent) string {
	context, _ := json.Marshal(event.Context)
	data := fmt.Sprintf("%s:%s:%s:%s:%s",
		event.Timestamp.Format(time.RFC3339Nano), event.Level, event.Event, event.Class, context)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

func unifiedAuditPath() string {
	return filepath.Join(os.TempDir(), "dto", "audit.db")
}
