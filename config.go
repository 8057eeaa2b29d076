// config.go: Per-class configuration for DTO schemas
//
// Class-level tables (hidden keys, casts, rules, encrypted keys, logging,
// version, date format, import mode, key case) are set with functional
// options, either through Configure or by implementing DTOOptions on the type.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package dto

import (
	"maps"
	"sync/atomic"

	"github.com/viant/tagly/format/text"
)

var defaultCaseFormat atomic.Value

func init() {
	defaultCaseFormat.Store(text.CaseFormatLowerCamel)
}

// SetDefaultCaseFormat sets the key case of classes reflected from now on.
// Undefined formats are ignored.
func SetDefaultCaseFormat(format text.CaseFormat) {
	if format.IsDefined() {
		defaultCaseFormat.Store(format)
	}
}

// DefaultDateFormat is the layout used to render time values.
const DefaultDateFormat = "2006-01-02 15:04:05"

// ImportMode selects the single-scalar representation produced by ToImport.
type ImportMode int

const (
	// ImportURL encodes the map form as a URL query string.
	ImportURL ImportMode = iota
	// ImportSerialize encodes the native envelope as base64.
	ImportSerialize
	// ImportJSON encodes the map form as JSON text.
	ImportJSON
	// ImportMethod calls a named method on the instance.
	ImportMethod
)

func (m ImportMode) String() string {
	switch m {
	case ImportURL:
		return "url"
	case ImportSerialize:
		return "serialize"
	case ImportJSON:
		return "json"
	case ImportMethod:
		return "method"
	default:
		return "unknown"
	}
}

// ParseImportMode converts a mode name back into an ImportMode.
func ParseImportMode(name string) (ImportMode, bool) {
	switch name {
	case "url", "":
		return ImportURL, true
	case "serialize":
		return ImportSerialize, true
	case "json":
		return ImportJSON, true
	case "method":
		return ImportMethod, true
	}
	return ImportURL, false
}

type classOptions struct {
	name         string
	hidden       map[string]bool
	casts        map[string]string
	rules        map[string]string
	encrypted    map[string]bool
	logging      bool
	version      string
	dateFormat   string
	importMode   ImportMode
	importMethod string
	importParse  func(string) (map[string]any, error)
	caseFormat   text.CaseFormat
}

func defaultClassOptions(name string) classOptions {
	return classOptions{
		name:       name,
		hidden:     map[string]bool{},
		casts:      map[string]string{},
		rules:      map[string]string{},
		encrypted:  map[string]bool{},
		caseFormat: defaultCaseFormat.Load().(text.CaseFormat),
	}
}

// Option configures a DTO class.
type Option func(*classOptions)

type optionsProvider interface {
	DTOOptions() []Option
}

// WithName sets the name used for unions, envelopes and logs.
func WithName(name string) Option {
	return func(o *classOptions) {
		if name != "" {
			o.name = name
		}
	}
}

// WithHidden excludes keys from map and JSON output.
func WithHidden(keys ...string) Option {
	return func(o *classOptions) {
		for _, k := range keys {
			o.hidden[k] = true
		}
	}
}

// WithCasts sets class-level cast specifiers by key.
func WithCasts(casts map[string]string) Option {
	return func(o *classOptions) {
		for k, v := range casts {
			o.casts[k] = v
		}
	}
}

// WithRules sets validation rules applied to raw input.
func WithRules(rules map[string]string) Option {
	return func(o *classOptions) {
		for k, v := range rules {
			o.rules[k] = v
		}
	}
}

// WithEncrypted marks keys whose values are stored encrypted.
func WithEncrypted(keys ...string) Option {
	return func(o *classOptions) {
		for _, k := range keys {
			o.encrypted[k] = true
		}
	}
}

// WithLogging enables per-instance logs.
func WithLogging(enabled bool) Option {
	return func(o *classOptions) { o.logging = enabled }
}

// WithVersion sets the version recorded in serialized envelopes.
func WithVersion(version string) Option {
	return func(o *classOptions) { o.version = version }
}

// WithDateFormat sets the layout used to render time values.
func WithDateFormat(layout string) Option {
	return func(o *classOptions) { o.dateFormat = layout }
}

// WithImport selects the ToImport representation.
func WithImport(mode ImportMode) Option {
	return func(o *classOptions) { o.importMode = mode }
}

// WithImportMethod makes ToImport call the named method, and FromImport use parse.
func WithImportMethod(method string, parse func(string) (map[string]any, error)) Option {
	return func(o *classOptions) {
		o.importMode = ImportMethod
		o.importMethod = method
		o.importParse = parse
	}
}

// WithCaseFormat sets the case used to derive keys from field names.
func WithCaseFormat(format text.CaseFormat) Option {
	return func(o *classOptions) { o.caseFormat = format }
}

// clone copies o so option funcs never write maps held by running builds.
func (o classOptions) clone() classOptions {
	o.hidden = maps.Clone(o.hidden)
	o.casts = maps.Clone(o.casts)
	o.rules = maps.Clone(o.rules)
	o.encrypted = maps.Clone(o.encrypted)
	return o
}

// Configure applies options to the class of proto. Builds already running
// keep the options they started with.
func Configure(proto any, opts ...Option) error {
	s, err := SchemaOf(proto)
	if err != nil {
		return err
	}

	s.mu.Lock()
	oldName := s.opts.name
	next := s.opts.clone()
	for _, opt := range opts {
		opt(&next)
	}
	s.opts = next
	if next.caseFormat != s.keyFormat {
		s.reindex()
	}
	newName := s.opts.name
	s.mu.Unlock()

	if newName != oldName {
		classMu.Lock()
		delete(classByID, oldName)
		classByID[newName] = s.Type
		classMu.Unlock()
	}
	return nil
}
