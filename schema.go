// schema.go: Per-type schema reflection and the class registry
//
// A Schema is built once per struct type the first time it is used and
// cached for the life of the process. Each exported field becomes a Param,
// configured through its `dto` struct tag:
//
//	type UserDTO struct {
//	    dto.Base
//	    ID    int     `dto:"id;alias=user_id|uid"`
//	    Name  string  `dto:"name;default=guest"`
//	    Token string  `dto:"token;encrypted;hidden"`
//	    Host  *string `dto:"host;config=app.host"`
//	}
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package dto

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/agilira/go-errors"
	"github.com/viant/tagly/format/text"
)

// TagName is the struct tag read for parameter annotations.
const TagName = "dto"

// External source kinds, processed in this order.
const (
	SourceRoute   = "route"
	SourceConfig  = "config"
	SourceRequest = "request"
	SourceCache   = "cache"
)

type external struct {
	kind string
	name string
}

// Param describes one declared constructor parameter.
type Param struct {
	Name      string
	Key       string
	Type      reflect.Type
	Aliases   []string
	Cast      string
	Union     []string
	Resource  string
	Model     string
	Default   *string
	Hidden    bool
	Encrypted bool
	Exclude   bool
	Required  bool

	index     int
	keyByTag  bool
	externals []external
}

// External reports whether the value comes from a route, config, request or cache source.
func (p *Param) External() bool {
	return len(p.externals) > 0
}

// Nullable reports whether an absent value may be stored as nil.
func (p *Param) Nullable() bool {
	if p.Required {
		return false
	}
	switch p.Type.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map:
		return true
	}
	return false
}

// Schema is the reflected description of a DTO struct type.
type Schema struct {
	Type   reflect.Type
	Params []*Param

	mu      sync.RWMutex
	opts    classOptions
	byKey   map[string]*Param
	byField map[string]*Param

	// keyFormat is the case format the derived keys were rendered with
	keyFormat text.CaseFormat
}

// Name returns the registered class name.
func (s *Schema) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts.name
}

func (s *Schema) options() classOptions {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts
}

// Param looks up a parameter by key or Go field name.
func (s *Schema) Param(name string) (*Param, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.byKey[name]; ok {
		return p, true
	}
	p, ok := s.byField[name]
	return p, ok
}

func (s *Schema) reindex() {
	s.keyFormat = s.opts.caseFormat
	s.byKey = make(map[string]*Param, len(s.Params))
	s.byField = make(map[string]*Param, len(s.Params))
	for _, p := range s.Params {
		if !p.keyByTag {
			p.Key = formatKey(p.Name, s.opts.caseFormat)
		}
		s.byKey[p.Key] = p
		s.byField[p.Name] = p
	}
}

func (o classOptions) isHidden(p *Param) bool {
	return p.Hidden || o.hidden[p.Key]
}

func (o classOptions) isEncrypted(p *Param) bool {
	return p.Encrypted || o.encrypted[p.Key]
}

func (o classOptions) castFor(p *Param) string {
	if p.Cast != "" {
		return p.Cast
	}
	return o.casts[p.Key]
}

var (
	baseType = reflect.TypeOf(Base{})

	schemas   sync.Map // reflect.Type -> *Schema
	schemaMu  sync.Mutex
	classMu   sync.RWMutex
	classByID = map[string]reflect.Type{}
)

// Register builds and caches the schemas of the given prototypes so they can
// be referenced by name in union annotations.
func Register(protos ...any) error {
	for _, proto := range protos {
		if _, err := SchemaOf(proto); err != nil {
			return err
		}
	}
	return nil
}

// SchemaOf returns the schema for proto, which may be a value, a pointer or a reflect.Type.
func SchemaOf(proto any) (*Schema, error) {
	var t reflect.Type
	switch v := proto.(type) {
	case nil:
		return nil, errors.New(ErrCodeInvalidType, "cannot describe nil prototype")
	case reflect.Type:
		t = v
	default:
		t = reflect.TypeOf(proto)
	}
	return schemaFor(t)
}

func schemaFor(t reflect.Type) (*Schema, error) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if cached, ok := schemas.Load(t); ok {
		return cached.(*Schema), nil
	}

	schemaMu.Lock()
	defer schemaMu.Unlock()
	if cached, ok := schemas.Load(t); ok {
		return cached.(*Schema), nil
	}

	s, err := buildSchema(t)
	if err != nil {
		return nil, err
	}
	schemas.Store(t, s)

	classMu.Lock()
	classByID[s.opts.name] = t
	classMu.Unlock()
	return s, nil
}

func buildSchema(t reflect.Type) (*Schema, error) {
	if t.Kind() != reflect.Struct {
		return nil, errors.New(ErrCodeInvalidType, fmt.Sprintf("%s is not a struct", t)).
			WithContext("type", t.String())
	}
	if !embedsBase(t) {
		return nil, errors.New(ErrCodeInvalidType, fmt.Sprintf("%s does not embed dto.Base", t)).
			WithContext("type", t.String())
	}

	s := &Schema{Type: t, opts: defaultClassOptions(t.Name())}
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Anonymous && field.Type == baseType {
			continue
		}
		if !field.IsExported() {
			continue
		}
		tag, hasTag := field.Tag.Lookup(TagName)
		if tag == "-" {
			continue
		}
		p, err := parseParam(field, tag, hasTag)
		if err != nil {
			return nil, errors.Wrap(err, ErrCodeInvalidType, fmt.Sprintf("%s: invalid annotation on %s", t.Name(), field.Name))
		}
		p.index = i
		s.Params = append(s.Params, p)
	}

	if provider, ok := reflect.New(t).Interface().(optionsProvider); ok {
		for _, opt := range provider.DTOOptions() {
			opt(&s.opts)
		}
	}
	s.reindex()

	for _, p := range s.Params {
		if s.opts.isEncrypted(p) && p.Type.Kind() != reflect.String {
			return nil, invalidCastError(s.opts.name, p.Key, "encrypted", fmt.Errorf("encrypted properties must be strings, got %s", p.Type))
		}
		if nestedType(p.Type) == nil && p.Type.Kind() == reflect.Struct && embedsBase(p.Type) {
			return nil, errors.New(ErrCodeInvalidType, fmt.Sprintf("%s.%s: nested DTOs must be declared as pointers", t.Name(), p.Name))
		}
	}
	return s, nil
}

func embedsBase(t reflect.Type) bool {
	if t.Kind() != reflect.Struct {
		return false
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Anonymous && f.Type == baseType {
			return true
		}
	}
	return false
}

// nestedType returns the struct type for *T where T embeds Base.
func nestedType(t reflect.Type) reflect.Type {
	if t.Kind() == reflect.Ptr && embedsBase(t.Elem()) {
		return t.Elem()
	}
	return nil
}

func lookupClass(name string) (reflect.Type, bool) {
	classMu.RLock()
	defer classMu.RUnlock()
	t, ok := classByID[name]
	return t, ok
}

func parseParam(field reflect.StructField, tag string, hasTag bool) (*Param, error) {
	p := &Param{Name: field.Name, Type: field.Type}
	if !hasTag || tag == "" {
		return p, nil
	}

	segments := strings.Split(tag, ";")
	if key := strings.TrimSpace(segments[0]); key != "" {
		p.Key = key
		p.keyByTag = true
	}

	for _, segment := range segments[1:] {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		name, value, hasValue := strings.Cut(segment, "=")
		switch name {
		case "alias":
			p.Aliases = splitList(value, "|")
		case SourceRoute, SourceConfig, SourceRequest, SourceCache:
			p.externals = append(p.externals, external{kind: name, name: value})
		case "cast":
			p.Cast = value
		case "union":
			p.Union = splitList(value, "|")
		case "resource":
			p.Resource = value
		case "model":
			p.Model = value
		case "default":
			v := value
			p.Default = &v
		case "hidden":
			p.Hidden = true
		case "encrypted":
			p.Encrypted = true
		case "exclude":
			p.Exclude = true
		case "required":
			p.Required = true
		default:
			return nil, fmt.Errorf("unknown annotation %q", segment)
		}
		if !hasValue && (name == "alias" || name == "cast" || name == "union" || name == "resource" || name == "default") {
			return nil, fmt.Errorf("annotation %q requires a value", name)
		}
	}

	if len(p.Union) > 0 && p.Type.Kind() != reflect.Interface {
		return nil, fmt.Errorf("union annotation requires an interface field, got %s", p.Type)
	}
	return p, nil
}

func splitList(value, sep string) []string {
	parts := strings.Split(value, sep)
	out := parts[:0]
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// formatKey converts a Go field name into the class key case.
func formatKey(name string, format text.CaseFormat) string {
	if format == text.CaseFormatUpperCamel {
		return name
	}
	return text.CaseFormatUpperCamel.Format(name, format)
}
