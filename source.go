// source.go: Key-value sources and source-key resolution
//
// Route, config, request and cache markers pull values from a Source
// instead of the raw input map. Sources share a single lookup contract so
// framework services can be adapted with a few lines.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package dto

import (
	"net/http"
	"os"
	"strings"
)

// Source is a key-value lookup collaborator.
type Source interface {
	Lookup(name string) (any, bool)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(name string) (any, bool)

// Lookup implements Source.
func (f SourceFunc) Lookup(name string) (any, bool) { return f(name) }

// MapSource is a flat map lookup.
type MapSource map[string]any

// Lookup implements Source.
func (m MapSource) Lookup(name string) (any, bool) {
	v, ok := m[name]
	return v, ok
}

// ConfigSource resolves dotted keys ("app.db.host") through nested maps.
type ConfigSource map[string]any

// Lookup implements Source.
func (c ConfigSource) Lookup(key string) (any, bool) {
	if !strings.Contains(key, ".") {
		val, exists := c[key]
		return val, exists
	}

	parts := strings.Split(key, ".")
	current := map[string]any(c)
	for i, part := range parts {
		val, exists := current[part]
		if !exists {
			return nil, false
		}
		if i == len(parts)-1 {
			return val, true
		}
		nested, ok := val.(map[string]any)
		if !ok {
			return nil, false
		}
		current = nested
	}
	return nil, false
}

// EnvSource reads environment variables. Keys are upper-cased, dots become
// underscores and the prefix is prepended: "app.name" with prefix "DTO" reads DTO_APP_NAME.
type EnvSource struct {
	Prefix string
}

// Lookup implements Source.
func (e EnvSource) Lookup(key string) (any, bool) {
	name := strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
	if e.Prefix != "" {
		name = strings.ToUpper(e.Prefix) + "_" + name
	}
	return os.LookupEnv(name)
}

// RequestSource reads live request fields: query, then form, then headers.
type RequestSource struct {
	Request *http.Request
}

// Lookup implements Source.
func (r RequestSource) Lookup(name string) (any, bool) {
	if r.Request == nil {
		return nil, false
	}
	if values, ok := r.Request.URL.Query()[name]; ok && len(values) > 0 {
		return values[0], true
	}
	if r.Request.Form == nil {
		_ = r.Request.ParseForm()
	}
	if values, ok := r.Request.PostForm[name]; ok && len(values) > 0 {
		return values[0], true
	}
	if v := r.Request.Header.Get(name); v != "" {
		return v, true
	}
	return nil, false
}

// PathSource reads route wildcards matched by http.ServeMux.
type PathSource struct {
	Request *http.Request
}

// Lookup implements Source.
func (p PathSource) Lookup(name string) (any, bool) {
	if p.Request == nil {
		return nil, false
	}
	if v := p.Request.PathValue(name); v != "" {
		return v, true
	}
	return nil, false
}

// resolvedKey is the outcome of source-key resolution.
type resolvedKey struct {
	key      string
	missed   []string
	external bool
}

// resolveKey determines which input key supplies p. External markers inject
// into input under the resolved key; when several are present the last wins.
func resolveKey(input map[string]any, p *Param, env *Env) resolvedKey {
	res := resolvedKey{key: p.Key}

	if _, ok := input[p.Key]; !ok {
		for _, alias := range p.Aliases {
			if _, ok := input[alias]; ok {
				res.key = alias
				break
			}
			res.missed = append(res.missed, alias)
		}
	}

	for _, marker := range p.externals {
		name := marker.name
		if name == "" {
			name = res.key
		}
		res.external = true
		src := env.source(marker.kind)
		if src == nil {
			continue
		}
		if value, ok := src.Lookup(name); ok {
			input[res.key] = value
		}
	}
	return res
}

func (e *Env) source(kind string) Source {
	if e == nil {
		return nil
	}
	switch kind {
	case SourceRoute:
		return e.Route
	case SourceConfig:
		return e.Config
	case SourceRequest:
		return e.Request
	case SourceCache:
		if e.Cache != nil {
			return SourceFunc(e.Cache.Get)
		}
	}
	return nil
}
