// entry.go: Typed entry points for building DTOs from every supported input
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package dto

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/agilira/go-errors"
	"go.yaml.in/yaml/v3"
)

// FromMap builds a *T from a plain map.
func FromMap[T any](ctx context.Context, data map[string]any, options ...BuildOption) (*T, error) {
	return buildAs[T](ctx, data, sourceArray, options...)
}

// FromJSON builds a *T from a JSON object.
func FromJSON[T any](ctx context.Context, data []byte, options ...BuildOption) (*T, error) {
	m, err := decodeJSONObject(data)
	if err != nil {
		return nil, err
	}
	return buildAs[T](ctx, m, sourceJSON, options...)
}

// FromBase64 builds a *T from base64 encoded JSON, the inverse of ToBase64.
func FromBase64[T any](ctx context.Context, text string, options ...BuildOption) (*T, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(text))
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidPayload, "input is not valid base64")
	}
	return FromJSON[T](ctx, raw, options...)
}

// FromYAML builds a *T from a YAML mapping.
func FromYAML[T any](ctx context.Context, data []byte, options ...BuildOption) (*T, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidPayload, "input is not a YAML mapping")
	}
	if m == nil {
		m = map[string]any{}
	}
	return buildAs[T](ctx, m, sourceArray, options...)
}

// FromModel builds a *T from the attributes of a record.
func FromModel[T any](ctx context.Context, rec Record, options ...BuildOption) (*T, error) {
	if rec == nil {
		return nil, errors.New(ErrCodeModelBindingFailed, "record is nil")
	}
	return buildAs[T](ctx, rec.Attributes(), sourceModel, options...)
}

// FromEmpty builds a *T with zero defaults for every parameter not supplied by hooks.
func FromEmpty[T any](ctx context.Context, options ...BuildOption) (*T, error) {
	return buildAs[T](ctx, map[string]any{}, sourceEmpty, options...)
}

// FromRequest builds a *T from query values, form fields and a JSON body.
// Later sources win. Request markers read r and route markers read its path
// values unless the environment already provides a route source.
func FromRequest[T any](ctx context.Context, r *http.Request, options ...BuildOption) (*T, error) {
	if r == nil {
		return nil, errors.New(ErrCodeInvalidPayload, "request is nil")
	}
	if ctx == nil {
		ctx = r.Context()
	}
	s, err := schemaFor(reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return nil, err
	}

	data, err := requestData(r)
	if err != nil {
		return nil, err
	}

	env := EnvFrom(ctx).Clone()
	env.Request = RequestSource{Request: r}
	if env.Route == nil {
		env.Route = PathSource{Request: r}
	}
	b := newBuilder(WithEnv(ctx, env), s, options...)
	b.request = r

	owner, err := b.build(data, sourceRequest)
	if err != nil {
		return nil, err
	}
	return owner.Interface().(*T), nil
}

func requestData(r *http.Request) (map[string]any, error) {
	data := map[string]any{}
	for k, v := range r.URL.Query() {
		data[k] = lastValue(v)
	}
	if r.Body == nil || r.Method == http.MethodGet || r.Method == http.MethodHead {
		return data, nil
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, errors.Wrap(err, ErrCodeIOError, "failed to read request body")
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		if len(bytes.TrimSpace(body)) == 0 {
			return data, nil
		}
		m, err := decodeJSONObject(body)
		if err != nil {
			return nil, err
		}
		for k, v := range m {
			data[k] = v
		}
	default:
		if err := r.ParseForm(); err != nil {
			return nil, errors.Wrap(err, ErrCodeInvalidPayload, "failed to parse request form")
		}
		for k, v := range r.PostForm {
			data[k] = lastValue(v)
		}
	}
	return data, nil
}

// lastValue keeps single values scalar and repeated ones as a list.
func lastValue(values []string) any {
	if len(values) == 1 {
		return values[0]
	}
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// FromURL fetches url with GET through the environment Fetcher and builds
// a *T from the JSON response.
func FromURL[T any](ctx context.Context, url string, headers map[string]string, options ...BuildOption) (*T, error) {
	fetcher := EnvFrom(ctx).Fetcher
	if fetcher == nil {
		fetcher = NewHTTPFetcher(nil)
	}
	if headers == nil {
		headers = map[string]string{}
	}
	if _, ok := headers["Accept"]; !ok {
		headers["Accept"] = "application/json"
	}
	_, body, err := fetcher.Request(ctx, http.MethodGet, url, headers, nil)
	if err != nil {
		return nil, err
	}
	return FromJSON[T](ctx, body, options...)
}

// FromCache returns the *T cached under key. On a miss fallback produces the
// value, which is stored for ttl in serialized form.
func FromCache[T any](ctx context.Context, key string, ttl time.Duration, fallback func(context.Context) (*T, error)) (*T, error) {
	cache := EnvFrom(ctx).Cache
	if cache == nil {
		return nil, errors.New(ErrCodeInvalidConfig, "no cache configured")
	}

	if cached, ok := cache.Get(key); ok {
		switch v := cached.(type) {
		case *T:
			return v, nil
		case []byte:
			return FromSerialize[T](ctx, v)
		}
	}

	if fallback == nil {
		return nil, errors.New(ErrCodeUndefinedCache, fmt.Sprintf("nothing cached under %q", key)).
			WithContext("key", key)
	}
	v, err := fallback(ctx)
	if err != nil {
		return nil, err
	}
	b, err := baseFor(v)
	if err != nil {
		return nil, err
	}
	raw, err := b.ToSerialize()
	if err != nil {
		return nil, err
	}
	cache.Set(key, raw, ttl)
	return v, nil
}

// FromFile builds a *T from a .json, .yaml or .yml file.
func FromFile[T any](ctx context.Context, path string, options ...BuildOption) (*T, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeIOError, fmt.Sprintf("failed to read %s", path))
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FromJSON[T](ctx, data, options...)
	case ".yaml", ".yml":
		return FromYAML[T](ctx, data, options...)
	}
	return nil, errors.New(ErrCodeInvalidPayload, fmt.Sprintf("unsupported file type %q", filepath.Ext(path)))
}

// SaveFile writes the map form of v as JSON or YAML depending on the
// extension of path. The file is replaced atomically.
func SaveFile(v any, path string) error {
	b, err := baseFor(v)
	if err != nil {
		return err
	}
	var data []byte
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = b.ToJSON()
	case ".yaml", ".yml":
		data, err = b.ToYAML()
	default:
		return errors.New(ErrCodeInvalidPayload, fmt.Sprintf("unsupported file type %q", filepath.Ext(path)))
	}
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data)
}

// WriteFileAtomic writes data to a temporary file next to path and renames
// it over path.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tempPath := filepath.Join(dir, "."+filepath.Base(path)+".tmp."+fmt.Sprintf("%d", time.Now().UnixNano()))

	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return errors.Wrap(err, ErrCodeIOError, "failed to write temp file")
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return errors.Wrap(err, ErrCodeIOError, "failed to rename temp file")
	}
	return nil
}

func decodeJSONObject(data []byte) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidPayload, "input is not a JSON object")
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}
