// envelope.go: Native serialization envelope and import scalars
//
// ToSerialize stores every declared value, hidden and externally sourced
// ones included, in a gob envelope together with the meta table under the
// reserved "__meta" key. FromSerialize strips the meta back out and
// rebuilds the instance through the regular builder.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package dto

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/gob"
	"fmt"
	"net/url"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agilira/go-errors"
)

// MetaKey is the reserved envelope key holding the meta table.
const MetaKey = "__meta"

func init() {
	gob.Register(map[string]any{})
	gob.Register([]any{})
	gob.Register(time.Time{})
	gob.Register(map[string]string{})
	gob.Register(map[string]int{})
	gob.Register(map[string]int64{})
	gob.Register(map[string]float64{})
	gob.Register(map[string]bool{})
}

var gobTypes sync.Map

// registerGob makes the concrete type of v decodable inside interfaces.
// Types gob refuses are left unregistered and fail at encode time.
func registerGob(v any) {
	t := reflect.TypeOf(v)
	if _, done := gobTypes.LoadOrStore(t, true); done {
		return
	}
	defer func() { _ = recover() }()
	gob.Register(v)
}

// nativeMeta reports whether values of t survive gob with their type intact.
func nativeMeta(t reflect.Type) bool {
	if t == timeType {
		return true
	}
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return true
	case reflect.Slice, reflect.Array:
		return nativeMeta(t.Elem())
	case reflect.Map:
		return nativeMeta(t.Key()) && nativeMeta(t.Elem())
	}
	return false
}

// storeMeta keeps meta values with their concrete types where gob allows
// and reduces the rest like declared values.
func storeMeta(meta map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		stored, err := storeMetaValue(v)
		if err != nil {
			return nil, err
		}
		out[k] = stored
	}
	return out, nil
}

func storeMetaValue(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return storeMeta(x)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			stored, err := storeMetaValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = stored
		}
		return out, nil
	}
	if nativeMeta(reflect.TypeOf(v)) {
		registerGob(v)
		return v, nil
	}
	return storeValue(v)
}

type envelope struct {
	Class   string
	Version string
	Data    map[string]any
}

type storedDTO interface {
	storedMap() (map[string]any, error)
}

func (b *Base) storedMap() (map[string]any, error) {
	inst, err := b.instance()
	if err != nil {
		return nil, err
	}
	return inst.storeMap()
}

// storeMap renders every declared value into gob friendly plain values.
func (inst *instance) storeMap() (map[string]any, error) {
	s := inst.schema
	opts := s.options()
	engine := newCastEngine(opts, inst.env)

	out := make(map[string]any, len(s.Params))
	for _, p := range s.Params {
		if p.Exclude || p.Type == requestType {
			continue
		}
		value := inst.field(p).Interface()
		if opts.isEncrypted(p) {
			plain, err := decryptField(inst, p, value)
			if err != nil {
				return nil, err
			}
			value = plain
		} else if caster := casterFor(p, opts.castFor(p)); caster != nil && value != nil {
			reduced, err := caster.Set(p.Key, value, out)
			if err != nil {
				return nil, invalidCastError(opts.name, p.Key, opts.castFor(p), err)
			}
			value = reduced
		} else if spec := opts.castFor(p); spec != "" {
			if isEnumValue(value) {
				value = enumBacking(value)
			} else {
				reduced, err := engine.out(p.Key, value, out, spec)
				if err != nil {
					return nil, err
				}
				value = reduced
			}
		}
		stored, err := storeValue(value)
		if err != nil {
			return nil, err
		}
		out[p.Key] = stored
	}
	return out, nil
}

// storeValue reduces v to values gob can carry inside interfaces.
func storeValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice:
		if rv.IsNil() {
			return nil, nil
		}
	}

	switch x := v.(type) {
	case storedDTO:
		return x.storedMap()
	case Record:
		return storeValue(x.Key())
	case time.Time:
		return x.Format(time.RFC3339Nano), nil
	case *time.Time:
		return x.Format(time.RFC3339Nano), nil
	case collectionValue:
		return storeValue(x.anyItems())
	case Enum:
		return enumBacking(x), nil
	case Arrayable:
		m, err := x.ToMap()
		if err != nil {
			return nil, err
		}
		return storeValue(m)
	case []byte:
		return x, nil
	}

	switch rv.Kind() {
	case reflect.Ptr:
		return storeValue(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			item, err := storeValue(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = item
		}
		return out, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, errors.New(ErrCodeInvalidType, fmt.Sprintf("cannot store map keyed by %s", rv.Type().Key()))
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			item, err := storeValue(iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			out[iter.Key().String()] = item
		}
		return out, nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if rv.Type().PkgPath() == "" {
			return v, nil
		}
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if rv.Type().PkgPath() == "" {
			return v, nil
		}
		return rv.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	}
	return nil, nil
}

// ToSerialize encodes the instance and its meta into the native envelope.
func (b *Base) ToSerialize() ([]byte, error) {
	inst, err := b.instance()
	if err != nil {
		return nil, err
	}
	data, err := inst.storeMap()
	if err != nil {
		return nil, err
	}
	if fired, ok := events.fire(inst.schema.Type, EventSerialize, data, inst.owner.Interface()).(map[string]any); ok {
		data = fired
	}

	meta, err := storeMeta(b.Meta())
	if err != nil {
		return nil, err
	}
	data[MetaKey] = meta

	env := envelope{Class: inst.schema.Name(), Version: inst.schema.options().version, Data: data}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(env); err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidPayload, fmt.Sprintf("%s: failed to encode envelope", env.Class))
	}
	return buf.Bytes(), nil
}

// FromSerialize rebuilds a *T from ToSerialize output, restoring its meta.
func FromSerialize[T any](ctx context.Context, data []byte, options ...BuildOption) (*T, error) {
	s, err := schemaFor(reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return nil, err
	}

	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidPayload, fmt.Sprintf("%s: failed to decode envelope", s.Name()))
	}
	if env.Class != "" && env.Class != s.Name() {
		return nil, errors.New(ErrCodeInvalidPayload, fmt.Sprintf("envelope holds %s, not %s", env.Class, s.Name())).
			WithContext("class", env.Class)
	}

	payload := make(map[string]any, len(env.Data))
	for k, v := range env.Data {
		payload[k] = v
	}
	if fired, ok := events.fire(s.Type, EventUnserialize, payload).(map[string]any); ok {
		payload = fired
	}
	meta, _ := toPlainMap(payload[MetaKey])
	delete(payload, MetaKey)

	owner, err := newBuilder(ctx, s, options...).build(payload, sourceSerialize)
	if err != nil {
		return nil, err
	}
	if inst, ok := lookupInstance(baseOf(owner)); ok && len(meta) > 0 {
		inst.mu.Lock()
		for k, v := range meta {
			inst.meta[k] = v
		}
		inst.mu.Unlock()
	}
	return owner.Interface().(*T), nil
}

// Envelope is the decoded form of ToSerialize output.
type Envelope struct {
	Class   string
	Version string
	Data    map[string]any
	Meta    map[string]any
}

// DecodeEnvelope reads ToSerialize output without building an instance.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidPayload, "failed to decode envelope")
	}
	out := &Envelope{Class: env.Class, Version: env.Version, Data: map[string]any{}, Meta: map[string]any{}}
	for k, v := range env.Data {
		if k == MetaKey {
			if meta, ok := toPlainMap(v); ok {
				out.Meta = meta
			}
			continue
		}
		out.Data[k] = v
	}
	return out, nil
}

func decodeEnvelope(data []byte) (envelope, error) {
	var env envelope
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&env)
	return env, err
}

// ToImport returns the single-scalar form selected by the class import mode.
func (b *Base) ToImport() (string, error) {
	inst, err := b.instance()
	if err != nil {
		return "", err
	}
	opts := inst.schema.options()

	switch opts.importMode {
	case ImportSerialize:
		raw, err := b.ToSerialize()
		if err != nil {
			return "", err
		}
		return base64.StdEncoding.EncodeToString(raw), nil
	case ImportJSON:
		raw, err := b.ToJSON()
		if err != nil {
			return "", err
		}
		return string(raw), nil
	case ImportMethod:
		v, found, err := callHook(inst.owner, opts.importMethod)
		if !found {
			return "", undefinedPropertyError(opts.name, opts.importMethod)
		}
		if err != nil {
			return "", err
		}
		return toString(v)
	}

	m, err := b.ToMap()
	if err != nil {
		return "", err
	}
	return EncodeQuery(m), nil
}

// FromImport rebuilds a *T from a ToImport scalar of its class.
func FromImport[T any](ctx context.Context, text string, options ...BuildOption) (*T, error) {
	s, err := schemaFor(reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return nil, err
	}
	opts := s.options()

	switch opts.importMode {
	case ImportSerialize:
		raw, err := base64.StdEncoding.DecodeString(text)
		if err != nil {
			return nil, errors.Wrap(err, ErrCodeInvalidPayload, fmt.Sprintf("%s: invalid base64 import", opts.name))
		}
		return FromSerialize[T](ctx, raw, options...)
	case ImportJSON:
		return FromJSON[T](ctx, []byte(text), options...)
	case ImportMethod:
		if opts.importParse == nil {
			return nil, errors.New(ErrCodeInvalidConfig, fmt.Sprintf("%s: import method %q has no parser", opts.name, opts.importMethod))
		}
		data, err := opts.importParse(text)
		if err != nil {
			return nil, errors.Wrap(err, ErrCodeInvalidPayload, fmt.Sprintf("%s: import parse failed", opts.name))
		}
		return buildAs[T](ctx, data, sourceArray, options...)
	}

	data, err := DecodeQuery(text)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidPayload, fmt.Sprintf("%s: invalid import query", opts.name))
	}
	return buildAs[T](ctx, data, sourceArray, options...)
}

// EncodeQuery renders m with bracket notation for nested keys, sorted by key.
// Nil values are omitted and booleans become 1 or 0.
func EncodeQuery(m map[string]any) string {
	var pairs []string
	var walk func(prefix string, v any)
	walk = func(prefix string, v any) {
		switch x := v.(type) {
		case nil:
		case map[string]any:
			keys := make([]string, 0, len(x))
			for k := range x {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				walk(prefix+"["+k+"]", x[k])
			}
		case []any:
			for i, item := range x {
				walk(prefix+"["+strconv.Itoa(i)+"]", item)
			}
		case bool:
			flag := "0"
			if x {
				flag = "1"
			}
			pairs = append(pairs, url.QueryEscape(prefix)+"="+flag)
		default:
			text, err := toString(x)
			if err != nil {
				return
			}
			pairs = append(pairs, url.QueryEscape(prefix)+"="+url.QueryEscape(text))
		}
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		walk(k, m[k])
	}
	return strings.Join(pairs, "&")
}

// DecodeQuery parses bracket notation back into nested maps. Maps whose keys
// are exactly 0..n-1 become lists.
func DecodeQuery(text string) (map[string]any, error) {
	values, err := url.ParseQuery(strings.TrimPrefix(text, "?"))
	if err != nil {
		return nil, err
	}
	root := map[string]any{}
	for name, vals := range values {
		if len(vals) == 0 {
			continue
		}
		path := splitBrackets(name)
		node := root
		for i, part := range path {
			if i == len(path)-1 {
				node[part] = vals[len(vals)-1]
				break
			}
			child, ok := node[part].(map[string]any)
			if !ok {
				child = map[string]any{}
				node[part] = child
			}
			node = child
		}
	}
	for k, child := range root {
		root[k] = listify(child)
	}
	return root, nil
}

func splitBrackets(name string) []string {
	head, rest, found := strings.Cut(name, "[")
	if !found {
		return []string{name}
	}
	parts := []string{head}
	for _, seg := range strings.Split(rest, "[") {
		parts = append(parts, strings.TrimSuffix(seg, "]"))
	}
	return parts
}

func listify(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	for k, child := range m {
		m[k] = listify(child)
	}
	if len(m) == 0 {
		return m
	}
	items := make([]any, len(m))
	for i := range items {
		item, ok := m[strconv.Itoa(i)]
		if !ok {
			return m
		}
		items[i] = item
	}
	return items
}
