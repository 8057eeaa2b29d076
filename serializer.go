// serializer.go: Map, JSON, Base64 and YAML output of DTO instances
//
// Output walks declared parameters in order, skipping hidden, excluded
// and externally sourced ones. Values are decrypted, transformed by
// resources and Reduce<Field> methods, then flattened recursively into
// plain values. Enum and caster reductions run over the whole result,
// and With<Name> methods are appended last.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package dto

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agilira/go-errors"
	"github.com/francoispqt/gojay"
	"go.yaml.in/yaml/v3"
)

// Arrayable values expose a map form and are flattened through it.
type Arrayable interface {
	ToMap() (map[string]any, error)
}

// ResourceFunc transforms a property value during output.
type ResourceFunc func(value any) (any, error)

var (
	resourceMu sync.RWMutex
	resources  = map[string]ResourceFunc{}
)

// RegisterResource makes name usable in `resource=` annotations.
func RegisterResource(name string, fn ResourceFunc) error {
	if name == "" || fn == nil {
		return errors.New(ErrCodeInvalidConfig, "resource name and function are required")
	}
	resourceMu.Lock()
	defer resourceMu.Unlock()
	resources[name] = fn
	return nil
}

func lookupResource(name string) (ResourceFunc, bool) {
	resourceMu.RLock()
	defer resourceMu.RUnlock()
	fn, ok := resources[name]
	return fn, ok
}

// record is an insertion-ordered map used for ordered output.
type record struct {
	keys   []string
	values map[string]any
}

func newRecord(size int) *record {
	return &record{keys: make([]string, 0, size), values: make(map[string]any, size)}
}

func (r *record) set(key string, value any) {
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

func (r *record) plain() map[string]any {
	out := make(map[string]any, len(r.keys))
	for _, k := range r.keys {
		out[k] = plainValue(r.values[k])
	}
	return out
}

// MarshalJSONObject implements gojay.MarshalerJSONObject.
func (r *record) MarshalJSONObject(enc *gojay.Encoder) {
	for _, k := range r.keys {
		switch v := r.values[k].(type) {
		case *record:
			enc.AddObjectKey(k, v)
		case list:
			enc.AddArrayKey(k, v)
		default:
			embedded := embedJSON(v)
			enc.AddEmbeddedJSONKey(k, &embedded)
		}
	}
}

// IsNil implements gojay.MarshalerJSONObject.
func (r *record) IsNil() bool { return r == nil }

// list is an ordered sequence of flattened values.
type list []any

// MarshalJSONArray implements gojay.MarshalerJSONArray.
func (l list) MarshalJSONArray(enc *gojay.Encoder) {
	for _, item := range l {
		switch v := item.(type) {
		case *record:
			enc.AddObject(v)
		case list:
			enc.AddArray(v)
		default:
			embedded := embedJSON(v)
			enc.AddEmbeddedJSON(&embedded)
		}
	}
}

// IsNil implements gojay.MarshalerJSONArray.
func (l list) IsNil() bool { return false }

func embedJSON(v any) gojay.EmbeddedJSON {
	encoded, err := json.Marshal(v)
	if err != nil {
		return gojay.EmbeddedJSON("null")
	}
	return gojay.EmbeddedJSON(encoded)
}

func encodeJSON(v any) ([]byte, error) {
	var (
		out []byte
		err error
	)
	switch x := v.(type) {
	case *record:
		out, err = gojay.MarshalJSONObject(x)
	case list:
		out, err = gojay.MarshalJSONArray(x)
	default:
		out, err = json.Marshal(x)
	}
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidPayload, "failed to encode JSON")
	}
	return out, nil
}

func plainValue(v any) any {
	switch x := v.(type) {
	case *record:
		return x.plain()
	case list:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = plainValue(item)
		}
		return out
	}
	return v
}

// orderedDTO is satisfied by every *T embedding Base.
type orderedDTO interface {
	orderedRecord() (*record, error)
}

func (b *Base) orderedRecord() (*record, error) {
	inst, err := b.instance()
	if err != nil {
		return nil, err
	}
	return inst.toRecord()
}

// flatten reduces v to plain maps, slices and scalars.
func flatten(v any, layout string) (any, bool, error) {
	out, keep, err := flattenOrdered(v, layout)
	if err != nil || !keep {
		return nil, keep, err
	}
	return plainValue(out), true, nil
}

// flattenOrdered reduces v to records, lists and scalars. The boolean is
// false for values with no known reduction, which are dropped.
func flattenOrdered(v any, layout string) (any, bool, error) {
	if v == nil {
		return nil, true, nil
	}
	rv := reflect.ValueOf(v)
	if (rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface || rv.Kind() == reflect.Map || rv.Kind() == reflect.Slice) && rv.IsNil() {
		return nil, true, nil
	}

	switch x := v.(type) {
	case *record, list:
		return x, true, nil
	case orderedDTO:
		rec, err := x.orderedRecord()
		return rec, err == nil, err
	case Record:
		return x.Key(), true, nil
	case time.Time:
		return x.Format(layout), true, nil
	case *time.Time:
		return x.Format(layout), true, nil
	case collectionValue:
		return flattenList(x.anyItems(), layout)
	case Arrayable:
		m, err := x.ToMap()
		if err != nil {
			return nil, false, err
		}
		return flattenOrdered(m, layout)
	case Enum:
		return enumBacking(x), true, nil
	case []byte:
		return string(x), true, nil
	case json.Number:
		return x, true, nil
	}

	switch rv.Kind() {
	case reflect.Ptr:
		return flattenOrdered(rv.Elem().Interface(), layout)
	case reflect.Slice, reflect.Array:
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return flattenList(items, layout)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false, nil
		}
		keys := make([]string, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		rec := newRecord(len(keys))
		for _, k := range keys {
			item, keep, err := flattenOrdered(rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key())).Interface(), layout)
			if err != nil {
				return nil, false, err
			}
			if keep {
				rec.set(k, item)
			}
		}
		return rec, true, nil
	case reflect.Struct, reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return nil, false, nil
	case reflect.Float32, reflect.Float64:
		if f := rv.Float(); math.IsInf(f, 0) || math.IsNaN(f) {
			return formatFloat(f), true, nil
		}
	}
	return v, true, nil
}

func flattenList(items []any, layout string) (any, bool, error) {
	out := make(list, 0, len(items))
	for _, item := range items {
		v, keep, err := flattenOrdered(item, layout)
		if err != nil {
			return nil, false, err
		}
		if keep {
			out = append(out, v)
		}
	}
	return out, true, nil
}

func (inst *instance) layout() string {
	if layout := inst.schema.options().dateFormat; layout != "" {
		return layout
	}
	return inst.env.dateFormat()
}

// toRecord produces the ordered output form of the instance.
func (inst *instance) toRecord() (*record, error) {
	s := inst.schema
	opts := s.options()
	layout := inst.layout()
	engine := newCastEngine(opts, inst.env)

	rec := newRecord(len(s.Params))
	typed := make(map[string]any, len(s.Params))
	for _, p := range s.Params {
		if opts.isHidden(p) || p.Exclude || p.External() {
			continue
		}
		value := inst.field(p).Interface()
		spec := opts.castFor(p)
		cs := parseCast(spec)

		if opts.isEncrypted(p) {
			plain, err := decryptField(inst, p, value)
			if err != nil {
				return nil, err
			}
			value = plain
			if spec != "" && cs.name != "encrypted" {
				if value, err = engine.in(p.Key, value, nil, spec); err != nil {
					return nil, err
				}
			}
		}

		if p.Resource != "" {
			fn, ok := lookupResource(p.Resource)
			if !ok {
				return nil, invalidCastError(opts.name, p.Key, "resource:"+p.Resource, nil)
			}
			transformed, err := fn(value)
			if err != nil {
				return nil, errors.Wrap(err, ErrCodeInvalidCast, fmt.Sprintf("%s: resource %s failed", opts.name, p.Resource))
			}
			value = transformed
		}

		if reduced, found, err := callHook(inst.owner, "Reduce"+p.Name, value); found {
			if err != nil {
				return nil, err
			}
			value = reduced
		}

		if spec != "" && isPrimitiveCast(cs.name) {
			value = engine.primitiveOut(cs, value)
		}

		// caster output is filled in by the second pass; reserve the position
		if casterFor(p, spec) != nil {
			typed[p.Key] = value
			rec.set(p.Key, nil)
			continue
		}

		out, keep, err := flattenOrdered(value, layout)
		if err != nil {
			return nil, err
		}
		if !keep {
			continue
		}
		typed[p.Key] = value
		rec.set(p.Key, out)
	}

	plain := rec.plain()
	for _, p := range s.Params {
		value, ok := typed[p.Key]
		if !ok || value == nil {
			continue
		}
		if isEnumValue(value) {
			rec.set(p.Key, enumBacking(value))
			continue
		}
		caster := casterFor(p, opts.castFor(p))
		if caster == nil {
			continue
		}
		out, err := caster.Set(p.Key, value, plain)
		if err != nil {
			return nil, invalidCastError(opts.name, p.Key, opts.castFor(p), err)
		}
		flat, keep, err := flattenOrdered(out, layout)
		if err != nil {
			return nil, err
		}
		if keep {
			rec.set(p.Key, flat)
		}
	}

	for _, method := range computedMethods(inst.owner) {
		value, _, err := callHook(inst.owner, method)
		if err != nil {
			return nil, err
		}
		out, keep, err := flattenOrdered(value, layout)
		if err != nil {
			return nil, err
		}
		if keep {
			rec.set(formatKey(strings.TrimPrefix(method, "With"), opts.caseFormat), out)
		}
	}
	return rec, nil
}

// casterFor returns the class caster named by spec, or provided by the field type.
func casterFor(p *Param, spec string) Caster {
	if spec != "" {
		cs := parseCast(spec)
		if factory, ok := lookupCaster(cs.name); ok {
			return factory(cs.args...)
		}
		return nil
	}
	if p.Type.Kind() != reflect.Ptr && p.Type.Implements(casterProviderType) {
		return reflect.Zero(p.Type).Interface().(CasterProvider).Caster()
	}
	return nil
}

// ToMap returns the plain map form.
func (b *Base) ToMap() (map[string]any, error) {
	rec, err := b.orderedRecord()
	if err != nil {
		return nil, err
	}
	return rec.plain(), nil
}

// ToJSON returns the JSON form with keys in declaration order.
func (b *Base) ToJSON() ([]byte, error) {
	rec, err := b.orderedRecord()
	if err != nil {
		return nil, err
	}
	return encodeJSON(rec)
}

// ToBase64 returns the base64 encoding of ToJSON.
func (b *Base) ToBase64() (string, error) {
	out, err := b.ToJSON()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

// ToYAML returns the YAML form with keys in declaration order.
func (b *Base) ToYAML() ([]byte, error) {
	rec, err := b.orderedRecord()
	if err != nil {
		return nil, err
	}
	node, err := yamlNode(rec)
	if err != nil {
		return nil, err
	}
	out, err := yaml.Marshal(node)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidPayload, "failed to encode YAML")
	}
	return out, nil
}

func yamlNode(v any) (*yaml.Node, error) {
	switch x := v.(type) {
	case *record:
		node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, k := range x.keys {
			child, err := yamlNode(x.values[k])
			if err != nil {
				return nil, err
			}
			node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k}, child)
		}
		return node, nil
	case list:
		node := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range x {
			child, err := yamlNode(item)
			if err != nil {
				return nil, err
			}
			node.Content = append(node.Content, child)
		}
		return node, nil
	}
	node := &yaml.Node{}
	if err := node.Encode(v); err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidPayload, "failed to encode YAML value")
	}
	return node, nil
}
