// collection.go: Ordered collection of DTO instances
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package dto

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"reflect"

	"github.com/agilira/go-errors"
)

// collectionValue lets the builder fill collections without knowing T.
type collectionValue interface {
	itemType() reflect.Type
	appendAny(v any) error
	anyItems() []any
}

// Collection is an ordered sequence of items with meta annotations.
type Collection[T any] struct {
	items []T
	meta  map[string]any
}

// NewCollection wraps items.
func NewCollection[T any](items ...T) *Collection[T] {
	return &Collection[T]{items: append([]T(nil), items...), meta: map[string]any{}}
}

func (c *Collection[T]) itemType() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func (c *Collection[T]) appendAny(v any) error {
	if v == nil {
		var zero T
		c.items = append(c.items, zero)
		return nil
	}
	item, ok := v.(T)
	if !ok {
		rv, err := convertValue(v, c.itemType())
		if err != nil {
			return err
		}
		item = rv.Interface().(T)
	}
	c.items = append(c.items, item)
	return nil
}

func (c *Collection[T]) anyItems() []any {
	out := make([]any, len(c.items))
	for i, item := range c.items {
		out[i] = item
	}
	return out
}

// Items returns a copy of the items.
func (c *Collection[T]) Items() []T {
	return append([]T(nil), c.items...)
}

// Len returns the number of items.
func (c *Collection[T]) Len() int {
	if c == nil {
		return 0
	}
	return len(c.items)
}

// At returns the item at i.
func (c *Collection[T]) At(i int) (T, bool) {
	var zero T
	if c == nil || i < 0 || i >= len(c.items) {
		return zero, false
	}
	return c.items[i], true
}

// Append adds items at the end.
func (c *Collection[T]) Append(items ...T) {
	c.items = append(c.items, items...)
}

// Meta returns a copy of the collection annotations.
func (c *Collection[T]) Meta() map[string]any {
	out := make(map[string]any, len(c.meta))
	for k, v := range c.meta {
		out[k] = v
	}
	return out
}

// SetMeta stores an annotation.
func (c *Collection[T]) SetMeta(key string, value any) {
	if c.meta == nil {
		c.meta = map[string]any{}
	}
	c.meta[key] = value
}

// ToSlice returns the map form of every item.
func (c *Collection[T]) ToSlice() ([]any, error) {
	out := make([]any, 0, len(c.items))
	for i, item := range c.items {
		v, keep, err := flatten(item, DefaultEnv().dateFormat())
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		if keep {
			out = append(out, v)
		}
	}
	return out, nil
}

// ToJSON encodes the items in order.
func (c *Collection[T]) ToJSON() ([]byte, error) {
	out := make(list, 0, len(c.items))
	for i, item := range c.items {
		v, keep, err := flattenOrdered(item, DefaultEnv().dateFormat())
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		if keep {
			out = append(out, v)
		}
	}
	return encodeJSON(out)
}

type collectionEnvelope struct {
	Items []any
	Meta  map[string]any
}

// Serialize encodes items and meta into the native envelope.
func (c *Collection[T]) Serialize() ([]byte, error) {
	meta, err := storeMeta(c.Meta())
	if err != nil {
		return nil, err
	}
	env := collectionEnvelope{Items: make([]any, len(c.items)), Meta: meta}
	for i, item := range c.items {
		v, err := storeValue(item)
		if err != nil {
			return nil, err
		}
		env.Items[i] = v
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(env); err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidPayload, "failed to encode collection")
	}
	return buf.Bytes(), nil
}

// UnserializeCollection decodes an envelope produced by Serialize into
// a collection of *T, rebuilding every item.
func UnserializeCollection[T any](ctx context.Context, data []byte) (*Collection[*T], error) {
	var env collectionEnvelope
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&env); err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidPayload, "failed to decode collection")
	}
	out := NewCollection[*T]()
	for i, item := range env.Items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, errors.New(ErrCodeInvalidPayload, fmt.Sprintf("collection item %d is not an object", i))
		}
		v, err := buildAs[T](ctx, m, sourceSerialize)
		if err != nil {
			out.Dispose()
			return nil, err
		}
		out.Append(v)
	}
	for k, v := range env.Meta {
		out.SetMeta(k, v)
	}
	return out, nil
}

// CollectMaps builds one *T per row.
func CollectMaps[T any](ctx context.Context, rows []map[string]any, options ...BuildOption) (*Collection[*T], error) {
	out := NewCollection[*T]()
	for _, row := range rows {
		v, err := buildAs[T](ctx, row, sourceArray, options...)
		if err != nil {
			out.Dispose()
			return nil, err
		}
		out.Append(v)
	}
	return out, nil
}

// Dispose disposes every DTO item along with its nested instances.
func (c *Collection[T]) Dispose() {
	if c == nil {
		return
	}
	for _, item := range c.items {
		rv := reflect.ValueOf(any(item))
		if !rv.IsValid() || (rv.Kind() == reflect.Ptr && rv.IsNil()) {
			continue
		}
		if d, ok := rv.Interface().(interface{ Dispose() }); ok {
			d.Dispose()
		}
	}
}

// InsertInto writes the map form of every item to sink.
func (c *Collection[T]) InsertInto(ctx context.Context, sink TableSink) error {
	rows := make([]map[string]any, 0, len(c.items))
	for i, item := range c.items {
		v, keep, err := flatten(item, DefaultEnv().dateFormat())
		if err != nil {
			return err
		}
		row, ok := v.(map[string]any)
		if !keep || !ok {
			return errors.New(ErrCodeInvalidType, fmt.Sprintf("collection item %d cannot be stored as a row", i))
		}
		rows = append(rows, row)
	}
	return sink.Insert(ctx, rows)
}

// Call invokes method on every item and returns the first result of each.
// It fails without calling anything unless every item has the method.
func (c *Collection[T]) Call(method string, args ...any) ([]any, error) {
	targets := make([]reflect.Value, len(c.items))
	for i, item := range c.items {
		rv := reflect.ValueOf(item)
		if !rv.IsValid() || !rv.MethodByName(method).IsValid() {
			return nil, errors.New(ErrCodeUndefinedProperty, fmt.Sprintf("item %d does not support %s", i, method)).
				WithContext("method", method)
		}
		targets[i] = rv
	}

	out := make([]any, len(targets))
	for i, rv := range targets {
		m := rv.MethodByName(method)
		mt := m.Type()
		if !mt.IsVariadic() && mt.NumIn() != len(args) {
			return nil, errors.New(ErrCodeInvalidType, fmt.Sprintf("%s expects %d arguments", method, mt.NumIn()))
		}
		if mt.IsVariadic() && len(args) < mt.NumIn()-1 {
			return nil, errors.New(ErrCodeInvalidType, fmt.Sprintf("%s expects at least %d arguments", method, mt.NumIn()-1))
		}
		in := make([]reflect.Value, len(args))
		for j, arg := range args {
			want := mt.In(min(j, mt.NumIn()-1))
			if mt.IsVariadic() && j >= mt.NumIn()-1 {
				want = want.Elem()
			}
			v, err := convertValue(arg, want)
			if err != nil {
				return nil, errors.Wrap(err, ErrCodeInvalidType, fmt.Sprintf("argument %d of %s", j, method))
			}
			in[j] = v
		}

		results := m.Call(in)
		if n := len(results); n > 0 && mt.Out(n-1) == errorType {
			if !results[n-1].IsNil() {
				return nil, results[n-1].Interface().(error)
			}
			results = results[:n-1]
		}
		if len(results) > 0 {
			out[i] = results[0].Interface()
		}
	}
	return out, nil
}
