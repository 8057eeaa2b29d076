// base.go: Base type embedded by every DTO
//
// Base gives a DTO its accessor surface: reads through Get, the single
// sanctioned write path Set, the originals snapshot, meta, logs and
// explicit disposal. Direct name-based writes through Assign always fail.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package dto

import (
	"context"
	"fmt"
	"reflect"

	"github.com/agilira/go-errors"
)

// Base must be embedded (by value) in every DTO struct.
type Base struct {
	handle uint64
	schema *Schema
}

func (b *Base) instance() (*instance, error) {
	inst, ok := lookupInstance(b)
	if !ok {
		return nil, errors.New(ErrCodeNotBuilt, "instance was not built by the dto runtime or has been disposed")
	}
	return inst, nil
}

// Class returns the class name, or an empty string for unbuilt values.
func (b *Base) Class() string {
	if b == nil || b.schema == nil {
		return ""
	}
	return b.schema.Name()
}

// Version returns the configured class version.
func (b *Base) Version() string {
	if b == nil || b.schema == nil {
		return ""
	}
	return b.schema.options().version
}

// Has reports whether name resolves to a declared, lazy or computed property.
func (b *Base) Has(name string) bool {
	inst, err := b.instance()
	if err != nil {
		return false
	}
	if _, ok := inst.schema.Param(name); ok {
		return true
	}
	for _, prefix := range []string{"Lazy", "With", "Get"} {
		if inst.owner.MethodByName(prefix + pascal(name)).IsValid() {
			return true
		}
	}
	return false
}

// Get reads a declared field (decrypting if needed), then a memoized
// Lazy<Name> value, then a With<Name> or Get<Name> computed value.
func (b *Base) Get(name string) (any, error) {
	inst, err := b.instance()
	if err != nil {
		return nil, err
	}
	opts := inst.schema.options()

	if p, ok := inst.schema.Param(name); ok {
		value := inst.field(p).Interface()
		if opts.isEncrypted(p) {
			return decryptField(inst, p, value)
		}
		return value, nil
	}

	method := pascal(name)
	inst.mu.Lock()
	cached, ok := inst.lazy[name]
	inst.mu.Unlock()
	if ok {
		return cached, nil
	}
	if v, found, err := callHook(inst.owner, "Lazy"+method); found {
		if err != nil {
			return nil, err
		}
		inst.mu.Lock()
		if prior, ok := inst.lazy[name]; ok {
			v = prior
		} else {
			inst.lazy[name] = v
		}
		inst.mu.Unlock()
		return v, nil
	}

	for _, prefix := range []string{"With", "Get"} {
		if v, found, err := callHook(inst.owner, prefix+method); found {
			return v, err
		}
	}
	return nil, undefinedPropertyError(opts.name, name)
}

// Set writes a declared property through casting, hooks, mutators,
// encryption and logging.
func (b *Base) Set(name string, value any) error {
	inst, err := b.instance()
	if err != nil {
		return err
	}
	p, ok := inst.schema.Param(name)
	if !ok {
		return undefinedPropertyError(inst.schema.Name(), name)
	}
	return inst.apply(context.Background(), p, value, true)
}

// Assign is the generic name-based write. Declared properties are
// immutable through it; use Set instead.
func (b *Base) Assign(name string, value any) error {
	inst, err := b.instance()
	if err != nil {
		return err
	}
	class := inst.schema.Name()
	if _, ok := inst.schema.Param(name); ok {
		return errors.New(ErrCodeImmutableProperty, fmt.Sprintf("%s: property %q is immutable", class, name)).
			WithContext("class", class).
			WithContext("property", name)
	}
	return undefinedPropertyError(class, name)
}

// Original returns the value a property had right after construction.
func (b *Base) Original(name string) (any, bool) {
	inst, err := b.instance()
	if err != nil {
		return nil, false
	}
	p, ok := inst.schema.Param(name)
	if !ok {
		return nil, false
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	v, ok := inst.originals[p.Key]
	return v, ok
}

// Originals returns a copy of the snapshot taken after construction.
func (b *Base) Originals() map[string]any {
	inst, err := b.instance()
	if err != nil {
		return map[string]any{}
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	out := make(map[string]any, len(inst.originals))
	for k, v := range inst.originals {
		out[k] = v
	}
	return out
}

// Changed returns the current value of every property that differs from its original.
func (b *Base) Changed() map[string]any {
	inst, err := b.instance()
	if err != nil {
		return map[string]any{}
	}
	originals := b.Originals()
	out := map[string]any{}
	for _, p := range inst.schema.Params {
		current := inst.field(p).Interface()
		if !reflect.DeepEqual(current, originals[p.Key]) {
			out[p.Key] = current
		}
	}
	return out
}

// Restore resets every property to its original value without firing hooks.
func (b *Base) Restore() error {
	inst, err := b.instance()
	if err != nil {
		return err
	}
	originals := b.Originals()
	for _, p := range inst.schema.Params {
		v, ok := originals[p.Key]
		if !ok {
			continue
		}
		rv, err := convertValue(v, p.Type)
		if err != nil {
			return invalidCastError(inst.schema.Name(), p.Key, "restore", err)
		}
		inst.field(p).Set(rv)
	}
	inst.log("restored", nil)
	return nil
}

// Meta returns a copy of the instance annotations.
func (b *Base) Meta() map[string]any {
	inst, err := b.instance()
	if err != nil {
		return map[string]any{}
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	out := make(map[string]any, len(inst.meta))
	for k, v := range inst.meta {
		out[k] = v
	}
	return out
}

// SetMeta stores an annotation carried through serialization.
func (b *Base) SetMeta(key string, value any) error {
	inst, err := b.instance()
	if err != nil {
		return err
	}
	inst.mu.Lock()
	inst.meta[key] = value
	inst.mu.Unlock()
	return nil
}

// Logs returns the recorded log entries; empty when logging is disabled or the
// instance is gone.
func (b *Base) Logs() []LogEntry {
	inst, err := b.instance()
	if err != nil {
		return []LogEntry{}
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	out := make([]LogEntry, len(inst.logs))
	copy(out, inst.logs)
	return out
}

// Log appends an entry when logging is enabled for the class.
func (b *Base) Log(message string, context map[string]any) {
	if inst, err := b.instance(); err == nil {
		inst.log(message, context)
	}
}

// Dispose fires destruct and drops every side table of the instance and of
// the nested instances built with it.
func (b *Base) Dispose() {
	inst, err := b.instance()
	if err != nil {
		return
	}
	dispose(inst)
}

// Clone returns a new instance with the same values, originals and meta.
// The result has the same concrete type as the receiver's owner.
func (b *Base) Clone() (any, error) {
	inst, err := b.instance()
	if err != nil {
		return nil, err
	}
	owner := reflect.New(inst.schema.Type)
	owner.Elem().Set(inst.owner.Elem())
	clone := track(owner, inst.schema, inst.env)

	inst.mu.Lock()
	for k, v := range inst.originals {
		clone.originals[k] = v
	}
	for k, v := range inst.meta {
		clone.meta[k] = v
	}
	inst.mu.Unlock()

	out := events.fire(inst.schema.Type, EventClone, owner.Interface(), inst.owner.Interface())
	if out == nil || reflect.TypeOf(out) != owner.Type() {
		out = owner.Interface()
	}
	return out, nil
}

// Clone copies v through its Base.
func Clone[T any](v *T) (*T, error) {
	b, err := baseFor(v)
	if err != nil {
		return nil, err
	}
	out, err := b.Clone()
	if err != nil {
		return nil, err
	}
	return out.(*T), nil
}

func baseFor(v any) (*Base, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || !embedsBase(rv.Elem().Type()) {
		return nil, errors.New(ErrCodeInvalidType, fmt.Sprintf("%T is not a DTO pointer", v))
	}
	return baseOf(rv), nil
}

func decryptField(inst *instance, p *Param, value any) (any, error) {
	text, _ := value.(string)
	if text == "" {
		return value, nil
	}
	if inst.env == nil || inst.env.Encrypter == nil {
		return nil, errors.New(ErrCodeInvalidConfig, fmt.Sprintf("%s: no encrypter configured", inst.schema.Name()))
	}
	return inst.env.Encrypter.Decrypt(text)
}

// apply runs the setter pipeline for one property.
func (inst *instance) apply(ctx context.Context, p *Param, value any, cast bool) error {
	s := inst.schema
	opts := s.options()
	field := inst.field(p)
	old := field.Interface()
	owner := inst.owner.Interface()

	if cast || value == nil {
		b := newBuilder(WithEnv(ctx, inst.env), s)
		if value == nil && !p.Nullable() {
			synthesized, err := b.emptyArg(p)
			if err != nil {
				b.discard()
				return err
			}
			value = synthesized
		} else if cast {
			built, err := b.value(p, value, map[string]any{})
			if err != nil {
				b.discard()
				return err
			}
			value = built
		}
		inst.adopt(*b.tracked)
	}

	value = events.fire(s.Type, EventUpdating, value, p.Key, owner)
	value = events.fire(s.Type, EventUpdating+":"+p.Key, value, p.Key, owner)

	if v, found, err := callHook(inst.owner, "Mutate"+p.Name, value); found {
		if err != nil {
			return errors.Wrap(err, ErrCodeInvalidCast, fmt.Sprintf("%s: mutator for %q failed", opts.name, p.Key))
		}
		value = v
	}

	value = events.fire(s.Type, EventMutating, value, p.Key, owner)
	value = events.fire(s.Type, EventMutating+":"+p.Key, value, p.Key, owner)

	if opts.isEncrypted(p) && value != nil {
		plain, err := toString(value)
		if err != nil {
			return invalidCastError(opts.name, p.Key, "encrypted", err)
		}
		if plain != "" {
			cipher, err := newCastEngine(opts, inst.env).encrypt(plain)
			if err != nil {
				return err
			}
			value = cipher
		}
	}

	rv, err := convertValue(value, p.Type)
	if err != nil {
		return invalidCastError(opts.name, p.Key, p.Type.String(), err)
	}
	field.Set(rv)

	current := field.Interface()
	events.fire(s.Type, EventMutated, current, p.Key, owner)
	events.fire(s.Type, EventMutated+":"+p.Key, current, p.Key, owner)

	if cast && opts.logging && !reflect.DeepEqual(old, current) {
		entry := map[string]any{"key": p.Key, "old": old, "new": current}
		if opts.isEncrypted(p) {
			entry = map[string]any{"key": p.Key}
		}
		inst.log("updated", entry)
	}

	events.fire(s.Type, EventUpdated, current, p.Key, owner)
	events.fire(s.Type, EventUpdated+":"+p.Key, current, p.Key, owner)
	return nil
}
