// registry.go: Process-wide side tables for built instances
//
// Instances look immutable from outside, yet need bookkeeping: the
// originals snapshot, meta annotations, memoized lazy values and logs.
// These live here, keyed by (class, handle), until Dispose is called.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package dto

import (
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
)

// LogEntry is a single per-instance log record.
type LogEntry struct {
	Message   string
	Context   map[string]any
	Timestamp time.Time
}

type instanceKey struct {
	class  reflect.Type
	handle uint64
}

type instance struct {
	owner  reflect.Value
	schema *Schema
	env    *Env

	mu        sync.Mutex
	originals map[string]any
	meta      map[string]any
	lazy      map[string]any
	logs      []LogEntry

	// children are the nested instances built for this one; owned is set
	// once a parent has adopted the instance
	children []*instance
	owned    bool
}

var (
	registryMu sync.RWMutex
	registry   = map[instanceKey]*instance{}
	nextHandle atomic.Uint64
)

// track issues a handle for owner and creates its side tables.
func track(owner reflect.Value, s *Schema, env *Env) *instance {
	handle := nextHandle.Add(1)
	base := baseOf(owner)
	base.handle = handle
	base.schema = s

	inst := &instance{
		owner:     owner,
		schema:    s,
		env:       env,
		originals: map[string]any{},
		meta:      map[string]any{},
		lazy:      map[string]any{},
	}
	registryMu.Lock()
	registry[instanceKey{class: s.Type, handle: handle}] = inst
	registryMu.Unlock()
	return inst
}

func lookupInstance(b *Base) (*instance, bool) {
	if b == nil || b.schema == nil || b.handle == 0 {
		return nil, false
	}
	registryMu.RLock()
	defer registryMu.RUnlock()
	inst, ok := registry[instanceKey{class: b.schema.Type, handle: b.handle}]
	return inst, ok
}

func untrack(inst *instance) {
	base := baseOf(inst.owner)
	registryMu.Lock()
	delete(registry, instanceKey{class: inst.schema.Type, handle: base.handle})
	registryMu.Unlock()

	inst.mu.Lock()
	inst.originals = map[string]any{}
	inst.meta = map[string]any{}
	inst.lazy = map[string]any{}
	inst.logs = nil
	inst.mu.Unlock()
}

// live reports whether inst is still the registered entry for its handle.
func live(inst *instance) bool {
	key := instanceKey{class: inst.schema.Type, handle: baseOf(inst.owner).handle}
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry[key] == inst
}

// adopt records every unowned candidate as a child of inst.
func (inst *instance) adopt(candidates []*instance) {
	for _, c := range candidates {
		if c == inst {
			continue
		}
		c.mu.Lock()
		free := !c.owned
		c.owned = true
		c.mu.Unlock()
		if free {
			inst.mu.Lock()
			inst.children = append(inst.children, c)
			inst.mu.Unlock()
		}
	}
}

func (inst *instance) takeChildren() []*instance {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	children := inst.children
	inst.children = nil
	return children
}

// dispose fires destruct and untracks inst and its live descendants.
func dispose(inst *instance) {
	events.fire(inst.schema.Type, EventDestruct, inst.owner.Interface())
	children := inst.takeChildren()
	untrack(inst)
	for _, c := range children {
		if live(c) {
			dispose(c)
		}
	}
}

// discard untracks inst and its descendants without firing events.
func discard(inst *instance) {
	children := inst.takeChildren()
	untrack(inst)
	for _, c := range children {
		discard(c)
	}
}

// Tracked returns the number of live instances in the registry.
func Tracked() int {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return len(registry)
}

func baseOf(owner reflect.Value) *Base {
	elem := owner.Elem()
	for i := 0; i < elem.NumField(); i++ {
		f := elem.Type().Field(i)
		if f.Anonymous && f.Type == baseType {
			return elem.Field(i).Addr().Interface().(*Base)
		}
	}
	return nil
}

func (inst *instance) field(p *Param) reflect.Value {
	return inst.owner.Elem().Field(p.index)
}

func (inst *instance) snapshot() {
	values := make(map[string]any, len(inst.schema.Params))
	for _, p := range inst.schema.Params {
		values[p.Key] = copyValue(inst.field(p))
	}
	inst.mu.Lock()
	inst.originals = values
	inst.mu.Unlock()
}

func (inst *instance) log(message string, context map[string]any) {
	opts := inst.schema.options()
	if !opts.logging {
		return
	}
	entry := LogEntry{Message: message, Context: context, Timestamp: timecache.CachedTime()}
	inst.mu.Lock()
	inst.logs = append(inst.logs, entry)
	inst.mu.Unlock()

	if inst.env != nil && inst.env.Audit != nil {
		inst.env.Audit.LogInstance(opts.name, message, context)
	}
}

// copyValue detaches slices and maps so later writes do not alter the snapshot.
func copyValue(v reflect.Value) any {
	switch v.Kind() {
	case reflect.Slice:
		if v.IsNil() {
			return v.Interface()
		}
		cp := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		reflect.Copy(cp, v)
		return cp.Interface()
	case reflect.Map:
		if v.IsNil() {
			return v.Interface()
		}
		cp := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			cp.SetMapIndex(iter.Key(), iter.Value())
		}
		return cp.Interface()
	}
	return v.Interface()
}
