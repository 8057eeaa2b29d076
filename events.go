// events.go: Lifecycle event registry and dispatch
//
// Listeners are registered per class or globally under a fixed vocabulary
// of event names, optionally qualified with ":"-separated sub keys
// ("updating:name"). Firing threads the data value through every listener:
// class listeners first, then global ones, each in registration order.
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
)

// Event names.
const (
	EventCreating         = "creating"
	EventCreated          = "created"
	EventUpdating         = "updating"
	EventUpdated          = "updated"
	EventMutating         = "mutating"
	EventMutated          = "mutated"
	EventSerialize        = "serialize"
	EventUnserialize      = "unserialize"
	EventClone            = "clone"
	EventFromModel        = "fromModel"
	EventFromEmpty        = "fromEmpty"
	EventFromArray        = "fromArray"
	EventFromRequest      = "fromRequest"
	EventFromJSON         = "fromJson"
	EventFromSerialize    = "fromSerialize"
	EventPrepareModel     = "prepareModel"
	EventPrepareSerialize = "prepareSerialize"
	EventPrepareJSON      = "prepareJson"
	EventPrepareRequest   = "prepareRequest"
	EventPrepareArray     = "prepareArray"
	EventPrepareEmpty     = "prepareEmpty"
	EventDestruct         = "destruct"
)

var knownEvents = map[string]bool{
	EventCreating: true, EventCreated: true, EventUpdating: true, EventUpdated: true,
	EventMutating: true, EventMutated: true, EventSerialize: true, EventUnserialize: true,
	EventClone: true, EventFromModel: true, EventFromEmpty: true, EventFromArray: true,
	EventFromRequest: true, EventFromJSON: true, EventFromSerialize: true,
	EventPrepareModel: true, EventPrepareSerialize: true, EventPrepareJSON: true,
	EventPrepareRequest: true, EventPrepareArray: true, EventPrepareEmpty: true,
	EventDestruct: true,
}

// Listener receives the live data followed by event specific arguments, or
// the bound arguments when some were given at registration.
// A non-nil return rewrites the data.
type Listener func(args ...any) any

type sentinel string

// Current and Original may be placed among bound arguments; they are
// replaced with the live data and the data as it was when firing started.
const (
	Current  sentinel = "dto:current"
	Original sentinel = "dto:original"
)

type listener struct {
	fn    Listener
	bound []any
}

type eventRegistry struct {
	mu     sync.RWMutex
	class  map[reflect.Type]map[string][]listener
	global map[string][]listener
}

var events = &eventRegistry{
	class:  map[reflect.Type]map[string][]listener{},
	global: map[string][]listener{},
}

func validateEvent(name string) error {
	base, _, _ := strings.Cut(name, ":")
	if !knownEvents[base] {
		return errors.New(ErrCodeUnknownEvent, fmt.Sprintf("unknown event %q", name)).
			WithContext("event", name)
	}
	return nil
}

// On registers a listener for the class of proto.
func On(proto any, event string, fn Listener, bound ...any) error {
	if err := validateEvent(event); err != nil {
		return err
	}
	if fn == nil {
		return errors.New(ErrCodeInvalidConfig, "listener cannot be nil")
	}
	s, err := SchemaOf(proto)
	if err != nil {
		return err
	}

	events.mu.Lock()
	defer events.mu.Unlock()
	bucket := events.class[s.Type]
	if bucket == nil {
		bucket = map[string][]listener{}
		events.class[s.Type] = bucket
	}
	bucket[event] = append(bucket[event], listener{fn: fn, bound: bound})
	return nil
}

// OnGlobal registers a listener for every class.
func OnGlobal(event string, fn Listener, bound ...any) error {
	if err := validateEvent(event); err != nil {
		return err
	}
	if fn == nil {
		return errors.New(ErrCodeInvalidConfig, "listener cannot be nil")
	}

	events.mu.Lock()
	defer events.mu.Unlock()
	events.global[event] = append(events.global[event], listener{fn: fn, bound: bound})
	return nil
}

// Forget drops the class listeners for event, or all of them when event is empty.
func Forget(proto any, event string) {
	s, err := SchemaOf(proto)
	if err != nil {
		return
	}
	events.mu.Lock()
	defer events.mu.Unlock()
	if event == "" {
		delete(events.class, s.Type)
		return
	}
	delete(events.class[s.Type], event)
}

// ForgetGlobal drops global listeners for event, or all of them when event is empty.
func ForgetGlobal(event string) {
	events.mu.Lock()
	defer events.mu.Unlock()
	if event == "" {
		events.global = map[string][]listener{}
		return
	}
	delete(events.global, event)
}

// Fire dispatches event for the class of proto and returns the rewritten data.
func Fire(proto any, event string, data any, extra ...any) (any, error) {
	if err := validateEvent(event); err != nil {
		return data, err
	}
	s, err := SchemaOf(proto)
	if err != nil {
		return data, err
	}
	return events.fire(s.Type, event, data, extra...), nil
}

func (r *eventRegistry) listeners(t reflect.Type, event string) []listener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	class := r.class[t][event]
	global := r.global[event]
	if len(class) == 0 && len(global) == 0 {
		return nil
	}
	out := make([]listener, 0, len(class)+len(global))
	out = append(out, class...)
	return append(out, global...)
}

func (r *eventRegistry) fire(t reflect.Type, event string, data any, extra ...any) any {
	list := r.listeners(t, event)
	if len(list) == 0 {
		return data
	}

	original := data
	for _, l := range list {
		var args []any
		if len(l.bound) == 0 {
			args = append([]any{data}, extra...)
		} else {
			args = make([]any, 0, len(l.bound)+len(extra))
			for _, b := range l.bound {
				switch b {
				case Current:
					args = append(args, data)
				case Original:
					args = append(args, original)
				default:
					args = append(args, b)
				}
			}
			args = append(args, extra...)
		}
		data = mergeResult(data, l.fn(args...))
	}
	return data
}

// mergeResult folds a listener return into data. Maps merge shallowly with
// the listener winning, lists append, anything else is replaced.
func mergeResult(data, result any) any {
	if result == nil {
		return data
	}
	switch current := data.(type) {
	case map[string]any:
		update, ok := result.(map[string]any)
		if !ok {
			return result
		}
		if len(update) == 0 {
			return data
		}
		merged := make(map[string]any, len(current)+len(update))
		for k, v := range current {
			merged[k] = v
		}
		for k, v := range update {
			merged[k] = v
		}
		return merged
	case []any:
		update, ok := result.([]any)
		if !ok {
			return result
		}
		if len(update) == 0 {
			return data
		}
		merged := make([]any, 0, len(current)+len(update))
		merged = append(merged, current...)
		return append(merged, update...)
	}
	return result
}
