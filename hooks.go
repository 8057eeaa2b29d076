// hooks.go: Convention-named methods on DTO types
//
// A DTO type may declare methods picked up by name:
//
//	Mutate<Field>(value) value   rewrites a value on every write
//	Reduce<Field>(value) value   rewrites a value on output
//	Lazy<Name>() value           computed once, memoized per instance
//	With<Name>() value           appended to map output under <name>
//	Get<Name>() value            computed accessor
//
// Each may also return a trailing error.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package dto

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/viant/tagly/format/text"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// callHook calls owner.name(args...) when it exists with a compatible shape.
func callHook(owner reflect.Value, name string, args ...any) (any, bool, error) {
	method := owner.MethodByName(name)
	if !method.IsValid() {
		return nil, false, nil
	}
	mt := method.Type()
	if mt.NumIn() != len(args) || mt.NumOut() == 0 || mt.NumOut() > 2 {
		return nil, false, nil
	}
	if mt.NumOut() == 2 && mt.Out(1) != errorType {
		return nil, false, nil
	}

	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		v, err := convertValue(arg, mt.In(i))
		if err != nil {
			return nil, true, fmt.Errorf("%s: %w", name, err)
		}
		in[i] = v
	}

	out := method.Call(in)
	if mt.NumOut() == 2 && !out[1].IsNil() {
		return nil, true, out[1].Interface().(error)
	}
	return out[0].Interface(), true, nil
}

// pascal converts a key or field name to the form used in method names.
func pascal(name string) string {
	if name == "" {
		return name
	}
	if strings.Contains(name, "_") {
		return text.CaseFormatLowerUnderscore.Format(strings.ToLower(name), text.CaseFormatUpperCamel)
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

// computedMethods lists With<Name> methods of owner in method-set order.
func computedMethods(owner reflect.Value) []string {
	t := owner.Type()
	var names []string
	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		if !strings.HasPrefix(m.Name, "With") || len(m.Name) == len("With") {
			continue
		}
		if m.Type.NumIn() != 1 || m.Type.NumOut() == 0 || m.Type.NumOut() > 2 {
			continue
		}
		names = append(names, m.Name)
	}
	return names
}
