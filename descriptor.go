// descriptor.go: Type descriptor resolution for declared parameters
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package dto

import (
	"context"
	"net/http"
	"reflect"
	"sync"
	"time"

	"github.com/agilira/go-errors"
)

type typeKind int

const (
	kindScalar typeKind = iota
	kindTime
	kindNested
	kindCollection
	kindSlice
	kindMap
	kindModel
	kindEnum
	kindRequest
	kindProvided
	kindAny
)

// Union member names that are hints rather than classes.
const (
	UnionArray      = "array"
	UnionCollection = "collection"
)

// descriptor is the resolved construction plan for one parameter.
type descriptor struct {
	kind         typeKind
	effective    reflect.Type
	isCollection bool
	isArray      bool
}

var (
	timeType        = reflect.TypeOf(time.Time{})
	requestType     = reflect.TypeOf((*http.Request)(nil))
	recordType      = reflect.TypeOf((*Record)(nil)).Elem()
	enumType        = reflect.TypeOf((*Enum)(nil)).Elem()
	collectionIface = reflect.TypeOf((*collectionValue)(nil)).Elem()
)

// ProviderFunc resolves a raw value into an instance of a registered type.
type ProviderFunc func(ctx context.Context, raw any) (any, error)

var (
	providerMu sync.RWMutex
	providers  = map[reflect.Type]ProviderFunc{}
)

// RegisterProvider makes fields of proto's type resolvable through fn.
func RegisterProvider(proto any, fn ProviderFunc) error {
	if proto == nil || fn == nil {
		return errors.New(ErrCodeInvalidConfig, "provider prototype and function are required")
	}
	providerMu.Lock()
	defer providerMu.Unlock()
	providers[reflect.TypeOf(proto)] = fn
	return nil
}

func providerFor(t reflect.Type) (ProviderFunc, bool) {
	providerMu.RLock()
	defer providerMu.RUnlock()
	fn, ok := providers[t]
	return fn, ok
}

// describe resolves the effective construction type of p.
// Union members are scanned in declaration order and the first nested class wins.
func describe(p *Param) descriptor {
	t := p.Type
	if len(p.Union) > 0 {
		d := descriptor{kind: kindAny, effective: t}
		for _, member := range p.Union {
			switch member {
			case UnionArray:
				d.isArray = true
			case UnionCollection:
				d.isCollection = true
			default:
				if d.kind == kindNested {
					continue
				}
				if class, ok := lookupClass(member); ok {
					d.kind = kindNested
					d.effective = class
				}
			}
		}
		return d
	}
	return describeType(t, p.Model != "")
}

func describeType(t reflect.Type, model bool) descriptor {
	switch {
	case t == requestType:
		return descriptor{kind: kindRequest, effective: t}
	case t.Implements(collectionIface):
		item := reflect.New(t.Elem()).Interface().(collectionValue).itemType()
		return descriptor{kind: kindCollection, effective: item, isCollection: true}
	case nestedType(t) != nil:
		return descriptor{kind: kindNested, effective: nestedType(t)}
	case model || (t.Kind() != reflect.Interface && t.Implements(recordType)):
		return descriptor{kind: kindModel, effective: t}
	}
	if _, ok := providerFor(t); ok {
		return descriptor{kind: kindProvided, effective: t}
	}

	base := t
	if base.Kind() == reflect.Ptr {
		base = base.Elem()
	}
	switch {
	case base == timeType:
		return descriptor{kind: kindTime, effective: base}
	case base.Implements(enumType):
		return descriptor{kind: kindEnum, effective: base}
	}

	switch base.Kind() {
	case reflect.Slice:
		if base.Elem().Kind() == reflect.Uint8 {
			return descriptor{kind: kindScalar, effective: base}
		}
		return descriptor{kind: kindSlice, effective: base.Elem(), isArray: true}
	case reflect.Map:
		return descriptor{kind: kindMap, effective: base.Elem()}
	case reflect.Interface:
		return descriptor{kind: kindAny, effective: base}
	}
	return descriptor{kind: kindScalar, effective: base}
}

// isPrimitive reports whether t is a builtin scalar the resolver treats as required.
func isPrimitive(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	case reflect.Struct:
		return t == timeType
	}
	return false
}
