// env.go: Collaborator environment carried through context
//
// An Env bundles the external services the builder and serializer consult:
// key-value sources for route/config/request/cache markers, validation,
// encryption, remote fetching, the shared cache store and the audit trail.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package dto

import (
	"context"
	"sync/atomic"
)

// Env holds the collaborators used while building and serializing DTOs.
// A nil field disables the corresponding feature.
type Env struct {
	Route   Source
	Config  Source
	Request Source

	Cache     Cache
	Validator Validator
	Encrypter Encrypter
	Fetcher   Fetcher
	Audit     *AuditLogger

	// DateFormat is used for time values when the class does not set its own.
	DateFormat string
}

type envKey struct{}

var defaultEnv atomic.Pointer[Env]

func init() {
	defaultEnv.Store(&Env{DateFormat: DefaultDateFormat})
}

// DefaultEnv returns the process-wide environment used when a context carries none.
func DefaultEnv() *Env {
	return defaultEnv.Load()
}

// SetDefaultEnv replaces the process-wide environment. Passing nil restores an empty one.
func SetDefaultEnv(env *Env) {
	if env == nil {
		env = &Env{DateFormat: DefaultDateFormat}
	}
	defaultEnv.Store(env)
}

// WithEnv attaches env to ctx.
func WithEnv(ctx context.Context, env *Env) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, envKey{}, env)
}

// EnvFrom returns the environment attached to ctx, or the default one.
func EnvFrom(ctx context.Context) *Env {
	if ctx != nil {
		if env, ok := ctx.Value(envKey{}).(*Env); ok && env != nil {
			return env
		}
	}
	return DefaultEnv()
}

// Clone returns a shallow copy so request-scoped sources can be swapped in.
func (e *Env) Clone() *Env {
	if e == nil {
		return &Env{DateFormat: DefaultDateFormat}
	}
	cp := *e
	return &cp
}

func (e *Env) dateFormat() string {
	if e != nil && e.DateFormat != "" {
		return e.DateFormat
	}
	return DefaultDateFormat
}
