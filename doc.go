// Package dto provides a runtime for data transfer objects: typed structs
// built from loosely typed input, validated, cast, observed through
// lifecycle events and serialized back out in several formats.
//
// # Declaring a class
//
// A DTO class is any struct that embeds Base. Exported fields become
// parameters; the `dto` struct tag names the input key and adds
// annotations separated by semicolons:
//
//	type OrderDTO struct {
//		dto.Base
//		ID       int        `dto:"id;alias=order_id|oid"`
//		Status   string     `dto:"status;default=new"`
//		Total    string     `dto:"total;cast=decimal:2"`
//		Customer *UserDTO   `dto:"customer;required"`
//		Token    string     `dto:"token;encrypted;hidden"`
//		Region   *string    `dto:"region;config=app.region"`
//		Owner    *dto.Row   `dto:"owner;model=users"`
//	}
//
// Class level behaviour is declared by a DTOOptions method:
//
//	func (OrderDTO) DTOOptions() []dto.Option {
//		return []dto.Option{
//			dto.WithName("order"),
//			dto.WithRules(map[string]string{"id": "required|integer"}),
//			dto.WithLogging(true),
//		}
//	}
//
// Schemas are reflected once per type and cached. Register resolves them
// eagerly and reports invalid declarations at startup.
//
// # Building
//
// Every entry point returns a pointer to the class or an error carrying one
// of the ErrCode* codes from go-errors:
//
//	order, err := dto.FromJSON[OrderDTO](ctx, body)
//	order, err := dto.FromRequest[OrderDTO](ctx, r)
//	order, err := dto.FromFile[OrderDTO](ctx, "order.yaml")
//	order, err := dto.FromSerialize[OrderDTO](ctx, raw)
//
// A missing key falls back to the default annotation, then to nil for
// nullable fields; required and primitive fields fail with
// ErrCodeMissingRequiredKey. Nested classes, collections, enums, unions and
// repository-backed models are built recursively.
//
// # Collaborators
//
// External services are carried by an Env attached to the context with
// WithEnv. It holds the route, config and request sources, the cache, the
// validator, the encrypter, the HTTP fetcher and the audit logger. NewEnv
// creates one from Settings, which load from DTO_* variables or from
// command-line flags through flash-flags.
//
// # Events
//
// Listeners registered with On and OnGlobal observe and rewrite the
// lifecycle: prepare*, creating, created, from*, updating, updated,
// mutating, mutated, serialize, unserialize, clone and destruct. Keyed
// variants such as "updating:name" target a single parameter. A listener
// return value is merged into the event payload: maps merge, lists append
// and scalars are replaced.
//
// # Output
//
// ToMap, ToJSON, ToYAML and ToBase64 produce the public form of an
// instance: hidden keys dropped, casts applied in reverse, encrypted
// values decrypted and keys rendered in the class case format.
// ToSerialize writes a native envelope that FromSerialize reads back with
// metadata intact, and ToImport renders the class import mode.
//
// # Audit
//
// Classes with logging enabled keep an in-memory log and forward each
// entry to the Env audit logger, which persists checksummed events to
// SQLite or JSON lines.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0
package dto
