// builder.go: Object builder turning raw input into populated DTO instances
//
// A build runs through fixed stages: prepare hook, validation, per
// parameter resolution and casting, the creating hook, construction, the
// setter pass, the originals snapshot and finally the created and from
// hooks. Any failure aborts the build with a single coded error and leaves
// nothing registered.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package dto

import (
	"context"
	goerrors "errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/agilira/go-errors"
)

// Input forms, used to derive prepare/from event names.
const (
	sourceArray     = "Array"
	sourceJSON      = "Json"
	sourceSerialize = "Serialize"
	sourceModel     = "Model"
	sourceRequest   = "Request"
	sourceEmpty     = "Empty"
)

// BuildOption tunes a single build.
type BuildOption func(*buildConfig)

type buildConfig struct {
	casts map[string]string
}

// CastOverride replaces the cast specifier of key for this build only.
func CastOverride(key, spec string) BuildOption {
	return func(c *buildConfig) {
		if c.casts == nil {
			c.casts = map[string]string{}
		}
		c.casts[key] = spec
	}
}

type builder struct {
	ctx     context.Context
	env     *Env
	schema  *Schema
	opts    classOptions
	cast    castEngine
	config  buildConfig
	request *http.Request
	stack   map[reflect.Type]bool

	// instances tracked by this build and its nested builds
	tracked *[]*instance
	inner   bool
}

func newBuilder(ctx context.Context, s *Schema, options ...BuildOption) *builder {
	if ctx == nil {
		ctx = context.Background()
	}
	env := EnvFrom(ctx)
	opts := s.options()
	b := &builder{
		ctx:     ctx,
		env:     env,
		schema:  s,
		opts:    opts,
		cast:    newCastEngine(opts, env),
		stack:   map[reflect.Type]bool{s.Type: true},
		tracked: &[]*instance{},
	}
	for _, option := range options {
		option(&b.config)
	}
	return b
}

// child returns a builder for a nested class sharing this build's context.
func (b *builder) child(s *Schema) *builder {
	nb := newBuilder(b.ctx, s)
	nb.request = b.request
	nb.tracked = b.tracked
	nb.inner = true
	for t := range b.stack {
		nb.stack[t] = true
	}
	return nb
}

func buildAs[T any](ctx context.Context, data map[string]any, source string, options ...BuildOption) (*T, error) {
	s, err := schemaFor(reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return nil, err
	}
	owner, err := newBuilder(ctx, s, options...).build(data, source)
	if err != nil {
		return nil, err
	}
	return owner.Interface().(*T), nil
}

// build runs the full pipeline and returns a pointer to the new instance.
// A failed outer build untracks every nested instance it created.
func (b *builder) build(input map[string]any, source string) (reflect.Value, error) {
	owner, err := b.run(input, source)
	if err != nil && !b.inner {
		b.discard()
	}
	return owner, err
}

// discard untracks every instance created by this build and its nested builds.
func (b *builder) discard() {
	for _, inst := range *b.tracked {
		discard(inst)
	}
	*b.tracked = nil
}

func (b *builder) run(input map[string]any, source string) (reflect.Value, error) {
	t := b.schema.Type
	start := len(*b.tracked)

	data := make(map[string]any, len(input))
	for k, v := range input {
		data[k] = v
	}
	if prepared, ok := events.fire(t, "prepare"+source, data).(map[string]any); ok {
		data = prepared
	}

	if err := b.validate(data); err != nil {
		return reflect.Value{}, err
	}

	args := make(map[string]any, len(b.schema.Params))
	for _, p := range b.schema.Params {
		v, ok, err := b.argument(p, data, source == sourceEmpty)
		if err != nil {
			return reflect.Value{}, err
		}
		if ok {
			args[p.Key] = v
		}
	}

	if rewritten, ok := events.fire(t, EventCreating, args).(map[string]any); ok {
		args = rewritten
	}

	owner := reflect.New(t)
	for _, p := range b.schema.Params {
		v, ok := args[p.Key]
		if !ok {
			continue
		}
		rv, err := convertValue(v, p.Type)
		if err != nil {
			return reflect.Value{}, invalidCastError(b.opts.name, p.Key, p.Type.String(), err)
		}
		owner.Elem().Field(p.index).Set(rv)
	}

	inst := track(owner, b.schema, b.env)
	inst.adopt((*b.tracked)[start:])
	*b.tracked = append(*b.tracked, inst)
	for _, p := range b.schema.Params {
		v, ok := args[p.Key]
		if !ok {
			continue
		}
		if err := inst.apply(b.ctx, p, v, false); err != nil {
			return reflect.Value{}, err
		}
	}

	inst.snapshot()
	inst.log("created", map[string]any{"source": source})

	events.fire(t, EventCreated, owner.Interface())
	events.fire(t, "from"+source, owner.Interface())
	return owner, nil
}

func (b *builder) validate(data map[string]any) error {
	if len(b.opts.rules) == 0 {
		return nil
	}
	validator := b.env.Validator
	if validator == nil {
		validator = RuleValidator{}
	}
	err := validator.Validate(b.ctx, data, b.opts.rules)
	if err == nil {
		return nil
	}
	var failure *ValidationFailure
	if goerrors.As(err, &failure) {
		failure.Class = b.opts.name
		return failure
	}
	return errors.Wrap(err, ErrCodeValidationFailed, fmt.Sprintf("%s: validation failed", b.opts.name))
}

// castSpec resolves the specifier: per-build override, tag, class table.
func (b *builder) castSpec(p *Param) string {
	if spec, ok := b.config.casts[p.Key]; ok {
		return spec
	}
	return b.opts.castFor(p)
}

// argument assembles the value for one parameter. The boolean is false when
// the parameter is left out of the argument map.
func (b *builder) argument(p *Param, data map[string]any, empty bool) (any, bool, error) {
	if p.Type == requestType {
		return b.request, true, nil
	}
	if p.Exclude {
		if p.Default == nil {
			return nil, false, nil
		}
		v, err := b.value(p, *p.Default, data)
		return v, err == nil, err
	}

	res := resolveKey(data, p, b.env)
	raw, present := data[res.key]
	if !present {
		switch {
		case p.Default != nil:
			raw = *p.Default
		case empty:
			v, err := b.emptyArg(p)
			return v, err == nil, err
		case p.Nullable():
			return nil, true, nil
		case p.Required || isPrimitive(p.Type):
			return nil, false, missingKeyError(b.opts.name, res.key, res.missed)
		default:
			return nil, false, nil
		}
	}

	v, err := b.value(p, raw, data)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// value casts raw and builds the typed value for p.
func (b *builder) value(p *Param, raw any, data map[string]any) (any, error) {
	spec := b.castSpec(p)
	if spec != "" {
		v, err := b.cast.in(p.Key, raw, data, spec)
		if err != nil {
			return nil, err
		}
		raw = v
	}
	if raw == nil {
		return nil, nil
	}

	d := describe(p)
	if len(p.Union) > 0 {
		return b.union(p, d, raw)
	}

	switch d.kind {
	case kindRequest:
		return b.request, nil
	case kindModel:
		return b.model(p, raw)
	case kindProvided:
		fn, _ := providerFor(p.Type)
		v, err := fn(b.ctx, raw)
		if err != nil {
			return nil, invalidCastError(b.opts.name, p.Key, p.Type.String(), err)
		}
		return v, nil
	}

	if spec == "" {
		if provider, ok := reflect.Zero(p.Type).Interface().(CasterProvider); ok && p.Type.Kind() != reflect.Ptr {
			v, err := provider.Caster().Get(p.Key, raw, data)
			if err != nil {
				return nil, invalidCastError(b.opts.name, p.Key, p.Type.String(), err)
			}
			return v, nil
		}
	}
	return b.typed(p.Key, p.Type, raw)
}

// typed builds raw into t, recursing through nested DTOs, collections,
// slices and maps.
func (b *builder) typed(key string, t reflect.Type, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	if reflect.TypeOf(raw).AssignableTo(t) {
		return raw, nil
	}

	switch {
	case nestedType(t) != nil:
		return b.nested(key, nestedType(t), raw)
	case t.Implements(collectionIface):
		return b.collection(key, t, raw)
	}

	base := t
	if base.Kind() == reflect.Ptr {
		base = base.Elem()
	}
	switch {
	case base == timeType:
		tm, err := toTime(raw, b.cast.dateFormat)
		if err != nil {
			return nil, invalidCastError(b.opts.name, key, "datetime", err)
		}
		return tm, nil
	case base.Implements(enumType):
		v, err := castEnum(base, raw)
		if err != nil {
			return nil, invalidCastError(b.opts.name, key, base.Name(), err)
		}
		return v, nil
	}

	switch base.Kind() {
	case reflect.Slice:
		if base.Elem().Kind() == reflect.Uint8 {
			return raw, nil
		}
		list, ok := toPlainList(raw)
		if !ok {
			decoded, err := decodeStructured(raw, false)
			if err != nil {
				return nil, invalidCastError(b.opts.name, key, "array", err)
			}
			if list, ok = decoded.([]any); !ok {
				return nil, invalidCastError(b.opts.name, key, "array", fmt.Errorf("expected a list, got %T", decoded))
			}
		}
		out := make([]any, len(list))
		for i, item := range list {
			v, err := b.typed(fmt.Sprintf("%s.%d", key, i), base.Elem(), item)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case reflect.Map:
		m, ok := toPlainMap(raw)
		if !ok {
			decoded, err := decodeStructured(raw, true)
			if err != nil {
				return nil, invalidCastError(b.opts.name, key, "object", err)
			}
			m = decoded.(map[string]any)
		}
		out := make(map[string]any, len(m))
		for k, item := range m {
			v, err := b.typed(key+"."+k, base.Elem(), item)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	}
	return raw, nil
}

// nested builds one nested DTO of struct type t.
func (b *builder) nested(key string, t reflect.Type, raw any) (any, error) {
	if reflect.TypeOf(raw) == reflect.PointerTo(t) {
		return raw, nil
	}
	s, err := schemaFor(t)
	if err != nil {
		return nil, err
	}

	data, ok := toPlainMap(raw)
	if !ok {
		if a, isArrayable := raw.(Arrayable); isArrayable {
			if data, err = a.ToMap(); err != nil {
				return nil, err
			}
		} else if text, isText := raw.(string); isText && strings.HasPrefix(strings.TrimSpace(text), "{") {
			decoded, err := decodeStructured(text, true)
			if err != nil {
				return nil, invalidCastError(b.opts.name, key, s.Name(), err)
			}
			data = decoded.(map[string]any)
		} else {
			return nil, invalidCastError(b.opts.name, key, s.Name(), fmt.Errorf("expected an object, got %T", raw))
		}
	}

	owner, err := b.child(s).build(data, sourceArray)
	if err != nil {
		return nil, err
	}
	return owner.Interface(), nil
}

// collection builds a *Collection[E] of type t from list input.
func (b *builder) collection(key string, t reflect.Type, raw any) (any, error) {
	list, ok := toPlainList(raw)
	if !ok {
		decoded, err := decodeStructured(raw, false)
		if err != nil {
			return nil, invalidCastError(b.opts.name, key, "collection", err)
		}
		if list, ok = decoded.([]any); !ok {
			return nil, invalidCastError(b.opts.name, key, "collection", fmt.Errorf("expected a list, got %T", decoded))
		}
	}

	cv := reflect.New(t.Elem()).Interface().(collectionValue)
	item := cv.itemType()
	for i, element := range list {
		v, err := b.typed(fmt.Sprintf("%s.%d", key, i), item, element)
		if err != nil {
			return nil, err
		}
		if err := cv.appendAny(v); err != nil {
			return nil, invalidCastError(b.opts.name, key, "collection", err)
		}
	}
	return cv, nil
}

// union builds a value for an interface field declared with union members.
func (b *builder) union(p *Param, d descriptor, raw any) (any, error) {
	if d.kind != kindNested {
		return raw, nil
	}
	if m, ok := toPlainMap(raw); ok {
		return b.nested(p.Key, d.effective, m)
	}
	if reflect.TypeOf(raw) == reflect.PointerTo(d.effective) {
		return raw, nil
	}
	list, ok := toPlainList(raw)
	if !ok {
		return raw, nil
	}

	switch {
	case d.isCollection:
		items := NewCollection[any]()
		for i, element := range list {
			v, err := b.typed(fmt.Sprintf("%s.%d", p.Key, i), reflect.PointerTo(d.effective), element)
			if err != nil {
				return nil, err
			}
			items.Append(v)
		}
		return items, nil
	case d.isArray:
		return list, nil
	}
	return nil, invalidCastError(b.opts.name, p.Key, strings.Join(p.Union, "|"), fmt.Errorf("list input is not accepted"))
}

// model resolves a record by id, "field:value", the first fillable field,
// or builds one from a map.
func (b *builder) model(p *Param, raw any) (any, error) {
	if rec, ok := raw.(Record); ok && reflect.TypeOf(raw).AssignableTo(p.Type) {
		return rec, nil
	}
	repo, ok := repositoryFor(p)
	if !ok {
		return nil, errors.New(ErrCodeModelBindingFailed, fmt.Sprintf("%s: no repository for %q", b.opts.name, p.Key)).
			WithContext("property", p.Key)
	}

	var (
		rec Record
		err error
	)
	switch v := raw.(type) {
	case map[string]any:
		rec, err = repo.Make(v)
	case string:
		if id, convErr := strconv.ParseInt(strings.TrimSpace(v), 10, 64); convErr == nil {
			rec, err = repo.Find(b.ctx, id)
		} else if field, value, found := strings.Cut(v, ":"); found {
			rec, err = repo.FindBy(b.ctx, field, value)
		} else if fillable := repo.Fillable(); len(fillable) > 0 {
			rec, err = repo.FindBy(b.ctx, fillable[0], v)
		}
	default:
		id, convErr := toInt64(v)
		if convErr != nil {
			return nil, errors.Wrap(convErr, ErrCodeModelBindingFailed, fmt.Sprintf("%s: cannot bind %q", b.opts.name, p.Key))
		}
		rec, err = repo.Find(b.ctx, id)
	}
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeModelBindingFailed, fmt.Sprintf("%s: lookup for %q failed", b.opts.name, p.Key)).
			WithContext("property", p.Key)
	}
	if rec == nil {
		if p.Nullable() {
			return nil, nil
		}
		return nil, errors.New(ErrCodeModelBindingFailed, fmt.Sprintf("%s: no record found for %q", b.opts.name, p.Key)).
			WithContext("property", p.Key).
			WithContext("value", raw)
	}
	return rec, nil
}

// emptyArg synthesizes the zero default of p, building nested DTOs empty.
func (b *builder) emptyArg(p *Param) (any, error) {
	t := p.Type
	if nested := nestedType(t); nested != nil {
		if b.stack[nested] {
			return nil, nil
		}
		s, err := schemaFor(nested)
		if err != nil {
			return nil, err
		}
		owner, err := b.child(s).build(map[string]any{}, sourceEmpty)
		if err != nil {
			return nil, err
		}
		return owner.Interface(), nil
	}
	if t.Implements(collectionIface) {
		return reflect.New(t.Elem()).Interface(), nil
	}

	switch t.Kind() {
	case reflect.Slice:
		return reflect.MakeSlice(t, 0, 0).Interface(), nil
	case reflect.Map:
		return reflect.MakeMap(t).Interface(), nil
	case reflect.Interface:
		return nil, nil
	case reflect.Ptr:
		if t.Elem().Kind() == reflect.Struct && t.Elem() != timeType {
			return nil, nil
		}
		return reflect.New(t.Elem()).Interface(), nil
	}
	return reflect.Zero(t).Interface(), nil
}
