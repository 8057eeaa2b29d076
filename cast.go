// cast.go: Cast engine mapping raw values to and from typed representations
//
// A cast specifier is either a primitive name ("int", "decimal:2",
// "datetime", "encrypted:int"), the name of a registered enum, or the name
// of a registered caster with optional comma separated arguments
// ("money:EUR,2").
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package dto

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agilira/go-errors"
)

// Enum is implemented by enumerable types. Cases returns every valid value.
type Enum interface {
	Cases() []any
}

// Caster converts one property between its raw and typed forms.
// Get is applied when building, Set when serializing.
type Caster interface {
	Get(key string, value any, data map[string]any) (any, error)
	Set(key string, value any, data map[string]any) (any, error)
}

// CasterProvider is implemented by types that produce their own caster.
type CasterProvider interface {
	Caster(args ...string) Caster
}

// CasterFactory builds a caster from specifier arguments.
type CasterFactory func(args ...string) Caster

var (
	castMu   sync.RWMutex
	casters  = map[string]CasterFactory{}
	enumsMap = map[string]reflect.Type{}
)

var casterProviderType = reflect.TypeOf((*CasterProvider)(nil)).Elem()

// RegisterCaster makes name usable as a cast specifier.
func RegisterCaster(name string, factory CasterFactory) error {
	if name == "" || factory == nil {
		return errors.New(ErrCodeInvalidConfig, "caster name and factory are required")
	}
	if isPrimitiveCast(name) {
		return errors.New(ErrCodeInvalidConfig, fmt.Sprintf("caster name %q is reserved", name))
	}
	castMu.Lock()
	defer castMu.Unlock()
	casters[name] = factory
	return nil
}

// RegisterCastable registers a provider that is asked for the concrete caster.
func RegisterCastable(name string, provider CasterProvider) error {
	if provider == nil {
		return errors.New(ErrCodeInvalidConfig, "castable provider is required")
	}
	return RegisterCaster(name, provider.Caster)
}

// RegisterEnum makes an enum type usable by name as a cast specifier.
func RegisterEnum(name string, proto Enum) error {
	if name == "" || proto == nil {
		return errors.New(ErrCodeInvalidConfig, "enum name and prototype are required")
	}
	castMu.Lock()
	defer castMu.Unlock()
	enumsMap[name] = reflect.TypeOf(proto)
	return nil
}

func lookupCaster(name string) (CasterFactory, bool) {
	castMu.RLock()
	defer castMu.RUnlock()
	f, ok := casters[name]
	return f, ok
}

func lookupEnum(name string) (reflect.Type, bool) {
	castMu.RLock()
	defer castMu.RUnlock()
	t, ok := enumsMap[name]
	return t, ok
}

type castSpec struct {
	name string
	rest string
	args []string
}

func parseCast(spec string) castSpec {
	name, rest, _ := strings.Cut(strings.TrimSpace(spec), ":")
	return castSpec{name: name, rest: rest, args: splitList(rest, ",")}
}

func isPrimitiveCast(name string) bool {
	switch name {
	case "int", "integer", "float", "double", "real", "string", "bool", "boolean",
		"object", "array", "json", "collection",
		"date", "datetime", "immutable_date", "immutable_datetime", "timestamp", "decimal":
		return true
	}
	return false
}

// castEngine applies cast specifiers for one class.
type castEngine struct {
	class      string
	env        *Env
	dateFormat string
}

func newCastEngine(opts classOptions, env *Env) castEngine {
	layout := opts.dateFormat
	if layout == "" {
		layout = env.dateFormat()
	}
	return castEngine{class: opts.name, env: env, dateFormat: layout}
}

// in converts raw into its typed form according to spec.
func (c castEngine) in(key string, raw any, args map[string]any, spec string) (any, error) {
	if spec == "" {
		return raw, nil
	}
	cs := parseCast(spec)

	if cs.name == "encrypted" {
		if raw == nil {
			return nil, nil
		}
		text, err := toString(raw)
		if err != nil {
			return nil, invalidCastError(c.class, key, spec, err)
		}
		plain, err := c.decrypt(text)
		if err != nil {
			return nil, err
		}
		if cs.rest == "" {
			return plain, nil
		}
		return c.in(key, plain, args, cs.rest)
	}

	if isPrimitiveCast(cs.name) {
		if raw == nil {
			return nil, nil
		}
		v, err := c.primitiveIn(cs, raw)
		if err != nil {
			return nil, invalidCastError(c.class, key, spec, err)
		}
		return v, nil
	}

	if t, ok := lookupEnum(cs.name); ok {
		v, err := castEnum(t, raw)
		if err != nil {
			return nil, invalidCastError(c.class, key, spec, err)
		}
		return v, nil
	}

	if factory, ok := lookupCaster(cs.name); ok {
		v, err := factory(cs.args...).Get(key, raw, args)
		if err != nil {
			return nil, invalidCastError(c.class, key, spec, err)
		}
		return v, nil
	}
	return nil, invalidCastError(c.class, key, spec, nil)
}

// out converts a typed value back into its stored form according to spec.
func (c castEngine) out(key string, value any, data map[string]any, spec string) (any, error) {
	if value == nil {
		return nil, nil
	}
	if spec == "" {
		return reduceScalar(value), nil
	}
	cs := parseCast(spec)

	switch {
	case cs.name == "encrypted":
		inner := value
		if cs.rest != "" {
			v, err := c.out(key, value, data, cs.rest)
			if err != nil {
				return nil, err
			}
			inner = v
		}
		text, err := toString(inner)
		if err != nil {
			return nil, invalidCastError(c.class, key, spec, err)
		}
		return c.encrypt(text)
	case isPrimitiveCast(cs.name):
		return c.primitiveOut(cs, value), nil
	}

	if _, ok := lookupEnum(cs.name); ok {
		return enumBacking(value), nil
	}
	if factory, ok := lookupCaster(cs.name); ok {
		v, err := factory(cs.args...).Set(key, value, data)
		if err != nil {
			return nil, invalidCastError(c.class, key, spec, err)
		}
		return v, nil
	}
	return nil, invalidCastError(c.class, key, spec, nil)
}

func (c castEngine) primitiveIn(cs castSpec, raw any) (any, error) {
	switch cs.name {
	case "int", "integer":
		return toInt64(raw)
	case "float", "double", "real":
		return toFloat64(raw)
	case "string":
		return toString(raw)
	case "bool", "boolean":
		return toBool(raw)
	case "object":
		return decodeStructured(raw, true)
	case "array", "json":
		return decodeStructured(raw, false)
	case "collection":
		if list, ok := toPlainList(raw); ok {
			return list, nil
		}
		v, err := decodeStructured(raw, false)
		if err != nil {
			return nil, err
		}
		if list, ok := v.([]any); ok {
			return list, nil
		}
		return []any{v}, nil
	case "date", "immutable_date":
		t, err := toTime(raw, c.dateFormat)
		if err != nil {
			return nil, err
		}
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, t.Location()), nil
	case "datetime", "immutable_datetime":
		return toTime(raw, c.dateFormat)
	case "timestamp":
		t, err := toTime(raw, c.dateFormat)
		if err != nil {
			return nil, err
		}
		return t.Unix(), nil
	case "decimal":
		places := 0
		if len(cs.args) > 0 {
			n, err := strconv.Atoi(cs.args[0])
			if err != nil || n < 0 {
				return nil, fmt.Errorf("invalid decimal precision %q", cs.args[0])
			}
			places = n
		}
		return roundDecimal(raw, places)
	}
	return nil, fmt.Errorf("unsupported cast %q", cs.name)
}

func (c castEngine) primitiveOut(cs castSpec, value any) any {
	switch cs.name {
	case "date", "immutable_date":
		if t, ok := asTime(value); ok {
			return t.Format(time.DateOnly)
		}
	case "datetime", "immutable_datetime":
		if t, ok := asTime(value); ok {
			return t.Format(c.dateFormat)
		}
	case "timestamp":
		if t, ok := asTime(value); ok {
			return t.Unix()
		}
	}
	return reduceScalar(value)
}

func (c castEngine) decrypt(text string) (string, error) {
	if c.env == nil || c.env.Encrypter == nil {
		return "", errors.New(ErrCodeInvalidConfig, fmt.Sprintf("%s: no encrypter configured", c.class))
	}
	return c.env.Encrypter.Decrypt(text)
}

func (c castEngine) encrypt(text string) (string, error) {
	if c.env == nil || c.env.Encrypter == nil {
		return "", errors.New(ErrCodeInvalidConfig, fmt.Sprintf("%s: no encrypter configured", c.class))
	}
	return c.env.Encrypter.Encrypt(text)
}

// reduceScalar dereferences pointers and renders non-finite floats as text.
func reduceScalar(value any) any {
	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() == reflect.Float32 || rv.Kind() == reflect.Float64 {
		f := rv.Float()
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return formatFloat(f)
		}
	}
	return rv.Interface()
}

func asTime(value any) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, true
	case *time.Time:
		if v != nil {
			return *v, true
		}
	}
	return time.Time{}, false
}

// decodeStructured turns JSON text into a map or list; structured input passes through.
func decodeStructured(raw any, object bool) (any, error) {
	var text string
	switch v := raw.(type) {
	case string:
		text = v
	case []byte:
		text = string(v)
	default:
		if m, ok := toPlainMap(raw); ok {
			return m, nil
		}
		if list, ok := toPlainList(raw); ok {
			if object {
				out := make(map[string]any, len(list))
				for i, item := range list {
					out[strconv.Itoa(i)] = item
				}
				return out, nil
			}
			return list, nil
		}
		if a, ok := raw.(Arrayable); ok {
			return a.ToMap()
		}
		return nil, fmt.Errorf("cannot decode %T as structured data", raw)
	}

	var decoded any
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		return nil, err
	}
	if object {
		if _, ok := decoded.(map[string]any); !ok {
			return nil, fmt.Errorf("json value is not an object")
		}
	}
	return decoded, nil
}

// roundDecimal formats raw with the given number of places, rounding half away from zero.
func roundDecimal(raw any, places int) (string, error) {
	text, err := toString(raw)
	if err != nil {
		return "", err
	}
	r, ok := new(big.Rat).SetString(strings.TrimSpace(text))
	if !ok {
		return "", fmt.Errorf("%q is not numeric", text)
	}

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(places)), nil)
	scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(scale))
	negative := scaled.Sign() < 0
	scaled.Abs(scaled)
	scaled.Add(scaled, big.NewRat(1, 2))
	q := new(big.Int).Quo(scaled.Num(), scaled.Denom())

	digits := q.String()
	if places > 0 {
		if len(digits) <= places {
			digits = strings.Repeat("0", places-len(digits)+1) + digits
		}
		digits = digits[:len(digits)-places] + "." + digits[len(digits)-places:]
	}
	if negative && q.Sign() != 0 {
		digits = "-" + digits
	}
	return digits, nil
}

// castEnum maps raw to a case of enum type t, by backing value first and then by name.
func castEnum(t reflect.Type, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	if reflect.TypeOf(raw) == t {
		return raw, nil
	}
	enum, ok := reflect.Zero(t).Interface().(Enum)
	if !ok {
		return nil, fmt.Errorf("%s is not an enum", t)
	}
	cases := enum.Cases()
	for _, c := range cases {
		if backingEqual(c, raw) {
			return c, nil
		}
	}
	if name, ok := raw.(string); ok {
		for _, c := range cases {
			if s, ok := c.(fmt.Stringer); ok && s.String() == name {
				return c, nil
			}
		}
	}
	return nil, fmt.Errorf("%v is not a valid %s", raw, t.Name())
}

// enumBacking reduces an enum case to its stored scalar.
func enumBacking(v any) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return int(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.Bool:
		return rv.Bool()
	}
	return v
}

func backingEqual(c, raw any) bool {
	switch b := enumBacking(c).(type) {
	case string:
		s, err := toString(raw)
		return err == nil && s == b
	case int:
		n, err := toInt64(raw)
		if err != nil {
			return false
		}
		if s, ok := raw.(string); ok && strings.TrimSpace(s) != strconv.FormatInt(n, 10) {
			return false
		}
		return n == int64(b)
	case uint64:
		n, err := toInt64(raw)
		return err == nil && n >= 0 && uint64(n) == b
	case float64:
		f, err := toFloat64(raw)
		return err == nil && f == b
	case bool:
		v, err := toBool(raw)
		return err == nil && v == b
	}
	return false
}

func isEnumValue(v any) bool {
	if v == nil {
		return false
	}
	_, ok := v.(Enum)
	return ok
}
