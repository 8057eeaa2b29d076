// validate.go: Validation collaborator run before construction
//
// Rules are pipe separated per key, for example "required|string|max:32".
// RuleValidator covers the common set; any other Validator can be plugged
// into Env.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package dto

import (
	"context"
	"fmt"
	"math"
	"net/mail"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Validator checks raw input against class rules. A rejection should be a
// *ValidationFailure.
type Validator interface {
	Validate(ctx context.Context, data map[string]any, rules map[string]string) error
}

// RuleValidator understands required, nullable, string, integer, numeric,
// boolean, array, email, min:N, max:N and in:a,b.
type RuleValidator struct{}

// Validate implements Validator.
func (RuleValidator) Validate(_ context.Context, data map[string]any, rules map[string]string) error {
	keys := make([]string, 0, len(rules))
	for k := range rules {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	failure := &ValidationFailure{}
	for _, key := range keys {
		failure.Violations = append(failure.Violations, checkField(key, data, rules[key])...)
	}
	if len(failure.Violations) == 0 {
		return nil
	}
	return failure
}

func checkField(key string, data map[string]any, spec string) []Violation {
	rules := splitList(spec, "|")
	value, present := data[key]
	blank := isBlank(value)

	var out []Violation
	for _, rule := range rules {
		if rule == "required" && (!present || blank) {
			return []Violation{{Field: key, Rule: "required", Message: fmt.Sprintf("The %s field is required.", key)}}
		}
	}
	if !present || value == nil {
		return nil
	}

	for _, rule := range rules {
		name, arg, _ := strings.Cut(rule, ":")
		if msg, ok := checkRule(name, arg, key, value); !ok {
			out = append(out, Violation{Field: key, Rule: name, Message: msg})
		}
	}
	return out
}

// checkRule returns false with a message when value breaks the rule.
// Unknown rules pass.
func checkRule(name, arg, key string, value any) (string, bool) {
	switch name {
	case "string":
		_, ok := value.(string)
		return fmt.Sprintf("The %s field must be a string.", key), ok
	case "integer", "int":
		return fmt.Sprintf("The %s field must be an integer.", key), isInteger(value)
	case "numeric":
		_, isBool := value.(bool)
		_, err := toFloat64(value)
		return fmt.Sprintf("The %s field must be a number.", key), err == nil && !isBool
	case "boolean", "bool":
		return fmt.Sprintf("The %s field must be true or false.", key), isBooleanLike(value)
	case "array":
		_, isMap := toPlainMap(value)
		_, isList := toPlainList(value)
		return fmt.Sprintf("The %s field must be an array.", key), isMap || isList
	case "email":
		s, ok := value.(string)
		if ok {
			addr, err := mail.ParseAddress(s)
			ok = err == nil && addr.Address == s
		}
		return fmt.Sprintf("The %s field must be a valid email address.", key), ok
	case "min", "max":
		limit, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return fmt.Sprintf("The %s rule of %s has an invalid limit %q.", name, key, arg), false
		}
		size := sizeOf(value)
		if name == "min" {
			return fmt.Sprintf("The %s field must be at least %s.", key, arg), size >= limit
		}
		return fmt.Sprintf("The %s field must not be greater than %s.", key, arg), size <= limit
	case "in":
		s, err := toString(value)
		if err == nil {
			for _, option := range splitList(arg, ",") {
				if option == s {
					return "", true
				}
			}
		}
		return fmt.Sprintf("The selected %s is invalid.", key), false
	}
	return "", true
}

func isBlank(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	}
	return false
}

func isInteger(v any) bool {
	switch x := v.(type) {
	case string:
		_, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		return err == nil
	case bool:
		return false
	}
	f, err := toFloat64(v)
	return err == nil && f == math.Trunc(f) && !math.IsInf(f, 0)
}

func isBooleanLike(v any) bool {
	switch x := v.(type) {
	case bool:
		return true
	case string:
		switch x {
		case "0", "1", "true", "false":
			return true
		}
		return false
	}
	n, err := toInt64(v)
	return err == nil && (n == 0 || n == 1)
}

// sizeOf is the rune count of strings, the value of numbers, or the item count.
func sizeOf(v any) float64 {
	if s, ok := v.(string); ok {
		return float64(utf8.RuneCountInString(s))
	}
	if list, ok := toPlainList(v); ok {
		return float64(len(list))
	}
	if m, ok := toPlainMap(v); ok {
		return float64(len(m))
	}
	f, _ := toFloat64(v)
	return f
}
