// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package dto

import (
	"context"
	goerrors "errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orderDTO struct {
	Base
	Customer *childDTO `dto:"customer"`
	Total    int       `dto:"total"`
}

type signupDTO struct {
	Base
	Email string `dto:"email"`
	Age   int    `dto:"age"`
}

func (signupDTO) DTOOptions() []Option {
	return []Option{WithRules(map[string]string{
		"email": "required|email",
		"age":   "integer|min:18",
	})}
}

type nodeDTO struct {
	Base
	Label string   `dto:"label"`
	Next  *nodeDTO `dto:"next"`
}

type catDTO struct {
	Base
	Meow string `dto:"meow"`
}

type petOwnerDTO struct {
	Base
	Pet  any `dto:"pet;union=catDTO|array"`
	Pets any `dto:"pets;union=catDTO|collection"`
}

type point struct {
	X, Y int
}

type shapeDTO struct {
	Base
	Origin point             `dto:"origin"`
	Scores []int             `dto:"scores"`
	Labels map[string]string `dto:"labels"`
	At     time.Time         `dto:"at"`
	Due    *time.Time        `dto:"due"`
}

type badAnnotationDTO struct {
	Base
	X string `dto:"x;bogus"`
}

type badNestedDTO struct {
	Base
	Child childDTO
}

type badEncryptedDTO struct {
	Base
	N int `dto:"n;encrypted"`
}

func TestBuild_EndToEnd(t *testing.T) {
	p := sampleParent(t)

	assert.Equal(t, 22, p.Number)
	assert.Equal(t, "n", p.Name)
	assert.Equal(t, "e", p.Email)
	require.NotNil(t, p.Nested)
	assert.Equal(t, "x", p.Nested.Name)
	assert.Equal(t, "parentDTO", p.Class())

	m, err := p.ToMap()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"number": 22,
		"name":   "n",
		"email":  "e",
		"nested": map[string]any{"name": "x"},
	}, m)

	out, err := p.ToJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"number":22,"name":"n","email":"e","nested":{"name":"x"}}`, string(out))
	text := string(out)
	assert.Less(t, strings.Index(text, `"number"`), strings.Index(text, `"name"`))
	assert.Less(t, strings.Index(text, `"email"`), strings.Index(text, `"nested"`))
}

func TestBuild_MissingRequiredKey(t *testing.T) {
	_, err := FromMap[parentDTO](context.Background(), map[string]any{"name": "n"})
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeMissingRequiredKey))
	assert.Contains(t, err.Error(), `"number"`)
}

func TestBuild_Aliases(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name     string
		input    map[string]any
		wantID   int
		wantRole string
		wantHost string
	}{
		{"alias", map[string]any{"uid": 5}, 5, "guest", ""},
		{"primary wins", map[string]any{"id": 1, "uid": 2}, 1, "guest", ""},
		{"first alias", map[string]any{"user_id": "7", "uid": 8, "role": "admin", "host": "h"}, 7, "admin", "h"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := FromMap[aliasDTO](ctx, tt.input)
			require.NoError(t, err)
			disposeAll(t, v)

			assert.Equal(t, tt.wantID, v.ID)
			assert.Equal(t, tt.wantRole, v.Role)
			if tt.wantHost == "" {
				assert.Nil(t, v.Host)
			} else {
				require.NotNil(t, v.Host)
				assert.Equal(t, tt.wantHost, *v.Host)
			}
		})
	}

	_, err := FromMap[aliasDTO](ctx, map[string]any{})
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeMissingRequiredKey))
	assert.Contains(t, err.Error(), "also tried user_id, uid")
}

func TestBuild_RequiredNested(t *testing.T) {
	ctx := context.Background()

	_, err := FromMap[requiredDTO](ctx, map[string]any{})
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeMissingRequiredKey))
	assert.Contains(t, err.Error(), `"child"`)

	v, err := FromMap[requiredDTO](ctx, map[string]any{"child": map[string]any{"name": "c"}})
	require.NoError(t, err)
	disposeAll(t, v)
	assert.Nil(t, v.Tags)
	assert.Equal(t, "c", v.Child.Name)
}

func TestBuild_FailureLeavesNothingTracked(t *testing.T) {
	before := Tracked()

	_, err := FromMap[orderDTO](context.Background(), map[string]any{
		"customer": map[string]any{"name": "a"},
	})
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeMissingRequiredKey))
	assert.Equal(t, before, Tracked())
}

func TestBuild_Validation(t *testing.T) {
	ctx := context.Background()

	_, err := FromMap[signupDTO](ctx, map[string]any{"email": "nope", "age": "12"})
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeValidationFailed))

	var failure *ValidationFailure
	require.True(t, goerrors.As(err, &failure))
	assert.Equal(t, "signupDTO", failure.Class)
	messages := failure.Messages()
	assert.Contains(t, messages, "email")
	assert.Contains(t, messages, "age")

	v, err := FromMap[signupDTO](ctx, map[string]any{"email": "a@b.io", "age": 30})
	require.NoError(t, err)
	disposeAll(t, v)
	assert.Equal(t, 30, v.Age)
}

type rejectAll struct{}

func (rejectAll) Validate(context.Context, map[string]any, map[string]string) error {
	return fmt.Errorf("service unavailable")
}

func TestBuild_CustomValidator(t *testing.T) {
	env := DefaultEnv().Clone()
	env.Validator = rejectAll{}
	ctx := WithEnv(context.Background(), env)

	_, err := FromMap[signupDTO](ctx, map[string]any{"email": "a@b.io", "age": 30})
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeValidationFailed))
	var failure *ValidationFailure
	assert.False(t, goerrors.As(err, &failure))
}

func TestFromEmpty(t *testing.T) {
	forgetListeners(t, parentDTO{})
	ctx := context.Background()

	p, err := FromEmpty[parentDTO](ctx)
	require.NoError(t, err)
	disposeAll(t, p)
	assert.Equal(t, 0, p.Number)
	assert.Equal(t, "", p.Name)
	require.NotNil(t, p.Nested)
	assert.Equal(t, "", p.Nested.Name)

	require.NoError(t, On(parentDTO{}, EventPrepareEmpty, func(args ...any) any {
		return map[string]any{"name": "hooked"}
	}))
	hooked, err := FromEmpty[parentDTO](ctx)
	require.NoError(t, err)
	disposeAll(t, hooked)
	assert.Equal(t, "hooked", hooked.Name)
	assert.Equal(t, "", hooked.Nested.Name)
}

func TestFromEmpty_CycleGuard(t *testing.T) {
	n, err := FromEmpty[nodeDTO](context.Background())
	require.NoError(t, err)
	disposeAll(t, n)
	assert.Nil(t, n.Next)
}

func TestBuild_CastOverride(t *testing.T) {
	v, err := FromMap[taggedDTO](context.Background(), map[string]any{"title": "t", "secret": "s", "price": "3.14159"},
		CastOverride("price", "decimal:3"))
	require.NoError(t, err)
	disposeAll(t, v)
	assert.Equal(t, "3.142", v.Price)
}

func TestBuild_ConfigMarker(t *testing.T) {
	env := DefaultEnv().Clone()
	env.Config = ConfigSource{"app": map[string]any{"host": "db.local"}}
	ctx := WithEnv(context.Background(), env)

	v, err := FromMap[taggedDTO](ctx, map[string]any{"title": "t", "secret": "s", "price": 1, "host": "ignored"})
	require.NoError(t, err)
	disposeAll(t, v)
	require.NotNil(t, v.Host)
	assert.Equal(t, "db.local", *v.Host)
	assert.Equal(t, "x", v.Internal)

	m, err := v.ToMap()
	require.NoError(t, err)
	assert.NotContains(t, m, "host")
	assert.NotContains(t, m, "internal")
}

func TestBuild_Union(t *testing.T) {
	require.NoError(t, Register(catDTO{}))
	ctx := context.Background()

	v, err := FromMap[petOwnerDTO](ctx, map[string]any{
		"pet":  map[string]any{"meow": "m"},
		"pets": []any{map[string]any{"meow": "a"}, map[string]any{"meow": "b"}},
	})
	require.NoError(t, err)
	disposeAll(t, v)

	cat, ok := v.Pet.(*catDTO)
	require.True(t, ok, "pet is %T", v.Pet)
	assert.Equal(t, "m", cat.Meow)

	pets, ok := v.Pets.(*Collection[any])
	require.True(t, ok, "pets is %T", v.Pets)
	require.Equal(t, 2, pets.Len())
	second, _ := pets.At(1)
	assert.Equal(t, "b", second.(*catDTO).Meow)

	m, err := v.ToMap()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"meow": "m"}, m["pet"])
	assert.Equal(t, []any{map[string]any{"meow": "a"}, map[string]any{"meow": "b"}}, m["pets"])

	listed, err := FromMap[petOwnerDTO](ctx, map[string]any{"pet": []any{1, 2}})
	require.NoError(t, err)
	disposeAll(t, listed)
	assert.Equal(t, []any{1, 2}, listed.Pet)
	assert.Nil(t, listed.Pets)
}

func TestBuild_ProviderAndContainers(t *testing.T) {
	require.NoError(t, RegisterProvider(point{}, func(_ context.Context, raw any) (any, error) {
		var p point
		text, err := toString(raw)
		if err != nil {
			return nil, err
		}
		if _, err := fmt.Sscanf(text, "%d,%d", &p.X, &p.Y); err != nil {
			return nil, err
		}
		return p, nil
	}))

	v, err := FromMap[shapeDTO](context.Background(), map[string]any{
		"origin": "3,4",
		"scores": "[1,2,3]",
		"labels": map[string]any{"a": "b"},
		"at":     "2024-05-06 07:08:09",
		"due":    "2024-05-07",
	})
	require.NoError(t, err)
	disposeAll(t, v)

	assert.Equal(t, point{X: 3, Y: 4}, v.Origin)
	assert.Equal(t, []int{1, 2, 3}, v.Scores)
	assert.Equal(t, map[string]string{"a": "b"}, v.Labels)
	assert.Equal(t, time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC), v.At)
	require.NotNil(t, v.Due)
	assert.Equal(t, 7, v.Due.Day())

	m, err := v.ToMap()
	require.NoError(t, err)
	assert.Equal(t, "2024-05-06 07:08:09", m["at"])
	assert.NotContains(t, m, "origin")
}

func TestSchema_InvalidDeclarations(t *testing.T) {
	_, err := SchemaOf(badAnnotationDTO{})
	assert.True(t, HasCode(err, ErrCodeInvalidType), "unknown annotation: %v", err)

	_, err = SchemaOf(badNestedDTO{})
	assert.True(t, HasCode(err, ErrCodeInvalidType), "value nested DTO: %v", err)

	_, err = SchemaOf(badEncryptedDTO{})
	assert.True(t, HasCode(err, ErrCodeInvalidCast), "encrypted int: %v", err)

	_, err = SchemaOf(struct{ X int }{})
	assert.True(t, HasCode(err, ErrCodeInvalidType), "missing Base: %v", err)

	_, err = SchemaOf(nil)
	assert.True(t, HasCode(err, ErrCodeInvalidType))
}

func TestSchema_KeysAndParams(t *testing.T) {
	s, err := SchemaOf(&parentDTO{})
	require.NoError(t, err)

	keys := make([]string, 0, len(s.Params))
	for _, p := range s.Params {
		keys = append(keys, p.Key)
	}
	assert.Equal(t, []string{"number", "name", "email", "nested"}, keys)

	byField, ok := s.Param("Email")
	require.True(t, ok)
	byKey, ok := s.Param("email")
	require.True(t, ok)
	assert.Same(t, byField, byKey)

	tagged, err := SchemaOf(taggedDTO{})
	require.NoError(t, err)
	_, ok = tagged.Param("skipped")
	assert.False(t, ok)
	host, ok := tagged.Param("host")
	require.True(t, ok)
	assert.True(t, host.External())
	assert.True(t, host.Nullable())
}

type boxDTO struct {
	Base
	Label *childDTO `dto:"label"`
	Count int       `dto:"count"`
}

type shelfDTO struct {
	Base
	Box *boxDTO `dto:"box"`
}

func TestBuild_FailedSetReleasesNested(t *testing.T) {
	start := Tracked()
	v, err := FromMap[shelfDTO](context.Background(), map[string]any{})
	require.NoError(t, err)
	before := Tracked()
	assert.Equal(t, start+1, before)

	err = v.Set("box", map[string]any{"label": map[string]any{"name": "x"}})
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeMissingRequiredKey))
	assert.Equal(t, before, Tracked())
	assert.Nil(t, v.Box)

	require.NoError(t, v.Set("box", map[string]any{"label": map[string]any{"name": "x"}, "count": 2}))
	assert.Equal(t, before+2, Tracked())

	v.Dispose()
	assert.Equal(t, start, Tracked())
}
