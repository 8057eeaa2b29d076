// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package dto

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type shopOrderDTO struct {
	Base
	ID       int       `dto:"id"`
	Secret   string    `dto:"secret;hidden"`
	Host     *string   `dto:"host;config=app.host"`
	Items    []string  `dto:"items"`
	Customer *childDTO `dto:"customer"`
	Flag     bool      `dto:"flag"`
}

func (shopOrderDTO) DTOOptions() []Option {
	return []Option{WithName("shop.order"), WithVersion("2")}
}

type jsonImportDTO struct {
	Base
	A int `dto:"a"`
}

func (jsonImportDTO) DTOOptions() []Option { return []Option{WithImport(ImportJSON)} }

type gobImportDTO struct {
	Base
	A int `dto:"a"`
}

func (gobImportDTO) DTOOptions() []Option { return []Option{WithImport(ImportSerialize)} }

type methodImportDTO struct {
	Base
	A int `dto:"a"`
}

func (methodImportDTO) DTOOptions() []Option {
	return []Option{WithImportMethod("Token", func(s string) (map[string]any, error) {
		rest, ok := strings.CutPrefix(s, "a-")
		if !ok {
			return nil, fmt.Errorf("malformed token %q", s)
		}
		return map[string]any{"a": rest}, nil
	})}
}

func (m *methodImportDTO) Token() string { return fmt.Sprintf("a-%d", m.A) }

func newShopOrder(t *testing.T) *shopOrderDTO {
	t.Helper()
	v, err := FromMap[shopOrderDTO](context.Background(), map[string]any{
		"id":       7,
		"secret":   "s3",
		"host":     "h",
		"items":    []any{"x", "y"},
		"customer": map[string]any{"name": "c"},
		"flag":     true,
	})
	require.NoError(t, err)
	disposeAll(t, v)
	return v
}

func TestEnvelope_RoundTrip(t *testing.T) {
	v := newShopOrder(t)
	require.NoError(t, v.SetMeta("trace", "abc"))

	raw, err := v.ToSerialize()
	require.NoError(t, err)

	env, err := DecodeEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, "shop.order", env.Class)
	assert.Equal(t, "2", env.Version)
	assert.Equal(t, "s3", env.Data["secret"])
	assert.Equal(t, "h", env.Data["host"])
	assert.Equal(t, map[string]any{"name": "c"}, env.Data["customer"])
	assert.NotContains(t, env.Data, MetaKey)
	assert.Equal(t, map[string]any{"trace": "abc"}, env.Meta)

	back, err := FromSerialize[shopOrderDTO](context.Background(), raw)
	require.NoError(t, err)
	disposeAll(t, back)
	assert.Equal(t, 7, back.ID)
	assert.Equal(t, "s3", back.Secret)
	require.NotNil(t, back.Host)
	assert.Equal(t, "h", *back.Host)
	assert.Equal(t, []string{"x", "y"}, back.Items)
	assert.Equal(t, "c", back.Customer.Name)
	assert.True(t, back.Flag)
	assert.Equal(t, map[string]any{"trace": "abc"}, back.Meta())
}

func TestEnvelope_MetaKeepsTypes(t *testing.T) {
	v := newShopOrder(t)
	seen := time.Date(2024, time.March, 1, 12, 30, 0, 0, time.UTC)
	require.NoError(t, v.SetMeta("tags", []string{"a", "b"}))
	require.NoError(t, v.SetMeta("counts", map[string]int{"x": 1}))
	require.NoError(t, v.SetMeta("seen", seen))
	require.NoError(t, v.SetMeta("status", statusActive))
	require.NoError(t, v.SetMeta("trail", map[string]any{"ids": []int64{4, 5}, "n": 3}))

	raw, err := v.ToSerialize()
	require.NoError(t, err)

	env, err := DecodeEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, env.Meta["tags"])
	assert.Equal(t, statusActive, env.Meta["status"])

	back, err := FromSerialize[shopOrderDTO](context.Background(), raw)
	require.NoError(t, err)
	disposeAll(t, back)
	assert.Equal(t, v.Meta(), back.Meta())
	assert.IsType(t, map[string]int{}, back.Meta()["counts"])
	got, ok := back.Meta()["seen"].(time.Time)
	require.True(t, ok)
	assert.True(t, seen.Equal(got))
}

func TestEnvelope_Errors(t *testing.T) {
	v := newShopOrder(t)
	raw, err := v.ToSerialize()
	require.NoError(t, err)

	_, err = FromSerialize[childDTO](context.Background(), raw)
	assert.True(t, HasCode(err, ErrCodeInvalidPayload))

	_, err = FromSerialize[shopOrderDTO](context.Background(), []byte("not gob"))
	assert.True(t, HasCode(err, ErrCodeInvalidPayload))

	_, err = DecodeEnvelope(nil)
	assert.True(t, HasCode(err, ErrCodeInvalidPayload))
}

func TestEnvelope_SerializeEvents(t *testing.T) {
	forgetListeners(t, shopOrderDTO{})
	require.NoError(t, On(shopOrderDTO{}, EventSerialize, func(args ...any) any {
		return map[string]any{"secret": "rewritten"}
	}))
	var unserialized map[string]any
	require.NoError(t, On(shopOrderDTO{}, EventUnserialize, func(args ...any) any {
		unserialized = args[0].(map[string]any)
		return map[string]any{"id": 8}
	}))

	v := newShopOrder(t)
	raw, err := v.ToSerialize()
	require.NoError(t, err)

	back, err := FromSerialize[shopOrderDTO](context.Background(), raw)
	require.NoError(t, err)
	disposeAll(t, back)
	assert.Equal(t, "rewritten", back.Secret)
	assert.Equal(t, 8, back.ID)
	assert.Contains(t, unserialized, MetaKey)
}

func TestImport_Modes(t *testing.T) {
	ctx := context.Background()

	t.Run("url", func(t *testing.T) {
		p := sampleParent(t)
		text, err := p.ToImport()
		require.NoError(t, err)
		assert.Equal(t, "email=e&name=n&nested%5Bname%5D=x&number=22", text)

		back, err := FromImport[parentDTO](ctx, text)
		require.NoError(t, err)
		disposeAll(t, back)
		assert.Equal(t, 22, back.Number)
		assert.Equal(t, "x", back.Nested.Name)
	})

	t.Run("json", func(t *testing.T) {
		v, err := FromMap[jsonImportDTO](ctx, map[string]any{"a": 3})
		require.NoError(t, err)
		disposeAll(t, v)
		text, err := v.ToImport()
		require.NoError(t, err)
		assert.JSONEq(t, `{"a":3}`, text)

		back, err := FromImport[jsonImportDTO](ctx, text)
		require.NoError(t, err)
		disposeAll(t, back)
		assert.Equal(t, 3, back.A)
	})

	t.Run("serialize", func(t *testing.T) {
		v, err := FromMap[gobImportDTO](ctx, map[string]any{"a": 4})
		require.NoError(t, err)
		disposeAll(t, v)
		text, err := v.ToImport()
		require.NoError(t, err)

		back, err := FromImport[gobImportDTO](ctx, text)
		require.NoError(t, err)
		disposeAll(t, back)
		assert.Equal(t, 4, back.A)

		_, err = FromImport[gobImportDTO](ctx, "%%%")
		assert.True(t, HasCode(err, ErrCodeInvalidPayload))
	})

	t.Run("method", func(t *testing.T) {
		v, err := FromMap[methodImportDTO](ctx, map[string]any{"a": 5})
		require.NoError(t, err)
		disposeAll(t, v)
		text, err := v.ToImport()
		require.NoError(t, err)
		assert.Equal(t, "a-5", text)

		back, err := FromImport[methodImportDTO](ctx, text)
		require.NoError(t, err)
		disposeAll(t, back)
		assert.Equal(t, 5, back.A)

		_, err = FromImport[methodImportDTO](ctx, "garbage")
		assert.True(t, HasCode(err, ErrCodeInvalidPayload))
	})
}

func TestImportMode_Names(t *testing.T) {
	for _, mode := range []ImportMode{ImportURL, ImportSerialize, ImportJSON, ImportMethod} {
		parsed, ok := ParseImportMode(mode.String())
		require.True(t, ok, mode.String())
		assert.Equal(t, mode, parsed)
	}
	_, ok := ParseImportMode("xml")
	assert.False(t, ok)
	assert.Equal(t, "unknown", ImportMode(42).String())
}

func TestEncodeQuery(t *testing.T) {
	got := EncodeQuery(map[string]any{
		"l": []any{"x", "y"},
		"f": true,
		"a": map[string]any{"b": 1},
		"n": nil,
		"z": false,
	})
	assert.Equal(t, "a%5Bb%5D=1&f=1&l%5B0%5D=x&l%5B1%5D=y&z=0", got)
	assert.Equal(t, "", EncodeQuery(map[string]any{}))
	assert.Equal(t, "q=a+b%26c", EncodeQuery(map[string]any{"q": "a b&c"}))
}

func TestDecodeQuery(t *testing.T) {
	got, err := DecodeQuery("?user[name]=Ann&user[tags][0]=x&user[tags][1]=y&active=1&sparse[0]=a&sparse[2]=c")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"user":   map[string]any{"name": "Ann", "tags": []any{"x", "y"}},
		"active": "1",
		"sparse": map[string]any{"0": "a", "2": "c"},
	}, got)

	_, err = DecodeQuery("bad=%zz")
	assert.Error(t, err)

	back, err := DecodeQuery(EncodeQuery(map[string]any{"a": map[string]any{"b": "1"}, "l": []any{"x"}}))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": map[string]any{"b": "1"}, "l": []any{"x"}}, back)
}
