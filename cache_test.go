// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package dto

import (
	"context"
	goerrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type quoteDTO struct {
	Base
	Pair string   `dto:"pair"`
	Rate *float64 `dto:"rate;cache=fx.rate"`
}

func cacheCtx(c Cache) context.Context {
	env := DefaultEnv().Clone()
	env.Cache = c
	return WithEnv(context.Background(), env)
}

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache()
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Set("a", 1, 0)
	c.Set("b", "two", time.Hour)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 2, c.Len())

	c.Delete("a")
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCache()
	c.Set("short", "x", time.Nanosecond)
	c.Set("long", "y", 0)

	assert.Eventually(t, func() bool {
		_, ok := c.Get("short")
		return !ok
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, c.Len())

	c.Set("other", "z", 0)
	assert.Equal(t, 2, c.Len())
}

func TestFromCache(t *testing.T) {
	c := NewMemoryCache()
	ctx := cacheCtx(c)

	calls := 0
	fallback := func(ctx context.Context) (*childDTO, error) {
		calls++
		return FromMap[childDTO](ctx, map[string]any{"name": "fresh"})
	}

	first, err := FromCache(ctx, "child:1", time.Hour, fallback)
	require.NoError(t, err)
	disposeAll(t, first)
	assert.Equal(t, "fresh", first.Name)

	raw, ok := c.Get("child:1")
	require.True(t, ok)
	assert.IsType(t, []byte(nil), raw)

	second, err := FromCache(ctx, "child:1", time.Hour, fallback)
	require.NoError(t, err)
	disposeAll(t, second)
	assert.Equal(t, "fresh", second.Name)
	assert.NotSame(t, first, second)
	assert.Equal(t, 1, calls)

	c.Set("child:2", first, 0)
	third, err := FromCache[childDTO](ctx, "child:2", 0, nil)
	require.NoError(t, err)
	assert.Same(t, first, third)
}

func TestFromCache_Errors(t *testing.T) {
	_, err := FromCache[childDTO](context.Background(), "k", 0, nil)
	assert.True(t, HasCode(err, ErrCodeInvalidConfig))

	ctx := cacheCtx(NewMemoryCache())
	_, err = FromCache[childDTO](ctx, "k", 0, nil)
	assert.True(t, HasCode(err, ErrCodeUndefinedCache))

	boom := goerrors.New("boom")
	_, err = FromCache(ctx, "k", 0, func(context.Context) (*childDTO, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
}

func TestCacheMarker(t *testing.T) {
	c := NewMemoryCache()
	ctx := cacheCtx(c)

	v, err := FromMap[quoteDTO](ctx, map[string]any{"pair": "EURUSD"})
	require.NoError(t, err)
	disposeAll(t, v)
	assert.Nil(t, v.Rate)

	c.Set("fx.rate", 1.25, 0)
	v, err = FromMap[quoteDTO](ctx, map[string]any{"pair": "EURUSD", "rate": 9.0})
	require.NoError(t, err)
	disposeAll(t, v)
	require.NotNil(t, v.Rate)
	assert.Equal(t, 1.25, *v.Rate)
}
