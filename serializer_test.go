// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package dto

import (
	"context"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/tagly/format/text"
	"go.yaml.in/yaml/v3"
)

type articleDTO struct {
	Base
	Title  string    `dto:"title"`
	Body   *string   `dto:"body;hidden"`
	Draft  bool      `dto:"draft;exclude"`
	Region *string   `dto:"region;config=app.region"`
	Author *childDTO `dto:"author;resource=upper_names"`
	Score  float64   `dto:"score"`
	Words  []string  `dto:"words"`
}

func (*articleDTO) ReduceScore(v float64) float64 { return math.Round(v) }

func (a *articleDTO) WithSummary() string { return a.Title + "..." }

type snakeDTO struct {
	Base
	FirstName string
	LastName  string
}

func (snakeDTO) DTOOptions() []Option {
	return []Option{
		WithCaseFormat(text.CaseFormatLowerUnderscore),
		WithHidden("last_name"),
	}
}

func init() {
	if err := RegisterResource("upper_names", func(v any) (any, error) {
		c, ok := v.(*childDTO)
		if !ok {
			return nil, fmt.Errorf("expected *childDTO, got %T", v)
		}
		return map[string]any{"name": strings.ToUpper(c.Name)}, nil
	}); err != nil {
		panic(err)
	}
}

func newArticle(t *testing.T, ctx context.Context) *articleDTO {
	t.Helper()
	v, err := FromMap[articleDTO](ctx, map[string]any{
		"title":  "T",
		"body":   "secret body",
		"draft":  true,
		"author": map[string]any{"name": "bob"},
		"score":  2.6,
		"words":  []any{"a", "b"},
	})
	require.NoError(t, err)
	disposeAll(t, v)
	return v
}

func TestSerializer_ToMap(t *testing.T) {
	v := newArticle(t, context.Background())

	require.NotNil(t, v.Body)
	assert.False(t, v.Draft)
	assert.Nil(t, v.Region)
	assert.Equal(t, 2.6, v.Score)

	m, err := v.ToMap()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"title":   "T",
		"author":  map[string]any{"name": "BOB"},
		"score":   3.0,
		"words":   []any{"a", "b"},
		"summary": "T...",
	}, m)
}

func TestSerializer_ConfigSourcedValueIsNotExported(t *testing.T) {
	t.Setenv("DTOTEST_APP_REGION", "us")
	env := DefaultEnv().Clone()
	env.Config = EnvSource{Prefix: "DTOTEST"}
	v := newArticle(t, WithEnv(context.Background(), env))

	require.NotNil(t, v.Region)
	assert.Equal(t, "us", *v.Region)
	m, err := v.ToMap()
	require.NoError(t, err)
	assert.NotContains(t, m, "region")
}

func TestSerializer_JSONOrder(t *testing.T) {
	v := newArticle(t, context.Background())

	out, err := v.ToJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"T","author":{"name":"BOB"},"score":3,"words":["a","b"],"summary":"T..."}`, string(out))

	text := string(out)
	order := []string{`"title"`, `"author"`, `"score"`, `"words"`, `"summary"`}
	for i := 1; i < len(order); i++ {
		assert.Less(t, strings.Index(text, order[i-1]), strings.Index(text, order[i]), order[i])
	}
}

func TestSerializer_YAML(t *testing.T) {
	v := newArticle(t, context.Background())

	out, err := v.ToYAML()
	require.NoError(t, err)
	text := string(out)
	assert.True(t, strings.HasPrefix(text, "title: T\n"), text)
	assert.Less(t, strings.Index(text, "author:"), strings.Index(text, "summary:"))

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(out, &decoded))
	assert.Equal(t, "T...", decoded["summary"])
	assert.Equal(t, map[string]any{"name": "BOB"}, decoded["author"])

	back, err := FromYAML[childDTO](context.Background(), []byte("name: from yaml\n"))
	require.NoError(t, err)
	disposeAll(t, back)
	assert.Equal(t, "from yaml", back.Name)

	_, err = FromYAML[childDTO](context.Background(), []byte("- a\n- b\n"))
	assert.True(t, HasCode(err, ErrCodeInvalidPayload))
}

func TestSerializer_Base64RoundTrip(t *testing.T) {
	p := sampleParent(t)

	encoded, err := p.ToBase64()
	require.NoError(t, err)

	back, err := FromBase64[parentDTO](context.Background(), encoded)
	require.NoError(t, err)
	disposeAll(t, back)
	assert.Equal(t, p.Number, back.Number)
	assert.Equal(t, p.Email, back.Email)
	assert.Equal(t, p.Nested.Name, back.Nested.Name)

	_, err = FromBase64[parentDTO](context.Background(), "%%%")
	assert.True(t, HasCode(err, ErrCodeInvalidPayload))
}

func TestSerializer_CaseFormatAndClassHidden(t *testing.T) {
	v, err := FromMap[snakeDTO](context.Background(), map[string]any{"first_name": "a", "last_name": "b"})
	require.NoError(t, err)
	disposeAll(t, v)
	assert.Equal(t, "b", v.LastName)

	m, err := v.ToMap()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"first_name": "a"}, m)

	got, err := v.Get("last_name")
	require.NoError(t, err)
	assert.Equal(t, "b", got)
}

func TestSerializer_UnknownResource(t *testing.T) {
	type badResourceDTO struct {
		Base
		Name string `dto:"name;resource=nowhere"`
	}
	v, err := FromMap[badResourceDTO](context.Background(), map[string]any{"name": "x"})
	require.NoError(t, err)
	disposeAll(t, v)

	_, err = v.ToMap()
	assert.True(t, HasCode(err, ErrCodeInvalidCast))
}

func TestFlatten(t *testing.T) {
	nan, keep, err := flatten(math.NaN(), DefaultDateFormat)
	require.NoError(t, err)
	assert.True(t, keep)
	assert.Equal(t, "NaN", nan)

	_, keep, err = flatten(struct{ X int }{1}, DefaultDateFormat)
	require.NoError(t, err)
	assert.False(t, keep)

	out, keep, err := flatten(map[string]any{"b": []byte("x"), "a": []int{1}}, DefaultDateFormat)
	require.NoError(t, err)
	assert.True(t, keep)
	assert.Equal(t, map[string]any{"a": []any{1}, "b": "x"}, out)

	_, keep, _ = flatten(map[int]string{1: "a"}, DefaultDateFormat)
	assert.False(t, keep)
}
