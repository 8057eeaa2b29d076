// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package dto

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type searchDTO struct {
	Base
	Query  string        `dto:"q"`
	Page   int           `dto:"page;default=1"`
	Tags   []string      `dto:"tags"`
	UserID int           `dto:"user_id;route=id"`
	Tenant *string       `dto:"tenant;request=X-Tenant"`
	Req    *http.Request `dto:"req"`
}

func TestFromRequest_JSONBody(t *testing.T) {
	forgetListeners(t, searchDTO{})
	var fired int
	require.NoError(t, On(searchDTO{}, EventFromRequest, func(args ...any) any {
		fired++
		return nil
	}))

	r := httptest.NewRequest(http.MethodPost, "/users/7/search?q=from-query&page=3",
		strings.NewReader(`{"q":"from-body","tags":["a","b"]}`))
	r.Header.Set("Content-Type", "application/json; charset=utf-8")
	r.Header.Set("X-Tenant", "acme")
	r.SetPathValue("id", "7")

	v, err := FromRequest[searchDTO](context.Background(), r)
	require.NoError(t, err)
	disposeAll(t, v)

	assert.Equal(t, "from-body", v.Query)
	assert.Equal(t, 3, v.Page)
	assert.Equal(t, []string{"a", "b"}, v.Tags)
	assert.Equal(t, 7, v.UserID)
	require.NotNil(t, v.Tenant)
	assert.Equal(t, "acme", *v.Tenant)
	assert.Same(t, r, v.Req)
	assert.Equal(t, 1, fired)
}

func TestFromRequest_Form(t *testing.T) {
	form := url.Values{"q": {"from-form"}, "tags": {"x", "y"}}
	r := httptest.NewRequest(http.MethodPost, "/search", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	env := DefaultEnv().Clone()
	env.Route = MapSource{"id": 11}
	v, err := FromRequest[searchDTO](WithEnv(context.Background(), env), r)
	require.NoError(t, err)
	disposeAll(t, v)

	assert.Equal(t, "from-form", v.Query)
	assert.Equal(t, 1, v.Page)
	assert.Equal(t, []string{"x", "y"}, v.Tags)
	assert.Equal(t, 11, v.UserID)
	assert.Nil(t, v.Tenant)
}

func TestFromRequest_Errors(t *testing.T) {
	_, err := FromRequest[searchDTO](context.Background(), nil)
	assert.True(t, HasCode(err, ErrCodeInvalidPayload))

	r := httptest.NewRequest(http.MethodPost, "/users/1/search", strings.NewReader(`[1,2]`))
	r.Header.Set("Content-Type", "application/json")
	_, err = FromRequest[searchDTO](context.Background(), r)
	assert.True(t, HasCode(err, ErrCodeInvalidPayload))

	r = httptest.NewRequest(http.MethodGet, "/search?q=x", nil)
	_, err = FromRequest[searchDTO](context.Background(), r)
	assert.True(t, HasCode(err, ErrCodeMissingRequiredKey))
}

func TestFile_RoundTrip(t *testing.T) {
	p := sampleParent(t)
	dir := t.TempDir()

	for _, name := range []string{"parent.json", "parent.yaml", "parent.YML"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, SaveFile(p, path))

			back, err := FromFile[parentDTO](context.Background(), path)
			require.NoError(t, err)
			disposeAll(t, back)
			assert.Equal(t, 22, back.Number)
			assert.Equal(t, "x", back.Nested.Name)
		})
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestFile_Errors(t *testing.T) {
	p := sampleParent(t)
	dir := t.TempDir()

	assert.True(t, HasCode(SaveFile(p, filepath.Join(dir, "parent.toml")), ErrCodeInvalidPayload))
	assert.True(t, HasCode(SaveFile(p, filepath.Join(dir, "missing", "parent.json")), ErrCodeIOError))

	_, err := FromFile[parentDTO](context.Background(), filepath.Join(dir, "absent.json"))
	assert.True(t, HasCode(err, ErrCodeIOError))

	txt := filepath.Join(dir, "parent.txt")
	require.NoError(t, os.WriteFile(txt, []byte("{}"), 0600))
	_, err = FromFile[parentDTO](context.Background(), txt)
	assert.True(t, HasCode(err, ErrCodeInvalidPayload))
}

func TestFromJSON_Errors(t *testing.T) {
	_, err := FromJSON[childDTO](context.Background(), []byte(`"text"`))
	assert.True(t, HasCode(err, ErrCodeInvalidPayload))

	_, err = FromBase64[childDTO](context.Background(), "***")
	assert.True(t, HasCode(err, ErrCodeInvalidPayload))

	_, err = FromModel[childDTO](context.Background(), nil)
	assert.True(t, HasCode(err, ErrCodeModelBindingFailed))
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0600))

	require.NoError(t, WriteFileAtomic(path, []byte("new")))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	err = WriteFileAtomic(filepath.Join(dir, "missing", "out.json"), []byte("x"))
	assert.True(t, HasCode(err, ErrCodeIOError))
}
