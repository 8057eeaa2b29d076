// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package dto

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// Shared DTO classes used across the package tests.

type childDTO struct {
	Base
	Name string
}

type parentDTO struct {
	Base
	Number int
	Name   string
	Email  string
	Nested *childDTO
}

type aliasDTO struct {
	Base
	ID   int     `dto:"id;alias=user_id|uid"`
	Role string  `dto:"role;default=guest"`
	Host *string `dto:"host"`
}

type requiredDTO struct {
	Base
	Tags  []string  `dto:"tags"`
	Child *childDTO `dto:"child;required"`
}

type taggedDTO struct {
	Base
	Title    string  `dto:"title"`
	Secret   string  `dto:"secret;hidden"`
	Internal string  `dto:"internal;exclude;default=x"`
	Host     *string `dto:"host;config=app.host"`
	Skipped  string  `dto:"-"`
	Price    string  `dto:"price;cast=decimal:2"`
}

type status string

const (
	statusActive status = "active"
	statusBanned status = "banned"
)

func (status) Cases() []any { return []any{statusActive, statusBanned} }

type priority int

const (
	priorityLow  priority = 1
	priorityHigh priority = 2
)

func (priority) Cases() []any { return []any{priorityLow, priorityHigh} }

func (p priority) String() string {
	switch p {
	case priorityLow:
		return "low"
	case priorityHigh:
		return "high"
	}
	return "unknown"
}

type money struct {
	Amount   int64
	Currency string
}

type moneyCaster struct {
	currency string
}

func (c moneyCaster) Get(_ string, value any, _ map[string]any) (any, error) {
	if m, ok := value.(money); ok {
		return m, nil
	}
	text, err := toString(value)
	if err != nil {
		return nil, err
	}
	amount, _, _ := strings.Cut(strings.TrimSpace(text), " ")
	n, err := toInt64(amount)
	if err != nil {
		return nil, err
	}
	return money{Amount: n, Currency: c.currency}, nil
}

func (c moneyCaster) Set(_ string, value any, _ map[string]any) (any, error) {
	m, ok := value.(money)
	if !ok {
		return nil, fmt.Errorf("expected money, got %T", value)
	}
	return fmt.Sprintf("%d %s", m.Amount, m.Currency), nil
}

func init() {
	if err := RegisterCaster("money", func(args ...string) Caster {
		currency := "USD"
		if len(args) > 0 {
			currency = args[0]
		}
		return moneyCaster{currency: currency}
	}); err != nil {
		panic(err)
	}
	if err := RegisterEnum("priority", priority(0)); err != nil {
		panic(err)
	}
}

// forgetListeners drops every listener registered by a test.
func forgetListeners(t *testing.T, protos ...any) {
	t.Helper()
	t.Cleanup(func() {
		for _, proto := range protos {
			Forget(proto, "")
		}
		ForgetGlobal("")
	})
}

// disposer is satisfied by every built DTO.
type disposer interface {
	Dispose()
}

func disposeAll(t *testing.T, values ...disposer) {
	t.Helper()
	t.Cleanup(func() {
		for _, v := range values {
			v.Dispose()
		}
	})
}

// openTestDB opens a SQLite database in the test temp dir and runs the schema statements.
func openTestDB(t *testing.T, statements ...string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	for _, stmt := range statements {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}
	return db
}

// encryptedCtx returns a context whose Env carries an AES encrypter.
func encryptedCtx(t *testing.T) (context.Context, *AESEncrypter) {
	t.Helper()
	encrypter, err := NewAESEncrypter([]byte("test application key"))
	require.NoError(t, err)
	env := DefaultEnv().Clone()
	env.Encrypter = encrypter
	return WithEnv(context.Background(), env), encrypter
}

func sampleParent(t *testing.T) *parentDTO {
	t.Helper()
	p, err := FromMap[parentDTO](context.Background(), map[string]any{
		"number": "22",
		"name":   "n",
		"email":  "e",
		"nested": map[string]any{"name": "x"},
	})
	require.NoError(t, err)
	disposeAll(t, p)
	return p
}
