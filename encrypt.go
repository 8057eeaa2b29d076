// encrypt.go: Encryption collaborator for encrypted properties and casts
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package dto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/agilira/go-errors"
)

// Encrypter turns plaintext into an opaque string and back.
type Encrypter interface {
	Encrypt(plain string) (string, error)
	Decrypt(cipherText string) (string, error)
}

// AESEncrypter is an AES-256-GCM Encrypter. Output is base64 of nonce||ciphertext.
type AESEncrypter struct {
	aead cipher.AEAD
}

// NewAESEncrypter derives a 256 bit key from key with SHA-256 unless key is
// already 16, 24 or 32 bytes long.
func NewAESEncrypter(key []byte) (*AESEncrypter, error) {
	if len(key) == 0 {
		return nil, errors.New(ErrCodeInvalidConfig, "encryption key is empty")
	}
	switch len(key) {
	case 16, 24, 32:
	default:
		sum := sha256.Sum256(key)
		key = sum[:]
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidConfig, "invalid encryption key")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidConfig, "failed to initialize GCM")
	}
	return &AESEncrypter{aead: aead}, nil
}

// Encrypt implements Encrypter.
func (e *AESEncrypter) Encrypt(plain string) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.Wrap(err, ErrCodeIOError, "failed to read nonce")
	}
	sealed := e.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt implements Encrypter.
func (e *AESEncrypter) Decrypt(cipherText string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(cipherText)
	if err != nil {
		return "", errors.Wrap(err, ErrCodeDecryptFailed, "cipher text is not base64")
	}
	size := e.aead.NonceSize()
	if len(raw) < size+e.aead.Overhead() {
		return "", errors.New(ErrCodeDecryptFailed, fmt.Sprintf("cipher text too short (%d bytes)", len(raw)))
	}
	plain, err := e.aead.Open(nil, raw[:size], raw[size:], nil)
	if err != nil {
		return "", errors.Wrap(err, ErrCodeDecryptFailed, "cipher text failed authentication")
	}
	return string(plain), nil
}
