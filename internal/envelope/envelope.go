// Package envelope encrypts document payloads with a per-user AES-GCM key.
//
// Ciphertexts are base64(iv || sealed) with a 16-byte random iv. Reads never
// fail on bad ciphertext: entity decoders return the entity's empty value
// together with the cause, see Decoded.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const ivSize = 16

var (
	ErrEmptySecret = errors.New("envelope: empty secret")
	ErrMalformed   = errors.New("envelope: malformed ciphertext")
	ErrDecrypt     = errors.New("envelope: decryption failed")
)

var hkdfInfo = []byte("remember document key")

// Key encrypts and decrypts the documents of one user.
type Key struct {
	aead cipher.AEAD
}

// ImportKey builds a key from the secret carried in the caller's token. A hex
// secret decoding to 16, 24 or 32 bytes is used as the raw AES key; anything
// else is stretched to 32 bytes with HKDF-SHA256.
func ImportKey(secret string) (*Key, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	raw, err := hex.DecodeString(secret)
	if err != nil || (len(raw) != 16 && len(raw) != 24 && len(raw) != 32) {
		raw = make([]byte, 32)
		if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, hkdfInfo), raw); err != nil {
			return nil, fmt.Errorf("derive key: %w", err)
		}
	}
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return &Key{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh iv.
func (k *Key) Encrypt(plaintext []byte) (string, error) {
	iv := make([]byte, ivSize, ivSize+len(plaintext)+k.aead.Overhead())
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}
	sealed := k.aead.Seal(iv, iv, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (k *Key) EncryptString(s string) (string, error) {
	return k.Encrypt([]byte(s))
}

func (k *Key) EncryptJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return k.Encrypt(data)
}

func (k *Key) Decrypt(ciphertext string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(sealed) < ivSize+k.aead.Overhead() {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformed, len(sealed))
	}
	plaintext, err := k.aead.Open(nil, sealed[:ivSize], sealed[ivSize:], nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

func (k *Key) DecryptString(ciphertext string) (string, error) {
	plaintext, err := k.Decrypt(ciphertext)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func (k *Key) DecryptJSON(ciphertext string, v any) error {
	plaintext, err := k.Decrypt(ciphertext)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plaintext, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
