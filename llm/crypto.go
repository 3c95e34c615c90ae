// Copyright 2025 FieldLine
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llm

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
)

// Per-provider API keys are stored AES-256-GCM encrypted, base64 encoded,
// nonce prepended to ciphertext. The key is derived from LLM_CREDENTIAL_KEY
// by SHA-256 so operators can use any passphrase length.

func credentialCipher(key string) (cipher.AEAD, error) {
	digest := sha256.Sum256([]byte(key))
	block, err := aes.NewCipher(digest[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// EncryptCredential encrypts an API key for storage. Used by the tenant
// configuration service and by tests; the gateway itself only decrypts.
func EncryptCredential(plaintext, key string) (string, error) {
	aead, err := credentialCipher(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptCredential decrypts a stored API key. Errors never include key or
// ciphertext material.
func DecryptCredential(encrypted, key string) (string, error) {
	aead, err := credentialCipher(key)
	if err != nil {
		return "", err
	}

	raw, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", fmt.Errorf("credential ciphertext is not valid base64")
	}
	if len(raw) < aead.NonceSize() {
		return "", fmt.Errorf("credential ciphertext too short")
	}

	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("credential decryption failed")
	}
	return string(plaintext), nil
}
