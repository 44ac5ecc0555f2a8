// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed provides age encryption for Warden secrets at rest.
// It wraps filippo.io/age for the specific operations Warden needs:
// generate a keypair, seal a small secret (a model API key) to one or
// more recipients, and unseal it with an identity file.
//
// The sealed file is standard age binary ciphertext, so the age CLI
// can produce and inspect the same files:
//
//	age -r age1... -o key.age <<< "$OPENAI_API_KEY"
//
// Unsealed plaintext is returned as plain bytes. The values sealed
// here are held in process memory for the process lifetime anyway (the
// model client sends the key on every request), so no further
// in-memory protection is attempted.
package sealed

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
)

// Keypair holds a generated age x25519 keypair. PrivateKey is in
// AGE-SECRET-KEY-1... format and must be stored in an identity file
// readable only by the agent. PublicKey (age1...) is safe to publish.
type Keypair struct {
	PrivateKey string
	PublicKey  string
}

// GenerateKeypair generates a new age x25519 keypair.
func GenerateKeypair() (*Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age keypair: %w", err)
	}
	return &Keypair{
		PrivateKey: identity.String(),
		PublicKey:  identity.Recipient().String(),
	}, nil
}

// Seal encrypts plaintext to one or more recipients specified by their
// age public key strings (age1... format). At least one recipient is
// required.
func Seal(plaintext []byte, recipientKeys []string) ([]byte, error) {
	if len(recipientKeys) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}

	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("parsing recipient key %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, recipients...)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, fmt.Errorf("writing plaintext: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}
	return ciphertext.Bytes(), nil
}

// Unseal decrypts age ciphertext using the identities in identityFile
// content (the standard age identity file format: comment lines and
// AGE-SECRET-KEY-1... lines).
func Unseal(ciphertext []byte, identityFile []byte) ([]byte, error) {
	identities, err := age.ParseIdentities(bytes.NewReader(identityFile))
	if err != nil {
		return nil, fmt.Errorf("parsing identity file: %w", err)
	}

	reader, err := age.Decrypt(bytes.NewReader(ciphertext), identities...)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted plaintext: %w", err)
	}
	return plaintext, nil
}

// UnsealFile reads an age-sealed file and decrypts it with the
// identity file at identityPath. Trailing whitespace is trimmed from
// the plaintext — sealed API keys are single-line values and a
// trailing newline from shell redirection is noise, not key material.
func UnsealFile(sealedPath, identityPath string) (string, error) {
	ciphertext, err := os.ReadFile(sealedPath)
	if err != nil {
		return "", fmt.Errorf("reading sealed file: %w", err)
	}
	identityFile, err := os.ReadFile(identityPath)
	if err != nil {
		return "", fmt.Errorf("reading identity file: %w", err)
	}
	plaintext, err := Unseal(ciphertext, identityFile)
	if err != nil {
		return "", fmt.Errorf("unsealing %s: %w", sealedPath, err)
	}
	return strings.TrimRight(string(plaintext), "\r\n"), nil
}
