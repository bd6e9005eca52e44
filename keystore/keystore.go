// Copyright 2026 The IndieNet Authors
// SPDX-License-Identifier: Apache-2.0

package keystore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"filippo.io/age"

	"github.com/indienet-foundation/indienet/identity"
	"github.com/indienet-foundation/indienet/lib/codec"
	"github.com/indienet-foundation/indienet/lib/secret"
)

var (
	// ErrNotFound reports that no identity has been saved at the store
	// path. This is the normal first-run condition.
	ErrNotFound = errors.New("keystore: no stored identity")

	// ErrWrongPassphrase reports that the store file exists but the
	// given passphrase does not decrypt it.
	ErrWrongPassphrase = errors.New("keystore: wrong passphrase")
)

// record is the plaintext inside the age envelope. Encoded with
// deterministic CBOR; unknown fields from newer versions are ignored
// on load.
type record struct {
	SecretKey   []byte `cbor:"secret_key"`
	DisplayName string `cbor:"display_name"`
	CreatedAt   int64  `cbor:"created_at"`
}

// Store reads and writes one passphrase-encrypted identity file.
type Store struct {
	path string
}

// New returns a Store for the given file path. The path need not
// exist yet; Save creates parent directories.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the store's file path.
func (s *Store) Path() string {
	return s.path
}

// Exists reports whether an identity file is present, without
// decrypting it.
func (s *Store) Exists() (bool, error) {
	_, err := os.Stat(s.path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("keystore: checking %s: %w", s.path, err)
}

// Save encrypts the identity under the passphrase and writes it
// atomically. An existing file is replaced; callers that must not
// overwrite check Exists first. The passphrase buffer remains owned
// by the caller.
func (s *Store) Save(id *identity.Identity, passphrase *secret.Buffer, createdAt time.Time) error {
	secretKey, err := id.SecretKeyBytes()
	if err != nil {
		return fmt.Errorf("keystore: identity is not saveable: %w", err)
	}

	plaintext, err := codec.Marshal(record{
		SecretKey:   secretKey,
		DisplayName: id.DisplayName,
		CreatedAt:   createdAt.Unix(),
	})
	if err != nil {
		return fmt.Errorf("keystore: encoding record: %w", err)
	}
	defer secret.Zero(plaintext)

	recipient, err := age.NewScryptRecipient(passphrase.String())
	if err != nil {
		return fmt.Errorf("keystore: preparing passphrase recipient: %w", err)
	}

	var envelope bytes.Buffer
	writer, err := age.Encrypt(&envelope, recipient)
	if err != nil {
		return fmt.Errorf("keystore: creating encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return fmt.Errorf("keystore: encrypting record: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("keystore: finalizing encryption: %w", err)
	}

	return s.writeAtomic(envelope.Bytes())
}

// Load decrypts the stored identity with the passphrase. The caller
// owns the returned identity and must Close it. Returns ErrNotFound
// when no file exists and ErrWrongPassphrase when the file does not
// decrypt under the given passphrase.
func (s *Store) Load(passphrase *secret.Buffer) (*identity.Identity, error) {
	envelope, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("keystore: reading %s: %w", s.path, err)
	}

	scryptIdentity, err := age.NewScryptIdentity(passphrase.String())
	if err != nil {
		return nil, fmt.Errorf("keystore: preparing passphrase identity: %w", err)
	}

	reader, err := age.Decrypt(bytes.NewReader(envelope), scryptIdentity)
	if err != nil {
		var noMatch *age.NoIdentityMatchError
		if errors.As(err, &noMatch) {
			return nil, ErrWrongPassphrase
		}
		return nil, fmt.Errorf("keystore: opening envelope: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		// A wrong passphrase fails the scrypt unwrap at open time, so
		// a payload failure past that point means a corrupt file, not
		// a bad passphrase.
		return nil, fmt.Errorf("keystore: reading envelope payload: %w", err)
	}
	defer secret.Zero(plaintext)

	var stored record
	if err := codec.Unmarshal(plaintext, &stored); err != nil {
		return nil, fmt.Errorf("keystore: decoding record: %w", err)
	}
	defer secret.Zero(stored.SecretKey)

	buffer, err := secret.NewFromBytes(stored.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("keystore: protecting private key: %w", err)
	}
	id, err := identity.FromSecretKey(buffer)
	if err != nil {
		buffer.Close()
		return nil, fmt.Errorf("keystore: stored key is invalid: %w", err)
	}
	id.DisplayName = stored.DisplayName
	return id, nil
}

// Delete removes the identity file. Deleting a store that does not
// exist returns ErrNotFound; the caller decides whether that matters.
func (s *Store) Delete() error {
	if err := os.Remove(s.path); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("keystore: deleting %s: %w", s.path, err)
	}
	return nil
}

// writeAtomic writes the envelope through a same-directory temp file
// and rename, so a crash never leaves a truncated store. Mode 0600:
// the envelope is encrypted but there is no reason to share it.
func (s *Store) writeAtomic(envelope []byte) error {
	directory := filepath.Dir(s.path)
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return fmt.Errorf("keystore: creating %s: %w", directory, err)
	}

	temporary, err := os.CreateTemp(directory, ".identity-*")
	if err != nil {
		return fmt.Errorf("keystore: creating temp file: %w", err)
	}
	defer os.Remove(temporary.Name())

	if err := temporary.Chmod(0o600); err != nil {
		temporary.Close()
		return fmt.Errorf("keystore: setting permissions: %w", err)
	}
	if _, err := temporary.Write(envelope); err != nil {
		temporary.Close()
		return fmt.Errorf("keystore: writing envelope: %w", err)
	}
	if err := temporary.Close(); err != nil {
		return fmt.Errorf("keystore: closing temp file: %w", err)
	}
	if err := os.Rename(temporary.Name(), s.path); err != nil {
		return fmt.Errorf("keystore: installing %s: %w", s.path, err)
	}
	return nil
}
