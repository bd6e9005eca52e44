// Copyright 2026 The IndieNet Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret provides a memory-safe buffer for sensitive data such
// as signing keys, keystore passphrases, and decrypted message
// plaintext.
//
// [Buffer] allocates memory outside the Go heap via mmap(MAP_ANONYMOUS),
// locks it into physical RAM via mlock (preventing swap), and marks it
// excluded from core dumps via madvise(MADV_DONTDUMP). On Close, the
// memory is zeroed, unlocked, and unmapped. Because the memory lives
// outside the Go heap, the garbage collector cannot copy or relocate
// it, so secret material does not linger in freed heap pages after
// release.
//
// Constructors:
//
//   - [New] -- allocates a zero-filled buffer of a given size
//   - [NewFromBytes] -- copies into protected memory, zeros the source
//   - [NewFromString] -- string variant for API boundaries
//   - [ReadFromPath] -- reads a secret from a file or stdin ("-")
//
// Access via [Buffer.Bytes] (slice into the mmap region) or
// [Buffer.String] (heap copy for API boundaries that demand a string).
// [Buffer.Equal] compares in constant time. After Close, any access
// panics. Close is idempotent.
//
// Depends on golang.org/x/sys/unix. No IndieNet-internal dependencies.
// Imported by identity for private keys and by keystore for
// passphrases.
package secret
