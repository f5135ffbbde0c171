// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers provides HTTP request handlers for the chat-backend
// service.
//
// This file implements secure accumulation of streamed assistant responses.
// Tokens are mirrored into mlocked memory as they arrive so the complete
// response can be captured for enterprise audit with an integrity hash,
// without the plaintext ever being swapped to disk.
package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

const (
	// SecureBufferSize is the capacity of the mlocked accumulation buffer.
	// 512 KB holds roughly 131,000 tokens at a 4 bytes/token average, which
	// covers any single chat response the backend will stream.
	SecureBufferSize = 512 * 1024

	// MinMlockLimitKB is the minimum mlock resource limit required to run
	// with secure memory.
	MinMlockLimitKB = 512
)

var (
	memguardInitOnce    sync.Once
	mlockSufficient     bool
	currentMlockLimitKB int64
)

// =============================================================================
// TokenAccumulator
// =============================================================================

// TokenAccumulator accumulates streamed response tokens for audit capture.
//
// # Description
//
// The stream handlers mirror every token they emit into an accumulator.
// When the stream completes, Finalize returns the full response together
// with an incremental SHA-256 hash suitable for tamper-evident audit
// records. Two implementations exist: a secure one backed by memguard
// mlocked memory, and an insecure fallback for systems whose mlock limits
// are too low (opted into via ALEUTIAN_INSECURE_MEMORY=true).
//
// # Thread Safety
//
// Implementations are safe for concurrent use.
//
// # Limitations
//
//   - Capacity is fixed at SecureBufferSize; overflow is terminal.
//   - An accumulator cannot be reused after Finalize or Destroy.
type TokenAccumulator interface {
	// Write appends a token. The token is hashed as it arrives, never
	// sitting unhashed in the buffer. Returns an error on overflow or
	// after the accumulator was destroyed.
	Write(token string) error

	// Finalize returns the accumulated response and its SHA-256 hash
	// (hex encoded), then wipes the buffer. Can only be called once.
	Finalize() (answer string, hash string, err error)

	// Destroy wipes the buffer without returning data. Idempotent; use
	// on error paths where the accumulated response is not needed.
	Destroy()

	// ID returns a UUID identifying this accumulator in logs.
	ID() string

	// CreatedAt returns when the accumulator was created.
	CreatedAt() time.Time
}

// NewSecureTokenAccumulator creates an accumulator for one streamed response.
//
// # Description
//
// Allocates an mlocked buffer of SecureBufferSize bytes. When the system's
// mlock limit is below MinMlockLimitKB the call fails, unless
// ALEUTIAN_INSECURE_MEMORY=true is set, in which case a plain-memory
// fallback is returned with a warning.
//
// # Outputs
//
//   - TokenAccumulator: Ready for use (secure or insecure per system state)
//   - error: Non-nil if allocation failed and no fallback was permitted
//
// # Examples
//
//	acc, err := NewSecureTokenAccumulator()
//	if err != nil {
//	    return err
//	}
//	defer acc.Destroy()
func NewSecureTokenAccumulator() (TokenAccumulator, error) {
	initMemguard()

	if !mlockSufficient {
		return handleInsufficientMlock()
	}

	buf := memguard.NewBuffer(SecureBufferSize)
	if buf == nil {
		return nil, fmt.Errorf("failed to allocate secure buffer of %d bytes", SecureBufferSize)
	}
	buf.Melt()

	accID := uuid.New().String()
	slog.Debug("Created secure token accumulator",
		"accumulator_id", accID,
		"buffer_size", SecureBufferSize,
	)

	return &secureTokenAccumulator{
		id:        accID,
		createdAt: time.Now(),
		buffer:    buf,
		hasher:    sha256.New(),
	}, nil
}

// =============================================================================
// Secure Implementation
// =============================================================================

// secureTokenAccumulator stores tokens in a memguard LockedBuffer.
//
// The buffer is mlocked to keep response plaintext out of swap, carries
// guard pages and canaries against overflow/underflow, and is explicitly
// zeroed on Destroy. Hashing is incremental so the digest is always current.
type secureTokenAccumulator struct {
	id        string
	createdAt time.Time
	mu        sync.Mutex
	buffer    *memguard.LockedBuffer
	offset    int
	hasher    hash.Hash
	overflow  bool
	destroyed bool
}

// Write copies the token into the mlocked buffer and feeds the hash.
func (a *secureTokenAccumulator) Write(token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		return fmt.Errorf("secure buffer overflow - response too large")
	}

	tokenBytes := []byte(token)
	if a.offset+len(tokenBytes) > SecureBufferSize {
		a.overflow = true
		return fmt.Errorf("secure buffer overflow: need %d bytes, have %d remaining",
			len(tokenBytes), SecureBufferSize-a.offset)
	}

	copy(a.buffer.Bytes()[a.offset:], tokenBytes)
	a.offset += len(tokenBytes)
	a.hasher.Write(tokenBytes)

	return nil
}

// Finalize extracts the response and hash, then wipes the buffer.
func (a *secureTokenAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		a.wipe()
		return "", "", fmt.Errorf("buffer overflowed during accumulation")
	}

	answer := string(a.buffer.Bytes()[:a.offset])
	hashStr := hex.EncodeToString(a.hasher.Sum(nil))
	a.wipe()

	slog.Debug("Finalized secure token accumulator",
		"accumulator_id", a.id,
		"answer_length", len(answer),
		"hash", hashStr[:16]+"...",
	)

	return answer, hashStr, nil
}

// Destroy wipes the buffer without returning data.
func (a *secureTokenAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return
	}

	a.wipe()
	slog.Debug("Destroyed secure token accumulator", "accumulator_id", a.id)
}

func (a *secureTokenAccumulator) ID() string { return a.id }

func (a *secureTokenAccumulator) CreatedAt() time.Time { return a.createdAt }

// wipe destroys the locked buffer and marks the accumulator unusable.
// Caller must hold a.mu.
func (a *secureTokenAccumulator) wipe() {
	if a.buffer != nil {
		a.buffer.Destroy()
	}
	a.destroyed = true
}

// =============================================================================
// Insecure Fallback
// =============================================================================

// insecureTokenAccumulator is the fallback for systems without enough mlock.
//
// Same interface, plain Go memory. The response may be swapped to disk and
// wiping is best effort only, since the GC can hold copies. Only reachable
// with ALEUTIAN_INSECURE_MEMORY=true.
type insecureTokenAccumulator struct {
	id        string
	createdAt time.Time
	mu        sync.Mutex
	data      []byte
	hasher    hash.Hash
	overflow  bool
	destroyed bool
}

func newInsecureTokenAccumulator() TokenAccumulator {
	accID := uuid.New().String()

	slog.Warn("Created INSECURE token accumulator - data may be swapped to disk",
		"accumulator_id", accID,
	)

	return &insecureTokenAccumulator{
		id:        accID,
		createdAt: time.Now(),
		data:      make([]byte, 0, SecureBufferSize),
		hasher:    sha256.New(),
	}
}

// Write appends the token to the plain buffer and feeds the hash.
func (a *insecureTokenAccumulator) Write(token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		return fmt.Errorf("buffer overflow - response too large")
	}

	tokenBytes := []byte(token)
	if len(a.data)+len(tokenBytes) > SecureBufferSize {
		a.overflow = true
		return fmt.Errorf("buffer overflow: need %d bytes, have %d remaining",
			len(tokenBytes), SecureBufferSize-len(a.data))
	}

	a.data = append(a.data, tokenBytes...)
	a.hasher.Write(tokenBytes)

	return nil
}

// Finalize extracts the response and hash, then zeroes the slice.
func (a *insecureTokenAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		a.wipe()
		return "", "", fmt.Errorf("buffer overflowed during accumulation")
	}

	answer := string(a.data)
	hashStr := hex.EncodeToString(a.hasher.Sum(nil))
	a.wipe()

	slog.Debug("Finalized insecure token accumulator",
		"accumulator_id", a.id,
		"answer_length", len(answer),
	)

	return answer, hashStr, nil
}

// Destroy zeroes the slice (best effort given the GC).
func (a *insecureTokenAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return
	}

	a.wipe()
	slog.Debug("Destroyed insecure token accumulator", "accumulator_id", a.id)
}

func (a *insecureTokenAccumulator) ID() string { return a.id }

func (a *insecureTokenAccumulator) CreatedAt() time.Time { return a.createdAt }

// wipe zeroes and releases the data slice. Caller must hold a.mu.
func (a *insecureTokenAccumulator) wipe() {
	for i := range a.data {
		a.data[i] = 0
	}
	a.data = nil
	a.destroyed = true
}

// =============================================================================
// Memguard Initialization
// =============================================================================

// initMemguard performs one-time memguard setup and records whether the
// system's mlock limit can support secure accumulation.
func initMemguard() {
	memguardInitOnce.Do(func() {
		memguard.CatchInterrupt()
		mlockSufficient, currentMlockLimitKB = checkMlockLimit()
		logMlockStatus()
	})
}

// checkMlockLimit queries RLIMIT_MEMLOCK and compares it against the
// minimum required. Returns (sufficient, limit in KB; -1 when unlimited).
func checkMlockLimit() (bool, int64) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		slog.Warn("Could not determine mlock limit", "error", err)
		return true, -1
	}

	if rlimit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}

	limitKB := int64(rlimit.Cur / 1024)
	return limitKB >= MinMlockLimitKB, limitKB
}

func logMlockStatus() {
	if mlockSufficient {
		slog.Info("Secure memory initialized",
			"mlock_limit_kb", currentMlockLimitKB,
			"required_kb", MinMlockLimitKB,
			"status", "sufficient",
		)
		return
	}

	if os.Getenv("ALEUTIAN_INSECURE_MEMORY") == "true" {
		slog.Warn("SECURITY: Running with insecure memory - mlock limit insufficient",
			"current_limit_kb", currentMlockLimitKB,
			"required_kb", MinMlockLimitKB,
			"env_override", "ALEUTIAN_INSECURE_MEMORY=true",
		)
	} else {
		slog.Error("mlock limit insufficient for secure memory",
			"current_limit_kb", currentMlockLimitKB,
			"required_kb", MinMlockLimitKB,
			"help", "Raise the limit or set ALEUTIAN_INSECURE_MEMORY=true",
		)
	}
}

// handleInsufficientMlock falls back to plain memory only when the operator
// explicitly acknowledged the risk through the environment.
func handleInsufficientMlock() (TokenAccumulator, error) {
	if os.Getenv("ALEUTIAN_INSECURE_MEMORY") == "true" {
		slog.Warn("Using insecure memory accumulator due to mlock limits",
			"current_limit_kb", currentMlockLimitKB,
			"required_kb", MinMlockLimitKB,
		)
		return newInsecureTokenAccumulator(), nil
	}
	return nil, fmt.Errorf(
		"mlock limit insufficient: have %d KB, need %d KB. "+
			"Configure system limits or set ALEUTIAN_INSECURE_MEMORY=true",
		currentMlockLimitKB, MinMlockLimitKB,
	)
}

// IsMlockAvailable reports whether secure memory is available, along with
// the current mlock limit in KB (-1 if unlimited).
func IsMlockAvailable() (bool, int64) {
	initMemguard()
	return mlockSufficient, currentMlockLimitKB
}

// PurgeAllSecureMemory wipes all memguard-allocated memory. Called during
// graceful shutdown so no response plaintext outlives the process.
func PurgeAllSecureMemory() {
	memguard.Purge()
	slog.Info("Purged all secure memory")
}
