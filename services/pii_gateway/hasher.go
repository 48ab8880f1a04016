// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pii_gateway

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"

	"github.com/awnumar/memguard"
)

// HashLength is the number of hex characters kept from each audit digest.
const HashLength = 16

const pepperSize = 32

var memguardInitOnce sync.Once

// Hasher produces one-way audit hashes of PII values.
//
// # Description
//
// Each value is hashed as HMAC-SHA256(pepper, type || 0x00 || value) and
// truncated to HashLength hex characters. The pepper is random per process,
// so hashes correlate events within one run but cannot be brute-forced
// offline from a short value space such as phone numbers.
//
// In secure mode the pepper lives in a memguard Enclave and is only
// decrypted into locked memory for the duration of one hash.
//
// # Thread Safety
//
// Safe for concurrent use.
type Hasher struct {
	enclave *memguard.Enclave
	pepper  []byte
}

// NewHasher creates a hasher with a fresh random pepper.
//
// # Inputs
//
//   - secure: Seal the pepper in a memguard Enclave. When false the pepper
//     is kept in ordinary memory, for hosts without mlock headroom.
func NewHasher(secure bool) (*Hasher, error) {
	if secure {
		memguardInitOnce.Do(func() {
			memguard.CatchInterrupt()
		})
		enclave := memguard.NewEnclaveRandom(pepperSize)
		if enclave == nil {
			return nil, fmt.Errorf("failed to allocate the audit pepper enclave")
		}
		return &Hasher{enclave: enclave}, nil
	}

	pepper := make([]byte, pepperSize)
	if _, err := rand.Read(pepper); err != nil {
		return nil, fmt.Errorf("failed to generate the audit pepper: %w", err)
	}
	slog.Warn("PII audit pepper held in ordinary memory (secure memory disabled)")
	return &Hasher{pepper: pepper}, nil
}

// Hash returns the truncated audit digest of value.
func (h *Hasher) Hash(typ PIIType, value string) (string, error) {
	var key []byte
	if h.enclave != nil {
		buf, err := h.enclave.Open()
		if err != nil {
			return "", fmt.Errorf("failed to open the audit pepper: %w", err)
		}
		defer buf.Destroy()
		key = buf.Bytes()
	} else {
		key = h.pepper
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(typ))
	mac.Write([]byte{0})
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))[:HashLength], nil
}

// PurgeSecureMemory wipes all memguard-allocated memory. Call during
// shutdown; any Hasher in secure mode is unusable afterwards.
func PurgeSecureMemory() {
	memguard.Purge()
	slog.Info("Purged all secure memory")
}
