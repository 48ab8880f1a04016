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
	"context"
	"sync"
	"time"
)

// tokenEntry is the per-request state between Sanitize and Personalize.
type tokenEntry struct {
	tokens          []PIIToken
	syntheticFarmer string
	syntheticFarm   string
	createdAt       time.Time
}

// TokenStore holds per-request token entries.
//
// # Description
//
// Entries are keyed by request id and never shared between requests. An
// entry is deleted from the map (not marked) when its request is
// personalized or when it outlives the TTL. When the store is full new
// entries are rejected; live entries are only removed by take, Discard or
// the TTL sweep.
//
// # Thread Safety
//
// Safe for concurrent use.
type TokenStore struct {
	mu         sync.Mutex
	entries    map[string]*tokenEntry
	ttl        time.Duration
	maxEntries int
}

// NewTokenStore creates a store. ttl <= 0 disables time-based eviction;
// maxEntries <= 0 defaults to 10000.
func NewTokenStore(ttl time.Duration, maxEntries int) *TokenStore {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &TokenStore{
		entries:    make(map[string]*tokenEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
	}
}

// put stores an entry. It returns ErrRequestInFlight if requestID is already
// live and ErrTokenStoreFull at capacity.
func (s *TokenStore) put(requestID string, e *tokenEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[requestID]; exists {
		return ErrRequestInFlight
	}
	if len(s.entries) >= s.maxEntries {
		return ErrTokenStoreFull
	}
	s.entries[requestID] = e
	return nil
}

// take removes and returns the entry for requestID.
func (s *TokenStore) take(requestID string) (*tokenEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[requestID]
	if ok {
		delete(s.entries, requestID)
	}
	return e, ok
}

// Discard drops the entry for requestID, if any. Used when a request fails
// after Sanitize.
func (s *TokenStore) Discard(requestID string) {
	s.mu.Lock()
	delete(s.entries, requestID)
	s.mu.Unlock()
}

// Len returns the number of in-flight entries.
func (s *TokenStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Name identifies the store in sweeper logs.
func (s *TokenStore) Name() string { return "pii_token_store" }

// EvictExpired drops entries older than the TTL.
func (s *TokenStore) EvictExpired(_ context.Context, now time.Time) (int, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for id, e := range s.entries {
		if now.Sub(e.createdAt) > s.ttl {
			delete(s.entries, id)
			evicted++
		}
	}
	return evicted, nil
}
