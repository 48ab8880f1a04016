// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
)

// ErrUnauthorized is returned when authentication or authorization fails.
//
// Example:
//
//	if !validToken {
//	    return nil, fmt.Errorf("invalid token format: %w", extensions.ErrUnauthorized)
//	}
var ErrUnauthorized = errors.New("unauthorized")

// RoleReviewer is the role required to read the review queue and record
// expert decisions.
const RoleReviewer = "reviewer"

// RoleAdmin is the role required to manage the reviewer registry.
const RoleAdmin = "admin"

// AuthInfo contains identity information returned after successful
// authentication.
//
// Required fields (always populated):
//   - UserID: Unique identifier; for reviewers this is the reviewer id
//
// Optional fields (may be empty):
//   - Email: User's email address
//   - Roles: List of roles the user belongs to
//   - Metadata: Arbitrary key-value pairs
type AuthInfo struct {
	UserID   string
	Email    string
	Roles    []string
	Metadata Metadata
}

// HasRole checks if the user has a specific role.
func (a *AuthInfo) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuthProvider validates bearer tokens.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type AuthProvider interface {
	// Validate returns the identity behind token, or an error wrapping
	// ErrUnauthorized.
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// NopAuthProvider accepts every token as a local reviewer. It is the default
// for single-user local deployments.
type NopAuthProvider struct{}

// Validate implements AuthProvider.
func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{
		UserID: "local-user",
		Roles:  []string{RoleAdmin, RoleReviewer},
	}, nil
}

// StaticTokenProvider maps a fixed set of bearer tokens to reviewer ids.
//
// # Description
//
// Tokens are compared in constant time. Every authenticated identity carries
// RoleReviewer; ids granted through WithAdmins also carry RoleAdmin. The token
// table is copied at construction and never changes.
type StaticTokenProvider struct {
	tokens map[string]string
	admins map[string]bool
}

// NewStaticTokenProvider creates a provider from a token -> reviewer id map.
func NewStaticTokenProvider(tokens map[string]string) *StaticTokenProvider {
	copied := make(map[string]string, len(tokens))
	for token, id := range tokens {
		if token == "" || id == "" {
			continue
		}
		copied[token] = id
	}
	return &StaticTokenProvider{tokens: copied, admins: map[string]bool{}}
}

// WithAdmins returns a copy of the provider that grants RoleAdmin to the
// given reviewer ids.
func (p *StaticTokenProvider) WithAdmins(ids ...string) *StaticTokenProvider {
	admins := make(map[string]bool, len(p.admins)+len(ids))
	for id := range p.admins {
		admins[id] = true
	}
	for _, id := range ids {
		if id != "" {
			admins[id] = true
		}
	}
	return &StaticTokenProvider{tokens: p.tokens, admins: admins}
}

// Validate implements AuthProvider.
func (p *StaticTokenProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("missing token: %w", ErrUnauthorized)
	}
	for candidate, id := range p.tokens {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 {
			roles := []string{RoleReviewer}
			if p.admins[id] {
				roles = append(roles, RoleAdmin)
			}
			return &AuthInfo{
				UserID:   id,
				Roles:    roles,
				Metadata: NewMetadata().Set("auth", "static_token"),
			}, nil
		}
	}
	return nil, fmt.Errorf("unknown token: %w", ErrUnauthorized)
}

var (
	_ AuthProvider = (*NopAuthProvider)(nil)
	_ AuthProvider = (*StaticTokenProvider)(nil)
)
