// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extensions defines the pluggable edges of the sidecar service.
//
// The sidecar ships with no-op or local implementations of every interface.
// Deployments that need a real identity provider or a compliance audit sink
// provide concrete implementations and inject them via ServiceOptions.
//
// # Extension Categories
//
//   - auth.go: Reviewer authentication (AuthProvider)
//   - audit.go: Compliance audit logging (AuditLogger)
//
// # Usage
//
//	opts := extensions.DefaultOptions().
//	    WithAuth(extensions.NewStaticTokenProvider(cfg.Auth.ReviewerTokens)).
//	    WithAudit(extensions.NewSlogAuditLogger(logger))
//
// # Thread Safety
//
// All interface implementations must be safe for concurrent use.
package extensions

// ServiceOptions groups all extension points for service configuration.
//
// All fields are optional; nil values are replaced with no-op defaults by
// WithDefaults.
type ServiceOptions struct {
	// AuthProvider validates reviewer bearer tokens.
	AuthProvider AuthProvider

	// AuditLogger receives PII summaries, guard overrides and expert
	// decisions.
	AuditLogger AuditLogger
}

// DefaultOptions returns ServiceOptions with no-op implementations.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuthProvider: &NopAuthProvider{},
		AuditLogger:  &NopAuditLogger{},
	}
}

// WithDefaults fills nil fields with no-op implementations.
func (opts ServiceOptions) WithDefaults() ServiceOptions {
	if opts.AuthProvider == nil {
		opts.AuthProvider = &NopAuthProvider{}
	}
	if opts.AuditLogger == nil {
		opts.AuditLogger = &NopAuditLogger{}
	}
	return opts
}

// WithAuth returns a copy with the authentication provider replaced.
func (opts ServiceOptions) WithAuth(provider AuthProvider) ServiceOptions {
	opts.AuthProvider = provider
	return opts
}

// WithAudit returns a copy with the audit logger replaced.
func (opts ServiceOptions) WithAudit(logger AuditLogger) ServiceOptions {
	opts.AuditLogger = logger
	return opts
}
