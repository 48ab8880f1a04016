// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// AuditEvent represents a security-relevant event for compliance logging.
//
// # Event Categories
//
// Events are categorized by type for filtering and alerting:
//   - PII: "pii.sanitized", "pii.personalized"
//   - Guard: "guard.block", "guard.modify", "guard.warn"
//   - Review: "review.enqueued", "review.decision", "review.expired"
//   - Auth: "auth.failed"
//
// # Privacy
//
// Events must never carry raw personal data. PII events carry only
// truncated audit hashes, categories and counts in Metadata.
//
// Example:
//
//	event := AuditEvent{
//	    EventType:    "review.decision",
//	    UserID:       reviewerID,
//	    Action:       "approve",
//	    ResourceType: "recommendation",
//	    ResourceID:   recID,
//	    Outcome:      "success",
//	}
type AuditEvent struct {
	// EventType categorizes the event. Format: "category.action".
	EventType string

	// Timestamp is when the event occurred (always UTC). If zero,
	// implementations set it to time.Now().UTC().
	Timestamp time.Time

	// UserID identifies who performed the action. Use "system" for the
	// pipeline itself.
	UserID string

	// Action describes what operation was attempted.
	Action string

	// ResourceType is the category of resource involved, e.g.
	// "request", "recommendation", "queue_item".
	ResourceType string

	// ResourceID is the specific resource instance (optional).
	ResourceID string

	// Outcome indicates the result: "success", "blocked", "modified",
	// "expired", "failure".
	Outcome string

	// Metadata holds additional event-specific data.
	Metadata Metadata
}

// AuditFilter selects events from an AuditLogger that keeps them.
type AuditFilter struct {
	// EventTypes limits results to specific event types. Empty means all.
	EventTypes []string

	// ResourceID limits results to one resource. Empty means all.
	ResourceID string

	// Limit is the maximum number of events to return. Zero means all.
	Limit int
}

// AuditLogger records security-relevant events.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type AuditLogger interface {
	// Log records an event. It should return quickly.
	Log(ctx context.Context, event AuditEvent) error

	// Query retrieves matching events, newest first. Implementations that
	// do not retain events return an empty slice.
	Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)

	// Flush ensures buffered events are persisted. Call before shutdown.
	Flush(ctx context.Context) error
}

// =============================================================================
// NopAuditLogger
// =============================================================================

// NopAuditLogger discards every event.
type NopAuditLogger struct{}

// Log implements AuditLogger.
func (l *NopAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	return nil
}

// Query implements AuditLogger.
func (l *NopAuditLogger) Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	return []AuditEvent{}, nil
}

// Flush implements AuditLogger.
func (l *NopAuditLogger) Flush(ctx context.Context) error {
	return nil
}

// =============================================================================
// SlogAuditLogger
// =============================================================================

// SlogAuditLogger writes every event as one structured log line.
//
// # Description
//
// Lines are emitted at Info level with msg "audit" so they can be routed to a
// separate sink by the logging configuration. Events are not retained; Query
// returns an empty slice.
type SlogAuditLogger struct {
	logger *slog.Logger
}

// NewSlogAuditLogger creates an audit logger writing to logger (nil means
// slog.Default()).
func NewSlogAuditLogger(logger *slog.Logger) *SlogAuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAuditLogger{logger: logger.With("component", "audit")}
}

// Log implements AuditLogger.
func (l *SlogAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	attrs := []any{
		"event_type", event.EventType,
		"timestamp", event.Timestamp,
		"user_id", event.UserID,
		"action", event.Action,
		"resource_type", event.ResourceType,
		"resource_id", event.ResourceID,
		"outcome", event.Outcome,
	}
	if len(event.Metadata) > 0 {
		attrs = append(attrs, "metadata", map[string]any(event.Metadata))
	}
	l.logger.InfoContext(ctx, "audit", attrs...)
	return nil
}

// Query implements AuditLogger.
func (l *SlogAuditLogger) Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	return []AuditEvent{}, nil
}

// Flush implements AuditLogger.
func (l *SlogAuditLogger) Flush(ctx context.Context) error {
	return nil
}

// =============================================================================
// MemoryAuditLogger
// =============================================================================

// MemoryAuditLogger retains events in memory up to a fixed capacity, dropping
// the oldest first. It backs the local review tooling and tests.
type MemoryAuditLogger struct {
	mu       sync.Mutex
	events   []AuditEvent
	capacity int
}

// NewMemoryAuditLogger creates a logger retaining at most capacity events
// (values <= 0 default to 1000).
func NewMemoryAuditLogger(capacity int) *MemoryAuditLogger {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryAuditLogger{capacity: capacity}
}

// Log implements AuditLogger.
func (l *MemoryAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) >= l.capacity {
		l.events = l.events[1:]
	}
	l.events = append(l.events, event)
	return nil
}

// Query implements AuditLogger.
func (l *MemoryAuditLogger) Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	types := make(map[string]bool, len(filter.EventTypes))
	for _, t := range filter.EventTypes {
		types[t] = true
	}
	out := make([]AuditEvent, 0)
	for _, e := range l.events {
		if len(types) > 0 && !types[e.EventType] {
			continue
		}
		if filter.ResourceID != "" && e.ResourceID != filter.ResourceID {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Flush implements AuditLogger.
func (l *MemoryAuditLogger) Flush(ctx context.Context) error {
	return nil
}

var (
	_ AuditLogger = (*NopAuditLogger)(nil)
	_ AuditLogger = (*SlogAuditLogger)(nil)
	_ AuditLogger = (*MemoryAuditLogger)(nil)
)
