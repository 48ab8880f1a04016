// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation_router

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/SidecarIntelligence/services/orchestrator/datatypes"
)

// QueueItem is one recommendation awaiting expert review.
//
// # Fields
//
//   - Recommendation: Sanitized content with its scored (unpenalized)
//     confidence. Reviewers never see raw personal data.
//   - Region: Farm region used for reviewer matching.
//   - AssignedTo: Matching reviewer id, empty when none matched.
type QueueItem struct {
	ID             string                   `json:"id"`
	RequestID      string                   `json:"request_id"`
	Recommendation datatypes.Recommendation `json:"recommendation"`
	Tier           datatypes.Tier           `json:"tier"`
	Priority       int                      `json:"priority"`
	Region         string                   `json:"region,omitempty"`
	AssignedTo     string                   `json:"assigned_to,omitempty"`
	CreatedAt      time.Time                `json:"created_at"`
	ExpiresAt      time.Time                `json:"expires_at"`
}

func (q QueueItem) clone() QueueItem {
	q.Recommendation = q.Recommendation.Clone()
	return q
}

// QueueSummary is an eventually consistent view of the active queue.
type QueueSummary struct {
	Pending     int            `json:"pending"`
	Unassigned  int            `json:"unassigned"`
	ByTier      map[string]int `json:"by_tier"`
	ByCategory  map[string]int `json:"by_category"`
	ByReviewer  map[string]int `json:"by_reviewer"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// queueEntry serializes every mutation of one item.
type queueEntry struct {
	mu       sync.Mutex
	item     QueueItem
	resolved bool
}

// Queue holds active review items.
//
// # Description
//
// Mutations are linearizable per item: each entry carries its own mutex, and
// the index map lock is held only for insert, lookup and removal. Summary
// reads a cached snapshot that is rebuilt when older than the snapshot TTL.
//
// # Thread Safety
//
// Safe for concurrent use.
type Queue struct {
	mu     sync.RWMutex
	items  map[string]*queueEntry
	byRec  map[string]string
	closed map[string]time.Time

	snapshotTTL time.Duration
	snapshot    atomic.Pointer[QueueSummary]
	now         func() time.Time
}

// NewQueue creates an empty queue. snapshotTTL <= 0 rebuilds the summary on
// every call.
func NewQueue(snapshotTTL time.Duration) *Queue {
	return &Queue{
		items:       make(map[string]*queueEntry),
		byRec:       make(map[string]string),
		closed:      make(map[string]time.Time),
		snapshotTTL: snapshotTTL,
		now:         time.Now,
	}
}

func (q *Queue) add(item QueueItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items[item.ID] = &queueEntry{item: item.clone()}
	q.byRec[item.Recommendation.ID] = item.ID
}

func (q *Queue) entry(id string) (*queueEntry, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	e, ok := q.items[id]
	return e, ok
}

// remove drops an item and remembers its id as closed. Caller holds e.mu.
func (q *Queue) remove(e *queueEntry, at time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.items, e.item.ID)
	delete(q.byRec, e.item.Recommendation.ID)
	q.closed[e.item.ID] = at
}

func (q *Queue) wasClosed(id string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	_, ok := q.closed[id]
	return ok
}

// forgetClosed drops closed-id markers older than cutoff.
func (q *Queue) forgetClosed(cutoff time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for id, at := range q.closed {
		if at.Before(cutoff) {
			delete(q.closed, id)
		}
	}
}

// Get returns an active item by id.
func (q *Queue) Get(id string) (QueueItem, bool) {
	e, ok := q.entry(id)
	if !ok {
		return QueueItem{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.resolved {
		return QueueItem{}, false
	}
	return e.item.clone(), true
}

// ByRecommendation returns the active item for a recommendation id.
func (q *Queue) ByRecommendation(recID string) (QueueItem, bool) {
	q.mu.RLock()
	id, ok := q.byRec[recID]
	q.mu.RUnlock()
	if !ok {
		return QueueItem{}, false
	}
	return q.Get(id)
}

// Len returns the number of active items.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items)
}

// Pending lists active items ordered by priority (highest first) then age
// (oldest first). A non-empty reviewerID keeps only items assigned to it.
func (q *Queue) Pending(reviewerID string) []QueueItem {
	out := make([]QueueItem, 0)
	for _, it := range q.all() {
		if reviewerID != "" && it.AssignedTo != reviewerID {
			continue
		}
		out = append(out, it)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// all copies every unresolved item.
func (q *Queue) all() []QueueItem {
	q.mu.RLock()
	entries := make([]*queueEntry, 0, len(q.items))
	for _, e := range q.items {
		entries = append(entries, e)
	}
	q.mu.RUnlock()

	out := make([]QueueItem, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.resolved {
			out = append(out, e.item.clone())
		}
		e.mu.Unlock()
	}
	return out
}

// Summary returns the cached queue summary, rebuilding it when stale.
func (q *Queue) Summary() QueueSummary {
	now := q.now()
	if s := q.snapshot.Load(); s != nil && q.snapshotTTL > 0 && now.Sub(s.GeneratedAt) < q.snapshotTTL {
		return *s
	}
	s := QueueSummary{
		ByTier:      make(map[string]int),
		ByCategory:  make(map[string]int),
		ByReviewer:  make(map[string]int),
		GeneratedAt: now,
	}
	for _, it := range q.all() {
		s.Pending++
		s.ByTier[string(it.Tier)]++
		s.ByCategory[string(it.Recommendation.Category)]++
		if it.AssignedTo == "" {
			s.Unassigned++
		} else {
			s.ByReviewer[it.AssignedTo]++
		}
	}
	q.snapshot.Store(&s)
	return s
}
