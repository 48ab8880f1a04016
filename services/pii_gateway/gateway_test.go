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
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/SidecarIntelligence/pkg/extensions"
	"github.com/AleutianAI/SidecarIntelligence/services/orchestrator/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	residualPhone = regexp.MustCompile(`\d{3,}`)
	namePair      = regexp.MustCompile(`\p{Lu}\p{Ll}+\s+\p{Lu}\p{Ll}+`)
)

func newTestGateway(t *testing.T) (*Gateway, *extensions.MemoryAuditLogger) {
	t.Helper()
	audit := extensions.NewMemoryAuditLogger(100)
	g, err := New(Config{TokenTTL: time.Minute}, audit, nil)
	require.NoError(t, err)
	return g, audit
}

func testIdentifiers() datatypes.RawIdentifiers {
	return datatypes.RawIdentifiers{
		FarmerID:    "farmer-4711",
		FarmID:      "AZ-FARM-0042",
		DisplayName: "Rəşad Quliyev",
		Phone:       "+994 55 765 43 21",
		Email:       "resad@example.az",
	}
}

func TestDetector_Patterns(t *testing.T) {
	d, err := NewDetector()
	require.NoError(t, err)

	tests := []struct {
		name      string
		input     string
		wantType  PIIType
		wantValue string
	}{
		{"international phone", "zəng: +994501234567", TypePhone, "+994501234567"},
		{"spaced phone", "nömrə +994 50 123 45 67 idi", TypePhone, "+994 50 123 45 67"},
		{"local phone", "tel 050 123 45 67", TypePhone, "050 123 45 67"},
		{"email", "yazın: farmer.ali@mail.az", TypeEmail, "farmer.ali@mail.az"},
		{"coordinates", "sahə 40.4093, 49.8671 nöqtəsində", TypeCoordinates, "40.4093, 49.8671"},
		{"azerbaijani name", "Əli Məmmədov sahəyə baxdı", TypeName, "Əli Məmmədov"},
		{"patronymic beats pair", "Əli Məmməd oğlu gəldi", TypeName, "Əli Məmməd oğlu"},
		{"honorific", "Kamran müəllim dedi", TypeName, "Kamran müəllim"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			matches := d.Detect(tc.input)
			require.Len(t, matches, 1)
			assert.Equal(t, tc.wantType, matches[0].Type)
			assert.Equal(t, tc.wantValue, matches[0].Value)
			assert.Equal(t, tc.wantType, d.Classify(tc.input))
		})
	}

	assert.Empty(t, d.Detect("pomidor yarpaqları saralır, nə etməli?"))
	assert.Equal(t, PIIType(""), d.Classify("torpaq quraqdır"))
}

func TestDetector_LongestMatchWins(t *testing.T) {
	d, err := NewDetector()
	require.NoError(t, err)

	// The bare-number phone pattern overlaps the international one.
	matches := d.Detect("Əlaqə: ali.mammadov@farm.az və +994501234567")
	require.Len(t, matches, 2)
	assert.Equal(t, TypeEmail, matches[0].Type)
	assert.Equal(t, TypePhone, matches[1].Type)
	assert.Less(t, matches[0].End, matches[1].Start)
}

func TestDetector_RejectsUnknownType(t *testing.T) {
	_, err := ParseDetector([]byte("categories:\n  - type: ssn\n    patterns: []\n"))
	assert.Error(t, err)

	_, err = ParseDetector([]byte("categories:\n  - type: phone\n    patterns:\n      - id: BAD\n        regex: '(['\n"))
	assert.Error(t, err)
}

func TestSanitize_NameAndPhoneScenario(t *testing.T) {
	g, _ := newTestGateway(t)
	ids := datatypes.RawIdentifiers{FarmerID: "f-1", FarmID: "farm-1"}

	out, err := g.Sanitize(context.Background(), "", ids, "Əli Məmmədov, +994501234567")
	require.NoError(t, err)

	assert.False(t, residualPhone.MatchString(out.Text), "residual digits in %q", out.Text)
	assert.False(t, namePair.MatchString(out.Text), "residual name in %q", out.Text)
	assert.Equal(t, "[NAME_1], [PHONE_1]", out.Text)
	assert.Equal(t, 1, out.Counts[TypeName])
	assert.Equal(t, 1, out.Counts[TypePhone])
	assert.NotEmpty(t, out.RequestID)
}

func TestSanitize_ExplicitIdentifiersAlwaysSynthesized(t *testing.T) {
	g, _ := newTestGateway(t)
	ids := testIdentifiers()

	text := "Farm AZ-FARM-0042 owned by farmer-4711. Rəşad Quliyev, resad@example.az, +994 55 765 43 21"
	out, err := g.Sanitize(context.Background(), "req-1", ids, text)
	require.NoError(t, err)

	assert.NotEqual(t, ids.FarmID, out.FarmID)
	assert.NotEqual(t, ids.FarmerID, out.FarmerID)
	assert.True(t, strings.HasPrefix(out.FarmID, "farm_"))
	assert.True(t, strings.HasPrefix(out.FarmerID, "farmer_"))

	for _, secret := range []string{ids.FarmID, ids.FarmerID, ids.DisplayName, ids.Email, ids.Phone, "765"} {
		assert.NotContains(t, out.Text, secret)
	}
	assert.Contains(t, out.Text, out.FarmID)
	assert.Contains(t, out.Text, FarmerPlaceholder)

	for _, tok := range out.Tokens {
		assert.Len(t, tok.Hash, HashLength)
		assert.NotContains(t, tok.Replacement, "Quliyev")
	}
}

func TestSanitize_EqualValuesShareOnePlaceholder(t *testing.T) {
	g, _ := newTestGateway(t)
	out, err := g.Sanitize(context.Background(), "", datatypes.RawIdentifiers{FarmerID: "a", FarmID: "b"},
		"+994501234567 və yenə +994501234567, həmçinin +994551112233")
	require.NoError(t, err)
	assert.Equal(t, "[PHONE_1] və yenə [PHONE_1], həmçinin [PHONE_2]", out.Text)
	assert.Equal(t, 3, out.Counts[TypePhone])
}

func TestSanitizeContext_ScrubsExtraAndStructuredFields(t *testing.T) {
	g, _ := newTestGateway(t)
	ids := testIdentifiers()
	farm := datatypes.FarmContext{
		Farm: datatypes.FarmInfo{Type: "crop", Region: "Aran AZ-FARM-0042", Crops: []string{"wheat"}},
		User: datatypes.UserQuery{Query: "Rəşad Quliyev asks about water", Language: "az"},
		Extra: map[string]any{
			"note":     "AZ-FARM-0042 owner Əli Məmmədov +994501234567",
			"contacts": []any{"resad@example.az", 3},
			"nested":   map[string]any{"owner": "farmer-4711"},
			"wells":    2,
			"opaque":   struct{ Secret string }{"farmer-4711"},
		},
	}

	out, err := g.SanitizeContext(context.Background(), "req-ctx", ids, farm)
	require.NoError(t, err)

	clean := out.Context
	assert.Equal(t, out.Text, clean.User.Query)
	assert.Equal(t, "Aran "+out.FarmID, clean.Farm.Region)
	assert.Equal(t, []string{"wheat"}, clean.Farm.Crops)
	assert.Equal(t, "az", clean.User.Language)

	note, _ := clean.Extra["note"].(string)
	for _, secret := range []string{ids.FarmID, "Əli", "Məmmədov", "+994501234567"} {
		assert.NotContains(t, note, secret)
	}
	assert.Equal(t, []any{"[EMAIL_1]", 3}, clean.Extra["contacts"])
	assert.Equal(t, map[string]any{"owner": out.FarmerID}, clean.Extra["nested"])
	assert.Equal(t, 2, clean.Extra["wells"])
	assert.NotContains(t, clean.Extra, "opaque")

	// The input is not modified.
	assert.Equal(t, "AZ-FARM-0042 owner Əli Məmmədov +994501234567", farm.Extra["note"])
	assert.Equal(t, "Aran AZ-FARM-0042", farm.Farm.Region)
}

func TestSanitize_DuplicateRequestRejected(t *testing.T) {
	g, _ := newTestGateway(t)
	ids := testIdentifiers()
	_, err := g.Sanitize(context.Background(), "dup", ids, "")
	require.NoError(t, err)
	_, err = g.Sanitize(context.Background(), "dup", ids, "")
	assert.True(t, errors.Is(err, ErrRequestInFlight))
}

func TestPersonalize_RoundTrip(t *testing.T) {
	g, audit := newTestGateway(t)
	ids := testIdentifiers()
	ctx := context.Background()

	san, err := g.Sanitize(ctx, "req-2", ids, "Salam, mən Rəşad Quliyev, +994 55 765 43 21")
	require.NoError(t, err)
	assert.Equal(t, 1, g.Store().Len())

	resp := &datatypes.SidecarResponse{
		FarmID:    san.FarmID,
		RequestID: san.RequestID,
		Recommendations: []datatypes.DeliveredRecommendation{{
			Recommendation: datatypes.Recommendation{
				ID: "r1",
				Title: datatypes.LocalizedText{
					Az: "[FARMER], suvarma edin",
					En: "[FARMER], irrigate",
				},
				Description: datatypes.LocalizedText{
					Az: "Sahə 40.4093, 49.8671. Əlaqə +994 55 765 43 21",
					En: "Call +994501234567 or mail x@y.az about " + san.FarmID,
				},
			},
		}},
		Notes: []string{"note for " + san.FarmerID},
	}

	final, err := g.Personalize(ctx, san.RequestID, resp, ids)
	require.NoError(t, err)

	assert.Equal(t, ids.FarmID, final.FarmID)
	rec := final.Recommendations[0]
	assert.Equal(t, "Rəşad Quliyev, suvarma edin", rec.Title.Az)
	assert.Equal(t, "Rəşad Quliyev, irrigate", rec.Title.En)
	assert.NotContains(t, rec.Description.Az, "40.4093")
	assert.NotContains(t, rec.Description.Az, "765")
	assert.NotContains(t, rec.Description.En, "+994501234567")
	assert.NotContains(t, rec.Description.En, "x@y.az")
	assert.Contains(t, rec.Description.En, ids.FarmID)
	assert.Equal(t, "note for Rəşad Quliyev", final.Notes[0])

	// Input response untouched.
	assert.Equal(t, "[FARMER], irrigate", resp.Recommendations[0].Title.En)

	// Entry dropped after personalization.
	assert.Equal(t, 0, g.Store().Len())
	_, err = g.Personalize(ctx, san.RequestID, resp, ids)
	assert.True(t, errors.Is(err, ErrRequestNotFound))

	// Audit carries counts and hashes, never raw values.
	events, err := audit.Query(ctx, extensions.AuditFilter{ResourceID: "req-2"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	for _, e := range events {
		for _, v := range e.Metadata {
			s, _ := v.(string)
			assert.NotContains(t, s, "Quliyev")
		}
	}
}

func TestPersonalize_FallbackSalutation(t *testing.T) {
	g, _ := newTestGateway(t)
	ids := datatypes.RawIdentifiers{FarmerID: "f", FarmID: "farm-9"}
	san, err := g.Sanitize(context.Background(), "", ids, "")
	require.NoError(t, err)

	resp := &datatypes.SidecarResponse{
		Recommendations: []datatypes.DeliveredRecommendation{{
			Recommendation: datatypes.Recommendation{
				Title: datatypes.LocalizedText{Az: "[FARMER], diqqət", En: "[FARMER], attention"},
			},
		}},
	}
	final, err := g.Personalize(context.Background(), san.RequestID, resp, ids)
	require.NoError(t, err)
	assert.Equal(t, "hörmətli fermer, diqqət", final.Recommendations[0].Title.Az)
	assert.Equal(t, "dear farmer, attention", final.Recommendations[0].Title.En)
}

func TestTokenStore_EvictExpired(t *testing.T) {
	s := NewTokenStore(time.Minute, 2)
	now := time.Now()
	require.NoError(t, s.put("old", &tokenEntry{createdAt: now.Add(-2 * time.Minute)}))
	require.NoError(t, s.put("new", &tokenEntry{createdAt: now}))

	n, err := s.EvictExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, s.Len())

	require.NoError(t, s.put("newer", &tokenEntry{createdAt: now.Add(time.Second)}))
	s.Discard("newer")
	assert.Equal(t, 1, s.Len())
}

func TestTokenStore_FullRejectsNewEntries(t *testing.T) {
	s := NewTokenStore(time.Minute, 2)
	now := time.Now()
	require.NoError(t, s.put("a", &tokenEntry{createdAt: now}))
	require.NoError(t, s.put("b", &tokenEntry{createdAt: now.Add(time.Second)}))

	tests := []struct {
		id      string
		wantErr error
	}{
		{"a", ErrRequestInFlight},
		{"c", ErrTokenStoreFull},
	}
	for _, tt := range tests {
		assert.ErrorIs(t, s.put(tt.id, &tokenEntry{createdAt: now.Add(2 * time.Second)}), tt.wantErr, tt.id)
	}

	// Live entries survive the rejected put.
	_, ok := s.take("a")
	assert.True(t, ok)
	require.NoError(t, s.put("c", &tokenEntry{createdAt: now.Add(3 * time.Second)}))
	assert.Equal(t, 2, s.Len())
}

func TestSanitize_FullStoreKeepsInFlightRequests(t *testing.T) {
	g, err := New(Config{TokenTTL: time.Minute, MaxEntries: 1}, nil, nil)
	require.NoError(t, err)
	ids := testIdentifiers()
	ctx := context.Background()

	first, err := g.Sanitize(ctx, "first", ids, "")
	require.NoError(t, err)

	_, err = g.Sanitize(ctx, "second", ids, "")
	assert.True(t, errors.Is(err, ErrTokenStoreFull))

	resp := &datatypes.SidecarResponse{
		Recommendations: []datatypes.DeliveredRecommendation{{
			Recommendation: datatypes.Recommendation{
				Title: datatypes.LocalizedText{En: "[FARMER], attention"},
			},
		}},
	}
	final, err := g.Personalize(ctx, first.RequestID, resp, ids)
	require.NoError(t, err, "the in-flight request is still personalizable")
	assert.Equal(t, "Rəşad Quliyev, attention", final.Recommendations[0].Title.En)

	_, err = g.Sanitize(ctx, "second", ids, "")
	assert.NoError(t, err)
}

func TestHasher(t *testing.T) {
	for _, secure := range []bool{false, true} {
		h, err := NewHasher(secure)
		require.NoError(t, err)

		a, err := h.Hash(TypePhone, "+994501234567")
		require.NoError(t, err)
		b, err := h.Hash(TypePhone, "+994501234567")
		require.NoError(t, err)
		c, err := h.Hash(TypeEmail, "+994501234567")
		require.NoError(t, err)

		assert.Len(t, a, HashLength)
		assert.Equal(t, a, b, "stable within a process")
		assert.NotEqual(t, a, c, "type is part of the digest")
		assert.NotContains(t, a, "994501234567")
	}
}
