// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutIfAbsent_WriteOnce(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	require.NoError(t, db.PutIfAbsent(ctx, []byte("decision/1"), []byte("approve")))

	err = db.PutIfAbsent(ctx, []byte("decision/1"), []byte("reject"))
	assert.True(t, errors.Is(err, ErrKeyExists))

	v, ok, err := db.Get(ctx, []byte("decision/1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("approve"), v)
}

func TestGet_Missing(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	v, ok, err := db.Get(context.Background(), []byte("nope"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, v)
}

func TestScanPrefix(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	for _, k := range []string{"a/2", "a/1", "b/1"} {
		require.NoError(t, db.PutIfAbsent(ctx, []byte(k), []byte(k)))
	}

	var keys []string
	err = db.ScanPrefix(ctx, []byte("a/"), func(k, _ []byte) error {
		keys = append(keys, string(k))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a/1", "a/2"}, keys)
}

func TestCancelledContext(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, db.PutIfAbsent(ctx, []byte("k"), []byte("v")))
	_, _, err = db.Get(ctx, []byte("k"))
	assert.Error(t, err)
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.SyncWrites = false
	cfg.GCInterval = time.Hour

	db, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, db.PutIfAbsent(context.Background(), []byte("k"), []byte("v")))
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	db2, err := Open(cfg)
	require.NoError(t, err)
	defer db2.Close()
	v, ok, err := db2.Get(context.Background(), []byte("k"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}
