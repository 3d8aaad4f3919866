//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreSaveAndLoad(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "review", sampleDiagram(), FormatNative))

	got, err := store.Load(ctx, "review")
	require.NoError(t, err)
	assert.Len(t, got.Nodes, 4)
	assert.Equal(t, "review", got.Metadata.Name)
}

func TestFileStoreLoadFromNestedDir(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "flows/nested/review", sampleDiagram(), FormatLight))

	// Filename lookup works at any depth.
	got, err := store.Load(ctx, "review")
	require.NoError(t, err)
	assert.Len(t, got.Nodes, 4)
}

func TestFileStoreResolvesInternalMetadataID(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	d := sampleDiagram()
	d.Metadata.ID = "wf-123"
	require.NoError(t, store.Save(ctx, "some-file-name", d, FormatNative))

	got, err := store.Load(ctx, "wf-123")
	require.NoError(t, err)
	assert.Equal(t, "wf-123", got.Metadata.ID)
}

func TestFileStoreLoadMissing(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Load(context.Background(), "nope")
	require.ErrorIs(t, err, ErrDiagramNotFound)
}

func TestFileStoreList(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "alpha", sampleDiagram(), FormatNative))
	require.NoError(t, store.Save(ctx, "beta", sampleDiagram(), FormatLight))
	// Unparseable files still appear in the listing.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.yaml"), []byte(":::"), 0o644))

	infos, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, "alpha", infos[0].ID)
	assert.Equal(t, FormatNative, infos[0].Format)
	assert.Equal(t, "beta", infos[1].ID)
	assert.Equal(t, "review", infos[1].Name)
}

func TestFileStoreDelete(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "gone", sampleDiagram(), FormatNative))
	require.NoError(t, store.Delete(ctx, "gone"))

	_, err = store.Load(ctx, "gone")
	require.ErrorIs(t, err, ErrDiagramNotFound)

	infos, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestFileStoreSaveFormatExtension(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "n", sampleDiagram(), FormatNative))
	require.NoError(t, store.Save(ctx, "l", sampleDiagram(), FormatLight))
	require.NoError(t, store.Save(ctx, "r", sampleDiagram(), FormatReadable))

	for file, format := range map[string]Format{
		"n.json": FormatNative,
		"l.yaml": FormatLight,
		"r.yaml": FormatReadable,
	} {
		data, err := os.ReadFile(filepath.Join(dir, file))
		require.NoError(t, err, file)
		assert.Equal(t, format, DetectFormat(file, data), file)
	}

	_, err = CodecFor(Format("binary"))
	require.Error(t, err)
}
