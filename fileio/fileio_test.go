//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

package fileio

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLocal(t *testing.T) *Local {
	t.Helper()
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	return l
}

func TestWriteReadRoundTrip(t *testing.T) {
	l := testLocal(t)
	ctx := context.Background()

	require.NoError(t, l.Write(ctx, "out/result.txt", []byte("hello")))

	data, err := l.Read(ctx, "out/result.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestAppendAccumulates(t *testing.T) {
	l := testLocal(t)
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, "log.txt", []byte("one\n")))
	require.NoError(t, l.Append(ctx, "log.txt", []byte("two\n")))

	data, err := l.Read(ctx, "log.txt")
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", string(data))
}

func TestExists(t *testing.T) {
	l := testLocal(t)
	ctx := context.Background()

	ok, err := l.Exists(ctx, "nothing.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Write(ctx, "nothing.txt", nil))
	ok, err = l.Exists(ctx, "nothing.txt")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPathEscapeRejected(t *testing.T) {
	l := testLocal(t)
	ctx := context.Background()

	for _, path := range []string{"../outside.txt", "a/../../outside.txt", ".."} {
		_, err := l.Read(ctx, path)
		require.Error(t, err, path)
		assert.Contains(t, err.Error(), "escapes", path)

		err = l.Write(ctx, path, []byte("x"))
		require.Error(t, err, path)
	}
}

func TestGlobDoubleStar(t *testing.T) {
	l := testLocal(t)
	ctx := context.Background()

	require.NoError(t, l.Write(ctx, "data/a.csv", []byte("1")))
	require.NoError(t, l.Write(ctx, "data/deep/b.csv", []byte("2")))
	require.NoError(t, l.Write(ctx, "data/readme.md", []byte("3")))

	matches, err := l.Glob(ctx, "**/*.csv")
	require.NoError(t, err)
	assert.Equal(t, []string{"data/a.csv", "data/deep/b.csv"}, matches)
}

func TestReadMissingFile(t *testing.T) {
	l := testLocal(t)
	_, err := l.Read(context.Background(), "absent.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "absent.txt")
}
