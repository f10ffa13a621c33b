// Package local_test tests the local filesystem blob store.
package local_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Eli-Gooding/research-v1-sub000/internal/research"
	"github.com/Eli-Gooding/research-v1-sub000/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		tempDir := t.TempDir()
		store, err := local.New(local.Config{BaseDir: tempDir})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		tempFile, err := os.CreateTemp("", "testfile")
		require.NoError(t, err)
		t.Cleanup(func() {
			removeErr := os.Remove(tempFile.Name())
			if removeErr != nil && !os.IsNotExist(removeErr) {
				t.Fatalf("failed to remove temp file: %v", removeErr)
			}
		})

		_, err = local.New(local.Config{BaseDir: tempFile.Name()})
		assert.Error(t, err)
	})
}

func TestPut(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)

	t.Run("ValidPut", func(t *testing.T) {
		key := "research/job-1/raw.html"
		data := []byte("<html></html>")
		uri, err := store.Put(context.Background(), key, "text/html", bytes.NewReader(data))
		require.NoError(t, err)

		expectedURI := "file://" + filepath.Join(tempDir, key)
		assert.Equal(t, expectedURI, uri)

		// #nosec G304 -- test reads from the controlled temp directory.
		readData, err := os.ReadFile(filepath.Join(tempDir, "research", "job-1", "raw.html"))
		require.NoError(t, err)
		assert.Equal(t, data, readData)
	})

	t.Run("EmptyKey", func(t *testing.T) {
		_, err := store.Put(context.Background(), "", "text/plain", bytes.NewReader([]byte("data")))
		assert.Error(t, err)
	})

	t.Run("PathTraversal", func(t *testing.T) {
		_, err := store.Put(context.Background(), "../escape.txt", "text/plain", bytes.NewReader([]byte("data")))
		assert.Error(t, err)
	})
}

func TestGet(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Put(ctx, "research/job-1/report.md", "text/markdown", bytes.NewReader([]byte("# Report")))
	require.NoError(t, err)

	data, err := store.Get(ctx, "research/job-1/report.md")
	require.NoError(t, err)
	assert.Equal(t, []byte("# Report"), data)

	_, err = store.Get(ctx, "research/job-1/missing.md")
	assert.ErrorIs(t, err, research.ErrBlobNotFound)
}

func TestList(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)
	ctx := context.Background()

	for _, key := range []string{
		"research/job-1/report.md",
		"research/job-1/categories/pricing.md",
		"research/job-2/raw.html",
	} {
		_, err := store.Put(ctx, key, "text/plain", bytes.NewReader([]byte("data")))
		require.NoError(t, err)
	}

	infos, err := store.List(ctx, "research/job-1/")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "research/job-1/categories/pricing.md", infos[0].Key)
	assert.Equal(t, "research/job-1/report.md", infos[1].Key)
	assert.Equal(t, int64(4), infos[0].Size)
}
