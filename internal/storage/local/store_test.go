// Package local_test tests the local filesystem document store.
package local_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/topical-search/internal/storage"
	"github.com/JakeFAU/topical-search/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()}, nil)
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "a", "b")
		_, err := local.New(local.Config{BaseDir: dir}, nil)
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{}, nil)
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file}, nil)
		assert.Error(t, err)
	})
}

func TestSaveAndLoadAll(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := store.Save(ctx, "https://example.com/a", "alpha text\n\nwith a blank line")
	require.NoError(t, err)
	second, err := store.Save(ctx, "https://example.com/b", "beta")
	require.NoError(t, err)
	assert.Equal(t, int64(0), first)
	assert.Equal(t, int64(1), second)

	_, err = os.Stat(filepath.Join(dir, storage.ObjectName(first)))
	require.NoError(t, err)

	records, err := store.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "https://example.com/a", records[0].URL)
	assert.Equal(t, "alpha text\n\nwith a blank line", records[0].Text)
	assert.False(t, records[0].SavedAt.IsZero())
	assert.Equal(t, int64(1), records[1].ID)

	next, err := store.NextID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), next)
}

func TestNextIDResumesFromHighestRecord(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir}, nil)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := store.Save(context.Background(), "https://example.com/", "text")
		require.NoError(t, err)
	}
	require.NoError(t, os.Remove(filepath.Join(dir, storage.ObjectName(1))))

	reopened, err := local.New(local.Config{BaseDir: dir}, nil)
	require.NoError(t, err)
	next, err := reopened.NextID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), next)

	id, err := reopened.Save(context.Background(), "https://example.com/new", "text")
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)
}

func TestLoadAllSkipsMalformedRecords(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir}, nil)
	require.NoError(t, err)
	_, err = store.Save(context.Background(), "https://example.com/ok", "fine")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, storage.ObjectName(5)), []byte("https://x\n\nlegacy"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, storage.ObjectName(6)), []byte(`{"id":9,"url":"u","text":"t"}`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o600))

	records, err := store.LoadAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrMalformedRecord)
	require.Len(t, records, 1)
	assert.Equal(t, "https://example.com/ok", records[0].URL)
}

func TestSaveRejectsEmptyURL(t *testing.T) {
	t.Parallel()

	store, err := local.New(local.Config{BaseDir: t.TempDir()}, nil)
	require.NoError(t, err)
	_, err = store.Save(context.Background(), "", "text")
	assert.ErrorIs(t, err, storage.ErrMalformedRecord)
}

func TestConcurrentSavesAssignUniqueIDs(t *testing.T) {
	t.Parallel()

	store, err := local.New(local.Config{BaseDir: t.TempDir()}, nil)
	require.NoError(t, err)

	var (
		mu  sync.Mutex
		ids = make(map[int64]struct{})
		wg  sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				id, err := store.Save(context.Background(), "https://example.com/", "text")
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				ids[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, ids, 40)

	records, err := store.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 40)
}
