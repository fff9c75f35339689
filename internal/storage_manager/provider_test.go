package storage_manager

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFileProvider_WriteReadRoundTrip(t *testing.T) {
	provider := NewLocalFileProvider(t.TempDir())
	ctx := context.Background()

	err := provider.Write(ctx, "entries/mem_1.json", []byte(`{"id":"mem_1"}`))
	require.NoError(t, err)

	data, err := provider.Read(ctx, "entries/mem_1.json")
	require.NoError(t, err)
	assert.Equal(t, `{"id":"mem_1"}`, string(data))
}

func TestLocalFileProvider_WriteOverwritesAtomically(t *testing.T) {
	dir := t.TempDir()
	provider := NewLocalFileProvider(dir)
	ctx := context.Background()

	require.NoError(t, provider.Write(ctx, "a.json", []byte("old")))
	require.NoError(t, provider.Write(ctx, "a.json", []byte("new")))

	data, err := provider.Read(ctx, "a.json")
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	// No leftover temp files after the rename.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.Contains(e.Name(), ".tmp-"), "leftover temp file: %s", e.Name())
	}
}

func TestLocalFileProvider_Exists(t *testing.T) {
	provider := NewLocalFileProvider(t.TempDir())
	ctx := context.Background()

	exists, err := provider.Exists(ctx, "missing.json")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, provider.Write(ctx, "present.json", []byte("x")))

	exists, err = provider.Exists(ctx, "present.json")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLocalFileProvider_DeleteMissingIsNoop(t *testing.T) {
	provider := NewLocalFileProvider(t.TempDir())

	err := provider.Delete(context.Background(), "never-existed.json")
	assert.NoError(t, err)
}

func TestLocalFileProvider_List(t *testing.T) {
	provider := NewLocalFileProvider(t.TempDir())
	ctx := context.Background()

	require.NoError(t, provider.Write(ctx, "entries/a.json", []byte("a")))
	require.NoError(t, provider.Write(ctx, "entries/b.json", []byte("b")))
	require.NoError(t, provider.Write(ctx, "index/c.json", []byte("c")))

	files, err := provider.List(ctx, "entries")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join("entries", "a.json"),
		filepath.Join("entries", "b.json"),
	}, files)
}

func TestLocalFileProvider_ListMissingPrefixReturnsEmpty(t *testing.T) {
	provider := NewLocalFileProvider(t.TempDir())

	files, err := provider.List(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestPrefixedFileProvider_IsolatesNamespaces(t *testing.T) {
	root := NewLocalFileProvider(t.TempDir())
	memories := NewPrefixedFileProvider(root, NamespaceMemories)
	snapshots := NewPrefixedFileProvider(root, NamespaceSnapshots)
	ctx := context.Background()

	require.NoError(t, memories.Write(ctx, "mem_1.json", []byte("m")))
	require.NoError(t, snapshots.Write(ctx, "snap_1.json", []byte("s")))

	exists, err := snapshots.Exists(ctx, "mem_1.json")
	require.NoError(t, err)
	assert.False(t, exists)

	data, err := root.Read(ctx, filepath.Join(NamespaceMemories, "mem_1.json"))
	require.NoError(t, err)
	assert.Equal(t, "m", string(data))
}

func TestPrefixedFileProvider_ListStripsPrefix(t *testing.T) {
	root := NewLocalFileProvider(t.TempDir())
	memories := NewPrefixedFileProvider(root, NamespaceMemories)
	ctx := context.Background()

	require.NoError(t, memories.Write(ctx, "a.json", []byte("a")))
	require.NoError(t, memories.Write(ctx, "b.json", []byte("b")))

	files, err := memories.List(ctx, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.json", "b.json"}, files)
}

func TestStorageManager_LocalBackend(t *testing.T) {
	manager, err := New(Config{
		Backend:     BackendLocal,
		LocalConfig: &LocalConfig{BaseDir: t.TempDir()},
	})
	require.NoError(t, err)
	assert.Equal(t, BackendLocal, manager.Backend())

	provider := manager.GetProvider(NamespaceVectors)
	require.NoError(t, provider.Write(context.Background(), "index.json", []byte("{}")))

	exists, err := manager.GetRootProvider().Exists(context.Background(), "vectors/index.json")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestStorageManager_ConfigValidation(t *testing.T) {
	_, err := New(Config{Backend: BackendLocal})
	assert.Error(t, err)

	_, err = New(Config{Backend: BackendLocal, LocalConfig: &LocalConfig{}})
	assert.Error(t, err)

	_, err = New(Config{Backend: BackendS3})
	assert.Error(t, err)

	_, err = New(Config{Backend: BackendS3, S3Config: &S3Config{Bucket: "b"}})
	assert.Error(t, err)

	_, err = New(Config{Backend: "gopher-drive"})
	assert.Error(t, err)
}
