package upload

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/damkit-io/go-damkit/upload/planner"
)

func writeFile(t *testing.T, root, rel string, content []byte) {
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, content, 0o644))
}

func TestCollectFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", []byte("hello"))
	writeFile(t, root, "empty.txt", nil)
	writeFile(t, root, "sub/b.bin", []byte("abc"))
	writeFile(t, root, "notes.md", []byte("hi"))
	writeFile(t, root, "thumb.png", []byte("pngs"))

	files, handles, err := CollectFiles(CollectParams{
		Root:             root,
		Patterns:         []string{"**/*.txt", "**/*.bin", "**/*.md"},
		PreviewPatterns:  []string{"**/*.md"},
		AssetPreviewPath: "thumb.png",
	}, pathutil.NewPathModifier(), log.NewLogger())
	require.NoError(t, err)
	defer CloseHandles(handles, log.NewLogger())

	require.Len(t, files, 5)

	byPath := map[string]planner.FileInfo{}
	for _, f := range files {
		byPath[f.RelativePath] = f
	}

	assert.Equal(t, int64(5), byPath["a.txt"].Size)
	assert.Equal(t, int64(0), byPath["empty.txt"].Size)
	assert.Equal(t, int64(3), byPath["sub/b.bin"].Size)
	assert.Equal(t, "b.bin", byPath["sub/b.bin"].Name)

	assert.True(t, byPath["notes.md"].PreviewFile)
	assert.False(t, byPath["a.txt"].PreviewFile)

	preview := byPath["thumb.png"]
	assert.True(t, preview.AssetPreview)
	assert.Equal(t, planner.AssetPreviewIndex, preview.Index)

	// Every non-empty file has an open handle sized to match.
	for _, f := range files {
		handle, ok := handles[f.Index]
		if f.Size == 0 {
			assert.False(t, ok, "zero-byte files need no handle")
			continue
		}
		require.True(t, ok, "missing handle for %s", f.RelativePath)
		assert.Equal(t, f.Size, handle.Size())
	}
}

func TestCollectFiles_PlainPathsAndNoMatch(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "only.bin", []byte("data"))

	files, handles, err := CollectFiles(CollectParams{
		Root:     root,
		Patterns: []string{"only.bin", "**/*.zip"},
	}, pathutil.NewPathModifier(), log.NewLogger())
	require.NoError(t, err)
	defer CloseHandles(handles, log.NewLogger())

	require.Len(t, files, 1)
	assert.Equal(t, "only.bin", files[0].RelativePath)
	assert.False(t, files[0].PreviewFile)
	assert.False(t, files[0].AssetPreview)
}

func TestCollectFiles_MissingFile(t *testing.T) {
	root := t.TempDir()

	_, _, err := CollectFiles(CollectParams{
		Root:     root,
		Patterns: []string{"gone.bin"},
	}, pathutil.NewPathModifier(), log.NewLogger())
	require.Error(t, err)
}
