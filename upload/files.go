package upload

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bmatcuk/doublestar/v4"

	"github.com/damkit-io/go-damkit/upload/filehandle"
	"github.com/damkit-io/go-damkit/upload/planner"
)

// CollectParams selects local files for upload.
type CollectParams struct {
	// Root is the directory relative keys are computed against.
	Root string

	// Patterns are doublestar globs (relative to Root) or plain paths.
	Patterns []string

	// PreviewPatterns tag matching files as inline previews.
	PreviewPatterns []string

	// AssetPreviewPath optionally names the single asset-level preview file,
	// relative to Root. It gets the reserved preview index.
	AssetPreviewPath string
}

// CollectFiles expands the patterns into upload descriptions plus open file
// handles keyed by file index. Non-matching patterns log a warning and are
// skipped; matching the same file twice counts it once.
func CollectFiles(params CollectParams, pathModifier pathutil.PathModifier, logger log.Logger) ([]planner.FileInfo, map[int]filehandle.Handle, error) {
	absRoot, err := pathModifier.AbsPath(params.Root)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve root %s: %w", params.Root, err)
	}

	matched := map[string]bool{}
	for _, pattern := range params.Patterns {
		if !strings.Contains(pattern, "*") {
			matched[filepath.ToSlash(pattern)] = true
			continue
		}

		matches, err := doublestar.Glob(os.DirFS(absRoot), pattern, doublestar.WithNoFollow())
		if err != nil {
			logger.Warnf("Error in path pattern '%s': %s", pattern, err)
			continue
		}
		if matches == nil {
			logger.Warnf("No match for path pattern: %s", pattern)
			continue
		}
		for _, match := range matches {
			matched[match] = true
		}
	}

	relPaths := make([]string, 0, len(matched))
	for rel := range matched {
		relPaths = append(relPaths, rel)
	}
	sort.Strings(relPaths)

	var files []planner.FileInfo
	handles := map[int]filehandle.Handle{}
	nextIndex := 0

	addFile := func(rel string, index int, previewFile, assetPreview bool) error {
		absPath := filepath.Join(absRoot, filepath.FromSlash(rel))
		info, err := os.Stat(absPath)
		if err != nil {
			return fmt.Errorf("stat %s: %w", rel, err)
		}
		if info.IsDir() {
			return nil
		}

		files = append(files, planner.FileInfo{
			Index:        index,
			Name:         filepath.Base(absPath),
			Size:         info.Size(),
			RelativePath: rel,
			PreviewFile:  previewFile,
			AssetPreview: assetPreview,
		})

		if info.Size() > 0 {
			handle, err := filehandle.Open(absPath)
			if err != nil {
				return fmt.Errorf("open %s: %w", rel, err)
			}
			handles[index] = handle
		}
		return nil
	}

	for _, rel := range relPaths {
		preview := false
		for _, pattern := range params.PreviewPatterns {
			ok, err := doublestar.Match(pattern, rel)
			if err != nil {
				return nil, nil, fmt.Errorf("invalid preview pattern %s: %w", pattern, err)
			}
			if ok {
				preview = true
				break
			}
		}

		if err := addFile(rel, nextIndex, preview, false); err != nil {
			closeHandles(handles, logger)
			return nil, nil, err
		}
		nextIndex++
	}

	if params.AssetPreviewPath != "" {
		rel := filepath.ToSlash(params.AssetPreviewPath)
		if err := addFile(rel, planner.AssetPreviewIndex, false, true); err != nil {
			closeHandles(handles, logger)
			return nil, nil, err
		}
	}

	return files, handles, nil
}

// CloseHandles closes every handle that supports closing. Call it once the
// upload finished.
func CloseHandles(handles map[int]filehandle.Handle, logger log.Logger) {
	closeHandles(handles, logger)
}

func closeHandles(handles map[int]filehandle.Handle, logger log.Logger) {
	for _, handle := range handles {
		if closer, ok := handle.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				logger.Warnf("Failed to close file handle: %s", err)
			}
		}
	}
}
