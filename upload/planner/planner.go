// Package planner splits files into byte-range parts and groups files into
// backend-compatible upload sequences. Planning is pure: the same inputs
// always produce the same plan, and no I/O happens here.
package planner

// AssetPreviewIndex is the reserved file index of the single asset-level
// preview file. Regular files use non-negative indexes.
const AssetPreviewIndex = -1

const (
	// DefaultChunkSize is the part size used for most files.
	DefaultChunkSize = 150 * 1024 * 1024

	// DefaultLargeFileChunkSize is the part size used for files at or above
	// DefaultLargeFileThreshold, keeping their part counts manageable.
	DefaultLargeFileChunkSize = 1024 * 1024 * 1024

	// DefaultLargeFileThreshold is the file size at which the large chunk
	// size kicks in.
	DefaultLargeFileThreshold = 15 * 1024 * 1024 * 1024

	// DefaultMaxSequenceSize is the total byte limit of one sequence. A file
	// that is individually larger gets a sequence of its own.
	DefaultMaxSequenceSize = 50 * 1024 * 1024 * 1024

	// DefaultMaxFilesPerSequence is the file count limit of one
	// initialize/complete request pair.
	DefaultMaxFilesPerSequence = 50

	// DefaultMaxPartsPerSequence is the total part count limit of one
	// sequence.
	DefaultMaxPartsPerSequence = 500

	// DefaultMaxPartsPerFile is the part count limit of a single file. A file
	// that cannot be expressed within this many parts is rejected.
	DefaultMaxPartsPerFile = 500
)

// Limits holds the chunking and batching constraints of the backend.
type Limits struct {
	ChunkSize           int64
	LargeFileChunkSize  int64
	LargeFileThreshold  int64
	MaxSequenceSize     int64
	MaxFilesPerSequence int
	MaxPartsPerSequence int
	MaxPartsPerFile     int
}

// DefaultLimits returns the limits of the hosted backend.
func DefaultLimits() Limits {
	return Limits{
		ChunkSize:           DefaultChunkSize,
		LargeFileChunkSize:  DefaultLargeFileChunkSize,
		LargeFileThreshold:  DefaultLargeFileThreshold,
		MaxSequenceSize:     DefaultMaxSequenceSize,
		MaxFilesPerSequence: DefaultMaxFilesPerSequence,
		MaxPartsPerSequence: DefaultMaxPartsPerSequence,
		MaxPartsPerFile:     DefaultMaxPartsPerFile,
	}
}

// FileInfo describes one file selected for upload. It is created once at
// selection time and never mutated afterwards.
type FileInfo struct {
	// Index is the stable identifier of the file within one upload.
	// AssetPreviewIndex marks the asset-level preview file.
	Index int

	Name         string
	Size         int64
	RelativePath string

	// PreviewFile marks an inline preview belonging to one of the uploaded
	// files.
	PreviewFile bool

	// AssetPreview marks the single preview artifact of the whole asset.
	AssetPreview bool
}

// PartInfo is one contiguous byte range of a file. Part numbers are 1-based.
// EndByte is exclusive.
type PartInfo struct {
	PartNumber int
	StartByte  int64
	EndByte    int64
	Size       int64
}
