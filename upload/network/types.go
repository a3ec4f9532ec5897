package network

// UploadType tags an initialize/complete request pair with the kind of
// content it carries.
type UploadType string

const (
	// UploadTypeAssetFile covers regular files and inline file previews.
	UploadTypeAssetFile UploadType = "assetFile"
	// UploadTypeAssetPreview covers the single asset-level preview file.
	UploadTypeAssetPreview UploadType = "assetPreview"
)

// InitializeFileEntry declares one file of a sequence in the initialize
// request. Zero-sized files declare zero parts.
type InitializeFileEntry struct {
	RelativeKey string `json:"relativeKey"`
	FileSize    int64  `json:"file_size"`
	NumParts    int    `json:"num_parts"`
}

// InitializeUploadRequest asks the backend for upload credentials covering
// every file of one sequence.
type InitializeUploadRequest struct {
	AssetID    string                `json:"assetId"`
	DatabaseID string                `json:"databaseId"`
	UploadType UploadType            `json:"uploadType"`
	Files      []InitializeFileEntry `json:"files"`
}

// PartUploadTarget is one pre-signed upload location.
type PartUploadTarget struct {
	PartNumber int    `json:"PartNumber"`
	UploadURL  string `json:"UploadUrl"`
}

// InitializedFile carries the per-file credentials returned by the backend.
type InitializedFile struct {
	RelativeKey    string             `json:"relativeKey"`
	S3UploadID     string             `json:"uploadIdS3"`
	NumParts       int                `json:"numParts"`
	PartUploadURLs []PartUploadTarget `json:"partUploadUrls"`
}

// InitializeUploadResponse is read-only once received.
type InitializeUploadResponse struct {
	UploadID string            `json:"uploadId"`
	Files    []InitializedFile `json:"files"`
}

// CompletedPartEntry reports one successfully uploaded part.
type CompletedPartEntry struct {
	PartNumber int    `json:"PartNumber"`
	ETag       string `json:"ETag"`
}

// CompleteFileEntry reports the uploaded parts of one file. A cancelled file
// is reported with an empty (never omitted) parts list, which tells the
// backend to discard it.
type CompleteFileEntry struct {
	RelativeKey string               `json:"relativeKey"`
	S3UploadID  string               `json:"uploadIdS3"`
	Parts       []CompletedPartEntry `json:"parts"`
}

// CompleteUploadRequest finalizes one sequence.
type CompleteUploadRequest struct {
	AssetID    string              `json:"assetId"`
	DatabaseID string              `json:"databaseId"`
	UploadType UploadType          `json:"uploadType"`
	Files      []CompleteFileEntry `json:"files"`
}

// FileResult is the backend's verdict on one completed file.
type FileResult struct {
	RelativeKey string `json:"relativeKey"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
}

// CompleteUploadResponse summarizes one completed sequence.
type CompleteUploadResponse struct {
	AssetID                       string       `json:"assetId"`
	Message                       string       `json:"message"`
	FileResults                   []FileResult `json:"fileResults"`
	OverallSuccess                bool         `json:"overallSuccess"`
	LargeFileAsynchronousHandling bool         `json:"largeFileAsynchronousHandling,omitempty"`
}
