package network

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastClient(t *testing.T) *retryablehttp.Client {
	t.Helper()
	client := NewRetryingClient(log.NewLogger())
	client.RetryWaitMin = time.Millisecond
	client.RetryWaitMax = 5 * time.Millisecond
	client.Backoff = retryablehttp.DefaultBackoff // skip the 60s rate-limit delay in tests
	return client
}

func TestClient_InitializeUpload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/uploads", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		var request InitializeUploadRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
		assert.Equal(t, "asset-1", request.AssetID)
		assert.Equal(t, "db-1", request.DatabaseID)
		assert.Equal(t, UploadTypeAssetFile, request.UploadType)
		require.Len(t, request.Files, 2)
		assert.Equal(t, 0, request.Files[1].NumParts, "zero-byte files declare zero parts")

		response := InitializeUploadResponse{
			UploadID: "upload-1",
			Files: []InitializedFile{
				{
					RelativeKey: "data/a.bin",
					S3UploadID:  "s3-upload-a",
					NumParts:    2,
					PartUploadURLs: []PartUploadTarget{
						{PartNumber: 1, UploadURL: "https://example.com/a/1"},
						{PartNumber: 2, UploadURL: "https://example.com/a/2"},
					},
				},
				{RelativeKey: "data/empty.txt", S3UploadID: "s3-upload-b", NumParts: 0},
			},
		}
		w.WriteHeader(http.StatusOK)
		require.NoError(t, json.NewEncoder(w).Encode(response))
	}))
	defer server.Close()

	client := NewClientWith(fastClient(t), server.URL, "test-token", log.NewLogger())

	response, err := client.InitializeUpload(context.Background(), InitializeUploadRequest{
		AssetID:    "asset-1",
		DatabaseID: "db-1",
		UploadType: UploadTypeAssetFile,
		Files: []InitializeFileEntry{
			{RelativeKey: "data/a.bin", FileSize: 300, NumParts: 2},
			{RelativeKey: "data/empty.txt", FileSize: 0, NumParts: 0},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "upload-1", response.UploadID)
	require.Len(t, response.Files, 2)
	assert.Equal(t, "s3-upload-a", response.Files[0].S3UploadID)
	assert.Len(t, response.Files[0].PartUploadURLs, 2)
}

func TestClient_InitializeUpload_FileCountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response := InitializeUploadResponse{UploadID: "upload-1"}
		require.NoError(t, json.NewEncoder(w).Encode(response))
	}))
	defer server.Close()

	client := NewClientWith(fastClient(t), server.URL, "token", log.NewLogger())

	_, err := client.InitializeUpload(context.Background(), InitializeUploadRequest{
		Files: []InitializeFileEntry{{RelativeKey: "a", FileSize: 1, NumParts: 1}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file count mismatch")
}

func TestClient_CompleteUpload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/uploads/upload-9/complete", r.URL.Path)

		var request CompleteUploadRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
		require.Len(t, request.Files, 1)
		assert.Equal(t, "CEtag-1", request.Files[0].Parts[0].ETag)

		response := CompleteUploadResponse{
			AssetID:        "asset-1",
			Message:        "ok",
			OverallSuccess: true,
			FileResults:    []FileResult{{RelativeKey: "data/a.bin", Success: true}},
		}
		require.NoError(t, json.NewEncoder(w).Encode(response))
	}))
	defer server.Close()

	client := NewClientWith(fastClient(t), server.URL, "token", log.NewLogger())

	response, err := client.CompleteUpload(context.Background(), "upload-9", CompleteUploadRequest{
		AssetID:    "asset-1",
		DatabaseID: "db-1",
		UploadType: UploadTypeAssetFile,
		Files: []CompleteFileEntry{
			{
				RelativeKey: "data/a.bin",
				S3UploadID:  "s3-upload-a",
				Parts:       []CompletedPartEntry{{PartNumber: 1, ETag: "CEtag-1"}},
			},
		},
	})
	require.NoError(t, err)
	assert.True(t, response.OverallSuccess)
	require.Len(t, response.FileResults, 1)
	assert.True(t, response.FileResults[0].Success)
}

func TestClient_CompleteUpload_CancelledFileMarshalsEmptyParts(t *testing.T) {
	// The cancellation contract: a cancelled file's entry carries "parts": [],
	// never null and never an omitted entry.
	entry := CompleteFileEntry{
		RelativeKey: "data/cancelled.bin",
		S3UploadID:  "s3-upload-c",
		Parts:       []CompletedPartEntry{},
	}

	data, err := json.Marshal(entry)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"parts":[]`)
}

func TestClient_SurfacesStatusErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("gateway timed out")) //nolint:errcheck
	}))
	defer server.Close()

	client := NewClientWith(fastClient(t), server.URL, "token", log.NewLogger())

	_, err := client.CompleteUpload(context.Background(), "upload-1", CompleteUploadRequest{})
	require.Error(t, err)

	assert.Equal(t, ClassAmbiguousTimeout, Classify(err))
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) <= 2 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		require.NoError(t, json.NewEncoder(w).Encode(CompleteUploadResponse{OverallSuccess: true}))
	}))
	defer server.Close()

	client := NewClientWith(fastClient(t), server.URL, "token", log.NewLogger())

	response, err := client.CompleteUpload(context.Background(), "upload-1", CompleteUploadRequest{})
	require.NoError(t, err)
	assert.True(t, response.OverallSuccess)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}
