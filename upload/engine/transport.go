package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/bitrise-io/go-utils/v2/log"

	"github.com/damkit-io/go-damkit/upload/filehandle"
	"github.com/damkit-io/go-damkit/upload/network"
)

// PartTransport moves the bytes of a single part to the storage backend and
// returns the resulting ETag. Implementations must be safe for concurrent
// use; the engine calls UploadPart once per attempt, re-reading the range
// each time.
type PartTransport interface {
	UploadPart(ctx context.Context, part *FilePart, handle filehandle.Handle) (etag string, err error)
}

// HTTPTransport uploads parts with a raw PUT to their pre-signed URL. This is
// the default transport.
type HTTPTransport struct {
	httpClient *http.Client
	logger     log.Logger
}

// NewHTTPTransport creates the pre-signed URL transport. A nil client falls
// back to DefaultHTTPClient.
func NewHTTPTransport(httpClient *http.Client, logger log.Logger) *HTTPTransport {
	if httpClient == nil {
		httpClient = DefaultHTTPClient()
	}
	return &HTTPTransport{httpClient: httpClient, logger: logger}
}

// UploadPart PUTs the part's byte range to its pre-signed URL. The response
// must carry an ETag.
func (t *HTTPTransport) UploadPart(ctx context.Context, part *FilePart, handle filehandle.Handle) (string, error) {
	if part.UploadURL == "" {
		return "", fmt.Errorf("part %d of file %d has no upload URL", part.PartNumber, part.FileIndex)
	}

	body, err := handle.ReadRange(part.StartByte, part.EndByte)
	if err != nil {
		return "", fmt.Errorf("read range [%d, %d): %w", part.StartByte, part.EndByte, err)
	}
	defer func(body io.ReadCloser) {
		err := body.Close()
		if err != nil {
			t.logger.Printf(err.Error())
		}
	}(body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, part.UploadURL, body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.ContentLength = part.Size()

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer func(body io.ReadCloser) {
		err := body.Close()
		if err != nil {
			t.logger.Printf(err.Error())
		}
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", network.UnwrapResponse(resp)
	}

	etag := resp.Header.Get("ETag")
	if etag == "" {
		return "", fmt.Errorf("no ETag in response")
	}

	return etag, nil
}
