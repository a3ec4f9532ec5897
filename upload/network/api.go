// Package network implements the object-storage backend contract: sequence
// initialization, sequence completion and the retry policy shared by both.
package network

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/hashicorp/go-retryablehttp"
)

// Client talks to the upload backend. Request-level retries follow the
// taxonomy in errors.go; callers interpret the final error.
type Client struct {
	httpClient  *retryablehttp.Client
	baseURL     string
	accessToken string
	logger      log.Logger
}

// NewClient creates a backend client with the default retry policy.
func NewClient(baseURL, accessToken string, logger log.Logger) *Client {
	return NewClientWith(NewRetryingClient(logger), baseURL, accessToken, logger)
}

// NewClientWith creates a backend client using a caller-provided HTTP client,
// mainly so tests can shrink the retry delays.
func NewClientWith(httpClient *retryablehttp.Client, baseURL, accessToken string, logger log.Logger) *Client {
	return &Client{
		httpClient:  httpClient,
		baseURL:     baseURL,
		accessToken: accessToken,
		logger:      logger,
	}
}

// InitializeUpload registers one sequence with the backend and returns the
// upload ID plus per-file pre-signed part targets.
func (c *Client) InitializeUpload(ctx context.Context, request InitializeUploadRequest) (*InitializeUploadResponse, error) {
	url := fmt.Sprintf("%s/uploads", c.baseURL)

	var response InitializeUploadResponse
	if err := c.postJSON(ctx, url, request, &response); err != nil {
		return nil, err
	}

	if len(response.Files) != len(request.Files) {
		return nil, fmt.Errorf("file count mismatch: declared %d files, backend returned %d",
			len(request.Files), len(response.Files))
	}

	return &response, nil
}

// CompleteUpload finalizes one sequence. Files cancelled by the user must be
// reported with an empty parts list so the backend discards them.
func (c *Client) CompleteUpload(ctx context.Context, uploadID string, request CompleteUploadRequest) (*CompleteUploadResponse, error) {
	url := fmt.Sprintf("%s/uploads/%s/complete", c.baseURL, uploadID)

	var response CompleteUploadResponse
	if err := c.postJSON(ctx, url, request, &response); err != nil {
		return nil, err
	}

	return &response, nil
}

func (c *Client) postJSON(ctx context.Context, url string, request interface{}, response interface{}) error {
	body, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.accessToken))
	req.Header.Set("Content-type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func(body io.ReadCloser) {
		err := body.Close()
		if err != nil {
			c.logger.Printf(err.Error())
		}
	}(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return UnwrapResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}
