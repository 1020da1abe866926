// Package batchclient talks to a running face-batch server.
package batchclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"time"

	"github.com/kozaktomas/face-batch/internal/batch"
)

// Client is an HTTP client for the batch API.
type Client struct {
	parsedURL *url.URL
	http      *http.Client
}

// File is an image to upload.
type File struct {
	Name     string
	Data     []byte
	MIMEType string
}

// JobCreated is the server's answer to CreateJob.
type JobCreated struct {
	JobID           string    `json:"jobId"`
	TotalBatches    int       `json:"totalBatches"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
	SourceFaceCount int       `json:"sourceFaceCount"`
}

// APIError is a non-success response. Conflicts carry the job's progress.
type APIError struct {
	StatusCode      int    `json:"-"`
	Message         string `json:"error"`
	CompletedChunks int    `json:"completedChunks"`
	TotalChunks     int    `json:"totalChunks"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

// IsConflict reports whether err is a 409 response: the chunk was already
// folded or the job has finished.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

// New creates a client for the server at baseURL.
func New(baseURL string, timeout time.Duration) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be http or https", baseURL)
	}
	return &Client{
		parsedURL: parsed,
		http:      &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) resolveURL(segments ...string) string {
	return c.parsedURL.JoinPath(append([]string{"api", "v1"}, segments...)...).String()
}

// multipartBody encodes fields and files as multipart/form-data.
func multipartBody(fields map[string]string, files map[string][]File) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("could not write field %s: %w", key, err)
		}
	}
	for field, list := range files {
		for _, f := range list {
			header := make(textproto.MIMEHeader)
			header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, f.Name))
			header.Set("Content-Type", f.MIMEType)
			part, err := writer.CreatePart(header)
			if err != nil {
				return nil, "", fmt.Errorf("could not create part for %s: %w", f.Name, err)
			}
			if _, err := part.Write(f.Data); err != nil {
				return nil, "", fmt.Errorf("could not write %s: %w", f.Name, err)
			}
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("could not close multipart body: %w", err)
	}
	return &body, writer.FormDataContentType(), nil
}

// doRequestJSON sends a request and decodes a JSON response on one of the
// expected statuses; any other status becomes an *APIError.
func doRequestJSON[T any](ctx context.Context, c *Client, method, endpoint string, body io.Reader, contentType string, expectedStatuses ...int) (*T, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read response body: %w", err)
	}

	expected := false
	for _, status := range expectedStatuses {
		if resp.StatusCode == status {
			expected = true
			break
		}
	}
	if !expected {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = string(data)
		}
		return nil, apiErr
	}

	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("could not unmarshal response: %w", err)
	}
	return &result, nil
}

// CreateJob registers a chunked job for source.
func (c *Client) CreateJob(ctx context.Context, userID string, source File, totalChunks int, metadata map[string]string) (*JobCreated, error) {
	fields := map[string]string{
		"userId":      userID,
		"totalChunks": strconv.Itoa(totalChunks),
	}
	for key, value := range metadata {
		fields["metadata."+key] = value
	}

	body, contentType, err := multipartBody(fields, map[string][]File{"source": {source}})
	if err != nil {
		return nil, err
	}
	return doRequestJSON[JobCreated](ctx, c, http.MethodPost, c.resolveURL("batch-job"), body, contentType, http.StatusCreated)
}

// SubmitChunk uploads one chunk of targets. A negative index is not sent.
func (c *Client) SubmitChunk(ctx context.Context, jobID string, index int, targets []File) (*batch.ChunkResponse, error) {
	fields := map[string]string{"jobId": jobID}
	if index >= 0 {
		fields["chunkIndex"] = strconv.Itoa(index)
	}

	body, contentType, err := multipartBody(fields, map[string][]File{"targets": targets})
	if err != nil {
		return nil, err
	}
	return doRequestJSON[batch.ChunkResponse](ctx, c, http.MethodPost, c.resolveURL("batch-compare"), body, contentType, http.StatusOK)
}

// Compare runs a synchronous batch without creating a job.
func (c *Client) Compare(ctx context.Context, source File, targets []File) (*batch.ChunkResponse, error) {
	body, contentType, err := multipartBody(nil, map[string][]File{"source": {source}, "targets": targets})
	if err != nil {
		return nil, err
	}
	return doRequestJSON[batch.ChunkResponse](ctx, c, http.MethodPost, c.resolveURL("batch-compare"), body, contentType, http.StatusOK)
}

// Status fetches the current report of a job.
func (c *Client) Status(ctx context.Context, jobID string) (*batch.StatusReport, error) {
	return doRequestJSON[batch.StatusReport](ctx, c, http.MethodGet, c.resolveURL("batch-status", jobID), nil, "", http.StatusOK)
}
