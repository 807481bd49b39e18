// Package dataset talks to the dataset service that owns versioned dataset
// snapshots. The engine asks it to compute a snapshot's content hash and to
// stream the snapshot archive for upload to the object store.
package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

// Sentinel errors for dataset service failures.
var (
	ErrDatasetUnreachable = errors.New("dataset service unreachable")
	ErrDatasetTimeout     = errors.New("dataset service timeout")
	ErrSnapshotNotFound   = errors.New("snapshot not found")
	ErrDatasetError       = errors.New("dataset service error")
)

// Client is the interface for the dataset service.
type Client interface {
	// ExportSnapshot asks the service to make the snapshot exportable and
	// returns its content hash. The hash is stable across calls for the same
	// snapshot content.
	ExportSnapshot(ctx context.Context, datasetID, snapshotID string) (string, error)
	// OpenSnapshot streams the snapshot archive. The caller must close the
	// returned reader. Size is -1 when the service does not report one.
	OpenSnapshot(ctx context.Context, datasetID, snapshotID string) (io.ReadCloser, int64, error)
	Ready(ctx context.Context) error
}

// HTTPClient implements Client against the dataset service's HTTP API.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a new dataset service client.
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

type exportResponse struct {
	Hash string `json:"hash"`
}

func (c *HTTPClient) ExportSnapshot(ctx context.Context, datasetID, snapshotID string) (string, error) {
	u := fmt.Sprintf("%s/datasets/%s/snapshots/%s/export",
		c.baseURL, url.PathEscape(datasetID), url.PathEscape(snapshotID))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", classifyError(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", fmt.Errorf("%w: %s@%s", ErrSnapshotNotFound, datasetID, snapshotID)
	default:
		return "", fmt.Errorf("%w: export returned status %d", ErrDatasetError, resp.StatusCode)
	}

	var export exportResponse
	if err := json.NewDecoder(resp.Body).Decode(&export); err != nil {
		return "", fmt.Errorf("decoding export response: %w", err)
	}
	if export.Hash == "" {
		return "", fmt.Errorf("%w: export returned an empty hash", ErrDatasetError)
	}

	return export.Hash, nil
}

func (c *HTTPClient) OpenSnapshot(ctx context.Context, datasetID, snapshotID string) (io.ReadCloser, int64, error) {
	u := fmt.Sprintf("%s/datasets/%s/snapshots/%s/archive",
		c.baseURL, url.PathEscape(datasetID), url.PathEscape(snapshotID))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, 0, classifyError(err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, 0, fmt.Errorf("%w: %s@%s", ErrSnapshotNotFound, datasetID, snapshotID)
	default:
		resp.Body.Close()
		return nil, 0, fmt.Errorf("%w: archive returned status %d", ErrDatasetError, resp.StatusCode)
	}

	return resp.Body, resp.ContentLength, nil
}

func (c *HTTPClient) Ready(ctx context.Context) error {
	u := fmt.Sprintf("%s/ready", c.baseURL)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatasetUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: not ready (status %d)", ErrDatasetUnreachable, resp.StatusCode)
	}

	return nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrDatasetTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrDatasetTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrDatasetUnreachable, err)
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
