package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// ProcessingStatus is the batch lifecycle state. Transitions are monotonic:
// in_progress -> canceling -> ended, or in_progress -> ended.
type ProcessingStatus string

const (
	BatchInProgress ProcessingStatus = "in_progress"
	BatchCanceling  ProcessingStatus = "canceling"
	BatchEnded      ProcessingStatus = "ended"
)

// RequestCounts tracks per-outcome totals. The counts always sum to the
// number of submitted requests.
type RequestCounts struct {
	Processing int `json:"processing"`
	Succeeded  int `json:"succeeded"`
	Errored    int `json:"errored"`
	Canceled   int `json:"canceled"`
	Expired    int `json:"expired"`
}

// Total returns the sum over all outcome buckets.
func (rc RequestCounts) Total() int {
	return rc.Processing + rc.Succeeded + rc.Errored + rc.Canceled + rc.Expired
}

// Batch is the batch job resource as returned by the service.
type Batch struct {
	ID                string           `json:"id"`
	Type              string           `json:"type"`
	ProcessingStatus  ProcessingStatus `json:"processing_status"`
	RequestCounts     RequestCounts    `json:"request_counts"`
	ResultsURL        string           `json:"results_url,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	ExpiresAt         time.Time        `json:"expires_at"`
	EndedAt           *time.Time       `json:"ended_at,omitempty"`
	CancelInitiatedAt *time.Time       `json:"cancel_initiated_at,omitempty"`
	ArchivedAt        *time.Time       `json:"archived_at,omitempty"`
}

// BatchRequest is one independent request inside a job, keyed by a unique
// custom id.
type BatchRequest struct {
	CustomID string         `json:"custom_id"`
	Params   MessageRequest `json:"params"`
}

// BatchResultType is the terminal status of one request inside a job.
type BatchResultType string

const (
	BatchResultSucceeded BatchResultType = "succeeded"
	BatchResultErrored   BatchResultType = "errored"
	BatchResultCanceled  BatchResultType = "canceled"
	BatchResultExpired   BatchResultType = "expired"
)

// BatchOutcome is the per-request result envelope.
type BatchOutcome struct {
	Type    BatchResultType  `json:"type"`
	Message *MessageResponse `json:"message,omitempty"`
	Error   *ErrorResponse   `json:"error,omitempty"`
}

// BatchResult is one line of the results artifact. Results are not in
// submission order; consumers must key on CustomID.
type BatchResult struct {
	CustomID string       `json:"custom_id"`
	Result   BatchOutcome `json:"result"`
}

type createBatchRequest struct {
	Requests []BatchRequest `json:"requests"`
}

// CreateBatch submits a set of independent requests as one asynchronous job.
func (c *Client) CreateBatch(ctx context.Context, requests []BatchRequest) (*Batch, error) {
	resp, err := c.post(ctx, "/v1/messages/batches", createBatchRequest{Requests: requests})
	if err != nil {
		return nil, err
	}
	defer func(body io.ReadCloser) {
		_ = body.Close()
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	return decodeBatch(resp.Body)
}

// GetBatch fetches the current state of a job.
func (c *Client) GetBatch(ctx context.Context, batchID string) (*Batch, error) {
	resp, err := c.get(ctx, "/v1/messages/batches/"+batchID)
	if err != nil {
		return nil, err
	}
	defer func(body io.ReadCloser) {
		_ = body.Close()
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	return decodeBatch(resp.Body)
}

// CancelBatch requests cancellation. This is advisory: requests already
// dispatched may still complete and report succeeded or errored.
func (c *Client) CancelBatch(ctx context.Context, batchID string) (*Batch, error) {
	resp, err := c.post(ctx, fmt.Sprintf("/v1/messages/batches/%s/cancel", batchID), struct{}{})
	if err != nil {
		return nil, err
	}
	defer func(body io.ReadCloser) {
		_ = body.Close()
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	return decodeBatch(resp.Body)
}

// OpenBatchResults opens the line-delimited results artifact of an ended job.
// The caller owns the returned reader.
func (c *Client) OpenBatchResults(ctx context.Context, batch *Batch) (io.ReadCloser, error) {
	if batch.ResultsURL == "" {
		return nil, errors.New("batch has no results URL")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, batch.ResultsURL, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer func(body io.ReadCloser) {
			_ = body.Close()
		}(resp.Body)
		return nil, decodeError(resp)
	}

	return resp.Body, nil
}

func decodeBatch(r io.Reader) (*Batch, error) {
	respBody, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var batch Batch
	if err := json.Unmarshal(respBody, &batch); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal batch resource")
	}
	return &batch, nil
}
