package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const defaultAPIVersion = "2023-06-01"

// Client talks to the inference service. Transport-level concerns (proxies,
// retries, TLS) belong to the injected http.Client.
type Client struct {
	httpClient *http.Client
	apiKey     string
	APIVersion string
	BaseURL    string
}

type ClientOption func(*Client)

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithAPIVersion(version string) ClientOption {
	return func(c *Client) {
		c.APIVersion = version
	}
}

// NewClient initializes and returns a new API client.
func NewClient(apiKey string, baseURL string, options ...ClientOption) *Client {
	ret := &Client{
		httpClient: &http.Client{},
		apiKey:     apiKey,
		BaseURL:    baseURL,
		APIVersion: defaultAPIVersion,
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", c.APIVersion)
	req.Header.Set("Content-Type", "application/json")
}

// post issues a JSON POST and returns the raw response. The caller owns the
// body.
func (c *Client) post(ctx context.Context, path string, payload interface{}) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	c.setHeaders(httpReq)

	return c.httpClient.Do(httpReq)
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(httpReq)

	return c.httpClient.Do(httpReq)
}

// decodeError drains the body of a non-2xx response into an *Error. The
// service error is returned verbatim; no retry happens at this layer.
func decodeError(resp *http.Response) error {
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read error response")
	}
	var errorResp ErrorResponse
	if err := json.Unmarshal(respBody, &errorResp); err != nil {
		return errors.Errorf("service returned status %d: %s", resp.StatusCode, string(respBody))
	}
	log.Debug().
		Int("status", resp.StatusCode).
		Str("error_type", string(errorResp.Error.Type)).
		Msg("service error response")
	return &errorResp.Error
}

// SendMessage sends a non-streaming message request and returns the response.
func (c *Client) SendMessage(ctx context.Context, req *MessageRequest) (*MessageResponse, error) {
	resp, err := c.post(ctx, "/v1/messages", req)
	if err != nil {
		return nil, err
	}
	defer func(body io.ReadCloser) {
		_ = body.Close()
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var messageResp MessageResponse
	if err := json.Unmarshal(respBody, &messageResp); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal message response")
	}

	return &messageResp, nil
}

// OpenMessageStream sends a streaming message request and returns the raw SSE
// body. Decoding into events is the streaming package's job.
func (c *Client) OpenMessageStream(ctx context.Context, req *MessageRequest) (io.ReadCloser, error) {
	streamed := *req
	streamed.Stream = true

	resp, err := c.post(ctx, "/v1/messages", &streamed)
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
