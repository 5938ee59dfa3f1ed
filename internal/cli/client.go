package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/soundcron/internal/api/dto"
)

// APIError is a non-2xx answer from the API service
type APIError struct {
	StatusCode int
	Message    string
	Reason     string
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s (%s, HTTP %d)", e.Message, e.Reason, e.StatusCode)
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.StatusCode)
}

// Client talks to the soundcron HTTP API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func serverPath(serverID string) string {
	return "/api/v1/servers/" + url.PathEscape(serverID) + "/soundcrons"
}

func cronPath(serverID, name string) string {
	return serverPath(serverID) + "/" + url.PathEscape(name)
}

func (c *Client) Create(ctx context.Context, serverID string, req dto.CreateSoundCronRequest) (*dto.SoundCronDTO, error) {
	var out dto.SoundCronDTO
	if err := c.do(ctx, http.MethodPost, serverPath(serverID), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Get(ctx context.Context, serverID, name string) (*dto.SoundCronDTO, error) {
	var out dto.SoundCronDTO
	if err := c.do(ctx, http.MethodGet, cronPath(serverID, name), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Delete(ctx context.Context, serverID, name string) error {
	return c.do(ctx, http.MethodDelete, cronPath(serverID, name), nil, nil)
}

// ListServer returns every soundcron of one server
func (c *Client) ListServer(ctx context.Context, serverID string) ([]dto.SoundCronDTO, error) {
	var out dto.ListSoundCronsResponse
	if err := c.do(ctx, http.MethodGet, serverPath(serverID), nil, &out); err != nil {
		return nil, err
	}
	return out.SoundCrons, nil
}

// ListPage returns one page of all soundcrons, ordered by job key
func (c *Client) ListPage(ctx context.Context, pageSize int, cursor string) (*dto.ListSoundCronsResponse, error) {
	q := url.Values{}
	if pageSize > 0 {
		q.Set("page_size", strconv.Itoa(pageSize))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	path := "/api/v1/soundcrons"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out dto.ListSoundCronsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Status(ctx context.Context, serverID, name string) (*dto.StatusResponse, error) {
	var out dto.StatusResponse
	if err := c.do(ctx, http.MethodGet, cronPath(serverID, name)+"/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Unassigned(ctx context.Context) ([]string, error) {
	var out dto.UnassignedResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/soundcrons/unassigned", nil, &out); err != nil {
		return nil, err
	}
	return out.Keys, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var errResp dto.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&errResp) == nil && errResp.Error != "" {
			apiErr.Message = errResp.Error
			apiErr.Reason = errResp.Reason
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
