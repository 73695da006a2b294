// Package cli implements the REST client shared by placectl and hostagent.
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/limiquantix/placement/internal/domain"
	"github.com/limiquantix/placement/internal/placement"
)

// APIError is a non-2xx response from the placement service.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// Client talks to the placement REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// HostList is the response of the host listing.
type HostList struct {
	Hosts []*domain.Host `json:"hosts"`
	Total int            `json:"total"`
}

// AllocationList is the response of the allocation listing.
type AllocationList struct {
	Allocations []*domain.Allocation `json:"allocations"`
	Total       int                  `json:"total"`
}

type registerHostRequest struct {
	HostID   string            `json:"host_id"`
	CPUUsage float64           `json:"cpu_usage"`
	RAMUsage float64           `json:"ram_usage"`
	Status   domain.HostStatus `json:"status,omitempty"`
}

type updateHostRequest struct {
	CPUUsage float64           `json:"cpu_usage"`
	RAMUsage float64           `json:"ram_usage"`
	Status   domain.HostStatus `json:"status"`
}

type allocateRequest struct {
	VMID   string `json:"vm_id"`
	Policy string `json:"policy,omitempty"`
}

func (c *Client) Health(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListHosts lists registered hosts. activeOnly restricts the result to
// hosts that can receive VMs.
func (c *Client) ListHosts(ctx context.Context, activeOnly bool) (*HostList, error) {
	path := "/api/v1/hosts"
	if activeOnly {
		path += "?status=" + string(domain.HostStatusActive)
	}

	var out HostList
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetHost(ctx context.Context, id string) (*domain.Host, error) {
	var out domain.Host
	if err := c.do(ctx, http.MethodGet, "/api/v1/hosts/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RegisterHost(ctx context.Context, id string, cpu, ram float64, status domain.HostStatus) (*domain.Host, error) {
	req := registerHostRequest{HostID: id, CPUUsage: cpu, RAMUsage: ram, Status: status}

	var out domain.Host
	if err := c.do(ctx, http.MethodPost, "/api/v1/hosts", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateHost(ctx context.Context, id string, cpu, ram float64, status domain.HostStatus) (*domain.Host, error) {
	req := updateHostRequest{CPUUsage: cpu, RAMUsage: ram, Status: status}

	var out domain.Host
	if err := c.do(ctx, http.MethodPut, "/api/v1/hosts/"+url.PathEscape(id), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RemoveHost(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/hosts/"+url.PathEscape(id), nil, nil)
}

// Allocate places vmID. An empty policy uses the server default.
func (c *Client) Allocate(ctx context.Context, vmID, policy string) (*placement.AllocationResult, error) {
	var out placement.AllocationResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/allocations", allocateRequest{VMID: vmID, Policy: policy}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListAllocations(ctx context.Context, hostID string) (*AllocationList, error) {
	path := "/api/v1/allocations"
	if hostID != "" {
		path += "?host_id=" + url.QueryEscape(hostID)
	}

	var out AllocationList
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetAllocation(ctx context.Context, vmID string) (*domain.Allocation, error) {
	var out domain.Allocation
	if err := c.do(ctx, http.MethodGet, "/api/v1/allocations/"+url.PathEscape(vmID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Code = ""
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
