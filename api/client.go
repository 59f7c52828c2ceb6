package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gammadia/workloads/reconciler"
	"github.com/gammadia/workloads/scheduler"
	"github.com/gammadia/workloads/workload"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Error is an unsuccessful response of the API.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.StatusCode)
}

// Unwrap maps the response onto the domain errors, so callers can use errors.Is.
func (e *Error) Unwrap() error {
	switch {
	case e.Message == OutstandingGrowthMessage:
		return scheduler.ErrOutstandingGrowth
	case e.StatusCode == http.StatusNotFound:
		return workload.ErrNotFound
	case e.StatusCode == http.StatusConflict:
		return workload.ErrConflict
	default:
		return nil
	}
}

type ClientConfig struct {
	Logger     *slog.Logger `json:"-"`
	HTTPClient *http.Client `json:"-"`

	Endpoint string        `json:"endpoint"`
	Timeout  time.Duration `json:"timeout"`
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Logger:   slog.Default(),
		Endpoint: "http://localhost:8774",
		Timeout:  30 * time.Second,
	}
}

func ValidateClientConfig(config ClientConfig) error {
	if config.Logger == nil {
		return fmt.Errorf("logger must be set")
	}
	if _, err := url.ParseRequestURI(config.Endpoint); err != nil {
		return fmt.Errorf("endpoint must be a valid URL: %w", err)
	}
	if config.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	return nil
}

// Client talks to the os-workloads API on behalf of a project.
type Client struct {
	config      ClientConfig
	credentials *CredentialCache
	http        *http.Client
	log         *slog.Logger
}

// Client implements reconciler.OrderSource
var _ reconciler.OrderSource = (*Client)(nil)

func NewClient(credentials *CredentialCache, config ClientConfig) (*Client, error) {
	if err := ValidateClientConfig(config); err != nil {
		return nil, fmt.Errorf("invalid client config: %w", err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	return &Client{
		config:      config,
		credentials: credentials,
		http:        httpClient,
		log:         config.Logger.With("component", "api-client", "endpoint", config.Endpoint),
	}, nil
}

func (c *Client) RegisterWorkload(ctx context.Context, name string, priority int) (workload.Workload, error) {
	var out WorkloadEnvelope
	err := c.do(ctx, http.MethodPost, WorkloadsPath, RegisterRequest{Workload: NewWorkload{Name: name, Priority: priority}}, &out)
	return out.Workload, err
}

func (c *Client) ListWorkloads(ctx context.Context) ([]scheduler.Summary, error) {
	var out WorkloadList
	err := c.do(ctx, http.MethodGet, WorkloadsPath, nil, &out)
	return out.Workloads, err
}

// Inspect returns the open orders of a workload. With checkin, the workload records that its agent
// is alive.
func (c *Client) Inspect(ctx context.Context, id int64, checkin bool) ([]OrderView, error) {
	path := workloadPath(id)
	if checkin {
		path += "?checkin=true"
	}

	var out OrderList
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Orders, err
}

func (c *Client) Update(ctx context.Context, id int64, req scheduler.UpdateRequest) (scheduler.UpdateResult, error) {
	var out scheduler.UpdateResult
	err := c.do(ctx, http.MethodPut, workloadPath(id), req, &out)
	return out, err
}

// Order requests a change of capacity. Negative instances shrink the workload.
func (c *Client) Order(ctx context.Context, id int64, instances, memoryMB int) (workload.Order, error) {
	result, err := c.Update(ctx, id, scheduler.UpdateRequest{
		Orders: []scheduler.OrderChange{{
			Instances: lo.ToPtr(instances),
			MemoryMB:  lo.Ternary(memoryMB > 0, lo.ToPtr(memoryMB), nil),
		}},
	})
	if err != nil {
		return workload.Order{}, err
	}
	if len(result.Orders) == 0 {
		return workload.Order{}, errors.New("no order returned by the server")
	}
	return result.Orders[0], nil
}

func (c *Client) DeleteWorkload(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, workloadPath(id), nil, nil)
}

func (c *Client) OpenOrders(ctx context.Context, workloadID int64) ([]workload.Order, error) {
	views, err := c.Inspect(ctx, workloadID, true)
	if err != nil {
		return nil, err
	}
	return lo.Map(views, func(v OrderView, _ int) workload.Order {
		return workload.Order{
			ID:         v.ID,
			WorkloadID: workloadID,
			Instances:  v.Instances,
			MemoryMB:   v.MemoryMB,
			Status:     workload.OrderStatusOpen,
		}
	}), nil
}

func (c *Client) Acknowledge(ctx context.Context, workloadID, orderID int64, status workload.OrderStatus) error {
	_, err := c.Update(ctx, workloadID, scheduler.UpdateRequest{
		Orders: []scheduler.OrderChange{{ID: lo.ToPtr(orderID), Status: lo.ToPtr(status.String())}},
	})
	return err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	credential, err := c.credentials.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to get credentials: %w", err)
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimSuffix(c.config.Endpoint, "/")+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderAuthToken, credential.Token)
	req.Header.Set(HeaderProjectID, credential.ProjectID)
	req.Header.Set(HeaderRequestID, requestID)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusUnauthorized {
			c.credentials.Invalidate()
		}
		var failure Failure
		if err := json.NewDecoder(resp.Body).Decode(&failure); err != nil || failure.Message == "" {
			failure.Message = http.StatusText(resp.StatusCode)
		}
		c.log.Debug("Request failed", "method", method, "path", path, "status", resp.StatusCode, "request-id", requestID)
		return &Error{StatusCode: resp.StatusCode, Message: failure.Message}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func workloadPath(id int64) string {
	return WorkloadsPath + "/" + strconv.FormatInt(id, 10)
}
