package bacnet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Default timeouts for gateway operations.
const (
	defaultDiscoveryTimeout = 10 * time.Second
	defaultRequestTimeout   = 5 * time.Second
)

// GatewayConfig configures the HTTP gateway transport.
type GatewayConfig struct {
	// URL is the base URL of the gateway service.
	URL string

	// DiscoveryTimeout is how long a Who-Is broadcast waits for replies.
	DiscoveryTimeout time.Duration

	// RequestTimeout bounds individual read round trips.
	RequestTimeout time.Duration
}

// GatewayClient implements Transport over the gateway's HTTP API.
//
// Thread Safety: all methods are safe for concurrent use.
type GatewayClient struct {
	url              string
	httpClient       *http.Client
	discoveryTimeout time.Duration
	requestTimeout   time.Duration
}

// NewGatewayClient creates a gateway transport. Zero-valued timeouts
// fall back to defaults.
func NewGatewayClient(cfg GatewayConfig) *GatewayClient {
	if cfg.DiscoveryTimeout <= 0 {
		cfg.DiscoveryTimeout = defaultDiscoveryTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	return &GatewayClient{
		url: strings.TrimRight(cfg.URL, "/"),
		// No client-level timeout: discovery holds its request open for
		// the whole broadcast window. Every call carries its own context
		// deadline instead.
		httpClient:       &http.Client{},
		discoveryTimeout: cfg.DiscoveryTimeout,
		requestTimeout:   cfg.RequestTimeout,
	}
}

// discoverRequest is the POST /api/discover body.
type discoverRequest struct {
	TimeoutSeconds float64 `json:"timeout_seconds"`
}

// discoverResponse is the POST /api/discover reply envelope.
type discoverResponse struct {
	Success bool               `json:"success"`
	Error   string             `json:"error,omitempty"`
	Devices []DiscoveredDevice `json:"devices"`
}

// BroadcastDiscover sends a Who-Is broadcast via the gateway and
// returns the devices that answered within the discovery window.
func (c *GatewayClient) BroadcastDiscover(ctx context.Context) ([]DiscoveredDevice, error) {
	// The HTTP deadline must outlive the broadcast window: the gateway
	// holds the request open while it collects I-Am replies.
	ctx, cancel := context.WithTimeout(ctx, c.discoveryTimeout+c.requestTimeout)
	defer cancel()

	body := discoverRequest{TimeoutSeconds: c.discoveryTimeout.Seconds()}

	var resp discoverResponse
	if err := c.postJSON(ctx, "/api/discover", body, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &ProtocolError{Operation: "discover", Reason: resp.Error}
	}

	return resp.Devices, nil
}

// readPointSpec is one entry of the POST /api/points/read body.
type readPointSpec struct {
	ObjectType string `json:"object_type"`
	Instance   int    `json:"instance"`
	Property   string `json:"property"`
}

// readBatchRequest is the POST /api/points/read body.
type readBatchRequest struct {
	DeviceID int             `json:"device_id"`
	Address  string          `json:"address"`
	Points   []readPointSpec `json:"points"`
}

// readPointResult is one entry of the POST /api/points/read reply.
type readPointResult struct {
	ObjectType string          `json:"object_type"`
	Instance   int             `json:"instance"`
	Property   string          `json:"property"`
	Value      json.RawMessage `json:"value"`
	Error      string          `json:"error,omitempty"`
}

// readBatchResponse is the POST /api/points/read reply envelope.
type readBatchResponse struct {
	Success bool              `json:"success"`
	Error   string            `json:"error,omitempty"`
	Results []readPointResult `json:"results"`
}

// ReadProperty reads one property of one object on a device.
func (c *GatewayClient) ReadProperty(ctx context.Context, deviceID int, addr string, req ReadRequest) (Value, error) {
	results, err := c.ReadBatch(ctx, deviceID, addr, []ReadRequest{req})
	if err != nil {
		return Value{}, err
	}
	if len(results) != 1 {
		return Value{}, &ProtocolError{
			DeviceID:  deviceID,
			Operation: "readProperty",
			Reason:    fmt.Sprintf("expected 1 result, got %d", len(results)),
		}
	}
	if results[0].Err != nil {
		return Value{}, results[0].Err
	}
	return results[0].Value, nil
}

// ReadBatch reads several properties from one device in a single
// gateway round trip.
func (c *GatewayClient) ReadBatch(ctx context.Context, deviceID int, addr string, reqs []ReadRequest) ([]ReadResult, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	body := readBatchRequest{
		DeviceID: deviceID,
		Address:  addr,
		Points:   make([]readPointSpec, len(reqs)),
	}
	for i, req := range reqs {
		body.Points[i] = readPointSpec{
			ObjectType: req.Object.Type,
			Instance:   req.Object.Instance,
			Property:   req.Property,
		}
	}

	var resp readBatchResponse
	if err := c.postJSON(ctx, "/api/points/read", body, &resp); err != nil {
		return nil, decorateDeviceError(err, deviceID, addr)
	}
	if !resp.Success {
		// A device-level failure: the gateway could not talk to the
		// device at all, so no individual results exist.
		return nil, &ConnectivityError{
			DeviceID: deviceID,
			Addr:     addr,
			Err:      errors.New(resp.Error),
		}
	}

	results := make([]ReadResult, len(resp.Results))
	for i, r := range resp.Results {
		result := ReadResult{
			Object:   ObjectRef{Type: r.ObjectType, Instance: r.Instance},
			Property: r.Property,
		}
		if r.Error != "" {
			result.Err = &ProtocolError{
				DeviceID:  deviceID,
				Operation: "readProperty",
				Reason:    r.Error,
			}
		} else {
			value, err := decodeValue(r.Value)
			if err != nil {
				result.Err = &ProtocolError{
					DeviceID:  deviceID,
					Operation: "readProperty",
					Reason:    err.Error(),
				}
			} else {
				result.Value = value
			}
		}
		results[i] = result
	}

	return results, nil
}

// healthResponse is the GET /api/health reply envelope.
type healthResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
}

// HealthCheck verifies the gateway service is reachable.
func (c *GatewayClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/api/health", nil)
	if err != nil {
		return fmt.Errorf("gateway health check: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("gateway health check: decoding response: %w", err)
	}

	if resp.StatusCode != http.StatusOK || !health.Success {
		return fmt.Errorf("%w: status %d", ErrGatewayUnavailable, resp.StatusCode)
	}
	return nil
}

// postJSON sends a JSON POST and decodes the JSON reply.
func (c *GatewayClient) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain body to allow connection reuse
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%w: HTTP %d", ErrGatewayUnavailable, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// decorateDeviceError attaches device identity to transport-level
// failures so callers can attribute them.
func decorateDeviceError(err error, deviceID int, addr string) error {
	if errors.Is(err, ErrGatewayUnavailable) || errors.Is(err, ErrTimeout) {
		return &ConnectivityError{DeviceID: deviceID, Addr: addr, Err: err}
	}
	return err
}
