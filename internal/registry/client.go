package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/saviobatista/flight-registrar/internal/types"
)

const (
	defaultTokenTTL = 24 * time.Hour
	defaultTimeout  = 15 * time.Second
)

// ErrNoTelemetrySink is returned by the Send* methods when telemetry has nowhere to go
var ErrNoTelemetrySink = errors.New("telemetry sink not configured")

// APIError is returned for non-success responses from the registration service
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("registry returned %d: %s", e.StatusCode, e.Message)
}

// TokenStore persists the bearer token issued on login
type TokenStore interface {
	GetToken(ctx context.Context) (string, error)
	StoreToken(ctx context.Context, token string, ttl time.Duration) error
}

// TelemetrySink receives telemetry samples for transmission
type TelemetrySink interface {
	PublishTelemetry(t *types.Telemetry) error
}

// Client talks to the flight-registration HTTP API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	tokens     TokenStore
	sink       TelemetrySink
	now        func() time.Time
}

// New creates a new registration client. A nil TokenStore keeps the token in memory.
func New(baseURL, apiKey string, tokens TokenStore, sink TelemetrySink) *Client {
	if tokens == nil {
		tokens = &MemoryTokenStore{}
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
		tokens:     tokens,
		sink:       sink,
		now:        time.Now,
	}
}

// NewWithHTTPClient creates a client with a custom http.Client (useful for testing)
func NewWithHTTPClient(baseURL, apiKey string, httpClient *http.Client, tokens TokenStore, sink TelemetrySink) *Client {
	c := New(baseURL, apiKey, tokens, sink)
	c.httpClient = httpClient
	return c
}

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type failure struct {
	Message string `json:"message"`
}

type tokenResponse struct {
	IDToken   string `json:"id_token"`
	ExpiresIn int64  `json:"expires_in"`
}

// IsAuthenticated reports whether a login token is currently cached
func (c *Client) IsAuthenticated(ctx context.Context) bool {
	token, err := c.tokens.GetToken(ctx)
	if err != nil {
		log.Printf("Warning: Failed to read auth token: %v", err)
		return false
	}
	return token != ""
}

// PerformAnonymousLogin obtains a token for a locally generated pilot identifier
func (c *Client) PerformAnonymousLogin(ctx context.Context, pilotID string) error {
	var resp tokenResponse
	body := map[string]string{"user_id": pilotID}
	if err := c.do(ctx, http.MethodPost, "/auth/v1/anonymous/token", body, false, &resp); err != nil {
		return fmt.Errorf("failed to perform anonymous login: %w", err)
	}
	if resp.IDToken == "" {
		return fmt.Errorf("failed to perform anonymous login: empty token")
	}

	ttl := defaultTokenTTL
	if resp.ExpiresIn > 0 {
		ttl = time.Duration(resp.ExpiresIn) * time.Second
	}
	if err := c.tokens.StoreToken(ctx, resp.IDToken, ttl); err != nil {
		return fmt.Errorf("failed to store auth token: %w", err)
	}
	return nil
}

// ListAircraftModels returns the models registered for a manufacturer
func (c *Client) ListAircraftModels(ctx context.Context, manufacturerID string) ([]types.AircraftModel, error) {
	path := "/aircraft/v2/model?manufacturer=" + url.QueryEscape(manufacturerID)
	var models []types.AircraftModel
	if err := c.do(ctx, http.MethodGet, path, nil, false, &models); err != nil {
		return nil, fmt.Errorf("failed to list aircraft models: %w", err)
	}
	return models, nil
}

// CreateAircraft registers an aircraft for the authenticated pilot
func (c *Client) CreateAircraft(ctx context.Context, aircraft *types.Aircraft) (*types.Aircraft, error) {
	body := map[string]string{
		"nickname": aircraft.Nickname,
		"model_id": aircraft.Model.ID,
	}
	var created types.Aircraft
	if err := c.do(ctx, http.MethodPost, "/pilot/v2/aircraft", body, true, &created); err != nil {
		return nil, fmt.Errorf("failed to create aircraft: %w", err)
	}
	return &created, nil
}

// CreateFlight submits a point flight
func (c *Client) CreateFlight(ctx context.Context, req *types.FlightRequest) (*types.FlightRecord, error) {
	var rec types.FlightRecord
	if err := c.do(ctx, http.MethodPost, "/flight/v2/point", req, true, &rec); err != nil {
		return nil, fmt.Errorf("failed to create flight: %w", err)
	}
	return &rec, nil
}

// EndFlight ends a flight immediately
func (c *Client) EndFlight(ctx context.Context, flightID string) (*types.FlightRecord, error) {
	var rec types.FlightRecord
	path := "/flight/v2/" + url.PathEscape(flightID) + "/end"
	if err := c.do(ctx, http.MethodPost, path, nil, true, &rec); err != nil {
		return nil, fmt.Errorf("failed to end flight %s: %w", flightID, err)
	}
	return &rec, nil
}

// SendPosition transmits a position sample
func (c *Client) SendPosition(ctx context.Context, flightID string, lat, lng, altitude, groundAltitude, heading float64) error {
	return c.send(&types.Telemetry{
		FlightID:       flightID,
		Kind:           types.TelemetryPosition,
		Latitude:       lat,
		Longitude:      lng,
		Altitude:       altitude,
		GroundAltitude: groundAltitude,
		Heading:        heading,
	})
}

// SendSpeed transmits a velocity sample
func (c *Client) SendSpeed(ctx context.Context, flightID string, vx, vy, vz float64) error {
	return c.send(&types.Telemetry{
		FlightID: flightID,
		Kind:     types.TelemetrySpeed,
		VX:       vx,
		VY:       vy,
		VZ:       vz,
	})
}

// SendAttitude transmits an attitude sample
func (c *Client) SendAttitude(ctx context.Context, flightID string, yaw, pitch, roll float64) error {
	return c.send(&types.Telemetry{
		FlightID: flightID,
		Kind:     types.TelemetryAttitude,
		Yaw:      yaw,
		Pitch:    pitch,
		Roll:     roll,
	})
}

func (c *Client) send(t *types.Telemetry) error {
	if c.sink == nil {
		return ErrNoTelemetrySink
	}
	t.Timestamp = c.now().UTC()
	if err := c.sink.PublishTelemetry(t); err != nil {
		return fmt.Errorf("failed to send %s telemetry: %w", t.Kind, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, auth bool, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if auth {
		token, err := c.tokens.GetToken(ctx)
		if err != nil {
			return fmt.Errorf("failed to read auth token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var env envelope
	if len(data) > 0 {
		if err := json.Unmarshal(data, &env); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || (env.Status != "" && env.Status != "success") {
		msg := http.StatusText(resp.StatusCode)
		var f failure
		if len(env.Data) > 0 && json.Unmarshal(env.Data, &f) == nil && f.Message != "" {
			msg = f.Message
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
	}
	return nil
}

// MemoryTokenStore keeps the token in process memory
type MemoryTokenStore struct {
	mu      sync.Mutex
	token   string
	expires time.Time
}

// GetToken returns the cached token, or "" once it has expired
func (m *MemoryTokenStore) GetToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token != "" && !m.expires.IsZero() && time.Now().After(m.expires) {
		m.token = ""
	}
	return m.token, nil
}

// StoreToken caches a token until ttl elapses
func (m *MemoryTokenStore) StoreToken(ctx context.Context, token string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	m.expires = time.Time{}
	if ttl > 0 {
		m.expires = time.Now().Add(ttl)
	}
	return nil
}
