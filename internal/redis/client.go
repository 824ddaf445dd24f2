package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/saviobatista/flight-registrar/internal/types"
)

const (
	KeyToken          = "auth:token"
	KeySession        = "session:current"
	keyAircraftPrefix = "aircraft:"

	aircraftTTL = 30 * 24 * time.Hour
)

// RedisClientInterface defines the Redis operations used by our client
type RedisClientInterface interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// Client keeps the registry token, the resolved aircraft and the current
// flight session in Redis
type Client struct {
	client RedisClientInterface
}

// New creates a new Redis client
func New(addr string) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{client: client}, nil
}

// NewWithClient creates a new Redis client with a custom RedisClientInterface (useful for testing)
func NewWithClient(client RedisClientInterface) *Client {
	return &Client{client: client}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// getData retrieves data from Redis and unmarshals it into the target. It
// reports false when the key does not exist.
func (c *Client) getData(ctx context.Context, key string, target interface{}, dataType string) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s data: %w", dataType, err)
	}

	if err := json.Unmarshal(data, target); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s data: %w", dataType, err)
	}
	return true, nil
}

func (c *Client) setData(ctx context.Context, key string, value interface{}, ttl time.Duration, dataType string) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s data: %w", dataType, err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store %s data: %w", dataType, err)
	}
	return nil
}

// GetToken returns the stored registry token, or "" when none is stored
func (c *Client) GetToken(ctx context.Context) (string, error) {
	token, err := c.client.Get(ctx, KeyToken).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get token: %w", err)
	}
	return token, nil
}

// StoreToken stores the registry token until it expires
func (c *Client) StoreToken(ctx context.Context, token string, ttl time.Duration) error {
	if err := c.client.Set(ctx, KeyToken, token, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	return nil
}

func aircraftKey(name string) string {
	return keyAircraftPrefix + strings.ToLower(name)
}

// GetAircraft returns the cached aircraft for a model name, or nil
func (c *Client) GetAircraft(ctx context.Context, name string) (*types.Aircraft, error) {
	var aircraft types.Aircraft
	found, err := c.getData(ctx, aircraftKey(name), &aircraft, "aircraft")
	if err != nil || !found {
		return nil, err
	}
	return &aircraft, nil
}

// StoreAircraft caches an aircraft under its nickname
func (c *Client) StoreAircraft(ctx context.Context, aircraft *types.Aircraft) error {
	return c.setData(ctx, aircraftKey(aircraft.Nickname), aircraft, aircraftTTL, "aircraft")
}

// GetSession returns the stored flight session, or nil
func (c *Client) GetSession(ctx context.Context) (*types.FlightSession, error) {
	var session types.FlightSession
	found, err := c.getData(ctx, KeySession, &session, "session")
	if err != nil || !found {
		return nil, err
	}
	return &session, nil
}

// StoreSession stores the current flight session without expiry
func (c *Client) StoreSession(ctx context.Context, session *types.FlightSession) error {
	return c.setData(ctx, KeySession, session, 0, "session")
}

// DeleteSession removes the current flight session
func (c *Client) DeleteSession(ctx context.Context) error {
	if err := c.client.Del(ctx, KeySession).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
