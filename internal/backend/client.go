package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// StatusError is a backend error response carried in the envelope. The HTTP
// status distinguishes retryable (5xx) from permanent (4xx) failures.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend error %d: %s", e.Status, e.Message)
}

// ErrNoIdentity is returned when no bearer token is configured or the
// configured token has expired. Callers should skip the sync pass rather
// than burn queue retries on it.
var ErrNoIdentity = errors.New("no valid caller identity")

// IsRetryable classifies an error from a backend call. Transport failures
// and 5xx responses are retryable; envelope errors with a 4xx status are
// permanent (a malformed payload will never start succeeding).
func IsRetryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status >= 500
	}
	return true
}

// Client talks to the remote readings API. Requests are paced by a rate
// limiter so a tight retry loop cannot hammer the backend.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewClient creates a backend client. token is the caller's bearer token;
// it may be empty, in which case Ready reports ErrNoIdentity.
func NewClient(baseURL, token string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(5), 10),
		logger:  logger,
	}
}

// Ready reports whether the client holds a usable caller identity. The
// token is parsed unverified (signature checking is the backend's job);
// only presence and expiry are checked here.
func (c *Client) Ready() error {
	if c.token == "" {
		return ErrNoIdentity
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(c.token, &claims); err != nil {
		return fmt.Errorf("%w: %v", ErrNoIdentity, err)
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return fmt.Errorf("%w: token expired at %s", ErrNoIdentity, claims.ExpiresAt)
	}
	return nil
}

// CreateReading pushes one reading and returns the backend's copy, which
// carries the backend-issued id.
func (c *Client) CreateReading(ctx context.Context, p ReadingPayload) (*Reading, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	data, err := c.do(ctx, http.MethodPost, "/api/readings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	var r Reading
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode created reading: %w", err)
	}
	return &r, nil
}

// ListReadings fetches the caller's records. since > 0 requests the
// incremental delta (unix ms); since == 0 requests the full list.
func (c *Client) ListReadings(ctx context.Context, since int64) ([]Reading, error) {
	path := "/api/readings"
	if since > 0 {
		path += "?since=" + strconv.FormatInt(since, 10)
	}
	data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var readings []Reading
	if err := json.Unmarshal(data, &readings); err != nil {
		return nil, fmt.Errorf("decode readings: %w", err)
	}
	return readings, nil
}

func (c *Client) do(ctx context.Context, method, path string, body *bytes.Reader) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		// A body we can't parse from an erroring server is still a
		// transport-class failure.
		if resp.StatusCode >= 400 {
			return nil, &StatusError{Status: resp.StatusCode, Message: resp.Status}
		}
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if !env.Success {
		status := resp.StatusCode
		message := resp.Status
		if env.Error != nil {
			if env.Error.Status != 0 {
				status = env.Error.Status
			}
			message = env.Error.Message
		}
		return nil, &StatusError{Status: status, Message: message}
	}
	return env.Data, nil
}
