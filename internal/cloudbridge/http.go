package cloudbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

var (
	// ErrUnauthorized is returned when a call still fails authorization after one refresh
	ErrUnauthorized = errors.New("cloudbridge: unauthorized")
	// ErrDeviceNotFound is returned when the platform has no device by that name
	ErrDeviceNotFound = errors.New("cloudbridge: device not found")
)

// HTTPError is a non-2xx platform response
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("cloudbridge: http %d: %s", e.Status, e.Body)
}

// RESTClient calls the platform REST API with the session credential
type RESTClient struct {
	baseURL string
	http    *http.Client
	tokens  *TokenSource
}

// NewRESTClient creates a client for baseURL
func NewRESTClient(baseURL string, client *http.Client, tokens *TokenSource) *RESTClient {
	return &RESTClient{baseURL: baseURL, http: client, tokens: tokens}
}

// Do sends one API call and decodes the JSON response into out when non-nil.
// A 401 triggers one credential refresh and one retry; any other failure is
// returned as is.
func (c *RESTClient) Do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return err
		}
	}

	resp, err := c.send(ctx, method, path, payload)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		if err := c.tokens.RefreshNow(ctx); err != nil {
			return fmt.Errorf("%w: refresh: %w", ErrUnauthorized, err)
		}
		if resp, err = c.send(ctx, method, path, payload); err != nil {
			return err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			drain(resp)
			return ErrUnauthorized
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &HTTPError{Status: resp.StatusCode, Body: string(b)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *RESTClient) send(ctx context.Context, method, path string, payload []byte) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Authorization", "Bearer "+c.tokens.Token())
	return c.http.Do(req)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// DeviceUUID looks up the platform id of a device by name
func (c *RESTClient) DeviceUUID(ctx context.Context, name string) (string, error) {
	var out struct {
		ID struct {
			ID string `json:"id"`
		} `json:"id"`
	}
	err := c.Do(ctx, http.MethodGet, "/api/tenant/devices?deviceName="+url.QueryEscape(name), nil, &out)
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.Status == http.StatusNotFound {
		return "", fmt.Errorf("%w: %s", ErrDeviceNotFound, name)
	}
	if err != nil {
		return "", err
	}
	if out.ID.ID == "" {
		return "", fmt.Errorf("%w: %s", ErrDeviceNotFound, name)
	}
	return out.ID.ID, nil
}

// SaveServerAttributes stores server-scope attributes on a device
func (c *RESTClient) SaveServerAttributes(ctx context.Context, deviceUUID string, attrs map[string]any) error {
	return c.Do(ctx, http.MethodPost,
		"/api/plugins/telemetry/DEVICE/"+url.PathEscape(deviceUUID)+"/attributes/SERVER_SCOPE", attrs, nil)
}
