package cloudapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"jido/internal/logging"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// DefaultBaseURL is the provider REST endpoint
const DefaultBaseURL = "https://api.hetzner.cloud/v1"

// Client is the provider API surface the orchestrators depend on
type Client interface {
	CreateServer(ctx context.Context, opts CreateServerOpts) (*Server, error)
	GetServer(ctx context.Context, id int64) (*Server, error)
	DeleteServer(ctx context.Context, id int64) error
	ListServers(ctx context.Context, labelSelector string) ([]Server, error)

	CreateSSHKey(ctx context.Context, name, publicKey string, labels map[string]string) (*SSHKey, error)
	SSHKeyByName(ctx context.Context, name string) (*SSHKey, error)
	DeleteSSHKey(ctx context.Context, id int64) error
}

// HTTPClient talks to the provider REST API. Transient transport failures,
// 5xx responses and rate limits are retried internally with exponential
// backoff; everything else surfaces immediately as an APIError.
type HTTPClient struct {
	baseURL string
	token   string
	http    *retryablehttp.Client
}

// Option customizes an HTTPClient
type Option func(*HTTPClient)

// WithBaseURL points the client at a non-default API endpoint
func WithBaseURL(baseURL string) Option {
	return func(c *HTTPClient) {
		c.baseURL = baseURL
	}
}

// WithRetryWait overrides the retry backoff bounds
func WithRetryWait(min, max time.Duration) Option {
	return func(c *HTTPClient) {
		c.http.RetryWaitMin = min
		c.http.RetryWaitMax = max
	}
}

// New creates an HTTPClient authenticating with the given bearer token
func New(token string, opts ...Option) *HTTPClient {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 4
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 10 * time.Second
	rc.Logger = nil

	c := &HTTPClient{
		baseURL: DefaultBaseURL,
		token:   token,
		http:    rc,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateServer creates a compute instance
func (c *HTTPClient) CreateServer(ctx context.Context, opts CreateServerOpts) (*Server, error) {
	req := createServerRequest{
		Name:       opts.Name,
		ServerType: opts.ServerType,
		Image:      opts.Image,
		Location:   opts.Location,
		SSHKeys:    opts.SSHKeys,
		Labels:     opts.Labels,
		UserData:   opts.UserData,
	}
	var env serverEnvelope
	if err := c.do(ctx, http.MethodPost, "/servers", nil, req, &env); err != nil {
		return nil, err
	}
	server := env.Server.toServer()
	return &server, nil
}

// GetServer fetches a single instance by id
func (c *HTTPClient) GetServer(ctx context.Context, id int64) (*Server, error) {
	var env serverEnvelope
	if err := c.do(ctx, http.MethodGet, "/servers/"+strconv.FormatInt(id, 10), nil, nil, &env); err != nil {
		return nil, err
	}
	server := env.Server.toServer()
	return &server, nil
}

// DeleteServer deletes an instance by id
func (c *HTTPClient) DeleteServer(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, "/servers/"+strconv.FormatInt(id, 10), nil, nil, nil)
}

// ListServers lists instances matching a label selector. An empty selector
// lists everything in the project.
func (c *HTTPClient) ListServers(ctx context.Context, labelSelector string) ([]Server, error) {
	query := url.Values{}
	if labelSelector != "" {
		query.Set("label_selector", labelSelector)
	}
	var env serverListEnvelope
	if err := c.do(ctx, http.MethodGet, "/servers", query, nil, &env); err != nil {
		return nil, err
	}
	servers := make([]Server, 0, len(env.Servers))
	for _, w := range env.Servers {
		servers = append(servers, w.toServer())
	}
	return servers, nil
}

// CreateSSHKey registers a public key under the given name
func (c *HTTPClient) CreateSSHKey(ctx context.Context, name, publicKey string, labels map[string]string) (*SSHKey, error) {
	req := createSSHKeyRequest{Name: name, PublicKey: publicKey, Labels: labels}
	var env sshKeyEnvelope
	if err := c.do(ctx, http.MethodPost, "/ssh_keys", nil, req, &env); err != nil {
		return nil, err
	}
	key := env.SSHKey.toSSHKey()
	return &key, nil
}

// SSHKeyByName looks up a key via a name-filtered list query. It returns
// (nil, nil) when no key carries the name.
func (c *HTTPClient) SSHKeyByName(ctx context.Context, name string) (*SSHKey, error) {
	query := url.Values{}
	query.Set("name", name)
	var env sshKeyListEnvelope
	if err := c.do(ctx, http.MethodGet, "/ssh_keys", query, nil, &env); err != nil {
		return nil, err
	}
	if len(env.SSHKeys) == 0 {
		return nil, nil
	}
	key := env.SSHKeys[0].toSSHKey()
	return &key, nil
}

// DeleteSSHKey removes a registered key by id
func (c *HTTPClient) DeleteSSHKey(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, "/ssh_keys/"+strconv.FormatInt(id, 10), nil, nil, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, payload, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &APIError{Kind: ErrTransport, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &APIError{Kind: ErrTransport, Err: err}
	}

	if resp.StatusCode >= 400 {
		apiErr := classify(resp.StatusCode, string(data))
		logging.Logger().Debug("cloud API request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("kind", string(apiErr.Kind)),
			zap.String("body", logging.Truncate(string(data))))
		return apiErr
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response body: %w", err)
		}
	}
	return nil
}
