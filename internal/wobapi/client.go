// Package wobapi is the HTTP/JSON client for the game server.
package wobapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/wobterm/internal/appconfig"
	"pkt.systems/wobterm/internal/session"
	"pkt.systems/wobterm/schema"
)

const (
	defaultTimeout = 90 * time.Second
	maxBlobBytes   = 16 << 20
	maxErrorBody   = 4 << 10
)

// Endpoints are the server paths, relative to the base URL.
type Endpoints struct {
	Events string
	Exec   string
	World  string
	Login  string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger pslog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.log = logger
		}
	}
}

// Client talks to one game server on behalf of one session.
type Client struct {
	baseURL    *url.URL
	endpoints  Endpoints
	httpClient *http.Client
	tokens     session.TokenSource
	log        pslog.Logger
}

// New creates a client for the configured server. tokens may be nil for
// unauthenticated use.
func New(cfg appconfig.ServerConfig, tokens session.TokenSource, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("wobapi: parse base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("wobapi: base url %q must include scheme and host", cfg.BaseURL)
	}
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if tokens == nil {
		tokens = &session.Memory{}
	}
	c := &Client{
		baseURL: parsed,
		endpoints: Endpoints{
			Events: cfg.EventsPath,
			Exec:   cfg.ExecPath,
			World:  cfg.WorldPath,
			Login:  cfg.LoginPath,
		},
		httpClient: &http.Client{Timeout: timeout},
		tokens:     tokens,
		log:        pslog.Ctx(context.Background()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Tokens returns the token source used for requests.
func (c *Client) Tokens() session.TokenSource {
	return c.tokens
}

// Events fetches events newer than or equal to since.
func (c *Client) Events(ctx context.Context, since int64) (schema.EventBatch, error) {
	query := url.Values{"since": {strconv.FormatInt(since, 10)}}
	req, err := c.newRequest(ctx, http.MethodGet, joinPath(c.endpoints.Events), query, nil)
	if err != nil {
		return schema.EventBatch{}, err
	}
	var batch schema.EventBatch
	if err := c.do(req, &batch); err != nil {
		return schema.EventBatch{}, err
	}
	return batch, nil
}

// Exec submits a command for execution, tagged so its echo can be recognized.
func (c *Client) Exec(ctx context.Context, command string, tag schema.Tag, admin bool) (schema.EventBatch, error) {
	query := url.Values{}
	if tag != "" {
		query.Set("tag", string(tag))
	}
	if admin {
		query.Set("admin", "true")
	}
	req, err := c.newRequest(ctx, http.MethodGet, joinPath(c.endpoints.Exec, url.PathEscape(command)), query, nil)
	if err != nil {
		return schema.EventBatch{}, err
	}
	var batch schema.EventBatch
	if err := c.do(req, &batch); err != nil {
		return schema.EventBatch{}, err
	}
	return batch, nil
}

// WobInfo fetches name, description, verbs and properties of a wob.
func (c *Client) WobInfo(ctx context.Context, id schema.WobID) (schema.WobInfo, error) {
	req, err := c.newRequest(ctx, http.MethodGet, joinPath(c.endpoints.World, strconv.FormatInt(int64(id), 10), "info"), nil, nil)
	if err != nil {
		return schema.WobInfo{}, err
	}
	var info schema.WobInfo
	if err := c.do(req, &info); err != nil {
		return schema.WobInfo{}, err
	}
	return info, nil
}

// Location fetches the player's current location and its visible contents.
func (c *Client) Location(ctx context.Context) (schema.Location, error) {
	req, err := c.newRequest(ctx, http.MethodGet, joinPath(c.endpoints.World, "location"), nil, nil)
	if err != nil {
		return schema.Location{}, err
	}
	var loc schema.Location
	if err := c.do(req, &loc); err != nil {
		return schema.Location{}, err
	}
	return loc, nil
}

// Property fetches a binary property of a wob.
func (c *Client) Property(ctx context.Context, id schema.WobID, name string) (schema.Blob, error) {
	req, err := c.newRequest(ctx, http.MethodGet, joinPath(c.endpoints.World, strconv.FormatInt(int64(id), 10), "property", url.PathEscape(name)), nil, nil)
	if err != nil {
		return schema.Blob{}, err
	}
	resp, err := c.send(req)
	if err != nil {
		return schema.Blob{}, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBlobBytes+1))
	if err != nil {
		return schema.Blob{}, fmt.Errorf("%w: read property: %v", schema.ErrConnectivity, err)
	}
	if len(data) > maxBlobBytes {
		return schema.Blob{}, fmt.Errorf("%w: property %s on #%d exceeds %d bytes", schema.ErrServer, name, id, maxBlobBytes)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	return schema.Blob{ContentType: contentType, Data: data}, nil
}

// Login exchanges credentials for a bearer token. The token is not stored;
// callers hand it to their session.
func (c *Client) Login(ctx context.Context, login, password string) (schema.Token, error) {
	req, err := c.newRequest(ctx, http.MethodPost, joinPath(c.endpoints.Login), nil, schema.LoginRequest{Login: login, Password: password})
	if err != nil {
		return "", err
	}
	var resp schema.LoginResponse
	if err := c.do(req, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", fmt.Errorf("%w: login returned no token", schema.ErrServer)
	}
	return resp.Token, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	target := strings.TrimRight(c.baseURL.String(), "/") + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return nil, fmt.Errorf("%w: encode body: %v", schema.ErrInvalidRequest, err)
		}
		reader = buf
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", schema.ErrInvalidRequest, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.tokens.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+string(token))
	}
	return req, nil
}

// send performs the request and maps transport and status failures onto
// the schema error taxonomy. On success the caller owns resp.Body.
func (c *Client) send(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %s %s: %v", schema.ErrConnectivity, req.Method, req.URL.Path, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	message := envelopeError(body)
	if resp.StatusCode == http.StatusUnauthorized {
		c.tokens.Invalidate()
		if message == "" {
			message = resp.Status
		}
		c.log.Debug("wobapi unauthorized", "path", req.URL.Path)
		return nil, fmt.Errorf("%w: %s", schema.ErrAuthRequired, message)
	}
	if message == "" {
		message = strings.TrimSpace(resp.Status + " " + strings.TrimSpace(string(body)))
	}
	return nil, c.classify(schema.ServerError(message))
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.send(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", schema.ErrConnectivity, err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%w: decode response: %v", schema.ErrServer, err)
	}
	if env.Success != nil && !*env.Success {
		return c.classify(schema.ServerError(env.Error))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", schema.ErrServer, err)
	}
	return nil
}

// classify drops the session token when the server reports a credential
// failure in its envelope.
func (c *Client) classify(err error) error {
	if errors.Is(err, schema.ErrAuthRequired) {
		c.tokens.Invalidate()
	}
	return err
}

type envelope struct {
	Success *bool  `json:"success"`
	Error   string `json:"error"`
}

func envelopeError(body []byte) string {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return ""
	}
	return strings.TrimSpace(env.Error)
}

func joinPath(base string, parts ...string) string {
	out := "/" + strings.Trim(base, "/")
	for _, part := range parts {
		if part == "" {
			continue
		}
		out = strings.TrimRight(out, "/") + "/" + part
	}
	return out
}
