package atproto

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Client is a session-bearing client for the XRPC procedures the Datalog
// cache depends on. One Client owns one HTTP connection pool and one
// session; it is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger

	mu      sync.RWMutex
	session *Session

	endpoints *endpointRegistry
}

// Session holds the tokens returned by com.atproto.server.createSession.
type Session struct {
	AccessJwt  string
	RefreshJwt string
	Did        string
	Handle     string
}

// Option configures a Client constructed with New.
type Option func(*Client)

// WithLogger overrides the client's zap logger (defaults to zap.NewNop()).
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithHTTPClient overrides the underlying *http.Client (for tests).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New creates a client bound to the given personal data server base URL,
// e.g. "https://bsky.social". No network call is made until Login or an
// operation requiring a session is invoked.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:   baseURL,
		http:      &http.Client{Timeout: 30 * time.Second},
		log:       zap.NewNop(),
		endpoints: newEndpointRegistry(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) xrpcURL(path string) string {
	return c.baseURL + "/xrpc/" + path
}

// currentSession returns a copy of the active session, or nil if none.
func (c *Client) currentSession() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil
	}
	s := *c.session
	return &s
}

func (c *Client) setSession(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = s
}

type createSessionRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type createSessionResponse struct {
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
	Did        string `json:"did"`
	Handle     string `json:"handle"`
}

// Login establishes a new session via com.atproto.server.createSession.
func (c *Client) Login(ctx context.Context, identifier, password string) error {
	body, err := json.Marshal(createSessionRequest{Identifier: identifier, Password: password})
	if err != nil {
		return invalidResponseErr(fmt.Errorf("marshal login request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.xrpcURL("com.atproto.server.createSession"), bytes.NewReader(body))
	if err != nil {
		return networkErr(fmt.Errorf("build login request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return networkErr(fmt.Errorf("send login request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return authErr(parseXrpcBodyErr(resp))
	}

	var out createSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return invalidResponseErr(fmt.Errorf("decode login response: %w", err))
	}

	c.setSession(&Session{
		AccessJwt:  out.AccessJwt,
		RefreshJwt: out.RefreshJwt,
		Did:        out.Did,
		Handle:     out.Handle,
	})
	c.log.Info("atproto session established", zap.String("did", out.Did), zap.String("handle", out.Handle))
	return nil
}

// RefreshSession exchanges the current refresh token for a new session.
func (c *Client) RefreshSession(ctx context.Context) error {
	sess := c.currentSession()
	if sess == nil || sess.RefreshJwt == "" {
		return authErr(fmt.Errorf("no refresh token available"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.xrpcURL("com.atproto.server.refreshSession"), nil)
	if err != nil {
		return networkErr(fmt.Errorf("build refresh request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+sess.RefreshJwt)

	resp, err := c.http.Do(req)
	if err != nil {
		return networkErr(fmt.Errorf("send refresh request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return authErr(parseXrpcBodyErr(resp))
	}

	var out createSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return invalidResponseErr(fmt.Errorf("decode refresh response: %w", err))
	}

	c.setSession(&Session{
		AccessJwt:  out.AccessJwt,
		RefreshJwt: out.RefreshJwt,
		Did:        out.Did,
		Handle:     out.Handle,
	})
	c.log.Debug("atproto session refreshed", zap.String("did", out.Did))
	return nil
}

// xrpcErrorBody is the well-formed error envelope XRPC servers return on
// non-2xx responses.
type xrpcErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseXrpcBodyErr(resp *http.Response) error {
	raw, _ := io.ReadAll(resp.Body)
	var body xrpcErrorBody
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return xrpcErr(body.Error, body.Message)
	}
	return fmt.Errorf("http %d: %s", resp.StatusCode, string(raw))
}
