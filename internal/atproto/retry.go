package atproto

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// endpointSpec describes per-operation behaviour the retry loop needs:
// how long a single attempt is allowed to take, and whether ExpiredToken
// refresh-and-retry applies at all.
type endpointSpec struct {
	timeout       time.Duration
	maxAttempts   int
	refreshOnAuth bool
}

// endpointRegistry maps an XRPC operation name to its retry/timeout
// behaviour.
type endpointRegistry struct {
	mu    sync.RWMutex
	specs map[string]endpointSpec
}

func newEndpointRegistry() *endpointRegistry {
	r := &endpointRegistry{specs: make(map[string]endpointSpec)}
	r.setDefault("com.atproto.sync.getRepo", endpointSpec{timeout: 120 * time.Second, maxAttempts: 2, refreshOnAuth: true})
	return r
}

func (r *endpointRegistry) setDefault(name string, spec endpointSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[name] = spec
}

// specFor returns the policy for name, defaulting to the standard
// 4-attempt / 30s record-operation policy when name is unknown.
func (r *endpointRegistry) specFor(name string) endpointSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.specs[name]; ok {
		return s
	}
	return endpointSpec{timeout: 30 * time.Second, maxAttempts: 4, refreshOnAuth: true}
}

// newBackoff builds the fixed 500/1000/2000ms schedule:
// 500 * 2^attempt, with no jitter (randomization disabled so tests
// can assert on exact sleep counts rather than ranges).
func newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0 // the attempt loop owns the attempt budget, not the backoff
	return b
}

// rawResponse is a fully-drained HTTP response: the body is read and the
// connection released before attempt returns, so a caller-cancelled ctx
// can never truncate a body the caller hasn't finished decoding yet.
type rawResponse struct {
	status int
	header http.Header
	body   []byte
}

// attempt runs one HTTP round trip described by build, re-authenticating
// once on ExpiredToken and otherwise following the retry policy:
//
//  1. fail immediately with Auth if there is no session;
//  2. on a well-formed ExpiredToken error, refresh once and retry without
//     consuming a retry attempt; a failed refresh returns the original
//     ExpiredToken error;
//  3. on Network or {UpstreamFailure, UpstreamTimeout, InternalServerError,
//     ServiceUnavailable}, back off 500*2^attempt ms and retry;
//  4. 429 is never retried here; it is surfaced as RateLimited;
//  5. anything else returns immediately.
func (c *Client) attempt(ctx context.Context, endpoint string, build func(token string) (*http.Request, error)) (*rawResponse, error) {
	spec := c.endpoints.specFor(endpoint)
	boff := newBackoff()
	refreshed := false

	for i := 0; i < spec.maxAttempts; i++ {
		sess := c.currentSession()
		if sess == nil {
			return nil, authErr(fmt.Errorf("no active session"))
		}

		reqCtx, cancel := context.WithTimeout(ctx, spec.timeout)
		req, err := build(sess.AccessJwt)
		if err != nil {
			cancel()
			return nil, networkErr(fmt.Errorf("build request: %w", err))
		}
		req = req.WithContext(reqCtx)

		resp, err := c.http.Do(req)
		if err != nil {
			cancel()
			nerr := networkErr(err)
			if nerr.Retryable() && i < spec.maxAttempts-1 {
				sleepBackoff(ctx, boff)
				continue
			}
			return nil, nerr
		}

		raw, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		if readErr != nil {
			return nil, networkErr(fmt.Errorf("read response body: %w", readErr))
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, rateLimitedErr(retryAfterSecs(resp))
		}

		if resp.StatusCode == http.StatusOK {
			return &rawResponse{status: resp.StatusCode, header: resp.Header, body: raw}, nil
		}

		var body xrpcErrorBody
		_ = json.Unmarshal(raw, &body)

		if resp.StatusCode == http.StatusNotFound {
			return nil, &Error{Kind: KindNotFound}
		}

		xerr := &Error{Kind: KindXrpc, XrpcError: body.Error, XrpcMessage: body.Message}
		if body.Error == "" {
			xerr.XrpcMessage = string(raw)
		}

		if body.Error == "ExpiredToken" && spec.refreshOnAuth && !refreshed {
			refreshed = true
			if rerr := c.RefreshSession(ctx); rerr != nil {
				// a failed refresh surfaces the original ExpiredToken
				// error, not the refresh failure
				return nil, xerr
			}
			i-- // refresh does not consume a retry attempt
			continue
		}

		if xerr.Retryable() && i < spec.maxAttempts-1 {
			sleepBackoff(ctx, boff)
			continue
		}

		return nil, xerr
	}

	return nil, networkErr(fmt.Errorf("exhausted %d attempts against %s", spec.maxAttempts, endpoint))
}

func sleepBackoff(ctx context.Context, boff backoff.BackOff) {
	t := time.NewTimer(boff.NextBackOff())
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func retryAfterSecs(resp *http.Response) *int {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return nil
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return nil
	}
	return &secs
}
