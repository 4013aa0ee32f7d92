package atproto

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL)
}

func TestLoginStoresSession(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/xrpc/com.atproto.server.createSession" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(createSessionResponse{
			AccessJwt: "access", RefreshJwt: "refresh", Did: "did:plc:test", Handle: "alice.test",
		})
	})

	if err := c.Login(context.Background(), "alice.test", "hunter2"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	sess := c.currentSession()
	if sess == nil || sess.Did != "did:plc:test" || sess.AccessJwt != "access" {
		t.Fatalf("session not stored correctly: %+v", sess)
	}
}

func TestLoginAuthError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(xrpcErrorBody{Error: "AuthenticationRequired", Message: "bad creds"})
	})

	err := c.Login(context.Background(), "alice.test", "wrong")
	if err == nil {
		t.Fatal("expected error")
	}
	aerr, ok := err.(*Error)
	if !ok || aerr.Kind != KindAuth {
		t.Fatalf("expected Auth error, got %v", err)
	}
}

func TestCreateRecordInjectsType(t *testing.T) {
	var captured map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/xrpc/com.atproto.server.createSession":
			json.NewEncoder(w).Encode(createSessionResponse{AccessJwt: "a", RefreshJwt: "r", Did: "did:plc:x"})
		case "/xrpc/com.atproto.repo.createRecord":
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			captured = body["record"].(map[string]any)
			json.NewEncoder(w).Encode(createRecordResponse{Uri: "at://did:plc:x/app.bsky.feed.post/abc", Cid: "bafycid"})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	ctx := context.Background()
	if err := c.Login(ctx, "id", "pw"); err != nil {
		t.Fatalf("login: %v", err)
	}

	ref, err := c.CreateRecord(ctx, "app.bsky.feed.post", "", map[string]any{"text": "hello"})
	if err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	if ref.Uri == "" || ref.Cid != "bafycid" {
		t.Fatalf("unexpected ref: %+v", ref)
	}
	if captured["$type"] != "app.bsky.feed.post" {
		t.Fatalf("$type not injected: %+v", captured)
	}
}

func TestGetRecordNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/xrpc/com.atproto.server.createSession":
			json.NewEncoder(w).Encode(createSessionResponse{AccessJwt: "a", RefreshJwt: "r", Did: "did:plc:x"})
		case "/xrpc/com.atproto.repo.getRecord":
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(xrpcErrorBody{Error: "RecordNotFound", Message: "no such record"})
		}
	})

	ctx := context.Background()
	c.Login(ctx, "id", "pw")

	_, err := c.GetRecord(ctx, "app.bsky.feed.post", "abc")
	aerr, ok := err.(*Error)
	if !ok || aerr.Kind != KindNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if aerr.Collection != "app.bsky.feed.post" || aerr.Rkey != "abc" {
		t.Fatalf("NotFound missing collection/rkey: %+v", aerr)
	}
}

func TestRateLimitedNotRetried(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/xrpc/com.atproto.server.createSession":
			json.NewEncoder(w).Encode(createSessionResponse{AccessJwt: "a", RefreshJwt: "r", Did: "did:plc:x"})
		case "/xrpc/com.atproto.repo.listRecords":
			calls++
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusTooManyRequests)
		}
	})

	ctx := context.Background()
	c.Login(ctx, "id", "pw")

	_, err := c.ListRecords(ctx, "app.bsky.feed.post", 50, "")
	aerr, ok := err.(*Error)
	if !ok || aerr.Kind != KindRateLimited {
		t.Fatalf("expected RateLimited, got %v", err)
	}
	if aerr.RetryAfterSecs == nil || *aerr.RetryAfterSecs != 30 {
		t.Fatalf("expected retry_after=30, got %+v", aerr.RetryAfterSecs)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one call, got %d", calls)
	}
}

func TestExpiredTokenRefreshesAndRetries(t *testing.T) {
	refreshed := false
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/xrpc/com.atproto.server.createSession":
			json.NewEncoder(w).Encode(createSessionResponse{AccessJwt: "a1", RefreshJwt: "r1", Did: "did:plc:x"})
		case "/xrpc/com.atproto.server.refreshSession":
			refreshed = true
			json.NewEncoder(w).Encode(createSessionResponse{AccessJwt: "a2", RefreshJwt: "r2", Did: "did:plc:x"})
		case "/xrpc/com.atproto.repo.getRecord":
			calls++
			auth := r.Header.Get("Authorization")
			if auth == "Bearer a1" {
				w.WriteHeader(http.StatusBadRequest)
				json.NewEncoder(w).Encode(xrpcErrorBody{Error: "ExpiredToken", Message: "expired"})
				return
			}
			json.NewEncoder(w).Encode(struct {
				Uri   string         `json:"uri"`
				Cid   string         `json:"cid"`
				Value map[string]any `json:"value"`
			}{Uri: "at://did:plc:x/c/r", Cid: "cid1", Value: map[string]any{"k": "v"}})
		}
	})

	ctx := context.Background()
	c.Login(ctx, "id", "pw")

	rec, err := c.GetRecord(ctx, "app.bsky.feed.post", "r")
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if !refreshed {
		t.Fatal("expected a refresh call")
	}
	if calls != 2 {
		t.Fatalf("expected 2 getRecord calls (expired + retry), got %d", calls)
	}
	if rec.Cid != "cid1" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestExpiredTokenFailedRefreshReturnsOriginalError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/xrpc/com.atproto.server.createSession":
			json.NewEncoder(w).Encode(createSessionResponse{AccessJwt: "a1", RefreshJwt: "r1", Did: "did:plc:x"})
		case "/xrpc/com.atproto.server.refreshSession":
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(xrpcErrorBody{Error: "ExpiredToken", Message: "refresh token expired"})
		case "/xrpc/com.atproto.repo.getRecord":
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(xrpcErrorBody{Error: "ExpiredToken", Message: "access token expired"})
		}
	})

	ctx := context.Background()
	c.Login(ctx, "id", "pw")

	_, err := c.GetRecord(ctx, "app.bsky.feed.post", "r")
	aerr, ok := err.(*Error)
	if !ok || aerr.Kind != KindXrpc {
		t.Fatalf("expected the original Xrpc error, got %v", err)
	}
	if aerr.XrpcError != "ExpiredToken" || aerr.XrpcMessage != "access token expired" {
		t.Fatalf("expected the original ExpiredToken error, got %+v", aerr)
	}
}

// flakyTransport fails the first failCount round trips against path
// with a raw transport error (simulating DNS failure/connection reset)
// before delegating to the real transport, so the retry loop's Network
// branch can be exercised without a misbehaving server. Requests to
// other paths (e.g. login) always succeed, so the login call itself
// doesn't also hit the retry/backoff path and slow the test down.
type flakyTransport struct {
	path      string
	failCount int
	calls     int
	next      http.RoundTripper
}

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Path != f.path {
		return f.next.RoundTrip(req)
	}
	f.calls++
	if f.calls <= f.failCount {
		return nil, errors.New("connection reset by peer")
	}
	return f.next.RoundTrip(req)
}

func TestNetworkErrorIsRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/xrpc/com.atproto.server.createSession":
			json.NewEncoder(w).Encode(createSessionResponse{AccessJwt: "a", RefreshJwt: "r", Did: "did:plc:x"})
		case "/xrpc/com.atproto.repo.getRecord":
			json.NewEncoder(w).Encode(struct {
				Uri   string         `json:"uri"`
				Cid   string         `json:"cid"`
				Value map[string]any `json:"value"`
			}{Uri: "at://did:plc:x/c/r", Cid: "cid1", Value: map[string]any{"k": "v"}})
		}
	}))
	t.Cleanup(srv.Close)

	transport := &flakyTransport{path: "/xrpc/com.atproto.repo.getRecord", failCount: 2, next: http.DefaultTransport}
	c := New(srv.URL, WithHTTPClient(&http.Client{Transport: transport}))

	ctx := context.Background()
	if err := c.Login(ctx, "id", "pw"); err != nil {
		t.Fatalf("login: %v", err)
	}

	rec, err := c.GetRecord(ctx, "app.bsky.feed.post", "r")
	if err != nil {
		t.Fatalf("expected GetRecord to succeed after transient network errors, got: %v", err)
	}
	if rec.Cid != "cid1" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	// 2 failed getRecord attempts + 1 successful attempt.
	if transport.calls != 3 {
		t.Fatalf("expected 3 getRecord round trips (2 failed + 1 success), got %d", transport.calls)
	}
}

func TestNetworkErrorExhaustsAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(createSessionResponse{AccessJwt: "a", RefreshJwt: "r", Did: "did:plc:x"})
	}))
	t.Cleanup(srv.Close)

	transport := &flakyTransport{path: "/xrpc/com.atproto.repo.getRecord", failCount: 100, next: http.DefaultTransport}
	c := New(srv.URL, WithHTTPClient(&http.Client{Transport: transport}))

	ctx := context.Background()
	if err := c.Login(ctx, "id", "pw"); err != nil {
		t.Fatalf("login: %v", err)
	}

	_, err := c.GetRecord(ctx, "app.bsky.feed.post", "r")
	aerr, ok := err.(*Error)
	if !ok || aerr.Kind != KindNetwork {
		t.Fatalf("expected Network error after exhausting attempts, got %v", err)
	}
	// 4 getRecord attempts total (initial + 3 retries).
	if transport.calls != 4 {
		t.Fatalf("expected 4 getRecord attempts, got %d", transport.calls)
	}
}

func TestApplyWritesRejectsEmpty(t *testing.T) {
	c := New("http://unused")
	_, _, err := c.ApplyWrites(context.Background(), nil)
	aerr, ok := err.(*Error)
	if !ok || aerr.Kind != KindInvalidResponse {
		t.Fatalf("expected InvalidResponse for empty writes, got %v", err)
	}
}

func TestUploadBlobRejectsBadMimeAndSize(t *testing.T) {
	c := New("http://unused")

	_, err := c.UploadBlob(context.Background(), []byte("x"), "image/bmp")
	if aerr, ok := err.(*Error); !ok || aerr.Kind != KindInvalidMimeType {
		t.Fatalf("expected InvalidMimeType, got %v", err)
	}

	big := make([]byte, maxBlobSize+1)
	_, err = c.UploadBlob(context.Background(), big, "image/png")
	if aerr, ok := err.(*Error); !ok || aerr.Kind != KindBlobTooLarge {
		t.Fatalf("expected BlobTooLarge, got %v", err)
	}
}
