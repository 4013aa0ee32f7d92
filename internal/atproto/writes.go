package atproto

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// WriteOp is one operation inside a batched applyWrites call.
type WriteOp struct {
	Kind       WriteKind
	Collection string
	Rkey       string
	Value      map[string]any // required for Create/Update
}

type WriteKind int

const (
	WriteCreate WriteKind = iota
	WriteUpdate
	WriteDelete
)

func (k WriteKind) wireType(result bool) string {
	suffix := ""
	if result {
		suffix = "Result"
	}
	switch k {
	case WriteCreate:
		return "com.atproto.repo.applyWrites#create" + suffix
	case WriteUpdate:
		return "com.atproto.repo.applyWrites#update" + suffix
	default:
		return "com.atproto.repo.applyWrites#delete" + suffix
	}
}

// WriteResult is one applyWrites result, in submission order. The
// server's ordering under partial failure is not documented, so a
// mixed-result response is treated as an error rather than partially
// applied.
type WriteResult struct {
	Uri string
	Cid string
}

func (op WriteOp) marshalInput() map[string]any {
	m := map[string]any{
		"$type":      op.Kind.wireType(false),
		"collection": op.Collection,
	}
	if op.Rkey != "" {
		m["rkey"] = op.Rkey
	}
	if op.Kind != WriteDelete {
		m["value"] = injectType(op.Value, op.Collection)
	}
	return m
}

// ApplyWrites implements com.atproto.repo.applyWrites: a single atomic
// batch of creates/updates/deletes. ops must be non-empty.
func (c *Client) ApplyWrites(ctx context.Context, ops []WriteOp) (commit string, results []WriteResult, err error) {
	if len(ops) == 0 {
		return "", nil, invalidResponseErr(fmt.Errorf("applyWrites requires at least one operation"))
	}

	sess := c.currentSession()
	if sess == nil {
		return "", nil, authErr(fmt.Errorf("no active session"))
	}

	writes := make([]map[string]any, 0, len(ops))
	for _, op := range ops {
		writes = append(writes, op.marshalInput())
	}

	payload := struct {
		Repo   string           `json:"repo"`
		Writes []map[string]any `json:"writes"`
	}{Repo: sess.Did, Writes: writes}

	body, merr := json.Marshal(payload)
	if merr != nil {
		return "", nil, invalidResponseErr(fmt.Errorf("marshal applyWrites: %w", merr))
	}

	resp, err := c.attempt(ctx, "com.atproto.repo.applyWrites", func(token string) (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, c.xrpcURL("com.atproto.repo.applyWrites"), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		return req, nil
	})
	if err != nil {
		return "", nil, err
	}

	var out struct {
		Commit struct {
			Cid string `json:"cid"`
			Rev string `json:"rev"`
		} `json:"commit"`
		Results []struct {
			Type string `json:"$type"`
			Uri  string `json:"uri"`
			Cid  string `json:"cid"`
		} `json:"results"`
	}
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return "", nil, invalidResponseErr(fmt.Errorf("decode applyWrites response: %w", err))
	}

	if len(out.Results) != len(ops) {
		return "", nil, invalidResponseErr(fmt.Errorf("applyWrites returned %d results for %d writes", len(out.Results), len(ops)))
	}

	results = make([]WriteResult, 0, len(out.Results))
	for i, r := range out.Results {
		if want := ops[i].Kind.wireType(true); r.Type != "" && r.Type != want {
			return "", nil, invalidResponseErr(fmt.Errorf("applyWrites result %d has type %q, expected %q", i, r.Type, want))
		}
		results = append(results, WriteResult{Uri: r.Uri, Cid: r.Cid})
	}
	return out.Commit.Cid, results, nil
}
