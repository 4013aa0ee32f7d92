package atproto

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// RecordRef identifies a record by its repo-relative collection/rkey and
// the content address returned by the server on write.
type RecordRef struct {
	Uri string
	Cid string
}

// injectType returns a shallow copy of value with "$type" set to
// collection. Every write injects $type equal to the collection name,
// including each per-write value inside a batched applyWrites call.
func injectType(value map[string]any, collection string) map[string]any {
	out := make(map[string]any, len(value)+1)
	for k, v := range value {
		out[k] = v
	}
	out["$type"] = collection
	return out
}

type createRecordRequest struct {
	Repo       string         `json:"repo"`
	Collection string         `json:"collection"`
	Rkey       string         `json:"rkey,omitempty"`
	Record     map[string]any `json:"record"`
}

type createRecordResponse struct {
	Uri string `json:"uri"`
	Cid string `json:"cid"`
}

// CreateRecord implements com.atproto.repo.createRecord. If rkey is empty
// the server assigns one.
func (c *Client) CreateRecord(ctx context.Context, collection, rkey string, value map[string]any) (RecordRef, error) {
	sess := c.currentSession()
	if sess == nil {
		return RecordRef{}, authErr(fmt.Errorf("no active session"))
	}

	payload := createRecordRequest{
		Repo:       sess.Did,
		Collection: collection,
		Rkey:       rkey,
		Record:     injectType(value, collection),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return RecordRef{}, invalidResponseErr(fmt.Errorf("marshal createRecord: %w", err))
	}

	resp, err := c.attempt(ctx, "com.atproto.repo.createRecord", func(token string) (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, c.xrpcURL("com.atproto.repo.createRecord"), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		return req, nil
	})
	if err != nil {
		return RecordRef{}, err
	}

	var out createRecordResponse
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return RecordRef{}, invalidResponseErr(fmt.Errorf("decode createRecord response: %w", err))
	}
	return RecordRef{Uri: out.Uri, Cid: out.Cid}, nil
}

// PutRecord implements com.atproto.repo.putRecord (create-or-update at a
// known rkey).
func (c *Client) PutRecord(ctx context.Context, collection, rkey string, value map[string]any) (RecordRef, error) {
	sess := c.currentSession()
	if sess == nil {
		return RecordRef{}, authErr(fmt.Errorf("no active session"))
	}

	payload := struct {
		Repo       string         `json:"repo"`
		Collection string         `json:"collection"`
		Rkey       string         `json:"rkey"`
		Record     map[string]any `json:"record"`
	}{Repo: sess.Did, Collection: collection, Rkey: rkey, Record: injectType(value, collection)}

	body, err := json.Marshal(payload)
	if err != nil {
		return RecordRef{}, invalidResponseErr(fmt.Errorf("marshal putRecord: %w", err))
	}

	resp, err := c.attempt(ctx, "com.atproto.repo.putRecord", func(token string) (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, c.xrpcURL("com.atproto.repo.putRecord"), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		return req, nil
	})
	if err != nil {
		return RecordRef{}, err
	}

	var out createRecordResponse
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return RecordRef{}, invalidResponseErr(fmt.Errorf("decode putRecord response: %w", err))
	}
	return RecordRef{Uri: out.Uri, Cid: out.Cid}, nil
}

// Record is a generic fetched repo record.
type Record struct {
	Uri   string
	Cid   string
	Value map[string]any
}

// GetRecord implements com.atproto.repo.getRecord.
func (c *Client) GetRecord(ctx context.Context, collection, rkey string) (Record, error) {
	sess := c.currentSession()
	if sess == nil {
		return Record{}, authErr(fmt.Errorf("no active session"))
	}

	q := url.Values{}
	q.Set("repo", sess.Did)
	q.Set("collection", collection)
	q.Set("rkey", rkey)

	resp, err := c.attempt(ctx, "com.atproto.repo.getRecord", func(token string) (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, c.xrpcURL("com.atproto.repo.getRecord")+"?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return req, nil
	})
	if err != nil {
		if ae, ok := err.(*Error); ok && ae.Kind == KindNotFound {
			ae.Collection, ae.Rkey = collection, rkey
		}
		return Record{}, err
	}

	var out struct {
		Uri   string         `json:"uri"`
		Cid   string         `json:"cid"`
		Value map[string]any `json:"value"`
	}
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return Record{}, invalidResponseErr(fmt.Errorf("decode getRecord response: %w", err))
	}
	return Record{Uri: out.Uri, Cid: out.Cid, Value: out.Value}, nil
}

// GetRecords implements a batch read over com.atproto.repo.getRecords.
// Records missing on the server are present in the result with Value ==
// nil.
func (c *Client) GetRecords(ctx context.Context, uris []string) ([]Record, error) {
	q := url.Values{}
	for _, u := range uris {
		q.Add("uris", u)
	}

	resp, err := c.attempt(ctx, "com.atproto.repo.getRecords", func(token string) (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, c.xrpcURL("com.atproto.repo.getRecords")+"?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		Records []struct {
			Uri   string         `json:"uri"`
			Cid   string         `json:"cid"`
			Value map[string]any `json:"value"`
		} `json:"records"`
	}
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return nil, invalidResponseErr(fmt.Errorf("decode getRecords response: %w", err))
	}

	records := make([]Record, 0, len(out.Records))
	for _, r := range out.Records {
		records = append(records, Record{Uri: r.Uri, Cid: r.Cid, Value: r.Value})
	}
	return records, nil
}

// ListPage is one page of com.atproto.repo.listRecords.
type ListPage struct {
	Records []Record
	Cursor  string
}

// ListRecords implements com.atproto.repo.listRecords for a single page.
func (c *Client) ListRecords(ctx context.Context, collection string, limit int, cursor string) (ListPage, error) {
	sess := c.currentSession()
	if sess == nil {
		return ListPage{}, authErr(fmt.Errorf("no active session"))
	}

	q := url.Values{}
	q.Set("repo", sess.Did)
	q.Set("collection", collection)
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	resp, err := c.attempt(ctx, "com.atproto.repo.listRecords", func(token string) (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, c.xrpcURL("com.atproto.repo.listRecords")+"?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return req, nil
	})
	if err != nil {
		return ListPage{}, err
	}

	var out struct {
		Records []struct {
			Uri   string         `json:"uri"`
			Cid   string         `json:"cid"`
			Value map[string]any `json:"value"`
		} `json:"records"`
		Cursor string `json:"cursor"`
	}
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return ListPage{}, invalidResponseErr(fmt.Errorf("decode listRecords response: %w", err))
	}

	page := ListPage{Cursor: out.Cursor}
	for _, r := range out.Records {
		page.Records = append(page.Records, Record{Uri: r.Uri, Cid: r.Cid, Value: r.Value})
	}
	return page, nil
}

// ListAllRecords paginates through ListRecords until the cursor is
// exhausted.
func (c *Client) ListAllRecords(ctx context.Context, collection string) ([]Record, error) {
	var all []Record
	cursor := ""
	for {
		page, err := c.ListRecords(ctx, collection, 100, cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Records...)
		if page.Cursor == "" || len(page.Records) == 0 {
			return all, nil
		}
		cursor = page.Cursor
	}
}

// DeleteRecord implements com.atproto.repo.deleteRecord.
func (c *Client) DeleteRecord(ctx context.Context, collection, rkey string) error {
	sess := c.currentSession()
	if sess == nil {
		return authErr(fmt.Errorf("no active session"))
	}

	payload := struct {
		Repo       string `json:"repo"`
		Collection string `json:"collection"`
		Rkey       string `json:"rkey"`
	}{Repo: sess.Did, Collection: collection, Rkey: rkey}

	body, err := json.Marshal(payload)
	if err != nil {
		return invalidResponseErr(fmt.Errorf("marshal deleteRecord: %w", err))
	}

	_, err = c.attempt(ctx, "com.atproto.repo.deleteRecord", func(token string) (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, c.xrpcURL("com.atproto.repo.deleteRecord"), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		return req, nil
	})
	if err != nil {
		if ae, ok := err.(*Error); ok && ae.Kind == KindNotFound {
			ae.Collection, ae.Rkey = collection, rkey
		}
		return err
	}
	return nil
}

// GetRepo implements com.atproto.sync.getRepo: a single bounded-retry GET
// returning the raw CAR bytes and the repo revision header. On 429 it
// returns immediately (no retry); on a well-formed ExpiredToken body it
// refreshes once and retries.
func (c *Client) GetRepo(ctx context.Context, did string) ([]byte, string, error) {
	q := url.Values{}
	q.Set("did", did)

	resp, err := c.attempt(ctx, "com.atproto.sync.getRepo", func(token string) (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, c.xrpcURL("com.atproto.sync.getRepo")+"?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return req, nil
	})
	if err != nil {
		return nil, "", err
	}
	return resp.body, resp.header.Get("Atproto-Repo-Rev"), nil
}
