package atproto

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

const maxBlobSize = 1_000_000

var allowedBlobMimeTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
}

// BlobRef is the server's reference to an uploaded blob, embeddable
// verbatim inside a subsequent record write.
type BlobRef struct {
	Ref      map[string]any `json:"ref"`
	MimeType string         `json:"mimeType"`
	Size     int            `json:"size"`
}

// UploadBlob implements com.atproto.repo.uploadBlob, pre-flighting the
// mime type and size checks before making any request.
func (c *Client) UploadBlob(ctx context.Context, data []byte, mimeType string) (BlobRef, error) {
	if !allowedBlobMimeTypes[mimeType] {
		return BlobRef{}, &Error{Kind: KindInvalidMimeType, Err: fmt.Errorf("unsupported mime type %q", mimeType)}
	}
	if len(data) > maxBlobSize {
		return BlobRef{}, &Error{Kind: KindBlobTooLarge, Err: fmt.Errorf("blob size %d exceeds %d bytes", len(data), maxBlobSize)}
	}

	resp, err := c.attempt(ctx, "com.atproto.repo.uploadBlob", func(token string) (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, c.xrpcURL("com.atproto.repo.uploadBlob"), bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", mimeType)
		req.Header.Set("Authorization", "Bearer "+token)
		return req, nil
	})
	if err != nil {
		return BlobRef{}, err
	}

	var out struct {
		Blob BlobRef `json:"blob"`
	}
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return BlobRef{}, invalidResponseErr(fmt.Errorf("decode uploadBlob response: %w", err))
	}
	return out.Blob, nil
}
