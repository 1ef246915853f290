// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledgersync

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
)

// HTTPClient is a RemoteStore talking to a Server.
type HTTPClient struct {
	BaseURL  string
	Token    func(context.Context) (string, error) // returns JWT
	HTTP     *http.Client
	PageSize int
}

// NewHTTPClient creates a client for the document API at baseURL.
func NewHTTPClient(baseURL string, tok func(context.Context) (string, error)) *HTTPClient {
	return &HTTPClient{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Token:    tok,
		HTTP:     &http.Client{Timeout: 30 * time.Second},
		PageSize: DefaultPageSize,
	}
}

// StaticToken wraps a fixed bearer token.
func StaticToken(token string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return token, nil }
}

func (h *HTTPClient) Ping(ctx context.Context) error {
	var session SessionResponse
	return h.do(ctx, http.MethodGet, "/v1/session", nil, http.StatusOK, &session)
}

func (h *HTTPClient) Stream(ctx context.Context, c Collection, fn func(Document) error) error {
	pageSize := h.PageSize
	if pageSize <= 0 || pageSize > maxListLimit {
		pageSize = DefaultPageSize
	}
	after := int64(0)
	for {
		var page ListResponse
		q := url.Values{}
		q.Set("after", strconv.FormatInt(after, 10))
		q.Set("limit", strconv.Itoa(pageSize))
		if err := h.do(ctx, http.MethodGet, "/v1/"+url.PathEscape(string(c))+"?"+q.Encode(), nil, http.StatusOK, &page); err != nil {
			return err
		}
		for _, d := range page.Documents {
			if err := fn(d); err != nil {
				return err
			}
			if d.Seq > after {
				after = d.Seq
			}
		}
		if !page.HasMore {
			return nil
		}
	}
}

func (h *HTTPClient) Create(ctx context.Context, c Collection, localID string, data json.RawMessage) (string, error) {
	var resp CreateResponse
	err := h.do(ctx, http.MethodPost, "/v1/"+url.PathEscape(string(c)), CreateRequest{LocalID: localID, Data: data}, http.StatusCreated, &resp)
	if err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("%w: server returned empty document id", ErrRejected)
	}
	return resp.ID, nil
}

func (h *HTTPClient) Merge(ctx context.Context, c Collection, id string, data json.RawMessage) error {
	return h.do(ctx, http.MethodPatch, "/v1/"+url.PathEscape(string(c))+"/"+url.PathEscape(id), data, http.StatusNoContent, nil)
}

func (h *HTTPClient) do(ctx context.Context, method, path string, body any, want int, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if h.Token != nil {
		token, err := h.Token(ctx)
		if err != nil {
			return fmt.Errorf("%w: token: %v", ErrUnauthorized, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := h.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	var apiErr ErrorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &apiErr) == nil && apiErr.Message != "" {
		msg = apiErr.Message
	}

	var kind error
	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		kind = ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound && apiErr.Error == "document_not_found":
		kind = ErrDocumentNotFound
	case resp.StatusCode == http.StatusNotFound && apiErr.Error == "unknown_collection":
		kind = ErrUnknownCollection
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusTooManyRequests:
		kind = ErrUnavailable
	default:
		kind = ErrRejected
	}
	return fmt.Errorf("%w: status %d: %s", kind, resp.StatusCode, msg)
}

var _ RemoteStore = (*HTTPClient)(nil)
var _ DocumentStore = (*MemoryStore)(nil)
var _ DocumentStore = (*PGStore)(nil)

// IsNotFound reports whether err means the addressed document does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDocumentNotFound)
}
