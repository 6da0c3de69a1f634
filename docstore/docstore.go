// Package docstore is a simple HTTP client for the remote document store
// (the Firestore REST API).  Documents live under a per-user namespace,
// users/{uid}/{collection}/{id}, and are written with PATCH upserts and
// DELETEs carrying a bearer credential.
package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/israfil-hossain/mediremind/dbtypes"
)

// DefaultHost is the production document store endpoint.
const DefaultHost = "firestore.googleapis.com"

// TokenSource supplies the authenticated user's id and bearer credential.
type TokenSource interface {
	// UserID returns the uid of the signed-in user, or "" when signed out.
	UserID() string

	// Token returns a bearer credential for the user.
	Token(ctx context.Context) (string, error)

	// Refresh forces a credential refresh and returns the new token.
	Refresh(ctx context.Context) (string, error)
}

// WriteResult classifies the outcome of a remote write so the caller can make
// an informed queue/retry decision instead of collapsing everything into a
// boolean.
type WriteResult int

const (
	// WriteOK means the remote store reflects the mutation.
	WriteOK WriteResult = iota

	// WriteRetriable means the write failed but a later retry may succeed:
	// network failure, timeout, throttling, server error, or a credential
	// that stayed stale after one refresh.
	WriteRetriable

	// WritePermanent means retrying the identical write cannot succeed,
	// e.g. the entity does not map to a valid document.
	WritePermanent
)

func (r WriteResult) String() string {
	switch r {
	case WriteOK:
		return "ok"
	case WriteRetriable:
		return "retriable"
	case WritePermanent:
		return "permanent"
	}
	return fmt.Sprintf("WriteResult(%d)", int(r))
}

// Client talks to the remote document store for one project.
type Client struct {
	httpClient *http.Client
	scheme     string
	host       string
	projectID  string
	tokens     TokenSource
}

type ClientOpt func(*Client)

// WithHost overrides the document store host (scheme-less host[:port]).
func WithHost(host string) ClientOpt {
	return func(c *Client) { c.host = host }
}

// WithHTTPClient overrides the HTTP client, including its timeout.
func WithHTTPClient(httpClient *http.Client) ClientOpt {
	return func(c *Client) { c.httpClient = httpClient }
}

// New creates a Client.  The default HTTP client carries a bounded timeout so
// a hung connection degrades into a retriable sync failure.
func New(projectID string, tokens TokenSource, opts ...ClientOpt) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		scheme:     "https",
		host:       DefaultHost,
		projectID:  projectID,
		tokens:     tokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) documentURL(uid string, col dbtypes.Collection, id string) string {
	u := &url.URL{
		Scheme: c.scheme,
		Host:   c.host,
		Path: fmt.Sprintf("/v1/projects/%s/databases/(default)/documents/users/%s/%s/%s",
			c.projectID, uid, col, id),
	}
	return u.String()
}

func (c *Client) collectionURL(uid string, col dbtypes.Collection, pageToken string) string {
	u := &url.URL{
		Scheme: c.scheme,
		Host:   c.host,
		Path: fmt.Sprintf("/v1/projects/%s/databases/(default)/documents/users/%s/%s",
			c.projectID, uid, col),
	}
	q := url.Values{}
	q.Set("pageSize", "300")
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Write performs one mutation against users/{uid}/{collection}/{id}.  Add and
// update are both PATCH upserts; delete is idempotent, so deleting an
// already-deleted document reports WriteOK.
//
// On 401 the client refreshes the credential and retries exactly once before
// classifying the failure.
func (c *Client) Write(ctx context.Context, col dbtypes.Collection, id string, doc Document, action dbtypes.Action) (WriteResult, error) {
	uid := c.tokens.UserID()
	if uid == "" {
		return WriteRetriable, fmt.Errorf("no signed-in user")
	}

	var method string
	var body []byte
	switch action {
	case dbtypes.ActionAdd, dbtypes.ActionUpdate:
		method = http.MethodPatch
		raw, err := json.Marshal(struct {
			Fields Document `json:"fields"`
		}{Fields: doc})
		if err != nil {
			return WritePermanent, fmt.Errorf("while marshaling document %s/%s: %w", col, id, err)
		}
		body = raw
	case dbtypes.ActionDelete:
		method = http.MethodDelete
	default:
		return WritePermanent, fmt.Errorf("unknown action %q", action)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return WriteRetriable, fmt.Errorf("while getting credential: %w", err)
	}

	status, err := c.doWrite(ctx, method, c.documentURL(uid, col, id), body, token)
	if err != nil {
		return WriteRetriable, fmt.Errorf("while writing %s/%s: %w", col, id, err)
	}

	if status == http.StatusUnauthorized {
		token, err = c.tokens.Refresh(ctx)
		if err != nil {
			return WriteRetriable, fmt.Errorf("while refreshing credential: %w", err)
		}
		status, err = c.doWrite(ctx, method, c.documentURL(uid, col, id), body, token)
		if err != nil {
			return WriteRetriable, fmt.Errorf("while retrying %s/%s: %w", col, id, err)
		}
	}

	return classifyStatus(status, action)
}

func classifyStatus(status int, action dbtypes.Action) (WriteResult, error) {
	switch {
	case status >= 200 && status < 300:
		return WriteOK, nil
	case status == http.StatusNotFound && action == dbtypes.ActionDelete:
		return WriteOK, nil
	case status == http.StatusUnauthorized:
		return WriteRetriable, fmt.Errorf("still unauthorized after credential refresh")
	case status == http.StatusTooManyRequests || status >= 500:
		return WriteRetriable, fmt.Errorf("bad status code %d", status)
	default:
		return WritePermanent, fmt.Errorf("bad status code %d", status)
	}
}

func (c *Client) doWrite(ctx context.Context, method, url string, body []byte, token string) (int, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return 0, fmt.Errorf("while making request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}

type listResponse struct {
	Documents []struct {
		Name   string   `json:"name"`
		Fields Document `json:"fields"`
	} `json:"documents"`
	NextPageToken string `json:"nextPageToken"`
}

// ListCollection fetches every document under users/{uid}/{collection},
// following pagination.
func (c *Client) ListCollection(ctx context.Context, col dbtypes.Collection) ([]Document, error) {
	uid := c.tokens.UserID()
	if uid == "" {
		return nil, fmt.Errorf("no signed-in user")
	}

	var docs []Document
	pageToken := ""
	for {
		page, err := c.listPage(ctx, uid, col, pageToken)
		if err != nil {
			return nil, fmt.Errorf("while listing %s: %w", col, err)
		}
		for _, d := range page.Documents {
			docs = append(docs, d.Fields)
		}
		if page.NextPageToken == "" {
			return docs, nil
		}
		pageToken = page.NextPageToken
	}
}

func (c *Client) listPage(ctx context.Context, uid string, col dbtypes.Collection, pageToken string) (*listResponse, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("while getting credential: %w", err)
	}

	resp, body, err := c.doGet(ctx, c.collectionURL(uid, col, pageToken), token)
	if err != nil {
		return nil, err
	}

	if resp == http.StatusUnauthorized {
		token, err = c.tokens.Refresh(ctx)
		if err != nil {
			return nil, fmt.Errorf("while refreshing credential: %w", err)
		}
		resp, body, err = c.doGet(ctx, c.collectionURL(uid, col, pageToken), token)
		if err != nil {
			return nil, err
		}
	}

	if resp != http.StatusOK {
		return nil, fmt.Errorf("bad status code %d", resp)
	}

	page := &listResponse{}
	if err := json.Unmarshal(body, page); err != nil {
		return nil, fmt.Errorf("while unmarshaling list response: %w", err)
	}
	return page, nil
}

func (c *Client) doGet(ctx context.Context, url, token string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("while making request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("while reading body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		slog.DebugContext(ctx, "Non-OK list page", slog.Int("status", resp.StatusCode))
	}
	return resp.StatusCode, body, nil
}
