package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/israfil-hossain/mediremind/dbtypes"
)

type fakeTokens struct {
	uid       string
	token     string
	refreshes int
}

func (f *fakeTokens) UserID() string { return f.uid }

func (f *fakeTokens) Token(ctx context.Context) (string, error) { return f.token, nil }

func (f *fakeTokens) Refresh(ctx context.Context) (string, error) {
	f.refreshes++
	f.token = fmt.Sprintf("refreshed-%d", f.refreshes)
	return f.token, nil
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *fakeTokens) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	tokens := &fakeTokens{uid: "u1", token: "tok-0"}
	c := New("test-project", tokens)
	c.scheme = "http"
	c.host = strings.TrimPrefix(srv.URL, "http://")
	return c, tokens
}

func TestWriteUpsert(t *testing.T) {
	var gotPath, gotMethod, gotAuth string
	var gotBody struct {
		Fields Document `json:"fields"`
	}
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))

	med := &dbtypes.Medication{ID: "m1", Name: "Lisinopril"}
	res, err := c.Write(context.Background(), dbtypes.CollectionMedications, "m1", EncodeMedication(med), dbtypes.ActionAdd)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if res != WriteOK {
		t.Errorf("Bad result; got %v, want %v", res, WriteOK)
	}
	wantPath := "/v1/projects/test-project/databases/(default)/documents/users/u1/medications/m1"
	if gotPath != wantPath {
		t.Errorf("Bad path; got %q, want %q", gotPath, wantPath)
	}
	if gotMethod != http.MethodPatch {
		t.Errorf("Bad method; got %q, want PATCH", gotMethod)
	}
	if gotAuth != "Bearer tok-0" {
		t.Errorf("Bad Authorization header; got %q", gotAuth)
	}
	var name string
	if err := gotBody.Fields["name"].AsString(&name); err != nil || name != "Lisinopril" {
		t.Errorf("Bad document body; name=%q err=%v", name, err)
	}
}

func TestWriteRefreshesOnceOn401(t *testing.T) {
	var auths []string
	c, tokens := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auths = append(auths, r.Header.Get("Authorization"))
		if r.Header.Get("Authorization") == "Bearer tok-0" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	res, err := c.Write(context.Background(), dbtypes.CollectionDoseEvents, "d1", Document{}, dbtypes.ActionUpdate)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if res != WriteOK {
		t.Errorf("Bad result; got %v, want %v", res, WriteOK)
	}
	if tokens.refreshes != 1 {
		t.Errorf("Expected exactly one refresh, got %d", tokens.refreshes)
	}
	if len(auths) != 2 || auths[1] != "Bearer refreshed-1" {
		t.Errorf("Bad request sequence: %v", auths)
	}
}

func TestWriteStillUnauthorizedIsRetriable(t *testing.T) {
	requests := 0
	c, tokens := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusUnauthorized)
	}))

	res, err := c.Write(context.Background(), dbtypes.CollectionDoseEvents, "d1", Document{}, dbtypes.ActionUpdate)
	if err == nil {
		t.Fatalf("Expected error for persistent 401")
	}
	if res != WriteRetriable {
		t.Errorf("Bad result; got %v, want %v", res, WriteRetriable)
	}
	if tokens.refreshes != 1 {
		t.Errorf("Expected exactly one refresh, got %d", tokens.refreshes)
	}
	if requests != 2 {
		t.Errorf("Expected exactly two requests, got %d", requests)
	}
}

func TestWriteClassification(t *testing.T) {
	tests := []struct {
		status int
		action dbtypes.Action
		want   WriteResult
	}{
		{http.StatusOK, dbtypes.ActionAdd, WriteOK},
		{http.StatusNotFound, dbtypes.ActionDelete, WriteOK},
		{http.StatusNotFound, dbtypes.ActionUpdate, WritePermanent},
		{http.StatusBadRequest, dbtypes.ActionAdd, WritePermanent},
		{http.StatusTooManyRequests, dbtypes.ActionAdd, WriteRetriable},
		{http.StatusInternalServerError, dbtypes.ActionAdd, WriteRetriable},
		{http.StatusServiceUnavailable, dbtypes.ActionDelete, WriteRetriable},
	}
	for _, tc := range tests {
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		res, _ := c.Write(context.Background(), dbtypes.CollectionMedications, "m1", Document{}, tc.action)
		if res != tc.want {
			t.Errorf("status=%d action=%s: got %v, want %v", tc.status, tc.action, res, tc.want)
		}
	}
}

func TestWriteNetworkFailureIsRetriable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	tokens := &fakeTokens{uid: "u1", token: "tok-0"}
	c := New("test-project", tokens)
	c.scheme = "http"
	c.host = strings.TrimPrefix(srv.URL, "http://")
	srv.Close() // connection refused from here on

	res, err := c.Write(context.Background(), dbtypes.CollectionMedications, "m1", Document{}, dbtypes.ActionAdd)
	if err == nil {
		t.Fatalf("Expected network error")
	}
	if res != WriteRetriable {
		t.Errorf("Bad result; got %v, want %v", res, WriteRetriable)
	}
}

func TestListCollectionPaginates(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("pageToken") == "" {
			fmt.Fprint(w, `{"documents":[{"name":"a","fields":{"id":{"stringValue":"d1"}}}],"nextPageToken":"p2"}`)
			return
		}
		fmt.Fprint(w, `{"documents":[{"name":"b","fields":{"id":{"stringValue":"d2"}}}]}`)
	}))

	docs, err := c.ListCollection(context.Background(), dbtypes.CollectionDoseEvents)
	if err != nil {
		t.Fatalf("ListCollection: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("Expected 2 documents across pages, got %d", len(docs))
	}
	var id string
	if err := docs[1]["id"].AsString(&id); err != nil || id != "d2" {
		t.Errorf("Bad second page document; id=%q err=%v", id, err)
	}
}

func TestListCollectionEmpty(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))

	docs, err := c.ListCollection(context.Background(), dbtypes.CollectionMedications)
	if err != nil {
		t.Fatalf("ListCollection: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("Expected no documents, got %d", len(docs))
	}
}
