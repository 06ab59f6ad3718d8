package mem0

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAddReturnsLastResultID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/memories/" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Token test-key" {
			t.Errorf("auth header = %q", got)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req["user_id"] != "user:wa:+15551234567" {
			t.Errorf("user_id = %v", req["user_id"])
		}
		w.Write([]byte(`{"results":[{"id":"mem-1"},{"id":"mem-2"}]}`))
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	id, err := c.Add(context.Background(), "I got a haircut today", "user:wa:+15551234567", nil)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if id != "mem-2" {
		t.Errorf("Add = %q, want mem-2", id)
	}
}

func TestAddEmptyResultsIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	if _, err := c.Add(context.Background(), "content", "user:wa:x", nil); err == nil {
		t.Fatal("expected error for empty results")
	}
}

func TestSearchDecodesBareArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/memories/search/" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(`[{"id":"mem-1","memory":"Meeting with John at 3pm","created_at":"2026-08-30T12:00:00Z"}]`))
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	hits, err := c.Search(context.Background(), "meeting John", "user:wa:x", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if hits[0].Content != "Meeting with John at 3pm" {
		t.Errorf("content = %q", hits[0].Content)
	}
	if hits[0].Type != "text" {
		t.Errorf("missing type should default to text, got %q", hits[0].Type)
	}
}

func TestSearchDecodesWrappedResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[{"id":"mem-9","memory":"grocery list"}]}`))
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	hits, err := c.Search(context.Background(), "groceries", "user:wa:x", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "mem-9" {
		t.Errorf("unexpected hits: %+v", hits)
	}
}

func TestListEscapesUserKey(t *testing.T) {
	var gotUserID, gotLimit string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = r.URL.Query().Get("user_id")
		gotLimit = r.URL.Query().Get("limit")
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	// E.164 channel ids put a '+' in the key; an unescaped query string
	// would decode it to a space on the server side.
	c := NewClientWithBaseURL("test-key", srv.URL)
	if _, err := c.List(context.Background(), "user:wa:+14155551234", 10); err != nil {
		t.Fatalf("List: %v", err)
	}
	if gotUserID != "user:wa:+14155551234" {
		t.Errorf("server saw user_id %q, want %q", gotUserID, "user:wa:+14155551234")
	}
	if gotLimit != "10" {
		t.Errorf("server saw limit %q, want 10", gotLimit)
	}
}

func TestErrorStatusPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	if _, err := c.List(context.Background(), "user:wa:x", 10); err == nil {
		t.Fatal("expected error for 502")
	}
}
