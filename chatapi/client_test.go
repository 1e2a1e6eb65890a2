package chatapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/thaya-health/consult/internal/types"
)

func TestFetchConversation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/assistants/thaya-md/chat" {
			t.Errorf("path = %q, want /assistants/thaya-md/chat", r.URL.Path)
		}
		if got := r.URL.Query().Get("userId"); got != "u-1" {
			t.Errorf("userId = %q, want u-1", got)
		}
		if got := r.Header.Get("x-user-email"); got != "doc@example.test" {
			t.Errorf("x-user-email = %q, want doc@example.test", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[
			{"id":"m1","role":"user","content":"Hello"},
			{"id":"m2","role":"assistant","content":"Hi there","references":[{"id":"r1","displayName":"chart"}]}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, UserEmail: "doc@example.test"})
	msgs, err := c.FetchConversation(context.Background(), "thaya-md", "u-1")
	if err != nil {
		t.Fatalf("FetchConversation: %v", err)
	}

	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if msgs[0].Role != types.RoleUser || msgs[0].Content != "Hello" {
		t.Errorf("first message = %+v", msgs[0])
	}
	if len(msgs[1].References) != 1 || msgs[1].References[0].DisplayName != "chart" {
		t.Errorf("references = %+v, want the chart reference", msgs[1].References)
	}
}

func TestFetchConversation_EmptyItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	msgs, err := c.FetchConversation(context.Background(), "thaya-md", "u-1")
	if err != nil {
		t.Fatalf("FetchConversation: %v", err)
	}
	if msgs == nil || len(msgs) != 0 {
		t.Errorf("messages = %v, want empty non-nil slice", msgs)
	}
}

func TestFetchConversation_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	if _, err := c.FetchConversation(context.Background(), "thaya-md", "u-1"); err == nil {
		t.Error("expected error for status 500")
	}
}
