package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"council/internal/council"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Options{
		BaseURL: server.URL,
		Logger:  zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client, server
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(Options{}); !errors.Is(err, ErrBaseURLRequired) {
		t.Fatalf("error = %v, want %v", err, ErrBaseURLRequired)
	}
}

func TestListConversations(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/conversations" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		fmt.Fprint(w, `[{"id":"c1","title":"Primes","created_at":"2025-01-02T03:04:05Z","message_count":4,"mode":"council"}]`)
	}))

	metas, err := client.ListConversations(context.Background())
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(metas) != 1 || metas[0].ID != "c1" || metas[0].MessageCount != 4 {
		t.Fatalf("metas = %#v", metas)
	}
}

func TestCreateConversationSendsMode(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		var body map[string]string
		if err := decodeJSONBody(r, &body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["mode"] != "chat" {
			t.Errorf("mode = %q", body["mode"])
		}
		fmt.Fprint(w, `{"id":"c2","mode":"chat","messages":[]}`)
	}))

	conv, err := client.CreateConversation(context.Background(), council.ModeChat)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if conv.ID != "c2" || conv.Mode != council.ModeChat {
		t.Fatalf("conversation = %#v", conv)
	}
}

func TestGetConversationDecodesStages(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"id": "c3",
			"messages": [
				{"role": "user", "content": "hi"},
				{"role": "assistant", "message_type": "council", "stages": [
					{"id": "s1", "kind": "responses", "status": "complete",
					 "results": [{"model": "alpha", "response": "hello", "status": "ok"}]},
					{"id": "s3", "kind": "synthesis", "status": "complete",
					 "results": {"model": "chairman", "response": "Hello."}}
				]}
			]
		}`)
	}))

	conv, err := client.GetConversation(context.Background(), "c3")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	stages := conv.LastMessage().Stages
	if len(stages) != 2 {
		t.Fatalf("stage count = %d", len(stages))
	}
	if stages[0].Results[0].Response != "hello" {
		t.Fatalf("responses stage = %#v", stages[0])
	}
	if stages[1].Synthesis == nil || stages[1].Synthesis.Model != "chairman" {
		t.Fatalf("synthesis stage = %#v", stages[1])
	}
}

func TestCredentialHeader(t *testing.T) {
	t.Parallel()

	var got string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		fmt.Fprint(w, `[]`)
	}))

	if _, err := client.ListConversations(context.Background()); err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if got != "" {
		t.Fatalf("unexpected auth header %q before Set", got)
	}

	client.Credential().Set("secret-key")
	if _, err := client.ListConversations(context.Background()); err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if got != "Bearer secret-key" {
		t.Fatalf("auth header = %q", got)
	}

	client.Credential().Clear()
	if _, err := client.ListConversations(context.Background()); err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if got != "" {
		t.Fatalf("auth header survived Clear: %q", got)
	}
}

func TestUnauthorizedMapsToSentinel(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		_, err := client.ListConversations(context.Background())
		if !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("status %d: error = %v, want %v", status, err, ErrUnauthorized)
		}
	}
}

func TestNotFoundMapsToSentinel(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	_, err := client.GetConversation(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want %v", err, ErrNotFound)
	}
}

func TestDeleteAndRestore(t *testing.T) {
	t.Parallel()

	var deleted, restored bool
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodDelete && r.URL.Path == "/api/conversations/c4":
			deleted = true
			fmt.Fprint(w, `{"status":"ok","deleted":true}`)
		case r.Method == http.MethodPost && r.URL.Path == "/api/conversations/c4/restore":
			restored = true
			fmt.Fprint(w, `{"status":"ok","restored":true,"conversation":{"id":"c4","title":"Back"}}`)
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))

	if err := client.DeleteConversation(context.Background(), "c4"); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	conv, err := client.RestoreConversation(context.Background(), "c4")
	if err != nil {
		t.Fatalf("RestoreConversation: %v", err)
	}
	if !deleted || !restored {
		t.Fatalf("server saw deleted=%v restored=%v", deleted, restored)
	}
	if conv == nil || conv.Title != "Back" {
		t.Fatalf("restored conversation = %#v", conv)
	}
}

func TestSendMessageWithoutStreaming(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/conversations/c6/message" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		if err := decodeJSONBody(r, &body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["content"] != "hello" || body["force"] != true {
			t.Errorf("body = %#v", body)
		}
		fmt.Fprint(w, `{"id":"c6","messages":[{"role":"user","content":"hello"},{"role":"assistant","message_type":"speaker","response":"hi"}]}`)
	}))

	conv, err := client.SendMessage(context.Background(), "c6", "hello", true)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if got := conv.LastMessage().Response; got != "hi" {
		t.Fatalf("response = %q, want %q", got, "hi")
	}
}

func TestGetConversationInfo(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/conversations/c5/info" {
			t.Errorf("path = %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"remaining_messages":12}`)
	}))

	info, err := client.GetConversationInfo(context.Background(), "c5")
	if err != nil {
		t.Fatalf("GetConversationInfo: %v", err)
	}
	if info.RemainingMessages != 12 {
		t.Fatalf("remaining_messages = %d, want 12", info.RemainingMessages)
	}
}

func decodeJSONBody(r *http.Request, out any) error {
	defer func() { _ = r.Body.Close() }()
	return json.NewDecoder(r.Body).Decode(out)
}
