package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"secretaria/internal/models"
	"secretaria/internal/session"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", func() string { return "tok" }, opts...)
}

func TestOpenStreamSendsBodyAndBearer(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat/conversations/12/messages" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("unexpected auth header %q", got)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["content"] != "hola" || body["use_search"] != true || body["generate_doc"] != false {
			t.Errorf("unexpected body %v", body)
		}
		if _, ok := body["doc_format"]; ok {
			t.Errorf("doc_format should be omitted when empty")
		}
		ids, _ := body["file_ids"].([]any)
		if len(ids) != 1 || ids[0] != float64(5) {
			t.Errorf("unexpected file ids %v", body["file_ids"])
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: [USER_MSG_ID:1]\n\ndata: hi\n\ndata: [MSG_ID:2]\n\ndata: [DONE]\n\n")
	})

	reg := session.NewRegistry(c)
	s, err := reg.Send(context.Background(), session.SendRequest{
		ConversationID: 12, Content: "hola", UseSearch: true, FileIDs: []int64{5},
	}, nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	reply := s.Reply()
	if reply.Content != "hi" || reply.ID == nil || *reply.ID != 2 {
		t.Fatalf("unexpected reply %+v", reply)
	}
}

func TestUnauthorizedTriggersHook(t *testing.T) {
	hooked := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":"invalid token"}`)
	}, WithUnauthorizedHook(func() { hooked++ }))

	_, err := c.OpenStream(context.Background(), session.SendRequest{ConversationID: 1, Content: "x"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := c.ListConversations(context.Background()); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized from list, got %v", err)
	}
	if hooked != 2 {
		t.Fatalf("expected hook twice, got %d", hooked)
	}

	// failed logins are plain request errors
	if _, err := c.Login(context.Background(), "a", "b"); errors.Is(err, ErrUnauthorized) || !errors.Is(err, ErrRequestFailed) {
		t.Fatalf("expected request failure on login, got %v", err)
	}
	if hooked != 2 {
		t.Fatalf("login failure must not run the hook")
	}
}

func TestNon2xxCarriesDetail(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"detail":"Conversation not found"}`)
	})
	_, err := c.ListMessages(context.Background(), 99)
	if !errors.Is(err, ErrRequestFailed) || !strings.Contains(err.Error(), "Conversation not found") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestUploadSendsMultipart(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/upload/conversations/3/files" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if header.Filename != "notes.txt" || string(data) != "contenido" {
			t.Errorf("unexpected upload %s %q", header.Filename, data)
		}
		io.WriteString(w, `{"id":40,"filename":"notes.txt","size_bytes":9,"file_type":"document"}`)
	})
	ref, err := c.Upload(context.Background(), 3, "notes.txt", strings.NewReader("contenido"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if ref.ID != 40 || ref.Kind != models.FileKindDocument || ref.SizeBytes == nil || *ref.SizeBytes != 9 {
		t.Fatalf("unexpected file ref %+v", ref)
	}
}

func TestForwardBulk(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			MessageIDs []int64 `json:"message_ids"`
			ContactID  int64   `json:"contact_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if len(body.MessageIDs) != 2 || body.ContactID != 8 {
			t.Errorf("unexpected body %+v", body)
		}
		io.WriteString(w, `{"ok":false,"detail":"1 of 2 messages failed"}`)
	})
	res, err := c.ForwardBulk(context.Background(), []int64{1, 2}, 8)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if res.OK || res.Detail != "1 of 2 messages failed" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestFileListingsQueryKind(t *testing.T) {
	var paths []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.RequestURI())
		io.WriteString(w, `[{"id":3,"conversation_id":9,"filename":"minutes.md","file_type":"generated"}]`)
	})
	ctx := context.Background()
	if _, err := c.ListFiles(ctx, ""); err != nil {
		t.Fatalf("list files: %v", err)
	}
	if _, err := c.ListFiles(ctx, models.FileKindImage); err != nil {
		t.Fatalf("list images: %v", err)
	}
	docs, err := c.ListDocuments(ctx)
	if err != nil {
		t.Fatalf("list documents: %v", err)
	}
	if len(docs) != 1 || docs[0].Kind != models.FileKindGenerated || docs[0].ConversationID != 9 {
		t.Fatalf("unexpected documents %+v", docs)
	}
	if _, err := c.ConversationFiles(ctx, 9); err != nil {
		t.Fatalf("conversation files: %v", err)
	}
	want := []string{"/api/files", "/api/files?type=image", "/api/documents", "/api/upload/conversations/9/files"}
	if strings.Join(paths, " ") != strings.Join(want, " ") {
		t.Fatalf("paths = %v, want %v", paths, want)
	}
}

func TestContactRemovalAndHistory(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodDelete && r.URL.Path == "/api/telegram/contacts/5":
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"error":"contact not found"}`)
		case r.URL.Path == "/api/telegram/history":
			io.WriteString(w, `[{"id":1,"contact_id":5,"message_id":7,"status":"error","detail":"chat unreachable"}]`)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})
	ctx := context.Background()
	history, err := c.ForwardHistory(ctx)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Status != models.ForwardError || history[0].Detail != "chat unreachable" {
		t.Fatalf("unexpected history %+v", history)
	}
	if err := c.DeleteContact(ctx, 5); err != nil {
		t.Fatalf("delete contact: %v", err)
	}
	err = c.DeleteContact(ctx, 6)
	if !errors.Is(err, ErrRequestFailed) || !strings.Contains(err.Error(), "contact not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestDeleteAccountSendsPassword(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/api/auth/account" || r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body struct {
			Password string `json:"password"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.Password != "secret" {
			w.WriteHeader(http.StatusForbidden)
			io.WriteString(w, `{"error":"invalid credentials"}`)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	if err := c.DeleteAccount(context.Background(), "wrong"); !errors.Is(err, ErrRequestFailed) {
		t.Fatalf("expected failure for wrong password, got %v", err)
	}
	if err := c.DeleteAccount(context.Background(), "secret"); err != nil {
		t.Fatalf("delete account: %v", err)
	}
}
