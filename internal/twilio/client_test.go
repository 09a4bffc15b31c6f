package twilio

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSendMessage(t *testing.T) {
	var gotPath string
	var gotForm map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		r.ParseForm()
		gotForm = map[string]string{
			"From":           r.PostForm.Get("From"),
			"To":             r.PostForm.Get("To"),
			"Body":           r.PostForm.Get("Body"),
			"StatusCallback": r.PostForm.Get("StatusCallback"),
		}

		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC123" || pass != "token" {
			t.Errorf("unexpected basic auth: %s %s", user, pass)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sid":"SM123","status":"queued"}`))
	}))
	defer server.Close()

	client := NewClientWithBaseURL(server.URL, "AC123", "token")
	message, err := client.SendMessage(context.Background(), SendParams{
		From:           "+15550001111",
		To:             "+15552223333",
		Body:           "hello",
		StatusCallback: "https://example.com/status",
	})
	if err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}

	if message.SID != "SM123" {
		t.Errorf("sid = %q, want SM123", message.SID)
	}
	if message.Status != "queued" {
		t.Errorf("status = %q, want queued", message.Status)
	}
	if gotPath != "/2010-04-01/Accounts/AC123/Messages.json" {
		t.Errorf("path = %q", gotPath)
	}
	if gotForm["From"] != "+15550001111" || gotForm["To"] != "+15552223333" || gotForm["Body"] != "hello" {
		t.Errorf("unexpected form: %v", gotForm)
	}
	if gotForm["StatusCallback"] != "https://example.com/status" {
		t.Errorf("status callback = %q", gotForm["StatusCallback"])
	}
}

func TestSendMessageAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":21211,"message":"The 'To' number is not a valid phone number.","status":400}`))
	}))
	defer server.Close()

	client := NewClientWithBaseURL(server.URL, "AC123", "token")
	_, err := client.SendMessage(context.Background(), SendParams{From: "+1", To: "bad", Body: "x"})
	if err == nil {
		t.Fatal("expected error")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Code != 21211 {
		t.Errorf("code = %d, want 21211", apiErr.Code)
	}
	if apiErr.HTTPStatus != http.StatusBadRequest {
		t.Errorf("http status = %d, want 400", apiErr.HTTPStatus)
	}
}

func TestSendMessageMissingSID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClientWithBaseURL(server.URL, "AC123", "token")
	if _, err := client.SendMessage(context.Background(), SendParams{From: "+1", To: "+2", Body: "x"}); err == nil {
		t.Fatal("expected error for response without sid")
	}
}
