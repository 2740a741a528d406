package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"

	"github.com/taskbeacon/taskbeacon/pkg/models"
)

func TestTelegramDeliver(t *testing.T) {
	var gotPath string
	var gotPayload map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotPayload)
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	ch := NewTelegramChannelForTest("bot-token", srv.URL, srv.Client())
	msg := Message{Subject: "Task Reminder - 1 Day Left", Body: "due tomorrow"}
	if err := ch.Deliver(context.Background(), "12345", msg); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	if gotPath != "/botbot-token/sendMessage" {
		t.Errorf("path = %q", gotPath)
	}
	if gotPayload["chat_id"] != "12345" {
		t.Errorf("chat_id = %q", gotPayload["chat_id"])
	}
	if !strings.Contains(gotPayload["text"], "Task Reminder - 1 Day Left") {
		t.Errorf("text = %q", gotPayload["text"])
	}
}

func TestTelegramDeliverErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	ch := NewTelegramChannelForTest("t", srv.URL, srv.Client())
	err := ch.Deliver(context.Background(), "12345", Message{Subject: "x"})
	if models.KindOf(err) != models.ErrDelivery {
		t.Errorf("expected Delivery kind, got %v", err)
	}
}

func TestPushHubDeliver(t *testing.T) {
	hub := NewPushHub()

	ch, cancel := hub.Subscribe("user-1", 4)
	defer cancel()

	msg := Message{Subject: "Task Reminder - 2 Hours Left"}
	if err := hub.Deliver(context.Background(), "user-1", msg); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	select {
	case got := <-ch:
		if got.Subject != msg.Subject {
			t.Errorf("subject = %q", got.Subject)
		}
	default:
		t.Fatal("message not delivered to subscriber")
	}
}

func TestPushHubNoSubscribers(t *testing.T) {
	hub := NewPushHub()
	err := hub.Deliver(context.Background(), "ghost", Message{Subject: "x"})
	if models.KindOf(err) != models.ErrDelivery {
		t.Errorf("expected Delivery kind, got %v", err)
	}
}

func TestPushHubUnsubscribe(t *testing.T) {
	hub := NewPushHub()
	_, cancel := hub.Subscribe("user-1", 1)
	cancel()

	if err := hub.Deliver(context.Background(), "user-1", Message{}); err == nil {
		t.Error("expected delivery failure after unsubscribe")
	}
}

func TestEmailDeliver(t *testing.T) {
	var gotTo []string
	var gotBody string
	ch := &EmailChannel{
		host: "mail.example.com", port: 587, from: "beacon@example.com",
		send: func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
			gotTo = to
			gotBody = string(msg)
			return nil
		},
	}

	err := ch.Deliver(context.Background(), "dev@example.com", Message{
		Subject: "Task Reminder - 3 Days Left", Body: "heads up",
	})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if len(gotTo) != 1 || gotTo[0] != "dev@example.com" {
		t.Errorf("to = %v", gotTo)
	}
	if !strings.Contains(gotBody, "Subject: Task Reminder - 3 Days Left") {
		t.Errorf("body = %q", gotBody)
	}
}

func TestEmailDeliverRequiresAddress(t *testing.T) {
	ch := &EmailChannel{
		send: func(string, smtp.Auth, string, []string, []byte) error {
			return errors.New("should not be called")
		},
	}
	err := ch.Deliver(context.Background(), "not-an-address", Message{})
	if models.KindOf(err) != models.ErrDelivery {
		t.Errorf("expected Delivery kind, got %v", err)
	}
}
