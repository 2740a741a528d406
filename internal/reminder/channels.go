package reminder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"github.com/taskbeacon/taskbeacon/pkg/models"
)

// DeliveryChannel sends one message to one user.
type DeliveryChannel interface {
	Name() models.Channel
	Deliver(ctx context.Context, userID string, msg Message) error
}

// TelegramChannel delivers through the Telegram bot API. The user ID
// doubles as the chat ID.
type TelegramChannel struct {
	token   string
	baseURL string
	client  *http.Client
}

// NewTelegramChannel builds a channel for the given bot token.
func NewTelegramChannel(token string) *TelegramChannel {
	return &TelegramChannel{
		token:   token,
		baseURL: "https://api.telegram.org",
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// NewTelegramChannelForTest points the channel at a fake API server.
func NewTelegramChannelForTest(token, baseURL string, client *http.Client) *TelegramChannel {
	return &TelegramChannel{token: token, baseURL: baseURL, client: client}
}

func (t *TelegramChannel) Name() models.Channel {
	return models.ChannelTelegram
}

func (t *TelegramChannel) Deliver(ctx context.Context, userID string, msg Message) error {
	payload, err := json.Marshal(map[string]string{
		"chat_id": userID,
		"text":    msg.Subject + "\n\n" + msg.Body,
	})
	if err != nil {
		return models.Errorf(models.ErrDelivery, "telegram: encode payload: %v", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return models.Errorf(models.ErrDelivery, "telegram: build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return models.Errorf(models.ErrDelivery, "telegram: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.Errorf(models.ErrDelivery, "telegram: status %d", resp.StatusCode)
	}
	return nil
}

// PushHub delivers to in-process subscribers. Connected clients (the
// websocket layer, the TUI of another process over IPC, tests) register
// a buffered channel per user.
type PushHub struct {
	mu   sync.RWMutex
	subs map[string][]chan Message
}

// NewPushHub creates an empty hub.
func NewPushHub() *PushHub {
	return &PushHub{subs: make(map[string][]chan Message)}
}

// Subscribe registers a receiver for a user. The returned cancel
// removes it again.
func (h *PushHub) Subscribe(userID string, buffer int) (<-chan Message, func()) {
	ch := make(chan Message, buffer)
	h.mu.Lock()
	h.subs[userID] = append(h.subs[userID], ch)
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs := h.subs[userID]
		for i, c := range subs {
			if c == ch {
				h.subs[userID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
	return ch, cancel
}

func (h *PushHub) Name() models.Channel {
	return models.ChannelPush
}

// Deliver fans the message out to the user's subscribers. Delivery
// fails when the user has none connected, so another channel gets a
// chance.
func (h *PushHub) Deliver(ctx context.Context, userID string, msg Message) error {
	h.mu.RLock()
	subs := h.subs[userID]
	h.mu.RUnlock()

	if len(subs) == 0 {
		return models.Errorf(models.ErrDelivery, "push: no subscribers for user %s", userID)
	}
	delivered := 0
	for _, ch := range subs {
		select {
		case ch <- msg:
			delivered++
		default:
			// Receiver too slow, drop rather than block dispatch.
		}
	}
	if delivered == 0 {
		return models.Errorf(models.ErrDelivery, "push: all subscriber buffers full for user %s", userID)
	}
	return nil
}

// EmailChannel delivers over SMTP. The user ID is the recipient
// address.
type EmailChannel struct {
	host string
	port int
	from string
	auth smtp.Auth
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailChannel builds an SMTP-backed channel.
func NewEmailChannel(host string, port int, from, username, password string) *EmailChannel {
	var auth smtp.Auth
	if username != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}
	return &EmailChannel{host: host, port: port, from: from, auth: auth, send: smtp.SendMail}
}

func (e *EmailChannel) Name() models.Channel {
	return models.ChannelEmail
}

func (e *EmailChannel) Deliver(ctx context.Context, userID string, msg Message) error {
	if !strings.Contains(userID, "@") {
		return models.Errorf(models.ErrDelivery, "email: user %s has no address", userID)
	}
	body := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		e.from, userID, msg.Subject, msg.Body)

	addr := fmt.Sprintf("%s:%d", e.host, e.port)
	if err := e.send(addr, e.auth, e.from, []string{userID}, []byte(body)); err != nil {
		return models.Errorf(models.ErrDelivery, "email: %v", err)
	}
	return nil
}
