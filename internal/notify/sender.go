package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/resend/resend-go/v3"

	"github.com/kuitang/handover-verify/internal/obs"
)

// Message is one outgoing email.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Sender delivers a Message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// ResendSender sends through the Resend API.
type ResendSender struct {
	client      *resend.Client
	fromAddress string
}

// NewResendSender creates a Resend sender. fromAddress must be verified in Resend.
func NewResendSender(apiKey, fromAddress string) *ResendSender {
	return &ResendSender{
		client:      resend.NewClient(apiKey),
		fromAddress: fromAddress,
	}
}

func (r *ResendSender) Send(ctx context.Context, msg Message) error {
	params := &resend.SendEmailRequest{
		From:    r.fromAddress,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
		Text:    msg.Text,
	}
	if _, err := r.client.Emails.SendWithContext(ctx, params); err != nil {
		return fmt.Errorf("resend: failed to send email: %w", err)
	}
	return nil
}

// OutboxRecipient addresses outbox messages when no recipient is configured.
const OutboxRecipient = "verify@handover.local"

// Outbox captures messages instead of sending them. Each message is also written
// as a JSON file under dir so a human (or another process) can inspect it.
type Outbox struct {
	mu       sync.Mutex
	Messages []Message
	dir      string
	seq      uint64
}

// NewOutbox creates an outbox writing to dir. An empty dir keeps messages in memory only.
func NewOutbox(dir string) *Outbox {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			obs.Pkg("notify").Warn("outbox_dir_create_failed", "dir", dir, "error", err)
			dir = ""
		}
	}
	return &Outbox{dir: dir}
}

func (o *Outbox) Send(_ context.Context, msg Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Messages = append(o.Messages, msg)
	obs.Pkg("notify").Info("outbox_message", "to", msg.To, "subject", msg.Subject)
	return o.write(msg)
}

// Last returns the most recent message, or the zero value.
func (o *Outbox) Last() Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.Messages) == 0 {
		return Message{}
	}
	return o.Messages[len(o.Messages)-1]
}

// Count returns the number of captured messages.
func (o *Outbox) Count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.Messages)
}

type outboxEvent struct {
	Sequence       uint64 `json:"sequence"`
	To             string `json:"to"`
	Subject        string `json:"subject"`
	Text           string `json:"text"`
	SentAtUnixNano int64  `json:"sent_at_unix_nano"`
}

func (o *Outbox) write(msg Message) error {
	if o.dir == "" {
		return nil
	}
	o.seq++
	event := outboxEvent{
		Sequence:       o.seq,
		To:             msg.To,
		Subject:        msg.Subject,
		Text:           msg.Text,
		SentAtUnixNano: time.Now().UnixNano(),
	}

	finalPath := filepath.Join(o.dir, fmt.Sprintf("%020d-%020d-%s.json",
		event.Sequence, event.SentAtUnixNano, sanitizeComponent(msg.To)))
	tempPath := finalPath + ".tmp"

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal outbox event: %w", err)
	}
	if err := os.WriteFile(tempPath, payload, 0o644); err != nil {
		return fmt.Errorf("write outbox temp file: %w", err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("rename outbox file: %w", err)
	}
	return nil
}

var sanitizePattern = regexp.MustCompile(`[^a-zA-Z0-9._@-]+`)

func sanitizeComponent(input string) string {
	safe := strings.TrimSpace(input)
	if safe == "" {
		return "unknown"
	}
	return sanitizePattern.ReplaceAllString(safe, "_")
}
