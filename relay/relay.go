// Package relay forwards inbound messages to the downstream application
// server and sends back any auto-reply it returns. Relay failures are logged
// and never touch session state; a broken webhook is not a connection problem.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chatwire/whatsapp-gateway/driver"
)

// Envelope is the normalized inbound message posted to the collaborator.
type Envelope struct {
	TenantID  string `json:"tenant_id"`
	From      string `json:"from"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp"`
	MessageID string `json:"message_id"`
}

type collaboratorResponse struct {
	AutoReply string `json:"auto_reply"`
}

// Notifier delivers inbound messages to a single collaborator endpoint.
type Notifier struct {
	url    string
	client *http.Client
	log    zerolog.Logger
}

// New creates a notifier for the given collaborator URL. An empty URL
// disables delivery; inbound messages are then logged and dropped.
func New(url string, log zerolog.Logger) *Notifier {
	return &Notifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log.With().Str("component", "relay").Logger(),
	}
}

// HandleInbound posts the message to the collaborator and, if the response
// carries an auto-reply, sends it back through the driver handle that
// produced the message.
func (n *Notifier) HandleInbound(ctx context.Context, tenantID string, msg driver.InboundMessage, d driver.Driver) {
	if n.url == "" {
		n.log.Debug().Str("tenant_id", tenantID).Msg("No collaborator configured, dropping inbound message")
		return
	}

	messageID := msg.ID
	if messageID == "" {
		messageID = uuid.New().String()
	}
	env := Envelope{
		TenantID:  tenantID,
		From:      msg.From,
		Body:      msg.Body,
		Timestamp: msg.Timestamp.Unix(),
		MessageID: messageID,
	}

	reply, err := n.deliver(ctx, env)
	if err != nil {
		n.log.Warn().Err(err).Str("tenant_id", tenantID).Str("message_id", messageID).Msg("Failed to deliver inbound message")
		return
	}
	if reply == "" {
		return
	}

	if d == nil {
		n.log.Warn().Str("tenant_id", tenantID).Msg("Auto-reply requested but session has no driver")
		return
	}
	if err := d.SendMessage(ctx, msg.From, reply); err != nil {
		n.log.Warn().Err(err).Str("tenant_id", tenantID).Str("to", msg.From).Msg("Failed to send auto-reply")
		return
	}
	n.log.Info().Str("tenant_id", tenantID).Str("to", msg.From).Msg("Auto-reply sent")
}

func (n *Notifier) deliver(ctx context.Context, env Envelope) (string, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("post to collaborator: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("collaborator returned status %d", resp.StatusCode)
	}

	var cr collaboratorResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("decode collaborator response: %w", err)
	}
	return cr.AutoReply, nil
}
