// Package wadriver implements the driver contract on top of whatsmeow. Each
// tenant gets its own whatsmeow client with an isolated sqlite credential
// store under the configured session root, so pairing state survives restarts
// and tenants never share transport resources.
package wadriver

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/chatwire/whatsapp-gateway/driver"
)

// Factory creates whatsmeow-backed drivers with credential stores under dataDir.
type Factory struct {
	dataDir string
	log     zerolog.Logger
}

var _ driver.Factory = (*Factory)(nil)

func NewFactory(dataDir string, log zerolog.Logger) *Factory {
	return &Factory{
		dataDir: dataDir,
		log:     log.With().Str("component", "wadriver").Logger(),
	}
}

// New constructs a client for the tenant. No I/O happens here; the credential
// store is opened in Initialize.
func (f *Factory) New(tenantID string, events driver.Events) (driver.Driver, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}
	lifeCtx, cancel := context.WithCancel(context.Background())
	return &Client{
		tenantID: tenantID,
		events:   events,
		dir:      filepath.Join(f.dataDir, "user_"+tenantID),
		log:      f.log.With().Str("tenant_id", tenantID).Logger(),
		lifeCtx:  lifeCtx,
		cancel:   cancel,
	}, nil
}

// Client is one tenant's WhatsApp connection.
type Client struct {
	tenantID string
	events   driver.Events
	dir      string
	log      zerolog.Logger

	// lifeCtx outlives the Initialize call; the QR channel and other
	// background work are bound to it and wound down by Destroy.
	lifeCtx context.Context
	cancel  context.CancelFunc

	mu sync.Mutex
	db *sql.DB
	wa *whatsmeow.Client
}

var _ driver.Driver = (*Client)(nil)

// Initialize opens the tenant's credential store, starts the connection and
// begins emitting lifecycle events. When no stored credentials exist, a
// pairing code stream is started and surfaces through Events.PairingCode.
func (c *Client) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(c.dir, 0o700); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}

	dbPath := filepath.Join(c.dir, "session.db")
	db, err := sql.Open("sqlite3", "file:"+dbPath+"?_foreign_keys=on")
	if err != nil {
		return fmt.Errorf("open credential store: %w", err)
	}

	container := sqlstore.NewWithDB(db, "sqlite3", waLog.Zerolog(c.log))
	if err := container.Upgrade(ctx); err != nil {
		db.Close()
		return fmt.Errorf("upgrade credential store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		db.Close()
		return fmt.Errorf("load device: %w", err)
	}

	wa := whatsmeow.NewClient(device, waLog.Zerolog(c.log))
	wa.AddEventHandler(c.handleEvent)

	c.mu.Lock()
	c.db = db
	c.wa = wa
	c.mu.Unlock()

	if wa.Store.ID == nil {
		// No stored credentials: start the pairing code stream before
		// connecting, as required by whatsmeow.
		qrChan, err := wa.GetQRChannel(c.lifeCtx)
		if err != nil {
			return fmt.Errorf("open pairing channel: %w", err)
		}
		go c.pumpQR(qrChan)
		c.log.Info().Msg("No stored credentials, pairing required")
	} else {
		c.log.Info().Str("account_id", wa.Store.ID.User).Msg("Restoring session from stored credentials")
	}

	if err := wa.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// pumpQR forwards pairing codes from whatsmeow's QR channel. The channel
// closes after a terminal event or when lifeCtx is cancelled.
func (c *Client) pumpQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case "code":
			c.events.PairingCode(item.Code)
		case "success":
			// PairSuccess arrives through the main event handler.
		case "timeout":
			c.events.AuthFailed(fmt.Errorf("pairing timed out"))
		default:
			if item.Error != nil {
				c.events.AuthFailed(fmt.Errorf("pairing failed: %w", item.Error))
			}
		}
	}
}

func (c *Client) handleEvent(raw interface{}) {
	switch evt := raw.(type) {
	case *events.PairSuccess:
		c.events.Authenticated()
	case *events.Connected:
		info, _ := c.Info()
		c.events.Ready(info)
	case *events.ConnectFailure:
		c.events.AuthFailed(fmt.Errorf("connect failure: %s", evt.Message))
	case *events.LoggedOut:
		c.events.AuthFailed(fmt.Errorf("logged out by platform (reason %v)", evt.Reason))
	case *events.StreamReplaced:
		c.events.Disconnected("stream replaced by another client")
	case *events.Disconnected:
		c.events.Disconnected("connection closed")
	case *events.Message:
		if evt.Info.IsFromMe {
			return
		}
		body := extractText(evt.Message)
		if body == "" {
			return
		}
		c.events.Message(driver.InboundMessage{
			From:      evt.Info.Chat.String(),
			Body:      body,
			Timestamp: evt.Info.Timestamp,
			ID:        evt.Info.ID,
		})
	}
}

func extractText(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if text := msg.GetConversation(); text != "" {
		return text
	}
	return msg.GetExtendedTextMessage().GetText()
}

// SendMessage delivers a text message. Bare targets are classified as group
// or individual and suffixed with the matching domain before dispatch.
func (c *Client) SendMessage(ctx context.Context, to, body string) error {
	c.mu.Lock()
	wa := c.wa
	c.mu.Unlock()
	if wa == nil {
		return fmt.Errorf("driver not initialized")
	}

	jid, err := targetJID(to)
	if err != nil {
		return fmt.Errorf("resolve target %q: %w", to, err)
	}
	if _, err := wa.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(body)}); err != nil {
		return fmt.Errorf("send to %s: %w", jid, err)
	}
	return nil
}

// Destroy disconnects and closes the credential store. Safe to call in any
// state; stored credentials stay on disk so the session can be resumed.
func (c *Client) Destroy(ctx context.Context) error {
	c.cancel()

	c.mu.Lock()
	wa := c.wa
	db := c.db
	c.wa = nil
	c.db = nil
	c.mu.Unlock()

	if wa != nil {
		wa.Disconnect()
	}
	if db != nil {
		if err := db.Close(); err != nil {
			return fmt.Errorf("close credential store: %w", err)
		}
	}
	return nil
}

// Info returns the authenticated account, or false while not connected.
func (c *Client) Info() (driver.Info, bool) {
	c.mu.Lock()
	wa := c.wa
	c.mu.Unlock()

	if wa == nil || wa.Store.ID == nil {
		return driver.Info{}, false
	}
	return driver.Info{
		AccountID:   wa.Store.ID.User,
		DisplayName: wa.Store.PushName,
		Platform:    wa.Store.Platform,
	}, true
}
