package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const (
	writeTimeout     = 15 * time.Second
	downloadTimeout  = 60 * time.Second
	reconnectBackoff = 5 * time.Second
	updateQueueSize  = 256
)

var errNotConnected = fmt.Errorf("%w: gateway connection not established", ErrTimeout)

// Client is a websocket Messenger talking to the chat-platform gateway.
// One connection carries both directions: outbound JSON frames for
// sends, inbound frames for participant messages. Voice files referenced
// by inbound frames are fetched over plain HTTP.
type Client struct {
	url   string
	token string
	http  *http.Client

	connMu  sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	updates chan Update
}

// NewClient creates a gateway client for the given websocket URL. The
// token is sent as a bearer credential on connect. Run must be called
// before the client can send or receive.
func NewClient(url, token string) *Client {
	return &Client{
		url:     url,
		token:   token,
		http:    &http.Client{Timeout: downloadTimeout},
		updates: make(chan Update, updateQueueSize),
	}
}

// Updates returns the inbound message stream. The channel is closed when
// Run returns.
func (c *Client) Updates() <-chan Update {
	return c.updates
}

// Run maintains the gateway connection until ctx is cancelled,
// redialling with a fixed backoff after failures.
func (c *Client) Run(ctx context.Context) {
	defer close(c.updates)
	for {
		if err := c.connectAndRead(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("gateway connection lost, reconnecting", "error", err, "backoff", reconnectBackoff)
		}
		select {
		case <-time.After(reconnectBackoff):
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, c.url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": {"Bearer " + c.token}},
	})
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	// Voice payloads can be large.
	conn.SetReadLimit(1 << 22)

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	slog.Info("gateway connected", "url", c.url)

	defer func() {
		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
		if closeErr := conn.Close(websocket.StatusNormalClosure, "shutting down"); closeErr != nil {
			slog.Debug("failed to close gateway connection", "error", closeErr)
		}
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read gateway frame: %w", err)
		}
		var upd Update
		if err := json.Unmarshal(data, &upd); err != nil {
			slog.Warn("dropping malformed gateway frame", "error", err)
			continue
		}
		if upd.Received.IsZero() {
			upd.Received = time.Now()
		}
		select {
		case c.updates <- upd:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// outFrame is the wire shape of an outbound send. Data is base64-encoded
// by encoding/json for voice and image payloads.
type outFrame struct {
	Type     string `json:"type"`
	ChatID   int64  `json:"chat_id"`
	Text     string `json:"text,omitempty"`
	Filename string `json:"filename,omitempty"`
	Data     []byte `json:"data,omitempty"`
}

func (c *Client) write(ctx context.Context, frame outFrame) error {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return errNotConnected
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal gateway frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return fmt.Errorf("write gateway frame: %w", err)
	}
	return nil
}

// SendText delivers a text message to a chat.
func (c *Client) SendText(ctx context.Context, chatID int64, text string) error {
	return c.write(ctx, outFrame{Type: "send_text", ChatID: chatID, Text: text})
}

// SendVoice delivers a voice note from a local file.
func (c *Client) SendVoice(ctx context.Context, chatID int64, filePath string) error {
	return c.sendFile(ctx, "send_voice", chatID, filePath)
}

// SendImage delivers an image from a local file.
func (c *Client) SendImage(ctx context.Context, chatID int64, filePath string) error {
	return c.sendFile(ctx, "send_image", chatID, filePath)
}

func (c *Client) sendFile(ctx context.Context, frameType string, chatID int64, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		// Local failure, not retryable.
		return fmt.Errorf("read payload file: %w", err)
	}
	return c.write(ctx, outFrame{
		Type:     frameType,
		ChatID:   chatID,
		Filename: filepath.Base(filePath),
		Data:     data,
	})
}

// LeaveChat exits a group chat.
func (c *Client) LeaveChat(ctx context.Context, chatID int64) error {
	return c.write(ctx, outFrame{Type: "leave_chat", ChatID: chatID})
}

// DownloadVoice fetches a voice recording into destDir and returns the
// local file path.
func (c *Client) DownloadVoice(ctx context.Context, voiceRef, destDir string) (string, error) {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("create download directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, voiceRef, nil)
	if err != nil {
		return "", fmt.Errorf("build voice download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "", fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return "", fmt.Errorf("download voice: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Debug("failed to close voice download body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download voice: unexpected status %d", resp.StatusCode)
	}

	path := filepath.Join(destDir, uuid.NewString()+".ogg")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create voice file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write voice file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close voice file: %w", err)
	}
	return path, nil
}
