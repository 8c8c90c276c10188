package voiceagent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	DefaultMaxMessageSize   = 16 * 1024 * 1024
	DefaultCloseGracePeriod = 2 * time.Second
)

// WebSocketTransport opens gorilla/websocket channels.
type WebSocketTransport struct {
	Dialer           *websocket.Dialer
	WriteWait        time.Duration
	MaxMessageSize   int64
	CloseGracePeriod time.Duration
	Debug            bool

	logger *AgentLogger
}

func NewWebSocketTransport(config *ClientConfig) *WebSocketTransport {
	if config == nil {
		config = NewClientConfig()
	}
	writeWait := config.WriteWait
	if writeWait <= 0 {
		writeWait = DefaultWriteWait
	}
	return &WebSocketTransport{
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 45 * time.Second,
		},
		WriteWait:        writeWait,
		MaxMessageSize:   DefaultMaxMessageSize,
		CloseGracePeriod: DefaultCloseGracePeriod,
		Debug:            config.DebugWebsocket,
		logger:           GetGlobalLogger().WithComponent("websocket"),
	}
}

// Open starts dialing in the background and returns the channel right away.
func (t *WebSocketTransport) Open(ctx context.Context, url string, header http.Header, emit EmitFunc) (Channel, error) {
	if emit == nil {
		return nil, fmt.Errorf("emit func is required")
	}
	dialCtx, cancel := context.WithCancel(ctx)
	ch := &wsChannel{
		transport:  t,
		emit:       emit,
		cancelDial: cancel,
	}
	go ch.run(dialCtx, url, header)
	return ch, nil
}

type wsChannel struct {
	transport  *WebSocketTransport
	emit       EmitFunc
	cancelDial context.CancelFunc

	mu          sync.Mutex
	writeMu     sync.Mutex // serializes writes (gorilla/websocket requirement)
	conn        *websocket.Conn
	open        bool
	closing     bool
	closeCode   int
	closeReason string
}

func (c *wsChannel) run(ctx context.Context, url string, header http.Header) {
	defer c.cancelDial()

	dialer := c.transport.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	if c.transport.Debug {
		c.transport.logger.WithField("url", redactURL(url)).Debug("dialing")
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.mu.Lock()
		closing := c.closing
		code, reason := c.closeCode, c.closeReason
		c.mu.Unlock()
		if closing {
			c.emit(ChannelEvent{Kind: EventClose, Code: code, Reason: reason})
			return
		}
		c.emit(ChannelEvent{Kind: EventError, Err: err})
		c.emit(ChannelEvent{Kind: EventClose, Code: CloseAbnormal})
		return
	}

	c.mu.Lock()
	if c.closing {
		code, reason := c.closeCode, c.closeReason
		c.mu.Unlock()
		_ = conn.Close()
		c.emit(ChannelEvent{Kind: EventClose, Code: code, Reason: reason})
		return
	}
	c.conn = conn
	c.open = true
	c.mu.Unlock()

	if c.transport.MaxMessageSize > 0 {
		conn.SetReadLimit(c.transport.MaxMessageSize)
	}

	c.emit(ChannelEvent{Kind: EventOpen})

	code, reason := c.readLoop(conn)

	c.mu.Lock()
	c.open = false
	c.mu.Unlock()
	_ = conn.Close()

	c.emit(ChannelEvent{Kind: EventClose, Code: code, Reason: reason})
}

func (c *wsChannel) readLoop(conn *websocket.Conn) (int, string) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return closeErr.Code, closeErr.Text
			}

			c.mu.Lock()
			closing := c.closing
			code, reason := c.closeCode, c.closeReason
			c.mu.Unlock()
			if closing {
				return code, reason
			}

			if c.transport.Debug {
				c.transport.logger.WithError(err).Debug("websocket read error")
			}
			c.emit(ChannelEvent{Kind: EventError, Err: err})
			return CloseAbnormal, ""
		}

		c.emit(ChannelEvent{Kind: EventMessage, Data: data})
	}
}

func (c *wsChannel) Send(kind MessageKind, data []byte) error {
	c.mu.Lock()
	if !c.open || c.conn == nil {
		c.mu.Unlock()
		return fmt.Errorf("websocket is not connected")
	}
	conn := c.conn
	c.mu.Unlock()

	messageType := websocket.BinaryMessage
	if kind == TextMessage {
		messageType = websocket.TextMessage
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(c.transport.WriteWait)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := conn.WriteMessage(messageType, data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Close sends a close frame and gives the peer a grace period to answer
// before the read loop gives up. The close event still arrives via emit.
func (c *wsChannel) Close(code int, reason string) error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	c.closeCode = code
	c.closeReason = reason
	c.open = false
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		c.cancelDial()
		return nil
	}

	grace := c.transport.CloseGracePeriod
	if grace <= 0 {
		grace = DefaultCloseGracePeriod
	}

	c.writeMu.Lock()
	err := conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(grace))
	c.writeMu.Unlock()

	_ = conn.SetReadDeadline(time.Now().Add(grace))

	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		_ = conn.Close()
		return fmt.Errorf("failed to write close frame: %w", err)
	}
	return nil
}

func (c *wsChannel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}
