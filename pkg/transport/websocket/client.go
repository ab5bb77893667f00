package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/HMasataka/chathub/internal/logging"
	"github.com/HMasataka/chathub/pkg/domain"
	"github.com/HMasataka/chathub/pkg/errors"
	"github.com/gorilla/websocket"
)

// ClientOptions represents websocket client options
type ClientOptions struct {
	SendQueueSize  int
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
}

// DefaultClientOptions returns default client options
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		SendQueueSize:  256,
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 64 * 1024,
	}
}

// Client implements the domain.Client interface for WebSocket.
// Inbound frames are handled sequentially on the read pump goroutine;
// outbound frames leave through a single bounded queue so each
// connection observes events in submission order.
type Client struct {
	id        string
	conn      *websocket.Conn
	ctx       context.Context
	cancel    context.CancelFunc
	logger    *logging.Logger
	options   ClientOptions
	sendChan  chan []byte
	handler   domain.MessageHandler
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewClient creates a new WebSocket client
func NewClient(id string, conn *websocket.Conn, logger *logging.Logger, options ClientOptions) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	if options.SendQueueSize <= 0 {
		options.SendQueueSize = DefaultClientOptions().SendQueueSize
	}

	return &Client{
		id:       id,
		conn:     conn,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.WithFields(map[string]any{"conn_id": id}),
		options:  options,
		sendChan: make(chan []byte, options.SendQueueSize),
	}
}

// ID implements domain.Client
func (c *Client) ID() string {
	return c.id
}

// Send implements domain.Client. It never blocks: a saturated queue
// reports ErrSendBufferFull and the frame is dropped.
func (c *Client) Send(ctx context.Context, message []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return domain.ErrConnectionClosed
	}

	select {
	case c.sendChan <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return errors.Wrap(domain.ErrSendBufferFull, errors.ErrorTypeTransport, errors.CodeInternal, "send buffer is full")
	}
}

// Receive sets the handler invoked for every inbound text frame
func (c *Client) Receive(handler domain.MessageHandler) {
	c.handler = handler
}

// Close implements domain.Client
func (c *Client) Close() error {
	c.shutdown()
	c.wg.Wait()
	return nil
}

// shutdown stops the pumps without waiting for them, so the pumps
// themselves may call it.
func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.logger.Debug("closing client connection")
		c.cancel()

		if err := c.conn.Close(); err != nil {
			c.logger.Debug("error closing websocket connection", "error", err)
		}
	})
}

// Context implements domain.Client
func (c *Client) Context() context.Context {
	return c.ctx
}

// Start starts the client read and write pumps
func (c *Client) Start() {
	c.wg.Add(2)
	go c.readPump()
	go c.writePump()
}

// readPump pumps messages from the websocket connection
func (c *Client) readPump() {
	defer c.wg.Done()
	defer func() {
		c.logger.Debug("read pump stopped")
		c.shutdown()
	}()

	c.conn.SetReadLimit(c.options.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.options.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.options.ReadTimeout))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
			}
			return
		}

		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		if c.handler != nil {
			if err := c.handler(message); err != nil {
				c.logger.Debug("message handler error", "error", err)
			}
		}
	}
}

// writePump pumps messages to the websocket connection
func (c *Client) writePump() {
	defer c.wg.Done()
	defer c.logger.Debug("write pump stopped")

	ticker := time.NewTicker(c.options.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(c.options.WriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case message := <-c.sendChan:
			c.conn.SetWriteDeadline(time.Now().Add(c.options.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Warn("websocket write error", "error", err)
				c.shutdown()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.options.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Warn("websocket ping error", "error", err)
				c.shutdown()
				return
			}
		}
	}
}
