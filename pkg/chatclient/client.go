// Package chatclient is a Go client of the hub's websocket protocol.
package chatclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HMasataka/chathub/internal/logging"
	"github.com/HMasataka/chathub/pkg/domain"
	"github.com/HMasataka/chathub/pkg/errors"
	"github.com/HMasataka/chathub/pkg/hub"
	"github.com/HMasataka/chathub/pkg/transport/protocol"
	"github.com/HMasataka/chathub/pkg/transport/websocket"
	gorillaws "github.com/gorilla/websocket"
	"github.com/rs/xid"
)

// Options represents chat client options
type Options struct {
	Logger         *logging.Logger
	Token          string
	RequestTimeout time.Duration
	Transport      websocket.ClientOptions
}

// DefaultOptions returns default client options
func DefaultOptions() Options {
	return Options{
		RequestTimeout: 5 * time.Second,
		Transport:      websocket.DefaultClientOptions(),
	}
}

// EventHandler is invoked on the read goroutine for every pushed event
type EventHandler func(ctx context.Context, frame *protocol.Frame) error

// RemoteError is an Error event answering one of this client's frames
type RemoteError struct {
	Code    string
	Type    string
	Message string
	Ref     string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// waiter is an outstanding request waiting for its answer event
type waiter struct {
	ref   string
	event domain.Event
	ch    chan *protocol.Frame
}

// Client is a connection to the hub
type Client struct {
	url     url.URL
	options Options
	logger  *logging.Logger
	ws      *websocket.Client

	handlers   map[domain.Event]EventHandler
	handlersMu sync.RWMutex

	waiters   []*waiter
	waitersMu sync.Mutex
	requestMu sync.Mutex

	username string
	connID   string
	mu       sync.RWMutex

	seq atomic.Int64
}

// New creates a client for the hub at serverURL
func New(serverURL url.URL, options Options) *Client {
	if options.Logger == nil {
		options.Logger = logging.Discard()
	}
	if options.RequestTimeout <= 0 {
		options.RequestTimeout = DefaultOptions().RequestTimeout
	}

	return &Client{
		url:      serverURL,
		options:  options,
		logger:   options.Logger,
		handlers: make(map[domain.Event]EventHandler),
	}
}

// Connect dials the hub. The token, if any, travels in the session cookie.
func (c *Client) Connect(ctx context.Context) error {
	header := http.Header{}
	if c.options.Token != "" {
		header.Set("Cookie", (&http.Cookie{Name: "session-token", Value: c.options.Token}).String())
	}

	c.logger.Info("connecting to hub", "url", c.url.String())

	conn, resp, err := gorillaws.DefaultDialer.DialContext(ctx, c.url.String(), header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return errors.Wrap(err, errors.ErrorTypeTransport, errors.CodeInternal, "failed to connect to hub")
	}

	ws := websocket.NewClient(xid.New().String(), conn, c.logger, c.options.Transport)
	ws.Receive(c.handleFrame)

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()

	ws.Start()
	return nil
}

// Close closes the connection
func (c *Client) Close() error {
	c.mu.RLock()
	ws := c.ws
	c.mu.RUnlock()

	if ws == nil {
		return nil
	}
	return ws.Close()
}

// Done is closed once the connection is gone
func (c *Client) Done() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.ws == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.ws.Context().Done()
}

// Username returns the name registered by Register
func (c *Client) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

// ConnectionID returns the id the hub assigned to this connection
func (c *Client) ConnectionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connID
}

// On registers the handler of event, replacing any previous one
func (c *Client) On(event domain.Event, handler EventHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[event] = handler
}

// Register binds the connection to username
func (c *Client) Register(ctx context.Context, username string) (*hub.RegisteredPayload, error) {
	var ack hub.RegisteredPayload
	if err := c.request(ctx, domain.OpRegisterUser, map[string]string{"username": username}, domain.EventRegistered, &ack); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.username = ack.Username
	c.connID = ack.ConnectionID
	c.mu.Unlock()

	c.logger.Info("registered with hub", "username", ack.Username, "conn_id", ack.ConnectionID)
	return &ack, nil
}

// OpenDirectChannel loads the conversation with peer
func (c *Client) OpenDirectChannel(ctx context.Context, peer string) (*hub.DirectHistoryPayload, error) {
	var history hub.DirectHistoryPayload
	if err := c.request(ctx, domain.OpOpenDirectChannel, map[string]string{"peer": peer}, domain.EventDirectHistory, &history); err != nil {
		return nil, err
	}
	return &history, nil
}

// LoadChannelHistory loads the latest messages of a channel
func (c *Client) LoadChannelHistory(ctx context.Context, channelID int64) (*hub.ChannelHistoryPayload, error) {
	var history hub.ChannelHistoryPayload
	if err := c.request(ctx, domain.OpLoadChannelHistory, map[string]int64{"channelId": channelID}, domain.EventChannelHistory, &history); err != nil {
		return nil, err
	}
	return &history, nil
}

// JoinChannel subscribes to a channel's events
func (c *Client) JoinChannel(ctx context.Context, channelID int64) error {
	_, err := c.send(ctx, domain.OpJoinChannel, map[string]int64{"channelId": channelID})
	return err
}

// LeaveChannel unsubscribes from a channel's events
func (c *Client) LeaveChannel(ctx context.Context, channelID int64) error {
	_, err := c.send(ctx, domain.OpLeaveChannel, map[string]int64{"channelId": channelID})
	return err
}

// JoinGuildGroup subscribes to a guild's lifecycle events
func (c *Client) JoinGuildGroup(ctx context.Context, guildID int64) error {
	_, err := c.send(ctx, domain.OpJoinGuildGroup, map[string]int64{"guildId": guildID})
	return err
}

// SendMessage posts text to everyone
func (c *Client) SendMessage(ctx context.Context, text string) error {
	_, err := c.send(ctx, domain.OpSendMessage, map[string]string{"text": text})
	return err
}

// SendChannelMessage posts text to a channel
func (c *Client) SendChannelMessage(ctx context.Context, channelID int64, text string) error {
	_, err := c.send(ctx, domain.OpSendChannelMessage, map[string]any{"channelId": channelID, "text": text})
	return err
}

// SendChannelSticker posts a sticker to a channel
func (c *Client) SendChannelSticker(ctx context.Context, channelID int64, mediaURL string) error {
	_, err := c.send(ctx, domain.OpSendChannelSticker, map[string]any{"channelId": channelID, "mediaUrl": mediaURL})
	return err
}

// SendDirectMessage sends text to a friend
func (c *Client) SendDirectMessage(ctx context.Context, recipient, text string) error {
	_, err := c.send(ctx, domain.OpSendDirectMessage, map[string]string{"recipient": recipient, "text": text})
	return err
}

// SendDirectAttachment sends a file reference to a friend
func (c *Client) SendDirectAttachment(ctx context.Context, recipient, mediaURL, fileName string) error {
	_, err := c.send(ctx, domain.OpSendDirectAttachment, map[string]string{
		"recipient": recipient,
		"mediaUrl":  mediaURL,
		"fileName":  fileName,
	})
	return err
}

// DeleteMessage deletes one of this user's messages
func (c *Client) DeleteMessage(ctx context.Context, messageID int64) error {
	_, err := c.send(ctx, domain.OpDeleteMessage, map[string]int64{"messageId": messageID})
	return err
}

// Typing announces that the user is composing in tc
func (c *Client) Typing(ctx context.Context, tc domain.TypingContext) error {
	_, err := c.send(ctx, domain.OpTyping, map[string]any{"context": typingWire(tc)})
	return err
}

// StopTyping withdraws a Typing announcement
func (c *Client) StopTyping(ctx context.Context, tc domain.TypingContext) error {
	_, err := c.send(ctx, domain.OpStopTyping, map[string]any{"context": typingWire(tc)})
	return err
}

func typingWire(tc domain.TypingContext) map[string]any {
	switch t := tc.(type) {
	case domain.ChannelTyping:
		return map[string]any{"kind": domain.ContextChannel, "channelId": t.ChannelID}
	case domain.DirectTyping:
		return map[string]any{"kind": domain.ContextDirect, "recipient": t.Recipient}
	default:
		return nil
	}
}

// request sends op and waits for answer or an Error referring to it.
// Requests are serialized so an answer event maps to a single waiter.
func (c *Client) request(ctx context.Context, op domain.Operation, data any, answer domain.Event, out any) error {
	c.requestMu.Lock()
	defer c.requestMu.Unlock()

	ref := c.nextRef()
	w := &waiter{ref: ref, event: answer, ch: make(chan *protocol.Frame, 1)}

	c.waitersMu.Lock()
	c.waiters = append(c.waiters, w)
	c.waitersMu.Unlock()
	defer c.dropWaiter(w)

	if err := c.write(ctx, ref, op, data); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.options.RequestTimeout)
	defer cancel()

	select {
	case frame := <-w.ch:
		if frame.Type == string(domain.EventError) {
			return decodeRemoteError(frame)
		}
		if err := frame.Decode(out); err != nil {
			return errors.Wrap(err, errors.ErrorTypeProtocol, errors.CodeInvalidFrame, "malformed answer").WithDetails(frame.Type)
		}
		return nil
	case <-c.Done():
		return domain.ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// send writes a fire-and-forget operation and returns its ref
func (c *Client) send(ctx context.Context, op domain.Operation, data any) (string, error) {
	ref := c.nextRef()
	return ref, c.write(ctx, ref, op, data)
}

func (c *Client) write(ctx context.Context, ref string, op domain.Operation, data any) error {
	c.mu.RLock()
	ws := c.ws
	c.mu.RUnlock()

	if ws == nil {
		return errors.New(errors.ErrorTypeTransport, errors.CodeInternal, "not connected to hub")
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, errors.CodeInternal, "failed to marshal operation data")
	}

	msg, err := json.Marshal(protocol.Frame{ID: ref, Type: string(op), Data: raw})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, errors.CodeInternal, "failed to marshal frame")
	}

	return ws.Send(ctx, msg)
}

func (c *Client) nextRef() string {
	return strconv.FormatInt(c.seq.Add(1), 10)
}

func (c *Client) dropWaiter(w *waiter) {
	c.waitersMu.Lock()
	defer c.waitersMu.Unlock()
	for i, other := range c.waiters {
		if other == w {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}

// handleFrame routes an inbound frame to a waiting request, then to the
// registered event handler
func (c *Client) handleFrame(data []byte) error {
	frame, err := protocol.Unmarshal(data)
	if err != nil {
		c.logger.Error("failed to unmarshal frame", "error", err)
		return err
	}

	c.resolve(frame)

	c.handlersMu.RLock()
	handler, exists := c.handlers[domain.Event(frame.Type)]
	c.handlersMu.RUnlock()

	if exists {
		c.mu.RLock()
		ctx := c.ws.Context()
		c.mu.RUnlock()
		return handler(ctx, frame)
	}

	c.logger.Debug("no handler for event", "type", frame.Type)
	return nil
}

func (c *Client) resolve(frame *protocol.Frame) {
	var ref string
	if frame.Type == string(domain.EventError) {
		var payload hub.ErrorPayload
		if frame.Decode(&payload) == nil {
			ref = payload.Ref
		}
	}

	c.waitersMu.Lock()
	defer c.waitersMu.Unlock()

	for _, w := range c.waiters {
		if (ref != "" && ref == w.ref) || frame.Type == string(w.event) {
			select {
			case w.ch <- frame:
			default:
			}
			return
		}
	}
}

func decodeRemoteError(frame *protocol.Frame) error {
	var payload hub.ErrorPayload
	if err := frame.Decode(&payload); err != nil {
		return errors.Wrap(err, errors.ErrorTypeProtocol, errors.CodeInvalidFrame, "malformed error event")
	}
	return &RemoteError{
		Code:    payload.Code,
		Type:    payload.Type,
		Message: payload.Message,
		Ref:     payload.Ref,
	}
}
