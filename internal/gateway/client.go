package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/soyeahso/recall/internal/domain"
	"github.com/soyeahso/recall/internal/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Client is one WebSocket connection. Writes are serialized; reads happen
// only on the connection's read loop.
type Client struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time

	conn *websocket.Conn
	seq  atomic.Int64

	mu      sync.Mutex
	closed  bool
	session domain.SessionRef
}

func newClient(conn *websocket.Conn, remoteAddr string) *Client {
	conn.SetReadLimit(maxFrameBytes)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	return &Client{
		ID:          uuid.NewString(),
		RemoteAddr:  remoteAddr,
		ConnectedAt: time.Now(),
		conn:        conn,
	}
}

func (c *Client) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

// Send writes one frame.
func (c *Client) Send(frame Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, data)
}

// SendEvent sends an event numbered in this connection's sequence.
func (c *Client) SendEvent(event string, payload any) error {
	f, err := NewEvent(event, payload, c.seq.Add(1))
	if err != nil {
		return err
	}
	return c.Send(f)
}

func (c *Client) Respond(reqID string, payload any) error {
	f, err := NewResponse(reqID, payload)
	if err != nil {
		return err
	}
	return c.Send(f)
}

func (c *Client) RespondError(reqID string, errShape ErrorShape) error {
	return c.Send(NewErrorResponse(reqID, errShape))
}

// ReadFrame blocks for the next frame. A malformed frame returns the
// decoding error and leaves the connection usable.
func (c *Client) ReadFrame() (Frame, error) {
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Bind remembers the session that chat.send continues when a request
// names none.
func (c *Client) Bind(ref domain.SessionRef) {
	c.mu.Lock()
	c.session = ref
	c.mu.Unlock()
}

// Bound returns the session last bound to the connection.
func (c *Client) Bound() (domain.SessionRef, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session, c.session.ID != ""
}

// keepalive pings the peer until ctx ends or a ping fails. A peer that
// stops answering trips the read deadline and ends the read loop.
func (c *Client) keepalive(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close sends a close frame and closes the socket. Calling it twice is harmless.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	return c.conn.Close()
}

// clientSet tracks open connections so shutdown can close them.
type clientSet struct {
	mu      sync.Mutex
	clients map[string]*Client
	log     *logging.Logger
}

func newClientSet(log *logging.Logger) *clientSet {
	return &clientSet{clients: make(map[string]*Client), log: log}
}

func (cs *clientSet) add(c *Client) {
	cs.mu.Lock()
	cs.clients[c.ID] = c
	n := len(cs.clients)
	cs.mu.Unlock()
	cs.log.Info().Str("connId", c.ID).Str("remote", c.RemoteAddr).Int("open", n).Msg("client connected")
}

func (cs *clientSet) remove(c *Client) {
	cs.mu.Lock()
	delete(cs.clients, c.ID)
	cs.mu.Unlock()
	cs.log.Info().Str("connId", c.ID).Dur("connected", time.Since(c.ConnectedAt)).Msg("client disconnected")
}

func (cs *clientSet) count() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.clients)
}

func (cs *clientSet) closeAll() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for id, c := range cs.clients {
		c.Close()
		delete(cs.clients, id)
	}
}
