package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
)

const (
	sendBufferSize  = 256
	maxInboundBytes = 4096
)

// registerFrame is the only inbound payload the server understands.
// Anything else, malformed JSON included, is ignored.
type registerFrame struct {
	Type     string `json:"type"`
	MemberID string `json:"memberId"`
}

// Client is one websocket connection attached to the hub.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
	send   chan []byte

	// OnRegister runs when the connection announces its member id.
	OnRegister func(c *Client, memberID string)
	// OnClose runs once, after the connection leaves the hub.
	OnClose func(c *Client)
}

func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
}

// Start attaches the client to the hub and runs its pumps. It returns
// immediately; cleanup happens when either pump sees a transport error
// or close.
func (c *Client) Start() {
	c.hub.add(c)
	go c.writePump()
	go c.readPump()
}

// enqueue hands an already-marshalled event to the write pump without
// blocking. It reports false when the client is closed or its buffer is
// full.
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// shutdown is idempotent: it detaches from the hub, stops the pumps and
// fires OnClose exactly once.
func (c *Client) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	c.hub.remove(c)
	if c.conn != nil {
		_ = c.conn.Close()
	}
	if c.OnClose != nil {
		c.OnClose(c)
	}
}

func (c *Client) readPump() {
	defer c.shutdown()
	c.conn.SetReadLimit(maxInboundBytes)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var frame registerFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		if frame.Type == "register" && frame.MemberID != "" && c.OnRegister != nil {
			c.OnRegister(c, frame.MemberID)
		}
	}
}

func (c *Client) writePump() {
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			c.shutdown()
			return
		}
	}
	if c.conn != nil {
		_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
}
