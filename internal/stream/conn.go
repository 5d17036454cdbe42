package stream

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lexiqai/sentiment-gateway/internal/fusion"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
)

// Conn adapts a WebSocket to session.Conn. Binary frames are audio chunks;
// text frames from the client are ignored.
type Conn struct {
	ws       *websocket.Conn
	readWait time.Duration

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// NewConn configures read limits and keepalive on ws and starts the pinger.
// readWait is how long a pending read may go without a frame or pong.
func NewConn(ws *websocket.Conn, readLimit int64, readWait time.Duration) *Conn {
	if readWait <= 0 {
		readWait = pongWait
	}
	c := &Conn{ws: ws, readWait: readWait, done: make(chan struct{})}

	if readLimit > 0 {
		ws.SetReadLimit(readLimit)
	}
	_ = ws.SetReadDeadline(time.Now().Add(readWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readWait))
	})

	go c.keepalive()
	return c
}

func (c *Conn) keepalive() {
	ticker := time.NewTicker(c.readWait * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// ReadChunk blocks until the next binary frame arrives. The read deadline
// is reset before every read.
func (c *Conn) ReadChunk() ([]byte, error) {
	for {
		if err := c.ws.SetReadDeadline(time.Now().Add(c.readWait)); err != nil {
			return nil, err
		}
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// WriteResult sends r as a JSON text frame
func (c *Conn) WriteResult(r fusion.Result) error {
	return c.writeJSON(r)
}

// WriteError sends {"error": msg}
func (c *Conn) WriteError(msg string) error {
	return c.writeJSON(map[string]string{"error": msg})
}

func (c *Conn) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteJSON(v)
}

// Close sends a normal close frame and closes the socket. Safe to call more
// than once.
func (c *Conn) Close() error {
	return c.closeWith(websocket.CloseNormalClosure, "")
}

func (c *Conn) closeWith(code int, text string) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
		err = c.ws.Close()
	})
	return err
}
