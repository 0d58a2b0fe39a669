package hub

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/astromechza/textsync/pkg/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 1 << 20
)

// Conn is one participant's websocket. Messages are queued on send and written by writePump so
// publishers never block on the network.
type Conn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte
	log  *slog.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(id string, ws *websocket.Conn, buffer int, log *slog.Logger) *Conn {
	return &Conn{
		id:     id,
		ws:     ws,
		send:   make(chan []byte, buffer),
		log:    log.With("participant", id),
		closed: make(chan struct{}),
	}
}

// enqueue queues raw for writing. A connection that cannot keep up is dropped.
func (c *Conn) enqueue(raw []byte) {
	select {
	case <-c.closed:
		return
	default:
	}
	select {
	case c.send <- raw:
	default:
		c.log.Warn("send queue full, dropping connection")
		c.close()
	}
}

func (c *Conn) sendMessage(m protocol.Message) {
	c.enqueue(protocol.Encode(m))
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}

func (c *Conn) writePump() {
	t := time.NewTicker(pingPeriod)
	defer func() {
		t.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case raw := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, raw); err != nil {
				c.log.Info("failed to write message", "err", err)
				c.close()
				return
			}
		case <-t.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Info("failed to ping", "err", err)
				c.close()
				return
			}
		case <-c.closed:
			_ = c.ws.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			return
		}
	}
}
