// Package hub connects websocket participants to the engine.
//
// Each connection has a read loop that turns inbound messages into engine calls and a write loop
// that drains its send queue. Connections are grouped into rooms by document id; the rooms receive
// the engine's broadcasts.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/astromechza/textsync/pkg/engine"
	"github.com/astromechza/textsync/pkg/presence"
	"github.com/astromechza/textsync/pkg/protocol"
)

const DefaultSendBuffer = 256

var errNotJoined = errors.New("document not joined")

type Options struct {
	// SendBuffer is the number of outbound messages queued per connection before it is dropped.
	SendBuffer int
	Logger     *slog.Logger
}

type Hub struct {
	engine   *engine.Engine
	rooms    *Rooms
	presence *presence.Tracker
	log      *slog.Logger
	buffer   int
	upgrader websocket.Upgrader

	// presenceMu keeps presence lists from being broadcast out of order.
	presenceMu sync.Mutex
}

// New creates a hub. The rooms must be the engine's Broadcaster.
func New(e *engine.Engine, rooms *Rooms, opts Options) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultSendBuffer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Hub{
		engine:   e,
		rooms:    rooms,
		presence: presence.NewTracker(),
		log:      opts.Logger.With("component", "hub"),
		buffer:   opts.SendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Presence returns the participants currently joined to a document.
func (h *Hub) Presence(documentID string) []presence.Entry {
	return h.presence.List(documentID)
}

// ServeWS upgrades the request and serves the connection until it closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("failed to upgrade", "err", err)
		return
	}
	c := newConn(uuid.New().String(), ws, h.buffer, h.log)
	c.log.Info("connected", "remote", r.RemoteAddr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writePump()
	}()

	h.readLoop(r.Context(), c)
	c.close()
	<-done
	h.leave(c)
	c.log.Info("disconnected")
}

func (h *Hub) readLoop(ctx context.Context, c *Conn) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn("failed to read message", "err", err)
			}
			return
		}
		m, err := protocol.Decode(raw)
		if err != nil {
			c.sendMessage(protocol.Error("", protocol.CodeMalformedMessage, err))
			continue
		}
		h.handle(ctx, c, m)
	}
}

func (h *Hub) handle(ctx context.Context, c *Conn, m protocol.Message) {
	if m.DocumentID == "" {
		c.sendMessage(protocol.Error("", protocol.CodeMalformedMessage, fmt.Errorf("%s message has no documentId", m.Type)))
		return
	}
	var err error
	switch m.Type {
	case protocol.TypeJoin:
		err = h.join(ctx, c, m)
	case protocol.TypeOperation:
		err = h.operation(ctx, c, m)
	case protocol.TypeRequestHistory:
		err = h.history(ctx, c, m)
	case protocol.TypeRestoreVersion:
		err = h.restore(ctx, c, m)
	default:
		err = fmt.Errorf("unsupported message type %q", m.Type)
		c.sendMessage(protocol.Error(m.DocumentID, protocol.CodeMalformedMessage, err))
		return
	}
	if err != nil {
		c.log.Info("rejected message", "type", m.Type, "document", m.DocumentID, "err", err)
		c.sendMessage(protocol.Error(m.DocumentID, errorCode(err), err))
	}
}

func (h *Hub) join(ctx context.Context, c *Conn, m protocol.Message) error {
	// The state is queued from inside the document's actor so no broadcast can slip in between it and
	// room membership.
	if err := h.engine.Open(ctx, m.DocumentID, func(text string, revision int) {
		h.rooms.add(m.DocumentID, c)
		c.sendMessage(protocol.State(m.DocumentID, text, revision))
	}); err != nil {
		return fmt.Errorf("failed to join: %w", err)
	}
	h.presenceMu.Lock()
	defer h.presenceMu.Unlock()
	entries := h.presence.Join(m.DocumentID, c.id, m.DisplayName)
	h.rooms.Broadcast(m.DocumentID, protocol.Presence(m.DocumentID, entries))
	return nil
}

func (h *Hub) operation(ctx context.Context, c *Conn, m protocol.Message) error {
	if !h.rooms.has(m.DocumentID, c) {
		return errNotJoined
	}
	d, err := m.DecodeDelta()
	if err != nil {
		return fmt.Errorf("%w: %w", engine.ErrMalformedOperation, err)
	}
	// The ack and the broadcast to others are published by the engine.
	if _, err := h.engine.Submit(ctx, m.DocumentID, m.Revision, d, c.id); err != nil {
		return err
	}
	return nil
}

func (h *Hub) history(ctx context.Context, c *Conn, m protocol.Message) error {
	snaps, err := h.engine.ListSnapshots(ctx, m.DocumentID)
	if err != nil {
		return err
	}
	c.sendMessage(protocol.History(m.DocumentID, snaps))
	return nil
}

func (h *Hub) restore(ctx context.Context, c *Conn, m protocol.Message) error {
	if !h.rooms.has(m.DocumentID, c) {
		return errNotJoined
	}
	_, err := h.engine.Restore(ctx, m.DocumentID, m.Index, c.id)
	return err
}

func (h *Hub) leave(c *Conn) {
	if docs := h.rooms.removeAll(c); len(docs) > 0 {
		c.log.Info("left documents", "documents", docs)
	}
	h.presenceMu.Lock()
	defer h.presenceMu.Unlock()
	for doc, entries := range h.presence.Leave(c.id) {
		h.rooms.Broadcast(doc, protocol.Presence(doc, entries))
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, engine.ErrMalformedOperation):
		return protocol.CodeMalformedOperation
	case errors.Is(err, engine.ErrStaleRevision):
		return protocol.CodeStaleRevision
	case errors.Is(err, engine.ErrUnknownDocument):
		return protocol.CodeUnknownDocument
	case errors.Is(err, engine.ErrSnapshotNotFound):
		return protocol.CodeSnapshotNotFound
	case errors.Is(err, errNotJoined):
		return protocol.CodeNotJoined
	default:
		return protocol.CodeInternal
	}
}
