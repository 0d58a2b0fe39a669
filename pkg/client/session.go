package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/astromechza/textsync/pkg/presence"
	"github.com/astromechza/textsync/pkg/protocol"
)

// Session drives an Editor over a websocket joined to one document.
type Session struct {
	ws          *websocket.Conn
	documentID  string
	displayName string
	log         *slog.Logger

	// mu guards the editor and websocket writes.
	mu           sync.Mutex
	editor       *Editor
	participants []presence.Entry
	onChange     func(text string, revision int)
	// rejoining is set while waiting for the state that replaces a rejected operation.
	rejoining bool
}

// Dial connects to the server's websocket url, joins the document and waits for its state.
func Dial(ctx context.Context, url, documentID, displayName string, log *slog.Logger) (*Session, error) {
	if log == nil {
		log = slog.Default()
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}
	s := &Session{ws: ws, documentID: documentID, displayName: displayName, log: log.With("document", documentID)}
	if err := s.write(protocol.Join(documentID, displayName)); err != nil {
		_ = ws.Close()
		return nil, err
	}
	for s.editor == nil {
		m, err := s.read()
		if err != nil {
			_ = ws.Close()
			return nil, err
		}
		switch m.Type {
		case protocol.TypeState:
			s.editor = New(m.Text, m.Revision)
		case protocol.TypeError:
			_ = ws.Close()
			return nil, fmt.Errorf("failed to join: %s: %s", m.Code, m.Error)
		}
	}
	s.log.Info("joined", "revision", s.editor.Revision())
	return s, nil
}

func (s *Session) read() (protocol.Message, error) {
	_, raw, err := s.ws.ReadMessage()
	if err != nil {
		return protocol.Message{}, fmt.Errorf("failed to read message: %w", err)
	}
	return protocol.Decode(raw)
}

func (s *Session) write(m protocol.Message) error {
	if err := s.ws.WriteMessage(websocket.TextMessage, protocol.Encode(m)); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func (s *Session) sendLocked(out Outgoing) error {
	return s.write(protocol.Operation(s.documentID, out.Revision, out.Delta))
}

// OnChange registers a callback invoked from Run with the text after every remote change. It runs
// with the session locked and must not call back into it.
func (s *Session) OnChange(fn func(text string, revision int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editor.Text()
}

func (s *Session) Revision() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editor.Revision()
}

func (s *Session) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editor.Pending()
}

func (s *Session) Participants() []presence.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]presence.Entry(nil), s.participants...)
}

func (s *Session) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editor.History()
}

// Edit replaces the local text and sends the change when nothing else is in flight.
func (s *Session) Edit(newText string) error {
	return s.Update(func(string) string { return newText })
}

// Update edits the text returned by fn from the current text, without remote changes landing in
// between.
func (s *Session) Update(fn func(text string) string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, send, err := s.editor.Edit(fn(s.editor.Text()))
	if err != nil || !send {
		return err
	}
	return s.sendLocked(out)
}

// RequestHistory asks for the snapshot list. The answer is available from History once Run has
// received it.
func (s *Session) RequestHistory() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(protocol.RequestHistory(s.documentID))
}

func (s *Session) RestoreVersion(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(protocol.RestoreVersion(s.documentID, index))
}

// Run processes server messages until the connection closes or ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		_ = s.ws.Close()
	})
	defer stop()
	for {
		m, err := s.read()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Code == websocket.CloseNormalClosure {
				return nil
			}
			return err
		}
		if m.DocumentID != "" && m.DocumentID != s.documentID {
			continue
		}
		if err := s.handle(m); err != nil {
			return err
		}
	}
}

func (s *Session) handle(m protocol.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	switch m.Type {
	case protocol.TypeAck:
		out, send, err := s.editor.Ack(m.Revision)
		if err != nil {
			return err
		}
		if send {
			if err := s.sendLocked(out); err != nil {
				return err
			}
		}
	case protocol.TypeOperation:
		d, err := m.DecodeDelta()
		if err != nil {
			return err
		}
		if _, err := s.editor.ApplyRemote(m.Revision, d); err != nil {
			return err
		}
		changed = true
	case protocol.TypeRestore:
		d, err := m.DecodeDelta()
		if err != nil {
			return err
		}
		if err := s.editor.ApplyRestore(m.Revision, m.Text, d); err != nil {
			return err
		}
		changed = true
	case protocol.TypeHistory:
		s.editor.SetHistory(m.Snapshots)
	case protocol.TypePresence:
		s.participants = m.Participants
	case protocol.TypeState:
		if !s.rejoining {
			break
		}
		s.rejoining = false
		out, send, err := s.editor.Reset(m.Text, m.Revision)
		if err != nil {
			return err
		}
		s.log.Info("rejoined", "revision", m.Revision, "pending", send)
		if send {
			if err := s.sendLocked(out); err != nil {
				return err
			}
		}
		changed = true
	case protocol.TypeError:
		if !rejectsOperation(m.Code) || !s.editor.Pending() {
			s.log.Warn("server rejected message", "code", m.Code, "message", m.Error)
			break
		}
		if s.rejoining {
			return fmt.Errorf("operation rejected again while rejoining: %s: %s", m.Code, m.Error)
		}
		// The server dropped the operation in flight, so fetch its state and rebase on top of it.
		s.log.Warn("operation rejected, rejoining", "code", m.Code, "message", m.Error)
		s.rejoining = true
		if err := s.write(protocol.Join(s.documentID, s.displayName)); err != nil {
			return err
		}
	}
	if changed && s.onChange != nil {
		s.onChange(s.editor.Text(), s.editor.Revision())
	}
	return nil
}

func rejectsOperation(code string) bool {
	switch code {
	case protocol.CodeStaleRevision, protocol.CodeMalformedOperation, protocol.CodeNotJoined:
		return true
	}
	return false
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return s.ws.Close()
}
