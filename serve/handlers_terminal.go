package serve

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/everydev1618/examlab/terminal"
)

const (
	wsMaxMessage = 64 * 1024
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// handleTerminal upgrades to a WebSocket and hands the connection to the
// terminal bridge until either side goes away or the server shuts down.
func (s *Server) handleTerminal(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		s.log.Debug("websocket upgrade failed", "error", err)
		return
	}

	conn := newWSConn(ws)
	defer conn.Close()

	stop := context.AfterFunc(s.base, func() { conn.Close() })
	defer stop()

	go conn.keepalive()

	if err := s.terminal.Serve(s.base, conn); err != nil {
		s.log.Warn("terminal connection ended", "remote", r.RemoteAddr, "error", err)
	}
}

// wsConn adapts a gorilla WebSocket to terminal.Conn using JSON text frames.
type wsConn struct {
	ws        *websocket.Conn
	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func newWSConn(ws *websocket.Conn) *wsConn {
	ws.SetReadLimit(wsMaxMessage)
	ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	return &wsConn{ws: ws, done: make(chan struct{})}
}

// ReadEvent returns the next well-formed frame. Malformed frames are
// answered with an error event and skipped.
func (c *wsConn) ReadEvent(ctx context.Context) (terminal.Event, error) {
	stop := context.AfterFunc(ctx, func() { c.ws.SetReadDeadline(time.Now()) })
	defer stop()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || c.closed() {
				return terminal.Event{}, terminal.ErrConnClosed
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return terminal.Event{}, fmt.Errorf("read frame: %w", err)
			}
			return terminal.Event{}, terminal.ErrConnClosed
		}

		var ev terminal.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			c.WriteEvent(ctx, terminal.ErrorEvent(0, "invalid message: "+err.Error()))
			continue
		}
		return ev, nil
	}
}

// WriteEvent sends one frame. It is safe for concurrent use.
func (c *wsConn) WriteEvent(ctx context.Context, ev terminal.Event) error {
	if c.closed() {
		return terminal.ErrConnClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(wsWriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteJSON(ev); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Close sends a close frame on a best-effort basis and closes the socket.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *wsConn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// keepalive pings the peer until the connection closes.
func (c *wsConn) keepalive() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				c.Close()
				return
			}
		}
	}
}
