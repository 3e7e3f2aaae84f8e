// Package terminal bridges remote clients to interactive shells running in
// exercise containers.
package terminal

import (
	"context"
	"errors"
)

// EventType identifies a terminal protocol frame.
type EventType string

// Client to server.
const (
	EventAttach EventType = "attach"
	EventInput  EventType = "input"
	EventResize EventType = "resize"
)

// Server to client.
const (
	EventOutput EventType = "output"
	EventExit   EventType = "exit"
	EventError  EventType = "error"
)

// Event is one frame of the terminal protocol. Which fields are set depends
// on Type.
type Event struct {
	Type       EventType `json:"type"`
	ExerciseID int       `json:"exerciseId,omitempty"`
	Data       string    `json:"data,omitempty"`
	Cols       uint      `json:"cols,omitempty"`
	Rows       uint      `json:"rows,omitempty"`
	Code       *int      `json:"code,omitempty"`
	Message    string    `json:"message,omitempty"`
}

// OutputEvent carries shell output.
func OutputEvent(id int, data string) Event {
	return Event{Type: EventOutput, ExerciseID: id, Data: data}
}

// ExitEvent reports that the shell process exited with code.
func ExitEvent(id, code int) Event {
	return Event{Type: EventExit, ExerciseID: id, Code: &code}
}

// ErrorEvent reports a failure or an externally forced close.
func ErrorEvent(id int, message string) Event {
	return Event{Type: EventError, ExerciseID: id, Message: message}
}

var (
	// ErrConnClosed is returned by Conn.ReadEvent once the peer has gone away.
	ErrConnClosed = errors.New("terminal connection closed")

	// ErrSessionClosed is returned by an attach that lost a race with Close.
	ErrSessionClosed = errors.New("terminal session closed before attach")
)

// Conn is a bidirectional, message-oriented client connection. ReadEvent is
// called from a single goroutine; WriteEvent may be called concurrently.
type Conn interface {
	ReadEvent(ctx context.Context) (Event, error)
	WriteEvent(ctx context.Context, ev Event) error
	Close() error
}
