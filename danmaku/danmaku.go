// Package danmaku connects to a bilibili live room and turns its chat
// ("danmu") stream into events. Two backends exist: the official open
// platform (app credentials + identity code) and the web chat room (session
// cookie). Exactly one is active at a time; the caller picks which.
package danmaku

import "context"

// Event is one chat message, normalized across backends.
type Event struct {
	// Uname is the sender's display name.
	Uname string
	// Msg is the message text.
	Msg string
	// UserKey uniquely identifies the sender within a session: open_id on
	// the open platform, uid on the web backend, falling back to Uname.
	UserKey string
	// Origin is "open_live", "web" or "test".
	Origin string
}

// Source is one upstream chat connection.
//
// Connect dials and authenticates; it must be called once. Events returns
// the stream of chat events; the channel is closed when the connection is
// lost and the source cannot be reused after that — build a new one to
// reconnect. Close tears the connection down and unblocks any pending
// network read promptly.
type Source interface {
	Connect(ctx context.Context) error
	Events() <-chan Event
	Close() error
}

// eventBuffer bounds how far the network reader may run ahead of the
// consumer before blocking on the websocket.
const eventBuffer = 200
