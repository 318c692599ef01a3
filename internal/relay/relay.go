// Package relay is the Live-Log Relay (component I): it bridges one
// job's Pub/Sub channel to one long-lived client connection, replaying
// the backlog then forwarding live messages until the channel is
// deleted (end of stream) or the client disconnects. Grounded on
// tailer/__init__.py's WSGI relay (lrange backlog replay, pubsub()
// subscribe loop, r.exists as the liveness check) from
// original_source/ — the teacher has no equivalent of its own, since
// narwhal streams nothing to browsers.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kozmic/kozmic/internal/pubsub"
)

// ErrEmptyChannel is returned when the request path carries no channel
// name, per spec.md §4.9 "reject if empty".
var ErrEmptyChannel = errors.New("relay: empty channel name")

// keepaliveInterval bounds how long the relay's select waits before
// sending a ping, matching spec.md §4.9's "~5s timeout".
const keepaliveInterval = 5 * time.Second

// Frame is the wire shape sent to the client: either a log line or an
// end-of-stream notice, per spec.md §6.
type Frame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// Bus is the subset of *pubsub.Bus the relay reads; it never writes
// to the bus (spec.md §4.9).
type Bus interface {
	Backlog(ctx context.Context, channel string) ([]string, error)
	Alive(ctx context.Context, channel string) (bool, error)
	Subscribe(ctx context.Context, channel string) *pubsub.Subscription
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades the connection and relays channel's backlog, then
// live messages, until end of stream or client departure. The channel
// is the task_uuid that Handler extracts from the request path
// (GET /<task_uuid>/, per spec.md §6).
func Handler(bus Bus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channel := channelFromPath(r.URL.Path)
		if channel == "" {
			http.Error(w, ErrEmptyChannel.Error(), http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if err := Serve(r.Context(), bus, channel, conn); err != nil {
			return
		}
	}
}

// frameWriter is the subset of *websocket.Conn Serve needs, narrowed
// so tests can exercise the relay loop without a real socket.
type frameWriter interface {
	WriteJSON(v interface{}) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
}

// Serve runs one client session to completion: send the backlog as a
// single message, then loop forwarding live messages until the bus
// channel is deleted or the write side fails (client gone).
func Serve(ctx context.Context, bus Bus, channel string, conn frameWriter) error {
	backlog, err := bus.Backlog(ctx, channel)
	if err != nil {
		return fmt.Errorf("relay: reading backlog for %s: %w", channel, err)
	}
	if len(backlog) > 0 {
		joined := ""
		for _, line := range backlog {
			joined += line
		}
		if err := conn.WriteJSON(Frame{Type: "message", Content: joined}); err != nil {
			return err
		}
	}

	alive, err := bus.Alive(ctx, channel)
	if err != nil {
		return fmt.Errorf("relay: checking liveness of %s: %w", channel, err)
	}
	if !alive {
		return conn.WriteJSON(Frame{Type: "status", Content: "finished"})
	}

	sub := bus.Subscribe(ctx, channel)
	defer sub.Close()

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-sub.Channel():
			if !ok {
				return nil
			}
			if err := conn.WriteJSON(Frame{Type: "message", Content: msg.Payload}); err != nil {
				return err
			}

		case <-ticker.C:
			alive, err := bus.Alive(ctx, channel)
			if err != nil {
				return fmt.Errorf("relay: checking liveness of %s: %w", channel, err)
			}
			if !alive {
				return conn.WriteJSON(Frame{Type: "status", Content: "finished"})
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(keepaliveInterval)); err != nil {
				return err
			}
		}
	}
}

// channelFromPath extracts the task_uuid path segment from
// GET /<task_uuid>/, trimming leading/trailing slashes.
func channelFromPath(p string) string {
	start, end := 0, len(p)
	for start < end && p[start] == '/' {
		start++
	}
	for end > start && p[end-1] == '/' {
		end--
	}
	return p[start:end]
}
