package chatwire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	inboundSize  = 64
)

var (
	// ErrNotOpen is returned by Send when the underlying connection has
	// closed. The caller surfaces this to the user; no reconnect is
	// attempted here.
	ErrNotOpen = errors.New("chatwire: connection is not open")

	// ErrEmptyMessage is returned by Send for whitespace-only input.
	// Nothing is transmitted.
	ErrEmptyMessage = errors.New("chatwire: empty message")
)

// Channel is a duplex connection to one chat room. Inbound chat.message
// frames are delivered on Messages; every other frame type is dropped.
type Channel struct {
	conn    *websocket.Conn
	inbound chan Message
	done    chan struct{}
	closed  atomic.Bool

	writeMu sync.Mutex
}

// RoomURL converts an http(s) base URL into the ws(s) endpoint for a room.
func RoomURL(baseURL, roomID string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws/chat/" + roomID + "/"
	return u.String(), nil
}

// Dial opens the room channel. The returned Channel owns the connection
// and runs its read and keepalive loops until Close or a read error.
func Dial(ctx context.Context, baseURL, roomID string) (*Channel, error) {
	endpoint, err := RoomURL(baseURL, roomID)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	ch := &Channel{
		conn:    conn,
		inbound: make(chan Message, inboundSize),
		done:    make(chan struct{}),
	}
	go ch.readLoop()
	go ch.pingLoop()
	return ch, nil
}

// Messages delivers inbound chat messages. The channel is closed when the
// connection terminates.
func (ch *Channel) Messages() <-chan Message {
	return ch.inbound
}

// Done is closed when the connection has terminated for any reason.
func (ch *Channel) Done() <-chan struct{} {
	return ch.done
}

// Send transmits one chat message. The text is trimmed; empty input is
// rejected without a network call, and sends on a dead connection fail
// with ErrNotOpen.
func (ch *Channel) Send(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	if ch.closed.Load() {
		return ErrNotOpen
	}
	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()
	_ = ch.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ch.conn.WriteJSON(Frame{Message: text}); err != nil {
		log.Debug().Err(err).Msg("[chat] write message")
		return ErrNotOpen
	}
	return nil
}

func (ch *Channel) readLoop() {
	defer func() {
		ch.Close()
		close(ch.inbound)
	}()
	ch.conn.SetReadLimit(1 << 20)
	_ = ch.conn.SetReadDeadline(time.Now().Add(pongWait))
	ch.conn.SetPongHandler(func(string) error {
		return ch.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := ch.conn.ReadMessage()
		if err != nil {
			if !ch.closed.Load() {
				log.Warn().Err(err).Msg("[chat] socket closed")
			}
			return
		}
		var f Frame
		if err := json.Unmarshal(payload, &f); err != nil {
			// Malformed frames do not affect connection state.
			log.Warn().Err(err).Msg("[chat] drop malformed frame")
			continue
		}
		if f.Type != TypeChatMessage {
			continue
		}
		select {
		case ch.inbound <- f.message():
		default:
			// Drop oldest so a stalled consumer cannot wedge the read loop.
			select {
			case <-ch.inbound:
			default:
			}
			ch.inbound <- f.message()
		}
	}
}

func (ch *Channel) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ch.done:
			return
		case <-ticker.C:
			ch.writeMu.Lock()
			_ = ch.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := ch.conn.WriteMessage(websocket.PingMessage, nil)
			ch.writeMu.Unlock()
			if err != nil {
				ch.Close()
				return
			}
		}
	}
}

// Close terminates the connection. Safe to call more than once. The
// inbound channel is closed by the read loop once it unwinds.
func (ch *Channel) Close() error {
	if ch.closed.Swap(true) {
		return nil
	}
	close(ch.done)
	return ch.conn.Close()
}
