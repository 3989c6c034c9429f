package marketdev

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/market-chat/chatwire"
)

const (
	timestampLayout = "2006-01-02 15:04"
	hubWriteWait    = 10 * time.Second
	hubSendBuffer   = 64
)

// member is one websocket participant. Gorilla conns forbid concurrent
// writers, so every outbound frame goes through the send channel and a
// single writeLoop owns the conn's write side.
type member struct {
	conn   *websocket.Conn
	send   chan chatwire.Frame
	done   chan struct{}
	closed atomic.Bool
}

func newMember(conn *websocket.Conn) *member {
	return &member{
		conn: conn,
		send: make(chan chatwire.Frame, hubSendBuffer),
		done: make(chan struct{}),
	}
}

// push enqueues a frame without blocking the producer; a slow member
// loses its oldest buffered frame.
func (m *member) push(f chatwire.Frame) {
	select {
	case m.send <- f:
	default:
		select {
		case <-m.send:
		default:
		}
		select {
		case m.send <- f:
		default:
		}
	}
}

func (m *member) writeLoop() {
	for {
		select {
		case <-m.done:
			return
		case f := <-m.send:
			_ = m.conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
			if err := m.conn.WriteJSON(f); err != nil {
				m.close()
				return
			}
		}
	}
}

func (m *member) close() {
	if m.closed.Swap(true) {
		return
	}
	close(m.done)
	_ = m.conn.Close()
}

// hub fans chat.message frames out to every member in a room. Rooms are
// created lazily and forgotten when their last member leaves.
type hub struct {
	mu    sync.Mutex
	rooms map[string]map[*member]struct{}
	wg    sync.WaitGroup
	log   *messageLog
}

func newHub(msgLog *messageLog) *hub {
	return &hub{
		rooms: map[string]map[*member]struct{}{},
		log:   msgLog,
	}
}

func (h *hub) broadcast(roomID string, f chatwire.Frame) {
	if err := h.log.Append(roomID, f); err != nil {
		log.Debug().Err(err).Str("room", roomID).Msg("[dev] persist message")
	}
	h.mu.Lock()
	members := make([]*member, 0, len(h.rooms[roomID]))
	for m := range h.rooms[roomID] {
		members = append(members, m)
	}
	h.mu.Unlock()
	for _, m := range members {
		m.push(f)
	}
}

func (h *hub) handleWS(w http.ResponseWriter, r *http.Request, roomID string) {
	userID, _ := strconv.ParseInt(r.URL.Query().Get("user"), 10, 64)
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "anon"
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	m := newMember(conn)

	h.mu.Lock()
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = map[*member]struct{}{}
	}
	h.rooms[roomID][m] = struct{}{}
	h.mu.Unlock()

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		m.writeLoop()
	}()

	// Replay the room backlog to the new member, ahead of anything the
	// reader broadcasts.
	if backlog, err := h.log.LoadRoom(roomID); err != nil {
		log.Debug().Err(err).Str("room", roomID).Msg("[dev] load backlog")
	} else {
		for _, f := range backlog {
			m.push(f)
		}
	}

	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.rooms[roomID], m)
			if len(h.rooms[roomID]) == 0 {
				delete(h.rooms, roomID)
			}
			h.mu.Unlock()
			m.close()
			h.wg.Done()
		}()
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req struct {
				Message string `json:"message"`
			}
			if err := json.Unmarshal(payload, &req); err != nil {
				// Drop malformed frames, keep the connection.
				log.Debug().Err(err).Str("room", roomID).Msg("[dev] drop malformed frame")
				continue
			}
			text := strings.TrimSpace(req.Message)
			if text == "" {
				continue
			}
			h.broadcast(roomID, chatwire.Frame{
				Type:      chatwire.TypeChatMessage,
				Message:   text,
				Sender:    name,
				SenderID:  userID,
				Timestamp: time.Now().Format(timestampLayout),
			})
		}
	}()
}

// closeAll force-closes every member, used during shutdown. WriteControl
// is safe alongside the writeLoop.
func (h *hub) closeAll() {
	h.mu.Lock()
	members := make([]*member, 0)
	for _, room := range h.rooms {
		for m := range room {
			members = append(members, m)
		}
	}
	h.mu.Unlock()
	for _, m := range members {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown")
		_ = m.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(hubWriteWait))
		m.close()
	}
}

func (h *hub) wait() {
	h.wg.Wait()
}
