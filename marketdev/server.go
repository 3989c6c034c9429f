// Package marketdev is a self-contained development stand-in for the two
// opaque backend collaborators: the room chat channel and the escrow
// order resource. It lets the client run and be tested end to end without
// the production stack.
package marketdev

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/market-chat/chatwire"
)

// Server bundles the chat hub and the order resource behind one router.
type Server struct {
	hub    *hub
	orders *orderStore
	msgLog *messageLog
	csrf   string
}

// New builds a harness with the given seed listings. dataPath, when
// non-empty, enables the PebbleDB chat backlog.
func New(dataPath string, listings ...Listing) (*Server, error) {
	msgLog, err := openMessageLog(dataPath)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return &Server{
		hub:    newHub(msgLog),
		orders: newOrderStore(listings),
		msgLog: msgLog,
		csrf:   hex.EncodeToString(buf),
	}, nil
}

// CSRFToken exposes the token for in-process test clients.
func (s *Server) CSRFToken() string { return s.csrf }

// AddListing registers another listing after startup.
func (s *Server) AddListing(l Listing) { s.orders.AddListing(l) }

// Router assembles the collaborator endpoints.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/api/csrf/", s.handleCSRF)
	r.Get("/api/orders/", s.handleListOrders)
	r.Post("/api/orders/", s.requireCSRF(s.handleCreateOrder))
	r.Post("/api/orders/{orderID}/confirm/", s.requireCSRF(s.handleConfirmOrder))
	r.Get("/ws/chat/{roomID}/", s.handleChatWS)
	r.Post("/chat/{roomID}/", s.requireCSRF(s.handleFormSend))
	return r
}

// Close shuts down the hub connections and the message log.
func (s *Server) Close() {
	s.hub.closeAll()
	s.hub.wait()
	if err := s.msgLog.Close(); err != nil {
		log.Warn().Err(err).Msg("[dev] close message log")
	}
}

func (s *Server) requireCSRF(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-CSRFToken") != s.csrf {
			writeJSON(w, http.StatusForbidden, map[string]string{"detail": "CSRF 토큰이 올바르지 않습니다."})
			return
		}
		next(w, r)
	}
}

func (s *Server) handleCSRF(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"csrfToken": s.csrf})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	listingID, _ := strconv.ParseInt(r.URL.Query().Get("listing"), 10, 64)
	buyerID, _ := strconv.ParseInt(r.URL.Query().Get("buyer"), 10, 64)
	writeJSON(w, http.StatusOK, s.orders.List(listingID, buyerID))
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Listing int64 `json:"listing"`
		Amount  int64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "잘못된 요청입니다."})
		return
	}
	buyerID := requestUser(r)
	created, rej := s.orders.Create(req.Listing, buyerID, req.Amount)
	if rej != nil {
		writeRejection(w, rej)
		return
	}
	log.Info().Int64("order", created.ID).Int64("listing", created.Listing).Int64("buyer", buyerID).Msg("[dev] order created")
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleConfirmOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "주문을 찾을 수 없습니다."})
		return
	}
	confirmed, rej := s.orders.Confirm(orderID, requestUser(r))
	if rej != nil {
		writeRejection(w, rej)
		return
	}
	log.Info().Int64("order", confirmed.ID).Msg("[dev] escrow released")
	writeJSON(w, http.StatusOK, confirmed)
}

func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	s.hub.handleWS(w, r, chi.URLParam(r, "roomID"))
}

// handleFormSend is the form-POST chat variant: the message is accepted
// as form-encoded content, fanned out to the room, and echoed back as
// JSON for local self-authored rendering.
func (s *Server) handleFormSend(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "잘못된 요청입니다."})
		return
	}
	content := strings.TrimSpace(r.PostFormValue("content"))
	if content == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "내용을 입력해주세요."})
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "anon"
	}
	ts := time.Now().Format(timestampLayout)
	s.hub.broadcast(chi.URLParam(r, "roomID"), chatwire.Frame{
		Type:      chatwire.TypeChatMessage,
		Message:   content,
		Sender:    name,
		SenderID:  requestUser(r),
		Timestamp: ts,
	})
	writeJSON(w, http.StatusOK, map[string]string{"content": content, "timestamp": ts})
}

func requestUser(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get("X-User-Id"), 10, 64)
	if id == 0 {
		id, _ = strconv.ParseInt(r.URL.Query().Get("user"), 10, 64)
	}
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRejection(w http.ResponseWriter, rej *rejection) {
	if rej.detail != "" {
		writeJSON(w, rej.status, map[string]string{"detail": rej.detail})
		return
	}
	writeJSON(w, rej.status, map[string][]string{rej.field: rej.msgs})
}
