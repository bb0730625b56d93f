// Package stubserver is a development backend implementing the
// messaging contract the client depends on: the three REST endpoints
// and the socket event surface. It keeps everything in memory and is
// used by stubd and the integration tests; it is not the production
// backend.
package stubserver

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"izajadmin/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type room struct {
	conv models.Conversation
	msgs []models.Message
}

type Server struct {
	token string

	mu     sync.Mutex
	rooms  map[string]*room
	admins map[*websocket.Conn]bool

	upgrader websocket.Upgrader
}

func New(token string) *Server {
	return &Server{
		token:  token,
		rooms:  make(map[string]*room),
		admins: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))

	r.Route("/api/messaging", func(r chi.Router) {
		r.Use(s.requireToken)
		r.Get("/conversations", s.handleConversations)
		r.Get("/conversations/{roomID}/messages", s.handleMessages)
		r.Put("/conversations/{roomID}/read", s.handleMarkRead)
	})

	r.Get("/socket", s.handleSocket)

	return r
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+s.token {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	records := make([]models.ConversationRecord, 0, len(s.rooms))
	for _, rm := range s.rooms {
		records = append(records, models.ConversationRecord{Conversation: rm.conv})
	}
	s.mu.Unlock()

	sort.Slice(records, func(i, j int) bool {
		return records[i].LastActivity().After(records[j].LastActivity())
	})

	writeJSON(w, map[string]any{"success": true, "conversations": records})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	s.mu.Lock()
	rm, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	msgs := make([]models.Message, len(rm.msgs))
	copy(msgs, rm.msgs)
	meta := models.ConversationMeta{
		AdminConnected: rm.conv.AdminConnected,
		CustomerName:   rm.conv.CustomerName,
		CustomerEmail:  rm.conv.CustomerEmail,
	}
	s.mu.Unlock()

	writeJSON(w, map[string]any{
		"success":      true,
		"messages":     msgs,
		"conversation": meta,
	})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	s.mu.Lock()
	rm, ok := s.rooms[roomID]
	if ok {
		rm.conv.Unread = 0
	}
	s.mu.Unlock()

	if !ok {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{"success": true})
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("error upgrading to websocket: %v", err)
		return
	}
	defer func() {
		s.mu.Lock()
		delete(s.admins, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		var ev models.Event
		if err := conn.ReadJSON(&ev); err != nil {
			return
		}
		s.handleEvent(conn, ev)
	}
}

func (s *Server) handleEvent(conn *websocket.Conn, ev models.Event) {
	switch ev.Type {
	case models.EventAdminJoin:
		s.mu.Lock()
		s.admins[conn] = true
		s.mu.Unlock()
	case models.EventAdminJoinRoom:
		// Broadcast scope covers all admins here; nothing to track.
	case models.EventAdminMessage:
		s.appendAdminMessage(ev)
	case models.EventAdminConnect:
		s.setAdminConnected(ev.RoomID, true)
	case models.EventAdminDisconnect:
		s.setAdminConnected(ev.RoomID, false)
	}
}

// appendAdminMessage stores an admin send with a server-assigned id and
// echoes it to every joined admin, the sender included.
func (s *Server) appendAdminMessage(ev models.Event) {
	msg := models.Message{
		ID:        uuid.NewString(),
		Text:      ev.Text,
		Sender:    models.SenderAdmin,
		CreatedAt: time.Now(),
		RoomID:    ev.RoomID,
		SessionID: ev.SessionID,
	}

	s.mu.Lock()
	rm, ok := s.rooms[ev.RoomID]
	if !ok {
		s.mu.Unlock()
		return
	}
	rm.msgs = append(rm.msgs, msg)
	last := msg
	rm.conv.LastMessage = &last
	s.mu.Unlock()

	s.broadcast(models.Event{
		Type:      models.EventAdminMessage,
		RoomID:    msg.RoomID,
		SessionID: msg.SessionID,
		SenderID:  ev.SenderID,
		Message:   &msg,
	})
}

func (s *Server) setAdminConnected(roomID string, connected bool) {
	s.mu.Lock()
	if rm, ok := s.rooms[roomID]; ok {
		rm.conv.AdminConnected = connected
	}
	s.mu.Unlock()
}

// SimulateCustomer injects a customer message, creating the room on
// first contact. New rooms announce themselves as a customer request;
// known rooms push an incoming-message event.
func (s *Server) SimulateCustomer(roomID, name, text string) {
	msg := models.Message{
		ID:        uuid.NewString(),
		Text:      text,
		Sender:    models.SenderCustomer,
		CreatedAt: time.Now(),
		RoomID:    roomID,
	}

	s.mu.Lock()
	rm, existed := s.rooms[roomID]
	if !existed {
		rm = &room{conv: models.Conversation{
			RoomID:       roomID,
			SessionID:    uuid.NewString(),
			CustomerName: name,
			CreatedAt:    msg.CreatedAt,
		}}
		s.rooms[roomID] = rm
	}
	msg.SessionID = rm.conv.SessionID
	rm.msgs = append(rm.msgs, msg)
	last := msg
	rm.conv.LastMessage = &last
	rm.conv.Unread++
	conv := rm.conv
	s.mu.Unlock()

	if !existed {
		s.broadcast(models.Event{
			Type:         models.EventCustomerRequest,
			RoomID:       roomID,
			SessionID:    msg.SessionID,
			Message:      &msg,
			Conversation: &conv,
		})
		return
	}
	s.broadcast(models.Event{
		Type:      models.EventAdminIncoming,
		RoomID:    roomID,
		SessionID: msg.SessionID,
		Message:   &msg,
	})
}

func (s *Server) broadcast(ev models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for conn := range s.admins {
		if err := conn.WriteJSON(ev); err != nil {
			log.Printf("broadcast to admin failed: %v", err)
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

// Seed preloads a conversation with history, for tests and demos.
func (s *Server) Seed(conv models.Conversation, msgs []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rm := &room{conv: conv, msgs: msgs}
	if len(msgs) > 0 {
		last := msgs[len(msgs)-1]
		rm.conv.LastMessage = &last
	}
	s.rooms[conv.RoomID] = rm
}

// RoomState reports a room's message count and unread counter, for
// assertions in tests.
func (s *Server) RoomState(roomID string) (msgCount, unread int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rm, ok := s.rooms[roomID]
	if !ok {
		return 0, 0, fmt.Errorf("room %s: %w", roomID, models.ErrNotFound)
	}
	return len(rm.msgs), rm.conv.Unread, nil
}
