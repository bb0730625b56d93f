// Package transport maintains the long-lived socket channel to the
// backend. The channel is scoped to the admin's session, not to any
// single conversation: room-scoped events are received by joining the
// room on the shared channel. Transport failures never propagate as
// panics or fatal errors; an absent channel simply means "not
// connected" and callers fall back to polling.
package transport

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"izajadmin/internal/models"

	"github.com/gorilla/websocket"
)

var ErrNotConnected = errors.New("socket channel not connected")

type Config struct {
	URL     string
	Token   string
	AdminID string

	// SelectedRoom is consulted on every successful (re)connection to
	// re-announce the current room membership. The server does not
	// remember memberships across reconnects.
	SelectedRoom func() string

	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

type Service struct {
	cfg Config

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	handlers  []func(models.Event)
	stateSubs []chan bool
	started   bool
	cancel    context.CancelFunc
	done      chan struct{}

	writeMu sync.Mutex
}

func NewService(cfg Config) *Service {
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = time.Second
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = 30 * time.Second
	}
	return &Service{cfg: cfg, done: make(chan struct{})}
}

// OnEvent registers a handler for inbound events. Handlers run on the
// read loop goroutine, one event at a time. Register before Start.
func (s *Service) OnEvent(fn func(models.Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, fn)
}

// StateChanges returns a channel receiving the connection-state signal:
// true on connect, false on disconnect or connect error. A subscriber
// that falls behind sees only the latest state.
func (s *Service) StateChanges() <-chan bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan bool, 1)
	s.stateSubs = append(s.stateSubs, ch)
	return ch
}

func (s *Service) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Start launches the connect/read/reconnect loop. Idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	go s.run(ctx)
}

// Close tears the channel down and stops reconnecting. The service is
// spent afterwards; a new session builds a new one.
func (s *Service) Close() {
	s.mu.Lock()
	cancel := s.cancel
	conn := s.conn
	started := s.started
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if started {
		<-s.done
	}
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	backoff := s.cfg.ReconnectMin
	for {
		conn, err := s.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("socket connect failed: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > s.cfg.ReconnectMax {
				backoff = s.cfg.ReconnectMax
			}
			continue
		}
		backoff = s.cfg.ReconnectMin

		s.setConn(conn)
		s.setConnected(true)
		s.announce()

		s.readLoop(conn)

		s.setConn(nil)
		s.setConnected(false)
		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}
		log.Printf("socket channel lost, reconnecting")
	}
}

func (s *Service) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if s.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+s.cfg.Token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, s.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// announce re-establishes the memberships the server forgot: the
// all-admins broadcast scope, and the currently selected room, if any.
func (s *Service) announce() {
	if err := s.Emit(models.Event{Type: models.EventAdminJoin, SenderID: s.cfg.AdminID}); err != nil {
		log.Printf("admin join announce failed: %v", err)
	}
	if s.cfg.SelectedRoom == nil {
		return
	}
	if room := s.cfg.SelectedRoom(); room != "" {
		s.JoinConversation(room)
	}
}

func (s *Service) readLoop(conn *websocket.Conn) {
	for {
		var ev models.Event
		if err := conn.ReadJSON(&ev); err != nil {
			return
		}

		s.mu.Lock()
		handlers := make([]func(models.Event), len(s.handlers))
		copy(handlers, s.handlers)
		s.mu.Unlock()

		for _, fn := range handlers {
			fn(ev)
		}
	}
}

// Emit sends an event over the channel. Returns ErrNotConnected when no
// channel is up; callers decide whether that is fatal for them.
func (s *Service) Emit(ev models.Event) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(ev)
}

// JoinConversation subscribes the shared channel to a room's event
// scope. Must be reissued after every reconnect and room switch; the
// reconnect half is handled by announce.
func (s *Service) JoinConversation(roomID string) {
	err := s.Emit(models.Event{
		Type:     models.EventAdminJoinRoom,
		RoomID:   roomID,
		SenderID: s.cfg.AdminID,
	})
	if err != nil {
		log.Printf("join room %s failed: %v", roomID, err)
	}
}

func (s *Service) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn
}

func (s *Service) setConnected(connected bool) {
	s.mu.Lock()
	s.connected = connected
	subs := make([]chan bool, len(s.stateSubs))
	copy(subs, s.stateSubs)
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- connected:
		default:
			// Slow subscriber: replace the stale signal with the
			// latest state.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- connected:
			default:
			}
		}
	}
}
