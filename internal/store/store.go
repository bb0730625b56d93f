// Package store holds the in-memory state of the admin messaging
// session: the conversation table, per-room message sequences and the
// currently selected room. It is safe for concurrent use; compound
// read-modify-write flows are serialized by the reconciler, which is
// the sole mutator of message sequences.
package store

import (
	"errors"
	"sort"
	"sync"

	"izajadmin/internal/models"

	"github.com/c-pro/geche"
)

type Store struct {
	mu            sync.RWMutex
	conversations geche.Geche[string, models.Conversation]
	messages      map[string][]models.Message
	selected      string
}

func New() *Store {
	return &Store{
		conversations: geche.NewMapCache[string, models.Conversation](),
		messages:      make(map[string][]models.Message),
	}
}

// Conversation returns the conversation for roomID, if known.
func (s *Store) Conversation(roomID string) (models.Conversation, bool) {
	c, err := s.conversations.Get(roomID)
	if err != nil {
		return models.Conversation{}, false
	}
	return c, true
}

func (s *Store) SetConversation(c models.Conversation) {
	s.conversations.Set(c.RoomID, c)
}

// ResetConversations replaces the whole conversation table.
func (s *Store) ResetConversations(list []models.Conversation) {
	for id := range s.conversations.Snapshot() {
		_ = s.conversations.Del(id)
	}
	for _, c := range list {
		s.conversations.Set(c.RoomID, c)
	}
}

// Conversations returns all conversations sorted by last activity,
// newest first.
func (s *Store) Conversations() []models.Conversation {
	snap := s.conversations.Snapshot()
	list := make([]models.Conversation, 0, len(snap))
	for _, c := range snap {
		list = append(list, c)
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].LastActivity().After(list[j].LastActivity())
	})
	return list
}

// Messages returns a copy of the message sequence for roomID.
func (s *Store) Messages(roomID string) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[roomID]
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out
}

// ReplaceMessages installs msgs as the message sequence for roomID.
// The caller is responsible for ordering.
func (s *Store) ReplaceMessages(roomID string, msgs []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	own := make([]models.Message, len(msgs))
	copy(own, msgs)
	s.messages[roomID] = own
}

// Selected returns the currently selected room id, or "" when no
// conversation is open. Long-lived listeners consult this at call time
// instead of capturing the value.
func (s *Store) Selected() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

func (s *Store) SetSelected(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = roomID
}

// SetAdminConnected flips the admin-connection flag for roomID.
func (s *Store) SetAdminConnected(roomID string, connected bool) error {
	c, err := s.conversations.Get(roomID)
	if err != nil {
		if errors.Is(err, geche.ErrNotFound) {
			return models.ErrNotFound
		}
		return err
	}
	c.AdminConnected = connected
	s.conversations.Set(roomID, c)
	return nil
}
