// Package reconcile merges messages arriving from three producers
// (initial REST load, socket push, polling pull) into one consistent
// per-room ordered sequence. It is the single authority for mutating
// message sequences and the last-message/unread fields of
// conversations, regardless of which producer supplied the data.
package reconcile

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"izajadmin/internal/content"
	"izajadmin/internal/models"
	"izajadmin/internal/store"
)

// ReadReporter delivers best-effort read receipts to the backend.
type ReadReporter interface {
	MarkRead(ctx context.Context, roomID string) error
}

type Reconciler struct {
	mu    sync.Mutex
	store *store.Store
	reads ReadReporter
	now   func() time.Time
}

func New(s *store.Store, reads ReadReporter) *Reconciler {
	return &Reconciler{
		store: s,
		reads: reads,
		now:   time.Now,
	}
}

// HydrateConversations rebuilds the conversation table from a REST
// listing. The last message is taken from the explicit field or, when
// a record inlines history, derived as the most recent entry. If no
// conversation is selected yet, the newest one is selected.
func (r *Reconciler) HydrateConversations(records []models.ConversationRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := make([]models.Conversation, 0, len(records))
	for _, rec := range records {
		c := rec.Conversation
		if c.LastMessage == nil && len(rec.Messages) > 0 {
			c.LastMessage = newestOf(rec.Messages)
		}
		list = append(list, c)
	}
	r.store.ResetConversations(list)

	if r.store.Selected() == "" {
		all := r.store.Conversations()
		if len(all) > 0 {
			r.store.SetSelected(all[0].RoomID)
		}
	}
}

// HydrateMessages replaces the message sequence for roomID with a REST
// response, sorted ascending by creation time, and applies any
// server-supplied admin-connection flag and customer metadata.
func (r *Reconciler) HydrateMessages(roomID string, msgs []models.Message, meta *models.ConversationMeta) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sorted := sanitizeAndSort(msgs)
	r.store.ReplaceMessages(roomID, sorted)

	c, ok := r.store.Conversation(roomID)
	if !ok {
		c = models.Conversation{RoomID: roomID, CreatedAt: r.now()}
	}
	if meta != nil {
		c.AdminConnected = meta.AdminConnected
		if meta.CustomerName != "" {
			c.CustomerName = meta.CustomerName
		}
		if meta.CustomerEmail != "" {
			c.CustomerEmail = meta.CustomerEmail
		}
	}
	if len(sorted) > 0 {
		last := sorted[len(sorted)-1]
		c.LastMessage = &last
	}
	r.store.SetConversation(c)
}

// ApplyIncoming inserts a single message, whatever its producer, into
// its room's sequence: duplicates are dropped, insertion keeps the
// sequence sorted ascending by timestamp, and the owning conversation's
// last-message and unread fields are updated. Messages for the
// currently selected room are acknowledged as read immediately instead
// of counting as unread. Reports whether the message was inserted.
func (r *Reconciler) ApplyIncoming(ctx context.Context, msg models.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.Sender == models.SenderCustomer {
		msg.Text = content.SanitizeText(msg.Text)
	}

	msgs := r.store.Messages(msg.RoomID)
	for _, existing := range msgs {
		if existing.DuplicateOf(msg) {
			return false
		}
	}
	r.store.ReplaceMessages(msg.RoomID, insertOrdered(msgs, msg))

	c, ok := r.store.Conversation(msg.RoomID)
	if !ok {
		// First sign of life from a room we have never listed.
		c = models.Conversation{
			RoomID:    msg.RoomID,
			SessionID: msg.SessionID,
			CreatedAt: msg.CreatedAt,
		}
		if msg.ProductName != "" {
			c.ProductName = msg.ProductName
		}
	}
	if c.LastMessage == nil || !msg.CreatedAt.Before(c.LastMessage.CreatedAt) {
		m := msg
		c.LastMessage = &m
	}
	if msg.RoomID == r.store.Selected() {
		c.Unread = 0
		r.store.SetConversation(c)
		r.reportRead(ctx, msg.RoomID)
	} else {
		c.Unread++
		r.store.SetConversation(c)
	}
	return true
}

// ApplyBatch reconciles a polled message listing for roomID. The
// sequence is replaced wholesale only when the fetched set differs from
// the cached one by identifier membership or count; matching sets are
// left untouched to keep polling idempotent.
func (r *Reconciler) ApplyBatch(roomID string, msgs []models.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.store.Messages(roomID)
	if sameIDSet(current, msgs) {
		return
	}

	sorted := sanitizeAndSort(msgs)
	r.store.ReplaceMessages(roomID, sorted)

	if len(sorted) == 0 {
		return
	}
	c, ok := r.store.Conversation(roomID)
	if !ok {
		c = models.Conversation{RoomID: roomID, CreatedAt: r.now()}
	}
	last := sorted[len(sorted)-1]
	c.LastMessage = &last
	r.store.SetConversation(c)
}

// MarkRead zeroes the unread counter for roomID locally and informs the
// backend asynchronously. Read receipts are best-effort: a delivery
// failure is logged and the optimistic local state stands.
func (r *Reconciler) MarkRead(ctx context.Context, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.store.Conversation(roomID)
	if !ok {
		return
	}
	c.Unread = 0
	r.store.SetConversation(c)
	r.reportRead(ctx, roomID)
}

func (r *Reconciler) reportRead(ctx context.Context, roomID string) {
	if r.reads == nil {
		return
	}
	go func() {
		if err := r.reads.MarkRead(ctx, roomID); err != nil {
			log.Printf("read receipt for %s not delivered: %v", roomID, err)
		}
	}()
}

// insertOrdered places msg after every entry with an equal or earlier
// timestamp, so equal-timestamp messages keep their insertion order.
func insertOrdered(msgs []models.Message, msg models.Message) []models.Message {
	i := sort.Search(len(msgs), func(i int) bool {
		return msgs[i].CreatedAt.After(msg.CreatedAt)
	})
	msgs = append(msgs, models.Message{})
	copy(msgs[i+1:], msgs[i:])
	msgs[i] = msg
	return msgs
}

func sanitizeAndSort(msgs []models.Message) []models.Message {
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	for i := range out {
		if out[i].Sender == models.SenderCustomer {
			out[i].Text = content.SanitizeText(out[i].Text)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// newestOf returns the most recent message by creation time; among
// equals the earliest-listed wins.
func newestOf(msgs []models.Message) *models.Message {
	sorted := make([]models.Message, len(msgs))
	copy(sorted, msgs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	m := sorted[0]
	return &m
}

func sameIDSet(a, b []models.Message) bool {
	if len(a) != len(b) {
		return false
	}
	ids := make(map[string]struct{}, len(a))
	for _, m := range a {
		ids[m.ID] = struct{}{}
	}
	for _, m := range b {
		if _, ok := ids[m.ID]; !ok {
			return false
		}
	}
	return true
}
