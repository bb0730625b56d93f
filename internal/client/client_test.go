package client

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"izajadmin/internal/models"
	"izajadmin/internal/reconcile"
	"izajadmin/internal/store"
)

type fakeAPI struct {
	mu            sync.Mutex
	conversations []models.ConversationRecord
	messages      map[string][]models.Message
	meta          map[string]*models.ConversationMeta
	messageCalls  int
}

func (f *fakeAPI) ListConversations(ctx context.Context) ([]models.ConversationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conversations, nil
}

func (f *fakeAPI) ListMessages(ctx context.Context, roomID string) ([]models.Message, *models.ConversationMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messageCalls++
	return f.messages[roomID], f.meta[roomID], nil
}

type fakeChannel struct {
	mu        sync.Mutex
	connected bool
	emitted   []models.Event
	joined    []string
	handler   func(models.Event)
	stateCh   chan bool
}

func newFakeChannel(connected bool) *fakeChannel {
	return &fakeChannel{connected: connected, stateCh: make(chan bool, 16)}
}

func (f *fakeChannel) Start(ctx context.Context) {}

func (f *fakeChannel) OnEvent(fn func(models.Event)) {
	f.handler = fn
}

func (f *fakeChannel) Emit(ev models.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return errors.New("channel down")
	}
	f.emitted = append(f.emitted, ev)
	return nil
}

func (f *fakeChannel) JoinConversation(roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, roomID)
}

func (f *fakeChannel) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeChannel) StateChanges() <-chan bool { return f.stateCh }

func (f *fakeChannel) emitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.emitted)
}

// push simulates an inbound event from the backend.
func (f *fakeChannel) push(ev models.Event) {
	f.handler(ev)
}

// setConnected flips the channel state and delivers the signal, the way
// the real transport does on connect and drop.
func (f *fakeChannel) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
	f.stateCh <- v
}

type fakePoller struct {
	mu      sync.Mutex
	running bool
}

func (f *fakePoller) Start(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = true
}

func (f *fakePoller) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
}

func (f *fakePoller) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

type fakeCache struct {
	mu       sync.Mutex
	failRoom string
	convs    map[string]models.Conversation
	msgs     map[string][]models.Message
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		convs: make(map[string]models.Conversation),
		msgs:  make(map[string][]models.Message),
	}
}

func (f *fakeCache) UpsertConversation(conv models.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if conv.RoomID == f.failRoom {
		return errors.New("write failed")
	}
	f.convs[conv.RoomID] = conv
	return nil
}

func (f *fakeCache) UpsertMessage(msg models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs[msg.RoomID] = append(f.msgs[msg.RoomID], msg)
	return nil
}

func (f *fakeCache) ReplaceMessages(roomID string, msgs []models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs[roomID] = msgs
	return nil
}

func (f *fakeCache) ListConversations() ([]models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	convs := make([]models.Conversation, 0, len(f.convs))
	for _, conv := range f.convs {
		convs = append(convs, conv)
	}
	return convs, nil
}

func (f *fakeCache) ListMessages(roomID string) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.msgs[roomID], nil
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func newTestClient(api *fakeAPI, ch *fakeChannel) (*Client, *store.Store) {
	s := store.New()
	rec := reconcile.New(s, nil)
	c := New(Options{
		Store:      s,
		Reconciler: rec,
		API:        api,
		Channel:    ch,
		AdminID:    "admin-1",
	})
	return c, s
}

func seedConversation(s *store.Store, roomID string, connected bool) {
	s.SetConversation(models.Conversation{
		RoomID:         roomID,
		SessionID:      "sess-" + roomID,
		AdminConnected: connected,
		CreatedAt:      time.Now(),
	})
}

func TestSendPreconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("empty text", func(t *testing.T) {
		ch := newFakeChannel(true)
		c, s := newTestClient(&fakeAPI{}, ch)
		seedConversation(s, "room-1", true)
		s.SetSelected("room-1")

		if err := c.Send(ctx, "   "); !errors.Is(err, ErrEmptyMessage) {
			t.Errorf("expected ErrEmptyMessage, got %v", err)
		}
		if ch.emitCount() != 0 {
			t.Error("rejected send must not emit")
		}
		if len(s.Messages("room-1")) != 0 {
			t.Error("rejected send must not mutate state")
		}
	})

	t.Run("no selection", func(t *testing.T) {
		ch := newFakeChannel(true)
		c, _ := newTestClient(&fakeAPI{}, ch)

		if err := c.Send(ctx, "hi"); !errors.Is(err, ErrNoSelection) {
			t.Errorf("expected ErrNoSelection, got %v", err)
		}
	})

	t.Run("not engaged", func(t *testing.T) {
		ch := newFakeChannel(true)
		c, s := newTestClient(&fakeAPI{}, ch)
		seedConversation(s, "room-1", false)
		s.SetSelected("room-1")

		if err := c.Send(ctx, "hi"); !errors.Is(err, ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}
		if ch.emitCount() != 0 || len(s.Messages("room-1")) != 0 {
			t.Error("rejected send must leave no trace")
		}
	})

	t.Run("channel down", func(t *testing.T) {
		ch := newFakeChannel(false)
		c, s := newTestClient(&fakeAPI{}, ch)
		seedConversation(s, "room-1", true)
		s.SetSelected("room-1")

		if err := c.Send(ctx, "hi"); !errors.Is(err, ErrChannelDown) {
			t.Errorf("expected ErrChannelDown, got %v", err)
		}
		if len(s.Messages("room-1")) != 0 {
			t.Error("rejected send must not mutate state")
		}
	})
}

func TestSendOptimisticInsertAndEmit(t *testing.T) {
	ctx := context.Background()
	ch := newFakeChannel(true)
	c, s := newTestClient(&fakeAPI{}, ch)
	seedConversation(s, "room-1", true)
	s.SetSelected("room-1")

	if err := c.Send(ctx, "Hi"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	msgs := s.Messages("room-1")
	if len(msgs) != 1 || msgs[0].Text != "Hi" || msgs[0].Sender != models.SenderAdmin {
		t.Fatalf("optimistic message missing: %+v", msgs)
	}
	if ch.emitCount() != 1 {
		t.Fatalf("expected 1 emitted event, got %d", ch.emitCount())
	}
	ev := ch.emitted[0]
	if ev.Type != models.EventAdminMessage || ev.RoomID != "room-1" || ev.Text != "Hi" || ev.SenderID != "admin-1" {
		t.Errorf("emitted event malformed: %+v", ev)
	}
}

func TestSendEchoCollapses(t *testing.T) {
	ctx := context.Background()
	ch := newFakeChannel(true)
	c, s := newTestClient(&fakeAPI{}, ch)
	seedConversation(s, "room-1", true)
	s.SetSelected("room-1")

	if err := c.Send(ctx, "Hi"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	sent := s.Messages("room-1")[0]

	// Echo of the same logical message: server id, clock 500ms later.
	ch.push(models.Event{
		Type:   models.EventAdminMessage,
		RoomID: "room-1",
		Message: &models.Message{
			ID:        "server-id-1",
			Text:      "Hi",
			Sender:    models.SenderAdmin,
			CreatedAt: sent.CreatedAt.Add(500 * time.Millisecond),
			RoomID:    "room-1",
		},
	})

	if got := len(s.Messages("room-1")); got != 1 {
		t.Errorf("echo must collapse with the optimistic copy, got %d messages", got)
	}
}

func TestCustomerRequestScenario(t *testing.T) {
	// full end-to-end flow: first contact, select, hydrate, read.
	ctx := context.Background()
	t0 := time.Now()

	hello := models.Message{
		ID:        "m-hello",
		Text:      "Hello",
		Sender:    models.SenderCustomer,
		CreatedAt: t0,
		RoomID:    "room-1",
	}
	api := &fakeAPI{
		messages: map[string][]models.Message{"room-1": {hello}},
		meta:     map[string]*models.ConversationMeta{"room-1": {CustomerName: "Ana"}},
	}
	ch := newFakeChannel(true)
	c, s := newTestClient(api, ch)

	// room-1 is not selected when the first message arrives.
	s.SetSelected("other-room")
	ch.push(models.Event{
		Type:    models.EventAdminIncoming,
		RoomID:  "room-1",
		Message: &hello,
	})

	conv, ok := s.Conversation("room-1")
	if !ok {
		t.Fatal("conversation not created from incoming event")
	}
	if conv.LastMessage == nil || conv.LastMessage.Text != "Hello" {
		t.Error("last message not set to Hello")
	}
	if conv.Unread != 1 {
		t.Errorf("expected unread 1, got %d", conv.Unread)
	}

	// Selecting the room hydrates over REST and resets unread.
	if err := c.Select(ctx, "room-1"); err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if api.messageCalls == 0 {
		t.Error("selection must trigger a REST hydration")
	}

	msgs := s.Messages("room-1")
	if len(msgs) != 1 || msgs[0].Text != "Hello" {
		t.Errorf("expected exactly one Hello message, got %+v", msgs)
	}
	conv, _ = s.Conversation("room-1")
	if conv.Unread != 0 {
		t.Errorf("expected unread 0 after selection, got %d", conv.Unread)
	}
	if len(ch.joined) == 0 || ch.joined[len(ch.joined)-1] != "room-1" {
		t.Error("selection must join the room's event scope")
	}
}

func TestConnectDisconnect(t *testing.T) {
	ctx := context.Background()
	ch := newFakeChannel(true)
	c, s := newTestClient(&fakeAPI{}, ch)
	seedConversation(s, "room-1", false)
	s.SetSelected("room-1")

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	conv, _ := s.Conversation("room-1")
	if !conv.AdminConnected {
		t.Error("connect must set the admin-connection flag")
	}
	if ch.emitted[0].Type != models.EventAdminConnect {
		t.Errorf("expected admin connect event, got %s", ch.emitted[0].Type)
	}

	if err := c.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	conv, _ = s.Conversation("room-1")
	if conv.AdminConnected {
		t.Error("disconnect must clear the admin-connection flag")
	}
}

func TestSelectImpliesNoSendPermission(t *testing.T) {
	ctx := context.Background()
	ch := newFakeChannel(true)
	c, s := newTestClient(&fakeAPI{messages: map[string][]models.Message{}}, ch)
	seedConversation(s, "room-1", false)

	if err := c.Select(ctx, "room-1"); err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if err := c.Send(ctx, "hi"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("selection must not grant send permission, got %v", err)
	}
}

func TestPollingFollowsConnectionState(t *testing.T) {
	ch := newFakeChannel(false)
	poller := &fakePoller{}
	s := store.New()
	rec := reconcile.New(s, nil)
	c := New(Options{
		Store:      s,
		Reconciler: rec,
		API:        &fakeAPI{},
		Channel:    ch,
		Poller:     poller,
		AdminID:    "admin-1",
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()

	// Disconnected at startup: the fallback runs.
	waitFor(t, poller.Running, "polling should run while disconnected")

	// The channel comes up: polling is suppressed.
	ch.setConnected(true)
	waitFor(t, func() bool { return !poller.Running() }, "polling should stop once connected")

	// The channel drops again: polling resumes.
	ch.setConnected(false)
	waitFor(t, poller.Running, "polling should resume after a drop")

	cancel()
	<-done
	if poller.Running() {
		t.Error("polling should be stopped after shutdown")
	}
}

func TestCachePersistSkipsFailedRecord(t *testing.T) {
	cache := newFakeCache()
	cache.failRoom = "room-new"

	s := store.New()
	rec := reconcile.New(s, nil)
	c := New(Options{
		Store:      s,
		Reconciler: rec,
		API:        &fakeAPI{},
		Channel:    newFakeChannel(true),
		Cache:      cache,
		AdminID:    "admin-1",
	})

	t0 := time.Now()
	s.SetConversation(models.Conversation{RoomID: "room-old", CreatedAt: t0})
	// Newest activity sorts first, so the failing record is hit first.
	s.SetConversation(models.Conversation{RoomID: "room-new", CreatedAt: t0.Add(time.Minute)})

	c.persistConversations()

	cache.mu.Lock()
	defer cache.mu.Unlock()
	if _, ok := cache.convs["room-old"]; !ok {
		t.Error("a failed cache write must not drop the remaining conversations")
	}
}

func TestEventMessageFallbackID(t *testing.T) {
	ev := models.Event{
		Type:   models.EventCustomerMessage,
		RoomID: "room-1",
		Text:   "flat frame",
	}
	msg := eventMessage(ev, models.SenderCustomer)
	if msg.ID == "" {
		t.Fatal("fallback id not synthesized")
	}
	if _, err := strconv.ParseInt(msg.ID, 10, 64); err != nil {
		t.Errorf("fallback id should be timestamp-based, got %q", msg.ID)
	}
}
