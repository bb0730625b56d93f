// Package client composes the messaging session: the in-memory stores,
// the reconciler, the REST client, the socket channel and the polling
// fallback. All user-facing operations of the admin console go through
// here.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"izajadmin/internal/content"
	"izajadmin/internal/export"
	"izajadmin/internal/models"
	"izajadmin/internal/reconcile"
	"izajadmin/internal/store"
)

var (
	ErrNoSelection  = errors.New("no conversation selected")
	ErrEmptyMessage = errors.New("cannot send an empty message")
	ErrNotConnected = errors.New("connect to the conversation before sending")
	ErrChannelDown  = errors.New("realtime channel is down")
)

// API is the REST surface the client consumes.
type API interface {
	ListConversations(ctx context.Context) ([]models.ConversationRecord, error)
	ListMessages(ctx context.Context, roomID string) ([]models.Message, *models.ConversationMeta, error)
}

// Channel is the realtime transport surface.
type Channel interface {
	Start(ctx context.Context)
	OnEvent(fn func(models.Event))
	Emit(ev models.Event) error
	JoinConversation(roomID string)
	Connected() bool
	StateChanges() <-chan bool
}

// Task is a start/stoppable background job, here the polling fallback.
type Task interface {
	Start(ctx context.Context)
	Stop()
}

// Cache is the optional local persistence layer. A nil Cache disables
// offline state.
type Cache interface {
	UpsertConversation(conv models.Conversation) error
	UpsertMessage(msg models.Message) error
	ReplaceMessages(roomID string, msgs []models.Message) error
	ListConversations() ([]models.Conversation, error)
	ListMessages(roomID string) ([]models.Message, error)
}

type Options struct {
	Store      *store.Store
	Reconciler *reconcile.Reconciler
	API        API
	Channel    Channel
	Poller     Task
	Cache      Cache
	AdminID    string
}

type Client struct {
	store   *store.Store
	rec     *reconcile.Reconciler
	api     API
	ch      Channel
	poller  Task
	cache   Cache
	adminID string

	mu     sync.Mutex
	runCtx context.Context

	stateCh <-chan bool
}

func New(opts Options) *Client {
	c := &Client{
		store:   opts.Store,
		rec:     opts.Reconciler,
		api:     opts.API,
		ch:      opts.Channel,
		poller:  opts.Poller,
		cache:   opts.Cache,
		adminID: opts.AdminID,
		runCtx:  context.Background(),
	}
	c.stateCh = c.ch.StateChanges()
	c.ch.OnEvent(c.handleEvent)
	return c
}

// Run drives the session: restores cached state, starts the channel,
// hydrates the conversation list and keeps the polling fallback in
// lockstep with the connection state. Blocks until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	c.runCtx = ctx
	c.mu.Unlock()

	c.restoreCache()
	c.ch.Start(ctx)

	if records, err := c.api.ListConversations(ctx); err != nil {
		// Stale or empty state until the next manual refresh.
		log.Printf("conversation hydration failed: %v", err)
	} else {
		c.rec.HydrateConversations(records)
		c.persistConversations()
	}

	if !c.ch.Connected() {
		c.poller.Start(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			c.poller.Stop()
			return nil
		case connected := <-c.stateCh:
			if connected {
				c.poller.Stop()
			} else {
				c.poller.Start(ctx)
			}
		}
	}
}

// Refresh re-fetches the conversation listing on demand.
func (c *Client) Refresh(ctx context.Context) error {
	records, err := c.api.ListConversations(ctx)
	if err != nil {
		return err
	}
	c.rec.HydrateConversations(records)
	c.persistConversations()
	return nil
}

// Select opens a conversation: it becomes the selected room, the
// channel subscribes to its event scope, history is hydrated over REST
// and the conversation is marked read. A hydration failure keeps the
// cached sequence on screen rather than failing the selection.
func (c *Client) Select(ctx context.Context, roomID string) error {
	if err := content.ValidateRoomID(roomID); err != nil {
		return err
	}

	c.store.SetSelected(roomID)
	c.ch.JoinConversation(roomID)

	msgs, meta, err := c.api.ListMessages(ctx, roomID)
	if err != nil {
		log.Printf("message hydration for %s failed: %v", roomID, err)
	} else {
		c.rec.HydrateMessages(roomID, msgs, meta)
		c.persistMessages(roomID)
	}

	c.rec.MarkRead(ctx, roomID)
	return nil
}

// Connect engages this admin with the selected conversation. It is a
// deliberate second step after selection: opening a conversation never
// implicitly grants send permission.
func (c *Client) Connect(ctx context.Context) error {
	return c.setEngaged(ctx, true)
}

// Disconnect withdraws the admin from the selected conversation.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.setEngaged(ctx, false)
}

func (c *Client) setEngaged(ctx context.Context, engaged bool) error {
	roomID := c.store.Selected()
	if roomID == "" {
		return ErrNoSelection
	}
	conv, ok := c.store.Conversation(roomID)
	if !ok {
		return models.ErrNotFound
	}
	if !c.ch.Connected() {
		return ErrChannelDown
	}

	evType := models.EventAdminConnect
	if !engaged {
		evType = models.EventAdminDisconnect
	}
	err := c.ch.Emit(models.Event{
		Type:      evType,
		RoomID:    roomID,
		SessionID: conv.SessionID,
		SenderID:  c.adminID,
	})
	if err != nil {
		return fmt.Errorf("failed to toggle connection for %s: %w", roomID, err)
	}

	if err := c.store.SetAdminConnected(roomID, engaged); err != nil {
		return err
	}
	c.persistConversations()
	return nil
}

// Send delivers a message to the selected conversation. Preconditions:
// non-blank text, a selected conversation, an engaged admin-connection
// flag and a live channel. The message is inserted optimistically with
// a timestamp id and then emitted; the later server echo collapses with
// the local copy under duplicate detection.
func (c *Client) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	roomID := c.store.Selected()
	if roomID == "" {
		return ErrNoSelection
	}
	conv, ok := c.store.Conversation(roomID)
	if !ok {
		return models.ErrNotFound
	}
	if !conv.AdminConnected {
		return ErrNotConnected
	}
	if !c.ch.Connected() {
		return ErrChannelDown
	}

	now := time.Now()
	msg := models.Message{
		ID:        strconv.FormatInt(now.UnixMilli(), 10),
		Text:      text,
		Sender:    models.SenderAdmin,
		CreatedAt: now,
		RoomID:    roomID,
		SessionID: conv.SessionID,
	}
	c.rec.ApplyIncoming(ctx, msg)
	c.persistMessage(msg)

	err := c.ch.Emit(models.Event{
		Type:      models.EventAdminMessage,
		RoomID:    roomID,
		SessionID: conv.SessionID,
		SenderID:  c.adminID,
		Text:      text,
	})
	if err != nil {
		// The local copy stands; a poll cycle reconciles it later.
		log.Printf("send to %s not delivered: %v", roomID, err)
	}
	return nil
}

// MarkRead zeroes the unread counter for a room.
func (c *Client) MarkRead(ctx context.Context, roomID string) {
	c.rec.MarkRead(ctx, roomID)
}

// Export writes the transcript of a room in the given format
// ("xlsx" or "html").
func (c *Client) Export(w io.Writer, roomID, format string) error {
	conv, ok := c.store.Conversation(roomID)
	if !ok {
		return models.ErrNotFound
	}
	msgs := c.store.Messages(roomID)

	switch format {
	case "xlsx":
		return export.XLSX(w, conv, msgs)
	case "html":
		return export.HTML(w, conv, msgs)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

func (c *Client) Conversations() []models.Conversation {
	return c.store.Conversations()
}

func (c *Client) Messages(roomID string) []models.Message {
	return c.store.Messages(roomID)
}

func (c *Client) Selected() string {
	return c.store.Selected()
}

func (c *Client) handleEvent(ev models.Event) {
	c.mu.Lock()
	ctx := c.runCtx
	c.mu.Unlock()

	switch ev.Type {
	case models.EventCustomerMessage, models.EventAdminIncoming:
		msg := eventMessage(ev, models.SenderCustomer)
		if c.rec.ApplyIncoming(ctx, msg) {
			c.persistMessage(msg)
		}
	case models.EventAdminMessage:
		msg := eventMessage(ev, models.SenderAdmin)
		if c.rec.ApplyIncoming(ctx, msg) {
			c.persistMessage(msg)
		}
	case models.EventCustomerRequest:
		c.handleCustomerRequest(ctx, ev)
	}
}

// handleCustomerRequest registers a room that just sent its first
// message: the conversation entry is created and, when the event
// carries the message, it goes through the normal reconcile path.
func (c *Client) handleCustomerRequest(ctx context.Context, ev models.Event) {
	if ev.Conversation != nil {
		if _, ok := c.store.Conversation(ev.Conversation.RoomID); !ok {
			conv := *ev.Conversation
			// Unread and last-message accounting is local; the
			// reconcile path below fills both in.
			conv.Unread = 0
			conv.LastMessage = nil
			c.store.SetConversation(conv)
		}
	}
	if ev.Message != nil || ev.Text != "" {
		msg := eventMessage(ev, models.SenderCustomer)
		if c.rec.ApplyIncoming(ctx, msg) {
			c.persistMessage(msg)
		}
	}
	c.persistConversations()
}

// eventMessage extracts the message from an event frame, falling back
// to the flat fields for backends that do not nest a message object.
func eventMessage(ev models.Event, sender models.Sender) models.Message {
	if ev.Message != nil {
		msg := *ev.Message
		if msg.RoomID == "" {
			msg.RoomID = ev.RoomID
		}
		if msg.SessionID == "" {
			msg.SessionID = ev.SessionID
		}
		if msg.Sender == "" {
			msg.Sender = sender
		}
		return msg
	}

	msg := models.Message{
		Text:      ev.Text,
		Sender:    sender,
		CreatedAt: time.Now(),
		RoomID:    ev.RoomID,
		SessionID: ev.SessionID,
	}
	msg.ID = strconv.FormatInt(msg.CreatedAt.UnixMilli(), 10)
	return msg
}

func (c *Client) restoreCache() {
	if c.cache == nil {
		return
	}
	convs, err := c.cache.ListConversations()
	if err != nil {
		log.Printf("cache restore failed: %v", err)
		return
	}
	for i, conv := range convs {
		msgs, err := c.cache.ListMessages(conv.RoomID)
		if err != nil {
			log.Printf("cache restore for %s failed: %v", conv.RoomID, err)
			continue
		}
		if len(msgs) > 0 {
			last := msgs[len(msgs)-1]
			convs[i].LastMessage = &last
			c.store.ReplaceMessages(conv.RoomID, msgs)
		}
	}
	c.store.ResetConversations(convs)
}

func (c *Client) persistConversations() {
	if c.cache == nil {
		return
	}
	for _, conv := range c.store.Conversations() {
		if err := c.cache.UpsertConversation(conv); err != nil {
			log.Printf("cache write for %s failed: %v", conv.RoomID, err)
		}
	}
}

func (c *Client) persistMessages(roomID string) {
	if c.cache == nil {
		return
	}
	if err := c.cache.ReplaceMessages(roomID, c.store.Messages(roomID)); err != nil {
		log.Printf("cache write for %s failed: %v", roomID, err)
	}
}

func (c *Client) persistMessage(msg models.Message) {
	if c.cache == nil {
		return
	}
	if err := c.cache.UpsertMessage(msg); err != nil {
		log.Printf("cache write for %s failed: %v", msg.RoomID, err)
	}
	if conv, ok := c.store.Conversation(msg.RoomID); ok {
		if err := c.cache.UpsertConversation(conv); err != nil {
			log.Printf("cache write for %s failed: %v", msg.RoomID, err)
		}
	}
}
