// Package poll is the fallback pull path used while the socket channel
// is down: the selected conversation's history is re-fetched on a fixed
// interval and handed to the reconciler as a batch. The poller is a
// scheduled task with an explicit Start/Stop lifecycle driven by
// connection-state transitions, and is strictly suppressed while the
// transport is connected.
package poll

import (
	"context"
	"log"
	"sync"
	"time"

	"izajadmin/internal/models"
)

// Fetcher pulls a room's message history from the backend.
type Fetcher interface {
	ListMessages(ctx context.Context, roomID string) ([]models.Message, *models.ConversationMeta, error)
}

// Applier reconciles a polled batch into the message store.
type Applier interface {
	ApplyBatch(roomID string, msgs []models.Message)
}

type Poller struct {
	interval time.Duration
	fetch    Fetcher
	apply    Applier

	// room yields the currently selected room at tick time, so a
	// conversation switch needs no poller restart.
	room func() string

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(interval time.Duration, fetch Fetcher, apply Applier, room func() string) *Poller {
	return &Poller{
		interval: interval,
		fetch:    fetch,
		apply:    apply,
		room:     room,
	}
}

// Start begins polling. Idempotent: a running poller is left alone.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.run(ctx, p.done)
}

// Stop halts polling and waits for the in-flight tick, if any.
// Idempotent.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.cancel = nil
	p.done = nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the poller is currently scheduled.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	roomID := p.room()
	if roomID == "" {
		return
	}

	msgs, _, err := p.fetch.ListMessages(ctx, roomID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Printf("poll of %s failed: %v", roomID, err)
		return
	}
	p.apply.ApplyBatch(roomID, msgs)
}
