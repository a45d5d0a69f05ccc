// Package bot implements event dispatch for the fish-store storefront.
//
// This file owns the per-conversation read-modify-write cycle around the
// session store: resolve the current state, run the machine, persist the next
// state only after every side effect of the turn has succeeded.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/MSMikl/fish-store/internal/channel"
	"github.com/MSMikl/fish-store/internal/commerce"
	"github.com/MSMikl/fish-store/internal/models"
	"github.com/MSMikl/fish-store/internal/session"
)

// User-facing courtesy copy for failures scoped to a single event.
const (
	msgLostSession = "Looks like we lost track of your session. Starting over."
	msgGone        = "Sorry, that one is no longer available."
	msgRetryLater  = "The store is temporarily unavailable. Please try again in a moment."
)

// Dispatcher reads events from the conversation channel, resolves state
// through the session store, and runs the state machine. Events for different
// conversations are processed concurrently; events for the same conversation
// go through one worker in arrival order, so a turn finishes before the next
// event for that conversation is considered.
type Dispatcher struct {
	store   session.Store
	machine *Machine
	ch      channel.Channel
	locks   keyedLocks
	queue   convQueues
}

// NewDispatcher creates a dispatcher over the given store, machine, and channel.
func NewDispatcher(store session.Store, machine *Machine, ch channel.Channel) *Dispatcher {
	return &Dispatcher{store: store, machine: machine, ch: ch}
}

// Run consumes the channel's event stream until the context is cancelled or
// the stream closes. Events are queued per conversation and drained by one
// worker each, preserving arrival order within a conversation.
func (d *Dispatcher) Run(ctx context.Context) {
	slog.Info("Dispatcher started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("Dispatcher stopping due to context cancellation")
			return
		case ev, ok := <-d.ch.Events():
			if !ok {
				slog.Info("Dispatcher stopping, event stream closed")
				return
			}
			d.enqueue(ctx, ev)
		}
	}
}

// enqueue hands the event to the conversation's worker, starting one if none
// is draining that conversation.
func (d *Dispatcher) enqueue(ctx context.Context, ev models.Event) {
	if !d.queue.push(ev) {
		return
	}
	go func() {
		for {
			next, ok := d.queue.pop(ev.ConversationID)
			if !ok {
				return
			}
			if ctx.Err() != nil {
				continue // drain without handling on shutdown
			}
			d.Dispatch(ctx, next)
		}
	}()
}

// Dispatch handles a single event to completion. No failure here is fatal to
// the process; each is scoped to the one event being handled.
func (d *Dispatcher) Dispatch(ctx context.Context, ev models.Event) {
	if ev.ConversationID == "" {
		slog.Debug("Dispatcher dropped event without conversation id")
		return
	}
	unlock := d.locks.lock(ev.ConversationID)
	defer unlock()

	state, ok := d.resolveState(ctx, ev)
	if !ok {
		return
	}

	next, err := d.machine.HandleEvent(ctx, state, ev)
	if err != nil {
		// State stays untouched so the same event can be replayed once the
		// underlying condition clears.
		slog.Error("Dispatcher turn failed", "error", err, "conversation_id", ev.ConversationID, "state", state)
		d.sendFailureNotice(ctx, ev.ConversationID, err)
		return
	}

	if err := d.store.Set(ctx, ev.ConversationID, next); err != nil {
		// The previous state remains authoritative; the next event replays
		// from it.
		slog.Error("Dispatcher state persist failed", "error", err, "conversation_id", ev.ConversationID, "state", next)
		return
	}
	slog.Debug("Dispatcher turn complete", "conversation_id", ev.ConversationID, "from", state, "to", next)
}

// resolveState determines the state the machine runs in. The reset command
// always forces START; a missing entry on any other event is a lost session,
// answered with a courtesy message and a fresh start.
func (d *Dispatcher) resolveState(ctx context.Context, ev models.Event) (models.SessionState, bool) {
	if ev.IsReset() {
		return models.StateStart, true
	}

	state, found, err := d.store.Get(ctx, ev.ConversationID)
	if err != nil {
		slog.Error("Dispatcher state lookup failed", "error", err, "conversation_id", ev.ConversationID)
		d.sendFailureNotice(ctx, ev.ConversationID, err)
		return "", false
	}
	if !found {
		slog.Info("Dispatcher lost session, resetting", "conversation_id", ev.ConversationID)
		if err := d.ch.SendText(ctx, ev.ConversationID, msgLostSession, nil); err != nil {
			slog.Warn("Dispatcher failed to send lost-session notice", "error", err, "conversation_id", ev.ConversationID)
		}
		return models.StateStart, true
	}
	return state, true
}

// sendFailureNotice renders a categorized error as a short courtesy message.
// Unauthorized and malformed payloads read the same as an outage to the user;
// the distinction only matters in the logs.
func (d *Dispatcher) sendFailureNotice(ctx context.Context, conversationID string, cause error) {
	// Every category except NotFound (ErrUnauthorized, ErrUnavailable,
	// ErrMalformed, cart.ErrMalformedCart) reads as retry-later.
	msg := msgRetryLater
	if errors.Is(cause, commerce.ErrNotFound) {
		msg = msgGone
	}
	if err := d.ch.SendText(ctx, conversationID, msg, nil); err != nil {
		slog.Warn("Dispatcher failed to send failure notice", "error", err, "conversation_id", conversationID)
	}
}

// convQueues holds the pending events per conversation. A map entry exists
// exactly while a worker is draining that conversation, so worker lifetime is
// tied to entry lifetime and the map does not grow with the population of
// conversations ever seen.
type convQueues struct {
	mu      sync.Mutex
	pending map[string][]models.Event
}

// push appends the event and reports whether a worker must be started.
func (q *convQueues) push(ev models.Event) (startWorker bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending == nil {
		q.pending = make(map[string][]models.Event)
	}
	_, running := q.pending[ev.ConversationID]
	q.pending[ev.ConversationID] = append(q.pending[ev.ConversationID], ev)
	return !running
}

// pop returns the next event for the conversation, or false after removing
// the drained entry.
func (q *convQueues) pop(conversationID string) (models.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	queue := q.pending[conversationID]
	if len(queue) == 0 {
		delete(q.pending, conversationID)
		return models.Event{}, false
	}
	q.pending[conversationID] = queue[1:]
	return queue[0], true
}

// keyedLocks serializes work per conversation id. Entries are reference
// counted and removed once the last holder unlocks, so the map does not grow
// with the lifetime population of conversations.
type keyedLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (l *keyedLocks) lock(key string) (unlock func()) {
	l.mu.Lock()
	if l.entries == nil {
		l.entries = make(map[string]*lockEntry)
	}
	e := l.entries[key]
	if e == nil {
		e = &lockEntry{}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.entries, key)
		}
		l.mu.Unlock()
	}
}
