package services

import (
	"sync"

	"go.uber.org/zap"

	"voxlobby/internal/core/domain"
	"voxlobby/internal/core/ports"
)

// callbacks is an ordered callback set. Dispatch is synchronous, in
// registration order, and a panicking callback never blocks delivery to the
// rest.
type callbacks[T any] struct {
	mu      sync.Mutex
	nextID  int
	entries []callbackEntry[T]
	logger  *zap.SugaredLogger
	event   string
}

type callbackEntry[T any] struct {
	id int
	fn func(T)
}

func (c *callbacks[T]) add(fn func(T)) ports.Unsubscribe {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.entries = append(c.entries, callbackEntry[T]{id: id, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, entry := range c.entries {
			if entry.id == id {
				c.entries = append(c.entries[:i], c.entries[i+1:]...)
				return
			}
		}
	}
}

func (c *callbacks[T]) emit(v T) {
	c.mu.Lock()
	snapshot := make([]callbackEntry[T], len(c.entries))
	copy(snapshot, c.entries)
	c.mu.Unlock()

	for _, entry := range snapshot {
		c.invoke(entry, v)
	}
}

func (c *callbacks[T]) invoke(entry callbackEntry[T], v T) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warnw("presence callback panicked",
				"event", c.event,
				"panic", r,
			)
		}
	}()
	entry.fn(v)
}

// Presence fans directory and audio-session events out to registered
// observers. It does no buffering: each event invokes every callback before
// the emitter continues.
type Presence struct {
	roomList          callbacks[[]domain.Room]
	participantJoined callbacks[domain.Participant]
	participantLeft   callbacks[string]
	trackSubscribed   callbacks[domain.Participant]
	activeSpeakers    callbacks[[]string]
	disconnected      callbacks[struct{}]
}

func NewPresence(logger *zap.SugaredLogger) *Presence {
	p := &Presence{}
	p.roomList.logger = logger
	p.roomList.event = "room-list"
	p.participantJoined.logger = logger
	p.participantJoined.event = "participant-joined"
	p.participantLeft.logger = logger
	p.participantLeft.event = "participant-left"
	p.trackSubscribed.logger = logger
	p.trackSubscribed.event = "track-subscribed"
	p.activeSpeakers.logger = logger
	p.activeSpeakers.event = "active-speakers-changed"
	p.disconnected.logger = logger
	p.disconnected.event = "disconnected"
	return p
}

func (p *Presence) OnRoomList(fn func([]domain.Room)) ports.Unsubscribe {
	return p.roomList.add(fn)
}

func (p *Presence) OnParticipantJoined(fn func(domain.Participant)) ports.Unsubscribe {
	return p.participantJoined.add(fn)
}

func (p *Presence) OnParticipantLeft(fn func(identity string)) ports.Unsubscribe {
	return p.participantLeft.add(fn)
}

func (p *Presence) OnTrackSubscribed(fn func(domain.Participant)) ports.Unsubscribe {
	return p.trackSubscribed.add(fn)
}

func (p *Presence) OnActiveSpeakers(fn func(identities []string)) ports.Unsubscribe {
	return p.activeSpeakers.add(fn)
}

func (p *Presence) OnDisconnected(fn func()) ports.Unsubscribe {
	return p.disconnected.add(func(struct{}) { fn() })
}

func (p *Presence) EmitRoomList(rooms []domain.Room)          { p.roomList.emit(rooms) }
func (p *Presence) EmitParticipantJoined(pt domain.Participant) { p.participantJoined.emit(pt) }
func (p *Presence) EmitParticipantLeft(identity string)       { p.participantLeft.emit(identity) }
func (p *Presence) EmitTrackSubscribed(pt domain.Participant) { p.trackSubscribed.emit(pt) }
func (p *Presence) EmitActiveSpeakers(identities []string)    { p.activeSpeakers.emit(identities) }
func (p *Presence) EmitDisconnected()                         { p.disconnected.emit(struct{}{}) }
