package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"voxlobby/internal/core/domain"
	"voxlobby/internal/core/ports"
)

// Session is one client's attachment to a room: its place in the directory's
// participant count plus its live audio-session binding. A session runs
// Idle -> Connecting -> Connected -> Leaving -> Left, with Errored reachable
// from Connecting and Connected. Terminal states end the instance; joining
// again creates a fresh one.
//
// Over a session's lifetime reserve and release each happen at most once,
// and release only after a reserve that actually committed. The counter
// itself tolerates imbalance by clamping, but this machine never produces a
// reserve-less release.
type Session struct {
	mu           sync.Mutex
	state        domain.SessionState
	identity     string
	roomID       domain.RoomID
	roomName     string
	micEnabled   bool
	reserved     bool
	released     bool
	audio        ports.AudioSession
	participants map[string]domain.Participant

	counter  *ParticipantCounter
	presence *Presence
	metrics  ports.Metrics
	logger   *zap.SugaredLogger
}

func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Identity() string { return s.identity }

func (s *Session) RoomID() domain.RoomID { return s.roomID }

func (s *Session) RoomName() string { return s.roomName }

func (s *Session) MicEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.micEnabled
}

// Participants returns the current remote-participant projection, sorted by
// identity. It reflects audio-session events, not the directory count.
func (s *Session) Participants() []domain.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// ToggleMic flips the microphone and propagates the new state to the audio
// session. Returns the new enabled state.
func (s *Session) ToggleMic(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return false, domain.ErrAlreadyTerminal
	}
	if s.state != domain.SessionConnected {
		s.mu.Unlock()
		return false, fmt.Errorf("cannot toggle mic in state %s", s.state)
	}
	audio := s.audio
	next := !s.micEnabled
	s.mu.Unlock()

	if err := audio.SetMicrophoneEnabled(ctx, next); err != nil {
		return false, fmt.Errorf("%w: set microphone: %v", domain.ErrAudioSession, err)
	}

	s.mu.Lock()
	s.micEnabled = next
	s.mu.Unlock()
	return next, nil
}

// Leave closes the audio session, releases the reserved slot, and ends the
// session. Disconnect happens before release so a crash mid-leave errs
// toward a leaked slot rather than a phantom decrement; release clamping
// makes the order a preference, not a correctness requirement.
func (s *Session) Leave(ctx context.Context) error {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return domain.ErrAlreadyTerminal
	}
	if s.state != domain.SessionConnected {
		s.mu.Unlock()
		return fmt.Errorf("cannot leave in state %s", s.state)
	}
	s.state = domain.SessionLeaving
	audio := s.audio
	s.mu.Unlock()

	if err := audio.Disconnect(); err != nil {
		s.logger.Warnw("audio disconnect failed during leave",
			"room_id", s.roomID,
			"error", err,
		)
	}

	s.releaseOnce(ctx)

	s.mu.Lock()
	s.state = domain.SessionLeft
	s.mu.Unlock()

	s.metrics.RecordLeave()
	s.logger.Infow("left room", "room_id", s.roomID, "identity", s.identity)
	return nil
}

func (s *Session) releaseOnce(ctx context.Context) {
	s.mu.Lock()
	due := s.reserved && !s.released
	if due {
		s.released = true
	}
	s.mu.Unlock()
	if !due {
		return
	}
	if _, err := s.counter.Release(ctx, s.roomID); err != nil {
		// The slot leaks until the count is next reconciled by hand; the
		// sweep cannot collect a room with a nonzero count.
		s.logger.Warnw("failed to release participant slot",
			"room_id", s.roomID,
			"error", err,
		)
	}
}

// Audio-session event handlers. These keep the participant projection
// current and forward each event to the presence fan-out.

func (s *Session) onParticipantJoined(p domain.Participant) {
	s.mu.Lock()
	s.participants[p.Identity] = p
	s.mu.Unlock()
	s.presence.EmitParticipantJoined(p)
}

func (s *Session) onParticipantLeft(identity string) {
	s.mu.Lock()
	delete(s.participants, identity)
	s.mu.Unlock()
	s.presence.EmitParticipantLeft(identity)
}

func (s *Session) onTrackSubscribed(p domain.Participant) {
	s.mu.Lock()
	existing := s.participants[p.Identity]
	existing.Identity = p.Identity
	existing.MicEnabled = true // audio track presence implies an open mic
	s.participants[p.Identity] = existing
	s.mu.Unlock()
	s.presence.EmitTrackSubscribed(p)
}

func (s *Session) onActiveSpeakers(identities []string) {
	speaking := make(map[string]struct{}, len(identities))
	for _, id := range identities {
		speaking[id] = struct{}{}
	}
	s.mu.Lock()
	for id, p := range s.participants {
		_, p.Speaking = speaking[id]
		s.participants[id] = p
	}
	s.mu.Unlock()
	s.presence.EmitActiveSpeakers(identities)
}

// onDisconnected handles an unsolicited drop from the transport. From
// Connected it goes straight to Left, skipping Leaving: the audio side is
// already gone and there is nothing to close. The reserved slot is not
// released here; see the drift note in DESIGN.md.
func (s *Session) onDisconnected() {
	s.mu.Lock()
	switch s.state {
	case domain.SessionConnected:
		s.state = domain.SessionLeft
	case domain.SessionConnecting:
		s.state = domain.SessionErrored
	default:
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.logger.Warnw("audio session dropped",
		"room_id", s.roomID,
		"identity", s.identity,
	)
	s.presence.EmitDisconnected()
}

func (s *Session) events() ports.AudioEvents {
	return ports.AudioEvents{
		ParticipantJoined: s.onParticipantJoined,
		ParticipantLeft:   s.onParticipantLeft,
		TrackSubscribed:   s.onTrackSubscribed,
		ActiveSpeakers:    s.onActiveSpeakers,
		Disconnected:      s.onDisconnected,
	}
}

// SessionCoordinator creates sessions. It owns no session state itself; each
// Join hands an explicit Session value to the caller.
type SessionCoordinator struct {
	tokens      ports.TokenProvider
	audio       ports.AudioProvider
	counter     *ParticipantCounter
	presence    *Presence
	metrics     ports.Metrics
	logger      *zap.SugaredLogger
	newIdentity func() string
}

func NewSessionCoordinator(
	tokens ports.TokenProvider,
	audio ports.AudioProvider,
	counter *ParticipantCounter,
	presence *Presence,
	metrics ports.Metrics,
	logger *zap.SugaredLogger,
) *SessionCoordinator {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &SessionCoordinator{
		tokens:      tokens,
		audio:       audio,
		counter:     counter,
		presence:    presence,
		metrics:     metrics,
		logger:      logger,
		newIdentity: NewIdentity,
	}
}

// NewIdentity generates an ephemeral display name, unique enough to key UI
// tiles. It is not a stable user identity.
func NewIdentity() string {
	return "User-" + uuid.NewString()[:8]
}

// Join runs the connect sequence: credential fetch, audio connect, mic
// enable, then — only after all three succeeded — the slot reservation. A
// failure at any earlier step leaves the participant count untouched. If ctx
// is canceled before the reservation, the audio session is torn down and no
// slot is taken.
func (c *SessionCoordinator) Join(ctx context.Context, roomID domain.RoomID, roomName string) (*Session, error) {
	start := time.Now()

	s := &Session{
		state:        domain.SessionConnecting,
		identity:     c.newIdentity(),
		roomID:       roomID,
		roomName:     roomName,
		participants: make(map[string]domain.Participant),
		counter:      c.counter,
		presence:     c.presence,
		metrics:      c.metrics,
		logger:       c.logger,
	}

	token, err := c.tokens.Token(ctx, roomName, s.identity)
	if err != nil {
		s.fail()
		return nil, fmt.Errorf("join %q: %w", roomName, err)
	}

	// The audio transport keys rooms by display name, not directory id.
	audio, err := c.audio.Connect(ctx, roomName, s.identity, token, s.events())
	if err != nil {
		s.fail()
		return nil, fmt.Errorf("join %q: %w", roomName, err)
	}

	if err := audio.SetMicrophoneEnabled(ctx, true); err != nil {
		_ = audio.Disconnect()
		s.fail()
		return nil, fmt.Errorf("join %q: %w: enable microphone: %v", roomName, domain.ErrAudioSession, err)
	}

	// The caller may have abandoned the join while the connect was in
	// flight; reserving now would leak a slot nobody holds.
	if err := ctx.Err(); err != nil {
		_ = audio.Disconnect()
		s.mu.Lock()
		s.state = domain.SessionLeft
		s.mu.Unlock()
		return nil, fmt.Errorf("join %q abandoned: %w", roomName, err)
	}

	s.mu.Lock()
	if s.state != domain.SessionConnecting {
		// The transport dropped us while connecting (onDisconnected ran).
		s.mu.Unlock()
		_ = audio.Disconnect()
		return nil, fmt.Errorf("join %q: %w: dropped during connect", roomName, domain.ErrAudioSession)
	}
	s.audio = audio
	s.micEnabled = true
	s.mu.Unlock()

	if _, err := c.counter.Reserve(ctx, roomID); err != nil {
		// Availability over consistency: the user is audibly in the room,
		// so stay connected and let the count drift low.
		c.logger.Warnw("connected without reserving a slot",
			"room_id", roomID,
			"error", err,
		)
	} else {
		s.mu.Lock()
		s.reserved = true
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.state = domain.SessionConnected
	s.mu.Unlock()

	c.metrics.RecordJoin(time.Since(start))
	c.logger.Infow("joined room",
		"room_id", roomID,
		"room_name", roomName,
		"identity", s.identity,
	)
	return s, nil
}

func (s *Session) fail() {
	s.mu.Lock()
	s.state = domain.SessionErrored
	s.mu.Unlock()
}
