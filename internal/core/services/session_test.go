package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"voxlobby/internal/core/domain"
	"voxlobby/internal/core/ports"
	"voxlobby/internal/infrastructure/store/memory"
)

type fakeTokens struct {
	token string
	err   error
	calls int
}

func (f *fakeTokens) Token(ctx context.Context, roomName, identity string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.token, nil
}

type fakeAudioSession struct {
	mu           sync.Mutex
	micStates    []bool
	micErr       error
	disconnected bool
	onMic        func()
}

func (f *fakeAudioSession) SetMicrophoneEnabled(ctx context.Context, enabled bool) error {
	f.mu.Lock()
	f.micStates = append(f.micStates, enabled)
	hook := f.onMic
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return f.micErr
}

func (f *fakeAudioSession) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
	return nil
}

func (f *fakeAudioSession) isDisconnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnected
}

type fakeAudio struct {
	err       error
	session   *fakeAudioSession
	events    ports.AudioEvents
	onConnect func(events ports.AudioEvents)
}

func (f *fakeAudio) Connect(ctx context.Context, roomName, identity, token string, events ports.AudioEvents) (ports.AudioSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.events = events
	if f.onConnect != nil {
		f.onConnect(events)
	}
	if f.session == nil {
		f.session = &fakeAudioSession{}
	}
	return f.session, nil
}

type sessionFixture struct {
	coordinator *SessionCoordinator
	tokens      *fakeTokens
	audio       *fakeAudio
	store       *memory.Store
	presence    *Presence
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	st := memory.NewStore()
	tokens := &fakeTokens{token: "opaque-credential"}
	audioProvider := &fakeAudio{}
	counter := NewParticipantCounter(st, domain.DefaultPermanentRoomIDs(), logger)
	presence := NewPresence(logger)
	return &sessionFixture{
		coordinator: NewSessionCoordinator(tokens, audioProvider, counter, presence, nil, logger),
		tokens:      tokens,
		audio:       audioProvider,
		store:       st,
		presence:    presence,
	}
}

func (f *sessionFixture) count(t *testing.T, id domain.RoomID) int {
	t.Helper()
	return storedCount(t, f.store, id)
}

func TestJoin_HappyPath(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	sess, err := f.coordinator.Join(ctx, "room-1", "Chill")
	require.NoError(t, err)

	assert.Equal(t, domain.SessionConnected, sess.State())
	assert.True(t, sess.MicEnabled())
	assert.NotEmpty(t, sess.Identity())
	assert.Equal(t, []bool{true}, f.audio.session.micStates)
	assert.Equal(t, 1, f.count(t, "room-1"))
}

func TestJoin_CredentialFailureNeverReserves(t *testing.T) {
	f := newSessionFixture(t)
	f.tokens.err = domain.ErrCredentialFetch

	_, err := f.coordinator.Join(context.Background(), "room-1", "Chill")
	assert.ErrorIs(t, err, domain.ErrCredentialFetch)
	assert.Equal(t, 0, f.count(t, "room-1"))
	assert.Nil(t, f.audio.session, "transport must not be dialed after a failed fetch")
}

func TestJoin_AudioConnectFailureNeverReserves(t *testing.T) {
	f := newSessionFixture(t)
	f.audio.err = domain.ErrAudioSession

	_, err := f.coordinator.Join(context.Background(), "room-1", "Chill")
	assert.ErrorIs(t, err, domain.ErrAudioSession)
	assert.Equal(t, 0, f.count(t, "room-1"))
}

func TestJoin_MicFailureDisconnectsWithoutReserving(t *testing.T) {
	f := newSessionFixture(t)
	f.audio.session = &fakeAudioSession{micErr: errors.New("no capture device")}

	_, err := f.coordinator.Join(context.Background(), "room-1", "Chill")
	assert.ErrorIs(t, err, domain.ErrAudioSession)
	assert.Equal(t, 0, f.count(t, "room-1"))
	assert.True(t, f.audio.session.isDisconnected())
}

func TestJoin_AbandonedBeforeReserve(t *testing.T) {
	f := newSessionFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	// The caller walks away while the connect sequence is in flight.
	f.audio.session = &fakeAudioSession{onMic: cancel}

	_, err := f.coordinator.Join(ctx, "room-1", "Chill")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, f.count(t, "room-1"))
	assert.True(t, f.audio.session.isDisconnected())
}

func TestJoin_DroppedDuringConnect(t *testing.T) {
	f := newSessionFixture(t)
	f.audio.onConnect = func(events ports.AudioEvents) {
		events.Disconnected()
	}

	_, err := f.coordinator.Join(context.Background(), "room-1", "Chill")
	assert.ErrorIs(t, err, domain.ErrAudioSession)
	assert.Equal(t, 0, f.count(t, "room-1"))
}

func TestJoinThenLeave_RestoresCount(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	before := f.count(t, "room-1")
	sess, err := f.coordinator.Join(ctx, "room-1", "Chill")
	require.NoError(t, err)
	require.Equal(t, before+1, f.count(t, "room-1"))

	require.NoError(t, sess.Leave(ctx))
	assert.Equal(t, domain.SessionLeft, sess.State())
	assert.Equal(t, before, f.count(t, "room-1"))
	assert.True(t, f.audio.session.isDisconnected())
}

func TestLeave_Twice(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	sess, err := f.coordinator.Join(ctx, "room-1", "Chill")
	require.NoError(t, err)

	require.NoError(t, sess.Leave(ctx))
	assert.ErrorIs(t, sess.Leave(ctx), domain.ErrAlreadyTerminal)

	// Release ran exactly once.
	assert.Equal(t, 0, f.count(t, "room-1"))
}

func TestToggleMic(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	sess, err := f.coordinator.Join(ctx, "room-1", "Chill")
	require.NoError(t, err)

	enabled, err := sess.ToggleMic(ctx)
	require.NoError(t, err)
	assert.False(t, enabled)
	assert.False(t, sess.MicEnabled())

	enabled, err = sess.ToggleMic(ctx)
	require.NoError(t, err)
	assert.True(t, enabled)

	// join enable, then the two toggles
	assert.Equal(t, []bool{true, false, true}, f.audio.session.micStates)

	require.NoError(t, sess.Leave(ctx))
	_, err = sess.ToggleMic(ctx)
	assert.ErrorIs(t, err, domain.ErrAlreadyTerminal)
}

func TestInvoluntaryDisconnect(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	var dropped bool
	f.presence.OnDisconnected(func() { dropped = true })

	sess, err := f.coordinator.Join(ctx, "room-1", "Chill")
	require.NoError(t, err)

	f.audio.events.Disconnected()

	assert.Equal(t, domain.SessionLeft, sess.State())
	assert.True(t, dropped)

	// The slot stays reserved: the directory count drifts until the room
	// is reconciled, which is the documented gap.
	assert.Equal(t, 1, f.count(t, "room-1"))

	assert.ErrorIs(t, sess.Leave(ctx), domain.ErrAlreadyTerminal)
}

func TestParticipantProjection(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	var joined, left []string
	f.presence.OnParticipantJoined(func(p domain.Participant) { joined = append(joined, p.Identity) })
	f.presence.OnParticipantLeft(func(identity string) { left = append(left, identity) })

	sess, err := f.coordinator.Join(ctx, "room-1", "Chill")
	require.NoError(t, err)

	f.audio.events.ParticipantJoined(domain.Participant{Identity: "User-aaaa"})
	f.audio.events.ParticipantJoined(domain.Participant{Identity: "User-bbbb"})
	f.audio.events.TrackSubscribed(domain.Participant{Identity: "User-aaaa"})
	f.audio.events.ActiveSpeakers([]string{"User-bbbb"})

	participants := sess.Participants()
	require.Len(t, participants, 2)
	assert.Equal(t, "User-aaaa", participants[0].Identity)
	assert.True(t, participants[0].MicEnabled, "audio track implies open mic")
	assert.False(t, participants[0].Speaking)
	assert.True(t, participants[1].Speaking)

	f.audio.events.ParticipantLeft("User-aaaa")
	assert.Len(t, sess.Participants(), 1)

	assert.Equal(t, []string{"User-aaaa", "User-bbbb"}, joined)
	assert.Equal(t, []string{"User-aaaa"}, left)
}

func TestJoin_PermanentRoomSkipsCounter(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	sess, err := f.coordinator.Join(ctx, domain.RoomOYOPermanent, "OYO Room")
	require.NoError(t, err)
	require.NoError(t, sess.Leave(ctx))

	_, found, err := f.store.Get(ctx, "rooms/"+string(domain.RoomOYOPermanent)+"/participants")
	require.NoError(t, err)
	assert.False(t, found)
}
