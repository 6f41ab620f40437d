package ports

import (
	"context"

	"voxlobby/internal/core/domain"
)

// TokenProvider fetches an opaque credential authorizing identity to join the
// audio transport room named roomName.
type TokenProvider interface {
	Token(ctx context.Context, roomName, identity string) (string, error)
}

// AudioEvents are the callbacks an audio session invokes as the remote side
// changes. All callbacks are optional.
type AudioEvents struct {
	ParticipantJoined func(p domain.Participant)
	ParticipantLeft   func(identity string)
	TrackSubscribed   func(p domain.Participant)
	ActiveSpeakers    func(identities []string)
	Disconnected      func()
}

// AudioSession is one live connection to the audio transport.
type AudioSession interface {
	SetMicrophoneEnabled(ctx context.Context, enabled bool) error
	Disconnect() error
}

// AudioProvider opens audio sessions. Rooms are keyed by display name, not
// directory id: two rooms sharing a name collide in the transport. Known
// limitation carried over from the transport's addressing.
type AudioProvider interface {
	Connect(ctx context.Context, roomName, identity, token string, events AudioEvents) (AudioSession, error)
}
