package domain

type SessionState string

const (
	SessionIdle       SessionState = "idle"
	SessionConnecting SessionState = "connecting"
	SessionConnected  SessionState = "connected"
	SessionLeaving    SessionState = "leaving"
	SessionLeft       SessionState = "left"
	SessionErrored    SessionState = "errored"
)

// Terminal reports whether the state ends the session instance. A new join
// always creates a fresh session.
func (s SessionState) Terminal() bool {
	return s == SessionLeft || s == SessionErrored
}

// Participant is the local projection of one remote peer in the audio
// session. It is never written to the directory.
type Participant struct {
	Identity   string
	MicEnabled bool
	Speaking   bool
}
