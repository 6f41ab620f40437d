// Package audio adapts the external voice transport's signaling socket to
// the AudioProvider port. The media plane stays inside the transport; this
// client only joins, toggles its publication, and mirrors presence events.
package audio

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"voxlobby/internal/core/domain"
	"voxlobby/internal/core/ports"
)

type eventMessage struct {
	Type        string   `json:"type"`
	Identity    string   `json:"identity,omitempty"`
	MicEnabled  bool     `json:"mic_enabled,omitempty"`
	Identities  []string `json:"identities,omitempty"`
	Reason      string   `json:"reason,omitempty"`
}

type commandMessage struct {
	Type    string `json:"type"`
	Room    string `json:"room,omitempty"`
	Enabled bool   `json:"enabled,omitempty"`
}

const (
	msgJoin             = "join"
	msgLeave            = "leave"
	msgMicrophone       = "microphone"
	msgParticipantJoin  = "participant-joined"
	msgParticipantLeft  = "participant-left"
	msgTrackSubscribed  = "track-subscribed"
	msgActiveSpeakers   = "active-speakers-changed"
	msgDisconnected     = "disconnected"
)

// Client dials the transport's signaling endpoint.
type Client struct {
	transportURL string
	dialer       *websocket.Dialer
	writeTimeout time.Duration
	logger       *zap.SugaredLogger
}

func NewClient(transportURL string, logger *zap.SugaredLogger) *Client {
	return &Client{
		transportURL: transportURL,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		writeTimeout: 10 * time.Second,
		logger:       logger,
	}
}

var _ ports.AudioProvider = (*Client)(nil)

// Connect opens a session for identity in the transport room named roomName.
// The credential goes in the Authorization header; the transport validates
// it before accepting the join.
func (c *Client) Connect(ctx context.Context, roomName, identity, token string, events ports.AudioEvents) (ports.AudioSession, error) {
	q := url.Values{}
	q.Set("room", roomName)
	q.Set("identity", identity)
	endpoint := c.transportURL + "?" + q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := c.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, fmt.Errorf("%w: dial transport (HTTP %d): %v", domain.ErrAudioSession, status, err)
	}

	s := &session{
		conn:         conn,
		events:       events,
		writeTimeout: c.writeTimeout,
		logger:       c.logger,
	}

	if err := s.send(commandMessage{Type: msgJoin, Room: roomName}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: join handshake: %v", domain.ErrAudioSession, err)
	}

	go s.readLoop()

	c.logger.Infow("audio session opened",
		"room", roomName,
		"identity", identity,
	)
	return s, nil
}

type session struct {
	conn         *websocket.Conn
	events       ports.AudioEvents
	writeTimeout time.Duration
	logger       *zap.SugaredLogger

	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool
}

func (s *session) send(msg commandMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return s.conn.WriteJSON(msg)
}

func (s *session) SetMicrophoneEnabled(ctx context.Context, enabled bool) error {
	if err := s.send(commandMessage{Type: msgMicrophone, Enabled: enabled}); err != nil {
		return fmt.Errorf("%w: set microphone: %v", domain.ErrAudioSession, err)
	}
	return nil
}

// Disconnect closes the session voluntarily. The read loop's eventual error
// is expected and must not surface as an unsolicited disconnect.
func (s *session) Disconnect() error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return nil
	}
	s.closed = true
	s.closeMu.Unlock()

	if err := s.send(commandMessage{Type: msgLeave}); err != nil {
		s.logger.Debugw("leave message not delivered", "error", err)
	}
	return s.conn.Close()
}

func (s *session) voluntarilyClosed() bool {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	return s.closed
}

func (s *session) readLoop() {
	for {
		var msg eventMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if !s.voluntarilyClosed() {
				s.logger.Warnw("audio signaling read failed", "error", err)
				s.dispatch(eventMessage{Type: msgDisconnected, Reason: err.Error()})
			}
			return
		}
		if msg.Type == msgDisconnected {
			s.dispatch(msg)
			return
		}
		s.dispatch(msg)
	}
}

func (s *session) dispatch(msg eventMessage) {
	switch msg.Type {
	case msgParticipantJoin:
		if s.events.ParticipantJoined != nil {
			s.events.ParticipantJoined(domain.Participant{
				Identity:   msg.Identity,
				MicEnabled: msg.MicEnabled,
			})
		}
	case msgParticipantLeft:
		if s.events.ParticipantLeft != nil {
			s.events.ParticipantLeft(msg.Identity)
		}
	case msgTrackSubscribed:
		if s.events.TrackSubscribed != nil {
			s.events.TrackSubscribed(domain.Participant{
				Identity:   msg.Identity,
				MicEnabled: true,
			})
		}
	case msgActiveSpeakers:
		if s.events.ActiveSpeakers != nil {
			s.events.ActiveSpeakers(msg.Identities)
		}
	case msgDisconnected:
		if s.events.Disconnected != nil {
			s.events.Disconnected()
		}
	default:
		s.logger.Debugw("ignoring unknown signaling message", "type", msg.Type)
	}
}
