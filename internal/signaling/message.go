package signaling

import (
	"errors"
	"fmt"
	"strings"
)

// Event names carried in Envelope.Event.
const (
	EventConnect    = "connect"
	EventJoinRoom   = "join-room"
	EventJoined     = "joined"
	EventOffer      = "offer"
	EventAnswer     = "answer"
	EventCandidate  = "candidate"
	EventMessage    = "message"
	EventEvent      = "event"
	EventError      = "error"
	EventDisconnect = "disconnect"
)

// DetailPeerLeft is the relay's diagnostic when the other member goes away.
const DetailPeerLeft = "peer-left"

// SDP types used in SessionDescriptor.Type.
const (
	SDPTypeOffer  = "offer"
	SDPTypeAnswer = "answer"
)

var ErrInvalidEnvelope = errors.New("invalid envelope")

// Envelope is the single frame exchanged with the relay, in both directions.
type Envelope struct {
	Event     string             `json:"event" msgpack:"event"`
	From      string             `json:"from,omitempty" msgpack:"from,omitempty"`
	Room      string             `json:"room,omitempty" msgpack:"room,omitempty"`
	Offer     *SessionDescriptor `json:"offer,omitempty" msgpack:"offer,omitempty"`
	Answer    *SessionDescriptor `json:"answer,omitempty" msgpack:"answer,omitempty"`
	Candidate *IceCandidate      `json:"candidate,omitempty" msgpack:"candidate,omitempty"`
	Name      string             `json:"name,omitempty" msgpack:"name,omitempty"`
	Message   string             `json:"message,omitempty" msgpack:"message,omitempty"`
	ID        string             `json:"id,omitempty" msgpack:"id,omitempty"`
	Peers     []string           `json:"peers,omitempty" msgpack:"peers,omitempty"`
	Detail    string             `json:"detail,omitempty" msgpack:"detail,omitempty"`
	Error     string             `json:"error,omitempty" msgpack:"error,omitempty"`
}

// SessionDescriptor is an SDP offer or answer.
type SessionDescriptor struct {
	Type string `json:"type" msgpack:"type"`
	SDP  string `json:"sdp" msgpack:"sdp"`
}

// Equal reports whether two descriptors carry the same type and SDP.
func (d *SessionDescriptor) Equal(o *SessionDescriptor) bool {
	if d == nil || o == nil {
		return d == o
	}
	return d.Type == o.Type && d.SDP == o.SDP
}

// IceCandidate mirrors RTCIceCandidateInit so browsers can share the relay.
type IceCandidate struct {
	Candidate        string  `json:"candidate" msgpack:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty" msgpack:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty" msgpack:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty" msgpack:"usernameFragment,omitempty"`
}

// Validate checks that the envelope carries the fields its event requires.
func (e *Envelope) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil", ErrInvalidEnvelope)
	}

	switch e.Event {
	case "":
		return fmt.Errorf("%w: missing event", ErrInvalidEnvelope)

	case EventConnect, EventDisconnect, EventEvent:
		return nil

	case EventJoinRoom:
		return e.requireRoom()

	case EventJoined:
		if err := e.requireRoom(); err != nil {
			return err
		}
		if e.ID == "" {
			return fmt.Errorf("%w: joined without id", ErrInvalidEnvelope)
		}
		return nil

	case EventOffer:
		if err := e.requireRoom(); err != nil {
			return err
		}
		return validateDescriptor(e.Offer, SDPTypeOffer)

	case EventAnswer:
		if err := e.requireRoom(); err != nil {
			return err
		}
		return validateDescriptor(e.Answer, SDPTypeAnswer)

	case EventCandidate:
		if err := e.requireRoom(); err != nil {
			return err
		}
		if e.Candidate == nil {
			return fmt.Errorf("%w: candidate event without candidate", ErrInvalidEnvelope)
		}
		return nil

	case EventMessage:
		if err := e.requireRoom(); err != nil {
			return err
		}
		if strings.TrimSpace(e.Message) == "" {
			return fmt.Errorf("%w: message without text", ErrInvalidEnvelope)
		}
		return nil

	case EventError:
		if e.Error == "" {
			return fmt.Errorf("%w: error event without reason", ErrInvalidEnvelope)
		}
		return nil

	default:
		return fmt.Errorf("%w: unknown event %q", ErrInvalidEnvelope, e.Event)
	}
}

func (e *Envelope) requireRoom() error {
	if e.Room == "" {
		return fmt.Errorf("%w: %s without room", ErrInvalidEnvelope, e.Event)
	}
	return nil
}

func validateDescriptor(d *SessionDescriptor, want string) error {
	if d == nil {
		return fmt.Errorf("%w: missing %s descriptor", ErrInvalidEnvelope, want)
	}
	if d.Type != want {
		return fmt.Errorf("%w: %s descriptor typed %q", ErrInvalidEnvelope, want, d.Type)
	}
	if d.SDP == "" {
		return fmt.Errorf("%w: empty %s sdp", ErrInvalidEnvelope, want)
	}
	return nil
}
