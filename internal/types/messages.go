package types

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/DoyleJ11/impostor/internal/engine"
)

var ErrUnknownMessage = errors.New("unknown message type")
var ErrEmptyEnvelope = errors.New("envelope has no message")

type Kind string

const (
	KindJoinRequest Kind = "JOIN_REQUEST"
	KindStateUpdate Kind = "STATE_UPDATE"
	KindResetGame   Kind = "RESET_GAME"
)

// Message is the closed set of things that travel over a room channel.
type Message interface {
	Kind() Kind
	accept(Handler)
}

type JoinRequest struct {
	Name     string `json:"name"`
	RoomCode string `json:"roomCode"`
	PlayerID string `json:"playerId"`
}

// StateUpdate carries a full snapshot of the host's session.
type StateUpdate struct {
	Session engine.Session
}

type ResetGame struct{}

func (JoinRequest) Kind() Kind { return KindJoinRequest }
func (StateUpdate) Kind() Kind { return KindStateUpdate }
func (ResetGame) Kind() Kind   { return KindResetGame }

func (m JoinRequest) accept(h Handler) { h.OnJoinRequest(m) }
func (m StateUpdate) accept(h Handler) { h.OnStateUpdate(m) }
func (m ResetGame) accept(h Handler)   { h.OnResetGame(m) }

// Handler has one method per message kind. A new kind added to Message
// fails to compile until every Handler implements it.
type Handler interface {
	OnJoinRequest(JoinRequest)
	OnStateUpdate(StateUpdate)
	OnResetGame(ResetGame)
}

func Dispatch(m Message, h Handler) {
	m.accept(h)
}

// Envelope is the wire unit. SenderID is random per process and only used to
// drop our own broadcasts when the transport loops them back.
type Envelope struct {
	SenderID string
	Message  Message
}

type wireMessage struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type wireEnvelope struct {
	SenderID string      `json:"senderId"`
	Message  wireMessage `json:"message"`
}

func Encode(env Envelope) ([]byte, error) {
	if env.Message == nil {
		return nil, ErrEmptyEnvelope
	}

	var payload any
	switch m := env.Message.(type) {
	case JoinRequest:
		payload = m
	case StateUpdate:
		payload = m.Session
	case ResetGame:
		payload = nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessage, env.Message)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", env.Message.Kind(), err)
	}
	return json.Marshal(wireEnvelope{
		SenderID: env.SenderID,
		Message:  wireMessage{Type: env.Message.Kind(), Payload: raw},
	})
}

func Decode(data []byte) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}

	env := Envelope{SenderID: w.SenderID}
	switch w.Message.Type {
	case KindJoinRequest:
		var m JoinRequest
		if err := unmarshalPayload(w.Message.Payload, &m); err != nil {
			return Envelope{}, err
		}
		env.Message = m
	case KindStateUpdate:
		var s engine.Session
		if err := unmarshalPayload(w.Message.Payload, &s); err != nil {
			return Envelope{}, err
		}
		env.Message = StateUpdate{Session: s}
	case KindResetGame:
		env.Message = ResetGame{}
	case "":
		return Envelope{}, ErrEmptyEnvelope
	default:
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownMessage, w.Message.Type)
	}
	return env, nil
}

func unmarshalPayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return fmt.Errorf("decode payload: %w", ErrEmptyEnvelope)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
