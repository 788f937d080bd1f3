package engine

import (
	"errors"
	"math/rand/v2"
)

var ErrInvalidStatus = errors.New("invalid status for command")
var ErrNotEnoughPlayers = errors.New("not enough players")
var ErrUnsupportedCommand = errors.New("unsupported command")
var ErrMissingRound = errors.New("missing round data")

// MinPlayers is the smallest roster a round can start with.
const MinPlayers = 3

type Status string

const (
	StatusLobby   Status = "LOBBY"
	StatusPlaying Status = "PLAYING"
)

type Role string

const (
	RoleImpostor Role = "impostor"
	RoleInnocent Role = "innocent"
)

type Player struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	IsHost bool   `json:"isHost"`
	Role   *Role  `json:"role,omitempty"`
}

type RoundData struct {
	Category string `json:"category"`
	Topic    string `json:"topic"`
}

type Settings struct {
	ImpostorCount int `json:"impostorCount"`
}

// Session is the replicated aggregate. Only the host mutates it; every other
// participant holds a replica replaced wholesale on each snapshot.
type Session struct {
	RoomCode  string     `json:"roomCode"`
	Status    Status     `json:"status"`
	Players   []Player   `json:"players"`
	Settings  Settings   `json:"settings"`
	RoundData *RoundData `json:"roundData,omitempty"`
}

type CommandType string

const (
	CmdJoin            CommandType = "Join"
	CmdAdjustImpostors CommandType = "AdjustImpostors"
	CmdStartRound      CommandType = "StartRound"
	CmdResetRound      CommandType = "ResetRound"
)

/*
	CmdJoin            -> EvtPlayerJoined (nothing when the id is known or the room differs)
	CmdAdjustImpostors -> EvtSettingsChanged (nothing when the clamp leaves it unchanged)
	CmdStartRound      -> EvtRolesAssigned -> EvtRoundStarted
	CmdResetRound      -> EvtRoundReset
*/

type Command struct {
	Type     CommandType
	PlayerID string
	Name     string
	RoomCode string
	Delta    int
	Round    *RoundData
	Rand     *rand.Rand
}

type EventType string

const (
	EvtPlayerJoined    EventType = "PlayerJoined"
	EvtSettingsChanged EventType = "SettingsChanged"
	EvtRolesAssigned   EventType = "RolesAssigned"
	EvtRoundStarted    EventType = "RoundStarted"
	EvtRoundReset      EventType = "RoundReset"
)

type Event struct {
	Type     EventType
	PlayerID string
	Count    int
}

// Apply is the only way the host changes a session. The input is never
// modified; a rejected or no-op command returns it unchanged with no events.
func Apply(s Session, cmd Command) (Session, []Event, error) {
	switch cmd.Type {
	case CmdJoin:
		if cmd.RoomCode != s.RoomCode || cmd.PlayerID == "" || s.Has(cmd.PlayerID) {
			return s, nil, nil
		}
		next := s.Clone()
		next.Players = append(next.Players, Player{
			ID:   cmd.PlayerID,
			Name: CleanName(cmd.Name, len(next.Players)+1),
		})
		next.Settings.ImpostorCount = next.EffectiveImpostorCount()
		return next, []Event{{Type: EvtPlayerJoined, PlayerID: cmd.PlayerID}}, nil

	case CmdAdjustImpostors:
		want := ClampImpostors(s.EffectiveImpostorCount()+cmd.Delta, len(s.Players))
		if want == s.Settings.ImpostorCount {
			return s, nil, nil
		}
		next := s.Clone()
		next.Settings.ImpostorCount = want
		return next, []Event{{Type: EvtSettingsChanged, Count: want}}, nil

	case CmdStartRound:
		if !canTransition(s.Status, StatusPlaying) {
			return s, nil, ErrInvalidStatus
		}
		if len(s.Players) < MinPlayers {
			return s, nil, ErrNotEnoughPlayers
		}
		if cmd.Round == nil {
			return s, nil, ErrMissingRound
		}

		next := s.Clone()
		next.Settings.ImpostorCount = next.EffectiveImpostorCount()
		roles := AssignRoles(next.PlayerIDs(), next.Settings.ImpostorCount, cmd.Rand)
		for i := range next.Players {
			role := roles[next.Players[i].ID]
			next.Players[i].Role = &role
		}
		round := *cmd.Round
		next.RoundData = &round
		next.Status = StatusPlaying

		events := []Event{
			{Type: EvtRolesAssigned, Count: next.Settings.ImpostorCount},
			{Type: EvtRoundStarted},
		}
		return next, events, nil

	case CmdResetRound:
		if s.Status == StatusLobby && s.RoundData == nil && !s.hasRoles() {
			return s, nil, nil
		}
		next := s.Clone()
		for i := range next.Players {
			next.Players[i].Role = nil
		}
		next.RoundData = nil
		next.Status = StatusLobby
		return next, []Event{{Type: EvtRoundReset}}, nil

	default:
		return s, nil, ErrUnsupportedCommand
	}
}

func (s Session) hasRoles() bool {
	for _, p := range s.Players {
		if p.Role != nil {
			return true
		}
	}
	return false
}
