// Package view turns a session replica into what one participant sees.
package view

import (
	"fmt"

	"github.com/DoyleJ11/impostor/internal/engine"
)

// HiddenWord replaces the topic on an impostor's card.
const HiddenWord = "???"

type Kind int

const (
	ScreenJoining Kind = iota
	ScreenLobby
	ScreenPlaying
)

func (k Kind) String() string {
	switch k {
	case ScreenJoining:
		return "joining"
	case ScreenLobby:
		return "lobby"
	case ScreenPlaying:
		return "playing"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Card is the secret a player holds for the round.
type Card struct {
	Role engine.Role
	Word string
}

func CardFor(role engine.Role, round engine.RoundData) Card {
	if role == engine.RoleImpostor {
		return Card{Role: role, Word: HiddenWord}
	}
	return Card{Role: role, Word: round.Topic}
}

type Screen struct {
	Kind          Kind
	RoomCode      string
	Players       []string
	IsHost        bool
	ImpostorCount int
	// CanStart is only ever true for the host.
	CanStart bool

	Category string
	Revealed bool
	// Card is set while playing and revealed, for players dealt into the round.
	Card *Card
	// Spectator marks a player admitted after roles were dealt.
	Spectator bool
}

// Derive is a pure function of the replica. A nil session, or one that does
// not list selfID yet, is still joining.
func Derive(s *engine.Session, selfID string, revealed bool) Screen {
	if s == nil {
		return Screen{Kind: ScreenJoining}
	}
	self, ok := s.Player(selfID)
	if !ok {
		return Screen{Kind: ScreenJoining, RoomCode: s.RoomCode}
	}

	sc := Screen{
		Kind:          ScreenLobby,
		RoomCode:      s.RoomCode,
		IsHost:        self.IsHost,
		ImpostorCount: s.EffectiveImpostorCount(),
		CanStart:      self.IsHost && len(s.Players) >= engine.MinPlayers,
	}
	for _, p := range s.Players {
		sc.Players = append(sc.Players, p.Name)
	}
	if s.Status != engine.StatusPlaying {
		return sc
	}

	sc.Kind = ScreenPlaying
	sc.CanStart = false
	if s.RoundData != nil {
		sc.Category = s.RoundData.Category
	}
	if self.Role == nil || s.RoundData == nil {
		sc.Spectator = true
		return sc
	}
	sc.Revealed = revealed
	if revealed {
		card := CardFor(*self.Role, *s.RoundData)
		sc.Card = &card
	}
	return sc
}
