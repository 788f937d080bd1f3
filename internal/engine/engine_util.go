package engine

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// MaxNameLength caps display names, counted in runes.
const MaxNameLength = 24

func NewSession(roomCode, hostID, hostName string) Session {
	return Session{
		RoomCode: roomCode,
		Status:   StatusLobby,
		Players: []Player{
			{ID: hostID, Name: CleanName(hostName, 1), IsHost: true},
		},
		Settings: Settings{ImpostorCount: 1},
	}
}

// Clone returns a deep copy so replicas and the host never share slices or
// role pointers.
func (s Session) Clone() Session {
	out := s
	out.Players = make([]Player, len(s.Players))
	for i, p := range s.Players {
		if p.Role != nil {
			role := *p.Role
			p.Role = &role
		}
		out.Players[i] = p
	}
	if s.RoundData != nil {
		round := *s.RoundData
		out.RoundData = &round
	}
	return out
}

func (s Session) Has(id string) bool {
	_, ok := s.Player(id)
	return ok
}

func (s Session) Player(id string) (Player, bool) {
	for _, p := range s.Players {
		if p.ID == id {
			return p, true
		}
	}
	return Player{}, false
}

func (s Session) Host() (Player, bool) {
	for _, p := range s.Players {
		if p.IsHost {
			return p, true
		}
	}
	return Player{}, false
}

func (s Session) PlayerIDs() []string {
	ids := make([]string, len(s.Players))
	for i, p := range s.Players {
		ids[i] = p.ID
	}
	return ids
}

// Impostors lists impostor ids in roster order.
func (s Session) Impostors() []string {
	var ids []string
	for _, p := range s.Players {
		if p.Role != nil && *p.Role == RoleImpostor {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// EffectiveImpostorCount is the stored setting clamped to the current roster.
func (s Session) EffectiveImpostorCount() int {
	return ClampImpostors(s.Settings.ImpostorCount, len(s.Players))
}

// MaxImpostors is max(1, floor(n/2)).
func MaxImpostors(n int) int {
	return max(1, n/2)
}

func ClampImpostors(k, n int) int {
	return min(max(k, 1), MaxImpostors(n))
}

// CleanName normalizes a display name. Blank names fall back to "Player N"
// where n is the 1-based roster slot.
func CleanName(name string, n int) string {
	name = strings.TrimSpace(norm.NFC.String(name))
	name = strings.Join(strings.Fields(name), " ")
	if utf8.RuneCountInString(name) > MaxNameLength {
		name = strings.TrimSpace(string([]rune(name)[:MaxNameLength]))
	}
	if name == "" {
		return fmt.Sprintf("Player %d", n)
	}
	return name
}
