package view

import (
	"errors"
	"math/rand/v2"
	"strconv"

	"github.com/DoyleJ11/impostor/internal/engine"
)

var ErrWrongPhase = errors.New("wrong pass-and-play phase")

type Phase string

const (
	PhasePassing   Phase = "PASSING"
	PhaseRevealing Phase = "REVEALING"
	PhasePlaying   Phase = "PLAYING"
)

// PassAndPlay runs a round on a single device: the device is handed to each
// player in roster order, they reveal their card, and once the last player
// has seen theirs everyone plays. None of this state is replicated.
type PassAndPlay struct {
	session engine.Session
	phase   Phase
	current int
}

// NewPassAndPlay starts a round with locally dealt roles. names must hold at
// least engine.MinPlayers entries; blanks become "Player N".
func NewPassAndPlay(names []string, impostors int, round engine.RoundData, r *rand.Rand) (*PassAndPlay, error) {
	s := engine.Session{RoomCode: "LOCAL", Status: engine.StatusLobby, Settings: engine.Settings{ImpostorCount: impostors}}
	for i, name := range names {
		s.Players = append(s.Players, engine.Player{
			ID:     strconv.Itoa(i),
			Name:   engine.CleanName(name, i+1),
			IsHost: i == 0,
		})
	}
	next, _, err := engine.Apply(s, engine.Command{Type: engine.CmdStartRound, Round: &round, Rand: r})
	if err != nil {
		return nil, err
	}
	return &PassAndPlay{session: next, phase: PhasePassing}, nil
}

func (p *PassAndPlay) Phase() Phase            { return p.phase }
func (p *PassAndPlay) CurrentIndex() int       { return p.current }
func (p *PassAndPlay) Session() engine.Session { return p.session.Clone() }

func (p *PassAndPlay) Current() engine.Player {
	return p.session.Players[p.current]
}

// Reveal moves PASSING to REVEALING and returns the current player's card.
func (p *PassAndPlay) Reveal() (Card, error) {
	if p.phase != PhasePassing {
		return Card{}, ErrWrongPhase
	}
	p.phase = PhaseRevealing
	return CardFor(*p.Current().Role, *p.session.RoundData), nil
}

// Done hands the device to the next player, or moves to PLAYING after the last.
func (p *PassAndPlay) Done() error {
	if p.phase != PhaseRevealing {
		return ErrWrongPhase
	}
	if p.current == len(p.session.Players)-1 {
		p.phase = PhasePlaying
		p.current = 0
		return nil
	}
	p.current++
	p.phase = PhasePassing
	return nil
}

func (p *PassAndPlay) Category() string {
	return p.session.RoundData.Category
}
