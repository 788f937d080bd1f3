package lobby

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DoyleJ11/impostor/internal/engine"
	"github.com/DoyleJ11/impostor/internal/transport"
	"github.com/DoyleJ11/impostor/internal/types"
	"github.com/DoyleJ11/impostor/internal/view"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type GuestConfig struct {
	Bus      *transport.Bus
	Name     string
	RoomCode string
	// PlayerID is generated when empty.
	PlayerID      string
	RetryInterval time.Duration
	Log           *zap.Logger
}

// Guest holds a replica of the host's session. It keeps asking to join
// until it sees itself on the roster, then only listens. There is no
// timeout: with no reachable host it retries for as long as it runs.
type Guest struct {
	actor

	bus   *transport.Bus
	retry time.Duration
	log   *zap.Logger

	id      string
	name    string
	room    string
	session *engine.Session
	machine *view.Machine
	joined  bool
	unsub   transport.Unsubscribe
}

func NewGuest(parent context.Context, cfg GuestConfig) (*Guest, error) {
	if cfg.Bus == nil {
		return nil, errors.New("lobby: guest needs a bus")
	}
	code, err := engine.NormalizeRoomCode(cfg.RoomCode)
	if err != nil {
		return nil, err
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.PlayerID == "" {
		cfg.PlayerID = uuid.NewString()
	}

	g := &Guest{
		actor:   newActor(parent),
		bus:     cfg.Bus,
		retry:   cfg.RetryInterval,
		log:     cfg.Log.With(zap.String("room", code), zap.String("player", cfg.PlayerID)),
		id:      cfg.PlayerID,
		name:    cfg.Name,
		room:    code,
		machine: view.NewMachine(),
	}

	unsub, err := cfg.Bus.Subscribe(g.ctx, code, func(m types.Message) { g.post(inbound{msg: m}) })
	if err != nil {
		g.cancel()
		return nil, fmt.Errorf("subscribe room %s: %w", code, err)
	}
	g.unsub = unsub

	go g.loop()
	return g, nil
}

func (g *Guest) RoomCode() string { return g.room }
func (g *Guest) PlayerID() string { return g.id }

func (g *Guest) loop() {
	defer close(g.done)
	ticker := time.NewTicker(g.retry)
	defer ticker.Stop()
	retry := ticker.C

	g.sendJoin()

	for {
		select {
		case <-g.ctx.Done():
			g.shutdown()
			return

		case <-retry:
			g.sendJoin()

		case m := <-g.inbox:
			switch msg := m.(type) {
			case inbound:
				types.Dispatch(msg.msg, guestInbound{g})
				if !g.joined && g.session != nil && g.session.Has(g.id) {
					g.joined = true
					ticker.Stop()
					retry = nil
					g.log.Info("joined")
				}

			case Reveal:
				if g.machine.SetRevealed(msg.Shown) {
					g.notify(g.view())
				}

			case GetState:
				msg.Reply <- g.view()

			case Shutdown:
				g.shutdown()
				return
			}
		}
	}
}

func (g *Guest) sendJoin() {
	g.bus.Publish(g.room, types.JoinRequest{Name: g.name, RoomCode: g.room, PlayerID: g.id})
}

type guestInbound struct{ g *Guest }

// OnJoinRequest ignores other guests' requests; only the host admits players.
func (in guestInbound) OnJoinRequest(types.JoinRequest) {}

// OnStateUpdate replaces the replica with whatever arrived, newer or not.
func (in guestInbound) OnStateUpdate(m types.StateUpdate) {
	g := in.g
	if m.Session.RoomCode != g.room {
		return
	}
	s := m.Session.Clone()
	g.session = &s
	g.machine.Observe(g.session)
	g.notify(g.view())
}

func (in guestInbound) OnResetGame(types.ResetGame) {
	in.g.machine.Reset()
	in.g.notify(in.g.view())
}

func (g *Guest) view() View {
	return makeView(g.id, g.room, g.session, g.machine)
}

func (g *Guest) shutdown() {
	g.cancel()
	if err := g.unsub(); err != nil {
		g.log.Warn("unsubscribe", zap.Error(err))
	}
	close(g.watch)
}
