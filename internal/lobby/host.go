package lobby

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/DoyleJ11/impostor/internal/engine"
	"github.com/DoyleJ11/impostor/internal/topic"
	"github.com/DoyleJ11/impostor/internal/transport"
	"github.com/DoyleJ11/impostor/internal/types"
	"github.com/DoyleJ11/impostor/internal/view"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrStartPending = errors.New("round start already pending")
var ErrStartFailed = errors.New("could not start round")
var ErrStartCancelled = errors.New("round start cancelled by reset")

type AdjustImpostors struct{ Delta int }

func (AdjustImpostors) isLobbyMsg() {}

// StartRound asks for a topic and deals roles. Reply must be buffered; it
// receives exactly one value, nil once the round is broadcast or the reason
// it was not started.
type StartRound struct {
	Reply chan error
}

func (StartRound) isLobbyMsg() {}

type ResetRound struct{}

func (ResetRound) isLobbyMsg() {}

type topicResult struct {
	seq int
	res topic.Result
}

func (topicResult) isLobbyMsg() {}

type HostConfig struct {
	Bus    *transport.Bus
	Topics topic.Provider
	Name   string
	// PlayerID and RoomCode are generated when empty.
	PlayerID     string
	RoomCode     string
	Rand         *rand.Rand
	Heartbeat    time.Duration
	TopicTimeout time.Duration
	Log          *zap.Logger
}

type pendingStart struct {
	seq    int
	reply  chan error
	cancel context.CancelFunc
}

// Host is the only participant that mutates the session. Every change is
// broadcast at once and the whole snapshot is re-sent on every heartbeat, so
// replicas that missed a message converge on the next tick.
type Host struct {
	actor

	bus          *transport.Bus
	topics       topic.Provider
	rand         *rand.Rand
	heartbeat    time.Duration
	topicTimeout time.Duration
	log          *zap.Logger

	id      string
	room    string
	session engine.Session
	machine *view.Machine
	pending *pendingStart
	seq     int
	unsub   transport.Unsubscribe
}

func NewHost(parent context.Context, cfg HostConfig) (*Host, error) {
	if cfg.Bus == nil || cfg.Topics == nil {
		return nil, errors.New("lobby: host needs a bus and a topic provider")
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	if cfg.TopicTimeout <= 0 {
		cfg.TopicTimeout = DefaultTopicTimeout
	}
	if cfg.PlayerID == "" {
		cfg.PlayerID = uuid.NewString()
	}

	code := cfg.RoomCode
	if code == "" {
		code = engine.NewRoomCode(cfg.Rand)
	} else {
		var err error
		if code, err = engine.NormalizeRoomCode(code); err != nil {
			return nil, err
		}
	}

	h := &Host{
		actor:        newActor(parent),
		bus:          cfg.Bus,
		topics:       cfg.Topics,
		rand:         cfg.Rand,
		heartbeat:    cfg.Heartbeat,
		topicTimeout: cfg.TopicTimeout,
		log:          cfg.Log.With(zap.String("room", code), zap.String("player", cfg.PlayerID)),
		id:           cfg.PlayerID,
		room:         code,
		session:      engine.NewSession(code, cfg.PlayerID, cfg.Name),
		machine:      view.NewMachine(),
	}

	unsub, err := cfg.Bus.Subscribe(h.ctx, code, func(m types.Message) { h.post(inbound{msg: m}) })
	if err != nil {
		h.cancel()
		return nil, fmt.Errorf("subscribe room %s: %w", code, err)
	}
	h.unsub = unsub

	go h.loop()
	return h, nil
}

func (h *Host) RoomCode() string { return h.room }
func (h *Host) PlayerID() string { return h.id }

// Start sends StartRound and waits for its reply.
func (h *Host) Start(ctx context.Context) error {
	reply := make(chan error, 1)
	if !h.send(ctx, StartRound{Reply: reply}) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-h.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Host) loop() {
	defer close(h.done)
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	h.log.Info("room open")
	h.broadcast()

	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case <-ticker.C:
			h.bus.Publish(h.room, types.StateUpdate{Session: h.session.Clone()})

		case m := <-h.inbox:
			switch msg := m.(type) {
			case inbound:
				types.Dispatch(msg.msg, hostInbound{h})

			case AdjustImpostors:
				h.apply(engine.Command{Type: engine.CmdAdjustImpostors, Delta: msg.Delta})

			case StartRound:
				h.startRound(msg.Reply)

			case topicResult:
				h.finishStart(msg)

			case ResetRound:
				h.resetRound()

			case Reveal:
				if h.machine.SetRevealed(msg.Shown) {
					h.notify(h.view())
				}

			case GetState:
				msg.Reply <- h.view()

			case Shutdown:
				h.shutdown()
				return
			}
		}
	}
}

// hostInbound keeps the channel handlers off Host's exported method set.
type hostInbound struct{ h *Host }

func (in hostInbound) OnJoinRequest(m types.JoinRequest) {
	code, err := engine.NormalizeRoomCode(m.RoomCode)
	if err != nil {
		return
	}
	in.h.apply(engine.Command{Type: engine.CmdJoin, PlayerID: m.PlayerID, Name: m.Name, RoomCode: code})
}

// The host's own session is canonical; replicated state from elsewhere is
// never adopted.
func (in hostInbound) OnStateUpdate(types.StateUpdate) {}
func (in hostInbound) OnResetGame(types.ResetGame)     {}

// apply runs a command and broadcasts only when it produced events.
func (h *Host) apply(cmd engine.Command) (bool, error) {
	next, events, err := engine.Apply(h.session, cmd)
	if err != nil {
		h.log.Debug("command rejected", zap.String("command", string(cmd.Type)), zap.Error(err))
		return false, err
	}
	if len(events) == 0 {
		return false, nil
	}
	h.session = next
	h.machine.Observe(&h.session)
	for _, ev := range events {
		h.log.Debug("event", zap.String("type", string(ev.Type)), zap.String("subject", ev.PlayerID))
	}
	h.broadcast()
	return true, nil
}

func (h *Host) startRound(reply chan error) {
	if h.pending != nil {
		reply <- ErrStartPending
		return
	}
	// Same checks as engine.Apply, made early so a doomed start never hits the provider.
	if h.session.Status != engine.StatusLobby {
		reply <- engine.ErrInvalidStatus
		return
	}
	if len(h.session.Players) < engine.MinPlayers {
		reply <- engine.ErrNotEnoughPlayers
		return
	}

	h.seq++
	ctx, cancel := context.WithCancel(h.ctx)
	h.pending = &pendingStart{seq: h.seq, reply: reply, cancel: cancel}
	go func(seq int) {
		res := topic.Request(ctx, h.topics, h.topicTimeout)
		h.post(topicResult{seq: seq, res: res})
	}(h.seq)
	h.notify(h.view())
}

func (h *Host) finishStart(msg topicResult) {
	p := h.pending
	if p == nil || p.seq != msg.seq {
		return
	}
	h.pending = nil
	p.cancel()

	if msg.res.Outcome != topic.OutcomeOK {
		h.log.Warn("topic request failed",
			zap.Stringer("outcome", msg.res.Outcome), zap.Error(msg.res.Err))
		p.reply <- fmt.Errorf("%w: %w", ErrStartFailed, msg.res.Err)
		h.notify(h.view())
		return
	}

	round := msg.res.Topic.Round()
	if _, err := h.apply(engine.Command{Type: engine.CmdStartRound, Round: &round, Rand: h.rand}); err != nil {
		p.reply <- err
		h.notify(h.view())
		return
	}
	h.log.Info("round started",
		zap.Int("players", len(h.session.Players)),
		zap.Int("impostors", h.session.Settings.ImpostorCount),
		zap.String("category", round.Category))
	p.reply <- nil
}

// resetRound cancels a pending start and returns everyone to the lobby.
// RESET_GAME goes out first so replicas hide their cards before the
// snapshot lands.
func (h *Host) resetRound() {
	if p := h.pending; p != nil {
		h.pending = nil
		p.cancel()
		p.reply <- ErrStartCancelled
	}

	next, _, err := engine.Apply(h.session, engine.Command{Type: engine.CmdResetRound})
	if err != nil {
		h.log.Error("reset rejected", zap.Error(err))
		return
	}
	h.session = next
	h.machine.Observe(&h.session)
	h.machine.Reset()
	h.bus.Publish(h.room, types.ResetGame{})
	h.broadcast()
	h.log.Info("round reset")
}

func (h *Host) broadcast() {
	h.bus.Publish(h.room, types.StateUpdate{Session: h.session.Clone()})
	h.notify(h.view())
}

func (h *Host) view() View {
	v := makeView(h.id, h.room, &h.session, h.machine)
	v.StartPending = h.pending != nil
	return v
}

func (h *Host) shutdown() {
	if p := h.pending; p != nil {
		h.pending = nil
		p.cancel()
		p.reply <- ErrClosed
	}
	h.cancel()
	if err := h.unsub(); err != nil {
		h.log.Warn("unsubscribe", zap.Error(err))
	}
	close(h.watch)
	h.log.Info("room closed")
}
