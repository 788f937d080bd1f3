// Package lobby runs one participant of a game room as a single actor
// goroutine. A Host owns the canonical session and re-broadcasts it; a Guest
// keeps a replica that is replaced by whatever snapshot arrived last.
package lobby

import (
	"context"
	"errors"
	"time"

	"github.com/DoyleJ11/impostor/internal/engine"
	"github.com/DoyleJ11/impostor/internal/types"
	"github.com/DoyleJ11/impostor/internal/view"
)

var ErrClosed = errors.New("lobby closed")

const (
	DefaultHeartbeat     = 2 * time.Second
	DefaultRetryInterval = 1500 * time.Millisecond
	DefaultTopicTimeout  = 10 * time.Second
)

type Msg interface{ isLobbyMsg() }

// inbound is a decoded message from the room channel.
type inbound struct{ msg types.Message }

func (inbound) isLobbyMsg() {}

type Reveal struct{ Shown bool }

func (Reveal) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

// View is a copy of one participant's state, safe to keep.
type View struct {
	PlayerID string
	RoomCode string
	// Session is nil until a guest receives its first snapshot.
	Session      *engine.Session
	Joined       bool
	Revealed     bool
	StartPending bool
	Screen       view.Screen
}

func makeView(id, room string, s *engine.Session, m *view.Machine) View {
	v := View{PlayerID: id, RoomCode: room, Revealed: m.Revealed()}
	if s != nil {
		c := s.Clone()
		v.Session = &c
		v.Joined = c.Has(id)
	}
	v.Screen = view.Derive(v.Session, id, v.Revealed)
	return v
}

// actor is the loop plumbing shared by Host and Guest.
type actor struct {
	inbox  chan Msg
	watch  chan View
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newActor(parent context.Context) actor {
	ctx, cancel := context.WithCancel(parent)
	return actor{
		inbox:  make(chan Msg, 64),
		watch:  make(chan View, 16),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// post delivers m unless the actor has stopped. Transport handlers use it so
// an unsubscribe never waits on a full inbox.
func (a *actor) post(m Msg) bool {
	select {
	case a.inbox <- m:
		return true
	case <-a.ctx.Done():
		return false
	}
}

// notify keeps the newest view in the watch channel, dropping the oldest
// when the reader is behind.
func (a *actor) notify(v View) {
	select {
	case a.watch <- v:
		return
	default:
	}
	select {
	case <-a.watch:
	default:
	}
	select {
	case a.watch <- v:
	default:
	}
}

// Inbox exposes the actor's mailbox.
func (a *actor) Inbox() chan<- Msg { return a.inbox }

// Watch yields a view after every visible change. It is closed on shutdown.
func (a *actor) Watch() <-chan View { return a.watch }

// Done is closed once the loop has exited.
func (a *actor) Done() <-chan struct{} { return a.done }

func (a *actor) State(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if !a.send(ctx, GetState{Reply: reply}) {
		if err := ctx.Err(); err != nil {
			return View{}, err
		}
		return View{}, ErrClosed
	}
	select {
	case v := <-reply:
		return v, nil
	case <-a.done:
		return View{}, ErrClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

func (a *actor) Reveal(shown bool) {
	a.post(Reveal{Shown: shown})
}

// Close stops the loop and waits for it.
func (a *actor) Close() {
	select {
	case a.inbox <- Shutdown{}:
	case <-a.ctx.Done():
	case <-a.done:
	}
	<-a.done
}

func (a *actor) send(ctx context.Context, m Msg) bool {
	select {
	case a.inbox <- m:
		return true
	case <-a.done:
		return false
	case <-a.ctx.Done():
		return false
	case <-ctx.Done():
		return false
	}
}
