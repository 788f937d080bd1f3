package lobby

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DoyleJ11/impostor/internal/engine"
	"github.com/DoyleJ11/impostor/internal/topic"
	"github.com/DoyleJ11/impostor/internal/transport"
	"github.com/DoyleJ11/impostor/internal/types"
	"github.com/DoyleJ11/impostor/internal/view"
	"github.com/stretchr/testify/require"
)

const within = 2 * time.Second

func newBus(t *testing.T, mem *transport.Memory) *transport.Bus {
	t.Helper()
	b := transport.NewBus(transport.BusConfig{Transport: mem.Connect()})
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func fixedTopic(category, word string) topic.Provider {
	return topic.ProviderFunc(func(context.Context) (topic.Topic, error) {
		return topic.Topic{Category: category, Topic: word}, nil
	})
}

func newHost(t *testing.T, mem *transport.Memory, cfg HostConfig) *Host {
	t.Helper()
	cfg.Bus = newBus(t, mem)
	if cfg.Topics == nil {
		cfg.Topics = fixedTopic("Animal", "Platypus")
	}
	if cfg.RoomCode == "" {
		cfg.RoomCode = "AB2C"
	}
	if cfg.Name == "" {
		cfg.Name = "Hana"
	}
	if cfg.Heartbeat == 0 {
		cfg.Heartbeat = time.Hour
	}
	h, err := NewHost(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(h.Close)
	return h
}

func newGuest(t *testing.T, mem *transport.Memory, cfg GuestConfig) *Guest {
	t.Helper()
	cfg.Bus = newBus(t, mem)
	if cfg.RoomCode == "" {
		cfg.RoomCode = "AB2C"
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = 20 * time.Millisecond
	}
	g, err := NewGuest(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(g.Close)
	return g
}

// tap records every decodable message on a room channel, echoes included.
func tap(t *testing.T, mem *transport.Memory, room string) <-chan types.Message {
	t.Helper()
	ch := make(chan types.Message, 512)
	conn := mem.Connect()
	t.Cleanup(func() { _ = conn.Close() })
	_, err := conn.Subscribe(context.Background(), transport.DefaultChannelPrefix+room, func(p []byte) {
		env, err := types.Decode(p)
		if err != nil {
			return
		}
		select {
		case ch <- env.Message:
		default:
		}
	})
	require.NoError(t, err)
	return ch
}

func drain(ch <-chan types.Message) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// helper: assert nothing arrives on the channel for a while
func recvNoMessage(t *testing.T, ch <-chan types.Message, within time.Duration, match func(types.Message) bool) {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case m := <-ch:
			if match(m) {
				t.Fatalf("expected no %s within %v, got %+v", m.Kind(), within, m)
			}
		case <-deadline:
			return
		}
	}
}

func recvView(t *testing.T, ch <-chan View, within time.Duration) View {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("watch channel closed unexpectedly")
		}
		return v
	case <-time.After(within):
		t.Fatalf("timed out waiting for view")
		return View{} // unreachable
	}
}

type stateful interface {
	State(ctx context.Context) (View, error)
}

func waitFor(t *testing.T, a stateful, what string, cond func(View) bool) View {
	t.Helper()
	deadline := time.Now().Add(within)
	for {
		v, err := a.State(context.Background())
		if err == nil && cond(v) {
			return v
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s; last view %+v (err %v)", what, v, err)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func playerCount(n int) func(View) bool {
	return func(v View) bool { return v.Session != nil && len(v.Session.Players) == n }
}

func isStatus(s engine.Status) func(View) bool {
	return func(v View) bool { return v.Session != nil && v.Session.Status == s }
}

func countRoles(s *engine.Session) (impostors, innocents int) {
	for _, p := range s.Players {
		switch {
		case p.Role == nil:
		case *p.Role == engine.RoleImpostor:
			impostors++
		case *p.Role == engine.RoleInnocent:
			innocents++
		}
	}
	return impostors, innocents
}

func TestHost_DuplicateJoinsThenStartRound(t *testing.T) {
	mem := transport.NewMemory()
	host := newHost(t, mem, HostConfig{Rand: rand.New(rand.NewPCG(1, 2))})
	require.Equal(t, "AB2C", host.RoomCode())

	// three retries of the same request, as if the first two were slow
	sam := newBus(t, mem)
	for range 3 {
		sam.Publish("AB2C", types.JoinRequest{Name: "Sam", RoomCode: "AB2C", PlayerID: "g1"})
	}
	kim := newGuest(t, mem, GuestConfig{Name: "Kim", RoomCode: "ab2c", PlayerID: "g2"})
	newGuest(t, mem, GuestConfig{Name: "Lou", PlayerID: "g3"})

	v := waitFor(t, host, "four players", playerCount(4))
	require.True(t, v.Session.Players[0].IsHost)
	require.Equal(t, 1, v.Session.Settings.ImpostorCount)

	require.NoError(t, host.Start(context.Background()))

	v, err := host.State(context.Background())
	require.NoError(t, err)
	s := v.Session
	require.Equal(t, engine.StatusPlaying, s.Status)
	require.Equal(t, &engine.RoundData{Category: "Animal", Topic: "Platypus"}, s.RoundData)
	seen := 0
	for _, p := range s.Players {
		if p.ID == "g1" {
			seen++
			require.Equal(t, "Sam", p.Name)
		}
	}
	require.Equal(t, 1, seen)
	impostors, innocents := countRoles(s)
	require.Equal(t, 1, impostors)
	require.Equal(t, 3, innocents)

	// the replica sees the same round
	kv := waitFor(t, kim, "kim playing", isStatus(engine.StatusPlaying))
	require.Equal(t, view.ScreenPlaying, kv.Screen.Kind)
	require.Equal(t, "Animal", kv.Screen.Category)
	require.Nil(t, kv.Screen.Card)

	kim.Reveal(true)
	kv = waitFor(t, kim, "kim revealed", func(v View) bool { return v.Revealed })
	require.NotNil(t, kv.Screen.Card)
	if self, _ := kv.Session.Player("g2"); *self.Role == engine.RoleImpostor {
		require.Equal(t, view.HiddenWord, kv.Screen.Card.Word)
	} else {
		require.Equal(t, "Platypus", kv.Screen.Card.Word)
	}
}

func TestHost_AdjustImpostorsClamps(t *testing.T) {
	mem := transport.NewMemory()
	host := newHost(t, mem, HostConfig{})
	for _, id := range []string{"g1", "g2", "g3"} {
		newGuest(t, mem, GuestConfig{Name: id, PlayerID: id})
	}
	waitFor(t, host, "four players", playerCount(4))

	host.Inbox() <- AdjustImpostors{Delta: 5}
	waitFor(t, host, "two impostors", func(v View) bool { return v.Session.Settings.ImpostorCount == 2 })

	host.Inbox() <- AdjustImpostors{Delta: -9}
	v := waitFor(t, host, "one impostor", func(v View) bool { return v.Session.Settings.ImpostorCount == 1 })
	require.Equal(t, 1, v.Screen.ImpostorCount)
}

func TestGuest_AdoptsLastDeliveredSnapshot(t *testing.T) {
	mem := transport.NewMemory()
	g := newGuest(t, mem, GuestConfig{Name: "Sam", PlayerID: "g1", RetryInterval: time.Hour})
	fake := newBus(t, mem)

	newer := engine.NewSession("AB2C", "h", "Hana")
	for _, id := range []string{"g1", "g2", "g3"} {
		newer, _, _ = engine.Apply(newer, engine.Command{Type: engine.CmdJoin, RoomCode: "AB2C", PlayerID: id, Name: id})
	}
	older := engine.NewSession("AB2C", "h", "Hana")
	older, _, _ = engine.Apply(older, engine.Command{Type: engine.CmdJoin, RoomCode: "AB2C", PlayerID: "g1", Name: "Sam"})
	elsewhere := engine.NewSession("ZZZZ", "x", "Other")

	fake.Publish("AB2C", types.StateUpdate{Session: newer})
	fake.Publish("AB2C", types.StateUpdate{Session: older})
	fake.Publish("AB2C", types.StateUpdate{Session: elsewhere})

	first := recvView(t, g.Watch(), within)
	require.Len(t, first.Session.Players, 4)
	second := recvView(t, g.Watch(), within)
	require.Len(t, second.Session.Players, 2)

	waitFor(t, g, "older snapshot", playerCount(2))
	time.Sleep(50 * time.Millisecond) // let the other room's snapshot arrive
	v, err := g.State(context.Background())
	require.NoError(t, err)
	require.Equal(t, older, *v.Session)
	require.True(t, v.Joined)
}

func TestReset_PropagatesToReplicas(t *testing.T) {
	mem := transport.NewMemory()
	host := newHost(t, mem, HostConfig{})
	g1 := newGuest(t, mem, GuestConfig{Name: "Sam", PlayerID: "g1"})
	newGuest(t, mem, GuestConfig{Name: "Kim", PlayerID: "g2"})
	waitFor(t, host, "three players", playerCount(3))

	require.NoError(t, host.Start(context.Background()))
	waitFor(t, g1, "round on replica", isStatus(engine.StatusPlaying))
	g1.Reveal(true)
	waitFor(t, g1, "revealed", func(v View) bool { return v.Revealed })

	msgs := tap(t, mem, "AB2C")
	host.Inbox() <- ResetRound{}

	v := waitFor(t, g1, "lobby on replica", isStatus(engine.StatusLobby))
	require.False(t, v.Revealed)
	require.Nil(t, v.Session.RoundData)
	for _, p := range v.Session.Players {
		require.Nil(t, p.Role, p.ID)
	}
	require.Equal(t, view.ScreenLobby, v.Screen.Kind)

	// RESET_GAME goes out before the lobby snapshot
	sawReset := false
	deadline := time.After(within)
	for {
		select {
		case m := <-msgs:
			switch m := m.(type) {
			case types.ResetGame:
				sawReset = true
			case types.StateUpdate:
				if m.Session.Status != engine.StatusLobby {
					continue
				}
				require.True(t, sawReset, "lobby snapshot before RESET_GAME")
				return
			}
		case <-deadline:
			t.Fatalf("no lobby snapshot after reset")
		}
	}
}

func TestJoin_ConvergesUnderLoss(t *testing.T) {
	var n atomic.Int64
	mem := transport.NewMemory(transport.WithDrop(func(string) bool { return n.Add(1)%3 != 0 }))
	host := newHost(t, mem, HostConfig{Heartbeat: 20 * time.Millisecond})
	g := newGuest(t, mem, GuestConfig{Name: "Sam", PlayerID: "g1", RetryInterval: 10 * time.Millisecond})

	v := waitFor(t, g, "guest admitted", func(v View) bool { return v.Joined })
	require.Equal(t, view.ScreenLobby, v.Screen.Kind)

	hv := waitFor(t, host, "host roster", playerCount(2))
	require.Equal(t, "g1", hv.Session.Players[1].ID)
}

func TestStartRound_ProviderFailureLeavesSessionUnchanged(t *testing.T) {
	mem := transport.NewMemory()
	msgs := tap(t, mem, "AB2C")
	host := newHost(t, mem, HostConfig{
		Topics: topic.ProviderFunc(func(context.Context) (topic.Topic, error) {
			return topic.Topic{}, errors.New("quota exceeded")
		}),
	})
	raw := newBus(t, mem)
	raw.Publish("AB2C", types.JoinRequest{Name: "Sam", RoomCode: "AB2C", PlayerID: "g1"})
	raw.Publish("AB2C", types.JoinRequest{Name: "Kim", RoomCode: "AB2C", PlayerID: "g2"})
	before := waitFor(t, host, "three players", playerCount(3))

	// wait for the last join broadcast so it is not mistaken for a start
	deadline := time.After(within)
	for settled := false; !settled; {
		select {
		case m := <-msgs:
			if su, ok := m.(types.StateUpdate); ok && len(su.Session.Players) == 3 {
				settled = true
			}
		case <-deadline:
			t.Fatalf("no three-player snapshot")
		}
	}

	err := host.Start(context.Background())
	require.ErrorIs(t, err, ErrStartFailed)
	require.ErrorContains(t, err, "quota exceeded")

	after, err := host.State(context.Background())
	require.NoError(t, err)
	require.Equal(t, before.Session, after.Session)
	require.False(t, after.StartPending)

	recvNoMessage(t, msgs, 100*time.Millisecond, func(m types.Message) bool {
		return m.Kind() == types.KindStateUpdate
	})
}

func TestStartRound_RejectedWithoutCallingProvider(t *testing.T) {
	var calls atomic.Int32
	mem := transport.NewMemory()
	host := newHost(t, mem, HostConfig{
		Topics: topic.ProviderFunc(func(context.Context) (topic.Topic, error) {
			calls.Add(1)
			return topic.Topic{Category: "Job", Topic: "Pilot"}, nil
		}),
	})
	newGuest(t, mem, GuestConfig{Name: "Sam", PlayerID: "g1"})
	waitFor(t, host, "two players", playerCount(2))

	require.ErrorIs(t, host.Start(context.Background()), engine.ErrNotEnoughPlayers)
	require.Zero(t, calls.Load())

	newGuest(t, mem, GuestConfig{Name: "Kim", PlayerID: "g2"})
	waitFor(t, host, "three players", playerCount(3))
	require.NoError(t, host.Start(context.Background()))
	require.ErrorIs(t, host.Start(context.Background()), engine.ErrInvalidStatus)
	require.EqualValues(t, 1, calls.Load())
}

func TestStartRound_PendingStartAndResetCancels(t *testing.T) {
	release := make(chan struct{})
	slow := topic.ProviderFunc(func(ctx context.Context) (topic.Topic, error) {
		select {
		case <-release:
			return topic.Topic{Category: "Job", Topic: "Pilot"}, nil
		case <-ctx.Done():
			return topic.Topic{}, ctx.Err()
		}
	})
	mem := transport.NewMemory()
	host := newHost(t, mem, HostConfig{Topics: slow})
	newGuest(t, mem, GuestConfig{Name: "Sam", PlayerID: "g1"})
	newGuest(t, mem, GuestConfig{Name: "Kim", PlayerID: "g2"})
	waitFor(t, host, "three players", playerCount(3))

	first := make(chan error, 1)
	go func() { first <- host.Start(context.Background()) }()
	waitFor(t, host, "pending start", func(v View) bool { return v.StartPending })

	require.ErrorIs(t, host.Start(context.Background()), ErrStartPending)

	host.Inbox() <- ResetRound{}
	select {
	case err := <-first:
		require.ErrorIs(t, err, ErrStartCancelled)
	case <-time.After(within):
		t.Fatalf("pending start never answered")
	}

	close(release)
	time.Sleep(50 * time.Millisecond)
	v, err := host.State(context.Background())
	require.NoError(t, err)
	require.Equal(t, engine.StatusLobby, v.Session.Status)
	require.Nil(t, v.Session.RoundData)
	require.False(t, v.StartPending)
}

func TestHost_IgnoresReplicatedState(t *testing.T) {
	mem := transport.NewMemory()
	host := newHost(t, mem, HostConfig{})
	raw := newBus(t, mem)

	forged := engine.NewSession("AB2C", "evil", "Mallory")
	forged.Status = engine.StatusPlaying
	raw.Publish("AB2C", types.StateUpdate{Session: forged})
	raw.Publish("AB2C", types.ResetGame{})
	raw.Publish("AB2C", types.JoinRequest{Name: "Sam", RoomCode: "AB2C", PlayerID: "g1"})

	v := waitFor(t, host, "join processed", playerCount(2))
	require.Equal(t, engine.StatusLobby, v.Session.Status)
	require.Equal(t, host.PlayerID(), v.Session.Players[0].ID)
}

func TestHost_JoinForOtherRoomIgnored(t *testing.T) {
	mem := transport.NewMemory()
	host := newHost(t, mem, HostConfig{})
	raw := newBus(t, mem)

	raw.Publish("AB2C", types.JoinRequest{Name: "Lost", RoomCode: "ZZZZ", PlayerID: "x"})
	raw.Publish("AB2C", types.JoinRequest{Name: "Bad", RoomCode: "??", PlayerID: "y"})
	raw.Publish("AB2C", types.JoinRequest{Name: "Sam", RoomCode: "ab2c", PlayerID: "g1"})

	v := waitFor(t, host, "lowercase code accepted", playerCount(2))
	require.Equal(t, "g1", v.Session.Players[1].ID)
}

func TestHost_HeartbeatStopsOnClose(t *testing.T) {
	mem := transport.NewMemory()
	msgs := tap(t, mem, "AB2C")
	host := newHost(t, mem, HostConfig{Heartbeat: 20 * time.Millisecond})

	beats := 0
	deadline := time.After(within)
	for beats < 3 {
		select {
		case m := <-msgs:
			if m.Kind() == types.KindStateUpdate {
				beats++
			}
		case <-deadline:
			t.Fatalf("only %d heartbeats", beats)
		}
	}

	host.Close()
	for range host.Watch() {
	}
	_, err := host.State(context.Background())
	require.ErrorIs(t, err, ErrClosed)

	time.Sleep(50 * time.Millisecond)
	drain(msgs)
	recvNoMessage(t, msgs, 150*time.Millisecond, func(types.Message) bool { return true })
}

func TestGuest_RetriesUntilAdmittedThenStops(t *testing.T) {
	mem := transport.NewMemory()
	msgs := tap(t, mem, "AB2C")
	g := newGuest(t, mem, GuestConfig{Name: "Sam", PlayerID: "g1", RetryInterval: 10 * time.Millisecond})

	joins := 0
	deadline := time.After(within)
	for joins < 3 {
		select {
		case m := <-msgs:
			if m.Kind() == types.KindJoinRequest {
				joins++
			}
		case <-deadline:
			t.Fatalf("only %d join requests", joins)
		}
	}
	v, err := g.State(context.Background())
	require.NoError(t, err)
	require.False(t, v.Joined)
	require.Equal(t, view.ScreenJoining, v.Screen.Kind)

	newHost(t, mem, HostConfig{})
	waitFor(t, g, "admitted", func(v View) bool { return v.Joined })

	time.Sleep(30 * time.Millisecond)
	drain(msgs)
	recvNoMessage(t, msgs, 100*time.Millisecond, func(m types.Message) bool {
		return m.Kind() == types.KindJoinRequest
	})
}

func TestGuest_StopsRetryingOnClose(t *testing.T) {
	mem := transport.NewMemory()
	msgs := tap(t, mem, "AB2C")
	g := newGuest(t, mem, GuestConfig{Name: "Sam", RetryInterval: 10 * time.Millisecond})
	time.Sleep(50 * time.Millisecond)

	g.Close()
	_, err := g.State(context.Background())
	require.ErrorIs(t, err, ErrClosed)

	time.Sleep(30 * time.Millisecond)
	drain(msgs)
	recvNoMessage(t, msgs, 100*time.Millisecond, func(types.Message) bool { return true })
}

func TestGuest_RejectsBadRoomCode(t *testing.T) {
	mem := transport.NewMemory()
	_, err := NewGuest(context.Background(), GuestConfig{Bus: newBus(t, mem), RoomCode: "O0"})
	require.ErrorIs(t, err, engine.ErrInvalidRoomCode)
}

func TestGuest_ContextCancelStopsLoop(t *testing.T) {
	mem := transport.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	g, err := NewGuest(ctx, GuestConfig{Bus: newBus(t, mem), RoomCode: "AB2C"})
	require.NoError(t, err)

	cancel()
	select {
	case <-g.Done():
	case <-time.After(within):
		t.Fatalf("guest loop still running after cancel")
	}
	g.Close() // no-op once stopped
}

func TestHost_StartAfterCloseReturns(t *testing.T) {
	mem := transport.NewMemory()
	for i := 0; i < 50; i++ {
		host := newHost(t, mem, HostConfig{})
		host.Close()

		errc := make(chan error, 1)
		go func() { errc <- host.Start(context.Background()) }()
		select {
		case err := <-errc:
			require.ErrorIs(t, err, ErrClosed)
		case <-time.After(within):
			t.Fatalf("Start on a closed host blocked (attempt %d)", i)
		}
	}
}
