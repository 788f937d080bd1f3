package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DoyleJ11/impostor/internal/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func recvMessage(t *testing.T, ch <-chan types.Message, within time.Duration) types.Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(within):
		t.Fatalf("timed out waiting for message")
		return nil
	}
}

func TestBus_SuppressesOwnEcho(t *testing.T) {
	m := NewMemory()
	host := NewBus(BusConfig{Transport: m.Connect(), SenderID: "host"})
	guest := NewBus(BusConfig{Transport: m.Connect(), SenderID: "guest"})
	defer host.Close()
	defer guest.Close()

	hostIn, guestIn := make(chan types.Message, 4), make(chan types.Message, 4)
	_, err := host.Subscribe(context.Background(), "AB2C", func(msg types.Message) { hostIn <- msg })
	require.NoError(t, err)
	_, err = guest.Subscribe(context.Background(), "ab2c", func(msg types.Message) { guestIn <- msg })
	require.NoError(t, err)

	host.Publish("AB2C", types.ResetGame{})

	require.Equal(t, types.ResetGame{}, recvMessage(t, guestIn, time.Second))
	select {
	case msg := <-hostIn:
		t.Fatalf("host received its own echo: %#v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_DropsNoise(t *testing.T) {
	m := NewMemory()
	raw := m.Connect()
	bus := NewBus(BusConfig{Transport: m.Connect()})
	defer bus.Close()
	defer raw.Close()

	in := make(chan types.Message, 4)
	_, err := bus.Subscribe(context.Background(), "AB2C", func(msg types.Message) { in <- msg })
	require.NoError(t, err)

	require.NoError(t, raw.Publish(context.Background(), bus.Channel("AB2C"), []byte("not json")))
	require.NoError(t, raw.Publish(context.Background(), bus.Channel("AB2C"),
		[]byte(`{"senderId":"other","message":{"type":"JOIN_REQUEST","payload":{"name":"Sam","roomCode":"AB2C","playerId":"g1"}}}`)))

	got := recvMessage(t, in, time.Second)
	require.Equal(t, types.JoinRequest{Name: "Sam", RoomCode: "AB2C", PlayerID: "g1"}, got)
}

type failingTransport struct{ Transport }

func (failingTransport) Publish(context.Context, string, []byte) error {
	return errors.New("relay unreachable")
}

func TestBus_PublishFailureIsLoggedNotReturned(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	bus := NewBus(BusConfig{
		Transport: failingTransport{NewMemory().Connect()},
		Log:       zap.New(core),
	})
	defer bus.Close()

	bus.Publish("AB2C", types.ResetGame{})

	require.Eventually(t, func() bool {
		return logs.FilterMessage("publish failed").Len() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestBus_CloseIsIdempotentAndStopsPublishing(t *testing.T) {
	m := NewMemory()
	bus := NewBus(BusConfig{Transport: m.Connect()})
	_, err := bus.Subscribe(context.Background(), "AB2C", func(types.Message) {})
	require.NoError(t, err)
	require.Equal(t, 1, m.Subscribers(bus.Channel("AB2C")))

	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())
	require.Equal(t, 0, m.Subscribers(bus.Channel("AB2C")))

	bus.Publish("AB2C", types.ResetGame{}) // must not panic or block
}

func TestBus_GeneratesSenderID(t *testing.T) {
	a := NewBus(BusConfig{Transport: NewMemory().Connect()})
	b := NewBus(BusConfig{Transport: NewMemory().Connect()})
	defer a.Close()
	defer b.Close()

	require.NotEmpty(t, a.SenderID())
	require.NotEqual(t, a.SenderID(), b.SenderID())
	require.Equal(t, "gemini_impostor_game_v2_AB2C", a.Channel("ab2c"), "web clients listen on this channel")
}
