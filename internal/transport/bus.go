package transport

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/DoyleJ11/impostor/internal/types"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// DefaultChannelPrefix namespaces room channels on shared services.
const DefaultChannelPrefix = "gemini_impostor_game_v2_"

type BusConfig struct {
	Transport Transport
	// SenderID identifies this process for echo suppression. Generated when empty.
	SenderID       string
	ChannelPrefix  string
	QueueSize      int
	PublishTimeout time.Duration
	Log            *zap.Logger
}

// Bus is one participant's connection to the game channels: a Transport, the
// per-process sender id, and an ordered outbound queue. Publishing never
// blocks the caller and never fails; transport errors are logged and the
// heartbeat is relied on to heal the loss.
type Bus struct {
	t        Transport
	senderID string
	prefix   string
	timeout  time.Duration
	log      *zap.Logger

	out  chan outbound
	done chan struct{}
	wg   sync.WaitGroup

	mu     sync.Mutex
	unsubs []Unsubscribe
	once   sync.Once
}

type outbound struct {
	channel string
	kind    types.Kind
	payload []byte
}

func NewBus(cfg BusConfig) *Bus {
	if cfg.SenderID == "" {
		cfg.SenderID = uuid.NewString()
	}
	if cfg.ChannelPrefix == "" {
		cfg.ChannelPrefix = DefaultChannelPrefix
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}

	b := &Bus{
		t:        cfg.Transport,
		senderID: cfg.SenderID,
		prefix:   cfg.ChannelPrefix,
		timeout:  cfg.PublishTimeout,
		log:      cfg.Log,
		out:      make(chan outbound, cfg.QueueSize),
		done:     make(chan struct{}),
	}
	b.wg.Add(1)
	go b.send()
	return b
}

func (b *Bus) SenderID() string { return b.senderID }

func (b *Bus) Channel(roomCode string) string {
	return b.prefix + strings.ToUpper(roomCode)
}

// Publish queues m for the room's channel and returns immediately.
func (b *Bus) Publish(roomCode string, m types.Message) {
	payload, err := types.Encode(types.Envelope{SenderID: b.senderID, Message: m})
	if err != nil {
		b.log.Error("encode message", zap.String("room", roomCode), zap.Error(err))
		return
	}

	select {
	case <-b.done:
		return
	default:
	}

	select {
	case b.out <- outbound{channel: b.Channel(roomCode), kind: m.Kind(), payload: payload}:
	default:
		b.log.Warn("outbound queue full, dropping message",
			zap.String("room", roomCode), zap.String("type", string(m.Kind())))
	}
}

func (b *Bus) send() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case o := <-b.out:
			ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
			err := b.t.Publish(ctx, o.channel, o.payload)
			cancel()
			if err != nil {
				b.log.Warn("publish failed",
					zap.String("channel", o.channel), zap.String("type", string(o.kind)), zap.Error(err))
			}
		}
	}
}

// Subscribe delivers every decodable message on the room's channel that was
// not sent by this Bus. Undecodable payloads are dropped.
func (b *Bus) Subscribe(ctx context.Context, roomCode string, h func(types.Message)) (Unsubscribe, error) {
	channel := b.Channel(roomCode)
	unsub, err := b.t.Subscribe(ctx, channel, func(payload []byte) {
		env, err := types.Decode(payload)
		if err != nil {
			b.log.Debug("dropping undecodable payload", zap.String("channel", channel), zap.Error(err))
			return
		}
		if env.SenderID == b.senderID {
			return
		}
		h(env.Message)
	})
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.unsubs = append(b.unsubs, unsub)
	b.mu.Unlock()
	return unsub, nil
}

// Close stops the outbound queue, ends every subscription and closes the
// transport. Queued messages that have not been sent yet are discarded.
func (b *Bus) Close() error {
	var err error
	b.once.Do(func() {
		close(b.done)
		b.wg.Wait()

		b.mu.Lock()
		unsubs := b.unsubs
		b.unsubs = nil
		b.mu.Unlock()

		for _, unsub := range unsubs {
			err = multierr.Append(err, unsub())
		}
		err = multierr.Append(err, b.t.Close())
	})
	return err
}
