// Package hub is the relay's channel registry. It fans every published
// payload out to the channel's current subscribers, sender included, and
// never looks inside a payload.
package hub

import (
	"context"

	"go.uber.org/zap"
)

type HubMsg interface{ isHubMsg() }

type Publish struct {
	Channel string
	Payload []byte
}

// Subscribe registers Outbox under ClientID. The hub closes Outbox when the
// subscriber is removed, dropped for being slow, or the hub shuts down.
type Subscribe struct {
	Channel  string
	ClientID string
	Outbox   chan []byte
}

type Unsubscribe struct {
	Channel  string
	ClientID string
}

type GetStats struct {
	Reply chan Stats
}

type ShutdownHub struct{}

func (Publish) isHubMsg()     {}
func (Subscribe) isHubMsg()   {}
func (Unsubscribe) isHubMsg() {}
func (GetStats) isHubMsg()    {}
func (ShutdownHub) isHubMsg() {}

type Stats struct {
	Channels    int    `json:"channels"`
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Delivered   uint64 `json:"delivered"`
	Dropped     uint64 `json:"dropped"`
}

type Hub struct {
	inbox    chan HubMsg
	channels map[string]map[string]chan []byte
	stats    Stats
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewHub(parent context.Context, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:    make(chan HubMsg, 256),
		channels: make(map[string]map[string]chan []byte),
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Done is closed once the hub has stopped.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Send delivers m unless the hub has stopped or ctx ends first.
func (h *Hub) Send(ctx context.Context, m HubMsg) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.inbox <- m:
		return true
	case <-h.done:
		return false
	case <-ctx.Done():
		return false
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case Subscribe:
				subs := h.channels[msg.Channel]
				if subs == nil {
					subs = make(map[string]chan []byte)
					h.channels[msg.Channel] = subs
				}
				if old := subs[msg.ClientID]; old != nil {
					close(old)
				}
				subs[msg.ClientID] = msg.Outbox
				h.log.Debug("subscribed", zap.String("channel", msg.Channel), zap.String("client", msg.ClientID))

			case Unsubscribe:
				h.remove(msg.Channel, msg.ClientID)

			case Publish:
				h.stats.Published++
				h.broadcast(msg.Channel, msg.Payload)

			case GetStats:
				s := h.stats
				s.Channels = len(h.channels)
				for _, subs := range h.channels {
					s.Subscribers += len(subs)
				}
				msg.Reply <- s

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) broadcast(channel string, payload []byte) {
	for id, ch := range h.channels[channel] {
		select {
		case ch <- payload:
			h.stats.Delivered++
		default:
			// Subscriber is slow/full - drop them; they reconnect and the
			// next heartbeat catches them up.
			h.stats.Dropped++
			h.log.Info("dropping slow subscriber", zap.String("channel", channel), zap.String("client", id))
			h.remove(channel, id)
		}
	}
}

func (h *Hub) remove(channel, clientID string) {
	subs := h.channels[channel]
	ch, ok := subs[clientID]
	if !ok {
		return
	}
	close(ch)
	delete(subs, clientID)
	if len(subs) == 0 {
		delete(h.channels, channel)
	}
}

func (h *Hub) shutdown() {
	h.cancel()
	for channel, subs := range h.channels {
		for _, ch := range subs {
			close(ch)
		}
		delete(h.channels, channel)
	}
	// Subscribes accepted by Send but never processed still own an outbox.
	for {
		select {
		case m := <-h.inbox:
			if sub, ok := m.(Subscribe); ok {
				close(sub.Outbox)
			}
		default:
			return
		}
	}
}

// ValidChannel accepts 1-64 characters of letters, digits, '_' and '-'.
func ValidChannel(name string) bool {
	if len(name) == 0 || len(name) > 64 {
		return false
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
		default:
			return false
		}
	}
	return true
}
