package transport

import (
	"context"
	"sync"
)

// Memory is an in-process broker. Each participant gets its own connection
// from Connect; all connections share the same channels.
type Memory struct {
	mu        sync.Mutex
	subs      map[string]map[int]*memorySub
	next      int
	queueSize int
	drop      func(channel string) bool
	duplicate func(channel string) bool
}

type MemoryOption func(*Memory)

// WithDrop makes Publish silently lose a message for a subscriber whenever
// fn returns true.
func WithDrop(fn func(channel string) bool) MemoryOption {
	return func(m *Memory) { m.drop = fn }
}

// WithDuplicate delivers a message twice to a subscriber whenever fn returns true.
func WithDuplicate(fn func(channel string) bool) MemoryOption {
	return func(m *Memory) { m.duplicate = fn }
}

func WithQueueSize(n int) MemoryOption {
	return func(m *Memory) { m.queueSize = n }
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		subs:      make(map[string]map[int]*memorySub),
		queueSize: 256,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type memorySub struct {
	id      int
	channel string
	queue   chan []byte
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func (s *memorySub) stop() {
	s.once.Do(func() { close(s.done) })
	<-s.stopped
}

func (m *Memory) publish(channel string, payload []byte) {
	m.mu.Lock()
	targets := make([]*memorySub, 0, len(m.subs[channel]))
	for _, s := range m.subs[channel] {
		targets = append(targets, s)
	}
	m.mu.Unlock()

	for _, s := range targets {
		if m.drop != nil && m.drop(channel) {
			continue
		}
		copies := 1
		if m.duplicate != nil && m.duplicate(channel) {
			copies = 2
		}
		for range copies {
			msg := append([]byte(nil), payload...)
			select {
			case s.queue <- msg:
			default:
				// Subscriber is behind; the message is lost like on any lossy channel.
			}
		}
	}
}

func (m *Memory) add(channel string, h Handler) *memorySub {
	m.mu.Lock()
	m.next++
	s := &memorySub{
		id:      m.next,
		channel: channel,
		queue:   make(chan []byte, m.queueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	if m.subs[channel] == nil {
		m.subs[channel] = make(map[int]*memorySub)
	}
	m.subs[channel][s.id] = s
	m.mu.Unlock()

	go func() {
		defer close(s.stopped)
		for {
			select {
			case <-s.done:
				return
			case msg := <-s.queue:
				h(msg)
			}
		}
	}()
	return s
}

func (m *Memory) remove(s *memorySub) {
	m.mu.Lock()
	delete(m.subs[s.channel], s.id)
	if len(m.subs[s.channel]) == 0 {
		delete(m.subs, s.channel)
	}
	m.mu.Unlock()
	s.stop()
}

// Subscribers reports how many live subscriptions a channel has.
func (m *Memory) Subscribers(channel string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[channel])
}

// Connect returns a Transport bound to this broker. Closing it only removes
// its own subscriptions.
func (m *Memory) Connect() Transport {
	return &memoryConn{broker: m, subs: make(map[int]*memorySub)}
}

type memoryConn struct {
	broker *Memory
	mu     sync.Mutex
	subs   map[int]*memorySub
	closed bool
}

func (c *memoryConn) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	c.broker.publish(channel, payload)
	return nil
}

func (c *memoryConn) Subscribe(ctx context.Context, channel string, h Handler) (Unsubscribe, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	s := c.broker.add(channel, h)
	c.subs[s.id] = s

	go func() {
		select {
		case <-ctx.Done():
			c.drop(s)
		case <-s.done:
		}
	}()

	return func() error {
		c.drop(s)
		return nil
	}, nil
}

func (c *memoryConn) drop(s *memorySub) {
	c.mu.Lock()
	_, live := c.subs[s.id]
	delete(c.subs, s.id)
	c.mu.Unlock()
	if live {
		c.broker.remove(s)
	}
}

func (c *memoryConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := make([]*memorySub, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	clear(c.subs)
	c.mu.Unlock()

	for _, s := range subs {
		c.broker.remove(s)
	}
	return nil
}
