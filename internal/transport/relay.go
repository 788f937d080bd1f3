package transport

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Relay talks to the relay server in cmd/server: publishes are HTTP POSTs to
// /{channel}, subscriptions are websockets on /{channel}/ws that reconnect
// until cancelled.
type Relay struct {
	base *url.URL
	http *http.Client
	log  *zap.Logger

	mu     sync.Mutex
	subs   map[int]*relaySub
	next   int
	closed bool
}

type relaySub struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func NewRelay(baseURL string, log *zap.Logger) (*Relay, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("relay url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("relay url: unsupported scheme %q", u.Scheme)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{
		base: u,
		http: &http.Client{Timeout: 10 * time.Second},
		log:  log,
		subs: make(map[int]*relaySub),
	}, nil
}

func (r *Relay) channelURL(channel string, ws bool) string {
	u := *r.base
	u.Path = u.Path + "/" + url.PathEscape(channel)
	if ws {
		u.Path += "/ws"
		if u.Scheme == "https" {
			u.Scheme = "wss"
		} else {
			u.Scheme = "ws"
		}
	}
	return u.String()
}

func (r *Relay) Publish(ctx context.Context, channel string, payload []byte) error {
	if len(payload) > MaxPayload {
		return fmt.Errorf("relay publish: payload of %d bytes exceeds %d", len(payload), MaxPayload)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.channelURL(channel, false), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("relay status %d", resp.StatusCode)
	}
	return nil
}

func (r *Relay) Subscribe(ctx context.Context, channel string, h Handler) (Unsubscribe, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &relaySub{cancel: cancel, done: make(chan struct{})}
	r.next++
	id := r.next
	r.subs[id] = sub

	go func() {
		defer close(sub.done)
		sub.err = r.read(subCtx, channel, h)
		if sub.err != nil {
			r.log.Error("relay subscription ended", zap.String("channel", channel), zap.Error(sub.err))
		}
	}()

	return func() error {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
		sub.cancel()
		<-sub.done
		return sub.err
	}, nil
}

// read keeps one websocket open for the channel, redialing with backoff
// whenever it drops.
func (r *Relay) read(ctx context.Context, channel string, h Handler) error {
	target := r.channelURL(channel, true)
	bo := newBackoff()
	for {
		conn, resp, err := websocket.Dial(ctx, target, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if resp != nil && resp.StatusCode == http.StatusBadRequest {
				return fmt.Errorf("relay rejected channel %q: %w", channel, err)
			}
			r.log.Warn("relay dial failed", zap.String("channel", channel), zap.Error(err))
			if !bo.wait(ctx) {
				return nil
			}
			continue
		}
		bo.reset()
		conn.SetReadLimit(MaxPayload)
		r.log.Debug("relay subscribed", zap.String("channel", channel))

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				break
			}
			h(data)
		}

		_ = conn.CloseNow()
		if ctx.Err() != nil {
			return nil
		}
		r.log.Info("relay connection lost, reconnecting", zap.String("channel", channel))
		if !bo.wait(ctx) {
			return nil
		}
	}
}

func (r *Relay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	subs := make([]*relaySub, 0, len(r.subs))
	for _, s := range r.subs {
		subs = append(subs, s)
	}
	clear(r.subs)
	r.mu.Unlock()

	var err error
	for _, s := range subs {
		s.cancel()
		<-s.done
		err = multierr.Append(err, s.err)
	}
	r.http.CloseIdleConnections()
	return err
}
