package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const DefaultNtfyURL = "https://ntfy.sh"

// Ntfy uses an ntfy-compatible pub/sub service: POST {base}/{topic} to
// publish, a server-sent event stream on {base}/{topic}/sse to subscribe.
// Each SSE event carries the published body in its "message" field.
type Ntfy struct {
	base   string
	http   *http.Client
	stream *http.Client
	log    *zap.Logger

	mu     sync.Mutex
	subs   map[int]*relaySub
	next   int
	closed bool
}

func NewNtfy(baseURL string, log *zap.Logger) (*Ntfy, error) {
	if baseURL == "" {
		baseURL = DefaultNtfyURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("ntfy url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("ntfy url: unsupported scheme %q", u.Scheme)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Ntfy{
		base:   strings.TrimRight(baseURL, "/"),
		http:   &http.Client{Timeout: 10 * time.Second},
		stream: &http.Client{},
		log:    log,
		subs:   make(map[int]*relaySub),
	}, nil
}

func (n *Ntfy) Publish(ctx context.Context, channel string, payload []byte) error {
	if len(payload) > MaxPayload {
		return fmt.Errorf("ntfy publish: payload of %d bytes exceeds %d", len(payload), MaxPayload)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.base+"/"+url.PathEscape(channel), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Title", "Impostor Update")
	req.Header.Set("Tags", "video_game")
	resp, err := n.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("ntfy status %d", resp.StatusCode)
	}
	return nil
}

func (n *Ntfy) Subscribe(ctx context.Context, channel string, h Handler) (Unsubscribe, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &relaySub{cancel: cancel, done: make(chan struct{})}
	n.next++
	id := n.next
	n.subs[id] = sub

	go func() {
		defer close(sub.done)
		bo := newBackoff()
		for {
			err := n.streamOnce(subCtx, channel, h, bo)
			if subCtx.Err() != nil {
				return
			}
			n.log.Info("ntfy stream ended, reconnecting", zap.String("channel", channel), zap.Error(err))
			if !bo.wait(subCtx) {
				return
			}
		}
	}()

	return func() error {
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
		sub.cancel()
		<-sub.done
		return nil
	}, nil
}

type ntfyEvent struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

// streamOnce holds one SSE connection until it fails or ctx ends.
func (n *Ntfy) streamOnce(ctx context.Context, channel string, h Handler, bo *backoff) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.base+"/"+url.PathEscape(channel)+"/sse", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := n.stream.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("ntfy status %d", resp.StatusCode)
	}
	bo.reset()

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 4096), MaxPayload*2)
	for sc.Scan() {
		line := sc.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		var ev ntfyEvent
		if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &ev); err != nil {
			continue
		}
		if ev.Event != "message" || ev.Message == "" {
			continue
		}
		h([]byte(ev.Message))
	}
	return sc.Err()
}

func (n *Ntfy) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	subs := make([]*relaySub, 0, len(n.subs))
	for _, s := range n.subs {
		subs = append(subs, s)
	}
	clear(n.subs)
	n.mu.Unlock()

	var err error
	for _, s := range subs {
		s.cancel()
		<-s.done
		err = multierr.Append(err, s.err)
	}
	n.http.CloseIdleConnections()
	n.stream.CloseIdleConnections()
	return err
}
