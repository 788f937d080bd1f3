package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/DoyleJ11/impostor/internal/hub"
	"github.com/DoyleJ11/impostor/internal/transport"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Options struct {
	// OriginPatterns lists extra browser origins allowed to connect.
	OriginPatterns []string
	Log            *zap.Logger
}

// Handler subscribes the socket to {channel}: every payload published on the
// channel is written to it as a text frame, and every frame read from it is
// published to the channel.
func Handler(h *hub.Hub, opts Options) http.HandlerFunc {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		channel := chi.URLParam(r, "channel")
		if !hub.ValidChannel(channel) {
			http.Error(w, "invalid channel", http.StatusBadRequest)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			return
		}
		defer conn.CloseNow()
		conn.SetReadLimit(transport.MaxPayload)

		out := make(chan []byte, 32)
		clientID := uuid.NewString()
		log := log.With(zap.String("channel", channel), zap.String("client", clientID))

		if !h.Send(r.Context(), hub.Subscribe{Channel: channel, ClientID: clientID, Outbox: out}) {
			conn.Close(websocket.StatusTryAgainLater, "relay shutting down")
			return
		}

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			for {
				select {
				case <-writeCtx.Done():
					return
				case <-h.Done():
					conn.Close(websocket.StatusTryAgainLater, "relay shutting down")
					return
				case payload, ok := <-out:
					if !ok {
						// The hub closed our outbox: we fell behind or it is stopping.
						conn.Close(websocket.StatusTryAgainLater, "resubscribe")
						return
					}
					ctx, cancel := context.WithTimeout(writeCtx, 5*time.Second)
					err := conn.Write(ctx, websocket.MessageText, payload)
					cancel()
					if err != nil {
						_ = conn.CloseNow()
						return
					}
				}
			}
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					if !errors.Is(err, context.Canceled) {
						log.Debug("read ended", zap.Error(err))
					}
				}
				break
			}
			if !h.Send(r.Context(), hub.Publish{Channel: channel, Payload: data}) {
				break
			}
		}

		h.Send(context.Background(), hub.Unsubscribe{Channel: channel, ClientID: clientID})
		writeCancel()
		_ = conn.CloseNow()
		<-writerDone
	}
}
