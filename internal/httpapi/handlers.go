package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/DoyleJ11/impostor/internal/hub"
	"github.com/DoyleJ11/impostor/internal/transport"
	"github.com/go-chi/chi/v5"
)

// Publish fans the request body out to {channel}.
func Publish(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channel := chi.URLParam(r, "channel")
		if !hub.ValidChannel(channel) {
			http.Error(w, "invalid channel", http.StatusBadRequest)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, transport.MaxPayload))
		if err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}
		if len(body) == 0 {
			http.Error(w, "empty payload", http.StatusBadRequest)
			return
		}

		if !h.Send(r.Context(), hub.Publish{Channel: channel, Payload: body}) {
			http.Error(w, "relay unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func Stats(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reply := make(chan hub.Stats, 1)
		if !h.Send(r.Context(), hub.GetStats{Reply: reply}) {
			http.Error(w, "relay unavailable", http.StatusServiceUnavailable)
			return
		}
		var s hub.Stats
		select {
		case s = <-reply:
		case <-h.Done():
			http.Error(w, "relay unavailable", http.StatusServiceUnavailable)
			return
		case <-time.After(2 * time.Second):
			http.Error(w, "stats timed out", http.StatusGatewayTimeout)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(s)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
