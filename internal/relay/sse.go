package relay

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// SSEHandler streams worker messages as server-sent events. Clients may
// filter by message type via ?types=LOG,ERROR.
func SSEHandler(broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		var typeFilter map[MessageType]bool
		if q := r.URL.Query().Get("types"); q != "" {
			typeFilter = make(map[MessageType]bool)
			for _, t := range strings.Split(q, ",") {
				if mt := ParseMessageType(t); mt != "" {
					typeFilter[mt] = true
				}
			}
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		flusher.Flush()

		id, ch := broker.Subscribe()
		defer broker.Unsubscribe(id)

		for {
			select {
			case <-r.Context().Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if typeFilter != nil && !typeFilter[msg.Type] {
					continue
				}
				payload, err := json.Marshal(msg)
				if err != nil {
					slog.Debug("sse marshal failed", "error", err)
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Type, payload)
				flusher.Flush()
			}
		}
	}
}
