package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Dispatcher routes one request envelope to the context that answers it.
type Dispatcher func(ctx context.Context, msg Message) Reply

// WSHandler accepts JSON envelopes over a WebSocket and writes one reply per
// envelope. Envelopes on a connection are answered in order.
func WSHandler(dispatch Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			slog.Warn("ws upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		defer conn.Close()
		slog.Info("ws client connected", "remote", r.RemoteAddr)

		ctx := r.Context()
		for {
			data, op, err := wsutil.ReadClientData(conn)
			if err != nil {
				slog.Debug("ws client disconnected", "remote", r.RemoteAddr, "error", err)
				return
			}
			if op != ws.OpText {
				continue
			}

			var reply Reply
			var msg Message
			if err := json.Unmarshal(data, &msg); err != nil {
				reply = ErrorReply("VALIDATION", "invalid envelope: "+err.Error())
			} else {
				reply = dispatch(ctx, msg)
			}

			out, err := json.Marshal(reply)
			if err != nil {
				slog.Warn("ws reply marshal failed", "error", err)
				continue
			}
			if err := wsutil.WriteServerText(conn, out); err != nil {
				slog.Debug("ws write failed", "remote", r.RemoteAddr, "error", err)
				return
			}
		}
	}
}
