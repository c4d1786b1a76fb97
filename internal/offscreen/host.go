// Package offscreen hosts the persistent execution worker and answers run
// envelopes addressed to it.
package offscreen

import (
	"context"
	"log/slog"

	"github.com/dgnsrekt/PandasTableScraper/internal/relay"
)

// Worker is the execution host the offscreen context posts to.
type Worker interface {
	Post(ctx context.Context, msg relay.Message) error
	Broker() *relay.Broker
	// Kill stops the host immediately. Nothing is published for the killed
	// run once Kill returns.
	Kill() error
	Close() error
}

// Host forwards envelopes to its worker and resolves each on the next
// terminal worker message. Requests are not correlated: two requests in
// flight both resolve on whichever terminal message arrives first.
type Host struct {
	worker   Worker
	indexURL string
}

func NewHost(w Worker, indexURL string) *Host {
	return &Host{worker: w, indexURL: indexURL}
}

func terminal(r relay.Reply) bool { return r.Type.Terminal() }

// Handle answers one envelope. When ctx ends first the worker is killed so
// the abandoned run cannot answer a later request; the next post restarts it.
func (h *Host) Handle(ctx context.Context, env relay.Envelope) relay.Reply {
	if env.Target != relay.TargetOffscreen {
		return relay.ErrorReply("VALIDATION", "envelope not addressed to offscreen: "+env.Target)
	}

	ch, cancel := h.worker.Broker().Once(terminal)
	defer cancel()

	msg := env.Data
	msg.IndexURL = h.indexURL
	if err := h.worker.Post(ctx, msg); err != nil {
		slog.Warn("offscreen post failed", "type", msg.Type, "error", err)
		return relay.ErrorReply("EXECUTION_ERROR", err.Error())
	}

	select {
	case reply := <-ch:
		slog.Debug("offscreen reply", "type", reply.Type)
		return reply
	case <-ctx.Done():
		if err := h.worker.Kill(); err != nil {
			slog.Warn("offscreen kill failed", "error", err)
		}
		slog.Warn("offscreen run abandoned", "type", msg.Type, "error", ctx.Err())
		return relay.ErrorReply("EXECUTION_ERROR", ctx.Err().Error())
	}
}

// Init warms the worker up with an INIT round trip.
func (h *Host) Init(ctx context.Context) relay.Reply {
	return h.Handle(ctx, relay.Envelope{Target: relay.TargetOffscreen, Data: relay.Message{Type: relay.TypeInit}})
}

func (h *Host) Close() error { return h.worker.Close() }
