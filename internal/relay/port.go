package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrPortClosed is returned by Send once the serving side has stopped.
var ErrPortClosed = errors.New("relay: port closed")

// Handler answers one request. It must always produce a reply; failures are
// reported inside the reply rather than as Go errors.
type Handler[Req, Resp any] func(ctx context.Context, req Req) Resp

type call[Req, Resp any] struct {
	ctx   context.Context
	req   Req
	reply chan Resp
}

// Port is a named request/response channel between two contexts. Every
// Send receives exactly one reply or fails on context cancellation.
type Port[Req, Resp any] struct {
	name  string
	calls chan call[Req, Resp]
	done  chan struct{}
}

func NewPort[Req, Resp any](name string) *Port[Req, Resp] {
	return &Port[Req, Resp]{
		name:  name,
		calls: make(chan call[Req, Resp]),
		done:  make(chan struct{}),
	}
}

func (p *Port[Req, Resp]) Name() string { return p.name }

// Serve dispatches calls to h until ctx ends. Each call runs in its own
// goroutine so a slow reply never blocks the listener.
func (p *Port[Req, Resp]) Serve(ctx context.Context, h Handler[Req, Resp]) error {
	defer close(p.done)
	slog.Debug("relay port serving", "port", p.name)
	for {
		select {
		case <-ctx.Done():
			slog.Debug("relay port stopped", "port", p.name)
			return ctx.Err()
		case c := <-p.calls:
			go func() {
				resp := h(c.ctx, c.req)
				c.reply <- resp
			}()
		}
	}
}

// Send delivers req and waits for its reply.
func (p *Port[Req, Resp]) Send(ctx context.Context, req Req) (Resp, error) {
	var zero Resp
	c := call[Req, Resp]{ctx: ctx, req: req, reply: make(chan Resp, 1)}
	select {
	case p.calls <- c:
	case <-p.done:
		return zero, fmt.Errorf("%s: %w", p.name, ErrPortClosed)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	select {
	case resp := <-c.reply:
		return resp, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
