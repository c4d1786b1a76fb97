// Package background forwards run requests to the offscreen host, creating
// it on first use, and clears tab state when a tab navigates.
package background

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dgnsrekt/PandasTableScraper/internal/relay"
)

// Offscreen is the single execution host the background talks to.
type Offscreen interface {
	Handle(ctx context.Context, env relay.Envelope) relay.Reply
	Close() error
}

// Factory creates the offscreen host.
type Factory func(ctx context.Context) (Offscreen, error)

// TableClearer forgets the detected tables of a tab.
type TableClearer interface {
	ClearTables(tabID string) bool
}

// Worker is the background context.
type Worker struct {
	factory  Factory
	sessions TableClearer

	mu      sync.Mutex
	host    Offscreen
	port    *relay.Port[relay.Envelope, relay.Reply]
	stop    context.CancelFunc
	created int
}

func NewWorker(factory Factory, sessions TableClearer) *Worker {
	return &Worker{factory: factory, sessions: sessions}
}

// HasOffscreen reports whether the offscreen host exists.
func (w *Worker) HasOffscreen() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.port != nil
}

// Created reports how many offscreen hosts were created.
func (w *Worker) Created() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.created
}

// ensureOffscreen creates the offscreen host unless it already exists.
func (w *Worker) ensureOffscreen(ctx context.Context) (*relay.Port[relay.Envelope, relay.Reply], error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.port != nil {
		return w.port, nil
	}

	host, err := w.factory(ctx)
	if err != nil {
		return nil, err
	}
	port := relay.NewPort[relay.Envelope, relay.Reply]("offscreen")
	serveCtx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := port.Serve(serveCtx, host.Handle); err != nil && serveCtx.Err() == nil {
			slog.Warn("offscreen port stopped", "error", err)
		}
	}()

	w.host = host
	w.port = port
	w.stop = cancel
	w.created++
	slog.Info("offscreen host created")
	return port, nil
}

// Handle answers a message sent to the background context. Only
// RUN_PYTHON is handled here; every failure becomes an ERROR reply.
func (w *Worker) Handle(ctx context.Context, msg relay.Message) relay.Reply {
	if msg.Type != relay.TypeRunPython {
		return relay.ErrorReply("VALIDATION", "background does not handle "+string(msg.Type))
	}

	port, err := w.ensureOffscreen(ctx)
	if err != nil {
		slog.Warn("offscreen host create failed", "error", err)
		return relay.ErrorReply("EXECUTION_ERROR", err.Error())
	}

	reply, err := port.Send(ctx, relay.Envelope{
		Target: relay.TargetOffscreen,
		Data: relay.Message{
			Type:      relay.TypeRunCode,
			RequestID: msg.RequestID,
			Code:      msg.Code,
			Data:      msg.Data,
		},
	})
	if err != nil {
		return relay.ErrorReply("EXECUTION_ERROR", err.Error())
	}
	reply.For = relay.TypeRunPython
	return reply
}

// OnBeforeNavigate clears the stored tables of a tab when its main frame
// starts a navigation. Sub-frame navigations are ignored.
func (w *Worker) OnBeforeNavigate(tabID string, mainFrame bool) {
	if !mainFrame || w.sessions == nil {
		return
	}
	if w.sessions.ClearTables(tabID) {
		slog.Debug("tab tables cleared on navigation", "tab_id", tabID)
	}
}

// Close stops the offscreen host.
func (w *Worker) Close() error {
	w.mu.Lock()
	host, stop := w.host, w.stop
	w.host, w.port, w.stop = nil, nil, nil
	w.mu.Unlock()
	if stop != nil {
		stop()
	}
	if host != nil {
		return host.Close()
	}
	return nil
}
