// Package connectivity detects reachability transitions and emits events
// that trigger reconciliation. Two watchers exist: a poller that probes the
// backend health endpoint, and a signal watcher for environments where an
// external agent knows about connectivity changes.
package connectivity

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	applog "spendlog/internal/log"
)

// Watcher emits an event whenever the backend becomes reachable again.
type Watcher interface {
	// Events delivers online transitions. The channel is never closed by
	// the watcher; stop consuming after Run returns.
	Events() <-chan struct{}

	// Run blocks until ctx is done.
	Run(ctx context.Context) error
}

// Prober is the health check the poll watcher uses.
type Prober interface {
	Ping(ctx context.Context) error
}

// PollWatcher probes the backend on an interval and emits an event on
// each offline to online transition. The first successful probe after
// startup also counts as a transition, so a queue accumulated while the
// process was down gets flushed promptly.
type PollWatcher struct {
	prober   Prober
	interval time.Duration
	log      *applog.Logger
	events   chan struct{}
}

func NewPollWatcher(prober Prober, interval time.Duration, logger *applog.Logger) *PollWatcher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = applog.New(applog.DefaultConfig()).WithComponent(applog.ComponentConnectivity)
	}
	return &PollWatcher{
		prober:   prober,
		interval: interval,
		log:      logger,
		events:   make(chan struct{}, 1),
	}
}

func (w *PollWatcher) Events() <-chan struct{} { return w.events }

func (w *PollWatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	online := false
	probe := func() {
		err := w.prober.Ping(ctx)
		if err != nil {
			if online {
				w.log.InfoContext(ctx, "Backend unreachable", applog.FieldError, err)
			}
			online = false
			return
		}
		if !online {
			online = true
			w.log.InfoContext(ctx, "Backend reachable")
			w.emit()
		}
	}

	probe()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			probe()
		}
	}
}

// emit never blocks. The channel has capacity one; a pending event already
// covers any number of transitions the consumer has not seen yet.
func (w *PollWatcher) emit() {
	select {
	case w.events <- struct{}{}:
	default:
	}
}

// SignalWatcher emits an event on SIGHUP. Useful when a network manager
// hook or the operator knows connectivity came back.
type SignalWatcher struct {
	log    *applog.Logger
	events chan struct{}
}

func NewSignalWatcher(logger *applog.Logger) *SignalWatcher {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig()).WithComponent(applog.ComponentConnectivity)
	}
	return &SignalWatcher{log: logger, events: make(chan struct{}, 1)}
}

func (w *SignalWatcher) Events() <-chan struct{} { return w.events }

func (w *SignalWatcher) Run(ctx context.Context) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGHUP)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sigs:
			w.log.InfoContext(ctx, "Received connectivity signal")
			select {
			case w.events <- struct{}{}:
			default:
			}
		}
	}
}
