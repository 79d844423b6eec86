package connectivity

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	applog "spendlog/internal/log"
)

type fakeProber struct {
	up atomic.Bool
}

func (p *fakeProber) Ping(context.Context) error {
	if p.up.Load() {
		return nil
	}
	return errors.New("connection refused")
}

func testLogger() *applog.Logger {
	return applog.New(applog.Config{Level: slog.LevelError})
}

func TestPollWatcherEmitsOnTransition(t *testing.T) {
	prober := &fakeProber{}
	w := NewPollWatcher(prober, 10*time.Millisecond, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	// Offline at startup: no event.
	select {
	case <-w.Events():
		t.Fatal("unexpected event while offline")
	case <-time.After(50 * time.Millisecond):
	}

	prober.up.Store(true)
	select {
	case <-w.Events():
	case <-time.After(time.Second):
		t.Fatal("no event after coming online")
	}

	// Staying online emits nothing further.
	select {
	case <-w.Events():
		t.Fatal("event without a transition")
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	<-done
}

func TestPollWatcherFirstProbeOnlineEmits(t *testing.T) {
	prober := &fakeProber{}
	prober.up.Store(true)
	w := NewPollWatcher(prober, time.Hour, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	select {
	case <-w.Events():
	case <-time.After(time.Second):
		t.Fatal("startup probe should emit when backend is reachable")
	}
}

func TestPollWatcherCoalescesPendingEvents(t *testing.T) {
	w := NewPollWatcher(&fakeProber{}, time.Hour, testLogger())
	w.emit()
	w.emit()
	w.emit()

	<-w.Events()
	select {
	case <-w.Events():
		t.Fatal("pending events should coalesce into one")
	default:
	}
}

func TestPollWatcherRunStopsOnCancel(t *testing.T) {
	w := NewPollWatcher(&fakeProber{}, 10*time.Millisecond, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := w.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
