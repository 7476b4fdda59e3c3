package housekeeping

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"userboard.io/internal/obs"
)

type stubPurger struct {
	calls atomic.Int32
	n     int64
	err   error
}

func (s *stubPurger) PurgeExpired(context.Context) (int64, error) {
	s.calls.Add(1)
	return s.n, s.err
}

func TestRunOnce(t *testing.T) {
	var logs bytes.Buffer
	w := NewWorker(&stubPurger{n: 4}, obs.NewLogger(&logs, "info"), time.Minute)
	if got := w.RunOnce(context.Background()); got != 4 {
		t.Fatalf("expected 4, got %d", got)
	}
	if !strings.Contains(logs.String(), `"count":4`) {
		t.Fatalf("expected purge count in log, got %q", logs.String())
	}

	logs.Reset()
	w = NewWorker(&stubPurger{err: errors.New("db down")}, obs.NewLogger(&logs, "info"), time.Minute)
	if got := w.RunOnce(context.Background()); got != 0 {
		t.Fatalf("expected 0 on failure, got %d", got)
	}
	if !strings.Contains(logs.String(), "refresh token purge failed") {
		t.Fatalf("expected failure log, got %q", logs.String())
	}
}

func TestStartTicksUntilCancelled(t *testing.T) {
	p := &stubPurger{}
	w := NewWorker(p, obs.NewLogger(&bytes.Buffer{}, "error"), 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for p.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("worker did not tick")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestDefaults(t *testing.T) {
	w := NewWorker(&stubPurger{}, nil, 0)
	if w.interval != DefaultInterval || w.logger == nil {
		t.Fatalf("unexpected defaults: %+v", w)
	}
}
