package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

type exitRecorder struct {
	calls atomic.Int32
	code  atomic.Int32
}

func (e *exitRecorder) exit(code int) {
	e.calls.Add(1)
	e.code.Store(int32(code))
}

func newTestSupervisor() (*Supervisor, *exitRecorder) {
	rec := &exitRecorder{}
	s := New(zap.NewNop())
	s.SetExit(rec.exit)
	s.SetGrace(time.Second)
	return s, rec
}

func forever(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func runWithTimeout(t *testing.T, s *Supervisor) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.Run(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("supervisor did not stop on its own")
	}
	return err
}

func TestReturnsWhenTerminatingUnitsFinish(t *testing.T) {
	s, rec := newTestSupervisor()
	var finished atomic.Int32
	for i := 0; i < 3; i++ {
		delay := time.Duration(i) * 10 * time.Millisecond
		if err := s.Attach("job", func(ctx context.Context) error {
			time.Sleep(delay)
			finished.Add(1)
			return nil
		}, true); err != nil {
			t.Fatalf("attach: %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		if err := s.Attach("loop", forever, false); err != nil {
			t.Fatalf("attach: %v", err)
		}
	}
	if err := runWithTimeout(t, s); err != nil {
		t.Fatalf("expected clean finish, got %v", err)
	}
	if finished.Load() != 3 {
		t.Fatalf("expected 3 finished jobs, got %d", finished.Load())
	}
	if rec.calls.Load() != 0 {
		t.Fatalf("expected no exit call")
	}
}

func TestForeverUnitReturningIsFatal(t *testing.T) {
	s, rec := newTestSupervisor()
	_ = s.Attach("job", forever, true)
	_ = s.Attach("feed", func(context.Context) error { return nil }, false)
	err := runWithTimeout(t, s)
	if !errors.Is(err, ErrUnexpectedExit) {
		t.Fatalf("expected ErrUnexpectedExit, got %v", err)
	}
	if rec.calls.Load() != 1 || rec.code.Load() != 1 {
		t.Fatalf("expected exit(1) once, got %d calls code %d", rec.calls.Load(), rec.code.Load())
	}
}

func TestUnitErrorIsFatal(t *testing.T) {
	s, rec := newTestSupervisor()
	boom := errors.New("boom")
	var alerted atomic.Value
	s.SetAlert(func(_ context.Context, msg string) { alerted.Store(msg) })
	_ = s.Attach("loop", forever, false)
	_ = s.Attach("job", func(context.Context) error { return boom }, true)
	err := runWithTimeout(t, s)
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if !strings.HasPrefix(err.Error(), "job:") {
		t.Fatalf("expected unit name in error, got %q", err.Error())
	}
	if rec.calls.Load() != 1 {
		t.Fatalf("expected exit call")
	}
	if msg, _ := alerted.Load().(string); !strings.Contains(msg, "boom") {
		t.Fatalf("expected alert with failure, got %q", msg)
	}
}

func TestPanicIsRecoveredAndFatal(t *testing.T) {
	s, rec := newTestSupervisor()
	_ = s.Attach("job", func(context.Context) error { panic("kaput") }, true)
	err := runWithTimeout(t, s)
	if err == nil || !strings.Contains(err.Error(), "kaput") {
		t.Fatalf("expected panic error, got %v", err)
	}
	if rec.calls.Load() != 1 {
		t.Fatalf("expected exit call")
	}
}

func TestParentCancelIsGraceful(t *testing.T) {
	s, rec := newTestSupervisor()
	_ = s.Attach("loop", forever, false)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if err := s.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if rec.calls.Load() != 0 {
		t.Fatalf("expected no exit call on cancel")
	}
}

func TestAttachWhileRunningAndAfterFinish(t *testing.T) {
	s, _ := newTestSupervisor()
	var child atomic.Bool
	_ = s.Attach("parent", func(ctx context.Context) error {
		return s.Attach("child", func(context.Context) error {
			time.Sleep(20 * time.Millisecond)
			child.Store(true)
			return nil
		}, true)
	}, true)
	if err := runWithTimeout(t, s); err != nil {
		t.Fatalf("expected clean finish, got %v", err)
	}
	if !child.Load() {
		t.Fatalf("expected dynamically attached unit to complete before return")
	}
	if err := s.Attach("late", forever, false); !errors.Is(err, ErrFinished) {
		t.Fatalf("expected ErrFinished, got %v", err)
	}
	if err := s.Run(context.Background()); !errors.Is(err, ErrFinished) {
		t.Fatalf("expected ErrFinished on second run, got %v", err)
	}
}
