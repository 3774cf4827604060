// Package supervisor runs the pipeline's long-lived units and owns
// cancellation. Any unit failing, or a unit that should run forever
// returning, takes the whole process down.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrFinished       = errors.New("supervisor already finished")
	ErrRunning        = errors.New("supervisor already running")
	ErrUnexpectedExit = errors.New("unit expected to run forever exited")
)

const defaultGrace = 5 * time.Second

type Func func(ctx context.Context) error

type unit struct {
	name       string
	fn         Func
	terminates bool
}

type result struct {
	name       string
	terminates bool
	err        error
	stack      string
}

type phase int

const (
	phaseIdle phase = iota
	phaseRunning
	phaseFinished
)

type Supervisor struct {
	log   *zap.Logger
	exit  func(int)
	alert func(context.Context, string)
	grace time.Duration

	mu          sync.Mutex
	phase       phase
	units       []unit
	ctx         context.Context
	results     chan result
	done        chan struct{}
	wg          sync.WaitGroup
	terminating int
	pending     int
}

func New(log *zap.Logger) *Supervisor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Supervisor{
		log:     log,
		exit:    os.Exit,
		grace:   defaultGrace,
		results: make(chan result),
		done:    make(chan struct{}),
	}
}

// SetExit replaces the process exit hook called on failure.
func (s *Supervisor) SetExit(fn func(int)) {
	s.exit = fn
}

// SetAlert installs a hook that receives the failure report before exit.
func (s *Supervisor) SetAlert(fn func(context.Context, string)) {
	s.alert = fn
}

func (s *Supervisor) SetGrace(d time.Duration) {
	s.grace = d
}

// Attach registers a unit. While Run is active the unit starts immediately.
func (s *Supervisor) Attach(name string, fn Func, terminates bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := unit{name: name, fn: fn, terminates: terminates}
	switch s.phase {
	case phaseFinished:
		return fmt.Errorf("attach %s: %w", name, ErrFinished)
	case phaseRunning:
		s.start(u)
	default:
		s.units = append(s.units, u)
	}
	if terminates {
		s.terminating++
		s.pending++
	}
	return nil
}

// Run starts every attached unit and blocks. It returns nil once every
// terminating unit has finished, ctx.Err() if ctx is cancelled, and the
// failing unit's error otherwise, after calling the exit hook.
func (s *Supervisor) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	switch s.phase {
	case phaseRunning:
		s.mu.Unlock()
		return ErrRunning
	case phaseFinished:
		s.mu.Unlock()
		return ErrFinished
	}
	s.phase = phaseRunning
	s.ctx = runCtx
	for _, u := range s.units {
		s.start(u)
	}
	s.units = nil
	s.mu.Unlock()
	s.log.Info("supervisor started")

	for {
		if s.allTerminated() {
			s.stop(cancel)
			s.log.Info("supervisor finished")
			return nil
		}
		select {
		case <-ctx.Done():
			s.stop(cancel)
			s.log.Info("supervisor cancelled", zap.Error(ctx.Err()))
			return ctx.Err()
		case r := <-s.results:
			if ctx.Err() != nil {
				// units unwinding after cancellation are not failures
				s.stop(cancel)
				s.log.Info("supervisor cancelled", zap.Error(ctx.Err()))
				return ctx.Err()
			}
			if r.err == nil && !r.terminates {
				r.err = ErrUnexpectedExit
			}
			if r.err != nil {
				return s.fail(ctx, cancel, r)
			}
			s.log.Info("unit finished", zap.String("unit", r.name))
			s.mu.Lock()
			s.pending--
			s.mu.Unlock()
		}
	}
}

// start launches u; callers hold mu.
func (s *Supervisor) start(u unit) {
	ctx := s.ctx
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		r := result{name: u.name, terminates: u.terminates}
		func() {
			defer func() {
				if p := recover(); p != nil {
					r.err = fmt.Errorf("panic: %v", p)
					r.stack = string(debug.Stack())
				}
			}()
			r.err = u.fn(ctx)
		}()
		select {
		case s.results <- r:
		case <-s.done:
		}
	}()
}

// allTerminated reports whether every terminating unit is done and, if so,
// closes the supervisor to further attaches in the same critical section.
func (s *Supervisor) allTerminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminating == 0 || s.pending > 0 {
		return false
	}
	s.finishLocked()
	return true
}

func (s *Supervisor) finishLocked() {
	if s.phase == phaseFinished {
		return
	}
	s.phase = phaseFinished
	close(s.done)
}

func (s *Supervisor) stop(cancel context.CancelFunc) {
	s.mu.Lock()
	s.finishLocked()
	s.mu.Unlock()
	cancel()

	waited := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(s.grace):
		s.log.Warn("units still running after shutdown grace", zap.Duration("grace", s.grace))
	}
}

func (s *Supervisor) fail(ctx context.Context, cancel context.CancelFunc, r result) error {
	err := fmt.Errorf("%s: %w", r.name, r.err)
	fields := []zap.Field{zap.String("unit", r.name), zap.Error(r.err)}
	if r.stack != "" {
		fields = append(fields, zap.String("panic_stack", r.stack))
	} else {
		fields = append(fields, zap.Stack("stack"))
	}
	s.log.Error("supervised unit failed", fields...)
	if s.alert != nil {
		s.alert(context.WithoutCancel(ctx), fmt.Sprintf("fairprice-bot unit %s failed: %v", r.name, r.err))
	}
	s.stop(cancel)
	if s.exit != nil {
		s.exit(1)
	}
	return err
}
