package transport

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/feedbridge/internal/shared"
	"github.com/desertthunder/feedbridge/internal/telemetry"
)

const defaultQueueSize = 256

// Loop runs work serially on a single goroutine.
//
// Handlers and scheduled callbacks never run concurrently with each other, so state owned by
// the loop needs no locking.
type Loop struct {
	work   chan func(context.Context)
	done   chan struct{}
	logger *log.Logger
}

// NewLoop creates a loop with a buffered work queue.
func NewLoop(logger *log.Logger) *Loop {
	telemetry.Init()
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Loop{
		work:   make(chan func(context.Context), defaultQueueSize),
		done:   make(chan struct{}),
		logger: shared.WithLogger(logger, "component", "loop"),
	}
}

// Post enqueues fn. It blocks while the queue is full and returns false once the loop has stopped.
func (l *Loop) Post(fn func(context.Context)) bool {
	select {
	case <-l.done:
		return false
	default:
	}

	select {
	case l.work <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Schedule posts fn after delay without blocking the caller.
func (l *Loop) Schedule(delay time.Duration, fn func(context.Context)) {
	time.AfterFunc(delay, func() { l.Post(fn) })
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Run executes posted work until ctx is cancelled. It must be called once.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)

	l.logger.Debug("event loop started")
	for {
		select {
		case <-ctx.Done():
			l.logger.Debug("event loop stopped")
			return ctx.Err()
		case fn := <-l.work:
			if err := l.exec(ctx, fn); err != nil {
				l.logger.Error("recovered from panic in loop handler", "error", err)
			}
		}
	}
}

func (l *Loop) exec(ctx context.Context, fn func(context.Context)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			telemetry.LoopPanics.Inc()
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()

	fn(ctx)
	return nil
}
