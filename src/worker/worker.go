package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/q-controller/nea-supervisor/src/driver"
	"github.com/q-controller/nea-supervisor/src/protocol"
)

const (
	DefaultInterval = 100 * time.Millisecond
	DefaultRetry    = 3

	ExitFatal = 1
)

var ErrRetriesExhausted = fmt.Errorf("driver initialization retries exhausted")
var ErrConfigure = fmt.Errorf("driver configuration failed")
var ErrMissingInitParams = fmt.Errorf("init command without parameters")

// ExitError ends the worker with a process exit code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("worker exit %d: %v", e.Code, e.Err)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func fatal(err error) error {
	return &ExitError{Code: ExitFatal, Err: err}
}

// ExitCode maps the result of Run to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFatal
}

// Emitter forwards one raw driver message to the supervisor.
type Emitter func(message []byte) error

type Option func(*Worker)

func WithLogger(log *slog.Logger) Option {
	return func(w *Worker) {
		w.log = log
	}
}

// WithLevel lets the init command's NAPI log level drive the verbosity of
// the worker's own logger.
func WithLevel(level *slog.LevelVar) Option {
	return func(w *Worker) {
		w.level = level
	}
}

// WithOpener replaces the driver registry lookup.
func WithOpener(open func(name string) (driver.Driver, error)) Option {
	return func(w *Worker) {
		w.open = open
	}
}

// Worker owns one driver instance and pumps requests into it and messages
// out of it on a fixed interval.
type Worker struct {
	log      *slog.Logger
	level    *slog.LevelVar
	open     func(name string) (driver.Driver, error)
	emit     Emitter
	queue    Queue
	drv      driver.Driver
	retry    int
	interval time.Duration
}

func New(emit Emitter, opts ...Option) *Worker {
	w := &Worker{
		log:      slog.Default(),
		open:     driver.Open,
		emit:     emit,
		retry:    DefaultRetry,
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Initialize opens and configures the driver. Configuration is retried
// while the driver reports FAILED_TO_INIT, up to the retry budget; any other
// failure is fatal immediately.
func (w *Worker) Initialize(params InitParams) error {
	if w.drv != nil {
		w.log.Warn("worker already initialized, ignoring init")
		return nil
	}
	if params.Interval > 0 {
		w.interval = params.interval()
	}
	if params.Retry > 0 {
		w.retry = params.Retry
	}
	if w.level != nil {
		w.level.Set(SlogLevel(protocol.LogLevel(params.Log)))
	}

	name := driver.Name(params.Nymulator)
	drv, err := w.open(name)
	if err != nil {
		return fatal(err)
	}

	initRequest, err := json.Marshal(protocol.GetInit())
	if err != nil {
		return fatal(err)
	}
	w.queue.PushFront(initRequest)

	cfg := driver.Config{
		NeaName:      params.NeaName,
		LogDirectory: params.LogDirectory,
		Provisions:   params.Provisions,
		LogLevel:     params.Log,
		Port:         params.Port,
		Host:         params.Host,
	}
	for {
		if w.retry <= 0 {
			drv.Terminate()
			w.log.Error("driver initialization failed", "driver", name)
			return fatal(ErrRetriesExhausted)
		}
		w.retry--

		outcome := drv.Configure(cfg)
		if outcome == driver.ConfigOkay {
			break
		}
		if !outcome.Retryable() {
			drv.Terminate()
			w.log.Error("driver configuration error", "driver", name, "outcome", outcome)
			return fatal(fmt.Errorf("%w: %s", ErrConfigure, outcome))
		}
		w.log.Warn("driver failed to init, retrying", "driver", name, "retriesLeft", w.retry)
	}

	w.drv = drv
	w.log.Info("driver configured", "driver", name, "nea", params.NeaName, "interval", w.interval)
	return nil
}

// Put appends a serialized request to the queue.
func (w *Worker) Put(request json.RawMessage) {
	w.queue.PushBack(request)
}

// RunCycle submits at most one queued request and forwards at most one
// driver message. It does nothing until the driver is initialized.
func (w *Worker) RunCycle() error {
	if w.drv == nil {
		return nil
	}

	if request, ok := w.queue.PopFront(); ok {
		switch outcome := w.drv.Put(request); outcome {
		case driver.PutOkay:
		case driver.PutNapiNotRunning:
			w.log.Debug("driver not running, requeueing request")
			w.queue.PushBack(request)
		default:
			w.log.Warn("driver rejected request", "outcome", outcome)
		}
	}

	message, outcome := w.drv.TryGet()
	if outcome != driver.GetOkay {
		return nil
	}
	if err := w.emit(message); err != nil {
		return fmt.Errorf("emit message: %w", err)
	}
	return nil
}

// Shutdown terminates the driver. The worker can not be used afterwards.
func (w *Worker) Shutdown() {
	if w.drv == nil {
		return
	}
	w.drv.Terminate()
	w.drv = nil
}

// Pending returns the queued requests, head first.
func (w *Worker) Pending() []json.RawMessage {
	return w.queue.Snapshot()
}

func (w *Worker) Interval() time.Duration {
	return w.interval
}

// Handle applies one command. It reports true when the worker should stop.
func (w *Worker) Handle(cmd Command) (bool, error) {
	switch cmd.Op {
	case OpInit:
		if cmd.InitParams == nil {
			return true, fatal(ErrMissingInitParams)
		}
		if err := w.Initialize(*cmd.InitParams); err != nil {
			return true, err
		}
	case OpPut:
		if len(cmd.Put) == 0 {
			w.log.Warn("put command without request")
			return false, nil
		}
		w.Put(cmd.Put)
	case OpQuit:
		w.log.Info("quit requested")
		w.Shutdown()
		return true, nil
	default:
		w.log.Warn("unknown command", "op", cmd.Op)
	}
	return false, nil
}

// Run is the worker's only loop. Commands and poll cycles are serialized on
// the calling goroutine, so a slow cycle delays the next one instead of
// overlapping it. A closed command channel counts as quit.
func (w *Worker) Run(ctx context.Context, commands <-chan Command) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.Shutdown()
			return ctx.Err()
		case cmd, ok := <-commands:
			if !ok {
				w.log.Info("command channel closed")
				w.Shutdown()
				return nil
			}
			stop, err := w.Handle(cmd)
			if err != nil {
				w.Shutdown()
				return err
			}
			if stop {
				return nil
			}
			if cmd.Op == OpInit {
				ticker.Reset(w.interval)
			}
		case <-ticker.C:
			if err := w.RunCycle(); err != nil {
				w.log.Error("cycle failed", "error", err)
				w.Shutdown()
				return fatal(err)
			}
		}
	}
}

// SlogLevel maps the driver log level onto the worker's own logger.
func SlogLevel(level protocol.LogLevel) slog.Level {
	switch level {
	case protocol.LogNone:
		return slog.LevelError
	case protocol.LogNormal:
		return slog.LevelWarn
	case protocol.LogInfo:
		return slog.LevelInfo
	case protocol.LogDebug:
		return slog.LevelDebug
	default:
		return slog.LevelDebug - 4
	}
}
