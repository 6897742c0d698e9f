// Package supervisor runs one NEA worker and turns its raw driver messages
// into typed, published events.
package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/q-controller/nea-supervisor/src/client"
	"github.com/q-controller/nea-supervisor/src/config"
	"github.com/q-controller/nea-supervisor/src/protocol"
	"github.com/q-controller/nea-supervisor/src/storage"
	"github.com/q-controller/nea-supervisor/src/worker"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	DefaultStopTimeout    = time.Second
	DefaultRestartTimeout = 30 * time.Second
)

type State int32

const (
	Stopped State = iota
	Starting
	Running
	Stopping
	// Failed means the handshake failed and a worker is still attached.
	// Stop or Start clears it.
	Failed
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

const errorTopic = "error"

type Option func(*Supervisor)

func WithLogger(log *slog.Logger) Option {
	return func(s *Supervisor) {
		s.log = log
	}
}

func WithStopTimeout(timeout time.Duration) Option {
	return func(s *Supervisor) {
		s.stopTimeout = timeout
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Supervisor) {
		s.metrics = m
	}
}

// WithRestartLimit bounds automatic restarts to limit per second with the
// given burst. A zero limit disables automatic restarts.
func WithRestartLimit(limit rate.Limit, burst int) Option {
	return func(s *Supervisor) {
		s.restarts = rate.NewLimiter(limit, burst)
	}
}

// WithRestartTimeout bounds how long an automatic restart waits for the
// handshake.
func WithRestartTimeout(timeout time.Duration) Option {
	return func(s *Supervisor) {
		s.restartTimeout = timeout
	}
}

// session is the pump state of one spawned worker.
type session struct {
	handle   Handle
	attached atomic.Bool
	init     chan *protocol.InitResponse
	exited   chan struct{}
}

func newSession(h Handle) *session {
	sess := &session{
		handle: h,
		init:   make(chan *protocol.InitResponse, 1),
		exited: make(chan struct{}),
	}
	sess.attached.Store(true)
	return sess
}

// Supervisor owns the lifecycle of one NEA worker. Messages are decoded and
// published on a single pump goroutine per worker, so subscribers see them
// in the order the worker emitted them. Subscribers run on that goroutine:
// they may call Send but must not call Stop.
type Supervisor struct {
	cfg            config.Nea
	storage        storage.Storage
	spawner        Spawner
	log            *slog.Logger
	stopTimeout    time.Duration
	restartTimeout time.Duration
	restarts       *rate.Limiter
	metrics        *Metrics

	events *client.PubSub[protocol.EventName, protocol.Response]
	errs   *client.PubSub[string, error]

	calls        *client.Dispatcher[protocol.Response]
	pendingCalls atomic.Int64
	stopCalls    context.CancelFunc
	closed       atomic.Bool

	// life bounds automatic restarts; Close cancels it and waits for them.
	life       context.Context
	shutdown   context.CancelFunc
	restarting sync.WaitGroup

	starts singleflight.Group

	mu       sync.Mutex
	state    State
	session  *session
	initResp *protocol.InitResponse
}

func New(cfg config.Nea, store storage.Storage, spawner Spawner, opts ...Option) *Supervisor {
	s := &Supervisor{
		cfg:            cfg,
		storage:        store,
		spawner:        spawner,
		log:            slog.Default(),
		stopTimeout:    DefaultStopTimeout,
		restartTimeout: DefaultRestartTimeout,
		restarts:       rate.NewLimiter(rate.Every(10*time.Second), 3),
		events:         client.NewPubSub[protocol.EventName, protocol.Response](),
		errs:           client.NewPubSub[string, error](),
		calls:          client.NewDispatcher[protocol.Response](0),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("nea", cfg.NeaName)
	s.stopCalls, _ = s.calls.Run(context.Background())
	s.life, s.shutdown = context.WithCancel(context.Background())
	return s
}

// Subscribe registers fn for every message published under name.
func (s *Supervisor) Subscribe(name protocol.EventName, fn func(protocol.Response)) func() {
	return s.events.Subscribe(name, fn)
}

// Once registers fn for the next message published under name.
func (s *Supervisor) Once(name protocol.EventName, fn func(protocol.Response)) func() {
	return s.events.Once(name, fn)
}

// OnError registers fn for non-fatal errors: undecodable messages, failed
// provisions writes, sends while stopped and failed restarts.
func (s *Supervisor) OnError(fn func(error)) func() {
	return s.errs.Subscribe(errorTopic, fn)
}

func (s *Supervisor) publishError(err error) {
	s.log.Warn("supervisor error", "error", err)
	s.errs.Publish(errorTopic, err)
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) setState(state State) {
	s.state = state
	s.metrics.setState(state)
}

// IsRunning reports whether a worker exists and has not exited.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()
	return sess != nil && !exited(sess.handle)
}

func exited(h Handle) bool {
	select {
	case <-h.Done():
		return true
	default:
		return false
	}
}

// Start spawns a worker and waits for its init/get answer. A supervisor that
// is already running returns the cached answer. Concurrent callers share one
// attempt.
func (s *Supervisor) Start(ctx context.Context) (*protocol.InitResponse, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	ch := s.starts.DoChan("start", func() (any, error) {
		return s.start(ctx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*protocol.InitResponse), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Supervisor) start(ctx context.Context) (*protocol.InitResponse, error) {
	s.mu.Lock()
	switch s.state {
	case Running:
		resp := s.initResp
		s.mu.Unlock()
		return resp, nil
	case Stopping:
		s.mu.Unlock()
		return nil, ErrStopping
	case Failed:
		s.mu.Unlock()
		if err := s.Stop(ctx); err != nil && !errors.Is(err, ErrNoWorker) {
			return nil, err
		}
		s.mu.Lock()
	}
	s.setState(Starting)
	s.mu.Unlock()

	provisions, err := s.storage.Read()
	if err != nil {
		s.reset(nil)
		return nil, fmt.Errorf("reading provisions: %w", err)
	}

	h, err := s.spawner.Spawn(ctx)
	if err != nil {
		s.reset(nil)
		return nil, fmt.Errorf("spawning worker: %w", err)
	}
	s.metrics.workerStarted()
	s.log.Info("worker spawned", "worker", h.ID())

	sess := newSession(h)
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		s.log.Info("supervisor closed while spawning, killing worker", "worker", h.ID())
		go func() {
			for range h.Messages() {
			}
		}()
		s.kill(h)
		s.reset(nil)
		return nil, ErrClosed
	}
	s.session = sess
	s.mu.Unlock()
	go s.pump(sess)

	if err := h.Send(worker.Init(s.cfg.InitParams(provisions))); err != nil {
		s.fail(sess)
		return nil, fmt.Errorf("sending init: %w", err)
	}

	select {
	case resp := <-sess.init:
		if !resp.Ok() {
			s.fail(sess)
			s.log.Error("worker initialization failed", "worker", h.ID(), "error", resp.ErrorText())
			return nil, &InitError{Response: resp}
		}
		s.mu.Lock()
		if s.session == sess {
			s.initResp = resp
			s.setState(Running)
		}
		s.mu.Unlock()
		s.log.Info("worker running", "worker", h.ID(), "host", resp.Info.Host, "port", resp.Info.Port)
		return resp, nil
	case <-sess.exited:
		s.reset(sess)
		return nil, ErrWorkerExited
	case <-ctx.Done():
		s.fail(sess)
		return nil, ctx.Err()
	}
}

// fail detaches the pump of a worker whose handshake did not succeed. The
// worker itself is left for Stop.
func (s *Supervisor) fail(sess *session) {
	sess.attached.Store(false)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == sess {
		s.setState(Failed)
	}
}

// reset forgets sess, or whatever is pending when sess is nil.
func (s *Supervisor) reset(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != sess {
		return
	}
	s.session = nil
	s.initResp = nil
	s.setState(Stopped)
}

// Stop asks the worker to quit and kills it when it has not exited within
// the stop timeout or ctx ends first. Apart from ErrNoWorker it always
// succeeds.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	sess := s.session
	if sess == nil {
		s.mu.Unlock()
		return ErrNoWorker
	}
	s.setState(Stopping)
	s.mu.Unlock()

	h := sess.handle
	timer := time.NewTimer(s.stopTimeout)
	defer timer.Stop()
	// A worker busy in a driver call does not read its commands, so quit
	// must not hold up the timeout.
	go func() {
		if err := h.Send(worker.Quit()); err != nil {
			s.log.Debug("could not send quit", "worker", h.ID(), "error", err)
		}
	}()

	select {
	case <-h.Done():
		s.metrics.workerExited("stopped")
	case <-timer.C:
		s.log.Warn("worker did not quit in time, killing", "worker", h.ID(), "timeout", s.stopTimeout)
		s.kill(h)
	case <-ctx.Done():
		s.log.Warn("stop canceled, killing worker", "worker", h.ID())
		s.kill(h)
	}
	<-sess.exited

	s.reset(sess)
	s.log.Info("worker stopped", "worker", h.ID(), "code", h.ExitCode())
	return nil
}

func (s *Supervisor) kill(h Handle) {
	if err := h.Kill(); err != nil {
		s.log.Error("could not kill worker", "worker", h.ID(), "error", err)
	}
	<-h.Done()
	s.metrics.workerExited("killed")
}

// Send queues a request with the driver. It fails with ErrNotRunning, which
// is also published to error subscribers, when no worker is running.
func (s *Supervisor) Send(req protocol.Request) error {
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()
	if sess == nil || exited(sess.handle) {
		s.publishError(ErrNotRunning)
		return ErrNotRunning
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding request %s: %w", req.Path, err)
	}
	return sess.handle.Send(worker.Put(data))
}

// Call sends req and waits for the first message that echoes its exchange
// token. A token is generated when req has none. Subscribers still see the
// answer.
func (s *Supervisor) Call(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if req.Exchange == "" {
		req.Exchange = uuid.NewString()
	}

	s.pendingCalls.Add(1)
	defer s.pendingCalls.Add(-1)

	answer := s.calls.Enqueue(req.Exchange)
	if s.closed.Load() {
		s.calls.Cancel(req.Exchange)
		return nil, ErrClosed
	}
	if err := s.Send(req); err != nil {
		s.calls.Cancel(req.Exchange)
		return nil, err
	}
	select {
	case resp, ok := <-answer:
		if !ok {
			if s.closed.Load() {
				return nil, ErrClosed
			}
			return nil, ErrCallCanceled
		}
		return resp, nil
	case <-ctx.Done():
		s.calls.Cancel(req.Exchange)
		return nil, ctx.Err()
	}
}

// Close waits for an automatic restart in flight, stops the worker and drops
// every subscription. A worker spawned after Close began is killed.
func (s *Supervisor) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed.CompareAndSwap(false, true) {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.shutdown()
	restarted := make(chan struct{})
	go func() {
		s.restarting.Wait()
		close(restarted)
	}()
	select {
	case <-restarted:
	case <-ctx.Done():
		s.log.Warn("gave up waiting for worker restart", "error", ctx.Err())
	}

	err := s.Stop(ctx)
	if errors.Is(err, ErrNoWorker) {
		err = nil
	}
	s.stopCalls()
	s.events.Close()
	s.errs.Close()
	return err
}

func (s *Supervisor) pump(sess *session) {
	for raw := range sess.handle.Messages() {
		if !sess.attached.Load() {
			continue
		}
		s.handleMessage(sess, raw)
	}
	<-sess.handle.Done()
	close(sess.exited)
	s.onExit(sess)
}

func (s *Supervisor) handleMessage(sess *session, raw []byte) {
	resp, err := protocol.Decode(raw)
	if err != nil {
		s.metrics.decodeFailed()
		s.publishError(&DecodeError{Raw: raw, Err: err})
		return
	}
	header := resp.Header()
	s.metrics.message(header.Path)

	if changed, ok := resp.(*protocol.ProvisionsChangedEvent); ok {
		err := s.storage.Write(changed.Provisions)
		s.metrics.storageWrite(err)
		if err != nil {
			s.publishError(&StorageError{Err: err})
		}
	}

	if name, ok := protocol.EventFor(header.Path); ok {
		s.events.Publish(name, resp)
	}

	if header.Exchange != "" && s.pendingCalls.Load() > 0 && !s.closed.Load() {
		s.calls.Post(client.Data[protocol.Response]{Id: header.Exchange, Payload: resp})
	}

	// Start resumes only after subscribers have seen init/get.
	if initResp, ok := resp.(*protocol.InitResponse); ok {
		select {
		case sess.init <- initResp:
		default:
		}
	}
}

// onExit runs on the pump goroutine once the worker is gone.
func (s *Supervisor) onExit(sess *session) {
	s.mu.Lock()
	if s.session != sess {
		s.mu.Unlock()
		return
	}
	previous := s.state
	if previous == Stopping {
		s.mu.Unlock()
		return
	}
	s.session = nil
	s.initResp = nil
	s.setState(Stopped)
	restart := previous == Running && !s.closed.Load()
	if restart {
		s.restarting.Add(1)
	}
	s.mu.Unlock()

	code := sess.handle.ExitCode()
	if previous != Running {
		s.log.Info("worker exited", "worker", sess.handle.ID(), "code", code, "state", previous)
		return
	}

	s.metrics.workerExited("crashed")
	s.log.Error("worker exited unexpectedly", "worker", sess.handle.ID(), "code", code)
	s.publishError(fmt.Errorf("%w with code %d", ErrWorkerExited, code))
	if restart {
		go func() {
			defer s.restarting.Done()
			s.restart()
		}()
	}
}

func (s *Supervisor) restart() {
	if !s.restarts.Allow() {
		s.metrics.restart("limited")
		s.publishError(ErrRestartLimited)
		return
	}
	ctx, cancel := context.WithTimeout(s.life, s.restartTimeout)
	defer cancel()
	// Do rather than Start: Close waits for this goroutine, so it must not
	// return before the attempt it joined has finished.
	_, err, _ := s.starts.Do("start", func() (any, error) {
		return s.start(ctx)
	})
	if err != nil {
		s.metrics.restart("failed")
		s.publishError(fmt.Errorf("restarting worker: %w", err))
		return
	}
	s.metrics.restart("ok")
	s.log.Info("worker restarted")
}
