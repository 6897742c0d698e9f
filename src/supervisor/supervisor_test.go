package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/q-controller/nea-supervisor/src/config"
	"github.com/q-controller/nea-supervisor/src/driver"
	_ "github.com/q-controller/nea-supervisor/src/driver/simulator"
	"github.com/q-controller/nea-supervisor/src/protocol"
	"github.com/q-controller/nea-supervisor/src/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const (
	initOk     = `{"path":"init/get","exchange":"1","completed":true,"successful":true,"response":{"NEAName":"front-desk","inited":true,"network":{"host":"127.0.0.1","port":9089}}}`
	initFailed = `{"path":"init/get","exchange":"1","completed":true,"successful":false,"errors":[["NAPI","not","ready"]]}`
)

type mockStorage struct {
	mock.Mock
}

func (m *mockStorage) Read() (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

func (m *mockStorage) Write(provisions string) error {
	return m.Called(provisions).Error(0)
}

type fakeHandle struct {
	id         string
	sent       chan worker.Command
	messages   chan []byte
	done       chan struct{}
	ignoreQuit bool
	killed     atomic.Bool
	once       sync.Once
	exitCode   int
}

func newFakeHandle(ignoreQuit bool) *fakeHandle {
	return &fakeHandle{
		id:         uuid.NewString(),
		sent:       make(chan worker.Command, 32),
		messages:   make(chan []byte),
		done:       make(chan struct{}),
		ignoreQuit: ignoreQuit,
	}
}

func (h *fakeHandle) ID() string { return h.id }

func (h *fakeHandle) Send(cmd worker.Command) error {
	select {
	case <-h.done:
		return ErrWorkerExited
	default:
	}
	h.sent <- cmd
	if cmd.Op == worker.OpQuit && !h.ignoreQuit {
		h.exit(0)
	}
	return nil
}

func (h *fakeHandle) Messages() <-chan []byte { return h.messages }
func (h *fakeHandle) Done() <-chan struct{}   { return h.done }
func (h *fakeHandle) ExitCode() int           { return h.exitCode }

func (h *fakeHandle) Kill() error {
	h.killed.Store(true)
	h.exit(ExitKilled)
	return nil
}

func (h *fakeHandle) exit(code int) {
	h.once.Do(func() {
		h.exitCode = code
		close(h.messages)
		close(h.done)
	})
}

func (h *fakeHandle) emit(t *testing.T, raw string) {
	t.Helper()
	select {
	case h.messages <- []byte(raw):
	case <-time.After(2 * time.Second):
		t.Fatal("pump did not take message")
	}
}

func (h *fakeHandle) next(t *testing.T) worker.Command {
	t.Helper()
	select {
	case cmd := <-h.sent:
		return cmd
	case <-time.After(2 * time.Second):
		t.Fatal("no command sent to worker")
		return worker.Command{}
	}
}

type fakeSpawner struct {
	ignoreQuit bool
	spawned    chan *fakeHandle
	count      atomic.Int32
}

func newFakeSpawner() *fakeSpawner {
	return &fakeSpawner{spawned: make(chan *fakeHandle, 8)}
}

func (s *fakeSpawner) Spawn(ctx context.Context) (Handle, error) {
	s.count.Add(1)
	h := newFakeHandle(s.ignoreQuit)
	s.spawned <- h
	return h, nil
}

func (s *fakeSpawner) next(t *testing.T) *fakeHandle {
	t.Helper()
	select {
	case h := <-s.spawned:
		return h
	case <-time.After(2 * time.Second):
		t.Fatal("no worker spawned")
		return nil
	}
}

func testConfig() config.Nea {
	cfg := config.Default()
	cfg.NeaName = "front-desk"
	return cfg
}

func emptyStorage() *mockStorage {
	store := &mockStorage{}
	store.On("Read").Return("", nil)
	return store
}

type startResult struct {
	resp *protocol.InitResponse
	err  error
}

func startAsync(s *Supervisor) <-chan startResult {
	ch := make(chan startResult, 1)
	go func() {
		resp, err := s.Start(context.Background())
		ch <- startResult{resp, err}
	}()
	return ch
}

func result(t *testing.T, ch <-chan startResult) startResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return")
		return startResult{}
	}
}

// running starts s and completes the handshake on the spawned worker.
func running(t *testing.T, s *Supervisor, spawner *fakeSpawner) *fakeHandle {
	t.Helper()
	started := startAsync(s)
	h := spawner.next(t)
	cmd := h.next(t)
	require.Equal(t, worker.OpInit, cmd.Op)
	h.emit(t, initOk)
	r := result(t, started)
	require.NoError(t, r.err)
	return h
}

func TestStartHandshake(t *testing.T) {
	store := &mockStorage{}
	store.On("Read").Return(`["p1"]`, nil)
	spawner := newFakeSpawner()
	s := New(testConfig(), store, spawner)

	var seen []protocol.EventName
	s.Subscribe(protocol.EventInitGet, func(protocol.Response) { seen = append(seen, protocol.EventInitGet) })

	started := startAsync(s)
	h := spawner.next(t)
	cmd := h.next(t)
	require.Equal(t, worker.OpInit, cmd.Op)
	require.NotNil(t, cmd.InitParams)
	assert.Equal(t, `["p1"]`, cmd.Provisions)
	assert.Equal(t, "front-desk", cmd.NeaName)
	assert.Equal(t, config.DefaultRetryCount, cmd.Retry)

	select {
	case <-started:
		t.Fatal("Start returned before init/get")
	case <-time.After(20 * time.Millisecond):
	}

	h.emit(t, initOk)
	r := result(t, started)
	require.NoError(t, r.err)
	assert.Equal(t, "front-desk", r.resp.Info.NeaName)
	assert.Equal(t, Running, s.State())
	assert.True(t, s.IsRunning())
	assert.Equal(t, []protocol.EventName{protocol.EventInitGet}, seen)

	again, err := s.Start(context.Background())
	require.NoError(t, err)
	assert.Same(t, r.resp, again)
	assert.Equal(t, int32(1), spawner.count.Load())
}

func TestStartHandshakeFailureDetaches(t *testing.T) {
	spawner := newFakeSpawner()
	s := New(testConfig(), emptyStorage(), spawner)

	var infos atomic.Int32
	s.Subscribe(protocol.EventInfoGet, func(protocol.Response) { infos.Add(1) })

	started := startAsync(s)
	h := spawner.next(t)
	h.next(t)
	h.emit(t, initFailed)

	r := result(t, started)
	var initErr *InitError
	require.True(t, errors.As(r.err, &initErr))
	assert.Equal(t, "NAPI not ready.", initErr.Response.ErrorText())
	assert.Equal(t, Failed, s.State())

	// the pump keeps draining but nothing is published any more
	h.emit(t, `{"path":"info/get","completed":true,"successful":true}`)
	assert.Equal(t, int32(0), infos.Load())

	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, Stopped, s.State())
	assert.False(t, s.IsRunning())
}

func TestStartWorkerExitsBeforeHandshake(t *testing.T) {
	spawner := newFakeSpawner()
	s := New(testConfig(), emptyStorage(), spawner)

	started := startAsync(s)
	h := spawner.next(t)
	h.next(t)
	h.exit(worker.ExitFatal)

	r := result(t, started)
	assert.ErrorIs(t, r.err, ErrWorkerExited)
	assert.Eventually(t, func() bool { return s.State() == Stopped }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, s.Stop(context.Background()), ErrNoWorker)
}

func TestStartStorageFailure(t *testing.T) {
	store := &mockStorage{}
	store.On("Read").Return("", errors.New("disk gone"))
	spawner := newFakeSpawner()
	s := New(testConfig(), store, spawner)

	_, err := s.Start(context.Background())
	assert.ErrorContains(t, err, "disk gone")
	assert.Equal(t, int32(0), spawner.count.Load())
	assert.Equal(t, Stopped, s.State())
}

func TestConcurrentStartSpawnsOnce(t *testing.T) {
	spawner := newFakeSpawner()
	s := New(testConfig(), emptyStorage(), spawner)

	first := startAsync(s)
	h := spawner.next(t)
	h.next(t)
	second := startAsync(s)
	time.Sleep(20 * time.Millisecond)
	h.emit(t, initOk)

	a, b := result(t, first), result(t, second)
	require.NoError(t, a.err)
	require.NoError(t, b.err)
	assert.Same(t, a.resp, b.resp)
	assert.Equal(t, int32(1), spawner.count.Load())
}

func TestProvisionsChangedWritesOnce(t *testing.T) {
	store := emptyStorage()
	store.On("Write", "X").Return(nil).Once()
	spawner := newFakeSpawner()
	s := New(testConfig(), store, spawner)
	h := running(t, s, spawner)

	received := make(chan string, 1)
	s.Subscribe(protocol.EventProvisionsChanged, func(resp protocol.Response) {
		// persisted before subscribers run
		store.AssertNumberOfCalls(t, "Write", 1)
		received <- resp.(*protocol.ProvisionsChangedEvent).Provisions
	})
	h.emit(t, `{"path":"provisions/changed","completed":true,"successful":true,"response":{"provisions":"X"}}`)

	select {
	case p := <-received:
		assert.Equal(t, "X", p)
	case <-time.After(2 * time.Second):
		t.Fatal("provisions event not published")
	}
	store.AssertExpectations(t)
}

func TestStorageWriteFailureIsReported(t *testing.T) {
	store := emptyStorage()
	store.On("Write", "X").Return(errors.New("read-only"))
	spawner := newFakeSpawner()
	s := New(testConfig(), store, spawner)
	h := running(t, s, spawner)

	errs := make(chan error, 1)
	s.OnError(func(err error) { errs <- err })
	h.emit(t, `{"path":"provisions/changed","response":{"provisions":"X"}}`)

	var storageErr *StorageError
	require.True(t, errors.As(<-errs, &storageErr))
}

func TestDecodeErrorsArePublished(t *testing.T) {
	spawner := newFakeSpawner()
	s := New(testConfig(), emptyStorage(), spawner)
	h := running(t, s, spawner)

	errs := make(chan error, 2)
	s.OnError(func(err error) { errs <- err })
	h.emit(t, `{"path":"bogus/op"}`)
	h.emit(t, `{"path":`)

	var decodeErr *DecodeError
	first := <-errs
	require.True(t, errors.As(first, &decodeErr))
	assert.ErrorIs(t, first, protocol.ErrUnsupportedPath)
	assert.Equal(t, `{"path":"bogus/op"}`, string(decodeErr.Raw))
	assert.ErrorIs(t, <-errs, protocol.ErrMalformed)
}

func TestDeliveryOrder(t *testing.T) {
	spawner := newFakeSpawner()
	s := New(testConfig(), emptyStorage(), spawner)
	h := running(t, s, spawner)

	var mu sync.Mutex
	var order []string
	record := func(resp protocol.Response) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, resp.Header().Exchange)
	}
	s.Subscribe(protocol.EventBuzzRun, record)
	s.Subscribe(protocol.EventRandomRun, record)

	h.emit(t, `{"path":"buzz/run","exchange":"a"}`)
	h.emit(t, `{"path":"random/run","exchange":"b","response":{"pseudoRandomNumber":"00"}}`)
	h.emit(t, `{"path":"buzz/run","exchange":"c"}`)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestSendWhileStopped(t *testing.T) {
	s := New(testConfig(), emptyStorage(), newFakeSpawner())

	errs := make(chan error, 1)
	s.OnError(func(err error) { errs <- err })

	assert.ErrorIs(t, s.Send(protocol.GetInfo()), ErrNotRunning)
	assert.ErrorIs(t, <-errs, ErrNotRunning)
}

func TestSendForwardsPut(t *testing.T) {
	spawner := newFakeSpawner()
	s := New(testConfig(), emptyStorage(), spawner)
	h := running(t, s, spawner)

	require.NoError(t, s.Send(protocol.NotifyBand("p1", protocol.HapticPositive, "ex-1")))
	cmd := h.next(t)
	assert.Equal(t, worker.OpPut, cmd.Op)
	assert.JSONEq(t, `{"path":"buzz/run","exchange":"ex-1","request":{"pid":"p1","buzz":true}}`, string(cmd.Put))
}

func TestStopGraceful(t *testing.T) {
	spawner := newFakeSpawner()
	s := New(testConfig(), emptyStorage(), spawner)
	h := running(t, s, spawner)

	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, worker.OpQuit, h.next(t).Op)
	assert.False(t, h.killed.Load())
	assert.False(t, s.IsRunning())
	assert.Equal(t, Stopped, s.State())
}

func TestStopTimeoutEscalatesToKill(t *testing.T) {
	spawner := newFakeSpawner()
	spawner.ignoreQuit = true
	s := New(testConfig(), emptyStorage(), spawner, WithStopTimeout(20*time.Millisecond))
	h := running(t, s, spawner)

	require.NoError(t, s.Stop(context.Background()))
	assert.True(t, h.killed.Load())
	assert.Equal(t, Stopped, s.State())
	assert.ErrorIs(t, s.Stop(context.Background()), ErrNoWorker)
}

func TestCrashRestarts(t *testing.T) {
	spawner := newFakeSpawner()
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg, "front-desk")
	require.NoError(t, err)
	s := New(testConfig(), emptyStorage(), spawner,
		WithMetrics(metrics), WithRestartLimit(rate.Inf, 1))
	h := running(t, s, spawner)

	errs := make(chan error, 4)
	s.OnError(func(err error) { errs <- err })
	h.exit(worker.ExitFatal)

	replacement := spawner.next(t)
	assert.Equal(t, worker.OpInit, replacement.next(t).Op)
	replacement.emit(t, initOk)
	assert.Eventually(t, func() bool { return s.State() == Running }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, <-errs, ErrWorkerExited)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.starts))
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.restarts.WithLabelValues("ok")) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestCrashRestartLimited(t *testing.T) {
	spawner := newFakeSpawner()
	s := New(testConfig(), emptyStorage(), spawner, WithRestartLimit(0, 0))
	h := running(t, s, spawner)

	errs := make(chan error, 4)
	s.OnError(func(err error) { errs <- err })
	h.exit(worker.ExitFatal)

	assert.ErrorIs(t, <-errs, ErrWorkerExited)
	assert.ErrorIs(t, <-errs, ErrRestartLimited)
	assert.Equal(t, int32(1), spawner.count.Load())
	assert.Equal(t, Stopped, s.State())
}

func TestCallCorrelatesExchange(t *testing.T) {
	spawner := newFakeSpawner()
	s := New(testConfig(), emptyStorage(), spawner)
	h := running(t, s, spawner)

	var broadcast atomic.Int32
	s.Subscribe(protocol.EventRandomRun, func(protocol.Response) { broadcast.Add(1) })

	answered := make(chan protocol.Response, 1)
	go func() {
		resp, err := s.Call(context.Background(), protocol.GetRandom("p1"))
		assert.NoError(t, err)
		answered <- resp
	}()

	cmd := h.next(t)
	var req protocol.Request
	require.NoError(t, req.UnmarshalJSON(cmd.Put))
	_, err := uuid.Parse(req.Exchange)
	require.NoError(t, err)

	h.emit(t, `{"path":"random/run","exchange":"someone-else","response":{"pseudoRandomNumber":"01"}}`)
	h.emit(t, `{"path":"random/run","exchange":"`+req.Exchange+`","completed":true,"successful":true,"response":{"pseudoRandomNumber":"02"}}`)

	select {
	case resp := <-answered:
		assert.Equal(t, "02", resp.(*protocol.RandomResponse).PseudoRandomNumber)
	case <-time.After(2 * time.Second):
		t.Fatal("call not answered")
	}
	assert.Equal(t, int32(2), broadcast.Load())
}

func TestCallContextCanceled(t *testing.T) {
	spawner := newFakeSpawner()
	s := New(testConfig(), emptyStorage(), spawner)
	running(t, s, spawner)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Call(ctx, protocol.GetInfo())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInProcessSpawnerWithSimulator(t *testing.T) {
	store := emptyStorage()
	store.On("Write", mock.Anything).Return(nil)
	cfg := testConfig()
	cfg.Nymulator = true
	cfg.Interval = 5
	s := New(cfg, store, &InProcessSpawner{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := s.Start(ctx)
	require.NoError(t, err)
	assert.True(t, resp.Ok())

	info, err := s.Call(ctx, protocol.GetInfo())
	require.NoError(t, err)
	assert.Equal(t, protocol.PathInfoGet, info.Header().Path)

	require.NoError(t, s.Close(ctx))
	assert.False(t, s.IsRunning())
}

func TestInProcessKill(t *testing.T) {
	h, err := (&InProcessSpawner{}).Spawn(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.Kill())
	<-h.Done()
	assert.Equal(t, ExitKilled, h.ExitCode())
	_, open := <-h.Messages()
	assert.False(t, open)
	assert.ErrorIs(t, h.Send(worker.Quit()), ErrWorkerExited)
}

// stuckDriver blocks in Configure until release is closed.
type stuckDriver struct {
	release chan struct{}
}

func (d *stuckDriver) Configure(driver.Config) driver.ConfigOutcome {
	<-d.release
	return driver.ConfigOkay
}

func (d *stuckDriver) Put([]byte) driver.PutOutcome        { return driver.PutOkay }
func (d *stuckDriver) TryGet() ([]byte, driver.GetOutcome) { return nil, driver.GetQueueEmpty }
func (d *stuckDriver) Terminate()                          {}

func TestStopWorkerStuckInDriver(t *testing.T) {
	stuck := &stuckDriver{release: make(chan struct{})}
	defer close(stuck.release)
	spawner := &InProcessSpawner{Options: []worker.Option{
		worker.WithOpener(func(string) (driver.Driver, error) { return stuck, nil }),
		worker.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}}
	s := New(testConfig(), emptyStorage(), spawner, WithStopTimeout(50*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := s.Start(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Eventually(t, func() bool { return s.State() == Failed }, time.Second, 5*time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop(context.Background()) }()
	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the stop timeout")
	}
	assert.Equal(t, Stopped, s.State())
	assert.False(t, s.IsRunning())
}

func TestInProcessSendAfterKillReturns(t *testing.T) {
	stuck := &stuckDriver{release: make(chan struct{})}
	defer close(stuck.release)
	h, err := (&InProcessSpawner{Options: []worker.Option{
		worker.WithOpener(func(string) (driver.Driver, error) { return stuck, nil }),
		worker.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}}).Spawn(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.Send(worker.Init(worker.InitParams{NeaName: "front-desk"})))

	sent := make(chan error, 1)
	go func() { sent <- h.Send(worker.Quit()) }()
	require.NoError(t, h.Kill())

	select {
	case err := <-sent:
		assert.ErrorIs(t, err, ErrWorkerExited)
	case <-time.After(2 * time.Second):
		t.Fatal("Send blocked after Kill")
	}
	assert.Equal(t, ExitKilled, h.ExitCode())
}

// gatedSpawner holds every spawn after the first until gate is closed.
type gatedSpawner struct {
	*fakeSpawner
	entered chan struct{}
	gate    chan struct{}
}

func (s *gatedSpawner) Spawn(ctx context.Context) (Handle, error) {
	if s.count.Load() > 0 {
		s.entered <- struct{}{}
		<-s.gate
	}
	return s.fakeSpawner.Spawn(ctx)
}

func TestCloseDuringRestartKillsLateWorker(t *testing.T) {
	spawner := &gatedSpawner{
		fakeSpawner: newFakeSpawner(),
		entered:     make(chan struct{}, 1),
		gate:        make(chan struct{}),
	}
	s := New(testConfig(), emptyStorage(), spawner, WithRestartLimit(rate.Inf, 1))
	h := running(t, s, spawner.fakeSpawner)

	h.exit(worker.ExitFatal)
	select {
	case <-spawner.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("restart did not spawn")
	}

	closed := make(chan error, 1)
	go func() { closed <- s.Close(context.Background()) }()
	require.Eventually(t, s.closed.Load, time.Second, 5*time.Millisecond)
	close(spawner.gate)
	late := spawner.next(t)

	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
	assert.True(t, late.killed.Load())
	assert.Equal(t, Stopped, s.State())
	assert.False(t, s.IsRunning())
}

func TestCallAfterClose(t *testing.T) {
	spawner := newFakeSpawner()
	s := New(testConfig(), emptyStorage(), spawner)
	running(t, s, spawner)
	require.NoError(t, s.Close(context.Background()))

	returned := make(chan error, 1)
	go func() {
		// The dispatcher loop is gone; neither call may block.
		<-s.calls.Enqueue("late")
		s.calls.Cancel("late")
		_, err := s.Call(context.Background(), protocol.GetInfo())
		returned <- err
	}()
	select {
	case err := <-returned:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("call blocked after Close")
	}

	_, err := s.Start(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
