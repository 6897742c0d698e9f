package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/q-controller/nea-supervisor/src/driver"
	"github.com/q-controller/nea-supervisor/src/driver/simulator"
	"github.com/q-controller/nea-supervisor/src/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type stubDriver struct {
	mock.Mock
}

func (s *stubDriver) Configure(cfg driver.Config) driver.ConfigOutcome {
	return s.Called(cfg).Get(0).(driver.ConfigOutcome)
}

func (s *stubDriver) Put(message []byte) driver.PutOutcome {
	return s.Called(message).Get(0).(driver.PutOutcome)
}

func (s *stubDriver) TryGet() ([]byte, driver.GetOutcome) {
	args := s.Called()
	message, _ := args.Get(0).([]byte)
	return message, args.Get(1).(driver.GetOutcome)
}

func (s *stubDriver) Terminate() {
	s.Called()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openerFor(d driver.Driver) Option {
	return WithOpener(func(string) (driver.Driver, error) { return d, nil })
}

func discard([]byte) error { return nil }

func TestQueueRequeuesAtTail(t *testing.T) {
	stub := &stubDriver{}
	w := New(discard, WithLogger(quietLogger()))
	w.drv = stub

	a := json.RawMessage(`{"path":"random/run"}`)
	b := json.RawMessage(`{"path":"buzz/run"}`)
	w.Put(a)
	w.Put(b)

	stub.On("Put", []byte(a)).Return(driver.PutNapiNotRunning).Once()
	stub.On("TryGet").Return(nil, driver.GetQueueEmpty)

	require.NoError(t, w.RunCycle())
	assert.Equal(t, []json.RawMessage{b, a}, w.Pending())

	stub.On("Put", []byte(b)).Return(driver.PutOkay).Once()
	stub.On("Put", []byte(a)).Return(driver.PutOkay).Once()

	require.NoError(t, w.RunCycle())
	require.NoError(t, w.RunCycle())
	assert.Empty(t, w.Pending())
	stub.AssertExpectations(t)
}

func TestRunCycleBeforeInitIsNoop(t *testing.T) {
	w := New(func([]byte) error {
		t.Fatal("nothing should be emitted")
		return nil
	})
	w.Put(json.RawMessage(`{"path":"info/get"}`))
	require.NoError(t, w.RunCycle())
	assert.Len(t, w.Pending(), 1)
}

func TestRunCycleForwardsOneMessage(t *testing.T) {
	stub := &stubDriver{}
	var emitted [][]byte
	w := New(func(m []byte) error {
		emitted = append(emitted, m)
		return nil
	}, WithLogger(quietLogger()))
	w.drv = stub

	stub.On("TryGet").Return([]byte(`{"path":"info/get"}`), driver.GetOkay).Once()
	require.NoError(t, w.RunCycle())
	assert.Equal(t, [][]byte{[]byte(`{"path":"info/get"}`)}, emitted)
	stub.AssertNotCalled(t, "Put", mock.Anything)
}

func TestInitializeRetryExhaustion(t *testing.T) {
	stub := &stubDriver{}
	stub.On("Configure", mock.Anything).Return(driver.ConfigFailedToInit)
	stub.On("Terminate").Return()

	w := New(discard, openerFor(stub), WithLogger(quietLogger()))
	err := w.Initialize(InitParams{NeaName: "demo-nea", Retry: 3})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.NotEqual(t, 0, ExitCode(err))
	stub.AssertNumberOfCalls(t, "Configure", 3)
	stub.AssertCalled(t, "Terminate")
}

func TestInitializeRetriesThenSucceeds(t *testing.T) {
	stub := &stubDriver{}
	stub.On("Configure", mock.Anything).Return(driver.ConfigFailedToInit).Once()
	stub.On("Configure", mock.Anything).Return(driver.ConfigOkay).Once()

	w := New(discard, openerFor(stub), WithLogger(quietLogger()))
	require.NoError(t, w.Initialize(InitParams{NeaName: "demo-nea", Interval: 25}))

	assert.Equal(t, 25*time.Millisecond, w.Interval())
	stub.AssertNumberOfCalls(t, "Configure", 2)

	pending := w.Pending()
	require.Len(t, pending, 1)
	var head protocol.Request
	require.NoError(t, json.Unmarshal(pending[0], &head))
	assert.Equal(t, protocol.PathInitGet, head.Path)
}

func TestInitializeFatalOutcome(t *testing.T) {
	stub := &stubDriver{}
	stub.On("Configure", mock.Anything).Return(driver.ConfigInvalidPort).Once()
	stub.On("Terminate").Return()

	w := New(discard, openerFor(stub), WithLogger(quietLogger()))
	err := w.Initialize(InitParams{NeaName: "demo-nea"})

	assert.ErrorIs(t, err, ErrConfigure)
	assert.Equal(t, ExitFatal, ExitCode(err))
	stub.AssertNumberOfCalls(t, "Configure", 1)
}

func TestInitializeQueuesInitAheadOfEarlierPuts(t *testing.T) {
	stub := &stubDriver{}
	stub.On("Configure", mock.Anything).Return(driver.ConfigOkay)

	w := New(discard, openerFor(stub), WithLogger(quietLogger()))
	w.Put(json.RawMessage(`{"path":"info/get"}`))
	require.NoError(t, w.Initialize(InitParams{NeaName: "demo-nea"}))

	pending := w.Pending()
	require.Len(t, pending, 2)
	assert.Contains(t, string(pending[0]), protocol.PathInitGet)
}

func TestInitializeUnknownDriver(t *testing.T) {
	w := New(discard, WithOpener(func(name string) (driver.Driver, error) {
		return nil, driver.ErrDriverNotRegistered
	}), WithLogger(quietLogger()))
	err := w.Initialize(InitParams{NeaName: "demo-nea"})
	assert.ErrorIs(t, err, driver.ErrDriverNotRegistered)
	assert.Equal(t, ExitFatal, ExitCode(err))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(errors.New("boom")))
	assert.Equal(t, 7, ExitCode(&ExitError{Code: 7}))
}

func TestRunWithSimulator(t *testing.T) {
	messages := make(chan []byte, 16)
	w := New(func(m []byte) error {
		messages <- m
		return nil
	}, WithOpener(func(string) (driver.Driver, error) { return simulator.New(), nil }), WithLogger(quietLogger()))

	commands := make(chan Command)
	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background(), commands) }()

	commands <- Init(InitParams{NeaName: "demo-nea", Port: 9089, Host: "127.0.0.1", Interval: 5, Nymulator: true})

	select {
	case raw := <-messages:
		resp, err := protocol.Decode(raw)
		require.NoError(t, err)
		initResp, ok := resp.(*protocol.InitResponse)
		require.True(t, ok)
		assert.True(t, initResp.Ok())
	case <-time.After(2 * time.Second):
		t.Fatal("no init response")
	}

	commands <- Quit()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not quit")
	}
}

func TestRunClosedChannelQuits(t *testing.T) {
	w := New(discard, WithLogger(quietLogger()))
	commands := make(chan Command)
	close(commands)
	assert.NoError(t, w.Run(context.Background(), commands))
}

func TestRunFatalInit(t *testing.T) {
	stub := &stubDriver{}
	stub.On("Configure", mock.Anything).Return(driver.ConfigFailedToInit)
	stub.On("Terminate").Return()

	w := New(discard, openerFor(stub), WithLogger(quietLogger()))
	commands := make(chan Command, 1)
	commands <- Init(InitParams{NeaName: "demo-nea", Retry: 2})

	err := w.Run(context.Background(), commands)
	assert.Equal(t, ExitFatal, ExitCode(err))
	stub.AssertNumberOfCalls(t, "Configure", 2)
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelError, SlogLevel(protocol.LogNone))
	assert.Equal(t, slog.LevelInfo, SlogLevel(protocol.LogInfo))
	assert.Less(t, int(SlogLevel(protocol.LogVerbose)), int(slog.LevelDebug))
}

func TestInitializeSetsLogLevel(t *testing.T) {
	stub := &stubDriver{}
	stub.On("Configure", mock.Anything).Return(driver.ConfigOkay)

	var level slog.LevelVar
	w := New(discard, WithLogger(quietLogger()), WithLevel(&level), openerFor(stub))
	require.NoError(t, w.Initialize(InitParams{NeaName: "front-desk", Log: int(protocol.LogDebug)}))
	assert.Equal(t, slog.LevelDebug, level.Level())
}
