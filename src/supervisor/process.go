package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/q-controller/nea-supervisor/src/client"
	"github.com/q-controller/nea-supervisor/src/supervisor/internal/pipes"
	"github.com/q-controller/nea-supervisor/src/worker"
	"golang.org/x/sys/unix"
)

// ProcessSpawner runs each worker as a child process. Commands go to the
// child's stdin as JSON; driver messages come back on its stdout, read
// through one shared descriptor multiplexer.
type ProcessSpawner struct {
	// Path is the worker executable. Args are passed as-is, e.g. "worker".
	Path   string
	Args   []string
	Env    []string
	Stderr *os.File
	Log    *slog.Logger

	mu      sync.Mutex
	mux     *pipes.Mux
	handles map[string]*processHandle
	adds    *client.Dispatcher[error]
}

// NewProcessSpawner spawns the running executable with the given arguments.
func NewProcessSpawner(args ...string) (*ProcessSpawner, error) {
	path, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locating worker executable: %w", err)
	}
	return &ProcessSpawner{Path: path, Args: args}, nil
}

func (s *ProcessSpawner) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

func (s *ProcessSpawner) start() (*pipes.Mux, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mux != nil {
		return s.mux, nil
	}

	mux, err := pipes.NewMux(s.logger())
	if err != nil {
		return nil, err
	}
	s.mux = mux
	s.handles = make(map[string]*processHandle)
	s.adds = client.NewDispatcher[error](0)
	stop, _ := s.adds.Run(context.Background())
	go s.route(mux, s.adds, stop)
	return mux, nil
}

// route runs until the mux loop exits, then stops the add dispatcher so
// pending spawns fail instead of hanging.
func (s *ProcessSpawner) route(mux *pipes.Mux, adds *client.Dispatcher[error], stop context.CancelFunc) {
	defer stop()
	for event := range mux.Events(context.Background()) {
		if event.Action != nil {
			if *event.Action == pipes.ActionAdd {
				adds.Post(client.Data[error]{Id: event.Id, Payload: event.Err})
			}
			continue
		}

		s.mu.Lock()
		h := s.handles[event.Id]
		if event.Err != nil {
			delete(s.handles, event.Id)
		}
		s.mu.Unlock()
		if h == nil {
			continue
		}
		for _, object := range event.Data {
			h.inbox.Push([]byte(object))
		}
		if event.Err != nil {
			h.inbox.Close()
		}
	}
}

// Close stops the multiplexer. Running children are not killed.
func (s *ProcessSpawner) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mux == nil {
		return nil
	}
	err := s.mux.Close()
	for _, h := range s.handles {
		h.inbox.Close()
	}
	s.mux = nil
	return err
}

func (s *ProcessSpawner) Spawn(ctx context.Context) (Handle, error) {
	mux, err := s.start()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	adds := s.adds
	s.mu.Unlock()

	// child stdin: blocking read end for the child, non-blocking write end for us
	stdinRead, stdinWrite, err := pipes.Pipe(false, true)
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdoutRead, stdoutWrite, err := pipes.Pipe(true, false)
	if err != nil {
		unix.Close(stdinRead)
		unix.Close(stdinWrite)
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	childStdin := os.NewFile(uintptr(stdinRead), "worker-stdin")
	childStdout := os.NewFile(uintptr(stdoutWrite), "worker-stdout")
	defer childStdin.Close()
	defer childStdout.Close()

	cmd := exec.Command(s.Path, s.Args...)
	cmd.Stdin = childStdin
	cmd.Stdout = childStdout
	cmd.Stderr = s.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	if s.Env != nil {
		cmd.Env = s.Env
	}
	// Own process group: a terminal interrupt reaches the supervisor only,
	// which then stops the worker itself.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		unix.Close(stdinWrite)
		unix.Close(stdoutRead)
		return nil, fmt.Errorf("starting worker process: %w", err)
	}

	h := &processHandle{
		id:    uuid.NewString(),
		cmd:   cmd,
		mux:   mux,
		inbox: newMailbox(),
		done:  make(chan struct{}),
	}
	go h.wait(s.logger())

	s.mu.Lock()
	s.handles[h.id] = h
	s.mu.Unlock()

	added := adds.Enqueue(h.id)
	if err := mux.Add(h.id, stdoutRead, stdinWrite); err != nil {
		adds.Cancel(h.id)
		unix.Close(stdinWrite)
		unix.Close(stdoutRead)
		return nil, errors.Join(fmt.Errorf("registering worker pipes: %w", err), s.abandon(h))
	}
	select {
	case err, ok := <-added:
		if !ok {
			return nil, errors.Join(ErrSpawnerClosed, s.abandon(h))
		}
		if err != nil {
			return nil, errors.Join(fmt.Errorf("registering worker pipes: %w", err), s.abandon(h))
		}
	case <-ctx.Done():
		adds.Cancel(h.id)
		return nil, errors.Join(ctx.Err(), s.abandon(h))
	}

	s.logger().Info("worker process started", "worker", h.id, "pid", cmd.Process.Pid)
	return h, nil
}

func (s *ProcessSpawner) abandon(h *processHandle) error {
	s.mu.Lock()
	delete(s.handles, h.id)
	s.mu.Unlock()
	h.inbox.Close()
	return h.Kill()
}

type processHandle struct {
	id    string
	cmd   *exec.Cmd
	mux   *pipes.Mux
	inbox *mailbox
	done  chan struct{}

	exitCode int
}

func (h *processHandle) wait(log *slog.Logger) {
	err := h.cmd.Wait()
	h.exitCode = h.cmd.ProcessState.ExitCode()
	log.Info("worker process exited", "worker", h.id, "code", h.exitCode, "error", err)
	close(h.done)
}

func (h *processHandle) ID() string {
	return h.id
}

func (h *processHandle) Send(cmd worker.Command) error {
	select {
	case <-h.done:
		return ErrWorkerExited
	default:
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return h.mux.Write(h.id, data)
}

func (h *processHandle) Messages() <-chan []byte {
	return h.inbox.out
}

func (h *processHandle) Done() <-chan struct{} {
	return h.done
}

// ExitCode is -1 when the process was ended by a signal.
func (h *processHandle) ExitCode() int {
	<-h.done
	return h.exitCode
}

func (h *processHandle) Kill() error {
	select {
	case <-h.done:
		return nil
	default:
	}
	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
