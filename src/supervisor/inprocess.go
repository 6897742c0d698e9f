package supervisor

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/q-controller/nea-supervisor/src/worker"
)

// ExitKilled is the exit code of a worker ended by Kill.
const ExitKilled = -1

// InProcessSpawner runs workers as goroutines of the current process.
type InProcessSpawner struct {
	Options []worker.Option
}

func (s *InProcessSpawner) Spawn(ctx context.Context) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(context.Background())
	h := &inProcessHandle{
		id:       uuid.NewString(),
		commands: make(chan worker.Command),
		inbox:    newMailbox(),
		done:     make(chan struct{}),
		cancel:   cancel,
	}
	w := worker.New(func(message []byte) error {
		h.inbox.Push(append([]byte(nil), message...))
		return nil
	}, s.Options...)

	go func() {
		err := w.Run(runCtx, h.commands)
		if errors.Is(err, context.Canceled) && runCtx.Err() != nil {
			h.finish(ExitKilled)
			return
		}
		h.finish(worker.ExitCode(err))
	}()
	return h, nil
}

type inProcessHandle struct {
	id       string
	commands chan worker.Command
	inbox    *mailbox
	done     chan struct{}
	cancel   context.CancelFunc

	once     sync.Once
	exitCode int
}

func (h *inProcessHandle) ID() string {
	return h.id
}

func (h *inProcessHandle) Send(cmd worker.Command) error {
	select {
	case <-h.done:
		return ErrWorkerExited
	default:
	}
	select {
	case h.commands <- cmd:
		return nil
	case <-h.done:
		return ErrWorkerExited
	}
}

func (h *inProcessHandle) Messages() <-chan []byte {
	return h.inbox.out
}

func (h *inProcessHandle) Done() <-chan struct{} {
	return h.done
}

func (h *inProcessHandle) ExitCode() int {
	<-h.done
	return h.exitCode
}

// Kill abandons the worker goroutine. A worker blocked in a driver call
// keeps running until the call returns, but its later output is dropped and
// the handle reports ExitKilled at once.
func (h *inProcessHandle) Kill() error {
	h.cancel()
	h.finish(ExitKilled)
	return nil
}

func (h *inProcessHandle) finish(code int) {
	h.once.Do(func() {
		h.exitCode = code
		h.cancel()
		h.inbox.Close()
		close(h.done)
	})
}
