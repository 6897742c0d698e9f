package supervisor

import (
	"context"
	"sync"

	"github.com/q-controller/nea-supervisor/src/worker"
)

// Handle is a running worker as seen by the supervisor.
type Handle interface {
	ID() string
	// Send delivers a command. It fails with ErrWorkerExited once the worker
	// is gone.
	Send(cmd worker.Command) error
	// Messages yields raw driver messages in emission order and is closed
	// when the worker stops producing them.
	Messages() <-chan []byte
	// Done is closed once the worker has exited and ExitCode is valid.
	Done() <-chan struct{}
	ExitCode() int
	// Kill ends the worker without waiting for it to drain.
	Kill() error
}

type Spawner interface {
	Spawn(ctx context.Context) (Handle, error)
}

// mailbox is an unbounded FIFO between a producer that must never block
// and a single consumer channel.
type mailbox struct {
	mu     sync.Mutex
	items  [][]byte
	closed bool
	notify chan struct{}
	out    chan []byte
}

func newMailbox() *mailbox {
	m := &mailbox{
		notify: make(chan struct{}, 1),
		out:    make(chan []byte),
	}
	go m.run()
	return m
}

func (m *mailbox) Push(item []byte) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.items = append(m.items, item)
	m.mu.Unlock()
	m.signal()
}

// Close closes the output channel after everything pushed so far was
// delivered.
func (m *mailbox) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.signal()
}

func (m *mailbox) signal() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox) run() {
	defer close(m.out)
	for {
		m.mu.Lock()
		items := m.items
		m.items = nil
		closed := m.closed
		m.mu.Unlock()

		for _, item := range items {
			m.out <- item
		}
		if len(items) > 0 {
			continue
		}
		if closed {
			return
		}
		<-m.notify
	}
}
