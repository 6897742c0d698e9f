package pipes

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

var ErrWriterChannelFull = fmt.Errorf("writer channel full")
var ErrPipeClosed = fmt.Errorf("pipe closed")
var ErrWriterClosed = fmt.Errorf("writer closed")

type WriterRequest struct {
	Data []byte
	Done chan error
}

type fdWriter struct {
	ch        chan *WriterRequest
	fd        int
	done      chan struct{}
	closeOnce sync.Once
	closed    chan struct{}
}

func newWriter(fd int) *fdWriter {
	w := &fdWriter{
		ch:     make(chan *WriterRequest, 100),
		fd:     fd,
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *fdWriter) run() {
	defer close(w.done)
	for {
		select {
		case <-w.closed:
			return
		case req := <-w.ch:
			if err := w.writeAll(req.Data); err != nil {
				req.Done <- err
				return
			}
			req.Done <- nil
		}
	}
}

func (w *fdWriter) writeAll(payload []byte) error {
	totalSent := 0
	for totalSent < len(payload) {
		n, err := unix.Write(w.fd, payload[totalSent:])
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
				// Pipe buffer full; retry after a short delay
				select {
				case <-w.closed:
					return ErrWriterClosed
				case <-time.After(10 * time.Millisecond):
				}
				continue
			}
			return err
		}
		if n == 0 {
			return ErrPipeClosed
		}
		totalSent += n
	}
	return nil
}

// Close stops the writer goroutine. Pending writes fail with ErrWriterClosed.
func (w *fdWriter) Close() {
	w.closeOnce.Do(func() {
		close(w.closed)
	})
	<-w.done
}

func (w *fdWriter) enqueue(buf []byte) (chan error, error) {
	b := make([]byte, len(buf))
	copy(b, buf)
	done := make(chan error, 1)
	select {
	case <-w.done:
		return nil, ErrWriterClosed
	case w.ch <- &WriterRequest{Data: b, Done: done}:
		return done, nil
	default:
		return nil, ErrWriterChannelFull
	}
}

func (w *fdWriter) Enqueue(buf []byte) error {
	_, err := w.enqueue(buf)
	return err
}

func (w *fdWriter) Write(buf []byte) error {
	done, err := w.enqueue(buf)
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-w.done:
		select {
		case err := <-done:
			return err
		default:
			return ErrWriterClosed
		}
	}
}
