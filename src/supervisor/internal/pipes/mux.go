// Package pipes multiplexes JSON object streams over non-blocking file
// descriptors with epoll or kqueue. All endpoint bookkeeping happens on a
// single loop goroutine; callers talk to it through a management pipe.
package pipes

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"

	"golang.org/x/sys/unix"
)

const (
	cManagementEndpoint = "internal-management"
)

var ErrUnknownEndpoint = fmt.Errorf("unknown endpoint")

type Mux struct {
	queue          *fdQueue
	instances      map[string]Communicator
	fd2Id          map[int]string
	eventsCh       chan *Event
	managementComm Communicator
	log            *slog.Logger
}

// Events yields mux events until ctx is done or the mux is closed.
func (m *Mux) Events(ctx context.Context) iter.Seq[*Event] {
	return func(yield func(*Event) bool) {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-m.eventsCh:
				if !ok {
					return
				}
				if !yield(event) {
					return
				}
			}
		}
	}
}

func (m *Mux) Close() error {
	return m.send(ManagementData{
		Action: ActionClose,
	})
}

func (m *Mux) send(data ManagementData) error {
	bytes, bytesErr := json.Marshal(data)
	if bytesErr != nil {
		m.log.Error("could not marshal management data", "error", bytesErr)
		return bytesErr
	}
	return m.managementComm.Write(bytes)
}

// Add registers an endpoint. Objects read from readFd are reported under id
// and Write(id, ...) goes to writeFd. The mux owns both descriptors from now
// on. The outcome arrives as an ActionAdd event.
func (m *Mux) Add(id string, readFd, writeFd int) error {
	return m.send(ManagementData{
		Action: ActionAdd,
		Add: &AddConfig{
			Id:      id,
			ReadFd:  readFd,
			WriteFd: writeFd,
		},
	})
}

// Write queues one JSON value for the endpoint id.
func (m *Mux) Write(id string, data json.RawMessage) error {
	return m.send(ManagementData{
		Action: ActionWrite,
		Write: &WriteConfig{
			Id:   id,
			Data: data,
		},
	})
}

// Remove closes the endpoint id without waiting for end of stream.
func (m *Mux) Remove(id string) error {
	return m.send(ManagementData{
		Action: ActionRemove,
		Remove: &RemoveConfig{
			Id: id,
		},
	})
}

func (m *Mux) register(id string, readFd, writeFd int) (Communicator, error) {
	if _, exists := m.instances[id]; exists {
		return nil, fmt.Errorf("endpoint %q already registered", id)
	}
	if err := m.queue.Add(readFd); err != nil {
		return nil, err
	}
	comm := newFdCommunicator(readFd, writeFd)
	m.instances[id] = comm
	m.fd2Id[readFd] = id
	return comm, nil
}

func (m *Mux) unregister(id string) {
	comm, ok := m.instances[id]
	if !ok {
		return
	}
	for fd, fdId := range m.fd2Id {
		if fdId == id {
			if err := m.queue.Delete(fd); err != nil {
				m.log.Error("could not remove fd from queue", "fd", fd, "error", err)
			}
			delete(m.fd2Id, fd)
		}
	}
	comm.Close()
	delete(m.instances, id)
}

func NewMux(log *slog.Logger) (*Mux, error) {
	if log == nil {
		log = slog.Default()
	}
	queue, queueErr := newFdQueue()
	if queueErr != nil {
		return nil, queueErr
	}

	m := &Mux{
		queue:     queue,
		eventsCh:  make(chan *Event),
		instances: make(map[string]Communicator),
		fd2Id:     make(map[int]string),
		log:       log,
	}
	readFd, writeFd, pipeErr := Pipe(true, true)
	if pipeErr != nil {
		queue.Close()
		return nil, pipeErr
	}
	comm, commErr := m.register(cManagementEndpoint, readFd, writeFd)
	if commErr != nil {
		unix.Close(readFd)
		unix.Close(writeFd)
		queue.Close()
		return nil, commErr
	}
	m.managementComm = comm

	go m.loop()

	return m, nil
}

func (m *Mux) loop() {
	defer close(m.eventsCh)
	for {
		fds, fdsErr := m.queue.Wait() // Block until events occur
		if fdsErr != nil {
			m.log.Error("fd queue wait failed", "error", fdsErr)
			return
		}

		for fd := range fds {
			id, idOk := m.fd2Id[fd]
			if !idOk {
				continue
			}
			comm, commOk := m.instances[id]
			if !commOk {
				continue
			}
			objects, objectsErr := comm.Read()
			if id == cManagementEndpoint {
				for _, object := range objects {
					if stop := m.handleManagement(object); stop {
						return
					}
				}
				continue
			}
			if len(objects) > 0 {
				m.eventsCh <- &Event{Id: id, Data: objects}
			}
			if objectsErr != nil {
				m.log.Debug("endpoint closed or read failed, removing", "endpoint", id, "error", objectsErr)
				m.unregister(id)
				m.eventsCh <- &Event{Id: id, Err: objectsErr}
			}
		}
	}
}

func (m *Mux) handleManagement(object string) bool {
	var cmd ManagementData
	if err := json.Unmarshal([]byte(object), &cmd); err != nil {
		m.log.Error("could not unmarshal management data", "error", err)
		return false
	}
	switch cmd.Action {
	case ActionAdd:
		if cmd.Add == nil {
			m.log.Error("missing endpoint config for ADD action")
			return false
		}
		action := ActionAdd
		_, err := m.register(cmd.Add.Id, cmd.Add.ReadFd, cmd.Add.WriteFd)
		if err != nil {
			unix.Close(cmd.Add.ReadFd)
			if cmd.Add.WriteFd != cmd.Add.ReadFd {
				unix.Close(cmd.Add.WriteFd)
			}
		}
		m.eventsCh <- &Event{Id: cmd.Add.Id, Err: err, Action: &action}
	case ActionWrite:
		if cmd.Write == nil {
			m.log.Error("missing write config for WRITE action")
			return false
		}
		comm, ok := m.instances[cmd.Write.Id]
		if !ok {
			m.log.Warn("write for unknown endpoint", "endpoint", cmd.Write.Id, "error", ErrUnknownEndpoint)
			return false
		}
		if err := comm.Enqueue(append([]byte(cmd.Write.Data), '\n')); err != nil {
			m.log.Error("could not write to endpoint", "endpoint", cmd.Write.Id, "error", err)
		}
	case ActionRemove:
		if cmd.Remove != nil {
			m.unregister(cmd.Remove.Id)
		}
	case ActionClose:
		for id := range m.instances {
			if id != cManagementEndpoint {
				m.unregister(id)
			}
		}
		m.unregister(cManagementEndpoint)
		m.queue.Close()
		return true
	}
	return false
}
