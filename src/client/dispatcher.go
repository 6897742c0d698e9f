package client

import (
	"context"
)

// Data is a result addressed to the subscription with the same Id.
type Data[T any] struct {
	Id      string
	Payload T
}

// Subscription asks for the next result posted under Id.
type Subscription[T any] struct {
	Id      string
	Payload chan T
}

// Dispatcher matches posted results to single-use subscriptions by Id.
// All bookkeeping happens on the goroutine started by Run; Enqueue, Post and
// Cancel only send to it, and return at once after that goroutine exits.
type Dispatcher[T any] struct {
	dataCh         chan Data[T]
	subscriptionCh chan Subscription[T]
	cancelCh       chan string
	done           chan struct{}
}

// Enqueue registers interest in Id. The returned channel yields at most one
// value and is then closed. A second Enqueue for an Id that is still pending
// gets a closed channel, and so does any Enqueue on a stopped dispatcher.
func (l *Dispatcher[T]) Enqueue(id string) <-chan T {
	ch := make(chan T, 1)
	select {
	case l.subscriptionCh <- Subscription[T]{
		Id:      id,
		Payload: ch,
	}:
	case <-l.done:
		close(ch)
	}
	return ch
}

// Post delivers data to the matching subscription, if any. Results nobody
// waits for are dropped.
func (l *Dispatcher[T]) Post(data Data[T]) {
	select {
	case l.dataCh <- data:
	case <-l.done:
	}
}

// Cancel closes the subscription for id without a result.
func (l *Dispatcher[T]) Cancel(id string) {
	select {
	case l.cancelCh <- id:
	case <-l.done:
	}
}

// Run starts the matching loop. Cancelling ctx or calling the returned
// CancelFunc closes every open subscription; the done channel is closed
// once the loop has exited. Run must be called once.
func (l *Dispatcher[T]) Run(ctx context.Context) (context.CancelFunc, <-chan struct{}) {
	done := l.done
	runCtx, cancel := context.WithCancel(ctx)
	go func(c context.Context) {
		subscriptions := map[string]chan T{}
		for {
			select {
			case <-c.Done():
				for _, subCh := range subscriptions {
					close(subCh)
				}
				close(done)
				// Subscriptions still buffered were never registered.
				for {
					select {
					case s := <-l.subscriptionCh:
						close(s.Payload)
					default:
						return
					}
				}
			case d := <-l.dataCh:
				if subCh, exists := subscriptions[d.Id]; exists {
					subCh <- d.Payload
					close(subCh)
					delete(subscriptions, d.Id)
				}
			case id := <-l.cancelCh:
				if subCh, exists := subscriptions[id]; exists {
					close(subCh)
					delete(subscriptions, id)
				}
			case s := <-l.subscriptionCh:
				if _, exists := subscriptions[s.Id]; exists {
					close(s.Payload)
				} else {
					subscriptions[s.Id] = s.Payload
				}
			}
		}
	}(runCtx)
	return cancel, done
}

func NewDispatcher[T any](bufferSize int) *Dispatcher[T] {
	return &Dispatcher[T]{
		dataCh:         make(chan Data[T], bufferSize),
		subscriptionCh: make(chan Subscription[T], bufferSize),
		cancelCh:       make(chan string, bufferSize),
		done:           make(chan struct{}),
	}
}
