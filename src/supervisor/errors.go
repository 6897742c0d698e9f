package supervisor

import (
	"fmt"

	"github.com/q-controller/nea-supervisor/src/protocol"
)

var ErrNotRunning = fmt.Errorf("NEA worker is not running")
var ErrNoWorker = fmt.Errorf("no NEA worker to stop")
var ErrWorkerExited = fmt.Errorf("NEA worker exited")
var ErrStopping = fmt.Errorf("NEA worker is stopping")
var ErrSpawnerClosed = fmt.Errorf("spawner closed")
var ErrRestartLimited = fmt.Errorf("NEA worker restart rate exceeded")
var ErrCallCanceled = fmt.Errorf("call canceled")
var ErrClosed = fmt.Errorf("supervisor closed")

// InitError is returned by Start when the driver answered init/get with a
// failure.
type InitError struct {
	Response *protocol.InitResponse
}

func (e *InitError) Error() string {
	return fmt.Sprintf("NEA initialization failed: %s", e.Response.ErrorText())
}

// DecodeError reports a worker message that could not be decoded.
type DecodeError struct {
	Raw []byte
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("could not decode worker message: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// StorageError reports a failed provisions write.
type StorageError struct {
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("could not persist provisions: %v", e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
